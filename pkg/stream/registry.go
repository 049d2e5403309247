// ABOUTME: Registry of connected streaming clients
// ABOUTME: Fans each captured batch out to every client's bounded queue
package stream

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lucalewin/sonar/pkg/audio"
)

// DefaultQueueSize is the number of batches buffered per client
const DefaultQueueSize = 256

// Client is one connected renderer
type Client struct {
	ID        string
	Addr      string
	Connected time.Time

	queue   chan audio.Batch
	dropped atomic.Uint64
}

// Batches returns the client's queue. It is never closed.
func (c *Client) Batches() <-chan audio.Batch {
	return c.queue
}

// Dropped returns how many batches were discarded because the client fell
// behind
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// offer queues b, evicting the oldest batch when the queue is full.
// It never blocks.
func (c *Client) offer(b audio.Batch) {
	select {
	case c.queue <- b:
		return
	default:
	}

	select {
	case <-c.queue:
		c.dropped.Add(1)
	default:
	}

	select {
	case c.queue <- b:
	default:
		c.dropped.Add(1)
	}
}

// ClientInfo is a snapshot of a client for display
type ClientInfo struct {
	ID        string    `json:"id"`
	Addr      string    `json:"addr"`
	Connected time.Time `json:"connected"`
	Queued    int       `json:"queued"`
	Dropped   uint64    `json:"dropped"`
}

// Registry maps peer addresses to clients
type Registry struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	queueSize int
}

// NewRegistry creates a registry whose clients buffer queueSize batches
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		clients:   make(map[string]*Client),
		queueSize: queueSize,
	}
}

func (r *Registry) newClient(addr string) *Client {
	return &Client{
		ID:        uuid.New().String(),
		Addr:      addr,
		Connected: time.Now(),
		queue:     make(chan audio.Batch, r.queueSize),
	}
}

func (r *Registry) add(c *Client) {
	r.mu.Lock()
	r.clients[c.Addr] = c
	r.mu.Unlock()
}

// Register creates a client for addr. An existing entry for the same
// address is replaced.
func (r *Registry) Register(addr string) *Client {
	c := r.newClient(addr)
	r.add(c)
	return c
}

// Remove deletes c if it is still the registered client for its address
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[c.Addr]; ok && cur == c {
		delete(r.clients, c.Addr)
		return true
	}
	return false
}

// Len returns the number of registered clients
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Clients returns a snapshot ordered by connection time
func (r *Registry) Clients() []ClientInfo {
	r.mu.RLock()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, ClientInfo{
			ID:        c.ID,
			Addr:      c.Addr,
			Connected: c.Connected,
			Queued:    len(c.queue),
			Dropped:   c.Dropped(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Connected.Equal(infos[j].Connected) {
			return infos[i].Addr < infos[j].Addr
		}
		return infos[i].Connected.Before(infos[j].Connected)
	})
	return infos
}

// Broadcast hands every client its own copy of batch. A slow client loses
// its oldest batches; it never delays the caller or other clients.
func (r *Registry) Broadcast(batch audio.Batch) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.clients {
		c.offer(batch.Clone())
	}
}
