// ABOUTME: Catalog of discovered renderers and the discovery loop
// ABOUTME: Merges discovery passes and triggers auto-play
package server

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lucalewin/sonar/pkg/events"
	"github.com/lucalewin/sonar/pkg/upnp"
)

// finder runs one discovery pass, returning renderers not in known
type finder interface {
	Discover(ctx context.Context, known []upnp.Renderer) ([]upnp.Renderer, error)
}

// catalog holds every renderer discovered during this run
type catalog struct {
	mu        sync.RWMutex
	renderers map[string]upnp.Renderer
	playing   map[string]bool
}

func newCatalog() *catalog {
	return &catalog{
		renderers: make(map[string]upnp.Renderer),
		playing:   make(map[string]bool),
	}
}

// add stores renderers, returning the ones that were new
func (c *catalog) add(found []upnp.Renderer) []upnp.Renderer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []upnp.Renderer
	for _, r := range found {
		if _, ok := c.renderers[r.ID]; ok {
			continue
		}
		c.renderers[r.ID] = r
		added = append(added, r)
	}
	return added
}

func (c *catalog) get(id string) (upnp.Renderer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.renderers[id]
	return r, ok
}

// list returns renderers sorted by name, then address
func (c *catalog) list() []upnp.Renderer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]upnp.Renderer, 0, len(c.renderers))
	for _, r := range c.renderers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Location < out[j].Location
	})
	return out
}

func (c *catalog) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.renderers)
}

func (c *catalog) setPlaying(id string, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if playing {
		c.playing[id] = true
	} else {
		delete(c.playing, id)
	}
}

func (c *catalog) playingSet() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.playing))
	for id := range c.playing {
		out[id] = true
	}
	return out
}

func (c *catalog) playingNames() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for id := range c.playing {
		if r, ok := c.renderers[id]; ok {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// autoPlayMatch reports whether r is the renderer configured for auto-play.
// The name must match exactly; the address only when one is configured.
func autoPlayMatch(r upnp.Renderer, name, addr string) bool {
	if name == "" || r.Name != name {
		return false
	}
	return addr == "" || r.RemoteAddr == addr
}

// discoveryLoop runs a discovery pass at startup, then on every trigger and
// every interval. Only a failing first pass is fatal.
func (s *Server) discoveryLoop(ctx context.Context) error {
	if err := s.discoverOnce(ctx); err != nil {
		return fmt.Errorf("initial discovery failed: %w", err)
	}

	var tick <-chan time.Time
	if s.config.DiscoveryEvery > 0 {
		ticker := time.NewTicker(s.config.DiscoveryEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.discoverTrigger:
		case <-tick:
		}

		if err := s.discoverOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Discovery failed: %v", err)
		}
	}
}

// discoverOnce runs a single pass and merges the result into the catalog
func (s *Server) discoverOnce(ctx context.Context) error {
	s.events.Emit(events.New(events.DiscoveryStarted, "", "searching for renderers"))

	found, err := s.finder.Discover(ctx, s.catalog.list())
	if err != nil {
		s.events.Emit(events.New(events.DiscoveryFailed, "", "%v", err))
		return err
	}

	added := s.catalog.add(found)
	s.events.Emit(events.New(events.DiscoveryFinished, "", "%d new, %d total", len(added), s.catalog.len()))
	log.Printf("Discovery finished: %d new renderers, %d total", len(added), s.catalog.len())

	if s.config.AutoReconnect {
		for _, r := range added {
			if autoPlayMatch(r, s.config.RendererName, s.config.RendererAddr) {
				log.Printf("Auto-play: %s", r)
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					if err := s.startPlayback(ctx, r); err != nil {
						log.Printf("Auto-play of %s failed: %v", r.Name, err)
					}
				}()
			}
		}
	}

	s.updateTUI()
	return nil
}

// requestDiscovery asks the discovery loop for another pass
func (s *Server) requestDiscovery() {
	select {
	case s.discoverTrigger <- struct{}{}:
	default:
		// A pass is already pending
	}
}
