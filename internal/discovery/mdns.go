// ABOUTME: mDNS advertisement of the audio stream
// ABOUTME: Announces the stream endpoint and browses for other instances
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	ssdp "github.com/lucalewin/sonar/pkg/discovery"
)

// ServiceType is the mDNS service type of the stream endpoint
const ServiceType = "_sonar-stream._tcp"

// Config holds advertisement configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string
	Format      string
	Version     string
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	server *mdns.Server
}

// Peer describes another instance found on the network
type Peer struct {
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
}

// URL returns the peer's stream URL
func (p Peer) URL() string {
	return "http://" + net.JoinHostPort(p.Host, fmt.Sprint(p.Port)) + p.Path
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Advertise announces the stream via mDNS until Stop is called
func (m *Manager) Advertise() error {
	ips, err := ssdp.LocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse queries for other instances for the given duration
func (m *Manager) Browse(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []Peer, 1)

	go func() {
		var peers []Peer
		for entry := range entries {
			peer, ok := peerFromEntry(entry)
			if !ok || peer.Name == m.config.ServiceName {
				continue
			}
			peers = append(peers, peer)
		}
		done <- peers
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.QueryContext(ctx, params)
	close(entries)
	peers := <-done

	if err != nil {
		return peers, fmt.Errorf("mdns query failed: %w", err)
	}
	return peers, nil
}

// Stop stops advertising
func (m *Manager) Stop() {
	m.cancel()
}

func txtRecords(c Config) []string {
	txt := []string{"path=" + c.Path}
	if c.Format != "" {
		txt = append(txt, "format="+c.Format)
	}
	if c.Version != "" {
		txt = append(txt, "version="+c.Version)
	}
	return txt
}

func peerFromEntry(entry *mdns.ServiceEntry) (Peer, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return Peer{}, false
	}

	// entry names are fully qualified: "<instance>.<service>.local."
	name := entry.Name
	if i := strings.Index(name, "."+ServiceType); i > 0 {
		name = name[:i]
	}

	peer := Peer{
		Name: name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			peer.Path = value
		case "format":
			peer.Format = value
		}
	}
	return peer, true
}
