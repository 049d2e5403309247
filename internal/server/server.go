// ABOUTME: Application orchestration for Sonar
// ABOUTME: Wires capture, streaming, discovery, control, mDNS, API and TUI together
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/lucalewin/sonar/internal/api"
	"github.com/lucalewin/sonar/internal/capture"
	"github.com/lucalewin/sonar/internal/config"
	"github.com/lucalewin/sonar/internal/discovery"
	"github.com/lucalewin/sonar/internal/silence"
	"github.com/lucalewin/sonar/internal/ui"
	"github.com/lucalewin/sonar/internal/version"
	"github.com/lucalewin/sonar/pkg/audio"
	"github.com/lucalewin/sonar/pkg/audio/encode"
	"github.com/lucalewin/sonar/pkg/control"
	ssdp "github.com/lucalewin/sonar/pkg/discovery"
	"github.com/lucalewin/sonar/pkg/events"
	"github.com/lucalewin/sonar/pkg/stream"
	"github.com/lucalewin/sonar/pkg/upnp"
)

const (
	// eventHistory is the number of events kept for late subscribers
	eventHistory = 100

	// commandTimeout bounds plays and stops started from the TUI
	commandTimeout = 30 * time.Second

	shutdownTimeout = 5 * time.Second
	peerBrowseTime  = 2 * time.Second
)

// Server represents the running application
type Server struct {
	config  *config.Config
	info    audio.StreamInfo
	localIP string

	registry   *stream.Registry
	stream     *stream.Server
	engine     *AudioEngine
	controller *control.Controller
	finder     finder
	catalog    *catalog

	bus    *events.Bus
	events events.Sink

	silence     *silence.Injector
	mdnsManager *discovery.Manager
	api         *api.Handler

	// TUI
	tui      *tea.Program
	controls *ui.Controls

	discoverTrigger chan struct{}

	// Control
	stopChan chan struct{}
	stopOnce sync.Once // Ensure Stop() is only called once
	wg       sync.WaitGroup
}

// New creates a server from a validated configuration
func New(cfg *config.Config) (*Server, error) {
	source, err := capture.New(capture.Options{
		Kind:       cfg.Source,
		Device:     cfg.Device,
		File:       cfg.AudioFile,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create audio source: %w", err)
	}

	info := cfg.StreamInfo()
	if rate := source.SampleRate(); rate != info.SampleRate {
		log.Printf("Source %s runs at %dHz, streaming at that rate instead of %dHz", source.Name(), rate, info.SampleRate)
		info.SampleRate = rate
	}

	localIP := cfg.LocalAddr
	if localIP == "" {
		ip, err := ssdp.LocalIP()
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("failed to determine local address: %w", err)
		}
		localIP = ip.String()
	}

	bus := events.NewBus(eventHistory)
	registry := stream.NewRegistry(cfg.QueueSize)

	var keepAlive func(int) encode.KeepAlive
	if cfg.FLACKeepAlive {
		keepAlive = func(sampleRate int) encode.KeepAlive {
			return encode.NewNoiseKeepAlive(sampleRate)
		}
	}

	streamServer, err := stream.NewServer(stream.Config{
		Addr:         cfg.StreamAddr(),
		Info:         info,
		NewKeepAlive: keepAlive,
		FLACTimeout:  cfg.CaptureTimeout,
		Events:       bus,
		Debug:        cfg.Debug,
	}, registry)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("failed to create streaming server: %w", err)
	}

	s := &Server{
		config:   cfg,
		info:     info,
		localIP:  localIP,
		registry: registry,
		stream:   streamServer,
		engine:   NewAudioEngine(source, registry, cfg.Debug),
		controller: control.New(control.Config{
			UserAgent: version.UserAgent(),
			Events:    bus,
			Debug:     cfg.Debug,
		}),
		finder: ssdp.New(ssdp.Config{
			LocalAddr: cfg.LocalAddr,
			UserAgent: version.UserAgent(),
			Events:    bus,
			Debug:     cfg.Debug,
		}),
		catalog:         newCatalog(),
		bus:             bus,
		events:          bus,
		discoverTrigger: make(chan struct{}, 1),
		stopChan:        make(chan struct{}),
	}
	s.api = api.New(s, bus, cfg.Debug)

	if cfg.UseTUI {
		s.controls = ui.NewControls()
		s.tui = ui.New(cfg.Name, s.controls)
	}

	return s, nil
}

// Run starts every component and blocks until ctx is cancelled, Stop is
// called, the TUI quits or a component fails
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.stopChan:
			log.Printf("Server shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Printf("%s %s starting: stream %s (%s)", version.Product, version.Version, s.StreamURL(), s.info)

	if err := s.stream.Listen(); err != nil {
		return err
	}
	defer s.stream.Close()

	if err := s.engine.Start(); err != nil {
		return fmt.Errorf("failed to start audio source: %w", err)
	}
	defer s.engine.Stop()

	if s.config.InjectSilence && strings.EqualFold(s.config.Source, config.SourceLoopback) {
		s.silence = silence.NewInjector(s.info.SampleRate)
		if err := s.silence.Start(); err != nil {
			log.Printf("Silence injection unavailable: %v", err)
			s.silence = nil
		} else {
			defer s.silence.Close()
		}
	}

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.streamPort(),
			Path:        stream.Path,
			Format:      s.info.Format.String(),
			Version:     version.Version,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
			s.mdnsManager = nil
		} else {
			defer s.mdnsManager.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.stream.Serve(gctx)
	})

	if s.config.APIPort != 0 {
		if err := s.startAPI(gctx, g); err != nil {
			cancel()
			g.Wait()
			return err
		}
	}

	if s.tui != nil {
		s.startTUI(gctx, g, cancel)
	}

	g.Go(func() error {
		return s.discoveryLoop(gctx)
	})

	err := g.Wait()
	s.wg.Wait()

	if err != nil {
		return err
	}
	log.Printf("Server stopped cleanly")
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) startAPI(ctx context.Context, g *errgroup.Group) error {
	addr := net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.APIPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind control API on %s: %w", addr, err)
	}
	log.Printf("Control API listening on %s", ln.Addr())

	httpServer := &http.Server{
		Handler:           s.api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Control API shutdown error: %v", err)
		}
		return nil
	})
	return nil
}

// StreamURL is the URL renderers are told to fetch
func (s *Server) StreamURL() string {
	return control.StreamURL(s.localIP, s.streamPort())
}

// streamPort is the bound port once listening, the configured one before
func (s *Server) streamPort() int {
	if addr, ok := s.stream.Addr().(*net.TCPAddr); ok && addr != nil {
		return addr.Port
	}
	return s.config.Port
}

// startPlayback points r at the stream and starts playback
func (s *Server) startPlayback(ctx context.Context, r upnp.Renderer) error {
	if err := s.controller.Play(ctx, r, s.localIP, s.streamPort(), s.info); err != nil {
		return err
	}
	s.catalog.setPlaying(r.ID, true)
	s.updateTUI()
	return nil
}

// Status implements api.Backend
func (s *Server) Status() api.Status {
	return api.Status{
		Name:      s.config.Name,
		Version:   version.Version,
		StreamURL: s.StreamURL(),
		Format:    s.info.String(),
		Source:    s.engine.source.Name(),
		Renderers: s.catalog.len(),
		Clients:   s.registry.Len(),
		Playing:   s.catalog.playingNames(),
	}
}

// Renderers implements api.Backend
func (s *Server) Renderers() []upnp.Renderer {
	return s.catalog.list()
}

// Clients implements api.Backend
func (s *Server) Clients() []stream.ClientInfo {
	return s.registry.Clients()
}

// Discover implements api.Backend
func (s *Server) Discover() {
	s.requestDiscovery()
}

// PlayRenderer implements api.Backend
func (s *Server) PlayRenderer(ctx context.Context, id string) error {
	r, ok := s.catalog.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrUnknownRenderer, id)
	}
	return s.startPlayback(ctx, r)
}

// StopRenderer implements api.Backend
func (s *Server) StopRenderer(ctx context.Context, id string) error {
	r, ok := s.catalog.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrUnknownRenderer, id)
	}
	if err := s.controller.StopPlay(ctx, r); err != nil {
		return err
	}
	s.catalog.setPlaying(id, false)
	s.updateTUI()
	return nil
}

// Peers implements api.Backend
func (s *Server) Peers(ctx context.Context) ([]discovery.Peer, error) {
	if s.mdnsManager == nil {
		return nil, nil
	}
	return s.mdnsManager.Browse(ctx, peerBrowseTime)
}
