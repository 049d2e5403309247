// ABOUTME: TUI wiring for the server
// ABOUTME: Sends state snapshots and events to the TUI and runs its actions
package server

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucalewin/sonar/internal/ui"
)

// tuiRefresh is how often client queue stats are redrawn
const tuiRefresh = time.Second

// startTUI runs the TUI, its action loop and its event feed in g. Quitting
// the TUI cancels the whole server.
func (s *Server) startTUI(ctx context.Context, g *errgroup.Group, cancel context.CancelFunc) {
	g.Go(func() error {
		defer cancel()
		if _, err := s.tui.Run(); err != nil {
			log.Printf("TUI error: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.tui.Quit()
		return nil
	})

	g.Go(func() error {
		s.runActions(ctx)
		return nil
	})

	g.Go(func() error {
		s.forwardEvents(ctx)
		return nil
	})
}

// runActions executes key presses from the TUI
func (s *Server) runActions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.controls.Quit:
			log.Printf("TUI quit requested, shutting down...")
			return
		case action := <-s.controls.Actions:
			s.runAction(ctx, action)
		}
	}
}

func (s *Server) runAction(ctx context.Context, action ui.Action) {
	var fn func(context.Context, string) error
	switch action.Kind {
	case ui.ActionDiscover:
		s.requestDiscovery()
		return
	case ui.ActionPlay:
		fn = s.PlayRenderer
	case ui.ActionStop:
		fn = s.StopRenderer
	default:
		return
	}

	// SOAP calls take a while; keep the UI responsive
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if err := fn(cmdCtx, action.RendererID); err != nil {
			log.Printf("Renderer command failed: %v", err)
		}
	}()
}

// forwardEvents mirrors bus events into the TUI and refreshes its state
func (s *Server) forwardEvents(ctx context.Context) {
	sub, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(tuiRefresh)
	defer ticker.Stop()

	for _, e := range s.bus.Recent() {
		s.tui.Send(ui.EventMsg(e))
	}
	s.updateTUI()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			s.tui.Send(ui.EventMsg(e))
			s.updateTUI()
		case <-ticker.C:
			s.updateTUI()
		}
	}
}

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	s.tui.Send(ui.StatusMsg{
		Name:      s.config.Name,
		StreamURL: s.StreamURL(),
		Format:    s.info.String(),
		Source:    s.engine.source.Name(),
		Playing:   s.catalog.playingSet(),
		Renderers: s.catalog.list(),
		Clients:   s.registry.Clients(),
	})
}
