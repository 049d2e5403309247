// ABOUTME: HTTP control API and WebSocket event feed
// ABOUTME: Exposes renderers, clients and play/stop over JSON
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lucalewin/sonar/internal/discovery"
	"github.com/lucalewin/sonar/pkg/events"
	"github.com/lucalewin/sonar/pkg/stream"
	"github.com/lucalewin/sonar/pkg/upnp"
)

const (
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second

	// commandTimeout bounds a play or stop issued through the API
	commandTimeout = 30 * time.Second
)

// ErrUnknownRenderer is returned by a Backend for IDs it does not know
var ErrUnknownRenderer = errors.New("unknown renderer")

// Status summarizes the running instance
type Status struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	StreamURL string `json:"stream_url"`
	Format    string `json:"format"`
	Source    string `json:"source"`
	Renderers int    `json:"renderers"`
	Clients   int    `json:"clients"`
	Playing   string `json:"playing,omitempty"`
}

// Backend is the application behind the API
type Backend interface {
	Status() Status
	Renderers() []upnp.Renderer
	Clients() []stream.ClientInfo
	Discover()
	PlayRenderer(ctx context.Context, id string) error
	StopRenderer(ctx context.Context, id string) error
	Peers(ctx context.Context) ([]discovery.Peer, error)
}

// Handler serves the API
type Handler struct {
	backend  Backend
	bus      *events.Bus
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	debug    bool
}

// New creates the API handler. bus may be nil, which disables the event feed.
func New(backend Backend, bus *events.Bus, debug bool) *Handler {
	h := &Handler{
		backend: backend,
		bus:     bus,
		mux:     http.NewServeMux(),
		debug:   debug,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The API is meant for trusted local networks only
				origin := r.Header.Get("Origin")
				if origin != "" && debug {
					log.Printf("[DEBUG] Accepting WebSocket from origin: %s", origin)
				}
				return true
			},
		},
	}

	h.mux.HandleFunc("GET /api/status", h.handleStatus)
	h.mux.HandleFunc("GET /api/renderers", h.handleRenderers)
	h.mux.HandleFunc("POST /api/discover", h.handleDiscover)
	h.mux.HandleFunc("POST /api/renderers/{id}/play", h.handlePlay)
	h.mux.HandleFunc("POST /api/renderers/{id}/stop", h.handleStop)
	h.mux.HandleFunc("GET /api/clients", h.handleClients)
	h.mux.HandleFunc("GET /api/peers", h.handlePeers)
	h.mux.HandleFunc("GET /api/events", h.handleEvents)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.Status())
}

func (h *Handler) handleRenderers(w http.ResponseWriter, r *http.Request) {
	renderers := h.backend.Renderers()
	if renderers == nil {
		renderers = []upnp.Renderer{}
	}
	writeJSON(w, http.StatusOK, renderers)
}

func (h *Handler) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := h.backend.Clients()
	if clients == nil {
		clients = []stream.ClientInfo{}
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *Handler) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.backend.Peers(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if peers == nil {
		peers = []discovery.Peer{}
	}
	writeJSON(w, http.StatusOK, peers)
}

func (h *Handler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	h.backend.Discover()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "discovering"})
}

func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "playing", h.backend.PlayRenderer)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "stopped", h.backend.StopRenderer)
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request, status string, fn func(context.Context, string) error) {
	id := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := fn(ctx, id); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, ErrUnknownRenderer) {
			code = http.StatusNotFound
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "id": id})
}

// handleEvents streams bus events to a WebSocket until either side closes
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		http.Error(w, "event feed disabled", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if h.debug {
		log.Printf("[DEBUG] Event subscriber connected from %s", r.RemoteAddr)
	}

	sub, cancel := h.bus.Subscribe()
	defer cancel()

	// The reader only exists to notice the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(e); err != nil {
				log.Printf("Error writing event: %v", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}

		case <-closed:
			return

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
