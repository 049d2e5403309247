package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/lucalewin/sonar/internal/discovery"
	"github.com/lucalewin/sonar/pkg/events"
	"github.com/lucalewin/sonar/pkg/stream"
	"github.com/lucalewin/sonar/pkg/upnp"
)

type fakeBackend struct {
	mu        sync.Mutex
	renderers []upnp.Renderer
	discovers int
	played    []string
	stopped   []string
	playErr   error
}

func (f *fakeBackend) Status() Status {
	return Status{Name: "Sonar", StreamURL: "http://10.0.0.5:5901/stream/swyh.wav", Format: "wav", Renderers: len(f.renderers)}
}

func (f *fakeBackend) Renderers() []upnp.Renderer { return f.renderers }
func (f *fakeBackend) Clients() []stream.ClientInfo {
	return nil
}

func (f *fakeBackend) Peers(ctx context.Context) ([]discovery.Peer, error) {
	return []discovery.Peer{{Name: "Office", Host: "10.0.0.7", Port: 5901}}, nil
}

func (f *fakeBackend) Discover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovers++
}

func (f *fakeBackend) PlayRenderer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "known" {
		return ErrUnknownRenderer
	}
	f.played = append(f.played, id)
	return f.playErr
}

func (f *fakeBackend) StopRenderer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "known" {
		return ErrUnknownRenderer
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatusAndLists(t *testing.T) {
	backend := &fakeBackend{renderers: []upnp.Renderer{
		{ID: "known", Name: "Kitchen", Protocols: upnp.AVTransport},
	}}
	h := New(backend, nil, false)

	rec := do(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if diff := cmp.Diff(backend.Status(), status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	rec = do(t, h, http.MethodGet, "/api/renderers")
	var renderers []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &renderers); err != nil {
		t.Fatalf("decode renderers: %v", err)
	}
	if len(renderers) != 1 || renderers[0]["name"] != "Kitchen" || renderers[0]["protocols"] != "AVTransport" {
		t.Errorf("unexpected renderers: %v", renderers)
	}

	// empty lists encode as [] rather than null
	rec = do(t, h, http.MethodGet, "/api/clients")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected empty client list, got %q", got)
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		playErr  error
		wantCode int
	}{
		{"play", http.MethodPost, "/api/renderers/known/play", nil, http.StatusOK},
		{"stop", http.MethodPost, "/api/renderers/known/stop", nil, http.StatusOK},
		{"unknown renderer", http.MethodPost, "/api/renderers/nope/play", nil, http.StatusNotFound},
		{"renderer failure", http.MethodPost, "/api/renderers/known/play", errors.New("soap fault"), http.StatusBadGateway},
		{"wrong method", http.MethodGet, "/api/renderers/known/play", nil, http.StatusMethodNotAllowed},
		{"discover", http.MethodPost, "/api/discover", nil, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{playErr: tt.playErr}
			rec := do(t, New(backend, nil, false), tt.method, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPeers(t *testing.T) {
	rec := do(t, New(&fakeBackend{}, nil, false), http.MethodGet, "/api/peers")
	var peers []discovery.Peer
	if err := json.Unmarshal(rec.Body.Bytes(), &peers); err != nil {
		t.Fatalf("decode peers: %v", err)
	}
	want := []discovery.Peer{{Name: "Office", Host: "10.0.0.7", Port: 5901}}
	if diff := cmp.Diff(want, peers); diff != "" {
		t.Errorf("peers mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverIsForwarded(t *testing.T) {
	backend := &fakeBackend{}
	do(t, New(backend, nil, false), http.MethodPost, "/api/discover")
	if backend.discovers != 1 {
		t.Errorf("expected 1 discovery, got %d", backend.discovers)
	}
}

func TestEventFeed(t *testing.T) {
	bus := events.NewBus(10)
	srv := httptest.NewServer(New(&fakeBackend{}, bus, false))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the subscription is registered after the upgrade completes
	want := events.New(events.ClientConnected, "10.0.0.9:50000", "renderer connected")
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)

	got := make(chan events.Event, 1)
	go func() {
		var e events.Event
		if err := conn.ReadJSON(&e); err == nil {
			got <- e
		}
	}()

	for time.Now().Before(deadline) {
		bus.Emit(want)
		select {
		case e := <-got:
			if e.Kind != want.Kind || e.Subject != want.Subject || e.Message != want.Message {
				t.Errorf("unexpected event %+v", e)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("timed out waiting for event")
}

func TestEventFeedDisabled(t *testing.T) {
	rec := do(t, New(&fakeBackend{}, nil, false), http.MethodGet, "/api/events")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a bus, got %d", rec.Code)
	}
}
