// ABOUTME: Streaming HTTP server for renderers
// ABOUTME: Minimal HTTP/1.1 over raw TCP serving an endless chunked audio body
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lucalewin/sonar/pkg/audio"
	"github.com/lucalewin/sonar/pkg/audio/encode"
	"github.com/lucalewin/sonar/pkg/events"
)

const (
	// Path is the only resource served
	Path = "/stream/swyh.wav"

	// ServerToken is sent in the Server response header
	ServerToken = "UPnP/1.0 DLNADOC/1.50 LAB/1.0"

	DefaultRequestTimeout = 10 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
)

// ErrClientDisconnected marks a failed write to a renderer
var ErrClientDisconnected = errors.New("client disconnected")

// Config holds streaming server configuration
type Config struct {
	// Addr is the listen address (host:port)
	Addr string

	// Info describes the stream served to every client
	Info audio.StreamInfo

	// NewKeepAlive builds the keep-alive strategy for each FLAC client.
	// Nil means no keep-alive.
	NewKeepAlive func(sampleRate int) encode.KeepAlive

	// FLACTimeout is the FLAC encoder's receive timeout
	FLACTimeout time.Duration

	RequestTimeout time.Duration
	WriteTimeout   time.Duration

	Events events.Sink
	Debug  bool
}

// Server accepts renderer connections and streams audio from the registry
type Server struct {
	config   Config
	registry *Registry
	events   events.Sink

	listener net.Listener

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer creates a streaming server fed by registry
func NewServer(config Config, registry *Registry) (*Server, error) {
	if err := config.Info.Validate(); err != nil {
		return nil, err
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}

	return &Server{
		config:   config,
		registry: registry,
		events:   events.OrDiscard(config.Events),
	}, nil
}

// Listen binds the TCP listener
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind stream listener on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	log.Printf("Streaming server listening on %s (%s)", ln.Addr(), s.config.Info)
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				// cancel first so handlers blocked on their queue return
				cancel()
				s.wg.Wait()
				return nil
			}
			log.Printf("Accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Close stops accepting connections
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	return err
}

// handleConnection serves one renderer
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	peer := conn.RemoteAddr().String()

	method, target, err := s.readRequest(conn)
	if err != nil {
		if s.config.Debug {
			log.Printf("[DEBUG] %s: bad request: %v", peer, err)
		}
		return
	}

	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	if target != Path || (method != "GET" && method != "HEAD") {
		log.Printf("Ignoring %s %s from %s", method, target, peer)
		return
	}

	w := bufio.NewWriter(conn)
	if err := s.writeResponseHeader(conn, w); err != nil {
		log.Printf("Failed to write response header to %s: %v", peer, err)
		return
	}

	if method == "HEAD" {
		log.Printf("HEAD %s from %s", target, peer)
		return
	}

	log.Printf("Streaming %s to %s", s.config.Info, peer)

	client := s.registry.newClient(peer)
	if s.config.Info.Format == audio.Flac {
		err = s.streamFLAC(ctx, conn, w, client)
	} else {
		err = s.streamPCM(ctx, conn, w, client)
	}

	if s.registry.Remove(client) {
		msg := "stream ended"
		if err != nil {
			msg = err.Error()
		}
		s.events.Emit(events.New(events.ClientDisconnected, peer, msg))
	}
	if err != nil {
		log.Printf("Client %s removed: %v", peer, err)
	}
}

// readRequest reads the request line and headers up to the blank line
func (s *Server) readRequest(conn net.Conn) (method, target string, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.config.RequestTimeout)); err != nil {
		return "", "", err
	}
	defer conn.SetReadDeadline(time.Time{})

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", fmt.Errorf("malformed request line %q", strings.TrimSpace(line))
	}
	method, target = fields[0], fields[1]

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if s.config.Debug {
			log.Printf("[DEBUG] %s header: %s", conn.RemoteAddr(), line)
		}
	}
	return method, target, nil
}

func (s *Server) writeResponseHeader(conn net.Conn, w *bufio.Writer) error {
	fmt.Fprintf(w, "HTTP/1.1 200 OK\r\n")
	fmt.Fprintf(w, "Connection: close\r\n")
	fmt.Fprintf(w, "Content-Type: %s\r\n", s.config.Info.ContentType())
	fmt.Fprintf(w, "TransferMode.DLNA.ORG: Streaming\r\n")
	fmt.Fprintf(w, "Server: %s\r\n", ServerToken)
	fmt.Fprintf(w, "Accept-Ranges: none\r\n")
	fmt.Fprintf(w, "Transfer-Encoding: chunked\r\n")
	fmt.Fprintf(w, "\r\n")
	return s.flush(conn, w)
}

// streamPCM serves WAV (header first) and headerless LPCM
func (s *Server) streamPCM(ctx context.Context, conn net.Conn, w *bufio.Writer, client *Client) error {
	enc, err := encode.NewPCM(s.config.Info.BitsPerSample)
	if err != nil {
		return err
	}
	defer enc.Close()

	if s.config.Info.Format == audio.Wav {
		hdr := audio.WAVHeader(s.config.Info.SampleRate, s.config.Info.BitsPerSample)
		if err := s.writeChunk(conn, w, hdr[:]); err != nil {
			return err
		}
	}

	s.register(client)

	for {
		select {
		case batch := <-client.Batches():
			data, err := enc.Encode(batch)
			if err != nil {
				return err
			}
			if err := s.writeChunk(conn, w, data); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// streamFLAC runs a dedicated encoder fed by the client's queue
func (s *Server) streamFLAC(ctx context.Context, conn net.Conn, w *bufio.Writer, client *Client) error {
	opts := encode.FLACOptions{Timeout: s.config.FLACTimeout}
	if s.config.NewKeepAlive != nil {
		opts.KeepAlive = s.config.NewKeepAlive(s.config.Info.SampleRate)
	}

	fs, err := encode.NewFLACStream(client.Batches(), s.config.Info, opts)
	if err != nil {
		return err
	}
	fs.Start()
	defer fs.Stop()

	registered := false
	for {
		select {
		case data, ok := <-fs.Output():
			if !ok {
				return fmt.Errorf("%w: FLAC encoder stopped", encode.ErrEncoder)
			}
			if err := s.writeChunk(conn, w, data); err != nil {
				return err
			}
			// the first output is the stream header
			if !registered {
				s.register(client)
				registered = true
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) register(client *Client) {
	s.registry.add(client)
	log.Printf("Client %s registered (%d connected)", client.Addr, s.registry.Len())
	s.events.Emit(events.New(events.ClientConnected, client.Addr, s.config.Info.String()))
}

// writeChunk writes p as one HTTP chunk and flushes it
func (s *Server) writeChunk(conn net.Conn, w *bufio.Writer, p []byte) error {
	// a zero-length chunk would end the body
	if len(p) == 0 {
		return nil
	}
	fmt.Fprintf(w, "%x\r\n", len(p))
	w.Write(p)
	w.WriteString("\r\n")
	return s.flush(conn, w)
}

func (s *Server) flush(conn net.Conn, w *bufio.Writer) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrClientDisconnected, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrClientDisconnected, err)
	}
	return nil
}
