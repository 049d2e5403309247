// ABOUTME: Renderer controller for OpenHome and AVTransport renderers
// ABOUTME: Points a renderer at the stream and starts or stops playback
package control

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lucalewin/sonar/pkg/audio"
	"github.com/lucalewin/sonar/pkg/events"
	"github.com/lucalewin/sonar/pkg/stream"
	"github.com/lucalewin/sonar/pkg/upnp"
)

const (
	// DefaultHeadProbeDelay gives AVTransport renderers time to HEAD the
	// stream between SetAVTransportURI and Play
	DefaultHeadProbeDelay = 100 * time.Millisecond

	DefaultRequestTimeout = 10 * time.Second
)

// Config holds controller configuration
type Config struct {
	HTTPClient     *http.Client
	UserAgent      string
	HeadProbeDelay time.Duration
	Events         events.Sink
	Debug          bool
}

// Controller sends SOAP commands to renderers. It keeps no per-renderer
// state, so a failed command never affects later attempts.
type Controller struct {
	config Config
	client *http.Client
	events events.Sink
}

// New creates a Controller
func New(config Config) *Controller {
	if config.HeadProbeDelay <= 0 {
		config.HeadProbeDelay = DefaultHeadProbeDelay
	}
	if config.UserAgent == "" {
		config.UserAgent = "sonar"
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Controller{
		config: config,
		client: client,
		events: events.OrDiscard(config.Events),
	}
}

// StreamURL is the address renderers fetch the stream from
func StreamURL(localAddr string, port int) string {
	return "http://" + net.JoinHostPort(localAddr, strconv.Itoa(port)) + stream.Path
}

// Play tells r to play the stream served at localAddr:port. OpenHome is used
// when available, AVTransport otherwise.
func (c *Controller) Play(ctx context.Context, r upnp.Renderer, localAddr string, port int, info audio.StreamInfo) error {
	err := c.play(ctx, r, localAddr, port, info)
	if err != nil {
		log.Printf("Play on %s failed: %v", r.Name, err)
		c.events.Emit(events.New(events.PlayFailed, r.Name, "%v", err))
		return err
	}
	c.events.Emit(events.New(events.PlayStarted, r.Name, "%s", info))
	return nil
}

func (c *Controller) play(ctx context.Context, r upnp.Renderer, localAddr string, port int, info audio.StreamInfo) error {
	streamURL := StreamURL(localAddr, port)

	v, err := playVars(streamURL, info)
	if err != nil {
		return err
	}

	switch {
	case r.Protocols.Has(upnp.OpenHome):
		log.Printf("OH Start playing on %s at %s from %s using OpenHome Playlist", r.Name, r.DevURL, localAddr)
		return c.ohPlay(ctx, r, v)
	case r.Protocols.Has(upnp.AVTransport):
		log.Printf("AV Start playing on %s at %s from %s using AVTransport Play", r.Name, r.DevURL, localAddr)
		return c.avPlay(ctx, r, v)
	default:
		return fmt.Errorf("%w: %s", ErrNoSupportedProtocol, r.Name)
	}
}

// ohPlay replaces the renderer's playlist with the stream and plays it
func (c *Controller) ohPlay(ctx context.Context, r upnp.Renderer, v vars) error {
	url, err := r.ControlEndpoint(r.OHControlURL)
	if err != nil {
		return err
	}

	body, err := render(tmplOHInsert, v)
	if err != nil {
		return err
	}

	// some renderers refuse Insert while a playlist is active
	if err := c.ohDeleteAll(ctx, r.Name, url); err != nil {
		log.Printf("OH DeleteAll on %s failed, continuing: %v", r.Name, err)
	}

	log.Printf("OH Inserting new playlist on %s", r.Name)
	if _, err := c.soapRequest(ctx, url, ohNamespace, "Insert", body); err != nil {
		return err
	}

	log.Printf("OH Play on %s", r.Name)
	_, err = c.soapRequest(ctx, url, ohNamespace, "Play", ohPlayTemplate)
	return err
}

// avPlay sets the transport URI and plays it
func (c *Controller) avPlay(ctx context.Context, r upnp.Renderer, v vars) error {
	url, err := r.ControlEndpoint(r.AVControlURL)
	if err != nil {
		return err
	}

	body, err := render(tmplAVSetURI, v)
	if err != nil {
		return err
	}

	// clears "transport locked" (error 705) on some renderers
	if err := c.avStop(ctx, r.Name, url); err != nil {
		log.Printf("AV Stop on %s failed, continuing: %v", r.Name, err)
	}

	log.Printf("AV SetAVTransportURI on %s", r.Name)
	if _, err := c.soapRequest(ctx, url, avNamespace, "SetAVTransportURI", body); err != nil {
		return err
	}

	// the renderer probes the stream with HEAD before it accepts Play
	select {
	case <-time.After(c.config.HeadProbeDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Printf("AV Play on %s", r.Name)
	_, err = c.soapRequest(ctx, url, avNamespace, "Play", avPlayTemplate)
	return err
}

// StopPlay stops playback on r using the same protocol preference as Play
func (c *Controller) StopPlay(ctx context.Context, r upnp.Renderer) error {
	var err error
	switch {
	case r.Protocols.Has(upnp.OpenHome):
		var url string
		if url, err = r.ControlEndpoint(r.OHControlURL); err == nil {
			err = c.ohDeleteAll(ctx, r.Name, url)
		}
	case r.Protocols.Has(upnp.AVTransport):
		var url string
		if url, err = r.ControlEndpoint(r.AVControlURL); err == nil {
			err = c.avStop(ctx, r.Name, url)
		}
	default:
		err = fmt.Errorf("%w: %s", ErrNoSupportedProtocol, r.Name)
	}

	if err != nil {
		log.Printf("Stop on %s failed: %v", r.Name, err)
		return err
	}
	c.events.Emit(events.New(events.PlayStopped, r.Name, ""))
	return nil
}

func (c *Controller) ohDeleteAll(ctx context.Context, name, url string) error {
	log.Printf("OH Deleting current playlist on %s", name)
	_, err := c.soapRequest(ctx, url, ohNamespace, "DeleteAll", ohDeleteAllTemplate)
	return err
}

func (c *Controller) avStop(ctx context.Context, name, url string) error {
	log.Printf("AV Stop playing on %s", name)
	_, err := c.soapRequest(ctx, url, avNamespace, "Stop", avStopTemplate)
	return err
}
