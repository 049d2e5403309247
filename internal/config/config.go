// ABOUTME: Application configuration loaded from the environment
// ABOUTME: SONAR_* variables with defaults, validated before startup
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/lucalewin/sonar/pkg/audio"
)

// Audio sources
const (
	SourceLoopback = "loopback"
	SourceCapture  = "capture"
	SourceTone     = "tone"
	SourceFile     = "file"
)

// Config holds all runtime settings
type Config struct {
	// Streaming server
	Port       int    `env:"SONAR_PORT, default=5901"`
	ListenAddr string `env:"SONAR_LISTEN_ADDR"`
	LocalAddr  string `env:"SONAR_LOCAL_ADDR"`
	QueueSize  int    `env:"SONAR_QUEUE_SIZE, default=256"`

	// Stream format
	Format        string `env:"SONAR_FORMAT, default=wav"`
	BitsPerSample int    `env:"SONAR_BITS_PER_SAMPLE, default=16"`
	SampleRate    int    `env:"SONAR_SAMPLE_RATE, default=48000"`

	// FLAC receive timeout and optional noise keep-alive
	CaptureTimeout time.Duration `env:"SONAR_CAPTURE_TIMEOUT, default=250ms"`
	FLACKeepAlive  bool          `env:"SONAR_FLAC_KEEPALIVE, default=false"`

	// Audio source
	Source        string `env:"SONAR_SOURCE, default=loopback"`
	Device        string `env:"SONAR_DEVICE"`
	AudioFile     string `env:"SONAR_AUDIO_FILE"`
	InjectSilence bool   `env:"SONAR_INJECT_SILENCE, default=true"`

	// Renderer to start automatically once discovered
	AutoReconnect  bool          `env:"SONAR_AUTO_RECONNECT, default=true"`
	RendererName   string        `env:"SONAR_RENDERER"`
	RendererAddr   string        `env:"SONAR_RENDERER_ADDR"`
	DiscoveryEvery time.Duration `env:"SONAR_DISCOVERY_INTERVAL, default=0s"`

	// Surfaces
	APIPort    int    `env:"SONAR_API_PORT, default=5902"`
	EnableMDNS bool   `env:"SONAR_MDNS, default=true"`
	Name       string `env:"SONAR_NAME, default=Sonar"`
	UseTUI     bool   `env:"SONAR_TUI, default=false"`
	LogFile    string `env:"SONAR_LOG_FILE, default=sonar.log"`
	Debug      bool   `env:"SONAR_DEBUG, default=false"`
}

// Load reads the configuration from the process environment
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}

// LoadFrom reads the configuration from an explicit lookuper
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid api port: %d", c.APIPort))
	}
	if c.APIPort != 0 && c.APIPort == c.Port {
		errs = append(errs, fmt.Errorf("api port %d collides with the stream port", c.APIPort))
	}
	if c.LocalAddr != "" && net.ParseIP(c.LocalAddr) == nil {
		errs = append(errs, fmt.Errorf("invalid local address: %q", c.LocalAddr))
	}
	if c.RendererAddr != "" && net.ParseIP(c.RendererAddr) == nil {
		errs = append(errs, fmt.Errorf("invalid renderer address: %q", c.RendererAddr))
	}
	if _, err := audio.ParseStreamingFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if err := (audio.StreamInfo{SampleRate: c.SampleRate, BitsPerSample: c.BitsPerSample}).Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.CaptureTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid capture timeout: %v", c.CaptureTimeout))
	}
	if c.DiscoveryEvery < 0 {
		errs = append(errs, fmt.Errorf("invalid discovery interval: %v", c.DiscoveryEvery))
	}

	switch strings.ToLower(c.Source) {
	case SourceLoopback, SourceCapture, SourceTone:
	case SourceFile:
		if c.AudioFile == "" {
			errs = append(errs, errors.New("file source needs an audio file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audio source: %q (supported: loopback, capture, tone, file)", c.Source))
	}

	return errors.Join(errs...)
}

// StreamInfo returns the stream served to renderers. Call after Validate.
func (c *Config) StreamInfo() audio.StreamInfo {
	format, _ := audio.ParseStreamingFormat(c.Format)
	return audio.StreamInfo{
		SampleRate:    c.SampleRate,
		BitsPerSample: c.BitsPerSample,
		Format:        format,
	}
}

// StreamAddr is the listen address of the streaming server
func (c *Config) StreamAddr() string {
	return net.JoinHostPort(c.ListenAddr, fmt.Sprint(c.Port))
}
