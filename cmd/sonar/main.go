// ABOUTME: Entry point for Sonar
// ABOUTME: Loads configuration, applies CLI flags and runs the casting server
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucalewin/sonar/internal/capture"
	"github.com/lucalewin/sonar/internal/config"
	"github.com/lucalewin/sonar/internal/server"
	"github.com/lucalewin/sonar/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Environment provides the defaults, flags override them
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "Streaming server port")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Listen address (default: all interfaces)")
	flag.StringVar(&cfg.LocalAddr, "local-addr", cfg.LocalAddr, "Local IP renderers connect to (default: autodetect)")
	flag.StringVar(&cfg.Format, "format", cfg.Format, "Stream format: wav, flac or lpcm")
	flag.IntVar(&cfg.BitsPerSample, "bits", cfg.BitsPerSample, "Bits per sample: 16 or 24")
	flag.IntVar(&cfg.SampleRate, "rate", cfg.SampleRate, "Capture sample rate")
	flag.DurationVar(&cfg.CaptureTimeout, "capture-timeout", cfg.CaptureTimeout, "FLAC encoder receive timeout")
	flag.BoolVar(&cfg.FLACKeepAlive, "flac-keepalive", cfg.FLACKeepAlive, "Inject inaudible noise into idle FLAC streams")
	flag.StringVar(&cfg.Source, "source", cfg.Source, "Audio source: loopback, capture, tone or file")
	flag.StringVar(&cfg.Device, "device", cfg.Device, "Capture device name (substring match)")
	flag.StringVar(&cfg.AudioFile, "audio", cfg.AudioFile, "Audio file for the file source (MP3, FLAC)")
	flag.BoolVar(&cfg.InjectSilence, "inject-silence", cfg.InjectSilence, "Play silence on the output device while capturing loopback")
	flag.BoolVar(&cfg.AutoReconnect, "auto-reconnect", cfg.AutoReconnect, "Start playback on the configured renderer when discovered")
	flag.StringVar(&cfg.RendererName, "renderer", cfg.RendererName, "Renderer name to play on automatically")
	flag.StringVar(&cfg.RendererAddr, "renderer-addr", cfg.RendererAddr, "Renderer IP to play on automatically")
	flag.DurationVar(&cfg.DiscoveryEvery, "discovery-interval", cfg.DiscoveryEvery, "Repeat discovery at this interval (0 = once)")
	flag.IntVar(&cfg.APIPort, "api-port", cfg.APIPort, "Control API port (0 = disabled)")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "Friendly name for mDNS and the TUI")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file path")
	flag.BoolVar(&cfg.UseTUI, "tui", cfg.UseTUI, "Show the interactive terminal UI")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	noMDNS := flag.Bool("no-mdns", !cfg.EnableMDNS, "Disable mDNS advertisement")
	listDevices := flag.Bool("list-devices", false, "List capture devices and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	cfg.EnableMDNS = !*noMDNS

	if *showVersion {
		fmt.Println(version.UserAgent())
		return
	}

	if *listDevices {
		names, err := capture.ListDevices()
		if err != nil {
			log.Fatalf("%v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Set up logging: the TUI owns the terminal, so only the file then
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if cfg.UseTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	log.Printf("Starting %s: stream port %d, format %s/%d-bit", cfg.Name, cfg.Port, cfg.Format, cfg.BitsPerSample)
	if cfg.Debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", cfg.LogFile)
	if !cfg.UseTUI {
		log.Printf("Press Ctrl-C to stop")
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Server error: %v", err)
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Printf("Server stopped")
}
