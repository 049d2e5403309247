// ABOUTME: Plays inaudible silence on the default output device
// ABOUTME: Keeps loopback capture fed while nothing else is playing
package silence

import (
	"fmt"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Injector plays a never-ending stream of zero samples through oto.
// Some loopback backends deliver no callbacks while the output is idle,
// which would starve every connected renderer.
type Injector struct {
	sampleRate int
	otoCtx     *oto.Context
	player     *oto.Player
	mu         sync.Mutex
}

// NewInjector creates an injector for the given output sample rate
func NewInjector(sampleRate int) *Injector {
	return &Injector{sampleRate: sampleRate}
}

// Start opens the output device and begins playing silence
func (i *Injector) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.player != nil {
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   i.sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	i.otoCtx = ctx
	i.player = ctx.NewPlayer(zeroReader{})
	i.player.Play()

	log.Printf("Silence injection started: %dHz", i.sampleRate)
	return nil
}

// Close stops playback. oto allows one context per process, so the
// context is only suspended.
func (i *Injector) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.player != nil {
		if err := i.player.Close(); err != nil {
			log.Printf("Silence player close failed: %v", err)
		}
		i.player = nil
	}
	if i.otoCtx != nil {
		if err := i.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

// zeroReader yields an endless run of zero bytes
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
