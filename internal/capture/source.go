// ABOUTME: Audio source abstraction for the capture side
// ABOUTME: Sources push interleaved stereo float batches to a sink
package capture

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lucalewin/sonar/pkg/audio"
)

const (
	// ChunkDuration is the pacing interval of generated and file sources
	ChunkDuration = 20 * time.Millisecond
)

// Sink receives every captured batch. It is called from the audio callback
// and must not block.
type Sink func(audio.Batch)

// Source produces audio
type Source interface {
	// Start begins delivering batches to sink
	Start(sink Sink) error
	// SampleRate returns the rate of delivered batches
	SampleRate() int
	// Name describes the source for logs
	Name() string
	// Close stops delivery and releases resources
	Close() error
}

// Options selects and configures a source
type Options struct {
	Kind       string // loopback, capture, tone or file
	Device     string // capture device name (substring match)
	File       string
	SampleRate int
}

// New creates the source described by opts
func New(opts Options) (Source, error) {
	switch strings.ToLower(opts.Kind) {
	case "loopback":
		return NewMalgoSource(true, opts.Device, opts.SampleRate), nil
	case "capture":
		return NewMalgoSource(false, opts.Device, opts.SampleRate), nil
	case "tone":
		return NewToneSource(opts.SampleRate), nil
	case "file":
		return NewFileSource(opts.File, opts.SampleRate)
	default:
		return nil, fmt.Errorf("unknown audio source: %q", opts.Kind)
	}
}

// NewFileSource opens an MP3 or FLAC file that loops forever. Output is
// resampled to sampleRate; zero keeps the file's rate.
func NewFileSource(path string, sampleRate int) (Source, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", path)
	}

	var (
		src *fileSource
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		src, err = newMP3Source(path)
	case ".flac":
		src, err = newFLACSource(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
	if err != nil {
		return nil, err
	}

	src.resampleTo(sampleRate)
	return src, nil
}

// pacer calls fill once per ChunkDuration until stopped. Generated audio is
// delivered at real-time speed this way.
type pacer struct {
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newPacer() *pacer {
	return &pacer{stopChan: make(chan struct{})}
}

func (p *pacer) start(name string, fill func() bool) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(ChunkDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !fill() {
					log.Printf("%s: source ended", name)
					return
				}
			case <-p.stopChan:
				return
			}
		}
	}()
}

func (p *pacer) stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

// framesPerChunk is the number of stereo frames in one ChunkDuration
func framesPerChunk(sampleRate int) int {
	return sampleRate * int(ChunkDuration/time.Millisecond) / 1000
}
