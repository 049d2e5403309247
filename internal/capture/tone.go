// ABOUTME: Test tone generator
// ABOUTME: Generates a 440Hz sine wave at half volume
package capture

import (
	"fmt"
	"math"

	"github.com/lucalewin/sonar/pkg/audio"
)

// ToneSource generates a 440Hz test tone
type ToneSource struct {
	sampleRate  int
	frequency   float64
	sampleIndex uint64
	pacer       *pacer
}

// NewToneSource creates a new test tone generator
func NewToneSource(sampleRate int) *ToneSource {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &ToneSource{
		sampleRate: sampleRate,
		frequency:  440.0, // A4 note
		pacer:      newPacer(),
	}
}

// Start begins generating tone chunks
func (s *ToneSource) Start(sink Sink) error {
	s.pacer.start(s.Name(), func() bool {
		sink(s.next(framesPerChunk(s.sampleRate)))
		return true
	})
	return nil
}

// next generates frames stereo frames
func (s *ToneSource) next(frames int) audio.Batch {
	batch := make(audio.Batch, frames*audio.Channels)
	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.sampleRate)
		sample := float32(math.Sin(2*math.Pi*s.frequency*t) * 0.5) // 50% volume

		batch[i*2] = sample
		batch[i*2+1] = sample
	}
	s.sampleIndex += uint64(frames)
	return batch
}

func (s *ToneSource) SampleRate() int { return s.sampleRate }
func (s *ToneSource) Name() string    { return fmt.Sprintf("test tone %.0fHz", s.frequency) }

// Close stops the generator
func (s *ToneSource) Close() error {
	s.pacer.stop()
	return nil
}
