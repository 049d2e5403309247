// ABOUTME: Keep-alive strategies for idle FLAC streams
// ABOUTME: Injects faint noise so renderers do not drop silent connections
package encode

import (
	"math/rand"
	"time"

	"github.com/lucalewin/sonar/pkg/audio"
)

const (
	// NoisePeriod is the duration of one injected noise buffer
	NoisePeriod = 250 * time.Millisecond

	// NoiseAmplitude is roughly -60dB
	NoiseAmplitude = 0.001

	noiseSeed = 79
)

// KeepAlive decides what to inject when no samples arrive within the
// encoder's receive timeout
type KeepAlive interface {
	// Fill returns the batch to encode in place of missing audio, or nil
	Fill() audio.Batch
}

type noKeepAlive struct{}

func (noKeepAlive) Fill() audio.Batch { return nil }

// NoKeepAlive injects nothing; idle streams simply stall
var NoKeepAlive KeepAlive = noKeepAlive{}

// NoiseKeepAlive produces a fixed-size buffer of low amplitude white noise
type NoiseKeepAlive struct {
	rng   *rand.Rand
	noise audio.Batch
}

// NewNoiseKeepAlive preallocates one NoisePeriod of stereo noise at sampleRate
func NewNoiseKeepAlive(sampleRate int) *NoiseKeepAlive {
	size := sampleRate * audio.Channels * int(NoisePeriod/time.Millisecond) / 1000
	return &NoiseKeepAlive{
		rng:   rand.New(rand.NewSource(noiseSeed)),
		noise: make(audio.Batch, size),
	}
}

// Fill refreshes the noise buffer. The returned batch is reused by the next
// call and must not be retained.
func (n *NoiseKeepAlive) Fill() audio.Batch {
	for i := range n.noise {
		n.noise[i] = (n.rng.Float32()*2 - 1) * NoiseAmplitude
	}
	return n.noise
}

// enabled reports whether k injects anything at all
func enabled(k KeepAlive) bool {
	if k == nil {
		return false
	}
	_, none := k.(noKeepAlive)
	return !none
}
