// ABOUTME: Tests for keep-alive strategies
// ABOUTME: Checks noise amplitude, size and determinism
package encode

import (
	"testing"

	"github.com/lucalewin/sonar/pkg/audio"
)

func TestNoKeepAlive(t *testing.T) {
	if NoKeepAlive.Fill() != nil {
		t.Error("NoKeepAlive should inject nothing")
	}
	if enabled(NoKeepAlive) || enabled(nil) {
		t.Error("NoKeepAlive should not be enabled")
	}
}

func TestNoiseKeepAlive(t *testing.T) {
	n := NewNoiseKeepAlive(48000)
	if !enabled(n) {
		t.Fatal("noise keep-alive should be enabled")
	}

	noise := n.Fill()
	// 250ms of stereo audio at 48kHz
	if want := 48000 * audio.Channels / 4; len(noise) != want {
		t.Fatalf("noise length = %d, want %d", len(noise), want)
	}

	nonZero := false
	for i, s := range noise {
		if s > NoiseAmplitude || s < -NoiseAmplitude {
			t.Fatalf("sample %d = %v exceeds amplitude %v", i, s, NoiseAmplitude)
		}
		if s != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Error("noise buffer is all zeros")
	}
}

func TestNoiseKeepAliveDeterministic(t *testing.T) {
	a := NewNoiseKeepAlive(8000).Fill()
	b := NewNoiseKeepAlive(8000).Fill()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}
