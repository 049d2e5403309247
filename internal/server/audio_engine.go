// ABOUTME: Audio engine feeding the client registry
// ABOUTME: Runs the capture source and broadcasts every batch to connected renderers
package server

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/lucalewin/sonar/internal/capture"
	"github.com/lucalewin/sonar/pkg/audio"
	"github.com/lucalewin/sonar/pkg/stream"
)

// debugEvery is the number of batches between debug lines
const debugEvery = 500

// AudioEngine connects a capture source to the registry
type AudioEngine struct {
	source   capture.Source
	registry *stream.Registry
	debug    bool

	batches atomic.Uint64
	samples atomic.Uint64

	stopOnce sync.Once // Ensure Stop() is only called once
}

// NewAudioEngine creates a new audio engine
func NewAudioEngine(source capture.Source, registry *stream.Registry, debug bool) *AudioEngine {
	return &AudioEngine{
		source:   source,
		registry: registry,
		debug:    debug,
	}
}

// Start starts the capture source
func (e *AudioEngine) Start() error {
	log.Printf("Audio engine starting: %s at %dHz", e.source.Name(), e.source.SampleRate())
	return e.source.Start(e.deliver)
}

// deliver runs on the capture callback and must not block
func (e *AudioEngine) deliver(batch audio.Batch) {
	e.registry.Broadcast(batch)

	n := e.batches.Add(1)
	e.samples.Add(uint64(len(batch)))

	if e.debug && n%debugEvery == 0 {
		log.Printf("[DEBUG] Audio engine: %d batches, %d samples, %d clients",
			n, e.samples.Load(), e.registry.Len())
	}
}

// Batches returns the number of batches delivered so far
func (e *AudioEngine) Batches() uint64 {
	return e.batches.Load()
}

// Stop stops the capture source
func (e *AudioEngine) Stop() {
	e.stopOnce.Do(func() {
		if err := e.source.Close(); err != nil {
			log.Printf("Audio engine: source close failed: %v", err)
		}
		log.Printf("Audio engine stopped after %d batches", e.batches.Load())
	})
}
