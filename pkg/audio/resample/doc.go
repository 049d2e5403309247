// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation on interleaved stereo float batches. State is
// carried between calls, so a stream can be converted chunk by chunk.
//
// Example:
//
//	r := resample.New(44100, 48000)
//	out = r.Resample(out[:0], batch)
package resample
