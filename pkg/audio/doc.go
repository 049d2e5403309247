// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines StreamInfo, Batch, sample conversions and the WAV header
// Package audio provides the sample types shared by the capture, encoding
// and streaming layers.
//
// Captured audio arrives as a Batch of interleaved stereo float32 samples.
// It is converted to 16-bit integers with FloatToInt16 (PCM16 wire format)
// or to the full int32 range with FloatToInt32, which is then shifted down to
// 24 or 16 bits for the 24-bit PCM and FLAC paths.
//
// Example:
//
//	info := audio.StreamInfo{SampleRate: 48000, BitsPerSample: 16, Format: audio.Wav}
//	hdr := audio.WAVHeader(info.SampleRate, info.BitsPerSample)
//	pcm := audio.FloatToInt16(0.25)
package audio
