// ABOUTME: Audio encoder package for encoding captured samples to wire formats
// ABOUTME: Provides the PCM encoder and the streaming FLAC encoder
// Package encode provides the sample encoders that feed the streaming server.
//
// Supports: PCM (16-bit and 24-bit little-endian), FLAC (streaming)
//
// PCM encoding is synchronous and runs on the connection goroutine. FLAC
// encoding runs on its own goroutine that owns the encoder instance, pulls
// batches from a channel and forwards encoded bytes on an output channel.
//
// Example:
//
//	encoder, err := encode.NewPCM(16)
//	data, err := encoder.Encode(batch)
//
//	fs, err := encode.NewFLACStream(in, info, encode.FLACOptions{KeepAlive: encode.NewNoiseKeepAlive(info.SampleRate)})
//	fs.Start()
//	for b := range fs.Output() { ... }
package encode
