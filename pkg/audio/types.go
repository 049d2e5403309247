// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats, sample batches and sample conversions
package audio

import (
	"fmt"
	"math"
	"strings"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// Channels is fixed: captured audio is always interleaved stereo
	Channels = 2
)

// Batch is one capture callback's worth of interleaved stereo float samples,
// nominally in [-1.0, 1.0]
type Batch []float32

// Clone returns a copy that shares no memory with b
func (b Batch) Clone() Batch {
	c := make(Batch, len(b))
	copy(c, b)
	return c
}

// StreamingFormat selects the wire format served to renderers
type StreamingFormat int

const (
	Wav StreamingFormat = iota
	Flac
	Lpcm
)

func (f StreamingFormat) String() string {
	switch f {
	case Wav:
		return "wav"
	case Flac:
		return "flac"
	case Lpcm:
		return "lpcm"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseStreamingFormat parses "wav", "flac" or "lpcm" (case-insensitive)
func ParseStreamingFormat(s string) (StreamingFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wav":
		return Wav, nil
	case "flac":
		return Flac, nil
	case "lpcm", "pcm":
		return Lpcm, nil
	default:
		return Wav, fmt.Errorf("unknown streaming format: %q (supported: wav, flac, lpcm)", s)
	}
}

// StreamInfo describes the stream served for one session
type StreamInfo struct {
	SampleRate    int
	BitsPerSample int
	Format        StreamingFormat
}

// Validate checks that the stream can be produced
func (i StreamInfo) Validate() error {
	if i.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", i.SampleRate)
	}
	if i.BitsPerSample != 16 && i.BitsPerSample != 24 {
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", i.BitsPerSample)
	}
	return nil
}

// ContentType returns the HTTP content type for the stream
func (i StreamInfo) ContentType() string {
	switch i.Format {
	case Flac:
		return "audio/flac"
	case Lpcm:
		return fmt.Sprintf("audio/L%d;rate=%d;channels=%d", i.BitsPerSample, i.SampleRate, Channels)
	default:
		return "audio/vnd.wave;codec=1"
	}
}

func (i StreamInfo) String() string {
	return fmt.Sprintf("%s %dHz/%dbit/%dch", i.Format, i.SampleRate, i.BitsPerSample, Channels)
}

// FloatToInt16 scales a float sample by 32768 and truncates toward zero.
// Out-of-range input saturates at the int16 limits.
func FloatToInt16(sample float32) int16 {
	v := float64(sample) * 32768.0
	switch {
	case v != v: // NaN
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// FloatToInt32 converts a float sample to the full int32 range.
// Input is clamped to [-1.0, 1.0]; positive values scale by MaxInt32 and
// negative values by |MinInt32|, rounding half away from zero.
func FloatToInt32(sample float32) int32 {
	s := float64(sample)
	if s != s {
		return 0
	}
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	if s >= 0 {
		return int32(int64(s*math.MaxInt32 + 0.5))
	}
	return int32(int64(-s*math.MinInt32 - 0.5))
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
