// ABOUTME: Streaming FLAC encoder running on its own goroutine
// ABOUTME: Encodes captured batches with mewkiz/flac and forwards the bytes
package encode

import (
	"bytes"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/lucalewin/sonar/pkg/audio"
)

const (
	// DefaultFLACTimeout is how long the encoder waits for a batch before
	// checking its active flag (and injecting keep-alive audio)
	DefaultFLACTimeout = 250 * time.Millisecond

	// FLACBlockSize is the fixed number of frames per FLAC frame. Small
	// blocks keep latency low.
	FLACBlockSize = 1152

	// keep-alive noise only starts after this many quiet timeout periods
	silenceGrace = 4
)

// FLACOptions tunes a FLACStream
type FLACOptions struct {
	// Timeout for receiving a batch (default DefaultFLACTimeout)
	Timeout time.Duration

	// KeepAlive strategy (default NoKeepAlive)
	KeepAlive KeepAlive

	// BlockSize in frames (default FLACBlockSize)
	BlockSize int

	// OutputBuffer is the capacity of the output channel (default 64)
	OutputBuffer int
}

// FLACStream owns one FLAC encoder. Batches are read from the input
// channel, encoded and the resulting bytes (stream header first) are sent on
// Output. The output channel is closed when the encoder goroutine exits.
type FLACStream struct {
	in   <-chan audio.Batch
	out  chan []byte
	done chan struct{}

	info      audio.StreamInfo
	timeout   time.Duration
	keepAlive KeepAlive
	blockSize int
	shift     uint

	active   atomic.Bool
	stopOnce sync.Once

	// owned by the encoder goroutine
	buf      bytes.Buffer
	left     []int32
	right    []int32
	frameNum uint64
}

// NewFLACStream validates info and prepares an encoder for in
func NewFLACStream(in <-chan audio.Batch, info audio.StreamInfo, opts FLACOptions) (*FLACStream, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFLACTimeout
	}
	if opts.KeepAlive == nil {
		opts.KeepAlive = NoKeepAlive
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = FLACBlockSize
	}
	if opts.BlockSize < 16 || opts.BlockSize > 65535 {
		return nil, fmt.Errorf("invalid FLAC block size: %d (range 16-65535)", opts.BlockSize)
	}
	if opts.OutputBuffer <= 0 {
		opts.OutputBuffer = 64
	}

	// the int32 intermediate is shifted down to the configured depth
	shift := uint(16)
	if info.BitsPerSample == 24 {
		shift = 8
	}

	return &FLACStream{
		in:        in,
		out:       make(chan []byte, opts.OutputBuffer),
		done:      make(chan struct{}),
		info:      info,
		timeout:   opts.Timeout,
		keepAlive: opts.KeepAlive,
		blockSize: opts.BlockSize,
		shift:     shift,
		left:      make([]int32, 0, opts.BlockSize*2),
		right:     make([]int32, 0, opts.BlockSize*2),
	}, nil
}

// Start launches the encoder goroutine
func (s *FLACStream) Start() {
	s.active.Store(true)
	go s.run()
}

// Stop asks the encoder goroutine to finish. It exits within one timeout
// period; Output is closed afterwards.
func (s *FLACStream) Stop() {
	s.active.Store(false)
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// Output returns the channel of encoded bytes
func (s *FLACStream) Output() <-chan []byte {
	return s.out
}

func (s *FLACStream) run() {
	defer close(s.out)

	streamInfo := &meta.StreamInfo{
		BlockSizeMin:  uint16(s.blockSize),
		BlockSizeMax:  uint16(s.blockSize),
		SampleRate:    uint32(s.info.SampleRate),
		NChannels:     audio.Channels,
		BitsPerSample: uint8(s.info.BitsPerSample),
	}

	enc, err := flac.NewEncoder(&s.buf, streamInfo)
	if err != nil {
		log.Printf("FLAC encoder init failed: %v", err)
		return
	}
	defer func() {
		if err := enc.Close(); err != nil {
			log.Printf("FLAC encoder close error: %v", err)
		}
	}()

	// stream header (fLaC + STREAMINFO) goes out first
	if !s.flush() {
		return
	}

	keepAlive := enabled(s.keepAlive)
	quiet := 0
	sendingSilence := false

	for s.active.Load() {
		select {
		case batch, ok := <-s.in:
			if !ok {
				s.finish(enc)
				return
			}
			quiet = 0
			sendingSilence = false
			if err := s.encode(enc, batch); err != nil {
				log.Printf("FLAC encoding error: %v", err)
				return
			}

		case <-time.After(s.timeout):
			if !keepAlive || !s.active.Load() {
				continue
			}
			quiet++
			if !sendingSilence && quiet < silenceGrace {
				continue
			}
			sendingSilence = true
			if err := s.encode(enc, s.keepAlive.Fill()); err != nil {
				log.Printf("FLAC encoding error caused by silence: %v", err)
				return
			}

		case <-s.done:
			return
		}

		if !s.flush() {
			return
		}
	}
}

// encode appends a batch to the pending block and writes every full block
func (s *FLACStream) encode(enc *flac.Encoder, batch audio.Batch) error {
	for i := 0; i+1 < len(batch); i += audio.Channels {
		s.left = append(s.left, audio.FloatToInt32(batch[i])>>s.shift)
		s.right = append(s.right, audio.FloatToInt32(batch[i+1])>>s.shift)
	}

	for len(s.left) >= s.blockSize {
		if err := s.writeFrame(enc, s.left[:s.blockSize], s.right[:s.blockSize]); err != nil {
			return err
		}
		n := copy(s.left, s.left[s.blockSize:])
		s.left = s.left[:n]
		n = copy(s.right, s.right[s.blockSize:])
		s.right = s.right[:n]
	}
	return nil
}

// finish writes the trailing partial block once the input is closed
func (s *FLACStream) finish(enc *flac.Encoder) {
	if len(s.left) > 0 {
		if err := s.writeFrame(enc, s.left, s.right); err != nil {
			log.Printf("FLAC encoding error on final block: %v", err)
			return
		}
		s.left = s.left[:0]
		s.right = s.right[:0]
	}
	s.flush()
}

func (s *FLACStream) writeFrame(enc *flac.Encoder, left, right []int32) error {
	f := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: true,
			Num:               s.frameNum,
			BlockSize:         uint16(len(left)),
			SampleRate:        uint32(s.info.SampleRate),
			Channels:          frame.ChannelsLR,
			BitsPerSample:     uint8(s.info.BitsPerSample),
		},
		Subframes: []*frame.Subframe{
			newSubframe(left),
			newSubframe(right),
		},
	}
	if err := enc.WriteFrame(f); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoder, err)
	}
	s.frameNum++
	return nil
}

// newSubframe copies samples into a verbatim subframe, or a constant one
// when every sample is equal (digital silence)
func newSubframe(samples []int32) *frame.Subframe {
	pred := frame.PredConstant
	for _, v := range samples[1:] {
		if v != samples[0] {
			pred = frame.PredVerbatim
			break
		}
	}

	buf := make([]int32, len(samples))
	copy(buf, samples)

	return &frame.Subframe{
		SubHeader: frame.SubHeader{Pred: pred},
		Samples:   buf,
		NSamples:  len(buf),
	}
}

// flush forwards pending encoder output. It returns false once the stream
// has been stopped.
func (s *FLACStream) flush() bool {
	if s.buf.Len() == 0 {
		return true
	}
	data := make([]byte, s.buf.Len())
	copy(data, s.buf.Bytes())
	s.buf.Reset()

	select {
	case s.out <- data:
		return true
	case <-s.done:
		return false
	}
}
