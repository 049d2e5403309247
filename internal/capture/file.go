// ABOUTME: Looping file sources for MP3 and FLAC
// ABOUTME: Decodes with go-mp3 and mewkiz/flac and paces output in real time
package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/lucalewin/sonar/pkg/audio"
	"github.com/lucalewin/sonar/pkg/audio/resample"
)

// frameReader decodes up to len(dst)/2 stereo frames into dst
type frameReader interface {
	readFrames(dst audio.Batch) (int, error)
	rewind() error
}

// fileSource loops a decoded file at real-time pace
type fileSource struct {
	name       string
	file       *os.File
	reader     frameReader
	sampleRate int // of the decoded file
	resampler  *resample.Resampler
	pacer      *pacer
}

// resampleTo converts the output to rate unless it already matches
func (s *fileSource) resampleTo(rate int) {
	if rate > 0 && rate != s.sampleRate {
		log.Printf("%s: resampling %dHz to %dHz", s.name, s.sampleRate, rate)
		s.resampler = resample.New(s.sampleRate, rate)
	}
}

func (s *fileSource) Start(sink Sink) error {
	buf := make(audio.Batch, framesPerChunk(s.sampleRate)*audio.Channels)

	s.pacer.start(s.Name(), func() bool {
		n, err := s.reader.readFrames(buf)
		if err == io.EOF {
			// loop the audio
			if err := s.reader.rewind(); err != nil {
				log.Printf("%s: rewind failed: %v", s.name, err)
				return false
			}
		} else if err != nil {
			log.Printf("%s: decode error: %v", s.name, err)
			return false
		}
		if n > 0 {
			sink(s.convert(buf[:n*audio.Channels]))
		}
		return true
	})
	return nil
}

// convert returns a batch at the output rate that does not alias buf
func (s *fileSource) convert(buf audio.Batch) audio.Batch {
	if s.resampler == nil {
		return buf.Clone()
	}
	return s.resampler.Resample(nil, buf)
}

func (s *fileSource) SampleRate() int {
	if s.resampler != nil {
		return s.resampler.OutputRate()
	}
	return s.sampleRate
}

func (s *fileSource) Name() string { return "file " + s.name }

func (s *fileSource) Close() error {
	s.pacer.stop()
	return s.file.Close()
}

// mp3Reader wraps go-mp3, which always decodes to 16-bit stereo
type mp3Reader struct {
	file    *os.File
	decoder *mp3.Decoder
	raw     []byte
}

func newMP3Source(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	name := filepath.Base(path)
	log.Printf("Loaded MP3: %s (sample rate: %d Hz)", name, decoder.SampleRate())

	return &fileSource{
		name:       name,
		file:       f,
		reader:     &mp3Reader{file: f, decoder: decoder},
		sampleRate: decoder.SampleRate(),
		pacer:      newPacer(),
	}, nil
}

func (r *mp3Reader) readFrames(dst audio.Batch) (int, error) {
	need := len(dst) * 2 // int16 = 2 bytes
	if cap(r.raw) < need {
		r.raw = make([]byte, need)
	}
	raw := r.raw[:need]

	n, err := io.ReadFull(r.decoder, raw)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return samples / audio.Channels, err
}

func (r *mp3Reader) rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	decoder, err := mp3.NewDecoder(r.file)
	if err != nil {
		return fmt.Errorf("failed to create new decoder: %w", err)
	}
	r.decoder = decoder
	return nil
}

// flacReader decodes FLAC frames, buffering the part of a frame that did
// not fit the previous read
type flacReader struct {
	file     *os.File
	stream   *flac.Stream
	scale    float32
	channels int
	pending  audio.Batch
}

func newFLACSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	name := filepath.Base(path)
	log.Printf("Loaded FLAC: %s (sample rate: %d Hz, channels: %d, bit depth: %d)",
		name, info.SampleRate, info.NChannels, info.BitsPerSample)

	if info.NChannels < 1 || info.NChannels > 2 {
		f.Close()
		return nil, fmt.Errorf("unsupported FLAC channel count: %d", info.NChannels)
	}

	return &fileSource{
		name: name,
		file: f,
		reader: &flacReader{
			file:     f,
			stream:   stream,
			scale:    float32(int64(1) << (info.BitsPerSample - 1)),
			channels: int(info.NChannels),
		},
		sampleRate: int(info.SampleRate),
		pacer:      newPacer(),
	}, nil
}

func (r *flacReader) readFrames(dst audio.Batch) (int, error) {
	filled := copy(dst, r.pending)
	r.pending = r.pending[filled:]

	for filled < len(dst) {
		frame, err := r.stream.ParseNext()
		if err != nil {
			return filled / audio.Channels, err
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			left := float32(frame.Subframes[0].Samples[i]) / r.scale
			right := left
			if r.channels == 2 {
				right = float32(frame.Subframes[1].Samples[i]) / r.scale
			}
			if filled < len(dst) {
				dst[filled] = left
				dst[filled+1] = right
				filled += audio.Channels
			} else {
				r.pending = append(r.pending, left, right)
			}
		}
	}
	return filled / audio.Channels, nil
}

func (r *flacReader) rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(r.file)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	r.stream = stream
	r.pending = r.pending[:0]
	return nil
}
