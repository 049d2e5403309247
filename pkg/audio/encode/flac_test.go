// ABOUTME: Tests for the streaming FLAC encoder
// ABOUTME: Decodes the produced stream with mewkiz/flac to verify it
package encode

import (
	"bytes"
	"testing"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/lucalewin/sonar/pkg/audio"
)

// collect reads the output channel until it is closed
func collect(t *testing.T, out <-chan []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	timeout := time.After(5 * time.Second)
	for {
		select {
		case b, ok := <-out:
			if !ok {
				return buf.Bytes()
			}
			buf.Write(b)
		case <-timeout:
			t.Fatal("timed out waiting for encoder output to close")
		}
	}
}

func TestNewFLACStream_Validation(t *testing.T) {
	in := make(chan audio.Batch)

	if _, err := NewFLACStream(in, audio.StreamInfo{SampleRate: 48000, BitsPerSample: 32}, FLACOptions{}); err == nil {
		t.Error("expected error for 32-bit depth")
	}
	if _, err := NewFLACStream(in, audio.StreamInfo{SampleRate: 48000, BitsPerSample: 16}, FLACOptions{BlockSize: 8}); err == nil {
		t.Error("expected error for tiny block size")
	}

	fs, err := NewFLACStream(in, audio.StreamInfo{SampleRate: 48000, BitsPerSample: 16}, FLACOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.timeout != DefaultFLACTimeout {
		t.Errorf("timeout = %v, want %v", fs.timeout, DefaultFLACTimeout)
	}
	if fs.blockSize != FLACBlockSize {
		t.Errorf("block size = %d, want %d", fs.blockSize, FLACBlockSize)
	}
	if fs.shift != 16 {
		t.Errorf("shift = %d, want 16", fs.shift)
	}
}

func TestFLACStream_RoundTrip24Bit(t *testing.T) {
	in := make(chan audio.Batch, 4)
	info := audio.StreamInfo{SampleRate: 44100, BitsPerSample: 24, Format: audio.Flac}

	fs, err := NewFLACStream(in, info, FLACOptions{BlockSize: 64})
	if err != nil {
		t.Fatalf("NewFLACStream() failed: %v", err)
	}
	fs.Start()

	const frames = 100
	batch := make(audio.Batch, frames*2)
	for i := 0; i < frames; i++ {
		batch[i*2] = float32(i) / 200
		batch[i*2+1] = -float32(i) / 200
	}
	in <- batch
	close(in)

	data := collect(t, fs.Output())
	if !bytes.HasPrefix(data, []byte("fLaC")) {
		t.Fatalf("stream does not start with fLaC: %q", data[:min(len(data), 8)])
	}

	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("flac.New() failed: %v", err)
	}
	if stream.Info.SampleRate != 44100 {
		t.Errorf("sample rate = %d, want 44100", stream.Info.SampleRate)
	}
	if stream.Info.BitsPerSample != 24 {
		t.Errorf("bits per sample = %d, want 24", stream.Info.BitsPerSample)
	}
	if stream.Info.NChannels != 2 {
		t.Errorf("channels = %d, want 2", stream.Info.NChannels)
	}

	var left, right []int32
	for _, wantSize := range []int{64, 36} {
		f, err := stream.ParseNext()
		if err != nil {
			t.Fatalf("ParseNext() failed: %v", err)
		}
		if int(f.BlockSize) != wantSize {
			t.Errorf("block size = %d, want %d", f.BlockSize, wantSize)
		}
		left = append(left, f.Subframes[0].Samples...)
		right = append(right, f.Subframes[1].Samples...)
	}

	for i := 0; i < frames; i++ {
		if want := audio.FloatToInt32(batch[i*2]) >> 8; left[i] != want {
			t.Fatalf("left[%d] = %d, want %d", i, left[i], want)
		}
		if want := audio.FloatToInt32(batch[i*2+1]) >> 8; right[i] != want {
			t.Fatalf("right[%d] = %d, want %d", i, right[i], want)
		}
	}
}

func TestFLACStream_SilenceUsesConstantSubframes(t *testing.T) {
	in := make(chan audio.Batch, 1)
	info := audio.StreamInfo{SampleRate: 48000, BitsPerSample: 16, Format: audio.Flac}

	fs, err := NewFLACStream(in, info, FLACOptions{BlockSize: 32})
	if err != nil {
		t.Fatalf("NewFLACStream() failed: %v", err)
	}
	fs.Start()

	in <- make(audio.Batch, 32*2)
	close(in)

	stream, err := flac.New(bytes.NewReader(collect(t, fs.Output())))
	if err != nil {
		t.Fatalf("flac.New() failed: %v", err)
	}
	f, err := stream.ParseNext()
	if err != nil {
		t.Fatalf("ParseNext() failed: %v", err)
	}
	for ch, sub := range f.Subframes {
		if sub.Pred != frame.PredConstant {
			t.Errorf("channel %d: prediction = %v, want constant", ch, sub.Pred)
		}
		for i, s := range sub.Samples {
			if s != 0 {
				t.Fatalf("channel %d sample %d = %d, want 0", ch, i, s)
			}
		}
	}
}

func TestFLACStream_KeepAliveInjectsNoise(t *testing.T) {
	in := make(chan audio.Batch)
	info := audio.StreamInfo{SampleRate: 8000, BitsPerSample: 16, Format: audio.Flac}

	fs, err := NewFLACStream(in, info, FLACOptions{
		Timeout:   5 * time.Millisecond,
		KeepAlive: NewNoiseKeepAlive(info.SampleRate),
		BlockSize: 256,
	})
	if err != nil {
		t.Fatalf("NewFLACStream() failed: %v", err)
	}
	fs.Start()
	defer fs.Stop()

	select {
	case hdr := <-fs.Output():
		if !bytes.HasPrefix(hdr, []byte("fLaC")) {
			t.Fatalf("first output is not the stream header: %q", hdr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stream header")
	}

	select {
	case b := <-fs.Output():
		if len(b) == 0 {
			t.Error("empty keep-alive frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive frames while idle")
	}
}

func TestFLACStream_NoKeepAliveStaysQuietAndStops(t *testing.T) {
	in := make(chan audio.Batch)
	info := audio.StreamInfo{SampleRate: 8000, BitsPerSample: 16, Format: audio.Flac}

	fs, err := NewFLACStream(in, info, FLACOptions{Timeout: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewFLACStream() failed: %v", err)
	}
	fs.Start()

	<-fs.Output() // header

	select {
	case b := <-fs.Output():
		t.Fatalf("unexpected output while idle: %d bytes", len(b))
	case <-time.After(100 * time.Millisecond):
	}

	fs.Stop()
	collect(t, fs.Output())
}
