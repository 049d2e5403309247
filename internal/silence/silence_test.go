package silence

import "testing"

func TestZeroReader(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	n, err := zeroReader{}.Read(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected %d bytes, got %d", len(buf), n)
	}
	for i, b := range buf {
		if b != 0 {
			t.Errorf("byte %d: expected 0, got %d", i, b)
		}
	}
}

func TestCloseWithoutStart(t *testing.T) {
	inj := NewInjector(48000)
	if err := inj.Close(); err != nil {
		t.Errorf("Close before Start: %v", err)
	}
}
