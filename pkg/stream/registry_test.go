package stream

import (
	"testing"
	"time"

	"github.com/lucalewin/sonar/pkg/audio"
)

func TestRegistryRegisterRemove(t *testing.T) {
	r := NewRegistry(4)

	c := r.Register("10.0.0.5:40000")
	if c.ID == "" {
		t.Error("client ID should be set")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	if !r.Remove(c) {
		t.Error("Remove() = false, want true")
	}
	if r.Remove(c) {
		t.Error("second Remove() = true, want false")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryRemoveKeepsReplacement(t *testing.T) {
	r := NewRegistry(4)

	old := r.Register("10.0.0.5:40000")
	replacement := r.Register("10.0.0.5:40000")

	if r.Remove(old) {
		t.Error("removing a replaced client should be a no-op")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	if got := r.Clients()[0].ID; got != replacement.ID {
		t.Errorf("remaining client = %s, want %s", got, replacement.ID)
	}
}

func TestRegistryBroadcastClones(t *testing.T) {
	r := NewRegistry(4)
	a := r.Register("a:1")
	b := r.Register("b:1")

	batch := audio.Batch{0.1, 0.2}
	r.Broadcast(batch)
	batch[0] = 0.9

	ga := <-a.Batches()
	gb := <-b.Batches()
	if ga[0] != 0.1 || gb[0] != 0.1 {
		t.Errorf("queued batches changed with the source: %v %v", ga, gb)
	}
	ga[1] = 0.5
	if gb[1] != 0.2 {
		t.Error("clients share a batch buffer")
	}
}

func TestRegistryBroadcastDropsOldest(t *testing.T) {
	r := NewRegistry(2)
	c := r.Register("stalled:1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.Broadcast(audio.Batch{float32(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a client that is not reading")
	}

	if c.Dropped() != 8 {
		t.Errorf("Dropped() = %d, want 8", c.Dropped())
	}
	for _, want := range []float32{8, 9} {
		got := <-c.Batches()
		if got[0] != want {
			t.Errorf("queued batch = %v, want %v", got[0], want)
		}
	}
}

func TestRegistryClientsSnapshot(t *testing.T) {
	r := NewRegistry(4)
	r.Register("first:1")
	time.Sleep(time.Millisecond)
	r.Register("second:1")
	r.Broadcast(audio.Batch{0})

	infos := r.Clients()
	if len(infos) != 2 {
		t.Fatalf("len(Clients()) = %d, want 2", len(infos))
	}
	if infos[0].Addr != "first:1" || infos[1].Addr != "second:1" {
		t.Errorf("unexpected order: %s, %s", infos[0].Addr, infos[1].Addr)
	}
	for _, info := range infos {
		if info.Queued != 1 {
			t.Errorf("%s: Queued = %d, want 1", info.Addr, info.Queued)
		}
	}
}
