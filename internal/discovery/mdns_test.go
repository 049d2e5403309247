// ABOUTME: Tests for mDNS advertisement
// ABOUTME: Tests TXT records and peer parsing
package discovery

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	config := Config{
		ServiceName: "Test Sonar",
		Port:        5901,
	}

	mgr := NewManager(config)
	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	mgr.Stop()
}

func TestTXTRecords(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   []string
	}{
		{
			name:   "path only",
			config: Config{Path: "/stream/swyh.wav"},
			want:   []string{"path=/stream/swyh.wav"},
		},
		{
			name:   "all fields",
			config: Config{Path: "/stream/swyh.wav", Format: "flac", Version: "0.3.0"},
			want:   []string{"path=/stream/swyh.wav", "format=flac", "version=0.3.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, txtRecords(tt.config)); diff != "" {
				t.Errorf("txtRecords mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPeerFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "Office._sonar-stream._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       5901,
		InfoFields: []string{"path=/stream/swyh.wav", "format=wav", "junk"},
	}

	peer, ok := peerFromEntry(entry)
	if !ok {
		t.Fatal("expected peer")
	}
	want := Peer{Name: "Office", Host: "192.168.1.20", Port: 5901, Path: "/stream/swyh.wav", Format: "wav"}
	if diff := cmp.Diff(want, peer); diff != "" {
		t.Errorf("peer mismatch (-want +got):\n%s", diff)
	}
	if got := peer.URL(); got != "http://192.168.1.20:5901/stream/swyh.wav" {
		t.Errorf("unexpected URL %q", got)
	}

	if _, ok := peerFromEntry(&mdns.ServiceEntry{Name: "x"}); ok {
		t.Error("expected entry without IPv4 address to be skipped")
	}
}
