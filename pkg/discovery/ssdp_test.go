package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lucalewin/sonar/pkg/events"
	"github.com/lucalewin/sonar/pkg/upnp"
)

const ohAndAVDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:linn-co-uk:device:Source:1</deviceType>
    <friendlyName>Office</friendlyName>
    <modelName>Majik DS</modelName>
    <serviceList>
      <service>
        <serviceType>urn:av-openhome-org:service:Playlist:1</serviceType>
        <serviceId>urn:av-openhome-org:serviceId:Playlist</serviceId>
        <controlURL>/Playlist/control</controlURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
        <controlURL>/AVTransport/control</controlURL>
      </service>
    </serviceList>
  </device>
</root>`

const avDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Bedroom</friendlyName>
    <modelName>Speaker</modelName>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
        <controlURL>AVTransport/ctrl</controlURL>
      </service>
    </serviceList>
  </device>
</root>`

// fakeDevice answers M-SEARCH requests for its targets
type fakeDevice struct {
	location string
	targets  []string
	status   string
}

// startResponder plays the SSDP multicast group on loopback
func startResponder(t *testing.T, devices ...fakeDevice) string {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("responder listen failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			var st string
			for _, line := range strings.Split(string(buf[:n]), "\r\n") {
				if v, ok := strings.CutPrefix(line, "ST: "); ok {
					st = v
				}
			}
			for _, dev := range devices {
				for _, target := range dev.targets {
					if target != st {
						continue
					}
					status := dev.status
					if status == "" {
						status = "200 OK"
					}
					resp := "HTTP/1.1 " + status + "\r\n" +
						"CACHE-CONTROL: max-age=1800\r\n" +
						"location: " + dev.location + "\r\n" +
						"st: " + st + "\r\n" +
						"USN: uuid:test::" + st + "\r\n\r\n"
					// devices commonly repeat themselves
					conn.WriteToUDP([]byte(resp), from)
					conn.WriteToUDP([]byte(resp), from)
				}
			}
		}
	}()

	return conn.LocalAddr().String()
}

// serveDescription serves xml and counts the requests
func serveDescription(t *testing.T, xml string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != "sonar-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(xml))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestDiscoverer(group string, sink events.Sink) *Discoverer {
	return New(Config{
		LocalAddr:     "127.0.0.1",
		MulticastAddr: group,
		Window:        300 * time.Millisecond,
		UserAgent:     "sonar-test",
		Events:        sink,
	})
}

func TestDiscoverMergesBothProtocols(t *testing.T) {
	desc, hits := serveDescription(t, ohAndAVDescription)
	location := desc.URL + "/description.xml"

	group := startResponder(t,
		fakeDevice{location: location, targets: []string{OpenHomeTarget, AVTransportTarget}},
		fakeDevice{location: desc.URL + "/ignored.xml", targets: []string{AVTransportTarget}, status: "404 Not Found"},
	)

	bus := events.NewBus(10)
	renderers, err := newTestDiscoverer(group, bus).Discover(context.Background(), nil)
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	if len(renderers) != 1 {
		t.Fatalf("got %d renderers, want 1: %+v", len(renderers), renderers)
	}
	r := renderers[0]
	if !r.Protocols.Has(upnp.OpenHome | upnp.AVTransport) {
		t.Errorf("Protocols = %s, want both", r.Protocols)
	}
	if r.Name != "Office" || r.RemoteAddr != "127.0.0.1" || r.Location != location {
		t.Errorf("unexpected renderer: %+v", r)
	}
	if r.DevURL != desc.URL+"/" {
		t.Errorf("DevURL = %q, want %q", r.DevURL, desc.URL+"/")
	}
	if hits.Load() != 1 {
		t.Errorf("description fetched %d times, want 1", hits.Load())
	}

	recent := bus.Recent()
	if len(recent) != 1 || recent[0].Kind != events.RendererFound || recent[0].Subject != "Office" {
		t.Errorf("events = %v, want one renderer_found", recent)
	}
}

func TestDiscoverSkipsKnownRenderers(t *testing.T) {
	desc, hits := serveDescription(t, avDescription)
	location := desc.URL + "/dev.xml"
	group := startResponder(t, fakeDevice{location: location, targets: []string{AVTransportTarget}})

	d := newTestDiscoverer(group, nil)
	first, err := d.Discover(context.Background(), nil)
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("got %d renderers, want 1", len(first))
	}
	if first[0].Protocols != upnp.AVTransport || first[0].AVControlURL != "/AVTransport/ctrl" {
		t.Errorf("unexpected renderer: %+v", first[0])
	}

	second, err := d.Discover(context.Background(), first)
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("known renderer rediscovered: %+v", second)
	}
	if hits.Load() != 1 {
		t.Errorf("description fetched %d times, want 1", hits.Load())
	}
}

func TestDiscoverSkipsUnreachableDevice(t *testing.T) {
	desc, _ := serveDescription(t, avDescription)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL + "/gone.xml"
	dead.Close()

	group := startResponder(t,
		fakeDevice{location: deadURL, targets: []string{OpenHomeTarget}},
		fakeDevice{location: desc.URL + "/dev.xml", targets: []string{AVTransportTarget}},
	)

	renderers, err := newTestDiscoverer(group, nil).Discover(context.Background(), nil)
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if len(renderers) != 1 || renderers[0].Name != "Bedroom" {
		t.Errorf("renderers = %+v, want only Bedroom", renderers)
	}
}

func TestDiscoverHonoursContext(t *testing.T) {
	group := startResponder(t)

	d := New(Config{LocalAddr: "127.0.0.1", MulticastAddr: group, Window: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := d.Discover(ctx, nil); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Discover() took %v after cancellation", elapsed)
	}
}

func TestDiscoverBadLocalAddr(t *testing.T) {
	d := New(Config{LocalAddr: "not-an-ip"})
	if _, err := d.Discover(context.Background(), nil); err == nil {
		t.Error("expected error for invalid local address")
	}
}

func TestSearchMessage(t *testing.T) {
	want := "M-SEARCH * HTTP/1.1\r\nHost: 239.255.255.250:1900\r\nMan: \"ssdp:discover\"\r\nST: urn:av-openhome-org:service:Product:1\r\nMX: 3\r\n\r\n"
	if got := searchMessage(OpenHomeTarget); got != want {
		t.Errorf("searchMessage() = %q, want %q", got, want)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name         string
		data         string
		wantLocation string
		wantST       string
		wantOK       bool
	}{
		{
			name:         "canonical",
			data:         "HTTP/1.1 200 OK\r\nLOCATION: http://10.0.0.2:1400/xml/device_description.xml\r\nST: " + AVTransportTarget + "\r\n\r\n",
			wantLocation: "http://10.0.0.2:1400/xml/device_description.xml",
			wantST:       AVTransportTarget,
			wantOK:       true,
		},
		{
			name:         "mixed case headers and bare newlines",
			data:         "HTTP/1.1 200 OK\nLocation:http://10.0.0.3/d.xml\nst:  " + OpenHomeTarget + "\n\n",
			wantLocation: "http://10.0.0.3/d.xml",
			wantST:       OpenHomeTarget,
			wantOK:       true,
		},
		{
			name: "not found",
			data: "HTTP/1.1 404 Not Found\r\nLOCATION: http://10.0.0.2/\r\n\r\n",
		},
		{
			name: "notify",
			data: "NOTIFY * HTTP/1.1\r\nLOCATION: http://10.0.0.2/\r\n\r\n",
		},
		{
			name: "empty",
			data: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location, st, ok := parseResponse([]byte(tt.data))
			if ok != tt.wantOK || location != tt.wantLocation || st != tt.wantST {
				t.Errorf("parseResponse() = (%q, %q, %v), want (%q, %q, %v)",
					location, st, ok, tt.wantLocation, tt.wantST, tt.wantOK)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	a := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 1900}
	b := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 1900}

	got := merge([]candidate{
		{location: "http://10.0.0.2/d.xml", from: a, protocols: upnp.AVTransport},
		{location: "http://10.0.0.3/d.xml", from: b, protocols: upnp.AVTransport},
		{location: "http://10.0.0.2/d.xml", from: a, protocols: upnp.OpenHome},
	})

	want := []candidate{
		{location: "http://10.0.0.2/d.xml", from: a, protocols: upnp.OpenHome},
		{location: "http://10.0.0.3/d.xml", from: b, protocols: upnp.AVTransport},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(candidate{})); diff != "" {
		t.Errorf("merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsKnown(t *testing.T) {
	known := []upnp.Renderer{
		{Location: "http://10.0.0.2:49152/desc.xml", DevURL: "http://10.0.0.2:49152/"},
	}

	tests := []struct {
		location string
		want     bool
	}{
		{"http://10.0.0.2:49152/desc.xml", true},
		{"http://10.0.0.2:49152/other.xml", true},
		{"http://10.0.0.21:49152/desc.xml", false},
		{"http://10.0.0.2:49153/desc.xml", false},
	}
	for _, tt := range tests {
		if got := isKnown(tt.location, known); got != tt.want {
			t.Errorf("isKnown(%q) = %v, want %v", tt.location, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	if classify(OpenHomeTarget) != upnp.OpenHome {
		t.Error("Product:1 should classify as OpenHome")
	}
	if classify(AVTransportTarget) != upnp.AVTransport {
		t.Error("RenderingControl:1 should classify as AVTransport")
	}
	if classify("upnp:rootdevice") != 0 {
		t.Error("unrelated search target should not classify")
	}
}
