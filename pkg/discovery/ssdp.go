// ABOUTME: SSDP renderer discovery
// ABOUTME: M-SEARCH, response collection, merge, de-duplication and description fetch
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/lucalewin/sonar/pkg/events"
	"github.com/lucalewin/sonar/pkg/upnp"
)

const (
	// MulticastAddr is the SSDP multicast group
	MulticastAddr = "239.255.255.250:1900"

	// OpenHomeTarget is the search target for OpenHome renderers
	OpenHomeTarget = "urn:av-openhome-org:service:Product:1"

	// AVTransportTarget is the search target for DLNA renderers
	AVTransportTarget = "urn:schemas-upnp-org:service:RenderingControl:1"

	// DefaultWindow is how long responses are collected (MX is 3s)
	DefaultWindow = 3100 * time.Millisecond

	DefaultFetchTimeout = 5 * time.Second

	searchTTL        = 2
	readBufferSize   = 2048
	maxDescription   = 1 << 20
	fetchParallel    = 4
	defaultUserAgent = "sonar"
)

// ErrDiscoveryIO marks a failure of the SSDP socket
var ErrDiscoveryIO = errors.New("discovery I/O error")

// Config holds discovery configuration
type Config struct {
	// LocalAddr is the IP of the interface to search on. Empty binds all
	// interfaces.
	LocalAddr string

	// MulticastAddr overrides the SSDP group (tests)
	MulticastAddr string

	// Window overrides DefaultWindow
	Window time.Duration

	// HTTPClient fetches device descriptions
	HTTPClient *http.Client

	UserAgent string
	Events    events.Sink
	Debug     bool
}

// Discoverer runs SSDP discovery passes
type Discoverer struct {
	config Config
	client *http.Client
	events events.Sink
}

// New creates a Discoverer
func New(config Config) *Discoverer {
	if config.MulticastAddr == "" {
		config.MulticastAddr = MulticastAddr
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}

	return &Discoverer{
		config: config,
		client: client,
		events: events.OrDiscard(config.Events),
	}
}

// candidate is one device that answered the search
type candidate struct {
	location  string
	from      *net.UDPAddr
	protocols upnp.Protocols
}

// Discover runs one discovery pass and returns renderers not in known
func (d *Discoverer) Discover(ctx context.Context, known []upnp.Renderer) ([]upnp.Renderer, error) {
	if d.config.Debug {
		log.Printf("[DEBUG] SSDP discovery started")
	}

	responses, err := d.search(ctx)
	if err != nil {
		return nil, err
	}

	devices := filterKnown(merge(responses), known)
	if len(devices) == 0 {
		return nil, nil
	}

	found := make([]*upnp.Renderer, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallel)
	for i, c := range devices {
		g.Go(func() error {
			r, err := d.describe(gctx, c)
			if err != nil {
				// one bad device never fails the pass
				log.Printf("SSDP discovery: skipping %s: %v", c.location, err)
				return nil
			}
			found[i] = r
			return nil
		})
	}
	g.Wait()

	var renderers []upnp.Renderer
	for _, r := range found {
		if r == nil {
			continue
		}
		log.Printf("Renderer %s", r)
		if d.config.Debug {
			log.Printf("[DEBUG]   OpenHome control url: %q, AVTransport control url: %q", r.OHControlURL, r.AVControlURL)
			for _, s := range r.Services {
				log.Printf("[DEBUG]   .. %s %s %s", s.ServiceType, s.ServiceID, s.ControlURL)
			}
		}
		d.events.Emit(events.New(events.RendererFound, r.Name, "%s at %s", r.Protocols, r.RemoteAddr))
		renderers = append(renderers, *r)
	}
	return renderers, nil
}

// search sends both M-SEARCH requests and collects 200 responses for the
// discovery window
func (d *Discoverer) search(ctx context.Context) ([]candidate, error) {
	local := &net.UDPAddr{}
	if d.config.LocalAddr != "" {
		local.IP = net.ParseIP(d.config.LocalAddr)
		if local.IP == nil {
			return nil, fmt.Errorf("%w: invalid local address %q", ErrDiscoveryIO, d.config.LocalAddr)
		}
	}

	group, err := net.ResolveUDPAddr("udp4", d.config.MulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryIO, err)
	}

	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", ErrDiscoveryIO, local, err)
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		log.Printf("SSDP discovery: enabling broadcast failed: %v", err)
	}
	if err := ipv4.NewPacketConn(conn).SetMulticastTTL(searchTTL); err != nil {
		log.Printf("SSDP discovery: setting multicast TTL failed: %v", err)
	}

	sent := 0
	for _, st := range []string{OpenHomeTarget, AVTransportTarget} {
		if _, err := conn.WriteToUDP([]byte(searchMessage(st)), group); err != nil {
			log.Printf("SSDP discovery: %v: sending M-SEARCH for %s: %v", ErrDiscoveryIO, st, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return nil, fmt.Errorf("%w: could not send M-SEARCH to %s", ErrDiscoveryIO, group)
	}

	deadline := time.Now().Add(d.config.Window)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryIO, err)
	}
	// cancellation unblocks the pending read
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var (
		responses []candidate
		seen      = make(map[string]int)
		buf       = make([]byte, readBufferSize)
	)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			log.Printf("SSDP discovery: %v: reading response: %v", ErrDiscoveryIO, err)
			continue
		}

		if d.config.Debug {
			log.Printf("[DEBUG] SSDP response from %s:\n%s", from, buf[:n])
		}

		location, st, ok := parseResponse(buf[:n])
		if !ok || location == "" {
			continue
		}
		protocols := classify(st)
		if protocols.Empty() {
			continue
		}

		key := location + "|" + from.String()
		if i, ok := seen[key]; ok {
			responses[i].protocols = responses[i].protocols.With(protocols)
			continue
		}
		seen[key] = len(responses)
		responses = append(responses, candidate{location: location, from: from, protocols: protocols})
	}

	return responses, nil
}

// searchMessage builds an M-SEARCH request for st
func searchMessage(st string) string {
	return "M-SEARCH * HTTP/1.1\r\n" +
		"Host: 239.255.255.250:1900\r\n" +
		"Man: \"ssdp:discover\"\r\n" +
		"ST: " + st + "\r\n" +
		"MX: 3\r\n\r\n"
}

// parseResponse extracts LOCATION and ST from a 200 response
func parseResponse(data []byte) (location, st string, ok bool) {
	lines := strings.Split(string(bytes.TrimSpace(data)), "\n")
	if len(lines) == 0 {
		return "", "", false
	}

	status := strings.Fields(lines[0])
	if len(status) < 2 || !strings.HasPrefix(status[0], "HTTP/") || status[1] != "200" {
		return "", "", false
	}

	for _, line := range lines[1:] {
		name, value, found := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !found {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "LOCATION":
			location = strings.TrimSpace(value)
		case "ST":
			st = strings.TrimSpace(value)
		}
	}
	return location, st, true
}

// classify maps a search target to the protocol it advertises
func classify(st string) upnp.Protocols {
	switch {
	case strings.Contains(st, AVTransportTarget):
		return upnp.AVTransport
	case strings.Contains(st, OpenHomeTarget):
		return upnp.OpenHome
	default:
		return 0
	}
}

// merge keeps every OpenHome device plus AVTransport devices whose location
// was not also seen as OpenHome. Each location is kept once.
func merge(responses []candidate) []candidate {
	var out []candidate
	index := make(map[string]int)

	add := func(c candidate) {
		if i, ok := index[c.location]; ok {
			out[i].protocols = out[i].protocols.With(c.protocols)
			return
		}
		index[c.location] = len(out)
		out = append(out, c)
	}

	for _, c := range responses {
		if c.protocols.Has(upnp.OpenHome) {
			add(c)
		}
	}
	for _, c := range responses {
		if c.protocols.Has(upnp.OpenHome) {
			continue
		}
		if _, ok := index[c.location]; ok {
			log.Printf("SSDP discovery: skipping AV renderer %s as it is also OpenHome", c.location)
			continue
		}
		add(c)
	}
	return out
}

// filterKnown drops candidates that match a known renderer by location or
// by host:port
func filterKnown(devices []candidate, known []upnp.Renderer) []candidate {
	var out []candidate
	for _, c := range devices {
		if isKnown(c.location, known) {
			log.Printf("SSDP discovery: skipping known renderer at %s", c.location)
			continue
		}
		log.Printf("SSDP discovery: new renderer found at %s", c.location)
		out = append(out, c)
	}
	return out
}

func isKnown(location string, known []upnp.Renderer) bool {
	for _, k := range known {
		if k.Location == location || upnp.SameHostPort(k.DevURL, location) {
			return true
		}
	}
	return false
}

// describe fetches and parses the description of one candidate
func (d *Discoverer) describe(ctx context.Context, c candidate) (*upnp.Renderer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", upnp.ErrDescriptionFetch, err)
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", upnp.ErrDescriptionFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", upnp.ErrDescriptionFetch, resp.Status)
	}

	r, err := upnp.ParseDescription(io.LimitReader(resp.Body, maxDescription), c.location)
	if err != nil {
		return nil, err
	}
	r.RemoteAddr = c.from.IP.String()

	if !r.Usable() {
		return nil, fmt.Errorf("no usable control service (protocols %s)", r.Protocols)
	}
	return r, nil
}

var localIPOnce = sync.OnceValues(detectLocalIP)

// LocalIP returns the IPv4 address used to reach the LAN
func LocalIP() (net.IP, error) {
	return localIPOnce()
}

func detectLocalIP() (net.IP, error) {
	// no packet is sent; connect only selects a route
	if conn, err := net.Dial("udp4", MulticastAddr); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() && !addr.IP.IsLoopback() {
			return addr.IP, nil
		}
	}

	ips, err := LocalIPs()
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("no usable network interface")
	}
	return ips[0], nil
}

// LocalIPs returns the IPv4 addresses of all up, non-loopback interfaces
func LocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					ips = append(ips, ip4)
				}
			}
		}
	}

	return ips, nil
}
