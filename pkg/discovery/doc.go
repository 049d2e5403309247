// Package discovery finds UPnP and OpenHome media renderers with SSDP.
//
// A discovery pass multicasts two M-SEARCH requests, collects responses for a
// fixed window, drops renderers that are already known and builds a
// upnp.Renderer from each remaining device description:
//
//	d := discovery.New(discovery.Config{LocalAddr: "192.168.1.10"})
//	renderers, err := d.Discover(ctx, known)
//
// Failures for a single device are logged and skipped; Discover only returns
// an error when the search itself could not be sent.
package discovery
