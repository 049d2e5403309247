// Package upnp holds the renderer model built from UPnP device descriptions.
//
// A Renderer is created once per discovered device by ParseDescription and is
// not modified afterwards; re-discovery produces a fresh record. Control URLs
// are normalized to start with "/" and are resolved against the renderer's
// base URL with Renderer.ControlEndpoint.
package upnp
