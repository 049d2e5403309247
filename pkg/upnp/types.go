// ABOUTME: Renderer and service types for UPnP media renderers
// ABOUTME: Includes the protocol set used to choose a control dialect
package upnp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrDescriptionFetch marks a failed device description download
	ErrDescriptionFetch = errors.New("description fetch failed")

	// ErrXMLParse marks a malformed device description
	ErrXMLParse = errors.New("description parse failed")
)

// Protocols is a set of control dialects a renderer supports.
// The zero value is the empty set.
type Protocols uint8

const (
	OpenHome Protocols = 1 << iota
	AVTransport
)

// Has reports whether every protocol in q is in p
func (p Protocols) Has(q Protocols) bool {
	return q != 0 && p&q == q
}

// With returns p plus q
func (p Protocols) With(q Protocols) Protocols {
	return p | q
}

// Empty reports whether no protocol is supported
func (p Protocols) Empty() bool {
	return p&(OpenHome|AVTransport) == 0
}

func (p Protocols) String() string {
	var names []string
	if p.Has(OpenHome) {
		names = append(names, "OpenHome")
	}
	if p.Has(AVTransport) {
		names = append(names, "AVTransport")
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "+")
}

// MarshalText renders the set for JSON
func (p Protocols) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// AvService is one <service> entry of a device description
type AvService struct {
	ServiceID   string `json:"service_id"`
	ServiceType string `json:"service_type"`
	ControlURL  string `json:"control_url"`
}

// Renderer is a discovered media renderer
type Renderer struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Model        string      `json:"model"`
	DeviceType   string      `json:"device_type"`
	DevURL       string      `json:"dev_url"`
	Location     string      `json:"location"`
	OHControlURL string      `json:"oh_control_url,omitempty"`
	AVControlURL string      `json:"av_control_url,omitempty"`
	Protocols    Protocols   `json:"protocols"`
	RemoteAddr   string      `json:"remote_addr"`
	Services     []AvService `json:"services"`
}

// RendererID derives a stable ID from the description location
func RendererID(location string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(location)).String()
}

// Usable reports whether the renderer has a control URL matching one of its
// protocols
func (r Renderer) Usable() bool {
	return (r.Protocols.Has(OpenHome) && r.OHControlURL != "") ||
		(r.Protocols.Has(AVTransport) && r.AVControlURL != "")
}

// ControlEndpoint resolves a control URL against the renderer's base URL
func (r Renderer) ControlEndpoint(controlURL string) (string, error) {
	host, port, err := ParseURL(r.DevURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s%s", joinHostPort(host, port), controlURL), nil
}

func (r Renderer) String() string {
	return fmt.Sprintf("%s (%s) at %s [%s]", r.Name, r.Model, r.RemoteAddr, r.Protocols)
}
