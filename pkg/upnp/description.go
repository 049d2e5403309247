// ABOUTME: Device description parsing
// ABOUTME: Builds a Renderer from a UPnP description document with a token reader
package upnp

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// ParseDescription reads the description served at location. Services are
// classified by serviceId: "Playlist" selects OpenHome and "AVTransport"
// selects AVTransport. Device fields come from the first element of each
// name, which is the root device.
//
// When URLBase is missing or points at a different host:port than location,
// DevURL is rebuilt from location's host.
func ParseDescription(r io.Reader, location string) (*Renderer, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	rend := &Renderer{
		ID:       RendererID(location),
		Location: location,
	}

	var (
		text     strings.Builder
		svc      AvService
		urlBase  string
		elements int
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrXMLParse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			elements++
			text.Reset()
			if t.Name.Local == "service" {
				svc = AvService{}
			}

		case xml.CharData:
			text.Write(t)

		case xml.EndElement:
			value := strings.TrimSpace(text.String())
			text.Reset()

			switch t.Name.Local {
			case "serviceType":
				svc.ServiceType = value
			case "serviceId":
				svc.ServiceID = value
			case "controlURL":
				svc.ControlURL = NormalizeControlURL(value)
			case "service":
				rend.addService(svc)
			case "friendlyName":
				setOnce(&rend.Name, value)
			case "modelName":
				setOnce(&rend.Model, value)
			case "deviceType":
				setOnce(&rend.DeviceType, value)
			case "URLBase":
				setOnce(&urlBase, value)
			}
		}
	}

	if elements == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrXMLParse)
	}

	if urlBase != "" && SameHostPort(urlBase, location) {
		rend.DevURL = urlBase
	} else {
		base, err := BaseURL(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrXMLParse, err)
		}
		rend.DevURL = base
	}

	return rend, nil
}

func (r *Renderer) addService(svc AvService) {
	switch {
	case strings.Contains(svc.ServiceID, "Playlist"):
		if r.OHControlURL == "" {
			r.OHControlURL = svc.ControlURL
		}
		r.Protocols = r.Protocols.With(OpenHome)
	case strings.Contains(svc.ServiceID, "AVTransport"):
		if r.AVControlURL == "" {
			r.AVControlURL = svc.ControlURL
		}
		r.Protocols = r.Protocols.With(AVTransport)
	}
	r.Services = append(r.Services, svc)
}

func setOnce(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}
