// ABOUTME: SOAP envelope and DIDL-Lite templates
// ABOUTME: Fixed documents and DLNA protocol info strings sent to renderers
package control

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/lucalewin/sonar/pkg/audio"
)

const (
	ohNamespace = "urn:av-openhome-org:service:Playlist:1"
	avNamespace = "urn:schemas-upnp-org:service:AVTransport:1"

	// streamDuration is reported for the endless stream
	streamDuration = "00:00:00"
)

// DLNA protocol info per streaming format
const (
	l16ProtInfo  = "http-get:*:audio/L16;rate={{.sample_rate}};channels=2:DLNA.ORG_PN=LPCM"
	l24ProtInfo  = "http-get:*:audio/L24;rate={{.sample_rate}};channels=2:DLNA.ORG_PN=LPCM"
	wavProtInfo  = "http-get:*:audio/wav:DLNA.ORG_PN=WAV;DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=03700000000000000000000000000000"
	flacProtInfo = "http-get:*:audio/flac:DLNA.ORG_PN=FLAC;DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"
)

const didlTemplate = `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">` +
	`<item id="1" parentID="0" restricted="0">` +
	`<dc:title>sonar</dc:title>` +
	`<res bitsPerSample="{{.bits_per_sample}}" ` +
	`nrAudioChannels="2" ` +
	`sampleFrequency="{{.sample_rate}}" ` +
	`protocolInfo="{{.didl_prot_info}}" ` +
	`duration="{{.duration}}" >{{.server_uri}}</res>` +
	`<upnp:class>object.item.audioItem.musicTrack</upnp:class>` +
	`</item>` +
	`</DIDL-Lite>`

const ohInsertTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
	`<s:Body>` +
	`<u:Insert xmlns:u="urn:av-openhome-org:service:Playlist:1">` +
	`<AfterId>0</AfterId>` +
	`<Uri>{{.server_uri}}</Uri>` +
	`<Metadata>{{.didl_data}}</Metadata>` +
	`</u:Insert>` +
	`</s:Body>` +
	`</s:Envelope>`

const ohPlayTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" ` +
	`xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
	`<s:Body>` +
	`<u:Play xmlns:u="urn:av-openhome-org:service:Playlist:1"/>` +
	`</s:Body>` +
	`</s:Envelope>`

const ohDeleteAllTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" ` +
	`xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
	`<s:Body>` +
	`<u:DeleteAll xmlns:u="urn:av-openhome-org:service:Playlist:1"/>` +
	`</s:Body>` +
	`</s:Envelope>`

const avSetURITemplate = `<?xml version="1.0" encoding="utf-8"?>` +
	`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
	`<s:Body>` +
	`<u:SetAVTransportURI xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">` +
	`<InstanceID>0</InstanceID>` +
	`<CurrentURI>{{.server_uri}}</CurrentURI>` +
	`<CurrentURIMetaData>{{.didl_data}}</CurrentURIMetaData>` +
	`</u:SetAVTransportURI>` +
	`</s:Body>` +
	`</s:Envelope>`

const avPlayTemplate = `<?xml version="1.0" encoding="utf-8"?>` +
	`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
	`<s:Body>` +
	`<u:Play xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">` +
	`<InstanceID>0</InstanceID>` +
	`<Speed>1</Speed>` +
	`</u:Play>` +
	`</s:Body>` +
	`</s:Envelope>`

const avStopTemplate = `<?xml version="1.0" encoding="utf-8"?>` +
	`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
	`<s:Body>` +
	`<u:Stop xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">` +
	`<InstanceID>0</InstanceID>` +
	`</u:Stop>` +
	`</s:Body>` +
	`</s:Envelope>`

var (
	tmplDIDL     = mustParse("didl", didlTemplate)
	tmplOHInsert = mustParse("oh-insert", ohInsertTemplate)
	tmplAVSetURI = mustParse("av-set-uri", avSetURITemplate)

	protInfoTemplates = map[string]*template.Template{
		"l16":  mustParse("l16", l16ProtInfo),
		"l24":  mustParse("l24", l24ProtInfo),
		"wav":  mustParse("wav", wavProtInfo),
		"flac": mustParse("flac", flacProtInfo),
	}
)

// vars holds placeholder values for template rendering
type vars map[string]string

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=error").Parse(text))
}

// render executes t; a placeholder without a value is ErrTemplate
func render(t *template.Template, v vars) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, v); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplate, t.Name(), err)
	}
	return sb.String(), nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// xmlEscape escapes text for embedding inside an XML element or attribute
func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}

// protInfoTemplate picks the DLNA protocol info for the stream format
func protInfoTemplate(info audio.StreamInfo) *template.Template {
	switch {
	case info.Format == audio.Flac:
		return protInfoTemplates["flac"]
	case info.Format == audio.Wav:
		return protInfoTemplates["wav"]
	case info.BitsPerSample == 16:
		return protInfoTemplates["l16"]
	default:
		return protInfoTemplates["l24"]
	}
}

// ProtocolInfo returns the DLNA protocol info string for info
func ProtocolInfo(info audio.StreamInfo) (string, error) {
	return render(protInfoTemplate(info), vars{"sample_rate": fmt.Sprint(info.SampleRate)})
}

// playVars builds the placeholder set for the Insert and SetAVTransportURI
// envelopes. The DIDL-Lite document is escaped once more because it travels
// as text inside a SOAP element.
func playVars(streamURL string, info audio.StreamInfo) (vars, error) {
	v := vars{
		"server_uri":      xmlEscape(streamURL),
		"bits_per_sample": fmt.Sprint(info.BitsPerSample),
		"sample_rate":     fmt.Sprint(info.SampleRate),
		"duration":        streamDuration,
	}

	protInfo, err := ProtocolInfo(info)
	if err != nil {
		return nil, err
	}
	v["didl_prot_info"] = xmlEscape(protInfo)

	didl, err := render(tmplDIDL, v)
	if err != nil {
		return nil, err
	}
	v["didl_data"] = xmlEscape(didl)

	return v, nil
}
