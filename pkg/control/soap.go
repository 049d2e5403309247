// ABOUTME: SOAP transport for renderer control
// ABOUTME: Posts envelopes with the exact headers renderers expect
package control

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

var (
	// ErrTemplate marks a template that could not be rendered
	ErrTemplate = errors.New("template error")

	// ErrSOAPTransport marks a request that never got a response
	ErrSOAPTransport = errors.New("soap transport error")

	// ErrSOAPStatus marks a non-2xx SOAP response
	ErrSOAPStatus = errors.New("soap request failed")

	// ErrNoSupportedProtocol means the renderer has neither OpenHome nor
	// AVTransport
	ErrNoSupportedProtocol = errors.New("no supported renderer protocol")
)

const maxResponseBody = 64 << 10

// SOAPError describes a non-2xx SOAP response
type SOAPError struct {
	Action     string
	URL        string
	StatusCode int

	// UPnP fault details, when the renderer sent them
	FaultCode        int
	FaultDescription string
}

func (e *SOAPError) Error() string {
	msg := fmt.Sprintf("%s to %s: HTTP %d", e.Action, e.URL, e.StatusCode)
	if e.FaultCode != 0 {
		msg += fmt.Sprintf(" (UPnP error %d", e.FaultCode)
		if e.FaultDescription != "" {
			msg += " " + e.FaultDescription
		}
		msg += ")"
	}
	return msg
}

func (e *SOAPError) Unwrap() error {
	return ErrSOAPStatus
}

// soapFault is the UPnP error detail of a SOAP fault
type soapFault struct {
	Code        int    `xml:"Body>Fault>detail>UPnPError>errorCode"`
	Description string `xml:"Body>Fault>detail>UPnPError>errorDescription"`
}

// soapRequest posts body to url as namespace#method and returns the
// response body
func (c *Controller) soapRequest(ctx context.Context, url, namespace, method, body string) (string, error) {
	action := namespace + "#" + method

	if c.config.Debug {
		log.Printf("[DEBUG] url: %s, SOAP Action: %s, SOAP xml:\n%s", url, action, body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSOAPTransport, action, err)
	}
	req.Close = true
	req.Header.Set("Connection", "close")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("SOAPAction", `"`+action+`"`)
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSOAPTransport, action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("%w: %s: reading response: %v", ErrSOAPTransport, action, err)
	}

	if c.config.Debug {
		log.Printf("[DEBUG] SOAP response (%d): %s", resp.StatusCode, data)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &SOAPError{Action: action, URL: url, StatusCode: resp.StatusCode}
		var fault soapFault
		if xml.Unmarshal(data, &fault) == nil {
			serr.FaultCode = fault.Code
			serr.FaultDescription = strings.TrimSpace(fault.Description)
		}
		return "", serr
	}

	return string(data), nil
}
