// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for all audio encoders
package encode

import "errors"

// ErrEncoder marks failures inside an encoder; the stream using it ends
var ErrEncoder = errors.New("encoder error")

// Encoder encodes float sample batches to wire bytes
type Encoder interface {
	// Encode converts one batch to encoded audio data
	Encode(batch []float32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}
