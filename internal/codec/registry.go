package codec

import (
	"errors"
	"fmt"
)

// Registry is a list of engines, tried in order.
type Registry []Engine

// CreateDecoder creates a decoder with the first engine that supports mimeType.
func (r Registry) CreateDecoder(mimeType string) (Decoder, error) {
	for _, e := range r {
		dec, err := e.NewDecoder(mimeType)
		if err == nil {
			return dec, nil
		}
		if !errors.Is(err, ErrUnsupported) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("decoder for %s: %w", mimeType, ErrUnsupported)
}

// CreateEncoder creates an encoder with the first engine that supports mimeType.
func (r Registry) CreateEncoder(mimeType string) (Encoder, error) {
	for _, e := range r {
		enc, err := e.NewEncoder(mimeType)
		if err == nil {
			return enc, nil
		}
		if !errors.Is(err, ErrUnsupported) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("encoder for %s: %w", mimeType, ErrUnsupported)
}
