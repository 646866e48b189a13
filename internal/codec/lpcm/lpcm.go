// Package lpcm contains a software engine for 16-bit linear PCM.
package lpcm

import (
	"github.com/bluenviron/mediamerge/internal/codec"
)

const (
	bytesPerSample      = 2
	defaultMaxInputSize = 655360
	encoderFrames       = 1024
	inputCount          = 4
	outputCount         = 4
)

// Engine is the LPCM engine.
type Engine struct{}

// NewDecoder implements codec.Engine.
func (Engine) NewDecoder(mimeType string) (codec.Decoder, error) {
	if mimeType != codec.MimeAudioRaw {
		return nil, codec.ErrUnsupported
	}
	return &Decoder{}, nil
}

// NewEncoder implements codec.Engine.
func (Engine) NewEncoder(mimeType string) (codec.Encoder, error) {
	if mimeType != codec.MimeAudioRaw {
		return nil, codec.ErrUnsupported
	}
	return &Encoder{}, nil
}

// swap16 converts 16-bit samples between big and little endian, in place.
func swap16(buf []byte) {
	for i := 0; (i + 1) < len(buf); i += 2 {
		buf[i], buf[i+1] = buf[i+1], buf[i]
	}
}
