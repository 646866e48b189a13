// Package codec contains the interfaces of decoders and encoders
// and the registry used to instantiate them.
package codec

import (
	"errors"
	"time"

	"github.com/bluenviron/mediamerge/internal/surface"
)

// Status codes returned by DequeueInputBuffer and DequeueOutputBuffer
// in place of a buffer ID.
const (
	// no buffer became available before the timeout.
	InfoTryAgainLater = -1

	// the output format changed; OutputFormat returns the new one.
	InfoOutputFormatChanged = -2
)

var (
	// ErrUnsupported is returned when no engine supports a format.
	ErrUnsupported = errors.New("unsupported format")

	// ErrInvalidState is returned when a method is called in the wrong state.
	ErrInvalidState = errors.New("invalid codec state")
)

// BufferFlag is a flag attached to a buffer.
type BufferFlag int

// flags.
const (
	FlagKeyFrame BufferFlag = 1 << iota
	FlagCodecConfig
	FlagEndOfStream
)

// BufferInfo contains metadata of an output buffer.
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              BufferFlag
}

// Codec contains methods shared by decoders and encoders.
//
// Input and output buffers are identified by IDs obtained with
// DequeueInputBuffer and DequeueOutputBuffer, and must be given back
// with QueueInputBuffer and ReleaseOutputBuffer.
type Codec interface {
	Start() error
	DequeueInputBuffer(timeout time.Duration) (int, error)
	InputBuffer(id int) []byte
	QueueInputBuffer(id int, offset int, size int, ptsUs int64, flags BufferFlag) error
	DequeueOutputBuffer(info *BufferInfo, timeout time.Duration) (int, error)
	OutputBuffer(id int) []byte
	ReleaseOutputBuffer(id int, render bool) error
	OutputFormat() Format
	Stop() error
	Release() error
}

// Decoder is a decoder.
type Decoder interface {
	Codec

	// Configure configures the decoder.
	// When output is not nil, output buffers released with render=true
	// are drawn onto the surface.
	Configure(format Format, output *surface.Surface) error
}

// Encoder is an encoder.
type Encoder interface {
	Codec

	Configure(format Format) error

	// CreateInputSurface returns a surface that feeds the encoder.
	// It must be called after Configure and before Start.
	CreateInputSurface() (*surface.Surface, error)

	// SignalEndOfInputStream signals that no more images will be drawn
	// onto the input surface.
	SignalEndOfInputStream() error
}

// Engine creates decoders and encoders.
// It returns ErrUnsupported for mime types it cannot handle.
type Engine interface {
	NewDecoder(mimeType string) (Decoder, error)
	NewEncoder(mimeType string) (Encoder, error)
}
