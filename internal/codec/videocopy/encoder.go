package videocopy

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/codec/slots"
	"github.com/bluenviron/mediamerge/internal/surface"
)

const acquireTimeout = 100 * time.Millisecond

// Encoder reads access units from its input surface and emits them as samples.
// The codec configuration must be provided in Format.Config.
type Encoder struct {
	lifecycle slots.Lifecycle
	format    codec.Format
	config    []byte
	input     *surface.Surface
	outputs   *slots.Outputs
}

// Configure implements codec.Encoder.
func (e *Encoder) Configure(format codec.Format) error {
	if format.Width <= 0 || format.Height <= 0 {
		return fmt.Errorf("invalid video format: %v", format)
	}

	config, err := codecConfig(format.Config)
	if err != nil {
		return err
	}

	err = e.lifecycle.Configure()
	if err != nil {
		return err
	}

	e.format = format
	e.config = config
	e.input = nil
	e.outputs = slots.NewOutputs(outputCount)

	return nil
}

// CreateInputSurface implements codec.Encoder.
func (e *Encoder) CreateInputSurface() (*surface.Surface, error) {
	if !e.lifecycle.IsConfigured() {
		return nil, fmt.Errorf("create input surface: %w", codec.ErrInvalidState)
	}

	if e.input == nil {
		e.input = surface.New(e.format.Width, e.format.Height, surfaceDepth)
	}
	return e.input, nil
}

// SignalEndOfInputStream implements codec.Encoder.
func (e *Encoder) SignalEndOfInputStream() error {
	if err := e.lifecycle.Check(); err != nil {
		return err
	}
	e.input.Close()
	return nil
}

// Start implements codec.Codec.
func (e *Encoder) Start() error {
	if e.input == nil {
		return fmt.Errorf("input surface has not been created")
	}
	return e.lifecycle.Start(e.run)
}

func (e *Encoder) run(terminate <-chan struct{}) error {
	if !e.outputs.EmitFormatChanged(terminate) {
		return nil
	}

	if !e.outputs.Emit(terminate, e.config, 0, codec.FlagCodecConfig) {
		return nil
	}

	var lastPTS int64

	for {
		img, err := e.input.Acquire(acquireTimeout)
		if err != nil {
			switch {
			case errors.Is(err, surface.ErrTimeout):
				select {
				case <-terminate:
					return nil
				default:
					continue
				}

			case errors.Is(err, surface.ErrClosed):
				if !e.outputs.Emit(terminate, nil, lastPTS, codec.FlagEndOfStream) {
					return nil
				}
				<-terminate
				return nil
			}
			return err
		}

		if !img.IsOpaque() || len(img.Payload) == 0 {
			return fmt.Errorf("raw images cannot be encoded by this engine")
		}

		if img.Width != e.format.Width || img.Height != e.format.Height {
			return fmt.Errorf("image size %dx%d differs from %dx%d",
				img.Width, img.Height, e.format.Width, e.format.Height)
		}

		var flags codec.BufferFlag
		if img.KeyFrame {
			flags = codec.FlagKeyFrame
		}

		lastPTS = int64(img.PresentationTime / time.Microsecond)

		if !e.outputs.Emit(terminate, img.Payload, lastPTS, flags) {
			return nil
		}
	}
}

// DequeueInputBuffer implements codec.Codec.
// Surface-fed encoders have no input buffers.
func (e *Encoder) DequeueInputBuffer(_ time.Duration) (int, error) {
	return 0, fmt.Errorf("input is fed through the input surface: %w", codec.ErrInvalidState)
}

// InputBuffer implements codec.Codec.
func (e *Encoder) InputBuffer(_ int) []byte {
	return nil
}

// QueueInputBuffer implements codec.Codec.
func (e *Encoder) QueueInputBuffer(_ int, _ int, _ int, _ int64, _ codec.BufferFlag) error {
	return fmt.Errorf("input is fed through the input surface: %w", codec.ErrInvalidState)
}

// DequeueOutputBuffer implements codec.Codec.
func (e *Encoder) DequeueOutputBuffer(info *codec.BufferInfo, timeout time.Duration) (int, error) {
	if err := e.lifecycle.Check(); err != nil {
		return 0, err
	}
	return e.outputs.Dequeue(info, timeout), nil
}

// OutputBuffer implements codec.Codec.
func (e *Encoder) OutputBuffer(id int) []byte {
	return e.outputs.Buffer(id)
}

// ReleaseOutputBuffer implements codec.Codec.
func (e *Encoder) ReleaseOutputBuffer(id int, _ bool) error {
	if err := e.lifecycle.Check(); err != nil {
		return err
	}
	return e.outputs.Release(id)
}

// OutputFormat implements codec.Codec.
func (e *Encoder) OutputFormat() codec.Format {
	return e.format
}

// Stop implements codec.Codec.
func (e *Encoder) Stop() error {
	return e.lifecycle.Stop()
}

// Release implements codec.Codec.
func (e *Encoder) Release() error {
	e.lifecycle.Release()
	if e.input != nil {
		e.input.Close()
	}
	return nil
}
