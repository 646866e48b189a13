package videocopy

import (
	"fmt"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/codec/slots"
	"github.com/bluenviron/mediamerge/internal/surface"
)

const renderTimeout = 5 * time.Second

// Decoder passes access units through, rendering them onto the output surface
// when output buffers are released with render=true.
type Decoder struct {
	lifecycle slots.Lifecycle
	format    codec.Format
	output    *surface.Surface
	inputs    *slots.Inputs
	outputs   *slots.Outputs
}

// Configure implements codec.Decoder.
func (d *Decoder) Configure(format codec.Format, output *surface.Surface) error {
	if format.Width <= 0 || format.Height <= 0 {
		return fmt.Errorf("invalid video format: %v", format)
	}

	err := d.lifecycle.Configure()
	if err != nil {
		return err
	}

	maxInputSize := format.MaxInputSize
	if maxInputSize <= 0 {
		maxInputSize = defaultMaxInputSize
	}

	d.format = format
	d.output = output
	d.inputs = slots.NewInputs(inputCount, maxInputSize)
	d.outputs = slots.NewOutputs(outputCount)

	return nil
}

// Start implements codec.Codec.
func (d *Decoder) Start() error {
	return d.lifecycle.Start(d.run)
}

func (d *Decoder) run(terminate <-chan struct{}) error {
	buf := make([]byte, 0, defaultMaxInputSize)

	for {
		in, ok := d.inputs.Next(terminate)
		if !ok {
			return nil
		}

		buf = append(buf[:0], in.Data...)
		d.inputs.Recycle(in.ID)

		eos := (in.Flags & codec.FlagEndOfStream) != 0

		if len(buf) == 0 && !eos {
			continue
		}

		var flags codec.BufferFlag
		if len(buf) != 0 && ((in.Flags&codec.FlagKeyFrame) != 0 || isRandomAccess(d.format.MimeType, buf)) {
			flags |= codec.FlagKeyFrame
		}

		if len(buf) != 0 {
			if !d.outputs.Emit(terminate, buf, in.PresentationTimeUs, flags) {
				return nil
			}
		}

		if eos {
			if !d.outputs.Emit(terminate, nil, in.PresentationTimeUs, codec.FlagEndOfStream) {
				return nil
			}
			<-terminate
			return nil
		}
	}
}

// DequeueInputBuffer implements codec.Codec.
func (d *Decoder) DequeueInputBuffer(timeout time.Duration) (int, error) {
	if err := d.lifecycle.Check(); err != nil {
		return 0, err
	}
	return d.inputs.Dequeue(timeout), nil
}

// InputBuffer implements codec.Codec.
func (d *Decoder) InputBuffer(id int) []byte {
	return d.inputs.Buffer(id)
}

// QueueInputBuffer implements codec.Codec.
func (d *Decoder) QueueInputBuffer(id int, offset int, size int, ptsUs int64, flags codec.BufferFlag) error {
	if err := d.lifecycle.Check(); err != nil {
		return err
	}
	return d.inputs.Queue(id, offset, size, ptsUs, flags)
}

// DequeueOutputBuffer implements codec.Codec.
func (d *Decoder) DequeueOutputBuffer(info *codec.BufferInfo, timeout time.Duration) (int, error) {
	if err := d.lifecycle.Check(); err != nil {
		return 0, err
	}
	return d.outputs.Dequeue(info, timeout), nil
}

// OutputBuffer implements codec.Codec.
// Output buffers rendered onto a surface carry no bytes.
func (d *Decoder) OutputBuffer(id int) []byte {
	if d.output != nil {
		return nil
	}
	return d.outputs.Buffer(id)
}

// ReleaseOutputBuffer implements codec.Codec.
func (d *Decoder) ReleaseOutputBuffer(id int, render bool) error {
	if err := d.lifecycle.Check(); err != nil {
		return err
	}

	if render && d.output != nil {
		info := d.outputs.Info(id)

		if info.Size != 0 {
			img := &surface.Image{
				Width:            d.format.Width,
				Height:           d.format.Height,
				Payload:          append([]byte(nil), d.outputs.Buffer(id)...),
				KeyFrame:         (info.Flags & codec.FlagKeyFrame) != 0,
				PresentationTime: time.Duration(info.PresentationTimeUs) * time.Microsecond,
			}

			err := d.output.Post(img, renderTimeout)
			if err != nil {
				d.outputs.Release(id) //nolint:errcheck
				return fmt.Errorf("render: %w", err)
			}
		}
	}

	return d.outputs.Release(id)
}

// OutputFormat implements codec.Codec.
func (d *Decoder) OutputFormat() codec.Format {
	f := d.format
	f.ColorFormat = codec.ColorFormatSurface
	return f
}

// Stop implements codec.Codec.
func (d *Decoder) Stop() error {
	return d.lifecycle.Stop()
}

// Release implements codec.Codec.
func (d *Decoder) Release() error {
	d.lifecycle.Release()
	return nil
}
