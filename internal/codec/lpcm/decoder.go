package lpcm

import (
	"fmt"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/codec/slots"
	"github.com/bluenviron/mediamerge/internal/surface"
)

// Decoder converts LPCM samples into 16-bit little-endian interleaved samples.
type Decoder struct {
	lifecycle slots.Lifecycle
	format    codec.Format
	bigEndian bool
	inputs    *slots.Inputs
	outputs   *slots.Outputs
}

// Configure implements codec.Decoder.
func (d *Decoder) Configure(format codec.Format, output *surface.Surface) error {
	if output != nil {
		return fmt.Errorf("audio decoders cannot render onto surfaces")
	}

	if format.SampleRate <= 0 || format.ChannelCount <= 0 {
		return fmt.Errorf("invalid audio format: %v", format)
	}

	if c, ok := format.Config.(*mp4.CodecLPCM); ok {
		if c.BitDepth != 16 {
			return fmt.Errorf("unsupported bit depth: %d", c.BitDepth)
		}
		d.bigEndian = !c.LittleEndian
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

		if d.bigEndian {
			swap16(buf)
		}

		eos := (in.Flags & codec.FlagEndOfStream) != 0

		// empty inputs without flags carry no samples.
		if len(buf) == 0 && !eos {
			continue
		}

		if !d.outputs.Emit(terminate, buf, in.PresentationTimeUs, in.Flags&codec.FlagEndOfStream) {
			return nil
		}

		if eos {
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
func (d *Decoder) OutputBuffer(id int) []byte {
	return d.outputs.Buffer(id)
}

// ReleaseOutputBuffer implements codec.Codec.
func (d *Decoder) ReleaseOutputBuffer(id int, _ bool) error {
	if err := d.lifecycle.Check(); err != nil {
		return err
	}
	return d.outputs.Release(id)
}

// OutputFormat implements codec.Codec.
func (d *Decoder) OutputFormat() codec.Format {
	f := d.format
	f.MimeType = codec.MimeAudioRaw
	f.Config = &mp4.CodecLPCM{
		LittleEndian: true,
		BitDepth:     16,
		SampleRate:   f.SampleRate,
		ChannelCount: f.ChannelCount,
	}
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
