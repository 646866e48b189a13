package lpcm

import (
	"fmt"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/codec/slots"
	"github.com/bluenviron/mediamerge/internal/surface"
)

// Encoder packs 16-bit little-endian interleaved samples into LPCM samples.
type Encoder struct {
	lifecycle slots.Lifecycle
	format    codec.Format
	inputs    *slots.Inputs
	outputs   *slots.Outputs
}

// Configure implements codec.Encoder.
func (e *Encoder) Configure(format codec.Format) error {
	if format.SampleRate <= 0 || format.ChannelCount <= 0 {
		return fmt.Errorf("invalid audio format: %v", format)
	}

	err := e.lifecycle.Configure()
	if err != nil {
		return err
	}

	e.format = format
	e.inputs = slots.NewInputs(inputCount, encoderFrames*format.ChannelCount*bytesPerSample)
	e.outputs = slots.NewOutputs(outputCount)

	return nil
}

// CreateInputSurface implements codec.Encoder.
func (e *Encoder) CreateInputSurface() (*surface.Surface, error) {
	return nil, fmt.Errorf("audio encoders have no input surface")
}

// SignalEndOfInputStream implements codec.Encoder.
func (e *Encoder) SignalEndOfInputStream() error {
	return fmt.Errorf("audio encoders have no input surface")
}

// Start implements codec.Codec.
func (e *Encoder) Start() error {
	return e.lifecycle.Start(e.run)
}

func (e *Encoder) run(terminate <-chan struct{}) error {
	if !e.outputs.EmitFormatChanged(terminate) {
		return nil
	}

	buf := make([]byte, 0, encoderFrames*e.format.ChannelCount*bytesPerSample)

	for {
		in, ok := e.inputs.Next(terminate)
		if !ok {
			return nil
		}

		buf = append(buf[:0], in.Data...)
		e.inputs.Recycle(in.ID)

		eos := (in.Flags & codec.FlagEndOfStream) != 0

		if len(buf) == 0 && !eos {
			continue
		}

		if eos && len(buf) != 0 {
			if !e.outputs.Emit(terminate, buf, in.PresentationTimeUs, 0) {
				return nil
			}
			buf = buf[:0]
		}

		flags := codec.FlagKeyFrame
		if eos {
			flags = codec.FlagEndOfStream
		}

		if !e.outputs.Emit(terminate, buf, in.PresentationTimeUs, flags) {
			return nil
		}

		if eos {
			<-terminate
			return nil
		}
	}
}

// DequeueInputBuffer implements codec.Codec.
func (e *Encoder) DequeueInputBuffer(timeout time.Duration) (int, error) {
	if err := e.lifecycle.Check(); err != nil {
		return 0, err
	}
	return e.inputs.Dequeue(timeout), nil
}

// InputBuffer implements codec.Codec.
func (e *Encoder) InputBuffer(id int) []byte {
	return e.inputs.Buffer(id)
}

// QueueInputBuffer implements codec.Codec.
func (e *Encoder) QueueInputBuffer(id int, offset int, size int, ptsUs int64, flags codec.BufferFlag) error {
	if err := e.lifecycle.Check(); err != nil {
		return err
	}
	return e.inputs.Queue(id, offset, size, ptsUs, flags)
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
	f := e.format
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
func (e *Encoder) Stop() error {
	return e.lifecycle.Stop()
}

// Release implements codec.Codec.
func (e *Encoder) Release() error {
	e.lifecycle.Release()
	return nil
}
