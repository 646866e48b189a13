package test

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/codec/slots"
	"github.com/bluenviron/mediamerge/internal/codec/videocopy"
	"github.com/bluenviron/mediamerge/internal/surface"
)

const (
	rawOutputCount    = 4
	rawSurfaceDepth   = 2
	rawPostTimeout    = 5 * time.Second
	rawAcquireTimeout = 100 * time.Millisecond
)

// RawVideoEngine is a H264 engine that exchanges raw I420 images through surfaces.
//
// The decoder turns every access unit into an image whose planes are filled
// with the last byte of the access unit. The encoder turns every image back
// into an access unit that ends with the first byte of the luma plane.
type RawVideoEngine struct {
	// called by the encoder for every image read from its input surface.
	OnImage func(img *surface.Image)
}

// NewDecoder implements codec.Engine.
func (e RawVideoEngine) NewDecoder(mimeType string) (codec.Decoder, error) {
	if mimeType != codec.MimeVideoAVC {
		return nil, codec.ErrUnsupported
	}
	return &rawDecoder{
		Decoder: &videocopy.Decoder{},
		infos:   make(map[int]codec.BufferInfo),
	}, nil
}

// NewEncoder implements codec.Engine.
func (e RawVideoEngine) NewEncoder(mimeType string) (codec.Encoder, error) {
	if mimeType != codec.MimeVideoAVC {
		return nil, codec.ErrUnsupported
	}
	return &rawEncoder{onImage: e.OnImage}, nil
}

// rawImage returns an I420 image with all planes filled with value.
func rawImage(width int, height int, value byte) *surface.Image {
	img := &surface.Image{
		Width:   width,
		Height:  height,
		Strides: [3]int{width, width / 2, width / 2},
	}

	img.Planes[0] = make([]byte, width*height)
	img.Planes[1] = make([]byte, (width/2)*(height/2))
	img.Planes[2] = make([]byte, (width/2)*(height/2))

	for _, plane := range img.Planes {
		for i := range plane {
			plane[i] = value
		}
	}

	return img
}

// rawDecoder reuses the buffer handling of the copy decoder,
// rendering raw images in place of access units.
type rawDecoder struct {
	*videocopy.Decoder
	format codec.Format
	output *surface.Surface
	infos  map[int]codec.BufferInfo
}

func (d *rawDecoder) Configure(format codec.Format, output *surface.Surface) error {
	d.format = format
	d.output = output
	return d.Decoder.Configure(format, nil)
}

func (d *rawDecoder) DequeueOutputBuffer(info *codec.BufferInfo, timeout time.Duration) (int, error) {
	id, err := d.Decoder.DequeueOutputBuffer(info, timeout)
	if err == nil && id >= 0 {
		d.infos[id] = *info
	}
	return id, err
}

func (d *rawDecoder) OutputBuffer(_ int) []byte {
	return nil
}

func (d *rawDecoder) ReleaseOutputBuffer(id int, render bool) error {
	info := d.infos[id]
	delete(d.infos, id)

	if render && d.output != nil && info.Size != 0 {
		au := d.Decoder.OutputBuffer(id)

		img := rawImage(d.format.Width, d.format.Height, au[len(au)-1])
		img.KeyFrame = (info.Flags & codec.FlagKeyFrame) != 0
		// presentation time is assigned by the renderer.

		err := d.output.Post(img, rawPostTimeout)
		if err != nil {
			d.Decoder.ReleaseOutputBuffer(id, false) //nolint:errcheck
			return err
		}
	}

	return d.Decoder.ReleaseOutputBuffer(id, false)
}

type rawEncoder struct {
	lifecycle slots.Lifecycle
	onImage   func(img *surface.Image)
	format    codec.Format
	config    []byte
	input     *surface.Surface
	outputs   *slots.Outputs
}

func (e *rawEncoder) Configure(format codec.Format) error {
	c, ok := format.Config.(*mp4.CodecH264)
	if !ok {
		return fmt.Errorf("missing codec configuration")
	}

	config, err := h264.AnnexB([][]byte{c.SPS, c.PPS}).Marshal()
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
	e.outputs = slots.NewOutputs(rawOutputCount)
	return nil
}

func (e *rawEncoder) CreateInputSurface() (*surface.Surface, error) {
	if !e.lifecycle.IsConfigured() {
		return nil, codec.ErrInvalidState
	}
	if e.input == nil {
		e.input = surface.New(e.format.Width, e.format.Height, rawSurfaceDepth)
	}
	return e.input, nil
}

func (e *rawEncoder) SignalEndOfInputStream() error {
	if err := e.lifecycle.Check(); err != nil {
		return err
	}
	e.input.Close()
	return nil
}

func (e *rawEncoder) Start() error {
	if e.input == nil {
		return fmt.Errorf("input surface has not been created")
	}
	return e.lifecycle.Start(e.run)
}

func (e *rawEncoder) run(terminate <-chan struct{}) error {
	if !e.outputs.EmitFormatChanged(terminate) {
		return nil
	}

	if !e.outputs.Emit(terminate, e.config, 0, codec.FlagCodecConfig) {
		return nil
	}

	var lastPTS int64

	for {
		img, err := e.input.Acquire(rawAcquireTimeout)
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

		if img.IsOpaque() {
			return fmt.Errorf("opaque images cannot be encoded by this engine")
		}

		if e.onImage != nil {
			e.onImage(img)
		}

		au := []byte{0, 0, 0, 3, 0x41, 0x9a, img.Planes[0][0]}
		var flags codec.BufferFlag
		if img.KeyFrame {
			au = []byte{0, 0, 0, 3, 0x65, 0x88, img.Planes[0][0]}
			flags = codec.FlagKeyFrame
		}

		lastPTS = int64(img.PresentationTime / time.Microsecond)

		if !e.outputs.Emit(terminate, au, lastPTS, flags) {
			return nil
		}
	}
}

func (e *rawEncoder) DequeueInputBuffer(_ time.Duration) (int, error) {
	return 0, codec.ErrInvalidState
}

func (e *rawEncoder) InputBuffer(_ int) []byte {
	return nil
}

func (e *rawEncoder) QueueInputBuffer(_ int, _ int, _ int, _ int64, _ codec.BufferFlag) error {
	return codec.ErrInvalidState
}

func (e *rawEncoder) DequeueOutputBuffer(info *codec.BufferInfo, timeout time.Duration) (int, error) {
	if err := e.lifecycle.Check(); err != nil {
		return 0, err
	}
	return e.outputs.Dequeue(info, timeout), nil
}

func (e *rawEncoder) OutputBuffer(id int) []byte {
	return e.outputs.Buffer(id)
}

func (e *rawEncoder) ReleaseOutputBuffer(id int, _ bool) error {
	if err := e.lifecycle.Check(); err != nil {
		return err
	}
	return e.outputs.Release(id)
}

func (e *rawEncoder) OutputFormat() codec.Format {
	return e.format
}

func (e *rawEncoder) Stop() error {
	return e.lifecycle.Stop()
}

func (e *rawEncoder) Release() error {
	e.lifecycle.Release()
	if e.input != nil {
		e.input.Close()
	}
	return nil
}
