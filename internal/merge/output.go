package merge

import (
	"fmt"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/container"
)

// outputTrack is the single track of a pipeline output.
// The track is added when the encoder reveals its format.
type outputTrack struct {
	muxer    container.Muxer
	progress *Progress

	track   int
	started bool
}

func (o *outputTrack) start(format codec.Format) error {
	if o.started {
		return nil
	}

	track, err := o.muxer.AddTrack(format)
	if err != nil {
		return err
	}

	err = o.muxer.Start()
	if err != nil {
		return err
	}

	o.track = track
	o.started = true
	return nil
}

// write writes an encoder output buffer.
func (o *outputTrack) write(enc codec.Codec, id int, info *codec.BufferInfo) error {
	if info.Size == 0 || (info.Flags&codec.FlagCodecConfig) != 0 {
		return nil
	}

	if !o.started {
		err := o.start(enc.OutputFormat())
		if err != nil {
			return err
		}
	}

	err := o.muxer.WriteSampleData(o.track, enc.OutputBuffer(id), info)
	if err != nil {
		return fmt.Errorf("unable to write sample: %w", err)
	}

	o.progress.addSample()
	return nil
}
