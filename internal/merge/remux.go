package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/container"
	"github.com/bluenviron/mediamerge/internal/logger"
)

const remuxBufferSize = 4 * 1024 * 1024

// Remuxer copies the tracks of several files into a single file.
// Samples are copied as they are, without altering timestamps.
type Remuxer struct {
	Inputs      []string
	Output      string
	OpenDemuxer container.OpenDemuxerFunc
	CreateMuxer container.CreateMuxerFunc
	Progress    *Progress
	Parent      logger.Writer
}

// Log implements logger.Writer.
func (r *Remuxer) Log(level logger.Level, format string, args ...interface{}) {
	r.Parent.Log(level, "[remux] "+format, args...)
}

type remuxTrack struct {
	demuxer container.Demuxer
	input   int
	src     int
	dest    int
}

// Run runs the remuxer.
func (r *Remuxer) Run(ctx context.Context) error {
	start := time.Now()
	r.Log(logger.Info, "remuxing %d files into %s", len(r.Inputs), r.Output)
	r.Progress.setStage("remux", len(r.Inputs))

	m, err := r.CreateMuxer(r.Output)
	if err != nil {
		return err
	}
	defer releaseAll(r, muxerReleaser("muxer", m))

	var demuxers []container.Demuxer
	defer func() {
		for _, d := range demuxers {
			if d != nil {
				releaseAll(r, releaser{"demuxer", d.Release})
			}
		}
	}()

	var tracks []remuxTrack

	for i, input := range r.Inputs {
		d, err := r.OpenDemuxer(input)
		if err != nil {
			return err
		}
		demuxers = append(demuxers, d)

		if d.TrackCount() == 0 {
			return fmt.Errorf("%s: %w", input, ErrTrackNotFound)
		}

		for j := 0; j < d.TrackCount(); j++ {
			format, err := d.TrackFormat(j)
			if err != nil {
				return err
			}

			dest, err := m.AddTrack(format)
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}

			r.Log(logger.Debug, "track %d of %s (%v) is track %d", j, input, format, dest)

			tracks = append(tracks, remuxTrack{
				demuxer: d,
				input:   i,
				src:     j,
				dest:    dest,
			})
		}
	}

	err = m.Start()
	if err != nil {
		return err
	}

	buf := make([]byte, remuxBufferSize)

	for i, t := range tracks {
		r.Progress.setFile(t.input)

		err = r.copyTrack(ctx, m, t, buf)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Inputs[t.input], err)
		}

		// release the file once all its tracks have been copied.
		if i == (len(tracks)-1) || tracks[i+1].input != t.input {
			releaseAll(r, releaser{"demuxer", t.demuxer.Release})
			demuxers[t.input] = nil
		}
	}

	err = m.Stop()
	if err != nil {
		return err
	}

	r.Log(logger.Info, "done in %dms", time.Since(start).Milliseconds())
	return nil
}

func (r *Remuxer) copyTrack(ctx context.Context, m container.Muxer, t remuxTrack, buf []byte) error {
	err := t.demuxer.SelectTrack(t.src)
	if err != nil {
		return err
	}

	for {
		if isTerminated(ctx.Done()) {
			return ErrTerminated
		}

		n, err := t.demuxer.ReadSampleData(buf)
		if err != nil {
			return err
		}
		if n < 0 {
			return nil
		}

		info := codec.BufferInfo{
			Size:               n,
			PresentationTimeUs: t.demuxer.SampleTime(),
			Flags:              t.demuxer.SampleFlags(),
		}

		err = m.WriteSampleData(t.dest, buf, &info)
		if err != nil {
			return err
		}

		r.Progress.addSample()
		t.demuxer.Advance()
	}
}
