package merge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/logger"
)

// VideoPipeline merges the video tracks of a sequence of files.
// The decoder renders directly onto the input surface of the encoder,
// while a dedicated goroutine drains the encoder.
type VideoPipeline struct {
	Params
	FrameRate      int
	IFrameInterval int
}

// Log implements logger.Writer.
func (p *VideoPipeline) Log(level logger.Level, format string, args ...interface{}) {
	p.Parent.Log(level, "[video] "+format, args...)
}

// Run runs the pipeline.
func (p *VideoPipeline) Run(ctx context.Context) error {
	start := time.Now()
	p.Log(logger.Info, "merging %d files into %s", len(p.Inputs), p.Output)
	p.Progress.setStage("video", len(p.Inputs))

	feed, err := p.newFeeder(prefixVideo, false, p)
	if err != nil {
		return err
	}
	defer feed.close()

	format := feed.format
	format.MaxInputSize = p.maxInputSize()

	enc, err := p.Codecs.CreateEncoder(format.MimeType)
	if err != nil {
		return err
	}
	defer releaseAll(p, codecReleaser("encoder", enc))

	err = enc.Configure(encoderFormat(format, format.Width, format.Height, p.BitRate, p.FrameRate, p.IFrameInterval))
	if err != nil {
		return err
	}

	input, err := enc.CreateInputSurface()
	if err != nil {
		return err
	}
	defer releaseAll(p, surfaceReleaser(input))

	dec, err := p.Codecs.CreateDecoder(format.MimeType)
	if err != nil {
		return err
	}
	defer releaseAll(p, codecReleaser("decoder", dec))

	err = dec.Configure(format, input)
	if err != nil {
		return err
	}

	m, err := p.CreateMuxer(p.Output)
	if err != nil {
		return err
	}
	defer releaseAll(p, muxerReleaser("muxer", m))

	err = enc.Start()
	if err != nil {
		return err
	}

	err = dec.Start()
	if err != nil {
		return err
	}

	dr := &drainer{
		encoder:   enc,
		out:       &outputTrack{muxer: m, progress: p.Progress},
		timeout:   p.timeout(),
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go dr.run()

	// the drainer must exit before codecs and muxer are released.
	defer dr.close()

	err = p.decode(ctx, feed, dec, dr)
	if err != nil {
		return err
	}

	p.Log(logger.Info, "done in %dms", time.Since(start).Milliseconds())
	return nil
}

func (p *VideoPipeline) decode(ctx context.Context, feed *feeder, dec codec.Decoder, dr *drainer) error {
	var info codec.BufferInfo

	for {
		select {
		case <-ctx.Done():
			return ErrTerminated

		case <-dr.done:
			if dr.err != nil {
				return dr.err
			}
			return fmt.Errorf("encoder terminated before decoder")

		default:
		}

		err := feed.feed(dec, p.timeout())
		if err != nil {
			return err
		}

		id, err := dec.DequeueOutputBuffer(&info, p.timeout())
		if err != nil {
			return err
		}
		if id < 0 {
			continue
		}

		// the image is transferred to the encoder surface when rendered.
		err = dec.ReleaseOutputBuffer(id, info.Size != 0)
		if err != nil {
			return err
		}

		if (info.Flags & codec.FlagEndOfStream) != 0 {
			break
		}
	}

	dr.decodeDone.Store(true)

	err := dr.encoder.SignalEndOfInputStream()
	if err != nil {
		return err
	}

	select {
	case <-dr.done:
		return dr.err

	case <-ctx.Done():
		return ErrTerminated
	}
}

// drainer writes encoder output into the muxer until the encoder
// emits the end of stream.
type drainer struct {
	encoder   codec.Encoder
	out       *outputTrack
	timeout   time.Duration
	terminate chan struct{}

	// set by the decode loop once the decoder has emitted the end of stream.
	decodeDone atomic.Bool

	done chan struct{}
	err  error
}

func (d *drainer) close() {
	select {
	case <-d.terminate:
	default:
		close(d.terminate)
	}
	<-d.done
}

func (d *drainer) run() {
	defer close(d.done)
	d.err = d.runInner()
}

func (d *drainer) runInner() error {
	var info codec.BufferInfo

	for {
		select {
		case <-d.terminate:
			return ErrTerminated
		default:
		}

		id, err := d.encoder.DequeueOutputBuffer(&info, d.timeout)
		if err != nil {
			return err
		}

		switch {
		case id == codec.InfoOutputFormatChanged:
			err = d.out.start(d.encoder.OutputFormat())
			if err != nil {
				return err
			}

		case id >= 0:
			err = d.out.write(d.encoder, id, &info)
			if err != nil {
				d.encoder.ReleaseOutputBuffer(id, false) //nolint:errcheck
				return err
			}

			err = d.encoder.ReleaseOutputBuffer(id, false)
			if err != nil {
				return err
			}

			if (info.Flags & codec.FlagEndOfStream) != 0 {
				if !d.decodeDone.Load() {
					return fmt.Errorf("encoder emitted the end of stream before the decoder")
				}
				return nil
			}
		}
	}
}

// encoderFormat returns the configuration of a video encoder.
func encoderFormat(source codec.Format, width int, height int, bitRate int, frameRate int, iFrameInterval int) codec.Format {
	return codec.Format{
		MimeType:       source.MimeType,
		Width:          width,
		Height:         height,
		FrameRate:      frameRate,
		IFrameInterval: iFrameInterval,
		ColorFormat:    codec.ColorFormatSurface,
		BitRate:        bitRate,
		MaxInputSize:   source.MaxInputSize,
		Config:         source.Config,
	}
}
