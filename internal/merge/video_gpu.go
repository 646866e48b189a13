package merge

import (
	"context"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/logger"
	"github.com/bluenviron/mediamerge/internal/surface"
)

const renderTimeout = 2500 * time.Millisecond

// VideoGPUPipeline merges the video tracks of a sequence of files,
// rendering every decoded image onto the encoder surface.
// It allows to change the output size.
type VideoGPUPipeline struct {
	Params
	FrameRate      int
	IFrameInterval int

	// output size. Zero keeps the size of the first file.
	Width  int
	Height int
}

// Log implements logger.Writer.
func (p *VideoGPUPipeline) Log(level logger.Level, format string, args ...interface{}) {
	p.Parent.Log(level, "[video-gpu] "+format, args...)
}

// Run runs the pipeline.
func (p *VideoGPUPipeline) Run(ctx context.Context) error {
	start := time.Now()
	p.Log(logger.Info, "merging %d files into %s", len(p.Inputs), p.Output)
	p.Progress.setStage("video", len(p.Inputs))

	feed, err := p.newFeeder(prefixVideo, true, p)
	if err != nil {
		return err
	}
	defer feed.close()

	format := feed.format
	format.MaxInputSize = p.maxInputSize()

	width, height := p.Width, p.Height
	if width == 0 || height == 0 {
		width, height = format.Width, format.Height
	}

	p.Log(logger.Info, "resizing from %dx%d to %dx%d", format.Width, format.Height, width, height)

	enc, err := p.Codecs.CreateEncoder(format.MimeType)
	if err != nil {
		return err
	}
	defer releaseAll(p, codecReleaser("encoder", enc))

	err = enc.Configure(encoderFormat(format, width, height, p.BitRate, p.FrameRate, p.IFrameInterval))
	if err != nil {
		return err
	}

	input, err := enc.CreateInputSurface()
	if err != nil {
		return err
	}
	defer releaseAll(p, surfaceReleaser(input))

	renderer := surface.NewRenderer(input)
	defer releaseAll(p, rendererReleaser(renderer))

	dec, err := p.Codecs.CreateDecoder(format.MimeType)
	if err != nil {
		return err
	}
	defer releaseAll(p, codecReleaser("decoder", dec))

	err = dec.Configure(format, renderer.Input())
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

	err = p.loop(ctx, feed, dec, enc, renderer, &outputTrack{muxer: m, progress: p.Progress})
	if err != nil {
		return err
	}

	p.Log(logger.Info, "done in %dms", time.Since(start).Milliseconds())
	return nil
}

// loop alternates between filling the decoder, draining the encoder
// and, when the encoder has no output ready, rendering one decoded image.
func (p *VideoGPUPipeline) loop(
	ctx context.Context,
	feed *feeder,
	dec codec.Decoder,
	enc codec.Encoder,
	renderer *surface.Renderer,
	out *outputTrack,
) error {
	var decInfo codec.BufferInfo
	var encInfo codec.BufferInfo
	decoderDone := false
	outputDone := false

	for !outputDone {
		if isTerminated(ctx.Done()) {
			return ErrTerminated
		}

		err := feed.feed(dec, p.timeout())
		if err != nil {
			return err
		}

		decoderOutputAvailable := !decoderDone
		encoderOutputAvailable := true

		for decoderOutputAvailable || encoderOutputAvailable {
			if isTerminated(ctx.Done()) {
				return ErrTerminated
			}

			id, err := enc.DequeueOutputBuffer(&encInfo, p.timeout())
			if err != nil {
				return err
			}

			switch {
			case id == codec.InfoTryAgainLater:
				encoderOutputAvailable = false

			case id == codec.InfoOutputFormatChanged:
				err = out.start(enc.OutputFormat())
				if err != nil {
					return err
				}

			case id >= 0:
				// configuration is known once the encoder emits it.
				if (encInfo.Flags&codec.FlagCodecConfig) != 0 && !out.started {
					err = out.start(enc.OutputFormat())
				} else {
					err = out.write(enc, id, &encInfo)
				}
				if err != nil {
					enc.ReleaseOutputBuffer(id, false) //nolint:errcheck
					return err
				}

				err = enc.ReleaseOutputBuffer(id, false)
				if err != nil {
					return err
				}

				if (encInfo.Flags & codec.FlagEndOfStream) != 0 {
					outputDone = true
					encoderOutputAvailable = false
					decoderOutputAvailable = false
				}
			}

			// drain the encoder before pushing the decoder further.
			if id != codec.InfoTryAgainLater || decoderDone || outputDone {
				continue
			}

			id, err = dec.DequeueOutputBuffer(&decInfo, p.timeout())
			if err != nil {
				return err
			}

			if id == codec.InfoTryAgainLater {
				decoderOutputAvailable = false
				continue
			}
			if id < 0 {
				continue
			}

			err = p.render(dec, id, &decInfo, renderer)
			if err != nil {
				return err
			}

			if (decInfo.Flags & codec.FlagEndOfStream) != 0 {
				err = enc.SignalEndOfInputStream()
				if err != nil {
					return err
				}
				decoderDone = true
				decoderOutputAvailable = false
			}
		}
	}

	return nil
}

func (p *VideoGPUPipeline) render(dec codec.Decoder, id int, info *codec.BufferInfo, renderer *surface.Renderer) error {
	doRender := info.Size != 0

	err := dec.ReleaseOutputBuffer(id, doRender)
	if err != nil {
		return err
	}

	if !doRender {
		return nil
	}

	err = renderer.AwaitNewImage(renderTimeout)
	if err != nil {
		return err
	}

	err = renderer.DrawImage()
	if err != nil {
		return err
	}

	renderer.SetPresentationTime(info.PresentationTimeUs * 1000)

	return renderer.SwapBuffers()
}
