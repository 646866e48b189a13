package merge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/logger"
)

const audioBytesPerSample = 2

// AudioPipeline merges the audio tracks of a sequence of files.
// Samples are decoded into a staging file of 16-bit interleaved samples,
// that is then encoded into the output.
type AudioPipeline struct {
	Params
	TempDir string
}

// Log implements logger.Writer.
func (p *AudioPipeline) Log(level logger.Level, format string, args ...interface{}) {
	p.Parent.Log(level, "[audio] "+format, args...)
}

// Run runs the pipeline.
func (p *AudioPipeline) Run(ctx context.Context) error {
	start := time.Now()
	p.Log(logger.Info, "merging %d files into %s", len(p.Inputs), p.Output)
	p.Progress.setStage("audio", len(p.Inputs))

	feed, err := p.newFeeder(prefixAudio, false, p)
	if err != nil {
		return err
	}
	defer feed.close()

	tempDir := p.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	stagingPath := filepath.Join(tempDir, "mediamerge-"+uuid.NewString()+".pcm")
	defer releaseAll(p, fileRemover(stagingPath))

	err = p.decode(ctx, feed, stagingPath)
	if err != nil {
		return err
	}

	p.Log(logger.Debug, "decode phase done in %dms", time.Since(start).Milliseconds())

	err = p.encode(ctx, feed.format, stagingPath)
	if err != nil {
		return err
	}

	p.Log(logger.Info, "done in %dms", time.Since(start).Milliseconds())
	return nil
}

func (p *AudioPipeline) decode(ctx context.Context, feed *feeder, stagingPath string) error {
	format := feed.format
	format.MaxInputSize = p.maxInputSize()

	dec, err := p.Codecs.CreateDecoder(format.MimeType)
	if err != nil {
		return err
	}
	defer releaseAll(p, codecReleaser("decoder", dec))

	err = dec.Configure(format, nil)
	if err != nil {
		return err
	}

	f, err := os.Create(stagingPath)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)

	err = dec.Start()
	if err != nil {
		return err
	}

	var info codec.BufferInfo

	for {
		if isTerminated(ctx.Done()) {
			return ErrTerminated
		}

		err = feed.feed(dec, p.timeout())
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

		if info.Size != 0 {
			_, err = bw.Write(dec.OutputBuffer(id)[info.Offset : info.Offset+info.Size])
			if err != nil {
				dec.ReleaseOutputBuffer(id, false) //nolint:errcheck
				return err
			}
		}

		err = dec.ReleaseOutputBuffer(id, false)
		if err != nil {
			return err
		}

		if (info.Flags & codec.FlagEndOfStream) != 0 {
			break
		}
	}

	err = bw.Flush()
	if err != nil {
		return err
	}

	return f.Close()
}

// presentationTimeUs returns the time elapsed after byteCount bytes of samples.
func presentationTimeUs(byteCount int64, channelCount int, sampleRate int) int64 {
	frames := byteCount / int64(channelCount*audioBytesPerSample)
	return 1000000 * frames / int64(sampleRate)
}

func (p *AudioPipeline) encode(ctx context.Context, format codec.Format, stagingPath string) error {
	if format.SampleRate <= 0 || format.ChannelCount <= 0 {
		return fmt.Errorf("invalid audio format: %v", format)
	}

	enc, err := p.Codecs.CreateEncoder(format.MimeType)
	if err != nil {
		return err
	}

	m, err := p.CreateMuxer(p.Output)
	if err != nil {
		releaseAll(p, codecReleaser("encoder", enc))
		return err
	}

	// the encoder is stopped before the muxer.
	defer releaseAll(p, codecReleaser("encoder", enc), muxerReleaser("muxer", m))

	err = enc.Configure(codec.Format{
		MimeType:     format.MimeType,
		SampleRate:   format.SampleRate,
		ChannelCount: format.ChannelCount,
		BitRate:      p.BitRate,
		MaxInputSize: p.maxInputSize(),
		Config:       format.Config,
	})
	if err != nil {
		return err
	}

	f, err := os.Open(stagingPath)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)

	err = enc.Start()
	if err != nil {
		return err
	}

	out := &outputTrack{muxer: m, progress: p.Progress}
	var bytesRead int64
	inputDone := false
	var info codec.BufferInfo

	for {
		if isTerminated(ctx.Done()) {
			return ErrTerminated
		}

		if !inputDone {
			id, err := enc.DequeueInputBuffer(p.timeout())
			if err != nil {
				return err
			}

			if id >= 0 {
				pts := presentationTimeUs(bytesRead, format.ChannelCount, format.SampleRate)

				n, err := io.ReadFull(br, enc.InputBuffer(id))
				switch {
				case errors.Is(err, io.EOF):
					err = enc.QueueInputBuffer(id, 0, 0, pts, codec.FlagEndOfStream)
					if err != nil {
						return err
					}
					inputDone = true

				case err == nil || errors.Is(err, io.ErrUnexpectedEOF):
					bytesRead += int64(n)
					err = enc.QueueInputBuffer(id, 0, n, pts, 0)
					if err != nil {
						return err
					}

				default:
					return err
				}
			}
		}

		id, err := enc.DequeueOutputBuffer(&info, p.timeout())
		if err != nil {
			return err
		}

		switch {
		case id == codec.InfoOutputFormatChanged:
			err = out.start(enc.OutputFormat())
			if err != nil {
				return err
			}

		case id >= 0:
			err = out.write(enc, id, &info)
			if err != nil {
				enc.ReleaseOutputBuffer(id, false) //nolint:errcheck
				return err
			}

			err = enc.ReleaseOutputBuffer(id, false)
			if err != nil {
				return err
			}

			if (info.Flags & codec.FlagEndOfStream) != 0 {
				p.Log(logger.Debug, "%d bytes of samples encoded", bytesRead)
				return nil
			}
		}
	}
}
