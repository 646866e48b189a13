package merge

import (
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/conf"
	"github.com/bluenviron/mediamerge/internal/container"
	"github.com/bluenviron/mediamerge/internal/logger"
)

const (
	defaultTimeout      = 10 * time.Millisecond
	defaultMaxInputSize = 655360
)

// Params are the parameters shared by pipelines.
type Params struct {
	Inputs       []string
	Output       string
	Codecs       codec.Registry
	OpenDemuxer  container.OpenDemuxerFunc
	CreateMuxer  container.CreateMuxerFunc
	BitRate      int
	MaxInputSize int
	Timeout      time.Duration
	Continuity   conf.Continuity
	Progress     *Progress
	Parent       logger.Writer
}

func (p *Params) timeout() time.Duration {
	if p.Timeout <= 0 {
		return defaultTimeout
	}
	return p.Timeout
}

func (p *Params) maxInputSize() int {
	if p.MaxInputSize <= 0 {
		return defaultMaxInputSize
	}
	return p.MaxInputSize
}

func (p *Params) newFeeder(prefix string, rewind bool, l logger.Writer) (*feeder, error) {
	f := &feeder{
		inputs:      p.Inputs,
		openDemuxer: p.OpenDemuxer,
		prefix:      prefix,
		tracker:     &Tracker{Continuity: p.Continuity},
		rewind:      rewind,
		progress:    p.Progress,
		parent:      l,
	}

	err := f.initialize()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func isTerminated(ctxDone <-chan struct{}) bool {
	select {
	case <-ctxDone:
		return true
	default:
		return false
	}
}
