package merge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/conf"
	"github.com/bluenviron/mediamerge/internal/container"
	"github.com/bluenviron/mediamerge/internal/logger"
)

// State is the state of a merge.
type State string

// states.
const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Status is the status of a merge.
type Status struct {
	ID       uuid.UUID          `json:"id"`
	State    State              `json:"state"`
	Created  time.Time          `json:"created"`
	Inputs   int                `json:"inputs"`
	Stages   []ProgressSnapshot `json:"stages"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// Outputs are the paths of the files produced by a merge.
type Outputs struct {
	Audio string
	Video string
	Final string
}

func outputPath(dir string, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Merger runs a merge on a dedicated goroutine:
// the video pipeline, the audio pipeline, then the remuxer.
type Merger struct {
	Conf        *conf.Conf
	Inputs      []string
	Codecs      codec.Registry
	OpenDemuxer container.OpenDemuxerFunc
	CreateMuxer container.CreateMuxerFunc
	Parent      logger.Writer

	id            uuid.UUID
	created       time.Time
	inputs        []string
	outputs       Outputs
	videoProgress Progress
	audioProgress Progress
	remuxProgress Progress
	ctx           context.Context
	ctxCancel     func()

	mutex    sync.RWMutex
	state    State
	err      error
	duration time.Duration

	done chan struct{}
}

// Initialize initializes Merger and starts the merge.
func (m *Merger) Initialize() error {
	if len(m.Inputs) == 0 {
		return fmt.Errorf("no input files")
	}

	if !m.Conf.Audio && !m.Conf.Video {
		return fmt.Errorf("both audio and video are disabled")
	}

	// the sequence cannot change after the merge has started.
	m.inputs = append([]string(nil), m.Inputs...)

	m.id = uuid.New()
	m.created = time.Now()
	m.outputs = Outputs{
		Final: outputPath(m.Conf.OutputDir, m.Conf.FinalOutput),
	}
	if m.Conf.Audio {
		m.outputs.Audio = outputPath(m.Conf.OutputDir, m.Conf.AudioOutput)
	}
	if m.Conf.Video {
		m.outputs.Video = outputPath(m.Conf.OutputDir, m.Conf.VideoOutput)
	}

	m.ctx, m.ctxCancel = context.WithCancel(context.Background())
	m.state = StateRunning
	m.done = make(chan struct{})

	m.Log(logger.Info, "merge %s: %d files", m.id, len(m.inputs))

	go m.run()

	return nil
}

// Stop stops the merge and waits for the teardown to complete.
// It can be called multiple times, even after the merge has completed
// or when Initialize has not succeeded.
func (m *Merger) Stop() {
	if m.done == nil {
		return
	}

	m.ctxCancel()
	<-m.done
}

// Done returns a channel that is closed when the merge has ended.
func (m *Merger) Done() <-chan struct{} {
	return m.done
}

// Wait waits for the merge to end and returns its error.
func (m *Merger) Wait() error {
	if m.done == nil {
		return nil
	}

	<-m.done
	return m.err
}

// Outputs returns the paths of produced files.
func (m *Merger) Outputs() Outputs {
	return m.outputs
}

// Log implements logger.Writer.
func (m *Merger) Log(level logger.Level, format string, args ...interface{}) {
	m.Parent.Log(level, "[merge] "+format, args...)
}

// Status returns the status of the merge.
func (m *Merger) Status() Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s := Status{
		ID:       m.id,
		State:    m.state,
		Created:  m.created,
		Inputs:   len(m.inputs),
		Stages:   []ProgressSnapshot{},
		Duration: m.duration,
	}

	if m.err != nil {
		s.Error = m.err.Error()
	}

	for _, p := range []*Progress{&m.videoProgress, &m.audioProgress, &m.remuxProgress} {
		snap := p.Snapshot()
		if snap.Stage != "" {
			s.Stages = append(s.Stages, snap)
		}
	}

	return s
}

func (m *Merger) run() {
	defer close(m.done)

	start := time.Now()
	err := m.runInner()

	m.mutex.Lock()
	m.err = err
	m.duration = time.Since(start)
	switch {
	case err == nil:
		m.state = StateCompleted
	case errors.Is(err, ErrTerminated):
		m.state = StateStopped
	default:
		m.state = StateFailed
	}
	m.mutex.Unlock()

	if err != nil {
		releaseAll(m, m.removers()...)

		if errors.Is(err, ErrTerminated) {
			m.Log(logger.Info, "merge %s stopped", m.id)
		} else {
			m.Log(logger.Error, "merge %s failed: %v", m.id, err)
		}
		return
	}

	m.Log(logger.Info, "merge %s completed in %dms, output is %s",
		m.id, time.Since(start).Milliseconds(), m.outputs.Final)
}

func (m *Merger) removers() []releaser {
	var ret []releaser
	for _, p := range []string{m.outputs.Video, m.outputs.Audio, m.outputs.Final} {
		if p != "" {
			ret = append(ret, fileRemover(p))
		}
	}
	return ret
}

func (m *Merger) params(output string, bitRate int, progress *Progress) Params {
	return Params{
		Inputs:       m.inputs,
		Output:       output,
		Codecs:       m.Codecs,
		OpenDemuxer:  m.OpenDemuxer,
		CreateMuxer:  m.CreateMuxer,
		BitRate:      bitRate,
		MaxInputSize: int(m.Conf.MaxInputSize),
		Timeout:      time.Duration(m.Conf.CodecTimeout),
		Continuity:   m.Conf.Continuity,
		Progress:     progress,
		Parent:       m.Parent,
	}
}

// videoRunner returns the pipeline that fits the requested output size.
func (m *Merger) videoRunner() (func(context.Context) error, error) {
	params := m.params(m.outputs.Video, m.Conf.VideoBitrate, &m.videoProgress)

	if m.Conf.VideoWidth != 0 && m.Conf.VideoHeight != 0 {
		h, err := SelectTrack(m.OpenDemuxer, m.inputs[0], prefixVideo)
		if err != nil {
			return nil, err
		}
		h.Release() //nolint:errcheck

		if h.Format.Width != m.Conf.VideoWidth || h.Format.Height != m.Conf.VideoHeight {
			p := &VideoGPUPipeline{
				Params:         params,
				FrameRate:      m.Conf.FrameRate,
				IFrameInterval: m.Conf.IFrameInterval,
				Width:          m.Conf.VideoWidth,
				Height:         m.Conf.VideoHeight,
			}
			return p.Run, nil
		}
	}

	p := &VideoPipeline{
		Params:         params,
		FrameRate:      m.Conf.FrameRate,
		IFrameInterval: m.Conf.IFrameInterval,
	}
	return p.Run, nil
}

func (m *Merger) audioRunner() func(context.Context) error {
	p := &AudioPipeline{
		Params:  m.params(m.outputs.Audio, m.Conf.AudioBitrate, &m.audioProgress),
		TempDir: m.Conf.TempDir,
	}
	return p.Run
}

func (m *Merger) runInner() error {
	var runners []func(context.Context) error
	var intermediates []string

	if m.Conf.Video {
		r, err := m.videoRunner()
		if err != nil {
			return err
		}
		runners = append(runners, r)
		intermediates = append(intermediates, m.outputs.Video)
	}

	if m.Conf.Audio {
		runners = append(runners, m.audioRunner())
		intermediates = append(intermediates, m.outputs.Audio)
	}

	if m.Conf.Parallel {
		g, ctx := errgroup.WithContext(m.ctx)
		for _, r := range runners {
			g.Go(func() error {
				return r(ctx)
			})
		}

		err := g.Wait()
		if err != nil {
			return err
		}
	} else {
		for _, r := range runners {
			err := r(m.ctx)
			if err != nil {
				return err
			}
		}
	}

	rem := &Remuxer{
		Inputs:      intermediates,
		Output:      m.outputs.Final,
		OpenDemuxer: m.OpenDemuxer,
		CreateMuxer: m.CreateMuxer,
		Progress:    &m.remuxProgress,
		Parent:      m.Parent,
	}
	return rem.Run(m.ctx)
}
