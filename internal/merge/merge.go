// Package merge contains the pipelines that concatenate a sequence of media files
// into one audio stream and one video stream, and the remuxer that combines them.
package merge

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTrackNotFound is returned when a file has no track of the requested type.
	ErrTrackNotFound = errors.New("track not found")

	// ErrIncompatibleFormat is returned when a file of the sequence
	// has a format different from the first one.
	ErrIncompatibleFormat = errors.New("incompatible format")

	// ErrTerminated is returned when a merge is stopped.
	ErrTerminated = errors.New("terminated")
)

// media type prefixes of tracks to select.
const (
	prefixAudio = "audio/"
	prefixVideo = "video/"
)

// Progress is the progress of a pipeline.
// It is written by the pipeline and can be read from any goroutine.
type Progress struct {
	mutex     sync.RWMutex
	stage     string
	fileIndex atomic.Int64
	fileCount atomic.Int64
	samples   atomic.Int64
	started   time.Time
}

func (p *Progress) setStage(stage string, fileCount int) {
	if p == nil {
		return
	}

	p.mutex.Lock()
	p.stage = stage
	p.started = time.Now()
	p.mutex.Unlock()

	p.fileIndex.Store(0)
	p.fileCount.Store(int64(fileCount))
	p.samples.Store(0)
}

func (p *Progress) setFile(i int) {
	if p == nil {
		return
	}
	p.fileIndex.Store(int64(i))
}

func (p *Progress) addSample() {
	if p == nil {
		return
	}
	p.samples.Add(1)
}

// ProgressSnapshot is the state of a Progress at a given time.
type ProgressSnapshot struct {
	Stage          string    `json:"stage"`
	StageStarted   time.Time `json:"stageStarted"`
	FileIndex      int       `json:"fileIndex"`
	FileCount      int       `json:"fileCount"`
	SamplesWritten int64     `json:"samplesWritten"`
}

// Snapshot returns the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return ProgressSnapshot{
		Stage:          p.stage,
		StageStarted:   p.started,
		FileIndex:      int(p.fileIndex.Load()),
		FileCount:      int(p.fileCount.Load()),
		SamplesWritten: p.samples.Load(),
	}
}
