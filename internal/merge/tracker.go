package merge

import (
	"time"

	"github.com/bluenviron/mediamerge/internal/conf"
)

// Tracker keeps timestamps continuous across file boundaries.
// Timestamps are in microseconds.
type Tracker struct {
	Continuity conf.Continuity

	totalOffset   int64
	lastTimestamp int64
	prevTimestamp int64
	observed      int
}

// Effective returns the timestamp of a sample of the current file in the merged stream.
func (t *Tracker) Effective(raw int64) int64 {
	return raw + t.totalOffset
}

// Observe records the timestamp of a sample read from the current file.
// Negative timestamps mean that there are no more samples and are ignored.
func (t *Tracker) Observe(raw int64) {
	if raw < 0 {
		return
	}

	t.prevTimestamp = t.lastTimestamp
	t.lastTimestamp = raw
	t.observed++
}

// Advance is called once when switching to the next file.
// declared is the declared duration of the finished file,
// used when no sample of the file has been observed.
func (t *Tracker) Advance(declared time.Duration) {
	switch {
	case t.observed == 0:
		t.totalOffset += declared.Microseconds()

	case t.Continuity == conf.ContinuityLastSampleEnd && t.observed >= 2:
		t.totalOffset += t.lastTimestamp + (t.lastTimestamp - t.prevTimestamp)

	default:
		t.totalOffset += t.lastTimestamp
	}

	t.lastTimestamp = 0
	t.prevTimestamp = 0
	t.observed = 0
}

// Offset returns the accumulated duration of the finished files.
func (t *Tracker) Offset() int64 {
	return t.totalOffset
}
