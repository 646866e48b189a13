package merge

import (
	"fmt"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/container"
	"github.com/bluenviron/mediamerge/internal/logger"
)

// feeder reads samples from a sequence of files, in order,
// and queues them into a decoder with continuous timestamps.
type feeder struct {
	inputs      []string
	openDemuxer container.OpenDemuxerFunc
	prefix      string
	tracker     *Tracker
	rewind      bool
	progress    *Progress
	parent      logger.Writer

	// format of the first file, used to configure codecs.
	format codec.Format

	fileIndex int
	handle    *TrackHandle
	inputDone bool
}

func (f *feeder) initialize() error {
	if len(f.inputs) == 0 {
		return fmt.Errorf("no input files")
	}

	err := f.open(0)
	if err != nil {
		return err
	}

	f.format = f.handle.Format
	return nil
}

func (f *feeder) open(i int) error {
	h, err := SelectTrack(f.openDemuxer, f.inputs[i], f.prefix)
	if err != nil {
		return err
	}

	if f.rewind {
		err = h.Demuxer.SeekTo(0)
		if err != nil {
			h.Release() //nolint:errcheck
			return err
		}
	}

	f.handle = h
	f.fileIndex = i
	f.progress.setFile(i)

	f.parent.Log(logger.Debug, "reading %s (track %d, %v)", f.inputs[i], h.Index, h.Format)

	return nil
}

// next switches to the next file of the sequence.
func (f *feeder) next() error {
	declared := f.handle.Format.Duration

	err := f.handle.Release()
	f.handle = nil
	if err != nil {
		f.parent.Log(logger.Warn, "unable to release %s: %v", f.inputs[f.fileIndex], err)
	}

	f.tracker.Advance(declared)

	err = f.open(f.fileIndex + 1)
	if err != nil {
		return err
	}

	err = f.handle.Format.CompatibleWith(f.format)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", f.inputs[f.fileIndex], ErrIncompatibleFormat, err)
	}

	return nil
}

// feed fills at most one input buffer of the decoder.
// When all files have been read, an end-of-stream buffer is queued.
func (f *feeder) feed(dec codec.Codec, timeout time.Duration) error {
	if f.inputDone {
		return nil
	}

	id, err := dec.DequeueInputBuffer(timeout)
	if err != nil {
		return err
	}
	if id < 0 {
		return nil
	}

	n, err := f.handle.Demuxer.ReadSampleData(dec.InputBuffer(id))
	if err != nil {
		return fmt.Errorf("%s: %w", f.inputs[f.fileIndex], err)
	}

	if n >= 0 {
		raw := f.handle.Demuxer.SampleTime()
		f.tracker.Observe(raw)

		err = dec.QueueInputBuffer(id, 0, n, f.tracker.Effective(raw), f.handle.Demuxer.SampleFlags())
		if err != nil {
			return err
		}

		f.handle.Demuxer.Advance()
		return nil
	}

	if (f.fileIndex + 1) < len(f.inputs) {
		err = f.next()
		if err != nil {
			return err
		}

		// give back the buffer without data.
		return dec.QueueInputBuffer(id, 0, 0, 0, 0)
	}

	f.inputDone = true
	return dec.QueueInputBuffer(id, 0, 0, 0, codec.FlagEndOfStream)
}

func (f *feeder) close() {
	if f.handle != nil {
		err := f.handle.Release()
		if err != nil {
			f.parent.Log(logger.Warn, "unable to release %s: %v", f.inputs[f.fileIndex], err)
		}
		f.handle = nil
	}
}
