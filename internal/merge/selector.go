package merge

import (
	"fmt"
	"strings"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/container"
)

// TrackHandle is an open demuxer with a selected track.
// It is owned by the pipeline that opened it.
type TrackHandle struct {
	Demuxer container.Demuxer
	Index   int
	Format  codec.Format
}

// Release releases the demuxer.
func (h *TrackHandle) Release() error {
	return h.Demuxer.Release()
}

// SelectTrack opens a file and selects the first track whose mime type
// starts with prefix.
func SelectTrack(open container.OpenDemuxerFunc, path string, prefix string) (*TrackHandle, error) {
	d, err := open(path)
	if err != nil {
		return nil, err
	}

	for i := 0; i < d.TrackCount(); i++ {
		format, err := d.TrackFormat(i)
		if err != nil {
			d.Release() //nolint:errcheck
			return nil, err
		}

		if !strings.HasPrefix(format.MimeType, prefix) {
			continue
		}

		err = d.SelectTrack(i)
		if err != nil {
			d.Release() //nolint:errcheck
			return nil, err
		}

		return &TrackHandle{
			Demuxer: d,
			Index:   i,
			Format:  format,
		}, nil
	}

	d.Release() //nolint:errcheck
	return nil, fmt.Errorf("%s: no track of type %s*: %w", path, prefix, ErrTrackNotFound)
}
