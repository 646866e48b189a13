package merge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/container"
	"github.com/bluenviron/mediamerge/internal/test"
)

func TestSelectTrack(t *testing.T) {
	for _, ca := range []struct {
		name       string
		tracks     []test.SegmentTrack
		audioIndex int
		videoIndex int
	}{
		{
			"video first",
			[]test.SegmentTrack{
				test.VideoTrack(30, 30),
				test.AudioTrack(44100, 2, time.Second, 1024, 1),
			},
			1,
			0,
		},
		{
			"audio first",
			[]test.SegmentTrack{
				test.AudioTrack(44100, 2, time.Second, 1024, 1),
				test.VideoTrack(30, 30),
			},
			0,
			1,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			fpath := filepath.Join(t.TempDir(), "segment.mp4")
			err := test.WriteSegment(fpath, ca.tracks)
			require.NoError(t, err)

			h, err := SelectTrack(container.OpenFMP4, fpath, "audio/")
			require.NoError(t, err)
			defer h.Release() //nolint:errcheck

			require.Equal(t, ca.audioIndex, h.Index)
			require.Equal(t, codec.MimeAudioRaw, h.Format.MimeType)
			require.Equal(t, 44100, h.Format.SampleRate)
			require.Equal(t, 2, h.Format.ChannelCount)

			// the selected track is the one that is read.
			buf := make([]byte, 8192)
			n, err := h.Demuxer.ReadSampleData(buf)
			require.NoError(t, err)
			require.Equal(t, 4096, n)

			h2, err := SelectTrack(container.OpenFMP4, fpath, "video/")
			require.NoError(t, err)
			defer h2.Release() //nolint:errcheck

			require.Equal(t, ca.videoIndex, h2.Index)
			require.Equal(t, 1920, h2.Format.Width)
			require.Equal(t, 1080, h2.Format.Height)
		})
	}
}

func TestSelectTrackNotFound(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "segment.mp4")
	err := test.WriteSegment(fpath, []test.SegmentTrack{test.VideoTrack(30, 30)})
	require.NoError(t, err)

	_, err = SelectTrack(container.OpenFMP4, fpath, "audio/")
	require.ErrorIs(t, err, ErrTrackNotFound)

	_, err = SelectTrack(container.OpenFMP4, filepath.Join(t.TempDir(), "missing.mp4"), "audio/")
	require.Error(t, err)
}
