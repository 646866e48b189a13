package container

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/test"
)

func writeTestSegment(t *testing.T) string {
	fpath := filepath.Join(t.TempDir(), "segment.mp4")

	err := test.WriteSegment(fpath, []test.SegmentTrack{
		test.VideoTrack(30, 30),
		test.AudioTrack(44100, 2, time.Second, 1024, 1),
	})
	require.NoError(t, err)

	return fpath
}

func TestDemuxerFormats(t *testing.T) {
	d, err := OpenFMP4(writeTestSegment(t))
	require.NoError(t, err)
	defer d.Release() //nolint:errcheck

	require.Equal(t, 2, d.TrackCount())

	format, err := d.TrackFormat(0)
	require.NoError(t, err)
	require.Equal(t, codec.MimeVideoAVC, format.MimeType)
	require.Equal(t, 1920, format.Width)
	require.Equal(t, 1080, format.Height)
	require.Equal(t, time.Second, format.Duration)
	require.Equal(t, test.CodecH264, format.Config)

	format, err = d.TrackFormat(1)
	require.NoError(t, err)
	require.Equal(t, codec.MimeAudioRaw, format.MimeType)
	require.Equal(t, 44100, format.SampleRate)
	require.Equal(t, 2, format.ChannelCount)
	require.Equal(t, time.Second, format.Duration)

	_, err = d.TrackFormat(2)
	require.Equal(t, ErrInvalidTrack, err)
}

func TestDemuxerRead(t *testing.T) {
	d, err := OpenFMP4(writeTestSegment(t))
	require.NoError(t, err)
	defer d.Release() //nolint:errcheck

	err = d.SelectTrack(0)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	count := 0
	var lastTime int64

	for {
		n, err2 := d.ReadSampleData(buf)
		require.NoError(t, err2)
		if n < 0 {
			break
		}

		require.Equal(t, 7, n)
		require.Equal(t, byte(count), buf[6])

		if (count % 30) == 0 {
			require.Equal(t, codec.FlagKeyFrame, d.SampleFlags())
		} else {
			require.Equal(t, codec.BufferFlag(0), d.SampleFlags())
		}

		lastTime = d.SampleTime()
		count++
		d.Advance()
	}

	require.Equal(t, 30, count)
	require.Equal(t, int64(966666), lastTime)
	require.Equal(t, int64(-1), d.SampleTime())
	require.False(t, d.Advance())

	err = d.SeekTo(0)
	require.NoError(t, err)
	require.Equal(t, int64(0), d.SampleTime())
}

func TestDemuxerSampleTooBig(t *testing.T) {
	d, err := OpenFMP4(writeTestSegment(t))
	require.NoError(t, err)
	defer d.Release() //nolint:errcheck

	err = d.SelectTrack(1)
	require.NoError(t, err)

	_, err = d.ReadSampleData(make([]byte, 10))
	require.EqualError(t, err, "sample size (4096) exceeds buffer size (10)")
}

func TestMuxerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fpath := filepath.Join(dir, "out.mp4")

	m, err := CreateFMP4(fpath)
	require.NoError(t, err)

	_, err = m.AddTrack(codec.Format{MimeType: codec.MimeVideoAVC})
	require.EqualError(t, err, "format video/avc 0x0 has no codec configuration")

	videoTrack, err := m.AddTrack(codec.Format{
		MimeType: codec.MimeVideoAVC,
		Width:    1920,
		Height:   1080,
		Config:   test.CodecH264,
	})
	require.NoError(t, err)
	require.Equal(t, 0, videoTrack)

	audioTrack, err := m.AddTrack(codec.Format{
		MimeType:     codec.MimeAudioRaw,
		SampleRate:   48000,
		ChannelCount: 1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, audioTrack)

	err = m.WriteSampleData(0, []byte{1}, &codec.BufferInfo{Size: 1})
	require.Equal(t, ErrNotStarted, err)

	err = m.Start()
	require.NoError(t, err)

	err = m.WriteSampleData(videoTrack, []byte{9, 9}, &codec.BufferInfo{Size: 2, Flags: codec.FlagCodecConfig})
	require.NoError(t, err)

	// 90 frames, 3 seconds, fragments are flushed every second
	for i := 0; i < 90; i++ {
		flags := codec.BufferFlag(0)
		if (i % 30) == 0 {
			flags = codec.FlagKeyFrame
		}

		err = m.WriteSampleData(videoTrack, []byte{0, 0, 0, 2, 0x41, byte(i)}, &codec.BufferInfo{
			Size:               6,
			PresentationTimeUs: int64(i) * 1000000 / 30,
			Flags:              flags,
		})
		require.NoError(t, err)
	}

	// 3 seconds of audio in chunks of 480 frames (10ms)
	for i := 0; i < 300; i++ {
		err = m.WriteSampleData(audioTrack, make([]byte, 960), &codec.BufferInfo{
			Size:               960,
			PresentationTimeUs: int64(i) * 10000,
		})
		require.NoError(t, err)
	}

	err = m.Stop()
	require.NoError(t, err)

	err = m.Stop()
	require.Equal(t, ErrNotStarted, err)

	err = m.Release()
	require.NoError(t, err)

	err = m.Release()
	require.NoError(t, err)

	d, err := OpenFMP4(fpath)
	require.NoError(t, err)
	defer d.Release() //nolint:errcheck

	require.Equal(t, 2, d.TrackCount())

	format, err := d.TrackFormat(0)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, format.Duration)

	format, err = d.TrackFormat(1)
	require.NoError(t, err)
	require.Equal(t, codec.MimeAudioRaw, format.MimeType)
	require.Equal(t, 3*time.Second, format.Duration)

	err = d.SelectTrack(0)
	require.NoError(t, err)

	buf := make([]byte, 64)
	count := 0

	for {
		n, err2 := d.ReadSampleData(buf)
		require.NoError(t, err2)
		if n < 0 {
			break
		}

		require.Equal(t, []byte{0, 0, 0, 2, 0x41, byte(count)}, buf[:n])
		require.Equal(t, int64(count)*1000000/30, d.SampleTime())
		count++
		d.Advance()
	}

	require.Equal(t, 90, count)

	err = d.SeekTo(1500000)
	require.NoError(t, err)
	require.Equal(t, int64(1000000), d.SampleTime())
}

func writeBoxStart(t *testing.T, w *mp4.Writer, box mp4.IImmutableBox) *mp4.BoxInfo {
	bi, err := w.StartBox(&mp4.BoxInfo{Type: box.GetType()})
	require.NoError(t, err)

	_, err = mp4.Marshal(w, box, mp4.Context{})
	require.NoError(t, err)

	return bi
}

func writeBoxEnd(t *testing.T, w *mp4.Writer) *mp4.BoxInfo {
	bi, err := w.EndBox()
	require.NoError(t, err)
	return bi
}

// writeDefaultsSegment writes a segment whose sample durations, sizes and flags
// are stored in tfhd, with the flags of the first sample stored in trun.
func writeDefaultsSegment(t *testing.T) string {
	var buf seekablebuffer.Buffer

	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        1,
			TimeScale: 90000,
			Codec:     test.CodecH264,
		}},
	}
	err := init.Marshal(&buf)
	require.NoError(t, err)

	w := mp4.NewWriter(&buf)

	writeBoxStart(t, w, &mp4.Moof{})

	writeBoxStart(t, w, &mp4.Mfhd{SequenceNumber: 1})
	writeBoxEnd(t, w)

	writeBoxStart(t, w, &mp4.Traf{})

	writeBoxStart(t, w, &mp4.Tfhd{
		FullBox: mp4.FullBox{
			Flags: [3]byte{0x02, 0x00, 0x38}, // default-base-is-moof, duration, size, flags
		},
		TrackID:               1,
		DefaultSampleDuration: 3000,
		DefaultSampleSize:     6,
		DefaultSampleFlags:    sampleFlagIsNonSyncSample,
	})
	writeBoxEnd(t, w)

	writeBoxStart(t, w, &mp4.Tfdt{
		FullBox:               mp4.FullBox{Version: 1},
		BaseMediaDecodeTimeV1: 9000,
	})
	writeBoxEnd(t, w)

	trun := &mp4.Trun{
		FullBox: mp4.FullBox{
			Flags: [3]byte{0x00, 0x00, 0x05}, // data offset, first sample flags
		},
		SampleCount:      3,
		FirstSampleFlags: 0x02000000,
		Entries:          make([]mp4.TrunEntry, 3),
	}
	trunInfo := writeBoxStart(t, w, trun)
	writeBoxEnd(t, w)

	writeBoxEnd(t, w)
	moofInfo := writeBoxEnd(t, w)

	// fill data offset once the moof size is known
	end, err := buf.Seek(0, io.SeekCurrent)
	require.NoError(t, err)

	_, err = buf.Seek(int64(trunInfo.Offset), io.SeekStart)
	require.NoError(t, err)

	trun.DataOffset = int32(moofInfo.Size + 8)
	writeBoxStart(t, w, trun)
	writeBoxEnd(t, w)

	_, err = buf.Seek(end, io.SeekStart)
	require.NoError(t, err)

	writeBoxStart(t, w, &mp4.Mdat{})
	for i := 0; i < 3; i++ {
		_, err = w.Write([]byte{0, 0, 0, 2, 0x41, byte(i)})
		require.NoError(t, err)
	}
	writeBoxEnd(t, w)

	fpath := filepath.Join(t.TempDir(), "segment.mp4")
	err = os.WriteFile(fpath, buf.Bytes(), 0o644)
	require.NoError(t, err)

	return fpath
}

func TestDemuxerFragmentDefaults(t *testing.T) {
	d, err := OpenFMP4(writeDefaultsSegment(t))
	require.NoError(t, err)
	defer d.Release() //nolint:errcheck

	format, err := d.TrackFormat(0)
	require.NoError(t, err)
	require.Equal(t, 100*time.Millisecond, format.Duration)

	err = d.SelectTrack(0)
	require.NoError(t, err)

	buf := make([]byte, 64)

	for i := 0; i < 3; i++ {
		n, err2 := d.ReadSampleData(buf)
		require.NoError(t, err2)
		require.Equal(t, []byte{0, 0, 0, 2, 0x41, byte(i)}, buf[:n])
		require.Equal(t, int64(i+3)*1000000/30, d.SampleTime())

		if i == 0 {
			require.Equal(t, codec.FlagKeyFrame, d.SampleFlags())
		} else {
			require.Equal(t, codec.BufferFlag(0), d.SampleFlags())
		}

		d.Advance()
	}

	n, err := d.ReadSampleData(buf)
	require.NoError(t, err)
	require.Equal(t, -1, n)
}

// decode order of a group of 30 frames with two B-frames between references,
// expressed as presentation indexes.
func bFramesDecodeOrder() []int {
	order := []int{0}
	for k := 1; k <= 9; k++ {
		order = append(order, 3*k, 3*k-2, 3*k-1)
	}
	return append(order, 29, 28)
}

func TestMuxerReorderedFrames(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "out.mp4")

	m, err := CreateFMP4(fpath)
	require.NoError(t, err)
	defer m.Release() //nolint:errcheck

	track, err := m.AddTrack(codec.Format{
		MimeType: codec.MimeVideoAVC,
		Width:    1920,
		Height:   1080,
		Config:   test.CodecH264,
	})
	require.NoError(t, err)

	err = m.Start()
	require.NoError(t, err)

	var written []int64

	for gop := 0; gop < 3; gop++ {
		for i, idx := range bFramesDecodeOrder() {
			flags := codec.BufferFlag(0)
			if i == 0 {
				flags = codec.FlagKeyFrame
			}

			pts := int64(gop*30+idx) * 1000000 / 30
			written = append(written, pts)

			err = m.WriteSampleData(track, []byte{0, 0, 0, 2, 0x41, byte(len(written))}, &codec.BufferInfo{
				Size:               6,
				PresentationTimeUs: pts,
				Flags:              flags,
			})
			require.NoError(t, err)
		}
	}

	err = m.Stop()
	require.NoError(t, err)

	d, err := OpenFMP4(fpath)
	require.NoError(t, err)
	defer d.Release() //nolint:errcheck

	format, err := d.TrackFormat(0)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, format.Duration)

	err = d.SelectTrack(0)
	require.NoError(t, err)

	var read []int64
	buf := make([]byte, 64)

	for {
		n, err2 := d.ReadSampleData(buf)
		require.NoError(t, err2)
		if n < 0 {
			break
		}

		require.Equal(t, byte(len(read)+1), buf[5])

		if (len(read) % 30) == 0 {
			require.Equal(t, codec.FlagKeyFrame, d.SampleFlags())
		} else {
			require.Equal(t, codec.BufferFlag(0), d.SampleFlags())
		}

		read = append(read, d.SampleTime())
		d.Advance()
	}

	require.Equal(t, written, read)
}
