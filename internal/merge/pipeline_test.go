package merge

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/codec/lpcm"
	"github.com/bluenviron/mediamerge/internal/codec/videocopy"
	"github.com/bluenviron/mediamerge/internal/conf"
	"github.com/bluenviron/mediamerge/internal/container"
	"github.com/bluenviron/mediamerge/internal/logger"
	"github.com/bluenviron/mediamerge/internal/surface"
	"github.com/bluenviron/mediamerge/internal/test"
)

var testCodecs = codec.Registry{lpcm.Engine{}, videocopy.Engine{}}

// writeSegments writes count segments of 1 second, with a 30fps H264 track
// and a 44.1kHz stereo track. Audio samples of segment i are filled with i+1.
func writeSegments(t *testing.T, dir string, count int) []string {
	var paths []string

	for i := 0; i < count; i++ {
		fpath := filepath.Join(dir, fmt.Sprintf("segment%d.mp4", i))

		err := test.WriteSegment(fpath, []test.SegmentTrack{
			test.VideoTrack(30, 30),
			test.AudioTrack(44100, 2, time.Second, 1024, byte(i+1)),
		})
		require.NoError(t, err)

		paths = append(paths, fpath)
	}

	return paths
}

type trackContent struct {
	format   codec.Format
	times    []int64
	flags    []codec.BufferFlag
	payloads [][]byte
}

func readTrack(t *testing.T, fpath string, track int) trackContent {
	d, err := container.OpenFMP4(fpath)
	require.NoError(t, err)
	defer d.Release() //nolint:errcheck

	var c trackContent

	c.format, err = d.TrackFormat(track)
	require.NoError(t, err)

	err = d.SelectTrack(track)
	require.NoError(t, err)

	buf := make([]byte, 1024*1024)

	for {
		n, err := d.ReadSampleData(buf)
		require.NoError(t, err)
		if n < 0 {
			break
		}

		c.times = append(c.times, d.SampleTime())
		c.flags = append(c.flags, d.SampleFlags())
		c.payloads = append(c.payloads, append([]byte(nil), buf[:n]...))
		d.Advance()
	}

	return c
}

func requireNonDecreasing(t *testing.T, times []int64) {
	for i := 1; i < len(times); i++ {
		require.GreaterOrEqual(t, times[i], times[i-1])
	}
}

func testParams(inputs []string, output string, continuity conf.Continuity) Params {
	return Params{
		Inputs:      inputs,
		Output:      output,
		Codecs:      testCodecs,
		OpenDemuxer: container.OpenFMP4,
		CreateMuxer: container.CreateFMP4,
		Continuity:  continuity,
		Progress:    &Progress{},
		Parent:      test.NilLogger,
	}
}

func TestAudioPipeline(t *testing.T) {
	dir := t.TempDir()
	inputs := writeSegments(t, dir, 2)
	output := filepath.Join(dir, "audio.mp4")

	p := &AudioPipeline{
		Params:  testParams(inputs, output, conf.ContinuityLastSample),
		TempDir: dir,
	}

	err := p.Run(context.Background())
	require.NoError(t, err)

	c := readTrack(t, output, 0)
	require.Equal(t, codec.MimeAudioRaw, c.format.MimeType)
	require.Equal(t, 44100, c.format.SampleRate)
	require.Equal(t, 2, c.format.ChannelCount)
	require.Equal(t, 2*time.Second, c.format.Duration)

	// 88200 frames in chunks of 1024 frames
	require.Len(t, c.times, 87)
	require.Equal(t, int64(0), c.times[0])
	requireNonDecreasing(t, c.times)

	// samples of the two files are in order.
	require.Equal(t, byte(1), c.payloads[0][0])
	require.Equal(t, byte(2), c.payloads[86][0])

	snap := p.Progress.Snapshot()
	require.Equal(t, "audio", snap.Stage)
	require.Equal(t, 1, snap.FileIndex)
	require.Equal(t, int64(87), snap.SamplesWritten)

	// the staging file has been removed.
	matches, err := filepath.Glob(filepath.Join(dir, "*.pcm"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestAudioPipelineIncompatibleFormat(t *testing.T) {
	dir := t.TempDir()

	seg1 := filepath.Join(dir, "seg1.mp4")
	err := test.WriteSegment(seg1, []test.SegmentTrack{test.AudioTrack(44100, 2, time.Second, 1024, 1)})
	require.NoError(t, err)

	seg2 := filepath.Join(dir, "seg2.mp4")
	err = test.WriteSegment(seg2, []test.SegmentTrack{test.AudioTrack(48000, 2, time.Second, 1024, 1)})
	require.NoError(t, err)

	p := &AudioPipeline{
		Params:  testParams([]string{seg1, seg2}, filepath.Join(dir, "audio.mp4"), conf.ContinuityLastSample),
		TempDir: dir,
	}

	err = p.Run(context.Background())
	require.ErrorIs(t, err, ErrIncompatibleFormat)
}

func TestAudioPipelineMissingTrack(t *testing.T) {
	dir := t.TempDir()

	seg := filepath.Join(dir, "seg.mp4")
	err := test.WriteSegment(seg, []test.SegmentTrack{test.VideoTrack(30, 30)})
	require.NoError(t, err)

	p := &AudioPipeline{
		Params:  testParams([]string{seg}, filepath.Join(dir, "audio.mp4"), conf.ContinuityLastSample),
		TempDir: dir,
	}

	err = p.Run(context.Background())
	require.ErrorIs(t, err, ErrTrackNotFound)
}

func TestVideoPipeline(t *testing.T) {
	dir := t.TempDir()
	inputs := writeSegments(t, dir, 2)
	output := filepath.Join(dir, "video.mp4")

	p := &VideoPipeline{
		Params:         testParams(inputs, output, conf.ContinuityLastSampleEnd),
		FrameRate:      30,
		IFrameInterval: 1,
	}

	err := p.Run(context.Background())
	require.NoError(t, err)

	c := readTrack(t, output, 0)
	require.Equal(t, codec.MimeVideoAVC, c.format.MimeType)
	require.Equal(t, 1920, c.format.Width)
	require.Equal(t, 1080, c.format.Height)
	require.InDelta(t, float64(2*time.Second), float64(c.format.Duration), float64(time.Millisecond))

	require.Len(t, c.times, 60)
	requireNonDecreasing(t, c.times)

	for i, ts := range c.times {
		require.InDelta(t, int64(i)*1000000/30, ts, 3)
	}

	require.Equal(t, codec.FlagKeyFrame, c.flags[0])
	require.Equal(t, codec.FlagKeyFrame, c.flags[30])
	require.Equal(t, codec.BufferFlag(0), c.flags[1])

	// access units are copied as they are.
	require.Equal(t, []byte{0, 0, 0, 3, 0x65, 0x88, 0}, c.payloads[0])
	require.Equal(t, []byte{0, 0, 0, 3, 0x41, 0x9a, 29}, c.payloads[59])
}

func TestVideoPipelineLastSample(t *testing.T) {
	dir := t.TempDir()
	inputs := writeSegments(t, dir, 2)
	output := filepath.Join(dir, "video.mp4")

	p := &VideoPipeline{
		Params: testParams(inputs, output, conf.ContinuityLastSample),
	}

	err := p.Run(context.Background())
	require.NoError(t, err)

	c := readTrack(t, output, 0)
	require.Len(t, c.times, 60)
	requireNonDecreasing(t, c.times)

	// the first sample of the second file starts at the last sample of the first file.
	require.Equal(t, c.times[29], c.times[30])
}

func TestVideoGPUPipeline(t *testing.T) {
	dir := t.TempDir()
	inputs := writeSegments(t, dir, 2)
	output := filepath.Join(dir, "video.mp4")

	p := &VideoGPUPipeline{
		Params:         testParams(inputs, output, conf.ContinuityLastSampleEnd),
		FrameRate:      30,
		IFrameInterval: 1,
	}

	err := p.Run(context.Background())
	require.NoError(t, err)

	c := readTrack(t, output, 0)
	require.Equal(t, 1920, c.format.Width)
	require.Len(t, c.times, 60)

	for i, ts := range c.times {
		require.InDelta(t, int64(i)*1000000/30, ts, 3)
	}
}

func TestVideoGPUPipelineScale(t *testing.T) {
	dir := t.TempDir()
	inputs := writeSegments(t, dir, 2)
	output := filepath.Join(dir, "video.mp4")

	var mutex sync.Mutex
	var images []surface.Image

	params := testParams(inputs, output, conf.ContinuityLastSampleEnd)
	params.Codecs = codec.Registry{
		lpcm.Engine{},
		test.RawVideoEngine{
			OnImage: func(img *surface.Image) {
				mutex.Lock()
				defer mutex.Unlock()
				images = append(images, *img)
			},
		},
	}

	p := &VideoGPUPipeline{
		Params:         params,
		FrameRate:      30,
		IFrameInterval: 1,
		Width:          640,
		Height:         368,
	}

	err := p.Run(context.Background())
	require.NoError(t, err)

	mutex.Lock()
	defer mutex.Unlock()

	require.Len(t, images, 60)

	for i, img := range images {
		require.Equal(t, 640, img.Width)
		require.Equal(t, 368, img.Height)
		require.Len(t, img.Planes[0], 640*368)
		require.Equal(t, byte(i%30), img.Planes[0][0])

		// timestamps come from the renderer, since decoded images carry none.
		require.InDelta(t, int64(i)*1000000/30, img.PresentationTime.Microseconds(), 3)
	}

	c := readTrack(t, output, 0)
	require.Len(t, c.times, 60)

	for i, ts := range c.times {
		require.InDelta(t, int64(i)*1000000/30, ts, 3)
	}

	require.Equal(t, codec.FlagKeyFrame, c.flags[0])
	require.Equal(t, codec.FlagKeyFrame, c.flags[30])
	require.Equal(t, codec.BufferFlag(0), c.flags[1])
	require.Equal(t, []byte{0, 0, 0, 3, 0x41, 0x9a, 29}, c.payloads[59])
}

func TestVideoGPUPipelineCannotScale(t *testing.T) {
	dir := t.TempDir()
	inputs := writeSegments(t, dir, 1)

	p := &VideoGPUPipeline{
		Params: testParams(inputs, filepath.Join(dir, "video.mp4"), conf.ContinuityLastSample),
		Width:  640,
		Height: 368,
	}

	err := p.Run(context.Background())
	require.ErrorIs(t, err, surface.ErrCannotScale)
}

func TestPipelineTerminated(t *testing.T) {
	dir := t.TempDir()
	inputs := writeSegments(t, dir, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &VideoPipeline{
		Params: testParams(inputs, filepath.Join(dir, "video.mp4"), conf.ContinuityLastSample),
	}

	err := p.Run(ctx)
	require.ErrorIs(t, err, ErrTerminated)

	p2 := &AudioPipeline{
		Params:  testParams(inputs, filepath.Join(dir, "audio.mp4"), conf.ContinuityLastSample),
		TempDir: dir,
	}

	err = p2.Run(ctx)
	require.ErrorIs(t, err, ErrTerminated)
}

func TestRemuxer(t *testing.T) {
	dir := t.TempDir()

	audio := filepath.Join(dir, "audio.mp4")
	err := test.WriteSegment(audio, []test.SegmentTrack{test.AudioTrack(44100, 2, time.Second, 1024, 1)})
	require.NoError(t, err)

	video := filepath.Join(dir, "video.mp4")
	err = test.WriteSegment(video, []test.SegmentTrack{test.VideoTrack(30, 30)})
	require.NoError(t, err)

	output := filepath.Join(dir, "final.mp4")

	r := &Remuxer{
		Inputs:      []string{audio, video},
		Output:      output,
		OpenDemuxer: container.OpenFMP4,
		CreateMuxer: container.CreateFMP4,
		Parent:      test.NilLogger,
	}

	err = r.Run(context.Background())
	require.NoError(t, err)

	d, err := container.OpenFMP4(output)
	require.NoError(t, err)
	require.Equal(t, 2, d.TrackCount())
	d.Release() //nolint:errcheck

	for i, input := range []string{audio, video} {
		src := readTrack(t, input, 0)
		dest := readTrack(t, output, i)

		require.Equal(t, src.format.MimeType, dest.format.MimeType)
		require.Equal(t, src.format.Duration, dest.format.Duration)
		require.Equal(t, src.times, dest.times)
		require.Equal(t, src.flags, dest.flags)
		require.Equal(t, src.payloads, dest.payloads)
	}
}

func TestRemuxerReorderedFrames(t *testing.T) {
	dir := t.TempDir()

	// I P B B in decode order
	track := test.VideoTrack(4, 30)
	for i, offset := range []int32{3000, 9000, 0, 0} {
		track.Samples[i].PTSOffset = offset
	}

	video := filepath.Join(dir, "video.mp4")
	err := test.WriteSegment(video, []test.SegmentTrack{track})
	require.NoError(t, err)

	output := filepath.Join(dir, "final.mp4")

	r := &Remuxer{
		Inputs:      []string{video},
		Output:      output,
		OpenDemuxer: container.OpenFMP4,
		CreateMuxer: container.CreateFMP4,
		Parent:      test.NilLogger,
	}

	err = r.Run(context.Background())
	require.NoError(t, err)

	src := readTrack(t, video, 0)
	require.Equal(t, []int64{33333, 133333, 66666, 100000}, src.times)

	dest := readTrack(t, output, 0)
	require.Equal(t, src.times, dest.times)
	require.Equal(t, src.flags, dest.flags)
	require.Equal(t, src.payloads, dest.payloads)
}

func TestReleaseAllIdempotent(t *testing.T) {
	var warnings []string
	l := test.Logger(func(_ logger.Level, format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	})

	dec, err := testCodecs.CreateDecoder(codec.MimeAudioRaw)
	require.NoError(t, err)

	err = dec.Configure(codec.Format{MimeType: codec.MimeAudioRaw, SampleRate: 44100, ChannelCount: 2}, nil)
	require.NoError(t, err)

	err = dec.Start()
	require.NoError(t, err)

	m, err := container.CreateFMP4(filepath.Join(t.TempDir(), "out.mp4"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		releaseAll(l,
			codecReleaser("decoder", dec),
			muxerReleaser("muxer", m),
			fileRemover(filepath.Join(t.TempDir(), "missing")),
			releaser{"failing", func() error { return fmt.Errorf("spurious") }},
		)
	}

	require.Equal(t, []string{
		"unable to release failing: spurious",
		"unable to release failing: spurious",
	}, warnings)
}
