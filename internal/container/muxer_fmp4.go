package container

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediamerge/internal/codec"
)

const (
	partDuration       = 1 * time.Second
	maxPartDuration    = 10 * time.Second
	defaultFrameRate   = 30
	defaultAudioFrames = 1024
	lpcmBytesPerSample = 2
)

type muxerSample struct {
	pts    int64
	sample *fmp4.Sample
}

type muxerTrack struct {
	id        int
	format    codec.Format
	codec     mp4.Codec
	timeScale uint32
	maxPTS    int64
	nextDTS   int64
	pending   []muxerSample
}

// duration of the last sample, that has no successor.
func (t *muxerTrack) lastSampleDuration(samples []*fmp4.Sample) uint32 {
	last := samples[len(samples)-1]

	if t.format.MimeType == codec.MimeAudioRaw && t.format.ChannelCount > 0 {
		return uint32(len(last.Payload) / (t.format.ChannelCount * lpcmBytesPerSample))
	}

	// samples reordered by the encoder can share the same DTS.
	for i := len(samples) - 2; i >= 0; i-- {
		if samples[i].Duration != 0 {
			return samples[i].Duration
		}
	}

	if t.format.IsVideo() {
		fps := t.format.FrameRate
		if fps <= 0 {
			fps = defaultFrameRate
		}
		return t.timeScale / uint32(fps)
	}

	return defaultAudioFrames
}

// decodeTimestamps derives a DTS for each pending sample, since buffers carry PTS only.
// The DTS of a sample is the lowest PTS among the sample and its successors.
func (t *muxerTrack) decodeTimestamps() []int64 {
	n := len(t.pending)
	dts := make([]int64, n)

	dts[n-1] = t.pending[n-1].pts
	for i := n - 2; i >= 0; i-- {
		dts[i] = min(t.pending[i].pts, dts[i+1])
	}

	// DTS of the first sample was fixed by the previous part.
	if t.nextDTS >= 0 {
		dts[0] = t.nextDTS
	}

	for i := 1; i < n; i++ {
		dts[i] = max(dts[i], dts[i-1])
	}

	return dts
}

// timestamps in microseconds are rounded, since they are often truncated by producers.
func microsecondsToMp4(v int64, timeScale uint32) int64 {
	return (v*int64(timeScale) + 500000) / 1000000
}

// FMP4Muxer is a muxer that writes fragmented MP4 files.
type FMP4Muxer struct {
	f                  *os.File
	bw                 *bufio.Writer
	tracks             []*muxerTrack
	started            bool
	stopped            bool
	nextSequenceNumber uint32
	outBuf             seekablebuffer.Buffer
}

// CreateFMP4 creates a fragmented MP4 file.
func CreateFMP4(path string) (Muxer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &FMP4Muxer{
		f:  f,
		bw: bufio.NewWriter(f),
	}, nil
}

// AddTrack implements Muxer.
func (m *FMP4Muxer) AddTrack(format codec.Format) (int, error) {
	if m.started || m.stopped {
		return 0, fmt.Errorf("tracks must be added before start")
	}

	c, err := codecFromFormat(format)
	if err != nil {
		return 0, err
	}

	m.tracks = append(m.tracks, &muxerTrack{
		id:        len(m.tracks) + 1,
		format:    format,
		codec:     c,
		timeScale: timeScaleOf(format),
		maxPTS:    -1,
		nextDTS:   -1,
	})

	return len(m.tracks) - 1, nil
}

// Start implements Muxer.
func (m *FMP4Muxer) Start() error {
	if m.started || m.stopped {
		return fmt.Errorf("muxer already started")
	}

	if len(m.tracks) == 0 {
		return fmt.Errorf("no tracks added")
	}

	init := fmp4.Init{}

	for _, t := range m.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		})
	}

	err := init.Marshal(&m.outBuf)
	if err != nil {
		return err
	}

	_, err = m.bw.Write(m.outBuf.Bytes())
	if err != nil {
		return err
	}
	m.outBuf.Reset()

	m.started = true
	return nil
}

// WriteSampleData implements Muxer.
// Codec configuration buffers are not written, since configuration is stored in the init segment.
func (m *FMP4Muxer) WriteSampleData(track int, data []byte, info *codec.BufferInfo) error {
	if !m.started {
		return ErrNotStarted
	}

	if track < 0 || track >= len(m.tracks) {
		return ErrInvalidTrack
	}

	if (info.Flags & codec.FlagCodecConfig) != 0 {
		return nil
	}

	if info.Offset < 0 || info.Size < 0 || (info.Offset+info.Size) > len(data) {
		return fmt.Errorf("invalid sample range: offset %d, size %d", info.Offset, info.Size)
	}

	if info.Size == 0 {
		return nil
	}

	t := m.tracks[track]
	pts := microsecondsToMp4(info.PresentationTimeUs, t.timeScale)
	if pts < 0 {
		pts = 0
	}

	sync := !t.format.IsVideo() || (info.Flags&codec.FlagKeyFrame) != 0

	t.pending = append(t.pending, muxerSample{
		pts: pts,
		sample: &fmp4.Sample{
			IsNonSyncSample: !sync,
			Payload:         append([]byte(nil), data[info.Offset:info.Offset+info.Size]...),
		},
	})
	t.maxPTS = max(t.maxPTS, pts)

	// video parts start with a key frame when possible.
	span := t.maxPTS - t.pending[0].pts
	if (sync && span > durationGoToMp4(partDuration, t.timeScale)) ||
		span > durationGoToMp4(maxPartDuration, t.timeScale) {
		return m.flushTrack(t, false)
	}

	return nil
}

func (m *FMP4Muxer) flushTrack(t *muxerTrack, final bool) error {
	n := len(t.pending)
	if n == 0 || (!final && n < 2) {
		return nil
	}

	dts := t.decodeTimestamps()

	count := n
	if !final {
		// keep the last sample, whose duration is not known yet.
		count = n - 1
	}

	samples := make([]*fmp4.Sample, count)

	for i := 0; i < count; i++ {
		s := t.pending[i].sample
		s.PTSOffset = int32(t.pending[i].pts - dts[i])
		if i < (n - 1) {
			s.Duration = uint32(dts[i+1] - dts[i])
		}
		samples[i] = s
	}

	if final {
		samples[count-1].Duration = t.lastSampleDuration(samples)
	}

	part := fmp4.Part{
		SequenceNumber: m.nextSequenceNumber,
		Tracks: []*fmp4.PartTrack{{
			ID:       t.id,
			BaseTime: uint64(dts[0]),
			Samples:  samples,
		}},
	}
	m.nextSequenceNumber++

	err := part.Marshal(&m.outBuf)
	if err != nil {
		return err
	}

	_, err = m.bw.Write(m.outBuf.Bytes())
	if err != nil {
		return err
	}
	m.outBuf.Reset()

	if final {
		t.pending = nil
		t.nextDTS = -1
	} else {
		t.pending = append([]muxerSample(nil), t.pending[count:]...)
		t.nextDTS = dts[count]
	}

	return nil
}

// Stop implements Muxer. It writes pending samples.
func (m *FMP4Muxer) Stop() error {
	if !m.started {
		return ErrNotStarted
	}
	m.started = false
	m.stopped = true

	for _, t := range m.tracks {
		err := m.flushTrack(t, true)
		if err != nil {
			return err
		}
	}

	return m.bw.Flush()
}

// Release implements Muxer. It can be called multiple times.
func (m *FMP4Muxer) Release() error {
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}
