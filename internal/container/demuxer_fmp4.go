package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/bluenviron/mediamerge/internal/codec"
)

const sampleFlagIsNonSyncSample = 1 << 16

// trun flags.
const (
	trunDataOffsetPresent       = 0x000001
	trunFirstSampleFlagsPresent = 0x000004
	trunSampleDurationPresent   = 0x000100
	trunSampleSizePresent       = 0x000200
	trunSampleFlagsPresent      = 0x000400
)

type demuxerSample struct {
	offset    int64
	size      uint32
	dts       int64
	duration  uint32
	ptsOffset int32
	sync      bool
}

type demuxerTrack struct {
	initTrack *fmp4.InitTrack
	format    codec.Format
	samples   []demuxerSample
}

func (t *demuxerTrack) presentationTimeUs(s demuxerSample) int64 {
	pts := s.dts + int64(s.ptsOffset)
	return durationMp4ToGo(pts, t.initTrack.TimeScale).Microseconds()
}

// FMP4Demuxer is a demuxer of fragmented MP4 files.
type FMP4Demuxer struct {
	f        *os.File
	tracks   []*demuxerTrack
	selected *demuxerTrack
	cursor   int
}

// OpenFMP4 opens a fragmented MP4 file and indexes its samples.
func OpenFMP4(path string) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	d := &FMP4Demuxer{f: f}

	err = d.index()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return d, nil
}

func readBoxHeader(r io.Reader) (uint32, string, error) {
	buf := make([]byte, 8)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, "", err
	}
	return binary.BigEndian.Uint32(buf[:4]), string(buf[4:]), nil
}

func readInit(r io.ReadSeeker) (*fmp4.Init, error) {
	ftypSize, typ, err := readBoxHeader(r)
	if err != nil {
		return nil, err
	}
	if typ != "ftyp" {
		return nil, fmt.Errorf("ftyp box not found")
	}

	_, err = r.Seek(int64(ftypSize), io.SeekStart)
	if err != nil {
		return nil, err
	}

	moovSize, typ, err := readBoxHeader(r)
	if err != nil {
		return nil, err
	}
	if typ != "moov" {
		return nil, fmt.Errorf("moov box not found")
	}

	_, err = r.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, ftypSize+moovSize)
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return nil, err
	}

	var init fmp4.Init
	err = init.Unmarshal(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}

	return &init, nil
}

func (d *FMP4Demuxer) findTrack(id int) *demuxerTrack {
	for _, t := range d.tracks {
		if t.initTrack.ID == id {
			return t
		}
	}
	return nil
}

func (d *FMP4Demuxer) index() error {
	init, err := readInit(d.f)
	if err != nil {
		return err
	}

	for _, it := range init.Tracks {
		format, err := formatFromCodec(it.Codec)
		if err != nil {
			return err
		}

		d.tracks = append(d.tracks, &demuxerTrack{
			initTrack: it,
			format:    format,
		})
	}

	_, err = d.f.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}

	moofOffset := uint64(0)
	var curTrack *demuxerTrack
	var baseTime int64
	var tfhd *mp4.Tfhd
	var nextDataOffset int64

	_, err = mp4.ReadBoxStructure(d.f, func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type.String() {
		case "moof":
			moofOffset = h.BoxInfo.Offset
			return h.Expand()

		case "traf":
			return h.Expand()

		case "tfhd":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfhd = box.(*mp4.Tfhd)

			curTrack = d.findTrack(int(tfhd.TrackID))
			if curTrack == nil {
				return nil, fmt.Errorf("invalid track ID: %v", tfhd.TrackID)
			}

			if tfhd.CheckFlag(mp4.TfhdBaseDataOffsetPresent) {
				nextDataOffset = int64(tfhd.BaseDataOffset)
			} else {
				nextDataOffset = int64(moofOffset)
			}

		case "tfdt":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfdt := box.(*mp4.Tfdt)

			if tfdt.GetVersion() == 0 {
				baseTime = int64(tfdt.BaseMediaDecodeTimeV0)
			} else {
				baseTime = int64(tfdt.BaseMediaDecodeTimeV1)
			}

		case "trun":
			if curTrack == nil {
				return nil, fmt.Errorf("trun box without tfhd")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			trun := box.(*mp4.Trun)

			// data offset is relative to the base offset of the fragment.
			// When missing, data follows the one of the previous run.
			dataOffset := nextDataOffset
			if trun.CheckFlag(trunDataOffsetPresent) {
				if tfhd.CheckFlag(mp4.TfhdBaseDataOffsetPresent) {
					dataOffset = int64(tfhd.BaseDataOffset) + int64(trun.DataOffset)
				} else {
					dataOffset = int64(moofOffset) + int64(trun.DataOffset)
				}
			}

			dts := baseTime

			for i, e := range trun.Entries {
				if !trun.CheckFlag(trunSampleDurationPresent) {
					e.SampleDuration = tfhd.DefaultSampleDuration
				}
				if !trun.CheckFlag(trunSampleSizePresent) {
					e.SampleSize = tfhd.DefaultSampleSize
				}
				if !trun.CheckFlag(trunSampleFlagsPresent) {
					e.SampleFlags = tfhd.DefaultSampleFlags
					if i == 0 && trun.CheckFlag(trunFirstSampleFlagsPresent) {
						e.SampleFlags = trun.FirstSampleFlags
					}
				}

				ptsOffset := e.SampleCompositionTimeOffsetV1
				if trun.GetVersion() == 0 {
					ptsOffset = int32(e.SampleCompositionTimeOffsetV0)
				}

				curTrack.samples = append(curTrack.samples, demuxerSample{
					offset:    dataOffset,
					size:      e.SampleSize,
					dts:       dts,
					duration:  e.SampleDuration,
					ptsOffset: ptsOffset,
					sync:      (e.SampleFlags & sampleFlagIsNonSyncSample) == 0,
				})

				dataOffset += int64(e.SampleSize)
				dts += int64(e.SampleDuration)
			}

			nextDataOffset = dataOffset
			baseTime = dts
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	for _, t := range d.tracks {
		if len(t.samples) == 0 {
			continue
		}

		first := t.samples[0].dts
		last := t.samples[len(t.samples)-1]
		end := last.dts + int64(last.duration)

		t.format.Duration = durationMp4ToGo(end-first, t.initTrack.TimeScale)
	}

	return nil
}

// TrackCount implements Demuxer.
func (d *FMP4Demuxer) TrackCount() int {
	return len(d.tracks)
}

// TrackFormat implements Demuxer.
func (d *FMP4Demuxer) TrackFormat(i int) (codec.Format, error) {
	if i < 0 || i >= len(d.tracks) {
		return codec.Format{}, ErrInvalidTrack
	}
	return d.tracks[i].format, nil
}

// SelectTrack implements Demuxer.
func (d *FMP4Demuxer) SelectTrack(i int) error {
	if i < 0 || i >= len(d.tracks) {
		return ErrInvalidTrack
	}
	d.selected = d.tracks[i]
	d.cursor = 0
	return nil
}

func (d *FMP4Demuxer) current() (demuxerSample, bool) {
	if d.selected == nil || d.cursor >= len(d.selected.samples) {
		return demuxerSample{}, false
	}
	return d.selected.samples[d.cursor], true
}

// ReadSampleData implements Demuxer.
func (d *FMP4Demuxer) ReadSampleData(buf []byte) (int, error) {
	s, ok := d.current()
	if !ok {
		return -1, nil
	}

	if int(s.size) > len(buf) {
		return 0, fmt.Errorf("sample size (%d) exceeds buffer size (%d)", s.size, len(buf))
	}

	n, err := d.f.ReadAt(buf[:s.size], s.offset)
	if err != nil {
		return 0, err
	}
	if n != int(s.size) {
		return 0, fmt.Errorf("partial read")
	}

	return n, nil
}

// SampleTime implements Demuxer.
func (d *FMP4Demuxer) SampleTime() int64 {
	s, ok := d.current()
	if !ok {
		return -1
	}
	return d.selected.presentationTimeUs(s)
}

// SampleFlags implements Demuxer.
func (d *FMP4Demuxer) SampleFlags() codec.BufferFlag {
	s, ok := d.current()
	if !ok || !s.sync {
		return 0
	}
	return codec.FlagKeyFrame
}

// Advance implements Demuxer.
func (d *FMP4Demuxer) Advance() bool {
	if _, ok := d.current(); !ok {
		return false
	}
	d.cursor++
	_, ok := d.current()
	return ok
}

// SeekTo implements Demuxer.
func (d *FMP4Demuxer) SeekTo(timeUs int64) error {
	if d.selected == nil {
		return fmt.Errorf("no track selected")
	}

	firstSync := -1
	lastSync := -1

	for i, s := range d.selected.samples {
		if !s.sync {
			continue
		}
		if firstSync < 0 {
			firstSync = i
		}
		if d.selected.presentationTimeUs(s) <= timeUs {
			lastSync = i
		}
	}

	switch {
	case lastSync >= 0:
		d.cursor = lastSync
	case firstSync >= 0:
		d.cursor = firstSync
	default:
		d.cursor = 0
	}

	return nil
}

// Release implements Demuxer.
func (d *FMP4Demuxer) Release() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
