package test

import (
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// SegmentTrack is a track of a test segment.
type SegmentTrack struct {
	Codec     mp4.Codec
	TimeScale uint32
	BaseTime  uint64
	Samples   []*fmp4.Sample
}

// WriteSegment writes a fragmented MP4 file.
// Samples of each track are stored in a dedicated fragment.
func WriteSegment(path string, tracks []SegmentTrack) error {
	init := fmp4.Init{}

	for i, t := range tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        i + 1,
			TimeScale: t.TimeScale,
			Codec:     t.Codec,
		})
	}

	var buf seekablebuffer.Buffer
	err := init.Marshal(&buf)
	if err != nil {
		return err
	}

	out := append([]byte(nil), buf.Bytes()...)

	for i, t := range tracks {
		if len(t.Samples) == 0 {
			continue
		}

		part := fmp4.Part{
			SequenceNumber: uint32(i),
			Tracks: []*fmp4.PartTrack{{
				ID:       i + 1,
				BaseTime: t.BaseTime,
				Samples:  t.Samples,
			}},
		}

		buf.Reset()
		err = part.Marshal(&buf)
		if err != nil {
			return err
		}

		out = append(out, buf.Bytes()...)
	}

	return os.WriteFile(path, out, 0o644)
}

// VideoTrack returns a H264 track with count frames at the given frame rate.
// The first frame of every second is an IDR frame.
func VideoTrack(count int, fps int) SegmentTrack {
	samples := make([]*fmp4.Sample, count)

	for i := range samples {
		nalu := []byte{0x41, 0x9a, byte(i)}
		if (i % fps) == 0 {
			nalu = []byte{0x65, 0x88, byte(i)}
		}

		samples[i] = &fmp4.Sample{
			Duration:        uint32(90000 / fps),
			IsNonSyncSample: (i % fps) != 0,
			Payload:         append([]byte{0, 0, 0, byte(len(nalu))}, nalu...),
		}
	}

	return SegmentTrack{
		Codec:     CodecH264,
		TimeScale: 90000,
		Samples:   samples,
	}
}

// AudioTrack returns a 16-bit LPCM track of the given duration,
// split into samples of chunkFrames frames.
// Every frame is filled with value.
func AudioTrack(sampleRate int, channelCount int, duration time.Duration, chunkFrames int, value byte) SegmentTrack {
	totalFrames := int(duration * time.Duration(sampleRate) / time.Second)
	var samples []*fmp4.Sample

	for done := 0; done < totalFrames; done += chunkFrames {
		frames := chunkFrames
		if (done + frames) > totalFrames {
			frames = totalFrames - done
		}

		payload := make([]byte, frames*channelCount*2)
		for i := range payload {
			payload[i] = value
		}

		samples = append(samples, &fmp4.Sample{
			Duration: uint32(frames),
			Payload:  payload,
		})
	}

	return SegmentTrack{
		Codec:     CodecLPCM(sampleRate, channelCount),
		TimeScale: uint32(sampleRate),
		Samples:   samples,
	}
}
