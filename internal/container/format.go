package container

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediamerge/internal/codec"
)

const (
	videoTimeScale = 90000
	opusSampleRate = 48000
)

// formatFromCodec converts a codec stored in a file into a codec.Format.
func formatFromCodec(c mp4.Codec) (codec.Format, error) {
	switch c := c.(type) {
	case *mp4.CodecH264:
		var sps h264.SPS
		err := sps.Unmarshal(c.SPS)
		if err != nil {
			return codec.Format{}, fmt.Errorf("unable to parse H264 SPS: %w", err)
		}

		return codec.Format{
			MimeType: codec.MimeVideoAVC,
			Width:    sps.Width(),
			Height:   sps.Height(),
			Config:   c,
		}, nil

	case *mp4.CodecH265:
		var sps h265.SPS
		err := sps.Unmarshal(c.SPS)
		if err != nil {
			return codec.Format{}, fmt.Errorf("unable to parse H265 SPS: %w", err)
		}

		return codec.Format{
			MimeType: codec.MimeVideoHEVC,
			Width:    sps.Width(),
			Height:   sps.Height(),
			Config:   c,
		}, nil

	case *mp4.CodecMPEG4Audio:
		return codec.Format{
			MimeType:     codec.MimeAudioAAC,
			SampleRate:   c.Config.SampleRate,
			ChannelCount: c.Config.ChannelCount,
			Config:       c,
		}, nil

	case *mp4.CodecOpus:
		return codec.Format{
			MimeType:     codec.MimeAudioOpus,
			SampleRate:   opusSampleRate,
			ChannelCount: c.ChannelCount,
			Config:       c,
		}, nil

	case *mp4.CodecLPCM:
		return codec.Format{
			MimeType:     codec.MimeAudioRaw,
			SampleRate:   c.SampleRate,
			ChannelCount: c.ChannelCount,
			Config:       c,
		}, nil
	}

	return codec.Format{}, fmt.Errorf("unsupported codec: %T", c)
}

// codecFromFormat returns the codec to store in a file for a codec.Format.
func codecFromFormat(f codec.Format) (mp4.Codec, error) {
	if f.Config != nil {
		return f.Config, nil
	}

	if f.MimeType == codec.MimeAudioRaw {
		return &mp4.CodecLPCM{
			LittleEndian: true,
			BitDepth:     16,
			SampleRate:   f.SampleRate,
			ChannelCount: f.ChannelCount,
		}, nil
	}

	return nil, fmt.Errorf("format %v has no codec configuration", f)
}

func timeScaleOf(f codec.Format) uint32 {
	if f.IsVideo() || f.SampleRate <= 0 {
		return videoTimeScale
	}
	return uint32(f.SampleRate)
}
