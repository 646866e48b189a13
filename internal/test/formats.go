package test

import (
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// CodecH264 is a test H264 codec.
var CodecH264 = &mp4.CodecH264{
	SPS: []byte{ // 1920x1080 baseline
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	},
	PPS: []byte{0x08, 0x06, 0x07, 0x08},
}

// CodecLPCM returns a test LPCM codec.
func CodecLPCM(sampleRate int, channelCount int) *mp4.CodecLPCM {
	return &mp4.CodecLPCM{
		LittleEndian: true,
		BitDepth:     16,
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
	}
}
