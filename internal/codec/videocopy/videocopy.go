// Package videocopy contains a software engine for compressed video.
// The decoder renders access units onto a surface without decoding them,
// the encoder reads them back from its input surface.
package videocopy

import (
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediamerge/internal/codec"
)

const (
	defaultMaxInputSize = 655360
	inputCount          = 4
	outputCount         = 4
	surfaceDepth        = 2
)

// Engine is the video copy engine.
type Engine struct{}

func isSupported(mimeType string) bool {
	return mimeType == codec.MimeVideoAVC || mimeType == codec.MimeVideoHEVC
}

// NewDecoder implements codec.Engine.
func (Engine) NewDecoder(mimeType string) (codec.Decoder, error) {
	if !isSupported(mimeType) {
		return nil, codec.ErrUnsupported
	}
	return &Decoder{}, nil
}

// NewEncoder implements codec.Engine.
func (Engine) NewEncoder(mimeType string) (codec.Encoder, error) {
	if !isSupported(mimeType) {
		return nil, codec.ErrUnsupported
	}
	return &Encoder{}, nil
}

// splitAVCC splits an access unit in AVCC format into NALUs.
func splitAVCC(au []byte) ([][]byte, error) {
	var nalus [][]byte

	for len(au) != 0 {
		if len(au) < 4 {
			return nil, fmt.Errorf("invalid length prefix")
		}

		l := int(binary.BigEndian.Uint32(au))
		au = au[4:]

		if l == 0 || l > len(au) {
			return nil, fmt.Errorf("invalid NALU size: %d", l)
		}

		nalus = append(nalus, au[:l])
		au = au[l:]
	}

	return nalus, nil
}

// isRandomAccess returns whether an access unit can be decoded independently.
func isRandomAccess(mimeType string, au []byte) bool {
	nalus, err := splitAVCC(au)
	if err != nil {
		return false
	}

	for _, nalu := range nalus {
		switch mimeType {
		case codec.MimeVideoAVC:
			if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
				return true
			}

		case codec.MimeVideoHEVC:
			switch h265.NALUType((nalu[0] >> 1) & 0b111111) {
			case h265.NALUType_IDR_W_RADL, h265.NALUType_IDR_N_LP, h265.NALUType_CRA_NUT:
				return true
			}
		}
	}

	return false
}

// codecConfig returns parameter sets of a codec configuration in Annex-B format.
func codecConfig(c mp4.Codec) ([]byte, error) {
	var nalus [][]byte

	switch c := c.(type) {
	case *mp4.CodecH264:
		nalus = [][]byte{c.SPS, c.PPS}

	case *mp4.CodecH265:
		nalus = [][]byte{c.VPS, c.SPS, c.PPS}

	default:
		return nil, fmt.Errorf("missing codec configuration")
	}

	var buf []byte
	for _, nalu := range nalus {
		buf = append(buf, 0x00, 0x00, 0x00, 0x01)
		buf = append(buf, nalu...)
	}
	return buf, nil
}
