package codec

import (
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// mime types.
const (
	MimeAudioRaw  = "audio/raw"
	MimeAudioAAC  = "audio/mp4a-latm"
	MimeAudioOpus = "audio/opus"
	MimeVideoAVC  = "video/avc"
	MimeVideoHEVC = "video/hevc"
)

// media type prefixes.
const (
	PrefixAudio = "audio/"
	PrefixVideo = "video/"
)

// ColorFormat is the pixel layout of images exchanged through surfaces.
type ColorFormat int

// color formats.
const (
	ColorFormatNone ColorFormat = iota
	ColorFormatSurface
	ColorFormatI420
)

// Format describes a track or the configuration of a decoder or encoder.
type Format struct {
	MimeType string

	// audio
	SampleRate   int
	ChannelCount int

	// video
	Width          int
	Height         int
	FrameRate      int
	IFrameInterval int
	ColorFormat    ColorFormat

	BitRate      int
	MaxInputSize int

	// declared duration of the track
	Duration time.Duration

	// codec-specific configuration, nil when not known yet
	Config mp4.Codec
}

// IsAudio returns whether the format describes audio.
func (f Format) IsAudio() bool {
	return strings.HasPrefix(f.MimeType, PrefixAudio)
}

// IsVideo returns whether the format describes video.
func (f Format) IsVideo() bool {
	return strings.HasPrefix(f.MimeType, PrefixVideo)
}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f.IsVideo() {
		return fmt.Sprintf("%s %dx%d", f.MimeType, f.Width, f.Height)
	}
	return fmt.Sprintf("%s %dHz %dch", f.MimeType, f.SampleRate, f.ChannelCount)
}

// CompatibleWith checks whether samples of f can be fed to
// a decoder configured with other.
func (f Format) CompatibleWith(other Format) error {
	if f.MimeType != other.MimeType {
		return fmt.Errorf("mime type %s differs from %s", f.MimeType, other.MimeType)
	}

	if f.IsAudio() {
		if f.SampleRate != other.SampleRate || f.ChannelCount != other.ChannelCount {
			return fmt.Errorf("audio format %dHz %dch differs from %dHz %dch",
				f.SampleRate, f.ChannelCount, other.SampleRate, other.ChannelCount)
		}
		return nil
	}

	if f.Width != other.Width || f.Height != other.Height {
		return fmt.Errorf("video size %dx%d differs from %dx%d",
			f.Width, f.Height, other.Width, other.Height)
	}
	return nil
}
