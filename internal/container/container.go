// Package container contains demuxers and muxers.
package container

import (
	"errors"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
)

var (
	// ErrNotStarted is returned when a muxer is used before Start or after Stop.
	ErrNotStarted = errors.New("muxer not started")

	// ErrInvalidTrack is returned when a track index is out of range.
	ErrInvalidTrack = errors.New("invalid track index")
)

// Demuxer reads samples from a media file, one selected track at a time.
type Demuxer interface {
	TrackCount() int
	TrackFormat(i int) (codec.Format, error)
	SelectTrack(i int) error

	// ReadSampleData copies the current sample into buf and returns its size,
	// or -1 when there are no more samples.
	ReadSampleData(buf []byte) (int, error)

	// SampleTime returns the presentation time of the current sample in microseconds,
	// or -1 when there are no more samples.
	SampleTime() int64

	SampleFlags() codec.BufferFlag

	// Advance moves to the next sample. It returns false when there are no more samples.
	Advance() bool

	// SeekTo moves to the last sync sample whose presentation time is not after timeUs,
	// or to the first sync sample.
	SeekTo(timeUs int64) error

	Release() error
}

// Muxer writes samples into a media file.
// Tracks must be added before Start.
type Muxer interface {
	AddTrack(format codec.Format) (int, error)
	Start() error
	WriteSampleData(track int, data []byte, info *codec.BufferInfo) error
	Stop() error
	Release() error
}

// OpenDemuxerFunc opens a demuxer.
type OpenDemuxerFunc func(path string) (Demuxer, error)

// CreateMuxerFunc creates a muxer.
type CreateMuxerFunc func(path string) (Muxer, error)

func durationGoToMp4(v time.Duration, timeScale uint32) int64 {
	timeScale64 := int64(timeScale)
	secs := v / time.Second
	dec := v % time.Second
	return int64(secs)*timeScale64 + int64(dec)*timeScale64/int64(time.Second)
}

func durationMp4ToGo(v int64, timeScale uint32) time.Duration {
	timeScale64 := int64(timeScale)
	secs := v / timeScale64
	dec := v % timeScale64
	return time.Duration(secs)*time.Second + time.Duration(dec)*time.Second/time.Duration(timeScale64)
}
