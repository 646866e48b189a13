package conf

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediamerge/internal/logger"
)

func createTempFile(t *testing.T, byts []byte) string {
	tmpf, err := os.CreateTemp(t.TempDir(), "mediamerge-conf-")
	require.NoError(t, err)
	defer tmpf.Close()

	_, err = tmpf.Write(byts)
	require.NoError(t, err)

	return tmpf.Name()
}

func TestConfFromFile(t *testing.T) {
	tmpf := createTempFile(t, []byte("logLevel: debug\n"+
		"inputDir: /recordings\n"+
		"videoWidth: 640\n"+
		"videoHeight: 480\n"+
		"parallel: yes\n"+
		"maxInputSize: 1MiB\n"+
		"codecTimeout: 20ms\n"+
		"continuity: lastSampleEnd\n"))

	conf, confPath, err := Load(tmpf, nil)
	require.NoError(t, err)
	require.Equal(t, tmpf, confPath)

	require.Equal(t, LogLevel(logger.Debug), conf.LogLevel)
	require.Equal(t, "/recordings", conf.InputDir)
	require.Equal(t, 640, conf.VideoWidth)
	require.Equal(t, 480, conf.VideoHeight)
	require.Equal(t, true, conf.Parallel)
	require.Equal(t, StringSize(1048576), conf.MaxInputSize)
	require.Equal(t, Duration(20*time.Millisecond), conf.CodecTimeout)
	require.Equal(t, ContinuityLastSampleEnd, conf.Continuity)

	// defaults are kept for missing keys
	require.Equal(t, 192000, conf.AudioBitrate)
	require.Equal(t, 1000000, conf.VideoBitrate)
	require.Equal(t, 30, conf.FrameRate)
	require.Equal(t, LogDestinations{logger.DestinationStdout}, conf.LogDestinations)
	require.Equal(t, []string{".mp4", ".m4s", ".m4a", ".m4v"}, conf.InputExtensions)
	require.Equal(t, "final_merge.mp4", conf.FinalOutput)
}

func TestConfDefaultsWithoutFile(t *testing.T) {
	conf, confPath, err := Load("", []string{"/nonexisting/mediamerge.yml"})
	require.NoError(t, err)
	require.Equal(t, "", confPath)
	require.Equal(t, StringSize(655360), conf.MaxInputSize)
	require.Equal(t, Duration(10*time.Millisecond), conf.CodecTimeout)
	require.Equal(t, ContinuityLastSample, conf.Continuity)
	require.Equal(t, true, conf.Audio)
	require.Equal(t, true, conf.Video)
}

func TestConfFromEnvironment(t *testing.T) {
	t.Setenv("MERGE_VIDEOBITRATE", "2000000")
	t.Setenv("MERGE_AUDIO", "no")
	t.Setenv("MERGE_INPUTS", "a.mp4,b.mp4")
	t.Setenv("MERGE_LOGDESTINATIONS", "stdout,file")
	t.Setenv("MERGE_WATCHDEBOUNCE", "5s")

	tmpf := createTempFile(t, []byte("{}"))

	conf, _, err := Load(tmpf, nil)
	require.NoError(t, err)

	require.Equal(t, 2000000, conf.VideoBitrate)
	require.Equal(t, false, conf.Audio)
	require.Equal(t, []string{"a.mp4", "b.mp4"}, conf.Inputs)
	require.Equal(t, LogDestinations{logger.DestinationStdout, logger.DestinationFile}, conf.LogDestinations)
	require.Equal(t, Duration(5*time.Second), conf.WatchDebounce)
}

func TestConfErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		conf string
		err  string
	}{
		{
			"unknown field",
			"unknown: yes\n",
			"json: unknown field \"unknown\"",
		},
		{
			"invalid log level",
			"logLevel: verbose\n",
			"invalid log level: 'verbose'",
		},
		{
			"no stages",
			"audio: no\nvideo: no\n",
			"at least one between 'audio' and 'video' must be enabled",
		},
		{
			"width not multiple of 16",
			"videoWidth: 650\nvideoHeight: 480\n",
			"'videoWidth' and 'videoHeight' must be multiples of 16",
		},
		{
			"width without height",
			"videoWidth: 640\n",
			"'videoWidth' and 'videoHeight' must be both set or both zero",
		},
		{
			"zero bitrate",
			"audioBitrate: 0\n",
			"'audioBitrate' must be greater than zero",
		},
		{
			"zero codec timeout",
			"codecTimeout: 0s\n",
			"'codecTimeout' must be greater than zero",
		},
		{
			"invalid continuity",
			"continuity: none\n",
			"invalid continuity: 'none'",
		},
		{
			"nil inputs",
			"inputs:\n",
			"cannot set slice 'inputs' to nil",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			tmpf := createTempFile(t, []byte(ca.conf))
			_, _, err := Load(tmpf, nil)
			require.EqualError(t, err, ca.err)
		})
	}
}

func TestConfClone(t *testing.T) {
	conf, _, err := Load("", nil)
	require.NoError(t, err)

	clone := conf.Clone()
	require.Equal(t, conf, clone)

	clone.InputExtensions[0] = ".mov"
	require.Equal(t, ".mp4", conf.InputExtensions[0])
}

func TestStringSizeMarshal(t *testing.T) {
	enc, err := StringSize(655360).MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"640K"`, string(enc))
}
