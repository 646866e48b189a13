// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bluenviron/mediamerge/internal/conf/env"
	"github.com/bluenviron/mediamerge/internal/conf/yamlwrapper"
	"github.com/bluenviron/mediamerge/internal/logger"
)

// EnvPrefix is the prefix of environment variables that override the configuration.
const EnvPrefix = "MERGE"

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

// Conf is a configuration.
type Conf struct {
	// General
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogStructured   bool            `json:"logStructured"`
	LogFile         string          `json:"logFile"`

	// Inputs
	InputDir        string   `json:"inputDir"`
	Inputs          []string `json:"inputs"`
	InputExtensions []string `json:"inputExtensions"`

	// Outputs
	OutputDir   string `json:"outputDir"`
	AudioOutput string `json:"audioOutput"`
	VideoOutput string `json:"videoOutput"`
	FinalOutput string `json:"finalOutput"`
	TempDir     string `json:"tempDir"`

	// Stages
	Audio    bool `json:"audio"`
	Video    bool `json:"video"`
	Parallel bool `json:"parallel"`

	// Encoding
	AudioBitrate   int        `json:"audioBitrate"`
	VideoBitrate   int        `json:"videoBitrate"`
	FrameRate      int        `json:"frameRate"`
	IFrameInterval int        `json:"iFrameInterval"`
	VideoWidth     int        `json:"videoWidth"`
	VideoHeight    int        `json:"videoHeight"`
	MaxInputSize   StringSize `json:"maxInputSize"`
	CodecTimeout   Duration   `json:"codecTimeout"`
	Continuity     Continuity `json:"continuity"`

	// Watch and hooks
	Watch              bool     `json:"watch"`
	WatchDebounce      Duration `json:"watchDebounce"`
	RunOnMergeComplete string   `json:"runOnMergeComplete"`

	// Listeners
	API          bool     `json:"api"`
	APIAddress   string   `json:"apiAddress"`
	PPROF        bool     `json:"pprof"`
	PPROFAddress string   `json:"pprofAddress"`
	ReadTimeout  Duration `json:"readTimeout"`
	WriteTimeout Duration `json:"writeTimeout"`
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	conf.LogStructured = false
	conf.LogFile = "mediamerge.log"

	// Inputs
	conf.InputDir = "segments"
	conf.Inputs = []string{}
	conf.InputExtensions = []string{".mp4", ".m4s", ".m4a", ".m4v"}

	// Outputs
	conf.OutputDir = "."
	conf.AudioOutput = "audio_merge.mp4"
	conf.VideoOutput = "video_merge.mp4"
	conf.FinalOutput = "final_merge.mp4"
	conf.TempDir = ""

	// Stages
	conf.Audio = true
	conf.Video = true
	conf.Parallel = false

	// Encoding
	conf.AudioBitrate = 192000
	conf.VideoBitrate = 1000000
	conf.FrameRate = 30
	conf.IFrameInterval = 1
	conf.VideoWidth = 0
	conf.VideoHeight = 0
	conf.MaxInputSize = 655360
	conf.CodecTimeout = Duration(10 * time.Millisecond)
	conf.Continuity = ContinuityLastSample

	// Watch and hooks
	conf.Watch = false
	conf.WatchDebounce = Duration(2 * time.Second)
	conf.RunOnMergeComplete = ""

	// Listeners
	conf.API = false
	conf.APIAddress = ":9997"
	conf.PPROF = false
	conf.PPROFAddress = ":9999"
	conf.ReadTimeout = Duration(10 * time.Second)
	conf.WriteTimeout = Duration(10 * time.Second)
}

// Load loads a Conf.
// When fpath is empty, the first existing path in defaultConfPaths is used.
// The returned string is the path of the file that has been read, if any.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load(EnvPrefix, conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the configuration file is not explicitly set,
		// it is optional.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	err = yamlwrapper.Unmarshal(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Clone clones the configuration.
func (conf Conf) Clone() *Conf {
	enc, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}

	var dest Conf
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	return &dest
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	if conf.LogDestinations.contains(logger.DestinationFile) && conf.LogFile == "" {
		return fmt.Errorf("'logFile' must be set when 'file' is a log destination")
	}

	if !conf.Audio && !conf.Video {
		return fmt.Errorf("at least one between 'audio' and 'video' must be enabled")
	}

	if len(conf.Inputs) == 0 && conf.InputDir == "" {
		return fmt.Errorf("either 'inputs' or 'inputDir' must be set")
	}

	if conf.FinalOutput == "" {
		return fmt.Errorf("'finalOutput' must be set")
	}

	if conf.Audio && conf.AudioOutput == "" {
		return fmt.Errorf("'audioOutput' must be set when audio is enabled")
	}

	if conf.Video && conf.VideoOutput == "" {
		return fmt.Errorf("'videoOutput' must be set when video is enabled")
	}

	if conf.AudioBitrate <= 0 {
		return fmt.Errorf("'audioBitrate' must be greater than zero")
	}

	if conf.VideoBitrate <= 0 {
		return fmt.Errorf("'videoBitrate' must be greater than zero")
	}

	if conf.FrameRate <= 0 {
		return fmt.Errorf("'frameRate' must be greater than zero")
	}

	if conf.IFrameInterval < 0 {
		return fmt.Errorf("'iFrameInterval' must not be negative")
	}

	if (conf.VideoWidth == 0) != (conf.VideoHeight == 0) {
		return fmt.Errorf("'videoWidth' and 'videoHeight' must be both set or both zero")
	}

	if conf.VideoWidth < 0 || conf.VideoHeight < 0 ||
		(conf.VideoWidth%16) != 0 || (conf.VideoHeight%16) != 0 {
		return fmt.Errorf("'videoWidth' and 'videoHeight' must be multiples of 16")
	}

	if conf.MaxInputSize == 0 {
		return fmt.Errorf("'maxInputSize' must be greater than zero")
	}

	if conf.CodecTimeout <= 0 {
		return fmt.Errorf("'codecTimeout' must be greater than zero")
	}

	if conf.Watch && conf.WatchDebounce <= 0 {
		return fmt.Errorf("'watchDebounce' must be greater than zero")
	}

	if conf.Watch && len(conf.Inputs) != 0 {
		return fmt.Errorf("'watch' requires 'inputDir' instead of 'inputs'")
	}

	return nil
}

// UnmarshalJSON implements json.Unmarshaler. It fills the configuration with default values.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}
