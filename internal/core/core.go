// Package core contains the main struct of the software.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/mediamerge/internal/api"
	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/codec/lpcm"
	"github.com/bluenviron/mediamerge/internal/codec/videocopy"
	"github.com/bluenviron/mediamerge/internal/conf"
	"github.com/bluenviron/mediamerge/internal/container"
	"github.com/bluenviron/mediamerge/internal/externalcmd"
	"github.com/bluenviron/mediamerge/internal/logger"
	"github.com/bluenviron/mediamerge/internal/merge"
	"github.com/bluenviron/mediamerge/internal/pprof"
	"github.com/bluenviron/mediamerge/internal/segwatcher"
	"github.com/bluenviron/mediamerge/internal/sequence"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"mediamerge.yml",
	"/usr/local/etc/mediamerge.yml",
	"/etc/mediamerge/mediamerge.yml",
}

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" optional:""`
	InputDir string `help:"folder containing the files to merge, overrides inputDir"`
	Output   string `help:"path of the merged file, overrides finalOutput"`
}

var codecs = codec.Registry{
	lpcm.Engine{},
	videocopy.Engine{},
}

// Core is an instance of mediamerge.
type Core struct {
	ctx             context.Context
	ctxCancel       func()
	confPath        string
	conf            *conf.Conf
	logger          *logger.Logger
	externalCmdPool *externalcmd.Pool
	pprof           *pprof.PPROF
	api             *api.API
	segWatcher      *segwatcher.SegWatcher
	started         time.Time

	mutex  sync.RWMutex
	merger *merge.Merger
	hook   *externalcmd.Cmd
	err    error

	// out
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("mediamerge "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is mediamerge.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:       ctx,
		ctxCancel: ctxCancel,
		started:   time.Now(),
		done:      make(chan struct{}),
	}

	p.conf, p.confPath, err = conf.Load(cli.Confpath, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	if cli.InputDir != "" {
		p.conf.InputDir = cli.InputDir
		p.conf.Inputs = nil
	}
	if cli.Output != "" {
		p.conf.FinalOutput = cli.Output
	}

	err = p.createResources()
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources()
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit and returns the error of the last merge.
func (p *Core) Wait() error {
	<-p.done
	return p.err
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

func (p *Core) createResources() error {
	p.logger = &logger.Logger{
		Level:        logger.Level(p.conf.LogLevel),
		Destinations: p.conf.LogDestinations,
		Structured:   p.conf.LogStructured,
		File:         p.conf.LogFile,
	}
	err := p.logger.Initialize()
	if err != nil {
		p.logger = nil
		return err
	}

	p.Log(logger.Info, "mediamerge %s", version)

	if p.confPath != "" {
		a, _ := filepath.Abs(p.confPath)
		p.Log(logger.Info, "configuration loaded from %s", a)
	} else {
		p.Log(logger.Warn, "configuration file not found, using the default configuration")
	}

	gin.SetMode(gin.ReleaseMode)

	p.externalCmdPool = &externalcmd.Pool{}
	p.externalCmdPool.Initialize()

	if p.conf.PPROF {
		p.pprof = &pprof.PPROF{
			Address:      p.conf.PPROFAddress,
			ReadTimeout:  p.conf.ReadTimeout,
			WriteTimeout: p.conf.WriteTimeout,
			Parent:       p,
		}
		err = p.pprof.Initialize()
		if err != nil {
			p.pprof = nil
			return err
		}
	}

	if p.conf.API {
		p.api = &api.API{
			Version:      version,
			Started:      p.started,
			Address:      p.conf.APIAddress,
			ReadTimeout:  p.conf.ReadTimeout,
			WriteTimeout: p.conf.WriteTimeout,
			MergeManager: p,
			Parent:       p,
		}
		err = p.api.Initialize()
		if err != nil {
			p.api = nil
			return err
		}
	}

	if p.conf.Watch {
		if len(p.conf.Inputs) != 0 {
			return fmt.Errorf("watch mode requires 'inputDir' instead of 'inputs'")
		}

		p.segWatcher = &segwatcher.SegWatcher{
			Dir:        p.conf.InputDir,
			Debounce:   time.Duration(p.conf.WatchDebounce),
			Extensions: p.conf.InputExtensions,
			Exclude:    p.outputPaths(),
			Parent:     p,
		}
		err = p.segWatcher.Initialize()
		if err != nil {
			p.segWatcher = nil
			return err
		}
	}

	return nil
}

func (p *Core) closeResources() {
	p.mutex.RLock()
	m := p.merger
	hook := p.hook
	p.mutex.RUnlock()

	if m != nil {
		m.Stop()
	}

	if hook != nil {
		hook.Close()
	}

	if p.segWatcher != nil {
		p.segWatcher.Close()
		p.segWatcher = nil
	}

	if p.api != nil {
		p.api.Close()
		p.api = nil
	}

	if p.pprof != nil {
		p.pprof.Close()
		p.pprof = nil
	}

	if p.externalCmdPool != nil {
		p.externalCmdPool.Close()
		p.externalCmdPool = nil
	}

	if p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

// outputPaths returns the absolute paths of the files written by a merge.
func (p *Core) outputPaths() []string {
	var out []string
	for _, name := range []string{p.conf.FinalOutput, p.conf.AudioOutput, p.conf.VideoOutput} {
		if name == "" {
			continue
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(p.conf.OutputDir, name)
		}
		a, err := filepath.Abs(name)
		if err == nil {
			out = append(out, a)
		}
	}
	return out
}

// inputs resolves the sequence to merge.
// Outputs of previous merges are left out, since they may be stored
// in the input folder.
func (p *Core) inputs() ([]string, error) {
	paths, err := sequence.Resolve(p.conf.Inputs, p.conf.InputDir, p.conf.InputExtensions)
	if err != nil {
		return nil, err
	}

	excluded := p.outputPaths()
	out := paths[:0]

outer:
	for _, pa := range paths {
		a, _ := filepath.Abs(pa)
		for _, ex := range excluded {
			if a == ex {
				continue outer
			}
		}
		out = append(out, pa)
	}

	if len(out) == 0 {
		return nil, sequence.ErrEmpty
	}

	return out, nil
}

func (p *Core) startMerge() error {
	inputs, err := p.inputs()
	if err != nil {
		return err
	}

	m := &merge.Merger{
		Conf:        p.conf,
		Inputs:      inputs,
		Codecs:      codecs,
		OpenDemuxer: container.OpenFMP4,
		CreateMuxer: container.CreateFMP4,
		Parent:      p,
	}
	err = m.Initialize()
	if err != nil {
		return err
	}

	p.mutex.Lock()
	p.merger = m
	p.mutex.Unlock()

	return nil
}

// startHook runs runOnMergeComplete.
// A hook of a previous merge that is still running is interrupted.
func (p *Core) startHook(outputs merge.Outputs) <-chan struct{} {
	if p.conf.RunOnMergeComplete == "" {
		return nil
	}

	p.mutex.RLock()
	prev := p.hook
	p.mutex.RUnlock()

	if prev != nil {
		prev.Close()
	}

	p.Log(logger.Info, "runOnMergeComplete command started")

	hook := externalcmd.NewCmd(
		p.externalCmdPool,
		p.conf.RunOnMergeComplete,
		externalcmd.Environment{
			"MERGE_OUTPUT":       outputs.Final,
			"MERGE_AUDIO_OUTPUT": outputs.Audio,
			"MERGE_VIDEO_OUTPUT": outputs.Video,
		},
		func(err error) {
			if err != nil {
				p.Log(logger.Warn, "runOnMergeComplete command failed: %v", err)
			} else {
				p.Log(logger.Info, "runOnMergeComplete command exited")
			}
		})

	p.mutex.Lock()
	p.hook = hook
	p.mutex.Unlock()

	return hook.Done()
}

func (p *Core) run() {
	defer close(p.done)

	var mergeDone <-chan struct{}
	var hookDone <-chan struct{}
	rerun := false

	start := func() {
		err := p.startMerge()
		if err != nil {
			p.err = err
			p.Log(logger.Error, "%s", err)
			return
		}

		p.err = nil
		mergeDone = p.merger.Done()
	}

	start()

	var filesChanged <-chan struct{}
	if p.segWatcher != nil {
		filesChanged = p.segWatcher.Watch()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

outer:
	for {
		// without watch mode, exit once there's nothing left to do
		if mergeDone == nil && hookDone == nil && p.segWatcher == nil {
			break outer
		}

		select {
		case <-mergeDone:
			mergeDone = nil

			err := p.merger.Wait()
			switch {
			case err == nil:
				p.err = nil
				hookDone = p.startHook(p.merger.Outputs())

			case errors.Is(err, merge.ErrTerminated):
				p.err = nil

			default:
				p.err = err
			}

			if rerun {
				rerun = false
				p.Log(logger.Info, "input folder changed during the merge, merging again")
				start()
			}

		case <-hookDone:
			hookDone = nil

		case <-filesChanged:
			if mergeDone != nil {
				rerun = true
				continue
			}

			p.Log(logger.Info, "input folder changed, merging again")
			start()

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			break outer

		case <-p.ctx.Done():
			break outer
		}
	}

	p.ctxCancel()

	p.closeResources()
}

// APIMergeStatus is called by api.
func (p *Core) APIMergeStatus() (merge.Status, error) {
	p.mutex.RLock()
	m := p.merger
	p.mutex.RUnlock()

	if m == nil {
		return merge.Status{}, api.ErrNoMerge
	}

	return m.Status(), nil
}

// APIMergeStop is called by api.
func (p *Core) APIMergeStop() error {
	p.mutex.RLock()
	m := p.merger
	p.mutex.RUnlock()

	if m == nil {
		return api.ErrNoMerge
	}

	m.Stop()
	return nil
}
