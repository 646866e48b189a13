// Package segwatcher contains a watcher of the input folder.
package segwatcher

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bluenviron/mediamerge/internal/logger"
)

// SegWatcher watches a folder and signals when files have been
// added or modified in it, once no event occurred for Debounce.
// Only files with one of Extensions are considered, if set.
// Files in Exclude are ignored.
type SegWatcher struct {
	Dir        string
	Debounce   time.Duration
	Extensions []string
	Exclude    []string
	Parent     logger.Writer

	inner *fsnotify.Watcher

	// out
	signal chan struct{}
	done   chan struct{}
}

// Initialize initializes SegWatcher.
func (w *SegWatcher) Initialize() error {
	fi, err := os.Stat(w.Dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &os.PathError{Op: "watch", Path: w.Dir, Err: os.ErrInvalid}
	}

	w.inner, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	err = w.inner.Add(w.Dir)
	if err != nil {
		w.inner.Close() //nolint:errcheck
		return err
	}

	w.signal = make(chan struct{}, 1)
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes a SegWatcher.
func (w *SegWatcher) Close() {
	w.inner.Close() //nolint:errcheck
	<-w.done
}

// Log implements logger.Writer.
func (w *SegWatcher) Log(level logger.Level, format string, args ...interface{}) {
	w.Parent.Log(level, "[watcher] "+format, args...)
}

func (w *SegWatcher) run() {
	defer close(w.done)

	var settled <-chan time.Time

	for {
		select {
		case event, ok := <-w.inner.Events:
			if !ok {
				return
			}

			if !w.isRelevant(event) {
				continue
			}

			w.Log(logger.Debug, "%s %s", event.Op, filepath.Base(event.Name))

			settled = time.After(w.Debounce)

		case <-settled:
			settled = nil

			select {
			case w.signal <- struct{}{}:
			default:
			}

		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			w.Log(logger.Warn, "%v", err)
		}
	}
}

func (w *SegWatcher) isRelevant(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)

	if strings.HasPrefix(name, ".") {
		return false
	}

	if len(w.Extensions) != 0 {
		ext := strings.ToLower(filepath.Ext(name))
		found := false
		for _, e := range w.Extensions {
			if strings.ToLower(e) == ext {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	abs, _ := filepath.Abs(event.Name)
	for _, ex := range w.Exclude {
		if ex == abs {
			return false
		}
	}

	return event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Rename)
}

// Watch returns a channel that receives a value when the folder has settled
// after a change.
func (w *SegWatcher) Watch() <-chan struct{} {
	return w.signal
}
