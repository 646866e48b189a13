package merge

import (
	"errors"
	"os"

	"github.com/bluenviron/mediamerge/internal/codec"
	"github.com/bluenviron/mediamerge/internal/container"
	"github.com/bluenviron/mediamerge/internal/logger"
	"github.com/bluenviron/mediamerge/internal/surface"
)

// releaser is a teardown step.
type releaser struct {
	name string
	fn   func() error
}

// releaseAll runs every step, even when a previous one fails.
// Failures are logged and discarded.
func releaseAll(l logger.Writer, steps ...releaser) {
	for _, s := range steps {
		if s.fn == nil {
			continue
		}

		err := s.fn()
		if err != nil {
			l.Log(logger.Warn, "unable to release %s: %v", s.name, err)
		}
	}
}

func codecReleaser(name string, c codec.Codec) releaser {
	if c == nil {
		return releaser{}
	}

	return releaser{name, func() error {
		err := c.Stop()
		if err != nil && !errors.Is(err, codec.ErrInvalidState) {
			c.Release() //nolint:errcheck
			return err
		}
		return c.Release()
	}}
}

func muxerReleaser(name string, m container.Muxer) releaser {
	if m == nil {
		return releaser{}
	}

	return releaser{name, func() error {
		err := m.Stop()
		if err != nil && !errors.Is(err, container.ErrNotStarted) {
			m.Release() //nolint:errcheck
			return err
		}
		return m.Release()
	}}
}

func surfaceReleaser(s *surface.Surface) releaser {
	if s == nil {
		return releaser{}
	}

	return releaser{"surface", func() error {
		s.Close()
		return nil
	}}
}

func rendererReleaser(r *surface.Renderer) releaser {
	if r == nil {
		return releaser{}
	}

	return releaser{"renderer", func() error {
		r.Release()
		return nil
	}}
}

func fileRemover(path string) releaser {
	return releaser{path, func() error {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}}
}
