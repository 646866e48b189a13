// Package surface contains image surfaces shared between a producer and a consumer,
// and a renderer that draws images from one surface into another.
package surface

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when the surface has been closed.
	ErrClosed = errors.New("surface closed")

	// ErrTimeout is returned when no slot or image became available in time.
	ErrTimeout = errors.New("surface timeout")
)

// Image is an image carried by a surface.
// Raw images are I420 and use Planes and Strides.
// Opaque images carry a compressed access unit in Payload and cannot be transformed.
type Image struct {
	Width    int
	Height   int
	Planes   [3][]byte
	Strides  [3]int
	Payload  []byte
	KeyFrame bool

	// presentation time, relative to the start of the stream.
	PresentationTime time.Duration
}

// IsOpaque returns whether the image has no raw planes.
func (i *Image) IsOpaque() bool {
	return i.Planes[0] == nil
}

// Surface is a bounded queue of images between exactly one writer and one reader.
// The writer posts images and eventually calls Close.
// The reader acquires images until ErrClosed is returned.
type Surface struct {
	Width  int
	Height int

	images    chan *Image
	closed    chan struct{}
	closeOnce sync.Once
}

// New allocates a Surface that can hold up to depth images.
func New(width int, height int, depth int) *Surface {
	if depth < 1 {
		depth = 1
	}

	return &Surface{
		Width:  width,
		Height: height,
		images: make(chan *Image, depth),
		closed: make(chan struct{}),
	}
}

// Post queues an image. It must be called by the writer only.
func (s *Surface) Post(img *Image, timeout time.Duration) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case s.images <- img:
		return nil

	case <-s.closed:
		return ErrClosed

	case <-t.C:
		return ErrTimeout
	}
}

// Acquire dequeues an image. It must be called by the reader only.
// Images posted before Close are still returned; ErrClosed is returned after them.
func (s *Surface) Acquire(timeout time.Duration) (*Image, error) {
	select {
	case img := <-s.images:
		return img, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case img := <-s.images:
		return img, nil

	case <-s.closed:
		select {
		case img := <-s.images:
			return img, nil
		default:
			return nil, ErrClosed
		}

	case <-t.C:
		return nil, ErrTimeout
	}
}

// Close closes the surface. It can be called multiple times.
func (s *Surface) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
