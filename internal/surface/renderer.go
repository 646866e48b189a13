package surface

import (
	"errors"
	"time"
)

// ErrCannotScale is returned when an opaque image must be drawn at a different size.
var ErrCannotScale = errors.New("opaque images cannot be scaled")

const (
	rendererInputDepth = 1
	swapTimeout        = 5 * time.Second
)

// Renderer moves images from an input surface, written by a decoder,
// into an output surface, read by an encoder, scaling them to the output size.
//
// Usage: AwaitNewImage, DrawImage, SetPresentationTime, SwapBuffers.
type Renderer struct {
	input   *Surface
	output  *Surface
	current *Image
	drawn   *Image
	pts     time.Duration
}

// NewRenderer allocates a Renderer that draws into output.
func NewRenderer(output *Surface) *Renderer {
	return &Renderer{
		input:  New(output.Width, output.Height, rendererInputDepth),
		output: output,
	}
}

// Input returns the surface that receives images to render.
func (r *Renderer) Input() *Surface {
	return r.input
}

// AwaitNewImage waits for the next image on the input surface.
func (r *Renderer) AwaitNewImage(timeout time.Duration) error {
	img, err := r.input.Acquire(timeout)
	if err != nil {
		return err
	}
	r.current = img
	return nil
}

// DrawImage draws the last received image at the size of the output surface.
func (r *Renderer) DrawImage() error {
	if r.current == nil {
		return errors.New("no image to draw")
	}

	img := r.current
	r.current = nil

	sameSize := r.output.Width == 0 || (img.Width == r.output.Width && img.Height == r.output.Height)

	switch {
	case sameSize:
		cp := *img
		r.drawn = &cp

	case img.IsOpaque():
		return ErrCannotScale

	default:
		r.drawn = scaleI420(img, r.output.Width, r.output.Height)
	}

	return nil
}

// SetPresentationTime sets the presentation time of the drawn image, in nanoseconds.
func (r *Renderer) SetPresentationTime(ns int64) {
	r.pts = time.Duration(ns)
}

// SwapBuffers submits the drawn image to the output surface.
func (r *Renderer) SwapBuffers() error {
	if r.drawn == nil {
		return errors.New("nothing has been drawn")
	}

	img := r.drawn
	r.drawn = nil
	img.PresentationTime = r.pts

	return r.output.Post(img, swapTimeout)
}

// Release closes the input surface.
func (r *Renderer) Release() {
	r.input.Close()
	r.current = nil
	r.drawn = nil
}
