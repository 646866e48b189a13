package slots

import (
	"fmt"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
)

// Input is an input buffer that has been queued by the client.
type Input struct {
	ID                 int
	Data               []byte
	PresentationTimeUs int64
	Flags              codec.BufferFlag
}

// Inputs is a fixed set of input buffers.
// IDs cycle between the client (Dequeue, Queue) and the processing goroutine (Next, Recycle).
type Inputs struct {
	buffers [][]byte
	pending []Input
	free    chan int
	queued  chan int
}

// NewInputs allocates Inputs.
func NewInputs(count int, size int) *Inputs {
	in := &Inputs{
		buffers: make([][]byte, count),
		pending: make([]Input, count),
		free:    make(chan int, count),
		queued:  make(chan int, count),
	}

	for i := range in.buffers {
		in.buffers[i] = make([]byte, size)
		in.free <- i
	}

	return in
}

// Dequeue returns the ID of a free buffer, or codec.InfoTryAgainLater.
func (in *Inputs) Dequeue(timeout time.Duration) int {
	select {
	case id := <-in.free:
		return id
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case id := <-in.free:
		return id
	case <-t.C:
		return codec.InfoTryAgainLater
	}
}

// Buffer returns the buffer with the given ID.
func (in *Inputs) Buffer(id int) []byte {
	if id < 0 || id >= len(in.buffers) {
		return nil
	}
	return in.buffers[id]
}

// Queue hands a dequeued buffer to the processing goroutine.
func (in *Inputs) Queue(id int, offset int, size int, ptsUs int64, flags codec.BufferFlag) error {
	if id < 0 || id >= len(in.buffers) {
		return fmt.Errorf("invalid input buffer ID: %d", id)
	}

	if offset < 0 || size < 0 || (offset+size) > len(in.buffers[id]) {
		return fmt.Errorf("invalid input range: offset %d, size %d", offset, size)
	}

	in.pending[id] = Input{
		ID:                 id,
		Data:               in.buffers[id][offset : offset+size],
		PresentationTimeUs: ptsUs,
		Flags:              flags,
	}

	select {
	case in.queued <- id:
		return nil
	default:
		return fmt.Errorf("input buffer %d queued twice", id)
	}
}

// Next waits for a queued buffer. It returns false when terminate is closed.
// Data is valid until Recycle is called.
func (in *Inputs) Next(terminate <-chan struct{}) (Input, bool) {
	select {
	case id := <-in.queued:
		return in.pending[id], true
	case <-terminate:
		return Input{}, false
	}
}

// Recycle gives a buffer back to the client.
func (in *Inputs) Recycle(id int) {
	in.pending[id] = Input{}
	in.free <- id
}
