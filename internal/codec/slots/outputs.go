package slots

import (
	"fmt"
	"time"

	"github.com/bluenviron/mediamerge/internal/codec"
)

// Outputs is a fixed set of output buffers.
// IDs cycle between the processing goroutine (Emit) and the client (Dequeue, Release).
type Outputs struct {
	buffers [][]byte
	infos   []codec.BufferInfo
	free    chan int
	ready   chan int
}

// NewOutputs allocates Outputs.
func NewOutputs(count int) *Outputs {
	o := &Outputs{
		buffers: make([][]byte, count),
		infos:   make([]codec.BufferInfo, count),
		free:    make(chan int, count),

		// one extra entry for a format change
		ready: make(chan int, count+1),
	}

	for i := 0; i < count; i++ {
		o.free <- i
	}

	return o
}

// Emit copies data into a free buffer and makes it available to the client.
// It returns false when terminate is closed before a buffer becomes free.
func (o *Outputs) Emit(terminate <-chan struct{}, data []byte, ptsUs int64, flags codec.BufferFlag) bool {
	var id int

	select {
	case id = <-o.free:
	case <-terminate:
		return false
	}

	o.buffers[id] = append(o.buffers[id][:0], data...)
	o.infos[id] = codec.BufferInfo{
		Offset:             0,
		Size:               len(data),
		PresentationTimeUs: ptsUs,
		Flags:              flags,
	}

	select {
	case o.ready <- id:
		return true
	case <-terminate:
		return false
	}
}

// EmitFormatChanged notifies the client that the output format has changed.
func (o *Outputs) EmitFormatChanged(terminate <-chan struct{}) bool {
	select {
	case o.ready <- codec.InfoOutputFormatChanged:
		return true
	case <-terminate:
		return false
	}
}

// Dequeue returns the ID of a ready buffer and fills info,
// or returns codec.InfoTryAgainLater or codec.InfoOutputFormatChanged.
func (o *Outputs) Dequeue(info *codec.BufferInfo, timeout time.Duration) int {
	var id int

	select {
	case id = <-o.ready:
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()

		select {
		case id = <-o.ready:
		case <-t.C:
			return codec.InfoTryAgainLater
		}
	}

	if id >= 0 {
		*info = o.infos[id]
	}
	return id
}

// Buffer returns the buffer with the given ID.
func (o *Outputs) Buffer(id int) []byte {
	if id < 0 || id >= len(o.buffers) {
		return nil
	}
	return o.buffers[id][:o.infos[id].Size]
}

// Info returns metadata of the buffer with the given ID.
func (o *Outputs) Info(id int) codec.BufferInfo {
	return o.infos[id]
}

// Release gives a buffer back to the processing goroutine.
func (o *Outputs) Release(id int) error {
	if id < 0 || id >= len(o.buffers) {
		return fmt.Errorf("invalid output buffer ID: %d", id)
	}

	select {
	case o.free <- id:
		return nil
	default:
		return fmt.Errorf("output buffer %d released twice", id)
	}
}
