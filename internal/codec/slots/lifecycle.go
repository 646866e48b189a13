// Package slots contains the bounded buffer slots and the lifecycle
// shared by software codec engines.
package slots

import (
	"fmt"
	"sync"

	"github.com/bluenviron/mediamerge/internal/codec"
)

type state int

const (
	stateUninitialized state = iota
	stateConfigured
	stateStarted
	stateStopped
	stateReleased
)

// Lifecycle tracks the state of a codec and runs its processing goroutine.
type Lifecycle struct {
	mutex     sync.Mutex
	state     state
	err       error
	terminate chan struct{}
	done      chan struct{}
}

// Configure moves into the configured state.
func (l *Lifecycle) Configure() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.state != stateUninitialized && l.state != stateConfigured && l.state != stateStopped {
		return fmt.Errorf("configure: %w", codec.ErrInvalidState)
	}

	l.state = stateConfigured
	return nil
}

// IsConfigured returns whether Configure has been called and Start has not.
func (l *Lifecycle) IsConfigured() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.state == stateConfigured
}

// Start starts run on a dedicated goroutine.
// run must return when terminate is closed.
func (l *Lifecycle) Start(run func(terminate <-chan struct{}) error) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.state != stateConfigured {
		return fmt.Errorf("start: %w", codec.ErrInvalidState)
	}

	l.state = stateStarted
	l.err = nil
	l.terminate = make(chan struct{})
	l.done = make(chan struct{})

	go func(terminate chan struct{}, done chan struct{}) {
		defer close(done)
		err := run(terminate)
		if err != nil {
			l.mutex.Lock()
			l.err = err
			l.mutex.Unlock()
		}
	}(l.terminate, l.done)

	return nil
}

// Check returns an error if the codec is not running.
func (l *Lifecycle) Check() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.state != stateStarted {
		return codec.ErrInvalidState
	}
	return l.err
}

// Stop stops the processing goroutine.
func (l *Lifecycle) Stop() error {
	l.mutex.Lock()

	if l.state != stateStarted {
		l.mutex.Unlock()
		return fmt.Errorf("stop: %w", codec.ErrInvalidState)
	}

	l.state = stateStopped
	terminate, done := l.terminate, l.done
	l.mutex.Unlock()

	close(terminate)
	<-done
	return nil
}

// Release stops the processing goroutine, if running, and releases the codec.
// It can be called multiple times.
func (l *Lifecycle) Release() {
	l.mutex.Lock()

	if l.state == stateReleased {
		l.mutex.Unlock()
		return
	}

	wasStarted := (l.state == stateStarted)
	l.state = stateReleased
	terminate, done := l.terminate, l.done
	l.mutex.Unlock()

	if wasStarted {
		close(terminate)
		<-done
	}
}
