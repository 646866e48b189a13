// Package externalcmd allows to launch external commands.
package externalcmd

import (
	"errors"
	"os"
	"strings"
)

var errTerminated = errors.New("terminated")

// Environment is a Cmd environment.
type Environment map[string]string

// Cmd is an external command that runs once.
type Cmd struct {
	pool   *Pool
	cmdstr string
	env    Environment
	onExit func(error)

	// in
	terminate chan struct{}

	// out
	done chan struct{}
}

// NewCmd allocates a Cmd and starts it.
// onExit is called with the result of the command,
// unless the command is closed before exiting.
func NewCmd(
	pool *Pool,
	cmdstr string,
	env Environment,
	onExit func(error),
) *Cmd {
	// replace variables in both Linux and Windows, in order to allow using the
	// same commands on both of them.
	for key, val := range env {
		cmdstr = strings.ReplaceAll(cmdstr, "$"+key, val)
	}

	e := &Cmd{
		pool:      pool,
		cmdstr:    cmdstr,
		env:       env,
		onExit:    onExit,
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}

	pool.wg.Add(1)

	go e.run()

	return e
}

// Close interrupts the command and waits for it to exit.
func (e *Cmd) Close() {
	select {
	case <-e.terminate:
	default:
		close(e.terminate)
	}
	<-e.done
}

// Done returns a channel that is closed when the command has exited.
func (e *Cmd) Done() <-chan struct{} {
	return e.done
}

func (e *Cmd) run() {
	defer e.pool.wg.Done()
	defer close(e.done)

	env := append([]string(nil), os.Environ()...)
	for key, val := range e.env {
		env = append(env, key+"="+val)
	}

	err := e.runOSSpecific(env)
	if errors.Is(err, errTerminated) {
		return
	}

	if e.onExit != nil {
		e.onExit(err)
	}
}
