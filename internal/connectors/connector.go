// Package connectors defines the query engine interface for querygate.
package connectors

import (
	"errors"
	"io"
)

var (
	// ErrNoEngine is returned when no query engine has been configured.
	ErrNoEngine = errors.New("no query engine configured")
	// ErrAbandoned is returned by Evaluate when the engine was torn down
	// because the process is exiting.
	ErrAbandoned = errors.New("query engine abandoned")
)

// Connector is an external query engine.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Check reports whether the engine can be started. It runs
	// synchronously before any work is spawned.
	Check() error

	// Evaluate runs query and writes the formatted result to out.
	// It may run arbitrarily long and has no cancellation hook.
	Evaluate(query string, out io.Writer) error
}

// Terminator is implemented by connectors whose work outlives the Go
// runtime, such as child processes. Terminate is called once, right before
// the process exits, and must not block.
type Terminator interface {
	Terminate()
}
