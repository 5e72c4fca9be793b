// Package localexec provides a query engine backed by a local executable.
package localexec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/fentz26/querygate/internal/connectors"
)

// LocalExec implements the Connector interface by running an engine
// executable with the query on stdin.
type LocalExec struct {
	command string
	args    []string
	workDir string

	mu         sync.Mutex
	running    []*exec.Cmd
	terminated bool
}

// New creates a new LocalExec connector.
func New(command string, args []string, workDir string) *LocalExec {
	return &LocalExec{command: command, args: args, workDir: workDir}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// Check resolves the engine executable.
func (l *LocalExec) Check() error {
	if strings.TrimSpace(l.command) == "" {
		return connectors.ErrNoEngine
	}
	if _, err := exec.LookPath(l.command); err != nil {
		return fmt.Errorf("query engine %q: %w", l.command, err)
	}
	return nil
}

// writerOnly hides the concrete type of the response stream so exec copies
// through a pipe owned by this process instead of handing the engine the
// stream's file descriptor.
type writerOnly struct {
	io.Writer
}

// Evaluate runs the engine, streaming its stdout into out.
//
// The engine is started without a context and is never signalled while
// querygate waits on it. It runs in its own process group, which
// Terminate kills when querygate exits.
func (l *LocalExec) Evaluate(query string, out io.Writer) error {
	if err := l.Check(); err != nil {
		return err
	}

	execCmd := exec.Command(l.command, l.args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}
	configureEngineProc(execCmd)

	var stderr bytes.Buffer
	execCmd.Stdin = strings.NewReader(query)
	execCmd.Stdout = writerOnly{out}
	execCmd.Stderr = &stderr

	if err := l.start(execCmd); err != nil {
		return err
	}
	err := execCmd.Wait()
	l.forget(execCmd)

	if err != nil {
		if l.isTerminated() {
			return connectors.ErrAbandoned
		}
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return fmt.Errorf("query engine exited with code %d: %s",
				exitError.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("exec error: %w", err)
	}
	return nil
}

// Terminate kills every engine still running, including anything it
// spawned, and refuses to start new ones.
func (l *LocalExec) Terminate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.terminated = true
	for _, c := range l.running {
		killEngineProc(c)
	}
	l.running = nil
}

func (l *LocalExec) start(c *exec.Cmd) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminated {
		return connectors.ErrAbandoned
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("exec error: %w", err)
	}
	l.running = append(l.running, c)
	return nil
}

func (l *LocalExec) forget(c *exec.Cmd) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, r := range l.running {
		if r == c {
			l.running = append(l.running[:i], l.running[i+1:]...)
			return
		}
	}
}

func (l *LocalExec) isTerminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminated
}
