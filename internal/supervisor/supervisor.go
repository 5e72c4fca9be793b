// Package supervisor runs one query under a hard wall-clock budget.
//
// The query engine is started as a goroutine and raced against a timer.
// If the timer wins, a timeout notice is written and the process exits;
// the engine is abandoned, never cancelled. Exiting the process is the
// only thing that stops it: connectors that own child processes tear them
// down as part of that exit.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fentz26/querygate/internal/connectors"
	"github.com/fentz26/querygate/internal/models"
	"github.com/fentz26/querygate/internal/observability"
	"github.com/fentz26/querygate/internal/page"
	"github.com/fentz26/querygate/internal/request"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrPanic wraps a recovered panic.
var ErrPanic = errors.New("panic")

// Options configures a Supervisor.
type Options struct {
	Timeout   time.Duration
	Header    page.Header
	Connector connectors.Connector
	// Out is the response stream shared by the supervisor and the engine.
	Out     io.Writer
	Logger  *logrus.Logger
	Metrics *observability.Metrics
}

// Supervisor executes exactly one query per process.
type Supervisor struct {
	timeout   time.Duration
	header    page.Header
	connector connectors.Connector
	out       io.Writer
	logger    *logrus.Logger
	metrics   *observability.Metrics

	beforeExit []func(*models.Invocation)
	exit       func(code int)
}

// New creates a new supervisor.
func New(opts Options) *Supervisor {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	return &Supervisor{
		timeout:   opts.Timeout,
		header:    opts.Header,
		connector: opts.Connector,
		out:       opts.Out,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		exit:      os.Exit,
	}
}

// SetExit replaces the process exit function.
func (s *Supervisor) SetExit(fn func(code int)) {
	s.exit = fn
}

// OnExit registers fn to run after the outcome is decided and before the
// process exits.
func (s *Supervisor) OnExit(fn func(*models.Invocation)) {
	s.beforeExit = append(s.beforeExit, fn)
}

// Run executes the invocation and terminates the process with status 0,
// whatever the outcome and whether or not the engine is still running.
func (s *Supervisor) Run(args []string) {
	inv := s.Execute(args)
	for _, fn := range s.beforeExit {
		fn(inv)
	}
	s.logger.WithFields(logrus.Fields{
		"invocation_id": inv.ID,
		"outcome":       inv.Outcome,
	}).Debug("exiting")
	if t, ok := s.connector.(connectors.Terminator); ok {
		t.Terminate()
	}
	s.exit(0)
}

// Execute decodes the request, renders the header and, if a query is
// present, races the engine against the deadline. It returns as soon as
// the outcome is known; an engine that missed the deadline keeps running.
func (s *Supervisor) Execute(args []string) (inv *models.Invocation) {
	inv = &models.Invocation{
		ID:        uuid.New().String(),
		Timeout:   s.timeout,
		StartedAt: time.Now(),
	}
	log := s.logger.WithField("invocation_id", inv.ID)

	var waited time.Duration
	defer func() {
		if r := recover(); r != nil {
			s.fail(log, inv, fmt.Errorf("%w: %v", ErrPanic, r))
		}
		inv.EndedAt = time.Now()
		if s.metrics != nil {
			s.metrics.Observe(inv.Outcome, waited)
		}
		log.WithFields(logrus.Fields{
			"outcome":    inv.Outcome,
			"elapsed_ms": inv.Elapsed().Milliseconds(),
		}).Info("invocation finished")
	}()

	inv.Query, inv.HasQuery = request.QueryFromArgs(args)
	log.WithFields(logrus.Fields{
		"args":      len(args),
		"has_query": inv.HasQuery,
		"query_len": len(inv.Query),
	}).Debug("request decoded")

	if err := s.header.Render(s.out, inv.Query); err != nil {
		s.fail(log, inv, err)
		return inv
	}

	if !inv.HasQuery {
		inv.Outcome = models.OutcomeNoQuery
		s.flush()
		return inv
	}

	if err := s.check(); err != nil {
		s.fail(log, inv, err)
		return inv
	}

	start := time.Now()
	done := make(chan error, 1)
	go s.work(inv.Query, done)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		waited = time.Since(start)
		inv.Outcome = models.OutcomeCompleted
		if err != nil {
			inv.Err = err.Error()
			log.WithError(err).Warn("query engine failed")
		}
	case <-timer.C:
		waited = time.Since(start)
		inv.Outcome = models.OutcomeTimedOut
		fmt.Fprintf(s.out, "TIMEOUT: Timeout after %s seconds\n", models.TimeoutSeconds(s.timeout))
		log.WithField("timeout", s.timeout.String()).Warn("query engine abandoned after deadline")
	}
	s.flush()
	return inv
}

func (s *Supervisor) check() error {
	if s.connector == nil {
		return connectors.ErrNoEngine
	}
	return s.connector.Check()
}

// work is the engine task. Its failures are reported on the response
// stream by the task itself.
func (s *Supervisor) work(query string, done chan<- error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			s.diagnose(err)
		}
		done <- err
	}()

	err = s.connector.Evaluate(query, s.out)
	if err != nil && !errors.Is(err, connectors.ErrAbandoned) {
		s.diagnose(err)
	}
}

// fail reports an error raised before or instead of the engine task.
func (s *Supervisor) fail(log *logrus.Entry, inv *models.Invocation, err error) {
	inv.Outcome = models.OutcomeFailed
	inv.Err = err.Error()
	log.WithError(err).Error("invocation failed")
	s.diagnose(err)
	s.flush()
}

func (s *Supervisor) diagnose(err error) {
	fmt.Fprintf(s.out, "ERROR: %v\n", err)
}

func (s *Supervisor) flush() {
	switch w := s.out.(type) {
	case interface{ Flush() error }:
		_ = w.Flush()
	case interface{ Sync() error }:
		_ = w.Sync()
	}
}
