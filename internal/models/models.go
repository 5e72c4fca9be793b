// Package models defines the core domain types for querygate.
package models

import (
	"strconv"
	"time"
)

// Outcome represents the final classification of one invocation.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeNoQuery   Outcome = "no_query"
	OutcomeFailed    Outcome = "failed"
)

// Outcomes lists every outcome, in reporting order.
var Outcomes = []Outcome{OutcomeCompleted, OutcomeTimedOut, OutcomeNoQuery, OutcomeFailed}

// Invocation describes a single supervised run of the query engine.
type Invocation struct {
	ID        string        `json:"id"`
	Query     string        `json:"-"`
	HasQuery  bool          `json:"has_query"`
	Timeout   time.Duration `json:"timeout"`
	Outcome   Outcome       `json:"outcome"`
	Err       string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}

// Elapsed returns how long the invocation took, or zero if it has not ended.
func (i *Invocation) Elapsed() time.Duration {
	if i.EndedAt.IsZero() {
		return 0
	}
	return i.EndedAt.Sub(i.StartedAt)
}

// TimeoutSeconds formats d as a whole or fractional number of seconds,
// e.g. "300" or "0.25".
func TimeoutSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
