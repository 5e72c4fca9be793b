package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/querygate/internal/connectors"
	"github.com/fentz26/querygate/internal/models"
	"github.com/fentz26/querygate/internal/observability"
	"github.com/fentz26/querygate/internal/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe response stream for tests.
type syncBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
	return nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// mockConnector implements a scriptable query engine for testing.
type mockConnector struct {
	checkErr error
	evaluate func(query string, out io.Writer) error
	calls    atomic.Int32
}

func (m *mockConnector) Name() string {
	return "mock"
}

func (m *mockConnector) Check() error {
	return m.checkErr
}

func (m *mockConnector) Evaluate(query string, out io.Writer) error {
	m.calls.Add(1)
	if m.evaluate == nil {
		return nil
	}
	return m.evaluate(query, out)
}

func newTestSupervisor(t *testing.T, timeout time.Duration, conn connectors.Connector) (*Supervisor, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	sup := New(Options{
		Timeout:   timeout,
		Header:    page.DefaultHeader(),
		Connector: conn,
		Out:       out,
	})
	sup.SetExit(func(code int) {
		t.Fatalf("unexpected exit(%d) outside Run", code)
	})
	return sup, out
}

// blockForever returns an evaluate func that blocks until the test ends.
func blockForever(t *testing.T) func(string, io.Writer) error {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return func(string, io.Writer) error {
		<-release
		return nil
	}
}

func TestScenarioCompleted(t *testing.T) {
	conn := &mockConnector{evaluate: func(query string, out io.Writer) error {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprintf(out, "<pre>result for %s</pre>\n", query)
		return nil
	}}
	sup, out := newTestSupervisor(t, 5*time.Second, conn)

	inv := sup.Execute([]string{"query=SELECT+%3Fx+WHERE"})

	assert.Equal(t, models.OutcomeCompleted, inv.Outcome)
	assert.Empty(t, inv.Err)
	assert.Equal(t, int32(1), conn.calls.Load())

	body := out.String()
	assert.Contains(t, body, ">SELECT ?x WHERE</textarea>")
	assert.Contains(t, body, "<pre>result for SELECT ?x WHERE</pre>")
	assert.NotContains(t, body, "TIMEOUT")
	assert.Less(t, strings.Index(body, "</form>"), strings.Index(body, "<pre>"),
		"header must precede engine output")
}

func TestScenarioTimedOut(t *testing.T) {
	conn := &mockConnector{evaluate: blockForever(t)}
	sup, out := newTestSupervisor(t, 200*time.Millisecond, conn)

	start := time.Now()
	inv := sup.Execute([]string{"query=INFINITE_LOOP"})
	elapsed := time.Since(start)

	assert.Equal(t, models.OutcomeTimedOut, inv.Outcome)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second, "supervisor must not wait for the engine")

	body := out.String()
	assert.Contains(t, body, ">INFINITE_LOOP</textarea>")
	assert.Equal(t, 1, strings.Count(body, "TIMEOUT: Timeout after 0.2 seconds"))
	assert.Less(t, strings.Index(body, "</form>"), strings.Index(body, "TIMEOUT"))
}

func TestTimeoutNoticeWholeSeconds(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a full second")
	}
	conn := &mockConnector{evaluate: blockForever(t)}
	sup, out := newTestSupervisor(t, time.Second, conn)

	inv := sup.Execute([]string{"query=INFINITE_LOOP"})

	assert.Equal(t, models.OutcomeTimedOut, inv.Outcome)
	assert.Contains(t, out.String(), "TIMEOUT: Timeout after 1 seconds\n")
}

func TestTimedOutEngineIsAbandonedNotCancelled(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	conn := &mockConnector{evaluate: func(_ string, out io.Writer) error {
		<-release
		close(finished)
		return nil
	}}
	sup, _ := newTestSupervisor(t, 50*time.Millisecond, conn)

	inv := sup.Execute([]string{"query=slow"})
	require.Equal(t, models.OutcomeTimedOut, inv.Outcome)

	// The engine is still running and runs to completion when allowed.
	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned engine did not keep running")
	}
}

func TestScenarioNoArguments(t *testing.T) {
	conn := &mockConnector{}
	sup, out := newTestSupervisor(t, time.Second, conn)

	inv := sup.Execute(nil)

	assert.Equal(t, models.OutcomeNoQuery, inv.Outcome)
	assert.False(t, inv.HasQuery)
	assert.Zero(t, conn.calls.Load())

	body := out.String()
	assert.Contains(t, body, "<h1>Query</h1>")
	assert.Contains(t, body, `cols="80"></textarea>`)
	assert.NotContains(t, body, "TIMEOUT")
}

func TestNoQueryCases(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"two args", []string{"query=a", "query=b"}},
		{"three args", []string{"query=a", "x", "y"}},
		{"no query field", []string{"other=1"}},
		{"malformed", []string{"query=%zz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockConnector{}
			sup, out := newTestSupervisor(t, time.Second, conn)

			inv := sup.Execute(tt.args)
			assert.Equal(t, models.OutcomeNoQuery, inv.Outcome)
			assert.Zero(t, conn.calls.Load())
			assert.NotContains(t, out.String(), "TIMEOUT")
		})
	}
}

func TestEmptyQueryRunsEngine(t *testing.T) {
	var got atomic.Value
	conn := &mockConnector{evaluate: func(query string, out io.Writer) error {
		got.Store(query)
		fmt.Fprintln(out, "<pre>empty</pre>")
		return nil
	}}
	sup, out := newTestSupervisor(t, time.Second, conn)

	inv := sup.Execute([]string{"query="})

	assert.Equal(t, models.OutcomeCompleted, inv.Outcome)
	assert.True(t, inv.HasQuery)
	assert.Equal(t, int32(1), conn.calls.Load())
	assert.Equal(t, "", got.Load())
	assert.Contains(t, out.String(), "<pre>empty</pre>")
}

func TestCheckErrorIsReported(t *testing.T) {
	conn := &mockConnector{checkErr: connectors.ErrNoEngine}
	sup, out := newTestSupervisor(t, time.Second, conn)

	inv := sup.Execute([]string{"query=x"})

	assert.Equal(t, models.OutcomeFailed, inv.Outcome)
	assert.Zero(t, conn.calls.Load())
	assert.Contains(t, out.String(), "ERROR: no query engine configured\n")
	assert.Positive(t, out.flushes)
}

func TestNilConnector(t *testing.T) {
	sup, out := newTestSupervisor(t, time.Second, nil)

	inv := sup.Execute([]string{"query=x"})

	assert.Equal(t, models.OutcomeFailed, inv.Outcome)
	assert.Contains(t, out.String(), "ERROR: no query engine configured")
}

func TestEngineErrorWithinDeadline(t *testing.T) {
	conn := &mockConnector{evaluate: func(string, io.Writer) error {
		return errors.New("parse error at line 1")
	}}
	sup, out := newTestSupervisor(t, time.Second, conn)

	inv := sup.Execute([]string{"query=SELEC"})

	assert.Equal(t, models.OutcomeCompleted, inv.Outcome)
	assert.Equal(t, "parse error at line 1", inv.Err)
	assert.Contains(t, out.String(), "ERROR: parse error at line 1\n")
	assert.NotContains(t, out.String(), "TIMEOUT")
}

func TestEnginePanicIsRecovered(t *testing.T) {
	conn := &mockConnector{evaluate: func(string, io.Writer) error {
		panic("engine blew up")
	}}
	sup, out := newTestSupervisor(t, time.Second, conn)

	inv := sup.Execute([]string{"query=x"})

	assert.Equal(t, models.OutcomeCompleted, inv.Outcome)
	assert.Contains(t, inv.Err, "engine blew up")
	assert.Contains(t, out.String(), "ERROR: panic: engine blew up")
}

func TestRunAlwaysExitsZero(t *testing.T) {
	tests := []struct {
		name    string
		conn    *mockConnector
		args    []string
		outcome models.Outcome
	}{
		{"completed", &mockConnector{}, []string{"query=x"}, models.OutcomeCompleted},
		{"timed out", &mockConnector{evaluate: blockForever(t)}, []string{"query=x"}, models.OutcomeTimedOut},
		{"no query", &mockConnector{}, nil, models.OutcomeNoQuery},
		{"failed", &mockConnector{checkErr: errors.New("boom")}, []string{"query=x"}, models.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup, _ := newTestSupervisor(t, 100*time.Millisecond, tt.conn)

			var seen *models.Invocation
			sup.OnExit(func(inv *models.Invocation) { seen = inv })
			codes := []int{}
			sup.SetExit(func(code int) { codes = append(codes, code) })

			sup.Run(tt.args)

			assert.Equal(t, []int{0}, codes)
			require.NotNil(t, seen)
			assert.Equal(t, tt.outcome, seen.Outcome)
			assert.False(t, seen.EndedAt.IsZero())
		})
	}
}

func TestMetricsRecorded(t *testing.T) {
	m := observability.NewMetrics()
	out := &syncBuffer{}
	sup := New(Options{
		Timeout:   time.Second,
		Header:    page.DefaultHeader(),
		Connector: &mockConnector{},
		Out:       out,
		Metrics:   m,
	})

	sup.Execute([]string{"query=x"})
	sup.Execute(nil)

	path := filepath.Join(t.TempDir(), "querygate.prom")
	require.NoError(t, m.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `querygate_invocations_total{outcome="completed"} 1`)
	assert.Contains(t, string(data), `querygate_invocations_total{outcome="no_query"} 1`)
	assert.Contains(t, string(data), "querygate_work_duration_seconds_count 1")
}

// terminatingConnector records when the supervisor tears it down.
type terminatingConnector struct {
	mockConnector
	events *[]string
}

func (c *terminatingConnector) Terminate() {
	*c.events = append(*c.events, "terminate")
}

func TestRunTerminatesConnectorBeforeExit(t *testing.T) {
	var events []string
	conn := &terminatingConnector{events: &events}
	conn.evaluate = blockForever(t)
	sup, out := newTestSupervisor(t, 50*time.Millisecond, conn)
	sup.OnExit(func(*models.Invocation) { events = append(events, "hook") })
	sup.SetExit(func(code int) { events = append(events, fmt.Sprintf("exit(%d)", code)) })

	sup.Run([]string{"query=INFINITE_LOOP"})

	assert.Equal(t, []string{"hook", "terminate", "exit(0)"}, events)
	assert.Contains(t, out.String(), "TIMEOUT: Timeout after 0.05 seconds")
}

func TestAbandonedEngineIsNotReportedAsError(t *testing.T) {
	conn := &mockConnector{evaluate: func(string, io.Writer) error {
		return fmt.Errorf("wait: %w", connectors.ErrAbandoned)
	}}
	sup, out := newTestSupervisor(t, time.Second, conn)

	sup.Execute([]string{"query=x"})

	assert.NotContains(t, out.String(), "ERROR")
}
