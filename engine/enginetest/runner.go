// Package enginetest provides NodeRunner test doubles in the style of
// the donor's MockRegistry (ai/agents/orchestrator/executor_dag_test.go):
// a testify mock.Mock-backed double for expectation-based tests, plus a
// small scripted stub runner for scenario-style end-to-end tests where
// per-node behaviour (success/failure/timeout/sleep) is configured up
// front rather than asserted against call expectations.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	engine "github.com/tanjeetsarkar/workflowengine/engine/core"
)

// MockRunner is a testify-mock-based engine.NodeRunner double.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, payload, constants, inputs, execContext engine.Value, deadline time.Time) (bool, engine.Value, string) {
	args := m.Called(ctx, payload, constants, inputs, execContext, deadline)
	ok := args.Bool(0)
	output, _ := args.Get(1).(engine.Value)
	return ok, output, args.String(2)
}

// NodeBehavior scripts how a single node key behaves when run.
type NodeBehavior struct {
	Sleep    time.Duration // simulated work duration
	Output   engine.Value
	Fail     bool
	FailMsg  string
	Timeout  bool // if true, Sleep is expected to exceed the deadline
}

// ScriptedRunner dispatches by node_key (read out of payload, which the
// engine tests' graph builder sets to the owning Node's key as a
// StringValue) to a pre-configured NodeBehavior. It honours the
// deadline contract: if the configured Sleep would exceed the deadline
// (or Timeout is set), it waits until just past the deadline and
// returns ok=false with a timeout-shaped error message instead of
// sleeping for the full configured duration.
type ScriptedRunner struct {
	Behaviors map[string]NodeBehavior

	mu    sync.Mutex
	calls map[string]int
}

func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{Behaviors: make(map[string]NodeBehavior), calls: make(map[string]int)}
}

func (r *ScriptedRunner) For(nodeKey string, b NodeBehavior) *ScriptedRunner {
	r.Behaviors[nodeKey] = b
	return r
}

// CallCount reports how many times Run was invoked for nodeKey, so
// tests can assert a retry loop engaged (or didn't).
func (r *ScriptedRunner) CallCount(nodeKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[nodeKey]
}

func (r *ScriptedRunner) Run(ctx context.Context, payload, constants, inputs, execContext engine.Value, deadline time.Time) (bool, engine.Value, string) {
	nodeKey, _ := payload.String()
	r.mu.Lock()
	r.calls[nodeKey]++
	r.mu.Unlock()

	b, ok := r.Behaviors[nodeKey]
	if !ok {
		return true, engine.NullValue(), ""
	}

	if b.Sleep > 0 {
		remaining := time.Until(deadline)
		if b.Timeout || b.Sleep > remaining {
			select {
			case <-time.After(remaining + time.Millisecond):
			case <-ctx.Done():
			}
			return false, engine.NullValue(), "timeout: deadline exceeded"
		}
		select {
		case <-time.After(b.Sleep):
		case <-ctx.Done():
			return false, engine.NullValue(), "context canceled"
		}
	}

	if b.Fail {
		msg := b.FailMsg
		if msg == "" {
			msg = fmt.Sprintf("node %q failed", nodeKey)
		}
		return false, engine.NullValue(), msg
	}

	return true, b.Output, ""
}
