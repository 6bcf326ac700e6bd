package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// GraphID, NodeID and EdgeID are stable, human-facing entity handles.
// ExecutionID and NodeExecID are opaque, transient handles minted once
// per run.
type (
	GraphID string
	NodeID  string
	EdgeID  string

	ExecutionID string
	NodeExecID  string
)

func NewGraphID() GraphID  { return GraphID(shortuuid.New()) }
func NewNodeID() NodeID    { return NodeID(shortuuid.New()) }
func NewEdgeID() EdgeID    { return EdgeID(shortuuid.New()) }

func NewExecutionID() ExecutionID { return ExecutionID(uuid.New().String()) }
func NewNodeExecID() NodeExecID   { return NodeExecID(uuid.New().String()) }

// Status is the shared terminal/non-terminal state machine for both
// Execution and NodeExecution rows.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusTimeout   Status = "TIMEOUT"
)

// IsTerminal reports whether status admits no further transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// EdgeCondition gates whether an edge's target may be dispatched based
// on the terminal status of the edge's source.
type EdgeCondition string

const (
	OnSuccess EdgeCondition = "ON_SUCCESS"
	OnFailure EdgeCondition = "ON_FAILURE"
	Always    EdgeCondition = "ALWAYS"
)

// Satisfies reports whether a predecessor's terminal status satisfies
// this edge condition. TIMEOUT is deliberately distinct from FAILED:
// an ON_FAILURE successor of a TIMEOUT predecessor is gated CANCELLED,
// not admitted. See DESIGN.md Open Question #1.
func (c EdgeCondition) Satisfies(predecessorStatus Status) bool {
	switch c {
	case OnSuccess:
		return predecessorStatus == StatusSuccess
	case OnFailure:
		return predecessorStatus == StatusFailed
	case Always:
		return true
	default:
		return false
	}
}

// Graph is immutable once created for the purposes of execution.
type Graph struct {
	ID          GraphID
	Name        string
	Description string
	IsActive    bool
	Nodes       []Node
	Edges       []Edge
}

// Node is a single unit of imperative computation within a Graph.
type Node struct {
	ID             NodeID
	GraphID        GraphID
	NodeKey        string // unique within its graph
	Name           string
	Payload        Value // opaque, passed verbatim to the NodeRunner
	TimeoutSeconds int   // > 0, default 300
}

// Edge encodes both a precedence relation and a gating condition.
type Edge struct {
	ID        EdgeID
	GraphID   GraphID
	SourceID  NodeID
	TargetID  NodeID
	Condition EdgeCondition
}

// Execution is a single run of a Graph.
type Execution struct {
	ID           ExecutionID
	GraphID      GraphID
	Status       Status
	Context      Value // immutable mapping handed verbatim to every node run
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// NodeExecution is the per-node record of a single Execution.
type NodeExecution struct {
	ID           NodeExecID
	ExecutionID  ExecutionID
	NodeID       NodeID
	Status       Status
	InputData    Value // mapping predecessor_node_key -> predecessor.output_data
	OutputData   Value // opaque, non-null only on SUCCESS
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	RunnerTaskID string // opaque observability handle
}

// NodeRunner executes a single node's payload. It is treated as opaque:
// the engine does not inspect the output beyond passing it by reference
// to downstream inputs, and does not interrupt a call already in
// flight — interrupting it would violate this contract.
type NodeRunner interface {
	Run(ctx context.Context, payload Value, constants Value, inputs Value, execContext Value, deadline time.Time) (ok bool, output Value, errMessage string)
}

// Repository is the abstract persistent store the engine requires.
// Implementations must make every method here atomic at the row level.
type Repository interface {
	LoadExecutionForRun(ctx context.Context, id ExecutionID) (*Execution, *Graph, error)
	SetExecutionStatus(ctx context.Context, id ExecutionID, status Status, startedAt, completedAt *time.Time, errorMessage string) error
	CreateNodeExecutions(ctx context.Context, executionID ExecutionID, nodeIDs []NodeID) (map[string]NodeExecID, error)
	StartNodeExecution(ctx context.Context, id NodeExecID, runnerTaskID string, inputBundle Value, at time.Time) error
	CompleteNodeExecution(ctx context.Context, id NodeExecID, status Status, output Value, errorMessage string, at time.Time) error
	ListTerminalNodeExecutions(ctx context.Context, executionID ExecutionID) ([]NodeExecution, error)
	TerminalStatusesByExecution(ctx context.Context, executionID ExecutionID) (map[string]Status, error)
}

// StateStore is the ephemeral, fast key->value coordination layer: a
// single hash per execution carrying a status flag and completed/failed
// node-key sets. Its loss is recoverable by reading persisted
// NodeExecution rows; it exists purely for cancellation signalling and
// post-mortem reporting, never for gate evaluation.
type StateStore interface {
	Init(ctx context.Context, executionID ExecutionID, ttl time.Duration) error
	SetStatusFlag(ctx context.Context, executionID ExecutionID, status Status) error
	GetStatusFlag(ctx context.Context, executionID ExecutionID) (Status, error)
	AddCompleted(ctx context.Context, executionID ExecutionID, nodeKey string) error
	AddFailed(ctx context.Context, executionID ExecutionID, nodeKey string) error
	Delete(ctx context.Context, executionID ExecutionID) error
}
