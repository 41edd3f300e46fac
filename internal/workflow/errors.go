package workflow

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrValidationExhausted fails a run whose classification never passed
	// validation within the attempt budget.
	ErrValidationExhausted = eris.New("workflow: validation attempts exhausted")

	// ErrUpstreamUnavailable marks a run failed by the LLM or retrieval
	// capability after its retry budget.
	ErrUpstreamUnavailable = eris.New("workflow: upstream unavailable")

	// ErrWriteConflict is returned when two nodes of one step write the same
	// Replace key.
	ErrWriteConflict = eris.New("workflow: concurrent write conflict")

	// ErrNodeTimeout is returned when a node exceeds its own timeout.
	ErrNodeTimeout = eris.New("workflow: node timed out")

	// ErrUnknownRoute is returned when a router picks a label with no target.
	ErrUnknownRoute = eris.New("workflow: unknown route")
)

// UpstreamError wraps a capability failure so that it matches both the
// underlying cause and ErrUpstreamUnavailable.
type UpstreamError struct {
	Stage string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUpstreamUnavailable.Error(), e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUpstreamUnavailable) hold.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// NodeError identifies the node a failure came from.
type NodeError struct {
	Node string
	Step int
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("workflow: node %s (step %d): %v", e.Node, e.Step, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
