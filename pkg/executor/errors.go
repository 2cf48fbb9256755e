package executor

import "fmt"

// NodeExecutionError wraps the final worker failure of a node after every
// retry attempt was consumed.
type NodeExecutionError struct {
	NodeID   string
	Attempts int
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed after %d attempt(s): %v", e.NodeID, e.Attempts, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}
