// Package dag provides the workflow graph model: nodes, dependency edges,
// validation, and topological ordering.
package dag

import (
	"fmt"
	"strings"
)

// CycleError is raised at graph-construction time when an edge would
// introduce a cycle. The graph is left unmodified.
type CycleError struct {
	From string
	To   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.From, e.To)
}

// ValidationError is raised by Validate when the graph is not acyclic or
// references unknown nodes. Cycle names one offending cycle path.
type ValidationError struct {
	Cycle   []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("workflow graph is not acyclic: cycle %s", strings.Join(e.Cycle, " -> "))
	}

	return "workflow graph validation failed: " + e.Message
}

// SealedError indicates a mutation was attempted after validation sealed
// the graph.
type SealedError struct {
	GraphID string
}

func (e *SealedError) Error() string {
	return fmt.Sprintf("graph %s is sealed and cannot be modified", e.GraphID)
}
