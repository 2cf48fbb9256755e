package dag

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/stagegate/stagegate/pkg/models"
)

// FromDefinition validates a workflow definition and compiles it into a
// sealed graph ready for execution.
func FromDefinition(def *models.WorkflowDefinition) (*Graph, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	phases := make(map[string]bool, len(def.Phases))
	for _, p := range def.Phases {
		if phases[p] {
			return nil, fmt.Errorf("duplicate phase: %s", p)
		}

		phases[p] = true
	}

	graph := New(def.ID, def.Name, def.ExecutionMode)

	for i := range def.Nodes {
		nodeDef := def.Nodes[i]
		if !phases[nodeDef.Phase] {
			return nil, fmt.Errorf("node %s references undeclared phase %s", nodeDef.ID, nodeDef.Phase)
		}

		if err := graph.AddNode(nodeDef.Node()); err != nil {
			return nil, err
		}
	}

	if err := graph.Validate(); err != nil {
		return nil, err
	}

	// Phases execute strictly in sequence, so a dependency can never point
	// at a later phase than its dependent.
	phaseIndex := make(map[string]int, len(def.Phases))
	for i, p := range def.Phases {
		phaseIndex[p] = i
	}

	for _, node := range graph.Nodes() {
		for _, dep := range node.Dependencies {
			depNode, _ := graph.Node(dep)
			if phaseIndex[depNode.Phase] > phaseIndex[node.Phase] {
				return nil, fmt.Errorf("node %s (phase %s) depends on %s from later phase %s",
					node.ID, node.Phase, dep, depNode.Phase)
			}
		}
	}

	return graph, nil
}
