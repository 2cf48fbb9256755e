package dag

import (
	"errors"
	"testing"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskNode(id string, deps ...string) *models.Node {
	return &models.Node{
		ID:           id,
		Name:         id,
		Type:         models.NodeTypeTask,
		Phase:        "build",
		WorkerType:   "log",
		Dependencies: deps,
	}
}

func buildGraph(t *testing.T, nodes ...*models.Node) *Graph {
	t.Helper()

	graph := New("g-test", "test graph", models.ExecutionModeMixed)
	for _, n := range nodes {
		require.NoError(t, graph.AddNode(n))
	}

	require.NoError(t, graph.Validate())

	return graph
}

func TestGraph_AddNode_Duplicate(t *testing.T) {
	graph := New("g", "g", models.ExecutionModeMixed)

	require.NoError(t, graph.AddNode(taskNode("a")))
	assert.Error(t, graph.AddNode(taskNode("a")))
}

func TestGraph_AddDependency_CycleLeavesGraphUnmodified(t *testing.T) {
	graph := New("g", "g", models.ExecutionModeMixed)

	require.NoError(t, graph.AddNode(taskNode("a")))
	require.NoError(t, graph.AddNode(taskNode("b")))
	require.NoError(t, graph.AddNode(taskNode("c")))

	require.NoError(t, graph.AddDependency("a", "b"))
	require.NoError(t, graph.AddDependency("b", "c"))

	before := map[string][]string{}
	for _, n := range graph.Nodes() {
		before[n.ID] = append([]string(nil), n.Dependencies...)
	}

	err := graph.AddDependency("c", "a")

	var cycleErr *CycleError

	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "c", cycleErr.From)
	assert.Equal(t, "a", cycleErr.To)

	for _, n := range graph.Nodes() {
		assert.Equal(t, before[n.ID], n.Dependencies, "node %s edges must be unchanged", n.ID)
	}
}

func TestGraph_AddDependency_SelfLoop(t *testing.T) {
	graph := New("g", "g", models.ExecutionModeMixed)
	require.NoError(t, graph.AddNode(taskNode("a")))

	var cycleErr *CycleError

	assert.ErrorAs(t, graph.AddDependency("a", "a"), &cycleErr)
}

func TestGraph_Validate_NamesCycle(t *testing.T) {
	graph := New("g", "g", models.ExecutionModeMixed)

	require.NoError(t, graph.AddNode(taskNode("a", "c")))
	require.NoError(t, graph.AddNode(taskNode("b", "a")))
	require.NoError(t, graph.AddNode(taskNode("c", "b")))

	err := graph.Validate()

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.NotEmpty(t, validationErr.Cycle)
	assert.Contains(t, err.Error(), "cycle")
}

func TestGraph_Validate_UnknownDependency(t *testing.T) {
	graph := New("g", "g", models.ExecutionModeMixed)
	require.NoError(t, graph.AddNode(taskNode("a", "ghost")))

	err := graph.Validate()

	var validationErr *ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "ghost")
}

func TestGraph_SealedAfterValidate(t *testing.T) {
	graph := buildGraph(t, taskNode("a"))

	var sealedErr *SealedError

	assert.ErrorAs(t, graph.AddNode(taskNode("b")), &sealedErr)
	assert.True(t, errors.As(graph.AddDependency("a", "a"), &sealedErr))
}

func TestGraph_ExecutionOrder_LevelsAreTopological(t *testing.T) {
	graph := buildGraph(t,
		taskNode("a"),
		taskNode("b"),
		taskNode("c", "a", "b"),
		taskNode("d", "c"),
		taskNode("e", "a"),
	)

	levels := graph.ExecutionOrder()

	// Every node appears exactly once.
	seen := map[string]int{}
	position := map[string]int{}

	for levelIdx, level := range levels {
		for _, id := range level {
			seen[id]++
			position[id] = levelIdx
		}
	}

	assert.Len(t, seen, graph.Len())

	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s repeated", id)
	}

	// Every dependency sits in a strictly earlier level.
	for _, node := range graph.Nodes() {
		for _, dep := range node.Dependencies {
			assert.Less(t, position[dep], position[node.ID])
		}
	}
}

func TestGraph_ExecutionOrder_DiamondScenario(t *testing.T) {
	graph := buildGraph(t,
		taskNode("A"),
		taskNode("B"),
		taskNode("C", "A", "B"),
	)

	levels := graph.ExecutionOrder()

	require.Len(t, levels, 2)
	assert.Equal(t, []string{"A", "B"}, levels[0])
	assert.Equal(t, []string{"C"}, levels[1])
}

func TestGraph_ReadyNodes(t *testing.T) {
	graph := buildGraph(t,
		taskNode("a"),
		taskNode("b"),
		taskNode("c", "a", "b"),
	)

	ready := graph.ReadyNodes(map[string]struct{}{})
	require.Len(t, ready, 2)
	assert.Equal(t, "a", ready[0].ID)
	assert.Equal(t, "b", ready[1].ID)

	graph.SetStatus("a", models.NodeStatusSucceeded)

	ready = graph.ReadyNodes(map[string]struct{}{"a": {}})
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].ID)

	graph.SetStatus("b", models.NodeStatusSucceeded)

	ready = graph.ReadyNodes(map[string]struct{}{"a": {}, "b": {}})
	require.Len(t, ready, 1)
	assert.Equal(t, "c", ready[0].ID)
}

func TestGraph_CriticalPath(t *testing.T) {
	short := taskNode("short")
	short.EstimatedDuration = time.Second

	long := taskNode("long")
	long.EstimatedDuration = 10 * time.Second

	end := taskNode("end", "short", "long")
	end.EstimatedDuration = 2 * time.Second

	graph := buildGraph(t, short, long, end)

	path, total := graph.CriticalPath()

	assert.Equal(t, []string{"long", "end"}, path)
	assert.Equal(t, 12*time.Second, total)
}

func TestGraph_PhaseNodes(t *testing.T) {
	design := taskNode("d1")
	design.Phase = "design"

	graph := buildGraph(t, taskNode("b1"), taskNode("b2"), design)

	assert.Len(t, graph.PhaseNodes("build"), 2)
	assert.Len(t, graph.PhaseNodes("design"), 1)
	assert.Empty(t, graph.PhaseNodes("missing"))
}

func TestFromDefinition(t *testing.T) {
	def := testutil.CreateTestDefinitionWithPhases()

	graph, err := FromDefinition(def)

	require.NoError(t, err)
	assert.Equal(t, 3, graph.Len())
}

func TestFromDefinition_RejectsBackwardPhaseDependency(t *testing.T) {
	def := testutil.CreateTestDefinition(
		testutil.WithPhases("requirements", "design"),
		testutil.WithNodes(
			testutil.CreateTestNode(testutil.WithID("gather"), testutil.WithPhase("requirements"), testutil.WithDependencies("draft")),
			testutil.CreateTestNode(testutil.WithID("draft"), testutil.WithPhase("design")),
		),
	)

	_, err := FromDefinition(def)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "later phase")
}

func TestFromDefinition_UndeclaredPhase(t *testing.T) {
	def := testutil.CreateTestDefinition(
		testutil.WithNodes(
			testutil.CreateTestNode(testutil.WithID("gather"), testutil.WithPhase("missing")),
		),
	)

	_, err := FromDefinition(def)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared phase")
}
