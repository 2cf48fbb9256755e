package dag

import (
	"fmt"
	"sort"
	"time"

	"github.com/stagegate/stagegate/pkg/models"
)

// Graph is a directed acyclic graph of execution nodes. Topology is mutable
// while the graph is being assembled; Validate seals it, after which only
// node statuses may change. Validation happens once before any execution
// begins.
type Graph struct {
	ID   string
	Name string
	Mode models.ExecutionMode

	nodes    map[string]*models.Node
	outgoing map[string][]string // dependency -> dependents
	sealed   bool
}

// New creates an empty graph.
func New(id, name string, mode models.ExecutionMode) *Graph {
	if mode == "" {
		mode = models.ExecutionModeMixed
	}

	return &Graph{
		ID:       id,
		Name:     name,
		Mode:     mode,
		nodes:    make(map[string]*models.Node),
		outgoing: make(map[string][]string),
	}
}

// AddNode registers a node. The node's declared dependencies are attached
// once the referenced nodes exist; AddDependency verifies edges eagerly.
func (g *Graph) AddNode(node *models.Node) error {
	if g.sealed {
		return &SealedError{GraphID: g.ID}
	}

	if node.ID == "" {
		return fmt.Errorf("node requires an id")
	}

	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("duplicate node id: %s", node.ID)
	}

	if node.Status == "" {
		node.Status = models.NodeStatusPending
	}

	g.nodes[node.ID] = node

	return nil
}

// AddDependency records that `to` depends on `from`. It fails with a
// CycleError if the edge would introduce a cycle, leaving the graph
// unmodified.
func (g *Graph) AddDependency(from, to string) error {
	if g.sealed {
		return &SealedError{GraphID: g.ID}
	}

	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("unknown node: %s", from)
	}

	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("unknown node: %s", to)
	}

	if from == to {
		return &CycleError{From: from, To: to}
	}

	for _, existing := range g.nodes[to].Dependencies {
		if existing == from {
			return nil // edge already present
		}
	}

	// The edge from -> to closes a cycle iff `from` is reachable from `to`.
	if g.reachable(to, from) {
		return &CycleError{From: from, To: to}
	}

	g.nodes[to].Dependencies = append(g.nodes[to].Dependencies, from)
	g.outgoing[from] = append(g.outgoing[from], to)

	return nil
}

// reachable reports whether target can be reached from start following
// dependency edges forward.
func (g *Graph) reachable(start, target string) bool {
	stack := []string{start}
	visited := make(map[string]bool, len(g.nodes))

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur == target {
			return true
		}

		if visited[cur] {
			continue
		}

		visited[cur] = true
		stack = append(stack, g.outgoing[cur]...)
	}

	return false
}

// Validate runs the full topological check, indexes declared dependencies
// that were added via AddNode, and seals the graph against further topology
// changes. It fails with a ValidationError naming the offending cycle.
func (g *Graph) Validate() error {
	if g.sealed {
		return nil
	}

	// Declared dependencies may reference nodes added after them; index the
	// reverse edges now and verify every reference resolves.
	g.outgoing = make(map[string][]string)

	for _, node := range g.nodes {
		for _, dep := range node.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return &ValidationError{Message: fmt.Sprintf("node %s depends on unknown node %s", node.ID, dep)}
			}

			g.outgoing[dep] = append(g.outgoing[dep], node.ID)
		}
	}

	order := g.kahnOrder()
	if len(order) != len(g.nodes) {
		return &ValidationError{Cycle: g.findCycle()}
	}

	g.sealed = true

	return nil
}

// kahnOrder returns node IDs in a deterministic topological order, shorter
// than the node count when the graph contains a cycle.
func (g *Graph) kahnOrder() []string {
	indeg := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		indeg[id] = len(node.Dependencies)
	}

	ready := make([]string, 0, len(g.nodes))

	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := make([]string, 0)

		for _, dependent := range g.outgoing[id] {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				next = append(next, dependent)
			}
		}

		sort.Strings(next)
		ready = append(ready, next...)
		sort.Strings(ready)
	}

	return order
}

// findCycle extracts one cycle path for error reporting using a
// deterministic DFS over sorted node IDs.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	ids := g.sortedIDs()
	color := make(map[string]int, len(ids))
	parent := make(map[string]string, len(ids))

	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray

		next := append([]string(nil), g.outgoing[u]...)
		sort.Strings(next)

		for _, v := range next {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != "" && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)

				return true
			}
		}

		color[u] = black

		return false
	}

	for _, id := range ids {
		if color[id] == white && dfs(id) {
			break
		}
	}

	// Reverse for from -> to reading order.
	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}

	return cycle
}

// ExecutionOrder returns ordered levels such that every node in level k has
// all dependencies in levels < k. Levels are the parallelism unit consumed
// by the executor; IDs within a level are sorted for determinism.
func (g *Graph) ExecutionOrder() [][]string {
	depth := make(map[string]int, len(g.nodes))
	maxDepth := 0

	for _, id := range g.kahnOrder() {
		d := 0

		for _, dep := range g.nodes[id].Dependencies {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}

		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for id, d := range depth {
		levels[d] = append(levels[d], id)
	}

	for _, level := range levels {
		sort.Strings(level)
	}

	return levels
}

// ReadyNodes returns nodes whose dependencies are all in completed and whose
// status is still PENDING, sorted by ID.
func (g *Graph) ReadyNodes(completed map[string]struct{}) []*models.Node {
	ready := make([]*models.Node, 0)

	for _, id := range g.sortedIDs() {
		node := g.nodes[id]
		if node.Status != models.NodeStatusPending {
			continue
		}

		satisfied := true

		for _, dep := range node.Dependencies {
			if _, ok := completed[dep]; !ok {
				satisfied = false

				break
			}
		}

		if satisfied {
			ready = append(ready, node)
		}
	}

	return ready
}

// CriticalPath returns the longest estimated-duration path through the
// graph. It is used for scheduling and ETA reporting only, never for
// correctness.
func (g *Graph) CriticalPath() ([]string, time.Duration) {
	best := make(map[string]time.Duration, len(g.nodes))
	prev := make(map[string]string, len(g.nodes))

	var endID string

	var endCost time.Duration

	for _, id := range g.kahnOrder() {
		node := g.nodes[id]

		var via string

		var prefix time.Duration

		for _, dep := range node.Dependencies {
			if via == "" || best[dep] > prefix {
				via = dep
				prefix = best[dep]
			}
		}

		cost := prefix + node.EstimatedDuration
		best[id] = cost

		if via != "" {
			prev[id] = via
		}

		if cost > endCost || endID == "" {
			endCost = cost
			endID = id
		}
	}

	path := make([]string, 0)
	for cur := endID; cur != ""; cur = prev[cur] {
		path = append(path, cur)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return path, endCost
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*models.Node, bool) {
	node, ok := g.nodes[id]

	return node, ok
}

// Nodes returns all nodes, sorted by ID.
func (g *Graph) Nodes() []*models.Node {
	out := make([]*models.Node, 0, len(g.nodes))
	for _, id := range g.sortedIDs() {
		out = append(out, g.nodes[id])
	}

	return out
}

// PhaseNodes returns the nodes belonging to a phase, sorted by ID.
func (g *Graph) PhaseNodes(phase string) []*models.Node {
	out := make([]*models.Node, 0)

	for _, id := range g.sortedIDs() {
		if g.nodes[id].Phase == phase {
			out = append(out, g.nodes[id])
		}
	}

	return out
}

// Dependents returns the IDs of nodes that depend on the given node.
func (g *Graph) Dependents(id string) []string {
	out := append([]string(nil), g.outgoing[id]...)
	sort.Strings(out)

	return out
}

// SetStatus updates a node's runtime status. Topology stays sealed; status
// is the only mutable node field after validation.
func (g *Graph) SetStatus(id string, status models.NodeStatus) {
	if node, ok := g.nodes[id]; ok {
		node.Status = status
	}
}

// Statuses returns a snapshot of every node's status.
func (g *Graph) Statuses() map[string]models.NodeStatus {
	out := make(map[string]models.NodeStatus, len(g.nodes))
	for id, node := range g.nodes {
		out[id] = node.Status
	}

	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
