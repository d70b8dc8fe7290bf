package graph

import "sort"

// unassignedRegion groups nodes that are not part of any project.
const unassignedRegion = "unassigned"

// Snapshot is a read-only view of the graph with precomputed adjacency.
// Adjacency lists preserve edge insertion order, which makes every traversal
// over a snapshot deterministic.
type Snapshot struct {
	Nodes   map[string]*Node
	Edges   []Edge
	Adj     map[string][]int  // undirected: node -> indices into Edges
	OutAdj  map[string][]string
	InAdj   map[string][]string
	Regions map[string]string // node -> project node id, or "unassigned"
}

// NewSnapshot builds a Snapshot. Edges with an unknown endpoint are ignored.
func NewSnapshot(nodes []*Node, edges []Edge) *Snapshot {
	nodeMap := make(map[string]*Node, len(nodes))
	adj := make(map[string][]int, len(nodes))
	outAdj := make(map[string][]string, len(nodes))
	inAdj := make(map[string][]string, len(nodes))

	for _, n := range nodes {
		nodeMap[n.ID] = n
		adj[n.ID] = nil
		outAdj[n.ID] = nil
		inAdj[n.ID] = nil
	}

	kept := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if _, ok := nodeMap[e.From]; !ok {
			continue
		}
		if _, ok := nodeMap[e.To]; !ok {
			continue
		}
		i := len(kept)
		kept = append(kept, e)
		adj[e.From] = append(adj[e.From], i)
		adj[e.To] = append(adj[e.To], i)
		outAdj[e.From] = append(outAdj[e.From], e.To)
		inAdj[e.To] = append(inAdj[e.To], e.From)
	}

	s := &Snapshot{
		Nodes:  nodeMap,
		Edges:  kept,
		Adj:    adj,
		OutAdj: outAdj,
		InAdj:  inAdj,
	}
	s.Regions = computeRegions(s)
	return s
}

// Degree is the number of edges touching id, in either direction.
func (s *Snapshot) Degree(id string) int {
	return len(s.Adj[id])
}

// FilterToTypes returns a snapshot containing only nodes of the given types
// and the edges between them.
func (s *Snapshot) FilterToTypes(types ...NodeType) *Snapshot {
	want := make(map[NodeType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var nodes []*Node
	for _, id := range s.NodeIDs() {
		if n := s.Nodes[id]; want[n.Type] {
			nodes = append(nodes, n)
		}
	}
	return NewSnapshot(nodes, s.Edges)
}

// FilterToRegion returns a snapshot of one project and the nodes part of it.
func (s *Snapshot) FilterToRegion(projectID string) *Snapshot {
	var nodes []*Node
	for _, id := range s.NodeIDs() {
		if s.Regions[id] == projectID {
			nodes = append(nodes, s.Nodes[id])
		}
	}
	return NewSnapshot(nodes, s.Edges)
}

// NodeIDs returns all node ids sorted.
func (s *Snapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// computeRegions assigns each node to the project it is part_of. Projects are
// their own region. A node part of several projects takes the smallest id.
func computeRegions(s *Snapshot) map[string]string {
	regions := make(map[string]string, len(s.Nodes))
	for id, n := range s.Nodes {
		if n.Type == TypeProject {
			regions[id] = id
		}
	}
	for _, e := range s.Edges {
		if e.Relation != RelPartOf {
			continue
		}
		target := s.Nodes[e.To]
		if target.Type != TypeProject {
			continue
		}
		if cur, ok := regions[e.From]; !ok || e.To < cur {
			regions[e.From] = e.To
		}
	}
	for id := range s.Nodes {
		if _, ok := regions[id]; !ok {
			regions[id] = unassignedRegion
		}
	}
	return regions
}
