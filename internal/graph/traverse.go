package graph

import "strings"

// Hop is one step of a breadth-first traversal: Node was reached from Parent
// over Edge, Depth edges away from the start. Outgoing reports whether Edge
// points away from Parent.
type Hop struct {
	Depth    int    `json:"depth"`
	Parent   string `json:"parent"`
	Edge     Edge   `json:"edge"`
	Node     *Node  `json:"node"`
	Outgoing bool   `json:"outgoing"`
}

// Traverse walks up to depth edges from start, following edges in both
// directions. Each node appears at most once, at its shortest depth; the start
// node is not included. Cycles terminate through the visited set.
func Traverse(snap *Snapshot, start string, depth int) []Hop {
	if depth <= 0 {
		return nil
	}
	if _, ok := snap.Nodes[start]; !ok {
		return nil
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var hops []Hop

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, i := range snap.Adj[id] {
				e := snap.Edges[i]
				other := e.Other(id)
				if visited[other] {
					continue
				}
				visited[other] = true
				hops = append(hops, Hop{
					Depth:    d,
					Parent:   id,
					Edge:     e,
					Node:     snap.Nodes[other],
					Outgoing: e.From == id,
				})
				next = append(next, other)
			}
		}
		frontier = next
	}
	return hops
}

// ShortestPath returns node ids from a to b inclusive along a fewest-edges
// path, treating edges as undirected. It returns nil when b is unreachable.
func ShortestPath(snap *Snapshot, a, b string) []string {
	if _, ok := snap.Nodes[a]; !ok {
		return nil
	}
	if _, ok := snap.Nodes[b]; !ok {
		return nil
	}
	if a == b {
		return []string{a}
	}

	parent := map[string]string{a: ""}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, i := range snap.Adj[cur] {
			other := snap.Edges[i].Other(cur)
			if _, seen := parent[other]; seen {
				continue
			}
			parent[other] = cur
			if other == b {
				return unwindPath(parent, b)
			}
			queue = append(queue, other)
		}
	}
	return nil
}

func unwindPath(parent map[string]string, end string) []string {
	var rev []string
	for id := end; id != ""; id = parent[id] {
		rev = append(rev, id)
	}
	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

// RelatedNode is a display-ready traversal result.
type RelatedNode struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Name     string   `json:"name"`
	Relation Relation `json:"relation"`
	Outgoing bool     `json:"outgoing"`
	Depth    int      `json:"depth"`
	Via      string   `json:"via"`
}

// Related flattens Traverse into display rows.
func Related(snap *Snapshot, start string, hops int) []RelatedNode {
	steps := Traverse(snap, start, hops)
	out := make([]RelatedNode, 0, len(steps))
	for _, h := range steps {
		out = append(out, RelatedNode{
			ID:       h.Node.ID,
			Type:     h.Node.Type,
			Name:     h.Node.Name,
			Relation: h.Edge.Relation,
			Outgoing: h.Outgoing,
			Depth:    h.Depth,
			Via:      h.Parent,
		})
	}
	return out
}

// Arrow renders the direction of a related row relative to its parent.
func (r RelatedNode) Arrow() string {
	if r.Outgoing {
		return "--" + string(r.Relation) + "-->"
	}
	return "<--" + string(r.Relation) + "--"
}

// Indent returns the display indentation for the row; rows deeper than one
// hop are indented under their parent.
func (r RelatedNode) Indent() string {
	if r.Depth < 2 {
		return ""
	}
	return strings.Repeat("  ", r.Depth-1)
}
