package graph

import (
	"container/heap"
	"math"
)

// ContextNode is a node reached by weighted expansion from a source.
type ContextNode struct {
	Rank      int       `json:"rank"`
	ID        string    `json:"id"`
	Type      NodeType  `json:"type"`
	Name      string    `json:"name"`
	Distance  float64   `json:"distance"`
	Relevance float64   `json:"relevance"`
	Hops      int       `json:"hops"`
	Path      []PathHop `json:"path"`
}

// PathHop is one edge on the cheapest path from the source.
type PathHop struct {
	Relation Relation `json:"relation"`
	NodeID   string   `json:"node_id"`
	NodeName string   `json:"node_name"`
}

// ContextConfig holds parameters for the context expansion.
type ContextConfig struct {
	Budget           int
	MaxHops          int
	MaxCost          float64
	Relations        []Relation // allowlist; nil means all
	ExcludeRelations []Relation
	Types            []NodeType // result filter; traversal still passes through other types
}

// DefaultContextConfig returns the defaults used by the CLI.
func DefaultContextConfig() *ContextConfig {
	return &ContextConfig{
		Budget:  20,
		MaxHops: 6,
		MaxCost: 3.0,
	}
}

// RelationPriority ranks how much a relation says about its endpoints. Higher
// priority makes the edge cheaper to cross.
func RelationPriority(r Relation) float64 {
	switch r {
	case RelContradicts:
		return 1.0
	case RelSupersedes, RelDerivedFrom:
		return 0.7
	case RelImplements, RelDependsOn, RelProduces, RelConsumes:
		return 0.5
	default:
		return 0.3
	}
}

// IsStructural reports relations that encode containment rather than meaning.
func IsStructural(r Relation) bool {
	return r == RelPartOf || r == RelHosts
}

// edgeCost maps an edge to a positive traversal cost. Weight w becomes a
// confidence w/(1+w), so the default weight 1.0 is confidence 0.5.
func edgeCost(e Edge) float64 {
	w := e.Weight
	if w <= 0 {
		w = 1.0
	}
	confidence := w / (1 + w)
	cost := math.Max((1.0-confidence)*(1.0-0.5*RelationPriority(e.Relation)), 0.001)
	if IsStructural(e.Relation) {
		cost = math.Max(cost, 0.4)
	}
	return cost
}

type prevEntry struct {
	node     string
	relation Relation
}

type dijkstraEntry struct {
	distance float64
	nodeID   string
	hops     int
}

// dijkstraHeap is a min-heap ordered by distance, ties by node id.
type dijkstraHeap []dijkstraEntry

func (h dijkstraHeap) Len() int { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance < h[j].distance
	}
	return h[i].nodeID < h[j].nodeID
}
func (h dijkstraHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x any)   { *h = append(*h, x.(dijkstraEntry)) }
func (h *dijkstraHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Context expands from source along the cheapest paths and returns up to
// config.Budget nodes sorted by distance. Edges are followed in both
// directions. An unknown source yields no results.
func Context(snap *Snapshot, source string, config *ContextConfig) []ContextNode {
	if config == nil {
		config = DefaultContextConfig()
	}
	if _, ok := snap.Nodes[source]; !ok {
		return nil
	}
	budget := config.Budget
	if budget <= 0 {
		budget = 20
	}
	maxHops := config.MaxHops
	if maxHops <= 0 {
		maxHops = 6
	}
	maxCost := config.MaxCost
	if maxCost <= 0 {
		maxCost = 3.0
	}

	var allow map[Relation]bool
	if config.Relations != nil {
		allow = make(map[Relation]bool, len(config.Relations))
		for _, r := range config.Relations {
			allow[r] = true
		}
	}
	exclude := make(map[Relation]bool, len(config.ExcludeRelations))
	for _, r := range config.ExcludeRelations {
		exclude[r] = true
	}
	var types map[NodeType]bool
	if len(config.Types) > 0 {
		types = make(map[NodeType]bool, len(config.Types))
		for _, t := range config.Types {
			types[t] = true
		}
	}

	dist := map[string]float64{source: 0}
	prev := map[string]prevEntry{}
	visited := map[string]bool{}

	h := &dijkstraHeap{{distance: 0, nodeID: source}}
	heap.Init(h)

	var results []ContextNode
	for h.Len() > 0 {
		entry := heap.Pop(h).(dijkstraEntry)
		current := entry.nodeID
		if visited[current] {
			continue
		}
		visited[current] = true

		if current != source {
			node := snap.Nodes[current]
			if types == nil || types[node.Type] {
				results = append(results, ContextNode{
					ID:        current,
					Type:      node.Type,
					Name:      node.Name,
					Distance:  entry.distance,
					Relevance: 1.0 / (1.0 + entry.distance),
					Hops:      entry.hops,
					Path:      reconstructPath(snap, prev, source, current),
				})
				if len(results) >= budget {
					break
				}
			}
		}

		if entry.hops >= maxHops {
			continue
		}

		for _, i := range snap.Adj[current] {
			e := snap.Edges[i]
			if allow != nil && !allow[e.Relation] {
				continue
			}
			if exclude[e.Relation] {
				continue
			}
			neighbor := e.Other(current)
			if visited[neighbor] {
				continue
			}
			newDist := entry.distance + edgeCost(e)
			if newDist > maxCost {
				continue
			}
			if old, ok := dist[neighbor]; !ok || newDist < old {
				dist[neighbor] = newDist
				prev[neighbor] = prevEntry{node: current, relation: e.Relation}
				heap.Push(h, dijkstraEntry{distance: newDist, nodeID: neighbor, hops: entry.hops + 1})
			}
		}
	}

	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func reconstructPath(snap *Snapshot, prev map[string]prevEntry, source, target string) []PathHop {
	var path []PathHop
	for current := target; current != source; {
		entry, ok := prev[current]
		if !ok {
			break
		}
		path = append(path, PathHop{
			Relation: entry.relation,
			NodeID:   current,
			NodeName: snap.Nodes[current].Name,
		})
		current = entry.node
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
