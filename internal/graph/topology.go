package graph

import "sort"

// HubNode is a node with high connectivity.
type HubNode struct {
	ID        string   `json:"id"`
	Type      NodeType `json:"type"`
	Name      string   `json:"name"`
	Degree    int      `json:"degree"`
	InDegree  int      `json:"in_degree"`
	OutDegree int      `json:"out_degree"`
}

// DegreeBucket is one bucket in the degree histogram
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopologyReport contains topology analysis results
type TopologyReport struct {
	TotalNodes        int            `json:"total_nodes"`
	TotalEdges        int            `json:"total_edges"`
	NumComponents     int            `json:"num_components"`
	LargestComponent  int            `json:"largest_component"`
	SmallestComponent int            `json:"smallest_component"`
	OrphanCount       int            `json:"orphan_count"`
	OrphanIDs         []string       `json:"orphan_ids"`
	DegreeHistogram   []DegreeBucket `json:"degree_histogram"`
	Hubs              []HubNode      `json:"hubs"`
}

// Orphans returns nodes with no edges, sorted by id.
func Orphans(snap *Snapshot) []*Node {
	var out []*Node
	for _, id := range snap.NodeIDs() {
		if snap.Degree(id) == 0 {
			out = append(out, snap.Nodes[id])
		}
	}
	return out
}

// Hubs returns the limit most connected nodes by degree, ties broken by id.
// A non-positive limit returns every connected node.
func Hubs(snap *Snapshot, limit int) []HubNode {
	var hubs []HubNode
	for _, id := range snap.NodeIDs() {
		deg := snap.Degree(id)
		if deg == 0 {
			continue
		}
		n := snap.Nodes[id]
		hubs = append(hubs, HubNode{
			ID:        id,
			Type:      n.Type,
			Name:      n.Name,
			Degree:    deg,
			InDegree:  len(snap.InAdj[id]),
			OutDegree: len(snap.OutAdj[id]),
		})
	}
	sortHubs(hubs)
	if limit > 0 && len(hubs) > limit {
		hubs = hubs[:limit]
	}
	return hubs
}

func sortHubs(hubs []HubNode) {
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Degree != hubs[j].Degree {
			return hubs[i].Degree > hubs[j].Degree
		}
		return hubs[i].ID < hubs[j].ID
	})
}

// Clusters returns connected components (edges treated as undirected), members
// sorted, largest first. Isolated nodes are singleton components.
func Clusters(snap *Snapshot) [][]string {
	uf := NewUnionFind(snap.NodeIDs())
	for _, e := range snap.Edges {
		uf.Union(e.From, e.To)
	}
	return uf.Components()
}

// ComputeTopology analyzes components, orphans, degree distribution and hubs.
// Hubs are nodes with degree above hubThreshold; lists are capped at topN.
func ComputeTopology(snap *Snapshot, hubThreshold, topN int) *TopologyReport {
	totalNodes := len(snap.Nodes)
	if totalNodes == 0 {
		return &TopologyReport{DegreeHistogram: defaultHistogram()}
	}

	components := Clusters(snap)
	largest, smallest := 0, totalNodes
	for _, c := range components {
		if len(c) > largest {
			largest = len(c)
		}
		if len(c) < smallest {
			smallest = len(c)
		}
	}

	var orphans []string
	for _, n := range Orphans(snap) {
		orphans = append(orphans, n.ID)
	}
	orphanCount := len(orphans)
	if len(orphans) > topN {
		orphans = orphans[:topN]
	}

	// log-scale buckets
	buckets := [7]int{}
	for id := range snap.Nodes {
		buckets[degreeBucket(snap.Degree(id))]++
	}
	histogram := defaultHistogram()
	for i := range histogram {
		histogram[i].Count = buckets[i]
	}

	var hubs []HubNode
	for _, h := range Hubs(snap, 0) {
		if h.Degree > hubThreshold {
			hubs = append(hubs, h)
		}
	}
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}

	return &TopologyReport{
		TotalNodes:        totalNodes,
		TotalEdges:        len(snap.Edges),
		NumComponents:     len(components),
		LargestComponent:  largest,
		SmallestComponent: smallest,
		OrphanCount:       orphanCount,
		OrphanIDs:         orphans,
		DegreeHistogram:   histogram,
		Hubs:              hubs,
	}
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2-3"},
		{Label: "4-7"}, {Label: "8-15"}, {Label: "16-31"}, {Label: "32+"},
	}
}

func degreeBucket(degree int) int {
	switch {
	case degree == 0:
		return 0
	case degree == 1:
		return 1
	case degree <= 3:
		return 2
	case degree <= 7:
		return 3
	case degree <= 15:
		return 4
	case degree <= 31:
		return 5
	default:
		return 6
	}
}
