package graph

import (
	"sort"
	"time"
)

const day = 24 * time.Hour

// recentWindow bounds what counts as a recent reference.
const recentWindow = 7 * day

// StaleNode is a node that's old but still being referenced
type StaleNode struct {
	ID              string   `json:"id"`
	Type            NodeType `json:"type"`
	Name            string   `json:"name"`
	DaysSinceUpdate int64    `json:"days_since_update"`
	RecentRefCount  int      `json:"recent_reference_count"`
}

// InvertedSupersession is a supersedes edge whose superseded decision was
// recorded after the decision replacing it.
type InvertedSupersession struct {
	SuccessorID    string `json:"successor_id"`
	SuccessorName  string `json:"successor_name"`
	SupersededID   string `json:"superseded_id"`
	SupersededName string `json:"superseded_name"`
	DriftDays      int64  `json:"drift_days"`
}

// StalenessReport contains staleness analysis results
type StalenessReport struct {
	StaleNodes         []StaleNode            `json:"stale_nodes"`
	InvertedSupersedes []InvertedSupersession `json:"inverted_supersedes"`
	StaleNodeCount     int                    `json:"stale_node_count"`
	InvertedCount      int                    `json:"inverted_count"`
}

// ComputeStaleness finds nodes not updated for staleDays that still gained
// incoming edges in the last week, and supersedes edges pointing forward in time.
func ComputeStaleness(snap *Snapshot, staleDays int64, now time.Time) *StalenessReport {
	staleAfter := time.Duration(staleDays) * day

	var staleNodes []StaleNode
	for _, id := range snap.NodeIDs() {
		node := snap.Nodes[id]
		age := now.Sub(node.UpdatedAt)
		if age <= staleAfter {
			continue
		}

		recent := 0
		for _, i := range snap.Adj[id] {
			e := snap.Edges[i]
			if e.To == id && e.From != id && now.Sub(e.CreatedAt) < recentWindow {
				recent++
			}
		}
		if recent > 0 {
			staleNodes = append(staleNodes, StaleNode{
				ID:              id,
				Type:            node.Type,
				Name:            node.Name,
				DaysSinceUpdate: int64(age / day),
				RecentRefCount:  recent,
			})
		}
	}
	sort.SliceStable(staleNodes, func(i, j int) bool {
		return staleNodes[i].RecentRefCount > staleNodes[j].RecentRefCount
	})

	var inverted []InvertedSupersession
	for _, e := range snap.Edges {
		if e.Relation != RelSupersedes {
			continue
		}
		successor, superseded := snap.Nodes[e.From], snap.Nodes[e.To]
		if superseded.CreatedAt.After(successor.CreatedAt) {
			inverted = append(inverted, InvertedSupersession{
				SuccessorID:    successor.ID,
				SuccessorName:  successor.Name,
				SupersededID:   superseded.ID,
				SupersededName: superseded.Name,
				DriftDays:      int64(superseded.CreatedAt.Sub(successor.CreatedAt) / day),
			})
		}
	}
	sort.SliceStable(inverted, func(i, j int) bool {
		return inverted[i].DriftDays > inverted[j].DriftDays
	})

	return &StalenessReport{
		StaleNodes:         staleNodes,
		InvertedSupersedes: inverted,
		StaleNodeCount:     len(staleNodes),
		InvertedCount:      len(inverted),
	}
}
