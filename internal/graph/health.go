package graph

import (
	"math"
	"time"
)

// HealthBreakdown holds the sub-scores behind the health score, each in [0, 1].
type HealthBreakdown struct {
	Coverage   float64 `json:"coverage"`
	Cohesion   float64 `json:"cohesion"`
	Freshness  float64 `json:"freshness"`
	Robustness float64 `json:"robustness"`
}

var healthWeights = HealthBreakdown{Coverage: 0.35, Cohesion: 0.20, Freshness: 0.25, Robustness: 0.20}

// CoverageReport counts record nodes, the ones projected from a source
// record, and how many of them carry at least one knowledge link.
type CoverageReport struct {
	Records  int      `json:"records"`
	Linked   int      `json:"linked"`
	Unlinked []string `json:"unlinked,omitempty"`
}

// AnalysisReport is the full analysis result
type AnalysisReport struct {
	HealthScore     float64          `json:"health_score"`
	HealthBreakdown HealthBreakdown  `json:"health_breakdown"`
	Coverage        *CoverageReport  `json:"coverage"`
	Topology        *TopologyReport  `json:"topology"`
	Staleness       *StalenessReport `json:"staleness"`
	Fragility       *FragilityReport `json:"fragility"`
}

// AnalyzerConfig holds analysis parameters
type AnalyzerConfig struct {
	HubThreshold int
	TopN         int
	StaleDays    int64
	Now          time.Time
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		HubThreshold: 8,
		TopN:         25,
		StaleDays:    60,
	}
}

// ComputeCoverage reports which record nodes have a non-structural edge.
// Unlinked ids are sorted and capped at topN.
func ComputeCoverage(snap *Snapshot, topN int) *CoverageReport {
	rep := &CoverageReport{}
	for _, id := range snap.NodeIDs() {
		if snap.Nodes[id].Attr(AttrSourceKind) == "" {
			continue
		}
		rep.Records++
		linked := false
		for _, i := range snap.Adj[id] {
			if !IsStructural(snap.Edges[i].Relation) {
				linked = true
				break
			}
		}
		if linked {
			rep.Linked++
		} else if len(rep.Unlinked) < topN {
			rep.Unlinked = append(rep.Unlinked, id)
		}
	}
	return rep
}

// Analyze runs every analysis and folds them into a health score in [0, 1].
// Coverage is measured on record nodes; a graph without any falls back to the
// share of nodes that have an edge at all.
func Analyze(snap *Snapshot, config *AnalyzerConfig) *AnalysisReport {
	now := config.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	rep := &AnalysisReport{
		Coverage:  ComputeCoverage(snap, config.TopN),
		Topology:  ComputeTopology(snap, config.HubThreshold, config.TopN),
		Staleness: ComputeStaleness(snap, config.StaleDays, now),
		Fragility: ComputeFragility(snap),
	}
	total := float64(rep.Topology.TotalNodes)
	if total == 0 {
		return rep
	}

	var b HealthBreakdown
	if cov := rep.Coverage; cov.Records > 0 {
		b.Coverage = penalty(float64(cov.Records-cov.Linked)/float64(cov.Records), 0.25)
	} else {
		b.Coverage = penalty(float64(rep.Topology.OrphanCount)/total, 0.2)
	}
	b.Cohesion = 1 / math.Sqrt(float64(max(rep.Topology.NumComponents, 1)))
	b.Freshness = penalty(float64(rep.Staleness.StaleNodeCount+rep.Staleness.InvertedCount)/total, 0.1)
	b.Robustness = penalty(float64(len(rep.Fragility.CutNodes))/total, 0.05)

	rep.HealthBreakdown = b
	rep.HealthScore = healthWeights.Coverage*b.Coverage +
		healthWeights.Cohesion*b.Cohesion +
		healthWeights.Freshness*b.Freshness +
		healthWeights.Robustness*b.Robustness
	return rep
}

// penalty maps a bad-share ratio to a score that falls linearly from 1 at
// zero to 0 at tolerance.
func penalty(ratio, tolerance float64) float64 {
	return math.Max(0, math.Min(1, 1-ratio/tolerance))
}
