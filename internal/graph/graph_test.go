package graph

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time { return testNow.Add(-time.Duration(d) * 24 * time.Hour) }

type testNode struct {
	id        string
	typ       NodeType
	createdAt time.Time
	updatedAt time.Time
	record    bool
}

type testEdge struct {
	from, to  string
	rel       Relation
	createdAt time.Time
}

func makeTestSnapshot(nodes []testNode, edges []testEdge) *Snapshot {
	var ns []*Node
	for _, n := range nodes {
		typ := n.typ
		if typ == "" {
			typ = TypeConcept
		}
		node := &Node{
			ID: n.id, Type: typ, Name: "Node " + n.id,
			CreatedAt: n.createdAt, UpdatedAt: n.updatedAt,
		}
		if n.record {
			node.Attributes = map[string]any{AttrSourceKind: string(typ), AttrSourceID: n.id}
		}
		ns = append(ns, node)
	}
	var es []Edge
	for _, e := range edges {
		rel := e.rel
		if rel == "" {
			rel = RelRelatesTo
		}
		es = append(es, Edge{
			From: e.from, To: e.to, Relation: rel, Weight: 1,
			Status: EdgeStatusActive, CreatedAt: e.createdAt,
		})
	}
	return NewSnapshot(ns, es)
}

// quickSnapshot builds concept nodes joined by relates_to edges.
func quickSnapshot(nodeIDs []string, edges [][2]string) *Snapshot {
	var nodes []testNode
	for _, id := range nodeIDs {
		nodes = append(nodes, testNode{id: id, createdAt: testNow, updatedAt: testNow})
	}
	var es []testEdge
	for _, e := range edges {
		es = append(es, testEdge{from: e[0], to: e[1], createdAt: testNow})
	}
	return makeTestSnapshot(nodes, es)
}

// --- Topology Tests ---

func TestTopology_EmptyGraph(t *testing.T) {
	snap := NewSnapshot(nil, nil)
	r := ComputeTopology(snap, 4, 10)
	if r.TotalNodes != 0 || r.TotalEdges != 0 || r.NumComponents != 0 {
		t.Errorf("empty graph should have all zeros, got nodes=%d edges=%d components=%d",
			r.TotalNodes, r.TotalEdges, r.NumComponents)
	}
}

func TestTopology_TwoComponents(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C", "D", "E"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"D", "E"}},
	)
	r := ComputeTopology(snap, 4, 10)
	if r.NumComponents != 2 {
		t.Errorf("expected 2 components, got %d", r.NumComponents)
	}
	if r.LargestComponent != 3 {
		t.Errorf("expected largest=3, got %d", r.LargestComponent)
	}
	if r.SmallestComponent != 2 {
		t.Errorf("expected smallest=2, got %d", r.SmallestComponent)
	}
}

func TestOrphans(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}},
	)
	orphans := Orphans(snap)
	if len(orphans) != 2 {
		t.Fatalf("expected 2 orphans, got %d", len(orphans))
	}
	if orphans[0].ID != "C" || orphans[1].ID != "D" {
		t.Errorf("expected orphans [C D] in id order, got [%s %s]", orphans[0].ID, orphans[1].ID)
	}
}

func TestHubs_DegreeThenID(t *testing.T) {
	snap := quickSnapshot(
		[]string{"center", "b", "a", "s1", "s2", "s3"},
		[][2]string{
			{"center", "s1"}, {"center", "s2"}, {"center", "s3"},
			{"b", "s1"}, {"b", "s2"},
			{"a", "s2"}, {"a", "s3"},
		},
	)
	hubs := Hubs(snap, 3)
	if len(hubs) != 3 {
		t.Fatalf("expected 3 hubs, got %d", len(hubs))
	}
	want := []string{"center", "s2", "a"}
	for i, id := range want {
		if hubs[i].ID != id {
			t.Errorf("hub %d: expected %s, got %s (degree %d)", i, id, hubs[i].ID, hubs[i].Degree)
		}
	}
}

func TestHub_Detection(t *testing.T) {
	snap := quickSnapshot(
		[]string{"center", "s1", "s2", "s3", "s4", "s5"},
		[][2]string{{"center", "s1"}, {"center", "s2"}, {"center", "s3"}, {"center", "s4"}, {"center", "s5"}},
	)
	r := ComputeTopology(snap, 4, 10)
	if len(r.Hubs) != 1 {
		t.Fatalf("expected 1 hub, got %d", len(r.Hubs))
	}
	if r.Hubs[0].ID != "center" {
		t.Errorf("expected center as hub, got %s", r.Hubs[0].ID)
	}
	if r.Hubs[0].OutDegree != 5 || r.Hubs[0].InDegree != 0 {
		t.Errorf("expected out=5 in=0, got out=%d in=%d", r.Hubs[0].OutDegree, r.Hubs[0].InDegree)
	}
}

func TestClusters_SortedBySizeThenMember(t *testing.T) {
	snap := quickSnapshot(
		[]string{"x", "y", "c", "a", "b", "z"},
		[][2]string{{"x", "y"}, {"c", "a"}, {"a", "b"}},
	)
	clusters := Clusters(snap)
	if len(clusters) != 3 {
		t.Fatalf("expected 3 clusters, got %d", len(clusters))
	}
	if got := clusters[0]; len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("largest cluster should be [a b c], got %v", got)
	}
	if got := clusters[1]; len(got) != 2 || got[0] != "x" {
		t.Errorf("second cluster should be [x y], got %v", got)
	}
	if got := clusters[2]; len(got) != 1 || got[0] != "z" {
		t.Errorf("singleton should be [z], got %v", got)
	}
}

// --- Fragility Tests ---

func cutIDs(r *FragilityReport) map[string]bool {
	ids := make(map[string]bool)
	for _, c := range r.CutNodes {
		ids[c.ID] = true
	}
	return ids
}

func TestFragility_Path(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C"},
		[][2]string{{"A", "B"}, {"B", "C"}},
	)
	r := ComputeFragility(snap)
	if len(r.Bridges) != 2 {
		t.Errorf("expected 2 bridges, got %d", len(r.Bridges))
	}
	if ids := cutIDs(r); len(ids) != 1 || !ids["B"] {
		t.Errorf("only B should be a cut node, got %v", ids)
	}
}

func TestFragility_CycleHasNone(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}},
	)
	r := ComputeFragility(snap)
	if len(r.Bridges) != 0 {
		t.Errorf("triangle should have 0 bridges, got %d", len(r.Bridges))
	}
	if len(r.CutNodes) != 0 {
		t.Errorf("triangle should have 0 cut nodes, got %d", len(r.CutNodes))
	}
}

func TestFragility_TwoCyclesJoined(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C", "D", "E", "F"},
		[][2]string{
			{"A", "B"}, {"B", "C"}, {"C", "A"},
			{"D", "E"}, {"E", "F"}, {"F", "D"},
			{"C", "D"},
		},
	)
	r := ComputeFragility(snap)
	if len(r.Bridges) != 1 || r.Bridges[0].From != "C" || r.Bridges[0].To != "D" {
		t.Errorf("expected the single bridge C-D, got %+v", r.Bridges)
	}
	if ids := cutIDs(r); len(ids) != 2 || !ids["C"] || !ids["D"] {
		t.Errorf("C and D should be cut nodes, got %v", ids)
	}
}

func TestFragility_SharedVertexWithoutBridge(t *testing.T) {
	// two triangles sharing C: no bridge, but C still splits them
	snap := quickSnapshot(
		[]string{"A", "B", "C", "D", "E"},
		[][2]string{
			{"A", "B"}, {"B", "C"}, {"C", "A"},
			{"C", "D"}, {"D", "E"}, {"E", "C"},
		},
	)
	r := ComputeFragility(snap)
	if len(r.Bridges) != 0 {
		t.Errorf("expected no bridges, got %+v", r.Bridges)
	}
	if ids := cutIDs(r); len(ids) != 1 || !ids["C"] {
		t.Errorf("only C should be a cut node, got %v", ids)
	}
}

func TestFragility_IgnoresStructuralEdges(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{
			{id: "proj", typ: TypeProject},
			{id: "d1", typ: TypeDecision},
			{id: "d2", typ: TypeDecision},
			{id: "f", typ: TypeFile},
		},
		[]testEdge{
			{from: "d1", to: "proj", rel: RelPartOf},
			{from: "d2", to: "proj", rel: RelPartOf},
			{from: "d1", to: "f", rel: RelHosts},
			{from: "d1", to: "d2", rel: RelSupersedes},
		},
	)
	r := ComputeFragility(snap)
	if len(r.CutNodes) != 0 {
		t.Errorf("structural edges must not make cut nodes, got %+v", r.CutNodes)
	}
	if len(r.Bridges) != 1 || r.Bridges[0].Relation != RelSupersedes {
		t.Errorf("expected only the supersedes link as a bridge, got %+v", r.Bridges)
	}
}

// --- Region Tests ---

func TestRegion_PartOfProject(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{
			{id: "alpha", typ: TypeProject},
			{id: "d1", typ: TypeDecision},
			{id: "loose", typ: TypeConcept},
		},
		[]testEdge{{from: "d1", to: "alpha", rel: RelPartOf}},
	)
	if snap.Regions["alpha"] != "alpha" {
		t.Errorf("project is its own region, got %s", snap.Regions["alpha"])
	}
	if snap.Regions["d1"] != "alpha" {
		t.Errorf("d1 region should be alpha, got %s", snap.Regions["d1"])
	}
	if snap.Regions["loose"] != unassignedRegion {
		t.Errorf("loose should be unassigned, got %s", snap.Regions["loose"])
	}
	if got := snap.FilterToRegion("alpha"); len(got.Nodes) != 2 || len(got.Edges) != 1 {
		t.Errorf("alpha region should hold 2 nodes and 1 edge, got %d/%d", len(got.Nodes), len(got.Edges))
	}
}

func TestFragility_ThinLinks(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{
			{id: "p1", typ: TypeProject},
			{id: "p2", typ: TypeProject},
			{id: "d1", typ: TypeDecision},
			{id: "d2", typ: TypeDecision},
		},
		[]testEdge{
			{from: "d1", to: "p1", rel: RelPartOf},
			{from: "d2", to: "p2", rel: RelPartOf},
			{from: "d1", to: "d2", rel: RelRelatesTo},
			{from: "d2", to: "d1", rel: RelReferences},
		},
	)
	r := ComputeFragility(snap)
	if len(r.ThinLinks) != 1 {
		t.Fatalf("expected 1 thin link, got %d", len(r.ThinLinks))
	}
	if got := r.ThinLinks[0]; got.ProjectA != "p1" || got.ProjectB != "p2" || got.Links != 1 {
		t.Errorf("expected p1<->p2 held by 1 link, got %+v", got)
	}
}

// --- Staleness Tests ---

func TestStaleness_Detected(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{
			{id: "A", createdAt: daysAgo(100), updatedAt: daysAgo(90)},
			{id: "B", createdAt: testNow, updatedAt: testNow},
		},
		[]testEdge{{from: "B", to: "A", rel: RelReferences, createdAt: daysAgo(1)}},
	)
	r := ComputeStaleness(snap, 30, testNow)
	if r.StaleNodeCount != 1 {
		t.Fatalf("expected 1 stale node, got %d", r.StaleNodeCount)
	}
	if r.StaleNodes[0].ID != "A" {
		t.Errorf("expected A to be stale, got %s", r.StaleNodes[0].ID)
	}
	if r.StaleNodes[0].DaysSinceUpdate != 90 {
		t.Errorf("expected 90 days, got %d", r.StaleNodes[0].DaysSinceUpdate)
	}
}

func TestStaleness_NoFalsePositive(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{
			{id: "A", createdAt: daysAgo(100), updatedAt: daysAgo(90)},
			{id: "B", createdAt: daysAgo(100), updatedAt: daysAgo(60)},
		},
		[]testEdge{{from: "B", to: "A", rel: RelReferences, createdAt: daysAgo(60)}},
	)
	r := ComputeStaleness(snap, 30, testNow)
	if r.StaleNodeCount != 0 {
		t.Errorf("old node with only old edges should not be stale, got %d", r.StaleNodeCount)
	}
}

func TestStaleness_InvertedSupersedes(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{
			{id: "new", typ: TypeDecision, createdAt: daysAgo(10), updatedAt: daysAgo(10)},
			{id: "old", typ: TypeDecision, createdAt: daysAgo(2), updatedAt: daysAgo(2)},
		},
		[]testEdge{{from: "new", to: "old", rel: RelSupersedes, createdAt: daysAgo(10)}},
	)
	r := ComputeStaleness(snap, 30, testNow)
	if r.InvertedCount != 1 {
		t.Fatalf("expected 1 inverted supersession, got %d", r.InvertedCount)
	}
	if r.InvertedSupersedes[0].DriftDays != 8 {
		t.Errorf("expected drift 8 days, got %d", r.InvertedSupersedes[0].DriftDays)
	}
}

// --- Health Tests ---

func TestHealthScore_Range(t *testing.T) {
	snap := quickSnapshot([]string{"A", "B", "C"}, nil)
	r := Analyze(snap, &AnalyzerConfig{HubThreshold: 8, TopN: 25, StaleDays: 60, Now: testNow})
	if r.HealthScore < 0 || r.HealthScore > 1 {
		t.Errorf("health out of range: %f", r.HealthScore)
	}

	snap2 := quickSnapshot([]string{"A", "B"}, [][2]string{{"A", "B"}})
	r2 := Analyze(snap2, &AnalyzerConfig{HubThreshold: 8, TopN: 25, StaleDays: 60, Now: testNow})
	if r2.HealthScore < 0 || r2.HealthScore > 1 {
		t.Errorf("health out of range: %f", r2.HealthScore)
	}
}

func TestHealthScore_Perfect(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}},
	)
	r := Analyze(snap, &AnalyzerConfig{HubThreshold: 10, TopN: 50, StaleDays: 30, Now: testNow})
	if r.HealthScore < 0.95 {
		t.Errorf("perfect graph should have health ~1.0, got %f", r.HealthScore)
	}
}

func TestHealthScore_RecordCoverage(t *testing.T) {
	nodes := []testNode{
		{id: "proj", typ: TypeProject, createdAt: testNow, updatedAt: testNow},
		{id: "d1", typ: TypeDecision, record: true, createdAt: testNow, updatedAt: testNow},
		{id: "d2", typ: TypeDecision, record: true, createdAt: testNow, updatedAt: testNow},
		{id: "d3", typ: TypeDecision, record: true, createdAt: testNow, updatedAt: testNow},
		{id: "d4", typ: TypeDecision, record: true, createdAt: testNow, updatedAt: testNow},
	}
	edges := []testEdge{
		{from: "d1", to: "proj", rel: RelPartOf},
		{from: "d2", to: "proj", rel: RelPartOf},
		{from: "d3", to: "proj", rel: RelPartOf},
		{from: "d4", to: "proj", rel: RelPartOf},
		{from: "d1", to: "d2", rel: RelSupersedes},
		{from: "d2", to: "d3", rel: RelRelatesTo},
		{from: "d3", to: "d1", rel: RelRelatesTo},
	}
	cfg := &AnalyzerConfig{HubThreshold: 8, TopN: 25, StaleDays: 60, Now: testNow}

	r := Analyze(makeTestSnapshot(nodes, edges), cfg)
	if r.Coverage.Records != 4 || r.Coverage.Linked != 3 {
		t.Fatalf("expected 3 of 4 records linked, got %+v", r.Coverage)
	}
	if len(r.Coverage.Unlinked) != 1 || r.Coverage.Unlinked[0] != "d4" {
		t.Errorf("d4 should be the unlinked record, got %v", r.Coverage.Unlinked)
	}
	if r.HealthBreakdown.Coverage != 0 {
		t.Errorf("a quarter of records unlinked should zero coverage, got %f", r.HealthBreakdown.Coverage)
	}

	full := Analyze(makeTestSnapshot(nodes, append(edges, testEdge{from: "d4", to: "d1", rel: RelReferences})), cfg)
	if full.HealthBreakdown.Coverage != 1 {
		t.Errorf("every record linked should give full coverage, got %f", full.HealthBreakdown.Coverage)
	}
	if full.HealthScore <= r.HealthScore {
		t.Errorf("linking d4 should raise health: %f -> %f", r.HealthScore, full.HealthScore)
	}
}
