package graph

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hopIDs(hops []Hop) []string {
	out := make([]string, 0, len(hops))
	for _, h := range hops {
		out = append(out, h.Node.ID)
	}
	return out
}

func TestTraverse_DepthZeroIsEmpty(t *testing.T) {
	snap := quickSnapshot([]string{"A", "B"}, [][2]string{{"A", "B"}})
	assert.Empty(t, Traverse(snap, "A", 0))
}

func TestTraverse_UnknownStartIsEmpty(t *testing.T) {
	snap := quickSnapshot([]string{"A"}, nil)
	assert.Empty(t, Traverse(snap, "missing", 2))
}

func TestTraverse_FollowsBothDirections(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"C", "A"}, {"B", "D"}},
	)

	hops := Traverse(snap, "A", 1)
	assert.Equal(t, []string{"B", "C"}, hopIDs(hops))
	assert.True(t, hops[0].Outgoing)
	assert.False(t, hops[1].Outgoing)

	hops = Traverse(snap, "A", 2)
	assert.Equal(t, []string{"B", "C", "D"}, hopIDs(hops))
	assert.Equal(t, 2, hops[2].Depth)
	assert.Equal(t, "B", hops[2].Parent)
}

func TestTraverse_TerminatesOnCycles(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}},
	)
	hops := Traverse(snap, "A", 10)
	assert.ElementsMatch(t, []string{"B", "C"}, hopIDs(hops))
	for _, h := range hops {
		assert.Equal(t, 1, h.Depth, "%s reached at its shortest depth", h.Node.ID)
	}
}

func TestShortestPath(t *testing.T) {
	snap := quickSnapshot(
		[]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"A", "C"}},
	)
	assert.Equal(t, []string{"A", "C"}, ShortestPath(snap, "A", "C"))
	assert.Equal(t, []string{"C", "A"}, ShortestPath(snap, "C", "A"), "edges are walked undirected")
	assert.Equal(t, []string{"A"}, ShortestPath(snap, "A", "A"))
	assert.Nil(t, ShortestPath(snap, "A", "D"))
	assert.Nil(t, ShortestPath(snap, "A", "missing"))
}

func TestShortestPath_InsertionOrderBreaksTies(t *testing.T) {
	snap := quickSnapshot(
		[]string{"S", "X", "Y", "T"},
		[][2]string{{"S", "Y"}, {"S", "X"}, {"X", "T"}, {"Y", "T"}},
	)
	assert.Equal(t, []string{"S", "Y", "T"}, ShortestPath(snap, "S", "T"))
}

func TestRelated_Rows(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{{id: "d1", typ: TypeDecision}, {id: "alpha", typ: TypeProject}, {id: "d2", typ: TypeDecision}},
		[]testEdge{
			{from: "d1", to: "alpha", rel: RelPartOf},
			{from: "d2", to: "alpha", rel: RelPartOf},
		},
	)
	rows := Related(snap, "d1", 2)
	require.Len(t, rows, 2)

	assert.Equal(t, "alpha", rows[0].ID)
	assert.Equal(t, "--part_of-->", rows[0].Arrow())
	assert.Empty(t, rows[0].Indent())

	assert.Equal(t, "d2", rows[1].ID)
	assert.Equal(t, "<--part_of--", rows[1].Arrow())
	assert.Equal(t, "  ", rows[1].Indent())
}

func TestContext_PrefersStrongRelations(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{{id: "src"}, {id: "weak"}, {id: "strong"}, {id: "far"}},
		[]testEdge{
			{from: "src", to: "weak", rel: RelRelatesTo},
			{from: "src", to: "strong", rel: RelContradicts},
			{from: "strong", to: "far", rel: RelRelatesTo},
		},
	)
	results := Context(snap, "src", DefaultContextConfig())
	require.Len(t, results, 3)
	assert.Equal(t, "strong", results[0].ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Less(t, results[0].Distance, results[1].Distance)

	far := results[2]
	assert.Equal(t, "far", far.ID)
	assert.Equal(t, 2, far.Hops)
	require.Len(t, far.Path, 2)
	assert.Equal(t, RelContradicts, far.Path[0].Relation)
	assert.Equal(t, "far", far.Path[1].NodeID)
}

func TestContext_BudgetAndFilters(t *testing.T) {
	nodes := []testNode{{id: "center"}}
	var edges []testEdge
	for _, id := range []string{"s0", "s1", "s2", "s3", "s4"} {
		nodes = append(nodes, testNode{id: id})
		edges = append(edges, testEdge{from: "center", to: id, rel: RelRelatesTo})
	}
	nodes = append(nodes, testNode{id: "dep", typ: TypeProject})
	edges = append(edges, testEdge{from: "center", to: "dep", rel: RelDependsOn})
	snap := makeTestSnapshot(nodes, edges)

	results := Context(snap, "center", &ContextConfig{Budget: 3, MaxHops: 6, MaxCost: 3})
	assert.Len(t, results, 3)

	results = Context(snap, "center", &ContextConfig{Relations: []Relation{RelDependsOn}})
	require.Len(t, results, 1)
	assert.Equal(t, "dep", results[0].ID)

	results = Context(snap, "center", &ContextConfig{Types: []NodeType{TypeProject}})
	require.Len(t, results, 1)
	assert.Equal(t, "dep", results[0].ID)

	assert.Nil(t, Context(snap, "missing", nil))
}

func TestWriteDOT(t *testing.T) {
	snap := makeTestSnapshot(
		[]testNode{{id: "a", typ: TypeDecision}, {id: "b", typ: TypeConcept}},
		[]testEdge{{from: "a", to: "b", rel: RelReferences}},
	)
	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, snap))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "digraph lore {"))
	assert.Contains(t, out, `"a" -> "b" [label="references"];`)
	assert.Contains(t, out, `label="decision\nNode a"`)
}
