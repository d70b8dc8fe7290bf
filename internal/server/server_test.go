package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tslateman/lore-sub001/internal/graph"
	"github.com/tslateman/lore-sub001/internal/retrieval"
	"github.com/tslateman/lore-sub001/internal/source"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *graph.Store) {
	t.Helper()
	dir := t.TempDir()
	sources := source.NewSet(func(kind string) string {
		return filepath.Join(dir, kind+"s.jsonl")
	}, nil)
	require.NoError(t, sources.Log(source.KindDecision).Append(&source.Decision{
		Base: source.Base{ID: "d1", Timestamp: t0, Summary: "Cache search results"},
	}))

	store := graph.NewMemory()
	a, err := store.AddNode(graph.TypeDecision, "Cache search results", map[string]any{
		graph.AttrSourceKind: "decision", graph.AttrSourceID: "d1",
	})
	require.NoError(t, err)
	b, err := store.AddNode(graph.TypeProject, "alpha", nil)
	require.NoError(t, err)
	c, err := store.AddNode(graph.TypeConcept, "caching", nil)
	require.NoError(t, err)
	_, err = store.AddEdge(a, b, graph.RelPartOf, 1, false)
	require.NoError(t, err)
	_, err = store.AddEdge(b, c, graph.RelRelatesTo, 1, false)
	require.NoError(t, err)

	engine := retrieval.New(retrieval.DefaultConfig(), sources, retrieval.WithGraph(store))
	return New(store, engine, 3, nil), store
}

func get(t *testing.T, s *Server, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", url, nil)
	s.Handler().ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["nodes"])
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestSearch(t *testing.T) {
	s, _ := newTestServer(t)

	w, body := get(t, s, "/search?q=cache&type=decision")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, retrieval.FallbackScan, body["fallback"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].(map[string]any)["id"])

	w, _ = get(t, s, "/search")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = get(t, s, "/search?q=cache&depth=9")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = get(t, s, "/search?q=cache&type=widget")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNode(t *testing.T) {
	s, _ := newTestServer(t)

	w, body := get(t, s, "/graph/nodes/d1")
	require.Equal(t, http.StatusOK, w.Code)
	node := body["node"].(map[string]any)
	assert.Equal(t, "Cache search results", node["name"])
	assert.Equal(t, "d1", body["source"].(map[string]any)["id"])
	assert.Len(t, body["edges"], 1)

	w, body = get(t, s, "/graph/nodes/nothing-here")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, body["error"])
}

func TestRelated(t *testing.T) {
	s, _ := newTestServer(t)

	_, body := get(t, s, "/graph/related/ALPHA")
	assert.Len(t, body["related"], 2)

	_, body = get(t, s, "/graph/related/d1?hops=2")
	assert.Len(t, body["related"], 2)

	_, body = get(t, s, "/graph/related/unknown")
	assert.Empty(t, body["related"])

	w, _ := get(t, s, "/graph/related/d1?hops=5")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPath(t *testing.T) {
	s, _ := newTestServer(t)

	_, body := get(t, s, "/graph/path?from=d1&to=caching")
	path := body["path"].([]any)
	require.Len(t, path, 3)
	assert.Equal(t, "caching", path[2].(map[string]any)["name"])

	_, body = get(t, s, "/graph/path?from=d1&to=nowhere")
	assert.Empty(t, body["path"])

	w, _ := get(t, s, "/graph/path?from=d1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, s.Exclusive(func() error {
		_, err := store.AddNode(graph.TypeFile, "cmd/root.go", nil)
		return err
	}))

	w, body := get(t, s, "/graph/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, body["nodes"])
	assert.EqualValues(t, 2, body["edges"])
	assert.EqualValues(t, 1, body["orphans"])
}
