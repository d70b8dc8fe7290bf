// Package server is a read-only HTTP facade over the graph and the
// retrieval engine.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/graph"
	"github.com/tslateman/lore-sub001/internal/logging"
	"github.com/tslateman/lore-sub001/internal/retrieval"
	"github.com/tslateman/lore-sub001/internal/source"
)

// Server serves the HTTP API. Graph reads are serialized with Exclusive so
// a background sync never interleaves with a request.
type Server struct {
	store    *graph.Store
	engine   *retrieval.Engine
	maxDepth int
	log      *zap.Logger

	mu     sync.Mutex
	router *gin.Engine
}

// New builds the router.
func New(store *graph.Store, engine *retrieval.Engine, maxDepth int, log *zap.Logger) *Server {
	log = logging.OrNop(log)
	if maxDepth <= 0 {
		maxDepth = retrieval.DefaultConfig().MaxGraphDepth
	}
	s := &Server{store: store, engine: engine, maxDepth: maxDepth, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), ginLogger(log))
	r.GET("/healthz", s.health)
	r.GET("/search", s.search)
	g := r.Group("/graph")
	{
		g.GET("/nodes/:ref", s.node)
		g.GET("/related/:ref", s.related)
		g.GET("/path", s.path)
		g.GET("/stats", s.stats)
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Exclusive runs fn while no request touches the graph.
func (s *Server) Exclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	s.log.Info("Server started", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		log.Debug("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindInput:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindUnavailable:
		status = http.StatusServiceUnavailable
	case apperrors.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	s.mu.Lock()
	nodes, edges := s.store.Len()
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "nodes": nodes, "edges": edges})
}

type searchQuery struct {
	Q        string   `form:"q" binding:"required"`
	Depth    int      `form:"depth" binding:"gte=0"`
	Types    []string `form:"type"`
	Limit    int      `form:"limit" binding:"gte=0"`
	Semantic bool     `form:"semantic"`
}

func (s *Server) search(c *gin.Context) {
	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.fail(c, apperrors.Input("server.search", "%v", err))
		return
	}
	opts := retrieval.Options{GraphDepth: q.Depth, Limit: q.Limit, Semantic: q.Semantic}
	for _, t := range q.Types {
		for _, part := range strings.Split(t, ",") {
			k, err := source.ParseKind(part)
			if err != nil {
				s.fail(c, err)
				return
			}
			opts.Kinds = append(opts.Kinds, k)
		}
	}

	s.mu.Lock()
	resp, err := s.engine.Query(c.Request.Context(), q.Q, opts)
	s.mu.Unlock()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type nodeResponse struct {
	Node   *graph.Node      `json:"node"`
	Source *graph.SourceRef `json:"source,omitempty"`
	Edges  []graph.Edge     `json:"edges"`
}

func (s *Server) node(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.store.ResolveRef(c.Param("ref"))
	if !ok {
		s.fail(c, apperrors.NotFound("server.node", c.Param("ref")))
		return
	}
	resp := nodeResponse{Node: n, Edges: s.store.EdgesOf(n.ID)}
	if ref, ok := s.store.Provenance(n.ID); ok {
		resp.Source = &ref
	}
	if resp.Edges == nil {
		resp.Edges = []graph.Edge{}
	}
	c.JSON(http.StatusOK, resp)
}

type hopsQuery struct {
	Hops int `form:"hops,default=1" binding:"gte=1"`
}

func (s *Server) related(c *gin.Context) {
	var q hopsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.fail(c, apperrors.Input("server.related", "%v", err))
		return
	}
	if q.Hops > s.maxDepth {
		s.fail(c, apperrors.Input("server.related", "hops must be at most %d", s.maxDepth))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	related := []graph.RelatedNode{}
	if n, ok := s.store.ResolveRef(c.Param("ref")); ok {
		if r := graph.Related(s.store.Snapshot(), n.ID, q.Hops); r != nil {
			related = r
		}
	}
	c.JSON(http.StatusOK, gin.H{"related": related})
}

type pathQuery struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to" binding:"required"`
}

func (s *Server) path(c *gin.Context) {
	var q pathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.fail(c, apperrors.Input("server.path", "%v", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := []*graph.Node{}
	a, okA := s.store.ResolveRef(q.From)
	b, okB := s.store.ResolveRef(q.To)
	if okA && okB {
		for _, id := range graph.ShortestPath(s.store.Snapshot(), a.ID, b.ID) {
			if n, ok := s.store.Node(id); ok {
				nodes = append(nodes, n)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"path": nodes})
}

func (s *Server) stats(c *gin.Context) {
	s.mu.Lock()
	st := s.store.Stats()
	s.mu.Unlock()
	c.JSON(http.StatusOK, st)
}
