// Package retrieval is the query-time facade: lexical ranking, optional
// semantic fusion, reinforcement boosts and graph expansion combined into
// one ranked result list.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/graph"
	"github.com/tslateman/lore-sub001/internal/index"
	"github.com/tslateman/lore-sub001/internal/source"
)

// Result origins.
const (
	OriginLexical  = "lexical"
	OriginSemantic = "semantic"
	OriginFused    = "fused"
	OriginGraph    = "graph"
	OriginScan     = "scan"
)

// FallbackScan marks a response served from the raw-log scan.
const FallbackScan = "scan"

// rrfK is the reciprocal rank fusion constant.
const rrfK = 60

// Searcher is a ranked index: the lexical index or the vector index.
type Searcher interface {
	Query(ctx context.Context, text string, kinds []source.Kind, limit int) ([]index.Hit, error)
}

// Booster supplies reinforcement boosts and records accesses.
type Booster interface {
	Boosts(ctx context.Context, keys []source.Key) (map[source.Key]float64, error)
	Record(ctx context.Context, query string, keys ...source.Key) error
}

// Refresher rebuilds the index in the background. Refresh must return
// immediately.
type Refresher interface {
	Refresh()
}

// Config tunes the engine.
type Config struct {
	DefaultLimit  int
	MaxGraphDepth int
	GraphDecay    float64
}

// DefaultConfig returns limit 10, depth at most 3 and a 0.5 decay per hop.
func DefaultConfig() Config {
	return Config{DefaultLimit: 10, MaxGraphDepth: 3, GraphDecay: 0.5}
}

// Options are per-query settings.
type Options struct {
	Kinds      []source.Kind
	GraphDepth int
	Limit      int
	Semantic   bool
}

// Result is one ranked record.
type Result struct {
	Kind       source.Kind `json:"kind"`
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Snippet    string      `json:"snippet,omitempty"`
	Score      float64     `json:"score"`
	Boost      float64     `json:"boost,omitempty"`
	Origin     string      `json:"origin"`
	Depth      int         `json:"depth,omitempty"`
	Via        string      `json:"via,omitempty"`
	Scope      string      `json:"scope,omitempty"`
	Importance int         `json:"importance,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Key returns the source key of the result.
func (r Result) Key() source.Key { return source.Key{Kind: r.Kind, ID: r.ID} }

// Response is the outcome of a query.
type Response struct {
	Query      string   `json:"query"`
	Results    []Result `json:"results"`
	Fallback   string   `json:"fallback,omitempty"`
	Stale      bool     `json:"stale,omitempty"`
	Refreshing bool     `json:"refreshing,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Engine answers queries. Every collaborator except the sources is
// optional; a missing one disables its stage.
type Engine struct {
	cfg       Config
	sources   *source.Set
	lexical   Searcher
	semantic  Searcher
	graph     *graph.Store
	booster   Booster
	refresher Refresher
	stale     func() bool
	log       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLexical(s Searcher) Option { return func(e *Engine) { e.lexical = s } }
func WithSemantic(s Searcher) Option { return func(e *Engine) { e.semantic = s } }
func WithGraph(g *graph.Store) Option { return func(e *Engine) { e.graph = g } }
func WithBooster(b Booster) Option { return func(e *Engine) { e.booster = b } }
func WithRefresher(r Refresher) Option { return func(e *Engine) { e.refresher = r } }
func WithStaleCheck(f func() bool) Option { return func(e *Engine) { e.stale = f } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an Engine. Zero fields of cfg take their defaults.
func New(cfg Config, sources *source.Set, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxGraphDepth <= 0 {
		cfg.MaxGraphDepth = def.MaxGraphDepth
	}
	if cfg.GraphDecay <= 0 || cfg.GraphDecay >= 1 {
		cfg.GraphDecay = def.GraphDecay
	}
	e := &Engine{cfg: cfg, sources: sources, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Query runs the full retrieval pipeline.
func (e *Engine) Query(ctx context.Context, text string, opts Options) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.Input("retrieval.query", "search query is empty")
	}
	if opts.GraphDepth < 0 || opts.GraphDepth > e.cfg.MaxGraphDepth {
		return nil, apperrors.Input("retrieval.query", "graph depth must be between 0 and %d, got %d",
			e.cfg.MaxGraphDepth, opts.GraphDepth)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	resp := &Response{Query: text}
	candidates, err := e.candidates(ctx, text, opts, limit*3, resp)
	if err != nil {
		return nil, err
	}

	e.applyBoosts(ctx, candidates)
	sortResults(candidates)

	if opts.GraphDepth > 0 {
		candidates = append(candidates, e.expand(candidates, opts, limit)...)
	}

	results := dedupe(candidates)
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	resp.Results = results

	e.recordAccess(ctx, text, results)
	e.maybeRefresh(resp)
	return resp, nil
}

// candidates gathers the first-stage hits: lexical, optionally fused with
// semantic, or the raw-log scan when the index cannot be used.
func (e *Engine) candidates(ctx context.Context, text string, opts Options, n int, resp *Response) ([]Result, error) {
	var lexical []index.Hit
	if e.lexical == nil {
		resp.Fallback = FallbackScan
	} else {
		hits, err := e.lexical.Query(ctx, text, opts.Kinds, n)
		switch {
		case err == nil:
			lexical = hits
		case apperrors.Is(err, apperrors.KindUnavailable):
			e.log.Warn("lexical index unavailable, scanning source logs", zap.Error(err))
			resp.Fallback = FallbackScan
		default:
			return nil, err
		}
	}
	if resp.Fallback == FallbackScan {
		return e.scan(text, opts.Kinds, n), nil
	}

	results := fromHits(lexical, OriginLexical)
	if !opts.Semantic {
		return results, nil
	}
	if e.semantic == nil {
		resp.Warnings = append(resp.Warnings, "semantic index unavailable, lexical results only")
		return results, nil
	}
	semantic, err := e.semantic.Query(ctx, text, opts.Kinds, n)
	if err != nil {
		e.log.Warn("semantic query failed", zap.Error(err))
		resp.Warnings = append(resp.Warnings, "semantic query failed: "+err.Error())
		return results, nil
	}
	return Fuse(results, fromHits(semantic, OriginSemantic)), nil
}

func fromHits(hits []index.Hit, origin string) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			Kind:       h.Kind,
			ID:         h.ID,
			Title:      h.Title,
			Snippet:    h.Snippet,
			Score:      h.Score,
			Origin:     origin,
			Scope:      h.Scope,
			Importance: h.Importance,
			Timestamp:  h.Timestamp,
		})
	}
	return out
}

// scan keeps the scan's newest-first order by scoring each match by its
// position alone.
func (e *Engine) scan(text string, kinds []source.Kind, n int) []Result {
	if e.sources == nil {
		return nil
	}
	matches := e.sources.Scan(text, kinds)
	if len(matches) > n {
		matches = matches[:n]
	}
	out := make([]Result, 0, len(matches))
	for i, m := range matches {
		h := m.Record.Header()
		out = append(out, Result{
			Kind:       m.Record.Kind(),
			ID:         h.ID,
			Title:      h.Summary,
			Score:      1.0 / float64(rrfK+i+1),
			Origin:     OriginScan,
			Scope:      source.ScopeOf(m.Record),
			Importance: h.Importance,
			Timestamp:  h.Timestamp,
		})
	}
	return out
}

// Fuse merges ranked lists by reciprocal rank fusion: each list adds
// 1/(60 + rank) for every record it contains. Fields of the first list a
// record appears in win.
func Fuse(lists ...[]Result) []Result {
	byKey := make(map[source.Key]int)
	var out []Result
	for _, list := range lists {
		for rank, r := range list {
			score := 1.0 / float64(rrfK+rank+1)
			if i, ok := byKey[r.Key()]; ok {
				out[i].Score += score
				out[i].Origin = OriginFused
				if out[i].Snippet == "" {
					out[i].Snippet = r.Snippet
				}
				continue
			}
			r.Score = score
			byKey[r.Key()] = len(out)
			out = append(out, r)
		}
	}
	sortResults(out)
	return out
}

func (e *Engine) applyBoosts(ctx context.Context, results []Result) {
	if e.booster == nil || len(results) == 0 {
		return
	}
	keys := make([]source.Key, len(results))
	for i, r := range results {
		keys[i] = r.Key()
	}
	boosts, err := e.booster.Boosts(ctx, keys)
	if err != nil {
		e.log.Warn("reinforcement boosts unavailable", zap.Error(err))
		return
	}
	for i := range results {
		if b := boosts[results[i].Key()]; b > 0 {
			results[i].Boost = b
			results[i].Score *= 1 + b
		}
	}
}

// expand walks the graph from the top hits and adds the records reached,
// scored as the originating hit times decay^hop.
func (e *Engine) expand(top []Result, opts Options, limit int) []Result {
	if e.graph == nil {
		return nil
	}
	if len(top) > limit {
		top = top[:limit]
	}
	allowed := make(map[source.Kind]bool, len(opts.Kinds))
	for _, k := range opts.Kinds {
		allowed[k] = true
	}

	snap := e.graph.Snapshot()
	var out []Result
	for _, hit := range top {
		start, ok := e.graph.NodeForSource(string(hit.Kind), hit.ID)
		if !ok {
			continue
		}
		for _, hop := range graph.Traverse(snap, start.ID, opts.GraphDepth) {
			ref, ok := e.graph.Provenance(hop.Node.ID)
			if !ok {
				continue
			}
			kind := source.Kind(ref.Kind)
			if len(allowed) > 0 && !allowed[kind] {
				continue
			}
			out = append(out, Result{
				Kind:      kind,
				ID:        ref.ID,
				Title:     hop.Node.Name,
				Score:     hit.Score * math.Pow(e.cfg.GraphDecay, float64(hop.Depth)),
				Origin:    OriginGraph,
				Depth:     hop.Depth,
				Via:       string(hit.Kind) + "/" + hit.ID + " " + string(hop.Edge.Relation),
				Scope:     hop.Node.Attr(graph.AttrScope),
				Timestamp: hop.Node.CreatedAt,
			})
		}
	}
	return out
}

// dedupe keeps the highest scoring result per record.
func dedupe(results []Result) []Result {
	best := make(map[source.Key]int, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		i, ok := best[r.Key()]
		if !ok {
			best[r.Key()] = len(out)
			out = append(out, r)
			continue
		}
		if r.Score > out[i].Score {
			out[i] = r
		}
	}
	return out
}

// sortResults orders by score descending, then kind and id.
func sortResults(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		if rs[i].Kind != rs[j].Kind {
			return rs[i].Kind < rs[j].Kind
		}
		return rs[i].ID < rs[j].ID
	})
}

func (e *Engine) recordAccess(ctx context.Context, query string, results []Result) {
	if e.booster == nil || len(results) == 0 {
		return
	}
	keys := make([]source.Key, len(results))
	for i, r := range results {
		keys[i] = r.Key()
	}
	if err := e.booster.Record(ctx, query, keys...); err != nil {
		e.log.Warn("recording access failed", zap.Error(err))
	}
}

func (e *Engine) maybeRefresh(resp *Response) {
	if e.stale == nil {
		return
	}
	resp.Stale = resp.Fallback == FallbackScan || e.stale()
	if resp.Stale && e.refresher != nil {
		e.refresher.Refresh()
		resp.Refreshing = true
	}
}
