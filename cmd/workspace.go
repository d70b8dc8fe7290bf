package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tslateman/lore-sub001/internal/config"
	"github.com/tslateman/lore-sub001/internal/conflict"
	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/graph"
	"github.com/tslateman/lore-sub001/internal/index"
	"github.com/tslateman/lore-sub001/internal/logging"
	"github.com/tslateman/lore-sub001/internal/projection"
	"github.com/tslateman/lore-sub001/internal/reinforce"
	"github.com/tslateman/lore-sub001/internal/retrieval"
	"github.com/tslateman/lore-sub001/internal/source"
)

// workspace bundles what a command needs from an opened home directory.
// Stores are opened lazily and released by Close.
type workspace struct {
	cfg     *config.Config
	log     *zap.Logger
	sources *source.Set
	store   *graph.Store
	closers []func() error
}

// openWorkspace discovers the home, loads its config and re-initializes
// logging with the configured level unless a flag overrides it.
func openWorkspace() (*workspace, error) {
	home, err := DiscoverHome()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(firstNonEmpty(logLevel, cfg.Log.Level), firstNonEmpty(logFormat, cfg.Log.Format)); err != nil {
		return nil, err
	}
	log := logging.Get()
	log.Debug("workspace opened", zap.String("home", home))
	return &workspace{
		cfg:     cfg,
		log:     log,
		sources: source.NewSet(cfg.SourcePath, log),
	}, nil
}

func (w *workspace) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			w.log.Debug("closing workspace resource", zap.Error(err))
		}
	}
	w.closers = nil
}

// Graph opens the graph document.
func (w *workspace) Graph() (*graph.Store, error) {
	if w.store != nil {
		return w.store, nil
	}
	s, err := graph.Open(w.cfg.GraphPath(), graph.WithLogger(w.log))
	if err != nil {
		return nil, err
	}
	w.store = s
	return s, nil
}

func (w *workspace) Projector(store *graph.Store) *projection.Rebuilder {
	return projection.New(store, w.sources,
		projection.WithRecurringThreshold(w.cfg.Graph.RecurringThreshold),
		projection.WithLogger(w.log))
}

func (w *workspace) Detector() *conflict.Detector {
	c := w.cfg.Conflict
	return conflict.New(conflict.Config{
		DuplicateThreshold:     c.DuplicateThreshold,
		MinWords:               c.MinWords,
		RecentWindow:           c.RecentWindow,
		ContradictionThreshold: c.ContradictionThreshold,
		RecurringThreshold:     w.cfg.Graph.RecurringThreshold,
	}, w.log)
}

// Embedder returns the configured embedding client, or nil when embeddings
// are disabled.
func (w *workspace) Embedder() index.Embedder {
	e := w.cfg.Index.Embed
	if !e.Enabled {
		return nil
	}
	return index.NewOpenAIEmbedder(e.BaseURL, e.APIKey, e.Model)
}

// IndexRebuilder embeds records when asked to or when embeddings are enabled.
func (w *workspace) IndexRebuilder(embed bool) *index.Rebuilder {
	r := &index.Rebuilder{
		Path:        w.cfg.IndexPath(),
		VectorDir:   w.cfg.VectorPath(),
		Sources:     w.sources,
		Concurrency: w.cfg.Index.Embed.Concurrency,
		Log:         w.log,
	}
	if e := w.cfg.Index.Embed; embed || e.Enabled {
		r.Embedder = index.NewOpenAIEmbedder(e.BaseURL, e.APIKey, e.Model)
	}
	return r
}

// Tracker opens the access log. A tracker held by another process is not
// an error: retrieval runs without boosts.
func (w *workspace) Tracker() (*reinforce.Tracker, error) {
	r := w.cfg.Reinforce
	t, err := reinforce.Open(w.cfg.AccessPath(), reinforce.Config{
		HalfLife: r.HalfLife,
		Window:   r.Window,
		Weight:   r.Weight,
	}, reinforce.WithLogger(w.log))
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, t.Close)
	return t, nil
}

// Engine wires the retrieval engine from whatever is available on disk.
// Missing indexes and a locked access log degrade the engine, they never
// fail the command.
func (w *workspace) Engine(refresher retrieval.Refresher, semantic bool) (*retrieval.Engine, error) {
	var lexical retrieval.Searcher
	var builtAt time.Time
	ix, err := index.Open(w.cfg.IndexPath())
	switch {
	case err == nil:
		w.closers = append(w.closers, ix.Close)
		builtAt = ix.BuiltAt()
		lexical = ix
	case apperrors.Is(err, apperrors.KindUnavailable):
		w.log.Info("lexical index not available", zap.Error(err))
	default:
		return nil, err
	}
	return w.assemble(lexical, func() time.Time { return builtAt }, refresher, semantic)
}

// LiveEngine serves from an index that is reopened whenever a rebuild
// replaces it, for processes that outlive a rebuild.
func (w *workspace) LiveEngine(refresher retrieval.Refresher) (*retrieval.Engine, error) {
	live := index.NewLive(w.cfg.IndexPath())
	w.closers = append(w.closers, live.Close)
	return w.assemble(live, live.BuiltAt, refresher, true)
}

func (w *workspace) assemble(lexical retrieval.Searcher, builtAt func() time.Time, refresher retrieval.Refresher, semantic bool) (*retrieval.Engine, error) {
	store, err := w.Graph()
	if err != nil {
		return nil, err
	}
	opts := []retrieval.Option{
		retrieval.WithGraph(store),
		retrieval.WithLogger(w.log),
		retrieval.WithStaleCheck(func() bool { return index.Stale(builtAt(), w.sources) }),
	}
	if lexical != nil {
		opts = append(opts, retrieval.WithLexical(lexical))
	}

	if semantic {
		if vec, err := index.OpenVectors(w.cfg.VectorPath(), w.Embedder()); err == nil {
			w.log.Debug("vector index opened", zap.Int("vectors", vec.Count()))
			opts = append(opts, retrieval.WithSemantic(vec))
		} else {
			w.log.Info("vector index not available", zap.Error(err))
		}
	}

	tracker, err := w.Tracker()
	switch {
	case err == nil:
		opts = append(opts, retrieval.WithBooster(tracker))
	case reinforce.IsLocked(err):
		w.log.Warn("access log is locked by another process, ranking without reinforcement")
	default:
		w.log.Warn("access log unavailable, ranking without reinforcement", zap.Error(err))
	}

	if refresher != nil && w.cfg.Retrieval.BackgroundRefresh {
		opts = append(opts, retrieval.WithRefresher(refresher))
	}

	return retrieval.New(retrieval.Config{
		DefaultLimit:  w.cfg.Retrieval.DefaultLimit,
		MaxGraphDepth: w.cfg.Retrieval.MaxGraphDepth,
		GraphDecay:    w.cfg.Retrieval.GraphDecay,
	}, w.sources, opts...), nil
}

// processRefresher re-runs this binary as a detached `index rebuild`.
func (w *workspace) processRefresher() retrieval.Refresher {
	exe, err := os.Executable()
	if err != nil {
		w.log.Debug("cannot locate executable for background refresh", zap.Error(err))
		return nil
	}
	return &retrieval.ProcessRefresher{
		Path: exe,
		Args: []string{"index", "rebuild", "--quiet", "--home", w.cfg.Home},
		Log:  w.log,
	}
}

// ResolveNode finds a node by id, name, source id, or a unique id prefix.
func ResolveNode(store *graph.Store, reference string) (*graph.Node, error) {
	if n, ok := store.ResolveRef(reference); ok {
		return n, nil
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperrors.Input("graph.resolve", "node reference is required")
	}

	if len(reference) >= 6 {
		var matches []*graph.Node
		for _, n := range store.Nodes() {
			if strings.HasPrefix(n.ID, reference) {
				matches = append(matches, n)
			}
		}
		switch len(matches) {
		case 0:
		case 1:
			return matches[0], nil
		default:
			lines := make([]string, 0, 10)
			for i, m := range matches {
				if i == 10 {
					break
				}
				lines = append(lines, fmt.Sprintf("  %s %s", m.ID, m.Name))
			}
			return nil, apperrors.Input("graph.resolve", "ambiguous reference '%s'. %d matches:\n%s\nUse a full node ID instead.",
				reference, len(matches), strings.Join(lines, "\n"))
		}
	}
	return nil, apperrors.NotFound("graph.resolve", "node "+reference)
}
