package index

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tslateman/lore-sub001/internal/logging"
	"github.com/tslateman/lore-sub001/internal/source"
)

// Report summarizes an index rebuild.
type Report struct {
	Path        string            `json:"path"`
	Records     int               `json:"records"`
	Vectors     int               `json:"vectors"`
	VectorError string            `json:"vector_error,omitempty"`
	Skipped     map[string]string `json:"skipped,omitempty"`
	BuiltAt     time.Time         `json:"built_at"`
	Duration    time.Duration     `json:"duration"`
}

// Rebuilder rebuilds the indexes from the source logs.
type Rebuilder struct {
	Path        string
	VectorDir   string
	Sources     *source.Set
	Embedder    Embedder
	Concurrency int
	Log         *zap.Logger
	Now         func() time.Time
}

// Rebuild reads every current record and rebuilds the lexical index, then
// the vector index when an embedder is configured. A failing embedder only
// costs the vector index.
func (r *Rebuilder) Rebuild(ctx context.Context) (*Report, error) {
	log := r.Log
	log = logging.OrNop(log)
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	started := now()
	rep := &Report{Path: r.Path, BuiltAt: started}

	var entries []Entry
	for _, l := range r.Sources.ReadAllCurrent(ctx) {
		if l.Err != nil {
			if !source.IsMissing(l.Err) {
				log.Warn("skipping source log", zap.String("kind", string(l.Kind)), zap.Error(l.Err))
				if rep.Skipped == nil {
					rep.Skipped = make(map[string]string)
				}
				rep.Skipped[string(l.Kind)] = l.Err.Error()
			}
			continue
		}
		for _, rec := range l.Records {
			entries = append(entries, EntryOf(rec))
		}
	}

	if err := Build(ctx, r.Path, entries, started); err != nil {
		return nil, err
	}
	rep.Records = len(entries)
	log.Info("lexical index rebuilt", zap.String("path", r.Path), zap.Int("records", rep.Records))

	if r.Embedder != nil && r.VectorDir != "" {
		n, err := BuildVectors(ctx, r.VectorDir, entries, r.Embedder, r.Concurrency)
		if err != nil {
			log.Warn("vector index not rebuilt", zap.Error(err))
			rep.VectorError = err.Error()
		} else {
			rep.Vectors = n
		}
	}
	rep.Duration = now().Sub(started)
	return rep, nil
}
