package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/source"
)

const (
	collectionName = "records"
	embedBatch     = 32
)

// Vectors is an open semantic index.
type Vectors struct {
	db    *chromem.DB
	coll  *chromem.Collection
	embed Embedder
}

// OpenVectors opens the persisted collection under dir.
func OpenVectors(dir string, e Embedder) (*Vectors, error) {
	if e == nil {
		return nil, apperrors.Unavailable("index.vectors", "embedder", errors.New("embeddings are disabled"))
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", dir)
		}
		return nil, apperrors.Unavailable("index.vectors", "vector index", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, apperrors.Unavailable("index.vectors", "vector index", err)
	}
	coll := db.GetCollection(collectionName, embeddingFunc(e))
	if coll == nil {
		return nil, apperrors.Unavailable("index.vectors", "vector index",
			fmt.Errorf("collection %q not found", collectionName))
	}
	return &Vectors{db: db, coll: coll, embed: e}, nil
}

// Count is the number of stored vectors.
func (v *Vectors) Count() int { return v.coll.Count() }

// Query returns the records nearest to text, best first. Score is the
// cosine similarity.
func (v *Vectors) Query(ctx context.Context, text string, kinds []source.Kind, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	emb, err := v.embed.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	n := v.coll.Count()
	if n == 0 {
		return []Hit{}, nil
	}
	// Kind filtering happens after the query, so over-fetch when filtering.
	want := limit
	if len(kinds) > 0 {
		want = limit * 4
	}
	if want > n {
		want = n
	}
	results, err := v.coll.QueryEmbedding(ctx, emb[0], want, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	allowed := make(map[source.Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	hits := []Hit{}
	for _, r := range results {
		kind := source.Kind(r.Metadata["kind"])
		if len(allowed) > 0 && !allowed[kind] {
			continue
		}
		h := Hit{
			Kind:  kind,
			ID:    r.Metadata["id"],
			Title: r.Metadata["title"],
			Score: float64(r.Similarity),
			Scope: r.Metadata["scope"],
		}
		h.Importance, _ = strconv.Atoi(r.Metadata["importance"])
		h.Timestamp, _ = time.Parse(time.RFC3339Nano, r.Metadata["ts"])
		hits = append(hits, h)
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// BuildVectors embeds every entry and writes a fresh collection to a temp
// directory next to dir, then swaps it in for dir. At most concurrency embedding
// requests run at once.
func BuildVectors(ctx context.Context, dir string, entries []Entry, e Embedder, concurrency int) (int, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	embeddings := make([][]float32, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for start := 0; start < len(entries); start += embedBatch {
		start := start
		end := min(start+embedBatch, len(entries))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, en := range entries[start:end] {
				texts = append(texts, en.Text())
			}
			vecs, err := e.Embed(gctx, texts)
			if err != nil {
				return err
			}
			copy(embeddings[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dir), "."+filepath.Base(dir)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating vector temp dir: %w", err)
	}
	installed := false
	defer func() {
		if !installed {
			os.RemoveAll(tmp)
		}
	}()
	db, err := chromem.NewPersistentDB(tmp, false)
	if err != nil {
		return 0, fmt.Errorf("creating vector store: %w", err)
	}
	coll, err := db.GetOrCreateCollection(collectionName, nil, embeddingFunc(e))
	if err != nil {
		return 0, fmt.Errorf("creating collection: %w", err)
	}
	if len(entries) > 0 {
		docs := make([]chromem.Document, len(entries))
		for i, en := range entries {
			docs[i] = chromem.Document{
				ID:        string(en.Kind) + "/" + en.ID,
				Content:   en.Text(),
				Embedding: embeddings[i],
				Metadata: map[string]string{
					"kind":       string(en.Kind),
					"id":         en.ID,
					"title":      en.Title,
					"scope":      en.Scope,
					"importance": strconv.Itoa(en.Importance),
					"ts":         en.Timestamp.UTC().Format(time.RFC3339Nano),
				},
			}
		}
		if err := coll.AddDocuments(ctx, docs, concurrency); err != nil {
			return 0, fmt.Errorf("storing vectors: %w", err)
		}
	}

	if err := swapDir(tmp, dir); err != nil {
		return 0, err
	}
	installed = true
	return len(entries), nil
}

// swapDir replaces dir with tmp. The previous dir is parked next to tmp
// until the new one is in place.
func swapDir(tmp, dir string) error {
	old := tmp + ".old"
	if err := os.Rename(dir, old); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("parking old vectors: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		os.Rename(old, dir)
		return fmt.Errorf("installing vectors: %w", err)
	}
	return os.RemoveAll(old)
}

func embeddingFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := e.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}
}
