package index

import (
	"context"
	"os"
	"sync"
	"time"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/source"
)

// Live serves queries from the index file at a path and reopens it when a
// rebuild has renamed a new file into place. Long-running processes use it
// so a background rebuild is picked up without a restart.
type Live struct {
	path string

	mu   sync.Mutex
	ix   *Index
	file os.FileInfo
}

// NewLive returns a Live index for path. Nothing is opened until the first query.
func NewLive(path string) *Live {
	return &Live{path: path}
}

func (l *Live) current() (*Index, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		l.closeLocked()
		return nil, apperrors.Unavailable("index.live", "lexical index", err)
	}
	if l.ix != nil && os.SameFile(fi, l.file) {
		return l.ix, nil
	}
	ix, err := Open(l.path)
	if err != nil {
		return nil, err
	}
	l.closeLocked()
	l.ix, l.file = ix, fi
	return ix, nil
}

// Query implements the same contract as Index.Query.
func (l *Live) Query(ctx context.Context, text string, kinds []source.Kind, limit int) ([]Hit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ix, err := l.current()
	if err != nil {
		return nil, err
	}
	return ix.Query(ctx, text, kinds, limit)
}

// BuiltAt is the build time of the index file currently on disk, or zero
// when there is none.
func (l *Live) BuiltAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	ix, err := l.current()
	if err != nil {
		return time.Time{}
	}
	return ix.BuiltAt()
}

func (l *Live) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Live) closeLocked() error {
	if l.ix == nil {
		return nil
	}
	err := l.ix.Close()
	l.ix, l.file = nil, nil
	return err
}
