package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/source"
)

func TestLive_ReopensAfterRebuild(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	live := NewLive(path)
	defer live.Close()

	_, err := live.Query(ctx, "alpha", nil, 5)
	assert.True(t, apperrors.Is(err, apperrors.KindUnavailable), "no file yet")
	assert.True(t, live.BuiltAt().IsZero())

	require.NoError(t, Build(ctx, path, []Entry{entry(source.KindDecision, "d1", "alpha beta", "")}, t0))
	hits, err := live.Query(ctx, "alpha", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].ID)

	rebuilt := t0.Add(time.Hour)
	require.NoError(t, Build(ctx, path, []Entry{entry(source.KindDecision, "d2", "alpha gamma", "")}, rebuilt))
	hits, err = live.Query(ctx, "alpha", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].ID)
	assert.True(t, live.BuiltAt().Equal(rebuilt))

	require.NoError(t, os.Remove(path))
	_, err = live.Query(ctx, "alpha", nil, 5)
	assert.True(t, apperrors.Is(err, apperrors.KindUnavailable))
}
