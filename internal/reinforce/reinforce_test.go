package reinforce

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/source"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTracker(t *testing.T, cfg Config) (*Tracker, *clock) {
	t.Helper()
	c := &clock{now: t0}
	tr, err := OpenInMemory(cfg, WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr, c
}

func key(id string) source.Key { return source.Key{Kind: source.KindDecision, ID: id} }

func TestBoost_NeverAccessedIsZero(t *testing.T) {
	tr, _ := newTracker(t, DefaultConfig())
	boosts, err := tr.Boosts(context.Background(), []source.Key{key("d1")})
	require.NoError(t, err)
	assert.Empty(t, boosts)
	assert.Zero(t, tr.Boost(nil))
}

func TestBoost_Formula(t *testing.T) {
	cfg := Config{HalfLife: 24 * time.Hour, Window: 10 * 24 * time.Hour, Weight: 0.5}
	tr, c := newTracker(t, cfg)

	times := []time.Time{t0, t0.Add(-24 * time.Hour), t0.Add(-30 * 24 * time.Hour)}
	want := 0.5 * math.Log(1+1+0.5)
	assert.InDelta(t, want, tr.Boost(times), 1e-9)

	c.now = t0.Add(24 * time.Hour)
	assert.Less(t, tr.Boost(times), want, "boost decays with age")
}

func TestRecordAndBoosts(t *testing.T) {
	ctx := context.Background()
	tr, c := newTracker(t, DefaultConfig())

	require.NoError(t, tr.Record(ctx, "cache", key("d1"), key("d2")))
	c.now = t0.Add(time.Hour)
	require.NoError(t, tr.Record(ctx, "cache again", key("d1")))

	boosts, err := tr.Boosts(ctx, []source.Key{key("d1"), key("d2"), key("d3")})
	require.NoError(t, err)
	require.Len(t, boosts, 2)
	assert.Greater(t, boosts[key("d1")], boosts[key("d2")])
	assert.Greater(t, boosts[key("d2")], 0.0)
}

func TestRecord_IDPrefixesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, DefaultConfig())
	require.NoError(t, tr.Record(ctx, "", key("a/b")))

	st, err := tr.Stats(ctx, key("a"))
	require.NoError(t, err)
	assert.Zero(t, st.AccessCount)

	st, err = tr.Stats(ctx, key("a/b"))
	require.NoError(t, err)
	assert.Equal(t, 1, st.AccessCount)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	tr, c := newTracker(t, DefaultConfig())
	require.NoError(t, tr.Record(ctx, "q", key("d1")))
	c.now = t0.Add(2 * time.Hour)
	require.NoError(t, tr.Record(ctx, "q", key("d1")))

	st, err := tr.Stats(ctx, key("d1"))
	require.NoError(t, err)
	assert.Equal(t, 2, st.AccessCount)
	assert.Equal(t, t0.Add(2*time.Hour), st.LastAccessed)
	assert.Greater(t, st.Boost, 0.0)
}

func TestTop(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, DefaultConfig())
	require.NoError(t, tr.Record(ctx, "q", key("d1"), key("d2")))
	require.NoError(t, tr.Record(ctx, "q", key("d2")))
	require.NoError(t, tr.Record(ctx, "q", source.Key{Kind: source.KindPattern, ID: "p1"}))

	top, err := tr.Top(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "d2", top[0].ID)
	assert.Equal(t, 2, top[0].AccessCount)
	assert.Equal(t, "d1", top[1].ID, "ties order by kind then id")
	assert.Equal(t, "p1", top[2].ID)

	top, err = tr.Top(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	tr, c := newTracker(t, DefaultConfig())
	require.NoError(t, tr.Record(ctx, "q", key("d1")))
	c.now = t0.Add(48 * time.Hour)
	require.NoError(t, tr.Record(ctx, "q", key("d1"), key("d2")))

	removed, err := tr.Prune(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	st, err := tr.Stats(ctx, key("d1"))
	require.NoError(t, err)
	assert.Equal(t, 1, st.AccessCount)

	removed, err = tr.Prune(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestOpen_LockedDirIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir, DefaultConfig())
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(dir, DefaultConfig())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindUnavailable))
	assert.True(t, IsLocked(err))
}

func TestParseKey(t *testing.T) {
	k, at, ok := parseKey(eventKey(key("x/y"), t0))
	require.True(t, ok)
	assert.Equal(t, key("x/y"), k)
	assert.True(t, at.Equal(t0))

	_, _, ok = parseKey([]byte("acc/garbage"))
	assert.False(t, ok)
}
