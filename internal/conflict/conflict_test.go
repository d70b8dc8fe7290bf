package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tslateman/lore-sub001/internal/source"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func dec(id, summary string, refs ...string) *source.Decision {
	return &source.Decision{Base: source.Base{ID: id, Timestamp: t0, Summary: summary, Refs: refs}}
}

func TestCheckDuplicate_ExamplePair(t *testing.T) {
	d := New(DefaultConfig(), nil)
	recent := []source.Record{dec("d1", "Use JSONL for decision storage")}

	got := d.CheckDuplicate("Use JSONL for decisions storage", recent, "")
	assert.True(t, got.Duplicate)
	assert.Equal(t, "d1", got.MatchID)
	assert.InDelta(t, 1.0, got.Similarity, 1e-9)

	got = d.CheckDuplicate("Deploy the staging cluster tonight", recent, "")
	assert.False(t, got.Duplicate)
	assert.Zero(t, got.Similarity)
}

func TestCheckDuplicate_ShortTextSkipped(t *testing.T) {
	d := New(DefaultConfig(), nil)
	recent := []source.Record{dec("d1", "use badger")}
	got := d.CheckDuplicate("use badger", recent, "")
	assert.True(t, got.Skipped)
	assert.False(t, got.Duplicate)
}

func TestCheckDuplicate_WindowAndExclude(t *testing.T) {
	d := New(Config{RecentWindow: 1}, nil)
	recent := []source.Record{
		dec("old", "Use JSONL for decision storage"),
		dec("new", "Deploy the staging cluster tonight"),
	}
	got := d.CheckDuplicate("Use JSONL for decision storage", recent, "")
	assert.False(t, got.Duplicate, "old record is outside the window")

	d = New(DefaultConfig(), nil)
	got = d.CheckDuplicate("Use JSONL for decision storage", recent, "old")
	assert.False(t, got.Duplicate, "a revision of the same id is not a duplicate")
}

func TestCheckDuplicate_Threshold(t *testing.T) {
	recent := []source.Record{dec("d1", "alpha beta gamma delta epsilon")}
	text := "alpha beta gamma delta zeta"

	lenient := New(Config{DuplicateThreshold: 0.5}, nil)
	assert.True(t, lenient.CheckDuplicate(text, recent, "").Duplicate)

	strict := New(DefaultConfig(), nil)
	assert.False(t, strict.CheckDuplicate(text, recent, "").Duplicate)
}

func TestCheckContradiction(t *testing.T) {
	d := New(DefaultConfig(), nil)
	recent := []source.Record{
		dec("d1", "Cache responses in internal/cache/lru.go for ten minutes"),
		dec("d2", "Prefer short functions", "style"),
		dec("d3", "Cache responses in internal/cache/lru.go for ten minutes please"),
	}
	candidate := dec("d9", "Never keep any process state inside internal/cache/lru.go because restarts wipe everything")

	got := d.CheckContradiction(candidate, recent)
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].MatchID)
	assert.Equal(t, []string{"internal/cache/lru.go"}, got[0].Shared)
	assert.Less(t, got[0].Similarity, 0.3)
}

func TestCheckContradiction_SimilarTextIsNotContradiction(t *testing.T) {
	d := New(DefaultConfig(), nil)
	recent := []source.Record{dec("d1", "Store decisions as JSONL", "storage")}
	got := d.CheckContradiction(dec("d2", "Store decisions as JSONL lines", "storage"), recent)
	assert.Empty(t, got)
}

func TestEntities(t *testing.T) {
	r := dec("d1", "Call parseConfig() before loading `config.yaml` from cmd/root.go", "Badger")
	assert.Equal(t, []string{"badger", "cmd/root.go", "config.yaml", "parseconfig()"}, Entities(r))
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"use", "jsonl", "for", "decision", "storage"}, Words("Use JSONL, for decisions' storage!"))
	assert.Equal(t, []string{"process", "bus", "gas"}, Words("process bus gas"))
}

func TestRecurringFailures(t *testing.T) {
	fail := func(id, summary string, occ int) *source.Failure {
		return &source.Failure{Base: source.Base{ID: id, Timestamp: t0, Summary: summary}, Occurrences: occ}
	}
	failures := []*source.Failure{
		fail("f1", "Timeout calling the API", 0),
		fail("f2", "timeout calling the api.", 0),
		fail("f3", "Disk full", 0),
		fail("f4", "Timeouts calling the APIs", 0),
		fail("f5", "OOM in worker", 3),
	}
	groups := RecurringFailures(failures, 3)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"f1", "f2", "f4"}, groups[0].IDs)
	assert.Equal(t, 3, groups[0].Count)
	assert.Equal(t, []string{"f5"}, groups[1].IDs)
}
