package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func decision(id, summary string, at time.Time, tags ...string) *Decision {
	return &Decision{Base: Base{ID: id, Timestamp: at, Summary: summary, Tags: tags}}
}

func testSet(t *testing.T) (*Set, string) {
	t.Helper()
	dir := t.TempDir()
	return NewSet(func(kind string) string {
		return filepath.Join(dir, kind+"s.jsonl")
	}, nil), dir
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"decision", KindDecision, true},
		{"Decisions", KindDecision, true},
		{" observation ", KindObservation, true},
		{"widget", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if !tt.ok {
				assert.True(t, apperrors.Is(err, apperrors.KindInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKinds_ProjectionOrder(t *testing.T) {
	assert.Equal(t, []Kind{
		KindProject, KindDecision, KindPattern, KindFailure,
		KindSession, KindGoal, KindObservation,
	}, Kinds())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{"valid", decision("d1", "use badger", t0), true},
		{"missing id", decision("", "use badger", t0), false},
		{"missing summary", decision("d1", "", t0), false},
		{"blank summary", decision("d1", "  \t ", t0), false},
		{"blank id", decision("   ", "use badger", t0), false},
		{"blank link target", &Decision{Base: Base{ID: "d1", Timestamp: t0, Summary: "x", Links: []Link{{To: " ", Relation: "relates_to"}}}}, false},
		{"missing timestamp", decision("d1", "use badger", time.Time{}), false},
		{"importance out of range", &Decision{Base: Base{ID: "d1", Timestamp: t0, Summary: "x", Importance: 9}}, false},
		{"link without relation", &Decision{Base: Base{ID: "d1", Timestamp: t0, Summary: "x", Links: []Link{{To: "y"}}}}, false},
		{"bad promotion target", &Observation{Base: Base{ID: "o1", Timestamp: t0, Summary: "x"}, PromotedTo: &Target{Kind: "widget", ID: "w"}}, false},
		{"promotion target", &Observation{Base: Base{ID: "o1", Timestamp: t0, Summary: "x"}, PromotedTo: &Target{Kind: KindPattern, ID: "p1"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rec)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.Is(err, apperrors.KindInput), "got %v", err)
			}
		})
	}
}

func TestAppendAndReadCurrent(t *testing.T) {
	set, _ := testSet(t)
	log := set.Log(KindDecision)

	require.NoError(t, log.Append(decision("d1", "first take", t0)))
	require.NoError(t, log.Append(decision("d2", "other", t0.Add(time.Minute))))
	require.NoError(t, log.Append(decision("d1", "revised take", t0.Add(2*time.Minute))))

	all, err := log.Read()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cur, err := log.ReadCurrent()
	require.NoError(t, err)
	require.Len(t, cur, 2)
	assert.Equal(t, "d1", cur[0].Header().ID)
	assert.Equal(t, "revised take", cur[0].Header().Summary)
	assert.Equal(t, "d2", cur[1].Header().ID)
}

func TestAppend_RejectsWrongKindAndInvalid(t *testing.T) {
	set, _ := testSet(t)
	err := set.Log(KindPattern).Append(decision("d1", "x", t0))
	assert.True(t, apperrors.Is(err, apperrors.KindInput))

	err = set.Log(KindDecision).Append(decision("d1", "", t0))
	assert.True(t, apperrors.Is(err, apperrors.KindInput))
}

func TestRead_SkipsBadLines(t *testing.T) {
	set, dir := testSet(t)
	path := filepath.Join(dir, "failures.jsonl")
	lines := []string{
		`{"id":"f1","timestamp":"2026-02-01T09:00:00Z","summary":"disk full","occurrences":2}`,
		`{not json`,
		``,
		`{"id":"f2","timestamp":"2026-02-01T09:00:00Z"}`,
		`{"id":"f4","timestamp":"2026-02-01T09:00:00Z","summary":"   "}`,
		`{"id":"f3","timestamp":"2026-02-02T09:00:00Z","summary":"oom","pattern":"p1"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	recs, err := set.Log(KindFailure).Read()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	f1 := recs[0].(*Failure)
	assert.Equal(t, 2, f1.Occurrences)
	assert.Equal(t, "p1", recs[1].(*Failure).Pattern)
}

func TestRead_MissingLogIsUnavailable(t *testing.T) {
	set, _ := testSet(t)
	_, err := set.Log(KindGoal).Read()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindUnavailable))
	assert.True(t, IsMissing(err))

	recent, err := set.Log(KindGoal).Recent(10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRecent(t *testing.T) {
	set, _ := testSet(t)
	log := set.Log(KindDecision)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, log.Append(decision(id, "s "+id, t0.Add(time.Duration(i)*time.Minute))))
	}
	recent, err := log.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Header().ID)
	assert.Equal(t, "d", recent[1].Header().ID)
}

func TestReadAllCurrent_IsolatesFailures(t *testing.T) {
	set, _ := testSet(t)
	require.NoError(t, set.Log(KindDecision).Append(decision("d1", "x", t0)))

	loaded := set.ReadAllCurrent(context.Background())
	require.Len(t, loaded, len(Kinds()))
	for _, l := range loaded {
		if l.Kind == KindDecision {
			assert.NoError(t, l.Err)
			assert.Len(t, l.Records, 1)
			continue
		}
		assert.True(t, apperrors.Is(l.Err, apperrors.KindUnavailable), "%s: %v", l.Kind, l.Err)
	}
}

func TestScan(t *testing.T) {
	set, _ := testSet(t)
	require.NoError(t, set.Log(KindDecision).Append(decision("d1", "Use SQLite FTS for search", t0)))
	require.NoError(t, set.Log(KindDecision).Append(decision("d2", "Cache search results", t0.Add(time.Hour))))
	require.NoError(t, set.Log(KindPattern).Append(&Pattern{Base: Base{ID: "p1", Timestamp: t0, Summary: "search retries"}}))

	matches := set.Scan("SEARCH", nil)
	require.Len(t, matches, 3)
	assert.Equal(t, "d2", matches[0].Record.Header().ID, "newest first")

	matches = set.Scan("sqlite search", nil)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1", matches[0].Record.Header().ID)

	matches = set.Scan("search", []Kind{KindPattern})
	require.Len(t, matches, 1)
	assert.Equal(t, KindPattern, matches[0].Record.Kind())

	assert.Empty(t, set.Scan("zzzyyyxxx_nomatch", nil))
	assert.Empty(t, set.Scan("   ", nil))
}

func TestScope(t *testing.T) {
	d := decision("d1", "x", t0, "infra", "project:alpha")
	assert.Equal(t, "alpha", ScopeOf(d))

	s := &Session{Base: Base{ID: "s1", Timestamp: t0, Summary: "x", Tags: []string{"project:beta"}}, Project: "gamma"}
	assert.Equal(t, "gamma", ScopeOf(s))

	p := &Project{Base: Base{ID: "p1", Timestamp: t0, Summary: "alpha"}}
	assert.Equal(t, "alpha", ScopeOf(p))
}

func TestFind(t *testing.T) {
	set, _ := testSet(t)
	require.NoError(t, set.Log(KindDecision).Append(decision("d1", "x", t0)))

	r, err := set.Find(Key{Kind: KindDecision, ID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "d1", r.Header().ID)

	_, err = set.Find(Key{Kind: KindDecision, ID: "nope"})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}
