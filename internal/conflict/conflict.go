// Package conflict flags near-duplicate and possibly contradictory records
// before they are written. Every check is advisory.
package conflict

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/tslateman/lore-sub001/internal/logging"
	"github.com/tslateman/lore-sub001/internal/source"
)

// Config holds the detection thresholds.
type Config struct {
	// DuplicateThreshold is the word-set similarity at or above which two
	// texts are duplicates.
	DuplicateThreshold float64
	// MinWords skips the duplicate check for shorter texts.
	MinWords int
	// RecentWindow is how many of the latest records are compared against.
	RecentWindow int
	// ContradictionThreshold is the similarity below which records sharing
	// entities are flagged.
	ContradictionThreshold float64
	// RecurringThreshold is the occurrence count that makes a failure recurring.
	RecurringThreshold int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold:     0.8,
		MinWords:               4,
		RecentWindow:           50,
		ContradictionThreshold: 0.3,
		RecurringThreshold:     3,
	}
}

// Detector runs duplicate and contradiction checks.
type Detector struct {
	cfg Config
	log *zap.Logger
}

// New returns a Detector. Zero fields in cfg take their defaults.
func New(cfg Config, log *zap.Logger) *Detector {
	def := DefaultConfig()
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	if cfg.MinWords <= 0 {
		cfg.MinWords = def.MinWords
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.ContradictionThreshold <= 0 {
		cfg.ContradictionThreshold = def.ContradictionThreshold
	}
	if cfg.RecurringThreshold <= 0 {
		cfg.RecurringThreshold = def.RecurringThreshold
	}
	log = logging.OrNop(log)
	return &Detector{cfg: cfg, log: log}
}

// Config returns the effective thresholds.
func (d *Detector) Config() Config { return d.cfg }

// DuplicateResult is the outcome of CheckDuplicate.
type DuplicateResult struct {
	Duplicate    bool    `json:"duplicate"`
	Skipped      bool    `json:"skipped,omitempty"`
	MatchID      string  `json:"match_id,omitempty"`
	MatchSummary string  `json:"match_summary,omitempty"`
	Similarity   float64 `json:"similarity"`
}

// CheckDuplicate compares text against the newest RecentWindow records of
// recent (oldest first, as read from a log). Records with the same id as
// exclude are ignored so a record revision is not its own duplicate.
func (d *Detector) CheckDuplicate(text string, recent []source.Record, exclude string) DuplicateResult {
	words := WordSet(text)
	if len(words) < d.cfg.MinWords {
		return DuplicateResult{Skipped: true}
	}

	var best DuplicateResult
	for _, r := range window(recent, d.cfg.RecentWindow) {
		h := r.Header()
		if exclude != "" && h.ID == exclude {
			continue
		}
		sim := Jaccard(words, WordSet(recordText(h)))
		if sim > best.Similarity {
			best = DuplicateResult{MatchID: h.ID, MatchSummary: h.Summary, Similarity: sim}
		}
	}
	best.Duplicate = best.Similarity >= d.cfg.DuplicateThreshold
	if best.Duplicate {
		d.log.Debug("duplicate detected",
			zap.String("match", best.MatchID), zap.Float64("similarity", best.Similarity))
	}
	return best
}

// Contradiction is a recent record that shares entities with the candidate
// but says something different about them.
type Contradiction struct {
	MatchID      string   `json:"match_id"`
	MatchSummary string   `json:"match_summary"`
	Shared       []string `json:"shared"`
	Similarity   float64  `json:"similarity"`
}

// CheckContradiction returns recent records that share at least one entity
// with rec while their text similarity stays below ContradictionThreshold.
func (d *Detector) CheckContradiction(rec source.Record, recent []source.Record) []Contradiction {
	mine := Entities(rec)
	if len(mine) == 0 {
		return nil
	}
	words := WordSet(recordText(rec.Header()))

	var out []Contradiction
	for _, r := range window(recent, d.cfg.RecentWindow) {
		h := r.Header()
		if h.ID == rec.Header().ID {
			continue
		}
		shared := intersect(mine, Entities(r))
		if len(shared) == 0 {
			continue
		}
		sim := Jaccard(words, WordSet(recordText(h)))
		if sim < d.cfg.ContradictionThreshold {
			out = append(out, Contradiction{
				MatchID:      h.ID,
				MatchSummary: h.Summary,
				Shared:       shared,
				Similarity:   sim,
			})
		}
	}
	return out
}

func recordText(h *source.Base) string {
	if h.Content == "" {
		return h.Summary
	}
	return h.Summary + " " + h.Content
}

func window(recs []source.Record, n int) []source.Record {
	if n > 0 && len(recs) > n {
		return recs[len(recs)-n:]
	}
	return recs
}

// Words lowercases text, strips punctuation and folds simple plurals.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, w := range fields {
		out = append(out, foldPlural(w))
	}
	return out
}

// foldPlural drops a trailing s from words longer than three runes that do
// not end in ss, so "decisions" and "decision" compare equal.
func foldPlural(w string) string {
	if len([]rune(w)) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return strings.TrimSuffix(w, "s")
	}
	return w
}

// WordSet is the set of normalized words of text.
func WordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range Words(text) {
		set[w] = true
	}
	return set
}

// Jaccard is |a ∩ b| / |a ∪ b|, or 0 when either set is empty.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

var (
	filePathRe = regexp.MustCompile(`(?:[\w.-]+/)+[\w.-]+|[\w-]+\.(?:go|py|ts|tsx|js|rs|md|json|jsonl|ya?ml|toml|sql|sh|txt)\b`)
	funcCallRe = regexp.MustCompile(`\b([A-Za-z_][\w.]*)\(\)`)
	quotedRe   = regexp.MustCompile("\"([^\"]{2,80})\"|`([^`]{2,80})`")
)

// Entities extracts the things a record talks about: its explicit refs plus
// file paths, function() tokens and quoted terms in its text. Results are
// lowercased, unique and sorted.
func Entities(r source.Record) []string {
	h := r.Header()
	set := make(map[string]bool)
	for _, ref := range h.Refs {
		if ref = strings.ToLower(strings.TrimSpace(ref)); ref != "" {
			set[ref] = true
		}
	}
	text := recordText(h)
	for _, m := range filePathRe.FindAllString(text, -1) {
		set[strings.ToLower(strings.TrimRight(m, "."))] = true
	}
	for _, m := range funcCallRe.FindAllStringSubmatch(text, -1) {
		set[strings.ToLower(m[1])+"()"] = true
	}
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		term := m[1]
		if term == "" {
			term = m[2]
		}
		set[strings.ToLower(strings.TrimSpace(term))] = true
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// intersect returns elements present in both sorted slices.
func intersect(a, b []string) []string {
	var out []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// RecurringGroup is a set of failures with the same normalized summary.
type RecurringGroup struct {
	Key     string   `json:"key"`
	Summary string   `json:"summary"`
	Count   int      `json:"count"`
	IDs     []string `json:"ids"`
}

// RecurringFailures groups failures by normalized summary and returns the
// groups whose total occurrences reach threshold. A failure counts its
// Occurrences field, or one when unset. Groups keep first-appearance order.
func RecurringFailures(failures []*source.Failure, threshold int) []RecurringGroup {
	if threshold <= 0 {
		threshold = DefaultConfig().RecurringThreshold
	}
	index := make(map[string]int)
	var groups []RecurringGroup
	for _, f := range failures {
		key := strings.Join(Words(f.Summary), " ")
		if key == "" {
			continue
		}
		n := f.Occurrences
		if n < 1 {
			n = 1
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, RecurringGroup{Key: key, Summary: f.Summary})
		}
		groups[i].Count += n
		groups[i].IDs = append(groups[i].IDs, f.ID)
	}
	var out []RecurringGroup
	for _, g := range groups {
		if g.Count >= threshold {
			out = append(out, g)
		}
	}
	return out
}
