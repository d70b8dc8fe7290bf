package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/logging"
)

// maxLineBytes bounds a single JSON line.
const maxLineBytes = 4 << 20

// Log is one append-only JSON Lines file of a single record kind.
type Log struct {
	kind Kind
	path string
	log  *zap.Logger
}

// NewLog returns the log of kind k stored at path.
func NewLog(k Kind, path string, log *zap.Logger) *Log {
	log = logging.OrNop(log)
	return &Log{kind: k, path: path, log: log}
}

func (l *Log) Kind() Kind   { return l.kind }
func (l *Log) Path() string { return l.path }

// ModTime returns the last modification time, or false when the file is missing.
func (l *Log) ModTime() (time.Time, bool) {
	fi, err := os.Stat(l.path)
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}

// Read decodes every valid line in file order. Malformed or invalid lines
// are skipped with a warning. A missing file is reported as unavailable.
func (l *Log) Read() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, apperrors.Unavailable("source.read", string(l.kind)+" log", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := New(l.kind)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, rec); err != nil {
			l.log.Warn("skipping malformed record",
				zap.String("log", l.path), zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := Validate(rec); err != nil {
			l.log.Warn("skipping invalid record",
				zap.String("log", l.path), zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("reading %s: %w", l.path, err)
	}
	return out, nil
}

// ReadCurrent returns the current value of every logical id: the last line
// carrying it wins, ordered by first appearance.
func (l *Log) ReadCurrent() ([]Record, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}
	return Current(all), nil
}

// Current collapses a record stream to the last value per id, keeping the
// order in which ids first appeared.
func Current(all []Record) []Record {
	pos := make(map[string]int, len(all))
	var out []Record
	for _, r := range all {
		id := r.Header().ID
		if i, ok := pos[id]; ok {
			out[i] = r
			continue
		}
		pos[id] = len(out)
		out = append(out, r)
	}
	return out
}

// Recent returns the last n current records, newest last.
func (l *Log) Recent(n int) ([]Record, error) {
	cur, err := l.ReadCurrent()
	if err != nil {
		if apperrors.Is(err, apperrors.KindUnavailable) {
			return nil, nil
		}
		return nil, err
	}
	if n > 0 && len(cur) > n {
		cur = cur[len(cur)-n:]
	}
	return cur, nil
}

// Append validates r and writes it as one line, synced before returning.
func (l *Log) Append(r Record) error {
	if r.Kind() != l.kind {
		return apperrors.Input("source.append", "cannot append %s record to %s log", r.Kind(), l.kind)
	}
	if err := Validate(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending to %s: %w", l.path, err)
	}
	return f.Sync()
}

// Set is the collection of logs, one per kind.
type Set struct {
	logs map[Kind]*Log
	log  *zap.Logger
}

// NewSet builds a Set; pathFor maps a kind name to its log file.
func NewSet(pathFor func(kind string) string, log *zap.Logger) *Set {
	log = logging.OrNop(log)
	s := &Set{logs: make(map[Kind]*Log, len(kinds)), log: log}
	for _, k := range kinds {
		s.logs[k] = NewLog(k, pathFor(string(k)), log)
	}
	return s
}

// Log returns the log of kind k.
func (s *Set) Log(k Kind) *Log { return s.logs[k] }

// Logs returns every log in projection order.
func (s *Set) Logs() []*Log {
	out := make([]*Log, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, s.logs[k])
	}
	return out
}

// Paths returns every log path in projection order.
func (s *Set) Paths() []string {
	var out []string
	for _, l := range s.Logs() {
		out = append(out, l.path)
	}
	return out
}

// LatestModTime is the newest modification time across existing logs.
func (s *Set) LatestModTime() time.Time {
	var latest time.Time
	for _, l := range s.logs {
		if mt, ok := l.ModTime(); ok && mt.After(latest) {
			latest = mt
		}
	}
	return latest
}

// Loaded is the outcome of reading one log.
type Loaded struct {
	Kind    Kind
	Records []Record
	Err     error
}

// ReadAllCurrent reads every log concurrently. A failing log does not stop
// the others; its error is carried in its Loaded entry. Results are in
// projection order.
func (s *Set) ReadAllCurrent(ctx context.Context) []Loaded {
	out := make([]Loaded, len(kinds))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, k := range kinds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i] = Loaded{Kind: k, Err: err}
				return nil
			}
			recs, err := s.logs[k].ReadCurrent()
			out[i] = Loaded{Kind: k, Records: recs, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Match is a record found by Scan.
type Match struct {
	Record Record
	Hits   int
}

// Scan is the unranked fallback search over the raw logs: a current record
// matches when every query term occurs in its text, case-insensitively.
// Matches are ordered newest first, then by kind and id.
func (s *Set) Scan(query string, only []Kind) []Match {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	want := make(map[Kind]bool, len(only))
	for _, k := range only {
		want[k] = true
	}

	var out []Match
	for _, l := range s.Logs() {
		if len(want) > 0 && !want[l.kind] {
			continue
		}
		recs, err := l.ReadCurrent()
		if err != nil {
			if !apperrors.Is(err, apperrors.KindUnavailable) {
				s.log.Warn("scan skipped log", zap.String("log", l.path), zap.Error(err))
			}
			continue
		}
		for _, r := range recs {
			text := strings.ToLower(r.Header().Text())
			hits := 0
			for _, term := range terms {
				if n := strings.Count(text, term); n > 0 {
					hits += n
					continue
				}
				hits = -1
				break
			}
			if hits > 0 {
				out = append(out, Match{Record: r, Hits: hits})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Record.Header(), out[j].Record.Header()
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if out[i].Record.Kind() != out[j].Record.Kind() {
			return out[i].Record.Kind() < out[j].Record.Kind()
		}
		return a.ID < b.ID
	})
	return out
}

// Find returns the current record with the given key.
func (s *Set) Find(key Key) (Record, error) {
	l, ok := s.logs[key.Kind]
	if !ok {
		return nil, apperrors.Input("source.find", "unknown record kind %q", key.Kind)
	}
	recs, err := l.ReadCurrent()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.Header().ID == key.ID {
			return r, nil
		}
	}
	return nil, apperrors.NotFound("source.find", key.String())
}

// IsMissing reports whether err means a log file does not exist yet.
func IsMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
