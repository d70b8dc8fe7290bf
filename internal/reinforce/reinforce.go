// Package reinforce keeps an access log of retrieved records in Badger and
// turns it into a recency-weighted retrieval boost.
package reinforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/source"
)

const keyPrefix = "acc/"

// Config shapes the boost curve.
type Config struct {
	// HalfLife is the age at which an access counts half.
	HalfLife time.Duration
	// Window ignores accesses older than this. Zero keeps everything.
	Window time.Duration
	// Weight scales the final boost.
	Weight float64
}

// DefaultConfig returns a two week half-life over a ninety day window.
func DefaultConfig() Config {
	return Config{
		HalfLife: 14 * 24 * time.Hour,
		Window:   90 * 24 * time.Hour,
		Weight:   0.25,
	}
}

// Event is one stored access.
type Event struct {
	Kind  source.Kind `json:"kind"`
	ID    string      `json:"id"`
	At    time.Time   `json:"at"`
	Query string      `json:"query,omitempty"`
}

// Stats summarizes the accesses of one record.
type Stats struct {
	Kind         source.Kind `json:"kind"`
	ID           string      `json:"id"`
	AccessCount  int         `json:"access_count"`
	LastAccessed time.Time   `json:"last_accessed,omitempty"`
	Boost        float64     `json:"boost"`
}

// Tracker records and scores accesses.
type Tracker struct {
	db  *badger.DB
	cfg Config
	now func() time.Time
	log *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }

func (l *badgerLogger) Infof(format string, args ...interface{}) { l.s.Debugf(format, args...) }

func (l *badgerLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }

// Open opens the access log under dir. A directory held by another process
// is reported as unavailable.
func Open(dir string, cfg Config, opts ...Option) (*Tracker, error) {
	if dir == "" {
		return nil, apperrors.Input("reinforce.open", "access log path is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, apperrors.Unavailable("reinforce.open", "access log", err)
	}
	return open(badger.DefaultOptions(dir).WithSyncWrites(true), cfg, opts)
}

// OpenInMemory opens a throwaway tracker.
func OpenInMemory(cfg Config, opts ...Option) (*Tracker, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), cfg, opts)
}

func open(bopts badger.Options, cfg Config, opts []Option) (*Tracker, error) {
	t := &Tracker{cfg: withDefaults(cfg), now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(t)
	}
	bopts = bopts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{s: t.log.Sugar()})
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, apperrors.Unavailable("reinforce.open", "access log", err)
	}
	t.db = db
	return t, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.Weight <= 0 {
		cfg.Weight = def.Weight
	}
	if cfg.Window < 0 {
		cfg.Window = 0
	}
	return cfg
}

// Close closes the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

func recordPrefix(k source.Key) []byte {
	return []byte(keyPrefix + string(k.Kind) + "/" + k.ID + "/")
}

func eventKey(k source.Key, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%019d/%s", keyPrefix, k.Kind, k.ID, at.UnixNano(), uuid.NewString()))
}

// parseKey splits acc/<kind>/<id>/<nanos>/<uuid>. Ids may contain slashes,
// so the fixed fields are taken from both ends.
func parseKey(key []byte) (source.Key, time.Time, bool) {
	s := strings.TrimPrefix(string(key), keyPrefix)
	first := strings.IndexByte(s, '/')
	last := strings.LastIndexByte(s, '/')
	if first < 0 || last <= first {
		return source.Key{}, time.Time{}, false
	}
	rest := s[first+1 : last]
	mid := strings.LastIndexByte(rest, '/')
	if mid < 0 {
		return source.Key{}, time.Time{}, false
	}
	nanos, err := strconv.ParseInt(rest[mid+1:], 10, 64)
	if err != nil {
		return source.Key{}, time.Time{}, false
	}
	return source.Key{Kind: source.Kind(s[:first]), ID: rest[:mid]}, time.Unix(0, nanos).UTC(), true
}

// Record stores one access event per key.
func (t *Tracker) Record(ctx context.Context, query string, keys ...source.Key) error {
	if len(keys) == 0 {
		return nil
	}
	at := t.now().UTC()
	wb := t.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := json.Marshal(Event{Kind: k.Kind, ID: k.ID, At: at, Query: query})
		if err != nil {
			return err
		}
		if err := wb.Set(eventKey(k, at), val); err != nil {
			return fmt.Errorf("recording access: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("recording access: %w", err)
	}
	t.log.Debug("recorded access", zap.Int("records", len(keys)))
	return nil
}

// accessTimes returns the access times of key, oldest first.
func (t *Tracker) accessTimes(txn *badger.Txn, k source.Key) []time.Time {
	prefix := recordPrefix(k)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var times []time.Time
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		got, at, ok := parseKey(it.Item().Key())
		if !ok || got != k {
			continue
		}
		times = append(times, at)
	}
	return times
}

// Boost scores a set of access times:
// weight * ln(1 + Σ exp(-ln2 * age / halfLife)) over accesses inside the
// window. No accesses score zero.
func (t *Tracker) Boost(times []time.Time) float64 {
	now := t.now()
	sum := 0.0
	for _, at := range times {
		age := now.Sub(at)
		if age < 0 {
			age = 0
		}
		if t.cfg.Window > 0 && age > t.cfg.Window {
			continue
		}
		sum += math.Exp(-math.Ln2 * float64(age) / float64(t.cfg.HalfLife))
	}
	return t.cfg.Weight * math.Log1p(sum)
}

// Boosts returns the boost of every key with at least one counted access.
func (t *Tracker) Boosts(ctx context.Context, keys []source.Key) (map[source.Key]float64, error) {
	out := make(map[source.Key]float64)
	err := t.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if b := t.Boost(t.accessTimes(txn, k)); b > 0 {
				out[k] = b
			}
		}
		return nil
	})
	return out, err
}

// Stats reports the accesses of one record.
func (t *Tracker) Stats(ctx context.Context, k source.Key) (Stats, error) {
	st := Stats{Kind: k.Kind, ID: k.ID}
	err := t.db.View(func(txn *badger.Txn) error {
		times := t.accessTimes(txn, k)
		st.AccessCount = len(times)
		if len(times) > 0 {
			st.LastAccessed = times[len(times)-1]
		}
		st.Boost = t.Boost(times)
		return nil
	})
	return st, err
}

// Top returns the n most boosted records, ties broken by kind and id.
// n <= 0 returns all.
func (t *Tracker) Top(ctx context.Context, n int) ([]Stats, error) {
	byKey := make(map[source.Key][]time.Time)
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			k, at, ok := parseKey(it.Item().Key())
			if ok {
				byKey[k] = append(byKey[k], at)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Stats, 0, len(byKey))
	for k, times := range byKey {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		out = append(out, Stats{
			Kind:         k.Kind,
			ID:           k.ID,
			AccessCount:  len(times),
			LastAccessed: times[len(times)-1],
			Boost:        t.Boost(times),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Boost != out[j].Boost {
			return out[i].Boost > out[j].Boost
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Prune deletes every access recorded before cutoff and returns how many
// were removed.
func (t *Tracker) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var doomed [][]byte
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, at, ok := parseKey(it.Item().Key())
			if ok && at.Before(cutoff) {
				doomed = append(doomed, bytes.Clone(it.Item().Key()))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	wb := t.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range doomed {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("pruning access log: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("pruning access log: %w", err)
	}
	t.log.Info("pruned access log", zap.Int("removed", len(doomed)), zap.Time("before", cutoff))
	return len(doomed), nil
}

// IsLocked reports whether err came from another process holding the
// access log.
func IsLocked(err error) bool {
	return apperrors.Is(err, apperrors.KindUnavailable) &&
		strings.Contains(strings.ToLower(err.Error()), "lock")
}
