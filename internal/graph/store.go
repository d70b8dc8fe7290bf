// Package graph holds the knowledge graph projected from the source logs:
// the persisted store, content-addressed node ids, traversal and structural
// analysis.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
)

// documentVersion is the on-disk layout version of the graph document.
const documentVersion = 1

// document is the persisted form: a node map keyed by id plus an edge list.
type document struct {
	Version         int              `json:"version"`
	ResolverVersion int              `json:"resolver_version"`
	Nodes           map[string]*Node `json:"nodes"`
	Edges           []Edge           `json:"edges"`
}

// Store owns the graph for one process invocation. Every mutation goes
// through its methods and is persisted before the method returns, unless it
// runs inside Batch.
type Store struct {
	mu sync.RWMutex

	path    string
	nodes   map[string]*Node
	edges   []Edge
	edgeSet map[edgeKey]struct{}
	byName  map[string][]string
	byFold  map[string][]string
	prov    *provenance
	snap    *Snapshot

	batch int
	dirty bool

	now func() time.Time
	log *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func newStore(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
		log:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.reset()
	return s
}

// NewMemory returns a store that is never written to disk.
func NewMemory(opts ...Option) *Store {
	return newStore("", opts...)
}

// Open loads the graph document at path. A missing file yields an empty store
// that will be created on the first write.
func Open(path string, opts ...Option) (*Store, error) {
	s := newStore(path, opts...)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening graph: %w", err)
	}
	defer f.Close()

	var doc document
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		return nil, fmt.Errorf("decoding graph %s: %w", path, err)
	}
	if doc.ResolverVersion != 0 && doc.ResolverVersion != ResolverVersion {
		s.log.Warn("graph was written with another resolver version; rebuild recommended",
			zap.Int("found", doc.ResolverVersion), zap.Int("expected", ResolverVersion))
	}

	ids := make([]string, 0, len(doc.Nodes))
	for id := range doc.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := doc.Nodes[id]
		if n == nil {
			continue
		}
		n.ID = id
		s.indexNode(n)
	}
	for _, e := range doc.Edges {
		if _, dup := s.edgeSet[e.key()]; dup {
			continue
		}
		s.edges = append(s.edges, e)
		s.edgeSet[e.key()] = struct{}{}
	}
	s.log.Debug("graph loaded", zap.String("path", path),
		zap.Int("nodes", len(s.nodes)), zap.Int("edges", len(s.edges)))
	return s, nil
}

// Path returns the backing file, or "" for a memory store.
func (s *Store) Path() string { return s.path }

func (s *Store) reset() {
	s.nodes = make(map[string]*Node)
	s.edges = nil
	s.edgeSet = make(map[edgeKey]struct{})
	s.byName = make(map[string][]string)
	s.byFold = make(map[string][]string)
	s.prov = newProvenance()
	s.snap = nil
}

func (s *Store) indexNode(n *Node) {
	s.nodes[n.ID] = n
	s.byName[n.Name] = insertSorted(s.byName[n.Name], n.ID)
	fold := strings.ToLower(n.Name)
	s.byFold[fold] = insertSorted(s.byFold[fold], n.ID)
	s.prov.index(n)
}

func (s *Store) unindexNode(n *Node) {
	delete(s.nodes, n.ID)
	s.byName[n.Name] = removeString(s.byName[n.Name], n.ID)
	if len(s.byName[n.Name]) == 0 {
		delete(s.byName, n.Name)
	}
	fold := strings.ToLower(n.Name)
	s.byFold[fold] = removeString(s.byFold[fold], n.ID)
	if len(s.byFold[fold]) == 0 {
		delete(s.byFold, fold)
	}
	s.prov.remove(n.ID)
}

// AddNode creates the node for (t, name) or merges attrs into the existing one.
func (s *Store) AddNode(t NodeType, name string, attrs map[string]any) (string, error) {
	return s.AddNodeAt(t, name, attrs, time.Time{})
}

// AddNodeAt is AddNode with an explicit creation time, used when the creation
// time must be reproducible (projection). A zero at means now. The creation
// time of an existing node is never changed.
func (s *Store) AddNodeAt(t NodeType, name string, attrs map[string]any, at time.Time) (string, error) {
	if !t.Valid() {
		return "", apperrors.Input("graph.add", "unknown node type %q", t)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.Input("graph.add", "node name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := Resolve(t, name)
	if n, ok := s.nodes[id]; ok {
		if n.Attributes == nil && len(attrs) > 0 {
			n.Attributes = make(map[string]any, len(attrs))
		}
		for k, v := range attrs {
			n.Attributes[k] = v
		}
		n.UpdatedAt = now
		s.prov.index(n)
		s.snap = nil
		return id, s.persistLocked()
	}

	if at.IsZero() {
		at = now
	}
	n := &Node{
		ID:        id,
		Type:      t,
		Name:      name,
		CreatedAt: at.UTC(),
		UpdatedAt: now,
	}
	if len(attrs) > 0 {
		n.Attributes = make(map[string]any, len(attrs))
		for k, v := range attrs {
			n.Attributes[k] = v
		}
	}
	s.indexNode(n)
	s.snap = nil
	return id, s.persistLocked()
}

// AddEdge links from → to. It returns false without error when the
// (from, to, relation) triple already exists. A non-positive weight means 1.0.
func (s *Store) AddEdge(from, to string, rel Relation, weight float64, bidirectional bool) (bool, error) {
	return s.AddEdgeAt(from, to, rel, weight, bidirectional, time.Time{})
}

// AddEdgeAt is AddEdge with an explicit creation time.
func (s *Store) AddEdgeAt(from, to string, rel Relation, weight float64, bidirectional bool, at time.Time) (bool, error) {
	canon, ok := NormalizeRelation(string(rel))
	if !ok {
		return false, apperrors.Input("graph.link", "unknown relation %q", rel)
	}
	if from == to {
		return false, apperrors.Input("graph.link", "cannot link %s to itself", from)
	}
	if weight <= 0 {
		weight = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[from]; !ok {
		return false, apperrors.NotFound("graph.link", "node "+from)
	}
	if _, ok := s.nodes[to]; !ok {
		return false, apperrors.NotFound("graph.link", "node "+to)
	}

	e := Edge{
		From:          from,
		To:            to,
		Relation:      canon,
		Weight:        weight,
		Bidirectional: bidirectional,
		Status:        EdgeStatusActive,
	}
	if _, dup := s.edgeSet[e.key()]; dup {
		return false, nil
	}
	if at.IsZero() {
		at = s.now()
	}
	e.CreatedAt = at.UTC()
	s.edges = append(s.edges, e)
	s.edgeSet[e.key()] = struct{}{}
	s.snap = nil
	return true, s.persistLocked()
}

// DeleteNode removes the node and every edge touching it. found is false
// when no such node exists.
func (s *Store) DeleteNode(id string) (removedEdges int, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return 0, false, nil
	}
	s.unindexNode(n)
	removedEdges = s.filterEdgesLocked(func(e Edge) bool { return e.From != id && e.To != id })
	s.snap = nil
	return removedEdges, true, s.persistLocked()
}

// DeleteEdge removes the from → to edge with the given relation, or every
// from → to edge when rel is empty. It returns how many edges were removed.
func (s *Store) DeleteEdge(from, to string, rel Relation) (int, error) {
	var canon Relation
	if rel != "" {
		var ok bool
		if canon, ok = NormalizeRelation(string(rel)); !ok {
			return 0, apperrors.Input("graph.unlink", "unknown relation %q", rel)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.filterEdgesLocked(func(e Edge) bool {
		if e.From != from || e.To != to {
			return true
		}
		return canon != "" && e.Relation != canon
	})
	if removed == 0 {
		return 0, nil
	}
	s.snap = nil
	return removed, s.persistLocked()
}

// filterEdgesLocked keeps edges for which keep returns true and returns the
// number removed.
func (s *Store) filterEdgesLocked(keep func(Edge) bool) int {
	kept := s.edges[:0]
	removed := 0
	for _, e := range s.edges {
		if keep(e) {
			kept = append(kept, e)
			continue
		}
		delete(s.edgeSet, e.key())
		removed++
	}
	s.edges = kept
	return removed
}

// NormalizeEdges rewrites legacy relation spellings and drops duplicate
// (from, to, relation) triples and edges with a dangling endpoint, keeping
// the first occurrence. It returns how many edges were renamed and dropped.
func (s *Store) NormalizeEdges() (renamed, dropped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[edgeKey]struct{}, len(s.edges))
	kept := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		if canon, ok := NormalizeRelation(string(e.Relation)); ok && canon != e.Relation {
			e.Relation = canon
			renamed++
		}
		_, fromOK := s.nodes[e.From]
		_, toOK := s.nodes[e.To]
		if !fromOK || !toOK {
			dropped++
			continue
		}
		if _, dup := seen[e.key()]; dup {
			dropped++
			continue
		}
		seen[e.key()] = struct{}{}
		kept = append(kept, e)
	}
	s.edges = kept
	s.edgeSet = seen
	if renamed == 0 && dropped == 0 {
		return 0, 0, nil
	}
	s.snap = nil
	return renamed, dropped, s.persistLocked()
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// NodesByName returns nodes whose name equals name exactly, ordered by id.
func (s *Store) NodesByName(name string) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneIDs(s.byName[name])
}

// NodesByNameFold returns nodes whose name equals name ignoring case.
func (s *Store) NodesByNameFold(name string) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneIDs(s.byFold[strings.ToLower(name)])
}

func (s *Store) cloneIDs(ids []string) []*Node {
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.nodes[id].Clone())
	}
	return out
}

// NodeForSource returns the node projected from the given source record.
func (s *Store) NodeForSource(kind, id string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodeID, ok := s.prov.bySource[SourceRef{Kind: kind, ID: id}]
	if !ok {
		return nil, false
	}
	return s.nodes[nodeID].Clone(), true
}

// Provenance returns the source record a node was projected from.
func (s *Store) Provenance(nodeID string) (SourceRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.prov.byNode[nodeID]
	return ref, ok
}

// ResolveRef finds a node by id, then exact name, then case-insensitive name,
// then logical source id. Ambiguous names resolve to the smallest id.
func (s *Store) ResolveRef(ref string) (*Node, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(ref)
}

func (s *Store) resolveLocked(ref string) (*Node, bool) {
	if n, ok := s.nodes[ref]; ok {
		return n.Clone(), true
	}
	if ids := s.byName[ref]; len(ids) > 0 {
		return s.nodes[ids[0]].Clone(), true
	}
	if ids := s.byFold[strings.ToLower(ref)]; len(ids) > 0 {
		return s.nodes[ids[0]].Clone(), true
	}
	var match string
	for src, nodeID := range s.prov.bySource {
		if src.ID == ref && (match == "" || nodeID < match) {
			match = nodeID
		}
	}
	if match != "" {
		return s.nodes[match].Clone(), true
	}
	return nil, false
}

// Nodes returns copies of all nodes, optionally filtered by type, ordered by id.
func (s *Store) Nodes(types ...NodeType) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[NodeType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if len(want) > 0 && !want[n.Type] {
			continue
		}
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns a copy of the edge list in insertion order.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, len(s.edges))
	copy(out, s.edges)
	return out
}

// EdgesOf returns every edge where id is an endpoint, in insertion order.
func (s *Store) EdgesOf(id string) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for _, e := range s.edges {
		if e.From == id || e.To == id {
			out = append(out, e)
		}
	}
	return out
}

// Len returns node and edge counts.
func (s *Store) Len() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

// Snapshot returns the adjacency view of the current graph. The snapshot is
// cached until the next mutation and must not be modified.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	if snap := s.snap; snap != nil {
		s.mu.RUnlock()
		return snap
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		nodes := make([]*Node, 0, len(s.nodes))
		for _, n := range s.nodes {
			nodes = append(nodes, n.Clone())
		}
		edges := make([]Edge, len(s.edges))
		copy(edges, s.edges)
		s.snap = NewSnapshot(nodes, edges)
	}
	return s.snap
}

// Reset empties the store. The empty graph is persisted like any mutation.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return s.persistLocked()
}

// Batch runs fn with persistence deferred; the graph is written once when the
// outermost Batch returns, even if fn fails, so completed mutations are kept.
func (s *Store) Batch(fn func() error) error {
	s.mu.Lock()
	s.batch++
	s.mu.Unlock()

	fnErr := fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch--
	if s.batch > 0 || !s.dirty {
		return fnErr
	}
	if err := s.saveLocked(); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}

// Checkpoint captures the current nodes and edges. Calling the returned
// restore puts the graph back to that state and discards every mutation made
// in between.
func (s *Store) Checkpoint() (restore func() error) {
	s.mu.RLock()
	nodes := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n.Clone())
	}
	edges := make([]Edge, len(s.edges))
	copy(edges, s.edges)
	s.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reset()
		for _, n := range nodes {
			s.indexNode(n.Clone())
		}
		for _, e := range edges {
			s.edges = append(s.edges, e)
			s.edgeSet[e.key()] = struct{}{}
		}
		return s.persistLocked()
	}
}

func (s *Store) persistLocked() error {
	if s.batch > 0 {
		s.dirty = true
		return nil
	}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	s.dirty = false
	if s.path == "" {
		return nil
	}
	doc := document{
		Version:         documentVersion,
		ResolverVersion: ResolverVersion,
		Nodes:           s.nodes,
		Edges:           s.edges,
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("writing graph: %w", err)
	}
	return nil
}

// Backup copies the current graph document to <path>.bak. It returns the
// backup path, or "" when there was nothing to back up.
func (s *Store) Backup() (string, error) {
	if s.path == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading graph for backup: %w", err)
	}
	dst := s.path + ".bak"
	if err := writeFileAtomic(dst, data); err != nil {
		return "", fmt.Errorf("writing graph backup: %w", err)
	}
	return dst, nil
}

// Stats counts nodes by type, edges by relation, orphans and clusters.
func (s *Store) Stats() *Stats {
	snap := s.Snapshot()
	st := &Stats{
		Nodes:      len(snap.Nodes),
		Edges:      len(snap.Edges),
		ByType:     make(map[NodeType]int),
		ByRelation: make(map[Relation]int),
	}
	for _, n := range snap.Nodes {
		st.ByType[n.Type]++
	}
	for _, e := range snap.Edges {
		st.ByRelation[e.Relation]++
	}
	st.Orphans = len(Orphans(snap))
	for _, c := range Clusters(snap) {
		if len(c) < 2 {
			continue
		}
		st.Clusters++
		if len(c) > st.LargestSize {
			st.LargestSize = len(c)
		}
	}
	return st
}

// writeFileAtomic writes data to a temp file next to path and renames it over
// path, so readers see either the old or the new document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeString(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
