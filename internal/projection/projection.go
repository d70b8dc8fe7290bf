// Package projection derives the knowledge graph from the source logs.
package projection

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tslateman/lore-sub001/internal/conflict"
	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/graph"
	"github.com/tslateman/lore-sub001/internal/source"
)

// MaxNameRunes bounds the name and summary attribute of record nodes.
const MaxNameRunes = 200

// StepReport counts what one sync step contributed.
type StepReport struct {
	Kind      source.Kind `json:"kind"`
	Records   int         `json:"records"`
	Projected int         `json:"projected"`
	Skipped   int         `json:"skipped"`
	Nodes     int         `json:"nodes"`
	Edges     int         `json:"edges"`
	Dangling  int         `json:"dangling"`
	Error     string      `json:"error,omitempty"`
}

// Report summarizes a rebuild or sync run.
type Report struct {
	RunID     string        `json:"run_id"`
	Mode      string        `json:"mode"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Backup    string        `json:"backup,omitempty"`
	Steps     []StepReport  `json:"steps"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Renamed   int           `json:"renamed"`
	Dropped   int           `json:"dropped"`
	Nodes     int           `json:"nodes"`
	Edges     int           `json:"edges"`
}

// Rebuilder projects source records into a graph store.
type Rebuilder struct {
	store     *graph.Store
	sources   *source.Set
	recurring int
	log       *zap.Logger
}

// Option configures a Rebuilder.
type Option func(*Rebuilder)

// WithRecurringThreshold sets how many occurrences make a failure recurring.
func WithRecurringThreshold(n int) Option {
	return func(r *Rebuilder) {
		if n > 0 {
			r.recurring = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rebuilder) {
		if l != nil {
			r.log = l
		}
	}
}

// New returns a Rebuilder over store and sources.
func New(store *graph.Store, sources *source.Set, opts ...Option) *Rebuilder {
	r := &Rebuilder{
		store:     store,
		sources:   sources,
		recurring: conflict.DefaultConfig().RecurringThreshold,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rebuild backs up the graph, resets it and projects every log in order.
// A failing step is logged and rolled back so it contributes nothing; only a
// failure to back up or persist the graph is returned as an error.
func (r *Rebuilder) Rebuild(ctx context.Context) (*Report, error) {
	rep := r.newReport("rebuild")

	backup, err := r.store.Backup()
	if err != nil {
		return nil, fmt.Errorf("backing up graph: %w", err)
	}
	rep.Backup = backup

	err = r.store.Batch(func() error {
		if err := r.store.Reset(); err != nil {
			return err
		}
		return r.run(ctx, rep)
	})
	if err != nil {
		return rep, fmt.Errorf("rebuilding graph: %w", err)
	}
	r.finish(rep)
	return rep, nil
}

// Sync projects records not yet in the graph without resetting it.
func (r *Rebuilder) Sync(ctx context.Context) (*Report, error) {
	rep := r.newReport("sync")
	if err := r.store.Batch(func() error { return r.run(ctx, rep) }); err != nil {
		return rep, fmt.Errorf("syncing graph: %w", err)
	}
	r.finish(rep)
	return rep, nil
}

func (r *Rebuilder) newReport(mode string) *Report {
	return &Report{RunID: uuid.NewString(), Mode: mode, Started: time.Now().UTC()}
}

func (r *Rebuilder) finish(rep *Report) {
	rep.Duration = time.Since(rep.Started)
	rep.Nodes, rep.Edges = r.store.Len()
	r.log.Info("projection finished",
		zap.String("run", rep.RunID), zap.String("mode", rep.Mode),
		zap.Int("succeeded", rep.Succeeded), zap.Int("failed", rep.Failed),
		zap.Int("nodes", rep.Nodes), zap.Int("edges", rep.Edges),
		zap.Duration("took", rep.Duration))
}

func (r *Rebuilder) run(ctx context.Context, rep *Report) error {
	for _, loaded := range r.sources.ReadAllCurrent(ctx) {
		step := StepReport{Kind: loaded.Kind}
		if loaded.Err != nil {
			r.failStep(rep, &step, loaded.Err)
			continue
		}
		step.Records = len(loaded.Records)
		restore := r.store.Checkpoint()
		if err := r.projectStep(&step, loaded.Records); err != nil {
			if rerr := restore(); rerr != nil {
				return fmt.Errorf("rolling back %s step: %w", step.Kind, rerr)
			}
			step.Projected, step.Nodes, step.Edges, step.Dangling = 0, 0, 0, 0
			r.failStep(rep, &step, err)
			continue
		}
		rep.Succeeded++
		rep.Steps = append(rep.Steps, step)
	}

	renamed, dropped, err := r.store.NormalizeEdges()
	if err != nil {
		return err
	}
	rep.Renamed, rep.Dropped = renamed, dropped
	return ctx.Err()
}

func (r *Rebuilder) failStep(rep *Report, step *StepReport, err error) {
	perr := apperrors.Projection(string(step.Kind), err)
	if source.IsMissing(err) {
		r.log.Warn("source log missing; step skipped", zap.String("kind", string(step.Kind)))
	} else {
		r.log.Warn("projection step failed", zap.String("kind", string(step.Kind)), zap.Error(err))
	}
	step.Error = perr.Error()
	rep.Failed++
	rep.Steps = append(rep.Steps, *step)
}

// projectStep adds record nodes first and edges second, so references
// between records of the same kind resolve regardless of log order.
func (r *Rebuilder) projectStep(step *StepReport, recs []source.Record) error {
	p := &projector{store: r.store, step: step, log: r.log}

	var fresh []pending
	for _, rec := range recs {
		h := rec.Header()
		if _, ok := r.store.NodeForSource(string(rec.Kind()), h.ID); ok {
			step.Skipped++
			continue
		}
		id, err := p.recordNode(rec)
		if err != nil {
			return err
		}
		step.Projected++
		fresh = append(fresh, pending{rec: rec, node: id})
	}

	for _, f := range fresh {
		if err := p.recordEdges(f.rec, f.node); err != nil {
			return err
		}
	}

	if step.Kind == source.KindFailure {
		return p.lessons(recs, r.recurring)
	}
	return nil
}

type pending struct {
	rec  source.Record
	node string
}

// projector emits the nodes and edges of one step and counts them.
type projector struct {
	store *graph.Store
	step  *StepReport
	log   *zap.Logger
}

func (p *projector) node(t graph.NodeType, name string, attrs map[string]any, at time.Time) (string, error) {
	id := graph.Resolve(t, strings.TrimSpace(name))
	_, existed := p.store.Node(id)
	id, err := p.store.AddNodeAt(t, name, attrs, at)
	if err != nil {
		return "", err
	}
	if !existed {
		p.step.Nodes++
	}
	return id, nil
}

func (p *projector) edge(from, to string, rel graph.Relation, at time.Time) error {
	if from == "" || to == "" || from == to {
		return nil
	}
	added, err := p.store.AddEdgeAt(from, to, rel, 1.0, false, at)
	if err != nil {
		return err
	}
	if added {
		p.step.Edges++
	}
	return nil
}

// recordNode creates the node standing for rec. Its name is the bounded
// summary; when another record already owns that name, the id is appended.
func (p *projector) recordNode(rec source.Record) (string, error) {
	h := rec.Header()
	t := nodeTypeOf(rec.Kind())
	summary := Bound(h.Summary, MaxNameRunes)

	name := summary
	if n, ok := p.store.Node(graph.Resolve(t, name)); ok {
		owner := n.Attr(graph.AttrSourceID)
		if owner != "" && owner != h.ID {
			name = Bound(summary, MaxNameRunes-len(h.ID)-3) + " (" + h.ID + ")"
		}
	}

	attrs := map[string]any{
		graph.AttrSourceKind: string(rec.Kind()),
		graph.AttrSourceID:   h.ID,
		graph.AttrSummary:    summary,
		"timestamp":          h.Timestamp.UTC().Format(time.RFC3339),
	}
	if len(h.Tags) > 0 {
		attrs[graph.AttrTags] = append([]string(nil), h.Tags...)
	}
	if h.Importance > 0 {
		attrs["importance"] = h.Importance
	}
	if scope := source.ScopeOf(rec); scope != "" {
		attrs[graph.AttrScope] = scope
	}
	switch v := rec.(type) {
	case *source.Decision:
		if v.Status != "" {
			attrs["status"] = v.Status
		}
	case *source.Goal:
		if v.Status != "" {
			attrs["status"] = v.Status
		}
	case *source.Pattern:
		if v.Language != "" {
			attrs["language"] = v.Language
		}
	case *source.Failure:
		if v.Resolution != "" {
			attrs["resolution"] = Bound(v.Resolution, MaxNameRunes)
		}
	}
	return p.node(t, name, attrs, h.Timestamp)
}

func (p *projector) recordEdges(rec source.Record, self string) error {
	h := rec.Header()
	at := h.Timestamp

	refRel := graph.RelReferences
	if rec.Kind() == source.KindSession {
		refRel = graph.RelRelatesTo
	}
	for _, ref := range h.Refs {
		if err := p.entityEdge(self, ref, refRel, at); err != nil {
			return err
		}
	}
	for _, tag := range h.Tags {
		if err := p.tagEdge(self, tag, at); err != nil {
			return err
		}
	}

	switch v := rec.(type) {
	case *source.Decision:
		for _, id := range v.RelatedDecisions {
			if err := p.recordEdge(self, source.KindDecision, id, graph.RelRelatesTo, at); err != nil {
				return err
			}
		}
		if v.Supersedes != "" {
			if err := p.recordEdge(self, source.KindDecision, v.Supersedes, graph.RelSupersedes, at); err != nil {
				return err
			}
		}
	case *source.Pattern:
		for _, id := range v.Decisions {
			if err := p.recordEdge(self, source.KindDecision, id, graph.RelImplements, at); err != nil {
				return err
			}
		}
	case *source.Failure:
		if v.Pattern != "" {
			if err := p.recordEdge(self, source.KindPattern, v.Pattern, graph.RelRelatesTo, at); err != nil {
				return err
			}
		}
	case *source.Session:
		for _, id := range v.DecisionsProduced {
			if err := p.recordEdge(self, source.KindDecision, id, graph.RelProduces, at); err != nil {
				return err
			}
		}
		if v.HandoffFrom != "" {
			if err := p.recordEdge(self, source.KindSession, v.HandoffFrom, graph.RelConsumes, at); err != nil {
				return err
			}
		}
		if v.Project != "" {
			if err := p.projectEdge(self, v.Project, graph.RelPartOf, at); err != nil {
				return err
			}
		}
	case *source.Project:
		for _, dep := range v.DependsOn {
			if err := p.projectEdge(self, dep, graph.RelDependsOn, at); err != nil {
				return err
			}
		}
		for _, path := range v.Hosts {
			if err := p.namedEdge(self, graph.TypeFile, path, graph.RelHosts, at); err != nil {
				return err
			}
		}
	case *source.Goal:
		for _, name := range v.Projects {
			proj := graph.Resolve(graph.TypeProject, strings.TrimSpace(name))
			if _, ok := p.store.Node(proj); !ok {
				p.step.Dangling++
				continue
			}
			if err := p.edge(self, proj, graph.RelRelatesTo, at); err != nil {
				return err
			}
		}
		if v.Parent != "" {
			if err := p.recordEdge(self, source.KindGoal, v.Parent, graph.RelPartOf, at); err != nil {
				return err
			}
		}
	case *source.Observation:
		if v.PromotedTo != nil {
			if err := p.recordEdge(self, v.PromotedTo.Kind, v.PromotedTo.ID, graph.RelDerivedFrom, at); err != nil {
				return err
			}
		}
	}

	for _, l := range h.Links {
		if err := p.linkEdge(self, l, at); err != nil {
			return err
		}
	}
	return nil
}

// recordEdge links self to the node projected from (kind, id). Targets that
// are not projected are counted as dangling.
func (p *projector) recordEdge(self string, kind source.Kind, id string, rel graph.Relation, at time.Time) error {
	target, ok := p.store.NodeForSource(string(kind), id)
	if !ok {
		p.step.Dangling++
		p.log.Debug("dangling record reference",
			zap.String("from", self), zap.String("kind", string(kind)), zap.String("id", id))
		return nil
	}
	return p.edge(self, target.ID, rel, at)
}

func (p *projector) namedEdge(self string, t graph.NodeType, name string, rel graph.Relation, at time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	target, err := p.node(t, name, nil, at)
	if err != nil {
		return err
	}
	return p.edge(self, target, rel, at)
}

func (p *projector) projectEdge(self, name string, rel graph.Relation, at time.Time) error {
	return p.namedEdge(self, graph.TypeProject, name, rel, at)
}

// entityEdge resolves a free-form reference to a file or concept node.
func (p *projector) entityEdge(self, ref string, rel graph.Relation, at time.Time) error {
	return p.namedEdge(self, EntityType(ref), ref, rel, at)
}

func (p *projector) tagEdge(self, tag string, at time.Time) error {
	tag = strings.TrimSpace(tag)
	if name, ok := strings.CutPrefix(tag, source.ProjectTagPrefix); ok {
		return p.projectEdge(self, name, graph.RelPartOf, at)
	}
	return p.namedEdge(self, graph.TypeConcept, tag, graph.RelRelatesTo, at)
}

// linkEdge emits an explicit link. The target is looked up as a node id,
// name or record id; unresolved targets become entity nodes.
func (p *projector) linkEdge(self string, l source.Link, at time.Time) error {
	rel, ok := graph.NormalizeRelation(l.Relation)
	if !ok {
		p.log.Warn("skipping link with unknown relation",
			zap.String("from", self), zap.String("relation", l.Relation))
		p.step.Dangling++
		return nil
	}
	if target, ok := p.store.ResolveRef(l.To); ok {
		return p.edge(self, target.ID, rel, at)
	}
	return p.entityEdge(self, l.To, rel, at)
}

// lessons adds a lesson node for every recurring failure group, derived from
// each failure in the group.
func (p *projector) lessons(recs []source.Record, threshold int) error {
	var failures []*source.Failure
	for _, rec := range recs {
		if f, ok := rec.(*source.Failure); ok {
			failures = append(failures, f)
		}
	}
	byID := make(map[string]*source.Failure, len(failures))
	for _, f := range failures {
		byID[f.ID] = f
	}

	for _, g := range conflict.RecurringFailures(failures, threshold) {
		first := byID[g.IDs[0]]
		name := Bound("Recurring: "+g.Summary, MaxNameRunes)
		lesson, err := p.node(graph.TypeLesson, name, map[string]any{
			"occurrences":  g.Count,
			"failure_ids":  append([]string(nil), g.IDs...),
			"derived_kind": string(source.KindFailure),
		}, first.Timestamp)
		if err != nil {
			return err
		}
		for _, id := range g.IDs {
			if err := p.recordEdge(lesson, source.KindFailure, id, graph.RelDerivedFrom, byID[id].Timestamp); err != nil {
				return err
			}
		}
	}
	return nil
}

func nodeTypeOf(k source.Kind) graph.NodeType {
	return graph.NodeType(k)
}

var fileLikeRe = regexp.MustCompile(`^[^\s]+\.[A-Za-z0-9]{1,8}$`)

// EntityType classifies a reference: anything path-like is a file, the rest
// are concepts.
func EntityType(ref string) graph.NodeType {
	ref = strings.TrimSpace(ref)
	if strings.ContainsAny(ref, " \t") {
		return graph.TypeConcept
	}
	if strings.Contains(ref, "/") || fileLikeRe.MatchString(ref) {
		return graph.TypeFile
	}
	return graph.TypeConcept
}

// Bound truncates s to at most n runes.
func Bound(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
