// Package source reads and appends the append-only record logs that the
// graph and the index are projected from.
package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
)

// Kind names a record log.
type Kind string

const (
	KindProject     Kind = "project"
	KindDecision    Kind = "decision"
	KindPattern     Kind = "pattern"
	KindFailure     Kind = "failure"
	KindSession     Kind = "session"
	KindGoal        Kind = "goal"
	KindObservation Kind = "observation"
)

// kinds is the projection order: projects first so later steps can match
// project tags against existing nodes.
var kinds = []Kind{
	KindProject, KindDecision, KindPattern, KindFailure,
	KindSession, KindGoal, KindObservation,
}

// Kinds returns every record kind in projection order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// ParseKind accepts a kind name in singular or plural form.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range kinds {
		if s == string(k) || s == string(k)+"s" {
			return k, nil
		}
	}
	return "", apperrors.Input("source.kind", "unknown record kind %q", s)
}

// ProjectTagPrefix marks a tag naming the project a record belongs to.
const ProjectTagPrefix = "project:"

// Link is an explicit edge declared by a record.
type Link struct {
	To       string `json:"to" validate:"notblank"`
	Relation string `json:"relation" validate:"notblank"`
}

// Target points at another record by kind and logical id.
type Target struct {
	Kind Kind   `json:"kind" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// Base holds the fields every record carries.
type Base struct {
	ID         string    `json:"id" validate:"notblank,max=128"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	Summary    string    `json:"summary" validate:"notblank"`
	Content    string    `json:"content,omitempty"`
	Refs       []string  `json:"refs,omitempty" validate:"omitempty,dive,required"`
	Tags       []string  `json:"tags,omitempty" validate:"omitempty,dive,required"`
	Importance int       `json:"importance,omitempty" validate:"gte=0,lte=5"`
	Links      []Link    `json:"links,omitempty" validate:"omitempty,dive"`
}

// Header returns the common fields.
func (b *Base) Header() *Base { return b }

// Scope is the project a record belongs to, taken from its first
// project:<name> tag.
func (b *Base) Scope() string {
	for _, t := range b.Tags {
		if strings.HasPrefix(t, ProjectTagPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(t, ProjectTagPrefix))
		}
	}
	return ""
}

// Text concatenates the searchable fields.
func (b *Base) Text() string {
	parts := []string{b.Summary}
	if b.Content != "" {
		parts = append(parts, b.Content)
	}
	parts = append(parts, b.Tags...)
	parts = append(parts, b.Refs...)
	return strings.Join(parts, " ")
}

// Record is one line of a source log.
type Record interface {
	Kind() Kind
	Header() *Base
}

// Decision is a recorded choice.
type Decision struct {
	Base
	RelatedDecisions []string `json:"related_decisions,omitempty"`
	Supersedes       string   `json:"supersedes,omitempty"`
	Status           string   `json:"status,omitempty"`
}

func (*Decision) Kind() Kind { return KindDecision }

// Pattern is a reusable approach, optionally implementing decisions.
type Pattern struct {
	Base
	Decisions []string `json:"decisions,omitempty"`
	Language  string   `json:"language,omitempty"`
}

func (*Pattern) Kind() Kind { return KindPattern }

// Failure is an observed failure. Occurrences counts repeats folded into
// this record.
type Failure struct {
	Base
	Pattern     string `json:"pattern,omitempty"`
	Occurrences int    `json:"occurrences,omitempty" validate:"gte=0"`
	Resolution  string `json:"resolution,omitempty"`
}

func (*Failure) Kind() Kind { return KindFailure }

// Session is a unit of agent work and its handoff.
type Session struct {
	Base
	DecisionsProduced []string `json:"decisions_produced,omitempty"`
	HandoffFrom       string   `json:"handoff_from,omitempty"`
	Project           string   `json:"project,omitempty"`
}

func (*Session) Kind() Kind { return KindSession }

// Scope prefers the explicit project field over tags.
func (s *Session) Scope() string {
	if s.Project != "" {
		return s.Project
	}
	return s.Base.Scope()
}

// Project is a registered project. Its summary is the project name.
type Project struct {
	Base
	DependsOn []string `json:"depends_on,omitempty"`
	Hosts     []string `json:"hosts,omitempty"`
}

func (*Project) Kind() Kind { return KindProject }

// Scope of a project is itself.
func (p *Project) Scope() string { return p.Summary }

// Goal is a tracked objective.
type Goal struct {
	Base
	Projects []string `json:"projects,omitempty"`
	Parent   string   `json:"parent,omitempty"`
	Status   string   `json:"status,omitempty"`
}

func (*Goal) Kind() Kind { return KindGoal }

// Observation is a raw note that may later be promoted to another record.
type Observation struct {
	Base
	PromotedTo *Target `json:"promoted_to,omitempty"`
}

func (*Observation) Kind() Kind { return KindObservation }

// New returns an empty record of the given kind.
func New(k Kind) (Record, error) {
	switch k {
	case KindDecision:
		return &Decision{}, nil
	case KindPattern:
		return &Pattern{}, nil
	case KindFailure:
		return &Failure{}, nil
	case KindSession:
		return &Session{}, nil
	case KindProject:
		return &Project{}, nil
	case KindGoal:
		return &Goal{}, nil
	case KindObservation:
		return &Observation{}, nil
	}
	return nil, apperrors.Input("source.kind", "unknown record kind %q", k)
}

// ScopeOf returns the project scope of any record.
func ScopeOf(r Record) string {
	if s, ok := r.(interface{ Scope() string }); ok {
		return s.Scope()
	}
	return r.Header().Scope()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// notblank rejects strings that are empty after trimming whitespace.
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks a record's field constraints.
func Validate(r Record) error {
	if err := validate.Struct(r); err != nil {
		return apperrors.Input("source.validate", "invalid %s record: %v", r.Kind(), err)
	}
	if p, ok := r.(*Observation); ok && p.PromotedTo != nil {
		if _, err := ParseKind(string(p.PromotedTo.Kind)); err != nil {
			return apperrors.Input("source.validate", "invalid promotion target kind %q", p.PromotedTo.Kind)
		}
	}
	return nil
}

// Key identifies a record across logs.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Kind, k.ID) }

// KeyOf returns the key of r.
func KeyOf(r Record) Key {
	return Key{Kind: r.Kind(), ID: r.Header().ID}
}
