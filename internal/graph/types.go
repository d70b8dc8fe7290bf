package graph

import (
	"sort"
	"strings"
	"time"
)

// NodeType is the type tag of a node.
type NodeType string

const (
	TypeConcept     NodeType = "concept"
	TypeFile        NodeType = "file"
	TypePattern     NodeType = "pattern"
	TypeLesson      NodeType = "lesson"
	TypeDecision    NodeType = "decision"
	TypeSession     NodeType = "session"
	TypeProject     NodeType = "project"
	TypeFailure     NodeType = "failure"
	TypeGoal        NodeType = "goal"
	TypeObservation NodeType = "observation"
)

var nodeTypes = []NodeType{
	TypeConcept, TypeFile, TypePattern, TypeLesson, TypeDecision,
	TypeSession, TypeProject, TypeFailure, TypeGoal, TypeObservation,
}

// NodeTypes returns every known node type.
func NodeTypes() []NodeType {
	out := make([]NodeType, len(nodeTypes))
	copy(out, nodeTypes)
	return out
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	for _, known := range nodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Relation is the typed label of an edge.
type Relation string

const (
	RelRelatesTo   Relation = "relates_to"
	RelSupersedes  Relation = "supersedes"
	RelContradicts Relation = "contradicts"
	RelReferences  Relation = "references"
	RelImplements  Relation = "implements"
	RelDependsOn   Relation = "depends_on"
	RelProduces    Relation = "produces"
	RelConsumes    Relation = "consumes"
	RelDerivedFrom Relation = "derived_from"
	RelPartOf      Relation = "part_of"
	RelHosts       Relation = "hosts"
)

var relations = []Relation{
	RelRelatesTo, RelSupersedes, RelContradicts, RelReferences, RelImplements,
	RelDependsOn, RelProduces, RelConsumes, RelDerivedFrom, RelPartOf, RelHosts,
}

// legacyRelations maps historical spellings onto the canonical vocabulary.
var legacyRelations = map[string]Relation{
	"related_to": RelRelatesTo,
}

// Relations returns the canonical relation vocabulary.
func Relations() []Relation {
	out := make([]Relation, len(relations))
	copy(out, relations)
	return out
}

// NormalizeRelation lowercases r, maps legacy spellings to their canonical
// form and reports whether the result is in the vocabulary.
func NormalizeRelation(r string) (Relation, bool) {
	s := strings.ToLower(strings.TrimSpace(r))
	s = strings.ReplaceAll(s, "-", "_")
	if canon, ok := legacyRelations[s]; ok {
		return canon, true
	}
	rel := Relation(s)
	for _, known := range relations {
		if rel == known {
			return rel, true
		}
	}
	return rel, false
}

// EdgeStatusActive is the default edge status.
const EdgeStatusActive = "active"

// Node is a typed vertex. ID is always Resolve(Type, Name).
type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Attr returns a string attribute, or "" when absent or not a string.
func (n *Node) Attr(key string) string {
	if n == nil || n.Attributes == nil {
		return ""
	}
	s, _ := n.Attributes[key].(string)
	return s
}

// Clone returns a deep-enough copy: the attribute map is copied, values are shared.
func (n *Node) Clone() *Node {
	c := *n
	if n.Attributes != nil {
		c.Attributes = make(map[string]any, len(n.Attributes))
		for k, v := range n.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// Edge is a typed relation between two nodes. At most one edge exists per
// (From, To, Relation).
type Edge struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	Relation      Relation  `json:"relation"`
	Weight        float64   `json:"weight"`
	Bidirectional bool      `json:"bidirectional,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type edgeKey struct {
	from, to string
	rel      Relation
}

func (e Edge) key() edgeKey { return edgeKey{e.From, e.To, e.Relation} }

// Other returns the endpoint of e that is not id.
func (e Edge) Other(id string) string {
	if e.From == id {
		return e.To
	}
	return e.From
}

// Attribute keys written by projection.
const (
	AttrSourceKind = "source_kind"
	AttrSourceID   = "source_id"
	AttrSummary    = "summary"
	AttrTags       = "tags"
	AttrScope      = "scope"
)

// Stats summarizes the store contents.
type Stats struct {
	Nodes       int              `json:"nodes"`
	Edges       int              `json:"edges"`
	ByType      map[NodeType]int `json:"by_type"`
	ByRelation  map[Relation]int `json:"by_relation"`
	Orphans     int              `json:"orphans"`
	Clusters    int              `json:"clusters"`
	LargestSize int              `json:"largest_cluster"`
}

// SortedTypes returns the keys of ByType in vocabulary order.
func (s *Stats) SortedTypes() []NodeType {
	var out []NodeType
	for _, t := range nodeTypes {
		if s.ByType[t] > 0 {
			out = append(out, t)
		}
	}
	return out
}

// SortedRelations returns the keys of ByRelation sorted by name.
func (s *Stats) SortedRelations() []Relation {
	out := make([]Relation, 0, len(s.ByRelation))
	for r := range s.ByRelation {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
