package graph

import (
	"crypto/sha256"
	"encoding/hex"
)

// Content addressing parameters. Changing any of these changes every node id,
// so they are versioned together: a graph written under another version must
// be rebuilt from its sources.
const (
	ResolverVersion = 1
	// IDHashWidth is the number of hex characters kept from the SHA-256 digest.
	// 8 characters (32 bits) keep ids short; collisions between distinct names
	// of the same type are possible and are not detected.
	IDHashWidth = 8
)

// Resolve derives the stable node id for (type, name):
// type + "-" + first IDHashWidth hex chars of sha256(type + ":" + name).
func Resolve(t NodeType, name string) string {
	sum := sha256.Sum256([]byte(string(t) + ":" + name))
	return string(t) + "-" + hex.EncodeToString(sum[:])[:IDHashWidth]
}

// SourceRef identifies the source record a node was projected from.
type SourceRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// provenance is the reverse index from projected nodes to source records.
type provenance struct {
	byNode   map[string]SourceRef
	bySource map[SourceRef]string
}

func newProvenance() *provenance {
	return &provenance{
		byNode:   make(map[string]SourceRef),
		bySource: make(map[SourceRef]string),
	}
}

func (p *provenance) index(n *Node) {
	kind, id := n.Attr(AttrSourceKind), n.Attr(AttrSourceID)
	if kind == "" || id == "" {
		return
	}
	ref := SourceRef{Kind: kind, ID: id}
	if old, ok := p.byNode[n.ID]; ok && old != ref {
		delete(p.bySource, old)
	}
	p.byNode[n.ID] = ref
	p.bySource[ref] = n.ID
}

func (p *provenance) remove(nodeID string) {
	if ref, ok := p.byNode[nodeID]; ok {
		delete(p.byNode, nodeID)
		if p.bySource[ref] == nodeID {
			delete(p.bySource, ref)
		}
	}
}
