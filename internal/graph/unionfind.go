package graph

import "sort"

// UnionFind is a disjoint-set over node ids with path compression and union by rank.
type UnionFind struct {
	parent map[string]string
	rank   map[string]int
}

// NewUnionFind puts every id in its own set.
func NewUnionFind(ids []string) *UnionFind {
	uf := &UnionFind{
		parent: make(map[string]string, len(ids)),
		rank:   make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

// Find returns the representative of id's set.
func (uf *UnionFind) Find(id string) string {
	parent, ok := uf.parent[id]
	if !ok {
		return id
	}
	if parent != id {
		root := uf.Find(parent)
		uf.parent[id] = root
		return root
	}
	return id
}

// Union merges the sets of a and b and reports whether they were separate.
func (uf *UnionFind) Union(a, b string) bool {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return false
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	return true
}

// Components returns every set with its members sorted, largest set first and
// ties broken by smallest member.
func (uf *UnionFind) Components() [][]string {
	groups := make(map[string][]string)
	for id := range uf.parent {
		root := uf.Find(id)
		groups[root] = append(groups[root], id)
	}
	out := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}
