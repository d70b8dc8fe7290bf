package graph

import "sort"

// CutNode is a node whose removal splits the knowledge links of its component.
type CutNode struct {
	ID     string   `json:"id"`
	Type   NodeType `json:"type"`
	Name   string   `json:"name"`
	Degree int      `json:"degree"`
}

// Bridge is a knowledge link whose removal splits its component.
type Bridge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	FromName string   `json:"from_name"`
	ToName   string   `json:"to_name"`
	Relation Relation `json:"relation"`
}

// ThinLink is a pair of projects joined by at most thinLinkMax knowledge links.
type ThinLink struct {
	ProjectA string `json:"project_a"`
	ProjectB string `json:"project_b"`
	Links    int    `json:"links"`
}

const thinLinkMax = 2

// FragilityReport lists the single points of failure among knowledge links.
// Structural relations never count as links here.
type FragilityReport struct {
	CutNodes  []CutNode  `json:"cut_nodes"`
	Bridges   []Bridge   `json:"bridges"`
	ThinLinks []ThinLink `json:"thin_links"`
}

type pair [2]int

func pairOf(u, v int) pair {
	if u > v {
		u, v = v, u
	}
	return pair{u, v}
}

// linkGraph is the undirected simple graph of non-structural edges. Parallel
// and opposite edges collapse onto the first one seen.
type linkGraph struct {
	ids  []string
	adj  [][]int
	link map[pair]Edge
}

func newLinkGraph(snap *Snapshot) *linkGraph {
	g := &linkGraph{ids: snap.NodeIDs(), link: make(map[pair]Edge)}
	idx := make(map[string]int, len(g.ids))
	for i, id := range g.ids {
		idx[id] = i
	}
	g.adj = make([][]int, len(g.ids))
	for _, e := range snap.Edges {
		if IsStructural(e.Relation) {
			continue
		}
		u, okU := idx[e.From]
		v, okV := idx[e.To]
		if !okU || !okV || u == v {
			continue
		}
		k := pairOf(u, v)
		if _, dup := g.link[k]; dup {
			continue
		}
		g.link[k] = e
		g.adj[u] = append(g.adj[u], v)
		g.adj[v] = append(g.adj[v], u)
	}
	return g
}

// walk does a depth-first walk from root, filling pos and parent for every
// node it reaches, and returns those nodes in preorder.
func (g *linkGraph) walk(root int, pos, parent []int, next *int) []int {
	type frame struct{ v, i int }
	pos[root] = *next
	*next++
	order := []int{root}
	stack := []frame{{root, 0}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.i == len(g.adj[top.v]) {
			stack = stack[:len(stack)-1]
			continue
		}
		w := g.adj[top.v][top.i]
		top.i++
		if pos[w] >= 0 {
			continue
		}
		parent[w] = top.v
		pos[w] = *next
		*next++
		order = append(order, w)
		stack = append(stack, frame{w, 0})
	}
	return order
}

// ComputeFragility finds cut nodes and bridges with a chain decomposition of
// the knowledge links, plus project pairs that only a few links hold together.
//
// Every non-tree link of the walk starts a chain at its upper end that climbs
// the tree until it meets a node already on a chain. Tree links no chain
// covers are bridges. A node is a cut node when it ends a bridge and has
// another link, or when it starts a closed chain other than the first one of
// its component.
func ComputeFragility(snap *Snapshot) *FragilityReport {
	g := newLinkGraph(snap)
	n := len(g.ids)
	pos := make([]int, n)
	parent := make([]int, n)
	for i := range pos {
		pos[i], parent[i] = -1, -1
	}
	onChain := make([]bool, n)
	covered := make(map[pair]bool)
	cut := make([]bool, n)

	next := 0
	for root := 0; root < n; root++ {
		if pos[root] >= 0 {
			continue
		}
		firstCycle := true
		for _, v := range g.walk(root, pos, parent, &next) {
			for _, w := range g.adj[v] {
				if pos[w] < pos[v] || parent[w] == v {
					continue
				}
				onChain[v] = true
				x := w
				for !onChain[x] {
					onChain[x] = true
					covered[pairOf(x, parent[x])] = true
					x = parent[x]
				}
				if x != v {
					continue
				}
				if !firstCycle {
					cut[v] = true
				}
				firstCycle = false
			}
		}
	}

	rep := &FragilityReport{}
	for v, p := range parent {
		if p < 0 || covered[pairOf(v, p)] {
			continue
		}
		e := g.link[pairOf(v, p)]
		rep.Bridges = append(rep.Bridges, Bridge{
			From:     e.From,
			To:       e.To,
			FromName: snap.Nodes[e.From].Name,
			ToName:   snap.Nodes[e.To].Name,
			Relation: e.Relation,
		})
		for _, end := range [2]int{v, p} {
			if len(g.adj[end]) > 1 {
				cut[end] = true
			}
		}
	}
	sort.Slice(rep.Bridges, func(i, j int) bool {
		a, b := rep.Bridges[i], rep.Bridges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})

	for v, isCut := range cut {
		if !isCut {
			continue
		}
		node := snap.Nodes[g.ids[v]]
		rep.CutNodes = append(rep.CutNodes, CutNode{ID: node.ID, Type: node.Type, Name: node.Name, Degree: len(g.adj[v])})
	}
	sort.Slice(rep.CutNodes, func(i, j int) bool {
		if rep.CutNodes[i].Degree != rep.CutNodes[j].Degree {
			return rep.CutNodes[i].Degree > rep.CutNodes[j].Degree
		}
		return rep.CutNodes[i].ID < rep.CutNodes[j].ID
	})

	rep.ThinLinks = thinLinks(snap, g)
	return rep
}

// thinLinks counts knowledge links between every pair of projects and keeps
// the pairs with at most thinLinkMax of them.
func thinLinks(snap *Snapshot, g *linkGraph) []ThinLink {
	counts := make(map[[2]string]int)
	for _, e := range g.link {
		a, b := snap.Regions[e.From], snap.Regions[e.To]
		if a == unassignedRegion || b == unassignedRegion || a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		counts[[2]string{a, b}]++
	}

	var out []ThinLink
	for k, c := range counts {
		if c <= thinLinkMax {
			out = append(out, ThinLink{ProjectA: k[0], ProjectB: k[1], Links: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Links != out[j].Links {
			return out[i].Links < out[j].Links
		}
		if out[i].ProjectA != out[j].ProjectA {
			return out[i].ProjectA < out[j].ProjectA
		}
		return out[i].ProjectB < out[j].ProjectB
	})
	return out
}
