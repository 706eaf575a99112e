package ik

import (
	"context"
	"sort"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/logging"
)

// Partition splits chains into sets that must be solved together: two chains whose paths share a
// node end up in the same set. Chains with deeper end effectors are colored first, so the result
// does not depend on the order of the input.
func Partition(b *body.Body, chains []*Chain) [][]*Chain {
	sorted := make([]*Chain, len(chains))
	copy(sorted, chains)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := b.Depth(sorted[i].Effector()), b.Depth(sorted[j].Effector())
		if di != dj {
			return di > dj
		}
		return sorted[i].Name() < sorted[j].Name()
	})

	var parent []int
	find := func(c int) int {
		for parent[c] != c {
			parent[c] = parent[parent[c]]
			c = parent[c]
		}
		return c
	}

	colors := make(map[body.NodeID]int)
	chainColor := make([]int, len(sorted))
	for i, c := range sorted {
		color := -1
		for _, n := range c.Path() {
			found, ok := colors[n]
			if !ok {
				continue
			}
			found = find(found)
			switch {
			case color == -1:
				color = found
			case found != color:
				parent[found] = color
			}
		}
		if color == -1 {
			color = len(parent)
			parent = append(parent, color)
		}
		for _, n := range c.Path() {
			colors[n] = color
		}
		chainColor[i] = color
	}

	var out [][]*Chain
	index := make(map[int]int)
	for i, c := range sorted {
		color := find(chainColor[i])
		at, ok := index[color]
		if !ok {
			at = len(out)
			index[color] = at
			out = append(out, nil)
		}
		out[at] = append(out[at], c)
	}
	for _, set := range out {
		sort.SliceStable(set, func(i, j int) bool {
			return set[i].Config().Iterations > set[j].Config().Iterations
		})
	}
	return out
}

// groupBinding is a chain's tasks bound to the segments of a group solver.
type groupBinding struct {
	chain *Chain
	tasks chainTasks
}

// Group solves a set of chains that share joints. Direct chains run first, then all iterative
// chains run as one problem over the union of their segments.
type Group struct {
	body   *body.Body
	logger logging.Logger
	root   body.NodeID

	chains     []*Chain
	direct     []*Chain
	iterative  []*Chain
	nodes      map[body.NodeID]struct{}
	owned      map[body.NodeID]struct{}
	iterations int

	solver   *Solver
	bindings []groupBinding
}

// NewGroup builds a group from chains that share b. The chains' paths must be connected, as the
// sets returned by Partition are.
func NewGroup(b *body.Body, chains []*Chain, opts SolverOptions, logger logging.Logger) (*Group, error) {
	g := &Group{
		body:   b,
		logger: logger,
		root:   body.NoNode,
		chains: chains,
		nodes:  make(map[body.NodeID]struct{}),
		owned:  make(map[body.NodeID]struct{}),
	}
	for _, c := range chains {
		for _, n := range c.Path() {
			g.nodes[n] = struct{}{}
		}
		for _, n := range c.Starts() {
			g.owned[n] = struct{}{}
		}
		if g.root == body.NoNode || b.Depth(c.Root()) < b.Depth(g.root) {
			g.root = c.Root()
		}
		if c.Config().Algorithm.Iterative() {
			g.iterative = append(g.iterative, c)
			g.iterations = max(g.iterations, c.Config().Iterations)
		} else {
			g.direct = append(g.direct, c)
		}
	}
	if len(g.iterative) < 2 {
		return g, nil
	}

	// chains are ordered by budget, so the first one's segment settings win on shared joints
	shared := make(map[body.NodeID]*Segment)
	seen := make(map[*Segment]struct{})
	var segments []*Segment
	var tasks []Task
	for _, c := range g.iterative {
		segs := c.bindSegments(shared)
		for _, seg := range segs {
			if _, ok := seen[seg]; !ok {
				seen[seg] = struct{}{}
				segments = append(segments, seg)
			}
		}
		ct := c.newTasks(segs)
		tasks = append(tasks, ct.list()...)
		g.bindings = append(g.bindings, groupBinding{chain: c, tasks: ct})
	}
	solver, err := NewSolver(b, g.root, segments, tasks, g.iterative[0].Config().Algorithm, opts, logger)
	if err != nil {
		return nil, err
	}
	g.solver = solver
	return g, nil
}

// Root returns the top-most node of the group; every joint the group moves is at or below it.
func (g *Group) Root() body.NodeID {
	return g.root
}

// Chains returns the group's chains by decreasing iteration budget.
func (g *Group) Chains() []*Chain {
	return g.chains
}

// Owns reports whether the group rotates a node.
func (g *Group) Owns(id body.NodeID) bool {
	_, ok := g.owned[id]
	return ok
}

// Contains reports whether a node lies on the path of any of the group's chains.
func (g *Group) Contains(id body.NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Solve runs the group's chains. The body's caches must be current; they are current again below
// the group root when Solve returns.
func (g *Group) Solve(ctx context.Context) SolveResult {
	for _, c := range g.direct {
		c.Solve(ctx)
	}
	switch {
	case len(g.iterative) == 0:
		return SolveResult{Outcome: Converged, Iterations: 1}
	case g.solver == nil:
		return g.iterative[0].Solve(ctx)
	}
	for _, bnd := range g.bindings {
		bnd.chain.syncGoals(bnd.tasks)
	}
	return g.solver.Solve(ctx, g.iterations)
}

// Waves orders groups for solving. A group whose root lies below a node of another group moves
// with that group, so it is placed in a later wave. Groups of one wave touch disjoint subtrees.
func Waves(b *body.Body, groups []*Group) [][]*Group {
	sorted := make([]*Group, len(groups))
	copy(sorted, groups)
	sort.SliceStable(sorted, func(i, j int) bool {
		return b.Depth(sorted[i].Root()) < b.Depth(sorted[j].Root())
	})

	wave := make(map[*Group]int, len(sorted))
	var out [][]*Group
	for i, g := range sorted {
		w := 0
		for _, other := range sorted[:i] {
			for at := b.Parent(g.root); at != body.NoNode; at = b.Parent(at) {
				if other.Contains(at) {
					w = max(w, wave[other]+1)
					break
				}
			}
		}
		wave[g] = w
		for len(out) <= w {
			out = append(out, nil)
		}
		out[w] = append(out[w], g)
	}
	return out
}
