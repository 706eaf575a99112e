package ik

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/logging"
)

// errUnfinished is reported for a dispatched group that produced no result.
var errUnfinished = errors.New("group solve did not finish")

// ParallelGroup runs a group on a private clone of the group's subtree. The primary body is only
// touched by prepare and merge, which run on the caller's goroutine; run touches only the clone
// and may be called from a pool worker.
type ParallelGroup struct {
	primary *body.Body
	source  *Group
	clone   *body.Body
	group   *Group
	logger  logging.Logger

	result   SolveResult
	archive  body.Archive
	finished bool
}

// NewParallelGroup clones g's subtree of primary and rebuilds g's chains on the clone.
func NewParallelGroup(primary *body.Body, g *Group, opts SolverOptions, logger logging.Logger) (*ParallelGroup, error) {
	clone, err := primary.CloneSubtree(g.Root())
	if err != nil {
		return nil, err
	}
	chains := make([]*Chain, 0, len(g.Chains()))
	for _, c := range g.Chains() {
		cc, err := NewChain(clone, c.Config(), opts, logger)
		if err != nil {
			return nil, errors.Wrap(err, "rebuilding chain on clone")
		}
		chains = append(chains, cc)
	}
	cg, err := NewGroup(clone, chains, opts, logger)
	if err != nil {
		return nil, err
	}
	return &ParallelGroup{
		primary: primary,
		source:  g,
		clone:   clone,
		group:   cg,
		logger:  logger,
	}, nil
}

// Group returns the group as built on the primary body.
func (p *ParallelGroup) Group() *Group {
	return p.source
}

// Clone returns the private body the group is solved on.
func (p *ParallelGroup) Clone() *body.Body {
	return p.clone
}

// prepare copies the current pose, attachment and goals of the primary subtree into the clone.
// The primary's caches must be current.
func (p *ParallelGroup) prepare() error {
	root := p.source.Root()
	if err := p.clone.Restore(p.clone.Root(), p.primary.Snapshot(root)); err != nil {
		return err
	}
	p.clone.SetBase(p.primary.ParentWorld(root))
	for _, id := range p.clone.Order() {
		p.clone.ClearGoal(id)
		if goal, ok := p.primary.Goal(p.clone.Source(id)); ok {
			p.clone.SetGoal(id, goal)
		}
	}
	p.clone.UpdateAll()
	p.result = SolveResult{}
	p.archive = nil
	p.finished = false
	return nil
}

// run solves on the clone and serializes the resulting pose.
func (p *ParallelGroup) run(ctx context.Context) {
	p.result = p.group.Solve(ctx)
	p.archive = p.clone.Snapshot(p.clone.Root())
	p.finished = true
}

// job adapts run to the pool. solveCtx bounds the solve; the pool context is not used since a
// dispatched group always runs to completion.
func (p *ParallelGroup) job(solveCtx context.Context) func(context.Context) error {
	return func(context.Context) error {
		p.run(solveCtx)
		return nil
	}
}

// merge writes the joints the group owns from the clone's archive onto the primary and refreshes
// the primary's caches below the group root. A group that never finished is reported degenerate
// and leaves the primary untouched.
func (p *ParallelGroup) merge() SolveResult {
	if !p.finished {
		return SolveResult{Outcome: Degenerate, Err: errUnfinished}
	}
	root := p.source.Root()
	if err := p.primary.RestoreFiltered(root, p.archive, p.source.Owns); err != nil {
		return SolveResult{Outcome: Degenerate, Iterations: p.result.Iterations, Err: err}
	}
	p.primary.UpdateFK(root, body.RootIsLocal)
	return p.result
}
