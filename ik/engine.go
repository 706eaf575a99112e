package ik

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/logging"
	"go.viam.com/articulated/spatialmath"
	"go.viam.com/articulated/utils"
)

// GroupResult is the outcome of one group of an engine solve.
type GroupResult struct {
	Root   string
	Wave   int
	Chains []string
	SolveResult
}

// EngineResult is the outcome of an engine solve.
type EngineResult struct {
	Groups []GroupResult
	// Archive is the pose of the whole body after the solve.
	Archive body.Archive
}

// Solved reports whether every group converged.
func (r EngineResult) Solved() bool {
	for _, g := range r.Groups {
		if !g.Solved() {
			return false
		}
	}
	return true
}

// Chain returns the result of the group that solved the named chain.
func (r EngineResult) Chain(name string) (SolveResult, bool) {
	for _, g := range r.Groups {
		for _, c := range g.Chains {
			if c == name {
				return g.SolveResult, true
			}
		}
	}
	return SolveResult{}, false
}

// Engine owns the chains of one body and solves them group by group, either on the calling
// goroutine or on a worker pool.
type Engine struct {
	body   *body.Body
	logger logging.Logger
	opts   Options
	pool   *utils.WorkerPool

	mu     sync.Mutex
	order  []string
	chains map[string]*Chain
	dirty  bool
	waves  [][]*ParallelGroup
}

// NewEngine returns an engine for b. A negative worker count selects utils.DefaultNumWorkers.
func NewEngine(b *body.Body, logger logging.Logger, opts Options) (*Engine, error) {
	opts.Solver = opts.Solver.withDefaults()
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.Workers < 0 {
		opts.Workers = utils.DefaultNumWorkers(logger)
	}
	e := &Engine{
		body:   b,
		logger: logger,
		opts:   opts,
		chains: make(map[string]*Chain),
	}
	if opts.Workers > 0 {
		pool, err := utils.NewWorkerPool(opts.Workers, logger.Sublogger("pool"))
		if err != nil {
			return nil, err
		}
		e.pool = pool
	}
	b.UpdateAll()
	return e, nil
}

// Body returns the body the engine poses.
func (e *Engine) Body() *body.Body {
	return e.body
}

// AddChain resolves and adds a chain. A chain that cannot be built is dropped with a warning and
// the reason is returned.
func (e *Engine) AddChain(cfg ChainConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.chains[cfg.Name]; ok {
		return NewDuplicateChainError(cfg.Name)
	}
	c, err := NewChain(e.body, cfg, e.opts.Solver, e.logger.Sublogger(cfg.Name))
	if err != nil {
		e.logger.Warnw("dropping chain", "chain", cfg.Name, "error", err)
		return err
	}
	e.chains[cfg.Name] = c
	e.order = append(e.order, cfg.Name)
	e.dirty = true
	e.logger.Debugw("added chain", "chain", cfg.Name, "effector", cfg.EndEffector, "dof", c.DOF())
	return nil
}

// RemoveChain removes a chain and reports whether it existed.
func (e *Engine) RemoveChain(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.chains[name]; !ok {
		return false
	}
	delete(e.chains, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.dirty = true
	return true
}

// Chains returns the chain names in the order they were added.
func (e *Engine) Chains() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// Chain returns the named chain.
func (e *Engine) Chain(name string) (*Chain, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.chains[name]
	return c, ok
}

// SetGoal sets the world space goal of a node, usually an end effector, and reports whether it
// changed.
func (e *Engine) SetGoal(node string, goal spatialmath.Transform) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.body.Lookup(node)
	if !ok {
		return false, body.NewNodeNotFoundError(node)
	}
	return e.body.SetGoal(id, goal), nil
}

// ClearGoal removes the goal of a node.
func (e *Engine) ClearGoal(node string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.body.Lookup(node)
	if !ok {
		return body.NewNodeNotFoundError(node)
	}
	e.body.ClearGoal(id)
	return nil
}

// regroup partitions the chains and builds the waves of parallel groups.
func (e *Engine) regroup() error {
	chains := make([]*Chain, 0, len(e.order))
	for _, name := range e.order {
		chains = append(chains, e.chains[name])
	}
	var groups []*Group
	for i, set := range Partition(e.body, chains) {
		g, err := NewGroup(e.body, set, e.opts.Solver, e.logger.Sublogger("group"))
		if err != nil {
			return errors.Wrapf(err, "group %d", i)
		}
		groups = append(groups, g)
	}
	e.waves = nil
	for _, wave := range Waves(e.body, groups) {
		pgs := make([]*ParallelGroup, 0, len(wave))
		for _, g := range wave {
			pg, err := NewParallelGroup(e.body, g, e.opts.Solver, e.logger.Sublogger("group"))
			if err != nil {
				return err
			}
			pgs = append(pgs, pg)
		}
		e.waves = append(e.waves, pgs)
	}
	e.dirty = false
	e.logger.Debugw("regrouped chains", "chains", len(chains), "groups", len(groups), "waves", len(e.waves))
	return nil
}

// Solve moves every chain toward its goal. Groups of one wave run concurrently when the engine
// has a pool; waves run in order. The error reports recovered worker panics and regrouping
// failures; solve outcomes are in the result.
func (e *Engine) Solve(ctx context.Context) (EngineResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dirty {
		if err := e.regroup(); err != nil {
			return EngineResult{}, err
		}
	}
	e.body.UpdateAll()

	var res EngineResult
	var errs error
	for w, wave := range e.waves {
		var results []SolveResult
		if e.pool == nil {
			results = e.solveInline(ctx, wave)
		} else {
			var err error
			results, err = e.solveOnPool(ctx, wave)
			errs = multierr.Append(errs, err)
		}
		for i, pg := range wave {
			g := pg.Group()
			names := make([]string, 0, len(g.Chains()))
			for _, c := range g.Chains() {
				names = append(names, c.Name())
			}
			res.Groups = append(res.Groups, GroupResult{
				Root:        e.body.Name(g.Root()),
				Wave:        w,
				Chains:      names,
				SolveResult: results[i],
			})
		}
	}
	res.Archive = e.body.Snapshot(e.body.Root())
	return res, errs
}

func (e *Engine) solveInline(ctx context.Context, wave []*ParallelGroup) []SolveResult {
	out := make([]SolveResult, len(wave))
	for i, pg := range wave {
		out[i] = pg.Group().Solve(ctx)
	}
	return out
}

func (e *Engine) solveOnPool(ctx context.Context, wave []*ParallelGroup) ([]SolveResult, error) {
	out := make([]SolveResult, len(wave))
	for i, pg := range wave {
		if err := pg.prepare(); err != nil {
			for j := range out {
				out[j] = SolveResult{Outcome: Degenerate, Err: err}
			}
			return out, errors.Wrapf(err, "preparing group %d", i)
		}
	}
	for _, pg := range wave {
		acquireCtx, cancel := context.WithTimeout(ctx, e.opts.AcquireTimeout)
		worker, err := e.pool.Acquire(acquireCtx)
		cancel()
		if err != nil {
			e.logger.Debugw("no free worker, solving inline", "root", e.body.Name(pg.Group().Root()), "error", err)
			pg.run(ctx)
			continue
		}
		worker.Execute(pg.job(ctx))
	}
	// solves honor ctx, so waiting without a deadline is bounded
	err := e.pool.WaitAll(context.Background())

	for i, pg := range wave {
		out[i] = pg.merge()
		if out[i].Outcome == Degenerate {
			e.logger.Warnw("group solve failed", "root", e.body.Name(pg.Group().Root()), "error", out[i].Err)
		}
	}
	return out, err
}

// Close stops the engine's workers.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}
