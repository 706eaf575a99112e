package ik

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/logging"
	"go.viam.com/articulated/spatialmath"
)

// JointConfig overrides the settings of one segment of a chain, by start node name.
type JointConfig struct {
	Name string `json:"name"`
	// Fixed joints are kept out of the solve.
	Fixed   bool                `json:"fixed"`
	Limits  Limits              `json:"limits"`
	Weights [SegmentDOF]float64 `json:"weights"`
}

// ChainConfig describes a chain: the end effector and how many of its ancestors it moves.
type ChainConfig struct {
	Name        string `json:"name"`
	EndEffector string `json:"end_effector"`
	// Number of ancestors of the end effector that rotate.
	Length    int       `json:"length"`
	Algorithm Algorithm `json:"algorithm"`
	// Iteration budget of a solve. Zero selects the default.
	Iterations int `json:"iterations"`

	PositionWeight    float64 `json:"position_weight"`
	OrientationWeight float64 `json:"orientation_weight"`
	// Solve orientation in the null space of the position task.
	OrientationSecondary bool `json:"orientation_secondary"`

	Joints []JointConfig `json:"joints"`

	// Maps goals into the body's world space, for goals given in another skeleton's space.
	TargetSpace *spatialmath.Transform `json:"target_space,omitempty"`
}

// link is one resolved segment of a chain, before it is bound to a solver.
type link struct {
	start, end body.NodeID
	limits     Limits
	weights    [SegmentDOF]float64
}

// Chain moves an end effector toward its goal by rotating a run of its ancestors.
type Chain struct {
	cfg    ChainConfig
	body   *body.Body
	logger logging.Logger
	opts   SolverOptions

	effector body.NodeID
	// every node from the top-most ancestor down to the effector, fixed joints included
	path  []body.NodeID
	links []link

	segments []*Segment
	tasks    chainTasks
	solver   *Solver
}

// chainTasks are the tasks of one chain bound to a set of segments.
type chainTasks struct {
	position    *PositionTask
	orientation *OrientationTask
}

func (ct chainTasks) list() []Task {
	var tasks []Task
	if ct.position != nil {
		tasks = append(tasks, ct.position)
	}
	if ct.orientation != nil {
		tasks = append(tasks, ct.orientation)
	}
	return tasks
}

// NewChain resolves cfg against b. It fails when the effector is unknown, when it has fewer than
// cfg.Length ancestors, when a joint setting names a node outside the chain, or when every joint
// is fixed.
func NewChain(b *body.Body, cfg ChainConfig, opts SolverOptions, logger logging.Logger) (*Chain, error) {
	effector, ok := b.Lookup(cfg.EndEffector)
	if !ok {
		return nil, NewEffectorNotFoundError(cfg.Name, cfg.EndEffector)
	}
	if cfg.Length <= 0 {
		return nil, errors.Errorf("chain %q: length must be positive, got %d", cfg.Name, cfg.Length)
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = defaultIterations
	}
	if cfg.PositionWeight < 0 || cfg.OrientationWeight < 0 {
		return nil, errors.Errorf("chain %q: task weights must not be negative", cfg.Name)
	}
	if cfg.Algorithm.Iterative() && cfg.PositionWeight == 0 && cfg.OrientationWeight == 0 {
		return nil, errors.Errorf("chain %q has no position or orientation task", cfg.Name)
	}

	// path[0] is the top-most ancestor, path[len-1] the effector
	path := make([]body.NodeID, cfg.Length+1)
	path[cfg.Length] = effector
	cur := effector
	for k := cfg.Length - 1; k >= 0; k-- {
		cur = b.Parent(cur)
		if cur == body.NoNode {
			return nil, NewChainTooLongError(cfg.Name, cfg.EndEffector, cfg.Length, cfg.Length-1-k)
		}
		path[k] = cur
	}

	joints := make(map[string]JointConfig, len(cfg.Joints))
	for _, jc := range cfg.Joints {
		if err := jc.Limits.Validate(); err != nil {
			return nil, errors.Wrapf(err, "chain %q: joint %q", cfg.Name, jc.Name)
		}
		joints[jc.Name] = jc
	}
	var links []link
	for k := 0; k < cfg.Length; k++ {
		start := path[k]
		jc, found := joints[b.Name(start)]
		delete(joints, b.Name(start))
		if found && jc.Fixed {
			continue
		}
		links = append(links, link{start: start, end: path[k+1], limits: jc.Limits, weights: jc.Weights})
	}
	for _, jc := range cfg.Joints {
		if _, unmatched := joints[jc.Name]; unmatched {
			return nil, NewUnknownJointError(cfg.Name, jc.Name)
		}
	}
	if len(links) == 0 {
		return nil, NewNoDOFError(cfg.Name)
	}

	c := &Chain{
		cfg:      cfg,
		body:     b,
		logger:   logger,
		opts:     opts.withDefaults(),
		effector: effector,
		path:     path,
		links:    links,
	}
	c.segments = c.bindSegments(nil)
	if cfg.Algorithm.Iterative() {
		c.tasks = c.newTasks(c.segments)
		solver, err := NewSolver(b, path[0], c.segments, c.tasks.list(), cfg.Algorithm, c.opts, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "chain %q", cfg.Name)
		}
		c.solver = solver
	}
	return c, nil
}

// bindSegments returns a segment per link. Segments already present in shared, keyed by start
// node, are reused and new ones are added to it.
func (c *Chain) bindSegments(shared map[body.NodeID]*Segment) []*Segment {
	segs := make([]*Segment, 0, len(c.links))
	for _, l := range c.links {
		if shared != nil {
			if seg, ok := shared[l.start]; ok {
				segs = append(segs, seg)
				continue
			}
		}
		seg := NewSegment(c.body, l.start, l.end, l.limits, l.weights)
		if shared != nil {
			shared[l.start] = seg
		}
		segs = append(segs, seg)
	}
	return segs
}

// newTasks creates the chain's tasks over segs.
func (c *Chain) newTasks(segs []*Segment) chainTasks {
	var ct chainTasks
	if c.cfg.PositionWeight > 0 {
		ct.position = NewPositionTask(c.body, c.effector, segs, c.cfg.PositionWeight, true, c.opts)
	}
	if c.cfg.OrientationWeight > 0 {
		primary := !c.cfg.OrientationSecondary || ct.position == nil
		ct.orientation = NewOrientationTask(c.body, c.effector, segs, c.cfg.OrientationWeight, primary, c.opts)
	}
	return ct
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return c.cfg.Name
}

// Config returns the configuration the chain was built from, with defaults applied.
func (c *Chain) Config() ChainConfig {
	return c.cfg
}

// Effector returns the end effector node.
func (c *Chain) Effector() body.NodeID {
	return c.effector
}

// Root returns the top-most ancestor the chain walks to.
func (c *Chain) Root() body.NodeID {
	return c.path[0]
}

// Path returns every node of the chain from the root to the effector.
func (c *Chain) Path() []body.NodeID {
	return c.path
}

// Starts returns the nodes the chain rotates, root first.
func (c *Chain) Starts() []body.NodeID {
	out := make([]body.NodeID, len(c.links))
	for i, l := range c.links {
		out[i] = l.start
	}
	return out
}

// Segments returns the chain's own segments, root first.
func (c *Chain) Segments() []*Segment {
	return c.segments
}

// DOF returns the number of degrees of freedom of the chain.
func (c *Chain) DOF() int {
	return len(c.links) * SegmentDOF
}

func (c *Chain) toWorld(goal spatialmath.Transform) spatialmath.Transform {
	if c.cfg.TargetSpace == nil {
		return goal
	}
	return spatialmath.Compose(*c.cfg.TargetSpace, goal)
}

// syncGoals copies the effector goal into ct. Without a goal the tasks hold the current tip, so
// the chain keeps its pose. The body's caches must be current.
func (c *Chain) syncGoals(ct chainTasks) {
	goal, ok := c.body.Goal(c.effector)
	if ok {
		goal = c.toWorld(goal)
	} else {
		goal = c.body.LocalToWorld(c.effector)
	}
	if ct.position != nil {
		ct.position.SetGoal(goal.Translation)
	}
	if ct.orientation != nil {
		ct.orientation.SetGoal(goal.Rotation)
	}
}

// Solve moves the chain toward its goal. The body's caches must be current; they are current
// again below the chain root when Solve returns.
func (c *Chain) Solve(ctx context.Context) SolveResult {
	if !c.cfg.Algorithm.Iterative() {
		c.solveDirect()
		return SolveResult{Outcome: Converged, Iterations: 1}
	}
	c.syncGoals(c.tasks)
	return c.solver.Solve(ctx, c.cfg.Iterations)
}

// solveDirect projects the world goal rotation of every rotating node into its joint space and
// clamps it. Nodes without a goal keep their joint.
func (c *Chain) solveDirect() {
	for _, seg := range c.segments {
		start := seg.Start()
		goal, ok := c.body.Goal(start)
		if !ok {
			continue
		}
		goal = c.toWorld(goal)
		frame := spatialmath.Compose(c.body.ParentWorld(start), c.body.Rest(start))
		joint := quat.Mul(quat.Conj(frame.Rotation), goal.Rotation)
		c.body.SetJointRotation(start, seg.ClampJoint(spatialmath.Normalize(joint)))
		c.body.UpdateFK(start, body.RootIsLocal)
	}
}
