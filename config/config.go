// Package config describes skeletons, IK chains and goals as data, and turns them into bodies
// and engine settings.
package config

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/ik"
	"go.viam.com/articulated/retarget"
	"go.viam.com/articulated/spatialmath"
)

// Config is a complete solving setup: the skeleton to solve, its chains and goals, and
// optionally a source skeleton whose pose drives the goals through bindings.
type Config struct {
	Skeleton SkeletonConfig  `json:"skeleton"`
	Source   *SkeletonConfig `json:"source,omitempty"`
	Bindings []BindingConfig `json:"bindings,omitempty"`
	Chains   []ChainConfig   `json:"chains"`
	Goals    []GoalConfig    `json:"goals,omitempty"`
	Engine   EngineConfig    `json:"engine"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// Translation is a position, in the skeleton's length unit.
type Translation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector returns t as an r3 vector.
func (t Translation) Vector() r3.Vector {
	return r3.Vector{X: t.X, Y: t.Y, Z: t.Z}
}

// Orientation is a rotation of TH degrees around the axis (X, Y, Z). A zero axis is no rotation.
type Orientation struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	TH float64 `json:"th"`
}

// Transform returns the rotation as a transform.
func (o *Orientation) Transform() spatialmath.Transform {
	if o == nil {
		return spatialmath.NewIdentity(spatialmath.RotationOnly)
	}
	aa := spatialmath.R4AA{Theta: spatialmath.DegToRad(o.TH), RX: o.X, RY: o.Y, RZ: o.Z}
	return spatialmath.NewRotation(aa.ToQuat())
}

// FrameConfig is a rigid placement.
type FrameConfig struct {
	Translation Translation  `json:"translation"`
	Orientation *Orientation `json:"orientation,omitempty"`
}

// Transform returns the placement as a rigid transform.
func (f *FrameConfig) Transform() spatialmath.Transform {
	return spatialmath.NewRigid(f.Translation.Vector(), f.Orientation.Transform().Rotation)
}

// SkeletonJointConfig describes one node of a skeleton at rest.
type SkeletonJointConfig struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	// Rig is "animated" or "simulated"; empty is simulated.
	Rig string `json:"rig,omitempty"`
	// Kind restricts the joint transform: "rotation", "translation_rotation" (the default) or
	// "translation_rotation_scale".
	Kind        string       `json:"kind,omitempty"`
	Translation Translation  `json:"translation"`
	Orientation *Orientation `json:"orientation,omitempty"`
	// Rest scale; zero is one.
	Scale float64 `json:"scale,omitempty"`
}

// SkeletonConfig describes an articulated body.
type SkeletonConfig struct {
	Name   string                `json:"name"`
	Base   *FrameConfig          `json:"base,omitempty"`
	Joints []SkeletonJointConfig `json:"joints"`
}

func parseRig(s string) (body.RigKind, error) {
	switch s {
	case "simulated", "":
		return body.SimulatedRig, nil
	case "animated":
		return body.AnimatedRig, nil
	default:
		return 0, errors.Errorf("unknown rig %q", s)
	}
}

// Validate reports every problem of the skeleton.
func (s *SkeletonConfig) Validate(path string) error {
	var err error
	if len(s.Joints) == 0 {
		return errors.Errorf("%s: skeleton has no joints", path)
	}
	names := make(map[string]bool, len(s.Joints))
	for _, j := range s.Joints {
		if j.Name == "" {
			err = multierr.Append(err, errors.Errorf("%s: joint name cannot be empty", path))
			continue
		}
		if names[j.Name] {
			err = multierr.Append(err, errors.Errorf("%s: duplicate joint %q", path, j.Name))
		}
		names[j.Name] = true
	}
	roots := 0
	for _, j := range s.Joints {
		if j.Parent == "" {
			roots++
		} else if !names[j.Parent] {
			err = multierr.Append(err, errors.Errorf("%s: joint %q has unknown parent %q", path, j.Name, j.Parent))
		}
		if _, perr := parseRig(j.Rig); perr != nil {
			err = multierr.Append(err, errors.Wrapf(perr, "%s: joint %q", path, j.Name))
		}
		if _, kerr := spatialmath.ParseTransformKind(j.Kind); kerr != nil {
			err = multierr.Append(err, errors.Wrapf(kerr, "%s: joint %q", path, j.Name))
		}
		if j.Scale < 0 {
			err = multierr.Append(err, errors.Errorf("%s: joint %q has negative scale", path, j.Name))
		}
	}
	if roots != 1 {
		err = multierr.Append(err, errors.Errorf("%s: skeleton needs exactly one root joint, has %d", path, roots))
	}
	return err
}

// BuildBody builds and poses the body at rest.
func (s *SkeletonConfig) BuildBody() (*body.Body, error) {
	b := body.NewBuilder()
	if s.Base != nil {
		b.SetBase(s.Base.Transform())
	}
	for _, j := range s.Joints {
		rig, err := parseRig(j.Rig)
		if err != nil {
			return nil, err
		}
		kind, err := spatialmath.ParseTransformKind(j.Kind)
		if err != nil {
			return nil, err
		}
		rest := spatialmath.NewRigid(j.Translation.Vector(), j.Orientation.Transform().Rotation)
		if j.Scale != 0 && j.Scale != 1 {
			if rest, err = spatialmath.NewSimilarity(rest.Translation, rest.Rotation, j.Scale); err != nil {
				return nil, errors.Wrapf(err, "joint %q", j.Name)
			}
		}
		if _, err := b.AddNode(body.NodeSpec{Name: j.Name, Rig: rig, JointKind: kind, Rest: rest}); err != nil {
			return nil, err
		}
	}
	for _, j := range s.Joints {
		if j.Parent == "" {
			continue
		}
		if err := b.ConnectNames(j.Parent, j.Name); err != nil {
			return nil, err
		}
	}
	out, err := b.Freeze()
	if err != nil {
		return nil, errors.Wrapf(err, "skeleton %q", s.Name)
	}
	out.UpdateAll()
	return out, nil
}

// AxisLimit bounds one angle, in degrees. Min must not exceed zero and Max must not be below it.
type AxisLimit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// LimitsConfig bounds a joint. Absent axes are free.
type LimitsConfig struct {
	SwingX *AxisLimit `json:"swing_x,omitempty"`
	Twist  *AxisLimit `json:"twist,omitempty"`
	SwingZ *AxisLimit `json:"swing_z,omitempty"`
	// ClampPolicy is "direct" (the default) or "spherical".
	ClampPolicy string `json:"clamp_policy,omitempty"`
}

// Limits converts to radians.
func (l LimitsConfig) Limits() (ik.Limits, error) {
	policy, err := ik.ParseClampPolicy(l.ClampPolicy)
	if err != nil {
		return ik.Limits{}, err
	}
	out := ik.Limits{Policy: policy}
	for dof, axis := range [ik.SegmentDOF]*AxisLimit{l.SwingX, l.Twist, l.SwingZ} {
		if axis == nil {
			continue
		}
		out.Limit[dof] = true
		out.Min[dof] = spatialmath.DegToRad(axis.Min)
		out.Max[dof] = spatialmath.DegToRad(axis.Max)
	}
	return out, out.Validate()
}

// JointConfig overrides one joint of a chain.
type JointConfig struct {
	Name string `json:"name"`
	// Type is "spherical" (the default) or "fixed".
	Type    string                 `json:"type,omitempty"`
	Limits  LimitsConfig           `json:"limits"`
	Weights [ik.SegmentDOF]float64 `json:"weights,omitempty"`
}

// ChainConfig describes an IK chain.
type ChainConfig struct {
	Name        string `json:"name"`
	EndEffector string `json:"end_effector"`
	Length      int    `json:"length"`
	// Algorithm is "sdls" (the default), "dls" or "direct".
	Algorithm            string        `json:"algorithm,omitempty"`
	Iterations           int           `json:"iterations,omitempty"`
	PositionWeight       float64       `json:"position_weight"`
	OrientationWeight    float64       `json:"orientation_weight"`
	OrientationSecondary bool          `json:"orientation_secondary,omitempty"`
	Joints               []JointConfig `json:"joints,omitempty"`
	TargetSpace          *FrameConfig  `json:"target_space,omitempty"`
}

// IK converts the chain to its solver form.
func (c *ChainConfig) IK() (ik.ChainConfig, error) {
	alg, err := ik.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return ik.ChainConfig{}, errors.Wrapf(err, "chain %q", c.Name)
	}
	out := ik.ChainConfig{
		Name:                 c.Name,
		EndEffector:          c.EndEffector,
		Length:               c.Length,
		Algorithm:            alg,
		Iterations:           c.Iterations,
		PositionWeight:       c.PositionWeight,
		OrientationWeight:    c.OrientationWeight,
		OrientationSecondary: c.OrientationSecondary,
	}
	for _, j := range c.Joints {
		limits, err := j.Limits.Limits()
		if err != nil {
			return ik.ChainConfig{}, errors.Wrapf(err, "chain %q: joint %q", c.Name, j.Name)
		}
		var fixed bool
		switch j.Type {
		case "spherical", "":
		case "fixed":
			fixed = true
		default:
			return ik.ChainConfig{}, errors.Errorf("chain %q: joint %q has unknown type %q", c.Name, j.Name, j.Type)
		}
		out.Joints = append(out.Joints, ik.JointConfig{Name: j.Name, Fixed: fixed, Limits: limits, Weights: j.Weights})
	}
	if c.TargetSpace != nil {
		ts := c.TargetSpace.Transform()
		out.TargetSpace = &ts
	}
	return out, nil
}

// GoalConfig places the goal of a node in world space. Without an orientation the goal keeps
// the identity rotation.
type GoalConfig struct {
	Node        string       `json:"node"`
	Translation Translation  `json:"translation"`
	Orientation *Orientation `json:"orientation,omitempty"`
}

// Transform returns the goal transform.
func (g *GoalConfig) Transform() spatialmath.Transform {
	return spatialmath.NewRigid(g.Translation.Vector(), g.Orientation.Transform().Rotation)
}

// BindingConfig binds a source skeleton node to a node of the solved skeleton.
type BindingConfig struct {
	Source string       `json:"source"`
	Dest   string       `json:"dest"`
	Offset *Orientation `json:"offset,omitempty"`
}

// Binding converts to its retarget form.
func (b *BindingConfig) Binding() retarget.Binding {
	return retarget.Binding{Source: b.Source, Dest: b.Dest, Offset: b.Offset.Transform()}
}

// EngineConfig configures the solver engine.
type EngineConfig struct {
	// Workers is the number of pool workers; absent selects the default, zero solves inline.
	Workers *int `json:"workers,omitempty"`
	// AcquireTimeoutMs bounds the wait for an idle worker; zero selects the default.
	AcquireTimeoutMs int `json:"acquire_timeout_ms,omitempty"`
	// Solver holds solver tuning attributes, decoded onto ik.SolverOptions.
	Solver map[string]interface{} `json:"solver,omitempty"`
}

// Options converts to engine options.
func (e *EngineConfig) Options() (ik.Options, error) {
	opts := ik.NewDefaultOptions()
	opts.Workers = -1
	if e.Workers != nil {
		opts.Workers = *e.Workers
	}
	if e.AcquireTimeoutMs > 0 {
		opts.AcquireTimeout = time.Duration(e.AcquireTimeoutMs) * time.Millisecond
	}
	if len(e.Solver) > 0 {
		if err := decodeAttributes(e.Solver, &opts.Solver); err != nil {
			return ik.Options{}, errors.Wrap(err, "engine.solver")
		}
	}
	return opts, nil
}

// Validate reports every problem of the config, not only the first.
func (c *Config) Validate() error {
	err := c.Skeleton.Validate("skeleton")
	skeleton := map[string]bool{}
	for _, j := range c.Skeleton.Joints {
		skeleton[j.Name] = true
	}

	chains := map[string]bool{}
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.Name == "" {
			err = multierr.Append(err, errors.Errorf("chains.%d: name cannot be empty", i))
		} else if chains[ch.Name] {
			err = multierr.Append(err, errors.Errorf("chains.%d: duplicate chain %q", i, ch.Name))
		}
		chains[ch.Name] = true
		if !skeleton[ch.EndEffector] {
			err = multierr.Append(err, errors.Errorf("chains.%d: unknown end effector %q", i, ch.EndEffector))
		}
		if _, cerr := ch.IK(); cerr != nil {
			err = multierr.Append(err, errors.Wrapf(cerr, "chains.%d", i))
		}
	}

	for i, g := range c.Goals {
		if !skeleton[g.Node] {
			err = multierr.Append(err, errors.Errorf("goals.%d: unknown node %q", i, g.Node))
		}
	}

	if len(c.Bindings) > 0 && c.Source == nil {
		err = multierr.Append(err, errors.New("bindings need a source skeleton"))
	}
	if c.Source != nil {
		err = multierr.Append(err, c.Source.Validate("source"))
		source := map[string]bool{}
		for _, j := range c.Source.Joints {
			source[j.Name] = true
		}
		for i, b := range c.Bindings {
			if !source[b.Source] {
				err = multierr.Append(err, errors.Errorf("bindings.%d: unknown source node %q", i, b.Source))
			}
			if !skeleton[b.Dest] {
				err = multierr.Append(err, errors.Errorf("bindings.%d: unknown destination node %q", i, b.Dest))
			}
		}
	}

	if c.Engine.Workers != nil && *c.Engine.Workers < 0 {
		err = multierr.Append(err, errors.Errorf("engine.workers must not be negative, got %d", *c.Engine.Workers))
	}
	if _, oerr := c.Engine.Options(); oerr != nil {
		err = multierr.Append(err, oerr)
	}
	return err
}
