package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/config"
	"go.viam.com/articulated/ik"
	"go.viam.com/articulated/logging"
	"go.viam.com/articulated/retarget"
	"go.viam.com/articulated/spatialmath"
)

const (
	flagConfig    = "config"
	flagDebug     = "debug"
	flagWorkers   = "workers"
	flagTimeout   = "timeout"
	flagDirect    = "direct"
	flagScaleNode = "scale-node"
)

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:     flagConfig,
		Aliases:  []string{"c"},
		Usage:    "load configuration from `FILE` (.json, .yaml or .yml)",
		Required: true,
	}
	workersFlag := &cli.IntFlag{
		Name:  flagWorkers,
		Usage: "number of solver workers, 0 solves on the main goroutine; overrides the config",
	}
	timeoutFlag := &cli.DurationFlag{
		Name:  flagTimeout,
		Usage: "give up solving after this long",
	}
	return &cli.App{
		Name:            "iksolve",
		Usage:           "solve inverse kinematics for articulated skeletons",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "inspect",
				Usage:  "print the skeleton of a config at rest",
				Flags:  []cli.Flag{configFlag},
				Action: inspectAction,
			},
			{
				Name:   "solve",
				Usage:  "solve the configured chains toward the configured goals",
				Flags:  []cli.Flag{configFlag, workersFlag, timeoutFlag},
				Action: solveAction,
			},
			{
				Name:  "retarget",
				Usage: "drive the skeleton from the configured source skeleton",
				Flags: []cli.Flag{
					configFlag, workersFlag, timeoutFlag,
					&cli.BoolFlag{
						Name:  flagDirect,
						Usage: "copy rotations directly instead of solving toward source positions",
					},
					&cli.StringFlag{
						Name:  flagScaleNode,
						Usage: "destination `NODE` whose height ratio scales source positions (default: first binding)",
					},
				},
				Action: retargetAction,
			},
		},
	}
}

// newLogger logs to the app's error writer so command output stays parseable.
func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewBlankLogger("iksolve")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.INFO)
	}
	return logger
}

func readConfig(c *cli.Context, logger logging.Logger) (*config.Config, *body.Body, error) {
	cfg, err := config.Read(c.String(flagConfig), logger)
	if err != nil {
		return nil, nil, err
	}
	b, err := cfg.Skeleton.BuildBody()
	if err != nil {
		return nil, nil, err
	}
	return cfg, b, nil
}

// newEngine builds an engine with every chain of cfg. Chains that fail to build are logged by
// the engine and skipped.
func newEngine(c *cli.Context, cfg *config.Config, b *body.Body, logger logging.Logger) (*ik.Engine, error) {
	opts, err := cfg.Engine.Options()
	if err != nil {
		return nil, err
	}
	if c.IsSet(flagWorkers) {
		opts.Workers = c.Int(flagWorkers)
	}
	e, err := ik.NewEngine(b, logger.Sublogger("engine"), opts)
	if err != nil {
		return nil, err
	}
	for _, ch := range cfg.Chains {
		ikc, err := ch.IK()
		if err != nil {
			e.Close()
			return nil, err
		}
		//nolint:errcheck
		e.AddChain(ikc)
	}
	return e, nil
}

func solveContext(c *cli.Context) (context.Context, context.CancelFunc) {
	if d := c.Duration(flagTimeout); d > 0 {
		return context.WithTimeout(c.Context, d)
	}
	return context.WithCancel(c.Context)
}

func solve(c *cli.Context, e *ik.Engine, logger logging.Logger) error {
	ctx, cancel := solveContext(c)
	defer cancel()
	start := time.Now()
	res, err := e.Solve(ctx)
	if err != nil {
		return err
	}
	logger.Debugw("solved", "groups", len(res.Groups), "solved", res.Solved(), "took", time.Since(start))
	fmt.Fprintln(c.App.Writer, resultTable(res))
	fmt.Fprintln(c.App.Writer, poseTable(e.Body(), res.Archive))
	return nil
}

func inspectAction(c *cli.Context) error {
	_, b, err := readConfig(c, newLogger(c))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, skeletonTable(b))
	return nil
}

func solveAction(c *cli.Context) error {
	logger := newLogger(c)
	cfg, b, err := readConfig(c, logger)
	if err != nil {
		return err
	}
	e, err := newEngine(c, cfg, b, logger)
	if err != nil {
		return err
	}
	defer e.Close()
	for _, g := range cfg.Goals {
		if _, err := e.SetGoal(g.Node, g.Transform()); err != nil {
			return err
		}
	}
	return solve(c, e, logger)
}

func retargetAction(c *cli.Context) error {
	logger := newLogger(c)
	cfg, b, err := readConfig(c, logger)
	if err != nil {
		return err
	}
	if cfg.Source == nil || len(cfg.Bindings) == 0 {
		return errors.New("retarget needs a source skeleton and bindings")
	}
	src, err := cfg.Source.BuildBody()
	if err != nil {
		return errors.Wrap(err, "source")
	}
	bindings := make([]retarget.Binding, 0, len(cfg.Bindings))
	for i := range cfg.Bindings {
		bindings = append(bindings, cfg.Bindings[i].Binding())
	}
	r, err := retarget.NewRetargeter(src, b, bindings, logger.Sublogger("retarget"))
	if err != nil {
		return err
	}

	e, err := newEngine(c, cfg, b, logger)
	if err != nil {
		return err
	}
	defer e.Close()
	var chains []*ik.Chain
	for _, name := range e.Chains() {
		if ch, ok := e.Chain(name); ok {
			chains = append(chains, ch)
		}
	}
	r.SetClamp(retarget.ChainClamp(chains...))

	if c.Bool(flagDirect) {
		r.SyncRotations()
		fmt.Fprintln(c.App.Writer, poseTable(b, b.Snapshot(b.Root())))
		return nil
	}

	node := c.String(flagScaleNode)
	if node == "" {
		node = cfg.Bindings[0].Dest
	}
	scale, err := r.HeightRatio(node)
	if err != nil {
		return err
	}
	changed := r.UpdateGoals(scale)
	logger.Debugw("retargeting goals", "bindings", r.Len(), "scale", scale, "changed", changed)
	return solve(c, e, logger)
}

func formatVector(x, y, z float64) string {
	return fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", x, y, z)
}

func formatRotation(q quat.Number) string {
	aa := spatialmath.QuatToR4AA(q)
	if aa.Theta == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f° about (%.2f, %.2f, %.2f)", spatialmath.RadToDeg(aa.Theta), aa.RX, aa.RY, aa.RZ)
}

func resultTable(res ik.EngineResult) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Wave", "Root", "Chains", "Outcome", "Iterations", "Distance"})
	for _, g := range res.Groups {
		t.AppendRow(table.Row{
			g.Wave,
			g.Root,
			strings.Join(g.Chains, ", "),
			g.Outcome.String(),
			g.Iterations,
			fmt.Sprintf("%.6f", g.Distance),
		})
	}
	return t.Render()
}

// poseTable lists the joints of an archive of the whole body next to the resulting world
// positions.
func poseTable(b *body.Body, archive body.Archive) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Node", "Joint", "World position"})
	for i, id := range b.Order() {
		rec := archive[i]
		q := quat.Number{Real: rec.Rotation[0], Imag: rec.Rotation[1], Jmag: rec.Rotation[2], Kmag: rec.Rotation[3]}
		p := b.WorldPosition(id)
		t.AppendRow(table.Row{i, b.Name(id), formatRotation(q), formatVector(p.X, p.Y, p.Z)})
	}
	return t.Render()
}

func skeletonTable(b *body.Body) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Name", "Parent", "Depth", "Rig", "Joint", "Rest translation"})
	for i, id := range b.Order() {
		parent := ""
		if p := b.Parent(id); p != body.NoNode {
			parent = b.Name(p)
		}
		rest := b.Rest(id).Translation
		t.AppendRow(table.Row{
			i, b.Name(id), parent, b.Depth(id), b.Rig(id).String(), b.JointKind(id).String(),
			formatVector(rest.X, rest.Y, rest.Z),
		})
	}
	return t.Render()
}
