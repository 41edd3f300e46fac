package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event describes one finished node execution.
type Event struct {
	Node      string
	Step      int
	Duration  time.Duration
	Keys      []Key
	Recovered bool
	Err       error
}

// Observer is called once per node execution, after its step has joined, in
// the order the step's nodes were scheduled.
type Observer func(Event)

type runConfig struct {
	observer Observer
	timeout  time.Duration
}

// RunOption configures a single run.
type RunOption func(*runConfig)

// WithObserver reports every node execution to fn.
func WithObserver(fn Observer) RunOption {
	return func(rc *runConfig) {
		rc.observer = fn
	}
}

// WithRunTimeout bounds the whole run.
func WithRunTimeout(d time.Duration) RunOption {
	return func(rc *runConfig) {
		rc.timeout = d
	}
}

// Compiled is an immutable, runnable graph. It is safe for concurrent runs.
type Compiled struct {
	nodes map[string]*node
	edges map[string][]string
	conds map[string]conditional
	keys  map[Key]Strategy
}

type outcome struct {
	update    Update
	err       error
	recovered bool
	duration  time.Duration
}

// Run executes the graph from Start until no node is scheduled. It returns
// the last merged state, also on error.
func (c *Compiled) Run(ctx context.Context, initial State, opts ...RunOption) (State, error) {
	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	state := initial.Clone()
	visits := make(map[string]int)
	frontier, err := c.next([]string{Start}, state)
	if err != nil {
		return state, err
	}

	for step := 0; len(frontier) > 0; step++ {
		if err := ctx.Err(); err != nil {
			return state, eris.Wrap(err, "workflow: run cancelled")
		}
		for _, name := range frontier {
			n := c.nodes[name]
			visits[name]++
			if n.maxVisits > 0 && visits[name] > n.maxVisits {
				cause := n.exhausted
				if cause == nil {
					cause = eris.New("workflow: visit limit reached")
				}
				return state, eris.Wrapf(cause, "node %s scheduled more than %d times", name, n.maxVisits)
			}
		}

		outs := c.runStep(ctx, frontier, state)

		for i, name := range frontier {
			if rc.observer != nil {
				o := outs[i]
				rc.observer(Event{
					Node:      name,
					Step:      step,
					Duration:  o.duration,
					Keys:      o.update.sortedKeys(),
					Recovered: o.recovered,
					Err:       o.err,
				})
			}
		}
		for i, name := range frontier {
			if outs[i].err != nil {
				return state, &NodeError{Node: name, Step: step, Err: outs[i].err}
			}
		}
		if err := ctx.Err(); err != nil {
			return state, eris.Wrap(err, "workflow: run cancelled")
		}

		if err := c.apply(state, frontier, outs); err != nil {
			return state, err
		}

		frontier, err = c.next(frontier, state)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// runStep runs every node of the frontier concurrently on the same snapshot
// and waits for all of them.
func (c *Compiled) runStep(ctx context.Context, frontier []string, state State) []outcome {
	outs := make([]outcome, len(frontier))
	var g errgroup.Group
	for i, name := range frontier {
		n := c.nodes[name]
		snapshot := state.Clone()
		g.Go(func() error {
			outs[i] = n.invoke(ctx, snapshot)
			return nil
		})
	}
	_ = g.Wait()
	return outs
}

func (n *node) invoke(ctx context.Context, s State) (out outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: eris.Errorf("workflow: node %s panicked: %v", n.name, r)}
		}
		out.duration = time.Since(start)
	}()

	callCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	upd, err := n.fn(callCtx, s)
	if err != nil && n.timeout > 0 && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return outcome{err: eris.Wrapf(ErrNodeTimeout, "%s after %s: %v", n.name, n.timeout, err)}
	}
	if err != nil && n.recover != nil && ctx.Err() == nil {
		if rec, ok := n.recover(s, err); ok {
			zap.L().Debug("workflow: node error recovered",
				zap.String("node", n.name),
				zap.Error(err),
			)
			return outcome{update: rec, recovered: true}
		}
	}
	if err != nil {
		return outcome{err: err}
	}
	return outcome{update: upd}
}

// apply merges the step's updates into state after checking that no Replace
// key was written by two nodes.
func (c *Compiled) apply(state State, frontier []string, outs []outcome) error {
	writer := make(map[Key]string)
	for i, name := range frontier {
		for k := range outs[i].update {
			if c.keys[k] == Append {
				continue
			}
			if prev, ok := writer[k]; ok {
				return eris.Wrapf(ErrWriteConflict, "key %s written by %s and %s", k, prev, name)
			}
			writer[k] = name
		}
	}
	for i := range frontier {
		upd := outs[i].update
		for _, k := range upd.sortedKeys() {
			merge(state, k, upd[k], c.keys[k])
		}
	}
	return nil
}

// next computes the deduplicated set of nodes scheduled after from, in the
// order edges were declared. End is dropped.
func (c *Compiled) next(from []string, state State) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(to string) {
		if to == End || seen[to] {
			return
		}
		seen[to] = true
		out = append(out, to)
	}
	for _, name := range from {
		if cond, ok := c.conds[name]; ok {
			label := cond.router(state)
			to, ok := cond.routes[label]
			if !ok {
				return nil, eris.Wrapf(ErrUnknownRoute, "%q from %s", label, name)
			}
			add(to)
			continue
		}
		for _, to := range c.edges[name] {
			add(to)
		}
	}
	return out, nil
}
