// Package workflow runs a directed graph of nodes over a shared state in
// bulk-synchronous steps, and wires the table classification graph on top.
package workflow

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Reserved node names marking the entry and exit of a graph.
const (
	Start = "__start__"
	End   = "__end__"
)

// NodeFunc computes a node's update from a state snapshot.
type NodeFunc func(ctx context.Context, s State) (Update, error)

// Router picks a route label from the state after its node has run.
type Router func(s State) string

// RecoverFunc turns a node error into an update. It returns false when the
// error should fail the run.
type RecoverFunc func(s State, err error) (Update, bool)

type node struct {
	name      string
	fn        NodeFunc
	timeout   time.Duration
	recover   RecoverFunc
	maxVisits int
	exhausted error
}

// NodeOption configures a node.
type NodeOption func(*node)

// WithTimeout bounds each invocation of the node. A timed-out call fails the
// run with ErrNodeTimeout; it is not retried.
func WithTimeout(d time.Duration) NodeOption {
	return func(n *node) {
		n.timeout = d
	}
}

// WithRecover converts selected node errors into an update.
func WithRecover(fn RecoverFunc) NodeOption {
	return func(n *node) {
		n.recover = fn
	}
}

type conditional struct {
	router Router
	routes map[string]string
}

// Graph is a mutable graph definition. Errors are collected and reported by
// Compile.
type Graph struct {
	nodes map[string]*node
	order []string
	edges map[string][]string
	conds map[string]conditional
	keys  map[Key]Strategy
	errs  []error
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
		edges: make(map[string][]string),
		conds: make(map[string]conditional),
		keys:  make(map[Key]Strategy),
	}
}

// AddNode registers a node.
func (g *Graph) AddNode(name string, fn NodeFunc, opts ...NodeOption) *Graph {
	switch {
	case name == "" || name == Start || name == End:
		g.errs = append(g.errs, eris.Errorf("workflow: invalid node name %q", name))
		return g
	case fn == nil:
		g.errs = append(g.errs, eris.Errorf("workflow: node %s has no function", name))
		return g
	}
	if _, dup := g.nodes[name]; dup {
		g.errs = append(g.errs, eris.Errorf("workflow: duplicate node %s", name))
		return g
	}
	n := &node{name: name, fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	g.nodes[name] = n
	g.order = append(g.order, name)
	return g
}

// AddEdge adds an unconditional edge. Several edges out of one node fan out;
// several edges into one node join, since a step waits for all its nodes.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdges routes out of from by the label router returns.
func (g *Graph) AddConditionalEdges(from string, router Router, routes map[string]string) *Graph {
	if _, dup := g.conds[from]; dup {
		g.errs = append(g.errs, eris.Errorf("workflow: node %s already has conditional edges", from))
		return g
	}
	g.conds[from] = conditional{router: router, routes: routes}
	return g
}

// SetMaxVisits limits how often a node may be scheduled in one run. The run
// fails with err (wrapped) when the node would be scheduled once more.
func (g *Graph) SetMaxVisits(name string, n int, err error) *Graph {
	nd, ok := g.nodes[name]
	if !ok {
		g.errs = append(g.errs, eris.Errorf("workflow: max visits on unknown node %s", name))
		return g
	}
	nd.maxVisits = n
	nd.exhausted = err
	return g
}

// Keys declares merge strategies. Undeclared keys use Replace.
func (g *Graph) Keys(strategies map[Key]Strategy) *Graph {
	for k, s := range strategies {
		g.keys[k] = s
	}
	return g
}

// Compile validates the topology and freezes the graph.
func (g *Graph) Compile() (*Compiled, error) {
	if len(g.errs) > 0 {
		return nil, g.errs[0]
	}
	if len(g.edges[Start]) == 0 {
		return nil, eris.New("workflow: no edge out of start")
	}
	if _, ok := g.conds[Start]; ok {
		return nil, eris.New("workflow: start cannot route conditionally")
	}

	known := func(name string) bool {
		_, ok := g.nodes[name]
		return ok || name == End
	}
	for from, tos := range g.edges {
		if from == End || (from != Start && !known(from)) {
			return nil, eris.Errorf("workflow: edge from unknown node %s", from)
		}
		for _, to := range tos {
			if !known(to) {
				return nil, eris.Errorf("workflow: edge %s -> unknown node %s", from, to)
			}
		}
	}
	for from, c := range g.conds {
		if _, ok := g.nodes[from]; !ok {
			return nil, eris.Errorf("workflow: conditional edges from unknown node %s", from)
		}
		if c.router == nil || len(c.routes) == 0 {
			return nil, eris.Errorf("workflow: conditional edges from %s need a router and routes", from)
		}
		if len(g.edges[from]) > 0 {
			return nil, eris.Errorf("workflow: node %s has both static and conditional edges", from)
		}
		for label, to := range c.routes {
			if !known(to) {
				return nil, eris.Errorf("workflow: route %s from %s to unknown node %s", label, from, to)
			}
		}
	}
	for _, name := range g.order {
		if len(g.edges[name]) == 0 {
			if _, ok := g.conds[name]; !ok {
				return nil, eris.Errorf("workflow: node %s has no outgoing edge", name)
			}
		}
	}

	reached := map[string]bool{Start: true}
	queue := []string{Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := g.edges[cur]
		if c, ok := g.conds[cur]; ok {
			for _, to := range c.routes {
				next = append(next, to)
			}
		}
		for _, to := range next {
			if !reached[to] {
				reached[to] = true
				queue = append(queue, to)
			}
		}
	}
	for _, name := range g.order {
		if !reached[name] {
			return nil, eris.Errorf("workflow: node %s is unreachable", name)
		}
	}

	c := &Compiled{
		nodes: make(map[string]*node, len(g.nodes)),
		edges: make(map[string][]string, len(g.edges)),
		conds: make(map[string]conditional, len(g.conds)),
		keys:  make(map[Key]Strategy, len(g.keys)),
	}
	for k, v := range g.nodes {
		cp := *v
		c.nodes[k] = &cp
	}
	for k, v := range g.edges {
		c.edges[k] = append([]string(nil), v...)
	}
	for k, v := range g.conds {
		c.conds[k] = v
	}
	for k, v := range g.keys {
		c.keys[k] = v
	}
	return c, nil
}
