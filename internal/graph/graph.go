// Package graph implements the analyzer: resolving a root script reference
// to a validated build graph by transitively reading manifests.
package graph

import (
	"sort"

	"wireit/internal/diagnostics"
	"wireit/internal/manifest"
)

// Node is one script's position in the resolved, validated graph: its
// config (dependencies already resolved to absolute references and sorted)
// plus its canonical index and topological depth.
type Node struct {
	Config *manifest.Config

	canonicalIndex int
	depth          int
}

func (n *Node) Reference() manifest.Reference { return n.Config.Reference }

// Depth is the longest-path distance from any root (dependency-free) node,
// used by the executor/worker pool to schedule dependency-first in stages.
func (n *Node) Depth() int { return n.depth }

// Graph is an immutable, validated, cycle-free view rooted at one script.
//
// It mirrors the teacher's TaskGraph shape (canonical node order, adjacency
// by canonical index, precomputed depth) generalized from a flat task list
// to the cascading, cross-package dependency graph this engine's analyzer
// produces.
type Graph struct {
	Root manifest.Reference

	byRef map[manifest.Reference]*Node
	order []*Node // canonical order: sorted by Reference.String().

	outgoing [][]manifest.Reference // by canonical index; resolved, sorted deps.
}

func (g *Graph) Node(ref manifest.Reference) (*Node, bool) {
	n, ok := g.byRef[ref]
	return n, ok
}

func (g *Graph) RootNode() *Node {
	return g.byRef[g.Root]
}

// Nodes returns all nodes in canonical (reference-string) order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns the resolved, cascade-flag-preserving dependency
// list for ref, in the sorted order established by analysis.
func (g *Graph) Dependencies(ref manifest.Reference) []manifest.Dependency {
	n, ok := g.byRef[ref]
	if !ok {
		return nil
	}
	return n.Config.Dependencies
}

func newGraphFromArena(root manifest.Reference, configs map[manifest.Reference]*manifest.Config) *Graph {
	order := make([]*Node, 0, len(configs))
	byRef := make(map[manifest.Reference]*Node, len(configs))
	for ref, cfg := range configs {
		n := &Node{Config: cfg}
		byRef[ref] = n
		order = append(order, n)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].Config.Reference.String() < order[j].Config.Reference.String()
	})
	for i, n := range order {
		n.canonicalIndex = i
	}

	g := &Graph{Root: root, byRef: byRef, order: order}
	g.outgoing = make([][]manifest.Reference, len(order))
	for i, n := range order {
		refs := make([]manifest.Reference, 0, len(n.Config.Dependencies))
		for _, d := range n.Config.Dependencies {
			refs = append(refs, d.Reference)
		}
		g.outgoing[i] = refs
	}
	g.computeDepths()
	return g
}

func (g *Graph) computeDepths() {
	// Longest path from any root; safe because cycles are rejected before
	// this is called.
	memo := make([]int, len(g.order))
	visiting := make([]bool, len(g.order))

	var depthOf func(i int) int
	depthOf = func(i int) int {
		if memo[i] != 0 || len(g.outgoing[i]) == 0 {
			return memo[i]
		}
		if visiting[i] {
			return 0 // guarded by prior cycle check; never hit in practice.
		}
		visiting[i] = true
		max := 0
		for _, depRef := range g.outgoing[i] {
			depNode, ok := g.byRef[depRef]
			if !ok {
				continue
			}
			d := depthOf(depNode.canonicalIndex) + 1
			if d > max {
				max = d
			}
		}
		visiting[i] = false
		memo[i] = max
		return max
	}

	for i, n := range g.order {
		n.depth = depthOf(i)
	}
}

// Analyze runs both analyzer passes for rootScriptName within rootDir and
// returns the validated Graph, or diagnostics describing why analysis
// failed. A successful analysis may still carry warnings; callers that care
// about warnings should inspect the returned List even on success.
func Analyze(reader *manifest.Reader, rootDir, rootScriptName string) (*Graph, *diagnostics.List, error) {
	diags := &diagnostics.List{}

	configs, err := walkPlaceholders(reader, rootDir, rootScriptName, diags)
	if err != nil {
		return nil, diags, err
	}
	if diags.HasErrors() {
		return nil, diags, diags.Err()
	}

	root := manifest.Reference{PackageDir: rootDir, Name: rootScriptName}
	if err := checkAcyclic(root, configs, diags); err != nil {
		return nil, diags, err
	}

	sortDependencies(configs)

	return newGraphFromArena(root, configs), diags, nil
}

func sortDependencies(configs map[manifest.Reference]*manifest.Config) {
	for _, cfg := range configs {
		sort.Slice(cfg.Dependencies, func(i, j int) bool {
			a, b := cfg.Dependencies[i].Reference, cfg.Dependencies[j].Reference
			if a.PackageDir != b.PackageDir {
				return a.PackageDir < b.PackageDir
			}
			return a.Name < b.Name
		})
	}
}
