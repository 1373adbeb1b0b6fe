package graph

import (
	"strings"

	"wireit/internal/diagnostics"
	"wireit/internal/manifest"
)

// checkAcyclic runs the analyzer's pass 2: a depth-first walk from root
// with a trail set (the current recursion stack), emitting a single cycle
// diagnostic the first time a node is re-entered on its own trail.
//
// This mirrors sourceplane-lite-ci's hasCycleDFS (visited/recStack maps)
// and the teacher's colored-DFS cycle witness reconstruction
// (internal/dag/validate.go), adapted to the contract's specific shape:
// "list each hop in source order" means the diagnostic's related positions
// are the dependency edges actually walked, in root-to-cycle order, rather
// than the teacher's index-order witness.
func checkAcyclic(root manifest.Reference, configs map[manifest.Reference]*manifest.Config, diags *diagnostics.List) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[manifest.Reference]int, len(configs))

	var trail []manifest.Reference
	var trailPos []diagnostics.Position
	var found error

	var dfs func(ref manifest.Reference) bool
	dfs = func(ref manifest.Reference) bool {
		color[ref] = gray
		trail = append(trail, ref)

		cfg := configs[ref]
		if cfg != nil {
			for _, dep := range cfg.Dependencies {
				switch color[dep.Reference] {
				case white:
					trailPos = append(trailPos, dep.Pos)
					if dfs(dep.Reference) {
						return true
					}
					trailPos = trailPos[:len(trailPos)-1]
				case gray:
					found = buildCycleDiagnostic(trail, dep.Reference, dep.Pos).WithRelated(trailPos...)
					return true
				case black:
					// already fully explored via another path, not part of this trail.
				}
			}
		}

		color[ref] = black
		trail = trail[:len(trail)-1]
		return false
	}

	dfs(root)
	if found != nil {
		diags.Add(found.(*diagnostics.Diagnostic))
		return found
	}
	return nil
}

func buildCycleDiagnostic(trail []manifest.Reference, backTo manifest.Reference, closingEdge diagnostics.Position) *diagnostics.Diagnostic {
	// trail currently holds the full path from root to the node whose edge
	// closes the cycle. Find where backTo first appears on the trail; the
	// cycle is that suffix plus the closing reference again.
	start := 0
	for i, r := range trail {
		if r == backTo {
			start = i
			break
		}
	}
	cycleRefs := append([]manifest.Reference{}, trail[start:]...)
	cycleRefs = append(cycleRefs, backTo)

	names := make([]string, 0, len(cycleRefs))
	for _, r := range cycleRefs {
		names = append(names, r.Name)
	}

	return diagnostics.New(diagnostics.KindCycle, closingEdge, "cycle: %s", strings.Join(names, " -> "))
}
