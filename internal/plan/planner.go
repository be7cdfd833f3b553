// Package plan turns a pipeline's dependsOn edges into ordered execution
// groups via Kahn topological layering.
package plan

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/agentpipe/agentpipe/internal/config"
)

// ExecutionGroup is one topological level: stages that are mutually
// independent once every earlier level has finished.
type ExecutionGroup struct {
	Level  int
	Stages []config.AgentStage
}

// ExecutionGraph is the ordered list of groups for a run.
type ExecutionGraph struct {
	Groups []ExecutionGroup
}

// MaxParallelism is the size of the widest group.
func (g *ExecutionGraph) MaxParallelism() int {
	max := 0
	for _, grp := range g.Groups {
		if len(grp.Stages) > max {
			max = len(grp.Stages)
		}
	}
	return max
}

// StageCount is the total number of planned stages.
func (g *ExecutionGraph) StageCount() int {
	n := 0
	for _, grp := range g.Groups {
		n += len(grp.Stages)
	}
	return n
}

// Result carries the plan plus any problems found while building it. When a
// cycle exists the plan is still returned, minus the cyclic component, so
// error reporting has a frame to work with.
type Result struct {
	Graph    *ExecutionGraph
	CycleErr error    // nil when the graph is acyclic
	Warnings []string // non-fatal findings
}

// Plan builds the execution graph for a pipeline's stages.
func Plan(stages []config.AgentStage) *Result {
	res := &Result{Graph: &ExecutionGraph{}}

	known := make(map[string]int, len(stages)) // name -> declaration index
	for i, s := range stages {
		known[s.Name] = i
	}

	// In-degree per stage, counting only known dependencies. Unknown
	// references are the validator's error; here they just draw a warning
	// and don't block layering.
	indegree := make(map[string]int, len(stages))
	dependents := make(map[string][]string) // dep -> stages waiting on it
	for _, s := range stages {
		indegree[s.Name] = 0
	}
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := known[dep]; !ok {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("stage %q depends on unknown stage %q", s.Name, dep))
				continue
			}
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	// A disabled prerequisite doesn't block its dependents, but their
	// conditions will see missing outputs. Flag it.
	for _, s := range stages {
		if !s.IsEnabled() {
			continue
		}
		for _, dep := range s.DependsOn {
			if i, ok := known[dep]; ok && !stages[i].IsEnabled() {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("enabled stage %q depends on disabled stage %q; it may never see its outputs", s.Name, dep))
			}
		}
	}

	placed := make(map[string]bool, len(stages))
	level := 0
	for len(placed) < len(stages) {
		// Ready set: everything unplaced with in-degree zero, in
		// declaration order for deterministic traces.
		ready := lo.Filter(stages, func(s config.AgentStage, _ int) bool {
			return !placed[s.Name] && indegree[s.Name] == 0
		})
		if len(ready) == 0 {
			// Whatever remains is a cyclic component.
			remaining := lo.FilterMap(stages, func(s config.AgentStage, _ int) (string, bool) {
				return s.Name, !placed[s.Name]
			})
			res.CycleErr = fmt.Errorf("dependency cycle among stages: %s", strings.Join(remaining, ", "))
			break
		}

		res.Graph.Groups = append(res.Graph.Groups, ExecutionGroup{Level: level, Stages: ready})
		for _, s := range ready {
			placed[s.Name] = true
			for _, dependent := range dependents[s.Name] {
				indegree[dependent]--
			}
		}
		level++
	}

	return res
}
