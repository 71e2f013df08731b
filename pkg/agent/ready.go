package agent

import "github.com/quantfold/perpd/pkg/models"

// ReadySteps returns all pending steps whose dependencies are complete, in
// declaration order.
func ReadySteps(plan *models.Plan) []*models.PlanStep {
	var ready []*models.PlanStep
	for _, s := range plan.Steps {
		if s.Status != models.StepStatusPending {
			continue
		}
		if depsComplete(plan, s) {
			ready = append(ready, s)
		}
	}
	return ready
}

func depsComplete(plan *models.Plan, s *models.PlanStep) bool {
	for _, dep := range s.DependsOn {
		d := plan.Step(dep)
		if d == nil || d.Status != models.StepStatusComplete {
			return false
		}
	}
	return true
}

// HasCycle reports whether the dependency graph contains a cycle or an edge
// to a nonexistent step. Such plans stall: the affected steps never become
// ready, and the run ends via the iteration cap or an empty ready set.
func HasCycle(plan *models.Plan) bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(plan.Steps))

	var visit func(id string) bool
	visit = func(id string) bool {
		s := plan.Step(id)
		if s == nil {
			return true
		}
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, dep := range s.DependsOn {
			if visit(dep) {
				return true
			}
		}
		state[id] = done
		return false
	}

	for _, s := range plan.Steps {
		if visit(s.ID) {
			return true
		}
	}
	return false
}
