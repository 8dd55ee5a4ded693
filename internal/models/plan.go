package models

import (
	"fmt"
	"sort"
	"time"
)

// OPALPlan is a structured research plan produced by the backend planner.
type OPALPlan struct {
	GoalSummary          string     `json:"goal_summary"`
	Assumptions          []string   `json:"assumptions"`
	Steps                []PlanStep `json:"steps"`
	OpenQuestions        []string   `json:"open_questions"`
	RisksAndAlternatives []RiskItem `json:"risks_and_alternatives"`
	CreatedAt            *time.Time `json:"created_at,omitempty"`
}

// PlanStep is one step of a plan. Dependencies reference other StepIDs in
// the same plan.
type PlanStep struct {
	StepID              string     `json:"step_id"`
	Objective           string     `json:"objective"`
	RecommendedFacility string     `json:"recommended_facility"`
	CapabilityIDs       []string   `json:"capability_ids"`
	Inputs              []string   `json:"inputs"`
	Outputs             []string   `json:"outputs"`
	Constraints         []string   `json:"constraints"`
	Dependencies        []string   `json:"dependencies"`
	DecisionPoints      []string   `json:"decision_points"`
	Citations           []Citation `json:"citations"`
	IsHypothesis        bool       `json:"is_hypothesis"`
}

// Citation ties a plan step back to a source document chunk.
type Citation struct {
	SourceDocumentID string `json:"source_document_id"`
	ChunkID          string `json:"chunk_id,omitempty"`
	Quote            string `json:"quote"`
	SourceTitle      string `json:"source_title,omitempty"`
}

// RiskItem is a risk with its impact and an optional alternative.
type RiskItem struct {
	Risk        string `json:"risk"`
	Impact      string `json:"impact"`
	Alternative string `json:"alternative,omitempty"`
}

// PlanWarning describes a structural problem found in a plan. Warnings are
// informational; the plan is still rendered.
type PlanWarning struct {
	StepID  string `json:"step_id,omitempty"`
	Message string `json:"message"`
}

func (w PlanWarning) String() string {
	if w.StepID == "" {
		return w.Message
	}
	return fmt.Sprintf("step %s: %s", w.StepID, w.Message)
}

// ValidatePlan checks step identifiers and the dependency graph: missing or
// duplicate step IDs, dangling or self references, and cycles.
func ValidatePlan(plan *OPALPlan) []PlanWarning {
	if plan == nil {
		return nil
	}
	var warnings []PlanWarning

	ids := make(map[string]int, len(plan.Steps))
	for i, s := range plan.Steps {
		if s.StepID == "" {
			warnings = append(warnings, PlanWarning{Message: fmt.Sprintf("step %d has no step_id", i+1)})
			continue
		}
		ids[s.StepID]++
	}
	dupes := make([]string, 0)
	for id, n := range ids {
		if n > 1 {
			dupes = append(dupes, id)
		}
	}
	sort.Strings(dupes)
	for _, id := range dupes {
		warnings = append(warnings, PlanWarning{StepID: id, Message: "duplicate step_id"})
	}

	graph := make(map[string][]string, len(plan.Steps))
	for _, s := range plan.Steps {
		if s.StepID == "" {
			continue
		}
		for _, dep := range s.Dependencies {
			switch {
			case dep == s.StepID:
				warnings = append(warnings, PlanWarning{StepID: s.StepID, Message: "depends on itself"})
			case ids[dep] == 0:
				warnings = append(warnings, PlanWarning{StepID: s.StepID, Message: fmt.Sprintf("depends on unknown step %q", dep)})
			default:
				graph[s.StepID] = append(graph[s.StepID], dep)
			}
		}
	}

	if cycle := findCycle(plan.Steps, graph); cycle != "" {
		warnings = append(warnings, PlanWarning{StepID: cycle, Message: "dependency cycle"})
	}
	return warnings
}

// findCycle returns a step on a dependency cycle, or "" if the graph is acyclic.
func findCycle(steps []PlanStep, graph map[string][]string) string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(graph))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range graph[id] {
			if c := visit(dep); c != "" {
				return c
			}
		}
		state[id] = done
		return ""
	}

	for _, s := range steps {
		if s.StepID == "" {
			continue
		}
		if c := visit(s.StepID); c != "" {
			return c
		}
	}
	return ""
}
