package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/developer-mesh/agent-hub/pkg/models"
)

// labelCapabilities maps canonical label slugs onto the capability an
// agent needs to work the task. The mapping is fixed so guidance stays a
// pure function of its inputs.
var labelCapabilities = map[string]string{
	"bug":      "debugging",
	"fix":      "debugging",
	"feature":  "coding",
	"refactor": "coding",

	"frontend": "frontend",
	"ui":       "frontend",
	"backend":  "backend",
	"api":      "backend",
	"database": "database",
	"infra":    "devops",
	"security": "security",

	"docs": "documentation",
	"test": "testing",
}

// requiredCapabilities derives the sorted capability set a task's labels
// ask for. Labels without a mapping contribute nothing.
func requiredCapabilities(labels []string) []string {
	set := make(map[string]struct{}, len(labels))
	for _, slug := range labels {
		if cap, ok := labelCapabilities[slug]; ok {
			set[cap] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for cap := range set {
		out = append(out, cap)
	}
	sort.Strings(out)
	return out
}

// recommendAgent picks deterministically: an explicit assignee wins,
// otherwise the least-loaded available agent sharing a capability the
// task's labels require, ties broken by agent id.
func recommendAgent(task *models.Task, agents []*models.Agent) string {
	if len(task.Assignees) > 0 {
		names := append([]string(nil), task.Assignees...)
		sort.Strings(names)
		return names[0]
	}

	required := requiredCapabilities(task.Labels)
	if len(required) == 0 {
		return ""
	}

	var best *models.Agent
	for _, a := range agents {
		if a.Status != models.AgentStatusAvailable || a.AtCapacity() {
			continue
		}
		match := false
		for _, cap := range required {
			if a.HasCapability(cap) {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if best == nil || a.LoadFactor() < best.LoadFactor() ||
			(a.LoadFactor() == best.LoadFactor() && a.ID < best.ID) {
			best = a
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// checklists holds the remaining milestones per task state.
var checklists = map[models.TaskStatus][]string{
	models.TaskStatusTodo: {
		"Move the task to in_progress",
		"Work through subtasks and record progress",
		"Send the work to review or testing",
		"Complete with a summary of the changes",
	},
	models.TaskStatusInProgress: {
		"Finish the remaining subtasks",
		"Send the work to review or testing",
		"Complete with a summary of the changes",
	},
	models.TaskStatusReview: {
		"Address review findings",
		"Move to testing or complete with a summary",
	},
	models.TaskStatusTesting: {
		"Verify the testing notes cover what was exercised",
		"Complete with a summary of the changes",
	},
}

// buildChecklist returns the milestone list for the task's state.
func buildChecklist(task *models.Task) []string {
	steps := checklists[task.Status]
	if len(steps) == 0 {
		return nil
	}
	out := make([]string, len(steps))
	copy(out, steps)
	return out
}

// Summary renders the guidance as one advisory line for response meta.
func (g *WorkflowGuidance) Summary() string {
	if g == nil {
		return ""
	}
	var parts []string
	if g.RecommendedAgent != "" {
		parts = append(parts, "recommended agent: "+g.RecommendedAgent)
	}
	if len(g.Checklist) > 0 {
		parts = append(parts, "next: "+g.Checklist[0])
	}
	if n := len(g.Unblocks); n > 0 {
		parts = append(parts, fmt.Sprintf("completing this unblocks %d task(s)", n))
	}
	return strings.Join(parts, "; ")
}
