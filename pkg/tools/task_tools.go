package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/agent-hub/pkg/auth"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
	"github.com/developer-mesh/agent-hub/pkg/services"
)

// TaskTools is the manage_task manager. action=next runs read-only under
// a tighter deadline than the rest of the surface.
type TaskTools struct {
	tasks       services.TaskService
	scheduler   services.SchedulerService
	nextTimeout time.Duration
}

// NewTaskTools wires the task manager. nextTimeout bounds action=next;
// zero falls back to the dispatcher's call timeout.
func NewTaskTools(tasks services.TaskService, scheduler services.SchedulerService, nextTimeout time.Duration) *TaskTools {
	return &TaskTools{tasks: tasks, scheduler: scheduler, nextTimeout: nextTimeout}
}

// Manager implements Provider.
func (t *TaskTools) Manager() Manager {
	priorities := []string{"low", "medium", "high", "urgent", "critical"}
	statuses := []string{"todo", "in_progress", "review", "testing", "done", "blocked", "cancelled", "archived"}
	return Manager{
		Name:        "manage_task",
		Description: "Task lifecycle, dependency graph, and next-task selection",
		Actions: []Action{
			{
				Name:        "create",
				Description: "Create a task in a branch",
				Mutating:    true,
				Required:    []string{"branch_id", "title"},
				Params: map[string]interface{}{
					"branch_id":        pUUID("owning branch"),
					"title":            pString("task title"),
					"description":      pString("short description"),
					"details":          pString("implementation details"),
					"priority":         pEnum("task priority", priorities...),
					"estimated_effort": pString("free-form effort estimate"),
					"due_date":         pTime("due date"),
					"assignees":        pStringArray("agent ids to assign"),
					"labels":           pStringArray("labels; canonicalized to slugs"),
					"dependencies":     pUUIDArray("tasks this one depends on"),
				},
				Handler: t.create,
			},
			{
				Name:        "list",
				Description: "List tasks with filters",
				Params: map[string]interface{}{
					"branch_id":  pUUID("filter by branch"),
					"project_id": pUUID("filter by project"),
					"status":     pEnum("filter by status", statuses...),
					"priority":   pEnum("filter by priority", priorities...),
					"assignee":   pString("filter by assignee"),
					"label":      pString("filter by label slug"),
					"overdue":    pBool("only tasks past their due date"),
					"due_before": pTime("due before"),
					"due_after":  pTime("due after"),
					"limit":      pInt("page size"),
					"offset":     pInt("page offset"),
				},
				Handler: t.list,
			},
			{
				Name:        "get",
				Description: "Fetch one task with labels, dependencies, and subtasks",
				Required:    []string{"task_id"},
				Params: map[string]interface{}{
					"task_id": pUUID("task id"),
				},
				Handler: t.get,
			},
			{
				Name:        "update",
				Description: "Patch task fields, assignees, labels, or dependencies",
				Mutating:    true,
				Required:    []string{"task_id"},
				Params: map[string]interface{}{
					"task_id":          pUUID("task id"),
					"title":            pString("new title"),
					"description":      pString("new description"),
					"details":          pString("new details"),
					"status":           pEnum("new status", statuses...),
					"priority":         pEnum("new priority", priorities...),
					"estimated_effort": pString("new effort estimate"),
					"due_date":         pTime("new due date"),
					"clear_due_date":   pBool("remove the due date"),
					"assignees":        pStringArray("replacement assignee set"),
					"labels":           pStringArray("replacement label set"),
					"dependencies":     pUUIDArray("replacement dependency set"),
				},
				Handler: t.update,
			},
			{
				Name:        "next",
				Description: "Pick the highest-priority ready task for a branch",
				Required:    []string{"branch_id"},
				Params: map[string]interface{}{
					"branch_id":        pUUID("branch to schedule from"),
					"requesting_agent": pString("agent asking for work"),
					"include_context":  pBool("attach the task's resolved context"),
				},
				Handler:  t.next,
				Deadline: t.nextTimeout,
			},
			{
				Name:        "complete",
				Description: "Complete a task; requires a summary and open gates",
				Mutating:    true,
				Required:    []string{"task_id", "completion_summary"},
				Params: map[string]interface{}{
					"task_id":            pUUID("task id"),
					"completion_summary": pString("what was done"),
					"testing_notes":      pString("how it was verified"),
					"force":              pBool("complete even with open subtasks"),
					"completed_by":       pString("agent completing the task"),
				},
				Handler: t.complete,
			},
			{
				Name:        "search",
				Description: "Search tasks by title and description",
				Required:    []string{"query"},
				Params: map[string]interface{}{
					"query":      pString("case-insensitive match on title and description"),
					"project_id": pUUID("restrict to a project"),
					"branch_id":  pUUID("restrict to a branch"),
					"label":      pString("filter by label slug"),
					"assignee":   pString("filter by assignee"),
					"limit":      pInt("page size"),
				},
				Handler: t.search,
			},
			{
				Name:        "add_dependency",
				Description: "Add a dependency edge; cycles are rejected",
				Mutating:    true,
				Required:    []string{"task_id", "depends_on_task_id"},
				Params: map[string]interface{}{
					"task_id":            pUUID("dependent task"),
					"depends_on_task_id": pUUID("task it depends on"),
					"dependency_type":    pEnum("edge type", "blocks", "related"),
				},
				Handler: t.addDependency,
			},
			{
				Name:        "remove_dependency",
				Description: "Remove a dependency edge",
				Mutating:    true,
				Required:    []string{"task_id", "depends_on_task_id"},
				Params: map[string]interface{}{
					"task_id":            pUUID("dependent task"),
					"depends_on_task_id": pUUID("task it depends on"),
				},
				Handler: t.removeDependency,
			},
		},
	}
}

func (t *TaskTools) create(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		BranchID        string   `json:"branch_id"`
		Title           string   `json:"title"`
		Description     string   `json:"description"`
		Details         string   `json:"details"`
		Priority        string   `json:"priority"`
		EstimatedEffort string   `json:"estimated_effort"`
		DueDate         string   `json:"due_date"`
		Assignees       []string `json:"assignees"`
		Labels          []string `json:"labels"`
		Dependencies    []string `json:"dependencies"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	branchID, err := parseUUID("branch_id", in.BranchID)
	if err != nil {
		return nil, err
	}
	dueDate, err := parseOptionalTime("due_date", in.DueDate)
	if err != nil {
		return nil, err
	}
	deps, err := parseUUIDList("dependencies", in.Dependencies)
	if err != nil {
		return nil, err
	}
	task, err := t.tasks.Create(ctx, services.CreateTaskInput{
		BranchID:        branchID,
		Title:           in.Title,
		Description:     in.Description,
		Details:         in.Details,
		Priority:        models.Priority(in.Priority),
		EstimatedEffort: in.EstimatedEffort,
		DueDate:         dueDate,
		Assignees:       in.Assignees,
		Labels:          in.Labels,
		Dependencies:    deps,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: task}, nil
}

func (t *TaskTools) list(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		BranchID  string `json:"branch_id"`
		ProjectID string `json:"project_id"`
		Status    string `json:"status"`
		Priority  string `json:"priority"`
		Assignee  string `json:"assignee"`
		Label     string `json:"label"`
		Overdue   bool   `json:"overdue"`
		DueBefore string `json:"due_before"`
		DueAfter  string `json:"due_after"`
		Limit     int    `json:"limit"`
		Offset    int    `json:"offset"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	filter, err := t.buildFilter(in.BranchID, in.ProjectID, in.DueBefore, in.DueAfter)
	if err != nil {
		return nil, err
	}
	filter.Status = models.TaskStatus(in.Status)
	filter.Priority = models.Priority(in.Priority)
	filter.Assignee = in.Assignee
	filter.Label = in.Label
	filter.Overdue = in.Overdue
	filter.Limit = in.Limit
	filter.Offset = in.Offset

	tasks, err := t.tasks.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"tasks": tasks, "count": len(tasks)}}, nil
}

func (t *TaskTools) buildFilter(branchID, projectID, dueBefore, dueAfter string) (repository.TaskFilter, error) {
	var filter repository.TaskFilter
	bid, err := parseOptionalUUID("branch_id", branchID)
	if err != nil {
		return filter, err
	}
	pid, err := parseOptionalUUID("project_id", projectID)
	if err != nil {
		return filter, err
	}
	before, err := parseOptionalTime("due_before", dueBefore)
	if err != nil {
		return filter, err
	}
	after, err := parseOptionalTime("due_after", dueAfter)
	if err != nil {
		return filter, err
	}
	filter.BranchID = bid
	filter.ProjectID = pid
	filter.DueBefore = before
	filter.DueAfter = after
	return filter, nil
}

func (t *TaskTools) get(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		TaskID string `json:"task_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("task_id", in.TaskID)
	if err != nil {
		return nil, err
	}
	task, err := t.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Data: task}, nil
}

func (t *TaskTools) update(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		TaskID          string   `json:"task_id"`
		Title           *string  `json:"title"`
		Description     *string  `json:"description"`
		Details         *string  `json:"details"`
		Status          *string  `json:"status"`
		Priority        *string  `json:"priority"`
		EstimatedEffort *string  `json:"estimated_effort"`
		DueDate         string   `json:"due_date"`
		ClearDueDate    bool     `json:"clear_due_date"`
		Assignees       []string `json:"assignees"`
		Labels          []string `json:"labels"`
		Dependencies    []string `json:"dependencies"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("task_id", in.TaskID)
	if err != nil {
		return nil, err
	}
	dueDate, err := parseOptionalTime("due_date", in.DueDate)
	if err != nil {
		return nil, err
	}
	patch := services.UpdateTaskInput{
		Title:           in.Title,
		Description:     in.Description,
		Details:         in.Details,
		EstimatedEffort: in.EstimatedEffort,
		DueDate:         dueDate,
		ClearDueDate:    in.ClearDueDate,
		Assignees:       in.Assignees,
		Labels:          in.Labels,
	}
	if in.Status != nil {
		s := models.TaskStatus(*in.Status)
		patch.Status = &s
	}
	if in.Priority != nil {
		p := models.Priority(*in.Priority)
		patch.Priority = &p
	}
	if in.Dependencies != nil {
		deps, err := parseUUIDList("dependencies", in.Dependencies)
		if err != nil {
			return nil, err
		}
		if deps == nil {
			deps = []uuid.UUID{}
		}
		patch.Dependencies = deps
	}
	task, err := t.tasks.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return &Result{Data: task}, nil
}

func (t *TaskTools) next(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		BranchID        string `json:"branch_id"`
		RequestingAgent string `json:"requesting_agent"`
		IncludeContext  bool   `json:"include_context"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	branchID, err := parseUUID("branch_id", in.BranchID)
	if err != nil {
		return nil, err
	}
	if in.RequestingAgent == "" {
		in.RequestingAgent = auth.AgentID(ctx)
	}
	result, err := t.scheduler.NextTask(ctx, services.NextTaskInput{
		BranchID:        branchID,
		RequestingAgent: in.RequestingAgent,
		IncludeContext:  in.IncludeContext,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: result, Guidance: result.Guidance.Summary()}, nil
}

func (t *TaskTools) complete(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		TaskID            string `json:"task_id"`
		CompletionSummary string `json:"completion_summary"`
		TestingNotes      string `json:"testing_notes"`
		Force             bool   `json:"force"`
		CompletedBy       string `json:"completed_by"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("task_id", in.TaskID)
	if err != nil {
		return nil, err
	}
	task, err := t.tasks.Complete(ctx, id, services.CompleteTaskInput{
		Summary:      in.CompletionSummary,
		TestingNotes: in.TestingNotes,
		Force:        in.Force,
		CompletedBy:  in.CompletedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: task}, nil
}

func (t *TaskTools) search(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Query     string `json:"query"`
		ProjectID string `json:"project_id"`
		BranchID  string `json:"branch_id"`
		Label     string `json:"label"`
		Assignee  string `json:"assignee"`
		Limit     int    `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	filter, err := t.buildFilter(in.BranchID, in.ProjectID, "", "")
	if err != nil {
		return nil, err
	}
	filter.Query = in.Query
	filter.Label = in.Label
	filter.Assignee = in.Assignee
	filter.Limit = in.Limit

	tasks, err := t.tasks.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"tasks": tasks, "count": len(tasks)}}, nil
}

func (t *TaskTools) addDependency(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		TaskID          string `json:"task_id"`
		DependsOnTaskID string `json:"depends_on_task_id"`
		DependencyType  string `json:"dependency_type"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	taskID, err := parseUUID("task_id", in.TaskID)
	if err != nil {
		return nil, err
	}
	dependsOn, err := parseUUID("depends_on_task_id", in.DependsOnTaskID)
	if err != nil {
		return nil, err
	}
	depType := models.DependencyType(in.DependencyType)
	if depType == "" {
		depType = models.DependencyBlocks
	}
	if err := t.tasks.AddDependency(ctx, taskID, dependsOn, depType); err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{
		"task_id":            taskID,
		"depends_on_task_id": dependsOn,
		"dependency_type":    depType,
	}}, nil
}

func (t *TaskTools) removeDependency(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		TaskID          string `json:"task_id"`
		DependsOnTaskID string `json:"depends_on_task_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	taskID, err := parseUUID("task_id", in.TaskID)
	if err != nil {
		return nil, err
	}
	dependsOn, err := parseUUID("depends_on_task_id", in.DependsOnTaskID)
	if err != nil {
		return nil, err
	}
	if err := t.tasks.RemoveDependency(ctx, taskID, dependsOn); err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"removed": true}}, nil
}
