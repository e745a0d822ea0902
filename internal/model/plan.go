package model

type ProjectStatus string

type TaskType string

const (
	ProjectStatusNew      ProjectStatus = "new"
	ProjectStatusExisting ProjectStatus = "existing"
)

const (
	TaskTypeSimple    TaskType = "simple"
	TaskTypeMultiStep TaskType = "multi_step"
)

// Classification is the planner's first verdict on a task.
type Classification struct {
	ProjectStatus ProjectStatus `json:"project_status"`
	TaskType      TaskType      `json:"task_type"`
	Title         string        `json:"concise_task_title"`
}

// Normalize fills unknown values with existing/multi_step.
func (c Classification) Normalize() Classification {
	if c.ProjectStatus != ProjectStatusNew {
		c.ProjectStatus = ProjectStatusExisting
	}
	if c.TaskType != TaskTypeSimple {
		c.TaskType = TaskTypeMultiStep
	}
	return c
}

func (c Classification) NeedsResearch() bool {
	return c.ProjectStatus == ProjectStatusExisting && c.TaskType == TaskTypeMultiStep
}

func (c Classification) NeedsPlan() bool {
	return c.TaskType == TaskTypeMultiStep
}

type TaskPlanStep struct {
	Title         string   `json:"step_title"`
	Description   string   `json:"step_detailed_description"`
	Discussion    string   `json:"discussion,omitempty"`
	FilesToModify []string `json:"files_to_modify,omitempty"`
	Completed     bool     `json:"completed"`
}

// TaskContext is the merged output of the research items.
type TaskContext struct {
	Results  map[string]any `json:"results"`
	Rendered string         `json:"rendered"`
}
