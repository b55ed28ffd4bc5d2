package tools

import (
	"net/url"

	"github.com/providentiaww/track-mcp/internal/taskapi"
)

var taskStatuses = []string{"todo", "in_progress", "done"}

func taskTools() []Tool {
	return []Tool{
		define[listTasksArgs]("list_tasks", "List the user's tasks, optionally filtered by project or status",
			taskapi.OpListTasks, true,
			Param{Name: "project_id", Schema: text("Only tasks in this project", 0, 0)},
			Param{Name: "status", Schema: oneOf("Only tasks with this status", taskStatuses)},
			limitParam(),
			offsetParam(),
		),
		define[taskIDArgs]("get_task", "Get a task by ID",
			taskapi.OpGetTask, true,
			idParam("task_id", "Task"),
		),
		define[createTaskArgs]("create_task", "Create a task",
			taskapi.OpCreateTask, false,
			Param{Name: "title", Required: true, Schema: text("Task title", 1, 500)},
			Param{Name: "description", Schema: text("Longer description", 0, 0)},
			Param{Name: "status", Schema: withDefault(oneOf("Initial status", taskStatuses), "todo")},
			Param{Name: "priority", Schema: integer("Priority from 1 (highest) to 5", 1, 5)},
			Param{Name: "due_date", Schema: dateTime("Due date as RFC 3339 date-time")},
			Param{Name: "project_id", Schema: text("Project to file the task under", 0, 0)},
		),
		define[updateTaskArgs]("update_task", "Update fields of a task",
			taskapi.OpUpdateTask, false,
			idParam("task_id", "Task"),
			Param{Name: "title", Schema: text("New title", 1, 500)},
			Param{Name: "description", Schema: text("New description", 0, 0)},
			Param{Name: "status", Schema: oneOf("New status", taskStatuses)},
			Param{Name: "priority", Schema: integer("New priority from 1 to 5", 1, 5)},
			Param{Name: "due_date", Schema: dateTime("New due date as RFC 3339 date-time")},
			Param{Name: "project_id", Schema: text("Move the task to this project", 0, 0)},
		),
		define[taskIDArgs]("complete_task", "Mark a task as done",
			taskapi.OpCompleteTask, false,
			idParam("task_id", "Task"),
		),
		define[taskIDArgs]("delete_task", "Delete a task permanently",
			taskapi.OpDeleteTask, false,
			idParam("task_id", "Task"),
		),
	}
}

type listTasksArgs struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

func (a listTasksArgs) request() (taskapi.Request, error) {
	q := url.Values{}
	setQuery(q, "project_id", a.ProjectID)
	setQuery(q, "status", a.Status)
	paginate(q, a.Limit, a.Offset)
	return taskapi.Request{Query: q}, nil
}

type taskIDArgs struct {
	TaskID string `json:"task_id"`
}

func (a taskIDArgs) request() (taskapi.Request, error) {
	return taskapi.Request{ResourceID: a.TaskID}, nil
}

type createTaskArgs struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
	Priority    *int    `json:"priority"`
	DueDate     *string `json:"due_date"`
	ProjectID   *string `json:"project_id"`
}

func (a createTaskArgs) request() (taskapi.Request, error) {
	body := map[string]any{"title": a.Title, "status": a.Status}
	put(body, "description", a.Description)
	put(body, "priority", a.Priority)
	put(body, "due_date", a.DueDate)
	put(body, "project_id", a.ProjectID)
	return taskapi.Request{Body: body}, nil
}

type updateTaskArgs struct {
	TaskID      string  `json:"task_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *int    `json:"priority"`
	DueDate     *string `json:"due_date"`
	ProjectID   *string `json:"project_id"`
}

func (a updateTaskArgs) request() (taskapi.Request, error) {
	body := map[string]any{}
	put(body, "title", a.Title)
	put(body, "description", a.Description)
	put(body, "status", a.Status)
	put(body, "priority", a.Priority)
	put(body, "due_date", a.DueDate)
	put(body, "project_id", a.ProjectID)
	if err := requireChange(body); err != nil {
		return taskapi.Request{}, err
	}
	return taskapi.Request{ResourceID: a.TaskID, Body: body}, nil
}
