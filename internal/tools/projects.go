package tools

import (
	"net/url"
	"strconv"

	"github.com/providentiaww/track-mcp/internal/taskapi"
)

const colorPattern = `^#[0-9a-fA-F]{6}$`

func projectTools() []Tool {
	return []Tool{
		define[listProjectsArgs]("list_projects", "List the user's projects",
			taskapi.OpListProjects, true,
			Param{Name: "include_stats", Schema: boolean("Include task and note counts", false)},
			limitParam(),
			offsetParam(),
		),
		define[getProjectArgs]("get_project", "Get a project by ID",
			taskapi.OpGetProject, true,
			idParam("project_id", "Project"),
			Param{Name: "include_stats", Schema: boolean("Include task and note counts", true)},
		),
		define[createProjectArgs]("create_project", "Create a project",
			taskapi.OpCreateProject, false,
			Param{Name: "name", Required: true, Schema: text("Project name", 1, 100)},
			Param{Name: "description", Schema: text("What the project is for", 0, 500)},
			Param{Name: "color", Schema: matching("Hex color such as #3366ff", colorPattern, 0)},
			Param{Name: "icon", Schema: text("Icon name or emoji", 0, 50)},
		),
		define[updateProjectArgs]("update_project", "Update fields of a project",
			taskapi.OpUpdateProject, false,
			idParam("project_id", "Project"),
			Param{Name: "name", Schema: text("New name", 1, 100)},
			Param{Name: "description", Schema: text("New description", 0, 500)},
			Param{Name: "color", Schema: matching("New hex color", colorPattern, 0)},
			Param{Name: "icon", Schema: text("New icon", 0, 50)},
		),
	}
}

type listProjectsArgs struct {
	IncludeStats bool `json:"include_stats"`
	Limit        int  `json:"limit"`
	Offset       int  `json:"offset"`
}

func (a listProjectsArgs) request() (taskapi.Request, error) {
	q := url.Values{}
	q.Set("include_stats", strconv.FormatBool(a.IncludeStats))
	paginate(q, a.Limit, a.Offset)
	return taskapi.Request{Query: q}, nil
}

type getProjectArgs struct {
	ProjectID    string `json:"project_id"`
	IncludeStats bool   `json:"include_stats"`
}

func (a getProjectArgs) request() (taskapi.Request, error) {
	q := url.Values{"include_stats": {strconv.FormatBool(a.IncludeStats)}}
	return taskapi.Request{ResourceID: a.ProjectID, Query: q}, nil
}

type createProjectArgs struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	Icon        *string `json:"icon"`
}

func (a createProjectArgs) request() (taskapi.Request, error) {
	body := map[string]any{"name": a.Name}
	put(body, "description", a.Description)
	put(body, "color", a.Color)
	put(body, "icon", a.Icon)
	return taskapi.Request{Body: body}, nil
}

type updateProjectArgs struct {
	ProjectID   string  `json:"project_id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	Icon        *string `json:"icon"`
}

func (a updateProjectArgs) request() (taskapi.Request, error) {
	body := map[string]any{}
	put(body, "name", a.Name)
	put(body, "description", a.Description)
	put(body, "color", a.Color)
	put(body, "icon", a.Icon)
	if err := requireChange(body); err != nil {
		return taskapi.Request{}, err
	}
	return taskapi.Request{ResourceID: a.ProjectID, Body: body}, nil
}
