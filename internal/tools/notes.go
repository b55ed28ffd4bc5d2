package tools

import (
	"net/url"

	"github.com/providentiaww/track-mcp/internal/taskapi"
)

func noteTools() []Tool {
	return []Tool{
		define[listNotesArgs]("list_notes", "List the user's notes, optionally filtered by project or a search term",
			taskapi.OpListNotes, true,
			Param{Name: "project_id", Schema: text("Only notes in this project", 0, 0)},
			Param{Name: "search", Schema: text("Text to match in title or content", 0, 200)},
			limitParam(),
			offsetParam(),
		),
		define[noteIDArgs]("get_note", "Get a note by ID",
			taskapi.OpGetNote, true,
			idParam("note_id", "Note"),
		),
		define[createNoteArgs]("create_note", "Create a note",
			taskapi.OpCreateNote, false,
			Param{Name: "title", Required: true, Schema: text("Note title", 1, 500)},
			Param{Name: "content", Schema: text("Note body", 0, 0)},
			Param{Name: "project_id", Schema: text("Project to file the note under", 0, 0)},
		),
		define[updateNoteArgs]("update_note", "Update fields of a note",
			taskapi.OpUpdateNote, false,
			idParam("note_id", "Note"),
			Param{Name: "title", Schema: text("New title", 1, 500)},
			Param{Name: "content", Schema: text("New body", 0, 0)},
			Param{Name: "project_id", Schema: text("Move the note to this project", 0, 0)},
		),
		define[noteIDArgs]("delete_note", "Delete a note permanently",
			taskapi.OpDeleteNote, false,
			idParam("note_id", "Note"),
		),
	}
}

type listNotesArgs struct {
	ProjectID string `json:"project_id"`
	Search    string `json:"search"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

func (a listNotesArgs) request() (taskapi.Request, error) {
	q := url.Values{}
	setQuery(q, "project_id", a.ProjectID)
	setQuery(q, "search", a.Search)
	paginate(q, a.Limit, a.Offset)
	return taskapi.Request{Query: q}, nil
}

type noteIDArgs struct {
	NoteID string `json:"note_id"`
}

func (a noteIDArgs) request() (taskapi.Request, error) {
	return taskapi.Request{ResourceID: a.NoteID}, nil
}

type createNoteArgs struct {
	Title     string  `json:"title"`
	Content   *string `json:"content"`
	ProjectID *string `json:"project_id"`
}

func (a createNoteArgs) request() (taskapi.Request, error) {
	body := map[string]any{"title": a.Title}
	put(body, "content", a.Content)
	put(body, "project_id", a.ProjectID)
	return taskapi.Request{Body: body}, nil
}

type updateNoteArgs struct {
	NoteID    string  `json:"note_id"`
	Title     *string `json:"title"`
	Content   *string `json:"content"`
	ProjectID *string `json:"project_id"`
}

func (a updateNoteArgs) request() (taskapi.Request, error) {
	body := map[string]any{}
	put(body, "title", a.Title)
	put(body, "content", a.Content)
	put(body, "project_id", a.ProjectID)
	if err := requireChange(body); err != nil {
		return taskapi.Request{}, err
	}
	return taskapi.Request{ResourceID: a.NoteID, Body: body}, nil
}
