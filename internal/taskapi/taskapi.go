// Package taskapi is the client side of the internal task, note and project
// API. Calls are addressed by Operation and carry the resolved user id;
// failures come back as *Error with a Kind.
package taskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Operation names an internal API operation.
type Operation string

const (
	OpListTasks     Operation = "list_tasks"
	OpGetTask       Operation = "get_task"
	OpCreateTask    Operation = "create_task"
	OpUpdateTask    Operation = "update_task"
	OpCompleteTask  Operation = "complete_task"
	OpDeleteTask    Operation = "delete_task"
	OpListNotes     Operation = "list_notes"
	OpGetNote       Operation = "get_note"
	OpCreateNote    Operation = "create_note"
	OpUpdateNote    Operation = "update_note"
	OpDeleteNote    Operation = "delete_note"
	OpListProjects  Operation = "list_projects"
	OpGetProject    Operation = "get_project"
	OpCreateProject Operation = "create_project"
	OpUpdateProject Operation = "update_project"
)

type route struct {
	method string
	path   string // {id} is replaced by Request.ResourceID
}

var routes = map[Operation]route{
	OpListTasks:     {"GET", "/internal/tasks"},
	OpGetTask:       {"GET", "/internal/tasks/{id}"},
	OpCreateTask:    {"POST", "/internal/tasks"},
	OpUpdateTask:    {"PATCH", "/internal/tasks/{id}"},
	OpCompleteTask:  {"POST", "/internal/tasks/{id}/complete"},
	OpDeleteTask:    {"DELETE", "/internal/tasks/{id}"},
	OpListNotes:     {"GET", "/internal/notes"},
	OpGetNote:       {"GET", "/internal/notes/{id}"},
	OpCreateNote:    {"POST", "/internal/notes"},
	OpUpdateNote:    {"PATCH", "/internal/notes/{id}"},
	OpDeleteNote:    {"DELETE", "/internal/notes/{id}"},
	OpListProjects:  {"GET", "/internal/projects"},
	OpGetProject:    {"GET", "/internal/projects/{id}"},
	OpCreateProject: {"POST", "/internal/projects"},
	OpUpdateProject: {"PATCH", "/internal/projects/{id}"},
}

// Operations lists every known operation.
func Operations() []Operation {
	ops := make([]Operation, 0, len(routes))
	for op := range routes {
		ops = append(ops, op)
	}
	return ops
}

// Known reports whether op has a route.
func (op Operation) Known() bool {
	_, ok := routes[op]
	return ok
}

// Request is one call against the internal API.
type Request struct {
	Operation  Operation
	UserID     string
	ResourceID string
	Query      url.Values
	Body       map[string]any
}

func (r Request) path() (route, string, error) {
	rt, ok := routes[r.Operation]
	if !ok {
		return route{}, "", fmt.Errorf("unknown operation %q", r.Operation)
	}
	p := rt.path
	if strings.Contains(p, "{id}") {
		if r.ResourceID == "" {
			return route{}, "", fmt.Errorf("%s requires a resource id", r.Operation)
		}
		if r.ResourceID == "." || r.ResourceID == ".." {
			return route{}, "", fmt.Errorf("%s: invalid resource id %q", r.Operation, r.ResourceID)
		}
		p = strings.Replace(p, "{id}", url.PathEscape(r.ResourceID), 1)
	}
	return rt, p, nil
}

// Caller executes internal API requests. Implementations do not retry.
type Caller interface {
	Call(ctx context.Context, req Request) (json.RawMessage, error)
}

// Kind classifies an internal API failure.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindForbidden   Kind = "forbidden"
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Error is a typed internal API failure.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "task api: " + string(e.Kind)
	}
	return fmt.Sprintf("task api: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the request may not have reached the API.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnavailable
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// contextError maps a context failure onto a Kind. Cancellation by the
// caller is reported as unavailable so that it is never treated as a
// definitive answer.
func contextError(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "internal API did not answer in time"}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindUnavailable, Message: "request canceled"}
	default:
		return &Error{Kind: KindUnavailable, Message: err.Error()}
	}
}
