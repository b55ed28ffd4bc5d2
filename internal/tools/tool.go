// Package tools is the static catalog of tools exposed to external
// applications. Each tool validates its arguments against a declared schema
// and translates them into one internal API request.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/providentiaww/track-mcp/internal/taskapi"
)

// Tool is a catalog entry.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Operation   taskapi.Operation
	// ReadOnly tools are idempotent and may be retried.
	ReadOnly bool

	input *inputSchema
	bind  func(args map[string]any) (taskapi.Request, error)
}

// binder is implemented by the typed argument struct of each tool.
type binder interface {
	request() (taskapi.Request, error)
}

func define[A binder](name, description string, op taskapi.Operation, readOnly bool, params ...Param) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Params:      params,
		Operation:   op,
		ReadOnly:    readOnly,
		bind: func(args map[string]any) (taskapi.Request, error) {
			var a A
			raw, err := json.Marshal(args)
			if err != nil {
				return taskapi.Request{}, fmt.Errorf("encode arguments: %w", err)
			}
			if err := json.Unmarshal(raw, &a); err != nil {
				return taskapi.Request{}, fmt.Errorf("decode arguments: %w", err)
			}
			return a.request()
		},
	}
}

// Bind validates args and builds the internal API request. The caller sets
// UserID. Schema violations are returned as *ArgumentError.
func (t Tool) Bind(args map[string]any) (taskapi.Request, error) {
	clean, err := t.input.validate(args)
	if err != nil {
		return taskapi.Request{}, err
	}
	req, err := t.bind(clean)
	if err != nil {
		return taskapi.Request{}, err
	}
	req.Operation = t.Operation
	return req, nil
}

// RawSchema is the tool's input JSON Schema as served to MCP clients.
func (t Tool) RawSchema() json.RawMessage { return t.input.raw }

// Schema returns the input schema decoded into generic JSON values.
func (t Tool) Schema() map[string]any {
	var out map[string]any
	if err := json.Unmarshal(t.input.raw, &out); err != nil {
		return nil
	}
	return out
}

// Registry is read-only after NewRegistry returns.
type Registry struct {
	byName map[string]Tool
	order  []string
}

// NewRegistry builds the catalog.
func NewRegistry() *Registry {
	r := &Registry{byName: map[string]Tool{}}
	for _, group := range [][]Tool{taskTools(), noteTools(), projectTools()} {
		for _, t := range group {
			if _, dup := r.byName[t.Name]; dup {
				panic("duplicate tool " + t.Name)
			}
			if !t.Operation.Known() {
				panic("tool " + t.Name + " maps to unknown operation " + string(t.Operation))
			}
			input, err := newInputSchema(t.Params)
			if err != nil {
				panic("tool " + t.Name + " schema: " + err.Error())
			}
			t.input = input
			r.byName[t.Name] = t
			r.order = append(r.order, t.Name)
		}
	}
	sort.Strings(r.order)
	return r
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// List returns every tool sorted by name.
func (r *Registry) List() []Tool {
	out := make([]Tool, len(r.order))
	for i, name := range r.order {
		out[i] = r.byName[name]
	}
	return out
}
