package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// FormatDateTime marks a string holding an RFC 3339 timestamp.
const FormatDateTime = "date-time"

// Resource ids are a single path segment on the internal API.
const idPattern = `^[A-Za-z0-9_-]+$`

// Param declares one tool argument by its JSON Schema.
type Param struct {
	Name     string
	Required bool
	Schema   *jsonschema.Schema
}

// ArgumentError lists argument problems by field.
type ArgumentError struct {
	Fields map[string]string
}

func (e *ArgumentError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

func ptr[T any](v T) *T { return &v }

func rawDefault(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// text is a string property; zero lengths are unset.
func text(description string, minLen, maxLen int) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "string", Description: description}
	if minLen > 0 {
		s.MinLength = ptr(minLen)
	}
	if maxLen > 0 {
		s.MaxLength = ptr(maxLen)
	}
	return s
}

func oneOf(description string, values []string) *jsonschema.Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &jsonschema.Schema{Type: "string", Description: description, Enum: enum}
}

func matching(description, pattern string, maxLen int) *jsonschema.Schema {
	s := text(description, 0, maxLen)
	s.Pattern = pattern
	return s
}

func dateTime(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description, Format: FormatDateTime}
}

// integer is bounded on both sides so decoded values always fit an int.
func integer(description string, lo, hi float64) *jsonschema.Schema {
	lo = math.Max(lo, math.MinInt32)
	hi = math.Min(hi, math.MaxInt32)
	return &jsonschema.Schema{Type: "integer", Description: description, Minimum: ptr(lo), Maximum: ptr(hi)}
}

func boolean(description string, def bool) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: description, Default: rawDefault(def)}
}

func withDefault(s *jsonschema.Schema, v any) *jsonschema.Schema {
	s.Default = rawDefault(v)
	return s
}

var resolveOptions = &jsonschema.ResolveOptions{ValidateDefaults: true}

// inputSchema is the argument-validation state of one tool, resolved once.
type inputSchema struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	props    map[string]*jsonschema.Resolved
	formats  map[string]string
	raw      json.RawMessage
}

func newInputSchema(params []Param) (*inputSchema, error) {
	s := &jsonschema.Schema{
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema, len(params)),
		Required:             []string{},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	in := &inputSchema{
		schema:  s,
		props:   make(map[string]*jsonschema.Resolved, len(params)),
		formats: map[string]string{},
	}
	for _, p := range params {
		if _, dup := s.Properties[p.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		s.Properties[p.Name] = p.Schema
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
		if p.Schema.Format != "" {
			in.formats[p.Name] = p.Schema.Format
		}
		rs, err := p.Schema.Resolve(resolveOptions)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		in.props[p.Name] = rs
	}
	rs, err := s.Resolve(resolveOptions)
	if err != nil {
		return nil, err
	}
	in.resolved = rs
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	in.raw = raw
	return in, nil
}

// validate checks args and returns a JSON-normalized copy with defaults
// applied. Null values count as absent.
func (in *inputSchema) validate(args map[string]any) (map[string]any, error) {
	instance, err := normalize(args)
	if err != nil {
		return nil, &ArgumentError{Fields: map[string]string{"arguments": "must be a JSON object"}}
	}

	fields := map[string]string{}
	for name, v := range instance {
		rs, ok := in.props[name]
		if !ok {
			fields[name] = "unknown field"
			continue
		}
		if err := rs.Validate(v); err != nil {
			fields[name] = reason(err)
			continue
		}
		if msg := checkFormat(in.formats[name], v); msg != "" {
			fields[name] = msg
		}
	}
	for _, name := range in.schema.Required {
		if _, ok := instance[name]; !ok {
			fields[name] = "is required"
		}
	}
	if len(fields) > 0 {
		return nil, &ArgumentError{Fields: fields}
	}

	if err := in.resolved.Validate(instance); err != nil {
		return nil, &ArgumentError{Fields: map[string]string{"arguments": reason(err)}}
	}
	if err := in.resolved.ApplyDefaults(&instance); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return instance, nil
}

// normalize round-trips args through JSON so the validator sees the same
// value shapes whether the call came over the wire or from Go code.
func normalize(args map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(args) == 0 {
		return out, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, err
	}
	for k, v := range decoded {
		if v != nil {
			out[k] = v
		}
	}
	return out, nil
}

// jsonschema-go treats format as an annotation.
func checkFormat(format string, v any) string {
	if format != FormatDateTime {
		return ""
	}
	s, _ := v.(string)
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return "must be an RFC 3339 date-time"
	}
	return ""
}

func reason(err error) string {
	return strings.TrimPrefix(err.Error(), "validating root: ")
}
