package dispatch

import (
	"fmt"
	"net/http"
)

// Code is the machine-readable tool-call error code.
type Code string

const (
	CodeUnauthorized        Code = "unauthorized"
	CodeUnknownTool         Code = "unknown_tool"
	CodeInvalidArguments    Code = "invalid_arguments"
	CodeNotFound            Code = "not_found"
	CodeValidation          Code = "validation"
	CodeForbidden           Code = "forbidden"
	CodeUpstreamTimeout     Code = "upstream_timeout"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeCanceled            Code = "canceled"
	CodeInternal            Code = "internal"
)

// StatusClientClosedRequest is the conventional status for a caller that
// went away.
const StatusClientClosedRequest = 499

var statusByCode = map[Code]int{
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeUnknownTool:         http.StatusNotFound,
	CodeInvalidArguments:    http.StatusBadRequest,
	CodeNotFound:            http.StatusNotFound,
	CodeValidation:          http.StatusUnprocessableEntity,
	CodeForbidden:           http.StatusForbidden,
	CodeUpstreamTimeout:     http.StatusGatewayTimeout,
	CodeUpstreamUnavailable: http.StatusBadGateway,
	CodeCanceled:            StatusClientClosedRequest,
	CodeInternal:            http.StatusInternalServerError,
}

// Error is the structured failure returned to tool callers.
type Error struct {
	Code      Code              `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status is the HTTP status for e.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Envelope is the JSON body for a failed call.
type Envelope struct {
	Error *Error `json:"error"`
}
