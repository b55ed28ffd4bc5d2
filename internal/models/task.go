package models

import "encoding/json"

// TaskRequest is a task API call sent over the TaskRequests queue.
type TaskRequest struct {
	Action     string              `json:"action"`                // operation name, e.g. list_tasks
	UserID     string              `json:"user_id"`               // resolved end user
	ResourceID string              `json:"resource_id,omitempty"` // task, note or project id
	Query      map[string][]string `json:"query,omitempty"`
	Body       map[string]any      `json:"body,omitempty"`
	RequestID  string              `json:"request_id"` // correlation id
}

// TaskResponse is the worker's reply.
type TaskResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	RequestID string          `json:"request_id"`
}

// ErrorInfo describes a failed call.
type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeValidation     = "validation"
	ErrCodeForbidden      = "forbidden"
	ErrCodeTimeout        = "timeout"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeInternal       = "internal"
)

// SuccessResponse wraps data already encoded as JSON.
func SuccessResponse(data json.RawMessage, requestID string) TaskResponse {
	return TaskResponse{Success: true, Data: data, RequestID: requestID}
}

// ErrorResponse builds a failed reply.
func ErrorResponse(code, message, requestID string) TaskResponse {
	return TaskResponse{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		RequestID: requestID,
	}
}
