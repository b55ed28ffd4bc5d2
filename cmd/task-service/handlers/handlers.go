// Package handlers executes queued task API requests for the task worker.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/providentiaww/track-mcp/internal/logging"
	"github.com/providentiaww/track-mcp/internal/models"
	"github.com/providentiaww/track-mcp/internal/taskapi"
)

// Service handles task service requests.
type Service struct {
	api     taskapi.Caller
	timeout time.Duration
}

// NewService creates a new task service. timeout bounds each upstream call.
func NewService(api taskapi.Caller, timeout time.Duration) *Service {
	return &Service{api: api, timeout: timeout}
}

// HandleRequest decodes one queued request, runs it, and returns the encoded
// reply.
func (s *Service) HandleRequest(ctx context.Context, body []byte) []byte {
	var req models.TaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return encode(models.ErrorResponse(models.ErrCodeInvalidRequest, fmt.Sprintf("malformed request: %v", err), req.RequestID))
	}
	log := logging.From(ctx).With(logging.Component("task-service"), logging.Op(req.Action), logging.UserID(req.UserID))

	call := taskapi.FromMessage(req)
	if !call.Operation.Known() {
		return encode(models.ErrorResponse(models.ErrCodeInvalidRequest, fmt.Sprintf("unknown action: %s", req.Action), req.RequestID))
	}
	if req.UserID == "" {
		return encode(models.ErrorResponse(models.ErrCodeInvalidRequest, "missing user_id", req.RequestID))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	data, err := s.api.Call(ctx, call)
	if err != nil {
		log.Warn("task api call failed", logging.Duration(time.Since(start)), logging.Err(err))
	} else {
		log.Debug("task api call", logging.Duration(time.Since(start)))
	}
	return encode(taskapi.Reply(data, err, req.RequestID))
}

func encode(resp models.TaskResponse) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(models.ErrorResponse(models.ErrCodeInternal, "encode reply", resp.RequestID))
	}
	return b
}
