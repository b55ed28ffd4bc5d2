package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/providentiaww/track-mcp/internal/dispatch"
	"github.com/providentiaww/track-mcp/pkg/mcp"
)

const maxToolBodyBytes = 1 << 20

// RestToolHandler exposes the tool catalog over plain JSON for clients that
// do not speak MCP. Authentication happens in the bridge, so failures use
// the same error envelope as tool results.
type RestToolHandler struct {
	bridge *dispatch.Bridge
}

// NewRestToolHandler creates a new REST tool handler.
func NewRestToolHandler(bridge *dispatch.Bridge) *RestToolHandler {
	return &RestToolHandler{bridge: bridge}
}

// Routes mounts POST /api/tools/call and POST /api/tools/{name}.
func (h *RestToolHandler) Routes(r chi.Router) {
	r.Post("/api/tools/call", h.HandleCall)
	r.Post("/api/tools/{name}", h.HandleNamed)
}

// HandleCall runs a {"tool_name", "arguments"} body.
func (h *RestToolHandler) HandleCall(w http.ResponseWriter, r *http.Request) {
	var call mcp.ToolCall
	if err := decodeBody(w, r, &call); err != nil {
		writeError(w, &dispatch.Error{Code: dispatch.CodeInvalidArguments, Message: err.Error()})
		return
	}
	h.run(w, r, call.ToolName, call.Arguments)
}

// HandleNamed runs the tool named in the path with the body as its
// arguments. An empty body means no arguments.
func (h *RestToolHandler) HandleNamed(w http.ResponseWriter, r *http.Request) {
	var args map[string]any
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &args); err != nil {
			writeError(w, &dispatch.Error{Code: dispatch.CodeInvalidArguments, Message: err.Error()})
			return
		}
	}
	h.run(w, r, chi.URLParam(r, "name"), args)
}

func (h *RestToolHandler) run(w http.ResponseWriter, r *http.Request, name string, args map[string]any) {
	res, err := h.bridge.HandleCall(r.Context(), mcp.ExtractBearer(r), name, args)
	if err != nil {
		var derr *dispatch.Error
		if !errors.As(err, &derr) {
			derr = &dispatch.Error{Code: dispatch.CodeInternal, Message: "internal error"}
		}
		writeError(w, derr)
		return
	}
	writeJSON(w, http.StatusOK, mcp.ToolResult{Tool: res.Tool, Result: res.Data})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxToolBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.New("request body must be a JSON object")
	}
	return nil
}

func writeError(w http.ResponseWriter, derr *dispatch.Error) {
	if derr.Code == dispatch.CodeUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+mcp.ServerName+`"`)
	}
	writeJSON(w, derr.Status(), dispatch.Envelope{Error: derr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
