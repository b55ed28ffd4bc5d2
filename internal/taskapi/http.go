package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 4 << 20

// HTTPConfig addresses the internal API over HTTP.
type HTTPConfig struct {
	BaseURL      string        `env:"TASK_API_URL"`
	ServiceToken string        `env:"TASK_API_SERVICE_TOKEN"`
	Timeout      time.Duration `env:"TASK_API_TIMEOUT" envDefault:"10s"`
}

// HTTPClient calls the internal API directly. The service token
// authenticates this process; X-User-ID names the user being acted for.
type HTTPClient struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

// NewHTTPClient returns an HTTPClient. A nil httpClient uses a pooled
// transport.
func NewHTTPClient(cfg HTTPConfig, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: sharedTransport}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.ServiceToken,
		timeout: timeout,
		http:    httpClient,
	}
}

func (c *HTTPClient) Call(ctx context.Context, req Request) (json.RawMessage, error) {
	rt, path, err := req.path()
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error()}
	}
	if req.UserID == "" {
		return nil, &Error{Kind: KindForbidden, Message: "no user"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil && rt.method != http.MethodGet && rt.method != http.MethodDelete {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("encode body: %v", err)}
		}
		body = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, rt.method, target, body)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: err.Error()}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-User-ID", req.UserID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, contextError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, contextError(ctx, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return successBody(req, data)
	}
	return nil, statusError(resp.StatusCode, data)
}

func successBody(req Request, data []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		out := map[string]any{"success": true}
		if req.ResourceID != "" {
			out["id"] = req.ResourceID
		}
		return json.Marshal(out)
	}
	if !json.Valid(data) {
		return nil, &Error{Kind: KindInternal, Message: "internal API returned invalid JSON"}
	}
	return json.RawMessage(data), nil
}

// apiErrorBody covers {"detail": "..."}, {"detail": [{"loc": [...], "msg": "..."}]}
// and {"message": "..."}.
type apiErrorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

type fieldDetail struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

func statusError(status int, data []byte) *Error {
	e := &Error{Kind: kindForStatus(status), Message: http.StatusText(status)}

	var body apiErrorBody
	if json.Unmarshal(data, &body) != nil {
		return e
	}
	if body.Message != "" {
		e.Message = body.Message
	}
	var detail string
	if json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
		e.Message = detail
		return e
	}
	var fields []fieldDetail
	if json.Unmarshal(body.Detail, &fields) == nil && len(fields) > 0 {
		e.Fields = make(map[string]string, len(fields))
		for _, f := range fields {
			if len(f.Loc) == 0 {
				continue
			}
			e.Fields[fmt.Sprint(f.Loc[len(f.Loc)-1])] = f.Msg
		}
	}
	return e
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return KindTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		return KindUnavailable
	default:
		return KindValidation
	}
}
