package taskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/providentiaww/track-mcp/internal/models"
)

// directReplyTo is RabbitMQ's pseudo-queue for RPC replies.
const directReplyTo = "amq.rabbitmq.reply-to"

// AMQPConfig addresses the task worker queue.
type AMQPConfig struct {
	URL     string        `env:"AMQP_URL"`
	Queue   string        `env:"TASK_API_QUEUE" envDefault:"TaskRequests"`
	Timeout time.Duration `env:"TASK_API_TIMEOUT" envDefault:"10s"`
}

// AMQPClient sends requests to the task worker and waits for the reply on
// direct reply-to. Messages expire with the call timeout so a worker never
// acts on a request its caller has given up on.
type AMQPClient struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	timeout time.Duration

	publishMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan amqp.Delivery
	done      chan struct{}
}

// DialAMQP connects, declares the request queue and starts the reply loop.
func DialAMQP(cfg AMQPConfig) (*AMQPClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("AMQP_URL is required for the amqp transport")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", cfg.Queue, err)
	}
	replies, err := ch.Consume(directReplyTo, "", true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consume replies: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &AMQPClient{
		conn:    conn,
		ch:      ch,
		queue:   cfg.Queue,
		timeout: timeout,
		pending: make(map[string]chan amqp.Delivery),
		done:    make(chan struct{}),
	}
	go c.routeReplies(replies)
	return c, nil
}

func (c *AMQPClient) routeReplies(replies <-chan amqp.Delivery) {
	defer close(c.done)
	for d := range replies {
		c.pendingMu.Lock()
		waiter, ok := c.pending[d.CorrelationId]
		c.pendingMu.Unlock()
		if !ok {
			continue
		}
		select {
		case waiter <- d:
		default:
		}
	}
}

func (c *AMQPClient) Call(ctx context.Context, req Request) (json.RawMessage, error) {
	if !req.Operation.Known() {
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("unknown operation %q", req.Operation)}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id := uuid.NewString()
	body, err := json.Marshal(ToMessage(req, id))
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("encode request: %v", err)}
	}

	waiter := make(chan amqp.Delivery, 1)
	c.pendingMu.Lock()
	c.pending[id] = waiter
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.publishMu.Lock()
	err = c.ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: id,
		ReplyTo:       directReplyTo,
		Expiration:    strconv.FormatInt(c.timeout.Milliseconds(), 10),
		Timestamp:     time.Now(),
		Body:          body,
	})
	c.publishMu.Unlock()
	if err != nil {
		return nil, contextError(ctx, err)
	}

	select {
	case d := <-waiter:
		var resp models.TaskResponse
		if err := json.Unmarshal(d.Body, &resp); err != nil {
			return nil, &Error{Kind: KindInternal, Message: "malformed worker reply"}
		}
		return ParseReply(resp)
	case <-ctx.Done():
		return nil, contextError(ctx, ctx.Err())
	case <-c.done:
		return nil, &Error{Kind: KindUnavailable, Message: "amqp connection closed"}
	}
}

// Close shuts the channel and connection.
func (c *AMQPClient) Close() error {
	return errors.Join(c.ch.Close(), c.conn.Close())
}

// ToMessage encodes req for the queue.
func ToMessage(req Request, requestID string) models.TaskRequest {
	return models.TaskRequest{
		Action:     string(req.Operation),
		UserID:     req.UserID,
		ResourceID: req.ResourceID,
		Query:      req.Query,
		Body:       req.Body,
		RequestID:  requestID,
	}
}

// FromMessage decodes a queued request.
func FromMessage(m models.TaskRequest) Request {
	return Request{
		Operation:  Operation(m.Action),
		UserID:     m.UserID,
		ResourceID: m.ResourceID,
		Query:      m.Query,
		Body:       m.Body,
	}
}

// Reply builds the worker response for a call result.
func Reply(data json.RawMessage, err error, requestID string) models.TaskResponse {
	if err == nil {
		return models.SuccessResponse(data, requestID)
	}
	var e *Error
	if !errors.As(err, &e) {
		return models.ErrorResponse(models.ErrCodeInternal, "internal error", requestID)
	}
	resp := models.ErrorResponse(codeForKind(e.Kind), e.Message, requestID)
	resp.Error.Fields = e.Fields
	return resp
}

// ParseReply turns a worker response back into a result or *Error.
func ParseReply(resp models.TaskResponse) (json.RawMessage, error) {
	if resp.Success {
		if len(resp.Data) == 0 {
			return json.RawMessage(`{"success":true}`), nil
		}
		return resp.Data, nil
	}
	if resp.Error == nil {
		return nil, &Error{Kind: KindInternal, Message: "worker reported failure without detail"}
	}
	return nil, &Error{Kind: kindForCode(resp.Error.Code), Message: resp.Error.Message, Fields: resp.Error.Fields}
}

func codeForKind(k Kind) string {
	switch k {
	case KindNotFound:
		return models.ErrCodeNotFound
	case KindValidation:
		return models.ErrCodeValidation
	case KindForbidden:
		return models.ErrCodeForbidden
	case KindTimeout:
		return models.ErrCodeTimeout
	case KindUnavailable:
		return models.ErrCodeUnavailable
	default:
		return models.ErrCodeInternal
	}
}

func kindForCode(code string) Kind {
	switch code {
	case models.ErrCodeNotFound:
		return KindNotFound
	case models.ErrCodeValidation, models.ErrCodeInvalidRequest:
		return KindValidation
	case models.ErrCodeForbidden:
		return KindForbidden
	case models.ErrCodeTimeout:
		return KindTimeout
	case models.ErrCodeUnavailable:
		return KindUnavailable
	default:
		return KindInternal
	}
}
