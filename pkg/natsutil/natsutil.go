// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// DefaultRequestTimeout applies to Request when ctx carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NewMsg encodes v as JSON into a message for subject, carrying the trace
// context of ctx in its headers.
func NewMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes to the given subject.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := NewMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Respond answers a request message with v. Messages without a reply
// subject are ignored.
func Respond[T any](ctx context.Context, nc *nats.Conn, req *nats.Msg, v T) error {
	if req.Reply == "" {
		return nil
	}
	return Publish(ctx, nc, req.Reply, v)
}

// Handler receives a decoded message, the context extracted from its
// headers, and the raw message.
type Handler[T any] func(ctx context.Context, v T, msg *nats.Msg)

// SubOption configures a subscription.
type SubOption func(*subConfig)

type subConfig struct {
	onMalformed func(*nats.Msg, error)
}

// OnMalformed is called for messages that fail to decode. Without it they
// are dropped silently.
func OnMalformed(f func(*nats.Msg, error)) SubOption {
	return func(c *subConfig) { c.onMalformed = f }
}

func dispatch[T any](h Handler[T], opts []SubOption) nats.MsgHandler {
	var cfg subConfig
	for _, o := range opts {
		o(&cfg)
	}
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if cfg.onMalformed != nil {
				cfg.onMalformed(msg, err)
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		h(ctx, v, msg)
	}
}

// Subscribe registers a handler that deserializes JSON messages of type T.
func Subscribe[T any](nc *nats.Conn, subject string, h Handler[T], opts ...SubOption) (*nats.Subscription, error) {
	return nc.Subscribe(subject, dispatch(h, opts))
}

// QueueSubscribe is Subscribe within a queue group, so each message goes to
// one member of the group.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, h Handler[T], opts ...SubOption) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, dispatch(h, opts))
}

// Request sends a JSON-encoded request and decodes the response. Without a
// deadline on ctx, DefaultRequestTimeout applies.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}
	msg, err := NewMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, err
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, err
	}
	return result, nil
}
