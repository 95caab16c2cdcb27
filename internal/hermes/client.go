package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects used by the extraction service.
const (
	// SubjectCallReported carries end-of-call reports relayed from other services.
	SubjectCallReported = "quill.call.reported"
	// SubjectFieldsExtracted announces the fields resolved for a call.
	SubjectFieldsExtracted = "quill.fields.extracted"
	// SubjectRegistered is published once at startup.
	SubjectRegistered = "quill.agent.registered"
)

// FieldsExtracted is the payload published on SubjectFieldsExtracted.
type FieldsExtracted struct {
	RunID     string                  `json:"run_id"`
	CallID    string                  `json:"call_id"`
	ContactID string                  `json:"contact_id,omitempty"`
	Fallback  bool                    `json:"fallback"`
	Fields    map[string]FieldPayload `json:"fields"`
	Timestamp string                  `json:"timestamp"`
}

// FieldPayload is one resolved field as carried on the bus.
type FieldPayload struct {
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
	Source     string `json:"source"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.Name("quill"),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Connected reports whether the underlying connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains subscriptions so in-flight call reports finish before the
// connection goes away.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		for _, sub := range c.subs {
			_ = sub.Unsubscribe()
		}
		c.conn.Close()
	}
}
