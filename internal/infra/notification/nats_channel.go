package notification

import (
	"context"
	"fmt"
	"time"

	jsonx "wanderlust/internal/shared/json"
	"wanderlust/internal/shared/logging"

	"github.com/nats-io/nats.go"
)

// HeaderEvent carries the event name on published messages.
const HeaderEvent = "Wanderlust-Event"

// msgPublisher is the subset of *nats.Conn the channel needs.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSChannel publishes notifications to a subject. The event name is
// appended as a token, so subscribers can filter with "<subject>.run.*".
type NATSChannel struct {
	name    string
	subject string
	conn    msgPublisher
}

// NewNATSChannel publishes through conn.
func NewNATSChannel(name, subject string, conn msgPublisher) *NATSChannel {
	return &NATSChannel{name: name, subject: subject, conn: conn}
}

func (c *NATSChannel) Name() string { return c.name }

func (c *NATSChannel) Supports(Priority) bool { return true }

// Send publishes n as JSON.
func (c *NATSChannel) Send(ctx context.Context, n Notification) error {
	if c.conn == nil {
		return fmt.Errorf("nats channel %s: not connected", c.name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := jsonx.Marshal(payloadFor(n))
	if err != nil {
		return fmt.Errorf("encode nats payload: %w", err)
	}
	subject := c.subject
	if n.Event != "" {
		subject = subject + "." + n.Event
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderEvent, n.Event)
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// ConnectNATS dials url with reconnect handling logged through logger.
func ConnectNATS(url string, logger logging.Logger) (*nats.Conn, error) {
	logger = logging.OrNop(logger)
	conn, err := nats.Connect(url,
		nats.Name("wanderlust-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}
