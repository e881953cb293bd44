package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	connectWait   = 5 * time.Second
	maxReconnects = -1
	reconnectWait = 2 * time.Second
)

// Connect opens a NATS connection that reconnects forever and logs state changes.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("vidledger event publisher"),
		nats.Timeout(connectWait),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Publisher is the subset of *nats.Conn used by NATSNotifier.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes each event as JSON on "<prefix>.<kind>".
type NATSNotifier struct {
	conn      Publisher
	prefix    string
	onMetrics MetricsRecorder
	logger    *zap.Logger
}

// NewNATSNotifier creates a NATSNotifier. *nats.Conn satisfies Publisher.
func NewNATSNotifier(conn Publisher, prefix string, logger *zap.Logger) *NATSNotifier {
	return &NATSNotifier{conn: conn, prefix: prefix, logger: logger}
}

// SetMetricsRecorder configures the metrics callback.
func (n *NATSNotifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// Subject returns the subject an event of kind is published on.
func (n *NATSNotifier) Subject(kind ledger.EventKind) string {
	return n.prefix + "." + string(kind)
}

// Notify implements ledger.Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, e *ledger.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.Seq, err)
	}
	err = n.conn.Publish(n.Subject(e.Kind), data)
	if n.onMetrics != nil {
		n.onMetrics("nats", err == nil)
	}
	if err != nil {
		return fmt.Errorf("publish event %d: %w", e.Seq, err)
	}
	n.logger.Debug("event published", zap.String("subject", n.Subject(e.Kind)), zap.Int64("seq", e.Seq))
	return nil
}
