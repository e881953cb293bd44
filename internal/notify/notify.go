// Package notify delivers committed ledger events to external observers.
//
// Every sink implements ledger.Notifier and is attached with
// ledger.Subscribe. The ledger hands each sink events in journal order and
// re-sends an event whose delivery failed, so sinks see at-least-once
// delivery and must tolerate duplicates (Event.Seq is unique).
package notify

import (
	"context"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(sink string, success bool)

// LogNotifier writes events to zap instead of delivering them.
// Use in development or when no sink is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier backed by the given logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event and returns nil.
func (n *LogNotifier) Notify(_ context.Context, e *ledger.Event) error {
	n.logger.Info("ledger event",
		zap.Int64("seq", e.Seq),
		zap.String("kind", string(e.Kind)),
		zap.Int64("listing_id", e.ListingID),
		zap.String("actor", e.Actor),
		zap.String("hash", e.Hash),
	)
	return nil
}
