package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	minRedeliveryDelay = 500 * time.Millisecond
	maxRedeliveryDelay = 30 * time.Second
)

// subscriber is one Notifier with its own journal cursor.
type subscriber struct {
	name string
	n    Notifier
	wake chan struct{}

	mu        sync.Mutex // serializes flushes of this subscriber
	delivered int64      // highest seq acknowledged by n
}

// Subscribe attaches n to the journal under name. Delivery starts after the
// current journal head; earlier events stay readable via Events. Events are
// handed to n in commit order by a goroutine that runs until ctx is done.
// A failed event is re-sent, with backoff, until n accepts it.
func (l *Ledger) Subscribe(ctx context.Context, name string, n Notifier) error {
	// Holding subsMu across the head read means no commit can signal before
	// the subscriber is registered with a cursor at or below its event.
	l.subsMu.Lock()
	defer l.subsMu.Unlock()

	var head int64
	err := l.store.View(ctx, func(r Reader) error {
		last, err := r.LastEvent(ctx)
		if err != nil {
			return err
		}
		if last != nil {
			head = last.Seq
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read journal head: %w", err)
	}

	s := &subscriber{
		name:      name,
		n:         n,
		wake:      make(chan struct{}, 1),
		delivered: head,
	}
	l.subs = append(l.subs, s)
	go l.runSubscriber(ctx, s)

	l.logger.Info("journal subscriber attached", zap.String("sink", name), zap.Int64("from_seq", head+1))
	return nil
}

// deliver wakes every subscriber after a commit. It never blocks.
func (l *Ledger) deliver() {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()
	for _, s := range l.subs {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (l *Ledger) runSubscriber(ctx context.Context, s *subscriber) {
	var (
		retry <-chan time.Time
		delay = minRedeliveryDelay
	)
	for {
		// While a retry is pending, new commits wait for the backoff.
		wake := s.wake
		if retry != nil {
			wake = nil
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-retry:
		}

		if err := l.flush(ctx, s); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("event delivery failed, will retry",
				zap.String("sink", s.name),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
			retry = time.After(delay)
			delay = min(delay*2, maxRedeliveryDelay)
			continue
		}
		retry = nil
		delay = minRedeliveryDelay
	}
}

// flush hands every event after s's cursor to s in order, stopping at the
// first failure. The failed event is the first one sent on the next flush.
func (l *Ledger) flush(ctx context.Context, s *subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		events, err := l.Events(ctx, s.delivered, defaultEventPage)
		if err != nil {
			return fmt.Errorf("read undelivered events: %w", err)
		}
		for _, e := range events {
			if err := s.n.Notify(ctx, e); err != nil {
				return fmt.Errorf("notify event %d: %w", e.Seq, err)
			}
			s.delivered = e.Seq
		}
		if len(events) < defaultEventPage {
			return nil
		}
	}
}

// Flush synchronously delivers every pending event to every subscriber.
// Subscribers are flushed independently; the joined error names each sink
// that is still behind.
func (l *Ledger) Flush(ctx context.Context) error {
	l.subsMu.RLock()
	subs := append([]*subscriber(nil), l.subs...)
	l.subsMu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := l.flush(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
