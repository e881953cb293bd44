package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the PrevHash of the first journal event.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// hashEvent computes a deterministic SHA-256 hash over an event's fields.
func hashEvent(e *Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%d|%s|%s|%s",
		e.Seq, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Kind, e.ListingID, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// appendEvent chains a new event onto the journal inside tx.
func (l *Ledger) appendEvent(ctx context.Context, tx Tx, kind EventKind, listingID int64, actor string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	prev, err := tx.LastEvent(ctx)
	if err != nil {
		return fmt.Errorf("read journal head: %w", err)
	}
	e := &Event{
		Seq:       1,
		Kind:      kind,
		ListingID: listingID,
		Actor:     actor,
		Payload:   data,
		Timestamp: l.timestamp(),
		DataHash:  sha256Sum(data),
		PrevHash:  GenesisHash,
	}
	if prev != nil {
		e.Seq = prev.Seq + 1
		e.PrevHash = prev.Hash
	}
	e.Hash = hashEvent(e)

	if err := tx.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}

// Events returns up to limit journal events with Seq greater than after.
// limit <= 0 selects a default page size; it is capped at 1000.
func (l *Ledger) Events(ctx context.Context, after int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}
	var events []*Event
	err := l.store.View(ctx, func(r Reader) error {
		var err error
		events, err = r.Events(ctx, after, limit)
		return err
	})
	return events, err
}

// VerifyJournal walks the whole journal and checks sequence continuity,
// payload digests and the hash chain. It returns the number of events checked.
func (l *Ledger) VerifyJournal(ctx context.Context) (int64, error) {
	prevHash := GenesisHash
	var seq int64
	for {
		events, err := l.Events(ctx, seq, maxEventPage)
		if err != nil {
			return seq, err
		}
		for _, e := range events {
			switch {
			case e.Seq != seq+1:
				return seq, fmt.Errorf("journal gap: expected seq %d, got %d", seq+1, e.Seq)
			case e.PrevHash != prevHash:
				return seq, fmt.Errorf("hash chain broken at seq %d", e.Seq)
			case sha256Sum(e.Payload) != e.DataHash:
				return seq, fmt.Errorf("event %d payload does not match data hash", e.Seq)
			case hashEvent(e) != e.Hash:
				return seq, fmt.Errorf("event %d has invalid hash", e.Seq)
			}
			prevHash = e.Hash
			seq = e.Seq
		}
		if len(events) < maxEventPage {
			return seq, nil
		}
	}
}
