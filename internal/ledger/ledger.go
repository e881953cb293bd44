// Package ledger implements the access-control ledger for paid video assets.
//
// The ledger records Listings, enforces one purchase per (principal, listing)
// pair and answers access queries while keeping each listing's locator hidden
// from principals that have not paid for it.
//
// Every mutation runs through Store.Update, which is the single serialization
// point: purchase's check-then-record behaves as a compare-and-swap. Two Store
// implementations are provided:
//   - MemoryStore: in-process, for tests, development and single-node use.
//   - PostgresStore: durable; serializes writers with a transaction-scoped
//     advisory lock so several gateway processes can share one database.
//
// Each committed mutation also appends one Event to a hash-chained journal in
// the same transaction. The journal is the ordered source for observer
// notifications and can be verified end to end with Ledger.VerifyJournal.
// Observers attach with Subscribe; each one is fed from the journal by its own
// goroutine, so a slow or failing sink never delays a mutation or another sink.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transferrer moves value from a buyer to a listing owner. It is the external
// value-transfer collaborator called inside Purchase.
// *payment.Accounts and *payment.HTTPSettlement satisfy this interface.
type Transferrer interface {
	Transfer(ctx context.Context, t Transfer) (ref string, err error)
}

// Refunder is optionally implemented by a Transferrer that can reverse a
// completed transfer. The ledger uses it only when recording a purchase fails
// after the money has already moved.
type Refunder interface {
	Refund(ctx context.Context, t Transfer, ref string) error
}

// Notifier receives committed journal events in commit order.
// Implementations live in internal/notify.
type Notifier interface {
	Notify(ctx context.Context, e *Event) error
}

// Ledger is the authoritative access-control state machine.
type Ledger struct {
	store    Store
	payments Transferrer
	now      func() time.Time
	logger   *zap.Logger

	subsMu sync.RWMutex
	subs   []*subscriber
}

// New creates a Ledger over store. payments must not be nil.
func New(store Store, payments Transferrer, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:    store,
		payments: payments,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// timestamp returns the current time truncated to the precision PostgreSQL
// stores, so journal hashes survive a round-trip.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// List publishes a new listing owned by caller and returns its id.
func (l *Ledger) List(ctx context.Context, caller, title, description, locator string, price int64) (int64, error) {
	switch {
	case caller == "":
		return 0, fmt.Errorf("%w: caller is required", ErrInvalidArgument)
	case strings.TrimSpace(title) == "":
		return 0, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	case strings.TrimSpace(locator) == "":
		return 0, fmt.Errorf("%w: locator is required", ErrInvalidArgument)
	case price < 0:
		return 0, fmt.Errorf("%w: price must not be negative", ErrInvalidArgument)
	}

	listing := &Listing{
		Title:       title,
		Description: description,
		Locator:     locator,
		Owner:       caller,
		Price:       price,
		CreatedAt:   l.timestamp(),
		Active:      true,
	}

	err := l.store.Update(ctx, func(tx Tx) error {
		if err := tx.InsertListing(ctx, listing); err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, EventListed, listing.ID, caller, ListedPayload{
			ID:      listing.ID,
			Title:   listing.Title,
			Locator: listing.Locator,
			Owner:   listing.Owner,
			Price:   listing.Price,
		})
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info("listing created",
		zap.Int64("listing_id", listing.ID),
		zap.String("owner", caller),
		zap.Int64("price", price),
	)
	l.deliver()
	return listing.ID, nil
}

// Purchase grants caller access to listing id in exchange for amountPaid.
//
// The full amountPaid is transferred to the owner: overpayment is accepted
// and deliberately not refunded. The transfer and the grant are atomic: a
// failed transfer records nothing, and a grant is never recorded without a
// successful transfer.
func (l *Ledger) Purchase(ctx context.Context, caller string, id, amountPaid int64) (*PurchaseReceipt, error) {
	if caller == "" {
		return nil, fmt.Errorf("%w: caller is required", ErrInvalidArgument)
	}
	if amountPaid < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidArgument)
	}

	var (
		receipt  *PurchaseReceipt
		transfer Transfer
		ref      string
		paid     bool
	)
	err := l.store.Update(ctx, func(tx Tx) error {
		listing, err := tx.Listing(ctx, id)
		if err != nil {
			return err
		}
		if !listing.Active {
			return fmt.Errorf("%w: listing %d", ErrInactive, id)
		}
		owned, err := tx.HasPurchase(ctx, caller, id)
		if err != nil {
			return err
		}
		if owned {
			return fmt.Errorf("%w: %s already holds listing %d", ErrAlreadyPurchased, caller, id)
		}
		if amountPaid < listing.Price {
			return fmt.Errorf("%w: paid %d, price is %d", ErrInsufficientPayment, amountPaid, listing.Price)
		}

		transfer = Transfer{
			ID:        uuid.New(),
			ListingID: id,
			From:      caller,
			To:        listing.Owner,
			Amount:    amountPaid,
		}
		ref, err = l.payments.Transfer(ctx, transfer)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		paid = true

		p := &Purchase{
			Principal:   caller,
			ListingID:   id,
			AmountPaid:  amountPaid,
			TransferRef: ref,
			ReceiptID:   transfer.ID,
			PurchasedAt: l.timestamp(),
		}
		if err := l.recordPurchase(ctx, tx, p); err != nil {
			return err
		}
		receipt = &PurchaseReceipt{
			ReceiptID:   p.ReceiptID,
			ListingID:   id,
			Buyer:       caller,
			Seller:      listing.Owner,
			Price:       listing.Price,
			AmountPaid:  amountPaid,
			TransferRef: ref,
			PurchasedAt: p.PurchasedAt,
		}
		return nil
	})
	if err != nil {
		if paid {
			l.compensate(ctx, transfer, ref, err)
		}
		return nil, err
	}

	l.logger.Info("listing purchased",
		zap.Int64("listing_id", id),
		zap.String("buyer", caller),
		zap.Int64("amount_paid", amountPaid),
		zap.String("transfer_ref", receipt.TransferRef),
	)
	l.deliver()
	return receipt, nil
}

func (l *Ledger) recordPurchase(ctx context.Context, tx Tx, p *Purchase) error {
	if err := tx.InsertPurchase(ctx, p); err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	return l.appendEvent(ctx, tx, EventPurchased, p.ListingID, p.Principal, PurchasedPayload{
		ID:         p.ListingID,
		Buyer:      p.Principal,
		AmountPaid: p.AmountPaid,
	})
}

// compensate reverses a transfer whose purchase could not be recorded.
func (l *Ledger) compensate(ctx context.Context, t Transfer, ref string, cause error) {
	ctx = context.WithoutCancel(ctx)
	refunder, ok := l.payments.(Refunder)
	if !ok {
		l.logger.Error("purchase not recorded after successful transfer; manual refund required",
			zap.String("transfer_id", t.ID.String()),
			zap.String("transfer_ref", ref),
			zap.Int64("listing_id", t.ListingID),
			zap.String("buyer", t.From),
			zap.Error(cause),
		)
		return
	}
	if err := refunder.Refund(ctx, t, ref); err != nil {
		l.logger.Error("refund after failed purchase record failed",
			zap.String("transfer_id", t.ID.String()),
			zap.String("transfer_ref", ref),
			zap.Error(err),
		)
		return
	}
	l.logger.Warn("purchase record failed; transfer refunded",
		zap.String("transfer_id", t.ID.String()),
		zap.Error(cause),
	)
}

// HasAccess reports whether principal may read the locator of listing id.
// An id that does not reference a listing yields false, not an error.
func (l *Ledger) HasAccess(ctx context.Context, principal string, id int64) (bool, error) {
	var ok bool
	err := l.store.View(ctx, func(r Reader) error {
		listing, err := r.Listing(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok, err = hasAccess(ctx, r, listing, principal)
		return err
	})
	return ok, err
}

func hasAccess(ctx context.Context, r Reader, listing *Listing, principal string) (bool, error) {
	if principal == "" {
		return false, nil
	}
	if principal == listing.Owner {
		return true, nil
	}
	return r.HasPurchase(ctx, principal, listing.ID)
}

// GetDetails returns listing id as seen by caller. The locator is blanked
// unless caller has access.
func (l *Ledger) GetDetails(ctx context.Context, caller string, id int64) (*ListingView, error) {
	var view *ListingView
	err := l.store.View(ctx, func(r Reader) error {
		listing, err := r.Listing(ctx, id)
		if err != nil {
			return err
		}
		access, err := hasAccess(ctx, r, listing, caller)
		if err != nil {
			return err
		}
		view = listing.View(access)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Update replaces a listing's description and price. The title is replaced
// only when the new title is non-empty.
func (l *Ledger) Update(ctx context.Context, caller string, id int64, title, description string, price int64) error {
	if price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidArgument)
	}
	err := l.store.Update(ctx, func(tx Tx) error {
		listing, err := l.ownedListing(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if title != "" {
			listing.Title = title
		}
		listing.Description = description
		listing.Price = price
		if err := tx.SaveListing(ctx, listing); err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, EventUpdated, id, caller, UpdatedPayload{
			ID:          id,
			Title:       listing.Title,
			Description: listing.Description,
			Price:       listing.Price,
		})
	})
	if err != nil {
		return err
	}

	l.logger.Info("listing updated", zap.Int64("listing_id", id), zap.Int64("price", price))
	l.deliver()
	return nil
}

// SetActive toggles whether listing id can be purchased.
func (l *Ledger) SetActive(ctx context.Context, caller string, id int64, active bool) error {
	err := l.store.Update(ctx, func(tx Tx) error {
		listing, err := l.ownedListing(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		listing.Active = active
		if err := tx.SaveListing(ctx, listing); err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, EventActivationChanged, id, caller, ActivationChangedPayload{
			ID:     id,
			Active: active,
		})
	})
	if err != nil {
		return err
	}

	l.logger.Info("listing activation changed", zap.Int64("listing_id", id), zap.Bool("active", active))
	l.deliver()
	return nil
}

func (l *Ledger) ownedListing(ctx context.Context, tx Tx, caller string, id int64) (*Listing, error) {
	listing, err := tx.Listing(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller == "" || caller != listing.Owner {
		return nil, fmt.Errorf("%w: %q does not own listing %d", ErrUnauthorized, caller, id)
	}
	return listing, nil
}

// CountByOwner returns the number of listings owned by owner.
func (l *Ledger) CountByOwner(ctx context.Context, owner string) (int, error) {
	ids, err := l.IDsByOwner(ctx, owner)
	return len(ids), err
}

// IDsByOwner returns the ids of every listing owned by owner, ascending.
func (l *Ledger) IDsByOwner(ctx context.Context, owner string) ([]int64, error) {
	var ids []int64
	err := l.store.View(ctx, func(r Reader) error {
		var err error
		ids, err = r.ListingIDsByOwner(ctx, owner)
		return err
	})
	if ids == nil {
		ids = []int64{}
	}
	return ids, err
}

// Count returns the number of listings ever created.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.store.View(ctx, func(r Reader) error {
		var err error
		n, err = r.Count(ctx)
		return err
	})
	return n, err
}
