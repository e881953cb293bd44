package ledger

import "context"

// Store is the persistence boundary of the Ledger. Implementations must
// guarantee that Update calls never interleave and that View observes only
// committed state.
type Store interface {
	// Update runs fn serially with respect to every other Update. Writes made
	// through tx become visible only if fn returns nil and the commit succeeds.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against a consistent snapshot of committed state.
	View(ctx context.Context, fn func(r Reader) error) error
}

// Reader is the read side of a Store.
type Reader interface {
	// Count returns the number of listings ever created.
	Count(ctx context.Context) (int64, error)

	// Listing returns a copy of listing id, or ErrNotFound.
	Listing(ctx context.Context, id int64) (*Listing, error)

	// HasPurchase reports whether a purchase entry exists for (principal, id).
	HasPurchase(ctx context.Context, principal string, id int64) (bool, error)

	// ListingIDsByOwner returns owner's listing ids in ascending order.
	ListingIDsByOwner(ctx context.Context, owner string) ([]int64, error)

	// Events returns up to limit journal events with Seq > after, ascending.
	Events(ctx context.Context, after int64, limit int) ([]*Event, error)

	// LastEvent returns the journal head, or nil when the journal is empty.
	LastEvent(ctx context.Context) (*Event, error)
}

// Tx is the write side of a Store, valid only inside Update.
type Tx interface {
	Reader

	// InsertListing stores l under the next id (Count()+1) and sets l.ID.
	InsertListing(ctx context.Context, l *Listing) error

	// SaveListing overwrites the mutable fields of an existing listing.
	SaveListing(ctx context.Context, l *Listing) error

	// InsertPurchase records a purchase entry.
	InsertPurchase(ctx context.Context, p *Purchase) error

	// AppendEvent persists a fully formed journal event.
	AppendEvent(ctx context.Context, e *Event) error
}
