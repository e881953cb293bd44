package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Listing is one published asset and its access price.
type Listing struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Locator     string    `json:"locator"`
	Owner       string    `json:"owner"`
	Price       int64     `json:"price"` // smallest currency unit
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
}

// View returns the caller-facing projection of l. When access is false the
// locator is redacted to the empty string.
func (l *Listing) View(access bool) *ListingView {
	v := &ListingView{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Owner:       l.Owner,
		Price:       l.Price,
		CreatedAt:   l.CreatedAt,
		Active:      l.Active,
		HasAccess:   access,
	}
	if access {
		v.Locator = l.Locator
	}
	return v
}

// ListingView is what GetDetails returns. Locator is empty unless HasAccess.
type ListingView struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Locator     string    `json:"locator"`
	Owner       string    `json:"owner"`
	Price       int64     `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
	HasAccess   bool      `json:"has_access"`
}

// Purchase is a durable grant of access for one principal to one listing.
type Purchase struct {
	Principal   string    `json:"principal"`
	ListingID   int64     `json:"listing_id"`
	AmountPaid  int64     `json:"amount_paid"`
	TransferRef string    `json:"transfer_ref"`
	ReceiptID   uuid.UUID `json:"receipt_id"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// PurchaseReceipt is returned by a successful Purchase.
// AmountPaid may exceed Price; the difference is kept by the seller.
type PurchaseReceipt struct {
	ReceiptID   uuid.UUID `json:"receipt_id"`
	ListingID   int64     `json:"listing_id"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Price       int64     `json:"price"`
	AmountPaid  int64     `json:"amount_paid"`
	TransferRef string    `json:"transfer_ref"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// Transfer describes a single value movement requested by Purchase.
// ID is unique per attempt and doubles as an idempotency key.
type Transfer struct {
	ID        uuid.UUID `json:"id"`
	ListingID int64     `json:"listing_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    int64     `json:"amount"`
}

// EventKind names a journal event type.
type EventKind string

const (
	EventListed            EventKind = "listed"
	EventPurchased         EventKind = "purchased"
	EventUpdated           EventKind = "updated"
	EventActivationChanged EventKind = "activation_changed"
)

// Event is one committed mutation in the hash-chained journal.
type Event struct {
	Seq       int64           `json:"seq"`
	Kind      EventKind       `json:"kind"`
	ListingID int64           `json:"listing_id"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	DataHash  string          `json:"data_hash"` // SHA-256 of Payload
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// ListedPayload is the body of a listed event.
type ListedPayload struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Locator string `json:"locator"`
	Owner   string `json:"owner"`
	Price   int64  `json:"price"`
}

// PurchasedPayload is the body of a purchased event.
type PurchasedPayload struct {
	ID         int64  `json:"id"`
	Buyer      string `json:"buyer"`
	AmountPaid int64  `json:"amount_paid"`
}

// UpdatedPayload is the body of an updated event.
type UpdatedPayload struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

// ActivationChangedPayload is the body of an activation_changed event.
type ActivationChangedPayload struct {
	ID     int64 `json:"id"`
	Active bool  `json:"active"`
}
