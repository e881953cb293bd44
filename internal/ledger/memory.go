package ledger

import (
	"context"
	"fmt"
	"sync"
)

type purchaseKey struct {
	principal string
	listingID int64
}

// MemoryStore is an in-memory, thread-safe Store. Update holds writeMu for
// its whole duration, which makes it the ledger's serialization point.
//
// Writes inside Update are staged and applied only when fn succeeds, under
// mu, which is held just long enough to apply them. View holds mu's read
// lock, so queries see only committed state and do not wait for an Update
// that is still running (for example one blocked on a payment transfer).
type MemoryStore struct {
	writeMu sync.Mutex // serializes Update

	mu        sync.RWMutex // guards the fields below
	listings  []*Listing // listings[i].ID == i+1
	byOwner   map[string][]int64
	purchases map[purchaseKey]*Purchase
	events    []*Event // events[i].Seq == i+1
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byOwner:   make(map[string][]int64),
		purchases: make(map[purchaseKey]*Purchase),
	}
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Only Update mutates the fields, so holding writeMu is enough to read them.
	tx := &memTx{
		memReader: memReader{s: s},
		saved:     make(map[int64]*Listing),
		purchases: make(map[purchaseKey]*Purchase),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	tx.commit()
	s.mu.Unlock()
	return nil
}

// View implements Store.
func (s *MemoryStore) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memReader{s: s})
}

// memReader reads committed state. Callers must hold s.mu.
type memReader struct {
	s *MemoryStore
}

func (r memReader) Count(_ context.Context) (int64, error) {
	return int64(len(r.s.listings)), nil
}

func (r memReader) Listing(_ context.Context, id int64) (*Listing, error) {
	if id < 1 || id > int64(len(r.s.listings)) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	cp := *r.s.listings[id-1]
	return &cp, nil
}

func (r memReader) HasPurchase(_ context.Context, principal string, id int64) (bool, error) {
	_, ok := r.s.purchases[purchaseKey{principal, id}]
	return ok, nil
}

func (r memReader) ListingIDsByOwner(_ context.Context, owner string) ([]int64, error) {
	return append([]int64(nil), r.s.byOwner[owner]...), nil
}

func (r memReader) Events(_ context.Context, after int64, limit int) ([]*Event, error) {
	return pageEvents(r.s.events, after, limit), nil
}

func (r memReader) LastEvent(_ context.Context) (*Event, error) {
	if len(r.s.events) == 0 {
		return nil, nil
	}
	cp := *r.s.events[len(r.s.events)-1]
	return &cp, nil
}

// pageEvents returns copies of up to limit events with Seq > after from a
// slice where events[i].Seq == i+1.
func pageEvents(events []*Event, after int64, limit int) []*Event {
	if after < 0 {
		after = 0
	}
	if after >= int64(len(events)) {
		return nil
	}
	end := after + int64(limit)
	if end > int64(len(events)) {
		end = int64(len(events))
	}
	out := make([]*Event, 0, end-after)
	for _, e := range events[after:end] {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// memTx stages writes on top of committed state.
type memTx struct {
	memReader
	inserted  []*Listing
	saved     map[int64]*Listing
	purchases map[purchaseKey]*Purchase
	events    []*Event
}

func (tx *memTx) Count(ctx context.Context) (int64, error) {
	n, _ := tx.memReader.Count(ctx)
	return n + int64(len(tx.inserted)), nil
}

func (tx *memTx) Listing(ctx context.Context, id int64) (*Listing, error) {
	base := int64(len(tx.s.listings))
	if id > base && id <= base+int64(len(tx.inserted)) {
		cp := *tx.inserted[id-base-1]
		return &cp, nil
	}
	if l, ok := tx.saved[id]; ok {
		cp := *l
		return &cp, nil
	}
	return tx.memReader.Listing(ctx, id)
}

func (tx *memTx) HasPurchase(ctx context.Context, principal string, id int64) (bool, error) {
	if _, ok := tx.purchases[purchaseKey{principal, id}]; ok {
		return true, nil
	}
	return tx.memReader.HasPurchase(ctx, principal, id)
}

func (tx *memTx) ListingIDsByOwner(ctx context.Context, owner string) ([]int64, error) {
	ids, _ := tx.memReader.ListingIDsByOwner(ctx, owner)
	for _, l := range tx.inserted {
		if l.Owner == owner {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func (tx *memTx) Events(_ context.Context, after int64, limit int) ([]*Event, error) {
	all := append(append([]*Event(nil), tx.s.events...), tx.events...)
	return pageEvents(all, after, limit), nil
}

func (tx *memTx) LastEvent(ctx context.Context) (*Event, error) {
	if len(tx.events) > 0 {
		cp := *tx.events[len(tx.events)-1]
		return &cp, nil
	}
	return tx.memReader.LastEvent(ctx)
}

func (tx *memTx) InsertListing(ctx context.Context, l *Listing) error {
	n, _ := tx.Count(ctx)
	l.ID = n + 1
	cp := *l
	tx.inserted = append(tx.inserted, &cp)
	return nil
}

func (tx *memTx) SaveListing(ctx context.Context, l *Listing) error {
	base := int64(len(tx.s.listings))
	cp := *l
	if l.ID > base && l.ID <= base+int64(len(tx.inserted)) {
		tx.inserted[l.ID-base-1] = &cp
		return nil
	}
	if _, err := tx.memReader.Listing(ctx, l.ID); err != nil {
		return err
	}
	tx.saved[l.ID] = &cp
	return nil
}

func (tx *memTx) InsertPurchase(ctx context.Context, p *Purchase) error {
	exists, _ := tx.HasPurchase(ctx, p.Principal, p.ListingID)
	if exists {
		return fmt.Errorf("%w: duplicate purchase entry", ErrAlreadyPurchased)
	}
	cp := *p
	tx.purchases[purchaseKey{p.Principal, p.ListingID}] = &cp
	return nil
}

func (tx *memTx) AppendEvent(ctx context.Context, e *Event) error {
	var head int64
	if last, _ := tx.LastEvent(ctx); last != nil {
		head = last.Seq
	}
	if e.Seq != head+1 {
		return fmt.Errorf("event seq %d does not follow journal head %d", e.Seq, head)
	}
	cp := *e
	tx.events = append(tx.events, &cp)
	return nil
}

// commit applies staged writes. Caller holds s.mu for writing.
func (tx *memTx) commit() {
	s := tx.s
	for id, l := range tx.saved {
		s.listings[id-1] = l
	}
	for _, l := range tx.inserted {
		s.listings = append(s.listings, l)
		s.byOwner[l.Owner] = append(s.byOwner[l.Owner], l.ID)
	}
	for k, p := range tx.purchases {
		s.purchases[k] = p
	}
	s.events = append(s.events, tx.events...)
}
