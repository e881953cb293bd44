package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeBank records every transfer and can be told to reject them.
type fakeBank struct {
	mu        sync.Mutex
	transfers []ledger.Transfer
	refunds   []string
	failWith  error
	delay     time.Duration
}

func (b *fakeBank) Transfer(_ context.Context, t ledger.Transfer) (string, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return "", b.failWith
	}
	b.transfers = append(b.transfers, t)
	return "ref-" + t.ID.String(), nil
}

func (b *fakeBank) Refund(_ context.Context, _ ledger.Transfer, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refunds = append(b.refunds, ref)
	return nil
}

func (b *fakeBank) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transfers)
}

// recorder is a Notifier that keeps every event and can fail on demand.
type recorder struct {
	mu     sync.Mutex
	events []*ledger.Event
	fail   bool
	delay  time.Duration
	calls  int
}

func (r *recorder) Notify(_ context.Context, e *ledger.Event) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return errors.New("sink unavailable")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func (r *recorder) seqs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Seq)
	}
	return out
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *fakeBank) {
	t.Helper()
	bank := &fakeBank{}
	return ledger.New(ledger.NewMemoryStore(), bank, zap.NewNop()), bank
}

func mustList(t *testing.T, l *ledger.Ledger, owner, title string, price int64) int64 {
	t.Helper()
	id, err := l.List(context.Background(), owner, title, "desc", "ipfs://"+title, price)
	require.NoError(t, err)
	return id
}

func TestList_AssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	for want := int64(1); want <= 3; want++ {
		before, err := l.Count(ctx)
		require.NoError(t, err)
		id := mustList(t, l, "alice", "clip", 10)
		assert.Equal(t, before+1, id)
		assert.Equal(t, want, id)
	}
}

func TestList_Validation(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	cases := []struct {
		name                   string
		caller, title, locator string
		price                  int64
	}{
		{"empty caller", "", "t", "loc", 1},
		{"empty title", "alice", "", "loc", 1},
		{"blank title", "alice", "   ", "loc", 1},
		{"empty locator", "alice", "t", "", 1},
		{"negative price", "alice", "t", "loc", -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.List(ctx, tc.caller, tc.title, "", tc.locator, tc.price)
			assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
		})
	}

	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestList_ZeroPriceAllowed(t *testing.T) {
	l, _ := newTestLedger(t)
	id := mustList(t, l, "alice", "free", 0)

	v, err := l.GetDetails(context.Background(), "alice", id)
	require.NoError(t, err)
	assert.Zero(t, v.Price)
	assert.True(t, v.Active)
}

// bob lists, carol underpays then pays, dave is never granted.
func TestPurchase_Scenario(t *testing.T) {
	ctx := context.Background()
	l, bank := newTestLedger(t)

	id, err := l.List(ctx, "bob", "Sunset", "timelapse", "bafy-sunset", 100)
	require.NoError(t, err)

	_, err = l.Purchase(ctx, "carol", id, 99)
	assert.ErrorIs(t, err, ledger.ErrInsufficientPayment)
	assert.Zero(t, bank.count())

	receipt, err := l.Purchase(ctx, "carol", id, 100)
	require.NoError(t, err)
	assert.Equal(t, "carol", receipt.Buyer)
	assert.Equal(t, "bob", receipt.Seller)
	assert.Equal(t, int64(100), receipt.AmountPaid)
	assert.NotEmpty(t, receipt.TransferRef)

	require.Equal(t, 1, bank.count())
	assert.Equal(t, "carol", bank.transfers[0].From)
	assert.Equal(t, "bob", bank.transfers[0].To)
	assert.Equal(t, int64(100), bank.transfers[0].Amount)

	ok, err := l.HasAccess(ctx, "carol", id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.HasAccess(ctx, "dave", id)
	require.NoError(t, err)
	assert.False(t, ok)

	carol, err := l.GetDetails(ctx, "carol", id)
	require.NoError(t, err)
	assert.Equal(t, "bafy-sunset", carol.Locator)
	assert.True(t, carol.HasAccess)

	dave, err := l.GetDetails(ctx, "dave", id)
	require.NoError(t, err)
	assert.Empty(t, dave.Locator)
	assert.False(t, dave.HasAccess)
	assert.Equal(t, "Sunset", dave.Title)
}

func TestPurchase_AlreadyPurchased(t *testing.T) {
	ctx := context.Background()
	l, bank := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	_, err := l.Purchase(ctx, "carol", id, 10)
	require.NoError(t, err)

	_, err = l.Purchase(ctx, "carol", id, 10)
	assert.ErrorIs(t, err, ledger.ErrAlreadyPurchased)
	assert.Equal(t, 1, bank.count(), "a rejected repeat purchase must not move money")
}

func TestPurchase_Overpayment(t *testing.T) {
	ctx := context.Background()
	l, bank := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	receipt, err := l.Purchase(ctx, "carol", id, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(10), receipt.Price)
	assert.Equal(t, int64(25), receipt.AmountPaid)
	require.Equal(t, 1, bank.count())
	assert.Equal(t, int64(25), bank.transfers[0].Amount)
	assert.Empty(t, bank.refunds)
}

func TestPurchase_InactiveListing(t *testing.T) {
	ctx := context.Background()
	l, bank := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	require.NoError(t, l.SetActive(ctx, "bob", id, false))
	_, err := l.Purchase(ctx, "carol", id, 10)
	assert.ErrorIs(t, err, ledger.ErrInactive)
	assert.Zero(t, bank.count())

	require.NoError(t, l.SetActive(ctx, "bob", id, true))
	_, err = l.Purchase(ctx, "carol", id, 10)
	assert.NoError(t, err)
}

func TestPurchase_NotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	for _, id := range []int64{0, -1, 1, 42} {
		_, err := l.Purchase(context.Background(), "carol", id, 10)
		assert.ErrorIs(t, err, ledger.ErrNotFound, "id %d", id)
	}
}

func TestPurchase_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	_, err := l.Purchase(ctx, "", id, 10)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = l.Purchase(ctx, "carol", id, -5)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestPurchase_TransferFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	l, bank := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	before, err := l.Events(ctx, 0, 0)
	require.NoError(t, err)

	bank.failWith = errors.New("card declined")
	_, err = l.Purchase(ctx, "carol", id, 10)
	require.ErrorIs(t, err, ledger.ErrTransferFailed)
	assert.Equal(t, "transfer_failed", ledger.Code(err))

	ok, err := l.HasAccess(ctx, "carol", id)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := l.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	// The failed attempt must not block a later one.
	bank.failWith = nil
	_, err = l.Purchase(ctx, "carol", id, 10)
	assert.NoError(t, err)
}

// brokenRecordStore is a MemoryStore whose transactions cannot record purchases.
type brokenRecordStore struct {
	*ledger.MemoryStore
	err error
}

func (s brokenRecordStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.MemoryStore.Update(ctx, func(tx ledger.Tx) error {
		return fn(brokenRecordTx{Tx: tx, err: s.err})
	})
}

type brokenRecordTx struct {
	ledger.Tx
	err error
}

func (tx brokenRecordTx) InsertPurchase(context.Context, *ledger.Purchase) error {
	return tx.err
}

// transferOnly hides fakeBank's Refund method.
type transferOnly struct{ bank *fakeBank }

func (t transferOnly) Transfer(ctx context.Context, tr ledger.Transfer) (string, error) {
	return t.bank.Transfer(ctx, tr)
}

func TestPurchase_RecordFailureRefundsTransfer(t *testing.T) {
	ctx := context.Background()
	bank := &fakeBank{}
	store := brokenRecordStore{MemoryStore: ledger.NewMemoryStore(), err: errors.New("disk full")}
	l := ledger.New(store, bank, zap.NewNop())
	id := mustList(t, l, "bob", "clip", 10)

	_, err := l.Purchase(ctx, "carol", id, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "internal", ledger.Code(err))

	bank.mu.Lock()
	require.Len(t, bank.transfers, 1)
	require.Len(t, bank.refunds, 1)
	assert.Equal(t, "ref-"+bank.transfers[0].ID.String(), bank.refunds[0])
	bank.mu.Unlock()

	ok, err := l.HasAccess(ctx, "carol", id)
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := l.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1, "only the listing is journaled")
	assert.Equal(t, ledger.EventListed, events[0].Kind)
}

func TestPurchase_RecordFailureWithoutRefunderIsLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	bank := &fakeBank{}
	store := brokenRecordStore{MemoryStore: ledger.NewMemoryStore(), err: errors.New("disk full")}
	l := ledger.New(store, transferOnly{bank: bank}, zap.New(core))
	id := mustList(t, l, "bob", "clip", 10)

	_, err := l.Purchase(ctx, "carol", id, 10)
	require.Error(t, err)

	assert.Equal(t, 1, bank.count())
	bank.mu.Lock()
	assert.Empty(t, bank.refunds)
	bank.mu.Unlock()

	entries := logs.FilterMessageSnippet("manual refund required").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "carol", entries[0].ContextMap()["buyer"])

	ok, err := l.HasAccess(ctx, "carol", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

// gatedBank blocks each transfer until release is closed.
type gatedBank struct {
	started chan struct{}
	release chan struct{}
}

func (b gatedBank) Transfer(_ context.Context, t ledger.Transfer) (string, error) {
	close(b.started)
	<-b.release
	return "ref-" + t.ID.String(), nil
}

func TestMemoryStore_ReadsDoNotWaitForTransfer(t *testing.T) {
	ctx := context.Background()
	bank := gatedBank{started: make(chan struct{}), release: make(chan struct{})}
	l := ledger.New(ledger.NewMemoryStore(), bank, zap.NewNop())
	id := mustList(t, l, "bob", "clip", 10)

	done := make(chan error, 1)
	go func() {
		_, err := l.Purchase(ctx, "carol", id, 10)
		done <- err
	}()
	<-bank.started

	readDone := make(chan bool, 1)
	go func() {
		ok, _ := l.HasAccess(ctx, "carol", id)
		readDone <- ok
	}()
	select {
	case ok := <-readDone:
		assert.False(t, ok, "an in-flight purchase is not visible")
	case <-time.After(time.Second):
		t.Fatal("HasAccess blocked behind an in-flight transfer")
	}

	close(bank.release)
	require.NoError(t, <-done)
	ok, err := l.HasAccess(ctx, "carol", id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPurchase_OwnerMayPurchase(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	ok, err := l.HasAccess(ctx, "bob", id)
	require.NoError(t, err)
	assert.True(t, ok, "owner always has access")

	_, err = l.Purchase(ctx, "bob", id, 10)
	assert.NoError(t, err)
}

func TestPurchase_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	l, bank := newTestLedger(t)
	bank.delay = 2 * time.Millisecond
	id := mustList(t, l, "bob", "clip", 10)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Purchase(ctx, "carol", id, 10)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ledger.ErrAlreadyPurchased):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, dupes)
	assert.Equal(t, 1, bank.count())
}

func TestHasAccess_UnknownListing(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	mustList(t, l, "bob", "clip", 10)

	for _, id := range []int64{0, -3, 2, 1 << 40} {
		ok, err := l.HasAccess(ctx, "bob", id)
		require.NoError(t, err)
		assert.False(t, ok, "id %d", id)
	}

	ok, err := l.HasAccess(ctx, "", 1)
	require.NoError(t, err)
	assert.False(t, ok, "empty principal never has access")
}

func TestGetDetails_NotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.GetDetails(context.Background(), "bob", 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, "not_found", ledger.Code(err))
}

func TestGetDetails_AnonymousIsRedacted(t *testing.T) {
	l, _ := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	v, err := l.GetDetails(context.Background(), "", id)
	require.NoError(t, err)
	assert.Empty(t, v.Locator)
	assert.False(t, v.HasAccess)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	require.NoError(t, l.Update(ctx, "bob", id, "", "new description", 20))
	v, err := l.GetDetails(ctx, "bob", id)
	require.NoError(t, err)
	assert.Equal(t, "clip", v.Title, "empty title keeps the old one")
	assert.Equal(t, "new description", v.Description)
	assert.Equal(t, int64(20), v.Price)

	require.NoError(t, l.Update(ctx, "bob", id, "renamed", "", 5))
	v, err = l.GetDetails(ctx, "bob", id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", v.Title)
	assert.Empty(t, v.Description)
	assert.Equal(t, "ipfs://clip", v.Locator, "locator is immutable")
}

func TestUpdate_Errors(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	assert.ErrorIs(t, l.Update(ctx, "carol", id, "x", "", 1), ledger.ErrUnauthorized)
	assert.ErrorIs(t, l.Update(ctx, "bob", id+1, "x", "", 1), ledger.ErrNotFound)
	assert.ErrorIs(t, l.Update(ctx, "bob", id, "x", "", -1), ledger.ErrInvalidArgument)
	assert.ErrorIs(t, l.SetActive(ctx, "carol", id, false), ledger.ErrUnauthorized)
	assert.ErrorIs(t, l.SetActive(ctx, "bob", 99, false), ledger.ErrNotFound)
}

func TestUpdate_PriceChangeDoesNotAffectExistingGrant(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	id := mustList(t, l, "bob", "clip", 10)

	_, err := l.Purchase(ctx, "carol", id, 10)
	require.NoError(t, err)
	require.NoError(t, l.Update(ctx, "bob", id, "", "", 1000))
	require.NoError(t, l.SetActive(ctx, "bob", id, false))

	ok, err := l.HasAccess(ctx, "carol", id)
	require.NoError(t, err)
	assert.True(t, ok, "grants are permanent")
}

func TestIDsByOwner(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	mustList(t, l, "bob", "a", 1)
	mustList(t, l, "alice", "b", 1)
	mustList(t, l, "bob", "c", 1)

	ids, err := l.IDsByOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	n, err := l.CountByOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err = l.IDsByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "ok", ledger.Code(nil))
	assert.Equal(t, "internal", ledger.Code(errors.New("boom")))
	assert.Equal(t, "inactive", ledger.Code(ledger.ErrInactive))
	assert.Equal(t, "unauthorized", ledger.Code(ledger.ErrUnauthorized))
	assert.Equal(t, "already_purchased", ledger.Code(ledger.ErrAlreadyPurchased))
	assert.Equal(t, "insufficient_payment", ledger.Code(ledger.ErrInsufficientPayment))
	assert.Equal(t, "invalid_argument", ledger.Code(ledger.ErrInvalidArgument))
}
