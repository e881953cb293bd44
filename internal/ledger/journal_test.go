package ledger_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_RecordsEveryMutation(t *testing.T) {
	ctx := context.Background()
	l, bank := newTestLedger(t)

	id := mustList(t, l, "bob", "clip", 10)
	_, err := l.Purchase(ctx, "carol", id, 10)
	require.NoError(t, err)
	require.NoError(t, l.Update(ctx, "bob", id, "", "d", 12))
	require.NoError(t, l.SetActive(ctx, "bob", id, false))

	// Rejected operations leave no events.
	_, err = l.Purchase(ctx, "dave", id, 12)
	require.ErrorIs(t, err, ledger.ErrInactive)
	require.Error(t, l.Update(ctx, "carol", id, "", "", 1))
	require.Equal(t, 1, bank.count())

	events, err := l.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)

	kinds := make([]ledger.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []ledger.EventKind{
		ledger.EventListed, ledger.EventPurchased, ledger.EventUpdated, ledger.EventActivationChanged,
	}, kinds)

	assert.Equal(t, ledger.GenesisHash, events[0].PrevHash)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Hash, events[i].PrevHash)
		assert.Equal(t, int64(i+1), events[i].Seq)
	}

	var purchased ledger.PurchasedPayload
	require.NoError(t, json.Unmarshal(events[1].Payload, &purchased))
	assert.Equal(t, "carol", purchased.Buyer)
	assert.Equal(t, int64(10), purchased.AmountPaid)

	n, err := l.VerifyJournal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestJournal_Paging(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	for i := 0; i < 5; i++ {
		mustList(t, l, "bob", "clip", 1)
	}

	page, err := l.Events(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)

	page, err = l.Events(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestJournal_TimestampsUseClock(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	l.SetClock(func() time.Time { return fixed })

	id := mustList(t, l, "bob", "clip", 1)
	v, err := l.GetDetails(ctx, "bob", id)
	require.NoError(t, err)
	assert.Equal(t, fixed.Truncate(time.Microsecond), v.CreatedAt)

	_, err = l.VerifyJournal(ctx)
	assert.NoError(t, err)
}

func TestDelivery_InCommitOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l, _ := newTestLedger(t)
	mustList(t, l, "bob", "before-subscribe", 1)

	rec := &recorder{}
	require.NoError(t, l.Subscribe(ctx, "rec", rec))

	id := mustList(t, l, "bob", "clip", 10)
	_, err := l.Purchase(ctx, "carol", id, 10)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(rec.seqs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{2, 3}, rec.seqs(), "delivery starts after the journal head at Subscribe")
}

func TestDelivery_RetriedAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l, _ := newTestLedger(t)
	rec := &recorder{fail: true}
	require.NoError(t, l.Subscribe(ctx, "rec", rec))

	id := mustList(t, l, "bob", "clip", 10)
	_, err := l.Purchase(ctx, "carol", id, 10)
	require.NoError(t, err, "notifier failures never fail the committed operation")

	err = l.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rec")
	assert.Empty(t, rec.seqs())

	rec.setFail(false)
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, []int64{1, 2}, rec.seqs())

	// Nothing is delivered twice once acknowledged.
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, []int64{1, 2}, rec.seqs())
}

func TestDelivery_BackgroundRetryRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l, _ := newTestLedger(t)
	rec := &recorder{fail: true}
	require.NoError(t, l.Subscribe(ctx, "rec", rec))

	mustList(t, l, "bob", "clip", 10)
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.calls >= 1
	}, time.Second, 5*time.Millisecond)

	rec.setFail(false)
	assert.Eventually(t, func() bool { return len(rec.seqs()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestDelivery_SlowSinkDoesNotBlockMutations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l, _ := newTestLedger(t)

	slow := &recorder{fail: true, delay: 200 * time.Millisecond}
	healthy := &recorder{}
	require.NoError(t, l.Subscribe(ctx, "slow", slow))
	require.NoError(t, l.Subscribe(ctx, "healthy", healthy))

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.List(ctx, "bob", "clip", "", "bafy", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 150*time.Millisecond, "mutations must not wait for delivery")

	// A stuck sink neither stalls nor duplicates delivery to the others.
	assert.Eventually(t, func() bool { return len(healthy.seqs()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, healthy.seqs())
}
