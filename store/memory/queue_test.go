package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/subwire/purchases-go/store"
)

type recordingListener struct {
	mu           sync.Mutex
	transactions []*store.Transaction
	restoreDone  int
	restoreErrs  []error
	promos       []store.Product
	resume       func()
}

func (r *recordingListener) OnTransactionUpdated(tx *store.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, tx)
}

func (r *recordingListener) OnRestoreCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restoreDone++
}

func (r *recordingListener) OnRestoreFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restoreErrs = append(r.restoreErrs, err)
}

func (r *recordingListener) OnPromoPurchase(product store.Product, resume func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promos = append(r.promos, product)
	r.resume = resume
}

func (r *recordingListener) snapshot() []*store.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*store.Transaction, len(r.transactions))
	copy(out, r.transactions)
	return out
}

func TestQueue_BuffersUntilListenerAttached(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	id1 := q.EmitPurchased("com.subwire.monthly")
	id2 := q.EmitFailed("com.subwire.annual", store.ErrCancelled)

	l := &recordingListener{}
	q.SetListener(l)

	require.Eventually(t, func() bool {
		return len(l.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	txs := l.snapshot()
	require.Equal(t, id1, txs[0].ID)
	require.Equal(t, store.StatePurchased, txs[0].State)
	require.Equal(t, id2, txs[1].ID)
	require.Equal(t, store.StateFailed, txs[1].State)
	require.Equal(t, store.ErrCancelled, txs[1].Err)

	// Replay happens once; nothing further arrives.
	time.Sleep(20 * time.Millisecond)
	require.Len(t, l.snapshot(), 2)
}

func TestQueue_DetachStopsDelivery(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	l := &recordingListener{}
	q.SetListener(l)
	q.SetListener(nil)

	q.EmitPurchased("com.subwire.monthly")
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, l.snapshot())

	// Re-attaching replays the buffered event.
	q.SetListener(l)
	require.Eventually(t, func() bool {
		return len(l.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_AutoApprove(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	q.SetAutoApprove(true)

	l := &recordingListener{}
	q.SetListener(l)

	product := store.Product{ID: "com.subwire.monthly"}
	q.Enqueue(store.Payment{Product: product, Quantity: 1})

	require.Eventually(t, func() bool {
		return len(l.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	txs := l.snapshot()
	require.Equal(t, store.StatePurchasing, txs[0].State)
	require.Equal(t, store.StatePurchased, txs[1].State)
	require.Equal(t, txs[0].ID, txs[1].ID)
	require.Equal(t, product.ID, txs[1].ProductID)
}

func TestQueue_ScriptedRestore(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	restored := []*store.Transaction{
		{ID: "t5", ProductID: "p1", State: store.StateRestored, OriginalID: "t1"},
		{ID: "t6", ProductID: "p2", State: store.StateRestored, OriginalID: "t2"},
	}
	q.ScriptRestore(restored, nil)

	l := &recordingListener{}
	q.SetListener(l)
	q.Restore()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.restoreDone == 1 && len(l.transactions) == 2
	}, time.Second, 5*time.Millisecond)

	txs := l.snapshot()
	require.Equal(t, "t5", txs[0].ID)
	require.Equal(t, "t6", txs[1].ID)
}

func TestQueue_ScriptedRestoreFailure(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	scripted := errors.New("store unreachable")
	q.ScriptRestore(nil, scripted)

	l := &recordingListener{}
	q.SetListener(l)
	q.Restore()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.restoreErrs) == 1
	}, time.Second, 5*time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Equal(t, scripted, l.restoreErrs[0])
	require.Zero(t, l.restoreDone)
}

func TestQueue_PromoResumeEnqueuesOriginalPayment(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	l := &recordingListener{}
	q.SetListener(l)

	product := store.Product{ID: "com.subwire.promo"}
	q.EmitPromoPurchase(product)

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.promos) == 1
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, q.Payments())

	l.mu.Lock()
	resume := l.resume
	l.mu.Unlock()
	resume()

	payments := q.Payments()
	require.Len(t, payments, 1)
	require.Equal(t, product.ID, payments[0].Product.ID)
	require.Equal(t, 1, payments[0].Quantity)
}
