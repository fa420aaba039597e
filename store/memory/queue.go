package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/subwire/purchases-go/store"
)

type delivery func(store.Listener)

// Queue is an in-process store broker. Events are delivered from a single
// goroutine in emission order; events emitted while no listener is
// attached are buffered and replayed exactly once on attach.
type Queue struct {
	cmds chan func()
	done chan struct{}

	// owned by the delivery goroutine
	listener store.Listener
	buffered []delivery

	mu          sync.Mutex
	products    map[string]store.Product
	payments    []store.Payment
	finished    []string
	autoApprove bool
	restoreTxs  []*store.Transaction
	restoreErr  error
}

func NewQueue() *Queue {
	q := &Queue{
		cmds:     make(chan func(), 256),
		done:     make(chan struct{}),
		products: map[string]store.Product{},
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	for {
		select {
		case fn := <-q.cmds:
			fn()
		case <-q.done:
			return
		}
	}
}

func (q *Queue) submit(fn func()) {
	select {
	case q.cmds <- fn:
	case <-q.done:
	}
}

func (q *Queue) deliver(d delivery) {
	if q.listener == nil {
		q.buffered = append(q.buffered, d)
		return
	}
	d(q.listener)
}

func (q *Queue) Close() {
	close(q.done)
}

// SetListener implements store.Queue. Attaching flushes any buffered
// events before new ones are delivered.
func (q *Queue) SetListener(l store.Listener) {
	q.submit(func() {
		q.listener = l
		if l == nil {
			return
		}
		pending := q.buffered
		q.buffered = nil
		for _, d := range pending {
			d(l)
		}
	})
}

func (q *Queue) Enqueue(payment store.Payment) {
	q.mu.Lock()
	q.payments = append(q.payments, payment)
	approve := q.autoApprove
	q.mu.Unlock()

	if approve {
		id := uuid.NewString()
		q.emitTransaction(&store.Transaction{
			ID:        id,
			ProductID: payment.Product.ID,
			State:     store.StatePurchasing,
		})
		q.emitTransaction(&store.Transaction{
			ID:        id,
			ProductID: payment.Product.ID,
			State:     store.StatePurchased,
		})
	}
}

func (q *Queue) Finish(txID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished = append(q.finished, txID)
}

func (q *Queue) Restore() {
	q.mu.Lock()
	txs := q.restoreTxs
	err := q.restoreErr
	q.mu.Unlock()

	for _, tx := range txs {
		q.emitTransaction(tx)
	}
	if err != nil {
		q.submit(func() {
			q.deliver(func(l store.Listener) { l.OnRestoreFailed(err) })
		})
		return
	}
	q.submit(func() {
		q.deliver(func(l store.Listener) { l.OnRestoreCompleted() })
	})
}

// FetchProducts implements store.ProductFetcher over the registered set.
func (q *Queue) FetchProducts(_ context.Context, ids []string) ([]store.Product, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []store.Product
	for _, id := range ids {
		if p, ok := q.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// RegisterProduct adds a product to the broker's listing.
func (q *Queue) RegisterProduct(p store.Product) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.products[p.ID] = p
}

// SetAutoApprove makes Enqueue emit purchasing followed by purchased for
// every payment, as a cooperative store would.
func (q *Queue) SetAutoApprove(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.autoApprove = v
}

// ScriptRestore sets the transactions (and optional terminal error) that
// the next Restore call replays.
func (q *Queue) ScriptRestore(txs []*store.Transaction, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.restoreTxs = txs
	q.restoreErr = err
}

// EmitPurchased emits a purchased transaction for the product and returns
// the generated transaction ID.
func (q *Queue) EmitPurchased(productID string) string {
	id := uuid.NewString()
	q.emitTransaction(&store.Transaction{
		ID:        id,
		ProductID: productID,
		State:     store.StatePurchased,
	})
	return id
}

// EmitFailed emits a failed transaction carrying err.
func (q *Queue) EmitFailed(productID string, err error) string {
	id := uuid.NewString()
	q.emitTransaction(&store.Transaction{
		ID:        id,
		ProductID: productID,
		State:     store.StateFailed,
		Err:       err,
	})
	return id
}

// EmitRestored emits a restored transaction replaying originalID.
func (q *Queue) EmitRestored(productID, originalID string) string {
	id := uuid.NewString()
	q.emitTransaction(&store.Transaction{
		ID:         id,
		ProductID:  productID,
		State:      store.StateRestored,
		OriginalID: originalID,
	})
	return id
}

// EmitTransaction emits tx as-is.
func (q *Queue) EmitTransaction(tx *store.Transaction) {
	q.emitTransaction(tx)
}

func (q *Queue) emitTransaction(tx *store.Transaction) {
	cloned := tx.Clone()
	q.submit(func() {
		q.deliver(func(l store.Listener) { l.OnTransactionUpdated(cloned) })
	})
}

// EmitRestoreCompleted emits the restore batch terminal.
func (q *Queue) EmitRestoreCompleted() {
	q.submit(func() {
		q.deliver(func(l store.Listener) { l.OnRestoreCompleted() })
	})
}

// EmitRestoreFailed emits a failed restore terminal.
func (q *Queue) EmitRestoreFailed(err error) {
	q.submit(func() {
		q.deliver(func(l store.Listener) { l.OnRestoreFailed(err) })
	})
}

// EmitPromoPurchase emits a storefront-initiated purchase request for the
// product. The resume capsule enqueues the original payment.
func (q *Queue) EmitPromoPurchase(product store.Product) {
	resume := func() {
		q.Enqueue(store.Payment{Product: product, Quantity: 1})
	}
	q.submit(func() {
		q.deliver(func(l store.Listener) { l.OnPromoPurchase(product, resume) })
	})
}

// Payments returns a snapshot of payments enqueued so far.
func (q *Queue) Payments() []store.Payment {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]store.Payment, len(q.payments))
	copy(out, q.payments)
	return out
}

// Finished returns a snapshot of finished transaction IDs, in finish order.
func (q *Queue) Finished() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.finished))
	copy(out, q.finished)
	return out
}
