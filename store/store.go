package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Payment-level failures reported by the broker on a failed transaction.
var (
	ErrCancelled          = errors.New("store: user cancelled the payment")
	ErrPaymentNotAllowed  = errors.New("store: payments are not allowed on this device")
	ErrProductUnavailable = errors.New("store: product is not available for purchase")
)

type TransactionState uint8

const (
	StateUnknown TransactionState = iota
	StatePurchasing
	StatePurchased
	StateFailed
	StateRestored
	StateDeferred
)

func (s TransactionState) String() string {
	switch s {
	case StatePurchasing:
		return "purchasing"
	case StatePurchased:
		return "purchased"
	case StateFailed:
		return "failed"
	case StateRestored:
		return "restored"
	case StateDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Product describes a purchasable item as listed by the store.
type Product struct {
	ID       string
	Title    string
	Price    decimal.Decimal
	Currency string // ISO 4217 code, e.g. "USD"

	// SubscriptionPeriod is an ISO 8601 duration ("P1M", "P1Y").
	// Empty for non-subscription products.
	SubscriptionPeriod string
}

// Payment is a request to purchase a product. It lives on the broker's
// queue until the resulting transaction reaches a terminal state.
type Payment struct {
	Product  Product
	Quantity int
}

// Transaction is created by the broker and redelivered until finished.
type Transaction struct {
	ID        string
	ProductID string
	State     TransactionState

	// Err is set when State == StateFailed.
	Err error

	// OriginalID references the transaction a restored transaction
	// replays. Empty otherwise.
	OriginalID string
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Listener receives queue events in the order the broker emits them.
//
// OnPromoPurchase reports a purchase initiated from the storefront. The
// resume callback enqueues the original payment; it may be invoked at
// most once, at any later time.
type Listener interface {
	OnTransactionUpdated(tx *Transaction)
	OnRestoreCompleted()
	OnRestoreFailed(err error)
	OnPromoPurchase(product Product, resume func())
}

// Queue is the transaction queue surface of the store broker.
//
// The broker preserves undelivered transactions while no listener is
// attached and replays them, in order, when one attaches.
type Queue interface {
	// SetListener attaches l to the queue. Passing nil detaches the
	// current listener.
	SetListener(l Listener)

	// Enqueue submits a payment. The outcome arrives later as one or
	// more transaction updates.
	Enqueue(payment Payment)

	// Finish tells the broker it may drop the transaction from its
	// redelivery queue.
	Finish(txID string)

	// Restore asks the broker to replay the account's completed
	// transactions, ending with OnRestoreCompleted or OnRestoreFailed.
	Restore()
}

// ProductFetcher resolves product identifiers into store listings.
// Unknown identifiers are omitted from the result.
type ProductFetcher interface {
	FetchProducts(ctx context.Context, ids []string) ([]Product, error)
}
