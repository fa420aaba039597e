// Package purchases couples the store broker's transaction queue to the
// subscription backend. It posts every purchased or restored transaction
// exactly once, finalizes it with the store on every terminal outcome,
// and reports results to a single observer.
package purchases

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/subwire/purchases-go/backend"
	"github.com/subwire/purchases-go/backend/rest"
	"github.com/subwire/purchases-go/catalog"
	"github.com/subwire/purchases-go/receipt"
	"github.com/subwire/purchases-go/store"
)

var (
	ErrEmptyAPIKey    = errors.New("purchases: api key must not be empty")
	ErrEmptyAppUserID = errors.New("purchases: app user id must not be empty")
)

const (
	defaultRetryAttempts = 6
	defaultRetryDelay    = 500 * time.Millisecond
	defaultRetryMaxDelay = 8 * time.Second

	// Additive jitter of up to a quarter of the base delay.
	defaultRetryJitter = 125 * time.Millisecond
)

// Purchases is the purchase coordinator. Construct one per app user as
// soon as a stable user identifier is known; the identifier attributes
// every receipt post for the instance's whole life.
type Purchases struct {
	log       *zap.Logger
	appUserID string

	backend  backend.Client
	queue    store.Queue
	receipts receipt.Source
	catalog  *catalog.Client

	retryAttempts uint
	retryDelay    time.Duration
	retryMaxDelay time.Duration
	retryJitter   time.Duration

	// Concurrent transaction posts share one receipt read.
	receiptGroup singleflight.Group

	runCh     chan func()
	done      chan struct{}
	closeOnce sync.Once

	// The fields below are owned by the serial loop.
	observer        Observer
	pendingPosts    map[string]struct{}
	pendingPromo    map[string]*DeferredPurchase
	restoring       bool
	restoreTerminal bool
	restorePending  int
	restoreInfo     *backend.PurchaserInfo
	restoreErr      error
}

type Option func(*Purchases)

// WithBackend replaces the default HTTP backend client.
func WithBackend(b backend.Client) Option {
	return func(p *Purchases) { p.backend = b }
}

// WithCatalog attaches a product catalog client for Products lookups.
func WithCatalog(c *catalog.Client) Option {
	return func(p *Purchases) { p.catalog = c }
}

// New creates a coordinator bound to apiKey and appUserID. Both must be
// non-empty. The transaction queue stays disarmed until an observer is
// attached, so transactions emitted before the app is ready are preserved
// by the store.
func New(log *zap.Logger, apiKey, appUserID string, q store.Queue, r receipt.Source, opts ...Option) (*Purchases, error) {
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if appUserID == "" {
		return nil, ErrEmptyAppUserID
	}

	p := &Purchases{
		log:       log,
		appUserID: appUserID,
		queue:     q,
		receipts:  r,

		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
		retryMaxDelay: defaultRetryMaxDelay,
		retryJitter:   defaultRetryJitter,

		runCh:        make(chan func(), 64),
		done:         make(chan struct{}),
		pendingPosts: map[string]struct{}{},
		pendingPromo: map[string]*DeferredPurchase{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.backend == nil {
		p.backend = rest.NewClient(log, apiKey)
	}

	go p.run()
	return p, nil
}

func (p *Purchases) run() {
	for {
		select {
		case fn := <-p.runCh:
			fn()
		case <-p.done:
			return
		}
	}
}

// dispatch queues fn onto the serial loop. After Close it is a no-op, so
// late backend completions and stale deferments fall on the floor.
func (p *Purchases) dispatch(fn func()) {
	select {
	case p.runCh <- fn:
	case <-p.done:
	}
}

// SetObserver attaches the observer and arms the transaction queue.
// Passing nil disarms the queue; events emitted while disarmed are
// preserved by the store and replayed on the next attach.
func (p *Purchases) SetObserver(o Observer) {
	p.dispatch(func() {
		prev := p.observer
		p.observer = o
		if o != nil && prev == nil {
			p.queue.SetListener(queueListener{p})
		} else if o == nil && prev != nil {
			p.queue.SetListener(nil)
		}
	})
}

// Products resolves product identifiers asynchronously. The result may be
// shorter than ids; lookup failures yield an empty list.
func (p *Purchases) Products(ctx context.Context, ids []string, completion func([]store.Product)) {
	go func() {
		if p.catalog == nil {
			completion(nil)
			return
		}
		completion(p.catalog.Products(ctx, ids))
	}()
}

// Purchase enqueues a payment for the product. Call it only in direct
// response to user intent; duplicate purchases are the store's concern.
// The outcome arrives through the observer.
func (p *Purchases) Purchase(product store.Product) {
	p.PurchaseQuantity(product, 1)
}

// PurchaseQuantity is Purchase with an explicit quantity, for consumable
// products.
func (p *Purchases) PurchaseQuantity(product store.Product, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	p.log.Debug("Enqueueing payment",
		zap.String("product_id", product.ID),
		zap.Int("quantity", quantity),
	)
	p.queue.Enqueue(store.Payment{Product: product, Quantity: quantity})
}

// RestorePurchases asks the store to replay the account's completed
// transactions. The batch ends with a single OnRestoreCompleted or
// OnRestoreFailed on observers that implement RestoreObserver.
func (p *Purchases) RestorePurchases() {
	p.dispatch(func() {
		if p.restoring {
			p.log.Debug("Restore already in progress")
			return
		}
		p.restoring = true
		p.restoreTerminal = false
		p.restorePending = 0
		p.restoreInfo = nil
		p.restoreErr = nil
		p.queue.Restore()
	})
}

// RefreshPurchaserInfo fetches purchaser info without a receipt. Call it
// when the host app becomes active. Failures are not reported.
func (p *Purchases) RefreshPurchaserInfo() {
	go func() {
		info, err := p.backend.GetPurchaserInfo(context.Background(), p.appUserID)
		if err != nil {
			p.log.Debug("Purchaser info refresh failed", zap.Error(err))
			return
		}
		p.dispatch(func() {
			if o := p.observer; o != nil {
				o.OnPurchaserInfoUpdated(info)
			}
		})
	}()
}

// AppUserID returns the identifier receipts are attributed to.
func (p *Purchases) AppUserID() string {
	return p.appUserID
}

// Close disarms the queue and stops the serial loop. In-flight backend
// completions are dropped when they return, and outstanding deferments
// become no-ops.
func (p *Purchases) Close() {
	p.closeOnce.Do(func() {
		p.queue.SetListener(nil)
		close(p.done)
	})
}
