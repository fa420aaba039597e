package purchases

import (
	"github.com/subwire/purchases-go/backend"
	"github.com/subwire/purchases-go/store"
)

// Observer receives purchase outcomes. A single observer is attached at a
// time and the coordinator does not own it; clear it with SetObserver(nil)
// before releasing the instance.
//
// Notifications can arrive any time after the observer is attached, not
// only in response to Purchase calls. All of them are delivered from one
// serial context, in backend completion order.
type Observer interface {
	// OnPurchaseCompleted reports a transaction that was finalized with
	// the store after the backend accepted the receipt.
	OnPurchaseCompleted(tx *store.Transaction, info *backend.PurchaserInfo)

	// OnPurchaseFailed reports a transaction that terminated without a
	// successful post: store failure (including user cancellation),
	// missing receipt, or a non-retryable backend error.
	OnPurchaseFailed(tx *store.Transaction, err error)

	// OnPurchaserInfoUpdated reports purchaser info refreshed outside a
	// purchase, e.g. when the host app returns to the foreground.
	OnPurchaserInfoUpdated(info *backend.PurchaserInfo)
}

// RestoreObserver is implemented by observers that initiate restores.
// Exactly one of the two callbacks fires per restore batch.
type RestoreObserver interface {
	OnRestoreCompleted(info *backend.PurchaserInfo)
	OnRestoreFailed(err error)
}

// PromoObserver is implemented by observers that accept purchases
// initiated from the storefront. Return true to proceed immediately.
// Return false and keep the deferment to resume the purchase later via
// Resume; return false and drop it to abandon the purchase. Observers
// without this interface abandon all promotional purchases.
type PromoObserver interface {
	ShouldPurchasePromo(product store.Product, deferment *DeferredPurchase) bool
}

// DeferredPurchase resumes a declined promotional purchase. Resume
// enqueues the original payment at most once; after the Purchases
// instance is closed it is a no-op.
type DeferredPurchase struct {
	p       *Purchases
	product store.Product
	resume  func()
}

func (d *DeferredPurchase) Product() store.Product {
	return d.product
}

func (d *DeferredPurchase) Resume() {
	d.p.dispatch(func() {
		cur, ok := d.p.pendingPromo[d.product.ID]
		if !ok || cur != d {
			return
		}
		delete(d.p.pendingPromo, d.product.ID)
		d.resume()
	})
}
