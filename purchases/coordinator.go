package purchases

import (
	"context"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/subwire/purchases-go/backend"
	"github.com/subwire/purchases-go/store"
)

// queueListener bridges broker callbacks onto the serial loop.
type queueListener struct {
	p *Purchases
}

func (l queueListener) OnTransactionUpdated(tx *store.Transaction) {
	l.p.dispatch(func() { l.p.handleTransaction(tx) })
}

func (l queueListener) OnRestoreCompleted() {
	l.p.dispatch(func() { l.p.handleRestoreTerminal(nil) })
}

func (l queueListener) OnRestoreFailed(err error) {
	l.p.dispatch(func() { l.p.handleRestoreTerminal(err) })
}

func (l queueListener) OnPromoPurchase(product store.Product, resume func()) {
	l.p.dispatch(func() { l.p.handlePromo(product, resume) })
}

func (p *Purchases) handleTransaction(tx *store.Transaction) {
	log := p.log.With(
		zap.String("transaction_id", tx.ID),
		zap.String("product_id", tx.ProductID),
		zap.Stringer("state", tx.State),
	)

	switch tx.State {
	case store.StatePurchasing, store.StateDeferred:
		log.Debug("Observed transaction")

	case store.StateFailed:
		log.Debug("Transaction failed at the store", zap.Error(tx.Err))
		p.queue.Finish(tx.ID)
		if o := p.observer; o != nil {
			o.OnPurchaseFailed(tx, tx.Err)
		}

	case store.StatePurchased, store.StateRestored:
		if _, inFlight := p.pendingPosts[tx.ID]; inFlight {
			log.Debug("Duplicate transaction event dropped")
			return
		}
		p.pendingPosts[tx.ID] = struct{}{}

		inBatch := tx.State == store.StateRestored && p.restoring
		if inBatch {
			p.restorePending++
		}
		log.Debug("Posting transaction receipt")
		go p.postTransaction(tx, inBatch)

	default:
		log.Debug("Ignoring transaction in unknown state")
	}
}

// postTransaction runs off the serial loop: it reads the receipt, posts
// it with the retry budget, and re-enters via dispatch.
func (p *Purchases) postTransaction(tx *store.Transaction, inBatch bool) {
	ctx := context.Background()

	blob, err := p.fetchReceipt(ctx)
	if err != nil {
		p.log.Warn("Receipt unavailable",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
		p.dispatch(func() { p.finishPost(tx, inBatch, nil, err) })
		return
	}

	var info *backend.PurchaserInfo
	err = retry.Do(
		func() error {
			posted, perr := p.backend.PostReceipt(ctx, blob, p.appUserID, tx.ProductID)
			if perr != nil {
				return perr
			}
			info = posted
			return nil
		},
		retry.RetryIf(backend.IsRetryable),
		retry.Attempts(p.retryAttempts),
		retry.Delay(p.retryDelay),
		retry.MaxDelay(p.retryMaxDelay),
		retry.MaxJitter(p.retryJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
	p.dispatch(func() { p.finishPost(tx, inBatch, info, err) })
}

func (p *Purchases) fetchReceipt(ctx context.Context) ([]byte, error) {
	v, err, _ := p.receiptGroup.Do("receipt", func() (interface{}, error) {
		return p.receipts.Receipt(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// finishPost runs on the serial loop once a post reaches a terminal
// outcome. The transaction is finalized either way so the store stops
// redelivering it.
func (p *Purchases) finishPost(tx *store.Transaction, inBatch bool, info *backend.PurchaserInfo, err error) {
	delete(p.pendingPosts, tx.ID)
	p.queue.Finish(tx.ID)

	log := p.log.With(
		zap.String("transaction_id", tx.ID),
		zap.String("product_id", tx.ProductID),
	)

	if inBatch {
		p.restorePending--
		if err != nil {
			log.Warn("Restored transaction failed to post", zap.Error(err))
			if p.restoreErr == nil {
				p.restoreErr = err
			}
		} else {
			// Last success wins for the batch terminal.
			p.restoreInfo = info
		}
		p.maybeFinishRestore()
		return
	}

	if err != nil {
		log.Warn("Receipt post failed", zap.Error(err))
		if o := p.observer; o != nil {
			o.OnPurchaseFailed(tx, err)
		}
		return
	}

	log.Debug("Receipt posted")
	if o := p.observer; o != nil {
		o.OnPurchaseCompleted(tx, info)
	}
}

func (p *Purchases) handleRestoreTerminal(err error) {
	if !p.restoring {
		return
	}
	p.restoreTerminal = true
	if err != nil && p.restoreErr == nil {
		p.restoreErr = err
	}
	p.maybeFinishRestore()
}

func (p *Purchases) maybeFinishRestore() {
	if !p.restoring || !p.restoreTerminal || p.restorePending > 0 {
		return
	}

	info := p.restoreInfo
	err := p.restoreErr
	p.restoring = false
	p.restoreTerminal = false
	p.restoreInfo = nil
	p.restoreErr = nil

	ro, ok := p.observer.(RestoreObserver)
	if !ok {
		return
	}

	switch {
	case info != nil:
		ro.OnRestoreCompleted(info)
	case err != nil:
		ro.OnRestoreFailed(err)
	default:
		// Nothing was replayed. Resolve the terminal info with a
		// receiptless fetch instead of reporting an empty success.
		go func() {
			info, err := p.backend.GetPurchaserInfo(context.Background(), p.appUserID)
			p.dispatch(func() {
				ro, ok := p.observer.(RestoreObserver)
				if !ok {
					return
				}
				if err != nil {
					ro.OnRestoreFailed(err)
					return
				}
				ro.OnRestoreCompleted(info)
			})
		}()
	}
}

func (p *Purchases) handlePromo(product store.Product, resume func()) {
	po, ok := p.observer.(PromoObserver)
	if !ok {
		p.log.Debug("Promotional purchase abandoned; observer does not handle promos",
			zap.String("product_id", product.ID),
		)
		return
	}

	d := &DeferredPurchase{p: p, product: product, resume: resume}
	if po.ShouldPurchasePromo(product, d) {
		resume()
		return
	}
	p.pendingPromo[product.ID] = d
}
