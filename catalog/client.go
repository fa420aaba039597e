package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/ReneKroon/ttlcache"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/subwire/purchases-go/store"
)

const DefaultTTL = 5 * time.Minute

// Client resolves product identifiers through the store broker, caching
// listings so repeated paywall hits skip the round trip. Lookups never
// fail: unknown identifiers are omitted and transport errors collapse to
// whatever the cache can serve.
type Client struct {
	log     *zap.Logger
	fetcher store.ProductFetcher
	cache   *ttlcache.Cache
}

func NewClient(log *zap.Logger, fetcher store.ProductFetcher, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Client{
		log:     log,
		fetcher: fetcher,
		cache:   cache,
	}
}

// Products resolves ids into store listings. The order of the result is
// unspecified and it may be shorter than ids.
func (c *Client) Products(ctx context.Context, ids []string) []store.Product {
	var (
		out  []store.Product
		miss []string
	)
	for _, id := range ids {
		if cached, ok := c.cache.Get(id); ok {
			out = append(out, cached.(store.Product))
			continue
		}
		miss = append(miss, id)
	}
	if len(miss) == 0 {
		return out
	}

	fetched, err := c.fetcher.FetchProducts(ctx, miss)
	if err != nil {
		c.log.Debug("Product fetch failed", zap.Strings("ids", miss), zap.Error(err))
		return out
	}
	for _, p := range fetched {
		c.cache.Set(p.ID, p)
		out = append(out, p)
	}
	return out
}

// DisplayPrice renders the product's price with its currency symbol,
// falling back to the bare amount when the currency code is unknown.
func DisplayPrice(p store.Product) string {
	unit, err := currency.ParseISO(p.Currency)
	if err != nil {
		return p.Price.String()
	}
	printer := message.NewPrinter(language.English)
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(p.Price.InexactFloat64())))
}

// DisplayName renders a short "title (price)" line for paywall logging.
func DisplayName(p store.Product) string {
	return fmt.Sprintf("%s (%s)", p.Title, DisplayPrice(p))
}
