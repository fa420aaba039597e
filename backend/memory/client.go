package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/subwire/purchases-go/backend"
)

// PostRecord captures one PostReceipt call.
type PostRecord struct {
	Receipt   []byte
	AppUserID string
	ProductID string
}

type result struct {
	info *backend.PurchaserInfo
	err  error
}

// Client is a scripted backend.Client. Queued results are consumed in
// order; when the queue is empty, calls succeed with a canned info.
type Client struct {
	mu            sync.Mutex
	postResults   []result
	postByProduct map[string][]result
	postDelays    map[string]time.Duration
	infoResults   []result
	posts         []PostRecord
	infoCalls     []string
}

func NewClient() *Client {
	return &Client{
		postByProduct: map[string][]result{},
		postDelays:    map[string]time.Duration{},
	}
}

func cannedInfo() *backend.PurchaserInfo {
	return &backend.PurchaserInfo{Raw: json.RawMessage(`{"entitlements":{}}`)}
}

func (c *Client) PostReceipt(_ context.Context, receipt []byte, appUserID, productID string) (*backend.PurchaserInfo, error) {
	c.mu.Lock()

	blob := make([]byte, len(receipt))
	copy(blob, receipt)
	c.posts = append(c.posts, PostRecord{
		Receipt:   blob,
		AppUserID: appUserID,
		ProductID: productID,
	})

	r := result{info: cannedInfo()}
	if keyed := c.postByProduct[productID]; len(keyed) > 0 {
		r = keyed[0]
		c.postByProduct[productID] = keyed[1:]
	} else if len(c.postResults) > 0 {
		r = c.postResults[0]
		c.postResults = c.postResults[1:]
	}
	delay := c.postDelays[productID]
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return r.info, r.err
}

func (c *Client) GetPurchaserInfo(_ context.Context, appUserID string) (*backend.PurchaserInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.infoCalls = append(c.infoCalls, appUserID)

	if len(c.infoResults) > 0 {
		r := c.infoResults[0]
		c.infoResults = c.infoResults[1:]
		return r.info, r.err
	}
	return cannedInfo(), nil
}

// QueuePostResult appends an outcome for a future PostReceipt call.
func (c *Client) QueuePostResult(info *backend.PurchaserInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postResults = append(c.postResults, result{info: info, err: err})
}

// QueuePostResultFor appends an outcome consumed only by posts for the
// given product. Keyed outcomes take precedence over the global queue.
func (c *Client) QueuePostResultFor(productID string, info *backend.PurchaserInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postByProduct[productID] = append(c.postByProduct[productID], result{info: info, err: err})
}

// SetPostDelay makes posts for the given product sleep before returning,
// to pin completion order in tests.
func (c *Client) SetPostDelay(productID string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postDelays[productID] = d
}

// QueueInfoResult appends an outcome for a future GetPurchaserInfo call.
func (c *Client) QueueInfoResult(info *backend.PurchaserInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoResults = append(c.infoResults, result{info: info, err: err})
}

// Posts returns a snapshot of recorded PostReceipt calls.
func (c *Client) Posts() []PostRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PostRecord, len(c.posts))
	copy(out, c.posts)
	return out
}

// InfoCalls returns the app user IDs passed to GetPurchaserInfo.
func (c *Client) InfoCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.infoCalls))
	copy(out, c.infoCalls)
	return out
}
