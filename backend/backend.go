package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// PurchaserInfo is the backend-authoritative snapshot of a user's
// entitlements. The SDK treats it as opaque and replaces it wholesale on
// every refresh; the application decodes Raw into whatever view it needs.
type PurchaserInfo struct {
	Raw json.RawMessage
}

type ErrorClass uint8

const (
	ErrorClassUnknown ErrorClass = iota
	ErrorClassNetwork            // transport failure or timeout; retryable
	ErrorClassServer             // 5xx; retryable
	ErrorClassClient             // 4xx; not retryable
	ErrorClassDecode             // malformed response body; not retryable
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassNetwork:
		return "network"
	case ErrorClassServer:
		return "server"
	case ErrorClassClient:
		return "client"
	case ErrorClassDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is a classified backend failure.
type Error struct {
	Class   ErrorClass
	Status  int // HTTP status, 0 for transport failures
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("backend: %s error: %v", e.Class, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("backend: %s error: status %d: %s", e.Class, e.Status, e.Message)
	default:
		return fmt.Sprintf("backend: %s error: %s", e.Class, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Retryable() bool {
	return e.Class == ErrorClassNetwork || e.Class == ErrorClassServer
}

// IsRetryable reports whether err is a backend failure worth retrying.
// Anything that is not a classified backend error is not retried.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable()
	}
	return false
}

// Client talks to the subscription backend. Re-posting the same receipt
// is safe; idempotence is the backend's responsibility.
type Client interface {
	// PostReceipt records the receipt under appUserID and returns the
	// updated purchaser info. productID is optional and attributes the
	// post to a specific product.
	PostReceipt(ctx context.Context, receipt []byte, appUserID, productID string) (*PurchaserInfo, error)

	// GetPurchaserInfo fetches the current purchaser info without a
	// receipt.
	GetPurchaserInfo(ctx context.Context, appUserID string) (*PurchaserInfo, error)
}
