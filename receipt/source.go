package receipt

import (
	"context"
	"errors"
)

// ErrMissing indicates no receipt is available on the device. Posting
// cannot proceed without one, so callers treat this as terminal.
var ErrMissing = errors.New("receipt: not available")

// Source fetches the device's aggregated purchase receipt as an opaque
// blob. The blob is recomputed by the platform; concurrent reads are safe.
type Source interface {
	Receipt(ctx context.Context) ([]byte, error)
}
