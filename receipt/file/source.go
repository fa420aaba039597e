package file

import (
	"context"
	"os"

	"github.com/subwire/purchases-go/receipt"
)

// Source reads the receipt blob from a fixed path, the location the
// platform writes the aggregated receipt to.
type Source struct {
	path string
}

func NewSource(path string) *Source {
	return &Source{path: path}
}

func (s *Source) Receipt(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, receipt.ErrMissing
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, receipt.ErrMissing
	}
	return data, nil
}
