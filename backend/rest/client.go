package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/subwire/purchases-go/backend"
)

const (
	defaultBaseURL = "https://api.subwire.io"
	defaultTimeout = 30 * time.Second
)

// Client is the HTTP implementation of backend.Client.
type Client struct {
	log     *zap.Logger
	apiKey  string
	baseURL string
	hc      *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func NewClient(log *zap.Logger, apiKey string, opts ...Option) *Client {
	c := &Client{
		log:     log,
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		hc:      &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type postReceiptRequest struct {
	AppUserID         string `json:"app_user_id"`
	FetchToken        string `json:"fetch_token"`
	ProductIdentifier string `json:"product_identifier,omitempty"`
}

func (c *Client) PostReceipt(ctx context.Context, receipt []byte, appUserID, productID string) (*backend.PurchaserInfo, error) {
	body, err := json.Marshal(postReceiptRequest{
		AppUserID:         appUserID,
		FetchToken:        base64.StdEncoding.EncodeToString(receipt),
		ProductIdentifier: productID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal receipt request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/receipts", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create receipt request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) GetPurchaserInfo(ctx context.Context, appUserID string) (*backend.PurchaserInfo, error) {
	endpoint := c.baseURL + "/subscribers/" + url.PathEscape(appUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create subscriber request")
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*backend.PurchaserInfo, error) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	log := c.log.With(
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
	)

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Debug("Request failed", zap.Error(err))
		return nil, &backend.Error{Class: backend.ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Debug("Failed to read response body", zap.Error(err))
		return nil, &backend.Error{Class: backend.ErrorClassNetwork, Err: err}
	}

	log = log.With(zap.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500:
		log.Debug("Server error")
		return nil, &backend.Error{
			Class:   backend.ErrorClassServer,
			Status:  resp.StatusCode,
			Message: errorMessage(payload),
		}
	case resp.StatusCode >= 400:
		log.Debug("Client error")
		return nil, &backend.Error{
			Class:   backend.ErrorClassClient,
			Status:  resp.StatusCode,
			Message: errorMessage(payload),
		}
	}

	if !json.Valid(payload) {
		log.Debug("Response body is not valid JSON")
		return nil, &backend.Error{
			Class:   backend.ErrorClassDecode,
			Status:  resp.StatusCode,
			Message: "response body is not valid JSON",
		}
	}

	return &backend.PurchaserInfo{Raw: payload}, nil
}

func errorMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(payload)
}
