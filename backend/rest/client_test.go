package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/subwire/purchases-go/backend"
)

func TestClient_PostReceipt(t *testing.T) {
	log := zap.Must(zap.NewDevelopment())

	var (
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/receipts", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		payload, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(payload, &gotBody))

		w.Write([]byte(`{"entitlements":{"pro":{}}}`))
	}))
	defer srv.Close()

	c := NewClient(log, "sk_test", WithBaseURL(srv.URL))
	info, err := c.PostReceipt(context.Background(), []byte{0x01, 0x02}, "u1", "P1")
	require.NoError(t, err)
	require.JSONEq(t, `{"entitlements":{"pro":{}}}`, string(info.Raw))

	require.Equal(t, "Bearer sk_test", gotAuth)
	require.Equal(t, map[string]any{
		"app_user_id":        "u1",
		"fetch_token":        "AQI=",
		"product_identifier": "P1",
	}, gotBody)
}

func TestClient_PostReceipt_OmitsEmptyProduct(t *testing.T) {
	log := zap.Must(zap.NewDevelopment())

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(payload, &gotBody))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(log, "sk_test", WithBaseURL(srv.URL))
	_, err := c.PostReceipt(context.Background(), []byte{0xff}, "u1", "")
	require.NoError(t, err)
	require.NotContains(t, gotBody, "product_identifier")
}

func TestClient_GetPurchaserInfo(t *testing.T) {
	log := zap.Must(zap.NewDevelopment())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/subscribers/user one", r.URL.Path)
		w.Write([]byte(`{"subscriber":{}}`))
	}))
	defer srv.Close()

	c := NewClient(log, "sk_test", WithBaseURL(srv.URL))
	info, err := c.GetPurchaserInfo(context.Background(), "user one")
	require.NoError(t, err)
	require.JSONEq(t, `{"subscriber":{}}`, string(info.Raw))
}

func TestClient_ErrorClassification(t *testing.T) {
	log := zap.Must(zap.NewDevelopment())

	for _, tc := range []struct {
		name      string
		status    int
		body      string
		class     backend.ErrorClass
		retryable bool
	}{
		{name: "client 400", status: 400, body: `{"message":"bad receipt"}`, class: backend.ErrorClassClient},
		{name: "client 404", status: 404, body: `{}`, class: backend.ErrorClassClient},
		{name: "server 500", status: 500, body: `{}`, class: backend.ErrorClassServer, retryable: true},
		{name: "server 503", status: 503, body: `{}`, class: backend.ErrorClassServer, retryable: true},
		{name: "decode", status: 200, body: `not json`, class: backend.ErrorClassDecode},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(log, "sk_test", WithBaseURL(srv.URL))
			_, err := c.PostReceipt(context.Background(), []byte{0x01}, "u1", "P1")
			require.Error(t, err)

			var be *backend.Error
			require.ErrorAs(t, err, &be)
			require.Equal(t, tc.class, be.Class)
			require.Equal(t, tc.retryable, backend.IsRetryable(err))
		})
	}
}

func TestClient_ClientErrorCarriesMessage(t *testing.T) {
	log := zap.Must(zap.NewDevelopment())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid fetch token"}`))
	}))
	defer srv.Close()

	c := NewClient(log, "sk_test", WithBaseURL(srv.URL))
	_, err := c.PostReceipt(context.Background(), []byte{0x01}, "u1", "P1")

	var be *backend.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, http.StatusBadRequest, be.Status)
	require.Equal(t, "invalid fetch token", be.Message)
}

func TestClient_TransportFailureIsNetwork(t *testing.T) {
	log := zap.Must(zap.NewDevelopment())

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient(log, "sk_test", WithBaseURL(srv.URL))
	_, err := c.GetPurchaserInfo(context.Background(), "u1")

	var be *backend.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, backend.ErrorClassNetwork, be.Class)
	require.True(t, backend.IsRetryable(err))
}

func TestClient_TimeoutIsNetwork(t *testing.T) {
	log := zap.Must(zap.NewDevelopment())

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(log, "sk_test", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := c.GetPurchaserInfo(context.Background(), "u1")

	var be *backend.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, backend.ErrorClassNetwork, be.Class)
	require.True(t, backend.IsRetryable(err))
}
