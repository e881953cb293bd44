package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"github.com/jmerrifield20/VideoAccessLedger/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPSettlement_Transfer(t *testing.T) {
	tr := transfer("carol", "bob", 25)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transfers", r.URL.Path)
		assert.Equal(t, tr.ID.String(), r.Header.Get("Idempotency-Key"))

		var got ledger.Transfer
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, tr, got)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"ref": "tx-42"})
	}))
	defer srv.Close()

	s := payment.NewHTTPSettlement(srv.URL+"/", time.Second, zap.NewNop())
	ref, err := s.Transfer(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, "tx-42", ref)
}

func TestHTTPSettlement_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "insufficient funds"})
	}))
	defer srv.Close()

	s := payment.NewHTTPSettlement(srv.URL, time.Second, zap.NewNop())
	_, err := s.Transfer(context.Background(), transfer("carol", "bob", 25))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Contains(t, err.Error(), "402")
}

func TestHTTPSettlement_MissingRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := payment.NewHTTPSettlement(srv.URL, time.Second, zap.NewNop())
	_, err := s.Transfer(context.Background(), transfer("carol", "bob", 1))
	assert.Error(t, err)
}

func TestHTTPSettlement_Refund(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := payment.NewHTTPSettlement(srv.URL, time.Second, zap.NewNop())
	require.NoError(t, s.Refund(context.Background(), transfer("carol", "bob", 1), "tx-42"))
	assert.Equal(t, "/transfers/tx-42/refund", path)
}
