package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"go.uber.org/zap"
)

// HTTPSettlement forwards transfers to an external settlement service.
//
//	POST {base}/transfers              -> 2xx {"ref": "..."}
//	POST {base}/transfers/{ref}/refund -> 2xx
//
// The transfer ID is sent as the Idempotency-Key header so the service can
// deduplicate retries made by the calling collaborator.
type HTTPSettlement struct {
	base       string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPSettlement creates an HTTPSettlement for the service at baseURL.
func NewHTTPSettlement(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPSettlement {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSettlement{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type transferResponse struct {
	Ref   string `json:"ref"`
	Error string `json:"error"`
}

// Transfer implements ledger.Transferrer.
func (s *HTTPSettlement) Transfer(ctx context.Context, t ledger.Transfer) (string, error) {
	var resp transferResponse
	if err := s.post(ctx, "/transfers", t.ID.String(), t, &resp); err != nil {
		return "", err
	}
	if resp.Ref == "" {
		return "", fmt.Errorf("settlement returned no transfer reference")
	}
	return resp.Ref, nil
}

// Refund implements ledger.Refunder.
func (s *HTTPSettlement) Refund(ctx context.Context, t ledger.Transfer, ref string) error {
	return s.post(ctx, "/transfers/"+url.PathEscape(ref)+"/refund", "refund-"+t.ID.String(), t, nil)
}

func (s *HTTPSettlement) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal settlement request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("settlement request: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e transferResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("settlement rejected transfer (HTTP %d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("settlement rejected transfer (HTTP %d)", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode settlement response: %w", err)
	}
	s.logger.Debug("settlement call ok", zap.String("path", path), zap.Int("status", resp.StatusCode))
	return nil
}
