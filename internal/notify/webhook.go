package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Vidledger-Signature"

// WebhookNotifier POSTs each event to a fixed set of URLs, signing the body
// with a shared secret. Each URL gets up to len(delays) attempts.
type WebhookNotifier struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(urls []string, secret string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (w *WebhookNotifier) SetMetricsRecorder(fn MetricsRecorder) {
	w.onMetrics = fn
}

// SetRetryDelays replaces the wait before each attempt. The number of
// delays is the number of attempts.
func (w *WebhookNotifier) SetRetryDelays(delays ...time.Duration) {
	if len(delays) > 0 {
		w.delays = delays
	}
}

// Notify implements ledger.Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, e *ledger.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.Seq, err)
	}
	signature := SignPayload(body, w.secret)

	var errs []error
	for _, url := range w.urls {
		if err := w.deliver(ctx, url, e, body, signature); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebhookNotifier) deliver(ctx context.Context, url string, e *ledger.Event, body []byte, signature string) error {
	var lastErr string
	for attempt, delay := range w.delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		ok, errMsg := w.doDelivery(ctx, url, e, body, signature)
		if w.onMetrics != nil {
			w.onMetrics("webhook", ok)
		}
		if ok {
			return nil
		}
		lastErr = errMsg

		w.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.Int64("seq", e.Seq),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
	return fmt.Errorf("webhook %s: event %d: %s", url, e.Seq, lastErr)
}

func (w *WebhookNotifier) doDelivery(ctx context.Context, url string, e *ledger.Event, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set("X-Vidledger-Event", string(e.Kind))
	req.Header.Set("X-Vidledger-Seq", strconv.FormatInt(e.Seq, 10))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// SignPayload computes the "sha256=<hex>" HMAC signature of body.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
