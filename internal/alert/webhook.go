package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier POSTs alerts as JSON to a fixed endpoint, signed with
// HMAC-SHA256 so the receiver can authenticate the sender.
type WebhookNotifier struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier creates a WebhookNotifier. secret is the shared HMAC
// key; the signature is sent as X-Veritas-Signature.
func NewWebhookNotifier(url, secret string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Notify implements Notifier. Retries with backoff: 1s, 5s.
func (w *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	signature := signPayload(body, w.secret)

	delays := []time.Duration{0, 1 * time.Second, 5 * time.Second}
	var lastErr error
	for attempt, delay := range delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = w.post(ctx, body, signature); lastErr == nil {
			return nil
		}
		w.logger.Warn("alert webhook delivery failed",
			zap.String("url", w.url),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Veritas-Signature", signature)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// signPayload computes an HMAC-SHA256 signature over the request body.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
