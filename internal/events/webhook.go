package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"
)

// Doer sends one HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// WebhookNotifier posts every event to a subscriber URL, signed with
// ComputeSignature so the receiver can verify origin and freshness.
type WebhookNotifier struct {
	URL    string
	Secret string
	// Topics restricts delivery; empty delivers every topic.
	Topics []string
	HTTP   Doer
	Now    func() time.Time
}

// Notify implements Notifier.
func (n WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	if n.URL == "" || n.HTTP == nil {
		return errors.New("events: webhook not configured")
	}
	if len(n.Topics) > 0 && !slices.Contains(n.Topics, ev.Topic) {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode webhook body: %w", err)
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	ts := now().Unix()
	eventID := ev.ID.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	if n.Secret != "" {
		req.Header.Set("X-Signature", ComputeSignature(n.Secret, ts, eventID, body))
	}
	resp, err := n.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("events: deliver %s: %w", ev.Topic, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("events: deliver %s: status %d", ev.Topic, resp.StatusCode)
	}
	return nil
}

// ComputeSignature is the hex HMAC-SHA256 of "<ts>.<eventID>.<body>".
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
