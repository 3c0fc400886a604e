package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ResultKind classifies a ChannelAdapter.Send outcome (spec.md §4.8).
type ResultKind string

const (
	ResultOK        ResultKind = "ok"
	ResultRetryable ResultKind = "retryable"
	ResultPermanent ResultKind = "permanent"
)

// SendResult is one ChannelAdapter.Send outcome. RetryHint, when set, is a
// floor under the outbox's own backoff delay (a server-indicated rate-limit
// window): the retry is scheduled after the longer of the two.
type SendResult struct {
	Kind      ResultKind
	Reason    string
	RetryHint time.Duration
}

// ChannelAdapter is the pluggable delivery transport (spec.md §4.8).
type ChannelAdapter interface {
	Send(ctx context.Context, intent Intent) SendResult
}

// WebhookAdapter posts intents as a JSON embed to a webhook URL, grounded
// on the pack's Discord alert notifier.
type WebhookAdapter struct {
	url    string
	client *http.Client
}

// NewWebhookAdapter builds a WebhookAdapter posting to url.
func NewWebhookAdapter(url string) *WebhookAdapter {
	return &WebhookAdapter{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (a *WebhookAdapter) Send(ctx context.Context, intent Intent) SendResult {
	body := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       string(intent.Type),
				"description": intent.Message,
				"timestamp":   intent.OccurredAt.Format(time.RFC3339),
				"fields": map[string]interface{}{
					"run_id": intent.RunID,
					"symbol": intent.Symbol,
				},
			},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return SendResult{Kind: ResultPermanent, Reason: fmt.Sprintf("failed to encode intent: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(data))
	if err != nil {
		return SendResult{Kind: ResultPermanent, Reason: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return SendResult{Kind: ResultRetryable, Reason: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		hint := parseRetryAfter(resp.Header.Get("Retry-After"))
		return SendResult{Kind: ResultRetryable, Reason: "rate limited", RetryHint: hint}
	case resp.StatusCode >= 500:
		return SendResult{Kind: ResultRetryable, Reason: fmt.Sprintf("server error %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return SendResult{Kind: ResultPermanent, Reason: fmt.Sprintf("client error %d", resp.StatusCode)}
	default:
		return SendResult{Kind: ResultOK}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 0
}
