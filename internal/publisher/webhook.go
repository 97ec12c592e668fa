package publisher

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

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// Webhook headers. The signature is hex HMAC-SHA256 of the raw body.
const (
	HeaderAttemptID      = "X-Sandesh-Attempt-ID"
	HeaderSuggestionID   = "X-Sandesh-Suggestion-ID"
	HeaderChannel        = "X-Sandesh-Channel"
	HeaderSignature      = "X-Sandesh-Signature"
	HeaderIdempotencyKey = "Idempotency-Key"
)

const defaultTimeout = 30 * time.Second

type WebhookRequest struct {
	URL       string
	Secret    string
	Timeout   time.Duration
	Payload   Payload
	AttemptID string
}

// Payload is the channel-agnostic body sent for one (suggestion, channel).
type Payload struct {
	SuggestionID string   `json:"suggestion_id"`
	Vertical     string   `json:"vertical"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	CTA          string   `json:"cta,omitempty"`
	Link         string   `json:"link,omitempty"`
	Urgency      string   `json:"urgency,omitempty"`
	Score        float64  `json:"score"`
	Channels     []string `json:"channels"`
}

// IdempotencyKey identifies the (suggestion, channel) pair so the receiver
// can drop duplicates after a crash between send and log.
func (p Payload) IdempotencyKey() string {
	if len(p.Channels) == 0 {
		return p.SuggestionID
	}
	return p.SuggestionID + ":" + p.Channels[0]
}

// NewPayload builds the body for one channel of s.
func NewPayload(s domain.Suggestion, ch domain.Channel) Payload {
	return Payload{
		SuggestionID: s.ID.String(),
		Vertical:     s.Vertical,
		Title:        s.Title,
		Body:         s.Body,
		CTA:          s.CTA,
		Link:         s.Link,
		Urgency:      string(s.Urgency),
		Score:        s.Score,
		Channels:     []string{string(ch)},
	}
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRetryable reports transport errors, timeouts, 429 and 5xx.
func (r WebhookResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return r.StatusCode >= 500
}

func (r WebhookResult) Outcome() domain.DeliveryOutcome {
	switch {
	case r.IsSuccess():
		return domain.OutcomeSuccess
	case r.IsRetryable():
		return domain.OutcomeRetryable
	default:
		return domain.OutcomeFatal
	}
}

type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender wraps client; nil selects a default client. Per-request
// deadlines come from WebhookRequest.Timeout.
func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{client: client}
}

// Send posts the payload with HMAC signature and idempotency headers.
func (s *HTTPSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	start := time.Now()

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "sandesh-publisher/1")
	httpReq.Header.Set(HeaderAttemptID, req.AttemptID)
	httpReq.Header.Set(HeaderSuggestionID, req.Payload.SuggestionID)
	if len(req.Payload.Channels) > 0 {
		httpReq.Header.Set(HeaderChannel, req.Payload.Channels[0])
	}
	httpReq.Header.Set(HeaderIdempotencyKey, req.Payload.IdempotencyKey())
	if req.Secret != "" {
		httpReq.Header.Set(HeaderSignature, computeSignature(req.Secret, body))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return WebhookResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
