package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// PaymentChallenge holds the fields extracted from an HTTP 402 response that
// are needed to build a transfer authorization. Nonce comes exclusively from
// the challenge; it is never synthesized locally.
type PaymentChallenge struct {
	PayTo             string
	MaxAmountRequired string
	Deadline          int64 // unix seconds, authorization validity bound
	Nonce             string
	Raw               json.RawMessage
}

// SettlementResult carries settlement metadata returned by the payment
// endpoint after a successful submission
type SettlementResult struct {
	SettlementHash string
	Body           []byte
}

// PaymentSubmitter drives the challenge/response exchange with x402-style
// payment endpoints: an unauthenticated GET yields a 402 challenge, and a
// second GET carrying the signed artifact in the X-PAYMENT header settles it.
type PaymentSubmitter struct {
	httpClient *http.Client
}

// NewPaymentSubmitter creates a payment submitter with a bounded HTTP timeout
func NewPaymentSubmitter() *PaymentSubmitter {
	return &PaymentSubmitter{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchChallenge requests the payment endpoint without credentials and parses
// the 402 challenge. Challenge fields appear either at the top level of the
// body or inside the first entry of an x402 "accepts" array; both shapes are
// probed. Any response other than 402 means there is nothing to pay.
func (s *PaymentSubmitter) FetchChallenge(ctx context.Context, redirectURL string) (*PaymentChallenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, redirectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("challenge request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge response: %w", err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("%w: got HTTP %d", ErrNoPaymentChallenge, resp.StatusCode)
	}

	challenge, err := parseChallenge(body)
	if err != nil {
		return nil, err
	}

	log.Printf("💳 [Submitter] Got 402 challenge from %s (payTo: %s, amount: %s)",
		redirectURL, challenge.PayTo, challenge.MaxAmountRequired)
	return challenge, nil
}

// Submit retries the payment endpoint with the signed artifact attached.
// Callers must have persisted the artifact before calling; a submission
// failure is reported but never rolls the signed state back.
func (s *PaymentSubmitter) Submit(ctx context.Context, redirectURL, artifact string) (*SettlementResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, redirectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PAYMENT", artifact)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrSubmissionFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrSubmissionFailed, resp.StatusCode, truncateBody(body))
	}

	result := &SettlementResult{Body: body}
	if settlement := resp.Header.Get("X-PAYMENT-RESPONSE"); settlement != "" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(settlement), &meta); err == nil {
			if hash, ok := meta["hash"].(string); ok {
				result.SettlementHash = hash
			} else if hash, ok := meta["transaction"].(string); ok {
				result.SettlementHash = hash
			}
		}
		if result.SettlementHash == "" {
			result.SettlementHash = settlement
		}
	}

	log.Printf("✅ [Submitter] Payment accepted by %s (settlement: %s)", redirectURL, result.SettlementHash)
	return result, nil
}

// parseChallenge extracts the required fields from a 402 body. All four
// fields must be present; a partially formed challenge cannot be signed.
func parseChallenge(body []byte) (*PaymentChallenge, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: unparseable body", ErrMissingPaymentFields)
	}

	// x402 responses wrap requirements in accepts[0]
	source := payload
	if accepts, ok := payload["accepts"].([]interface{}); ok && len(accepts) > 0 {
		if first, ok := accepts[0].(map[string]interface{}); ok {
			source = first
		}
	}

	challenge := &PaymentChallenge{Raw: json.RawMessage(body)}
	challenge.PayTo = firstString(source, "payTo", "payToAddress", "recipient")
	challenge.MaxAmountRequired = firstString(source, "maxAmountRequired", "amount")
	challenge.Nonce = firstString(source, "nonce")
	challenge.Deadline = firstInt64(source, "deadline", "validBefore", "maxTimeoutSeconds")

	// maxTimeoutSeconds is relative; anything below a plausible epoch is
	// treated as an offset from now
	if challenge.Deadline > 0 && challenge.Deadline < 1_000_000_000 {
		challenge.Deadline = time.Now().Unix() + challenge.Deadline
	}

	var missing []string
	if challenge.PayTo == "" {
		missing = append(missing, "payTo")
	}
	if challenge.MaxAmountRequired == "" {
		missing = append(missing, "maxAmountRequired")
	}
	if challenge.Deadline == 0 {
		missing = append(missing, "deadline")
	}
	if challenge.Nonce == "" {
		missing = append(missing, "nonce")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingPaymentFields, missing)
	}

	return challenge, nil
}

func firstString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstInt64(payload map[string]interface{}, keys ...string) int64 {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case float64:
			if v > 0 {
				return int64(v)
			}
		case string:
			var parsed int64
			if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil && parsed > 0 {
				return parsed
			}
		}
	}
	return 0
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
