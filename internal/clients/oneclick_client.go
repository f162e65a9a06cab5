package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"anypay-backend/internal/config"
	"anypay-backend/internal/models"
)

// ErrNoDepositAddress is returned when a quote comes back without a usable
// receiving address in any known location
var ErrNoDepositAddress = errors.New("quote response contains no deposit address")

// OneClickClient swap aggregator API client (1-Click style).
// The aggregator's response shapes vary call-to-call, so every logical value
// is extracted through an ordered list of field-name candidates here; the
// rest of the system only ever sees the normalized types.
type OneClickClient struct {
	baseURL    string
	jwt        string
	httpClient *http.Client
}

// NewOneClickClient creates a new aggregator client
func NewOneClickClient(cfg config.OneClickConfig) *OneClickClient {
	timeout := 15 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &OneClickClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		jwt:     cfg.JWT,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// QuoteRequest quote request matching the aggregator API format
type QuoteRequest struct {
	Dry                bool   `json:"dry"`
	SwapType           string `json:"swapType"` // EXACT_INPUT / EXACT_OUTPUT / FLEX_INPUT
	SlippageTolerance  int    `json:"slippageTolerance"`
	OriginAsset        string `json:"originAsset"`
	DepositType        string `json:"depositType"`
	DestinationAsset   string `json:"destinationAsset"`
	Amount             string `json:"amount"`
	RefundTo           string `json:"refundTo"`
	RefundType         string `json:"refundType"`
	Recipient          string `json:"recipient"`
	RecipientType      string `json:"recipientType"`
	Deadline           string `json:"deadline"` // ISO timestamp
	Referral           string `json:"referral,omitempty"`
	QuoteWaitingTimeMs int    `json:"quoteWaitingTimeMs,omitempty"`
	SessionID          string `json:"sessionId,omitempty"`
}

// Quote normalized quote result
type Quote struct {
	DepositAddress string
	Deadline       time.Time
	Raw            json.RawMessage // stored verbatim on the record for later field extraction
}

// ExecutionStatus normalized swap execution status
type ExecutionStatus struct {
	Status string // normalized per models.SwapStatus, unknown values preserved uppercase
	Raw    json.RawMessage
}

// GetQuote requests a swap quote and extracts the deposit address and deadline.
// Returns ErrNoDepositAddress when the quote carries no usable address.
func (c *OneClickClient) GetQuote(ctx context.Context, req *QuoteRequest) (*Quote, error) {
	body, err := c.makeRequest(ctx, "POST", "/v0/quote", req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	// Deposit address location varies: top level, nested quote object, or "address"
	depositAddress, ok := probeString(payload,
		"depositAddress", "quote.depositAddress", "address", "quote.address")
	if !ok || depositAddress == "" {
		return nil, ErrNoDepositAddress
	}

	deadline, ok := probeTime(payload,
		"deadline", "quote.deadline", "expirationTime", "quote.expirationTime")
	if !ok {
		deadline = time.Time{}
	}

	return &Quote{
		DepositAddress: depositAddress,
		Deadline:       deadline,
		Raw:            json.RawMessage(body),
	}, nil
}

// GetExecutionStatus polls current swap status for a deposit address.
// A single call may lag the true on-chain state; callers poll.
func (c *OneClickClient) GetExecutionStatus(ctx context.Context, depositAddress string) (*ExecutionStatus, error) {
	params := url.Values{}
	params.Add("depositAddress", depositAddress)

	body, err := c.makeRequest(ctx, "GET", "/v0/status?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}

	raw, _ := probeString(payload, "status", "executionStatus", "state")
	return &ExecutionStatus{
		Status: NormalizeSwapStatus(raw),
		Raw:    json.RawMessage(body),
	}, nil
}

// SubmitDepositTx submits a user-supplied origin-chain tx hash to help the
// aggregator detect the deposit sooner. This is a hint, not a status source.
func (c *OneClickClient) SubmitDepositTx(ctx context.Context, txHash, depositAddress string) error {
	req := map[string]string{
		"txHash":         txHash,
		"depositAddress": depositAddress,
	}

	if _, err := c.makeRequest(ctx, "POST", "/v0/deposit/submit", req); err != nil {
		return fmt.Errorf("deposit tx submit failed: %w", err)
	}
	return nil
}

// GetTokens fetches the available token list. The endpoint returns either
// {result:{tokens:[...]}}, {items:[...]} or a bare array depending on version.
func (c *OneClickClient) GetTokens(ctx context.Context) ([]json.RawMessage, error) {
	body, err := c.makeRequest(ctx, "GET", "/v0/tokens", nil)
	if err != nil {
		return nil, fmt.Errorf("tokens request failed: %w", err)
	}

	var direct []json.RawMessage
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct, nil
	}

	var wrapped struct {
		Result struct {
			Tokens []json.RawMessage `json:"tokens"`
		} `json:"result"`
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse tokens response: %w", err)
	}
	if wrapped.Result.Tokens != nil {
		return wrapped.Result.Tokens, nil
	}
	return wrapped.Items, nil
}

// NormalizeSwapStatus uppercases and maps a raw aggregator status onto the
// known status set. Unrecognized values are preserved uppercase for
// observability and treated as non-terminal by the sweep. An empty status
// means the aggregator has not seen the deposit yet.
func NormalizeSwapStatus(raw string) string {
	status := strings.ToUpper(strings.TrimSpace(raw))
	if status == "" {
		return string(models.SwapStatusPendingDeposit)
	}
	if status == "PENDING" {
		return string(models.SwapStatusPendingDeposit)
	}
	return status
}

// makeRequest performs an HTTP request against the aggregator
func (c *OneClickClient) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	reqURL := c.baseURL + path

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request data: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.jwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("aggregator API error (status %d): %s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}

// probeString walks an ordered list of dotted paths and returns the first
// non-empty string value found
func probeString(payload map[string]interface{}, paths ...string) (string, bool) {
	for _, path := range paths {
		if value, ok := probe(payload, path); ok {
			if s, ok := value.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// probeTime extracts a timestamp that may be RFC3339, unix seconds, or unix
// milliseconds depending on the aggregator version
func probeTime(payload map[string]interface{}, paths ...string) (time.Time, bool) {
	for _, path := range paths {
		value, ok := probe(payload, path)
		if !ok {
			continue
		}

		switch v := value.(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t, true
			}
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
				return unixGuess(secs), true
			}
		case float64:
			return unixGuess(int64(v)), true
		}
	}
	return time.Time{}, false
}

// unixGuess treats values past the year ~33658 as milliseconds
func unixGuess(v int64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

// probe resolves a dotted path against nested JSON objects
func probe(payload map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = payload

	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
