package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"anypay-backend/internal/config"
)

// SignerClient MPC signer service client. The service holds no complete
// private key; it produces ECDSA signatures for addresses derived from a
// stable root account plus a per-attempt derivation path. Signing rounds are
// slow (tens of seconds), so the client timeout is generous and callers must
// not hold locks across a Sign call.
type SignerClient struct {
	baseURL     string
	authToken   string
	rootAccount string
	httpClient  *http.Client
}

// SignerDeriveRequest address derivation request
type SignerDeriveRequest struct {
	Account string `json:"account"`
	Path    string `json:"path"`
}

// SignerDeriveResponse address derivation response
type SignerDeriveResponse struct {
	Success   bool   `json:"success"`
	Address   string `json:"address,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SignerSignRequest signature request over a 32-byte digest
type SignerSignRequest struct {
	Account string `json:"account"`
	Path    string `json:"path"`
	Digest  string `json:"digest"` // hex, 0x-prefixed
	KeyType string `json:"key_type"`
}

// SignerSignResponse raw signature components. V is whatever the signing
// backend emits: a direct recovery id, legacy 27/28, an EIP-155 adjusted
// value, or absent entirely. Reconstruction happens caller-side.
type SignerSignResponse struct {
	Success bool   `json:"success"`
	R       string `json:"r,omitempty"`
	S       string `json:"s,omitempty"`
	V       *int   `json:"v,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSignerClient creates a new MPC signer client
func NewSignerClient(cfg config.SignerConfig) *SignerClient {
	timeout := 60 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &SignerClient{
		baseURL:     cfg.ServiceURL,
		authToken:   cfg.AuthToken,
		rootAccount: cfg.RootAccount,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// DeriveAddress derives the EVM address controlled by the root account under
// the given derivation path. Derivation is deterministic: the same path
// always yields the same address.
func (c *SignerClient) DeriveAddress(ctx context.Context, path string) (*SignerDeriveResponse, error) {
	req := SignerDeriveRequest{
		Account: c.rootAccount,
		Path:    path,
	}

	response, err := c.makeRequest(ctx, "POST", "/api/v1/derive", req)
	if err != nil {
		return nil, fmt.Errorf("signer derive request failed: %w", err)
	}

	var deriveResp SignerDeriveResponse
	if err := json.Unmarshal(response, &deriveResp); err != nil {
		return nil, fmt.Errorf("failed to parse signer derive response: %w", err)
	}

	if !deriveResp.Success {
		return nil, fmt.Errorf("signer derive failed: %s", deriveResp.Error)
	}

	return &deriveResp, nil
}

// Sign requests an ECDSA signature over a 32-byte digest for the derived key
func (c *SignerClient) Sign(ctx context.Context, path, digestHex string) (*SignerSignResponse, error) {
	req := SignerSignRequest{
		Account: c.rootAccount,
		Path:    path,
		Digest:  digestHex,
		KeyType: "Ecdsa",
	}

	response, err := c.makeRequest(ctx, "POST", "/api/v1/sign", req)
	if err != nil {
		return nil, fmt.Errorf("signer sign request failed: %w", err)
	}

	var signResp SignerSignResponse
	if err := json.Unmarshal(response, &signResp); err != nil {
		return nil, fmt.Errorf("failed to parse signer sign response: %w", err)
	}

	if !signResp.Success {
		return nil, fmt.Errorf("signer sign failed: %s", signResp.Error)
	}

	if signResp.R == "" || signResp.S == "" {
		return nil, fmt.Errorf("signer returned empty signature components")
	}

	return &signResp, nil
}

// HealthCheck checks signer service availability
func (c *SignerClient) HealthCheck(ctx context.Context) error {
	response, err := c.makeRequest(ctx, "GET", "/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("signer health check failed: %w", err)
	}

	var healthResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &healthResp); err != nil {
		return fmt.Errorf("failed to parse signer health response: %w", err)
	}

	if healthResp.Status != "healthy" {
		return fmt.Errorf("signer service unhealthy: %s", healthResp.Status)
	}

	return nil
}

// makeRequest performs an HTTP request against the signer service
func (c *SignerClient) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
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
	req.Header.Set("User-Agent", "anypay-backend/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signer API error (status %d): %s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}
