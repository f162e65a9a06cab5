package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"anypay-backend/internal/config"
	"anypay-backend/internal/models"

	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *OneClickClient {
	return NewOneClickClient(config.OneClickConfig{
		BaseURL: serverURL,
		JWT:     "test-jwt",
		Timeout: 5,
	})
}

func TestGetQuoteTopLevelAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/quote", r.URL.Path)
		require.Equal(t, "Bearer test-jwt", r.Header.Get("Authorization"))
		w.Write([]byte(`{"depositAddress":"zaddr1","deadline":"2026-01-02T15:04:05Z"}`))
	}))
	defer server.Close()

	quote, err := newTestClient(server.URL).GetQuote(context.Background(), &QuoteRequest{})
	require.NoError(t, err)
	require.Equal(t, "zaddr1", quote.DepositAddress)
	require.Equal(t, 2026, quote.Deadline.Year())
	require.NotEmpty(t, quote.Raw)
}

func TestGetQuoteNestedAddressAndUnixDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quote":{"depositAddress":"zaddr2","deadline":1767225600000}}`))
	}))
	defer server.Close()

	quote, err := newTestClient(server.URL).GetQuote(context.Background(), &QuoteRequest{})
	require.NoError(t, err)
	require.Equal(t, "zaddr2", quote.DepositAddress)
	// Millisecond epochs must not be misread as year ~57000
	require.Equal(t, 2026, quote.Deadline.UTC().Year())
}

func TestGetQuoteNoAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quote":{"amountIn":"100"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetQuote(context.Background(), &QuoteRequest{})
	require.ErrorIs(t, err, ErrNoDepositAddress)
}

func TestGetExecutionStatusProbesFieldNames(t *testing.T) {
	bodies := []string{
		`{"status":"SUCCESS"}`,
		`{"executionStatus":"success"}`,
		`{"state":"Success"}`,
	}
	for _, body := range bodies {
		body := body
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v0/status", r.URL.Path)
			require.Equal(t, "zaddr1", r.URL.Query().Get("depositAddress"))
			w.Write([]byte(body))
		}))

		status, err := newTestClient(server.URL).GetExecutionStatus(context.Background(), "zaddr1")
		server.Close()
		require.NoError(t, err, body)
		require.Equal(t, string(models.SwapStatusSuccess), status.Status, body)
	}
}

func TestGetExecutionStatusEmptyMeansPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	status, err := newTestClient(server.URL).GetExecutionStatus(context.Background(), "zaddr1")
	require.NoError(t, err)
	require.Equal(t, string(models.SwapStatusPendingDeposit), status.Status)
}

func TestNormalizeSwapStatus(t *testing.T) {
	cases := map[string]string{
		"":                  string(models.SwapStatusPendingDeposit),
		"PENDING":           string(models.SwapStatusPendingDeposit),
		"pending_deposit":   string(models.SwapStatusPendingDeposit),
		"success":           string(models.SwapStatusSuccess),
		"Refunded":          string(models.SwapStatusRefunded),
		"KNOWN_DEPOSIT_TX":  string(models.SwapStatusKnownDepositTx),
		"SOMETHING_BRAND_NEW": "SOMETHING_BRAND_NEW",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeSwapStatus(in), "input %q", in)
	}
}

func TestGetTokensShapes(t *testing.T) {
	bodies := []string{
		`[{"assetId":"a"},{"assetId":"b"}]`,
		`{"result":{"tokens":[{"assetId":"a"},{"assetId":"b"}]}}`,
		`{"items":[{"assetId":"a"},{"assetId":"b"}]}`,
	}
	for _, body := range bodies {
		body := body
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		tokens, err := newTestClient(server.URL).GetTokens(context.Background())
		server.Close()
		require.NoError(t, err, body)
		require.Len(t, tokens, 2, body)
	}
}
