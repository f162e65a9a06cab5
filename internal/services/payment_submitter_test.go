package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchChallengeFlatFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payTo":             "0xdef0000000000000000000000000000000000000",
			"maxAmountRequired": "1.0",
			"deadline":          1900000000,
			"nonce":             "0x01",
		})
	}))
	defer server.Close()

	challenge, err := NewPaymentSubmitter().FetchChallenge(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, "0xdef0000000000000000000000000000000000000", challenge.PayTo)
	require.Equal(t, "1.0", challenge.MaxAmountRequired)
	require.EqualValues(t, 1900000000, challenge.Deadline)
	require.Equal(t, "0x01", challenge.Nonce)
}

func TestFetchChallengeAcceptsArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"x402Version": 1,
			"accepts": []map[string]interface{}{
				{
					"payTo":             "0xabc0000000000000000000000000000000000000",
					"maxAmountRequired": "0.1",
					"deadline":          "1900000000",
					"nonce":             "42",
				},
			},
		})
	}))
	defer server.Close()

	challenge, err := NewPaymentSubmitter().FetchChallenge(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, "0xabc0000000000000000000000000000000000000", challenge.PayTo)
	require.EqualValues(t, 1900000000, challenge.Deadline)
	require.Equal(t, "42", challenge.Nonce)
}

func TestFetchChallengeNon402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":"already unlocked"}`))
	}))
	defer server.Close()

	_, err := NewPaymentSubmitter().FetchChallenge(context.Background(), server.URL)
	require.ErrorIs(t, err, ErrNoPaymentChallenge)
}

func TestFetchChallengeMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payTo": "0xdef0000000000000000000000000000000000000",
		})
	}))
	defer server.Close()

	_, err := NewPaymentSubmitter().FetchChallenge(context.Background(), server.URL)
	require.ErrorIs(t, err, ErrMissingPaymentFields)
	require.Contains(t, err.Error(), "maxAmountRequired")
	require.Contains(t, err.Error(), "nonce")
}

func TestFetchChallengeRelativeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payTo":             "0xdef0000000000000000000000000000000000000",
			"maxAmountRequired": "1.0",
			"maxTimeoutSeconds": 600,
			"nonce":             "0x01",
		})
	}))
	defer server.Close()

	challenge, err := NewPaymentSubmitter().FetchChallenge(context.Background(), server.URL)
	require.NoError(t, err)
	require.Greater(t, challenge.Deadline, int64(1_000_000_000))
}

func TestSubmitCarriesArtifactAndParsesSettlement(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-PAYMENT")
		w.Header().Set("X-PAYMENT-RESPONSE", `{"hash":"0xsettled"}`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":"unlocked"}`))
	}))
	defer server.Close()

	result, err := NewPaymentSubmitter().Submit(context.Background(), server.URL, `{"type":"EIP-3009"}`)
	require.NoError(t, err)
	require.Equal(t, `{"type":"EIP-3009"}`, gotHeader)
	require.Equal(t, "0xsettled", result.SettlementHash)
	require.Contains(t, string(result.Body), "unlocked")
}

func TestSubmitRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid signature"}`))
	}))
	defer server.Close()

	_, err := NewPaymentSubmitter().Submit(context.Background(), server.URL, "sig1")
	require.ErrorIs(t, err, ErrSubmissionFailed)
	require.Contains(t, err.Error(), "400")
}
