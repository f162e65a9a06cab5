package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/config"
	"anypay-backend/internal/models"
	"anypay-backend/internal/repository"
	"anypay-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeriver struct{}

func (f *fakeDeriver) DeriveAddress(_ context.Context, path string) (*clients.SignerDeriveResponse, error) {
	return &clients.SignerDeriveResponse{Success: true, Address: "0xderived-" + path}, nil
}

type fakeQuoter struct {
	noAddress bool
	lastReq   *clients.QuoteRequest
}

func (f *fakeQuoter) GetQuote(_ context.Context, req *clients.QuoteRequest) (*clients.Quote, error) {
	f.lastReq = req
	if f.noAddress {
		return nil, clients.ErrNoDepositAddress
	}
	return &clients.Quote{
		DepositAddress: "zdep-" + req.SessionID,
		Deadline:       time.Now().Add(10 * time.Minute),
		Raw:            json.RawMessage(`{"quote":{"depositAddress":"zdep"}}`),
	}, nil
}

type fakeStatusSource struct {
	statuses map[string]string
}

func (f *fakeStatusSource) GetExecutionStatus(_ context.Context, depositAddress string) (*clients.ExecutionStatus, error) {
	status, ok := f.statuses[depositAddress]
	if !ok {
		status = string(models.SwapStatusPendingDeposit)
	}
	return &clients.ExecutionStatus{Status: status}, nil
}

type fakeForwarder struct {
	forwarded []string
}

func (f *fakeForwarder) SubmitDepositTx(_ context.Context, txHash, _ string) error {
	f.forwarded = append(f.forwarded, txHash)
	return nil
}

type fakeSigner struct {
	calls int
}

func (f *fakeSigner) SignAuthorization(_ context.Context, _ *models.DepositRecord, _ *services.PaymentChallenge) (string, error) {
	f.calls++
	return `{"type":"EIP-3009"}`, nil
}

type fakeChallengeExchanger struct{}

func (f *fakeChallengeExchanger) FetchChallenge(_ context.Context, _ string) (*services.PaymentChallenge, error) {
	return &services.PaymentChallenge{
		PayTo:             "0x2222222222222222222222222222222222222222",
		MaxAmountRequired: "1.5",
		Deadline:          time.Now().Add(time.Hour).Unix(),
		Nonce:             "0x01",
	}, nil
}

func (f *fakeChallengeExchanger) Submit(_ context.Context, _, _ string) (*services.SettlementResult, error) {
	return &services.SettlementResult{SettlementHash: "0xsettled"}, nil
}

type fakeTokenSource struct {
	tokens []json.RawMessage
	err    error
}

func (f *fakeTokenSource) GetTokens(_ context.Context) ([]json.RawMessage, error) {
	return f.tokens, f.err
}

type fakeTransferer struct {
	lastTo    string
	lastValue string
	err       error
}

func (f *fakeTransferer) TransferUSDC(_ context.Context, _ *models.DepositRecord, to string, value *big.Int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastTo = to
	f.lastValue = value.String()
	return "0xrefundtx", nil
}

type apiFixture struct {
	router    *gin.Engine
	repo      repository.DepositRecordRepository
	quoter    *fakeQuoter
	statuses  *fakeStatusSource
	signer    *fakeSigner
	tokens    *fakeTokenSource
	transfers *fakeTransferer
}

func setTestConfig(t *testing.T) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig = &config.Config{
		OneClick: config.OneClickConfig{
			OriginAsset:      "nep141:zec.omft.near",
			OriginDecimals:   8,
			QuoteDeadlineSec: 600,
		},
		Networks: map[string]config.NetworkConfig{
			"base": {
				ChainID:          8453,
				Name:             "Base",
				USDCContract:     "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
				DestinationAsset: "nep141:base-0x833589fcd6edb6e08f4c7c32d4f71b54bda02913.omft.near",
				Enabled:          true,
			},
		},
	}
	t.Cleanup(func() { config.AppConfig = prev })
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	setTestConfig(t)
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryDepositRecordRepository()
	quoter := &fakeQuoter{}
	statuses := &fakeStatusSource{statuses: make(map[string]string)}
	signer := &fakeSigner{}
	forwarder := &fakeForwarder{}
	tokens := &fakeTokenSource{tokens: []json.RawMessage{json.RawMessage(`{"assetId":"nep141:zec.omft.near"}`)}}
	transfers := &fakeTransferer{}

	registrar := services.NewRegistrarService(repo, &fakeDeriver{}, quoter, nil)
	deposits := services.NewDepositService(repo, statuses, forwarder, nil)
	reconcile := services.NewReconcileService(repo, statuses, signer, &fakeChallengeExchanger{}, nil,
		config.ReconcileConfig{IntervalSec: 1, MaxConcurrency: 4})
	refunds := services.NewRefundService(repo, quoter, transfers, nil)

	relayer := NewRelayerHandler(registrar, deposits, reconcile, refunds, tokens)
	admin := NewAdminHandler(deposits, reconcile)

	router := gin.New()
	api := router.Group("/api/relayer")
	api.POST("/register-deposit", relayer.RegisterDeposit)
	api.POST("/check-deposit", relayer.CheckDeposit)
	api.POST("/submit-tx-hash", relayer.SubmitTxHash)
	api.POST("/execute-x402", relayer.ExecuteX402)
	api.POST("/refund", relayer.Refund)
	api.GET("/get-tokens", relayer.GetTokens)
	api.GET("/operator/deposits", admin.ListDeposits)
	api.POST("/operator/sweep", admin.TriggerSweep)

	return &apiFixture{router: router, repo: repo, quoter: quoter, statuses: statuses, signer: signer, tokens: tokens, transfers: transfers}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	return w, parsed
}

func (f *apiFixture) register(t *testing.T) string {
	t.Helper()
	w, resp := f.do(t, "POST", "/api/relayer/register-deposit", gin.H{
		"amount":      "1.5",
		"recipient":   "https://merchant.example/resource",
		"targetChain": "base",
		"redirectUrl": "https://merchant.example/resource",
	})
	require.Equal(t, http.StatusOK, w.Code)
	addr, _ := resp["depositAddress"].(string)
	require.NotEmpty(t, addr)
	return addr
}

func TestRegisterDeposit(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, "POST", "/api/relayer/register-deposit", gin.H{
		"intentId":    "intent-1",
		"amount":      "1.5",
		"recipient":   "https://merchant.example/resource",
		"targetChain": "base",
		"redirectUrl": "https://merchant.example/resource",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "intent-1", resp["intentId"])
	assert.Equal(t, string(models.SwapStatusPendingDeposit), resp["swapStatus"])

	depositAddress := resp["depositAddress"].(string)
	record, err := f.repo.GetByAddress(context.Background(), depositAddress)
	require.NoError(t, err)
	assert.Equal(t, "intent-1", record.IntentID)

	// 1.5 ZEC at 8 decimals requested from the aggregator in base units.
	require.NotNil(t, f.quoter.lastReq)
	assert.Equal(t, "150000000", f.quoter.lastReq.Amount)
	assert.Equal(t, "EXACT_INPUT", f.quoter.lastReq.SwapType)
}

func TestRegisterDepositValidation(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, "POST", "/api/relayer/register-deposit", gin.H{
		"amount": "1.5",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", resp["code"])

	w, resp = f.do(t, "POST", "/api/relayer/register-deposit", gin.H{
		"amount":      "1.5",
		"recipient":   "https://merchant.example/resource",
		"targetChain": "dogechain",
		"redirectUrl": "https://merchant.example/resource",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", resp["code"])
}

func TestRegisterDepositQuoteWithoutAddress(t *testing.T) {
	f := newAPIFixture(t)
	f.quoter.noAddress = true

	w, resp := f.do(t, "POST", "/api/relayer/register-deposit", gin.H{
		"amount":      "1.5",
		"recipient":   "https://merchant.example/resource",
		"targetChain": "base",
		"redirectUrl": "https://merchant.example/resource",
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "NO_ADDRESS_IN_QUOTE", resp["code"])
}

func TestCheckDeposit(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, "POST", "/api/relayer/check-deposit", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])

	w, resp = f.do(t, "POST", "/api/relayer/check-deposit", gin.H{"address": "unknown"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RECORD_NOT_FOUND", resp["code"])

	addr := f.register(t)
	f.statuses.statuses[addr] = string(models.SwapStatusProcessing)

	w, resp = f.do(t, "POST", "/api/relayer/check-deposit", gin.H{"address": addr})
	require.Equal(t, http.StatusOK, w.Code)
	deposit := resp["deposit"].(map[string]any)
	assert.Equal(t, string(models.SwapStatusProcessing), deposit["status"])
}

func TestSubmitTxHash(t *testing.T) {
	f := newAPIFixture(t)
	addr := f.register(t)

	w, resp := f.do(t, "POST", "/api/relayer/submit-tx-hash", gin.H{
		"depositAddress": addr,
		"txHash":         "abc",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", resp["code"])

	w, _ = f.do(t, "POST", "/api/relayer/submit-tx-hash", gin.H{
		"depositAddress": addr,
		"txHash":         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	})
	require.Equal(t, http.StatusOK, w.Code)

	record, err := f.repo.GetByAddress(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", record.DepositTxHash)
	assert.Equal(t, string(models.SwapStatusKnownDepositTx), record.SwapStatus)
}

func TestExecuteX402(t *testing.T) {
	f := newAPIFixture(t)
	addr := f.register(t)
	f.statuses.statuses[addr] = string(models.SwapStatusSuccess)

	w, resp := f.do(t, "POST", "/api/relayer/execute-x402", gin.H{"depositAddress": addr})
	require.Equal(t, http.StatusOK, w.Code)
	result := resp["result"].(map[string]any)
	assert.Equal(t, services.SweepActionExecuted, result["action"])
	assert.Equal(t, 1, f.signer.calls)

	// Settled records are reported as skipped, never signed again.
	w, resp = f.do(t, "POST", "/api/relayer/execute-x402", gin.H{"depositAddress": addr})
	require.Equal(t, http.StatusOK, w.Code)
	result = resp["result"].(map[string]any)
	assert.Equal(t, services.SweepActionSkipped, result["action"])
	assert.Equal(t, 1, f.signer.calls)

	w, _ = f.do(t, "POST", "/api/relayer/execute-x402", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTokens(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, "GET", "/api/relayer/get-tokens", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(1), resp["count"])

	f.tokens.err = errors.New("upstream down")
	w, resp = f.do(t, "GET", "/api/relayer/get-tokens", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "TOKENS_UNAVAILABLE", resp["code"])
}

func TestRefund(t *testing.T) {
	f := newAPIFixture(t)
	addr := f.register(t)

	w, resp := f.do(t, "POST", "/api/relayer/refund", gin.H{
		"depositAddress": addr,
		"refundAddress":  "t1RefundAddr",
		"amount":         "2.5",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "0xrefundtx", resp["transferTxHash"])
	assert.NotEmpty(t, resp["refundId"])

	// The wallet's USDC funds the reverse swap's deposit address.
	assert.Equal(t, resp["depositAddress"], f.transfers.lastTo)
	assert.Equal(t, "2500000", f.transfers.lastValue)

	w, resp = f.do(t, "POST", "/api/relayer/refund", gin.H{
		"depositAddress": "unknown",
		"refundAddress":  "t1RefundAddr",
		"amount":         "2.5",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RECORD_NOT_FOUND", resp["code"])

	w, resp = f.do(t, "POST", "/api/relayer/refund", gin.H{"depositAddress": addr})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", resp["code"])
}

func TestOperatorListDeposits(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t)
	f.register(t)

	w, resp := f.do(t, "GET", "/api/relayer/operator/deposits?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	deposits := resp["deposits"].([]any)
	assert.Len(t, deposits, 1)
}

func TestOperatorTriggerSweep(t *testing.T) {
	f := newAPIFixture(t)
	addr := f.register(t)
	f.statuses.statuses[addr] = string(models.SwapStatusSuccess)

	w, resp := f.do(t, "POST", "/api/relayer/operator/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["checked"])
	assert.Equal(t, 1, f.signer.calls)

	record, err := f.repo.GetByAddress(context.Background(), addr)
	require.NoError(t, err)
	assert.True(t, record.X402Executed)
}