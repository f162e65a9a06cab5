package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// TokenSource lists the assets the swap aggregator can route
type TokenSource interface {
	GetTokens(ctx context.Context) ([]json.RawMessage, error)
}

// RelayerHandler serves the public relayer API: registration, status polling,
// deposit tx hints, token discovery, refunds and manual payment execution
type RelayerHandler struct {
	registrar *services.RegistrarService
	deposits  *services.DepositService
	reconcile *services.ReconcileService
	refunds   *services.RefundService
	tokens    TokenSource
}

// NewRelayerHandler creates a new relayer handler
func NewRelayerHandler(registrar *services.RegistrarService, deposits *services.DepositService, reconcile *services.ReconcileService, refunds *services.RefundService, tokens TokenSource) *RelayerHandler {
	return &RelayerHandler{
		registrar: registrar,
		deposits:  deposits,
		reconcile: reconcile,
		refunds:   refunds,
		tokens:    tokens,
	}
}

// RegisterDeposit creates a new deposit record
// POST /api/relayer/register-deposit
func (h *RelayerHandler) RegisterDeposit(c *gin.Context) {
	var req services.RegisterDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.registrar.RegisterDeposit(c.Request.Context(), &req)
	if err != nil {
		status, code := mapServiceError(err)
		log.Printf("❌ [API] register-deposit failed (%s): %v", code, err)
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    code,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"intentId":           resp.IntentID,
		"depositAddress":     resp.DepositAddress,
		"deadline":           resp.Deadline,
		"swapStatus":         resp.SwapStatus,
		"quoteWaitingTimeMs": resp.QuoteWaitingTimeMs,
	})
}

// CheckDeposit returns the current status of a deposit record
// POST /api/relayer/check-deposit
func (h *RelayerHandler) CheckDeposit(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing required field: address",
		})
		return
	}

	resp, err := h.deposits.CheckDeposit(c.Request.Context(), req.Address)
	if err != nil {
		status, code := mapServiceError(err)
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    code,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"deposit": resp,
	})
}

// SubmitTxHash forwards a user-supplied deposit transaction hash
// POST /api/relayer/submit-tx-hash
func (h *RelayerHandler) SubmitTxHash(c *gin.Context) {
	var req struct {
		DepositAddress string `json:"depositAddress"`
		TxHash         string `json:"txHash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.deposits.SubmitTxHash(c.Request.Context(), req.DepositAddress, req.TxHash); err != nil {
		status, code := mapServiceError(err)
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    code,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Transaction hash submitted successfully",
		"depositAddress": req.DepositAddress,
		"txHash":         req.TxHash,
	})
}

// ExecuteX402 drives payment execution for one record outside the periodic
// sweep. Safe to call repeatedly: signing happens at most once per record and
// already-settled records are reported as skipped.
// POST /api/relayer/execute-x402
func (h *RelayerHandler) ExecuteX402(c *gin.Context) {
	var req struct {
		DepositAddress string `json:"depositAddress"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.DepositAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing required field: depositAddress",
		})
		return
	}

	result := h.reconcile.ExecutePayment(c.Request.Context(), req.DepositAddress)
	if result.Action == services.SweepActionError {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   result.Error,
			"result":  result,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// GetTokens lists the assets available for swaps, straight from the
// aggregator. Shape passthrough: the entries are returned as received.
// GET /api/relayer/get-tokens
func (h *RelayerHandler) GetTokens(c *gin.Context) {
	tokens, err := h.tokens.GetTokens(c.Request.Context())
	if err != nil {
		log.Printf("❌ [API] get-tokens failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "Failed to fetch tokens",
			"code":    "TOKENS_UNAVAILABLE",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(tokens),
		"tokens":  tokens,
	})
}

// Refund routes USDC held by a record's swap wallet back to the payer via a
// reverse swap.
// POST /api/relayer/refund
func (h *RelayerHandler) Refund(c *gin.Context) {
	var req services.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.refunds.InitiateRefund(c.Request.Context(), &req)
	if err != nil {
		status, code := mapServiceError(err)
		log.Printf("❌ [API] refund failed (%s): %v", code, err)
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    code,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"refundId":       resp.RefundID,
		"depositAddress": resp.DepositAddress,
		"transferTxHash": resp.TransferTxHash,
		"swapWallet":     resp.SwapWallet,
	})
}

// mapServiceError translates service sentinels into HTTP status codes
func mapServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, services.ErrRecordNotFound):
		return http.StatusNotFound, "RECORD_NOT_FOUND"
	case errors.Is(err, clients.ErrNoDepositAddress):
		return http.StatusBadGateway, "NO_ADDRESS_IN_QUOTE"
	case errors.Is(err, services.ErrQuoteUnavailable):
		return http.StatusBadGateway, "QUOTE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
