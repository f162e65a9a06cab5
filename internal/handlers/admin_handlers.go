package handlers

import (
	"net/http"
	"strconv"
	"time"

	"anypay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves operator endpoints: record inspection and manual sweeps
type AdminHandler struct {
	deposits  *services.DepositService
	reconcile *services.ReconcileService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(deposits *services.DepositService, reconcile *services.ReconcileService) *AdminHandler {
	return &AdminHandler{
		deposits:  deposits,
		reconcile: reconcile,
	}
}

// ListDeposits lists recent deposit records
// GET /api/relayer/deposits?limit=100
func (h *AdminHandler) ListDeposits(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	records, err := h.deposits.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list deposits",
			"details": err.Error(),
		})
		return
	}

	now := time.Now()
	items := make([]gin.H, 0, len(records))
	for _, record := range records {
		items = append(items, gin.H{
			"depositAddress": record.DepositAddress,
			"intentId":       record.IntentID,
			"targetChain":    record.TargetChain,
			"amount":         record.Amount,
			"status":         record.PresentationStatus(now),
			"swapStatus":     record.SwapStatus,
			"confirmed":      record.Confirmed,
			"x402Executed":   record.X402Executed,
			"settlementHash": record.SettlementHash,
			"lastSweepError": record.LastSweepError,
			"deadline":       record.Deadline,
			"createdAt":      record.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"count":    len(items),
		"deposits": items,
	})
}

// TriggerSweep runs one reconciliation sweep immediately
// POST /api/relayer/sweep
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	results, err := h.reconcile.RunSweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Sweep failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"checked": len(results),
		"results": results,
	})
}
