package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/config"
	"anypay-backend/internal/events"
	"anypay-backend/internal/metrics"
	"anypay-backend/internal/models"
	"anypay-backend/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// USDCTransferer moves USDC out of a record's swap wallet on-chain
type USDCTransferer interface {
	TransferUSDC(ctx context.Context, record *models.DepositRecord, to string, value *big.Int) (string, error)
}

// RefundRequest reverse-swap request for USDC stranded in a swap wallet
type RefundRequest struct {
	DepositAddress string `json:"depositAddress"`
	RefundAddress  string `json:"refundAddress"` // origin-chain address receiving the refunded asset
	Amount         string `json:"amount"`        // USDC held by the swap wallet, decimal string
}

// RefundResponse refund initiation result
type RefundResponse struct {
	RefundID       string `json:"refundId"`
	DepositAddress string `json:"depositAddress"` // aggregator address the USDC was sent to
	TransferTxHash string `json:"transferTxHash"`
	SwapWallet     string `json:"swapWallet"`
}

// RefundService sends stranded USDC back to the payer. When a swap settled
// but the payment could not complete, the swap wallet still holds USDC; a
// reverse quote (USDC back to the origin asset, routed to the payer's refund
// address) is obtained and the wallet's USDC is transferred to the quote's
// deposit address, signed under the record's own derivation path.
type RefundService struct {
	repo      repository.DepositRecordRepository
	quoter    QuoteRequester
	transfers USDCTransferer
	publisher *events.Publisher
}

// NewRefundService creates a new refund service
func NewRefundService(repo repository.DepositRecordRepository, quoter QuoteRequester, transfers USDCTransferer, publisher *events.Publisher) *RefundService {
	return &RefundService{
		repo:      repo,
		quoter:    quoter,
		transfers: transfers,
		publisher: publisher,
	}
}

// InitiateRefund quotes the reverse swap and funds it from the swap wallet
func (s *RefundService) InitiateRefund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	if err := validateRefundRequest(req); err != nil {
		return nil, err
	}

	record, err := s.repo.GetByAddress(ctx, req.DepositAddress)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	networkConfig, err := config.GetNetworkConfig(record.TargetChain)
	if err != nil {
		return nil, fmt.Errorf("%w: targetChain: %v", ErrInvalidRequest, err)
	}

	value, err := parseTokenAmount(req.Amount, usdcDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrInvalidRequest, err)
	}

	oneClickCfg := config.AppConfig.OneClick
	refundID := fmt.Sprintf("refund-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	requestedDeadline := time.Now().Add(time.Duration(oneClickCfg.QuoteDeadlineSec) * time.Second)

	// Reverse of the registration quote: USDC on the target chain back to
	// the origin asset, delivered to the payer's refund address. A failed
	// reverse swap refunds to the swap wallet itself.
	quote, err := s.quoter.GetQuote(ctx, &clients.QuoteRequest{
		Dry:                false,
		SwapType:           "EXACT_INPUT",
		SlippageTolerance:  oneClickCfg.SlippageTolerance,
		OriginAsset:        networkConfig.DestinationAsset,
		DepositType:        "ORIGIN_CHAIN",
		DestinationAsset:   oneClickCfg.OriginAsset,
		Amount:             value.String(),
		RefundTo:           record.SwapWalletAddress,
		RefundType:         "ORIGIN_CHAIN",
		Recipient:          req.RefundAddress,
		RecipientType:      "DESTINATION_CHAIN",
		Deadline:           requestedDeadline.UTC().Format(time.RFC3339),
		Referral:           oneClickCfg.Referral,
		QuoteWaitingTimeMs: oneClickCfg.QuoteWaitingTimeMs,
		SessionID:          refundID,
	})
	if err != nil {
		metrics.RefundFailures.Inc()
		if errors.Is(err, clients.ErrNoDepositAddress) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	txHash, err := s.transfers.TransferUSDC(ctx, record, quote.DepositAddress, value)
	if err != nil {
		metrics.RefundFailures.Inc()
		return nil, fmt.Errorf("failed to fund refund swap: %w", err)
	}

	metrics.RefundsInitiated.Inc()
	s.publisher.Publish(events.SubjectRefundInitiated, events.DepositEvent{
		DepositAddress: record.DepositAddress,
		IntentID:       record.IntentID,
		TargetChain:    record.TargetChain,
		SwapStatus:     record.SwapStatus,
		Artifact:       txHash,
	})

	log.Printf("↩️ [Refund] Initiated %s for %s (wallet: %s, amount: %s, tx: %s)",
		refundID, record.DepositAddress, record.SwapWalletAddress, value.String(), txHash)

	return &RefundResponse{
		RefundID:       refundID,
		DepositAddress: quote.DepositAddress,
		TransferTxHash: txHash,
		SwapWallet:     record.SwapWalletAddress,
	}, nil
}

func validateRefundRequest(req *RefundRequest) error {
	var missing []string
	if req.DepositAddress == "" {
		missing = append(missing, "depositAddress")
	}
	if req.RefundAddress == "" {
		missing = append(missing, "refundAddress")
	}
	if req.Amount == "" {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}
