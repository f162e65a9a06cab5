package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"anypay-backend/internal/events"
	"anypay-backend/internal/models"
	"anypay-backend/internal/repository"

	"gorm.io/gorm"
)

// DepositTxForwarder forwards a user-supplied deposit transaction hash to the
// aggregator to accelerate detection
type DepositTxForwarder interface {
	SubmitDepositTx(ctx context.Context, txHash, depositAddress string) error
}

// DepositStatusResponse status surfaced to pollers
type DepositStatusResponse struct {
	DepositAddress string     `json:"depositAddress"`
	IntentID       string     `json:"intentId"`
	Status         string     `json:"status"` // presentation status, TIMEOUT after the window closes
	SwapStatus     string     `json:"swapStatus"`
	Confirmed      bool       `json:"confirmed"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	X402Executed   bool       `json:"x402Executed"`
	SignedPayload  string     `json:"signedPayload,omitempty"`
	SettlementHash string     `json:"settlementHash,omitempty"`
	RedirectURL    string     `json:"redirectUrl,omitempty"`
	Deadline       time.Time  `json:"deadline"`
}

// DepositService serves direct status queries and the deposit tx hash
// acceleration path. Status queries poll the aggregator live so pollers see
// progress between sweeps, but all writes go through the same persisted
// fields the sweep maintains.
type DepositService struct {
	repo      repository.DepositRecordRepository
	swaps     SwapStatusSource
	forwarder DepositTxForwarder
	publisher *events.Publisher
}

// NewDepositService creates a new deposit status service
func NewDepositService(repo repository.DepositRecordRepository, swaps SwapStatusSource, forwarder DepositTxForwarder, publisher *events.Publisher) *DepositService {
	return &DepositService{
		repo:      repo,
		swaps:     swaps,
		forwarder: forwarder,
		publisher: publisher,
	}
}

// CheckDeposit returns the current status of a deposit record, refreshing it
// from the aggregator when reachable. Poll failures degrade to the stored
// status rather than erroring; the sweep refreshes it shortly anyway.
func (s *DepositService) CheckDeposit(ctx context.Context, depositAddress string) (*DepositStatusResponse, error) {
	record, err := s.getRecord(ctx, depositAddress)
	if err != nil {
		return nil, err
	}

	if status, err := s.swaps.GetExecutionStatus(ctx, depositAddress); err != nil {
		log.Printf("⚠️ [Deposit] Live status poll failed for %s, serving stored status: %v", depositAddress, err)
	} else if status.Status != "" {
		if err := s.repo.UpdateSwapStatus(ctx, depositAddress, status.Status); err != nil {
			log.Printf("⚠️ [Deposit] Failed to persist status for %s: %v", depositAddress, err)
		} else {
			record.SwapStatus = status.Status
		}

		if status.Status == string(models.SwapStatusSuccess) && !record.Confirmed {
			now := time.Now()
			if err := s.repo.MarkDepositConfirmed(ctx, depositAddress, now); err != nil {
				log.Printf("⚠️ [Deposit] Failed to mark %s confirmed: %v", depositAddress, err)
			} else {
				record.Confirmed = true
				record.ConfirmedAt = &now
				s.publisher.Publish(events.SubjectDepositConfirmed, events.DepositEvent{
					DepositAddress: depositAddress,
					IntentID:       record.IntentID,
					TargetChain:    record.TargetChain,
					SwapStatus:     record.SwapStatus,
				})
			}
		}
	}

	return &DepositStatusResponse{
		DepositAddress: record.DepositAddress,
		IntentID:       record.IntentID,
		Status:         record.PresentationStatus(time.Now()),
		SwapStatus:     record.SwapStatus,
		Confirmed:      record.Confirmed,
		ConfirmedAt:    record.ConfirmedAt,
		X402Executed:   record.X402Executed,
		SignedPayload:  record.SignedPayload,
		SettlementHash: record.SettlementHash,
		RedirectURL:    record.RedirectURL,
		Deadline:       record.Deadline,
	}, nil
}

// SubmitTxHash forwards a deposit transaction hash to the aggregator and
// records it on the deposit record
func (s *DepositService) SubmitTxHash(ctx context.Context, depositAddress, txHash string) error {
	if depositAddress == "" || txHash == "" {
		return fmt.Errorf("%w: missing required fields: depositAddress, txHash", ErrInvalidRequest)
	}
	if len(txHash) < 10 {
		return fmt.Errorf("%w: invalid transaction hash format", ErrInvalidRequest)
	}

	record, err := s.getRecord(ctx, depositAddress)
	if err != nil {
		return err
	}

	if err := s.forwarder.SubmitDepositTx(ctx, txHash, depositAddress); err != nil {
		return fmt.Errorf("failed to submit deposit tx: %w", err)
	}

	if err := s.repo.SetDepositTxHash(ctx, depositAddress, txHash); err != nil {
		return fmt.Errorf("failed to record deposit tx hash: %w", err)
	}

	// A submitted hash means the deposit exists even if undetected yet
	if record.SwapStatus == string(models.SwapStatusPendingDeposit) {
		if err := s.repo.UpdateSwapStatus(ctx, depositAddress, string(models.SwapStatusKnownDepositTx)); err != nil {
			log.Printf("⚠️ [Deposit] Failed to advance status for %s: %v", depositAddress, err)
		}
	}

	log.Printf("📬 [Deposit] Tx hash submitted for %s: %s", depositAddress, txHash)
	return nil
}

// ListRecent returns the most recent deposit records for operators
func (s *DepositService) ListRecent(ctx context.Context, limit int) ([]*models.DepositRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListRecent(ctx, limit)
}

func (s *DepositService) getRecord(ctx context.Context, depositAddress string) (*models.DepositRecord, error) {
	record, err := s.repo.GetByAddress(ctx, depositAddress)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}
