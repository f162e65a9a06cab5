package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"anypay-backend/internal/models"

	"gorm.io/gorm"
)

// DepositRecordRepository defines the interface for DepositRecord data access.
// The reconciliation sweep and all handlers go through this interface; the
// durable backend is GORM/Postgres, with an in-memory implementation behind
// the same interface for local runs and tests.
type DepositRecordRepository interface {
	Create(ctx context.Context, record *models.DepositRecord) error
	GetByAddress(ctx context.Context, depositAddress string) (*models.DepositRecord, error)

	// ListReconcilable returns records still eligible for sweeping: swap window
	// open, payment not yet executed, swap not terminally failed.
	ListReconcilable(ctx context.Context, now time.Time) ([]*models.DepositRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.DepositRecord, error)

	// UpdateSwapStatus persists the last observed status unconditionally
	// (last-write-wins); this is the sole source status queries read.
	UpdateSwapStatus(ctx context.Context, depositAddress, status string) error

	// MarkExecuted atomically sets signed_payload, x402_executed, confirmed and
	// confirmed_at, guarded by "not yet signed" durable state. Returns false
	// without error when another writer already claimed the record; the caller
	// must treat that as already-executed, never as a retryable failure.
	MarkExecuted(ctx context.Context, depositAddress, artifact string, confirmedAt time.Time) (bool, error)

	MarkDepositConfirmed(ctx context.Context, depositAddress string, confirmedAt time.Time) error
	UpdateSettlement(ctx context.Context, depositAddress, settlementHash string) error
	SetDepositTxHash(ctx context.Context, depositAddress, txHash string) error
	RecordSweepError(ctx context.Context, depositAddress, message string) error
}

// depositRecordRepository implements DepositRecordRepository on GORM
type depositRecordRepository struct {
	db *gorm.DB
}

// NewDepositRecordRepository creates a new DepositRecordRepository instance
func NewDepositRecordRepository(db *gorm.DB) DepositRecordRepository {
	return &depositRecordRepository{db: db}
}

// Create creates a new deposit record. Creation is the only insert for a
// deposit address; all later writes are updates.
func (r *depositRecordRepository) Create(ctx context.Context, record *models.DepositRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetByAddress retrieves a deposit record by deposit address
func (r *depositRecordRepository) GetByAddress(ctx context.Context, depositAddress string) (*models.DepositRecord, error) {
	var record models.DepositRecord
	err := r.db.WithContext(ctx).
		Where("deposit_address = ?", depositAddress).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListReconcilable returns the sweep candidate set
func (r *depositRecordRepository) ListReconcilable(ctx context.Context, now time.Time) ([]*models.DepositRecord, error) {
	var records []*models.DepositRecord
	err := r.db.WithContext(ctx).
		Where("deadline > ? AND x402_executed = ? AND swap_status NOT IN ?", now, false, []string{
			string(models.SwapStatusRefunded),
			string(models.SwapStatusIncompleteDeposit),
			string(models.SwapStatusFailed),
		}).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// ListRecent returns the most recently created records (operator API)
func (r *depositRecordRepository) ListRecent(ctx context.Context, limit int) ([]*models.DepositRecord, error) {
	var records []*models.DepositRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// UpdateSwapStatus persists the observed status, even when unchanged
func (r *depositRecordRepository) UpdateSwapStatus(ctx context.Context, depositAddress, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("deposit_address = ?", depositAddress).
		Update("swap_status", status).Error
}

// MarkExecuted claims the record for execution with a conditional update.
// The WHERE clause re-validates the "not yet signed" guard against durable
// state at the moment of the write, so two concurrent sweeps can never both
// record an artifact (optimistic locking).
func (r *depositRecordRepository) MarkExecuted(ctx context.Context, depositAddress, artifact string, confirmedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("deposit_address = ? AND x402_executed = ? AND (signed_payload = '' OR signed_payload IS NULL)",
			depositAddress, false).
		Updates(map[string]interface{}{
			"signed_payload":   artifact,
			"x402_executed":    true,
			"confirmed":        true,
			"confirmed_at":     confirmedAt,
			"last_sweep_error": "",
		})

	if result.Error != nil {
		return false, fmt.Errorf("failed to mark record executed: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		log.Printf("⚠️ [MarkExecuted] No rows updated for %s (already signed or executed)", depositAddress)
		return false, nil
	}

	log.Printf("✅ [MarkExecuted] Record %s marked executed, rowsAffected=%d", depositAddress, result.RowsAffected)
	return true, nil
}

// MarkDepositConfirmed flips confirmed false→true; never reverts
func (r *depositRecordRepository) MarkDepositConfirmed(ctx context.Context, depositAddress string, confirmedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("deposit_address = ? AND confirmed = ?", depositAddress, false).
		Updates(map[string]interface{}{
			"confirmed":    true,
			"confirmed_at": confirmedAt,
		}).Error
}

// UpdateSettlement records destination settlement metadata after submission.
// Execution flags are never touched here: submission is retryable, signing is not.
func (r *depositRecordRepository) UpdateSettlement(ctx context.Context, depositAddress, settlementHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("deposit_address = ?", depositAddress).
		Update("settlement_hash", settlementHash).Error
}

// SetDepositTxHash stores the user-supplied origin-chain tx hash hint
func (r *depositRecordRepository) SetDepositTxHash(ctx context.Context, depositAddress, txHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("deposit_address = ?", depositAddress).
		Update("deposit_tx_hash", txHash).Error
}

// RecordSweepError stores the most recent per-record sweep failure for operators
func (r *depositRecordRepository) RecordSweepError(ctx context.Context, depositAddress, message string) error {
	return r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("deposit_address = ?", depositAddress).
		Update("last_sweep_error", message).Error
}
