package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"anypay-backend/internal/models"

	"gorm.io/gorm"
)

// memoryDepositRecordRepository is a non-durable DepositRecordRepository for
// local development and tests. It mirrors the conditional-update semantics of
// the GORM implementation exactly; business logic never branches on which
// backend is active.
type memoryDepositRecordRepository struct {
	mu      sync.Mutex
	records map[string]*models.DepositRecord
}

// NewMemoryDepositRecordRepository creates an in-memory repository
func NewMemoryDepositRecordRepository() DepositRecordRepository {
	return &memoryDepositRecordRepository{
		records: make(map[string]*models.DepositRecord),
	}
}

func (r *memoryDepositRecordRepository) Create(_ context.Context, record *models.DepositRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.DepositAddress]; exists {
		return fmt.Errorf("record already exists for deposit address %s", record.DepositAddress)
	}

	now := time.Now()
	stored := *record
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.SwapStatus == "" {
		stored.SwapStatus = string(models.SwapStatusPendingDeposit)
	}
	r.records[record.DepositAddress] = &stored
	return nil
}

func (r *memoryDepositRecordRepository) GetByAddress(_ context.Context, depositAddress string) (*models.DepositRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[depositAddress]
	if !exists {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *memoryDepositRecordRepository) ListReconcilable(_ context.Context, now time.Time) ([]*models.DepositRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []*models.DepositRecord
	for _, record := range r.records {
		if !record.Deadline.After(now) {
			continue
		}
		if record.X402Executed {
			continue
		}
		if models.IsTerminalNegative(models.SwapStatus(record.SwapStatus)) {
			continue
		}
		copied := *record
		records = append(records, &copied)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (r *memoryDepositRecordRepository) ListRecent(_ context.Context, limit int) ([]*models.DepositRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []*models.DepositRecord
	for _, record := range r.records {
		copied := *record
		records = append(records, &copied)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *memoryDepositRecordRepository) UpdateSwapStatus(_ context.Context, depositAddress, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[depositAddress]
	if !exists {
		return gorm.ErrRecordNotFound
	}
	record.SwapStatus = status
	record.UpdatedAt = time.Now()
	return nil
}

// MarkExecuted applies the same check-then-write guard as the GORM backend,
// under the store mutex so concurrent callers serialize on the same condition.
func (r *memoryDepositRecordRepository) MarkExecuted(_ context.Context, depositAddress, artifact string, confirmedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[depositAddress]
	if !exists {
		return false, gorm.ErrRecordNotFound
	}

	if record.X402Executed || record.SignedPayload != "" {
		return false, nil
	}

	record.SignedPayload = artifact
	record.X402Executed = true
	record.Confirmed = true
	record.ConfirmedAt = &confirmedAt
	record.LastSweepError = ""
	record.UpdatedAt = time.Now()
	return true, nil
}

func (r *memoryDepositRecordRepository) MarkDepositConfirmed(_ context.Context, depositAddress string, confirmedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[depositAddress]
	if !exists {
		return gorm.ErrRecordNotFound
	}
	if record.Confirmed {
		return nil
	}
	record.Confirmed = true
	record.ConfirmedAt = &confirmedAt
	record.UpdatedAt = time.Now()
	return nil
}

func (r *memoryDepositRecordRepository) UpdateSettlement(_ context.Context, depositAddress, settlementHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[depositAddress]
	if !exists {
		return gorm.ErrRecordNotFound
	}
	record.SettlementHash = settlementHash
	record.UpdatedAt = time.Now()
	return nil
}

func (r *memoryDepositRecordRepository) SetDepositTxHash(_ context.Context, depositAddress, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[depositAddress]
	if !exists {
		return gorm.ErrRecordNotFound
	}
	record.DepositTxHash = txHash
	record.UpdatedAt = time.Now()
	return nil
}

func (r *memoryDepositRecordRepository) RecordSweepError(_ context.Context, depositAddress, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[depositAddress]
	if !exists {
		return gorm.ErrRecordNotFound
	}
	record.LastSweepError = message
	record.UpdatedAt = time.Now()
	return nil
}
