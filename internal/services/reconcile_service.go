package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/config"
	"anypay-backend/internal/events"
	"anypay-backend/internal/metrics"
	"anypay-backend/internal/models"
	"anypay-backend/internal/repository"
)

// SwapStatusSource abstracts the aggregator's execution status endpoint
type SwapStatusSource interface {
	GetExecutionStatus(ctx context.Context, depositAddress string) (*clients.ExecutionStatus, error)
}

// AuthorizationSigner produces the payment authorization artifact for a
// record once its swap has settled
type AuthorizationSigner interface {
	SignAuthorization(ctx context.Context, record *models.DepositRecord, challenge *PaymentChallenge) (string, error)
}

// ChallengeExchanger drives the 402 challenge/response exchange with the
// destination endpoint
type ChallengeExchanger interface {
	FetchChallenge(ctx context.Context, redirectURL string) (*PaymentChallenge, error)
	Submit(ctx context.Context, redirectURL, artifact string) (*SettlementResult, error)
}

// Sweep actions reported per record
const (
	SweepActionExecuted = "executed"
	SweepActionSkipped  = "skipped"
	SweepActionTerminal = "terminal"
	SweepActionError    = "error"
)

// Skip reasons logged by the sweep
const (
	SkipAlreadySigned     = "already-signed"
	SkipAlreadyExecuted   = "already-executed"
	SkipNonTerminalStatus = "non-terminal-status"
	SkipMissingFields     = "missing-x402-fields"
)

// SweepResult reports what the sweep did with one record
type SweepResult struct {
	DepositAddress string `json:"depositAddress"`
	SwapStatus     string `json:"swapStatus"`
	Action         string `json:"action"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
	SettlementHash string `json:"settlementHash,omitempty"`
}

// ReconcileService runs the periodic sweep over open deposit records. The
// sweep itself is the retry mechanism: every step that fails is simply
// attempted again on the next tick, bounded by each record's deadline, so no
// retry state lives outside the persisted record. Signing is guarded by
// durable state re-read under a per-record lock immediately before the
// conditional update, so re-running the sweep after a crash or overlapping
// it with a concurrent sweep never signs a record twice.
type ReconcileService struct {
	repo      repository.DepositRecordRepository
	swaps     SwapStatusSource
	signer    AuthorizationSigner
	exchanger ChallengeExchanger
	publisher *events.Publisher

	interval       time.Duration
	maxConcurrency int

	recordLocks sync.Map // deposit address -> *sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewReconcileService creates a new reconciliation service
func NewReconcileService(repo repository.DepositRecordRepository, swaps SwapStatusSource, signer AuthorizationSigner,
	exchanger ChallengeExchanger, publisher *events.Publisher, cfg config.ReconcileConfig) *ReconcileService {

	interval := 5 * time.Second
	if cfg.IntervalSec > 0 {
		interval = time.Duration(cfg.IntervalSec) * time.Second
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}

	return &ReconcileService{
		repo:           repo,
		swaps:          swaps,
		signer:         signer,
		exchanger:      exchanger,
		publisher:      publisher,
		interval:       interval,
		maxConcurrency: maxConcurrency,
	}
}

// Start launches the periodic sweep
func (s *ReconcileService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Printf("⚠️ [Reconcile] Service already running")
		return
	}

	s.running = true
	s.stopCh = make(chan struct{})

	go s.run()
	log.Printf("🚀 [Reconcile] Sweep started (interval: %s, concurrency: %d)", s.interval, s.maxConcurrency)
}

// Stop halts the periodic sweep
func (s *ReconcileService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)
	log.Printf("🛑 [Reconcile] Sweep stopped")
}

func (s *ReconcileService) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunSweep(context.Background()); err != nil {
				log.Printf("❌ [Reconcile] Sweep failed: %v", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// RunSweep performs one pass over all open records. Per-record failures are
// reported in the results but never abort the sweep.
func (s *ReconcileService) RunSweep(ctx context.Context) ([]SweepResult, error) {
	started := time.Now()
	metrics.SweepsTotal.Inc()

	records, err := s.repo.ListReconcilable(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconcilable records: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	log.Printf("🔄 [Reconcile] Sweeping %d record(s)", len(records))

	results := make([]SweepResult, len(records))
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for i, record := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, record *models.DepositRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.processRecord(ctx, record)
			metrics.SweepRecordsChecked.Inc()
		}(i, record)
	}
	wg.Wait()

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	return results, nil
}

// processRecord polls the swap status for one record and, on settled swaps,
// drives payment execution
func (s *ReconcileService) processRecord(ctx context.Context, record *models.DepositRecord) SweepResult {
	result := SweepResult{DepositAddress: record.DepositAddress, SwapStatus: record.SwapStatus}

	status, err := s.swaps.GetExecutionStatus(ctx, record.DepositAddress)
	if err != nil {
		metrics.SweepRecordErrors.WithLabelValues("status_poll").Inc()
		s.noteSweepError(ctx, record.DepositAddress, fmt.Sprintf("status poll failed: %v", err))
		result.Action = SweepActionError
		result.Error = err.Error()
		return result
	}

	normalized := status.Status
	result.SwapStatus = normalized
	metrics.SwapStatusObserved.WithLabelValues(normalized).Inc()
	if !models.IsKnownSwapStatus(models.SwapStatus(normalized)) {
		metrics.SwapStatusUnknown.Inc()
		log.Printf("⚠️ [Reconcile] Unrecognized swap status %q for %s (treated as non-terminal)", normalized, record.DepositAddress)
	}

	// Persisted even when unchanged; status queries read only this field.
	if err := s.repo.UpdateSwapStatus(ctx, record.DepositAddress, normalized); err != nil {
		metrics.SweepRecordErrors.WithLabelValues("status_persist").Inc()
		result.Action = SweepActionError
		result.Error = err.Error()
		return result
	}

	if models.IsTerminalNegative(models.SwapStatus(normalized)) {
		if record.SwapStatus != normalized {
			s.publisher.Publish(events.SubjectSwapTerminal, events.DepositEvent{
				DepositAddress: record.DepositAddress,
				IntentID:       record.IntentID,
				TargetChain:    record.TargetChain,
				SwapStatus:     normalized,
			})
			log.Printf("🏁 [Reconcile] Record %s reached terminal status %s", record.DepositAddress, normalized)
		}
		result.Action = SweepActionTerminal
		return result
	}

	if normalized != string(models.SwapStatusSuccess) {
		metrics.SweepSkipped.WithLabelValues(SkipNonTerminalStatus).Inc()
		result.Action = SweepActionSkipped
		result.Reason = SkipNonTerminalStatus
		return result
	}

	if record.SignedPayload != "" {
		metrics.SweepSkipped.WithLabelValues(SkipAlreadySigned).Inc()
		result.Action = SweepActionSkipped
		result.Reason = SkipAlreadySigned
		return result
	}
	if record.X402Executed {
		metrics.SweepSkipped.WithLabelValues(SkipAlreadyExecuted).Inc()
		result.Action = SweepActionSkipped
		result.Reason = SkipAlreadyExecuted
		return result
	}

	execResult := s.executePayment(ctx, record.DepositAddress, false)
	execResult.SwapStatus = normalized
	return execResult
}

// ExecutePayment drives signing and submission for a single record outside
// the periodic sweep. allowResubmit additionally resubmits the persisted
// artifact for records that signed but never got a settlement response; the
// artifact itself is never produced twice.
func (s *ReconcileService) ExecutePayment(ctx context.Context, depositAddress string) SweepResult {
	return s.executePayment(ctx, depositAddress, true)
}

// executePayment holds the record's lock across the guard-check, signing and
// conditional persist so concurrent sweeps serialize per record. The durable
// guards are re-read under the lock; the in-memory snapshot from the listing
// is never trusted for the signing decision.
func (s *ReconcileService) executePayment(ctx context.Context, depositAddress string, allowResubmit bool) SweepResult {
	result := SweepResult{DepositAddress: depositAddress}

	lock := s.recordLock(depositAddress)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.repo.GetByAddress(ctx, depositAddress)
	if err != nil {
		result.Action = SweepActionError
		result.Error = err.Error()
		return result
	}
	result.SwapStatus = record.SwapStatus

	if record.SignedPayload != "" || record.X402Executed {
		if allowResubmit && record.SignedPayload != "" && record.SettlementHash == "" {
			return s.submitArtifact(ctx, record, record.SignedPayload, result)
		}
		reason := SkipAlreadyExecuted
		if record.SignedPayload != "" {
			reason = SkipAlreadySigned
		}
		metrics.SweepSkipped.WithLabelValues(reason).Inc()
		result.Action = SweepActionSkipped
		result.Reason = reason
		return result
	}

	// Payment execution requires a settled swap. The sweep verified this
	// before calling, but the stored status is re-checked under the lock and
	// the manual path additionally polls live so a stale stored value cannot
	// gate a legitimate execution. Without a SUCCESS the one allowed
	// signature must not be spent.
	swapStatus := record.SwapStatus
	if swapStatus != string(models.SwapStatusSuccess) {
		if live, err := s.swaps.GetExecutionStatus(ctx, depositAddress); err == nil && live.Status != "" {
			swapStatus = live.Status
			if err := s.repo.UpdateSwapStatus(ctx, depositAddress, swapStatus); err != nil {
				log.Printf("⚠️ [Reconcile] Failed to persist status for %s: %v", depositAddress, err)
			}
		}
	}
	result.SwapStatus = swapStatus
	if swapStatus != string(models.SwapStatusSuccess) {
		metrics.SweepSkipped.WithLabelValues(SkipNonTerminalStatus).Inc()
		log.Printf("⏭️ [Reconcile] Record %s not executed: swap status %s", depositAddress, swapStatus)
		result.Action = SweepActionSkipped
		result.Reason = SkipNonTerminalStatus
		return result
	}

	challenge, err := s.exchanger.FetchChallenge(ctx, record.RedirectURL)
	if err != nil {
		if errors.Is(err, ErrMissingPaymentFields) || errors.Is(err, ErrNoPaymentChallenge) {
			metrics.SweepSkipped.WithLabelValues(SkipMissingFields).Inc()
			s.noteSweepError(ctx, depositAddress, fmt.Sprintf("skipped: missing-x402-fields: %v", err))
			log.Printf("⏭️ [Reconcile] Record %s skipped: missing-x402-fields", depositAddress)
			result.Action = SweepActionSkipped
			result.Reason = SkipMissingFields
			return result
		}
		metrics.SweepRecordErrors.WithLabelValues("challenge").Inc()
		s.noteSweepError(ctx, depositAddress, fmt.Sprintf("challenge fetch failed: %v", err))
		result.Action = SweepActionError
		result.Error = err.Error()
		return result
	}

	artifact, err := s.signer.SignAuthorization(ctx, record, challenge)
	if err != nil {
		metrics.SweepRecordErrors.WithLabelValues("signing").Inc()
		s.noteSweepError(ctx, depositAddress, fmt.Sprintf("signing failed: %v", err))
		result.Action = SweepActionError
		result.Error = err.Error()
		return result
	}

	claimed, err := s.repo.MarkExecuted(ctx, depositAddress, artifact, time.Now())
	if err != nil {
		metrics.SweepRecordErrors.WithLabelValues("persist").Inc()
		result.Action = SweepActionError
		result.Error = err.Error()
		return result
	}
	if !claimed {
		metrics.SweepSkipped.WithLabelValues(SkipAlreadyExecuted).Inc()
		result.Action = SweepActionSkipped
		result.Reason = SkipAlreadyExecuted
		return result
	}

	metrics.PaymentsExecuted.Inc()
	s.publisher.Publish(events.SubjectPaymentExecuted, events.DepositEvent{
		DepositAddress: depositAddress,
		IntentID:       record.IntentID,
		TargetChain:    record.TargetChain,
		SwapStatus:     record.SwapStatus,
		Artifact:       artifact,
	})
	log.Printf("✅ [Reconcile] Payment executed for %s", depositAddress)

	return s.submitArtifact(ctx, record, artifact, result)
}

// submitArtifact presents the persisted artifact to the destination. In
// broadcast mode the artifact is already an on-chain transaction hash and
// doubles as the settlement reference. Submission failures are recorded but
// leave the executed state untouched.
func (s *ReconcileService) submitArtifact(ctx context.Context, record *models.DepositRecord, artifact string, result SweepResult) SweepResult {
	result.Action = SweepActionExecuted

	if networkConfig, err := config.GetNetworkConfig(record.TargetChain); err == nil && networkConfig.BroadcastTx {
		if err := s.repo.UpdateSettlement(ctx, record.DepositAddress, artifact); err != nil {
			log.Printf("⚠️ [Reconcile] Failed to persist settlement for %s: %v", record.DepositAddress, err)
		}
		result.SettlementHash = artifact
		return result
	}

	settlement, err := s.exchanger.Submit(ctx, record.RedirectURL, artifact)
	if err != nil {
		metrics.SubmissionFailures.Inc()
		s.noteSweepError(ctx, record.DepositAddress, fmt.Sprintf("submission failed: %v", err))
		log.Printf("⚠️ [Reconcile] Submission failed for %s (artifact persisted): %v", record.DepositAddress, err)
		result.Error = err.Error()
		return result
	}

	if settlement.SettlementHash != "" {
		if err := s.repo.UpdateSettlement(ctx, record.DepositAddress, settlement.SettlementHash); err != nil {
			log.Printf("⚠️ [Reconcile] Failed to persist settlement for %s: %v", record.DepositAddress, err)
		}
		result.SettlementHash = settlement.SettlementHash
	}
	return result
}

// recordLock returns the mutex serializing execution for one deposit address
func (s *ReconcileService) recordLock(depositAddress string) *sync.Mutex {
	lock, _ := s.recordLocks.LoadOrStore(depositAddress, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// noteSweepError best-effort persists the failure for operator visibility
func (s *ReconcileService) noteSweepError(ctx context.Context, depositAddress, message string) {
	if err := s.repo.RecordSweepError(ctx, depositAddress, message); err != nil {
		log.Printf("⚠️ [Reconcile] Failed to record sweep error for %s: %v", depositAddress, err)
	}
}
