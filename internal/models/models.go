package models

import (
	"time"
)

// SwapStatus normalized swap execution status reported by the aggregator
type SwapStatus string

const (
	SwapStatusPendingDeposit    SwapStatus = "PENDING_DEPOSIT"   // awaiting the deposit to the deposit address
	SwapStatusKnownDepositTx    SwapStatus = "KNOWN_DEPOSIT_TX"  // deposit tx hash submitted, not yet detected
	SwapStatusProcessing        SwapStatus = "PROCESSING"        // deposit detected, market makers executing
	SwapStatusSuccess           SwapStatus = "SUCCESS"           // funds delivered to destination chain/address
	SwapStatusRefunded          SwapStatus = "REFUNDED"          // swap not completed, funds returned
	SwapStatusIncompleteDeposit SwapStatus = "INCOMPLETE_DEPOSIT" // deposit below required amount
	SwapStatusFailed            SwapStatus = "FAILED"            // swap failed
)

// RecordStatusTimeout presentation-level status for records whose swap window expired
const RecordStatusTimeout = "TIMEOUT"

// IsTerminalSwapStatus reports whether a normalized status ends reconciliation
// for the record. Unrecognized statuses are non-terminal: the sweep keeps
// polling them until the deadline passes.
func IsTerminalSwapStatus(status SwapStatus) bool {
	switch status {
	case SwapStatusSuccess, SwapStatusRefunded, SwapStatusIncompleteDeposit, SwapStatusFailed:
		return true
	default:
		return false
	}
}

// IsKnownSwapStatus reports whether a status is one of the normalized values.
// Anything else came through the aggregator unrecognized and is preserved
// verbatim for observability.
func IsKnownSwapStatus(status SwapStatus) bool {
	switch status {
	case SwapStatusPendingDeposit, SwapStatusKnownDepositTx, SwapStatusProcessing,
		SwapStatusSuccess, SwapStatusRefunded, SwapStatusIncompleteDeposit, SwapStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminalNegative reports whether a status is a terminal failure outcome
func IsTerminalNegative(status SwapStatus) bool {
	switch status {
	case SwapStatusRefunded, SwapStatusIncompleteDeposit, SwapStatusFailed:
		return true
	default:
		return false
	}
}

// DepositRecord tracks one payment attempt end-to-end, keyed by the
// aggregator-issued deposit address. Created once by the registrar; all later
// writes are updates from the reconciliation sweep. Never deleted.
type DepositRecord struct {
	DepositAddress    string     `json:"deposit_address" gorm:"primaryKey;column:deposit_address"`
	IntentID          string     `json:"intent_id" gorm:"not null;index"`
	Amount            string     `json:"amount" gorm:"not null"` // origin-asset denominated decimal string
	Recipient         string     `json:"recipient" gorm:"not null"`
	SwapWalletAddress string     `json:"swap_wallet_address" gorm:"not null"` // derived wallet receiving swapped funds and signing the payment
	SigningKeyRef     string     `json:"signing_key_ref" gorm:"not null"`     // derivation path used for signature requests
	TargetChain       string     `json:"target_chain" gorm:"not null"`
	RedirectURL       string     `json:"redirect_url" gorm:"not null"`
	QuoteSnapshot     string     `json:"quote_snapshot" gorm:"type:text"` // aggregator quote payload stored verbatim
	Deadline          time.Time  `json:"deadline" gorm:"not null;index"`  // swap window expiry, immutable after creation
	Confirmed         bool       `json:"confirmed" gorm:"default:false;index"`
	ConfirmedAt       *time.Time `json:"confirmed_at"`
	SwapStatus        string     `json:"swap_status" gorm:"default:'PENDING_DEPOSIT'"` // last observed status, unrecognized values preserved verbatim
	SignedPayload     string     `json:"signed_payload" gorm:"type:text"`              // payment authorization artifact, set at most once
	X402Executed      bool       `json:"x402_executed" gorm:"default:false"`
	DepositTxHash     string     `json:"deposit_tx_hash"`                  // optional user-supplied acceleration hint
	SettlementHash    string     `json:"settlement_hash"`                  // destination settlement metadata, if returned
	LastSweepError    string     `json:"last_sweep_error" gorm:"type:text"` // most recent per-record sweep failure, for operators
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName overrides the gorm table name
func (DepositRecord) TableName() string {
	return "deposit_records"
}

// DeadlinePassed reports whether the record's swap window has expired
func (r *DepositRecord) DeadlinePassed(now time.Time) bool {
	return now.After(r.Deadline)
}

// PresentationStatus maps the record to the status string surfaced to pollers.
// Clients treat TIMEOUT, FAILED, REFUNDED, INCOMPLETE_DEPOSIT as
// terminal-negative and everything else as in-progress.
func (r *DepositRecord) PresentationStatus(now time.Time) string {
	if IsTerminalSwapStatus(SwapStatus(r.SwapStatus)) {
		return r.SwapStatus
	}
	if r.DeadlinePassed(now) {
		return RecordStatusTimeout
	}
	return r.SwapStatus
}
