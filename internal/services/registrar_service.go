package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/config"
	"anypay-backend/internal/events"
	"anypay-backend/internal/metrics"
	"anypay-backend/internal/models"
	"anypay-backend/internal/repository"

	"github.com/google/uuid"
)

// AddressDeriver abstracts MPC address derivation
type AddressDeriver interface {
	DeriveAddress(ctx context.Context, path string) (*clients.SignerDeriveResponse, error)
}

// QuoteRequester abstracts the swap aggregator's quote endpoint
type QuoteRequester interface {
	GetQuote(ctx context.Context, req *clients.QuoteRequest) (*clients.Quote, error)
}

// RegisterDepositRequest payment attempt registration input
type RegisterDepositRequest struct {
	IntentID    string `json:"intentId"`
	Amount      string `json:"amount"`
	Recipient   string `json:"recipient"`
	TargetChain string `json:"targetChain"`
	RedirectURL string `json:"redirectUrl"`
}

// RegisterDepositResponse registration result surfaced to the caller.
// QuoteWaitingTimeMs tells the client how long deposit detection may take.
type RegisterDepositResponse struct {
	IntentID           string    `json:"intentId"`
	DepositAddress     string    `json:"depositAddress"`
	Deadline           time.Time `json:"deadline"`
	SwapStatus         string    `json:"swapStatus"`
	QuoteWaitingTimeMs int       `json:"quoteWaitingTimeMs"`
}

// RegistrarService creates deposit records: it derives a fresh receiving and
// signing identity for the attempt, obtains a swap quote routing the output to
// that identity, and persists the initial record. No signing happens here.
type RegistrarService struct {
	repo      repository.DepositRecordRepository
	deriver   AddressDeriver
	quoter    QuoteRequester
	publisher *events.Publisher
}

// NewRegistrarService creates a new registrar service
func NewRegistrarService(repo repository.DepositRecordRepository, deriver AddressDeriver, quoter QuoteRequester, publisher *events.Publisher) *RegistrarService {
	return &RegistrarService{
		repo:      repo,
		deriver:   deriver,
		quoter:    quoter,
		publisher: publisher,
	}
}

// RegisterDeposit validates the request, derives the attempt's wallet,
// obtains a quote and creates the record at PENDING_DEPOSIT
func (s *RegistrarService) RegisterDeposit(ctx context.Context, req *RegisterDepositRequest) (*RegisterDepositResponse, error) {
	if err := validateRegisterRequest(req); err != nil {
		return nil, err
	}

	networkConfig, err := config.GetNetworkConfig(req.TargetChain)
	if err != nil {
		return nil, fmt.Errorf("%w: targetChain: %v", ErrInvalidRequest, err)
	}

	intentID := req.IntentID
	if intentID == "" {
		intentID = uuid.NewString()
	}

	// One derivation path per attempt; the same path later requests the
	// payment signature, so it is stored on the record.
	signingKeyRef := derivationPath(req.TargetChain, intentID)
	derived, err := s.deriver.DeriveAddress(ctx, signingKeyRef)
	if err != nil {
		return nil, fmt.Errorf("failed to derive swap wallet: %w", err)
	}
	if !derived.Success || derived.Address == "" {
		return nil, fmt.Errorf("failed to derive swap wallet: %s", derived.Error)
	}

	oneClickCfg := config.AppConfig.OneClick
	baseAmount, err := toBaseUnits(req.Amount, oneClickCfg.OriginDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrInvalidRequest, err)
	}

	requestedDeadline := time.Now().Add(time.Duration(oneClickCfg.QuoteDeadlineSec) * time.Second)
	refundTo := oneClickCfg.RefundAddress
	if refundTo == "" {
		refundTo = derived.Address
	}

	quote, err := s.quoter.GetQuote(ctx, &clients.QuoteRequest{
		Dry:                false,
		SwapType:           "EXACT_INPUT",
		SlippageTolerance:  oneClickCfg.SlippageTolerance,
		OriginAsset:        oneClickCfg.OriginAsset,
		DepositType:        "ORIGIN_CHAIN",
		DestinationAsset:   networkConfig.DestinationAsset,
		Amount:             baseAmount,
		RefundTo:           refundTo,
		RefundType:         "ORIGIN_CHAIN",
		Recipient:          derived.Address,
		RecipientType:      "DESTINATION_CHAIN",
		Deadline:           requestedDeadline.UTC().Format(time.RFC3339),
		Referral:           oneClickCfg.Referral,
		QuoteWaitingTimeMs: oneClickCfg.QuoteWaitingTimeMs,
		SessionID:          fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), signingKeyRef),
	})
	if err != nil {
		metrics.QuoteFailures.Inc()
		if errors.Is(err, clients.ErrNoDepositAddress) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	deadline := quote.Deadline
	if deadline.IsZero() {
		deadline = requestedDeadline
	}

	record := &models.DepositRecord{
		DepositAddress:    quote.DepositAddress,
		IntentID:          intentID,
		Amount:            req.Amount,
		Recipient:         req.Recipient,
		SwapWalletAddress: derived.Address,
		SigningKeyRef:     signingKeyRef,
		TargetChain:       req.TargetChain,
		RedirectURL:       req.RedirectURL,
		QuoteSnapshot:     string(quote.Raw),
		Deadline:          deadline,
		SwapStatus:        string(models.SwapStatusPendingDeposit),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create deposit record: %w", err)
	}

	metrics.DepositsRegistered.Inc()
	s.publisher.Publish(events.SubjectDepositRegistered, events.DepositEvent{
		DepositAddress: record.DepositAddress,
		IntentID:       intentID,
		TargetChain:    req.TargetChain,
		SwapStatus:     record.SwapStatus,
	})

	log.Printf("📝 [Registrar] Registered deposit %s (intent: %s, chain: %s, wallet: %s, deadline: %s)",
		record.DepositAddress, intentID, req.TargetChain, derived.Address, deadline.Format(time.RFC3339))

	return &RegisterDepositResponse{
		IntentID:           intentID,
		DepositAddress:     record.DepositAddress,
		Deadline:           deadline,
		SwapStatus:         record.SwapStatus,
		QuoteWaitingTimeMs: oneClickCfg.QuoteWaitingTimeMs,
	}, nil
}

func validateRegisterRequest(req *RegisterDepositRequest) error {
	var missing []string
	if req.Amount == "" {
		missing = append(missing, "amount")
	}
	if req.Recipient == "" {
		missing = append(missing, "recipient")
	}
	if req.TargetChain == "" {
		missing = append(missing, "targetChain")
	}
	if req.RedirectURL == "" {
		missing = append(missing, "redirectUrl")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// derivationPath builds the per-attempt signing path from the target chain
// and a short intent prefix
func derivationPath(targetChain, intentID string) string {
	short := intentID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s", targetChain, short)
}

// toBaseUnits converts a decimal amount string to the origin asset's base
// units for the quote request
func toBaseUnits(amount string, decimals int) (string, error) {
	value, err := parseTokenAmount(amount, decimals)
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
