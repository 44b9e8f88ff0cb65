package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/carbon-marketplace/internal/adapter"
	"github.com/carbon-marketplace/internal/events"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/metrics"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/retry"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

// UnknownProjectName labels holdings whose project no longer resolves
const UnknownProjectName = "Unknown project"

// RetireInput is the offset form
type RetireInput struct {
	OwnerID            string `json:"ownerId"`
	Credits            int64  `json:"credits"`
	BeneficiaryAddress string `json:"beneficiaryAddress"`
	BeneficiaryName    string `json:"beneficiaryName"`
	Description        string `json:"description"`
}

// Validate checks the form without touching any collaborator
func (in *RetireInput) Validate() error {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.BeneficiaryAddress = strings.TrimSpace(in.BeneficiaryAddress)
	in.BeneficiaryName = strings.TrimSpace(in.BeneficiaryName)
	in.Description = strings.TrimSpace(in.Description)

	switch {
	case in.OwnerID == "":
		return invalidInput("ownerId", "select a holding to retire from")
	case in.Credits <= 0:
		return invalidInput("credits", "credits must be greater than zero")
	case len([]rune(in.Description)) < 5:
		return invalidInput("description", "description must be at least 5 characters")
	case !common.IsHexAddress(in.BeneficiaryAddress):
		return invalidInput("beneficiaryAddress", "beneficiary address must be a valid wallet address")
	}
	return nil
}

// OffsetHolding is an ownership resolved to its project name
type OffsetHolding struct {
	models.Ownership
	ProjectName string `json:"projectName"`
}

// OffsetsView is the offset page: what can be retired and what was retired
type OffsetsView struct {
	Holdings    []OffsetHolding     `json:"holdings"`
	Retirements []models.Retirement `json:"retirements"`
}

// RetireResult is the outcome of a retirement request
type RetireResult struct {
	Retirement     *models.Retirement `json:"retirement"`
	CertificateURL string             `json:"certificateUrl,omitempty"`
}

// ReconcileStats summarizes one reconciliation pass
type ReconcileStats struct {
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Waiting   int `json:"waiting"`
	Errors    int `json:"errors"`
}

// RetirementService runs the offset workflow. A retirement is recorded as
// pending before the chain call, moves to submitted with the hash of its signed
// transaction before that transaction is broadcast, and is confirmed together
// with the ownership decrement in one transaction.
type RetirementService struct {
	owners      OwnershipRepository
	retirements RetirementRepository
	props       PropertyRepository
	chain       ChainRetirer
	ledger      ActivityLedger
	publisher   events.Publisher
	locks       Locker

	receiptTimeout  time.Duration
	receiptInterval time.Duration
	writeRetry      *retry.RetryConfig
	now             func() time.Time
}

// NewRetirementService creates a new retirement service. receiptTimeout bounds how long
// a request waits for the transaction to be mined before leaving it to reconciliation.
func NewRetirementService(
	owners OwnershipRepository,
	retirements RetirementRepository,
	props PropertyRepository,
	chain ChainRetirer,
	ledger ActivityLedger,
	publisher events.Publisher,
	locks Locker,
	receiptTimeout time.Duration,
) *RetirementService {
	if ledger == nil {
		ledger = NopLedger{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &RetirementService{
		owners:          owners,
		retirements:     retirements,
		props:           props,
		chain:           chain,
		ledger:          ledger,
		publisher:       publisher,
		locks:           locks,
		receiptTimeout:  receiptTimeout,
		receiptInterval: 2 * time.Second,
		writeRetry:      retry.DefaultRetryConfig(),
		now:             time.Now,
	}
}

// Offsets lists the user's holdings with project names and their retirements, newest first
func (s *RetirementService) Offsets(ctx context.Context, user *models.User) (*OffsetsView, error) {
	if user == nil {
		return nil, loginRequired()
	}

	owned, err := s.owners.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(owned))
	for _, o := range owned {
		ids = append(ids, o.PropertyID)
	}
	names, err := s.props.NamesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	view := &OffsetsView{Holdings: make([]OffsetHolding, 0, len(owned))}
	for _, o := range owned {
		name, ok := names[o.PropertyID]
		if !ok {
			name = UnknownProjectName
		}
		view.Holdings = append(view.Holdings, OffsetHolding{Ownership: o, ProjectName: name})
	}

	if view.Retirements, err = s.retirements.ListByUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return view, nil
}

// chainCallTimeout bounds signing and broadcasting one retire transaction
const chainCallTimeout = 30 * time.Second

// Retire validates the request, calls the retirement contract and finalizes the record.
// When the transaction is not mined within the receipt timeout the retirement is
// returned as submitted and finalized later by Reconcile.
//
// The busy lock covers only the credit check and the pending insert; after
// that the pending row reserves the credits. Writes after the chain call run
// detached from the request context.
func (s *RetirementService) Retire(ctx context.Context, user *models.User, in RetireInput) (*RetireResult, error) {
	if user == nil {
		return nil, loginRequired()
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	release, err := acquire(ctx, s.locks, "retire", user.ID)
	if err != nil {
		return nil, err
	}
	unlock := sync.OnceFunc(release)
	defer unlock()

	ret, contract, err := s.reserve(ctx, user, in)
	if err != nil {
		return nil, err
	}
	unlock()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"retirementId": ret.ID,
		"userId":       user.ID,
		"credits":      in.Credits,
	})

	detached := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(detached, chainCallTimeout)
	defer cancel()

	txHash, err := s.chain.Retire(callCtx, adapter.RetireCall{
		Contract:    contract,
		Credits:     in.Credits,
		Beneficiary: in.BeneficiaryAddress,
		ProjectName: ret.ProjectName,
	}, func(txHash string) error {
		return s.recordHash(detached, ret, txHash)
	})
	switch {
	case err == nil:
		logger.WithField("txHash", txHash).Info("retire transaction submitted")
	case txHash == "":
		logger.WithError(err).Warn("retire transaction was not sent")
		s.markFailed(detached, ret, err.Error())
		if errors.Is(err, adapter.ErrNotConfigured) {
			return nil, types.NewServiceError(types.CodeServiceUnavailable, "credit retirement is not configured")
		}
		return nil, types.NewServiceError(types.CodeChainCallFailed, "the retirement transaction could not be submitted")
	case errors.Is(err, adapter.ErrRejected):
		logger.WithError(err).WithField("txHash", txHash).Warn("retire transaction rejected")
		s.markFailed(detached, ret, err.Error())
		return nil, types.NewServiceError(types.CodeChainCallFailed, "the retirement transaction was rejected")
	default:
		// recorded as submitted; Reconcile settles it from the chain
		logger.WithError(err).WithField("txHash", txHash).Warn("retire broadcast outcome unknown")
		return &RetireResult{Retirement: ret}, nil
	}

	switch s.waitForReceipt(ctx, txHash) {
	case adapter.ReceiptSuccess:
		confirmed, err := s.finalize(detached, ret)
		if err != nil {
			return nil, err
		}
		return &RetireResult{Retirement: confirmed, CertificateURL: CertificatePath(confirmed.ID)}, nil
	case adapter.ReceiptFailed:
		s.markFailed(detached, ret, "transaction reverted")
		return nil, types.NewServiceError(types.CodeChainCallFailed, "the retirement transaction was reverted")
	default:
		return &RetireResult{Retirement: ret}, nil
	}
}

// reserve checks the holding against the credits already held by in-flight
// retirements and records the new retirement as pending
func (s *RetirementService) reserve(ctx context.Context, user *models.User, in RetireInput) (*models.Retirement, string, error) {
	own, err := s.owners.GetByID(ctx, in.OwnerID)
	if err != nil || own.UserID != user.ID {
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			return nil, "", types.NewServiceError(types.CodeOwnershipNotFound, "holding not found")
		}
		return nil, "", err
	}

	reserved, err := s.retirements.ReservedCredits(ctx, own.ID)
	if err != nil {
		return nil, "", err
	}
	available := own.Credits - reserved
	if available < 0 {
		available = 0
	}
	if in.Credits > available {
		return nil, "", &types.ServiceError{
			Code:    types.CodeInsufficientCredits,
			Message: fmt.Sprintf("only %d credits are available to retire", available),
			Details: map[string]interface{}{"available": available, "requested": in.Credits, "inFlight": reserved},
		}
	}

	projectName, contract := UnknownProjectName, ""
	if p, err := s.props.GetByID(ctx, own.PropertyID); err == nil {
		projectName, contract = p.Name, p.Attributes.ContractAddress
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, "", err
	}

	ret := &models.Retirement{
		UserID:             user.ID,
		PropertyID:         own.PropertyID,
		OwnerID:            own.ID,
		ProjectName:        projectName,
		Credits:            in.Credits,
		BeneficiaryAddress: in.BeneficiaryAddress,
		BeneficiaryName:    in.BeneficiaryName,
		Description:        in.Description,
	}
	if err := s.retirements.CreatePending(ctx, ret); err != nil {
		return nil, "", err
	}
	return ret, contract, nil
}

// recordHash moves ret to submitted with the hash of its signed transaction
func (s *RetirementService) recordHash(ctx context.Context, ret *models.Retirement, txHash string) error {
	err := retry.Do(ctx, s.writeRetry, func(ctx context.Context, _ int) error {
		err := s.retirements.MarkSubmitted(ctx, ret.ID, txHash)
		if errors.Is(err, storage.ErrInvalidTransition) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}
	ret.Status = types.RetirementSubmitted
	ret.TxHash = &txHash
	return nil
}

// Certificate returns a confirmed retirement owned by user
func (s *RetirementService) Certificate(ctx context.Context, user *models.User, id string) (*models.Retirement, error) {
	if user == nil {
		return nil, loginRequired()
	}
	ret, err := s.retirements.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, types.CodeRetirementNotFound, "retirement not found")
	}
	if ret.UserID != user.ID {
		return nil, types.NewServiceError(types.CodeRetirementNotFound, "retirement not found")
	}
	if ret.Status != types.RetirementConfirmed {
		return nil, &types.ServiceError{
			Code:    types.CodeRetirementNotReady,
			Message: "the certificate is available once the retirement is confirmed",
			Details: map[string]interface{}{"status": ret.Status},
		}
	}
	return ret, nil
}

// CertificatePath is the API path of a retirement certificate
func CertificatePath(id string) string {
	return "/api/offsets/" + id + "/certificate"
}

// Reconcile finalizes submitted retirements from their receipts. Submitted
// retirements whose transaction the node no longer knows, and pending ones
// (never broadcast, since the hash is recorded first) are failed once older
// than stalePending.
func (s *RetirementService) Reconcile(ctx context.Context, stalePending time.Duration, batch int) (ReconcileStats, error) {
	var stats ReconcileStats
	logger := logging.FromContext(ctx).WithField("component", "reconcile")
	now := s.now()

	submitted, err := s.retirements.ListByStatus(ctx, types.RetirementSubmitted, now, batch)
	if err != nil {
		return stats, err
	}
	for i := range submitted {
		ret := &submitted[i]
		if ret.TxHash == nil || *ret.TxHash == "" {
			s.markFailed(ctx, ret, "submitted without transaction hash")
			stats.Failed++
			continue
		}

		status, err := s.chain.ReceiptStatus(ctx, *ret.TxHash)
		if err != nil {
			logger.WithError(err).WithField("retirementId", ret.ID).Warn("receipt lookup failed")
			stats.Errors++
			continue
		}
		switch status {
		case adapter.ReceiptDropped:
			if ret.UpdatedAt.After(now.Add(-stalePending)) {
				stats.Waiting++
				continue
			}
			s.markFailed(ctx, ret, "transaction was not found on chain")
			stats.Failed++
		case adapter.ReceiptSuccess:
			if _, err := s.finalize(ctx, ret); err != nil {
				if hasCode(err, types.CodeInsufficientCredits) {
					stats.Failed++
				} else {
					logger.WithError(err).WithField("retirementId", ret.ID).Warn("confirm failed")
					stats.Errors++
				}
				continue
			}
			stats.Confirmed++
		case adapter.ReceiptFailed:
			s.markFailed(ctx, ret, "transaction reverted")
			stats.Failed++
		default:
			stats.Waiting++
		}
	}

	stale, err := s.retirements.ListByStatus(ctx, types.RetirementPending, now.Add(-stalePending), batch)
	if err != nil {
		return stats, err
	}
	for i := range stale {
		s.markFailed(ctx, &stale[i], "no transaction was signed before the pending timeout")
		stats.Failed++
	}

	if stats != (ReconcileStats{}) {
		logger.WithFields(map[string]interface{}{
			"confirmed": stats.Confirmed,
			"failed":    stats.Failed,
			"waiting":   stats.Waiting,
			"errors":    stats.Errors,
		}).Info("reconciliation pass complete")
	}
	return stats, nil
}

// finalize confirms a mined retirement and emits its side effects
func (s *RetirementService) finalize(ctx context.Context, ret *models.Retirement) (*models.Retirement, error) {
	logger := logging.FromContext(ctx).WithField("retirementId", ret.ID)

	confirmed, err := s.retirements.Confirm(ctx, ret.ID)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordRetirement(string(types.RetirementFailed), ret.Credits)
			logger.WithError(err).Warn("holding no longer covers the retirement")
			return nil, types.NewServiceError(types.CodeInsufficientCredits, "the holding no longer has enough credits")
		}
		return nil, err
	}

	metrics.RecordRetirement(string(types.RetirementConfirmed), confirmed.Credits)
	reference := ""
	if confirmed.TxHash != nil {
		reference = *confirmed.TxHash
	}
	if err := s.ledger.Append(ctx, models.ActivityEvent{
		UserID:     confirmed.UserID,
		PropertyID: confirmed.PropertyID,
		Kind:       models.ActivityRetirement,
		Quantity:   confirmed.Credits,
		Reference:  reference,
		OccurredAt: s.now().UTC(),
	}); err != nil {
		logger.WithError(err).Warn("failed to record retirement activity")
	}
	s.publisher.Publish(ctx, events.OffsetRetired, map[string]interface{}{
		"retirementId":       confirmed.ID,
		"userId":             confirmed.UserID,
		"propertyId":         confirmed.PropertyID,
		"credits":            confirmed.Credits,
		"beneficiaryAddress": confirmed.BeneficiaryAddress,
		"txHash":             reference,
	})
	logger.Info("retirement confirmed")
	return confirmed, nil
}

func (s *RetirementService) markFailed(ctx context.Context, ret *models.Retirement, reason string) {
	if err := s.retirements.MarkFailed(ctx, ret.ID, reason); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("retirementId", ret.ID).Warn("failed to mark retirement failed")
		return
	}
	ret.Status = types.RetirementFailed
	ret.Error = &reason
	metrics.RecordRetirement(string(types.RetirementFailed), ret.Credits)
}

// waitForReceipt polls the receipt until it is known or the timeout elapses
func (s *RetirementService) waitForReceipt(ctx context.Context, txHash string) adapter.ReceiptStatus {
	if s.receiptTimeout <= 0 {
		return adapter.ReceiptUnknown
	}
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.receiptInterval)
	defer ticker.Stop()
	for {
		status, err := s.chain.ReceiptStatus(ctx, txHash)
		if err == nil && (status == adapter.ReceiptSuccess || status == adapter.ReceiptFailed) {
			return status
		}
		select {
		case <-ctx.Done():
			return adapter.ReceiptUnknown
		case <-ticker.C:
		}
	}
}
