package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbon-marketplace/internal/adapter"
	"github.com/carbon-marketplace/internal/events"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/retry"
	"github.com/carbon-marketplace/internal/types"
)

const beneficiary = "0x52908400098527886E0F7030069857D2E4169EE7"

type retirementFixture struct {
	svc         *RetirementService
	owners      *mockOwnershipRepository
	retirements *mockRetirementRepository
	props       *mockPropertyRepository
	chain       *mockChain
	ledger      *mockLedger
	pub         *recordingPublisher
	locks       *mockLocker
	user        *models.User
}

func newRetirementFixture(t *testing.T, credits int64) *retirementFixture {
	t.Helper()
	f := &retirementFixture{
		owners: newMockOwnershipRepository(&models.Ownership{ID: "own-1", UserID: "u1", PropertyID: "prop-1", Credits: credits}),
		props:  newMockPropertyRepository(),
		chain:  &mockChain{txHash: "0xabc", status: adapter.ReceiptSuccess},
		ledger: &mockLedger{},
		pub:    &recordingPublisher{},
		locks:  newMockLocker(),
		user:   &models.User{ID: "u1"},
	}
	f.retirements = newMockRetirementRepository(f.owners)

	p := &models.Property{
		Name:            "Mangrove Restoration",
		Status:          types.StatusTrading,
		Price:           decimal.NewFromInt(100),
		AvailableShares: 10,
		TotalShares:     10,
		Attributes:      models.Attributes{ContractAddress: "0x1111111111111111111111111111111111111111"},
	}
	require.NoError(t, f.props.Create(context.Background(), p))
	f.owners.owners["own-1"].PropertyID = p.ID

	f.svc = NewRetirementService(f.owners, f.retirements, f.props, f.chain, f.ledger, f.pub, f.locks, 50*time.Millisecond)
	f.svc.receiptInterval = time.Millisecond
	f.svc.writeRetry = &retry.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return f
}

func validRetireInput(credits int64) RetireInput {
	return RetireInput{
		OwnerID:            "own-1",
		Credits:            credits,
		BeneficiaryAddress: beneficiary,
		BeneficiaryName:    "Green Co",
		Description:        "Offsetting 2024 travel",
	}
}

func TestRetire_ValidationBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *RetireInput)
	}{
		{"zero credits", func(in *RetireInput) { in.Credits = 0 }},
		{"negative credits", func(in *RetireInput) { in.Credits = -3 }},
		{"short description", func(in *RetireInput) { in.Description = " ok " }},
		{"bad address", func(in *RetireInput) { in.BeneficiaryAddress = "not-an-address" }},
		{"missing holding", func(in *RetireInput) { in.OwnerID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRetirementFixture(t, 10)
			in := validRetireInput(5)
			tt.mutate(&in)

			_, err := f.svc.Retire(context.Background(), f.user, in)
			assert.Equal(t, types.CodeInvalidInput, serviceCode(t, err))
			assert.Zero(t, f.owners.reads)
			assert.Zero(t, f.retirements.created)
			assert.Empty(t, f.chain.calls)
		})
	}
}

func TestRetire_RejectsBeforeChainCall(t *testing.T) {
	ctx := context.Background()

	t.Run("more than held", func(t *testing.T) {
		f := newRetirementFixture(t, 10)
		_, err := f.svc.Retire(ctx, f.user, validRetireInput(11))
		assert.Equal(t, types.CodeInsufficientCredits, serviceCode(t, err))
		assert.Zero(t, f.retirements.created)
		assert.Empty(t, f.chain.calls)
	})

	t.Run("someone else's holding", func(t *testing.T) {
		f := newRetirementFixture(t, 10)
		_, err := f.svc.Retire(ctx, &models.User{ID: "u2"}, validRetireInput(1))
		assert.Equal(t, types.CodeOwnershipNotFound, serviceCode(t, err))
		assert.Empty(t, f.chain.calls)
	})

	t.Run("anonymous", func(t *testing.T) {
		f := newRetirementFixture(t, 10)
		_, err := f.svc.Retire(ctx, nil, validRetireInput(1))
		assert.Equal(t, types.CodeLoginRequired, serviceCode(t, err))
	})

	t.Run("concurrent submission", func(t *testing.T) {
		f := newRetirementFixture(t, 10)
		release, err := f.locks.Acquire(ctx, "retire", f.user.ID)
		require.NoError(t, err)
		defer release()

		_, err = f.svc.Retire(ctx, f.user, validRetireInput(1))
		assert.Equal(t, types.CodeOperationInProgress, serviceCode(t, err))
		assert.Empty(t, f.chain.calls)
	})
}

func TestRetire_ExactDepletionDeletesHolding(t *testing.T) {
	ctx := context.Background()
	f := newRetirementFixture(t, 10)

	res, err := f.svc.Retire(ctx, f.user, validRetireInput(10))
	require.NoError(t, err)
	assert.Equal(t, types.RetirementConfirmed, res.Retirement.Status)
	assert.Equal(t, CertificatePath(res.Retirement.ID), res.CertificateURL)
	require.NotNil(t, res.Retirement.TxHash)
	assert.Equal(t, "0xabc", *res.Retirement.TxHash)

	_, stillHeld := f.owners.owners["own-1"]
	assert.False(t, stillHeld, "a holding retired down to zero is removed")

	require.Len(t, f.chain.calls, 1)
	call := f.chain.calls[0]
	assert.Equal(t, int64(10), call.Credits)
	assert.Equal(t, beneficiary, call.Beneficiary)
	assert.Equal(t, "Mangrove Restoration", call.ProjectName)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", call.Contract)

	require.Len(t, f.ledger.events, 1)
	assert.Equal(t, models.ActivityRetirement, f.ledger.events[0].Kind)
	assert.Equal(t, []string{events.OffsetRetired}, f.pub.keys)
	assert.Empty(t, f.locks.held, "lock released after the request")
}

func TestRetire_PartialKeepsRemainder(t *testing.T) {
	f := newRetirementFixture(t, 10)

	_, err := f.svc.Retire(context.Background(), f.user, validRetireInput(4))
	require.NoError(t, err)
	require.Contains(t, f.owners.owners, "own-1")
	assert.Equal(t, int64(6), f.owners.owners["own-1"].Credits)
}

func TestRetire_ChainFailureLeavesHoldingIntact(t *testing.T) {
	f := newRetirementFixture(t, 10)
	f.chain.retireErr = errors.New("execution reverted")

	_, err := f.svc.Retire(context.Background(), f.user, validRetireInput(4))
	assert.Equal(t, types.CodeChainCallFailed, serviceCode(t, err))
	assert.Equal(t, int64(10), f.owners.owners["own-1"].Credits)

	require.Len(t, f.retirements.retirements, 1)
	for _, ret := range f.retirements.retirements {
		assert.Equal(t, types.RetirementFailed, ret.Status)
		require.NotNil(t, ret.Error)
	}
	assert.Empty(t, f.pub.keys)
	assert.Empty(t, f.ledger.events)
}

func TestRetire_RevertedReceipt(t *testing.T) {
	f := newRetirementFixture(t, 10)
	f.chain.status = adapter.ReceiptFailed

	_, err := f.svc.Retire(context.Background(), f.user, validRetireInput(4))
	assert.Equal(t, types.CodeChainCallFailed, serviceCode(t, err))
	assert.Equal(t, int64(10), f.owners.owners["own-1"].Credits)
}

func TestRetire_UnminedIsFinalizedByReconcile(t *testing.T) {
	ctx := context.Background()
	f := newRetirementFixture(t, 10)
	f.chain.status = adapter.ReceiptUnknown

	res, err := f.svc.Retire(ctx, f.user, validRetireInput(3))
	require.NoError(t, err)
	assert.Equal(t, types.RetirementSubmitted, res.Retirement.Status)
	assert.Empty(t, res.CertificateURL)
	assert.Equal(t, int64(10), f.owners.owners["own-1"].Credits)

	stats, err := f.svc.Reconcile(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)

	f.chain.status = adapter.ReceiptSuccess
	stats, err = f.svc.Reconcile(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Confirmed: 1}, stats)
	assert.Equal(t, int64(7), f.owners.owners["own-1"].Credits)

	ret, err := f.svc.Certificate(ctx, f.user, res.Retirement.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RetirementConfirmed, ret.Status)
}

func TestReconcile_ConflictAndStalePending(t *testing.T) {
	ctx := context.Background()
	f := newRetirementFixture(t, 10)
	f.svc.receiptTimeout = 0

	res, err := f.svc.Retire(ctx, f.user, validRetireInput(8))
	require.NoError(t, err)
	require.Equal(t, types.RetirementSubmitted, res.Retirement.Status)

	// credits moved elsewhere before the receipt was seen
	f.owners.owners["own-1"].Credits = 5

	stale := &models.Retirement{UserID: "u1", OwnerID: "own-1", Credits: 1, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, f.retirements.CreatePending(ctx, stale))
	fresh := &models.Retirement{UserID: "u1", OwnerID: "own-1", Credits: 1, CreatedAt: time.Date(2024, 1, 1, 0, 50, 0, 0, time.UTC)}
	require.NoError(t, f.retirements.CreatePending(ctx, fresh))

	f.svc.now = func() time.Time { return time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC) }
	stats, err := f.svc.Reconcile(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.Confirmed)

	assert.Equal(t, types.RetirementFailed, f.retirements.retirements[res.Retirement.ID].Status)
	assert.Equal(t, types.RetirementFailed, f.retirements.retirements[stale.ID].Status)
	assert.Equal(t, types.RetirementPending, f.retirements.retirements[fresh.ID].Status)
	assert.Equal(t, int64(5), f.owners.owners["own-1"].Credits)
}

func TestRetirementService_Certificate(t *testing.T) {
	ctx := context.Background()
	f := newRetirementFixture(t, 10)
	f.svc.receiptTimeout = 0

	res, err := f.svc.Retire(ctx, f.user, validRetireInput(2))
	require.NoError(t, err)

	_, err = f.svc.Certificate(ctx, f.user, res.Retirement.ID)
	assert.Equal(t, types.CodeRetirementNotReady, serviceCode(t, err))

	_, err = f.svc.Certificate(ctx, &models.User{ID: "u2"}, res.Retirement.ID)
	assert.Equal(t, types.CodeRetirementNotFound, serviceCode(t, err))

	_, err = f.svc.Certificate(ctx, f.user, "missing")
	assert.Equal(t, types.CodeRetirementNotFound, serviceCode(t, err))
}

func TestRetirementService_Offsets(t *testing.T) {
	ctx := context.Background()
	f := newRetirementFixture(t, 10)
	f.owners.owners["own-2"] = &models.Ownership{ID: "own-2", UserID: "u1", PropertyID: "deleted-project", Credits: 3}
	f.owners.owners["own-3"] = &models.Ownership{ID: "own-3", UserID: "u2", PropertyID: "prop-1", Credits: 1}

	_, err := f.svc.Retire(ctx, f.user, validRetireInput(1))
	require.NoError(t, err)
	_, err = f.svc.Retire(ctx, f.user, validRetireInput(2))
	require.NoError(t, err)

	view, err := f.svc.Offsets(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, view.Holdings, 2)
	assert.Equal(t, "Mangrove Restoration", view.Holdings[0].ProjectName)
	assert.Equal(t, UnknownProjectName, view.Holdings[1].ProjectName)

	require.Len(t, view.Retirements, 2)
	assert.Equal(t, int64(2), view.Retirements[0].Credits, "newest first")
}

func TestRetire_InFlightRetirementsReserveCredits(t *testing.T) {
	ctx := context.Background()
	f := newRetirementFixture(t, 10)
	f.chain.status = adapter.ReceiptUnknown

	res, err := f.svc.Retire(ctx, f.user, validRetireInput(8))
	require.NoError(t, err)
	require.Equal(t, types.RetirementSubmitted, res.Retirement.Status)

	_, err = f.svc.Retire(ctx, f.user, validRetireInput(8))
	assert.Equal(t, types.CodeInsufficientCredits, serviceCode(t, err))
	require.Len(t, f.chain.calls, 1, "no second transaction against reserved credits")

	rest, err := f.svc.Retire(ctx, f.user, validRetireInput(2))
	require.NoError(t, err)
	assert.Equal(t, types.RetirementSubmitted, rest.Retirement.Status)

	_, err = f.svc.Retire(ctx, f.user, validRetireInput(1))
	assert.Equal(t, types.CodeInsufficientCredits, serviceCode(t, err))

	f.chain.status = adapter.ReceiptSuccess
	stats, err := f.svc.Reconcile(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Confirmed: 2}, stats)
	_, stillHeld := f.owners.owners["own-1"]
	assert.False(t, stillHeld)
}

func TestRetire_ClientGoneAfterChainCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newRetirementFixture(t, 10)
	f.chain.status = adapter.ReceiptUnknown
	f.chain.onCall = cancel

	res, err := f.svc.Retire(ctx, f.user, validRetireInput(4))
	require.NoError(t, err)
	assert.Equal(t, types.RetirementSubmitted, res.Retirement.Status)

	stored := f.retirements.retirements[res.Retirement.ID]
	require.NotNil(t, stored.TxHash, "hash recorded although the request was cancelled")
	assert.Equal(t, "0xabc", *stored.TxHash)

	f.chain.status = adapter.ReceiptSuccess
	stats, err := f.svc.Reconcile(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Confirmed: 1}, stats)
	assert.Equal(t, int64(6), f.owners.owners["own-1"].Credits)
}

func TestRetire_LockReleasedBeforeChainCall(t *testing.T) {
	f := newRetirementFixture(t, 10)
	f.chain.onCall = func() {
		assert.Empty(t, f.locks.held, "the pending row reserves the credits while the chain call runs")
	}

	_, err := f.svc.Retire(context.Background(), f.user, validRetireInput(3))
	require.NoError(t, err)
	assert.Empty(t, f.locks.held)
}

func TestRetire_NotConfigured(t *testing.T) {
	f := newRetirementFixture(t, 10)
	f.chain.retireErr = fmt.Errorf("%w: chain RPC or signer key", adapter.ErrNotConfigured)

	_, err := f.svc.Retire(context.Background(), f.user, validRetireInput(3))
	assert.Equal(t, types.CodeServiceUnavailable, serviceCode(t, err))
	for _, ret := range f.retirements.retirements {
		assert.Equal(t, types.RetirementFailed, ret.Status)
		assert.Nil(t, ret.TxHash)
	}
	assert.Equal(t, int64(10), f.owners.owners["own-1"].Credits)
}

func TestRetire_BroadcastRejected(t *testing.T) {
	ctx := context.Background()
	f := newRetirementFixture(t, 10)
	f.chain.sendErr = fmt.Errorf("%w: nonce too low", adapter.ErrRejected)

	_, err := f.svc.Retire(ctx, f.user, validRetireInput(10))
	assert.Equal(t, types.CodeChainCallFailed, serviceCode(t, err))
	for _, ret := range f.retirements.retirements {
		assert.Equal(t, types.RetirementFailed, ret.Status)
		require.NotNil(t, ret.TxHash)
	}

	f.chain.sendErr = nil
	_, err = f.svc.Retire(ctx, f.user, validRetireInput(10))
	require.NoError(t, err, "a refused transaction releases its credits")
}

func TestRetire_BroadcastOutcomeUnknown(t *testing.T) {
	ctx := context.Background()
	f := newRetirementFixture(t, 10)
	f.chain.sendErr = errors.New("connection reset by peer")

	res, err := f.svc.Retire(ctx, f.user, validRetireInput(4))
	require.NoError(t, err)
	assert.Equal(t, types.RetirementSubmitted, res.Retirement.Status)
	assert.Empty(t, res.CertificateURL)

	f.chain.status = adapter.ReceiptDropped
	f.svc.now = func() time.Time { return time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC) }

	stats, err := f.svc.Reconcile(ctx, 2*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Waiting: 1}, stats, "a young unknown transaction is given time to appear")

	stats, err = f.svc.Reconcile(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Failed: 1}, stats)
	assert.Equal(t, types.RetirementFailed, f.retirements.retirements[res.Retirement.ID].Status)
	assert.Equal(t, int64(10), f.owners.owners["own-1"].Credits)
}
