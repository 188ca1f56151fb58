package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approvedAt = time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

type approvalFixture struct {
	repo    *mockRepo
	sellers *mockSellers
	gateway *mockGateway
	app     *Approver
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()
	f := &approvalFixture{
		repo: newMockRepo(),
		sellers: &mockSellers{accounts: map[int64]*PayoutAccount{
			sellerID: {SellerID: sellerID, Nickname: "gopher", Verified: true, BillingTranID: "BT-7"},
			8:        {SellerID: 8, Nickname: "unverified"},
		}},
		gateway: &mockGateway{authRes: AuthResult{Code: "T0000", Message: "ok", AccessToken: "token", ExpiresIn: 3600}},
	}
	app, err := NewApprover(f.repo, f.sellers, f.gateway)
	require.NoError(t, err)
	app.now = func() time.Time { return approvedAt }
	f.app = app
	return f
}

// pending stores a PENDING settlement with one settled and one refunded item.
func (f *approvalFixture) pending(seller int64) *Settlement {
	rates := standardRates()
	items := []Item{
		{PurchaseID: 1, SalesAmount: d("150000"), CapturedRates: rates, PurchasedAt: day(time.March, 3)},
		{PurchaseID: 2, SalesAmount: d("50000"), CapturedRates: rates, IsRefunded: true, PurchasedAt: day(time.March, 4)},
	}
	return f.repo.put(Settlement{
		SellerID:       seller,
		StartDate:      march.Start,
		Status:         StatusPending,
		TransferStatus: TransferNone,
		Totals:         Summarize(items),
	}, items)
}

func TestApprove_WithoutTransfer(t *testing.T) {
	f := newApprovalFixture(t)
	s1 := f.pending(sellerID)
	s2 := f.pending(sellerID)

	res, err := f.app.Approve(context.Background(), ApproveRequest{
		SettlementIDs: []int64{s1.ID, s2.ID},
		AdminUserID:   99,
		Reason:        "monthly payout",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ApprovedSettlementCount)
	assert.Equal(t, 2, res.ApprovedItemCount)
	assert.Equal(t, 2, res.ExcludedRefundedItemCount)
	assertMoney(t, "273930", res.TotalApprovedAmount, "TotalApprovedAmount")
	assert.True(t, approvedAt.Equal(res.ApprovedAt))
	assert.Nil(t, res.PGResult)
	assert.Empty(t, res.FailedSettlements)
	assert.Zero(t, f.gateway.authCalls)

	stored := f.repo.settlements[s1.ID]
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, TransferNone, stored.TransferStatus)
	require.NotNil(t, stored.SettledAt)
	assert.True(t, approvedAt.Equal(*stored.SettledAt))
	require.NotNil(t, stored.ApprovedBy)
	assert.Equal(t, int64(99), *stored.ApprovedBy)
	assert.Equal(t, "monthly payout", stored.ApprovalReason)
	assertMoney(t, "136965", stored.ApprovedAmount, "ApprovedAmount")
	assert.Equal(t, 2, stored.Version)
}

func TestApprove_ReapprovalIsIdempotent(t *testing.T) {
	f := newApprovalFixture(t)
	s := f.pending(sellerID)
	ctx := context.Background()
	req := ApproveRequest{SettlementIDs: []int64{s.ID}, AdminUserID: 99}

	_, err := f.app.Approve(ctx, req)
	require.NoError(t, err)
	before := *f.repo.settlements[s.ID]

	res, err := f.app.Approve(ctx, req)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Zero(t, res.ApprovedSettlementCount)
	assert.Equal(t, []FailedSettlement{{SettlementID: s.ID, Reason: ReasonAlreadyProcessed}}, res.FailedSettlements)
	assert.Equal(t, before, *f.repo.settlements[s.ID])
}

func TestApprove_FailureReasons(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		wantReason string
	}{
		{name: "completed", status: StatusCompleted, wantReason: ReasonAlreadyProcessed},
		{name: "cancelled", status: StatusCancelled, wantReason: ReasonAlreadyProcessed},
		{name: "not applicable", status: StatusNotApplicable, wantReason: ReasonAlreadyProcessed},
		{name: "processing", status: StatusProcessing, wantReason: ReasonInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newApprovalFixture(t)
			s := f.repo.put(Settlement{SellerID: sellerID, Status: tt.status}, nil)

			res, err := f.app.Approve(context.Background(), ApproveRequest{SettlementIDs: []int64{s.ID}})
			require.NoError(t, err)

			require.Len(t, res.FailedSettlements, 1)
			assert.Equal(t, tt.wantReason, res.FailedSettlements[0].Reason)
			assert.Empty(t, f.repo.updates)
		})
	}
}

func TestApprove_ContinuesAfterFailures(t *testing.T) {
	f := newApprovalFixture(t)
	conflicted := f.pending(sellerID)
	ok := f.pending(sellerID)
	f.repo.conflict[conflicted.ID] = true

	res, err := f.app.Approve(context.Background(), ApproveRequest{
		SettlementIDs: []int64{404, conflicted.ID, ok.ID},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ApprovedSettlementCount)
	require.Len(t, res.FailedSettlements, 2)
	assert.Equal(t, FailedSettlement{SettlementID: 404, Reason: ReasonNotFound}, res.FailedSettlements[0])
	assert.Equal(t, conflicted.ID, res.FailedSettlements[1].SettlementID)
	assert.Contains(t, res.FailedSettlements[1].Reason, "modified concurrently")

	assert.Equal(t, StatusPending, f.repo.settlements[conflicted.ID].Status)
	assert.Equal(t, StatusCompleted, f.repo.settlements[ok.ID].Status)
}

func TestApprove_RecomputesFromItems(t *testing.T) {
	f := newApprovalFixture(t)
	s := f.pending(sellerID)
	// A stale stored total must not leak into the approved amount.
	f.repo.settlements[s.ID].SettlementAmount = d("1")

	res, err := f.app.Approve(context.Background(), ApproveRequest{SettlementIDs: []int64{s.ID}})
	require.NoError(t, err)

	assertMoney(t, "136965", res.TotalApprovedAmount, "TotalApprovedAmount")
	assertMoney(t, "136965", f.repo.settlements[s.ID].SettlementAmount, "SettlementAmount")
}

func TestApprove_WithTransfer(t *testing.T) {
	f := newApprovalFixture(t)
	s1 := f.pending(sellerID)
	s2 := f.pending(sellerID)

	res, err := f.app.Approve(context.Background(), ApproveRequest{
		SettlementIDs:   []int64{s1.ID, s2.ID},
		AdminUserID:     99,
		ExecuteTransfer: true,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ApprovedSettlementCount)
	assert.Equal(t, 1, f.gateway.authCalls)
	require.NotNil(t, res.PGResult)
	assert.Equal(t, PGResult{Success: true, ResponseCode: "T0000", ResponseMessage: "ok", AccessToken: "token", ExpiresIn: 3600}, *res.PGResult)

	require.Len(t, f.gateway.transfers, 2)
	assert.Equal(t, "BT-7", f.gateway.transfers[0].BillingTranID)
	assertMoney(t, "136965", f.gateway.transfers[0].Amount, "transfer amount")

	stored := f.repo.settlements[s1.ID]
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, TransferRequested, stored.TransferStatus)
	assert.Equal(t, "API-BT-7", stored.APITranID)
	assert.Equal(t, "GRP-BT-7", stored.GroupKey)
	assert.Equal(t, "BT-7", stored.BillingTranID)
}

func TestApprove_TransferFailureHoldsSettlement(t *testing.T) {
	f := newApprovalFixture(t)
	failing := f.pending(sellerID)
	ok := f.pending(sellerID)
	f.gateway.transferErr = map[int64]error{failing.ID: errors.New("circuit open")}

	res, err := f.app.Approve(context.Background(), ApproveRequest{
		SettlementIDs:   []int64{failing.ID, ok.ID},
		ExecuteTransfer: true,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ApprovedSettlementCount)
	require.Len(t, res.FailedSettlements, 1)
	assert.Equal(t, failing.ID, res.FailedSettlements[0].SettlementID)
	assert.Contains(t, res.FailedSettlements[0].Reason, "circuit open")

	held := f.repo.settlements[failing.ID]
	assert.Equal(t, StatusOnHold, held.Status)
	assert.Contains(t, held.HoldReason, "circuit open")
	assert.Nil(t, held.SettledAt)
	assert.Equal(t, StatusCompleted, f.repo.settlements[ok.ID].Status)

	// A held settlement can be approved again.
	f.gateway.transferErr = nil
	res, err = f.app.Approve(context.Background(), ApproveRequest{
		SettlementIDs:   []int64{failing.ID},
		ExecuteTransfer: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ApprovedSettlementCount)
	assert.Equal(t, StatusCompleted, f.repo.settlements[failing.ID].Status)
}

func TestApprove_AuthFailure(t *testing.T) {
	f := newApprovalFixture(t)
	s1 := f.pending(sellerID)
	s2 := f.pending(sellerID)
	f.gateway.authRes = AuthResult{Code: "T0001", Message: "invalid partner"}
	f.gateway.authErr = errors.New("partner rejected")

	res, err := f.app.Approve(context.Background(), ApproveRequest{
		SettlementIDs:   []int64{s1.ID, s2.ID},
		ExecuteTransfer: true,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 1, f.gateway.authCalls)
	require.NotNil(t, res.PGResult)
	assert.False(t, res.PGResult.Success)
	assert.Equal(t, "T0001", res.PGResult.ResponseCode)
	require.Len(t, res.FailedSettlements, 2)
	for _, fs := range res.FailedSettlements {
		assert.Contains(t, fs.Reason, "partner auth")
	}
	assert.Empty(t, f.gateway.transfers)
	assert.Equal(t, StatusPending, f.repo.settlements[s1.ID].Status)
}

func TestApprove_UnverifiedSellerNotPaid(t *testing.T) {
	f := newApprovalFixture(t)
	s := f.pending(8)

	res, err := f.app.Approve(context.Background(), ApproveRequest{
		SettlementIDs:   []int64{s.ID},
		ExecuteTransfer: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []FailedSettlement{{SettlementID: s.ID, Reason: ReasonUnverifiedSeller}}, res.FailedSettlements)
	assert.Zero(t, f.gateway.authCalls)
	assert.Equal(t, StatusPending, f.repo.settlements[s.ID].Status)
}

func TestApprove_NoIDs(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.app.Approve(context.Background(), ApproveRequest{})
	require.ErrorIs(t, err, ErrNoSettlementIDs)
}

func TestRecordTransferResult(t *testing.T) {
	tests := []struct {
		name         string
		status       Status
		transfer     TransferStatus
		succeeded    bool
		wantStatus   Status
		wantTransfer TransferStatus
	}{
		{name: "success after completion", status: StatusCompleted, transfer: TransferRequested, succeeded: true, wantStatus: StatusCompleted, wantTransfer: TransferSucceeded},
		{name: "failure never reopens completed", status: StatusCompleted, transfer: TransferRequested, succeeded: false, wantStatus: StatusCompleted, wantTransfer: TransferFailed},
		{name: "success completes processing", status: StatusProcessing, transfer: TransferRequested, succeeded: true, wantStatus: StatusCompleted, wantTransfer: TransferSucceeded},
		{name: "failure holds processing", status: StatusProcessing, transfer: TransferRequested, succeeded: false, wantStatus: StatusOnHold, wantTransfer: TransferFailed},
		{name: "late failure after success is ignored", status: StatusCompleted, transfer: TransferSucceeded, succeeded: false, wantStatus: StatusCompleted, wantTransfer: TransferSucceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newApprovalFixture(t)
			s := f.repo.put(Settlement{SellerID: sellerID, Status: tt.status, TransferStatus: tt.transfer, APITranID: "API-1", GroupKey: "GRP-1"}, nil)

			got, err := f.app.RecordTransferResult(context.Background(), TransferOutcome{
				TransferID: "GRP-1",
				BankTranID: "BANK-1",
				Succeeded:  tt.succeeded,
				Code:       "E1001",
				Message:    "account closed",
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantTransfer, got.TransferStatus)
			assert.Equal(t, tt.wantStatus, f.repo.settlements[s.ID].Status)
		})
	}
}

func TestRecordTransferResult_Redelivery(t *testing.T) {
	f := newApprovalFixture(t)
	f.repo.put(Settlement{SellerID: sellerID, Status: StatusCompleted, TransferStatus: TransferRequested, APITranID: "API-1"}, nil)
	out := TransferOutcome{TransferID: "API-1", BankTranID: "BANK-1", Succeeded: true}
	ctx := context.Background()

	_, err := f.app.RecordTransferResult(ctx, out)
	require.NoError(t, err)
	_, err = f.app.RecordTransferResult(ctx, out)
	require.NoError(t, err)

	assert.Len(t, f.repo.updates, 1)
}

func TestRecordTransferResult_UnknownTransfer(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.app.RecordTransferResult(context.Background(), TransferOutcome{TransferID: "nope"})
	require.ErrorIs(t, err, ErrSettlementNotFound)
}

func TestCancelAndHold(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	pending := f.pending(sellerID)
	got, err := f.app.Hold(ctx, pending.ID, "tax document missing")
	require.NoError(t, err)
	assert.Equal(t, StatusOnHold, got.Status)
	assert.Equal(t, "tax document missing", got.HoldReason)

	got, err = f.app.Cancel(ctx, pending.ID, 99, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.ApprovedBy)
	assert.Equal(t, int64(99), *got.ApprovedBy)

	_, err = f.app.Cancel(ctx, pending.ID, 99, "again")
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusCancelled, terr.From)
	assert.Equal(t, StatusCancelled, terr.To)
}
