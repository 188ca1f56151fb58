package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Failure reasons reported for settlements that were not approved.
const (
	ReasonAlreadyProcessed = "already processed"
	ReasonInProgress       = "settlement is being processed"
	ReasonNotFound         = "settlement not found"
	ReasonUnverifiedSeller = "seller payout account is not verified"
)

// ApproveRequest approves a batch of settlements.
type ApproveRequest struct {
	SettlementIDs   []int64
	AdminUserID     int64
	Reason          string
	ExecuteTransfer bool
}

// PGResult is the partner authentication outcome of a batch.
type PGResult struct {
	Success         bool
	ResponseCode    string
	ResponseMessage string
	AccessToken     string
	ExpiresIn       int
}

// FailedSettlement is a settlement of the batch that was not approved.
type FailedSettlement struct {
	SettlementID int64
	Reason       string
}

// ApproveResult summarizes a batch approval. Settlements commit one by one,
// so a partially approved batch is a normal outcome.
type ApproveResult struct {
	Success                   bool
	ApprovedSettlementCount   int
	ApprovedItemCount         int
	TotalApprovedAmount       decimal.Decimal
	ApprovedAt                time.Time
	PGResult                  *PGResult
	FailedSettlements         []FailedSettlement
	ExcludedRefundedItemCount int
}

// TransferOutcome is an asynchronous payout result reported by the PG.
type TransferOutcome struct {
	// TransferID is the API transaction id or group key of the transfer.
	TransferID string
	BankTranID string
	Succeeded  bool
	Code       string
	Message    string
}

// Approver drives settlements through approval and payout.
type Approver struct {
	settlements Repository
	sellers     SellerDirectory
	gateway     PayoutGateway
	now         func() time.Time

	approvals metric.Int64Counter
	amount    metric.Float64Counter
}

// ApproverOption configures an Approver.
type ApproverOption func(*approverOptions)

type approverOptions struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider sets the meter provider used for approval metrics.
func WithMeterProvider(mp metric.MeterProvider) ApproverOption {
	return func(o *approverOptions) { o.meterProvider = mp }
}

// NewApprover creates an Approver. gateway may be nil when payouts are
// never executed through the PG.
func NewApprover(settlements Repository, sellers SellerDirectory, gateway PayoutGateway, opts ...ApproverOption) (*Approver, error) {
	o := approverOptions{meterProvider: noop.NewMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter("github.com/xenking/marketplace-settlement/internal/domain/settlement")
	approvals, err := meter.Int64Counter("settlement.approvals",
		metric.WithDescription("Settlement approval attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create approvals counter")
	}
	amount, err := meter.Float64Counter("settlement.approved_amount",
		metric.WithDescription("Approved settlement amount"),
		metric.WithUnit("KRW"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create approved amount counter")
	}

	return &Approver{
		settlements: settlements,
		sellers:     sellers,
		gateway:     gateway,
		now:         time.Now,
		approvals:   approvals,
		amount:      amount,
	}, nil
}

// batch is the state shared by the settlements of one approval request.
type batch struct {
	req     ApproveRequest
	result  *ApproveResult
	authed  bool
	authErr error
}

// Approve approves the requested settlements one by one. A settlement that
// cannot be approved is reported in FailedSettlements and does not stop the
// batch.
func (a *Approver) Approve(ctx context.Context, req ApproveRequest) (*ApproveResult, error) {
	if len(req.SettlementIDs) == 0 {
		return nil, ErrNoSettlementIDs
	}
	if req.ExecuteTransfer && a.gateway == nil {
		return nil, errors.New("payout gateway is not configured")
	}

	b := &batch{
		req: req,
		result: &ApproveResult{
			TotalApprovedAmount: decimal.Zero,
			ApprovedAt:          a.now(),
		},
	}
	lg := zctx.From(ctx).With(zap.Int64("admin_user_id", req.AdminUserID))

	for _, id := range req.SettlementIDs {
		s, reason := a.approveOne(ctx, b, id)
		if reason != "" {
			lg.Info("Settlement not approved", zap.Int64("settlement_id", id), zap.String("reason", reason))
			b.result.FailedSettlements = append(b.result.FailedSettlements, FailedSettlement{SettlementID: id, Reason: reason})
			a.approvals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
			continue
		}

		b.result.ApprovedSettlementCount++
		b.result.ApprovedItemCount += s.SettledItemCount()
		b.result.ExcludedRefundedItemCount += s.RefundCount
		b.result.TotalApprovedAmount = b.result.TotalApprovedAmount.Add(s.ApprovedAmount)

		a.approvals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "approved")))
		a.amount.Add(ctx, s.ApprovedAmount.InexactFloat64())
	}

	b.result.Success = b.result.ApprovedSettlementCount > 0
	lg.Info("Approval batch done",
		zap.Int("requested", len(req.SettlementIDs)),
		zap.Int("approved", b.result.ApprovedSettlementCount),
		zap.Int("failed", len(b.result.FailedSettlements)),
		zap.String("total_amount", b.result.TotalApprovedAmount.String()),
	)
	return b.result, nil
}

// approveOne returns the approved settlement, or the reason it was not
// approved.
func (a *Approver) approveOne(ctx context.Context, b *batch, id int64) (*Settlement, string) {
	lg := zctx.From(ctx).With(zap.Int64("settlement_id", id))

	s, err := a.settlements.Get(ctx, id)
	if errors.Is(err, ErrSettlementNotFound) {
		return nil, ReasonNotFound
	}
	if err != nil {
		lg.Error("Load settlement", zap.Error(err))
		return nil, errors.Wrap(err, "get settlement").Error()
	}
	switch {
	case s.Status.IsTerminal():
		return nil, ReasonAlreadyProcessed
	case s.Status == StatusProcessing:
		return nil, ReasonInProgress
	}

	items, err := a.settlements.ListItems(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "list settlement items").Error()
	}
	s.Totals = Summarize(items)
	s.ApprovedAmount = s.SettlementAmount

	var account *PayoutAccount
	if b.req.ExecuteTransfer {
		account, err = a.sellers.PayoutAccount(ctx, s.SellerID)
		if err != nil {
			return nil, errors.Wrap(err, "get payout account").Error()
		}
		if !account.Verified || account.BillingTranID == "" {
			return nil, ReasonUnverifiedSeller
		}
		if err := a.authenticate(ctx, b); err != nil {
			return nil, err.Error()
		}
	}

	// Claim the row. A concurrent approval loses on the version check.
	adminID := b.req.AdminUserID
	s.Status = StatusProcessing
	s.ApprovedBy = &adminID
	s.ApprovalReason = b.req.Reason
	s.UpdatedAt = a.now()
	if err := a.settlements.Update(ctx, s); err != nil {
		return nil, errors.Wrap(err, "claim settlement").Error()
	}

	if b.req.ExecuteTransfer {
		res, err := a.gateway.Transfer(ctx, TransferRequest{
			SettlementID:  s.ID,
			BillingTranID: account.BillingTranID,
			Amount:        s.ApprovedAmount,
			Memo:          fmt.Sprintf("settlement %d", s.ID),
		})
		if err != nil {
			reason := errors.Wrap(err, "transfer").Error()
			lg.Warn("Payout transfer failed", zap.Error(err))
			a.hold(ctx, s, reason)
			return nil, reason
		}
		s.APITranID = res.APITranID
		s.GroupKey = res.GroupKey
		s.BankTranID = res.BankTranID
		s.BillingTranID = account.BillingTranID
		s.TransferStatus = TransferRequested
	}

	now := a.now()
	s.Status = StatusCompleted
	s.SettledAt = &now
	s.UpdatedAt = now
	if err := a.settlements.Update(ctx, s); err != nil {
		lg.Error("Complete settlement", zap.Error(err))
		return nil, errors.Wrap(err, "complete settlement").Error()
	}
	return s, ""
}

// authenticate performs partner authentication at most once per batch.
func (a *Approver) authenticate(ctx context.Context, b *batch) error {
	if b.authed {
		return b.authErr
	}
	b.authed = true

	res, err := a.gateway.Authenticate(ctx)
	b.result.PGResult = &PGResult{
		Success:         err == nil,
		ResponseCode:    res.Code,
		ResponseMessage: res.Message,
		AccessToken:     res.AccessToken,
		ExpiresIn:       res.ExpiresIn,
	}
	if err != nil {
		if b.result.PGResult.ResponseMessage == "" {
			b.result.PGResult.ResponseMessage = err.Error()
		}
		b.authErr = errors.Wrap(err, "partner auth")
	}
	return b.authErr
}

// hold parks a claimed settlement after a failed payout so it can be
// approved again.
func (a *Approver) hold(ctx context.Context, s *Settlement, reason string) {
	s.Status = StatusOnHold
	s.HoldReason = reason
	s.UpdatedAt = a.now()
	if err := a.settlements.Update(ctx, s); err != nil {
		zctx.From(ctx).Error("Hold settlement after failed payout",
			zap.Int64("settlement_id", s.ID),
			zap.Error(err),
		)
	}
}

// RecordTransferResult stores an asynchronous payout result. Repeated
// deliveries are no-ops and a COMPLETED settlement never moves backwards.
func (a *Approver) RecordTransferResult(ctx context.Context, out TransferOutcome) (*Settlement, error) {
	s, err := a.settlements.FindByTransferID(ctx, out.TransferID)
	if err != nil {
		return nil, errors.Wrap(err, "find settlement by transfer")
	}
	lg := zctx.From(ctx).With(
		zap.Int64("settlement_id", s.ID),
		zap.String("transfer_id", out.TransferID),
		zap.Bool("succeeded", out.Succeeded),
	)

	next := TransferFailed
	if out.Succeeded {
		next = TransferSucceeded
	}
	if s.TransferStatus == TransferSucceeded || s.TransferStatus == next {
		lg.Debug("Transfer result already recorded", zap.String("transfer_status", string(s.TransferStatus)))
		return s, nil
	}

	now := a.now()
	s.TransferStatus = next
	if out.BankTranID != "" {
		s.BankTranID = out.BankTranID
	}
	switch {
	case s.Status == StatusProcessing && out.Succeeded:
		s.Status = StatusCompleted
		s.SettledAt = &now
	case s.Status == StatusProcessing:
		s.Status = StatusOnHold
		s.HoldReason = fmt.Sprintf("payout failed: %s %s", out.Code, out.Message)
	case s.Status == StatusCompleted && !out.Succeeded:
		lg.Warn("Payout failed after settlement completed",
			zap.String("code", out.Code),
			zap.String("message", out.Message),
		)
	}
	s.UpdatedAt = now

	if err := a.settlements.Update(ctx, s); err != nil {
		return nil, errors.Wrap(err, "save transfer result")
	}
	lg.Info("Transfer result recorded", zap.String("status", string(s.Status)))
	return s, nil
}

// Cancel cancels a settlement that has not been paid out.
func (a *Approver) Cancel(ctx context.Context, id int64, adminUserID int64, reason string) (*Settlement, error) {
	return a.transition(ctx, id, StatusCancelled, func(s *Settlement) {
		s.ApprovedBy = &adminUserID
		s.ApprovalReason = reason
	})
}

// Hold puts a settlement on hold.
func (a *Approver) Hold(ctx context.Context, id int64, reason string) (*Settlement, error) {
	return a.transition(ctx, id, StatusOnHold, func(s *Settlement) {
		s.HoldReason = reason
	})
}

func (a *Approver) transition(ctx context.Context, id int64, to Status, apply func(*Settlement)) (*Settlement, error) {
	s, err := a.settlements.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get settlement")
	}
	if !s.Status.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{SettlementID: id, From: s.Status, To: to}
	}

	s.Status = to
	apply(s)
	s.UpdatedAt = a.now()
	if err := a.settlements.Update(ctx, s); err != nil {
		return nil, errors.Wrapf(err, "move settlement to %s", to)
	}
	return s, nil
}
