package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace-settlement/internal/domain/auth"
	"github.com/xenking/marketplace-settlement/internal/domain/fee"
	"github.com/xenking/marketplace-settlement/internal/domain/order"
	"github.com/xenking/marketplace-settlement/internal/domain/seller"
	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
	"github.com/xenking/marketplace-settlement/internal/payple"
)

const (
	testPepper   = "pepper"
	adminKey     = "admin-key"
	readOnlyKey  = "read-only-key"
	adminUserID  = int64(900)
	webhookToken = "hook-secret"
)

var kst = time.FixedZone("KST", 9*60*60)

type mockOrders struct {
	gotUser order.UserContext
	gotReq  order.CreateOrderRequest
	result  *order.CreateOrderResult
	cancel  *order.Order
	err     error
}

func (m *mockOrders) CreateOrder(_ context.Context, user order.UserContext, req order.CreateOrderRequest) (*order.CreateOrderResult, error) {
	m.gotUser, m.gotReq = user, req
	return m.result, m.err
}

func (m *mockOrders) CancelOrder(_ context.Context, user order.UserContext, _ int64) (*order.Order, error) {
	m.gotUser = user
	return m.cancel, m.err
}

type mockApprover struct {
	gotApprove settlement.ApproveRequest
	gotOutcome settlement.TransferOutcome
	gotAdmin   int64
	gotReason  string
	approveRes *settlement.ApproveResult
	updated    *settlement.Settlement
	err        error
}

func (m *mockApprover) Approve(_ context.Context, req settlement.ApproveRequest) (*settlement.ApproveResult, error) {
	m.gotApprove = req
	return m.approveRes, m.err
}

func (m *mockApprover) Cancel(_ context.Context, _ int64, adminUserID int64, reason string) (*settlement.Settlement, error) {
	m.gotAdmin, m.gotReason = adminUserID, reason
	return m.updated, m.err
}

func (m *mockApprover) Hold(_ context.Context, _ int64, reason string) (*settlement.Settlement, error) {
	m.gotReason = reason
	return m.updated, m.err
}

func (m *mockApprover) RecordTransferResult(_ context.Context, out settlement.TransferOutcome) (*settlement.Settlement, error) {
	m.gotOutcome = out
	return m.updated, m.err
}

type mockAggregator struct {
	gotCycle  settlement.Cycle
	gotSeller int64
	report    *settlement.CycleReport
	result    *settlement.SellerResult
	err       error
}

func (m *mockAggregator) AggregateCycle(_ context.Context, c settlement.Cycle) (*settlement.CycleReport, error) {
	m.gotCycle = c
	return m.report, m.err
}

func (m *mockAggregator) AggregateSeller(_ context.Context, sellerID int64, c settlement.Cycle) (*settlement.SellerResult, error) {
	m.gotSeller, m.gotCycle = sellerID, c
	return m.result, m.err
}

type mockSellers struct {
	seller *seller.Seller
	err    error
}

func (m *mockSellers) VerifyAccount(context.Context, string) (*seller.Seller, error) {
	return m.seller, m.err
}

type mockPolicies struct {
	got fee.NewPolicy
	err error
}

func (m *mockPolicies) Publish(_ context.Context, np fee.NewPolicy) (*fee.Policy, error) {
	m.got = np
	if m.err != nil {
		return nil, m.err
	}
	return &fee.Policy{
		ID:            1,
		Scope:         np.Scope,
		SellerID:      np.SellerID,
		Version:       3,
		EffectiveFrom: np.EffectiveFrom,
		Rates:         np.Rates,
	}, nil
}

type mockBalance struct {
	remain *payple.Remain
	err    error
}

func (m *mockBalance) Remain(context.Context) (*payple.Remain, error) {
	return m.remain, m.err
}

type mockKeys map[string]*auth.APIKeyInfo

func (m mockKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if info, ok := m[hash]; ok {
		return info, nil
	}
	return nil, auth.ErrKeyNotFound
}

type testEnv struct {
	orders     *mockOrders
	approver   *mockApprover
	aggregator *mockAggregator
	sellers    *mockSellers
	policies   *mockPolicies
	balance    *mockBalance
	handler    *Handler
	server     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pepper := []byte(testPepper)
	adminHash := HashAPIKey(pepper, adminKey)
	readOnlyHash := HashAPIKey(pepper, readOnlyKey)

	env := &testEnv{
		orders:     &mockOrders{},
		approver:   &mockApprover{},
		aggregator: &mockAggregator{},
		sellers:    &mockSellers{},
		policies:   &mockPolicies{},
		balance:    &mockBalance{},
	}
	env.handler = NewHandler(Config{
		APIKeyPepper: pepper,
		WebhookToken: webhookToken,
		ScheduledDay: 10,
		Location:     kst,
	}, Deps{
		Orders:     env.orders,
		Approver:   env.approver,
		Aggregator: env.aggregator,
		Sellers:    env.sellers,
		Policies:   env.policies,
		Balance:    env.balance,
		APIKeys: mockKeys{
			adminHash:    {ID: "k1", KeyHash: adminHash, AdminUserID: adminUserID, Scopes: []string{"*"}},
			readOnlyHash: {ID: "k2", KeyHash: readOnlyHash, AdminUserID: 901, Scopes: []string{auth.ScopeSellerVerify}},
		},
	})
	env.handler.now = func() time.Time { return time.Date(2026, 4, 15, 9, 0, 0, 0, kst) }
	env.server = env.handler.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func admin() map[string]string { return map[string]string{APIKeyHeader: adminKey} }

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}
