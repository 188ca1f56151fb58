package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/marketplace-settlement/internal/domain/fee"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func standardRates() fee.Rates {
	return fee.Rates{
		PgFeeApplied:        d("0.029"),
		PgFeeDisplay:        d("0.017"),
		PgFeeBaseline:       d("0.033"),
		PlatformFeeApplied:  d("0.05"),
		PlatformFeeDisplay:  d("0.05"),
		PlatformFeeBaseline: d("0.1"),
		VAT:                 d("0.1"),
	}
}

// mockRepo is an in-memory Repository with version checks.
type mockRepo struct {
	nextID      int64
	settlements map[int64]*Settlement
	items       map[int64][]Item

	getErr     error
	replaceErr error
	// conflict makes the next Update of these ids fail with a version
	// conflict.
	conflict  map[int64]bool
	updateErr error
	updates   []Settlement
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		nextID:      100,
		settlements: make(map[int64]*Settlement),
		items:       make(map[int64][]Item),
		conflict:    make(map[int64]bool),
	}
}

func (m *mockRepo) put(s Settlement, items []Item) *Settlement {
	if s.ID == 0 {
		m.nextID++
		s.ID = m.nextID
	}
	for i := range items {
		items[i].SettlementID = s.ID
	}
	m.settlements[s.ID] = &s
	m.items[s.ID] = items
	return &s
}

func (m *mockRepo) Get(_ context.Context, id int64) (*Settlement, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.settlements[id]
	if !ok {
		return nil, ErrSettlementNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) ListItems(_ context.Context, settlementID int64) ([]Item, error) {
	return append([]Item(nil), m.items[settlementID]...), nil
}

func (m *mockRepo) FindBySellerPeriod(_ context.Context, sellerID int64, start time.Time) (*Settlement, error) {
	for _, s := range m.settlements {
		if s.SellerID == sellerID && s.StartDate.Equal(start) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSettlementNotFound
}

func (m *mockRepo) Replace(_ context.Context, previous, s *Settlement, items []Item) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	if previous != nil {
		stored, ok := m.settlements[previous.ID]
		if !ok || stored.Version != previous.Version {
			return &ConcurrencyConflictError{SettlementID: previous.ID, Version: previous.Version}
		}
		delete(m.settlements, previous.ID)
		delete(m.items, previous.ID)
	}
	m.nextID++
	s.ID = m.nextID
	s.Version = 0
	m.put(*s, items)
	return nil
}

func (m *mockRepo) Update(_ context.Context, s *Settlement) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.settlements[s.ID]
	if !ok {
		return ErrSettlementNotFound
	}
	if m.conflict[s.ID] || stored.Version != s.Version {
		delete(m.conflict, s.ID)
		return &ConcurrencyConflictError{SettlementID: s.ID, Version: s.Version}
	}
	s.Version++
	cp := *s
	m.settlements[s.ID] = &cp
	m.updates = append(m.updates, cp)
	return nil
}

func (m *mockRepo) FindByTransferID(_ context.Context, id string) (*Settlement, error) {
	for _, s := range m.settlements {
		if id != "" && (s.APITranID == id || s.GroupKey == id) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSettlementNotFound
}

type mockSales struct {
	sales   []Sale
	listErr error
	// failFor makes ListSales fail for one seller.
	failFor int64
}

func (m *mockSales) ListSales(_ context.Context, sellerID int64, from, to time.Time) ([]Sale, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.failFor == sellerID {
		return nil, context.DeadlineExceeded
	}
	var out []Sale
	for _, s := range m.sales {
		if s.SellerID == sellerID && !s.PurchasedAt.Before(from) && s.PurchasedAt.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSales) SellersWithSales(_ context.Context, from, to time.Time) ([]int64, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	seen := make(map[int64]bool)
	var out []int64
	for _, s := range m.sales {
		if seen[s.SellerID] || s.PurchasedAt.Before(from) || !s.PurchasedAt.Before(to) {
			continue
		}
		seen[s.SellerID] = true
		out = append(out, s.SellerID)
	}
	return out, nil
}

type mockPolicies struct {
	policies []fee.Policy
}

func (m *mockPolicies) ListForSeller(context.Context, int64) ([]fee.Policy, error) {
	return m.policies, nil
}

func (m *mockPolicies) Insert(context.Context, *fee.Policy) error { return nil }

type mockSellers struct {
	accounts map[int64]*PayoutAccount
}

func (m *mockSellers) PayoutAccount(_ context.Context, sellerID int64) (*PayoutAccount, error) {
	acc, ok := m.accounts[sellerID]
	if !ok {
		return &PayoutAccount{SellerID: sellerID}, nil
	}
	return acc, nil
}

type mockGateway struct {
	authRes     AuthResult
	authErr     error
	authCalls   int
	transferErr map[int64]error
	transfers   []TransferRequest
}

func (m *mockGateway) Authenticate(context.Context) (AuthResult, error) {
	m.authCalls++
	return m.authRes, m.authErr
}

func (m *mockGateway) Transfer(_ context.Context, req TransferRequest) (TransferResult, error) {
	m.transfers = append(m.transfers, req)
	if err := m.transferErr[req.SettlementID]; err != nil {
		return TransferResult{}, err
	}
	return TransferResult{
		APITranID: "API-" + req.BillingTranID,
		GroupKey:  "GRP-" + req.BillingTranID,
		Code:      "A0000",
	}, nil
}
