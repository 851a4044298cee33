package testsupport

import (
	"context"
	"encoding/json"

	"github.com/railzwaylabs/waterbilling/internal/chargemodule"
	"github.com/stretchr/testify/mock"
)

var _ chargemodule.Gateway = (*MockGateway)(nil)

// MockGateway is a testify mock of the Charge Module.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateBillRun(ctx context.Context, region, ruleset string) (*chargemodule.BillRun, error) {
	args := m.Called(ctx, region, ruleset)
	run, _ := args.Get(0).(*chargemodule.BillRun)
	return run, args.Error(1)
}

func (m *MockGateway) ApproveBillRun(ctx context.Context, billRunID string) error {
	return m.Called(ctx, billRunID).Error(0)
}

func (m *MockGateway) SendBillRun(ctx context.Context, billRunID string) error {
	return m.Called(ctx, billRunID).Error(0)
}

func (m *MockGateway) GenerateBillRun(ctx context.Context, billRunID string) error {
	return m.Called(ctx, billRunID).Error(0)
}

func (m *MockGateway) GetBillRun(ctx context.Context, billRunID string) (*chargemodule.BillRunSummary, error) {
	args := m.Called(ctx, billRunID)
	summary, _ := args.Get(0).(*chargemodule.BillRunSummary)
	return summary, args.Error(1)
}

func (m *MockGateway) DeleteBillRun(ctx context.Context, billRunID string) error {
	return m.Called(ctx, billRunID).Error(0)
}

func (m *MockGateway) DeleteInvoiceFromBillRun(ctx context.Context, billRunID, invoiceID string) error {
	return m.Called(ctx, billRunID, invoiceID).Error(0)
}

func (m *MockGateway) CreateTransaction(ctx context.Context, billRunID string, req chargemodule.TransactionRequest) (json.RawMessage, error) {
	args := m.Called(ctx, billRunID, req)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}
