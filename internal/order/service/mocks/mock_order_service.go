package mocks

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/order/domain"
	pay "github.com/ridloal/vg-checkout/internal/payment/domain"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) ProcessPurchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*domain.PurchaseResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) ConfirmPayment(ctx context.Context, orderID string, data pay.MethodData) (*domain.ConfirmResult, error) {
	args := m.Called(ctx, orderID, data)
	if r := args.Get(0); r != nil {
		return r.(*domain.ConfirmResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) ConfirmFromWebhook(ctx context.Context, transactionID, eventType string) (*domain.Order, error) {
	args := m.Called(ctx, transactionID, eventType)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) HandlePaymentFailure(ctx context.Context, orderID, reason string) error {
	args := m.Called(ctx, orderID, reason)
	return args.Error(0)
}

func (m *MockOrderService) UpdatePaymentStatusFromWebhook(ctx context.Context, update *pay.WebhookUpdate) (*domain.Order, error) {
	args := m.Called(ctx, update)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) RetryPayment(ctx context.Context, orderID string, data pay.MethodData) (*domain.ConfirmResult, error) {
	args := m.Called(ctx, orderID, data)
	if r := args.Get(0); r != nil {
		return r.(*domain.ConfirmResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) GetPaymentStatus(ctx context.Context, orderID string, refresh bool) (*domain.PaymentStatusView, error) {
	args := m.Called(ctx, orderID, refresh)
	if v := args.Get(0); v != nil {
		return v.(*domain.PaymentStatusView), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) RefundOrder(ctx context.Context, orderID string, amount *decimal.Decimal) (*domain.RefundResult, error) {
	args := m.Called(ctx, orderID, amount)
	if r := args.Get(0); r != nil {
		return r.(*domain.RefundResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderService) ProcessPaymentTimeouts(ctx context.Context) {
	m.Called(ctx)
}
