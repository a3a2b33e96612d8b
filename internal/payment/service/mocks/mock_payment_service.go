package mocks

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CreatePaymentIntent(ctx context.Context, gatewayName string, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	args := m.Called(ctx, gatewayName, amount, currency, metadata)
	if pi := args.Get(0); pi != nil {
		return pi.(*domain.PaymentIntent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPaymentService) ProcessPayment(ctx context.Context, gatewayName, intentID string, data domain.MethodData) (*domain.PaymentResult, error) {
	args := m.Called(ctx, gatewayName, intentID, data)
	if r := args.Get(0); r != nil {
		return r.(*domain.PaymentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPaymentService) RefundPayment(ctx context.Context, gatewayName, paymentID string, amount *decimal.Decimal) (*domain.PaymentResult, error) {
	args := m.Called(ctx, gatewayName, paymentID, amount)
	if r := args.Get(0); r != nil {
		return r.(*domain.PaymentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPaymentService) GetPaymentStatus(ctx context.Context, gatewayName, paymentID string) (domain.PaymentStatus, error) {
	args := m.Called(ctx, gatewayName, paymentID)
	return args.Get(0).(domain.PaymentStatus), args.Error(1)
}

func (m *MockPaymentService) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, headers map[string]string) (*domain.WebhookUpdate, error) {
	args := m.Called(ctx, gatewayName, payload, headers)
	if u := args.Get(0); u != nil {
		return u.(*domain.WebhookUpdate), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPaymentService) ForgetWebhook(ctx context.Context, update *domain.WebhookUpdate) {
	m.Called(ctx, update)
}

func (m *MockPaymentService) Supports(gatewayName string) bool {
	args := m.Called(gatewayName)
	return args.Bool(0)
}

func (m *MockPaymentService) Gateways() []string {
	args := m.Called()
	if g := args.Get(0); g != nil {
		return g.([]string)
	}
	return nil
}
