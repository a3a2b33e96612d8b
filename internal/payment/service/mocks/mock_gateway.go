package mocks

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
)

type MockGateway struct {
	mock.Mock
	GatewayName string
	Header      string
}

func (m *MockGateway) Name() string            { return m.GatewayName }
func (m *MockGateway) SignatureHeader() string { return m.Header }

func (m *MockGateway) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	args := m.Called(ctx, amount, currency, metadata)
	if pi := args.Get(0); pi != nil {
		return pi.(*domain.PaymentIntent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) ConfirmPayment(ctx context.Context, intentID string, data domain.MethodData) (*domain.PaymentResult, error) {
	args := m.Called(ctx, intentID, data)
	if r := args.Get(0); r != nil {
		return r.(*domain.PaymentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) RefundPayment(ctx context.Context, paymentID string, amount *decimal.Decimal) (*domain.PaymentResult, error) {
	args := m.Called(ctx, paymentID, amount)
	if r := args.Get(0); r != nil {
		return r.(*domain.PaymentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (*domain.WebhookEvent, error) {
	args := m.Called(ctx, payload, signature, headers)
	if e := args.Get(0); e != nil {
		return e.(*domain.WebhookEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) GetPaymentStatus(ctx context.Context, paymentID string) domain.PaymentStatus {
	args := m.Called(ctx, paymentID)
	return args.Get(0).(domain.PaymentStatus)
}
