package domain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// IsTerminal reports whether later lower-priority events must not overwrite the status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentRefunded
}

// Gateway identifiers used in the registry and in /payment/webhook/:gateway.
const (
	GatewayStripe      = "stripe"
	GatewayPayPal      = "paypal"
	GatewayCoinbase    = "coinbase"
	GatewayBitPay      = "bitpay"
	GatewayNOWPayments = "nowpayments"
	GatewayBinancePay  = "binance_pay"
)

// PaymentMethodType is what the shopper picks at checkout.
type PaymentMethodType string

const (
	MethodCard       PaymentMethodType = "card"
	MethodPayPal     PaymentMethodType = "paypal"
	MethodCrypto     PaymentMethodType = "crypto"
	MethodBinancePay PaymentMethodType = "binance_pay"
)

var (
	ErrUnsupportedGateway  = errors.New("unsupported payment gateway")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrMalformedWebhook    = errors.New("malformed webhook payload")
)

// ManualRefundMessage is the deterministic failure returned by processors that cannot refund via API.
const ManualRefundMessage = "refund requires manual processing"

type PaymentIntent struct {
	ID           string            `json:"id"`
	Gateway      string            `json:"gateway"`
	Amount       decimal.Decimal   `json:"amount"`
	Currency     string            `json:"currency"`
	Status       PaymentStatus     `json:"status"`
	NativeStatus string            `json:"nativeStatus,omitempty"`
	ClientSecret string            `json:"clientSecret,omitempty"`
	CheckoutURL  string            `json:"checkoutUrl,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MethodData is what a client sends to complete a payment (card token, PayPal id, ...).
type MethodData struct {
	Token     string            `json:"token,omitempty"`
	PaymentID string            `json:"paymentId,omitempty"`
	PayerID   string            `json:"payerId,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

type PaymentResult struct {
	Success        bool              `json:"success"`
	PaymentID      string            `json:"paymentId,omitempty"`
	TransactionRef string            `json:"transactionRef,omitempty"` // capture / charge / refund id
	Status         PaymentStatus     `json:"status"`
	NativeStatus   string            `json:"nativeStatus,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency,omitempty"`
	RequiresAction bool              `json:"requiresAction"`
	Error          string            `json:"error,omitempty"`
	// Metadata["orderNumber"] is the merchant reference the processor holds for this payment.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WebhookEvent is a verified, gateway-native notification.
type WebhookEvent struct {
	ID      string          `json:"id"`
	Gateway string          `json:"gateway"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Gateway is the uniform contract every processor adapter implements.
type Gateway interface {
	Name() string
	CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*PaymentIntent, error)
	ConfirmPayment(ctx context.Context, intentID string, data MethodData) (*PaymentResult, error)
	RefundPayment(ctx context.Context, paymentID string, amount *decimal.Decimal) (*PaymentResult, error)
	VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (*WebhookEvent, error)
	GetPaymentStatus(ctx context.Context, paymentID string) PaymentStatus
	// SignatureHeader is the request header carrying the processor's webhook signature.
	SignatureHeader() string
}

// WebhookUpdate is what the orchestrator derives from a verified webhook: which payment it is about
// and the shared status it implies.
type WebhookUpdate struct {
	Gateway   string        `json:"gateway"`
	EventID   string        `json:"eventId"`
	EventType string        `json:"eventType"`
	PaymentID string        `json:"paymentId"`
	Status    PaymentStatus `json:"status"`
	Duplicate bool          `json:"duplicate"`
}
