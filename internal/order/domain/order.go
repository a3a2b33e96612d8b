package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	pay "github.com/ridloal/vg-checkout/internal/payment/domain"
	pDomain "github.com/ridloal/vg-checkout/internal/product/domain"
	uDomain "github.com/ridloal/vg-checkout/internal/user/domain"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRefunded   OrderStatus = "REFUNDED"
)

const (
	DefaultCurrency = "USD"

	ConfirmedViaClient  = "client"
	ConfirmedViaWebhook = "webhook"
	ConfirmedViaPoll    = "poll"
)

// TaxRate is applied to the subtotal; digital goods ship for free and no discounts exist yet.
var TaxRate = decimal.RequireFromString("0.08")

type Order struct {
	ID             string                `json:"id"`
	OrderNumber    string                `json:"orderNumber"`
	UserID         string                `json:"userId"`
	CustomerEmail  string                `json:"customerEmail"`
	Subtotal       decimal.Decimal       `json:"subtotal"`
	Tax            decimal.Decimal       `json:"tax"`
	Shipping       decimal.Decimal       `json:"shipping"`
	Discount       decimal.Decimal       `json:"discount"`
	Total          decimal.Decimal       `json:"total"`
	Currency       string                `json:"currency"`
	Status         OrderStatus           `json:"status"`
	PaymentStatus  pay.PaymentStatus     `json:"paymentStatus"`
	PaymentMethod  pay.PaymentMethodType `json:"paymentMethod"`
	TransactionID  string                `json:"transactionId"`
	PaymentDetails PaymentDetails        `json:"paymentDetails"`
	Items          []OrderItem           `json:"items,omitempty"` // Di-populate saat get order details
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// OrderItem is a price snapshot taken at purchase time and never updated.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"-"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// PaymentDetails is stored as JSONB next to the order.
type PaymentDetails struct {
	Gateway          string           `json:"gateway"`
	IntentID         string           `json:"intentId"`
	CheckoutURL      string           `json:"checkoutUrl,omitempty"`
	ConfirmedVia     string           `json:"confirmedVia,omitempty"`
	ConfirmedAt      *time.Time       `json:"confirmedAt,omitempty"`
	WebhookEventType string           `json:"webhookEventType,omitempty"`
	TransactionRef   string           `json:"transactionRef,omitempty"`
	FailureReason    string           `json:"failureReason,omitempty"`
	RefundRef        string           `json:"refundRef,omitempty"`
	RefundedAmount   *decimal.Decimal `json:"refundedAmount,omitempty"`
	RefundedAt       *time.Time       `json:"refundedAt,omitempty"`

	// Pembayaran masuk setelah order dibatalkan, perlu refund manual
	ManualRefundRequired bool `json:"manualRefundRequired,omitempty"`
}

// Refunded is the amount refunded so far.
func (d PaymentDetails) Refunded() decimal.Decimal {
	if d.RefundedAmount == nil {
		return decimal.Zero
	}
	return *d.RefundedAmount
}

func (d PaymentDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *PaymentDetails) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = PaymentDetails{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("payment details: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*d = PaymentDetails{}
		return nil
	}
	return json.Unmarshal(raw, d)
}

// StockItems returns the reservation lines for this order's items.
func (o *Order) StockItems() []pDomain.StockItem {
	lines := make([]pDomain.StockItem, len(o.Items))
	for i, it := range o.Items {
		lines[i] = pDomain.StockItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return lines
}

// AwaitingPayment is the only state a client or webhook confirmation may act on.
func (o *Order) AwaitingPayment() bool {
	return o.Status == StatusPending && !o.PaymentStatus.IsTerminal() &&
		o.PaymentStatus != pay.PaymentFailed && o.PaymentStatus != pay.PaymentCancelled
}

func (o *Order) CanRetryPayment() bool {
	if o.PaymentStatus.IsTerminal() {
		return false
	}
	return o.Status == StatusPending || o.Status == StatusCancelled
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals rounds to cents only at the end, never per line.
func ComputeTotals(items []OrderItem) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	tax := subtotal.Mul(TaxRate)
	shipping, discount := decimal.Zero, decimal.Zero
	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	return Totals{
		Subtotal: subtotal.Round(2),
		Tax:      tax.Round(2),
		Shipping: shipping,
		Discount: discount,
		Total:    total.Round(2),
	}
}

type PurchaseItem struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type PaymentMethod struct {
	Type pay.PaymentMethodType `json:"type" binding:"required,oneof=card paypal crypto binance_pay"`
	// Gateway memilih processor crypto (coinbase, bitpay, nowpayments)
	Gateway string         `json:"gateway"`
	Data    pay.MethodData `json:"data"`
}

type PurchaseRequest struct {
	CartID        string               `json:"cartId"`
	Items         []PurchaseItem       `json:"items" binding:"omitempty,dive"`
	ShippingInfo  uDomain.ShippingInfo `json:"shippingInfo" binding:"required"`
	PaymentMethod PaymentMethod        `json:"paymentMethod" binding:"required"`
}

var (
	ErrNoItemSource   = errors.New("Either cartId or items must be provided")
	ErrBothItemSource = errors.New("Provide either cartId or items, not both")
)

// ItemSource checks that exactly one of CartID and Items is set.
func (r PurchaseRequest) ItemSource() error {
	hasCart, hasItems := r.CartID != "", len(r.Items) > 0
	switch {
	case !hasCart && !hasItems:
		return ErrNoItemSource
	case hasCart && hasItems:
		return ErrBothItemSource
	}
	return nil
}

type PurchaseResult struct {
	Success        bool               `json:"success"`
	Order          *Order             `json:"order"`
	PaymentIntent  *pay.PaymentIntent `json:"paymentIntent"`
	Payment        *pay.PaymentResult `json:"payment,omitempty"`
	RequiresAction bool               `json:"requiresAction"`
	Error          string             `json:"error,omitempty"`
}

type ConfirmResult struct {
	Success        bool               `json:"success"`
	Order          *Order             `json:"order"`
	Payment        *pay.PaymentResult `json:"payment,omitempty"`
	RequiresAction bool               `json:"requiresAction"`
	Error          string             `json:"error,omitempty"`
}

type PaymentStatusView struct {
	OrderID        string            `json:"orderId"`
	OrderNumber    string            `json:"orderNumber"`
	Status         OrderStatus       `json:"status"`
	PaymentStatus  pay.PaymentStatus `json:"paymentStatus"`
	Gateway        string            `json:"gateway"`
	TransactionID  string            `json:"transactionId"`
	CheckoutURL    string            `json:"checkoutUrl,omitempty"`
	CanRetry       bool              `json:"canRetry"`
	RequiresAction bool              `json:"requiresAction"`
	// GatewayStatus hanya diisi jika refresh=true
	GatewayStatus pay.PaymentStatus `json:"gatewayStatus,omitempty"`
}

type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type RefundResult struct {
	Order  *Order             `json:"order"`
	Refund *pay.PaymentResult `json:"refund"`
}

// ConfirmPaymentRequest body is optional; crypto and redirect flows send nothing.
type ConfirmPaymentRequest struct {
	PaymentMethodData pay.MethodData `json:"paymentMethodData"`
}
