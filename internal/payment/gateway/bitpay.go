package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/platform/httpclient"
)

var bitpayStatuses = StatusTable{
	"new":       domain.PaymentPending,
	"paid":      domain.PaymentProcessing,
	"confirmed": domain.PaymentProcessing,
	"complete":  domain.PaymentCompleted,
	"expired":   domain.PaymentCancelled,
	"invalid":   domain.PaymentFailed,
	"declined":  domain.PaymentFailed,
}

var bitpayCurrencies = currencySet("USD", "EUR", "GBP", "CAD", "AUD", "JPY", "CHF", "MXN", "NZD")

type BitPayConfig struct {
	APIToken      string
	WebhookSecret string
	BaseURL       string
	NotifyURL     string
}

type BitPay struct {
	cfg    BitPayConfig
	client *retryablehttp.Client
}

func NewBitPay(cfg BitPayConfig, client *retryablehttp.Client) *BitPay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://test.bitpay.com"
	}
	return &BitPay{cfg: cfg, client: client}
}

func (b *BitPay) Name() string            { return domain.GatewayBitPay }
func (b *BitPay) SignatureHeader() string { return "X-Signature" }

type bitpayInvoice struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Status   string          `json:"status"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	OrderID  string          `json:"orderId"`
}

func (b *BitPay) headers() map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Accept-Version": "2.0.0",
	}
}

func (b *BitPay) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	cur, err := checkCurrency(b.Name(), bitpayCurrencies, currency)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"token":    b.cfg.APIToken,
		"price":    amount.StringFixed(2),
		"currency": cur,
		"orderId":  metadata["orderNumber"],
		"posData":  metadata["orderId"],
	}
	if b.cfg.NotifyURL != "" {
		req["notificationURL"] = b.cfg.NotifyURL
		req["extendedNotifications"] = true
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := httpclient.Do(ctx, b.client, http.MethodPost, b.cfg.BaseURL+"/invoices", body, b.headers())
	if err != nil {
		return nil, fmt.Errorf("bitpay create invoice: %w", err)
	}
	if !resp.OK() {
		return nil, apiError(b.Name(), "create_invoice", resp.StatusCode, resp.Body)
	}

	var wrapped struct {
		Data bitpayInvoice `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &wrapped); err != nil {
		return nil, fmt.Errorf("bitpay create invoice: decode: %w", err)
	}
	inv := wrapped.Data
	return &domain.PaymentIntent{
		ID:           inv.ID,
		Gateway:      b.Name(),
		Amount:       amount,
		Currency:     cur,
		Status:       bitpayStatuses.Map(inv.Status),
		NativeStatus: inv.Status,
		CheckoutURL:  inv.URL,
		Metadata:     metadata,
	}, nil
}

func (b *BitPay) getInvoice(ctx context.Context, id string) (*bitpayInvoice, error) {
	u := b.cfg.BaseURL + "/invoices/" + url.PathEscape(id) + "?token=" + url.QueryEscape(b.cfg.APIToken)
	resp, err := httpclient.Do(ctx, b.client, http.MethodGet, u, nil, b.headers())
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError(b.Name(), "get_invoice", resp.StatusCode, resp.Body)
	}
	var wrapped struct {
		Data bitpayInvoice `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &wrapped); err != nil {
		return nil, fmt.Errorf("bitpay get invoice: decode: %w", err)
	}
	return &wrapped.Data, nil
}

func (b *BitPay) ConfirmPayment(ctx context.Context, intentID string, _ domain.MethodData) (*domain.PaymentResult, error) {
	inv, err := b.getInvoice(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("bitpay confirm: %w", err)
	}
	status := bitpayStatuses.Map(inv.Status)
	return &domain.PaymentResult{
		Success:        status == domain.PaymentCompleted,
		PaymentID:      inv.ID,
		Status:         status,
		NativeStatus:   inv.Status,
		Amount:         inv.Price,
		RequiresAction: status != domain.PaymentCompleted,
	}, nil
}

func (b *BitPay) RefundPayment(_ context.Context, paymentID string, _ *decimal.Decimal) (*domain.PaymentResult, error) {
	return manualRefund(paymentID), nil
}

// VerifyWebhook checks X-Signature = hex(HMAC-SHA256(secret, raw body)).
func (b *BitPay) VerifyWebhook(_ context.Context, payload []byte, signature string, _ map[string]string) (*domain.WebhookEvent, error) {
	if !signatureEqual(hmacSHA256Hex(b.cfg.WebhookSecret, payload), signature) {
		return nil, domain.ErrInvalidSignature
	}
	var body struct {
		Event struct {
			Code int    `json:"code"`
			Name string `json:"name"`
		} `json:"event"`
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Event.Name == "" {
		return nil, domain.ErrMalformedWebhook
	}
	// BitPay has no event id; invoice+event name identifies a delivery.
	id := body.Data.ID + ":" + body.Event.Name
	return &domain.WebhookEvent{ID: id, Gateway: b.Name(), Type: body.Event.Name, Payload: payload}, nil
}

func (b *BitPay) GetPaymentStatus(ctx context.Context, paymentID string) domain.PaymentStatus {
	inv, err := b.getInvoice(ctx, paymentID)
	if err != nil {
		return domain.PaymentFailed
	}
	return bitpayStatuses.Map(inv.Status)
}
