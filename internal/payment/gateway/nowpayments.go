package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/platform/httpclient"
)

var nowpaymentsStatuses = StatusTable{
	"waiting":        domain.PaymentPending,
	"confirming":     domain.PaymentProcessing,
	"confirmed":      domain.PaymentProcessing,
	"sending":        domain.PaymentProcessing,
	"partially_paid": domain.PaymentPending,
	"finished":       domain.PaymentCompleted,
	"failed":         domain.PaymentFailed,
	"refunded":       domain.PaymentRefunded,
	"expired":        domain.PaymentCancelled,
}

var nowpaymentsCurrencies = currencySet("USD", "EUR", "GBP", "CAD", "AUD", "JPY", "CHF")

type NOWPaymentsConfig struct {
	APIKey    string
	IPNSecret string
	BaseURL   string
	NotifyURL string
}

type NOWPayments struct {
	cfg    NOWPaymentsConfig
	client *retryablehttp.Client
}

func NewNOWPayments(cfg NOWPaymentsConfig, client *retryablehttp.Client) *NOWPayments {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.nowpayments.io"
	}
	return &NOWPayments{cfg: cfg, client: client}
}

func (n *NOWPayments) Name() string            { return domain.GatewayNOWPayments }
func (n *NOWPayments) SignatureHeader() string { return "x-nowpayments-sig" }

func (n *NOWPayments) headers() map[string]string {
	return map[string]string{
		"x-api-key":    n.cfg.APIKey,
		"Content-Type": "application/json",
	}
}

func (n *NOWPayments) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	cur, err := checkCurrency(n.Name(), nowpaymentsCurrencies, currency)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"price_amount":   amount.InexactFloat64(),
		"price_currency": cur,
		"order_id":       metadata["orderNumber"],
	}
	if n.cfg.NotifyURL != "" {
		req["ipn_callback_url"] = n.cfg.NotifyURL
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := httpclient.Do(ctx, n.client, http.MethodPost, n.cfg.BaseURL+"/v1/invoice", body, n.headers())
	if err != nil {
		return nil, fmt.Errorf("nowpayments create invoice: %w", err)
	}
	if !resp.OK() {
		return nil, apiError(n.Name(), "create_invoice", resp.StatusCode, resp.Body)
	}

	var inv struct {
		ID         json.Number `json:"id"`
		InvoiceURL string      `json:"invoice_url"`
	}
	if err := json.Unmarshal(resp.Body, &inv); err != nil {
		return nil, fmt.Errorf("nowpayments create invoice: decode: %w", err)
	}
	return &domain.PaymentIntent{
		ID:           inv.ID.String(),
		Gateway:      n.Name(),
		Amount:       amount,
		Currency:     cur,
		Status:       domain.PaymentPending,
		NativeStatus: "waiting",
		CheckoutURL:  inv.InvoiceURL,
		Metadata:     metadata,
	}, nil
}

type nowpaymentsPayment struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PriceAmount   json.Number `json:"price_amount"`
}

// latestPayment returns the payment status for an invoice id, or for a payment id when the
// invoice lookup yields nothing.
func (n *NOWPayments) latestPayment(ctx context.Context, id string) (*nowpaymentsPayment, error) {
	u := n.cfg.BaseURL + "/v1/payment/?invoiceId=" + url.QueryEscape(id) + "&limit=1&sortBy=created_at&orderBy=desc"
	resp, err := httpclient.Do(ctx, n.client, http.MethodGet, u, nil, n.headers())
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		var list struct {
			Data []nowpaymentsPayment `json:"data"`
		}
		if err := json.Unmarshal(resp.Body, &list); err == nil && len(list.Data) > 0 {
			return &list.Data[0], nil
		}
	}

	resp, err = httpclient.Do(ctx, n.client, http.MethodGet, n.cfg.BaseURL+"/v1/payment/"+url.PathEscape(id), nil, n.headers())
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError(n.Name(), "get_payment", resp.StatusCode, resp.Body)
	}
	var p nowpaymentsPayment
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return nil, fmt.Errorf("nowpayments get payment: decode: %w", err)
	}
	return &p, nil
}

func (n *NOWPayments) ConfirmPayment(ctx context.Context, intentID string, _ domain.MethodData) (*domain.PaymentResult, error) {
	p, err := n.latestPayment(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("nowpayments confirm: %w", err)
	}
	status := nowpaymentsStatuses.Map(p.PaymentStatus)
	amount, _ := decimal.NewFromString(p.PriceAmount.String())
	return &domain.PaymentResult{
		Success:        status == domain.PaymentCompleted,
		PaymentID:      intentID,
		TransactionRef: p.PaymentID.String(),
		Status:         status,
		NativeStatus:   p.PaymentStatus,
		Amount:         amount,
		RequiresAction: status != domain.PaymentCompleted,
	}, nil
}

func (n *NOWPayments) RefundPayment(_ context.Context, paymentID string, _ *decimal.Decimal) (*domain.PaymentResult, error) {
	return manualRefund(paymentID), nil
}

// canonicalJSON re-encodes payload with object keys sorted at every level, no HTML escaping and
// numbers kept verbatim. This is the string NOWPayments signs.
func canonicalJSON(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// VerifyWebhook checks x-nowpayments-sig = hex(HMAC-SHA512(ipnSecret, canonical JSON)).
func (n *NOWPayments) VerifyWebhook(_ context.Context, payload []byte, signature string, _ map[string]string) (*domain.WebhookEvent, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return nil, domain.ErrMalformedWebhook
	}
	if !signatureEqual(hmacSHA512Hex(n.cfg.IPNSecret, canon), signature) {
		return nil, domain.ErrInvalidSignature
	}

	var body struct {
		PaymentID     json.RawMessage `json:"payment_id"`
		PaymentStatus string          `json:"payment_status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.PaymentStatus == "" {
		return nil, domain.ErrMalformedWebhook
	}
	// NOWPayments resends the same IPN per status change; payment+status identifies a delivery.
	id := ReferenceID(body.PaymentID) + ":" + body.PaymentStatus
	return &domain.WebhookEvent{ID: id, Gateway: n.Name(), Type: body.PaymentStatus, Payload: payload}, nil
}

func (n *NOWPayments) GetPaymentStatus(ctx context.Context, paymentID string) domain.PaymentStatus {
	p, err := n.latestPayment(ctx, paymentID)
	if err != nil {
		return domain.PaymentFailed
	}
	return nowpaymentsStatuses.Map(p.PaymentStatus)
}

// ReferenceID renders an id that a processor may send either as a JSON number or a string.
func ReferenceID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	if i, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return ""
}
