package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/platform/httpclient"
)

var paypalOrderStatuses = StatusTable{
	"CREATED":               domain.PaymentPending,
	"SAVED":                 domain.PaymentPending,
	"PAYER_ACTION_REQUIRED": domain.PaymentPending,
	"APPROVED":              domain.PaymentProcessing,
	"COMPLETED":             domain.PaymentCompleted,
	"VOIDED":                domain.PaymentCancelled,
}

var paypalCaptureStatuses = StatusTable{
	"COMPLETED":          domain.PaymentCompleted,
	"PENDING":            domain.PaymentProcessing,
	"DECLINED":           domain.PaymentFailed,
	"FAILED":             domain.PaymentFailed,
	"REFUNDED":           domain.PaymentRefunded,
	"PARTIALLY_REFUNDED": domain.PaymentRefunded,
}

var paypalCurrencies = currencySet("USD", "EUR", "GBP", "CAD", "AUD", "JPY", "CHF", "SEK", "NOK", "DKK", "PLN", "SGD", "HKD", "NZD", "MXN", "BRL")

// PayPal transmission headers forwarded to the verify-webhook-signature endpoint.
var paypalTransmissionHeaders = map[string]string{
	"PAYPAL-AUTH-ALGO":         "auth_algo",
	"PAYPAL-CERT-URL":          "cert_url",
	"PAYPAL-TRANSMISSION-ID":   "transmission_id",
	"PAYPAL-TRANSMISSION-SIG":  "transmission_sig",
	"PAYPAL-TRANSMISSION-TIME": "transmission_time",
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	BaseURL      string
}

type PayPal struct {
	cfg    PayPalConfig
	client *retryablehttp.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPal(cfg PayPalConfig, client *retryablehttp.Client) *PayPal {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-m.sandbox.paypal.com"
	}
	return &PayPal{cfg: cfg, client: client}
}

func (p *PayPal) Name() string            { return domain.GatewayPayPal }
func (p *PayPal) SignatureHeader() string { return "PAYPAL-TRANSMISSION-SIG" }

func (p *PayPal) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID + ":" + p.cfg.ClientSecret))
	form := url.Values{"grant_type": {"client_credentials"}}
	resp, err := httpclient.Do(ctx, p.client, http.MethodPost, p.cfg.BaseURL+"/v1/oauth2/token", []byte(form.Encode()), map[string]string{
		"Authorization": "Basic " + basic,
		"Content-Type":  "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", fmt.Errorf("paypal oauth: %w", err)
	}
	if !resp.OK() {
		return "", apiError(p.Name(), "oauth", resp.StatusCode, resp.Body)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body, &tok); err != nil {
		return "", fmt.Errorf("paypal oauth: decode: %w", err)
	}
	p.accessToken = tok.AccessToken
	// Refresh a minute early.
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

func (p *PayPal) doJSON(ctx context.Context, method, path string, payload any, requestID string) (*httpclient.Response, error) {
	tok, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"Authorization": "Bearer " + tok,
		"Content-Type":  "application/json",
	}
	if requestID != "" {
		headers["PayPal-Request-Id"] = requestID
	}
	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	return httpclient.Do(ctx, p.client, method, p.cfg.BaseURL+path, body, headers)
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string      `json:"reference_id"`
		InvoiceID   string      `json:"invoice_id"`
		Amount      paypalMoney `json:"amount"`
		Payments    struct {
			Captures []struct {
				ID     string      `json:"id"`
				Status string      `json:"status"`
				Amount paypalMoney `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *paypalOrder) approveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

func (o *paypalOrder) firstCapture() (id, status string, amount paypalMoney) {
	for _, pu := range o.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			return c.ID, c.Status, c.Amount
		}
	}
	return "", "", paypalMoney{}
}

// reference is the order number we set as reference_id when the PayPal order was created.
func (o *paypalOrder) reference() string {
	for _, pu := range o.PurchaseUnits {
		if pu.ReferenceID != "" {
			return pu.ReferenceID
		}
		if pu.InvoiceID != "" {
			return pu.InvoiceID
		}
	}
	return ""
}

func (p *PayPal) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	cur, err := checkCurrency(p.Name(), paypalCurrencies, currency)
	if err != nil {
		return nil, err
	}

	unit := map[string]any{
		"amount": paypalMoney{CurrencyCode: cur, Value: amount.StringFixed(2)},
	}
	if n := metadata["orderNumber"]; n != "" {
		unit["reference_id"] = n
		unit["invoice_id"] = n
	}
	payload := map[string]any{
		"intent":         "CAPTURE",
		"purchase_units": []any{unit},
	}

	resp, err := p.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", payload, metadata["orderNumber"])
	if err != nil {
		return nil, fmt.Errorf("paypal create order: %w", err)
	}
	if !resp.OK() {
		return nil, apiError(p.Name(), "create_order", resp.StatusCode, resp.Body)
	}

	var o paypalOrder
	if err := json.Unmarshal(resp.Body, &o); err != nil {
		return nil, fmt.Errorf("paypal create order: decode: %w", err)
	}
	return &domain.PaymentIntent{
		ID:           o.ID,
		Gateway:      p.Name(),
		Amount:       amount,
		Currency:     cur,
		Status:       paypalOrderStatuses.Map(o.Status),
		NativeStatus: o.Status,
		CheckoutURL:  o.approveURL(),
		Metadata:     metadata,
	}, nil
}

func (p *PayPal) getOrder(ctx context.Context, orderID string) (*paypalOrder, error) {
	resp, err := p.doJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, "")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError(p.Name(), "get_order", resp.StatusCode, resp.Body)
	}
	var o paypalOrder
	if err := json.Unmarshal(resp.Body, &o); err != nil {
		return nil, fmt.Errorf("paypal get order: decode: %w", err)
	}
	return &o, nil
}

func (p *PayPal) orderResult(o *paypalOrder) *domain.PaymentResult {
	status := paypalOrderStatuses.Map(o.Status)
	captureID, captureStatus, money := o.firstCapture()
	if captureStatus != "" {
		status = paypalCaptureStatuses.Map(captureStatus)
	} else if len(o.PurchaseUnits) > 0 {
		money = o.PurchaseUnits[0].Amount
	}
	amount, _ := decimal.NewFromString(money.Value)
	res := &domain.PaymentResult{
		Success:        status == domain.PaymentCompleted,
		PaymentID:      o.ID,
		TransactionRef: captureID,
		Status:         status,
		NativeStatus:   o.Status,
		Amount:         amount,
		Currency:       money.CurrencyCode,
		RequiresAction: o.Status == "CREATED" || o.Status == "PAYER_ACTION_REQUIRED",
	}
	if ref := o.reference(); ref != "" {
		res.Metadata = map[string]string{"orderNumber": ref}
	}
	return res
}

// ConfirmPayment captures the PayPal order created for this payment. An already-captured order is
// returned as-is. A different PayPal order id from the client is refused.
func (p *PayPal) ConfirmPayment(ctx context.Context, intentID string, data domain.MethodData) (*domain.PaymentResult, error) {
	orderID := intentID
	if data.PaymentID != "" && data.PaymentID != intentID {
		// Order kita sendiri tetap menunggu approval, jangan dibatalkan
		return &domain.PaymentResult{
			Success:        false,
			PaymentID:      intentID,
			Status:         domain.PaymentPending,
			RequiresAction: true,
			Error:          "paypal order does not belong to this payment",
		}, nil
	}

	o, err := p.getOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("paypal confirm: %w", err)
	}
	if o.Status == "COMPLETED" || o.Status == "VOIDED" || o.Status == "CREATED" || o.Status == "PAYER_ACTION_REQUIRED" {
		return p.orderResult(o), nil
	}

	resp, err := p.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", map[string]any{}, "capture-"+orderID)
	if err != nil {
		return nil, fmt.Errorf("paypal capture: %w", err)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return &domain.PaymentResult{
			Success:   false,
			PaymentID: orderID,
			Status:    domain.PaymentFailed,
			Error:     "paypal capture declined",
		}, nil
	}
	if !resp.OK() {
		return nil, apiError(p.Name(), "capture", resp.StatusCode, resp.Body)
	}

	var captured paypalOrder
	if err := json.Unmarshal(resp.Body, &captured); err != nil {
		return nil, fmt.Errorf("paypal capture: decode: %w", err)
	}
	return p.orderResult(&captured), nil
}

// RefundPayment refunds the first capture of the order identified by paymentID.
func (p *PayPal) RefundPayment(ctx context.Context, paymentID string, amount *decimal.Decimal) (*domain.PaymentResult, error) {
	o, err := p.getOrder(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("paypal refund: %w", err)
	}
	captureID, _, capturedMoney := o.firstCapture()
	if captureID == "" {
		return &domain.PaymentResult{
			Success:   false,
			PaymentID: paymentID,
			Status:    paypalOrderStatuses.Map(o.Status),
			Error:     "order has no capture to refund",
		}, nil
	}

	var payload map[string]any
	if amount != nil {
		if err := validateAmount(*amount); err != nil {
			return nil, err
		}
		payload = map[string]any{"amount": paypalMoney{CurrencyCode: capturedMoney.CurrencyCode, Value: amount.StringFixed(2)}}
	} else {
		payload = map[string]any{}
	}

	resp, err := p.doJSON(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund", payload, "refund-"+captureID)
	if err != nil {
		return nil, fmt.Errorf("paypal refund: %w", err)
	}
	if !resp.OK() {
		return nil, apiError(p.Name(), "refund", resp.StatusCode, resp.Body)
	}
	var rf struct {
		ID     string      `json:"id"`
		Status string      `json:"status"`
		Amount paypalMoney `json:"amount"`
	}
	if err := json.Unmarshal(resp.Body, &rf); err != nil {
		return nil, fmt.Errorf("paypal refund: decode: %w", err)
	}
	refunded, _ := decimal.NewFromString(capturedMoney.Value)
	if v, err := decimal.NewFromString(rf.Amount.Value); err == nil {
		refunded = v
	}
	status := domain.PaymentRefunded
	if rf.Status != "COMPLETED" {
		status = paypalCaptureStatuses.Map(rf.Status)
	}
	return &domain.PaymentResult{
		Success:        rf.Status == "COMPLETED" || rf.Status == "PENDING",
		PaymentID:      paymentID,
		TransactionRef: rf.ID,
		Status:         status,
		NativeStatus:   rf.Status,
		Amount:         refunded,
	}, nil
}

// VerifyWebhook asks PayPal to validate the transmission headers against the configured webhook id.
func (p *PayPal) VerifyWebhook(ctx context.Context, payload []byte, signature string, headers map[string]string) (*domain.WebhookEvent, error) {
	if signature == "" || p.cfg.WebhookID == "" {
		return nil, domain.ErrInvalidSignature
	}
	body := map[string]any{
		"webhook_id":    p.cfg.WebhookID,
		"webhook_event": json.RawMessage(payload),
	}
	for header, field := range paypalTransmissionHeaders {
		v := headerValue(headers, header)
		if v == "" {
			return nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidSignature, header)
		}
		body[field] = v
	}
	if !json.Valid(payload) {
		return nil, domain.ErrMalformedWebhook
	}

	resp, err := p.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "")
	if err != nil {
		return nil, fmt.Errorf("paypal verify webhook: %w", err)
	}
	if !resp.OK() {
		return nil, apiError(p.Name(), "verify_webhook", resp.StatusCode, resp.Body)
	}
	var vr struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(resp.Body, &vr); err != nil || vr.VerificationStatus != "SUCCESS" {
		return nil, domain.ErrInvalidSignature
	}

	var evt struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil || evt.EventType == "" {
		return nil, domain.ErrMalformedWebhook
	}
	return &domain.WebhookEvent{ID: evt.ID, Gateway: p.Name(), Type: evt.EventType, Payload: payload}, nil
}

func (p *PayPal) GetPaymentStatus(ctx context.Context, paymentID string) domain.PaymentStatus {
	o, err := p.getOrder(ctx, paymentID)
	if err != nil {
		return domain.PaymentFailed
	}
	return p.orderResult(o).Status
}
