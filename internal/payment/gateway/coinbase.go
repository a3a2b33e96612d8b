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

// Coinbase Commerce charge timeline statuses.
var coinbaseStatuses = StatusTable{
	"NEW":        domain.PaymentPending,
	"SIGNED":     domain.PaymentPending,
	"PENDING":    domain.PaymentProcessing,
	"COMPLETED":  domain.PaymentCompleted,
	"RESOLVED":   domain.PaymentCompleted,
	"EXPIRED":    domain.PaymentFailed,
	"CANCELED":   domain.PaymentCancelled,
	"UNRESOLVED": domain.PaymentPending,
	"REFUNDED":   domain.PaymentRefunded,
}

var coinbaseCurrencies = currencySet("USD", "EUR", "GBP", "CAD", "AUD", "JPY", "CHF")

type CoinbaseConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

type Coinbase struct {
	cfg    CoinbaseConfig
	client *retryablehttp.Client
}

func NewCoinbase(cfg CoinbaseConfig, client *retryablehttp.Client) *Coinbase {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.commerce.coinbase.com"
	}
	return &Coinbase{cfg: cfg, client: client}
}

func (c *Coinbase) Name() string            { return domain.GatewayCoinbase }
func (c *Coinbase) SignatureHeader() string { return "X-CC-Webhook-Signature" }

type coinbaseCharge struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	HostedURL string `json:"hosted_url"`
	Timeline  []struct {
		Status string `json:"status"`
	} `json:"timeline"`
	Pricing struct {
		Local struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"local"`
	} `json:"pricing"`
}

// latestStatus is the last timeline entry; a fresh charge with no timeline is NEW.
func (ch *coinbaseCharge) latestStatus() string {
	if len(ch.Timeline) == 0 {
		return "NEW"
	}
	return ch.Timeline[len(ch.Timeline)-1].Status
}

func (c *Coinbase) headers() map[string]string {
	return map[string]string{
		"X-CC-Api-Key": c.cfg.APIKey,
		"X-CC-Version": "2018-03-22",
		"Content-Type": "application/json",
	}
}

func (c *Coinbase) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	cur, err := checkCurrency(c.Name(), coinbaseCurrencies, currency)
	if err != nil {
		return nil, err
	}

	name := "Order"
	if n := metadata["orderNumber"]; n != "" {
		name = "Order " + n
	}
	body, err := json.Marshal(map[string]any{
		"name":         name,
		"description":  "Checkout payment",
		"pricing_type": "fixed_price",
		"local_price":  map[string]string{"amount": amount.StringFixed(2), "currency": cur},
		"metadata":     metadata,
	})
	if err != nil {
		return nil, err
	}

	resp, err := httpclient.Do(ctx, c.client, http.MethodPost, c.cfg.BaseURL+"/charges", body, c.headers())
	if err != nil {
		return nil, fmt.Errorf("coinbase create charge: %w", err)
	}
	if !resp.OK() {
		return nil, apiError(c.Name(), "create_charge", resp.StatusCode, resp.Body)
	}

	var wrapped struct {
		Data coinbaseCharge `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &wrapped); err != nil {
		return nil, fmt.Errorf("coinbase create charge: decode: %w", err)
	}
	native := wrapped.Data.latestStatus()
	return &domain.PaymentIntent{
		ID:           wrapped.Data.ID,
		Gateway:      c.Name(),
		Amount:       amount,
		Currency:     cur,
		Status:       coinbaseStatuses.Map(native),
		NativeStatus: native,
		CheckoutURL:  wrapped.Data.HostedURL,
		Metadata:     metadata,
	}, nil
}

func (c *Coinbase) getCharge(ctx context.Context, id string) (*coinbaseCharge, error) {
	resp, err := httpclient.Do(ctx, c.client, http.MethodGet, c.cfg.BaseURL+"/charges/"+url.PathEscape(id), nil, c.headers())
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError(c.Name(), "get_charge", resp.StatusCode, resp.Body)
	}
	var wrapped struct {
		Data coinbaseCharge `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &wrapped); err != nil {
		return nil, fmt.Errorf("coinbase get charge: decode: %w", err)
	}
	return &wrapped.Data, nil
}

// ConfirmPayment polls the charge. The shopper pays on the hosted page, so anything short of
// COMPLETED still requires action.
func (c *Coinbase) ConfirmPayment(ctx context.Context, intentID string, _ domain.MethodData) (*domain.PaymentResult, error) {
	ch, err := c.getCharge(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("coinbase confirm: %w", err)
	}
	native := ch.latestStatus()
	status := coinbaseStatuses.Map(native)
	amount, _ := decimal.NewFromString(ch.Pricing.Local.Amount)
	return &domain.PaymentResult{
		Success:        status == domain.PaymentCompleted,
		PaymentID:      ch.ID,
		TransactionRef: ch.Code,
		Status:         status,
		NativeStatus:   native,
		Amount:         amount,
		RequiresAction: status != domain.PaymentCompleted,
	}, nil
}

func (c *Coinbase) RefundPayment(_ context.Context, paymentID string, _ *decimal.Decimal) (*domain.PaymentResult, error) {
	return manualRefund(paymentID), nil
}

// VerifyWebhook checks X-CC-Webhook-Signature = hex(HMAC-SHA256(secret, raw body)).
func (c *Coinbase) VerifyWebhook(_ context.Context, payload []byte, signature string, _ map[string]string) (*domain.WebhookEvent, error) {
	if !signatureEqual(hmacSHA256Hex(c.cfg.WebhookSecret, payload), signature) {
		return nil, domain.ErrInvalidSignature
	}
	var body struct {
		Event struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"event"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Event.Type == "" {
		return nil, domain.ErrMalformedWebhook
	}
	return &domain.WebhookEvent{ID: body.Event.ID, Gateway: c.Name(), Type: body.Event.Type, Payload: payload}, nil
}

func (c *Coinbase) GetPaymentStatus(ctx context.Context, paymentID string) domain.PaymentStatus {
	ch, err := c.getCharge(ctx, paymentID)
	if err != nil {
		return domain.PaymentFailed
	}
	return coinbaseStatuses.Map(ch.latestStatus())
}
