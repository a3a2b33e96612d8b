package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/platform/httpclient"
)

var stripeStatuses = StatusTable{
	"requires_payment_method": domain.PaymentPending,
	"requires_confirmation":   domain.PaymentPending,
	"requires_action":         domain.PaymentPending,
	"processing":              domain.PaymentProcessing,
	"requires_capture":        domain.PaymentProcessing,
	"canceled":                domain.PaymentCancelled,
	"succeeded":               domain.PaymentCompleted,
}

var stripeRefundStatuses = StatusTable{
	"pending":         domain.PaymentProcessing,
	"requires_action": domain.PaymentPending,
	"succeeded":       domain.PaymentRefunded,
	"failed":          domain.PaymentFailed,
	"canceled":        domain.PaymentCancelled,
}

var stripeCurrencies = currencySet("USD", "EUR", "GBP", "CAD", "AUD", "NZD", "CHF", "SEK", "NOK", "DKK", "SGD", "HKD", "JPY", "KRW", "MXN", "BRL", "PLN")

// Zero-decimal currencies are sent to Stripe as-is instead of in cents.
var stripeZeroDecimal = currencySet("JPY", "KRW")

const stripeSignatureTolerance = 5 * time.Minute

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

type Stripe struct {
	cfg    StripeConfig
	client *retryablehttp.Client
	now    func() time.Time
}

func NewStripe(cfg StripeConfig, client *retryablehttp.Client) *Stripe {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	return &Stripe{cfg: cfg, client: client, now: time.Now}
}

func (s *Stripe) Name() string            { return domain.GatewayStripe }
func (s *Stripe) SignatureHeader() string { return "Stripe-Signature" }

type stripeIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	LatestCharge string            `json:"latest_charge"`
	Metadata     map[string]string `json:"metadata"`
	NextAction   json.RawMessage   `json:"next_action"`
}

type stripeErrorBody struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// stripeMinorUnits converts a major-unit amount (dollars) to the integer Stripe expects.
func stripeMinorUnits(amount decimal.Decimal, currency string) int64 {
	if stripeZeroDecimal[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func stripeMajorUnits(minor int64, currency string) decimal.Decimal {
	if stripeZeroDecimal[strings.ToUpper(currency)] {
		return decimal.NewFromInt(minor)
	}
	return decimal.New(minor, -2)
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string) (*httpclient.Response, error) {
	headers := map[string]string{"Authorization": "Bearer " + s.cfg.SecretKey}
	var body []byte
	if form != nil {
		body = []byte(form.Encode())
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	return httpclient.Do(ctx, s.client, method, s.cfg.BaseURL+path, body, headers)
}

func (s *Stripe) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	cur, err := checkCurrency(s.Name(), stripeCurrencies, currency)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(stripeMinorUnits(amount, cur), 10))
	form.Set("currency", strings.ToLower(cur))
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}
	idem := ""
	if n := metadata["orderNumber"]; n != "" {
		idem = "pi-" + n
	}

	resp, err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form, idem)
	if err != nil {
		return nil, fmt.Errorf("stripe create intent: %w", err)
	}
	if !resp.OK() {
		return nil, apiError(s.Name(), "create_intent", resp.StatusCode, resp.Body)
	}

	var pi stripeIntent
	if err := json.Unmarshal(resp.Body, &pi); err != nil {
		return nil, fmt.Errorf("stripe create intent: decode: %w", err)
	}
	return &domain.PaymentIntent{
		ID:           pi.ID,
		Gateway:      s.Name(),
		Amount:       amount,
		Currency:     cur,
		Status:       stripeStatuses.Map(pi.Status),
		NativeStatus: pi.Status,
		ClientSecret: pi.ClientSecret,
		Metadata:     metadata,
	}, nil
}

func (s *Stripe) getIntent(ctx context.Context, intentID string) (*stripeIntent, error) {
	resp, err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, "")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError(s.Name(), "get_intent", resp.StatusCode, resp.Body)
	}
	var pi stripeIntent
	if err := json.Unmarshal(resp.Body, &pi); err != nil {
		return nil, fmt.Errorf("stripe get intent: decode: %w", err)
	}
	return &pi, nil
}

func (s *Stripe) intentResult(pi *stripeIntent) *domain.PaymentResult {
	status := stripeStatuses.Map(pi.Status)
	return &domain.PaymentResult{
		Success:        status == domain.PaymentCompleted,
		PaymentID:      pi.ID,
		TransactionRef: pi.LatestCharge,
		Status:         status,
		NativeStatus:   pi.Status,
		Amount:         stripeMajorUnits(pi.Amount, pi.Currency),
		Currency:       strings.ToUpper(pi.Currency),
		RequiresAction: pi.Status == "requires_action" || pi.Status == "requires_payment_method",
		Metadata:       pi.Metadata,
	}
}

func (s *Stripe) ConfirmPayment(ctx context.Context, intentID string, data domain.MethodData) (*domain.PaymentResult, error) {
	pi, err := s.getIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("stripe confirm: %w", err)
	}
	// Sudah sukses: kembalikan hasil sebelumnya, jangan confirm ulang.
	if pi.Status == "succeeded" || pi.Status == "processing" || pi.Status == "canceled" {
		return s.intentResult(pi), nil
	}

	form := url.Values{}
	if data.Token != "" {
		form.Set("payment_method", data.Token)
	}
	resp, err := s.do(ctx, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(intentID)+"/confirm", form, "")
	if err != nil {
		return nil, fmt.Errorf("stripe confirm: %w", err)
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		var eb stripeErrorBody
		_ = json.Unmarshal(resp.Body, &eb)
		reason := eb.Error.DeclineCode
		if reason == "" {
			reason = eb.Error.Code
		}
		if reason == "" {
			reason = "card_declined"
		}
		return &domain.PaymentResult{
			Success:   false,
			PaymentID: intentID,
			Status:    domain.PaymentFailed,
			Error:     "payment declined: " + reason,
		}, nil
	}
	if !resp.OK() {
		return nil, apiError(s.Name(), "confirm", resp.StatusCode, resp.Body)
	}

	var confirmed stripeIntent
	if err := json.Unmarshal(resp.Body, &confirmed); err != nil {
		return nil, fmt.Errorf("stripe confirm: decode: %w", err)
	}
	return s.intentResult(&confirmed), nil
}

// RefundPayment reads the intent first when a partial amount is given, so the amount is
// converted with the intent's own currency.
func (s *Stripe) RefundPayment(ctx context.Context, paymentID string, amount *decimal.Decimal) (*domain.PaymentResult, error) {
	form := url.Values{}
	form.Set("payment_intent", paymentID)
	if amount != nil {
		if err := validateAmount(*amount); err != nil {
			return nil, err
		}
		pi, err := s.getIntent(ctx, paymentID)
		if err != nil {
			return nil, fmt.Errorf("stripe refund: %w", err)
		}
		form.Set("amount", strconv.FormatInt(stripeMinorUnits(*amount, pi.Currency), 10))
	}

	resp, err := s.do(ctx, http.MethodPost, "/v1/refunds", form, "")
	if err != nil {
		return nil, fmt.Errorf("stripe refund: %w", err)
	}
	if !resp.OK() {
		return nil, apiError(s.Name(), "refund", resp.StatusCode, resp.Body)
	}

	var rf struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(resp.Body, &rf); err != nil {
		return nil, fmt.Errorf("stripe refund: decode: %w", err)
	}
	status := stripeRefundStatuses.Map(rf.Status)
	return &domain.PaymentResult{
		Success:        status == domain.PaymentRefunded || status == domain.PaymentProcessing,
		PaymentID:      paymentID,
		TransactionRef: rf.ID,
		Status:         status,
		NativeStatus:   rf.Status,
		Amount:         stripeMajorUnits(rf.Amount, rf.Currency),
		Currency:       strings.ToUpper(rf.Currency),
	}, nil
}

// VerifyWebhook checks "t=<unix>,v1=<hex>" where v1 = HMAC-SHA256(secret, "<t>.<raw body>").
func (s *Stripe) VerifyWebhook(_ context.Context, payload []byte, signature string, _ map[string]string) (*domain.WebhookEvent, error) {
	var ts string
	var sigs []string
	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == "" || len(sigs) == 0 {
		return nil, domain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}
	if age := s.now().Sub(time.Unix(unix, 0)); age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}

	expected := hmacSHA256Hex(s.cfg.WebhookSecret, []byte(ts), []byte("."), payload)
	matched := false
	for _, sig := range sigs {
		if signatureEqual(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, domain.ErrInvalidSignature
	}

	var evt struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil || evt.Type == "" {
		return nil, domain.ErrMalformedWebhook
	}
	return &domain.WebhookEvent{ID: evt.ID, Gateway: s.Name(), Type: evt.Type, Payload: payload}, nil
}

func (s *Stripe) GetPaymentStatus(ctx context.Context, paymentID string) domain.PaymentStatus {
	pi, err := s.getIntent(ctx, paymentID)
	if err != nil {
		return domain.PaymentFailed
	}
	return stripeStatuses.Map(pi.Status)
}
