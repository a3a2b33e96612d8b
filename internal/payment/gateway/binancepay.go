package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/platform/httpclient"
)

var binanceStatuses = StatusTable{
	"INITIAL":   domain.PaymentPending,
	"PENDING":   domain.PaymentPending,
	"PAID":      domain.PaymentCompleted,
	"CANCELED":  domain.PaymentCancelled,
	"ERROR":     domain.PaymentFailed,
	"REFUNDING": domain.PaymentProcessing,
	"REFUNDED":  domain.PaymentRefunded,
	"EXPIRED":   domain.PaymentCancelled,
}

// Fiat USD is settled as USDT.
var binanceCurrencies = map[string]string{
	"USD":  "USDT",
	"USDT": "USDT",
	"USDC": "USDC",
	"BUSD": "BUSD",
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

type BinancePayConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

type BinancePay struct {
	cfg    BinancePayConfig
	client *retryablehttp.Client
	now    func() time.Time
	nonce  func() string
}

func NewBinancePay(cfg BinancePayConfig, client *retryablehttp.Client) *BinancePay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://bpay.binanceapi.com"
	}
	return &BinancePay{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		nonce:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

func (b *BinancePay) Name() string            { return domain.GatewayBinancePay }
func (b *BinancePay) SignatureHeader() string { return "BinancePay-Signature" }

// sign is upper-case hex HMAC-SHA512 over "<timestamp>\n<nonce>\n<body>\n".
func (b *BinancePay) sign(ts, nonce string, body []byte) string {
	return strings.ToUpper(hmacSHA512Hex(b.cfg.SecretKey, []byte(ts+"\n"+nonce+"\n"), body, []byte("\n")))
}

type binanceEnvelope struct {
	Status       string          `json:"status"`
	Code         string          `json:"code"`
	Data         json.RawMessage `json:"data"`
	ErrorMessage string          `json:"errorMessage"`
}

func (b *BinancePay) post(ctx context.Context, op, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(b.now().UnixMilli(), 10)
	nonce := b.nonce()
	resp, err := httpclient.Do(ctx, b.client, http.MethodPost, b.cfg.BaseURL+path, body, map[string]string{
		"Content-Type":              "application/json",
		"BinancePay-Timestamp":      ts,
		"BinancePay-Nonce":          nonce,
		"BinancePay-Certificate-SN": b.cfg.APIKey,
		"BinancePay-Signature":      b.sign(ts, nonce, body),
	})
	if err != nil {
		return fmt.Errorf("binance pay %s: %w", op, err)
	}
	if !resp.OK() {
		return apiError(b.Name(), op, resp.StatusCode, resp.Body)
	}
	var env binanceEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("binance pay %s: decode: %w", op, err)
	}
	if env.Status != "SUCCESS" {
		return apiError(b.Name(), op, resp.StatusCode, []byte(env.Code+" "+env.ErrorMessage))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("binance pay %s: decode data: %w", op, err)
	}
	return nil
}

func (b *BinancePay) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	cur := strings.ToUpper(strings.TrimSpace(currency))
	settle, ok := binanceCurrencies[cur]
	if !ok {
		return nil, fmt.Errorf("%w: %s does not accept %q", domain.ErrUnsupportedCurrency, b.Name(), currency)
	}

	tradeNo := nonAlnum.ReplaceAllString(metadata["orderNumber"], "")
	if tradeNo == "" {
		tradeNo = b.nonce()
	}
	req := map[string]any{
		"env":             map[string]string{"terminalType": "WEB"},
		"merchantTradeNo": tradeNo,
		"orderAmount":     amount.StringFixed(2),
		"currency":        settle,
		"description":     "Order " + metadata["orderNumber"],
		"goodsDetails": []map[string]string{{
			"goodsType":        "02",
			"goodsCategory":    "Z000",
			"referenceGoodsId": tradeNo,
			"goodsName":        "Digital goods",
		}},
	}

	var data struct {
		PrepayID     string `json:"prepayId"`
		CheckoutURL  string `json:"checkoutUrl"`
		UniversalURL string `json:"universalUrl"`
	}
	if err := b.post(ctx, "create_order", "/binancepay/openapi/v3/order", req, &data); err != nil {
		return nil, err
	}
	checkout := data.CheckoutURL
	if checkout == "" {
		checkout = data.UniversalURL
	}
	return &domain.PaymentIntent{
		ID:           data.PrepayID,
		Gateway:      b.Name(),
		Amount:       amount,
		Currency:     cur,
		Status:       domain.PaymentPending,
		NativeStatus: "INITIAL",
		CheckoutURL:  checkout,
		Metadata:     metadata,
	}, nil
}

type binanceOrder struct {
	PrepayID    string `json:"prepayId"`
	TransactID  string `json:"transactionId"`
	Status      string `json:"status"`
	OrderAmount string `json:"orderAmount"`
}

func (b *BinancePay) queryOrder(ctx context.Context, prepayID string) (*binanceOrder, error) {
	var o binanceOrder
	if err := b.post(ctx, "query_order", "/binancepay/openapi/v2/order/query", map[string]string{"prepayId": prepayID}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (b *BinancePay) ConfirmPayment(ctx context.Context, intentID string, _ domain.MethodData) (*domain.PaymentResult, error) {
	o, err := b.queryOrder(ctx, intentID)
	if err != nil {
		return nil, err
	}
	status := binanceStatuses.Map(o.Status)
	amount, _ := decimal.NewFromString(o.OrderAmount)
	return &domain.PaymentResult{
		Success:        status == domain.PaymentCompleted,
		PaymentID:      intentID,
		TransactionRef: o.TransactID,
		Status:         status,
		NativeStatus:   o.Status,
		Amount:         amount,
		RequiresAction: status != domain.PaymentCompleted,
	}, nil
}

func (b *BinancePay) RefundPayment(_ context.Context, paymentID string, _ *decimal.Decimal) (*domain.PaymentResult, error) {
	return manualRefund(paymentID), nil
}

// VerifyWebhook checks the BinancePay-Signature header against the same timestamp/nonce/body scheme
// used for outbound requests.
func (b *BinancePay) VerifyWebhook(_ context.Context, payload []byte, signature string, headers map[string]string) (*domain.WebhookEvent, error) {
	ts := headerValue(headers, "BinancePay-Timestamp")
	nonce := headerValue(headers, "BinancePay-Nonce")
	if ts == "" || nonce == "" {
		return nil, fmt.Errorf("%w: missing timestamp or nonce", domain.ErrInvalidSignature)
	}
	if !signatureEqual(b.sign(ts, nonce, payload), signature) {
		return nil, domain.ErrInvalidSignature
	}

	var body struct {
		BizType   string          `json:"bizType"`
		BizID     json.RawMessage `json:"bizId"`
		BizIDStr  string          `json:"bizIdStr"`
		BizStatus string          `json:"bizStatus"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.BizStatus == "" {
		return nil, domain.ErrMalformedWebhook
	}
	id := body.BizIDStr
	if id == "" {
		id = ReferenceID(body.BizID)
	}
	return &domain.WebhookEvent{ID: id + ":" + body.BizStatus, Gateway: b.Name(), Type: body.BizStatus, Payload: payload}, nil
}

func (b *BinancePay) GetPaymentStatus(ctx context.Context, paymentID string) domain.PaymentStatus {
	o, err := b.queryOrder(ctx, paymentID)
	if err != nil {
		return domain.PaymentFailed
	}
	return binanceStatuses.Map(o.Status)
}
