package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/platform/httpclient"
)

func testOpts() httpclient.Options {
	return httpclient.Options{Timeout: 2 * time.Second, MaxRetries: 0}
}

func TestStatusTables(t *testing.T) {
	cases := []struct {
		name  string
		table StatusTable
		want  map[string]domain.PaymentStatus
	}{
		{"stripe", stripeStatuses, map[string]domain.PaymentStatus{
			"requires_payment_method": domain.PaymentPending,
			"requires_confirmation":   domain.PaymentPending,
			"requires_action":         domain.PaymentPending,
			"processing":              domain.PaymentProcessing,
			"requires_capture":        domain.PaymentProcessing,
			"canceled":                domain.PaymentCancelled,
			"succeeded":               domain.PaymentCompleted,
		}},
		{"paypal", paypalOrderStatuses, map[string]domain.PaymentStatus{
			"CREATED":   domain.PaymentPending,
			"APPROVED":  domain.PaymentProcessing,
			"COMPLETED": domain.PaymentCompleted,
			"VOIDED":    domain.PaymentCancelled,
		}},
		{"coinbase", coinbaseStatuses, map[string]domain.PaymentStatus{
			"NEW":        domain.PaymentPending,
			"PENDING":    domain.PaymentProcessing,
			"COMPLETED":  domain.PaymentCompleted,
			"RESOLVED":   domain.PaymentCompleted,
			"EXPIRED":    domain.PaymentFailed,
			"CANCELED":   domain.PaymentCancelled,
			"UNRESOLVED": domain.PaymentPending,
		}},
		{"bitpay", bitpayStatuses, map[string]domain.PaymentStatus{
			"new":      domain.PaymentPending,
			"paid":     domain.PaymentProcessing,
			"complete": domain.PaymentCompleted,
			"expired":  domain.PaymentCancelled,
			"invalid":  domain.PaymentFailed,
		}},
		{"nowpayments", nowpaymentsStatuses, map[string]domain.PaymentStatus{
			"waiting":        domain.PaymentPending,
			"confirming":     domain.PaymentProcessing,
			"partially_paid": domain.PaymentPending,
			"finished":       domain.PaymentCompleted,
			"failed":         domain.PaymentFailed,
			"refunded":       domain.PaymentRefunded,
			"expired":        domain.PaymentCancelled,
		}},
		{"binance_pay", binanceStatuses, map[string]domain.PaymentStatus{
			"INITIAL":  domain.PaymentPending,
			"PAID":     domain.PaymentCompleted,
			"CANCELED": domain.PaymentCancelled,
			"ERROR":    domain.PaymentFailed,
			"EXPIRED":  domain.PaymentCancelled,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for native, want := range tc.want {
				assert.Equal(t, want, tc.table.Map(native), native)
			}
			assert.Equal(t, domain.PaymentPending, tc.table.Map("something_new"))
			assert.Equal(t, domain.PaymentPending, tc.table.Map(""))
		})
	}

	t.Run("case fallback", func(t *testing.T) {
		assert.Equal(t, domain.PaymentCompleted, bitpayStatuses.Map("COMPLETE"))
	})
}

func TestStripe(t *testing.T) {
	t.Run("create intent sends cents and idempotency key", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payment_intents", r.URL.Path)
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
			assert.Equal(t, "pi-VG-2026-ABC123", r.Header.Get("Idempotency-Key"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "5614", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, "VG-2026-ABC123", r.PostForm.Get("metadata[orderNumber]"))
			_, _ = io.WriteString(w, `{"id":"pi_1","status":"requires_payment_method","client_secret":"pi_1_secret","amount":5614,"currency":"usd"}`)
		}))
		defer srv.Close()

		s := NewStripe(StripeConfig{SecretKey: "sk_test", BaseURL: srv.URL}, httpclient.New(testOpts()))
		intent, err := s.CreatePaymentIntent(context.Background(), decimal.RequireFromString("56.14"), "usd", map[string]string{"orderNumber": "VG-2026-ABC123"})
		require.NoError(t, err)
		assert.Equal(t, "pi_1", intent.ID)
		assert.Equal(t, "pi_1_secret", intent.ClientSecret)
		assert.Equal(t, domain.PaymentPending, intent.Status)
		assert.Equal(t, "USD", intent.Currency)
	})

	t.Run("unsupported currency", func(t *testing.T) {
		s := NewStripe(StripeConfig{SecretKey: "sk_test", BaseURL: "http://127.0.0.1:1"}, httpclient.New(testOpts()))
		_, err := s.CreatePaymentIntent(context.Background(), decimal.NewFromInt(10), "XYZ", nil)
		assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		s := NewStripe(StripeConfig{SecretKey: "sk_test", BaseURL: "http://127.0.0.1:1"}, httpclient.New(testOpts()))
		_, err := s.CreatePaymentIntent(context.Background(), decimal.Zero, "USD", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("confirm on succeeded intent does not confirm again", func(t *testing.T) {
		confirmCalls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/confirm") {
				confirmCalls++
			}
			_, _ = io.WriteString(w, `{"id":"pi_1","status":"succeeded","amount":5614,"currency":"usd","latest_charge":"ch_1"}`)
		}))
		defer srv.Close()

		s := NewStripe(StripeConfig{SecretKey: "sk_test", BaseURL: srv.URL}, httpclient.New(testOpts()))
		res, err := s.ConfirmPayment(context.Background(), "pi_1", domain.MethodData{Token: "pm_card_visa"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, domain.PaymentCompleted, res.Status)
		assert.Equal(t, "ch_1", res.TransactionRef)
		assert.True(t, decimal.RequireFromString("56.14").Equal(res.Amount))
		assert.Equal(t, 0, confirmCalls)
	})

	t.Run("declined card is a failure result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `{"id":"pi_1","status":"requires_payment_method"}`)
				return
			}
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = io.WriteString(w, `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds"}}`)
		}))
		defer srv.Close()

		s := NewStripe(StripeConfig{SecretKey: "sk_test", BaseURL: srv.URL}, httpclient.New(testOpts()))
		res, err := s.ConfirmPayment(context.Background(), "pi_1", domain.MethodData{Token: "pm_card_chargeDeclined"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, domain.PaymentFailed, res.Status)
		assert.Contains(t, res.Error, "insufficient_funds")
	})

	t.Run("webhook signature", func(t *testing.T) {
		s := NewStripe(StripeConfig{WebhookSecret: "whsec_test"}, nil)
		now := time.Unix(1_700_000_000, 0)
		s.now = func() time.Time { return now }
		payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
		ts := strconv.FormatInt(now.Unix(), 10)
		sig := "t=" + ts + ",v1=" + hmacSHA256Hex("whsec_test", []byte(ts+"."), payload)

		evt, err := s.VerifyWebhook(context.Background(), payload, sig, nil)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.ID)
		assert.Equal(t, "payment_intent.succeeded", evt.Type)

		tampered := []byte(strings.Replace(string(payload), "pi_1", "pi_2", 1))
		_, err = s.VerifyWebhook(context.Background(), tampered, sig, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)

		s.now = func() time.Time { return now.Add(time.Hour) }
		_, err = s.VerifyWebhook(context.Background(), payload, sig, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)

		_, err = s.VerifyWebhook(context.Background(), payload, "garbage", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestPayPalWebhookVerification(t *testing.T) {
	verifyStatus := "SUCCESS"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client", user)
			assert.Equal(t, "secret", pass)
			_, _ = io.WriteString(w, `{"access_token":"tok","expires_in":3600}`)
		case "/v1/notifications/verify-webhook-signature":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "WH-1", body["webhook_id"])
			assert.Equal(t, "sig", body["transmission_sig"])
			_, _ = io.WriteString(w, `{"verification_status":"`+verifyStatus+`"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewPayPal(PayPalConfig{ClientID: "client", ClientSecret: "secret", WebhookID: "WH-1", BaseURL: srv.URL}, httpclient.New(testOpts()))
	headers := map[string]string{
		"Paypal-Auth-Algo":         "SHA256withRSA",
		"Paypal-Cert-Url":          "https://api.paypal.com/cert.pem",
		"Paypal-Transmission-Id":   "tx-1",
		"Paypal-Transmission-Sig":  "sig",
		"Paypal-Transmission-Time": "2026-10-14T10:00:00Z",
	}
	payload := []byte(`{"id":"WH-EVT-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1"}}`)

	evt, err := p.VerifyWebhook(context.Background(), payload, "sig", headers)
	require.NoError(t, err)
	assert.Equal(t, "WH-EVT-1", evt.ID)
	assert.Equal(t, "PAYMENT.CAPTURE.COMPLETED", evt.Type)

	verifyStatus = "FAILURE"
	_, err = p.VerifyWebhook(context.Background(), payload, "sig", headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	delete(headers, "Paypal-Cert-Url")
	_, err = p.VerifyWebhook(context.Background(), payload, "sig", headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestHMACBodyWebhooks(t *testing.T) {
	t.Run("coinbase", func(t *testing.T) {
		c := NewCoinbase(CoinbaseConfig{WebhookSecret: "cb"}, nil)
		payload := []byte(`{"event":{"id":"e1","type":"charge:confirmed","data":{"id":"ch_1"}}}`)
		evt, err := c.VerifyWebhook(context.Background(), payload, hmacSHA256Hex("cb", payload), nil)
		require.NoError(t, err)
		assert.Equal(t, "charge:confirmed", evt.Type)
		assert.Equal(t, "e1", evt.ID)

		_, err = c.VerifyWebhook(context.Background(), append(payload, ' '), hmacSHA256Hex("cb", payload), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("bitpay", func(t *testing.T) {
		b := NewBitPay(BitPayConfig{WebhookSecret: "bp"}, nil)
		payload := []byte(`{"event":{"code":1006,"name":"invoice_completed"},"data":{"id":"inv_1","status":"complete"}}`)
		evt, err := b.VerifyWebhook(context.Background(), payload, strings.ToUpper(hmacSHA256Hex("bp", payload)), nil)
		require.NoError(t, err)
		assert.Equal(t, "invoice_completed", evt.Type)
		assert.Equal(t, "inv_1:invoice_completed", evt.ID)

		_, err = b.VerifyWebhook(context.Background(), payload, "", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestNOWPayments(t *testing.T) {
	t.Run("canonical json sorts keys and keeps numbers", func(t *testing.T) {
		out, err := canonicalJSON([]byte(`{"b":1,"a":{"d":"x<y","c":2.50},"e":[{"z":1,"y":2}]}`))
		require.NoError(t, err)
		assert.Equal(t, `{"a":{"c":2.50,"d":"x<y"},"b":1,"e":[{"y":2,"z":1}]}`, string(out))
	})

	t.Run("webhook signature over sorted payload", func(t *testing.T) {
		n := NewNOWPayments(NOWPaymentsConfig{IPNSecret: "ipn"}, nil)
		payload := []byte(`{"payment_status":"finished","payment_id":5077125051,"invoice_id":"4522625843","price_amount":56.14}`)
		canon, err := canonicalJSON(payload)
		require.NoError(t, err)
		sig := hmacSHA512Hex("ipn", canon)

		evt, err := n.VerifyWebhook(context.Background(), payload, sig, nil)
		require.NoError(t, err)
		assert.Equal(t, "finished", evt.Type)
		assert.Equal(t, "5077125051:finished", evt.ID)

		_, err = n.VerifyWebhook(context.Background(), []byte(`{"payment_status":"finished","payment_id":1}`), sig, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)

		_, err = n.VerifyWebhook(context.Background(), []byte(`not json`), sig, nil)
		assert.ErrorIs(t, err, domain.ErrMalformedWebhook)
	})
}

func TestBinancePay(t *testing.T) {
	t.Run("signed request and webhook", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			b := NewBinancePay(BinancePayConfig{SecretKey: "bn"}, nil)
			want := b.sign(r.Header.Get("BinancePay-Timestamp"), r.Header.Get("BinancePay-Nonce"), body)
			assert.Equal(t, want, r.Header.Get("BinancePay-Signature"))
			assert.Equal(t, "nonce123", r.Header.Get("BinancePay-Nonce"))

			var req map[string]any
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "VG2026ABC123", req["merchantTradeNo"])
			assert.Equal(t, "USDT", req["currency"])
			_, _ = io.WriteString(w, `{"status":"SUCCESS","code":"000000","data":{"prepayId":"29383937493038367292","checkoutUrl":"https://pay.binance.com/checkout/x"}}`)
		}))
		defer srv.Close()

		b := NewBinancePay(BinancePayConfig{APIKey: "key", SecretKey: "bn", BaseURL: srv.URL}, httpclient.New(testOpts()))
		b.nonce = func() string { return "nonce123" }
		intent, err := b.CreatePaymentIntent(context.Background(), decimal.RequireFromString("56.14"), "USD", map[string]string{"orderNumber": "VG-2026-ABC123"})
		require.NoError(t, err)
		assert.Equal(t, "29383937493038367292", intent.ID)
		assert.Equal(t, "https://pay.binance.com/checkout/x", intent.CheckoutURL)

		payload := []byte(`{"bizType":"PAY","bizIdStr":"29383937493038367292","bizStatus":"PAY_SUCCESS","data":"{}"}`)
		sig := b.sign("1700000000000", "abc", payload)
		headers := map[string]string{"binancepay-timestamp": "1700000000000", "binancepay-nonce": "abc"}
		evt, err := b.VerifyWebhook(context.Background(), payload, sig, headers)
		require.NoError(t, err)
		assert.Equal(t, "PAY_SUCCESS", evt.Type)

		_, err = b.VerifyWebhook(context.Background(), payload, sig, map[string]string{"binancepay-timestamp": "1700000000001", "binancepay-nonce": "abc"})
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("unsupported currency", func(t *testing.T) {
		b := NewBinancePay(BinancePayConfig{}, nil)
		_, err := b.CreatePaymentIntent(context.Background(), decimal.NewFromInt(5), "EUR", nil)
		assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
	})
}

func TestCryptoRefundsAreManual(t *testing.T) {
	gws := []domain.Gateway{
		NewCoinbase(CoinbaseConfig{}, nil),
		NewBitPay(BitPayConfig{}, nil),
		NewNOWPayments(NOWPaymentsConfig{}, nil),
		NewBinancePay(BinancePayConfig{}, nil),
	}
	for _, g := range gws {
		t.Run(g.Name(), func(t *testing.T) {
			res, err := g.RefundPayment(context.Background(), "pay_1", nil)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, domain.ManualRefundMessage, res.Error)
			assert.Equal(t, "pay_1", res.PaymentID)
		})
	}
}

func TestReferenceID(t *testing.T) {
	assert.Equal(t, "123", ReferenceID(json.RawMessage(`123`)))
	assert.Equal(t, "abc", ReferenceID(json.RawMessage(`"abc"`)))
	assert.Equal(t, "", ReferenceID(json.RawMessage(`null`)))
	assert.Equal(t, "", ReferenceID(nil))
}

func TestPayPalConfirmPayment(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/v1/oauth2/token":
			_, _ = io.WriteString(w, `{"access_token":"tok","expires_in":3600}`)
		case "/v2/checkout/orders/ORDER-1":
			_, _ = io.WriteString(w, `{"id":"ORDER-1","status":"APPROVED","purchase_units":[{"reference_id":"VG-2026-ABC123","amount":{"currency_code":"USD","value":"56.14"}}]}`)
		case "/v2/checkout/orders/ORDER-1/capture":
			_, _ = io.WriteString(w, `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"reference_id":"VG-2026-ABC123","payments":{"captures":[{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"56.14"}}]}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	p := NewPayPal(PayPalConfig{ClientID: "client", ClientSecret: "secret", BaseURL: srv.URL}, httpclient.New(testOpts()))

	t.Run("another paypal order id is refused without calling paypal", func(t *testing.T) {
		paths = nil
		res, err := p.ConfirmPayment(context.Background(), "ORDER-1", domain.MethodData{PaymentID: "OTHER_CHEAP"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, domain.PaymentPending, res.Status)
		assert.NotEmpty(t, res.Error)
		assert.Empty(t, paths)
	})

	t.Run("own order is captured with reference and currency", func(t *testing.T) {
		res, err := p.ConfirmPayment(context.Background(), "ORDER-1", domain.MethodData{PaymentID: "ORDER-1"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "CAP-1", res.TransactionRef)
		assert.Equal(t, "USD", res.Currency)
		assert.True(t, decimal.RequireFromString("56.14").Equal(res.Amount))
		assert.Equal(t, "VG-2026-ABC123", res.Metadata["orderNumber"])
	})
}

func TestStripeRefundUsesIntentCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_jpy":
			_, _ = io.WriteString(w, `{"id":"pi_jpy","status":"succeeded","amount":5000,"currency":"jpy"}`)
		case r.URL.Path == "/v1/refunds":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "1500", r.PostForm.Get("amount"))
			_, _ = io.WriteString(w, `{"id":"re_1","status":"succeeded","amount":1500,"currency":"jpy"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewStripe(StripeConfig{SecretKey: "sk_test", BaseURL: srv.URL}, httpclient.New(testOpts()))
	amount := decimal.NewFromInt(1500)
	res, err := s.RefundPayment(context.Background(), "pi_jpy", &amount)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "JPY", res.Currency)
	assert.True(t, amount.Equal(res.Amount))
}
