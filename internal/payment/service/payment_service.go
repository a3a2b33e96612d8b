package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/payment/gateway"
	"github.com/ridloal/vg-checkout/internal/platform/cache"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
)

type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, gatewayName string, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error)
	// ProcessPayment only errors for an unknown gateway; processor failures come back as a failed result.
	ProcessPayment(ctx context.Context, gatewayName, intentID string, data domain.MethodData) (*domain.PaymentResult, error)
	RefundPayment(ctx context.Context, gatewayName, paymentID string, amount *decimal.Decimal) (*domain.PaymentResult, error)
	GetPaymentStatus(ctx context.Context, gatewayName, paymentID string) (domain.PaymentStatus, error)
	HandleWebhook(ctx context.Context, gatewayName string, payload []byte, headers map[string]string) (*domain.WebhookUpdate, error)
	// ForgetWebhook drops the dedupe marker so the processor's redelivery is processed again.
	ForgetWebhook(ctx context.Context, update *domain.WebhookUpdate)
	Supports(gatewayName string) bool
	Gateways() []string
}

// Webhook event type -> shared status, per processor. Kept apart from each adapter's own
// native-status table because processors name events and resource statuses differently.
var webhookEventStatus = map[string]gateway.StatusTable{
	domain.GatewayStripe: {
		"payment_intent.succeeded":       domain.PaymentCompleted,
		"payment_intent.payment_failed":  domain.PaymentFailed,
		"payment_intent.canceled":        domain.PaymentCancelled,
		"payment_intent.processing":      domain.PaymentProcessing,
		"payment_intent.requires_action": domain.PaymentPending,
		"payment_intent.created":         domain.PaymentPending,
		"charge.refunded":                domain.PaymentRefunded,
	},
	domain.GatewayPayPal: {
		"PAYMENT.CAPTURE.COMPLETED": domain.PaymentCompleted,
		"PAYMENT.CAPTURE.DENIED":    domain.PaymentFailed,
		"PAYMENT.CAPTURE.DECLINED":  domain.PaymentFailed,
		"PAYMENT.CAPTURE.REFUNDED":  domain.PaymentRefunded,
		"PAYMENT.CAPTURE.PENDING":   domain.PaymentPending,
		"CHECKOUT.ORDER.APPROVED":   domain.PaymentProcessing,
		"CHECKOUT.ORDER.COMPLETED":  domain.PaymentCompleted,
		"CHECKOUT.ORDER.VOIDED":     domain.PaymentCancelled,
	},
	domain.GatewayCoinbase: {
		"charge:created":   domain.PaymentPending,
		"charge:pending":   domain.PaymentProcessing,
		"charge:confirmed": domain.PaymentCompleted,
		"charge:failed":    domain.PaymentFailed,
		"charge:delayed":   domain.PaymentPending,
		"charge:resolved":  domain.PaymentCompleted,
	},
	domain.GatewayBitPay: {
		"invoice_paidInFull":      domain.PaymentProcessing,
		"invoice_confirmed":       domain.PaymentProcessing,
		"invoice_completed":       domain.PaymentCompleted,
		"invoice_expired":         domain.PaymentCancelled,
		"invoice_failedToConfirm": domain.PaymentFailed,
		"invoice_declined":        domain.PaymentFailed,
		"invoice_refundComplete":  domain.PaymentRefunded,
	},
	domain.GatewayNOWPayments: {
		"waiting":        domain.PaymentPending,
		"confirming":     domain.PaymentProcessing,
		"confirmed":      domain.PaymentProcessing,
		"sending":        domain.PaymentProcessing,
		"partially_paid": domain.PaymentPending,
		"finished":       domain.PaymentCompleted,
		"failed":         domain.PaymentFailed,
		"refunded":       domain.PaymentRefunded,
		"expired":        domain.PaymentCancelled,
	},
	domain.GatewayBinancePay: {
		"PAY_SUCCESS": domain.PaymentCompleted,
		"PAY_CLOSED":  domain.PaymentCancelled,
		"PAY_REFUND":  domain.PaymentRefunded,
	},
}

// paymentIDExtractors pull the id we stored as Order.transactionId out of a verified payload.
var paymentIDExtractors = map[string]func(eventType string, payload []byte) string{
	domain.GatewayStripe:      stripePaymentID,
	domain.GatewayPayPal:      paypalPaymentID,
	domain.GatewayCoinbase:    coinbasePaymentID,
	domain.GatewayBitPay:      bitpayPaymentID,
	domain.GatewayNOWPayments: nowpaymentsPaymentID,
	domain.GatewayBinancePay:  binancePaymentID,
}

// webhookStatusRefiners correct the event-type status using the payload itself.
var webhookStatusRefiners = map[string]func(eventType string, payload []byte, status domain.PaymentStatus) domain.PaymentStatus{
	domain.GatewayStripe: stripeRefundStatus,
}

// charge.refunded also fires for partial refunds; only a fully refunded charge refunds the order.
func stripeRefundStatus(eventType string, payload []byte, status domain.PaymentStatus) domain.PaymentStatus {
	if eventType != "charge.refunded" {
		return status
	}
	var evt struct {
		Data struct {
			Object struct {
				Refunded bool `json:"refunded"`
			} `json:"object"`
		} `json:"data"`
	}
	if json.Unmarshal(payload, &evt) != nil || !evt.Data.Object.Refunded {
		return domain.PaymentCompleted
	}
	return domain.PaymentRefunded
}

type paymentServiceImpl struct {
	gateways  map[string]domain.Gateway
	dedupe    cache.Cache
	dedupeTTL time.Duration
}

// NewPaymentService builds the registry once; it is never mutated afterwards.
func NewPaymentService(gateways []domain.Gateway, dedupe cache.Cache, dedupeTTL time.Duration) PaymentService {
	reg := make(map[string]domain.Gateway, len(gateways))
	for _, g := range gateways {
		reg[g.Name()] = g
	}
	if dedupeTTL <= 0 {
		dedupeTTL = 72 * time.Hour
	}
	return &paymentServiceImpl{gateways: reg, dedupe: dedupe, dedupeTTL: dedupeTTL}
}

func (s *paymentServiceImpl) lookup(name string) (domain.Gateway, error) {
	g, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedGateway, name)
	}
	return g, nil
}

func (s *paymentServiceImpl) Supports(name string) bool {
	_, ok := s.gateways[name]
	return ok
}

func (s *paymentServiceImpl) Gateways() []string {
	names := make([]string, 0, len(s.gateways))
	for n := range s.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *paymentServiceImpl) CreatePaymentIntent(ctx context.Context, gatewayName string, amount decimal.Decimal, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	g, err := s.lookup(gatewayName)
	if err != nil {
		return nil, err
	}
	intent, err := g.CreatePaymentIntent(ctx, amount, currency, metadata)
	if err != nil {
		logger.Error("payment intent creation failed", err,
			zap.String("gateway", gatewayName),
			zap.String("order_number", metadata["orderNumber"]))
		return nil, err
	}
	logger.Info("payment intent created",
		zap.String("gateway", gatewayName),
		zap.String("intent_id", intent.ID),
		zap.String("status", string(intent.Status)))
	return intent, nil
}

func (s *paymentServiceImpl) ProcessPayment(ctx context.Context, gatewayName, intentID string, data domain.MethodData) (*domain.PaymentResult, error) {
	g, err := s.lookup(gatewayName)
	if err != nil {
		return nil, err
	}
	res, err := g.ConfirmPayment(ctx, intentID, data)
	if err != nil {
		logger.Error("payment confirmation failed", err, zap.String("gateway", gatewayName), zap.String("intent_id", intentID))
		return failedResult(intentID, err), nil
	}
	return res, nil
}

func (s *paymentServiceImpl) RefundPayment(ctx context.Context, gatewayName, paymentID string, amount *decimal.Decimal) (*domain.PaymentResult, error) {
	g, err := s.lookup(gatewayName)
	if err != nil {
		return nil, err
	}
	res, err := g.RefundPayment(ctx, paymentID, amount)
	if err != nil {
		logger.Error("refund failed", err, zap.String("gateway", gatewayName), zap.String("payment_id", paymentID))
		return failedResult(paymentID, err), nil
	}
	return res, nil
}

func (s *paymentServiceImpl) GetPaymentStatus(ctx context.Context, gatewayName, paymentID string) (domain.PaymentStatus, error) {
	g, err := s.lookup(gatewayName)
	if err != nil {
		return "", err
	}
	return g.GetPaymentStatus(ctx, paymentID), nil
}

// failedResult never carries the raw processor error; that stays in the logs.
func failedResult(paymentID string, err error) *domain.PaymentResult {
	msg := "payment processor error"
	var apiErr *gateway.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrUnsupportedCurrency):
		msg = err.Error()
	case errors.As(err, &apiErr):
		msg = fmt.Sprintf("payment processor rejected the request (status %d)", apiErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		msg = "payment processor timed out"
	}
	return &domain.PaymentResult{
		Success:   false,
		PaymentID: paymentID,
		Status:    domain.PaymentFailed,
		Error:     msg,
	}
}

func (s *paymentServiceImpl) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, headers map[string]string) (*domain.WebhookUpdate, error) {
	g, err := s.lookup(gatewayName)
	if err != nil {
		return nil, err
	}

	signature := header(headers, g.SignatureHeader())
	evt, err := g.VerifyWebhook(ctx, payload, signature, headers)
	if err != nil {
		logger.Warn("webhook verification failed", zap.String("gateway", gatewayName), zap.Error(err))
		return nil, err
	}

	update := &domain.WebhookUpdate{
		Gateway:   gatewayName,
		EventID:   evt.ID,
		EventType: evt.Type,
		Status:    webhookEventStatus[gatewayName].Map(evt.Type),
	}
	if refine, ok := webhookStatusRefiners[gatewayName]; ok {
		update.Status = refine(evt.Type, payload, update.Status)
	}
	if extract, ok := paymentIDExtractors[gatewayName]; ok {
		update.PaymentID = extract(evt.Type, payload)
	}
	if update.PaymentID == "" {
		return nil, fmt.Errorf("%w: no payment id in %s event %q", domain.ErrMalformedWebhook, gatewayName, evt.Type)
	}

	if s.dedupe != nil && evt.ID != "" {
		fresh, err := s.dedupe.SetIfAbsent(ctx, s.dedupeKey(update), string(update.Status), s.dedupeTTL)
		if err != nil {
			// Dedupe hanya optimasi; state machine order tetap idempoten.
			logger.Warn("webhook dedupe unavailable", zap.String("gateway", gatewayName), zap.Error(err))
		} else if !fresh {
			update.Duplicate = true
		}
	}

	logger.Info("webhook verified",
		zap.String("gateway", gatewayName),
		zap.String("event_id", update.EventID),
		zap.String("event_type", update.EventType),
		zap.String("payment_id", update.PaymentID),
		zap.String("status", string(update.Status)),
		zap.Bool("duplicate", update.Duplicate))
	return update, nil
}

func (s *paymentServiceImpl) ForgetWebhook(ctx context.Context, update *domain.WebhookUpdate) {
	if s.dedupe == nil || update == nil || update.EventID == "" {
		return
	}
	if err := s.dedupe.Delete(ctx, s.dedupeKey(update)); err != nil {
		logger.Warn("failed to clear webhook dedupe marker", zap.String("event_id", update.EventID), zap.Error(err))
	}
}

func (s *paymentServiceImpl) dedupeKey(u *domain.WebhookUpdate) string {
	return s.dedupe.GenerateKey("webhook", u.Gateway+":"+u.EventID)
}

func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func stripePaymentID(eventType string, payload []byte) string {
	var evt struct {
		Data struct {
			Object struct {
				ID            string `json:"id"`
				PaymentIntent string `json:"payment_intent"`
			} `json:"object"`
		} `json:"data"`
	}
	if json.Unmarshal(payload, &evt) != nil {
		return ""
	}
	if strings.HasPrefix(eventType, "charge.") {
		return evt.Data.Object.PaymentIntent
	}
	return evt.Data.Object.ID
}

func paypalPaymentID(_ string, payload []byte) string {
	var evt struct {
		Resource struct {
			ID                string `json:"id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if json.Unmarshal(payload, &evt) != nil {
		return ""
	}
	if id := evt.Resource.SupplementaryData.RelatedIDs.OrderID; id != "" {
		return id
	}
	return evt.Resource.ID
}

func coinbasePaymentID(_ string, payload []byte) string {
	var evt struct {
		Event struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"event"`
	}
	if json.Unmarshal(payload, &evt) != nil {
		return ""
	}
	return evt.Event.Data.ID
}

func bitpayPaymentID(_ string, payload []byte) string {
	var evt struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if json.Unmarshal(payload, &evt) != nil {
		return ""
	}
	return evt.Data.ID
}

func nowpaymentsPaymentID(_ string, payload []byte) string {
	var evt struct {
		InvoiceID json.RawMessage `json:"invoice_id"`
		PaymentID json.RawMessage `json:"payment_id"`
	}
	if json.Unmarshal(payload, &evt) != nil {
		return ""
	}
	if id := gateway.ReferenceID(evt.InvoiceID); id != "" {
		return id
	}
	return gateway.ReferenceID(evt.PaymentID)
}

func binancePaymentID(_ string, payload []byte) string {
	var evt struct {
		BizID    json.RawMessage `json:"bizId"`
		BizIDStr string          `json:"bizIdStr"`
	}
	if json.Unmarshal(payload, &evt) != nil {
		return ""
	}
	if evt.BizIDStr != "" {
		return evt.BizIDStr
	}
	return gateway.ReferenceID(evt.BizID)
}
