package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	cService "github.com/ridloal/vg-checkout/internal/cart/service"
	"github.com/ridloal/vg-checkout/internal/order/domain"
	"github.com/ridloal/vg-checkout/internal/order/repository"
	pay "github.com/ridloal/vg-checkout/internal/payment/domain"
	paySvc "github.com/ridloal/vg-checkout/internal/payment/service"
	"github.com/ridloal/vg-checkout/internal/platform/apperr"
	"github.com/ridloal/vg-checkout/internal/platform/events"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
	"github.com/ridloal/vg-checkout/internal/platform/mail"
	pDomain "github.com/ridloal/vg-checkout/internal/product/domain"
	pRepo "github.com/ridloal/vg-checkout/internal/product/repository"
	pService "github.com/ridloal/vg-checkout/internal/product/service"
	uService "github.com/ridloal/vg-checkout/internal/user/service"
)

var ErrOrderCreationFailed = errors.New("order creation failed")

const (
	CodePaymentFailed = "PAYMENT_FAILED"
	CodeNotEligible   = "ORDER_NOT_ELIGIBLE"
	CodeRefundFailed  = "REFUND_FAILED"

	maxOrderNumberAttempts = 5
)

type OrderService interface {
	ProcessPurchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// ConfirmPayment is the client path: the gateway is always asked.
	ConfirmPayment(ctx context.Context, orderID string, data pay.MethodData) (*domain.ConfirmResult, error)
	// ConfirmFromWebhook trusts an already verified webhook and never calls the gateway.
	ConfirmFromWebhook(ctx context.Context, transactionID, eventType string) (*domain.Order, error)
	HandlePaymentFailure(ctx context.Context, orderID, reason string) error
	UpdatePaymentStatusFromWebhook(ctx context.Context, update *pay.WebhookUpdate) (*domain.Order, error)
	Cancel(ctx context.Context, orderID string) (*domain.Order, error)
	RetryPayment(ctx context.Context, orderID string, data pay.MethodData) (*domain.ConfirmResult, error)
	GetPaymentStatus(ctx context.Context, orderID string, refresh bool) (*domain.PaymentStatusView, error)
	RefundOrder(ctx context.Context, orderID string, amount *decimal.Decimal) (*domain.RefundResult, error)
	ProcessPaymentTimeouts(ctx context.Context) // Fungsi untuk scheduler
}

type NumberSource interface {
	Next() string
}

type Dependencies struct {
	Orders   repository.OrderRepository
	Products pService.ProductService
	Carts    cService.CartService
	Users    uService.UserService
	Payments paySvc.PaymentService
	Mailer   mail.Mailer
	Events   events.Publisher
	Numbers  NumberSource
}

type Config struct {
	PaymentTimeout       time.Duration
	DefaultCryptoGateway string
	Currency             string
}

type orderServiceImpl struct {
	orders   repository.OrderRepository
	products pService.ProductService
	carts    cService.CartService
	users    uService.UserService
	payments paySvc.PaymentService
	mailer   mail.Mailer
	events   events.Publisher
	numbers  NumberSource
	cfg      Config
	now      func() time.Time
}

func NewOrderService(deps Dependencies, cfg Config) OrderService {
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 30 * time.Minute
	}
	if cfg.DefaultCryptoGateway == "" {
		cfg.DefaultCryptoGateway = pay.GatewayCoinbase
	}
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	if deps.Mailer == nil {
		deps.Mailer = mail.NewLogMailer()
	}
	if deps.Events == nil {
		deps.Events = events.NewLogPublisher()
	}
	return &orderServiceImpl{
		orders:   deps.Orders,
		products: deps.Products,
		carts:    deps.Carts,
		users:    deps.Users,
		payments: deps.Payments,
		mailer:   deps.Mailer,
		events:   deps.Events,
		numbers:  deps.Numbers,
		cfg:      cfg,
		now:      time.Now,
	}
}

func notEligible(message string) error {
	return apperr.New(apperr.KindValidation, message).WithCode(CodeNotEligible)
}

func mapOrderErr(err error, orderID string) error {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, fmt.Sprintf("order %s not found", orderID))
	}
	return err
}

// Webhook untuk transaksi yang tidak dikenal dicatat lalu dibuang.
func mapTransactionErr(err error, transactionID string) error {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return apperr.Wrap(apperr.KindIntegrity, err, fmt.Sprintf("no order for transaction %s", transactionID))
	}
	return err
}

func (s *orderServiceImpl) ProcessPurchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	// 1. Item dari cart atau dari request, tidak boleh dua-duanya
	if err := req.ItemSource(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, err.Error())
	}
	lines, err := s.resolveLines(ctx, req)
	if err != nil {
		return nil, err
	}

	// 2. Validasi stok sebelum apa pun disimpan
	validation, err := s.products.ValidateStock(ctx, lines)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, apperr.Wrap(apperr.KindValidation, pRepo.ErrInsufficientStock, strings.Join(validation.Errors, "; ")).
			WithCode(pService.CodeInsufficientStock)
	}
	gatewayName, err := s.resolveGateway(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	// 3. Customer dari data pengiriman
	customer, err := s.users.ResolveCustomer(ctx, req.ShippingInfo)
	if err != nil {
		return nil, err
	}

	// 4. Total
	items := buildItems(lines, validation.ValidatedProducts)
	totals := domain.ComputeTotals(items)
	order := &domain.Order{
		OrderNumber:   s.numbers.Next(),
		UserID:        customer.ID,
		CustomerEmail: customer.Email,
		Subtotal:      totals.Subtotal,
		Tax:           totals.Tax,
		Shipping:      totals.Shipping,
		Discount:      totals.Discount,
		Total:         totals.Total,
		Currency:      s.cfg.Currency,
		Status:        domain.StatusPending,
		PaymentStatus: pay.PaymentPending,
		PaymentMethod: req.PaymentMethod.Type,
	}

	// 5-7. Reservasi stok -> payment intent -> simpan order
	var intent *pay.PaymentIntent
	err = runSaga(ctx,
		sagaStep{
			name:       "reserve_stock",
			execute:    func(ctx context.Context) error { return s.products.ReserveStock(ctx, lines) },
			compensate: func(ctx context.Context) error { return s.products.ReleaseStock(ctx, lines) },
		},
		sagaStep{
			name: "create_payment_intent",
			execute: func(ctx context.Context) error {
				var err error
				intent, err = s.payments.CreatePaymentIntent(ctx, gatewayName, order.Total, order.Currency, map[string]string{
					"orderNumber": order.OrderNumber,
					"userId":      customer.ID,
					"email":       customer.Email,
				})
				if err != nil {
					return intentError(err)
				}
				return nil
			},
			compensate: func(context.Context) error {
				// Intent belum dibayar; processor akan meng-expire sendiri
				logger.Warn("payment intent left open after failed purchase",
					zap.String("gateway", gatewayName), zap.String("intent_id", intent.ID))
				return nil
			},
		},
		sagaStep{
			name: "persist_order",
			execute: func(ctx context.Context) error {
				order.TransactionID = intent.ID
				order.PaymentDetails = domain.PaymentDetails{Gateway: gatewayName, IntentID: intent.ID, CheckoutURL: intent.CheckoutURL}
				return s.persist(ctx, order, items)
			},
		},
	)
	if err != nil {
		return nil, err
	}
	logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("gateway", gatewayName),
		zap.String("total", order.Total.StringFixed(2)))

	// 8. Kosongkan cart
	if req.CartID != "" {
		if err := s.carts.ClearCart(ctx, req.CartID); err != nil {
			logger.Warn("failed to clear cart after checkout", zap.String("cart_id", req.CartID), zap.Error(err))
		}
	}
	s.publish(ctx, events.OrderCreated, order, "")

	result := &domain.PurchaseResult{Success: true, Order: order, PaymentIntent: intent, RequiresAction: true}

	// 9. Auto-confirm untuk kartu dengan token atau PayPal dengan payment id
	if canAutoConfirm(req.PaymentMethod) {
		confirm, err := s.ConfirmPayment(ctx, order.ID, req.PaymentMethod.Data)
		if err != nil {
			logger.Error("auto-confirm failed, order stays pending", err, zap.String("order_id", order.ID))
			return result, nil
		}
		result.Success = confirm.Success || confirm.RequiresAction
		result.Order = confirm.Order
		result.Payment = confirm.Payment
		result.RequiresAction = !confirm.Success && confirm.RequiresAction
		if !result.Success {
			result.Error = confirm.Error
		}
	}
	return result, nil
}

func (s *orderServiceImpl) resolveLines(ctx context.Context, req domain.PurchaseRequest) ([]pDomain.StockItem, error) {
	var raw []pDomain.StockItem
	if req.CartID != "" {
		cart, err := s.carts.GetCart(ctx, req.CartID)
		if err != nil {
			return nil, err
		}
		for _, it := range cart.Items {
			raw = append(raw, pDomain.StockItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		if len(raw) == 0 {
			return nil, apperr.New(apperr.KindValidation, "cart is empty")
		}
	} else {
		for _, it := range req.Items {
			raw = append(raw, pDomain.StockItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}
	for _, it := range raw {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, apperr.New(apperr.KindValidation, "every item needs a productId and a quantity greater than 0")
		}
	}
	return pDomain.MergeStockItems(raw), nil
}

func buildItems(lines []pDomain.StockItem, products map[string]pDomain.Product) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, l := range lines {
		p := products[l.ProductID]
		price := p.EffectivePrice()
		items = append(items, domain.OrderItem{
			ProductID:   l.ProductID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   price,
			LineTotal:   price.Mul(decimal.NewFromInt(int64(l.Quantity))),
		})
	}
	return items
}

var cryptoGateways = map[string]bool{
	pay.GatewayCoinbase:    true,
	pay.GatewayBitPay:      true,
	pay.GatewayNOWPayments: true,
}

func (s *orderServiceImpl) resolveGateway(m domain.PaymentMethod) (string, error) {
	var name string
	switch m.Type {
	case pay.MethodCard:
		name = pay.GatewayStripe
	case pay.MethodPayPal:
		name = pay.GatewayPayPal
	case pay.MethodCrypto:
		name = m.Gateway
		if name == "" {
			name = s.cfg.DefaultCryptoGateway
		}
		if !cryptoGateways[name] {
			return "", apperr.Wrap(apperr.KindValidation, pay.ErrUnsupportedGateway, fmt.Sprintf("unsupported crypto gateway %q", name))
		}
	case pay.MethodBinancePay:
		name = pay.GatewayBinancePay
	default:
		return "", apperr.New(apperr.KindValidation, fmt.Sprintf("unsupported payment method %q", m.Type))
	}
	if !s.payments.Supports(name) {
		return "", apperr.Wrap(apperr.KindValidation, pay.ErrUnsupportedGateway, fmt.Sprintf("payment gateway %s is not available", name))
	}
	return name, nil
}

func canAutoConfirm(m domain.PaymentMethod) bool {
	switch m.Type {
	case pay.MethodCard:
		return m.Data.Token != ""
	case pay.MethodPayPal:
		return m.Data.PaymentID != ""
	}
	return false
}

func intentError(err error) error {
	switch {
	case errors.Is(err, pay.ErrUnsupportedCurrency), errors.Is(err, pay.ErrInvalidAmount), errors.Is(err, pay.ErrUnsupportedGateway):
		return apperr.Wrap(apperr.KindValidation, err, err.Error())
	}
	return apperr.Wrap(apperr.KindGateway, err, "payment gateway unavailable, order was not created")
}

// persist retries with a fresh number when another order already took this one.
func (s *orderServiceImpl) persist(ctx context.Context, order *domain.Order, items []domain.OrderItem) error {
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		err := s.orders.CreateOrderWithItems(ctx, order, items)
		if !errors.Is(err, repository.ErrDuplicateOrderNumber) {
			if err != nil {
				return fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
			}
			return nil
		}
		logger.Warn("order number collision, regenerating",
			zap.String("order_number", order.OrderNumber), zap.Int("attempt", attempt))
		order.OrderNumber = s.numbers.Next()
	}
	return fmt.Errorf("%w: no unique order number after %d attempts", ErrOrderCreationFailed, maxOrderNumberAttempts)
}

func (s *orderServiceImpl) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	return order, nil
}

func (s *orderServiceImpl) ConfirmPayment(ctx context.Context, orderID string, data pay.MethodData) (*domain.ConfirmResult, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	// Sudah dibayar (mis. webhook datang duluan): jangan panggil gateway lagi
	if order.PaymentStatus == pay.PaymentCompleted {
		return &domain.ConfirmResult{Success: true, Order: order}, nil
	}
	if !order.AwaitingPayment() {
		return nil, notEligible(fmt.Sprintf("order %s is not awaiting payment", order.OrderNumber))
	}

	res, err := s.payments.ProcessPayment(ctx, order.PaymentDetails.Gateway, order.TransactionID, data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "payment gateway is not available")
	}

	switch {
	case res.Success && res.Status == pay.PaymentCompleted:
		if err := settlementMismatch(order, res); err != nil {
			// Order tetap menunggu pembayaran yang benar
			logger.Warn("payment rejected, does not settle this order",
				zap.String("order_id", order.ID),
				zap.String("payment_id", res.PaymentID),
				zap.String("reason", err.Error()))
			return &domain.ConfirmResult{Success: false, Order: order, Payment: res, Error: err.Error()}, nil
		}
		paid, err := s.markPaid(ctx, order.ID, domain.ConfirmedViaClient, "", res)
		if err != nil {
			return nil, err
		}
		return &domain.ConfirmResult{Success: true, Order: paid, Payment: res}, nil

	case res.Status == pay.PaymentFailed || res.Status == pay.PaymentCancelled:
		reason := res.Error
		if reason == "" {
			reason = "payment " + strings.ToLower(string(res.Status))
		}
		return &domain.ConfirmResult{
			Success: false,
			Order:   s.failSafely(ctx, order, res.Status, reason),
			Payment: res,
			Error:   reason,
		}, nil

	default:
		// Masih menunggu langkah customer (3DS, approval, transfer crypto)
		current := order
		if res.Status == pay.PaymentProcessing {
			if updated, err := s.markProcessing(ctx, order.ID); err == nil {
				current = updated
			}
		}
		return &domain.ConfirmResult{
			Success:        false,
			Order:          current,
			Payment:        res,
			RequiresAction: true,
			Error:          "payment is not complete yet",
		}, nil
	}
}

// settlementMismatch compares what the processor reports as paid with the order. Fields a
// processor does not report are not checked.
func settlementMismatch(order *domain.Order, res *pay.PaymentResult) error {
	if ref := res.Metadata["orderNumber"]; ref != "" && ref != order.OrderNumber {
		return fmt.Errorf("payment belongs to order %s", ref)
	}
	if res.Currency == "" {
		return nil
	}
	if !strings.EqualFold(res.Currency, order.Currency) {
		return fmt.Errorf("payment currency %s does not match order currency %s", res.Currency, order.Currency)
	}
	if !res.Amount.Equal(order.Total) {
		return fmt.Errorf("paid amount %s does not match order total %s", res.Amount.StringFixed(2), order.Total.StringFixed(2))
	}
	return nil
}

func (s *orderServiceImpl) ConfirmFromWebhook(ctx context.Context, transactionID, eventType string) (*domain.Order, error) {
	order, err := s.orders.GetOrderByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, mapTransactionErr(err, transactionID)
	}
	return s.markPaid(ctx, order.ID, domain.ConfirmedViaWebhook, eventType, nil)
}

// markPaid is the one place an order becomes paid. Email and event only go out on the
// first transition, after the row lock is released.
func (s *orderServiceImpl) markPaid(ctx context.Context, orderID, via, eventType string, res *pay.PaymentResult) (*domain.Order, error) {
	first := false
	order, err := s.orders.TransitionOrder(ctx, orderID, func(o *domain.Order) (bool, error) {
		if o.PaymentStatus.IsTerminal() {
			return false, nil
		}
		now := s.now().UTC()
		o.PaymentStatus = pay.PaymentCompleted
		o.PaymentDetails.ConfirmedVia = via
		o.PaymentDetails.ConfirmedAt = &now
		o.PaymentDetails.WebhookEventType = eventType
		if res != nil && res.TransactionRef != "" {
			o.PaymentDetails.TransactionRef = res.TransactionRef
		}
		if o.Status == domain.StatusCancelled {
			o.PaymentDetails.ManualRefundRequired = true
			return true, nil
		}
		o.Status = domain.StatusProcessing
		first = true
		return true, nil
	})
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}

	switch {
	case first:
		logger.Info("order paid", zap.String("order_id", order.ID), zap.String("via", via))
		s.sendConfirmation(ctx, order)
		s.publish(ctx, events.OrderPaid, order, "")
	case order.Status == domain.StatusCancelled && order.PaymentDetails.ManualRefundRequired:
		logger.Warn("payment completed for a cancelled order, manual refund required",
			zap.String("order_id", order.ID), zap.String("order_number", order.OrderNumber))
	}
	return order, nil
}

func (s *orderServiceImpl) markProcessing(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.TransitionOrder(ctx, orderID, func(o *domain.Order) (bool, error) {
		if o.Status != domain.StatusPending || o.PaymentStatus != pay.PaymentPending {
			return false, nil
		}
		o.PaymentStatus = pay.PaymentProcessing
		return true, nil
	})
	if err != nil {
		logger.Error("failed to mark payment processing", err, zap.String("order_id", orderID))
		return nil, mapOrderErr(err, orderID)
	}
	return order, nil
}

func (s *orderServiceImpl) HandlePaymentFailure(ctx context.Context, orderID, reason string) error {
	_, err := s.failOrder(ctx, orderID, pay.PaymentFailed, reason)
	return err
}

// failSafely never lets a failure-handling error mask the payment failure itself.
func (s *orderServiceImpl) failSafely(ctx context.Context, order *domain.Order, status pay.PaymentStatus, reason string) *domain.Order {
	failed, err := s.failOrder(ctx, order.ID, status, reason)
	if err != nil {
		logger.Error("payment failure handling failed", err, zap.String("order_id", order.ID))
		return order
	}
	return failed
}

// failOrder cancels a pending order and releases its stock. Orders that are already settled
// or cancelled are left alone, so the release happens exactly once.
func (s *orderServiceImpl) failOrder(ctx context.Context, orderID string, status pay.PaymentStatus, reason string) (*domain.Order, error) {
	release := false
	order, err := s.orders.TransitionOrder(ctx, orderID, func(o *domain.Order) (bool, error) {
		if o.Status != domain.StatusPending || o.PaymentStatus.IsTerminal() {
			return false, nil
		}
		o.Status = domain.StatusCancelled
		o.PaymentStatus = status
		o.PaymentDetails.FailureReason = reason
		release = true
		return true, nil
	})
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	if !release {
		logger.Info("payment failure ignored, order already settled",
			zap.String("order_id", orderID), zap.String("status", string(order.Status)))
		return order, nil
	}

	logger.Info("order cancelled after payment failure", zap.String("order_id", orderID), zap.String("reason", reason))
	s.releaseStock(ctx, order)
	s.publish(ctx, events.OrderCancelled, order, reason)
	return order, nil
}

func (s *orderServiceImpl) releaseStock(ctx context.Context, order *domain.Order) {
	if len(order.Items) == 0 {
		items, err := s.orders.GetOrderItemsByOrderID(ctx, order.ID)
		if err != nil {
			logger.Error("CRITICAL: cannot load items to release stock", err, zap.String("order_id", order.ID))
			return
		}
		order.Items = items
	}
	if err := s.products.ReleaseStock(ctx, order.StockItems()); err != nil {
		logger.Error("CRITICAL: failed to release stock", err, zap.String("order_id", order.ID))
	}
}

func (s *orderServiceImpl) UpdatePaymentStatusFromWebhook(ctx context.Context, update *pay.WebhookUpdate) (*domain.Order, error) {
	order, err := s.orders.GetOrderByTransactionID(ctx, update.PaymentID)
	if err != nil {
		return nil, mapTransactionErr(err, update.PaymentID)
	}

	if order.PaymentStatus == pay.PaymentCompleted && update.Status == pay.PaymentRefunded {
		return s.markRefunded(ctx, order.ID, "", nil)
	}
	if order.PaymentStatus.IsTerminal() {
		logger.Info("webhook ignored, payment already settled",
			zap.String("order_id", order.ID),
			zap.String("event_type", update.EventType),
			zap.String("payment_status", string(order.PaymentStatus)))
		return order, nil
	}

	switch update.Status {
	case pay.PaymentCompleted:
		return s.ConfirmFromWebhook(ctx, update.PaymentID, update.EventType)
	case pay.PaymentFailed, pay.PaymentCancelled:
		return s.failOrder(ctx, order.ID, update.Status, "webhook: "+update.EventType)
	case pay.PaymentProcessing:
		return s.markProcessing(ctx, order.ID)
	case pay.PaymentRefunded:
		logger.Warn("refund webhook for an unpaid order ignored", zap.String("order_id", order.ID))
	}
	return order, nil
}

func (s *orderServiceImpl) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	release, cancelled := false, false
	order, err := s.orders.TransitionOrder(ctx, orderID, func(o *domain.Order) (bool, error) {
		switch o.Status {
		case domain.StatusDelivered:
			return false, notEligible("delivered orders cannot be cancelled")
		case domain.StatusRefunded:
			return false, notEligible("refunded orders cannot be cancelled")
		case domain.StatusCancelled:
			return false, nil
		}
		if o.PaymentStatus.IsTerminal() {
			// Sudah dibayar: stok tidak dikembalikan, dana harus di-refund manual
			o.PaymentDetails.ManualRefundRequired = true
		} else {
			o.PaymentStatus = pay.PaymentCancelled
			release = true
		}
		o.Status = domain.StatusCancelled
		cancelled = true
		return true, nil
	})
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	if release {
		s.releaseStock(ctx, order)
	}
	if cancelled {
		if order.PaymentDetails.ManualRefundRequired {
			logger.Warn("paid order cancelled, manual refund required", zap.String("order_id", order.ID))
		}
		s.publish(ctx, events.OrderCancelled, order, "cancelled")
	}
	return order, nil
}

func (s *orderServiceImpl) RetryPayment(ctx context.Context, orderID string, data pay.MethodData) (*domain.ConfirmResult, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	if !order.CanRetryPayment() {
		return nil, notEligible(fmt.Sprintf("order %s is not eligible for payment retry", order.OrderNumber))
	}
	if order.Status == domain.StatusCancelled {
		if err := s.reopen(ctx, order); err != nil {
			return nil, err
		}
	}
	return s.ConfirmPayment(ctx, order.ID, data)
}

// reopen reserves the stock again before a cancelled order goes back to PENDING.
func (s *orderServiceImpl) reopen(ctx context.Context, order *domain.Order) error {
	lines := order.StockItems()
	if err := s.products.ReserveStock(ctx, lines); err != nil {
		return err
	}

	reopened := false
	_, err := s.orders.TransitionOrder(ctx, order.ID, func(o *domain.Order) (bool, error) {
		if o.Status != domain.StatusCancelled || o.PaymentStatus.IsTerminal() {
			return false, nil
		}
		o.Status = domain.StatusPending
		o.PaymentStatus = pay.PaymentPending
		o.PaymentDetails.FailureReason = ""
		reopened = true
		return true, nil
	})
	if err != nil || !reopened {
		// Retry lain sudah membuka order ini, kembalikan reservasi kita
		if relErr := s.products.ReleaseStock(ctx, lines); relErr != nil {
			logger.Error("CRITICAL: failed to release retry reservation", relErr, zap.String("order_id", order.ID))
		}
		if err != nil {
			return mapOrderErr(err, order.ID)
		}
	}
	return nil
}

func (s *orderServiceImpl) GetPaymentStatus(ctx context.Context, orderID string, refresh bool) (*domain.PaymentStatusView, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	view := &domain.PaymentStatusView{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		Gateway:        order.PaymentDetails.Gateway,
		TransactionID:  order.TransactionID,
		CheckoutURL:    order.PaymentDetails.CheckoutURL,
		CanRetry:       order.CanRetryPayment(),
		RequiresAction: order.AwaitingPayment(),
	}
	if refresh && order.TransactionID != "" {
		status, err := s.payments.GetPaymentStatus(ctx, order.PaymentDetails.Gateway, order.TransactionID)
		if err != nil {
			logger.Warn("gateway status poll failed", zap.String("order_id", order.ID), zap.Error(err))
		} else {
			view.GatewayStatus = status
		}
	}
	return view, nil
}

func (s *orderServiceImpl) RefundOrder(ctx context.Context, orderID string, amount *decimal.Decimal) (*domain.RefundResult, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	if order.PaymentStatus != pay.PaymentCompleted {
		return nil, notEligible("only completed payments can be refunded")
	}
	remaining := order.Total.Sub(order.PaymentDetails.Refunded())
	if amount != nil && (!amount.IsPositive() || amount.GreaterThan(remaining)) {
		return nil, apperr.New(apperr.KindValidation,
			fmt.Sprintf("refund amount must be positive and not exceed the refundable balance of %s", remaining.StringFixed(2)))
	}

	res, err := s.payments.RefundPayment(ctx, order.PaymentDetails.Gateway, order.TransactionID, amount)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "payment gateway is not available")
	}
	if !res.Success {
		logger.Warn("refund rejected", zap.String("order_id", order.ID), zap.String("reason", res.Error))
		return nil, apperr.New(apperr.KindValidation, res.Error).WithCode(CodeRefundFailed)
	}

	refunded, err := s.markRefunded(ctx, order.ID, res.TransactionRef, amount)
	if err != nil {
		return nil, err
	}
	return &domain.RefundResult{Order: refunded, Refund: res}, nil
}

// markRefunded adds amount to what was already refunded; nil refunds the whole balance. The
// order becomes REFUNDED once the refunded total reaches the order total.
func (s *orderServiceImpl) markRefunded(ctx context.Context, orderID, ref string, amount *decimal.Decimal) (*domain.Order, error) {
	first := false
	order, err := s.orders.TransitionOrder(ctx, orderID, func(o *domain.Order) (bool, error) {
		if o.PaymentStatus != pay.PaymentCompleted {
			return false, nil
		}
		now := s.now().UTC()
		o.PaymentDetails.RefundedAt = &now
		if ref != "" {
			o.PaymentDetails.RefundRef = ref
		}
		total := o.Total
		if amount != nil {
			total = decimal.Min(o.PaymentDetails.Refunded().Add(*amount), o.Total)
		}
		o.PaymentDetails.RefundedAmount = &total
		if total.GreaterThanOrEqual(o.Total) {
			o.Status = domain.StatusRefunded
			o.PaymentStatus = pay.PaymentRefunded
			first = true
		}
		return true, nil
	})
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	if first {
		logger.Info("order refunded", zap.String("order_id", order.ID))
		s.publish(ctx, events.OrderRefunded, order, "")
	}
	return order, nil
}

func (s *orderServiceImpl) ProcessPaymentTimeouts(ctx context.Context) {
	orders, err := s.orders.GetPendingOrdersOlderThan(ctx, s.cfg.PaymentTimeout)
	if err != nil {
		logger.Error("ProcessPaymentTimeouts: failed to get pending orders", err)
		return
	}
	if len(orders) == 0 {
		return
	}

	logger.Info("ProcessPaymentTimeouts: checking unpaid orders", zap.Int("count", len(orders)))
	for _, o := range orders {
		s.expireOrSettle(ctx, o)
	}
}

// expireOrSettle asks the processor before expiring, so a payment whose webhook never arrived
// is settled instead of cancelled.
func (s *orderServiceImpl) expireOrSettle(ctx context.Context, o domain.Order) {
	status := pay.PaymentPending
	if o.TransactionID != "" {
		polled, err := s.payments.GetPaymentStatus(ctx, o.PaymentDetails.Gateway, o.TransactionID)
		if err != nil {
			logger.Warn("ProcessPaymentTimeouts: gateway status unavailable, expiring",
				zap.String("order_id", o.ID), zap.Error(err))
		} else {
			status = polled
		}
	}

	switch status {
	case pay.PaymentCompleted:
		if _, err := s.markPaid(ctx, o.ID, domain.ConfirmedViaPoll, "", nil); err != nil {
			logger.Error("ProcessPaymentTimeouts: failed to settle paid order", err, zap.String("order_id", o.ID))
		}
	case pay.PaymentProcessing:
		logger.Info("ProcessPaymentTimeouts: payment still processing, order kept", zap.String("order_id", o.ID))
	default:
		if _, err := s.failOrder(ctx, o.ID, pay.PaymentFailed, "payment timeout"); err != nil {
			logger.Error("ProcessPaymentTimeouts: failed to expire order", err, zap.String("order_id", o.ID))
		}
	}
}

func (s *orderServiceImpl) sendConfirmation(ctx context.Context, order *domain.Order) {
	if order.CustomerEmail == "" {
		return
	}
	subject := fmt.Sprintf("Order %s confirmed", order.OrderNumber)
	if err := s.mailer.SendEmail(ctx, order.CustomerEmail, subject, confirmationHTML(order)); err != nil {
		// Email gagal tidak boleh menggagalkan konfirmasi
		logger.Error("confirmation email failed", err, zap.String("order_id", order.ID))
	}
}

func confirmationHTML(order *domain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>Thank you for your order</h1><p>Order <strong>%s</strong> has been paid.</p><ul>",
		html.EscapeString(order.OrderNumber))
	for _, it := range order.Items {
		fmt.Fprintf(&b, "<li>%s x %d: %s %s</li>",
			html.EscapeString(it.ProductName), it.Quantity, it.LineTotal.StringFixed(2), html.EscapeString(order.Currency))
	}
	fmt.Fprintf(&b, "</ul><p>Total: %s %s</p>", order.Total.StringFixed(2), html.EscapeString(order.Currency))
	return b.String()
}

func (s *orderServiceImpl) publish(ctx context.Context, typ events.EventType, order *domain.Order, reason string) {
	evt := events.OrderEvent{
		Type:          typ,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Total:         order.Total.StringFixed(2),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Gateway:       order.PaymentDetails.Gateway,
		Reason:        reason,
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		logger.Warn("order event not published", zap.String("type", string(typ)), zap.String("order_id", order.ID), zap.Error(err))
	}
}
