package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	oDomain "github.com/ridloal/vg-checkout/internal/order/domain"
	oService "github.com/ridloal/vg-checkout/internal/order/service"
	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/payment/service"
	"github.com/ridloal/vg-checkout/internal/platform/apperr"
	"github.com/ridloal/vg-checkout/internal/platform/httpresp"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
)

type PaymentHandler struct {
	payments service.PaymentService
	orders   oService.OrderService
}

func NewPaymentHandler(ps service.PaymentService, os oService.OrderService) *PaymentHandler {
	return &PaymentHandler{payments: ps, orders: os}
}

func (h *PaymentHandler) RegisterRoutes(router *gin.RouterGroup) {
	paymentRoutes := router.Group("/payment")
	{
		paymentRoutes.POST("/webhook/:gateway", h.Webhook)
		paymentRoutes.POST("/refund/:orderId", h.Refund)
	}
}

type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Webhook verifies the raw body, then hands the derived status to the order state machine.
// A 5xx asks the processor to redeliver, so the dedupe marker is cleared first.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	ctx := c.Request.Context()
	gatewayName := c.Param("gateway")

	payload, err := c.GetRawData()
	if err != nil {
		httpresp.BadRequest(c, "cannot read webhook body")
		return
	}
	headers := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	update, err := h.payments.HandleWebhook(ctx, gatewayName, payload, headers)
	switch {
	case errors.Is(err, domain.ErrUnsupportedGateway):
		httpresp.ErrorWithStatus(c, http.StatusNotFound, apperr.Wrap(apperr.KindNotFound, err, "unknown payment gateway"))
		return
	case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrMalformedWebhook):
		httpresp.ErrorWithStatus(c, http.StatusBadRequest, apperr.Wrap(apperr.KindValidation, err, err.Error()))
		return
	case err != nil:
		httpresp.ErrorWithStatus(c, http.StatusInternalServerError, err)
		return
	}

	if update.Duplicate {
		httpresp.OK(c, webhookAck{Received: true, Duplicate: true})
		return
	}

	if _, err := h.orders.UpdatePaymentStatusFromWebhook(ctx, update); err != nil {
		if apperr.KindOf(err) == apperr.KindIntegrity {
			// Transaksi tidak dikenal: redelivery tidak akan menolong
			logger.Warn("webhook for unknown transaction dropped",
				zap.String("gateway", gatewayName),
				zap.String("payment_id", update.PaymentID),
				zap.String("event_id", update.EventID))
			httpresp.OK(c, webhookAck{Received: true})
			return
		}
		h.payments.ForgetWebhook(ctx, update)
		httpresp.ErrorWithStatus(c, http.StatusInternalServerError, err)
		return
	}
	httpresp.OK(c, webhookAck{Received: true})
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	var req oDomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httpresp.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	res, err := h.orders.RefundOrder(c.Request.Context(), c.Param("orderId"), req.Amount)
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, res)
}
