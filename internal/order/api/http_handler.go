package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ridloal/vg-checkout/internal/order/domain"
	"github.com/ridloal/vg-checkout/internal/order/service"
	"github.com/ridloal/vg-checkout/internal/platform/httpresp"
)

type OrderHandler struct {
	orderService service.OrderService
}

func NewOrderHandler(os service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: os}
}

func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	orderRoutes := router.Group("/orders")
	{
		orderRoutes.POST("/purchase", h.Purchase)
		orderRoutes.GET("/:id", h.GetOrder)
		orderRoutes.POST("/:id/confirm-payment", h.ConfirmPayment)
		orderRoutes.POST("/:id/retry-payment", h.RetryPayment)
		orderRoutes.POST("/:id/cancel", h.Cancel)
		orderRoutes.GET("/:id/payment-status", h.PaymentStatus)
	}
}

func (h *OrderHandler) Purchase(c *gin.Context) {
	var req domain.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpresp.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	resp, err := h.orderService.ProcessPurchase(c.Request.Context(), req)
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	if !resp.Success {
		httpresp.Fail(c, http.StatusBadRequest, service.CodePaymentFailed, resp.Error, resp)
		return
	}
	httpresp.OK(c, resp)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, order)
}

func bindConfirm(c *gin.Context) (domain.ConfirmPaymentRequest, bool) {
	var req domain.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httpresp.BadRequest(c, "Invalid request payload: "+err.Error())
		return req, false
	}
	return req, true
}

// writeConfirm: 200 bila dibayar atau masih menunggu customer, 400 bila gagal.
func writeConfirm(c *gin.Context, res *domain.ConfirmResult) {
	if res.Success || res.RequiresAction {
		httpresp.OK(c, res)
		return
	}
	httpresp.Fail(c, http.StatusBadRequest, service.CodePaymentFailed, res.Error, res)
}

func (h *OrderHandler) ConfirmPayment(c *gin.Context) {
	req, ok := bindConfirm(c)
	if !ok {
		return
	}
	res, err := h.orderService.ConfirmPayment(c.Request.Context(), c.Param("id"), req.PaymentMethodData)
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	writeConfirm(c, res)
}

func (h *OrderHandler) RetryPayment(c *gin.Context) {
	req, ok := bindConfirm(c)
	if !ok {
		return
	}
	res, err := h.orderService.RetryPayment(c.Request.Context(), c.Param("id"), req.PaymentMethodData)
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	writeConfirm(c, res)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	order, err := h.orderService.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, order)
}

func (h *OrderHandler) PaymentStatus(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	view, err := h.orderService.GetPaymentStatus(c.Request.Context(), c.Param("id"), refresh)
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, view)
}
