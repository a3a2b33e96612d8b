package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ridloal/vg-checkout/internal/cart/domain"
	"github.com/ridloal/vg-checkout/internal/cart/service"
	"github.com/ridloal/vg-checkout/internal/platform/httpresp"
)

type CartHandler struct {
	cartService service.CartService
}

func NewCartHandler(cs service.CartService) *CartHandler {
	return &CartHandler{cartService: cs}
}

func (h *CartHandler) RegisterRoutes(router *gin.RouterGroup) {
	cartRoutes := router.Group("/carts")
	{
		cartRoutes.POST("", h.CreateCart)
		cartRoutes.GET("/:id", h.GetCart)
		cartRoutes.DELETE("/:id", h.ClearCart)
		cartRoutes.POST("/:id/items", h.AddItem)
		cartRoutes.PUT("/:id/items/:productId", h.UpdateItem)
		cartRoutes.DELETE("/:id/items/:productId", h.RemoveItem)
	}
}

func (h *CartHandler) CreateCart(c *gin.Context) {
	var req domain.CreateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpresp.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	cart, err := h.cartService.CreateCart(c.Request.Context(), req.UserID)
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.Created(c, cart)
}

func (h *CartHandler) GetCart(c *gin.Context) {
	cart, err := h.cartService.GetCart(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, cart)
}

func (h *CartHandler) AddItem(c *gin.Context) {
	var req domain.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpresp.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	cart, err := h.cartService.AddItem(c.Request.Context(), c.Param("id"), req.ProductID, req.Quantity)
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, cart)
}

func (h *CartHandler) UpdateItem(c *gin.Context) {
	var req domain.UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpresp.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	cart, err := h.cartService.UpdateItemQuantity(c.Request.Context(), c.Param("id"), c.Param("productId"), *req.Quantity)
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, cart)
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	cart, err := h.cartService.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("productId"))
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, cart)
}

func (h *CartHandler) ClearCart(c *gin.Context) {
	if err := h.cartService.ClearCart(c.Request.Context(), c.Param("id")); err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, gin.H{"cleared": true})
}
