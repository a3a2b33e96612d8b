package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ridloal/vg-checkout/internal/platform/httpresp"
	"github.com/ridloal/vg-checkout/internal/product/service"
)

type ProductHandler struct {
	productService service.ProductService
}

func NewProductHandler(ps service.ProductService) *ProductHandler {
	return &ProductHandler{productService: ps}
}

func (h *ProductHandler) RegisterRoutes(router *gin.RouterGroup) {
	productRoutes := router.Group("/products")
	{
		productRoutes.GET("", h.ListProducts)
		productRoutes.GET("/:id", h.GetProduct)
	}
}

func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.productService.ListProducts(c.Request.Context())
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, products)
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	product, err := h.productService.GetProductDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpresp.Error(c, err)
		return
	}
	httpresp.OK(c, product)
}
