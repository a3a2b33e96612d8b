package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/order/domain"
	"github.com/ridloal/vg-checkout/internal/order/service/mocks"
	pay "github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/platform/apperr"
)

func setupRouter(os *mocks.MockOrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewOrderHandler(os).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOrderHandler_Purchase(t *testing.T) {
	t.Run("Missing shipping info fails binding", func(t *testing.T) {
		os := new(mocks.MockOrderService)
		w := do(setupRouter(os), http.MethodPost, "/api/v1/orders/purchase",
			`{"items":[{"productId":"prod1","quantity":1}],"paymentMethod":{"type":"card"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		os.AssertNotCalled(t, "ProcessPurchase", mock.Anything, mock.Anything)
	})

	t.Run("Purchase result", func(t *testing.T) {
		os := new(mocks.MockOrderService)
		os.On("ProcessPurchase", mock.Anything, mock.AnythingOfType("domain.PurchaseRequest")).
			Return(&domain.PurchaseResult{Success: true, Order: &domain.Order{ID: "order-1"}, RequiresAction: true}, nil).Once()

		w := do(setupRouter(os), http.MethodPost, "/api/v1/orders/purchase",
			`{"items":[{"productId":"prod1","quantity":1}],"shippingInfo":{"email":"buyer@example.com","firstName":"Ana"},"paymentMethod":{"type":"crypto"}}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"requiresAction":true`)
		os.AssertExpectations(t)
	})

	t.Run("Declined card at purchase is a 400 with the order", func(t *testing.T) {
		os := new(mocks.MockOrderService)
		os.On("ProcessPurchase", mock.Anything, mock.Anything).
			Return(&domain.PurchaseResult{
				Success: false,
				Order:   &domain.Order{ID: "order-1", Status: domain.StatusCancelled, PaymentStatus: pay.PaymentFailed},
				Error:   "payment declined: insufficient_funds",
			}, nil).Once()

		w := do(setupRouter(os), http.MethodPost, "/api/v1/orders/purchase",
			`{"items":[{"productId":"prod1","quantity":1}],"shippingInfo":{"email":"buyer@example.com","firstName":"Ana"},"paymentMethod":{"type":"card","data":{"token":"tok_declined"}}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "PAYMENT_FAILED")
		assert.Contains(t, w.Body.String(), "insufficient_funds")
		assert.Contains(t, w.Body.String(), `"order-1"`)
		os.AssertExpectations(t)
	})

	t.Run("Insufficient stock is a 400", func(t *testing.T) {
		os := new(mocks.MockOrderService)
		os.On("ProcessPurchase", mock.Anything, mock.Anything).
			Return(nil, apperr.New(apperr.KindValidation, "Insufficient stock for Steam Card").WithCode("INSUFFICIENT_STOCK")).Once()

		w := do(setupRouter(os), http.MethodPost, "/api/v1/orders/purchase",
			`{"items":[{"productId":"prod1","quantity":9}],"shippingInfo":{"email":"buyer@example.com","firstName":"Ana"},"paymentMethod":{"type":"card"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INSUFFICIENT_STOCK")
	})
}

func TestOrderHandler_ConfirmPayment(t *testing.T) {
	t.Run("Declined payment is a 400 with the order", func(t *testing.T) {
		os := new(mocks.MockOrderService)
		os.On("ConfirmPayment", mock.Anything, "order-1", pay.MethodData{Token: "tok_declined"}).
			Return(&domain.ConfirmResult{Success: false, Order: &domain.Order{ID: "order-1", Status: domain.StatusCancelled}, Error: "card declined"}, nil).Once()

		w := do(setupRouter(os), http.MethodPost, "/api/v1/orders/order-1/confirm-payment", `{"paymentMethodData":{"token":"tok_declined"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "PAYMENT_FAILED")
		assert.Contains(t, w.Body.String(), "CANCELLED")
	})

	t.Run("Pending customer action is a 200", func(t *testing.T) {
		os := new(mocks.MockOrderService)
		os.On("ConfirmPayment", mock.Anything, "order-1", pay.MethodData{}).
			Return(&domain.ConfirmResult{Success: false, RequiresAction: true}, nil).Once()

		w := do(setupRouter(os), http.MethodPost, "/api/v1/orders/order-1/confirm-payment", "")
		assert.Equal(t, http.StatusOK, w.Code)
		os.AssertExpectations(t)
	})
}

func TestOrderHandler_PaymentStatus(t *testing.T) {
	os := new(mocks.MockOrderService)
	os.On("GetPaymentStatus", mock.Anything, "order-1", true).
		Return(&domain.PaymentStatusView{OrderID: "order-1", GatewayStatus: pay.PaymentCompleted}, nil).Once()
	os.On("GetOrder", mock.Anything, "missing").
		Return(nil, apperr.New(apperr.KindNotFound, "order missing not found")).Once()

	r := setupRouter(os)
	w := do(r, http.MethodGet, "/api/v1/orders/order-1/payment-status?refresh=true", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/v1/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	os.AssertExpectations(t)
}
