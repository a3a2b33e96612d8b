package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	oDomain "github.com/ridloal/vg-checkout/internal/order/domain"
	oRepo "github.com/ridloal/vg-checkout/internal/order/repository"
	oMocks "github.com/ridloal/vg-checkout/internal/order/service/mocks"
	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/payment/service/mocks"
	"github.com/ridloal/vg-checkout/internal/platform/apperr"
	"github.com/ridloal/vg-checkout/internal/platform/httpresp"
)

func setupRouter(ps *mocks.MockPaymentService, os *oMocks.MockOrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewPaymentHandler(ps, os).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func postWebhook(r *gin.Engine, gateway string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/webhook/"+gateway, bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPaymentHandler_Webhook(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	update := &domain.WebhookUpdate{Gateway: domain.GatewayStripe, EventID: "evt_1", PaymentID: "pi_1", Status: domain.PaymentCompleted}
	headers := map[string]string{"Stripe-Signature": "t=1,v1=abc"}

	t.Run("Verified event is applied", func(t *testing.T) {
		ps, os := new(mocks.MockPaymentService), new(oMocks.MockOrderService)
		ps.On("HandleWebhook", mock.Anything, domain.GatewayStripe, body, headers).Return(update, nil).Once()
		os.On("UpdatePaymentStatusFromWebhook", mock.Anything, update).Return(&oDomain.Order{ID: "order-1"}, nil).Once()

		w := postWebhook(setupRouter(ps, os), domain.GatewayStripe, body)
		assert.Equal(t, http.StatusOK, w.Code)
		ps.AssertExpectations(t)
		os.AssertExpectations(t)
	})

	t.Run("Bad signature", func(t *testing.T) {
		ps, os := new(mocks.MockPaymentService), new(oMocks.MockOrderService)
		ps.On("HandleWebhook", mock.Anything, domain.GatewayStripe, body, headers).Return(nil, domain.ErrInvalidSignature).Once()

		w := postWebhook(setupRouter(ps, os), domain.GatewayStripe, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		os.AssertNotCalled(t, "UpdatePaymentStatusFromWebhook", mock.Anything, mock.Anything)
	})

	t.Run("Unknown gateway", func(t *testing.T) {
		ps, os := new(mocks.MockPaymentService), new(oMocks.MockOrderService)
		ps.On("HandleWebhook", mock.Anything, "square", body, headers).Return(nil, domain.ErrUnsupportedGateway).Once()

		w := postWebhook(setupRouter(ps, os), "square", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Duplicate delivery is acknowledged without processing", func(t *testing.T) {
		ps, os := new(mocks.MockPaymentService), new(oMocks.MockOrderService)
		dup := *update
		dup.Duplicate = true
		ps.On("HandleWebhook", mock.Anything, domain.GatewayStripe, body, headers).Return(&dup, nil).Once()

		w := postWebhook(setupRouter(ps, os), domain.GatewayStripe, body)
		assert.Equal(t, http.StatusOK, w.Code)
		os.AssertNotCalled(t, "UpdatePaymentStatusFromWebhook", mock.Anything, mock.Anything)
	})

	t.Run("Unknown transaction is acknowledged", func(t *testing.T) {
		ps, os := new(mocks.MockPaymentService), new(oMocks.MockOrderService)
		ps.On("HandleWebhook", mock.Anything, domain.GatewayStripe, body, headers).Return(update, nil).Once()
		os.On("UpdatePaymentStatusFromWebhook", mock.Anything, update).
			Return(nil, apperr.Wrap(apperr.KindIntegrity, oRepo.ErrOrderNotFound, "no order for transaction pi_1")).Once()

		w := postWebhook(setupRouter(ps, os), domain.GatewayStripe, body)
		assert.Equal(t, http.StatusOK, w.Code)
		ps.AssertNotCalled(t, "ForgetWebhook", mock.Anything, mock.Anything)
	})

	t.Run("Processing failure clears the dedupe marker", func(t *testing.T) {
		ps, os := new(mocks.MockPaymentService), new(oMocks.MockOrderService)
		ps.On("HandleWebhook", mock.Anything, domain.GatewayStripe, body, headers).Return(update, nil).Once()
		os.On("UpdatePaymentStatusFromWebhook", mock.Anything, update).Return(nil, errors.New("db down")).Once()
		ps.On("ForgetWebhook", mock.Anything, update).Return().Once()

		w := postWebhook(setupRouter(ps, os), domain.GatewayStripe, body)
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var env httpresp.Envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		assert.False(t, env.Success)
		assert.NotContains(t, w.Body.String(), "db down")
		ps.AssertExpectations(t)
	})
}

func TestPaymentHandler_Refund(t *testing.T) {
	t.Run("Manual refund is a 400", func(t *testing.T) {
		ps, os := new(mocks.MockPaymentService), new(oMocks.MockOrderService)
		os.On("RefundOrder", mock.Anything, "order-1", mock.Anything).
			Return(nil, apperr.New(apperr.KindValidation, domain.ManualRefundMessage).WithCode("REFUND_FAILED")).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/refund/order-1", nil)
		w := httptest.NewRecorder()
		setupRouter(ps, os).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "REFUND_FAILED")
	})
}
