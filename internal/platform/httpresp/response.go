// Package httpresp renders the JSON envelope shared by every handler.
package httpresp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/platform/apperr"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
	"github.com/ridloal/vg-checkout/internal/platform/middleware"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data, RequestID: middleware.GetRequestID(c)})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data, RequestID: middleware.GetRequestID(c)})
}

// Error maps err through apperr. Internal errors are logged here and rendered generically.
func Error(c *gin.Context, err error) {
	ErrorWithStatus(c, apperr.HTTPStatus(err), err)
}

func ErrorWithStatus(c *gin.Context, status int, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		logger.Error("request failed", err,
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.GetRequestID(c)))
	}
	c.AbortWithStatusJSON(status, Envelope{
		Success:   false,
		Error:     &ErrorBody{Code: apperr.PublicCode(err), Message: apperr.PublicMessage(err)},
		RequestID: middleware.GetRequestID(c),
	})
}

// BadRequest is for binding failures, which never go through a service.
func BadRequest(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusBadRequest, apperr.New(apperr.KindValidation, message))
}

// Fail is an unsuccessful response that still carries data, e.g. a declined payment with its order.
func Fail(c *gin.Context, status int, code, message string, data interface{}) {
	c.AbortWithStatusJSON(status, Envelope{
		Success:   false,
		Data:      data,
		Error:     &ErrorBody{Code: code, Message: message},
		RequestID: middleware.GetRequestID(c),
	})
}
