// README: Response envelope and the single error-to-status mapping.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/driver"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/order"
	"carpool/internal/modules/review"
)

// Envelope is the uniform response body: code mirrors the HTTP status, data
// carries the payload, message is human-readable.
type Envelope struct {
	Code    int    `json:"code"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: http.StatusOK, Data: data, Message: "success"})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Envelope{Code: http.StatusCreated, Data: data, Message: "success"})
}

// Fail maps a service error to a status. Unknown errors become a plain 500
// so internals never leak to the client.
func Fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.Is(err, order.ErrBadRequest), errors.Is(err, review.ErrBadRequest):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrForbidden), errors.Is(err, review.ErrForbidden):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, review.ErrNotFound),
		errors.Is(err, notification.ErrNotFound),
		errors.Is(err, driver.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrNoSeats),
		errors.Is(err, order.ErrActiveOrder),
		errors.Is(err, review.ErrDuplicate),
		errors.Is(err, review.ErrNotRatable):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, order.ErrRefundFailed):
		status, message = http.StatusBadGateway, err.Error()
	}
	c.JSON(status, Envelope{Code: status, Data: nil, Message: message})
}
