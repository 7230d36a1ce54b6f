package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
)

// Response codes carried in the envelope. 0 is success.
const (
	CodeOK         = 0
	CodeValidation = 1001
	CodeDuplicate  = 1002
	CodeConflict   = 1003
	CodeNotFound   = 1004
	CodeInternal   = 1500
)

const requestIDKey = "request_id"

// Response is the envelope every JSON endpoint returns.
type Response struct {
	RequestID string `json:"request_id"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Data      any    `json:"data"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{
		RequestID: c.GetString(requestIDKey),
		Code:      CodeOK,
		Message:   "ok",
		Data:      data,
	})
}

// fail maps err onto an HTTP status and envelope code.
func fail(c *gin.Context, err error) {
	status, code := classify(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Response{
		RequestID: c.GetString(requestIDKey),
		Code:      code,
		Message:   err.Error(),
		Retryable: ledger.IsRetryable(err),
	})
}

func classify(err error) (int, int) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, ledger.ErrDuplicateTrade):
		return http.StatusConflict, CodeDuplicate
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, journal.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
