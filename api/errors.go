package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/gin-gonic/gin"
)

var statusByCode = map[domain.ErrorCode]int{
	domain.CodeBadRequest:    http.StatusBadRequest,
	domain.CodeForbidden:     http.StatusForbidden,
	domain.CodeNotFound:      http.StatusNotFound,
	domain.CodeInvalidState:  http.StatusConflict,
	domain.CodeOTPInvalid:    http.StatusUnprocessableEntity,
	domain.CodePaymentFailed: http.StatusPaymentRequired,
}

// writeError renders err as {"error", "code"}. Unclassified errors are
// reported as SYSTEM without leaking their text.
func writeError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": domain.CodeSystem})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func isPaymentPending(err error) bool {
	return errors.Is(err, domain.ErrPaymentPending)
}
