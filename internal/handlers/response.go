package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zypocare/core-backend/internal/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError maps a service error onto the wire. Governance errors carry
// their machine code so operators can tell "not a draft" from "self approval"
// without parsing messages.
func RespondError(c *gin.Context, err error) {
	ae := apierr.From(err)
	msg := "unknown error"
	if ae != nil && ae.Error() != "" {
		msg = ae.Error()
	}
	status := http.StatusInternalServerError
	code := apierr.CodeInternal
	if ae != nil {
		if ae.Status != 0 {
			status = ae.Status
		}
		if ae.Code != "" {
			code = ae.Code
		}
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorEnvelope{Error: APIError{Message: message, Code: apierr.CodeInvalidArgument}})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
