package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	contactdomain "github.com/smallbiznis/phage/internal/contact/domain"
)

func (s *Server) SubmitContact(c *gin.Context) {
	var req contactdomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.contactsvc.Submit(c.Request.Context(), req)
	if err != nil {
		if _, isValidation := lookupValidationError(err); !isValidation && !isNotConfiguredError(err) {
			err = &upstreamError{name: "email", err: err}
		}
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}
