package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/phage/internal/currency"
)

func (s *Server) ListCurrencies(c *gin.Context) {
	respond(c, http.StatusOK, s.currencysvc.Rates(c.Request.Context()))
}

// QuoteCredits prices a credit amount in the requested currency, USD when
// none is given.
func (s *Server) QuoteCredits(c *gin.Context) {
	credits, err := parseOptionalFloat(c.Query("credits"))
	if err != nil || credits == nil {
		AbortWithError(c, currency.ErrInvalidCredits)
		return
	}

	quote, err := s.currencysvc.Quote(c.Request.Context(), *credits, c.Query("currency"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, quote)
}
