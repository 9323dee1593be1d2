package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	"github.com/smallbiznis/phage/internal/compute"
	contactdomain "github.com/smallbiznis/phage/internal/contact/domain"
	creditdomain "github.com/smallbiznis/phage/internal/credit/domain"
	"github.com/smallbiznis/phage/internal/currency"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/phage/internal/payment/domain"
	"github.com/smallbiznis/phage/internal/providers/email"
	"github.com/smallbiznis/phage/internal/receipt"
	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"github.com/smallbiznis/phage/internal/storage"
	"github.com/smallbiznis/phage/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// upstream is implemented by errors that originate from a third-party API.
type upstream interface {
	Upstream() string
}

// upstreamError tags a failure from a dependency whose errors are untyped.
type upstreamError struct {
	name string
	err  error
}

func (e *upstreamError) Error() string    { return e.err.Error() }
func (e *upstreamError) Unwrap() error    { return e.err }
func (e *upstreamError) Upstream() string { return e.name }

type fieldError struct {
	err   error
	field string
	code  string
}

// validationErrors lists domain errors that describe bad input. The error
// text is surfaced to the client as the message.
var validationErrors = []fieldError{
	{ErrInvalidRequest, "request", "invalid_request"},
	{pagination.ErrInvalidPageToken, "page_token", "invalid_page_token"},
	{authdomain.ErrInvalidEmail, "email", "invalid_email"},
	{authdomain.ErrWeakPassword, "password", "weak_password"},
	{simdomain.ErrInvalidName, "name", "invalid_name"},
	{simdomain.ErrInvalidParameters, "parameters", "invalid_parameters"},
	{simdomain.ErrProteinRequired, "protein", "required"},
	{simdomain.ErrInvalidProtein, "protein", "invalid_file"},
	{simdomain.ErrInvalidLigand, "ligand", "invalid_file"},
	{simdomain.ErrFileTooLarge, "file", "too_large"},
	{compute.ErrEmptyProtein, "protein", "required"},
	{creditdomain.ErrInvalidAmount, "credits", "invalid_amount"},
	{paymentdomain.ErrInvalidCredits, "credits", "invalid_credits"},
	{paymentdomain.ErrInvalidPayload, "payload", "invalid_payload"},
	{paymentdomain.ErrInvalidEvent, "payload", "invalid_event"},
	{paymentdomain.ErrInvalidProvider, "provider", "invalid_provider"},
	{currency.ErrInvalidCredits, "credits", "invalid_credits"},
	{currency.ErrUnsupportedCurrency, "currency", "unsupported_currency"},
	{contactdomain.ErrInvalidEmail, "email", "invalid_email"},
	{contactdomain.ErrMissingField, "request", "required"},
	{contactdomain.ErrFieldTooLong, "request", "too_long"},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if fe, ok := lookupValidationError(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: fe.err.Error(),
			Errors: []ValidationError{
				{
					Field:   fe.field,
					Code:    fe.code,
					Message: fe.err.Error(),
				},
			},
		}
	}

	var up upstream
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrInvalidSession),
		errors.Is(err, authdomain.ErrSessionNotFound),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked):
		message := "unauthorized"
		if errors.Is(err, authdomain.ErrInvalidCredentials) {
			message = err.Error()
		}
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: message,
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "invalid_signature",
			Message: "invalid webhook signature",
		}
	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "Insufficient credits",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, storage.ErrURLExpired),
		errors.Is(err, storage.ErrInvalidSignature):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, authdomain.ErrUserExists),
		errors.Is(err, simdomain.ErrJobNotSubmitted),
		errors.Is(err, simdomain.ErrResultsNotReady):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests, please try again later",
		}
	case isNotConfiguredError(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: err.Error(),
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.As(err, &up):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same taxonomy clients see.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 && payload.Errors[0].Code != "" {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func lookupValidationError(err error) (fieldError, bool) {
	for _, fe := range validationErrors {
		if errors.Is(err, fe.err) {
			return fe, true
		}
	}
	return fieldError{}, false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, authdomain.ErrUserNotFound),
		errors.Is(err, creditdomain.ErrUserNotFound),
		errors.Is(err, paymentdomain.ErrUserNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, simdomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrTransactionMissing),
		errors.Is(err, receipt.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isNotConfiguredError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrNotConfigured),
		errors.Is(err, compute.ErrNotConfigured),
		errors.Is(err, contactdomain.ErrNotConfigured),
		errors.Is(err, email.ErrNotConfigured),
		errors.Is(err, email.ErrBrevoAPIKeyMissing):
		return true
	default:
		return false
	}
}
