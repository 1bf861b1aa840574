package httppresentation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Article   string `json:"article,omitempty"`
	Available *int   `json:"available,omitempty"`
	Status    string `json:"status,omitempty"`
	Event     string `json:"event,omitempty"`
	Expected  string `json:"expected_total,omitempty"`
	Inclusive string `json:"tax_inclusive_total,omitempty"`
	Exclusive string `json:"tax_exclusive_total,omitempty"`
}

// classify maps an error onto a status code and body. Unknown errors keep
// their detail out of the response.
func classify(err error) (int, errorBody) {
	var (
		validation   *apporder.ValidationError
		insufficient *dominv.InsufficientStockError
		invalid      *domorder.InvalidTransitionError
		ambiguous    *money.AmbiguousPricingError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errorBody{Error: "validation_failed", Message: validation.Reason, Field: validation.Field}
	case errors.As(err, &ambiguous):
		return http.StatusBadRequest, errorBody{
			Error:     "ambiguous_pricing",
			Message:   "expected total matches neither tax convention",
			Expected:  ambiguous.Expected.StringFixed(money.MinorUnits),
			Inclusive: ambiguous.Inclusive.StringFixed(money.MinorUnits),
			Exclusive: ambiguous.Exclusive.StringFixed(money.MinorUnits),
		}
	case errors.As(err, &insufficient):
		available := insufficient.Available
		return http.StatusConflict, errorBody{Error: "insufficient_stock", Message: "not enough stock", Article: insufficient.ArticleRef, Available: &available}
	case errors.As(err, &invalid):
		return http.StatusConflict, errorBody{Error: "invalid_transition", Message: "transition not allowed", Status: string(invalid.From), Event: string(invalid.Event)}
	case errors.Is(err, domorder.ErrNotFound), errors.Is(err, dominv.ErrNotFound), errors.Is(err, dompay.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: "resource not found"}
	case errors.Is(err, domorder.ErrConflict):
		return http.StatusConflict, errorBody{Error: "conflict", Message: "concurrent modification, retry"}
	case errors.Is(err, dompay.ErrDisabled), errors.Is(err, dompay.ErrUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: "payment_unavailable", Message: "payment provider unavailable"}
	case errors.Is(err, dompay.ErrDeclined):
		return http.StatusPaymentRequired, errorBody{Error: "payment_declined", Message: "payment declined"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal server error"}
	}
}

func writeError(c *gin.Context, err error) {
	status, body := classify(err)
	logger := logctx.FromOr(c.Request.Context(), observability.NopLogger())
	if status >= http.StatusInternalServerError {
		logger.Error("http_request_failed", observability.F("error", err.Error()), observability.F("status", status))
	} else {
		logger.Warn("http_request_rejected", observability.F("error", err.Error()), observability.F("status", status))
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "malformed_request", Message: err.Error()})
}
