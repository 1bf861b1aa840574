package httppresentation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeOrders struct {
	submitIn  apporder.SubmitOrderInput
	submitRes *apporder.SubmitOrderResult
	submitErr error
	cancelIn  apporder.CancelOrderInput
	returnIn  apporder.AcceptReturnInput
	intentID  string
	order     *domorder.Order
	err       error
}

func (f *fakeOrders) SubmitOrder(_ context.Context, in apporder.SubmitOrderInput) (*apporder.SubmitOrderResult, error) {
	f.submitIn = in
	return f.submitRes, f.submitErr
}
func (f *fakeOrders) Get(context.Context, string) (*domorder.Order, error) { return f.order, f.err }
func (f *fakeOrders) HandlePaymentCallback(_ context.Context, intentID string) (*domorder.Order, error) {
	f.intentID = intentID
	return f.order, f.err
}
func (f *fakeOrders) CancelOrder(_ context.Context, in apporder.CancelOrderInput) (*domorder.Order, error) {
	f.cancelIn = in
	return f.order, f.err
}
func (f *fakeOrders) AcceptReturn(_ context.Context, in apporder.AcceptReturnInput) (*domorder.Order, error) {
	f.returnIn = in
	return f.order, f.err
}
func (f *fakeOrders) StartFulfillment(context.Context, string, string) (*domorder.Order, error) {
	return f.order, f.err
}
func (f *fakeOrders) MarkShipped(context.Context, string, string, string) (*domorder.Order, error) {
	return f.order, f.err
}
func (f *fakeOrders) ConfirmDelivery(context.Context, string, string) (*domorder.Order, error) {
	return f.order, f.err
}

type fakeStock map[string]*dominv.Entry

func (s fakeStock) Entry(_ context.Context, ref string) (*dominv.Entry, error) {
	if e, ok := s[ref]; ok {
		return e, nil
	}
	return nil, dominv.ErrNotFound
}

func (s fakeStock) HeldFor(context.Context, string) (map[string]int, error) {
	held := map[string]int{}
	for ref, e := range s {
		if e.Reserved > 0 {
			held[ref] = e.Reserved
		}
	}
	return held, nil
}

func sampleOrder(t *testing.T) *domorder.Order {
	t.Helper()
	line, err := domorder.NewLine("SOAP-1", domorder.Snapshot{Name: "Soap"}, 2, decimal.RequireFromString("9.99"))
	require.NoError(t, err)
	addr := domorder.Address{Name: "Ada", Street: "Main 1", PostalCode: "10115", City: "Berlin", Country: "DE"}
	o, err := domorder.New("o-1", "20261017-000001", domorder.Buyer{Name: "Ada", Email: "ada@example.com"},
		addr, domorder.Address{}, []domorder.Line{line}, money.Breakdown{GrandTotal: decimal.RequireFromString("19.98")}, "customer")
	require.NoError(t, err)
	return o
}

func serve(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSubmitOrder_Created(t *testing.T) {
	ord := sampleOrder(t)
	orders := &fakeOrders{submitRes: &apporder.SubmitOrderResult{Order: ord, ApprovalURL: "https://pay/approve"}}
	h := NewHandler(orders, nil, nil, observability.Nop())

	rec := serve(t, h, http.MethodPost, "/orders", `{
		"lines": [{"article_ref": "SOAP-1", "quantity": 2, "unit_price": "1.00"}],
		"expected_total": "19.98",
		"buyer": {"name": "Ada", "email": "ada@example.com", "authenticated": true},
		"billing_address": {"name": "Ada", "street": "Main 1", "postal_code": "10115", "city": "Berlin", "country": "DE"}
	}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	var resp struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
		ApprovalURL string `json:"approval_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "o-1", resp.Order.ID)
	assert.Equal(t, "https://pay/approve", resp.ApprovalURL)

	in := orders.submitIn
	require.Len(t, in.Cart.Lines, 1)
	assert.True(t, in.Cart.Lines[0].UnitPrice.Equal(decimal.RequireFromString("1.00")))
	assert.True(t, in.Cart.ExpectedTotal.Equal(decimal.RequireFromString("19.98")))
	assert.False(t, in.Buyer.Authenticated)
}

func TestSubmitOrder_PaymentOutcomes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		label  string
	}{
		{fmt.Errorf("create: %w", dompay.ErrUnavailable), http.StatusAccepted, "unavailable"},
		{dompay.ErrDisabled, http.StatusAccepted, "unavailable"},
		{&dompay.ProviderError{Operation: "create_intent", StatusCode: 422}, http.StatusPaymentRequired, "declined"},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			orders := &fakeOrders{submitRes: &apporder.SubmitOrderResult{Order: sampleOrder(t)}, submitErr: tc.err}
			rec := serve(t, NewHandler(orders, nil, nil, nil), http.MethodPost, "/orders", `{"lines":[]}`)

			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"payment":"`+tc.label+`"`)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &apporder.ValidationError{Field: "buyer.email", Reason: "invalid"}, http.StatusBadRequest, "validation_failed"},
		{"ambiguous", &money.AmbiguousPricingError{Expected: decimal.RequireFromString("27"), Inclusive: decimal.RequireFromString("24.97"), Exclusive: decimal.RequireFromString("29.71")}, http.StatusBadRequest, "ambiguous_pricing"},
		{"stock", &dominv.InsufficientStockError{ArticleRef: "SOAP-1", Requested: 3, Available: 1}, http.StatusConflict, "insufficient_stock"},
		{"transition", &domorder.InvalidTransitionError{From: domorder.StatusCompleted, Event: domorder.EventCustomerCancelled}, http.StatusConflict, "invalid_transition"},
		{"not found", domorder.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", domorder.ErrConflict, http.StatusConflict, "conflict"},
		{"unavailable", dompay.ErrUnavailable, http.StatusServiceUnavailable, "payment_unavailable"},
		{"internal", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &fakeOrders{err: tc.err}
			rec := serve(t, NewHandler(orders, nil, nil, nil), http.MethodGet, "/orders/o-1", "")

			assert.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.code, body.Error)
			assert.NotContains(t, body.Message, "disk on fire")
		})
	}
}

func TestErrorMapping_InsufficientStockCarriesAvailability(t *testing.T) {
	orders := &fakeOrders{submitErr: &dominv.InsufficientStockError{ArticleRef: "SOAP-1", Requested: 3, Available: 1}}
	rec := serve(t, NewHandler(orders, nil, nil, nil), http.MethodPost, "/orders", `{"lines":[]}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "SOAP-1", body.Article)
	require.NotNil(t, body.Available)
	assert.Equal(t, 1, *body.Available)
}

func TestCancelAndReturn(t *testing.T) {
	orders := &fakeOrders{order: sampleOrder(t)}
	h := NewHandler(orders, nil, nil, nil)

	rec := serve(t, h, http.MethodPost, "/orders/o-1/cancel", `{"reason":"changed mind","by_admin":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "o-1", orders.cancelIn.OrderID)
	assert.True(t, orders.cancelIn.ByAdmin)

	rec = serve(t, h, http.MethodPost, "/orders/o-1/return", `{"lines":{"SOAP-1":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"SOAP-1": 1}, orders.returnIn.Lines)

	rec = serve(t, h, http.MethodPost, "/orders/o-1/fulfillment", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentCallbackSources(t *testing.T) {
	orders := &fakeOrders{order: sampleOrder(t)}
	h := NewHandler(orders, nil, nil, nil)

	rec := serve(t, h, http.MethodGet, "/payments/return?token=PP-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PP-1", orders.intentID)

	rec = serve(t, h, http.MethodPost, "/payments/callback", `{"resource":{"id":"PP-2"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PP-2", orders.intentID)

	rec = serve(t, h, http.MethodPost, "/payments/callback", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStockAndHealth(t *testing.T) {
	h := NewHandler(&fakeOrders{}, fakeStock{"SOAP-1": {ArticleRef: "SOAP-1", Available: 8, Reserved: 2}},
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }), nil)

	rec := serve(t, h, http.MethodGet, "/stock/SOAP-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"article_ref":"SOAP-1","available":8,"reserved":2}`, rec.Body.String())

	rec = serve(t, h, http.MethodGet, "/stock/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, "ok", serve(t, h, http.MethodGet, "/health", "").Body.String())
	assert.Equal(t, "metrics", serve(t, h, http.MethodGet, "/metrics", "").Body.String())
}

func TestGetOrder_ShowsHeldStock(t *testing.T) {
	ord := sampleOrder(t)
	h := NewHandler(&fakeOrders{order: ord}, fakeStock{"SOAP-1": {ArticleRef: "SOAP-1", Available: 8, Reserved: 2}}, nil, nil)

	rec := serve(t, h, http.MethodGet, "/orders/o-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status            string         `json:"status"`
		Reserved          map[string]int `json:"reserved"`
		SettlementPending bool           `json:"settlement_pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(ord.Status), body.Status)
	assert.Equal(t, map[string]int{"SOAP-1": 2}, body.Reserved)
	assert.False(t, body.SettlementPending)
}

func TestCancel_SettlementPendingIsAccepted(t *testing.T) {
	ord := sampleOrder(t)
	ord.Owe(domorder.Settlement{Event: domorder.EventAdminCancelled, Effect: domorder.EffectCredit, Refund: true})
	orders := &fakeOrders{order: ord, err: fmt.Errorf("%w: refund: %w", apporder.ErrSettlementPending, dompay.ErrUnavailable)}

	rec := serve(t, NewHandler(orders, nil, nil, nil), http.MethodPost, "/orders/o-1/cancel", `{"by_admin":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var body struct {
		ID                string `json:"id"`
		SettlementPending bool   `json:"settlement_pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "o-1", body.ID)
	assert.True(t, body.SettlementPending)

	orders.order = nil
	rec = serve(t, NewHandler(orders, nil, nil, nil), http.MethodPost, "/orders/o-1/cancel", `{"by_admin":true}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
