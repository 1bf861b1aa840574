package httppresentation

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const componentHTTPHandler = "http_server"

type OrderService interface {
	SubmitOrder(ctx context.Context, in apporder.SubmitOrderInput) (*apporder.SubmitOrderResult, error)
	Get(ctx context.Context, id string) (*domorder.Order, error)
	HandlePaymentCallback(ctx context.Context, intentID string) (*domorder.Order, error)
	CancelOrder(ctx context.Context, in apporder.CancelOrderInput) (*domorder.Order, error)
	AcceptReturn(ctx context.Context, in apporder.AcceptReturnInput) (*domorder.Order, error)
	StartFulfillment(ctx context.Context, orderID, actor string) (*domorder.Order, error)
	MarkShipped(ctx context.Context, orderID, actor, note string) (*domorder.Order, error)
	ConfirmDelivery(ctx context.Context, orderID, actor string) (*domorder.Order, error)
}

type StockReader interface {
	Entry(ctx context.Context, articleRef string) (*dominv.Entry, error)
	// HeldFor returns the units still reserved for an order.
	HeldFor(ctx context.Context, orderID string) (map[string]int, error)
}

type Handler struct {
	orders  OrderService
	stock   StockReader
	metrics http.Handler
	log     observability.Logger
	tel     observability.Observability
}

// NewHandler wires the HTTP surface. metrics, when non-nil, is served on /metrics.
func NewHandler(orders OrderService, stock StockReader, metrics http.Handler, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		orders:  orders,
		stock:   stock,
		metrics: metrics,
		log:     tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:     tel,
	}
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(ObservabilityMiddleware(h.log, h.tel))

	r.GET("/health", h.handleHealth)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	orders := r.Group("/orders")
	orders.POST("", h.handleSubmitOrder)
	orders.GET("/:id", h.handleGetOrder)
	orders.POST("/:id/cancel", h.handleCancelOrder)
	orders.POST("/:id/return", h.handleAcceptReturn)
	orders.POST("/:id/fulfillment", h.handleStartFulfillment)
	orders.POST("/:id/shipment", h.handleMarkShipped)
	orders.POST("/:id/delivery", h.handleConfirmDelivery)

	r.GET("/payments/return", h.handlePaymentReturn)
	r.POST("/payments/callback", h.handlePaymentCallback)

	r.GET("/stock/:ref", h.handleStock)
	return r
}

type cartLineRequest struct {
	ArticleRef string           `json:"article_ref"`
	Quantity   int              `json:"quantity"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	LineTotal  *decimal.Decimal `json:"line_total,omitempty"`
}

type submitOrderRequest struct {
	Lines            []cartLineRequest `json:"lines"`
	ExpectedTotal    *decimal.Decimal  `json:"expected_total,omitempty"`
	PricesIncludeTax *bool             `json:"prices_include_tax,omitempty"`
	Buyer            domorder.Buyer    `json:"buyer"`
	BillingAddress   domorder.Address  `json:"billing_address"`
	ShippingAddress  domorder.Address  `json:"shipping_address"`
}

type submitOrderResponse struct {
	Order       orderView `json:"order"`
	ApprovalURL string    `json:"approval_url,omitempty"`
	Payment     string    `json:"payment,omitempty"`
}

func (h *Handler) handleSubmitOrder(c *gin.Context) {
	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	lines := make([]apporder.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, apporder.CartLine{ArticleRef: l.ArticleRef, Quantity: l.Quantity, UnitPrice: l.UnitPrice, LineTotal: l.LineTotal})
	}
	// The client cannot assert authentication.
	req.Buyer.Authenticated = false

	res, err := h.orders.SubmitOrder(c.Request.Context(), apporder.SubmitOrderInput{
		Cart:            apporder.Cart{Lines: lines, ExpectedTotal: req.ExpectedTotal, PricesIncludeTax: req.PricesIncludeTax},
		Buyer:           req.Buyer,
		BillingAddress:  req.BillingAddress,
		ShippingAddress: req.ShippingAddress,
		Actor:           "customer",
	})
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, submitOrderResponse{Order: newOrderView(res.Order), ApprovalURL: res.ApprovalURL})
	case res != nil && res.Order != nil && (errors.Is(err, dompay.ErrUnavailable) || errors.Is(err, dompay.ErrDisabled)):
		// The order exists and holds stock; payment can be retried later.
		c.JSON(http.StatusAccepted, submitOrderResponse{Order: newOrderView(res.Order), Payment: "unavailable"})
	case res != nil && res.Order != nil && errors.Is(err, dompay.ErrDeclined):
		c.JSON(http.StatusPaymentRequired, submitOrderResponse{Order: newOrderView(res.Order), Payment: "declined"})
	default:
		writeError(c, err)
	}
}

func (h *Handler) handleGetOrder(c *gin.Context) {
	ord, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	view := newOrderView(ord)
	if h.stock != nil {
		held, err := h.stock.HeldFor(c.Request.Context(), ord.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		view.Reserved = held
	}
	c.JSON(http.StatusOK, view)
}

type cancelRequest struct {
	Reason  string `json:"reason"`
	Actor   string `json:"actor"`
	ByAdmin bool   `json:"by_admin"`
}

func (h *Handler) handleCancelOrder(c *gin.Context) {
	var req cancelRequest
	if !bindOptional(c, &req) {
		return
	}
	ord, err := h.orders.CancelOrder(c.Request.Context(), apporder.CancelOrderInput{
		OrderID: c.Param("id"),
		Reason:  req.Reason,
		Actor:   req.Actor,
		ByAdmin: req.ByAdmin,
	})
	h.respond(c, ord, err)
}

type returnRequest struct {
	Lines  map[string]int `json:"lines"`
	Reason string         `json:"reason"`
	Actor  string         `json:"actor"`
}

func (h *Handler) handleAcceptReturn(c *gin.Context) {
	var req returnRequest
	if !bindOptional(c, &req) {
		return
	}
	ord, err := h.orders.AcceptReturn(c.Request.Context(), apporder.AcceptReturnInput{
		OrderID: c.Param("id"),
		Lines:   req.Lines,
		Reason:  req.Reason,
		Actor:   req.Actor,
	})
	h.respond(c, ord, err)
}

type progressRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (h *Handler) handleStartFulfillment(c *gin.Context) {
	var req progressRequest
	if !bindOptional(c, &req) {
		return
	}
	ord, err := h.orders.StartFulfillment(c.Request.Context(), c.Param("id"), req.Actor)
	h.respond(c, ord, err)
}

func (h *Handler) handleMarkShipped(c *gin.Context) {
	var req progressRequest
	if !bindOptional(c, &req) {
		return
	}
	ord, err := h.orders.MarkShipped(c.Request.Context(), c.Param("id"), req.Actor, req.Note)
	h.respond(c, ord, err)
}

func (h *Handler) handleConfirmDelivery(c *gin.Context) {
	var req progressRequest
	if !bindOptional(c, &req) {
		return
	}
	ord, err := h.orders.ConfirmDelivery(c.Request.Context(), c.Param("id"), req.Actor)
	h.respond(c, ord, err)
}

// handlePaymentReturn serves the buyer redirect after approval (?token=<intent id>).
func (h *Handler) handlePaymentReturn(c *gin.Context) {
	ord, err := h.orders.HandlePaymentCallback(c.Request.Context(), c.Query("token"))
	h.respond(c, ord, err)
}

type callbackRequest struct {
	Token    string `json:"token"`
	Resource struct {
		ID string `json:"id"`
	} `json:"resource"`
}

// handlePaymentCallback accepts {"token": ...} or a provider webhook whose
// resource.id is the intent id.
func (h *Handler) handlePaymentCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	intentID := req.Token
	if intentID == "" {
		intentID = req.Resource.ID
	}
	ord, err := h.orders.HandlePaymentCallback(c.Request.Context(), intentID)
	h.respond(c, ord, err)
}

type stockView struct {
	ArticleRef string `json:"article_ref"`
	Available  int    `json:"available"`
	Reserved   int    `json:"reserved"`
}

func (h *Handler) handleStock(c *gin.Context) {
	e, err := h.stock.Entry(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockView{ArticleRef: e.ArticleRef, Available: e.Available, Reserved: e.Reserved})
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// respond answers 202 when the change is committed but its refund or stock
// movement is still owed; the view then carries settlement_pending.
func (h *Handler) respond(c *gin.Context, ord *domorder.Order, err error) {
	if err != nil && ord != nil && errors.Is(err, apporder.ErrSettlementPending) {
		logctx.FromOr(c.Request.Context(), observability.NopLogger()).Warn("http_settlement_pending",
			observability.F("order_id", ord.ID),
			observability.F("error", err.Error()),
		)
		c.JSON(http.StatusAccepted, newOrderView(ord))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(ord))
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}
