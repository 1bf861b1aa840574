package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

const providerName = "paypal"

// tokenSkew renews access tokens slightly before PayPal expires them.
const tokenSkew = 30 * time.Second

type token struct {
	value   string
	expires time.Time
}

// Client talks to the PayPal Orders v2 REST API. It does not retry; the
// payment adapter owns retries and timeouts.
type Client struct {
	http *http.Client
	now  func() time.Time

	mu     sync.Mutex
	tokens map[string]token
}

func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: hc, now: time.Now, tokens: make(map[string]token)}
}

func (c *Client) Name() string { return providerName }

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount money  `json:"amount"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) CreateIntent(ctx context.Context, s dompay.Settings, req dompay.IntentRequest) (*dompay.Intent, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.Currency
	}
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"custom_id":    req.OrderNumber,
			"description":  req.Description,
			"amount":       money{CurrencyCode: currency, Value: req.Amount.StringFixed(2)},
		}},
		"application_context": map[string]string{
			"return_url":  s.ReturnURL,
			"cancel_url":  s.CancelURL,
			"user_action": "PAY_NOW",
		},
	}
	var out orderResponse
	if err := c.do(ctx, s, "create_intent", http.MethodPost, "/v2/checkout/orders", req.OrderID, body, &out); err != nil {
		return nil, err
	}
	return toIntent(out), nil
}

func (c *Client) Capture(ctx context.Context, s dompay.Settings, intentID, requestID string) (*dompay.Capture, error) {
	var out orderResponse
	path := "/v2/checkout/orders/" + url.PathEscape(intentID) + "/capture"
	if err := c.do(ctx, s, "capture", http.MethodPost, path, requestID, struct{}{}, &out); err != nil {
		return nil, err
	}
	cp, ok := firstCapture(out)
	if !ok {
		return nil, &dompay.ProviderError{Operation: "capture", StatusCode: http.StatusOK, Code: "NO_CAPTURE", Message: "capture missing from response"}
	}
	amount, err := decimal.NewFromString(cp.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("paypal: capture amount %q: %w", cp.Amount.Value, err)
	}
	if cp.Status != "COMPLETED" && cp.Status != "PENDING" {
		return nil, &dompay.ProviderError{Operation: "capture", StatusCode: http.StatusOK, Code: cp.Status, Message: "capture not completed"}
	}
	return &dompay.Capture{ID: cp.ID, IntentID: out.ID, Amount: amount, Status: dompay.StatusCaptured}, nil
}

func (c *Client) Refund(ctx context.Context, s dompay.Settings, captureID string, amount *decimal.Decimal, requestID string) (*dompay.Refund, error) {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = money{CurrencyCode: s.Currency, Value: amount.StringFixed(2)}
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount *money `json:"amount"`
	}
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	if err := c.do(ctx, s, "refund", http.MethodPost, path, requestID, body, &out); err != nil {
		return nil, err
	}
	refund := &dompay.Refund{ID: out.ID, Status: dompay.StatusRefunded}
	switch {
	case out.Amount != nil:
		refund.Amount, _ = decimal.NewFromString(out.Amount.Value)
	case amount != nil:
		refund.Amount = *amount
	}
	return refund, nil
}

func (c *Client) GetIntent(ctx context.Context, s dompay.Settings, intentID string) (*dompay.Intent, error) {
	var out orderResponse
	if err := c.do(ctx, s, "get_intent", http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(intentID), "", nil, &out); err != nil {
		return nil, err
	}
	return toIntent(out), nil
}

func (c *Client) do(ctx context.Context, s dompay.Settings, op, method, path, requestID string, in, out any) error {
	tok, err := c.accessToken(ctx, s)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paypal: encode %s: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("paypal: build %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		c.forget(s)
	}
	if res.StatusCode >= 300 {
		return classify(op, res)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("paypal: decode %s: %w", op, err)
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context, s dompay.Settings) (string, error) {
	key := tokenKey(s)
	c.mu.Lock()
	if t, ok := c.tokens[key]; ok && c.now().Before(t.expires) {
		c.mu.Unlock()
		return t.value, nil
	}
	c.mu.Unlock()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.BaseURL, "/")+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(s.ClientID, s.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return "", classify("oauth", res)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("paypal: decode token: %w", err)
	}
	ttl := time.Duration(out.ExpiresIn)*time.Second - tokenSkew
	c.mu.Lock()
	c.tokens[key] = token{value: out.AccessToken, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return out.AccessToken, nil
}

func (c *Client) forget(s dompay.Settings) {
	c.mu.Lock()
	delete(c.tokens, tokenKey(s))
	c.mu.Unlock()
}

func tokenKey(s dompay.Settings) string {
	return s.BaseURL + "|" + s.ClientID
}

func classify(op string, res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var body errorResponse
	_ = json.Unmarshal(raw, &body)

	code := body.Name
	if code == "" {
		code = body.Error
	}
	for _, d := range body.Details {
		if d.Issue == "ORDER_ALREADY_CAPTURED" {
			return fmt.Errorf("paypal: %s: %w", op, dompay.ErrAlreadyCaptured)
		}
		if code == "" || code == "UNPROCESSABLE_ENTITY" {
			code = d.Issue
		}
	}
	msg := body.Message
	if msg == "" {
		msg = body.ErrorDescription
	}

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("paypal: %s: %w", op, dompay.ErrNotFound)
	}
	// A 401 outside the token call means a stale token, which forget already dropped.
	temporary := res.StatusCode >= 500 ||
		res.StatusCode == http.StatusTooManyRequests ||
		res.StatusCode == http.StatusRequestTimeout ||
		(res.StatusCode == http.StatusUnauthorized && op != "oauth")
	return &dompay.ProviderError{
		Operation:  op,
		StatusCode: res.StatusCode,
		Code:       code,
		Message:    msg,
		Temporary:  temporary,
	}
}

func toIntent(o orderResponse) *dompay.Intent {
	in := &dompay.Intent{ID: o.ID, Status: intentStatus(o.Status)}
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			in.ApprovalURL = l.Href
			break
		}
	}
	if cp, ok := firstCapture(o); ok {
		in.CaptureID = cp.ID
		in.CapturedTotal, _ = decimal.NewFromString(cp.Amount.Value)
	}
	return in
}

func firstCapture(o orderResponse) (capture, bool) {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			return pu.Payments.Captures[0], true
		}
	}
	return capture{}, false
}

func intentStatus(s string) dompay.IntentStatus {
	switch s {
	case "APPROVED":
		return dompay.IntentApproved
	case "COMPLETED":
		return dompay.IntentCompleted
	case "VOIDED":
		return dompay.IntentVoided
	default:
		return dompay.IntentCreated
	}
}

var _ dompay.Provider = (*Client)(nil)
