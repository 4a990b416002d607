package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTabbyBaseURL = "https://api.tabby.ai"
	defaultTabbyTimeout = 15 * time.Second
	tabbyMaxErrorBody   = 4 << 10
)

// ErrPaymentDeclined indicates the PSP refused to offer the payment method for this order.
var ErrPaymentDeclined = errors.New("payments: payment declined")

// TabbyProviderConfig configures the Tabby buy-now-pay-later adapter.
type TabbyProviderConfig struct {
	PublicKey    string
	SecretKey    string
	MerchantCode string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// TabbyProvider implements Provider against the Tabby REST API.
type TabbyProvider struct {
	publicKey    string
	secretKey    string
	merchantCode string
	baseURL      string
	client       *http.Client
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewTabbyProvider validates the configuration and constructs a provider.
func NewTabbyProvider(cfg TabbyProviderConfig) (*TabbyProvider, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("tabby: public and secret keys are required")
	}
	if strings.TrimSpace(cfg.MerchantCode) == "" {
		return nil, errors.New("tabby: merchant code is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultTabbyBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("tabby: invalid base url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTabbyTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TabbyProvider{
		publicKey:    strings.TrimSpace(cfg.PublicKey),
		secretKey:    strings.TrimSpace(cfg.SecretKey),
		merchantCode: strings.TrimSpace(cfg.MerchantCode),
		baseURL:      base,
		client:       client,
		logger:       logger,
	}, nil
}

type tabbyBuyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type tabbyShippingAddress struct {
	City    string `json:"city"`
	Address string `json:"address"`
	Zip     string `json:"zip"`
}

type tabbyItem struct {
	ReferenceID string `json:"reference_id"`
	Title       string `json:"title"`
	Category    string `json:"category,omitempty"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

type tabbyOrder struct {
	ReferenceID    string      `json:"reference_id"`
	Items          []tabbyItem `json:"items"`
	ShippingAmount string      `json:"shipping_amount"`
	TaxAmount      string      `json:"tax_amount"`
	DiscountAmount string      `json:"discount_amount"`
}

type tabbyBuyerHistory struct {
	RegisteredSince string `json:"registered_since"`
	LoyaltyLevel    int    `json:"loyalty_level"`
}

type tabbyPaymentPayload struct {
	Amount          string               `json:"amount"`
	Currency        string               `json:"currency"`
	Description     string               `json:"description,omitempty"`
	Buyer           tabbyBuyer           `json:"buyer"`
	ShippingAddress tabbyShippingAddress `json:"shipping_address"`
	Order           tabbyOrder           `json:"order"`
	BuyerHistory    tabbyBuyerHistory    `json:"buyer_history"`
	Meta            tabbyMeta            `json:"meta"`
}

type tabbyMeta struct {
	OrderID  string `json:"order_id,omitempty"`
	Customer string `json:"customer,omitempty"`
}

type tabbyMerchantURLs struct {
	Success string `json:"success,omitempty"`
	Cancel  string `json:"cancel,omitempty"`
	Failure string `json:"failure,omitempty"`
}

type tabbyCheckoutRequest struct {
	Payment      tabbyPaymentPayload `json:"payment"`
	Lang         string              `json:"lang"`
	MerchantCode string              `json:"merchant_code"`
	MerchantURLs tabbyMerchantURLs   `json:"merchant_urls"`
}

type tabbyCheckoutResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
	Configuration struct {
		AvailableProducts struct {
			Installments []struct {
				WebURL string `json:"web_url"`
			} `json:"installments"`
		} `json:"available_products"`
		Products struct {
			Installments struct {
				IsAvailable     bool   `json:"is_available"`
				RejectionReason string `json:"rejection_reason"`
			} `json:"installments"`
		} `json:"products"`
	} `json:"configuration"`
}

type tabbyPaymentResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Order    struct {
		ReferenceID string `json:"reference_id"`
	} `json:"order"`
	Meta     tabbyMeta `json:"meta"`
	Captures []struct {
		ID        string    `json:"id"`
		Amount    string    `json:"amount"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"captures"`
	Refunds []struct {
		ID        string    `json:"id"`
		Amount    string    `json:"amount"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"refunds"`
}

// Eligibility reports whether Tabby offers installments for a prospective order.
type Eligibility struct {
	Eligible bool
	Reason   string
}

// CheckEligibility pre-scores a prospective order by creating a checkout and inspecting its status.
func (p *TabbyProvider) CheckEligibility(ctx context.Context, req CreatePaymentRequest) (Eligibility, error) {
	resp, err := p.createCheckout(ctx, req)
	if err != nil {
		return Eligibility{}, err
	}
	if strings.EqualFold(resp.Status, "created") {
		return Eligibility{Eligible: true}, nil
	}
	reason := resp.Configuration.Products.Installments.RejectionReason
	if reason == "" {
		reason = "not_available"
	}
	return Eligibility{Eligible: false, Reason: reason}, nil
}

// CreatePayment creates a Tabby checkout session and returns its hosted payment page.
func (p *TabbyProvider) CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentSession, error) {
	resp, err := p.createCheckout(ctx, req)
	if err != nil {
		return PaymentSession{}, err
	}
	if !strings.EqualFold(resp.Status, "created") {
		reason := resp.Configuration.Products.Installments.RejectionReason
		return PaymentSession{}, fmt.Errorf("%w: tabby rejected checkout (%s)", ErrPaymentDeclined, reason)
	}
	redirect := ""
	if installments := resp.Configuration.AvailableProducts.Installments; len(installments) > 0 {
		redirect = installments[0].WebURL
	}
	p.logger(ctx, "payments.tabby.session.created", map[string]any{
		"sessionId": resp.ID,
		"paymentId": resp.Payment.ID,
		"orderId":   req.OrderID,
	})
	return PaymentSession{
		Provider:    ProviderTabby,
		ID:          resp.ID,
		IntentID:    resp.Payment.ID,
		RedirectURL: redirect,
		Status:      tabbyStatus(resp.Payment.Status),
	}, nil
}

// LookupPayment retrieves a Tabby payment by ID.
func (p *TabbyProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	id := strings.TrimSpace(req.IntentID)
	if id == "" {
		return PaymentDetails{}, errors.New("tabby: payment id is required")
	}
	var resp tabbyPaymentResponse
	if err := p.do(ctx, http.MethodGet, "/api/v2/payments/"+url.PathEscape(id), p.secretKey, nil, &resp); err != nil {
		return PaymentDetails{}, fmt.Errorf("tabby: lookup payment: %w", err)
	}
	return tabbyPaymentDetails(resp)
}

// Capture captures an authorized Tabby payment, defaulting to the full amount.
func (p *TabbyProvider) Capture(ctx context.Context, req CaptureRequest) (PaymentDetails, error) {
	id := strings.TrimSpace(req.IntentID)
	if id == "" {
		return PaymentDetails{}, errors.New("tabby: payment id is required")
	}
	amount := ""
	if req.Amount != nil {
		amount = FormatMajor(*req.Amount, req.Currency)
	} else {
		current, err := p.LookupPayment(ctx, LookupRequest{IntentID: id})
		if err != nil {
			return PaymentDetails{}, err
		}
		amount = FormatMajor(current.Amount, current.Currency)
	}
	body := map[string]string{"amount": amount}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		body["reference_id"] = key
	}
	var resp tabbyPaymentResponse
	if err := p.do(ctx, http.MethodPost, "/api/v2/payments/"+url.PathEscape(id)+"/captures", p.secretKey, body, &resp); err != nil {
		return PaymentDetails{}, fmt.Errorf("tabby: capture payment: %w", err)
	}
	p.logger(ctx, "payments.tabby.payment.captured", map[string]any{"paymentId": id, "amount": amount})
	return tabbyPaymentDetails(resp)
}

// Refund refunds a closed Tabby payment.
func (p *TabbyProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	id := strings.TrimSpace(req.IntentID)
	if id == "" {
		return PaymentDetails{}, errors.New("tabby: payment id is required")
	}
	if req.Amount == nil {
		return PaymentDetails{}, errors.New("tabby: refund amount is required")
	}
	body := map[string]string{
		"amount": FormatMajor(*req.Amount, req.Currency),
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		body["reason"] = reason
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		body["reference_id"] = key
	}
	var resp tabbyPaymentResponse
	if err := p.do(ctx, http.MethodPost, "/api/v2/payments/"+url.PathEscape(id)+"/refunds", p.secretKey, body, &resp); err != nil {
		return PaymentDetails{}, fmt.Errorf("tabby: refund payment: %w", err)
	}
	p.logger(ctx, "payments.tabby.payment.refunded", map[string]any{"paymentId": id})
	return tabbyPaymentDetails(resp)
}

// ParseTabbyWebhook decodes a Tabby webhook body. Signature checks happen in the HTTP layer.
func ParseTabbyWebhook(payload []byte) (PaymentDetails, error) {
	var resp tabbyPaymentResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return PaymentDetails{}, fmt.Errorf("tabby: decode webhook: %w", err)
	}
	if strings.TrimSpace(resp.ID) == "" {
		return PaymentDetails{}, errors.New("tabby: webhook payment id missing")
	}
	return tabbyPaymentDetails(resp)
}

func (p *TabbyProvider) createCheckout(ctx context.Context, req CreatePaymentRequest) (tabbyCheckoutResponse, error) {
	if p == nil {
		return tabbyCheckoutResponse{}, errors.New("tabby: provider is nil")
	}
	payload := tabbyCheckoutRequest{
		Payment:      p.paymentPayload(req),
		Lang:         defaultLang(req.Language),
		MerchantCode: p.merchantCode,
		MerchantURLs: tabbyMerchantURLs{
			Success: req.SuccessURL,
			Cancel:  req.CancelURL,
			Failure: req.FailureURL,
		},
	}
	var resp tabbyCheckoutResponse
	if err := p.do(ctx, http.MethodPost, "/api/v2/checkout", p.publicKey, payload, &resp); err != nil {
		return tabbyCheckoutResponse{}, fmt.Errorf("tabby: create checkout: %w", err)
	}
	return resp, nil
}

func (p *TabbyProvider) paymentPayload(req CreatePaymentRequest) tabbyPaymentPayload {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	items := make([]tabbyItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, tabbyItem{
			ReferenceID: item.ReferenceID,
			Title:       item.Title,
			Category:    item.Category,
			Quantity:    item.Quantity,
			UnitPrice:   FormatMajor(item.UnitAmount, currency),
		})
	}
	history := tabbyBuyerHistory{LoyaltyLevel: req.Buyer.OrdersCount}
	if !req.Buyer.RegisteredSince.IsZero() {
		history.RegisteredSince = req.Buyer.RegisteredSince.UTC().Format(time.RFC3339)
	}
	return tabbyPaymentPayload{
		Amount:      FormatMajor(req.Amount, currency),
		Currency:    currency,
		Description: req.Description,
		Buyer: tabbyBuyer{
			Name:  req.Buyer.Name,
			Email: req.Buyer.Email,
			Phone: req.Buyer.Phone,
		},
		ShippingAddress: tabbyShippingAddress(req.Shipping),
		Order: tabbyOrder{
			ReferenceID:    req.OrderNumber,
			Items:          items,
			ShippingAmount: FormatMajor(req.ShippingAmount, currency),
			TaxAmount:      FormatMajor(req.TaxAmount, currency),
			DiscountAmount: FormatMajor(req.DiscountAmount, currency),
		},
		BuyerHistory: history,
		Meta: tabbyMeta{
			OrderID:  req.OrderID,
			Customer: req.Buyer.Email,
		},
	}
}

func (p *TabbyProvider) do(ctx context.Context, method, path, key string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, tabbyMaxErrorBody))
		return &TabbyAPIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(detail))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// TabbyAPIError reports a non-2xx response from the Tabby API.
type TabbyAPIError struct {
	StatusCode int
	Body       string
}

func (e *TabbyAPIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tabby api status %d", e.StatusCode)
	}
	return fmt.Sprintf("tabby api status %d: %s", e.StatusCode, e.Body)
}

func tabbyStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "AUTHORIZED":
		return StatusAuthorized
	case "CLOSED":
		return StatusSucceeded
	case "REJECTED":
		return StatusFailed
	case "EXPIRED":
		return StatusCanceled
	default:
		return StatusPending
	}
}

func tabbyPaymentDetails(resp tabbyPaymentResponse) (PaymentDetails, error) {
	currency := strings.ToUpper(strings.TrimSpace(resp.Currency))
	amount, err := ParseMajor(resp.Amount, currency)
	if err != nil {
		return PaymentDetails{}, err
	}
	providerStatus := strings.ToUpper(strings.TrimSpace(resp.Status))
	details := PaymentDetails{
		Provider:       ProviderTabby,
		IntentID:       resp.ID,
		Status:         tabbyStatus(providerStatus),
		ProviderStatus: providerStatus,
		Amount:         amount,
		Currency:       currency,
		OrderID:        resp.Meta.OrderID,
		OrderNumber:    resp.Order.ReferenceID,
	}
	var captured int64
	for _, c := range resp.Captures {
		v, err := ParseMajor(c.Amount, currency)
		if err != nil {
			return PaymentDetails{}, err
		}
		captured += v
		if !c.CreatedAt.IsZero() {
			t := c.CreatedAt.UTC()
			details.CapturedAt = &t
		}
	}
	details.AmountReceived = captured
	details.Captured = providerStatus == "CLOSED" || (amount > 0 && captured >= amount)
	var refunded int64
	for _, r := range resp.Refunds {
		v, err := ParseMajor(r.Amount, currency)
		if err != nil {
			return PaymentDetails{}, err
		}
		refunded += v
		if !r.CreatedAt.IsZero() {
			t := r.CreatedAt.UTC()
			details.RefundedAt = &t
		}
	}
	if amount > 0 && refunded >= amount {
		details.Status = StatusRefunded
	}
	return details, nil
}

func defaultLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "ar" {
		return "ar"
	}
	return "en"
}
