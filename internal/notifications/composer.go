package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// Email kinds, also used as the template name stem.
const (
	KindOrderConfirmation = "order_confirmation"
	KindAdminNewOrder     = "admin_new_order"
	KindStatusUpdate      = "status_update"
	KindCancellation      = "cancellation"
	KindLowStock          = "low_stock"
)

// Store carries the store identity rendered into every email.
type Store struct {
	Name         string
	SupportEmail string
	Timezone     *time.Location
}

// Composer renders transactional emails from the embedded templates.
type Composer struct {
	templates *template.Template
	notes     *bluemonday.Policy
}

// NewComposer parses the embedded templates.
func NewComposer() (*Composer, error) {
	tmpl, err := template.New("emails").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("notifications: parse templates: %w", err)
	}
	return &Composer{
		templates: tmpl,
		notes:     bluemonday.StrictPolicy(),
	}, nil
}

type itemView struct {
	Name      string
	Quantity  int
	UnitPrice string
	Subtotal  string
}

type totalsView struct {
	Subtotal    string
	Discount    string
	HasDiscount bool
	Tax         string
	Shipping    string
	Total       string
}

type orderView struct {
	Subject        string
	Store          Store
	OrderNumber    string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	Guest          bool
	PlacedAt       string
	PaymentMethod  string
	PaymentStatus  string
	StatusLabel    string
	PreviousLabel  string
	CouponCode     string
	ShippingMethod string
	Items          []itemView
	FreeItems      []itemView
	Totals         totalsView
	Address        domain.Address
	Notes          template.HTML
}

type lowStockView struct {
	Subject   string
	Store     Store
	Threshold int
	Levels    []domain.StockLevel
}

// OrderConfirmation renders the buyer's order confirmation.
func (c *Composer) OrderConfirmation(store Store, order domain.Order) (Message, error) {
	subject := fmt.Sprintf("%s: order %s confirmed", store.Name, order.OrderNumber)
	return c.renderOrder(KindOrderConfirmation, subject, store, order, []string{order.Customer.Email})
}

// AdminNewOrder renders the new order alert sent to the store admin.
func (c *Composer) AdminNewOrder(store Store, order domain.Order, adminEmail string) (Message, error) {
	subject := fmt.Sprintf("New order %s (%s)", order.OrderNumber, FormatMoney(order.Totals.Total, order.Totals.Currency))
	return c.renderOrder(KindAdminNewOrder, subject, store, order, []string{adminEmail})
}

// StatusUpdate renders the buyer notification for a status change.
func (c *Composer) StatusUpdate(store Store, order domain.Order, previous domain.OrderStatus) (Message, error) {
	subject := fmt.Sprintf("%s: order %s is now %s", store.Name, order.OrderNumber, statusLabel(order.Status))
	view := c.orderView(subject, store, order)
	view.PreviousLabel = statusLabel(previous)
	return c.render(KindStatusUpdate, subject, view, []string{order.Customer.Email})
}

// Cancellation renders the buyer cancellation notice.
func (c *Composer) Cancellation(store Store, order domain.Order) (Message, error) {
	subject := fmt.Sprintf("%s: order %s cancelled", store.Name, order.OrderNumber)
	return c.renderOrder(KindCancellation, subject, store, order, []string{order.Customer.Email})
}

// LowStock renders the admin alert listing products at or below threshold.
func (c *Composer) LowStock(store Store, levels []domain.StockLevel, threshold int, adminEmail string) (Message, error) {
	subject := fmt.Sprintf("%s: %d product(s) low on stock", store.Name, len(levels))
	view := lowStockView{Subject: subject, Store: store, Threshold: threshold, Levels: levels}
	return c.render(KindLowStock, subject, view, []string{adminEmail})
}

func (c *Composer) renderOrder(kind, subject string, store Store, order domain.Order, to []string) (Message, error) {
	return c.render(kind, subject, c.orderView(subject, store, order), to)
}

func (c *Composer) render(kind, subject string, data any, to []string) (Message, error) {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return Message{}, fmt.Errorf("%w: %s", ErrNoRecipient, kind)
	}

	var buf bytes.Buffer
	if err := c.templates.ExecuteTemplate(&buf, kind+".html", data); err != nil {
		return Message{}, fmt.Errorf("notifications: render %s: %w", kind, err)
	}
	html := buf.String()
	text, err := PlainText(html)
	if err != nil {
		return Message{}, fmt.Errorf("notifications: plain text %s: %w", kind, err)
	}
	return Message{
		Kind:    kind,
		To:      recipients,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}, nil
}

func (c *Composer) orderView(subject string, store Store, order domain.Order) orderView {
	currency := order.Totals.Currency
	loc := store.Timezone
	if loc == nil {
		loc = time.UTC
	}
	names := make(map[string]string, len(order.Items))
	items := make([]itemView, 0, len(order.Items))
	for _, item := range order.Items {
		names[item.ProductID] = item.Name
		items = append(items, itemView{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: FormatMoney(item.UnitPrice, currency),
			Subtotal:  FormatMoney(item.Subtotal, currency),
		})
	}
	free := make([]itemView, 0, len(order.FreeItems))
	for _, item := range order.FreeItems {
		free = append(free, itemView{
			Name:      names[item.ProductID],
			Quantity:  item.Quantity,
			UnitPrice: FormatMoney(item.UnitPrice, currency),
			Subtotal:  FormatMoney(0, currency),
		})
	}
	return orderView{
		Subject:        subject,
		Store:          store,
		OrderNumber:    order.OrderNumber,
		CustomerName:   order.Customer.Name,
		CustomerEmail:  order.Customer.Email,
		CustomerPhone:  order.Customer.Phone,
		Guest:          order.Customer.Guest,
		PlacedAt:       order.CreatedAt.In(loc).Format("2 Jan 2006 15:04"),
		PaymentMethod:  paymentLabel(order.PaymentMethod),
		PaymentStatus:  statusLabel(domain.OrderStatus(order.PaymentStatus)),
		StatusLabel:    statusLabel(order.Status),
		CouponCode:     order.CouponCode,
		ShippingMethod: order.ShippingMethod,
		Items:          items,
		FreeItems:      free,
		Totals: totalsView{
			Subtotal:    FormatMoney(order.Totals.Subtotal, currency),
			Discount:    FormatMoney(order.Totals.Discount, currency),
			HasDiscount: order.Totals.Discount > 0,
			Tax:         FormatMoney(order.Totals.Tax, currency),
			Shipping:    FormatMoney(order.Totals.Shipping, currency),
			Total:       FormatMoney(order.Totals.Total, currency),
		},
		Address: order.ShippingAddress,
		// StrictPolicy strips markup and leaves entity-escaped text.
		Notes: template.HTML(c.notes.Sanitize(order.Notes)),
	}
}

// statusLabel turns "on_hold" into "On Hold". Casers are stateful, so one is built per call.
func statusLabel(status domain.OrderStatus) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(status), "_", " "))
}

func paymentLabel(method domain.PaymentMethod) string {
	switch method {
	case domain.PaymentMethodCOD:
		return "Cash on delivery"
	case domain.PaymentMethodStripe:
		return "Card"
	case domain.PaymentMethodTabby:
		return "Tabby"
	}
	return string(method)
}
