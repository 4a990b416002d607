package notifications

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

func testOrder() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "ELV-260304-0001",
		Customer:    domain.CustomerProfile{UserID: "usr_1", Name: "Layla", Email: "layla@example.com", Phone: "0501234567"},
		ShippingAddress: domain.Address{
			Recipient: "Layla", Line1: "12 Marina Walk", City: "Dubai", Country: "AE",
		},
		Items: []domain.OrderLineItem{
			{ProductID: "prod_rose", Name: "Rose Oud", Quantity: 1, UnitPrice: 10000, Subtotal: 10000},
		},
		FreeItems:      []domain.FreeItem{{ProductID: "prod_rose", Quantity: 1, UnitPrice: 10000}},
		CouponCode:     "TEN",
		ShippingMethod: "standard",
		Totals:         domain.OrderTotals{Currency: "AED", Subtotal: 10000, Discount: 1000, Tax: 450, Total: 9450},
		Status:         domain.OrderStatusProcessing,
		PaymentStatus:  domain.PaymentStatusPending,
		PaymentMethod:  domain.PaymentMethodCOD,
		Notes:          `<script>alert(1)</script>Leave at <b>door</b>`,
		CreatedAt:      time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC),
	}
}

func parseHTML(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err, "html must parse")
	return doc
}

func TestComposerOrderConfirmation(t *testing.T) {
	composer, err := NewComposer()
	require.NoError(t, err)
	dubai, err := time.LoadLocation("Asia/Dubai")
	require.NoError(t, err)

	msg, err := composer.OrderConfirmation(Store{Name: "Elvora", SupportEmail: "care@elvora.test", Timezone: dubai}, testOrder())
	require.NoError(t, err)

	assert.Equal(t, KindOrderConfirmation, msg.Kind)
	assert.Equal(t, []string{"layla@example.com"}, msg.To)
	assert.Equal(t, "Elvora: order ELV-260304-0001 confirmed", msg.Subject)

	doc := parseHTML(t, msg.HTML)
	assert.Equal(t, "ELV-260304-0001", doc.Find(".order-number").Text())
	assert.Equal(t, "AED 94.50", strings.TrimSpace(doc.Find(".totals .total").Text()))
	assert.Equal(t, "-AED 10.00", doc.Find(".totals .discount").Text())
	assert.Equal(t, 1, doc.Find("tr.item").Length())
	assert.Equal(t, 1, doc.Find("tr.free-item").Length())
	assert.Equal(t, 0, doc.Find(".notes script, .notes b").Length(), "notes must be stripped of markup")
	assert.Contains(t, doc.Find(".notes").Text(), "Leave at door")
	assert.NotContains(t, msg.HTML, "alert(1)")
	assert.Contains(t, msg.HTML, "4 Mar 2026 12:00")

	assert.NotContains(t, msg.Text, "<")
	assert.Contains(t, msg.Text, "Total AED 94.50")
	assert.Contains(t, msg.Text, "care@elvora.test")
}

func TestComposerStatusUpdateAndCancellation(t *testing.T) {
	composer, err := NewComposer()
	require.NoError(t, err)
	order := testOrder()
	order.Status = domain.OrderStatusOnHold

	msg, err := composer.StatusUpdate(Store{Name: "Elvora"}, order, domain.OrderStatusPending)
	require.NoError(t, err)
	doc := parseHTML(t, msg.HTML)
	assert.Equal(t, "On Hold", doc.Find(".status").Text())
	assert.Equal(t, "Pending", doc.Find(".previous").Text())
	assert.Equal(t, "Elvora: order ELV-260304-0001 is now On Hold", msg.Subject)

	cancelled, err := composer.Cancellation(Store{Name: "Elvora"}, order)
	require.NoError(t, err)
	assert.Contains(t, cancelled.Text, "was cancelled")
}

func TestComposerAdminAndLowStock(t *testing.T) {
	composer, err := NewComposer()
	require.NoError(t, err)

	admin, err := composer.AdminNewOrder(Store{Name: "Elvora"}, testOrder(), "ops@elvora.test")
	require.NoError(t, err)
	assert.Equal(t, "New order ELV-260304-0001 (AED 94.50)", admin.Subject)
	assert.Equal(t, "Layla", parseHTML(t, admin.HTML).Find(".customer").Text())

	low, err := composer.LowStock(Store{Name: "Elvora"}, []domain.StockLevel{
		{ProductID: "prod_musk", Name: "White Musk", SKU: "WM-1", Stock: 0},
		{ProductID: "prod_rose", Name: "Rose Oud", SKU: "RO-1", Stock: 2},
	}, 2, "ops@elvora.test")
	require.NoError(t, err)
	doc := parseHTML(t, low.HTML)
	assert.Equal(t, 2, doc.Find("tr.level").Length())
	assert.Equal(t, "WM-1", doc.Find("tr.level .sku").First().Text())
	assert.Equal(t, "Elvora: 2 product(s) low on stock", low.Subject)

	_, err = composer.LowStock(Store{Name: "Elvora"}, nil, 2, " ")
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		minor int64
		code  string
		want  string
	}{
		{9450, "AED", "AED 94.50"},
		{123456789, "aed", "AED 1,234,567.89"},
		{500, "JPY", "JPY 500"},
		{1050, "", "10.50"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatMoney(tc.minor, tc.code), "FormatMoney(%d, %q)", tc.minor, tc.code)
	}
}

func TestPlainText(t *testing.T) {
	text, err := PlainText(`<html><head><style>p{}</style></head><body><p>Hello<br>World</p><a href="https://elvora.test">Shop</a></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "Hello\nWorld\nShop (https://elvora.test)", text)
}
