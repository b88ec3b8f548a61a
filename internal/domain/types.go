package domain

import (
	"strings"
	"time"
)

// All monetary amounts are expressed in minor units (e.g. cents) as int64.

// CartItem is a single purchasable line inside a cart. Two lines with the
// same product and the same variant selection are merged by the cart store.
type CartItem struct {
	ProductID string            `json:"productId"`
	Name      string            `json:"name,omitempty"`
	Variants  map[string]string `json:"variants,omitempty"`
	Quantity  int               `json:"quantity"`
	UnitPrice int64             `json:"unitPrice"`
}

// Cart holds the working selection for one shopper session. A discount
// applied ahead of checkout is carried on the cart; DiscountAmount never
// exceeds the cart's subtotal plus shipping.
type Cart struct {
	ID             string     `json:"id"`
	Currency       string     `json:"currency"`
	Items          []CartItem `json:"items"`
	DiscountCode   string     `json:"discountCode,omitempty"`
	DiscountAmount int64      `json:"discountAmount,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsEmpty reports whether the cart has no purchasable lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// DiscountKind distinguishes percentage discounts from fixed-amount ones.
type DiscountKind string

const (
	DiscountKindPercentage DiscountKind = "percentage"
	DiscountKindFixed      DiscountKind = "fixed"
)

// Discount is a seller-managed code. Value is a whole percentage for
// percentage discounts and a minor-unit amount for fixed ones. Nil bounds
// (ExpiresAt, MaxUses, MinOrderValue) mean the bound does not apply.
type Discount struct {
	Code          string       `json:"code"`
	Kind          DiscountKind `json:"kind"`
	Value         int64        `json:"value"`
	Active        bool         `json:"active"`
	ExpiresAt     *time.Time   `json:"expiresAt,omitempty"`
	MaxUses       *int         `json:"maxUses,omitempty"`
	UsedCount     int          `json:"usedCount"`
	MinOrderValue *int64       `json:"minOrderValue,omitempty"`
}

// Discount rejection reasons reported by the validator.
const (
	DiscountReasonNotFound       = "not_found"
	DiscountReasonInactive       = "inactive"
	DiscountReasonExpired        = "expired"
	DiscountReasonMaxUsesReached = "max_uses_reached"
	DiscountReasonBelowMinimum   = "below_minimum"
)

// DiscountValidationResult reports whether a code applies to a given
// subtotal. A rejected code is not an error; Reason carries the cause.
type DiscountValidationResult struct {
	Code       string    `json:"code"`
	Applicable bool      `json:"applicable"`
	Reason     string    `json:"reason,omitempty"`
	Discount   *Discount `json:"-"`
}

// ShippingAddress is the destination captured at checkout. Line2 and Phone
// are optional.
type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// PricingBreakdown is the result of pricing a cart. GrandTotal is clamped at
// zero; the discount never exceeds the subtotal.
type PricingBreakdown struct {
	Currency   string `json:"currency"`
	Subtotal   int64  `json:"subtotal"`
	Shipping   int64  `json:"shipping"`
	Discount   int64  `json:"discount"`
	GrandTotal int64  `json:"grandTotal"`
}

// Order lifecycle statuses. Orders move forward along the happy path and may
// drop into cancelled only before processing starts.
const (
	OrderStatusPendingReview   = "pending_review"
	OrderStatusInvoiceSent     = "invoice_sent"
	OrderStatusPaymentReceived = "payment_received"
	OrderStatusProcessing      = "processing"
	OrderStatusShipped         = "shipped"
	OrderStatusDelivered       = "delivered"
	OrderStatusCancelled       = "cancelled"
)

// StatusChange is one append-only entry in an order's status history.
type StatusChange struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

// TrackingInfo identifies the shipment once an order leaves the workshop.
type TrackingInfo struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

// Order is the immutable purchase snapshot taken at checkout plus its
// lifecycle state. Items and Pricing never change after placement.
type Order struct {
	ID              string           `json:"id"`
	Number          string           `json:"number"`
	Items           []CartItem       `json:"items"`
	ShippingAddress ShippingAddress  `json:"shippingAddress"`
	DiscountCode    string           `json:"discountCode,omitempty"`
	Pricing         PricingBreakdown `json:"pricing"`
	Status          string           `json:"status"`
	StatusHistory   []StatusChange   `json:"statusHistory"`
	PlacedAt        time.Time        `json:"placedAt"`
	InvoiceSentAt   *time.Time       `json:"invoiceSentAt,omitempty"`
	PaymentDueAt    *time.Time       `json:"paymentDueAt,omitempty"`
	PaidAt          *time.Time       `json:"paidAt,omitempty"`
	ShippedAt       *time.Time       `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time       `json:"deliveredAt,omitempty"`
	CancelledAt     *time.Time       `json:"cancelledAt,omitempty"`
	CancelReason    string           `json:"cancelReason,omitempty"`
	Tracking        *TrackingInfo    `json:"tracking,omitempty"`
	CustomerID      string           `json:"customerId,omitempty"`
	CustomerEmail   string           `json:"customerEmail,omitempty"`
	CustomerName    string           `json:"customerName,omitempty"`
	Note            string           `json:"note,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// CurrentStatus returns the last history entry, which by invariant matches
// Order.Status.
func (o Order) CurrentStatus() (StatusChange, bool) {
	if len(o.StatusHistory) == 0 {
		return StatusChange{}, false
	}
	return o.StatusHistory[len(o.StatusHistory)-1], true
}

// NormalizeOrderStatus lower-cases and trims a status string for comparisons.
func NormalizeOrderStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// CursorPage is a generic page of results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// AuditLogEntry is one row in the local append-only audit trail.
type AuditLogEntry struct {
	ID        int64          `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	TargetRef string         `json:"targetRef"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
