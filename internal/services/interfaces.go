package services

import (
	"context"

	domain "github.com/hearthside/api/internal/domain"
	"github.com/hearthside/api/internal/repositories"
)

// Type aliases expose domain models to the services package without
// reversing dependency direction.
type (
	Cart                     = domain.Cart
	CartItem                 = domain.CartItem
	Discount                 = domain.Discount
	DiscountValidationResult = domain.DiscountValidationResult
	ShippingAddress          = domain.ShippingAddress
	PricingBreakdown         = domain.PricingBreakdown
	Order                    = domain.Order
	StatusChange             = domain.StatusChange
	TrackingInfo             = domain.TrackingInfo
	AuditLogEntry            = domain.AuditLogEntry
)

// CartService manages mutable cart state with duplicate-line merging and
// snapshot persistence. Mutations notify registered observers. A validated
// discount can be pinned to the cart ahead of checkout; item mutations keep
// the pinned amount within the cart's subtotal plus shipping.
type CartService interface {
	GetOrCreateCart(ctx context.Context, cartID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyDiscount(ctx context.Context, cartID, code string) (Cart, error)
	RemoveDiscount(ctx context.Context, cartID string) (Cart, error)
	ClearCart(ctx context.Context, cartID string) error
	Subscribe(observer CartObserver) (unsubscribe func())
}

// CartObserver receives a defensive copy of the cart after every
// successful mutation.
type CartObserver func(cart Cart)

// AddCartItemCommand describes a line to merge into a cart.
type AddCartItemCommand struct {
	CartID string
	Item   CartItem
}

// UpdateCartItemCommand sets the quantity of an existing line. Quantity
// zero removes the line.
type UpdateCartItemCommand struct {
	CartID    string
	ProductID string
	Variants  map[string]string
	Quantity  int
}

// RemoveCartItemCommand identifies a line to drop from a cart.
type RemoveCartItemCommand struct {
	CartID    string
	ProductID string
	Variants  map[string]string
}

// DiscountService validates codes against a subtotal and tracks redemption.
// Validation never mutates the usage counter; Redeem runs separately and
// callers treat its failures as best-effort.
type DiscountService interface {
	Validate(ctx context.Context, code string, subtotal int64) (DiscountValidationResult, error)
	Redeem(ctx context.Context, code string) error
}

// CheckoutService turns a cart into a pending-review order.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// PlaceOrderCommand carries everything the checkout needs. The customer
// fields come from the authenticated identity when one is present and are
// stamped onto the order for the self-service surface.
type PlaceOrderCommand struct {
	CartID        string
	Address       ShippingAddress
	DiscountCode  string
	CustomerID    string
	CustomerEmail string
	CustomerName  string
	Note          string
}

// OrderService owns the order lifecycle state machine.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, number string) (Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error)
	SendInvoice(ctx context.Context, orderID string) (Order, error)
	ConfirmPayment(ctx context.Context, orderID string) (Order, error)
	StartProcessing(ctx context.Context, orderID string) (Order, error)
	MarkShipped(ctx context.Context, orderID string, tracking TrackingInfo) (Order, error)
	MarkDelivered(ctx context.Context, orderID string) (Order, error)
	CancelOrder(ctx context.Context, orderID string, reason string) (Order, error)
	CancelOwnOrder(ctx context.Context, orderID, customerID, reason string) (Order, error)
}

// OrderEvent is the JSON payload published after order mutations.
type OrderEvent struct {
	Type        string `json:"type"`
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	OccurredAt  string `json:"occurredAt"`
}

// Order event types.
const (
	OrderEventPlaced        = "order.placed"
	OrderEventStatusChanged = "order.status_changed"
)

// OrderEventPublisher delivers order events to interested consumers.
// Publishing is best-effort everywhere it is called.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// AuditRecorder appends an entry to the audit trail without surfacing
// failures to the primary flow.
type AuditRecorder interface {
	Record(ctx context.Context, record AuditRecord)
}

// AuditRecord captures the inputs for one audit entry.
type AuditRecord struct {
	Actor     string
	Action    string
	TargetRef string
	Severity  string
	Metadata  map[string]any
}

// TextSanitizer strips markup from customer-supplied free text.
type TextSanitizer func(input string) string
