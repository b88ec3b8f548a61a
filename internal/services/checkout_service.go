package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hearthside/api/internal/domain"
	"github.com/hearthside/api/internal/repositories"
)

var (
	// ErrCheckoutEmptyCart rejects checkouts on carts with no lines.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutInvalidAddress rejects checkouts with an incomplete or
	// malformed shipping address.
	ErrCheckoutInvalidAddress = errors.New("checkout: invalid shipping address")
	// ErrCheckoutDiscountRejected rejects checkouts whose discount code
	// fails re-validation against the live subtotal.
	ErrCheckoutDiscountRejected = errors.New("checkout: discount not applicable")
	// ErrCheckoutUnavailable indicates a persistence failure while placing
	// the order.
	ErrCheckoutUnavailable = errors.New("checkout: store unavailable")
)

const orderNumberAttempts = 3

var postalCodePattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z \-]{2,9}$`)

// CheckoutServiceDeps bundles constructor inputs for the checkout
// orchestrator.
type CheckoutServiceDeps struct {
	Carts        CartService
	Discounts    DiscountService
	Pricing      *CartPricingEngine
	Orders       repositories.OrderRepository
	Clock        func() time.Time
	IDGenerator  func() string
	NumberSuffix func() string
	NumberPrefix string
	Publisher    OrderEventPublisher
	Audit        AuditRecorder
	Sanitizer    TextSanitizer
	Logger       func(ctx context.Context, msg string, fields map[string]any)
}

type checkoutService struct {
	carts        CartService
	discounts    DiscountService
	pricing      *CartPricingEngine
	orders       repositories.OrderRepository
	clock        func() time.Time
	idGenerator  func() string
	numberSuffix func() string
	numberPrefix string
	publisher    OrderEventPublisher
	audit        AuditRecorder
	sanitize     TextSanitizer
	logger       func(ctx context.Context, msg string, fields map[string]any)
}

// NewCheckoutService validates deps and constructs the orchestrator.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("checkout service: discount service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.NumberPrefix))
	if prefix == "" {
		return nil, errors.New("checkout service: order number prefix is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGenerator := deps.IDGenerator
	if idGenerator == nil {
		idGenerator = func() string { return ulid.Make().String() }
	}
	numberSuffix := deps.NumberSuffix
	if numberSuffix == nil {
		numberSuffix = func() string { return fmt.Sprintf("%04d", rand.IntN(10000)) }
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = func(input string) string { return strings.TrimSpace(input) }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		carts:        deps.Carts,
		discounts:    deps.Discounts,
		pricing:      deps.Pricing,
		orders:       deps.Orders,
		clock:        func() time.Time { return clock().UTC() },
		idGenerator:  idGenerator,
		numberSuffix: numberSuffix,
		numberPrefix: prefix,
		publisher:    deps.Publisher,
		audit:        deps.Audit,
		sanitize:     sanitize,
		logger:       logger,
	}, nil
}

// PlaceOrder runs the checkout sequence and stops at the first failure.
// Nothing is written until the order snapshot is complete; once the order
// persists, the remaining steps are best-effort and cannot undo it.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return Order{}, ErrCartIDRequired
	}

	cart, err := s.carts.GetOrCreateCart(ctx, cartID)
	if err != nil {
		return Order{}, err
	}
	if cart.IsEmpty() {
		return Order{}, fmt.Errorf("%w: cart %s", ErrCheckoutEmptyCart, cartID)
	}

	address, err := validateShippingAddress(cmd.Address)
	if err != nil {
		return Order{}, err
	}

	subtotal, err := s.pricing.Subtotal(cart.Items)
	if err != nil {
		return Order{}, err
	}

	var discount *domain.Discount
	discountCode := NormalizeDiscountCode(cmd.DiscountCode)
	if discountCode == "" {
		// A code pinned to the cart ahead of checkout applies when the
		// request carries none.
		discountCode = NormalizeDiscountCode(cart.DiscountCode)
	}
	if discountCode != "" {
		result, err := s.discounts.Validate(ctx, discountCode, subtotal)
		if err != nil {
			return Order{}, err
		}
		if !result.Applicable {
			return Order{}, fmt.Errorf("%w: %s (%s)", ErrCheckoutDiscountRejected, discountCode, result.Reason)
		}
		discount = result.Discount
	}

	pricing, err := s.pricing.Quote(cart.Items, discount)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	order := Order{
		ID:              s.idGenerator(),
		Items:           cloneCartItems(cart.Items),
		ShippingAddress: address,
		DiscountCode:    discountCode,
		Pricing:         pricing,
		Status:          domain.OrderStatusPendingReview,
		StatusHistory:   []StatusChange{{Status: domain.OrderStatusPendingReview, At: now, Note: "order placed"}},
		PlacedAt:        now,
		CustomerID:      strings.TrimSpace(cmd.CustomerID),
		CustomerEmail:   strings.TrimSpace(cmd.CustomerEmail),
		CustomerName:    s.sanitize(cmd.CustomerName),
		Note:            s.sanitize(cmd.Note),
		UpdatedAt:       now,
	}

	if err := s.createWithNumber(ctx, &order, now); err != nil {
		return Order{}, err
	}

	// Everything past this point is best-effort: the order stands.
	if discountCode != "" {
		if err := s.discounts.Redeem(ctx, discountCode); err != nil {
			s.logger(ctx, "discount redemption failed", map[string]any{
				"orderId": order.ID,
				"code":    discountCode,
				"error":   err.Error(),
			})
		}
	}
	if err := s.carts.ClearCart(ctx, cartID); err != nil {
		s.logger(ctx, "cart clear failed after checkout", map[string]any{
			"orderId": order.ID,
			"cartId":  cartID,
			"error":   err.Error(),
		})
	}
	s.publishPlaced(ctx, order)
	s.recordAudit(ctx, order, cartID)

	return order, nil
}

// createWithNumber persists the order, regenerating the random number
// suffix on a conflict.
func (s *checkoutService) createWithNumber(ctx context.Context, order *Order, now time.Time) error {
	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.Number = fmt.Sprintf("%s-%s-%s", s.numberPrefix, now.Format("20060102"), s.numberSuffix())
		err := s.orders.Create(ctx, *order)
		if err == nil {
			return nil
		}
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			lastErr = err
			continue
		}
		return fmt.Errorf("%w: create order: %v", ErrCheckoutUnavailable, err)
	}
	return fmt.Errorf("%w: order number collisions: %v", ErrCheckoutUnavailable, lastErr)
}

func (s *checkoutService) publishPlaced(ctx context.Context, order Order) {
	if s.publisher == nil {
		return
	}
	event := OrderEvent{
		Type:        OrderEventPlaced,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Status:      order.Status,
		OccurredAt:  order.PlacedAt.Format(time.RFC3339),
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order event publish failed", map[string]any{
			"orderId": order.ID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) recordAudit(ctx context.Context, order Order, cartID string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditRecord{
		Actor:     "customer",
		Action:    "order.placed",
		TargetRef: "/orders/" + order.ID,
		Metadata: map[string]any{
			"orderNumber": order.Number,
			"cartId":      cartID,
			"grandTotal":  order.Pricing.GrandTotal,
		},
	})
}

// validateShippingAddress trims all fields and enforces the required set
// plus the postal code shape and a two-letter country code.
func validateShippingAddress(address ShippingAddress) (ShippingAddress, error) {
	address.Name = strings.TrimSpace(address.Name)
	address.Line1 = strings.TrimSpace(address.Line1)
	address.Line2 = strings.TrimSpace(address.Line2)
	address.City = strings.TrimSpace(address.City)
	address.PostalCode = strings.TrimSpace(address.PostalCode)
	address.Country = strings.ToUpper(strings.TrimSpace(address.Country))
	address.Phone = strings.TrimSpace(address.Phone)

	var missing []string
	if address.Name == "" {
		missing = append(missing, "name")
	}
	if address.Line1 == "" {
		missing = append(missing, "line1")
	}
	if address.City == "" {
		missing = append(missing, "city")
	}
	if address.PostalCode == "" {
		missing = append(missing, "postalCode")
	}
	if address.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return ShippingAddress{}, fmt.Errorf("%w: missing %s", ErrCheckoutInvalidAddress, strings.Join(missing, ", "))
	}

	if len(address.Country) != 2 || !isAlpha(address.Country) {
		return ShippingAddress{}, fmt.Errorf("%w: country must be a 2-letter code", ErrCheckoutInvalidAddress)
	}
	if !postalCodePattern.MatchString(address.PostalCode) {
		return ShippingAddress{}, fmt.Errorf("%w: postal code %q", ErrCheckoutInvalidAddress, address.PostalCode)
	}
	return address, nil
}

func isAlpha(value string) bool {
	for _, r := range value {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
