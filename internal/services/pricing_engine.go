package services

import (
	"errors"
	"fmt"
	"math"
	"strings"

	domain "github.com/hearthside/api/internal/domain"
)

var (
	// ErrPricingInvalidItem indicates a line that cannot be priced.
	ErrPricingInvalidItem = errors.New("pricing: invalid cart item")
	// ErrPricingOverflow indicates that a total exceeded the int64 range.
	ErrPricingOverflow = errors.New("pricing: amount overflow")
)

// PricingEngineDeps bundles constructor inputs for the pricing engine.
// Threshold and rate are minor units.
type PricingEngineDeps struct {
	Currency              string
	FreeShippingThreshold int64
	FlatShippingRate      int64
}

// CartPricingEngine prices carts with pure integer arithmetic. It performs
// no I/O and is safe for concurrent use.
type CartPricingEngine struct {
	currency              string
	freeShippingThreshold int64
	flatShippingRate      int64
}

// NewCartPricingEngine validates deps and constructs a pricing engine.
func NewCartPricingEngine(deps PricingEngineDeps) (*CartPricingEngine, error) {
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if len(currency) != 3 {
		return nil, errors.New("pricing engine: currency must be a 3-letter code")
	}
	if deps.FreeShippingThreshold < 0 {
		return nil, errors.New("pricing engine: free shipping threshold must not be negative")
	}
	if deps.FlatShippingRate < 0 {
		return nil, errors.New("pricing engine: flat shipping rate must not be negative")
	}
	return &CartPricingEngine{
		currency:              currency,
		freeShippingThreshold: deps.FreeShippingThreshold,
		flatShippingRate:      deps.FlatShippingRate,
	}, nil
}

// Currency returns the configured currency code.
func (e *CartPricingEngine) Currency() string {
	return e.currency
}

// LineTotal computes quantity times unit price for one line.
func (e *CartPricingEngine) LineTotal(item domain.CartItem) (int64, error) {
	if item.Quantity <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrPricingInvalidItem)
	}
	if item.UnitPrice < 0 {
		return 0, fmt.Errorf("%w: unit price must not be negative", ErrPricingInvalidItem)
	}
	quantity := int64(item.Quantity)
	if item.UnitPrice > 0 && quantity > math.MaxInt64/item.UnitPrice {
		return 0, fmt.Errorf("%w: line total for product %q", ErrPricingOverflow, item.ProductID)
	}
	return item.UnitPrice * quantity, nil
}

// Subtotal sums the line totals of all items.
func (e *CartPricingEngine) Subtotal(items []domain.CartItem) (int64, error) {
	var subtotal int64
	for _, item := range items {
		lineTotal, err := e.LineTotal(item)
		if err != nil {
			return 0, err
		}
		if subtotal > math.MaxInt64-lineTotal {
			return 0, fmt.Errorf("%w: subtotal", ErrPricingOverflow)
		}
		subtotal += lineTotal
	}
	return subtotal, nil
}

// ShippingCost returns the flat rate, waived once the subtotal reaches the
// free-shipping threshold. A threshold of zero disables the waiver entirely.
// A zero subtotal ships nothing and costs nothing.
func (e *CartPricingEngine) ShippingCost(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	if e.freeShippingThreshold > 0 && subtotal >= e.freeShippingThreshold {
		return 0
	}
	return e.flatShippingRate
}

// DiscountAmount converts a discount into a minor-unit amount against the
// given subtotal. Percentage values round half up. The result is always
// clamped to [0, subtotal].
func (e *CartPricingEngine) DiscountAmount(discount *domain.Discount, subtotal int64) int64 {
	if discount == nil || subtotal <= 0 {
		return 0
	}

	var amount int64
	switch discount.Kind {
	case domain.DiscountKindPercentage:
		value := discount.Value
		if value <= 0 {
			return 0
		}
		if value > 100 {
			value = 100
		}
		// Round half up on the percentage product.
		amount = (subtotal*value + 50) / 100
	case domain.DiscountKindFixed:
		amount = discount.Value
	default:
		return 0
	}

	if amount < 0 {
		return 0
	}
	if amount > subtotal {
		return subtotal
	}
	return amount
}

// Quote prices a full cart. GrandTotal never drops below zero.
func (e *CartPricingEngine) Quote(items []domain.CartItem, discount *domain.Discount) (domain.PricingBreakdown, error) {
	subtotal, err := e.Subtotal(items)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}

	shipping := e.ShippingCost(subtotal)
	discountAmount := e.DiscountAmount(discount, subtotal)

	grandTotal := subtotal + shipping - discountAmount
	if grandTotal < 0 {
		grandTotal = 0
	}

	return domain.PricingBreakdown{
		Currency:   e.currency,
		Subtotal:   subtotal,
		Shipping:   shipping,
		Discount:   discountAmount,
		GrandTotal: grandTotal,
	}, nil
}
