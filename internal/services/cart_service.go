package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hearthside/api/internal/platform/textutil"
	"github.com/hearthside/api/internal/repositories"
)

var (
	// ErrCartIDRequired indicates a missing cart identifier.
	ErrCartIDRequired = errors.New("cart: cart id is required")
	// ErrCartInvalidItem indicates a line that fails validation.
	ErrCartInvalidItem = errors.New("cart: invalid item")
	// ErrCartNotFound indicates that no snapshot exists for the cart id.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartItemNotFound indicates that no line matches the given product
	// and variant selection.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartUnavailable indicates a persistence failure.
	ErrCartUnavailable = errors.New("cart: store unavailable")
	// ErrCartDiscountRejected indicates a code that does not apply to the
	// cart's current contents.
	ErrCartDiscountRejected = errors.New("cart: discount not applicable")
)

// CartServiceDeps bundles constructor inputs for the cart store.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Discounts   DiscountService
	Pricing     *CartPricingEngine
	Clock       func() time.Time
	IDGenerator func() string
	Currency    string
}

type cartService struct {
	carts       repositories.CartRepository
	discounts   DiscountService
	pricing     *CartPricingEngine
	clock       func() time.Time
	idGenerator func() string
	currency    string

	mu          sync.Mutex
	observers   map[uint64]CartObserver
	nextObserve uint64
}

// NewCartService validates deps and constructs the cart store.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("cart service: discount service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing engine is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGenerator := deps.IDGenerator
	if idGenerator == nil {
		idGenerator = func() string { return ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if len(currency) != 3 {
		return nil, errors.New("cart service: currency must be a 3-letter code")
	}
	return &cartService{
		carts:       deps.Carts,
		discounts:   deps.Discounts,
		pricing:     deps.Pricing,
		clock:       func() time.Time { return clock().UTC() },
		idGenerator: idGenerator,
		currency:    currency,
		observers:   make(map[uint64]CartObserver),
	}, nil
}

// GetOrCreateCart loads a cart, creating an empty one when the id is unknown.
// A blank id mints a fresh cart with a generated id.
func (s *cartService) GetOrCreateCart(ctx context.Context, cartID string) (Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		cart := s.newCart(s.idGenerator())
		if err := s.persist(ctx, &cart); err != nil {
			return Cart{}, err
		}
		return cloneCart(cart), nil
	}

	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			cart = s.newCart(cartID)
			if err := s.persist(ctx, &cart); err != nil {
				return Cart{}, err
			}
			return cloneCart(cart), nil
		}
		return Cart{}, translateCartRepoError("get cart", err)
	}
	return cloneCart(cart), nil
}

// AddItem merges the line into the cart, summing quantities when the product
// and variant selection match an existing line.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	item, err := normalizeCartItem(cmd.Item)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.CartID)
	if err != nil {
		return Cart{}, err
	}

	matchIdx := findCartLine(cart.Items, item.ProductID, item.Variants)
	if matchIdx >= 0 {
		cart.Items[matchIdx].Quantity += item.Quantity
		if item.Name != "" {
			cart.Items[matchIdx].Name = item.Name
		}
		// Later adds win on price, matching last-write-wins elsewhere.
		cart.Items[matchIdx].UnitPrice = item.UnitPrice
	} else {
		cart.Items = append(cart.Items, item)
	}

	if err := s.capDiscount(&cart); err != nil {
		return Cart{}, err
	}
	if err := s.persist(ctx, &cart); err != nil {
		return Cart{}, err
	}
	s.notify(cart)
	return cloneCart(cart), nil
}

// UpdateItemQuantity sets the quantity of an existing line; zero removes it.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if cmd.Quantity < 0 {
		return Cart{}, fmt.Errorf("%w: quantity must not be negative", ErrCartInvalidItem)
	}

	cart, err := s.loadCart(ctx, cmd.CartID)
	if err != nil {
		return Cart{}, err
	}

	variants := textutil.NormalizeStringMap(cmd.Variants)
	matchIdx := findCartLine(cart.Items, strings.TrimSpace(cmd.ProductID), variants)
	if matchIdx < 0 {
		return Cart{}, fmt.Errorf("%w: product %q", ErrCartItemNotFound, strings.TrimSpace(cmd.ProductID))
	}

	if cmd.Quantity == 0 {
		cart.Items = append(cart.Items[:matchIdx], cart.Items[matchIdx+1:]...)
	} else {
		cart.Items[matchIdx].Quantity = cmd.Quantity
	}

	if err := s.capDiscount(&cart); err != nil {
		return Cart{}, err
	}
	if err := s.persist(ctx, &cart); err != nil {
		return Cart{}, err
	}
	s.notify(cart)
	return cloneCart(cart), nil
}

// RemoveItem drops the matching line from the cart.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	return s.UpdateItemQuantity(ctx, UpdateCartItemCommand{
		CartID:    cmd.CartID,
		ProductID: cmd.ProductID,
		Variants:  cmd.Variants,
		Quantity:  0,
	})
}

// ClearCart empties the cart while keeping its id and currency. Any pinned
// discount is dropped with the items.
func (s *cartService) ClearCart(ctx context.Context, cartID string) error {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		// Clearing a cart that never existed is a no-op.
		if errors.Is(err, ErrCartNotFound) {
			return nil
		}
		return err
	}

	cart.Items = nil
	cart.DiscountCode = ""
	cart.DiscountAmount = 0
	if err := s.persist(ctx, &cart); err != nil {
		return err
	}
	s.notify(cart)
	return nil
}

// ApplyDiscount validates the code against the cart's current subtotal and
// pins it to the cart. The pinned amount is recomputed here and capped so it
// never exceeds subtotal plus shipping; checkout re-validates the code
// against live state before the order is placed.
func (s *cartService) ApplyDiscount(ctx context.Context, cartID, code string) (Cart, error) {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}

	subtotal, err := s.pricing.Subtotal(cart.Items)
	if err != nil {
		return Cart{}, err
	}

	result, err := s.discounts.Validate(ctx, code, subtotal)
	if err != nil {
		return Cart{}, err
	}
	if !result.Applicable {
		return Cart{}, fmt.Errorf("%w: %s (%s)", ErrCartDiscountRejected, result.Code, result.Reason)
	}

	amount := s.pricing.DiscountAmount(result.Discount, subtotal)
	if limit := subtotal + s.pricing.ShippingCost(subtotal); amount > limit {
		amount = limit
	}
	cart.DiscountCode = result.Code
	cart.DiscountAmount = amount

	if err := s.persist(ctx, &cart); err != nil {
		return Cart{}, err
	}
	s.notify(cart)
	return cloneCart(cart), nil
}

// RemoveDiscount unpins the discount from the cart. Removing from a cart
// without one is a no-op that still returns the cart.
func (s *cartService) RemoveDiscount(ctx context.Context, cartID string) (Cart, error) {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}

	if cart.DiscountCode == "" && cart.DiscountAmount == 0 {
		return cloneCart(cart), nil
	}

	cart.DiscountCode = ""
	cart.DiscountAmount = 0
	if err := s.persist(ctx, &cart); err != nil {
		return Cart{}, err
	}
	s.notify(cart)
	return cloneCart(cart), nil
}

// Subscribe registers an observer called synchronously after every
// successful mutation. The returned function removes the registration.
func (s *cartService) Subscribe(observer CartObserver) func() {
	if observer == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextObserve
	s.nextObserve++
	s.observers[id] = observer
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *cartService) notify(cart Cart) {
	s.mu.Lock()
	observers := make([]CartObserver, 0, len(s.observers))
	for _, observer := range s.observers {
		observers = append(observers, observer)
	}
	s.mu.Unlock()

	for _, observer := range observers {
		observer(cloneCart(cart))
	}
}

func (s *cartService) newCart(cartID string) Cart {
	return Cart{
		ID:        cartID,
		Currency:  s.currency,
		UpdatedAt: s.clock(),
	}
}

func (s *cartService) loadCart(ctx context.Context, cartID string) (Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return Cart{}, ErrCartIDRequired
	}
	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return Cart{}, translateCartRepoError("get cart", err)
	}
	return cart, nil
}

// capDiscount keeps a pinned discount amount within the cart's subtotal plus
// shipping after the items change. A cart with no pinned code carries no
// amount.
func (s *cartService) capDiscount(cart *Cart) error {
	if cart.DiscountCode == "" {
		cart.DiscountAmount = 0
		return nil
	}
	subtotal, err := s.pricing.Subtotal(cart.Items)
	if err != nil {
		return err
	}
	if limit := subtotal + s.pricing.ShippingCost(subtotal); cart.DiscountAmount > limit {
		cart.DiscountAmount = limit
	}
	return nil
}

// persist stamps the cart and saves the snapshot unconditionally. Concurrent
// writers resolve last-write-wins; there is no optimistic precondition.
func (s *cartService) persist(ctx context.Context, cart *Cart) error {
	cart.UpdatedAt = s.clock()
	if err := s.carts.Save(ctx, *cart); err != nil {
		return translateCartRepoError("save cart", err)
	}
	return nil
}

func normalizeCartItem(item CartItem) (CartItem, error) {
	item.ProductID = strings.TrimSpace(item.ProductID)
	item.Name = strings.TrimSpace(item.Name)
	item.Variants = textutil.NormalizeStringMap(item.Variants)
	if item.ProductID == "" {
		return CartItem{}, fmt.Errorf("%w: product id is required", ErrCartInvalidItem)
	}
	if item.Quantity <= 0 {
		return CartItem{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidItem)
	}
	if item.UnitPrice < 0 {
		return CartItem{}, fmt.Errorf("%w: unit price must not be negative", ErrCartInvalidItem)
	}
	return item, nil
}

// findCartLine locates the line matching the product (case-insensitive) and
// the exact variant selection.
func findCartLine(items []CartItem, productID string, variants map[string]string) int {
	for i := range items {
		if !strings.EqualFold(strings.TrimSpace(items[i].ProductID), productID) {
			continue
		}
		if !maps.Equal(textutil.NormalizeStringMap(items[i].Variants), variants) {
			continue
		}
		return i
	}
	return -1
}

func translateCartRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrCartNotFound, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrCartUnavailable, op, err)
}

func cloneCart(cart Cart) Cart {
	out := cart
	out.Items = cloneCartItems(cart.Items)
	return out
}

func cloneCartItems(items []CartItem) []CartItem {
	if items == nil {
		return nil
	}
	out := make([]CartItem, len(items))
	for i, item := range items {
		out[i] = item
		if item.Variants != nil {
			out[i].Variants = maps.Clone(item.Variants)
		}
	}
	return out
}
