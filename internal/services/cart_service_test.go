package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hearthside/api/internal/domain"
)

type stubCartRepository struct {
	carts map[string]domain.Cart
	err   error
	saves int
}

func newStubCartRepository() *stubCartRepository {
	return &stubCartRepository{carts: make(map[string]domain.Cart)}
}

func (s *stubCartRepository) Get(_ context.Context, cartID string) (domain.Cart, error) {
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	cart, ok := s.carts[cartID]
	if !ok {
		return domain.Cart{}, &stubRepoError{notFound: true}
	}
	return cart, nil
}

func (s *stubCartRepository) Save(_ context.Context, cart domain.Cart) error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.carts[cart.ID] = cart
	return nil
}

func (s *stubCartRepository) Delete(_ context.Context, cartID string) error {
	if s.err != nil {
		return s.err
	}
	delete(s.carts, cartID)
	return nil
}

type stubDiscountService struct {
	result   DiscountValidationResult
	err      error
	redeemed []string
}

func (s *stubDiscountService) Validate(_ context.Context, code string, _ int64) (DiscountValidationResult, error) {
	if s.err != nil {
		return DiscountValidationResult{}, s.err
	}
	result := s.result
	if result.Code == "" {
		result.Code = NormalizeDiscountCode(code)
	}
	return result, nil
}

func (s *stubDiscountService) Redeem(_ context.Context, code string) error {
	s.redeemed = append(s.redeemed, code)
	return nil
}

func newTestCartService(t *testing.T, repo *stubCartRepository) CartService {
	return newTestCartServiceWithDiscounts(t, repo, &stubDiscountService{
		result: DiscountValidationResult{Applicable: false, Reason: domain.DiscountReasonNotFound},
	})
}

func newTestCartServiceWithDiscounts(t *testing.T, repo *stubCartRepository, discounts DiscountService) CartService {
	t.Helper()
	pricing, err := NewCartPricingEngine(PricingEngineDeps{
		Currency:              "USD",
		FreeShippingThreshold: 10000,
		FlatShippingRate:      700,
	})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	svc, err := NewCartService(CartServiceDeps{
		Carts:       repo,
		Discounts:   discounts,
		Pricing:     pricing,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "cart-01" },
		Currency:    "usd",
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartService_GetOrCreateCart_CreatesOnMissing(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo)

	cart, err := svc.GetOrCreateCart(context.Background(), "visitor-7")
	if err != nil {
		t.Fatalf("GetOrCreateCart returned error: %v", err)
	}
	if cart.ID != "visitor-7" {
		t.Fatalf("unexpected cart id %q", cart.ID)
	}
	if cart.Currency != "USD" {
		t.Fatalf("currency not normalized: %q", cart.Currency)
	}
	if !cart.IsEmpty() {
		t.Fatalf("new cart should be empty")
	}
	if _, ok := repo.carts["visitor-7"]; !ok {
		t.Fatalf("new cart not persisted")
	}
}

func TestCartService_AddItem_MergesMatchingLines(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo)

	item := domain.CartItem{
		ProductID: "mug-classic",
		Name:      "Classic Mug",
		Variants:  map[string]string{"size": "L", "glaze": "ash"},
		Quantity:  1,
		UnitPrice: 2400,
	}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	// Same product, same variants in different key order, different casing.
	again := domain.CartItem{
		ProductID: " MUG-CLASSIC ",
		Variants:  map[string]string{"glaze": "ash", "size": "L"},
		Quantity:  2,
		UnitPrice: 2400,
	}
	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: again})
	if err != nil {
		t.Fatalf("AddItem merge: %v", err)
	}

	if len(cart.Items) != 1 {
		t.Fatalf("expected one merged line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 3 {
		t.Fatalf("merged quantity = %d want 3", cart.Items[0].Quantity)
	}
}

func TestCartService_AddItem_DifferentVariantsStaySeparate(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo)

	base := domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 2400}
	large := base
	large.Variants = map[string]string{"size": "L"}
	small := base
	small.Variants = map[string]string{"size": "S"}

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: large}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: small})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	if len(cart.Items) != 2 {
		t.Fatalf("expected two lines, got %d", len(cart.Items))
	}
}

func TestCartService_AddItem_Validation(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo)

	cases := []domain.CartItem{
		{ProductID: "", Quantity: 1, UnitPrice: 100},
		{ProductID: "mug", Quantity: 0, UnitPrice: 100},
		{ProductID: "mug", Quantity: 1, UnitPrice: -1},
	}
	for _, item := range cases {
		if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); !errors.Is(err, ErrCartInvalidItem) {
			t.Fatalf("expected ErrCartInvalidItem for %+v, got %v", item, err)
		}
	}
}

func TestCartService_UpdateItemQuantity(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo)

	item := domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cart, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		CartID: "c1", ProductID: "mug", Quantity: 5,
	})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if cart.Items[0].Quantity != 5 {
		t.Fatalf("quantity = %d want 5", cart.Items[0].Quantity)
	}

	cart, err = svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		CartID: "c1", ProductID: "mug", Quantity: 0,
	})
	if err != nil {
		t.Fatalf("UpdateItemQuantity to zero: %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("zero quantity should remove the line")
	}

	if _, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		CartID: "c1", ProductID: "missing", Quantity: 1,
	}); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound got %v", err)
	}
}

func TestCartService_ClearCart(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo)

	item := domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	if err := svc.ClearCart(context.Background(), "c1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if len(repo.carts["c1"].Items) != 0 {
		t.Fatalf("cart not emptied")
	}

	// Clearing an unknown cart is a no-op.
	if err := svc.ClearCart(context.Background(), "ghost"); err != nil {
		t.Fatalf("ClearCart on missing cart: %v", err)
	}
}

func TestCartService_ApplyDiscount_PinsCodeAndAmount(t *testing.T) {
	repo := newStubCartRepository()
	discounts := &stubDiscountService{
		result: DiscountValidationResult{
			Code:       "TEN",
			Applicable: true,
			Discount:   &domain.Discount{Code: "TEN", Kind: domain.DiscountKindPercentage, Value: 10},
		},
	}
	svc := newTestCartServiceWithDiscounts(t, repo, discounts)

	item := domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cart, err := svc.ApplyDiscount(context.Background(), "c1", "ten")
	if err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if cart.DiscountCode != "TEN" {
		t.Fatalf("discount code = %q want TEN", cart.DiscountCode)
	}
	if cart.DiscountAmount != 480 {
		t.Fatalf("discount amount = %d want 480", cart.DiscountAmount)
	}
	if stored := repo.carts["c1"]; stored.DiscountCode != "TEN" || stored.DiscountAmount != 480 {
		t.Fatalf("discount not persisted: %+v", stored)
	}
}

func TestCartService_ApplyDiscount_Rejected(t *testing.T) {
	repo := newStubCartRepository()
	discounts := &stubDiscountService{
		result: DiscountValidationResult{Code: "SMALL", Applicable: false, Reason: domain.DiscountReasonBelowMinimum},
	}
	svc := newTestCartServiceWithDiscounts(t, repo, discounts)

	item := domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 500}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	if _, err := svc.ApplyDiscount(context.Background(), "c1", "SMALL"); !errors.Is(err, ErrCartDiscountRejected) {
		t.Fatalf("expected ErrCartDiscountRejected got %v", err)
	}
	if stored := repo.carts["c1"]; stored.DiscountCode != "" {
		t.Fatalf("rejected code must not be pinned: %+v", stored)
	}
}

func TestCartService_ApplyDiscount_UnknownCart(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo)

	if _, err := svc.ApplyDiscount(context.Background(), "ghost", "TEN"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound got %v", err)
	}
}

func TestCartService_RemoveDiscount(t *testing.T) {
	repo := newStubCartRepository()
	discounts := &stubDiscountService{
		result: DiscountValidationResult{
			Code:       "OFF5",
			Applicable: true,
			Discount:   &domain.Discount{Code: "OFF5", Kind: domain.DiscountKindFixed, Value: 500},
		},
	}
	svc := newTestCartServiceWithDiscounts(t, repo, discounts)

	item := domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.ApplyDiscount(context.Background(), "c1", "OFF5"); err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}

	cart, err := svc.RemoveDiscount(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RemoveDiscount: %v", err)
	}
	if cart.DiscountCode != "" || cart.DiscountAmount != 0 {
		t.Fatalf("discount not removed: %+v", cart)
	}

	// Removing again is a no-op.
	saves := repo.saves
	if _, err := svc.RemoveDiscount(context.Background(), "c1"); err != nil {
		t.Fatalf("RemoveDiscount twice: %v", err)
	}
	if repo.saves != saves {
		t.Fatalf("no-op removal must not persist")
	}
}

func TestCartService_ItemMutationCapsPinnedDiscount(t *testing.T) {
	repo := newStubCartRepository()
	discounts := &stubDiscountService{
		result: DiscountValidationResult{
			Code:       "BIG",
			Applicable: true,
			Discount:   &domain.Discount{Code: "BIG", Kind: domain.DiscountKindFixed, Value: 5000},
		},
	}
	svc := newTestCartServiceWithDiscounts(t, repo, discounts)

	item := domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	// Fixed 5000 against subtotal 4800 pins 4800.
	cart, err := svc.ApplyDiscount(context.Background(), "c1", "BIG")
	if err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if cart.DiscountAmount != 4800 {
		t.Fatalf("pinned amount = %d want 4800", cart.DiscountAmount)
	}

	// Dropping to one mug shrinks the cap to subtotal 2400 plus shipping 700.
	cart, err = svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		CartID: "c1", ProductID: "mug", Quantity: 1,
	})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if cart.DiscountAmount != 3100 {
		t.Fatalf("capped amount = %d want 3100", cart.DiscountAmount)
	}
	if cart.DiscountCode != "BIG" {
		t.Fatalf("code must survive the cap: %q", cart.DiscountCode)
	}
}

func TestCartService_ClearCartDropsDiscount(t *testing.T) {
	repo := newStubCartRepository()
	discounts := &stubDiscountService{
		result: DiscountValidationResult{
			Code:       "TEN",
			Applicable: true,
			Discount:   &domain.Discount{Code: "TEN", Kind: domain.DiscountKindPercentage, Value: 10},
		},
	}
	svc := newTestCartServiceWithDiscounts(t, repo, discounts)

	item := domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.ApplyDiscount(context.Background(), "c1", "TEN"); err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}

	if err := svc.ClearCart(context.Background(), "c1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	stored := repo.carts["c1"]
	if stored.DiscountCode != "" || stored.DiscountAmount != 0 {
		t.Fatalf("clear must drop the discount: %+v", stored)
	}
}

func TestCartService_SubscribeNotifiesOnMutation(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo)

	var seen []domain.Cart
	unsubscribe := svc.Subscribe(func(cart domain.Cart) {
		seen = append(seen, cart)
	})

	item := domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 2400}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one notification, got %d", len(seen))
	}
	if len(seen[0].Items) != 1 || seen[0].Items[0].ProductID != "mug" {
		t.Fatalf("unexpected notified cart %+v", seen[0])
	}

	// Observers get a defensive copy.
	seen[0].Items[0].Quantity = 99
	if repo.carts["c1"].Items[0].Quantity != 1 {
		t.Fatalf("observer mutation leaked into the stored cart")
	}

	unsubscribe()
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("unsubscribed observer still notified")
	}
}

func TestCartService_GetOrCreateCart_UnavailableRepo(t *testing.T) {
	repo := newStubCartRepository()
	repo.err = &stubRepoError{unavailable: true}
	svc := newTestCartService(t, repo)

	if _, err := svc.GetOrCreateCart(context.Background(), "c1"); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable got %v", err)
	}
}
