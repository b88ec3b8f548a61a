package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	domain "github.com/hearthside/api/internal/domain"
)

func validAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:       "Quinn Harper",
		Line1:      "12 Kiln Lane",
		City:       "Portland",
		PostalCode: "97205",
		Country:    "us",
	}
}

type checkoutFixture struct {
	carts     CartService
	cartRepo  *stubCartRepository
	discounts *stubDiscountRepository
	orders    *stubOrderRepository
	publisher *recordingPublisher
	audit     *recordingAudit
	svc       CheckoutService
	now       time.Time
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	now := time.Date(2026, time.June, 15, 11, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	discountRepo := &stubDiscountRepository{
		discount: domain.Discount{
			Code:   "WELCOME10",
			Kind:   domain.DiscountKindPercentage,
			Value:  10,
			Active: true,
		},
	}
	discounts, err := NewDiscountService(DiscountServiceDeps{Discounts: discountRepo, Clock: clock})
	if err != nil {
		t.Fatalf("NewDiscountService: %v", err)
	}

	pricing, err := NewCartPricingEngine(PricingEngineDeps{
		Currency:              "USD",
		FreeShippingThreshold: 10000,
		FlatShippingRate:      700,
	})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}

	cartRepo := newStubCartRepository()
	carts, err := NewCartService(CartServiceDeps{
		Carts:     cartRepo,
		Discounts: discounts,
		Pricing:   pricing,
		Clock:     clock,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	orders := newStubOrderRepository()
	publisher := &recordingPublisher{}
	audit := &recordingAudit{}

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:        carts,
		Discounts:    discounts,
		Pricing:      pricing,
		Orders:       orders,
		Clock:        clock,
		IDGenerator:  func() string { return "ord-test" },
		NumberPrefix: "HS",
		Publisher:    publisher,
		Audit:        audit,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	return &checkoutFixture{
		carts:     carts,
		cartRepo:  cartRepo,
		discounts: discountRepo,
		orders:    orders,
		publisher: publisher,
		audit:     audit,
		svc:       svc,
		now:       now,
	}
}

func (f *checkoutFixture) seedCart(t *testing.T, items ...domain.CartItem) {
	t.Helper()
	for _, item := range items {
		if _, err := f.carts.AddItem(context.Background(), AddCartItemCommand{CartID: "c1", Item: item}); err != nil {
			t.Fatalf("seed cart: %v", err)
		}
	}
}

func TestCheckoutService_PlaceOrder_Success(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t,
		domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400},
		domain.CartItem{ProductID: "plate", Quantity: 1, UnitPrice: 5200},
	)

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:       "c1",
		Address:      validAddress(),
		DiscountCode: " welcome10 ",
		Note:         "please gift wrap",
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPendingReview {
		t.Fatalf("status = %q", order.Status)
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Status != domain.OrderStatusPendingReview {
		t.Fatalf("unexpected initial history %+v", order.StatusHistory)
	}
	if !order.PlacedAt.Equal(f.now) {
		t.Fatalf("placedAt = %v", order.PlacedAt)
	}

	// Subtotal 10000 ships free; 10% discount.
	if order.Pricing.Subtotal != 10000 || order.Pricing.Shipping != 0 {
		t.Fatalf("unexpected pricing %+v", order.Pricing)
	}
	if order.Pricing.Discount != 1000 || order.Pricing.GrandTotal != 9000 {
		t.Fatalf("unexpected totals %+v", order.Pricing)
	}
	if order.DiscountCode != "WELCOME10" {
		t.Fatalf("discount code %q", order.DiscountCode)
	}

	wantNumber := regexp.MustCompile(`^HS-20260615-\d{4}$`)
	if !wantNumber.MatchString(order.Number) {
		t.Fatalf("order number %q does not match pattern", order.Number)
	}

	if len(f.discounts.increments) != 1 || f.discounts.increments[0] != "WELCOME10" {
		t.Fatalf("usage not incremented: %v", f.discounts.increments)
	}
	if len(f.cartRepo.carts["c1"].Items) != 0 {
		t.Fatalf("cart not cleared after checkout")
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != OrderEventPlaced {
		t.Fatalf("unexpected events %+v", f.publisher.events)
	}
	if len(f.audit.records) == 0 || f.audit.records[0].Action != "order.placed" {
		t.Fatalf("audit entry missing: %+v", f.audit.records)
	}
	if f.orders.orders["ord-test"].Number != order.Number {
		t.Fatalf("order not persisted")
	}
}

func TestCheckoutService_PlaceOrder_EmptyCart(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:  "c1",
		Address: validAddress(),
	})
	if !errors.Is(err, ErrCheckoutEmptyCart) {
		t.Fatalf("expected ErrCheckoutEmptyCart got %v", err)
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("no order should be created")
	}
}

func TestCheckoutService_PlaceOrder_InvalidAddress(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t, domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 2400})

	cases := []struct {
		name   string
		mutate func(addr *domain.ShippingAddress)
	}{
		{name: "missing name", mutate: func(a *domain.ShippingAddress) { a.Name = " " }},
		{name: "missing line1", mutate: func(a *domain.ShippingAddress) { a.Line1 = "" }},
		{name: "missing city", mutate: func(a *domain.ShippingAddress) { a.City = "" }},
		{name: "bad postal code", mutate: func(a *domain.ShippingAddress) { a.PostalCode = "!!" }},
		{name: "bad country", mutate: func(a *domain.ShippingAddress) { a.Country = "USA" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr := validAddress()
			tc.mutate(&addr)

			_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{CartID: "c1", Address: addr})
			if !errors.Is(err, ErrCheckoutInvalidAddress) {
				t.Fatalf("expected ErrCheckoutInvalidAddress got %v", err)
			}
		})
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("no order should be created")
	}
	if len(f.cartRepo.carts["c1"].Items) == 0 {
		t.Fatalf("cart must stay intact after rejection")
	}
}

func TestCheckoutService_PlaceOrder_DiscountReValidationRejects(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t, domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 2400})
	f.discounts.discount.Active = false

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:       "c1",
		Address:      validAddress(),
		DiscountCode: "WELCOME10",
	})
	if !errors.Is(err, ErrCheckoutDiscountRejected) {
		t.Fatalf("expected ErrCheckoutDiscountRejected got %v", err)
	}
	if len(f.discounts.increments) != 0 {
		t.Fatalf("rejected discount must not be redeemed")
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("no order should be created")
	}
}

func TestCheckoutService_PlaceOrder_UsesCartPinnedDiscount(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t, domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400})

	if _, err := f.carts.ApplyDiscount(context.Background(), "c1", "WELCOME10"); err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:  "c1",
		Address: validAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.DiscountCode != "WELCOME10" {
		t.Fatalf("pinned discount not applied, code = %q", order.DiscountCode)
	}
	if order.Pricing.Discount != 480 {
		t.Fatalf("discount = %d want 480", order.Pricing.Discount)
	}
	if len(f.discounts.increments) != 1 || f.discounts.increments[0] != "WELCOME10" {
		t.Fatalf("usage not incremented: %v", f.discounts.increments)
	}
}

func TestCheckoutService_PlaceOrder_RequestCodeOverridesPinned(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t, domain.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 2400})

	if _, err := f.carts.ApplyDiscount(context.Background(), "c1", "WELCOME10"); err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	f.discounts.discount.Code = "SPRING"

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:       "c1",
		Address:      validAddress(),
		DiscountCode: "SPRING",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.DiscountCode != "SPRING" {
		t.Fatalf("request code must win, got %q", order.DiscountCode)
	}
}

func TestCheckoutService_PlaceOrder_CarriesCustomerIdentity(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t, domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 2400})

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:        "c1",
		Address:       validAddress(),
		CustomerID:    " uid-123 ",
		CustomerEmail: "quinn@example.com",
		CustomerName:  "Quinn Harper",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.CustomerID != "uid-123" {
		t.Fatalf("customer id = %q", order.CustomerID)
	}
	if order.CustomerEmail != "quinn@example.com" {
		t.Fatalf("customer email = %q", order.CustomerEmail)
	}
	if order.CustomerName != "Quinn Harper" {
		t.Fatalf("customer name = %q", order.CustomerName)
	}
	if stored := f.orders.orders["ord-test"]; stored.CustomerID != "uid-123" {
		t.Fatalf("customer id not persisted: %+v", stored)
	}
}

func TestCheckoutService_PlaceOrder_NoPartialCommitOnCreateFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t, domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 2400})
	f.orders.err = &stubRepoError{unavailable: true}

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:       "c1",
		Address:      validAddress(),
		DiscountCode: "WELCOME10",
	})
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable got %v", err)
	}
	if len(f.discounts.increments) != 0 {
		t.Fatalf("usage must not be incremented when the order fails")
	}
	if len(f.cartRepo.carts["c1"].Items) != 1 {
		t.Fatalf("cart must stay intact when the order fails")
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("no events on failure")
	}
}

func TestCheckoutService_PlaceOrder_RetriesNumberCollision(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t, domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 2400})

	suffixes := []string{"0001", "0001", "0002"}
	var calls int
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:     f.carts,
		Discounts: mustDiscountService(t, f.discounts),
		Pricing:   mustPricingEngine(t),
		Orders:    f.orders,
		Clock:     func() time.Time { return f.now },
		NumberSuffix: func() string {
			suffix := suffixes[calls%len(suffixes)]
			calls++
			return suffix
		},
		IDGenerator: func() string {
			return "ord-" + time.Now().Format("150405.000000000")
		},
		NumberPrefix: "HS",
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	// Occupy HS-20260615-0001 so the first attempt conflicts.
	f.orders.numbers["HS-20260615-0001"] = "existing"

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:  "c1",
		Address: validAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Number != "HS-20260615-0002" {
		t.Fatalf("expected retried number, got %q", order.Number)
	}
}

func TestCheckoutService_PlaceOrder_BestEffortTailFailuresKeepOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedCart(t, domain.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 2400})
	f.publisher.err = errors.New("broker down")

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:  "c1",
		Address: validAddress(),
	})
	if err != nil {
		t.Fatalf("publish failure must not fail the checkout: %v", err)
	}
	if _, ok := f.orders.orders[order.ID]; !ok {
		t.Fatalf("order should be persisted")
	}
}

func mustDiscountService(t *testing.T, repo *stubDiscountRepository) DiscountService {
	t.Helper()
	svc, err := NewDiscountService(DiscountServiceDeps{Discounts: repo})
	if err != nil {
		t.Fatalf("NewDiscountService: %v", err)
	}
	return svc
}

func mustPricingEngine(t *testing.T) *CartPricingEngine {
	t.Helper()
	engine, err := NewCartPricingEngine(PricingEngineDeps{
		Currency:              "USD",
		FreeShippingThreshold: 10000,
		FlatShippingRate:      700,
	})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}
	return engine
}
