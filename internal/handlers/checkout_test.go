package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hearthside/api/internal/domain"
	"github.com/hearthside/api/internal/platform/auth"
	"github.com/hearthside/api/internal/services"
)

type stubCheckoutService struct {
	order   domain.Order
	err     error
	lastCmd services.PlaceOrderCommand
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (domain.Order, error) {
	s.lastCmd = cmd
	if s.err != nil {
		return domain.Order{}, s.err
	}
	return s.order, nil
}

func newCheckoutTestRouter(svc services.CheckoutService) chi.Router {
	r := chi.NewRouter()
	NewCheckoutHandlers(svc).Routes(r)
	return r
}

const checkoutBody = `{
	"address": {
		"name": "Quinn Harper",
		"line1": "12 Kiln Lane",
		"city": "Portland",
		"postalCode": "97205",
		"country": "US"
	},
	"discountCode": "WELCOME10",
	"note": "gift wrap please"
}`

func TestCheckoutHandlersPlaceOrder(t *testing.T) {
	placed := time.Date(2026, time.June, 15, 11, 30, 0, 0, time.UTC)
	svc := &stubCheckoutService{
		order: domain.Order{
			ID:     "ord-1",
			Number: "HS-20260615-0042",
			Status: domain.OrderStatusPendingReview,
			Pricing: domain.PricingBreakdown{
				Currency:   "USD",
				Subtotal:   10000,
				Discount:   1000,
				GrandTotal: 9000,
			},
			StatusHistory: []domain.StatusChange{{Status: domain.OrderStatusPendingReview, At: placed}},
			PlacedAt:      placed,
		},
	}
	router := newCheckoutTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/c1", strings.NewReader(checkoutBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.lastCmd.CartID != "c1" || svc.lastCmd.DiscountCode != "WELCOME10" {
		t.Fatalf("unexpected command %+v", svc.lastCmd)
	}
	if svc.lastCmd.Address.PostalCode != "97205" {
		t.Fatalf("address not forwarded: %+v", svc.lastCmd.Address)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Order.Number != "HS-20260615-0042" || body.Order.Status != domain.OrderStatusPendingReview {
		t.Fatalf("unexpected order payload %+v", body.Order)
	}
	if body.Order.Pricing.GrandTotal != 9000 {
		t.Fatalf("grand total = %d", body.Order.Pricing.GrandTotal)
	}
}

func TestCheckoutHandlersIdentityOverridesBody(t *testing.T) {
	svc := &stubCheckoutService{order: domain.Order{ID: "ord-1", Status: domain.OrderStatusPendingReview}}
	router := newCheckoutTestRouter(svc)

	body := `{
		"address": {
			"name": "Quinn Harper",
			"line1": "12 Kiln Lane",
			"city": "Portland",
			"postalCode": "97205",
			"country": "US"
		},
		"customerEmail": "spoofed@example.com"
	}`
	req := httptest.NewRequest(http.MethodPost, "/c1", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{
		UID:   "uid-1",
		Email: "buyer@example.com",
		Roles: []string{auth.RoleUser},
	}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.lastCmd.CustomerID != "uid-1" {
		t.Fatalf("customer id = %q", svc.lastCmd.CustomerID)
	}
	if svc.lastCmd.CustomerEmail != "buyer@example.com" {
		t.Fatalf("verified email must win over the body, got %q", svc.lastCmd.CustomerEmail)
	}
}

func TestCheckoutHandlersAnonymousKeepsBodyEmail(t *testing.T) {
	svc := &stubCheckoutService{order: domain.Order{ID: "ord-1", Status: domain.OrderStatusPendingReview}}
	router := newCheckoutTestRouter(svc)

	body := `{
		"address": {
			"name": "Quinn Harper",
			"line1": "12 Kiln Lane",
			"city": "Portland",
			"postalCode": "97205",
			"country": "US"
		},
		"customerEmail": "guest@example.com"
	}`
	req := httptest.NewRequest(http.MethodPost, "/c1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.lastCmd.CustomerID != "" {
		t.Fatalf("guest checkout must not carry a customer id, got %q", svc.lastCmd.CustomerID)
	}
	if svc.lastCmd.CustomerEmail != "guest@example.com" {
		t.Fatalf("customer email = %q", svc.lastCmd.CustomerEmail)
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "empty cart", err: services.ErrCheckoutEmptyCart, status: http.StatusUnprocessableEntity},
		{name: "invalid address", err: services.ErrCheckoutInvalidAddress, status: http.StatusBadRequest},
		{name: "discount rejected", err: services.ErrCheckoutDiscountRejected, status: http.StatusUnprocessableEntity},
		{name: "cart missing", err: services.ErrCartNotFound, status: http.StatusNotFound},
		{name: "unavailable", err: services.ErrCheckoutUnavailable, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newCheckoutTestRouter(&stubCheckoutService{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/c1", strings.NewReader(checkoutBody))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}
