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
	"github.com/hearthside/api/internal/services"
)

type stubCartService struct {
	cart    domain.Cart
	err     error
	lastCmd any
}

func (s *stubCartService) GetOrCreateCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return s.cart, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (domain.Cart, error) {
	s.lastCmd = cmd
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return s.cart, nil
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (domain.Cart, error) {
	s.lastCmd = cmd
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return s.cart, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (domain.Cart, error) {
	s.lastCmd = cmd
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return s.cart, nil
}

func (s *stubCartService) ClearCart(ctx context.Context, cartID string) error {
	return s.err
}

func (s *stubCartService) ApplyDiscount(ctx context.Context, cartID, code string) (domain.Cart, error) {
	s.lastCmd = code
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return s.cart, nil
}

func (s *stubCartService) RemoveDiscount(ctx context.Context, cartID string) (domain.Cart, error) {
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return s.cart, nil
}

func (s *stubCartService) Subscribe(observer services.CartObserver) func() {
	return func() {}
}

func newCartTestRouter(svc services.CartService) chi.Router {
	pricing, err := services.NewCartPricingEngine(services.PricingEngineDeps{
		Currency:              "USD",
		FreeShippingThreshold: 10000,
		FlatShippingRate:      700,
	})
	if err != nil {
		panic(err)
	}
	r := chi.NewRouter()
	NewCartHandlers(svc, pricing).Routes(r)
	return r
}

func TestCartHandlersGetCart(t *testing.T) {
	svc := &stubCartService{
		cart: domain.Cart{
			ID:       "c1",
			Currency: "USD",
			Items: []domain.CartItem{
				{ProductID: "mug", Quantity: 2, UnitPrice: 2400},
			},
			UpdatedAt: time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC),
		},
	}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/c1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Cart.ID != "c1" || body.Cart.ItemsCount != 1 {
		t.Fatalf("unexpected cart payload %+v", body.Cart)
	}
	if body.Cart.Items[0].LineTotal != 4800 {
		t.Fatalf("line total = %d", body.Cart.Items[0].LineTotal)
	}
	if body.Cart.Estimate == nil || body.Cart.Estimate.Subtotal != 4800 || body.Cart.Estimate.Shipping != 700 {
		t.Fatalf("unexpected estimate %+v", body.Cart.Estimate)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	svc := &stubCartService{cart: domain.Cart{ID: "c1", Currency: "USD"}}
	router := newCartTestRouter(svc)

	payload := `{"productId":"mug","variants":{"size":"M"},"quantity":1,"unitPrice":2400}`
	req := httptest.NewRequest(http.MethodPost, "/c1/items", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cmd, ok := svc.lastCmd.(services.AddCartItemCommand)
	if !ok {
		t.Fatalf("AddItem was not invoked")
	}
	if cmd.CartID != "c1" || cmd.Item.ProductID != "mug" || cmd.Item.Variants["size"] != "M" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestCartHandlersItemNotFound(t *testing.T) {
	svc := &stubCartService{err: services.ErrCartItemNotFound}
	router := newCartTestRouter(svc)

	payload := `{"productId":"mug","quantity":3}`
	req := httptest.NewRequest(http.MethodPatch, "/c1/items", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersApplyDiscount(t *testing.T) {
	svc := &stubCartService{
		cart: domain.Cart{
			ID:       "c1",
			Currency: "USD",
			Items: []domain.CartItem{
				{ProductID: "mug", Quantity: 2, UnitPrice: 2400},
			},
			DiscountCode:   "TEN",
			DiscountAmount: 480,
		},
	}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/c1/discount", strings.NewReader(`{"code":"ten"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if code, ok := svc.lastCmd.(string); !ok || code != "ten" {
		t.Fatalf("ApplyDiscount not invoked with raw code, got %v", svc.lastCmd)
	}

	var body cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Cart.DiscountCode != "TEN" || body.Cart.DiscountAmount != 480 {
		t.Fatalf("unexpected discount payload %+v", body.Cart)
	}
	if body.Cart.Estimate == nil || body.Cart.Estimate.Discount != 480 || body.Cart.Estimate.GrandTotal != 5020 {
		t.Fatalf("unexpected estimate %+v", body.Cart.Estimate)
	}
}

func TestCartHandlersApplyDiscountRejected(t *testing.T) {
	svc := &stubCartService{err: services.ErrCartDiscountRejected}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/c1/discount", strings.NewReader(`{"code":"SMALL"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersRemoveDiscount(t *testing.T) {
	svc := &stubCartService{cart: domain.Cart{ID: "c1", Currency: "USD"}}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/c1/discount", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Cart.DiscountCode != "" || body.Cart.DiscountAmount != 0 {
		t.Fatalf("discount should be gone, got %+v", body.Cart)
	}
}

func TestCartHandlersEmptyBody(t *testing.T) {
	svc := &stubCartService{}
	router := newCartTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/c1/items", strings.NewReader("  "))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}
