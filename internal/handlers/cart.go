package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthside/api/internal/platform/httpx"
	"github.com/hearthside/api/internal/services"
)

const maxCartBodySize = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// CartHandlers exposes the storefront cart endpoints. Carts are addressed
// by client-held ids so no authentication is required.
type CartHandlers struct {
	carts   services.CartService
	pricing *services.CartPricingEngine
}

// NewCartHandlers constructs handlers over the cart service. The pricing
// engine is optional; when present, cart responses include a totals estimate.
func NewCartHandlers(carts services.CartService, pricing *services.CartPricingEngine) *CartHandlers {
	return &CartHandlers{
		carts:   carts,
		pricing: pricing,
	}
}

// Routes wires the /carts endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{cartID}", h.getCart)
	r.Delete("/{cartID}", h.clearCart)
	r.Post("/{cartID}/items", h.addItem)
	r.Patch("/{cartID}/items", h.updateItem)
	r.Delete("/{cartID}/items", h.removeItem)
	r.Post("/{cartID}/discount", h.applyDiscount)
	r.Delete("/{cartID}/discount", h.removeDiscount)
}

type cartItemRequest struct {
	ProductID string            `json:"productId"`
	Name      string            `json:"name"`
	Variants  map[string]string `json:"variants"`
	Quantity  int               `json:"quantity"`
	UnitPrice int64             `json:"unitPrice"`
}

type cartLineRequest struct {
	ProductID string            `json:"productId"`
	Variants  map[string]string `json:"variants"`
	Quantity  int               `json:"quantity"`
}

type cartDiscountRequest struct {
	Code string `json:"code"`
}

type cartItemPayload struct {
	ProductID string            `json:"productId"`
	Name      string            `json:"name,omitempty"`
	Variants  map[string]string `json:"variants,omitempty"`
	Quantity  int               `json:"quantity"`
	UnitPrice int64             `json:"unitPrice"`
	LineTotal int64             `json:"lineTotal"`
}

type cartEstimatePayload struct {
	Subtotal   int64 `json:"subtotal"`
	Shipping   int64 `json:"shipping"`
	Discount   int64 `json:"discount"`
	GrandTotal int64 `json:"grandTotal"`
}

type cartPayload struct {
	ID             string               `json:"id"`
	Currency       string               `json:"currency"`
	ItemsCount     int                  `json:"itemsCount"`
	Items          []cartItemPayload    `json:"items"`
	DiscountCode   string               `json:"discountCode,omitempty"`
	DiscountAmount int64                `json:"discountAmount,omitempty"`
	Estimate       *cartEstimatePayload `json:"estimate,omitempty"`
	UpdatedAt      string               `json:"updatedAt,omitempty"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := chi.URLParam(r, "cartID")

	cart, err := h.carts.GetOrCreateCart(ctx, cartID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(cart)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := chi.URLParam(r, "cartID")

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req cartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		CartID: cartID,
		Item: services.CartItem{
			ProductID: strings.TrimSpace(req.ProductID),
			Name:      strings.TrimSpace(req.Name),
			Variants:  req.Variants,
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
		},
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(cart)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := chi.URLParam(r, "cartID")

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req cartLineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		CartID:    cartID,
		ProductID: strings.TrimSpace(req.ProductID),
		Variants:  req.Variants,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := chi.URLParam(r, "cartID")

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req cartLineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		CartID:    cartID,
		ProductID: strings.TrimSpace(req.ProductID),
		Variants:  req.Variants,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(cart)})
}

func (h *CartHandlers) applyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := chi.URLParam(r, "cartID")

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req cartDiscountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.ApplyDiscount(ctx, cartID, req.Code)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(cart)})
}

func (h *CartHandlers) removeDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := chi.URLParam(r, "cartID")

	cart, err := h.carts.RemoveDiscount(ctx, cartID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := chi.URLParam(r, "cartID")

	if err := h.carts.ClearCart(ctx, cartID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartIDRequired), errors.Is(err, services.ErrCartInvalidItem), errors.Is(err, services.ErrDiscountCodeRequired):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartDiscountRejected):
		httpx.WriteError(ctx, w, httpx.NewError("discount_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrDiscountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func (h *CartHandlers) buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:             cart.ID,
		Currency:       strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount:     len(cart.Items),
		Items:          make([]cartItemPayload, 0, len(cart.Items)),
		DiscountCode:   cart.DiscountCode,
		DiscountAmount: cart.DiscountAmount,
	}
	for _, item := range cart.Items {
		entry := cartItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variants:  item.Variants,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
		if h.pricing != nil {
			if total, err := h.pricing.LineTotal(item); err == nil {
				entry.LineTotal = total
			}
		}
		payload.Items = append(payload.Items, entry)
	}
	if h.pricing != nil && len(cart.Items) > 0 {
		if subtotal, err := h.pricing.Subtotal(cart.Items); err == nil {
			shipping := h.pricing.ShippingCost(subtotal)
			discount := cart.DiscountAmount
			if limit := subtotal + shipping; discount > limit {
				discount = limit
			}
			payload.Estimate = &cartEstimatePayload{
				Subtotal:   subtotal,
				Shipping:   shipping,
				Discount:   discount,
				GrandTotal: subtotal + shipping - discount,
			}
		}
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxCartBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
