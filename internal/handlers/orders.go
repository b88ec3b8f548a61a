package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthside/api/internal/platform/auth"
	"github.com/hearthside/api/internal/platform/httpx"
	"github.com/hearthside/api/internal/repositories"
	"github.com/hearthside/api/internal/services"
)

const maxOrderBodySize = 8 * 1024

// OrderHandlers exposes the seller-facing order lifecycle endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs handlers guarded by staff or admin roles.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /admin/orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	group.Get("/orders", h.listOrders)
	group.Get("/orders/{orderID}", h.getOrder)
	group.Get("/orders/number/{number}", h.getOrderByNumber)
	group.Post("/orders/{orderID}:send-invoice", h.sendInvoice)
	group.Post("/orders/{orderID}:confirm-payment", h.confirmPayment)
	group.Post("/orders/{orderID}:start-processing", h.startProcessing)
	group.Post("/orders/{orderID}:mark-shipped", h.markShipped)
	group.Post("/orders/{orderID}:mark-delivered", h.markDelivered)
	group.Post("/orders/{orderID}:cancel", h.cancelOrder)
}

// CustomerRoutes wires the authenticated self-service endpoints under /me.
// Customers see and cancel only orders stamped with their own id.
func (h *OrderHandlers) CustomerRoutes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/orders/{orderID}", h.getOwnOrder)
	group.Post("/orders/{orderID}:cancel", h.cancelOwnOrder)
}

type orderAddressPayload struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type orderPricingPayload struct {
	Currency   string `json:"currency"`
	Subtotal   int64  `json:"subtotal"`
	Shipping   int64  `json:"shipping"`
	Discount   int64  `json:"discount"`
	GrandTotal int64  `json:"grandTotal"`
}

type orderStatusChangePayload struct {
	Status string `json:"status"`
	At     string `json:"at"`
	Note   string `json:"note,omitempty"`
}

type orderTrackingPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

type orderPayload struct {
	ID              string                     `json:"id"`
	Number          string                     `json:"number"`
	Status          string                     `json:"status"`
	Items           []cartItemPayload          `json:"items"`
	ShippingAddress orderAddressPayload        `json:"shippingAddress"`
	DiscountCode    string                     `json:"discountCode,omitempty"`
	Pricing         orderPricingPayload        `json:"pricing"`
	StatusHistory   []orderStatusChangePayload `json:"statusHistory"`
	PlacedAt        string                     `json:"placedAt"`
	InvoiceSentAt   string                     `json:"invoiceSentAt,omitempty"`
	PaymentDueAt    string                     `json:"paymentDueAt,omitempty"`
	PaidAt          string                     `json:"paidAt,omitempty"`
	ShippedAt       string                     `json:"shippedAt,omitempty"`
	DeliveredAt     string                     `json:"deliveredAt,omitempty"`
	CancelledAt     string                     `json:"cancelledAt,omitempty"`
	CancelReason    string                     `json:"cancelReason,omitempty"`
	Tracking        *orderTrackingPayload      `json:"tracking,omitempty"`
	CustomerID      string                     `json:"customerId,omitempty"`
	CustomerEmail   string                     `json:"customerEmail,omitempty"`
	CustomerName    string                     `json:"customerName,omitempty"`
	Note            string                     `json:"note,omitempty"`
	UpdatedAt       string                     `json:"updatedAt,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type markShippedRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := repositories.OrderListFilter{
		Status:    strings.TrimSpace(query.Get("status")),
		PageToken: strings.TrimSpace(query.Get("pageToken")),
	}
	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pageSize must be a positive integer", http.StatusBadRequest))
			return
		}
		filter.PageSize = size
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	payload := orderListResponse{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrderByNumber(ctx, chi.URLParam(r, "number"))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) sendInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, orderID string) (services.Order, error) {
		return h.orders.SendInvoice(ctx, orderID)
	})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, orderID string) (services.Order, error) {
		return h.orders.ConfirmPayment(ctx, orderID)
	})
}

func (h *OrderHandlers) startProcessing(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, orderID string) (services.Order, error) {
		return h.orders.StartProcessing(ctx, orderID)
	})
}

func (h *OrderHandlers) markShipped(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req markShippedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.MarkShipped(ctx, chi.URLParam(r, "orderID"), services.TrackingInfo{
		Carrier:        strings.TrimSpace(req.Carrier),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, orderID string) (services.Order, error) {
		return h.orders.MarkDelivered(ctx, orderID)
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOwnOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	if order.CustomerID == "" || order.CustomerID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOwnOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOwnOrder(ctx, chi.URLParam(r, "orderID"), identity.UID, req.Reason)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID string) (services.Order, error)) {
	ctx := r.Context()
	order, err := fn(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderIDRequired), errors.Is(err, services.ErrOrderTrackingRequired):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderStageConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_stage_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:     order.ID,
		Number: order.Number,
		Status: order.Status,
		Items:  make([]cartItemPayload, 0, len(order.Items)),
		ShippingAddress: orderAddressPayload{
			Name:       order.ShippingAddress.Name,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		DiscountCode: order.DiscountCode,
		Pricing: orderPricingPayload{
			Currency:   order.Pricing.Currency,
			Subtotal:   order.Pricing.Subtotal,
			Shipping:   order.Pricing.Shipping,
			Discount:   order.Pricing.Discount,
			GrandTotal: order.Pricing.GrandTotal,
		},
		StatusHistory: make([]orderStatusChangePayload, 0, len(order.StatusHistory)),
		PlacedAt:      formatTime(order.PlacedAt),
		CancelReason:  order.CancelReason,
		CustomerID:    order.CustomerID,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		Note:          order.Note,
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variants:  item.Variants,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.UnitPrice * int64(item.Quantity),
		})
	}
	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, orderStatusChangePayload{
			Status: change.Status,
			At:     formatTime(change.At),
			Note:   change.Note,
		})
	}
	payload.InvoiceSentAt = formatOptionalTime(order.InvoiceSentAt)
	payload.PaymentDueAt = formatOptionalTime(order.PaymentDueAt)
	payload.PaidAt = formatOptionalTime(order.PaidAt)
	payload.ShippedAt = formatOptionalTime(order.ShippedAt)
	payload.DeliveredAt = formatOptionalTime(order.DeliveredAt)
	payload.CancelledAt = formatOptionalTime(order.CancelledAt)
	if order.Tracking != nil {
		payload.Tracking = &orderTrackingPayload{
			Carrier:        order.Tracking.Carrier,
			TrackingNumber: order.Tracking.TrackingNumber,
		}
	}
	return payload
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
