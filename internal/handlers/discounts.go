package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hearthside/api/internal/platform/httpx"
	"github.com/hearthside/api/internal/services"
)

// DiscountHandlers exposes read-only discount validation for the storefront.
type DiscountHandlers struct {
	discounts services.DiscountService
}

// NewDiscountHandlers constructs handlers over the discount service.
func NewDiscountHandlers(discounts services.DiscountService) *DiscountHandlers {
	return &DiscountHandlers{discounts: discounts}
}

// Routes wires the /discounts endpoints onto the provided router.
func (h *DiscountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{code}", h.validate)
}

type discountValidationPayload struct {
	Code       string `json:"code"`
	Applicable bool   `json:"applicable"`
	Reason     string `json:"reason,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Value      int64  `json:"value,omitempty"`
}

func (h *DiscountHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	var subtotal int64
	if raw := strings.TrimSpace(r.URL.Query().Get("subtotal")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal must be a non-negative integer", http.StatusBadRequest))
			return
		}
		subtotal = parsed
	}

	result, err := h.discounts.Validate(ctx, code, subtotal)
	if err != nil {
		h.writeDiscountError(ctx, w, err)
		return
	}

	payload := discountValidationPayload{
		Code:       result.Code,
		Applicable: result.Applicable,
		Reason:     result.Reason,
	}
	if result.Applicable && result.Discount != nil {
		payload.Kind = string(result.Discount.Kind)
		payload.Value = result.Discount.Value
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *DiscountHandlers) writeDiscountError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrDiscountCodeRequired):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDiscountRecordInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("discount_record_invalid", "discount record is invalid", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDiscountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("discount_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("discount_error", "discount lookup failed", http.StatusInternalServerError))
	}
}
