package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hearthside/api/internal/domain"
	"github.com/hearthside/api/internal/repositories"
)

var (
	// ErrOrderIDRequired indicates a missing order identifier.
	ErrOrderIDRequired = errors.New("order: id is required")
	// ErrOrderNotFound indicates that no order matches the identifier.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderStageConflict indicates a transition the state machine does
	// not allow from the order's current status.
	ErrOrderStageConflict = errors.New("order: stage conflict")
	// ErrOrderTrackingRequired indicates a ship attempt without carrier and
	// tracking number.
	ErrOrderTrackingRequired = errors.New("order: tracking info is required")
	// ErrOrderUnavailable indicates a persistence failure.
	ErrOrderUnavailable = errors.New("order: store unavailable")
)

// orderStateTransitions defines the forward path plus the cancellation
// side-exit. Statuses absent from the map are terminal.
var orderStateTransitions = map[string][]string{
	domain.OrderStatusPendingReview:   {domain.OrderStatusInvoiceSent, domain.OrderStatusCancelled},
	domain.OrderStatusInvoiceSent:     {domain.OrderStatusPaymentReceived, domain.OrderStatusCancelled},
	domain.OrderStatusPaymentReceived: {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:      {domain.OrderStatusShipped},
	domain.OrderStatusShipped:         {domain.OrderStatusDelivered},
}

// cancellableStatuses lists the stages an order may be cancelled from.
var cancellableStatuses = []string{
	domain.OrderStatusPendingReview,
	domain.OrderStatusInvoiceSent,
	domain.OrderStatusPaymentReceived,
}

func canTransition(from, to string) bool {
	allowed, ok := orderStateTransitions[domain.NormalizeOrderStatus(from)]
	if !ok {
		return false
	}
	return slices.Contains(allowed, domain.NormalizeOrderStatus(to))
}

// OrderServiceDeps bundles constructor inputs for the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	Publisher       OrderEventPublisher
	Audit           AuditRecorder
	Sanitizer       TextSanitizer
	Logger          func(ctx context.Context, msg string, fields map[string]any)
	PaymentTermDays int
}

type orderService struct {
	orders          repositories.OrderRepository
	uow             repositories.UnitOfWork
	clock           func() time.Time
	publisher       OrderEventPublisher
	audit           AuditRecorder
	sanitize        TextSanitizer
	logger          func(ctx context.Context, msg string, fields map[string]any)
	paymentTermDays int
}

// NewOrderService validates deps and constructs the order lifecycle service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = func(input string) string { return strings.TrimSpace(input) }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	paymentTermDays := deps.PaymentTermDays
	if paymentTermDays <= 0 {
		paymentTermDays = 14
	}
	return &orderService{
		orders:          deps.Orders,
		uow:             uow,
		clock:           func() time.Time { return clock().UTC() },
		publisher:       deps.Publisher,
		audit:           deps.Audit,
		sanitize:        sanitize,
		logger:          logger,
		paymentTermDays: paymentTermDays,
	}, nil
}

// GetOrder loads one order by id.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrOrderIDRequired
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, translateOrderRepoError("get order", err)
	}
	return order, nil
}

// GetOrderByNumber loads one order by its human-facing number.
func (s *orderService) GetOrderByNumber(ctx context.Context, number string) (Order, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return Order{}, ErrOrderIDRequired
	}
	order, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return Order{}, translateOrderRepoError("get order by number", err)
	}
	return order, nil
}

// ListOrders returns a page of orders for the admin surface.
func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	filter.Status = domain.NormalizeOrderStatus(filter.Status)
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, translateOrderRepoError("list orders", err)
	}
	return page, nil
}

// SendInvoice moves the order to invoice_sent and stamps the payment terms.
func (s *orderService) SendInvoice(ctx context.Context, orderID string) (Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusInvoiceSent, "invoice sent", actorAdmin, func(order *Order, now time.Time) error {
		due := now.Add(time.Duration(s.paymentTermDays) * 24 * time.Hour)
		order.InvoiceSentAt = &now
		order.PaymentDueAt = &due
		return nil
	})
}

// ConfirmPayment records the invoice as settled.
func (s *orderService) ConfirmPayment(ctx context.Context, orderID string) (Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusPaymentReceived, "payment received", actorAdmin, func(order *Order, now time.Time) error {
		order.PaidAt = &now
		return nil
	})
}

// StartProcessing moves a paid order into production.
func (s *orderService) StartProcessing(ctx context.Context, orderID string) (Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusProcessing, "processing started", actorAdmin, nil)
}

// MarkShipped records the handover to the carrier. Tracking is mandatory.
func (s *orderService) MarkShipped(ctx context.Context, orderID string, tracking TrackingInfo) (Order, error) {
	tracking.Carrier = strings.TrimSpace(tracking.Carrier)
	tracking.TrackingNumber = strings.TrimSpace(tracking.TrackingNumber)
	if tracking.Carrier == "" || tracking.TrackingNumber == "" {
		return Order{}, fmt.Errorf("%w: carrier and tracking number must be set", ErrOrderTrackingRequired)
	}
	note := fmt.Sprintf("shipped via %s (%s)", tracking.Carrier, tracking.TrackingNumber)
	return s.transition(ctx, orderID, domain.OrderStatusShipped, note, actorAdmin, func(order *Order, now time.Time) error {
		order.ShippedAt = &now
		order.Tracking = &TrackingInfo{Carrier: tracking.Carrier, TrackingNumber: tracking.TrackingNumber}
		return nil
	})
}

// MarkDelivered closes out the shipment.
func (s *orderService) MarkDelivered(ctx context.Context, orderID string) (Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusDelivered, "delivered", actorAdmin, func(order *Order, now time.Time) error {
		order.DeliveredAt = &now
		return nil
	})
}

// CancelOrder aborts an order before it enters production.
func (s *orderService) CancelOrder(ctx context.Context, orderID string, reason string) (Order, error) {
	reason = s.sanitize(reason)
	return s.transition(ctx, orderID, domain.OrderStatusCancelled, cancelNote(reason), actorAdmin, cancelApply(reason))
}

// CancelOwnOrder cancels an order on behalf of the customer who placed it.
// An order owned by someone else reports not found so the surface does not
// reveal which ids exist.
func (s *orderService) CancelOwnOrder(ctx context.Context, orderID, customerID, reason string) (Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id", ErrOrderIDRequired)
	}
	reason = s.sanitize(reason)
	// Ownership is immutable after placement, so the check can run before
	// the transactional transition.
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.CustomerID == "" || order.CustomerID != customerID {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return s.transition(ctx, orderID, domain.OrderStatusCancelled, cancelNote(reason), "customer:"+customerID, cancelApply(reason))
}

func cancelNote(reason string) string {
	if reason == "" {
		return "cancelled"
	}
	return fmt.Sprintf("cancelled: %s", reason)
}

func cancelApply(reason string) func(order *Order, now time.Time) error {
	return func(order *Order, now time.Time) error {
		if !slices.Contains(cancellableStatuses, domain.NormalizeOrderStatus(order.Status)) {
			return fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderStageConflict, order.Status)
		}
		order.CancelledAt = &now
		order.CancelReason = reason
		return nil
	}
}

// actorAdmin attributes a transition to the seller's back office.
const actorAdmin = "admin"

// transition atomically applies one status change: load, check the table,
// mutate, append history, save. apply runs after the table check with the
// order still in its previous status.
func (s *orderService) transition(ctx context.Context, orderID, target, note, actor string, apply func(order *Order, now time.Time) error) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrOrderIDRequired
	}

	var updated Order
	err := s.uow.RunInTransaction(ctx, func(txCtx context.Context) error {
		order, err := s.orders.Get(txCtx, orderID)
		if err != nil {
			return translateOrderRepoError("get order", err)
		}

		if !canTransition(order.Status, target) {
			return fmt.Errorf("%w: cannot move %q from %q to %q", ErrOrderStageConflict, order.Number, order.Status, target)
		}

		now := s.clock()
		if apply != nil {
			if err := apply(&order, now); err != nil {
				return err
			}
		}

		order.Status = target
		order.StatusHistory = append(order.StatusHistory, StatusChange{Status: target, At: now, Note: note})
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return translateOrderRepoError("update order", err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishStatusChanged(ctx, updated)
	s.recordAudit(ctx, updated, target, actor)
	return updated, nil
}

func (s *orderService) publishStatusChanged(ctx context.Context, order Order) {
	if s.publisher == nil {
		return
	}
	event := OrderEvent{
		Type:        OrderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Status:      order.Status,
		OccurredAt:  order.UpdatedAt.Format(time.RFC3339),
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order event publish failed", map[string]any{
			"orderId": order.ID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) recordAudit(ctx context.Context, order Order, target, actor string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditRecord{
		Actor:     actor,
		Action:    "order.transition." + target,
		TargetRef: "/orders/" + order.ID,
		Metadata: map[string]any{
			"orderNumber": order.Number,
			"status":      order.Status,
		},
	})
}

func translateOrderRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, op)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrOrderStageConflict, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrOrderUnavailable, op, err)
}

// noopUnitOfWork executes the function directly when no transactional
// backend is configured.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
