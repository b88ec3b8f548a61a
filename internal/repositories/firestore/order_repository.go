package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hearthside/api/internal/domain"
	pfirestore "github.com/hearthside/api/internal/platform/firestore"
	"github.com/hearthside/api/internal/repositories"
)

const (
	orderCollection       = "orders"
	orderNumberCollection = "orderNumbers"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

type orderAddressDocument struct {
	Name       string `firestore:"name"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderPricingDocument struct {
	Currency   string `firestore:"currency"`
	Subtotal   int64  `firestore:"subtotal"`
	Shipping   int64  `firestore:"shipping"`
	Discount   int64  `firestore:"discount"`
	GrandTotal int64  `firestore:"grandTotal"`
}

type orderStatusChangeDocument struct {
	Status string    `firestore:"status"`
	At     time.Time `firestore:"at"`
	Note   string    `firestore:"note,omitempty"`
}

type orderTrackingDocument struct {
	Carrier        string `firestore:"carrier"`
	TrackingNumber string `firestore:"trackingNumber"`
}

type orderDocument struct {
	Number          string                      `firestore:"number"`
	Items           []cartItemDocument          `firestore:"items"`
	ShippingAddress orderAddressDocument        `firestore:"shippingAddress"`
	DiscountCode    string                      `firestore:"discountCode,omitempty"`
	Pricing         orderPricingDocument        `firestore:"pricing"`
	Status          string                      `firestore:"status"`
	StatusHistory   []orderStatusChangeDocument `firestore:"statusHistory"`
	PlacedAt        time.Time                   `firestore:"placedAt"`
	InvoiceSentAt   *time.Time                  `firestore:"invoiceSentAt,omitempty"`
	PaymentDueAt    *time.Time                  `firestore:"paymentDueAt,omitempty"`
	PaidAt          *time.Time                  `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time                  `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time                  `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time                  `firestore:"cancelledAt,omitempty"`
	CancelReason    string                      `firestore:"cancelReason,omitempty"`
	Tracking        *orderTrackingDocument      `firestore:"tracking,omitempty"`
	CustomerID      string                      `firestore:"customerId,omitempty"`
	CustomerEmail   string                      `firestore:"customerEmail,omitempty"`
	CustomerName    string                      `firestore:"customerName,omitempty"`
	Note            string                      `firestore:"note,omitempty"`
	UpdatedAt       time.Time                   `firestore:"updatedAt"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderRepository persists order snapshots. Numbers are reserved through a
// companion index collection so a duplicate surfaces as a conflict.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Create writes the order and reserves its number in one transaction.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	number := strings.TrimSpace(order.Number)
	if number == "" {
		return errors.New("order repository: order number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("orders.create", err)
	}

	orderRef := client.Collection(orderCollection).Doc(orderID)
	numberRef := client.Collection(orderNumberCollection).Doc(number)

	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		// tx.Create fails with AlreadyExists when the number is taken,
		// which WrapError classifies as a conflict.
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: orderID, CreatedAt: order.PlacedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(orderRef, orderToDocument(order))
	})
	return pfirestore.WrapError("orders.create", err)
}

// Get loads one order by id. Inside a unit of work it reads through the
// surrounding transaction.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}

	ref := client.Collection(orderCollection).Doc(orderID)

	var snapshot *firestore.DocumentSnapshot
	if tx, ok := transactionFromContext(ctx); ok {
		snapshot, err = tx.Get(ref)
	} else {
		snapshot, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}

	var doc orderDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.decode", err)
	}
	return orderFromDocument(orderID, doc), nil
}

// GetByNumber resolves the number index and loads the order.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.getByNumber", err)
	}

	snapshot, err := client.Collection(orderNumberCollection).Doc(number).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.getByNumber", err)
	}
	var index orderNumberDocument
	if err := snapshot.DataTo(&index); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.decode", err)
	}
	return r.Get(ctx, index.OrderID)
}

// Update overwrites the order document. Inside a unit of work it writes
// through the surrounding transaction.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}

	ref := client.Collection(orderCollection).Doc(orderID)
	doc := orderToDocument(order)

	if tx, ok := transactionFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}
	_, err = ref.Set(ctx, doc)
	return pfirestore.WrapError("orders.update", err)
}

// List returns a page of orders, newest first, optionally filtered by
// status. The page token is the id of the last order on the previous page.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	query := client.Collection(orderCollection).
		OrderBy("placedAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status", "==", status)
	}
	if token := strings.TrimSpace(filter.PageToken); token != "" {
		cursor, err := client.Collection(orderCollection).Doc(token).Get(ctx)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list.cursor", err)
		}
		query = query.StartAfter(cursor)
	}

	iter := query.Limit(pageSize + 1).Documents(ctx)
	defer iter.Stop()

	var items []domain.Order
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.decode", err)
		}
		items = append(items, orderFromDocument(snapshot.Ref.ID, doc))
	}

	page := domain.CursorPage[domain.Order]{}
	if len(items) > pageSize {
		items = items[:pageSize]
		page.NextPageToken = items[len(items)-1].ID
	}
	page.Items = items
	return page, nil
}

func orderToDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Number: order.Number,
		ShippingAddress: orderAddressDocument{
			Name:       order.ShippingAddress.Name,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		DiscountCode: order.DiscountCode,
		Pricing: orderPricingDocument{
			Currency:   order.Pricing.Currency,
			Subtotal:   order.Pricing.Subtotal,
			Shipping:   order.Pricing.Shipping,
			Discount:   order.Pricing.Discount,
			GrandTotal: order.Pricing.GrandTotal,
		},
		Status:        order.Status,
		PlacedAt:      order.PlacedAt.UTC(),
		InvoiceSentAt: order.InvoiceSentAt,
		PaymentDueAt:  order.PaymentDueAt,
		PaidAt:        order.PaidAt,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
		CancelReason:  order.CancelReason,
		CustomerID:    order.CustomerID,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		Note:          order.Note,
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	doc.Items = make([]cartItemDocument, len(order.Items))
	for i, item := range order.Items {
		doc.Items[i] = cartItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variants:  item.Variants,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	doc.StatusHistory = make([]orderStatusChangeDocument, len(order.StatusHistory))
	for i, change := range order.StatusHistory {
		doc.StatusHistory[i] = orderStatusChangeDocument{
			Status: change.Status,
			At:     change.At.UTC(),
			Note:   change.Note,
		}
	}
	if order.Tracking != nil {
		doc.Tracking = &orderTrackingDocument{
			Carrier:        order.Tracking.Carrier,
			TrackingNumber: order.Tracking.TrackingNumber,
		}
	}
	return doc
}

func orderFromDocument(orderID string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:     orderID,
		Number: doc.Number,
		ShippingAddress: domain.ShippingAddress{
			Name:       doc.ShippingAddress.Name,
			Line1:      doc.ShippingAddress.Line1,
			Line2:      doc.ShippingAddress.Line2,
			City:       doc.ShippingAddress.City,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
			Phone:      doc.ShippingAddress.Phone,
		},
		DiscountCode: doc.DiscountCode,
		Pricing: domain.PricingBreakdown{
			Currency:   doc.Pricing.Currency,
			Subtotal:   doc.Pricing.Subtotal,
			Shipping:   doc.Pricing.Shipping,
			Discount:   doc.Pricing.Discount,
			GrandTotal: doc.Pricing.GrandTotal,
		},
		Status:        doc.Status,
		PlacedAt:      doc.PlacedAt,
		InvoiceSentAt: doc.InvoiceSentAt,
		PaymentDueAt:  doc.PaymentDueAt,
		PaidAt:        doc.PaidAt,
		ShippedAt:     doc.ShippedAt,
		DeliveredAt:   doc.DeliveredAt,
		CancelledAt:   doc.CancelledAt,
		CancelReason:  doc.CancelReason,
		CustomerID:    doc.CustomerID,
		CustomerEmail: doc.CustomerEmail,
		CustomerName:  doc.CustomerName,
		Note:          doc.Note,
		UpdatedAt:     doc.UpdatedAt,
	}
	order.Items = make([]domain.CartItem, len(doc.Items))
	for i, item := range doc.Items {
		order.Items[i] = domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variants:  item.Variants,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	order.StatusHistory = make([]domain.StatusChange, len(doc.StatusHistory))
	for i, change := range doc.StatusHistory {
		order.StatusHistory[i] = domain.StatusChange{
			Status: change.Status,
			At:     change.At,
			Note:   change.Note,
		}
	}
	if doc.Tracking != nil {
		order.Tracking = &domain.TrackingInfo{
			Carrier:        doc.Tracking.Carrier,
			TrackingNumber: doc.Tracking.TrackingNumber,
		}
	}
	return order
}
