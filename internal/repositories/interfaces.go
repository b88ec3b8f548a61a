package repositories

import (
	"context"
	"time"

	domain "github.com/hearthside/api/internal/domain"
)

// RepositoryError lets services classify persistence failures without
// depending on the backing store's error types.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork executes fn atomically. Implementations back it with a
// datastore transaction; fn must be safe to retry.
type UnitOfWork interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists cart snapshots. Save overwrites the stored
// snapshot unconditionally; concurrent writers resolve last-write-wins.
type CartRepository interface {
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, cartID string) error
}

// DiscountRepository reads seller-managed discount codes and tracks their
// redemption counter. Codes are stored upper-cased.
type DiscountRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Discount, error)
	IncrementUsage(ctx context.Context, code string, now time.Time) error
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status    string
	PageSize  int
	PageToken string
}

// OrderRepository persists order snapshots and their lifecycle state.
// Create fails with a conflict when the order number is already taken.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	GetByNumber(ctx context.Context, number string) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// AuditLogFilter narrows audit trail reads.
type AuditLogFilter struct {
	TargetRef string
	Action    string
	Limit     int
}

// AuditLogRepository appends to the local append-only audit trail. Entries
// are never updated or deleted.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) ([]domain.AuditLogEntry, error)
}
