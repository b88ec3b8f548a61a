package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hearthside/api/internal/domain"
	pfirestore "github.com/hearthside/api/internal/platform/firestore"
	"github.com/hearthside/api/internal/repositories"
)

const discountCollection = "discounts"

type discountDocument struct {
	Kind          string     `firestore:"kind"`
	Value         int64      `firestore:"value"`
	Active        bool       `firestore:"active"`
	ExpiresAt     *time.Time `firestore:"expiresAt,omitempty"`
	MaxUses       *int       `firestore:"maxUses,omitempty"`
	UsedCount     int        `firestore:"usedCount"`
	MinOrderValue *int64     `firestore:"minOrderValue,omitempty"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

// DiscountRepository reads discount codes and maintains their usage
// counter. The upper-cased code doubles as the document id.
type DiscountRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.DiscountRepository = (*DiscountRepository)(nil)

// NewDiscountRepository constructs a Firestore-backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{provider: provider}, nil
}

// FindByCode loads one discount by its upper-cased code.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Discount{}, errors.New("discount repository: code is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Discount{}, pfirestore.WrapError("discounts.get", err)
	}

	snapshot, err := client.Collection(discountCollection).Doc(code).Get(ctx)
	if err != nil {
		return domain.Discount{}, pfirestore.WrapError("discounts.get", err)
	}

	var doc discountDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Discount{}, pfirestore.WrapError("discounts.decode", err)
	}

	return domain.Discount{
		Code:          code,
		Kind:          domain.DiscountKind(doc.Kind),
		Value:         doc.Value,
		Active:        doc.Active,
		ExpiresAt:     doc.ExpiresAt,
		MaxUses:       doc.MaxUses,
		UsedCount:     doc.UsedCount,
		MinOrderValue: doc.MinOrderValue,
	}, nil
}

// IncrementUsage adds one to the usage counter inside a transaction so the
// counter itself never loses increments. Callers decide when to invoke it;
// the window between validation and redemption stays open by design.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, code string, now time.Time) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return errors.New("discount repository: code is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("discounts.increment", err)
	}

	ref := client.Collection(discountCollection).Doc(code)
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc discountDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("discounts decode %s: %w", code, err)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "usedCount", Value: doc.UsedCount + 1},
			{Path: "updatedAt", Value: now.UTC()},
		})
	})
	return pfirestore.WrapError("discounts.increment", err)
}
