package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hearthside/api/internal/domain"
	"github.com/hearthside/api/internal/repositories"
)

var (
	// ErrDiscountCodeRequired indicates that no code was supplied.
	ErrDiscountCodeRequired = errors.New("discount: code is required")
	// ErrDiscountUnavailable indicates a persistence failure while reading
	// or redeeming a code.
	ErrDiscountUnavailable = errors.New("discount: store unavailable")
	// ErrDiscountRecordInvalid indicates a stored discount whose value is
	// outside the range its kind allows. Such records must be fixed by the
	// seller, not applied.
	ErrDiscountRecordInvalid = errors.New("discount: stored record invalid")
)

// DiscountServiceDeps bundles constructor inputs for the discount validator.
type DiscountServiceDeps struct {
	Discounts repositories.DiscountRepository
	Clock     func() time.Time
}

type discountService struct {
	discounts repositories.DiscountRepository
	clock     func() time.Time
}

// NewDiscountService validates deps and constructs the discount validator.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: discount repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &discountService{
		discounts: deps.Discounts,
		clock:     func() time.Time { return clock().UTC() },
	}, nil
}

// NormalizeDiscountCode upper-cases and trims a code; lookup is
// case-insensitive everywhere.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a code against the given subtotal. A code that does not
// apply is reported through the result, not an error; only persistence
// failures are errors. The usage counter is never touched here.
func (s *discountService) Validate(ctx context.Context, code string, subtotal int64) (DiscountValidationResult, error) {
	normalized := NormalizeDiscountCode(code)
	if normalized == "" {
		return DiscountValidationResult{}, ErrDiscountCodeRequired
	}

	discount, err := s.discounts.FindByCode(ctx, normalized)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return rejected(normalized, domain.DiscountReasonNotFound), nil
		}
		return DiscountValidationResult{}, fmt.Errorf("%w: find code %s: %v", ErrDiscountUnavailable, normalized, err)
	}

	if err := checkDiscountRecord(discount); err != nil {
		return DiscountValidationResult{}, err
	}

	if !discount.Active {
		return rejected(normalized, domain.DiscountReasonInactive), nil
	}
	if discount.ExpiresAt != nil && !discount.ExpiresAt.After(s.clock()) {
		return rejected(normalized, domain.DiscountReasonExpired), nil
	}
	if discount.MaxUses != nil && discount.UsedCount >= *discount.MaxUses {
		return rejected(normalized, domain.DiscountReasonMaxUsesReached), nil
	}
	if discount.MinOrderValue != nil && subtotal < *discount.MinOrderValue {
		return rejected(normalized, domain.DiscountReasonBelowMinimum), nil
	}

	return DiscountValidationResult{
		Code:       normalized,
		Applicable: true,
		Discount:   &discount,
	}, nil
}

// Redeem increments the usage counter for a code. The window between
// Validate and Redeem is intentionally unsynchronized; concurrent checkouts
// may push the counter past MaxUses.
func (s *discountService) Redeem(ctx context.Context, code string) error {
	normalized := NormalizeDiscountCode(code)
	if normalized == "" {
		return ErrDiscountCodeRequired
	}
	if err := s.discounts.IncrementUsage(ctx, normalized, s.clock()); err != nil {
		return fmt.Errorf("%w: redeem code %s: %v", ErrDiscountUnavailable, normalized, err)
	}
	return nil
}

// checkDiscountRecord rejects stored values the pricing rules cannot honor:
// percentages outside [0, 100] and negative fixed amounts.
func checkDiscountRecord(discount domain.Discount) error {
	switch discount.Kind {
	case domain.DiscountKindPercentage:
		if discount.Value < 0 || discount.Value > 100 {
			return fmt.Errorf("%w: code %s percentage value %d", ErrDiscountRecordInvalid, discount.Code, discount.Value)
		}
	case domain.DiscountKindFixed:
		if discount.Value < 0 {
			return fmt.Errorf("%w: code %s fixed value %d", ErrDiscountRecordInvalid, discount.Code, discount.Value)
		}
	default:
		return fmt.Errorf("%w: code %s unknown kind %q", ErrDiscountRecordInvalid, discount.Code, discount.Kind)
	}
	return nil
}

func rejected(code, reason string) DiscountValidationResult {
	return DiscountValidationResult{
		Code:       code,
		Applicable: false,
		Reason:     reason,
	}
}
