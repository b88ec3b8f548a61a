package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hearthside/api/internal/domain"
	pfirestore "github.com/hearthside/api/internal/platform/firestore"
	"github.com/hearthside/api/internal/repositories"
)

const cartCollection = "carts"

type cartItemDocument struct {
	ProductID string            `firestore:"productId"`
	Name      string            `firestore:"name,omitempty"`
	Variants  map[string]string `firestore:"variants,omitempty"`
	Quantity  int               `firestore:"quantity"`
	UnitPrice int64             `firestore:"unitPrice"`
}

type cartDocument struct {
	Currency       string             `firestore:"currency"`
	Items          []cartItemDocument `firestore:"items,omitempty"`
	DiscountCode   string             `firestore:"discountCode,omitempty"`
	DiscountAmount int64              `firestore:"discountAmount,omitempty"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
}

// CartRepository persists cart snapshots in Firestore. Save overwrites the
// document unconditionally; concurrent writers resolve last-write-wins.
type CartRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

// Get loads one cart snapshot by id.
func (r *CartRepository) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.get", err)
	}

	snapshot, err := client.Collection(cartCollection).Doc(cartID).Get(ctx)
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.get", err)
	}

	var doc cartDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.decode", err)
	}
	return cartFromDocument(cartID, doc), nil
}

// Save writes the full snapshot, replacing whatever is stored.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return errors.New("cart repository: cart id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("carts.save", err)
	}

	_, err = client.Collection(cartCollection).Doc(cartID).Set(ctx, cartToDocument(cart))
	return pfirestore.WrapError("carts.save", err)
}

// Delete removes the snapshot. Deleting a missing cart is not an error.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return errors.New("cart repository: cart id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}

	_, err = client.Collection(cartCollection).Doc(cartID).Delete(ctx)
	return pfirestore.WrapError("carts.delete", err)
}

func cartToDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		Currency:       strings.ToUpper(strings.TrimSpace(cart.Currency)),
		DiscountCode:   cart.DiscountCode,
		DiscountAmount: cart.DiscountAmount,
		UpdatedAt:      cart.UpdatedAt.UTC(),
	}
	if len(cart.Items) > 0 {
		doc.Items = make([]cartItemDocument, len(cart.Items))
		for i, item := range cart.Items {
			doc.Items[i] = cartItemDocument{
				ProductID: item.ProductID,
				Name:      item.Name,
				Variants:  item.Variants,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			}
		}
	}
	return doc
}

func cartFromDocument(cartID string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:             cartID,
		Currency:       doc.Currency,
		DiscountCode:   doc.DiscountCode,
		DiscountAmount: doc.DiscountAmount,
		UpdatedAt:      doc.UpdatedAt,
	}
	if len(doc.Items) > 0 {
		cart.Items = make([]domain.CartItem, len(doc.Items))
		for i, item := range doc.Items {
			cart.Items[i] = domain.CartItem{
				ProductID: item.ProductID,
				Name:      item.Name,
				Variants:  item.Variants,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			}
		}
	}
	return cart
}
