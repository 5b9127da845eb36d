package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/catalog"
)

var (
	ErrInvalidQuantity = errors.New("quantity out of range")
	ErrProductInactive = errors.New("product is not available for purchase")
)

type Service interface {
	GetView(ctx context.Context, owner Owner) (*View, error)
	AddLine(ctx context.Context, owner Owner, productID uuid.UUID, quantity int) (*View, error)
	UpdateQuantity(ctx context.Context, owner Owner, productID uuid.UUID, quantity int) (*View, error)
	RemoveLine(ctx context.Context, owner Owner, productID uuid.UUID) (*View, error)
	Merge(ctx context.Context, sessionKey string, userID uuid.UUID) (bool, error)
	Validate(ctx context.Context, owner Owner) ([]LineProblem, error)
}

type service struct {
	carts       Repository
	products    catalog.Repository
	maxQuantity int
}

func NewService(carts Repository, products catalog.Repository, maxQuantity int) Service {
	return &service{
		carts:       carts,
		products:    products,
		maxQuantity: maxQuantity,
	}
}

func (s *service) GetView(ctx context.Context, owner Owner) (*View, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}

	cart, err := s.carts.GetByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			// Carts are created lazily on the first add; until then the
			// owner simply has an empty cart.
			return &View{Lines: []ViewLine{}, Currency: "USD"}, nil
		}
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}

	return s.buildView(ctx, cart)
}

func (s *service) AddLine(ctx context.Context, owner Owner, productID uuid.UUID, quantity int) (*View, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if quantity > s.maxQuantity {
		quantity = s.maxQuantity
	}

	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to load product %s: %w", productID, err)
	}
	if !product.Active {
		return nil, ErrProductInactive
	}

	cart, err := s.carts.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get or create cart: %w", err)
	}

	if err := s.carts.AddLine(ctx, cart.ID, productID, quantity, s.maxQuantity); err != nil {
		return nil, fmt.Errorf("service: failed to add line: %w", err)
	}

	log.Info().
		Stringer("cart_id", cart.ID).
		Stringer("product_id", productID).
		Int("quantity", quantity).
		Msg("service: cart line added")

	return s.buildView(ctx, cart)
}

func (s *service) UpdateQuantity(ctx context.Context, owner Owner, productID uuid.UUID, quantity int) (*View, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if quantity == 0 {
		return s.RemoveLine(ctx, owner, productID)
	}
	if quantity > s.maxQuantity {
		quantity = s.maxQuantity
	}

	cart, err := s.carts.GetByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}

	if err := s.carts.SetQuantity(ctx, cart.ID, productID, quantity); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("service: failed to update quantity: %w", err)
	}

	return s.buildView(ctx, cart)
}

func (s *service) RemoveLine(ctx context.Context, owner Owner, productID uuid.UUID) (*View, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}

	cart, err := s.carts.GetByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			// Nothing to remove from.
			return &View{Lines: []ViewLine{}, Currency: "USD"}, nil
		}
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}

	if err := s.carts.RemoveLine(ctx, cart.ID, productID); err != nil {
		return nil, fmt.Errorf("service: failed to remove line: %w", err)
	}

	return s.buildView(ctx, cart)
}

// Merge folds the anonymous session cart into the user's cart. It is
// called once at the login transition and is safe to re-run: a missing
// session cart merges nothing.
func (s *service) Merge(ctx context.Context, sessionKey string, userID uuid.UUID) (bool, error) {
	if sessionKey == "" {
		return false, ErrInvalidOwner
	}
	if userID == uuid.Nil {
		return false, ErrInvalidOwner
	}

	merged, err := s.carts.Merge(ctx, sessionKey, userID, s.maxQuantity)
	if err != nil {
		return false, fmt.Errorf("service: failed to merge carts: %w", err)
	}

	if merged {
		log.Info().Stringer("user_id", userID).Msg("service: session cart merged into user cart")
	}

	return merged, nil
}

func (s *service) Validate(ctx context.Context, owner Owner) ([]LineProblem, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}

	cart, err := s.carts.GetByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}

	lines, err := s.carts.GetLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load cart lines: %w", err)
	}

	products, err := s.loadProducts(ctx, lines)
	if err != nil {
		return nil, err
	}

	return FindProblems(lines, products), nil
}

func (s *service) buildView(ctx context.Context, cart *Cart) (*View, error) {
	lines, err := s.carts.GetLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load cart lines: %w", err)
	}

	products, err := s.loadProducts(ctx, lines)
	if err != nil {
		return nil, err
	}

	view := &View{
		Cart:     *cart,
		Lines:    make([]ViewLine, 0, len(lines)),
		Subtotal: Total(lines, products),
		Currency: "USD",
	}

	for _, line := range lines {
		viewLine := ViewLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		}
		if product, ok := products[line.ProductID]; ok {
			viewLine.Name = product.Name
			viewLine.UnitPrice = product.Price
			viewLine.LineTotal = product.Price.Mul(line.Quantity)
			view.Currency = product.Currency
		}
		view.Lines = append(view.Lines, viewLine)
	}

	return view, nil
}

func (s *service) loadProducts(ctx context.Context, lines []Line) (map[uuid.UUID]catalog.Product, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}

	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load products for cart: %w", err)
	}
	return products, nil
}
