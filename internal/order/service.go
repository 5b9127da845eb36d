package order

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/cart"
	"github.com/eytgaming/checkout-service/internal/catalog"
	"github.com/eytgaming/checkout-service/internal/events"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/money"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// CartProblemsError carries every line that blocked the checkout so the
// shopper can fix the whole cart in one pass.
type CartProblemsError struct {
	Problems []cart.LineProblem
}

func (e *CartProblemsError) Error() string {
	return fmt.Sprintf("cart has %d problem line(s)", len(e.Problems))
}

type CreateRequest struct {
	UserID   uuid.UUID
	Address  ShippingAddress
	Shipping money.Amount
	Tax      money.Amount
}

type Config struct {
	NumberPrefix string
	LockTimeout  time.Duration
}

// Service turns a cart into an order. Create runs the whole conversion,
// reservation included, in a single transaction: either the order
// exists with all its stock held, or nothing changed.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error)
}

type service struct {
	pool      *pgxpool.Pool
	orders    Repository
	carts     cart.Repository
	products  catalog.Repository
	ledger    inventory.Ledger
	publisher events.Publisher
	cfg       Config
}

func NewService(
	pool *pgxpool.Pool,
	orders Repository,
	carts cart.Repository,
	products catalog.Repository,
	ledger inventory.Ledger,
	publisher events.Publisher,
	cfg Config,
) Service {
	return &service{
		pool:      pool,
		orders:    orders,
		carts:     carts,
		products:  products,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if req.UserID == uuid.Nil {
		return nil, errors.New("service: user id is required")
	}

	userCart, err := s.carts.GetByOwner(ctx, cart.OwnerForUser(req.UserID))
	if err != nil {
		if errors.Is(err, cart.ErrCartNotFound) {
			return nil, ErrEmptyCart
		}
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}

	lines, err := s.carts.GetLines(ctx, userCart.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load cart lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	productIDs := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		productIDs = append(productIDs, line.ProductID)
	}

	products, err := s.products.GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load products: %w", err)
	}

	if problems := cart.FindProblems(lines, products); len(problems) > 0 {
		return nil, &CartProblemsError{Problems: problems}
	}

	// Ascending product id is the global lock order. Every transaction
	// that touches several product rows walks them in this order, so
	// two concurrent checkouts cannot deadlock on each other.
	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i].ProductID.Bytes(), lines[j].ProductID.Bytes()) < 0
	})

	o, err := buildOrder(req, lines, products)
	if err != nil {
		return nil, err
	}

	if err := s.createInTx(ctx, o, userCart.ID); err != nil {
		return nil, err
	}

	s.publishCreated(ctx, o)

	return o, nil
}

// buildOrder snapshots the catalog into order lines. The saved name and
// unit price are what the shopper saw at checkout; later catalog edits
// do not reach them.
func buildOrder(req CreateRequest, lines []cart.Line, products map[uuid.UUID]catalog.Product) (*Order, error) {
	orderID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order id: %w", err)
	}

	o := &Order{
		ID:       orderID,
		UserID:   req.UserID,
		Status:   StatusPending,
		Shipping: req.Shipping,
		Tax:      req.Tax,
		Currency: products[lines[0].ProductID].Currency,
		Address:  req.Address,
		Lines:    make([]Line, 0, len(lines)),
	}

	for _, line := range lines {
		product := products[line.ProductID]

		lineID, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("service: failed to generate order line id: %w", err)
		}

		lineTotal := product.Price.Mul(line.Quantity)
		o.Lines = append(o.Lines, Line{
			ID:          lineID,
			OrderID:     orderID,
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
			LineTotal:   lineTotal,
		})
		o.Subtotal = o.Subtotal.Add(lineTotal)
	}

	o.Total = o.Subtotal.Add(req.Shipping).Add(req.Tax)

	return o, nil
}

func (s *service) createInTx(ctx context.Context, o *Order, cartID uuid.UUID) (err error) {
	tx, beginErr := s.pool.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("service: failed to begin checkout transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback checkout transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback checkout transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("service: failed to commit checkout transaction: %w", commitErr)
			}
		}
	}()

	// Scoped to this transaction. A contended product row fails fast
	// with a lock error the caller may retry once, instead of queueing
	// checkouts behind each other indefinitely.
	timeoutMs := strconv.FormatInt(s.cfg.LockTimeout.Milliseconds(), 10)
	if _, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeoutMs); err != nil {
		return fmt.Errorf("service: failed to set lock timeout: %w", err)
	}

	if err = s.insertNumbered(ctx, tx, o); err != nil {
		return err
	}

	if err = s.orders.InsertLines(ctx, tx, o.Lines); err != nil {
		return err
	}

	for _, line := range o.Lines {
		err = s.ledger.Reserve(ctx, tx, inventory.ReserveRequest{
			OrderID:     o.ID,
			OrderLineID: line.ID,
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
		})
		if err != nil {
			return err
		}
	}

	// Clearing the cart stays last so an aborted checkout leaves the
	// cart exactly as the shopper built it.
	if err = s.carts.ClearLines(ctx, tx, cartID); err != nil {
		return err
	}

	return nil
}

// insertNumbered assigns the next order number and inserts the order
// row. The savepoint confines a duplicate-number failure so one more
// attempt can run inside the same transaction; any second collision is
// returned as-is.
func (s *service) insertNumbered(ctx context.Context, tx pgx.Tx, o *Order) error {
	year := time.Now().UTC().Year()

	for attempt := 0; ; attempt++ {
		number, err := s.orders.NextNumber(ctx, tx, s.cfg.NumberPrefix, year)
		if err != nil {
			return err
		}
		o.Number = number

		sp, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("service: failed to open savepoint: %w", err)
		}

		insErr := s.orders.InsertOrder(ctx, sp, o)
		if insErr == nil {
			if err := sp.Commit(ctx); err != nil {
				return fmt.Errorf("service: failed to release savepoint: %w", err)
			}
			return nil
		}

		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("service: failed to roll back savepoint: %w", rbErr)
		}

		if attempt == 0 && isNumberCollision(insErr) {
			log.Warn().Str("order_number", number).Msg("Order number collision, retrying once")
			continue
		}

		return insErr
	}
}

func isNumberCollision(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "orders_number_key"
}

// Publish failures never unwind a committed order.
func (s *service) publishCreated(ctx context.Context, o *Order) {
	event := events.OrderCreated{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		TotalCents:  o.Total.Cents(),
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, events.KeyOrderCreated, event); err != nil {
		log.Error().Err(err).Str("order_number", o.Number).Msg("Failed to publish order created event")
	}
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return s.orders.GetByNumber(ctx, number)
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// UpdateStatus moves an order along the fulfilment path. Cancellation
// is not reachable from here: cancelling releases inventory, so it only
// runs inside the payment reconciliation flows that own that release.
func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error) {
	if status == StatusCancelled {
		return nil, fmt.Errorf("%w: cancellation is driven by payment state", ErrInvalidTransition)
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(o.Status, status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, status)
	}

	if err := s.orders.UpdateStatus(ctx, s.pool, id, status); err != nil {
		return nil, err
	}

	o.Status = status

	return o, nil
}
