package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidQuantity     = errors.New("quantity out of range")
	// ErrLockTimeout marks contention the caller may retry once after
	// backing off. Covers both lock_timeout expiry and deadlock abort.
	ErrLockTimeout = errors.New("timed out waiting for inventory lock")
)

// InsufficientStockError reports how much stock was actually available
// at the moment the row lock was held.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger is the only component that mutates products.stock_quantity.
// Reserve and the release methods run on a caller-supplied transaction
// handle so the stock movement commits or rolls back with the order
// state that justifies it.
type Ledger interface {
	CheckAvailability(ctx context.Context, productID uuid.UUID, quantity int) (bool, error)
	Reserve(ctx context.Context, tx DB, req ReserveRequest) error
	Release(ctx context.Context, tx DB, orderLineID uuid.UUID) error
	ReleaseOrder(ctx context.Context, tx DB, orderID uuid.UUID) (int, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Reservation, error)
}

type ledger struct {
	db          DB
	maxQuantity int
}

func NewLedger(db DB, maxQuantity int) Ledger {
	return &ledger{db: db, maxQuantity: maxQuantity}
}

func (l *ledger) CheckAvailability(ctx context.Context, productID uuid.UUID, quantity int) (bool, error) {
	if quantity < 1 || quantity > l.maxQuantity {
		return false, fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidQuantity, quantity, l.maxQuantity)
	}

	query := `SELECT stock_quantity FROM products WHERE id = $1 AND active`

	var stock int
	err := l.db.QueryRow(ctx, query, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrProductNotFound
		}
		return false, fmt.Errorf("inventory: failed to read stock for product %s: %w", productID, err)
	}

	return stock >= quantity, nil
}

func (l *ledger) Reserve(ctx context.Context, tx DB, req ReserveRequest) error {
	if req.Quantity < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, req.Quantity)
	}

	// The row lock serializes concurrent reservations of the same
	// product; the re-check under the lock is what prevents oversell.
	lockQuery := `SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`

	var stock int
	err := tx.QueryRow(ctx, lockQuery, req.ProductID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}
		if isLockError(err) {
			return fmt.Errorf("%w: product %s: %v", ErrLockTimeout, req.ProductID, err)
		}
		return fmt.Errorf("inventory: failed to lock product %s: %w", req.ProductID, err)
	}

	if stock < req.Quantity {
		return &InsufficientStockError{
			ProductID: req.ProductID,
			Requested: req.Quantity,
			Available: stock,
		}
	}

	updateQuery := `UPDATE products SET stock_quantity = stock_quantity - $1, updated_at = now() WHERE id = $2`
	if _, err := tx.Exec(ctx, updateQuery, req.Quantity, req.ProductID); err != nil {
		return fmt.Errorf("inventory: failed to decrement stock for product %s: %w", req.ProductID, err)
	}

	reservationID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("inventory: failed to generate reservation id: %w", err)
	}

	insertQuery := `
		INSERT INTO inventory_reservations (id, order_id, order_line_id, product_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = tx.Exec(ctx, insertQuery,
		reservationID,
		req.OrderID,
		req.OrderLineID,
		req.ProductID,
		req.Quantity,
	)
	if err != nil {
		return fmt.Errorf("inventory: failed to insert reservation for line %s: %w", req.OrderLineID, err)
	}

	return nil
}

func (l *ledger) Release(ctx context.Context, tx DB, orderLineID uuid.UUID) error {
	flipQuery := `
		UPDATE inventory_reservations
		SET released = TRUE
		WHERE order_line_id = $1 AND NOT released
		RETURNING product_id, quantity
	`

	var productID uuid.UUID
	var quantity int
	err := tx.QueryRow(ctx, flipQuery, orderLineID).Scan(&productID, &quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already released is a no-op; a line with no reservation
			// at all is the caller's bug.
			var exists bool
			checkQuery := `SELECT EXISTS (SELECT 1 FROM inventory_reservations WHERE order_line_id = $1)`
			if checkErr := tx.QueryRow(ctx, checkQuery, orderLineID).Scan(&exists); checkErr != nil {
				return fmt.Errorf("inventory: failed to check reservation for line %s: %w", orderLineID, checkErr)
			}
			if !exists {
				return ErrReservationNotFound
			}
			return nil
		}
		return fmt.Errorf("inventory: failed to release reservation for line %s: %w", orderLineID, err)
	}

	restockQuery := `UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = now() WHERE id = $2`
	if _, err := tx.Exec(ctx, restockQuery, quantity, productID); err != nil {
		return fmt.Errorf("inventory: failed to restock product %s: %w", productID, err)
	}

	return nil
}

// ReleaseOrder releases every still-held reservation of an order and
// returns how many were flipped. Zero is fine: the method is idempotent.
func (l *ledger) ReleaseOrder(ctx context.Context, tx DB, orderID uuid.UUID) (int, error) {
	flipQuery := `
		UPDATE inventory_reservations
		SET released = TRUE
		WHERE order_id = $1 AND NOT released
		RETURNING product_id, quantity
	`

	rows, err := tx.Query(ctx, flipQuery, orderID)
	if err != nil {
		return 0, fmt.Errorf("inventory: failed to release reservations for order %s: %w", orderID, err)
	}

	type restock struct {
		productID uuid.UUID
		quantity  int
	}
	var restocks []restock
	for rows.Next() {
		var r restock
		if err := rows.Scan(&r.productID, &r.quantity); err != nil {
			rows.Close()
			return 0, fmt.Errorf("inventory: failed to scan released reservation for order %s: %w", orderID, err)
		}
		restocks = append(restocks, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("inventory: error iterating released reservations for order %s: %w", orderID, err)
	}

	// Same lock order as reservation: ascending product id.
	sort.Slice(restocks, func(i, j int) bool {
		return bytes.Compare(restocks[i].productID.Bytes(), restocks[j].productID.Bytes()) < 0
	})

	restockQuery := `UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = now() WHERE id = $2`
	for _, r := range restocks {
		if _, err := tx.Exec(ctx, restockQuery, r.quantity, r.productID); err != nil {
			return 0, fmt.Errorf("inventory: failed to restock product %s: %w", r.productID, err)
		}
	}

	return len(restocks), nil
}

func (l *ledger) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Reservation, error) {
	query := `
		SELECT id, order_id, order_line_id, product_id, quantity, released, created_at
		FROM inventory_reservations
		WHERE order_id = $1
		ORDER BY created_at
	`

	rows, err := l.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("inventory: failed to query reservations for order %s: %w", orderID, err)
	}
	defer rows.Close()

	reservations := make([]Reservation, 0)
	for rows.Next() {
		var res Reservation
		err := rows.Scan(
			&res.ID,
			&res.OrderID,
			&res.OrderLineID,
			&res.ProductID,
			&res.Quantity,
			&res.Released,
			&res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("inventory: failed to scan reservation for order %s: %w", orderID, err)
		}
		reservations = append(reservations, res)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory: error iterating reservations for order %s: %w", orderID, err)
	}

	return reservations, nil
}

func isLockError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.LockNotAvailable || pgErr.Code == pgerrcode.DeadlockDetected
}
