package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrOrderNotFound = errors.New("order not found")

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists orders. Write methods take an explicit DB handle
// because order creation shares one transaction with inventory and the
// cart; reads run on the pool the repository was built with.
type Repository interface {
	InsertOrder(ctx context.Context, db DB, o *Order) error
	InsertLines(ctx context.Context, db DB, lines []Line) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	GetForUpdate(ctx context.Context, db DB, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, db DB, id uuid.UUID, status OrderStatus) error
	NextNumber(ctx context.Context, db DB, prefix string, year int) (string, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
}

type repository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &repository{db: db}
}

const orderColumns = `id, number, user_id, status, subtotal_cents, shipping_cents, tax_cents, total_cents, currency,
	shipping_name, shipping_phone, shipping_line1, shipping_line2, shipping_city, shipping_postal_code, shipping_country,
	created_at, updated_at`

func (r *repository) InsertOrder(ctx context.Context, db DB, o *Order) error {
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := db.Exec(ctx, query,
		o.ID,
		o.Number,
		o.UserID,
		string(o.Status),
		o.Subtotal,
		o.Shipping,
		o.Tax,
		o.Total,
		o.Currency,
		o.Address.Name,
		o.Address.Phone,
		o.Address.Line1,
		o.Address.Line2,
		o.Address.City,
		o.Address.PostalCode,
		o.Address.Country,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order %s: %w", o.Number, err)
	}

	return nil
}

func (r *repository) InsertLines(ctx context.Context, db DB, lines []Line) error {
	query := `
		INSERT INTO order_lines (id, order_id, product_id, product_name, unit_price_cents, quantity, line_total_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for i := range lines {
		line := &lines[i]
		line.CreatedAt = time.Now().UTC()

		_, err := db.Exec(ctx, query,
			line.ID,
			line.OrderID,
			line.ProductID,
			line.ProductName,
			line.UnitPrice,
			line.Quantity,
			line.LineTotal,
			line.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order line for order %s: %w", line.OrderID, err)
		}
	}

	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	o.Lines, err = r.getLines(ctx, o.ID)
	if err != nil {
		return nil, err
	}

	return o, nil
}

func (r *repository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by number %s: %w", number, err)
	}

	o.Lines, err = r.getLines(ctx, o.ID)
	if err != nil {
		return nil, err
	}

	return o, nil
}

// GetForUpdate locks the order row for the rest of the caller's
// transaction. Lines are not loaded; status work does not need them.
func (r *repository) GetForUpdate(ctx context.Context, db DB, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", id, err)
	}

	return o, nil
}

func (r *repository) UpdateStatus(ctx context.Context, db DB, id uuid.UUID, status OrderStatus) error {
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`

	cmdTag, err := db.Exec(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// NextNumber proposes the next order number for the year. Numbers are
// zero-padded so the lexicographic MAX is also the numeric MAX. The
// unique constraint on orders.number remains the authority; callers
// retry once on a collision.
func (r *repository) NextNumber(ctx context.Context, db DB, prefix string, year int) (string, error) {
	yearPrefix := fmt.Sprintf("%s-%d-", prefix, year)

	query := `SELECT number FROM orders WHERE number LIKE $1 ORDER BY number DESC LIMIT 1`

	var latest string
	err := db.QueryRow(ctx, query, yearPrefix+"%").Scan(&latest)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("repository: failed to read latest order number: %w", err)
	}

	seq := 0
	if latest != "" {
		suffix := latest[strings.LastIndex(latest, "-")+1:]
		seq, err = strconv.Atoi(suffix)
		if err != nil {
			return "", fmt.Errorf("repository: malformed order number %q: %w", latest, err)
		}
	}

	return fmt.Sprintf("%s%06d", yearPrefix, seq+1), nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user %s: %w", userID, err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user %s: %w", userID, err)
		}
		o.Lines = make([]Line, 0)
		ordersMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user %s: %w", userID, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	linesQuery := `
		SELECT id, order_id, product_id, product_name, unit_price_cents, quantity, line_total_cents, created_at
		FROM order_lines
		WHERE order_id = ANY($1)
	`
	lineRows, err := r.db.Query(ctx, linesQuery, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order lines for user %s: %w", userID, err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var line Line
		err := lineRows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.ProductName,
			&line.UnitPrice,
			&line.Quantity,
			&line.LineTotal,
			&line.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order line for user %s: %w", userID, err)
		}
		if o, ok := ordersMap[line.OrderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	if err = lineRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order lines for user %s: %w", userID, err)
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		if o, ok := ordersMap[id]; ok {
			result = append(result, *o)
		}
	}

	return result, nil
}

func (r *repository) getLines(ctx context.Context, orderID uuid.UUID) ([]Line, error) {
	query := `
		SELECT id, order_id, product_id, product_name, unit_price_cents, quantity, line_total_cents, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order lines for order %s: %w", orderID, err)
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		var line Line
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.ProductName,
			&line.UnitPrice,
			&line.Quantity,
			&line.LineTotal,
			&line.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order line for order %s: %w", orderID, err)
		}
		lines = append(lines, line)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order lines for order %s: %w", orderID, err)
	}

	return lines, nil
}

// scanOrder works for both QueryRow results and Rows cursors.
func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.Number,
		&o.UserID,
		&o.Status,
		&o.Subtotal,
		&o.Shipping,
		&o.Tax,
		&o.Total,
		&o.Currency,
		&o.Address.Name,
		&o.Address.Phone,
		&o.Address.Line1,
		&o.Address.Line2,
		&o.Address.City,
		&o.Address.PostalCode,
		&o.Address.Country,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
