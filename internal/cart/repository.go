package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrLineNotFound = errors.New("cart line not found")
	ErrInvalidOwner = errors.New("cart owner must be exactly one of user id or session key")
)

// DB lets tx-scoped methods run on either the pool or a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository interface {
	GetOrCreate(ctx context.Context, owner Owner) (*Cart, error)
	GetByOwner(ctx context.Context, owner Owner) (*Cart, error)
	GetLines(ctx context.Context, cartID uuid.UUID) ([]Line, error)
	AddLine(ctx context.Context, cartID, productID uuid.UUID, quantity, maxQuantity int) error
	SetQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) error
	RemoveLine(ctx context.Context, cartID, productID uuid.UUID) error
	Merge(ctx context.Context, sessionKey string, userID uuid.UUID, maxQuantity int) (bool, error)
	ClearLines(ctx context.Context, db DB, cartID uuid.UUID) error
	DeleteIdle(ctx context.Context, olderThan time.Time) (int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetOrCreate(ctx context.Context, owner Owner) (*Cart, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}

	cartID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate cart id: %w", err)
	}

	// Insert-then-select keeps the one-cart-per-owner indexes the
	// authority under concurrent first requests.
	if owner.UserID != nil {
		query := `
			INSERT INTO carts (id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id) WHERE user_id IS NOT NULL DO NOTHING
		`
		if _, err := r.db.Exec(ctx, query, cartID, *owner.UserID); err != nil {
			return nil, fmt.Errorf("repository: failed to create cart for user %s: %w", *owner.UserID, err)
		}
	} else {
		query := `
			INSERT INTO carts (id, session_key)
			VALUES ($1, $2)
			ON CONFLICT (session_key) WHERE session_key IS NOT NULL DO NOTHING
		`
		if _, err := r.db.Exec(ctx, query, cartID, *owner.SessionKey); err != nil {
			return nil, fmt.Errorf("repository: failed to create cart for session: %w", err)
		}
	}

	return r.GetByOwner(ctx, owner)
}

func (r *repository) GetByOwner(ctx context.Context, owner Owner) (*Cart, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}

	var query string
	var arg any
	if owner.UserID != nil {
		query = `SELECT id, user_id, session_key, created_at, updated_at FROM carts WHERE user_id = $1`
		arg = *owner.UserID
	} else {
		query = `SELECT id, user_id, session_key, created_at, updated_at FROM carts WHERE session_key = $1`
		arg = *owner.SessionKey
	}

	var cart Cart
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.SessionKey,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart: %w", err)
	}

	return &cart, nil
}

func (r *repository) GetLines(ctx context.Context, cartID uuid.UUID) ([]Line, error) {
	query := `
		SELECT id, cart_id, product_id, quantity, created_at, updated_at
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart lines for cart %s: %w", cartID, err)
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		var line Line
		err := rows.Scan(
			&line.ID,
			&line.CartID,
			&line.ProductID,
			&line.Quantity,
			&line.CreatedAt,
			&line.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart line for cart %s: %w", cartID, err)
		}
		lines = append(lines, line)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart lines for cart %s: %w", cartID, err)
	}

	return lines, nil
}

func (r *repository) AddLine(ctx context.Context, cartID, productID uuid.UUID, quantity, maxQuantity int) error {
	lineID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate cart line id: %w", err)
	}

	// Re-adding the same product sums quantities, capped at the line
	// maximum.
	query := `
		INSERT INTO cart_lines (id, cart_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = LEAST(cart_lines.quantity + EXCLUDED.quantity, $5), updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, lineID, cartID, productID, quantity, maxQuantity); err != nil {
		return fmt.Errorf("repository: failed to add line to cart %s: %w", cartID, err)
	}

	return r.touch(ctx, cartID)
}

func (r *repository) SetQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	query := `
		UPDATE cart_lines
		SET quantity = $1, updated_at = now()
		WHERE cart_id = $2 AND product_id = $3
	`

	cmdTag, err := r.db.Exec(ctx, query, quantity, cartID, productID)
	if err != nil {
		return fmt.Errorf("repository: failed to update quantity in cart %s: %w", cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrLineNotFound
	}

	return r.touch(ctx, cartID)
}

func (r *repository) RemoveLine(ctx context.Context, cartID, productID uuid.UUID) error {
	query := `DELETE FROM cart_lines WHERE cart_id = $1 AND product_id = $2`

	cmdTag, err := r.db.Exec(ctx, query, cartID, productID)
	if err != nil {
		return fmt.Errorf("repository: failed to remove line from cart %s: %w", cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		// Removing an absent line is a no-op.
		return nil
	}

	return r.touch(ctx, cartID)
}

func (r *repository) Merge(ctx context.Context, sessionKey string, userID uuid.UUID, maxQuantity int) (merged bool, err error) {
	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return false, fmt.Errorf("repository: failed to begin merge transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback merge transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback merge transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit merge transaction: %w", commitErr)
			}
		}
	}()

	var sessionCartID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM carts WHERE session_key = $1 FOR UPDATE`, sessionKey).Scan(&sessionCartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Nothing to merge; a repeated merge lands here.
			err = nil
			return false, nil
		}
		return false, fmt.Errorf("repository: failed to lock session cart: %w", err)
	}

	var userCartID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&userCartID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("repository: failed to lock user cart: %w", err)
		}
		// No user cart yet: re-own the session cart wholesale.
		_, err = tx.Exec(ctx, `UPDATE carts SET user_id = $1, session_key = NULL, updated_at = now() WHERE id = $2`,
			userID, sessionCartID)
		if err != nil {
			return false, fmt.Errorf("repository: failed to re-own session cart: %w", err)
		}
		return true, nil
	}

	mergeQuery := `
		INSERT INTO cart_lines (id, cart_id, product_id, quantity)
		SELECT gen_random_uuid(), $1, product_id, quantity
		FROM cart_lines
		WHERE cart_id = $2
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = LEAST(cart_lines.quantity + EXCLUDED.quantity, $3), updated_at = now()
	`
	if _, err = tx.Exec(ctx, mergeQuery, userCartID, sessionCartID, maxQuantity); err != nil {
		return false, fmt.Errorf("repository: failed to merge cart lines: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM carts WHERE id = $1`, sessionCartID); err != nil {
		return false, fmt.Errorf("repository: failed to delete session cart: %w", err)
	}

	if _, err = tx.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, userCartID); err != nil {
		return false, fmt.Errorf("repository: failed to touch user cart: %w", err)
	}

	return true, nil
}

func (r *repository) ClearLines(ctx context.Context, db DB, cartID uuid.UUID) error {
	if _, err := db.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("repository: failed to clear cart %s: %w", cartID, err)
	}
	return nil
}

func (r *repository) DeleteIdle(ctx context.Context, olderThan time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM carts WHERE updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to delete idle carts: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

func (r *repository) touch(ctx context.Context, cartID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("repository: failed to touch cart %s: %w", cartID, err)
	}
	return nil
}
