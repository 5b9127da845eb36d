package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eytgaming/checkout-service/internal/money"
)

var ErrPaymentNotFound = errors.New("payment not found")

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists payments and their refunds. Methods that take a
// DB handle participate in the caller's reconciliation or refund
// transaction; the rest read from the pool.
type Repository interface {
	Insert(ctx context.Context, db DB, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetForUpdate(ctx context.Context, db DB, id uuid.UUID) (*Payment, error)
	LockByIntentRef(ctx context.Context, db DB, gateway, intentRef string) (*Payment, error)
	UpdateStatus(ctx context.Context, db DB, id uuid.UUID, status PaymentStatus, externalTxnID string) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error)
	InsertRefund(ctx context.Context, db DB, r *Refund) error
	RefundedTotal(ctx context.Context, db DB, paymentID uuid.UUID) (money.Amount, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]Refund, error)
}

type repository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &repository{db: db}
}

const paymentColumns = `id, order_id, gateway, intent_ref, external_txn_id, amount_cents, currency, status, created_at, updated_at`

func (r *repository) Insert(ctx context.Context, db DB, p *Payment) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.Gateway,
		p.IntentRef,
		p.ExternalTxnID,
		p.Amount,
		p.Currency,
		string(p.Status),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert payment for order %s: %w", p.OrderID, err)
	}

	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment %s: %w", id, err)
	}

	return p, nil
}

func (r *repository) GetForUpdate(ctx context.Context, db DB, id uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`

	p, err := scanPayment(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock payment %s: %w", id, err)
	}

	return p, nil
}

// LockByIntentRef resolves a gateway notification to the local payment
// row and holds it for the rest of the caller's transaction.
func (r *repository) LockByIntentRef(ctx context.Context, db DB, gateway, intentRef string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway = $1 AND intent_ref = $2 FOR UPDATE`

	p, err := scanPayment(db.QueryRow(ctx, query, gateway, intentRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock payment by intent %s/%s: %w", gateway, intentRef, err)
	}

	return p, nil
}

// UpdateStatus also records the gateway transaction id when one is
// supplied; an empty externalTxnID leaves the stored value alone.
func (r *repository) UpdateStatus(ctx context.Context, db DB, id uuid.UUID, status PaymentStatus, externalTxnID string) error {
	query := `
		UPDATE payments
		SET status = $1,
		    external_txn_id = CASE WHEN $2 = '' THEN external_txn_id ELSE $2 END,
		    updated_at = $3
		WHERE id = $4
	`

	cmdTag, err := db.Exec(ctx, query, string(status), externalTxnID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment status %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}

	return nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query payments for order %s: %w", orderID, err)
	}
	defer rows.Close()

	payments := make([]Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan payment for order %s: %w", orderID, err)
		}
		payments = append(payments, *p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating payments for order %s: %w", orderID, err)
	}

	return payments, nil
}

func (r *repository) InsertRefund(ctx context.Context, db DB, ref *Refund) error {
	ref.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO refunds (id, payment_id, amount_cents, reason, restock, gateway_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.Exec(ctx, query,
		ref.ID,
		ref.PaymentID,
		ref.Amount,
		ref.Reason,
		ref.Restock,
		ref.GatewayRef,
		ref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert refund for payment %s: %w", ref.PaymentID, err)
	}

	return nil
}

func (r *repository) RefundedTotal(ctx context.Context, db DB, paymentID uuid.UUID) (money.Amount, error) {
	query := `SELECT COALESCE(SUM(amount_cents), 0) FROM refunds WHERE payment_id = $1`

	var total money.Amount
	if err := db.QueryRow(ctx, query, paymentID).Scan(&total); err != nil {
		return 0, fmt.Errorf("repository: failed to sum refunds for payment %s: %w", paymentID, err)
	}

	return total, nil
}

func (r *repository) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]Refund, error) {
	query := `
		SELECT id, payment_id, amount_cents, reason, restock, gateway_ref, created_at
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query refunds for payment %s: %w", paymentID, err)
	}
	defer rows.Close()

	refunds := make([]Refund, 0)
	for rows.Next() {
		var ref Refund
		err := rows.Scan(
			&ref.ID,
			&ref.PaymentID,
			&ref.Amount,
			&ref.Reason,
			&ref.Restock,
			&ref.GatewayRef,
			&ref.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan refund for payment %s: %w", paymentID, err)
		}
		refunds = append(refunds, ref)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating refunds for payment %s: %w", paymentID, err)
	}

	return refunds, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Gateway,
		&p.IntentRef,
		&p.ExternalTxnID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
