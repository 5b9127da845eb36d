package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrDuplicateEvent means this delivery was processed before. The
	// caller acknowledges it without reapplying anything.
	ErrDuplicateEvent = errors.New("webhook event already recorded")
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository interface {
	Insert(ctx context.Context, db DB, e *Event) error
	Get(ctx context.Context, gateway, eventID string) (*Event, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

type repository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, db DB, e *Event) error {
	e.ReceivedAt = time.Now().UTC()

	payload := "{}"
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}

	query := `
		INSERT INTO webhook_events (gateway, event_id, event_type, order_id, payment_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.Exec(ctx, query,
		e.Gateway,
		e.EventID,
		e.EventType,
		e.OrderID,
		e.PaymentID,
		payload,
		e.ReceivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateEvent, e.Gateway, e.EventID)
		}
		return fmt.Errorf("repository: failed to insert webhook event %s/%s: %w", e.Gateway, e.EventID, err)
	}

	return nil
}

func (r *repository) Get(ctx context.Context, gateway, eventID string) (*Event, error) {
	query := `
		SELECT gateway, event_id, event_type, order_id, payment_id, payload, received_at
		FROM webhook_events
		WHERE gateway = $1 AND event_id = $2
	`

	var e Event
	err := r.db.QueryRow(ctx, query, gateway, eventID).Scan(
		&e.Gateway,
		&e.EventID,
		&e.EventType,
		&e.OrderID,
		&e.PaymentID,
		&e.Payload,
		&e.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("repository: failed to select webhook event %s/%s: %w", gateway, eventID, err)
	}

	return &e, nil
}

func (r *repository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to delete old webhook events: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
