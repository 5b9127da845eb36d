package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/events"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/money"
	"github.com/eytgaming/checkout-service/internal/payment"
)

var (
	ErrInvalidAmount        = errors.New("refund amount must be positive")
	ErrPaymentNotRefundable = errors.New("payment has no captured money to refund")
)

// ExceedsAvailableError reports how much of the payment is still
// refundable after everything already granted.
type ExceedsAvailableError struct {
	Requested     money.Amount
	MaxRefundable money.Amount
}

func (e *ExceedsAvailableError) Error() string {
	return fmt.Sprintf("refund of %s exceeds available %s", e.Requested, e.MaxRefundable)
}

type Request struct {
	PaymentID uuid.UUID
	Amount    money.Amount
	Reason    string
	Restock   bool
}

// Receipt reports a granted refund: the new row, where the payment
// landed, and how much of it is still refundable.
type Receipt struct {
	Refund        payment.Refund        `json:"refund"`
	PaymentStatus payment.PaymentStatus `json:"payment_status"`
	Remaining     money.Amount          `json:"remaining_cents"`
}

// Coordinator issues refunds. The invariant it guards: the sum of
// granted refunds never passes the captured amount, and the gateway
// grants the money before any local row says so.
type Coordinator interface {
	Issue(ctx context.Context, req Request) (*Receipt, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]payment.Refund, error)
}

type coordinator struct {
	pool      *pgxpool.Pool
	payments  payment.Repository
	gateways  *payment.Registry
	ledger    inventory.Ledger
	publisher events.Publisher
}

func NewCoordinator(
	pool *pgxpool.Pool,
	payments payment.Repository,
	gateways *payment.Registry,
	ledger inventory.Ledger,
	publisher events.Publisher,
) Coordinator {
	return &coordinator{
		pool:      pool,
		payments:  payments,
		gateways:  gateways,
		ledger:    ledger,
		publisher: publisher,
	}
}

// Issue grants a refund. A zero Amount means everything still
// refundable on the payment.
func (c *coordinator) Issue(ctx context.Context, req Request) (*Receipt, error) {
	if req.Amount < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	}

	receipt, orderID, err := c.issueInTx(ctx, req)
	if err != nil {
		return nil, err
	}

	c.publishIssued(ctx, &receipt.Refund, orderID)

	return receipt, nil
}

func (c *coordinator) issueInTx(ctx context.Context, req Request) (receipt *Receipt, orderID uuid.UUID, err error) {
	tx, beginErr := c.pool.Begin(ctx)
	if beginErr != nil {
		return nil, uuid.Nil, fmt.Errorf("refund: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback refund transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback refund transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("refund: failed to commit transaction: %w", commitErr)
				if receipt != nil {
					logUnrecordedRefund(&receipt.Refund)
				}
			}
		}
	}()

	// The row lock is held until commit, across the gateway call, so
	// concurrent refunds against the same payment serialize and the
	// granted sum stays exact.
	p, err := c.payments.GetForUpdate(ctx, tx, req.PaymentID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if !p.Status.Settled() {
		return nil, uuid.Nil, fmt.Errorf("%w: status is %s", ErrPaymentNotRefundable, p.Status)
	}

	granted, err := c.payments.RefundedTotal(ctx, tx, p.ID)
	if err != nil {
		return nil, uuid.Nil, err
	}

	available := p.Amount - granted
	if req.Amount == 0 {
		req.Amount = available
	}
	if req.Amount > available || available == 0 {
		return nil, uuid.Nil, &ExceedsAvailableError{Requested: req.Amount, MaxRefundable: available}
	}

	gw, err := c.gateways.Get(p.Gateway)
	if err != nil {
		return nil, uuid.Nil, err
	}

	// The gateway moves the money first. If it refuses, nothing local
	// has changed.
	gatewayRef, err := gw.Refund(ctx, p.IntentRef, req.Amount)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("refund: gateway refused: %w", err)
	}

	refundID, err := uuid.NewV4()
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("refund: failed to generate refund id: %w", err)
	}
	row := &payment.Refund{
		ID:         refundID,
		PaymentID:  p.ID,
		Amount:     req.Amount,
		Reason:     req.Reason,
		Restock:    req.Restock,
		GatewayRef: gatewayRef,
	}

	if err = c.payments.InsertRefund(ctx, tx, row); err != nil {
		logUnrecordedRefund(row)
		return nil, uuid.Nil, err
	}

	newStatus := payment.StatusPartiallyRefunded
	if granted+req.Amount == p.Amount {
		newStatus = payment.StatusRefunded
	}
	if err = c.payments.UpdateStatus(ctx, tx, p.ID, newStatus, ""); err != nil {
		logUnrecordedRefund(row)
		return nil, uuid.Nil, err
	}

	if req.Restock {
		released, relErr := c.ledger.ReleaseOrder(ctx, tx, p.OrderID)
		if relErr != nil {
			logUnrecordedRefund(row)
			return nil, uuid.Nil, relErr
		}
		log.Info().
			Str("payment_id", p.ID.String()).
			Int("reservations_released", released).
			Msg("Inventory restocked with refund")
	}

	receipt = &Receipt{
		Refund:        *row,
		PaymentStatus: newStatus,
		Remaining:     available - req.Amount,
	}
	return receipt, p.OrderID, nil
}

func (c *coordinator) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]payment.Refund, error) {
	if _, err := c.payments.GetByID(ctx, paymentID); err != nil {
		return nil, err
	}
	return c.payments.ListRefunds(ctx, paymentID)
}

// logUnrecordedRefund flags money that left at the gateway without a
// committed local row, so support can reconcile by gateway reference.
func logUnrecordedRefund(refund *payment.Refund) {
	log.Error().
		Str("payment_id", refund.PaymentID.String()).
		Str("gateway_ref", refund.GatewayRef).
		Str("amount", refund.Amount.String()).
		Msg("Refund granted at gateway but not recorded locally")
}

func (c *coordinator) publishIssued(ctx context.Context, refund *payment.Refund, orderID uuid.UUID) {
	event := events.RefundIssued{
		OrderID:     orderID,
		PaymentID:   refund.PaymentID,
		RefundID:    refund.ID,
		AmountCents: refund.Amount.Cents(),
		Restocked:   refund.Restock,
		IssuedAt:    time.Now().UTC(),
	}
	if err := c.publisher.Publish(ctx, events.KeyRefundIssued, event); err != nil {
		log.Error().Err(err).Msg("Failed to publish refund issued event")
	}
}
