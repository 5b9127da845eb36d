package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/events"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/order"
	"github.com/eytgaming/checkout-service/internal/payment"
)

// Reconciler applies verified gateway notifications to local payment
// and order state. Everything behind the signature check runs in one
// transaction: the event record, the payment edge, the order edge and
// any inventory release commit or vanish together.
type Reconciler interface {
	Process(ctx context.Context, gatewayName, signatureHeader string, payload []byte) error
}

type reconciler struct {
	pool      *pgxpool.Pool
	gateways  *payment.Registry
	events    Repository
	payments  payment.Repository
	orders    order.Repository
	ledger    inventory.Ledger
	publisher events.Publisher
}

func NewReconciler(
	pool *pgxpool.Pool,
	gateways *payment.Registry,
	eventsRepo Repository,
	payments payment.Repository,
	orders order.Repository,
	ledger inventory.Ledger,
	publisher events.Publisher,
) Reconciler {
	return &reconciler{
		pool:      pool,
		gateways:  gateways,
		events:    eventsRepo,
		payments:  payments,
		orders:    orders,
		ledger:    ledger,
		publisher: publisher,
	}
}

// applyResult reports what changed so the broker events go out only
// after the transaction committed.
type applyResult struct {
	orphan         bool
	noop           bool
	anomaly        string
	payment        *payment.Payment
	newStatus      payment.PaymentStatus
	cancelledOrder *order.Order
}

func (r *reconciler) Process(ctx context.Context, gatewayName, signatureHeader string, payload []byte) error {
	gw, err := r.gateways.Get(gatewayName)
	if err != nil {
		return err
	}

	event, err := gw.VerifyWebhook(signatureHeader, payload)
	if err != nil {
		return err
	}
	if event.ID == "" {
		return fmt.Errorf("webhook: %s event carries no id", gatewayName)
	}

	res, err := r.applyInTx(ctx, gw.Name(), event)
	if err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			log.Info().
				Str("gateway", gatewayName).
				Str("event_id", event.ID).
				Msg("Duplicate webhook delivery acknowledged")
			return nil
		}
		return err
	}

	switch {
	case res.orphan:
		log.Warn().
			Str("gateway", gatewayName).
			Str("event_id", event.ID).
			Str("intent_ref", event.IntentRef).
			Msg("Webhook event matches no payment, kept for investigation")
	case res.anomaly != "":
		log.Error().
			Str("gateway", gatewayName).
			Str("event_id", event.ID).
			Str("payment_id", res.payment.ID.String()).
			Msg(res.anomaly)
	case res.noop:
		log.Info().
			Str("gateway", gatewayName).
			Str("event_id", event.ID).
			Msg("Webhook event recorded without action")
	}

	r.publish(ctx, res)

	return nil
}

func (r *reconciler) applyInTx(ctx context.Context, gatewayName string, ev *payment.Event) (res applyResult, err error) {
	tx, beginErr := r.pool.Begin(ctx)
	if beginErr != nil {
		return res, fmt.Errorf("webhook: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback webhook transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback webhook transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("webhook: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	// Resolve the payment first so the ledger row carries its links.
	// The row lock also serializes concurrent deliveries for the same
	// payment, leaving the event insert as the only idempotency gate.
	var p *payment.Payment
	if ev.IntentRef != "" {
		p, err = r.payments.LockByIntentRef(ctx, tx, gatewayName, ev.IntentRef)
		if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
			return res, err
		}
		err = nil
	}

	record := &Event{
		Gateway:   gatewayName,
		EventID:   ev.ID,
		EventType: ev.Type,
		Payload:   ev.Raw,
	}
	if p != nil {
		record.OrderID = &p.OrderID
		record.PaymentID = &p.ID
	}

	if err = r.events.Insert(ctx, tx, record); err != nil {
		return res, err
	}

	if p == nil {
		res.orphan = true
		return res, nil
	}
	if ev.Kind == payment.EventIgnored {
		res.noop = true
		return res, nil
	}

	target := payment.StatusSucceeded
	if ev.Kind == payment.EventPaymentFailed {
		target = payment.StatusFailed
	}

	if p.Status == target {
		// Same outcome delivered again under a fresh event id.
		res.noop = true
		return res, nil
	}
	if !payment.CanTransition(p.Status, target) {
		res.payment = p
		res.anomaly = fmt.Sprintf("Gateway reports %s but payment is %s, state kept for manual review", target, p.Status)
		return res, nil
	}

	if err = r.movePayment(ctx, tx, p, target, ev.ExternalTxnID); err != nil {
		if errors.Is(err, errSecondSettlement) {
			err = nil
			res.payment = p
			res.anomaly = "Gateway settled a second payment for an order already paid, state kept for manual review"
			return res, nil
		}
		return res, err
	}
	res.payment = p
	res.newStatus = target

	if target == payment.StatusSucceeded {
		err = r.markOrderPaid(ctx, tx, p)
		return res, err
	}

	res.cancelledOrder, err = r.cancelOrder(ctx, tx, p)
	return res, err
}

var errSecondSettlement = errors.New("order already has a settled payment")

// movePayment applies the status edge under a savepoint. The partial
// unique index allows one settled payment per order; a second capture
// trips it, and the savepoint keeps the event record insertable so the
// delivery can still be acknowledged instead of retried forever.
func (r *reconciler) movePayment(ctx context.Context, tx pgx.Tx, p *payment.Payment, target payment.PaymentStatus, externalTxnID string) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("webhook: failed to open savepoint: %w", err)
	}

	if err := r.payments.UpdateStatus(ctx, sp, p.ID, target, externalTxnID); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("webhook: failed to roll back savepoint: %w", rbErr)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "payments_order_settled_key" {
			return errSecondSettlement
		}
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("webhook: failed to release savepoint: %w", err)
	}

	return nil
}

func (r *reconciler) markOrderPaid(ctx context.Context, tx pgx.Tx, p *payment.Payment) error {
	o, err := r.orders.GetForUpdate(ctx, tx, p.OrderID)
	if err != nil {
		return err
	}

	if o.Status == order.StatusProcessing {
		return nil
	}
	if !order.CanTransition(o.Status, order.StatusProcessing) {
		// Money arrived for an order that can no longer be processed,
		// usually one already cancelled. Flag it and leave both
		// records as they are.
		log.Error().
			Str("order_number", o.Number).
			Str("order_status", o.Status.String()).
			Str("payment_id", p.ID.String()).
			Msg("Payment succeeded for an order that cannot move to processing")
		return nil
	}

	return r.orders.UpdateStatus(ctx, tx, o.ID, order.StatusProcessing)
}

func (r *reconciler) cancelOrder(ctx context.Context, tx pgx.Tx, p *payment.Payment) (*order.Order, error) {
	o, err := r.orders.GetForUpdate(ctx, tx, p.OrderID)
	if err != nil {
		return nil, err
	}

	if o.Status == order.StatusCancelled {
		return nil, nil
	}
	if !order.CanTransition(o.Status, order.StatusCancelled) {
		log.Error().
			Str("order_number", o.Number).
			Str("order_status", o.Status.String()).
			Str("payment_id", p.ID.String()).
			Msg("Payment failed for an order already past cancellation")
		return nil, nil
	}

	if err := r.orders.UpdateStatus(ctx, tx, o.ID, order.StatusCancelled); err != nil {
		return nil, err
	}

	released, err := r.ledger.ReleaseOrder(ctx, tx, o.ID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_number", o.Number).
		Int("reservations_released", released).
		Msg("Order cancelled after failed payment")

	return o, nil
}

// Publishing happens after commit and never fails the webhook.
func (r *reconciler) publish(ctx context.Context, res applyResult) {
	if res.newStatus != "" {
		key := events.KeyPaymentSucceeded
		if res.newStatus == payment.StatusFailed {
			key = events.KeyPaymentFailed
		}
		event := events.PaymentStatusChanged{
			OrderID:     res.payment.OrderID,
			PaymentID:   res.payment.ID,
			Gateway:     res.payment.Gateway,
			Status:      res.newStatus.String(),
			AmountCents: res.payment.Amount.Cents(),
			Currency:    res.payment.Currency,
			OccurredAt:  time.Now().UTC(),
		}
		if err := r.publisher.Publish(ctx, key, event); err != nil {
			log.Error().Err(err).Msg("Failed to publish payment status event")
		}
	}

	if res.cancelledOrder != nil {
		event := events.OrderCancelled{
			OrderID:     res.cancelledOrder.ID,
			OrderNumber: res.cancelledOrder.Number,
			Reason:      "payment_failed",
			CancelledAt: time.Now().UTC(),
		}
		if err := r.publisher.Publish(ctx, events.KeyOrderCancelled, event); err != nil {
			log.Error().Err(err).Msg("Failed to publish order cancelled event")
		}
	}
}
