package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/money"
	"github.com/eytgaming/checkout-service/internal/order"
	"github.com/eytgaming/checkout-service/internal/payment"
)

var (
	// ErrBusy means inventory stayed contended after the one automatic
	// retry. The shopper should simply try again.
	ErrBusy = errors.New("checkout: inventory is busy, try again")

	ErrOrderNotPayable = errors.New("checkout: order is not awaiting payment")
)

// retryBackoff gives the competing checkout time to commit or roll back
// before the second and final attempt.
const retryBackoff = 100 * time.Millisecond

type Request struct {
	UserID   uuid.UUID
	Gateway  string
	Email    string
	Address  order.ShippingAddress
	Shipping money.Amount
	Tax      money.Amount
}

// Result is the storefront's receipt: the placed order plus whatever
// the gateway needs to collect the money.
type Result struct {
	Order        *order.Order     `json:"order"`
	Payment      *payment.Payment `json:"payment"`
	ClientSecret string           `json:"client_secret,omitempty"`
}

// Service drives a full checkout: place the order, open a payment
// intent at the chosen gateway, and record the pending payment.
type Service interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
	RetryPayment(ctx context.Context, orderNumber, gatewayName, email string) (*Result, error)
}

type service struct {
	pool     *pgxpool.Pool
	orders   order.Service
	payments payment.Repository
	gateways *payment.Registry
}

func NewService(pool *pgxpool.Pool, orders order.Service, payments payment.Repository, gateways *payment.Registry) Service {
	return &service{
		pool:     pool,
		orders:   orders,
		payments: payments,
		gateways: gateways,
	}
}

func (s *service) Checkout(ctx context.Context, req Request) (*Result, error) {
	// Resolve the gateway before touching the cart so a typo'd gateway
	// name cannot consume stock.
	gw, err := s.gateways.Get(req.Gateway)
	if err != nil {
		return nil, err
	}

	o, err := s.placeOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	return s.openIntent(ctx, gw, o, req.Email)
}

// placeOrder runs the cart conversion, retrying exactly once when the
// failure was lock contention rather than a real shortage.
func (s *service) placeOrder(ctx context.Context, req Request) (*order.Order, error) {
	createReq := order.CreateRequest{
		UserID:   req.UserID,
		Address:  req.Address,
		Shipping: req.Shipping,
		Tax:      req.Tax,
	}

	o, err := s.orders.Create(ctx, createReq)
	if err == nil || !errors.Is(err, inventory.ErrLockTimeout) {
		return o, err
	}

	log.Warn().
		Str("user_id", req.UserID.String()).
		Err(err).
		Msg("Checkout hit inventory contention, retrying once")

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryBackoff):
	}

	o, err = s.orders.Create(ctx, createReq)
	if errors.Is(err, inventory.ErrLockTimeout) {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return o, err
}

func (s *service) openIntent(ctx context.Context, gw payment.Gateway, o *order.Order, email string) (*Result, error) {
	intent, err := gw.CreateIntent(ctx, payment.IntentRequest{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Amount:      o.Total,
		Currency:    o.Currency,
		Email:       email,
	})
	if err != nil {
		// The order and its reservations are already committed. The
		// shopper recovers through RetryPayment instead of checking
		// out again with an emptied cart.
		log.Error().
			Str("order_number", o.Number).
			Str("gateway", gw.Name()).
			Err(err).
			Msg("Order placed but payment intent could not be opened")
		return nil, fmt.Errorf("checkout: failed to open payment intent for order %s: %w", o.Number, err)
	}

	paymentID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("checkout: failed to generate payment id: %w", err)
	}

	p := &payment.Payment{
		ID:        paymentID,
		OrderID:   o.ID,
		Gateway:   gw.Name(),
		IntentRef: intent.Ref,
		Amount:    o.Total,
		Currency:  o.Currency,
		Status:    payment.StatusCreated,
	}
	if err := s.payments.Insert(ctx, s.pool, p); err != nil {
		return nil, fmt.Errorf("checkout: failed to record payment: %w", err)
	}

	log.Info().
		Str("order_number", o.Number).
		Str("gateway", gw.Name()).
		Str("intent_ref", intent.Ref).
		Msg("Checkout complete, awaiting payment")

	return &Result{Order: o, Payment: p, ClientSecret: intent.ClientSecret}, nil
}

// RetryPayment opens a fresh intent for an order that is still waiting
// on its money, for shoppers whose first attempt failed or expired.
func (s *service) RetryPayment(ctx context.Context, orderNumber, gatewayName, email string) (*Result, error) {
	gw, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPending {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, o.Number, o.Status)
	}

	existing, err := s.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("checkout: failed to load payments: %w", err)
	}
	for i := range existing {
		if existing[i].Status.Settled() {
			return nil, fmt.Errorf("%w: order %s is already paid", ErrOrderNotPayable, o.Number)
		}
	}

	return s.openIntent(ctx, gw, o, email)
}
