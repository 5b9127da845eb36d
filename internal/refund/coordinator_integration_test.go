//go:build integration

package refund_test

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eytgaming/checkout-service/internal/cart"
	"github.com/eytgaming/checkout-service/internal/catalog"
	"github.com/eytgaming/checkout-service/internal/events"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/money"
	"github.com/eytgaming/checkout-service/internal/order"
	"github.com/eytgaming/checkout-service/internal/payment"
	"github.com/eytgaming/checkout-service/internal/refund"
	"github.com/eytgaming/checkout-service/internal/testdb"
)

var env *testdb.Env

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	env, err = testdb.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to set up test database: %v", err)
	}

	exitCode := m.Run()

	env.Teardown(ctx)
	os.Exit(exitCode)
}

type fixture struct {
	coordinator refund.Coordinator
	checkout    order.Service
	payments    payment.Repository
	products    catalog.Repository
	carts       cart.Repository
	ledger      inventory.Ledger
	gatewaySrv  *httptest.Server
	refundCalls *int
}

// setup wires the coordinator against a stand-in gateway that grants
// every refund unless failRefunds is set.
func setup(t *testing.T, failRefunds bool) *fixture {
	if err := env.TruncateAll(context.Background()); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failRefunds {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"refunds are down"}}`)
			return
		}
		calls++
		fmt.Fprintf(w, `{"id":"re_%d","status":"succeeded"}`, calls)
	}))
	t.Cleanup(srv.Close)

	carts := cart.NewRepository(env.Pool)
	products := catalog.NewRepository(env.Pool)
	ledger := inventory.NewLedger(env.Pool, 100)
	orders := order.NewRepository(env.Pool)
	payments := payment.NewRepository(env.Pool)
	registry := payment.NewRegistry(payment.NewStripeGateway("sk_test", "whsec_test", srv.URL))

	return &fixture{
		coordinator: refund.NewCoordinator(env.Pool, payments, registry, ledger, events.Nop{}),
		checkout: order.NewService(env.Pool, orders, carts, products, ledger, events.Nop{}, order.Config{
			NumberPrefix: "ORD",
			LockTimeout:  5 * time.Second,
		}),
		payments:    payments,
		products:    products,
		carts:       carts,
		ledger:      ledger,
		gatewaySrv:  srv,
		refundCalls: &calls,
	}
}

// settledPayment places a real order and marks its payment captured.
func settledPayment(t *testing.T, f *fixture, price money.Amount, quantity, stock int) (*payment.Payment, *order.Order, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	productID, err := uuid.NewV4()
	require.NoError(t, err)
	product := &catalog.Product{
		ID:            productID,
		SKU:           "SKU-" + productID.String()[:8],
		Name:          "Tournament Jersey",
		Price:         price,
		Currency:      "USD",
		Active:        true,
		StockQuantity: stock,
	}
	require.NoError(t, f.products.Create(ctx, product))

	userID, err := uuid.NewV4()
	require.NoError(t, err)
	c, err := f.carts.GetOrCreate(ctx, cart.OwnerForUser(userID))
	require.NoError(t, err)
	require.NoError(t, f.carts.AddLine(ctx, c.ID, productID, quantity, 100))

	o, err := f.checkout.Create(ctx, order.CreateRequest{
		UserID:  userID,
		Address: order.ShippingAddress{Name: "Dana Velez", Line1: "17 Arcade Row", City: "Portland", Country: "US"},
	})
	require.NoError(t, err)

	paymentID, err := uuid.NewV4()
	require.NoError(t, err)
	p := &payment.Payment{
		ID:        paymentID,
		OrderID:   o.ID,
		Gateway:   "stripe",
		IntentRef: "pi_" + paymentID.String()[:8],
		Amount:    o.Total,
		Currency:  "USD",
		Status:    payment.StatusSucceeded,
	}
	require.NoError(t, f.payments.Insert(ctx, env.Pool, p))

	return p, o, productID
}

func stockOf(t *testing.T, productID uuid.UUID) int {
	t.Helper()

	var stock int
	err := env.Pool.QueryRow(context.Background(),
		`SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&stock)
	require.NoError(t, err)
	return stock
}

// A 50.00 payment: 30.00 goes through, 25.00 must be rejected naming
// the remaining 20.00, then exactly 20.00 closes the payment out.
func TestCoordinator_RefundBounds(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	p, _, _ := settledPayment(t, f, 5000, 1, 10)

	first, err := f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 3000, Reason: "damaged print"})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(3000), first.Refund.Amount)
	assert.Equal(t, "re_1", first.Refund.GatewayRef)
	assert.Equal(t, payment.StatusPartiallyRefunded, first.PaymentStatus)
	assert.Equal(t, money.Amount(2000), first.Remaining)

	got, err := f.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPartiallyRefunded, got.Status)

	_, err = f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 2500})
	var exceeds *refund.ExceedsAvailableError
	require.ErrorAs(t, err, &exceeds)
	assert.Equal(t, money.Amount(2000), exceeds.MaxRefundable)
	assert.Equal(t, 1, *f.refundCalls, "Rejected refunds must never reach the gateway")

	second, err := f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, "re_2", second.Refund.GatewayRef)
	assert.Equal(t, payment.StatusRefunded, second.PaymentStatus)
	assert.Equal(t, money.Amount(0), second.Remaining)

	got, err = f.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, got.Status, "Fully refunded payment should close out")

	_, err = f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 1})
	require.ErrorAs(t, err, &exceeds)
	assert.Equal(t, money.Amount(0), exceeds.MaxRefundable)

	refunds, err := f.coordinator.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, money.Amount(3000), refunds[0].Amount)
	assert.Equal(t, money.Amount(2000), refunds[1].Amount)
}

func TestCoordinator_OmittedAmountRefundsRemainder(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	p, _, _ := settledPayment(t, f, 5000, 1, 10)

	_, err := f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 3000, Reason: "late delivery"})
	require.NoError(t, err)

	rest, err := f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(2000), rest.Refund.Amount, "Omitted amount takes whatever is left")
	assert.Equal(t, money.Amount(0), rest.Remaining)

	got, err := f.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, got.Status)

	_, err = f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID})
	var exceeds *refund.ExceedsAvailableError
	require.ErrorAs(t, err, &exceeds)
	assert.Equal(t, money.Amount(0), exceeds.MaxRefundable)
}

func TestCoordinator_RestockReleasesInventory(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	p, o, productID := settledPayment(t, f, 2500, 2, 10)
	require.Equal(t, 8, stockOf(t, productID), "Checkout should hold the stock")

	issued, err := f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 5000, Restock: true})
	require.NoError(t, err)
	assert.True(t, issued.Refund.Restock)

	assert.Equal(t, 10, stockOf(t, productID), "Restocking refund should return the units")

	reservations, err := f.ledger.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.True(t, reservations[0].Released)
}

func TestCoordinator_WithoutRestockKeepsInventory(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	p, _, productID := settledPayment(t, f, 2500, 2, 10)

	_, err := f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 5000})
	require.NoError(t, err)

	assert.Equal(t, 8, stockOf(t, productID), "Without the restock flag the units stay held")
}

func TestCoordinator_GatewayFailureLeavesNoRecord(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	p, _, _ := settledPayment(t, f, 5000, 1, 10)

	_, err := f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 3000})
	require.Error(t, err)

	var apiErr *payment.APIError
	assert.ErrorAs(t, err, &apiErr, "Gateway refusal should surface as an API error")

	got, err := f.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, got.Status, "Refused refund must not change payment state")

	refunds, err := f.coordinator.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
}

func TestCoordinator_UnsettledPayment(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	p, _, _ := settledPayment(t, f, 5000, 1, 10)
	_, err := env.Pool.Exec(ctx, `UPDATE payments SET status = 'created' WHERE id = $1`, p.ID)
	require.NoError(t, err)

	_, err = f.coordinator.Issue(ctx, refund.Request{PaymentID: p.ID, Amount: 1000})
	assert.ErrorIs(t, err, refund.ErrPaymentNotRefundable)
}

func TestCoordinator_UnknownPayment(t *testing.T) {
	f := setup(t, false)

	missing, err := uuid.NewV4()
	require.NoError(t, err)

	_, err = f.coordinator.Issue(context.Background(), refund.Request{PaymentID: missing, Amount: 1000})
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}
