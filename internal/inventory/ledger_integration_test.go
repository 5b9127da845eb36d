//go:build integration

package inventory_test

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eytgaming/checkout-service/internal/inventory"
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

func setup(t *testing.T) inventory.Ledger {
	if err := env.TruncateAll(context.Background()); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
	return inventory.NewLedger(env.Pool, 100)
}

func createProduct(t *testing.T, stock int) uuid.UUID {
	t.Helper()

	id, err := uuid.NewV4()
	require.NoError(t, err)

	_, err = env.Pool.Exec(context.Background(), `
		INSERT INTO products (id, sku, name, price_cents, currency, active, stock_quantity)
		VALUES ($1, $2, 'Mechanical Keyboard', 2000, 'USD', TRUE, $3)
	`, id, "SKU-"+id.String()[:8], stock)
	require.NoError(t, err, "Should insert product")

	return id
}

func createOrderWithLine(t *testing.T, productID uuid.UUID, quantity int) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	orderID, err := uuid.NewV4()
	require.NoError(t, err)
	lineID, err := uuid.NewV4()
	require.NoError(t, err)
	userID, err := uuid.NewV4()
	require.NoError(t, err)

	_, err = env.Pool.Exec(ctx, `
		INSERT INTO orders (id, number, user_id, status, subtotal_cents, shipping_cents, tax_cents, total_cents, currency)
		VALUES ($1, $2, $3, 'pending', 0, 0, 0, 0, 'USD')
	`, orderID, "TEST-"+orderID.String()[:13], userID)
	require.NoError(t, err, "Should insert order")

	_, err = env.Pool.Exec(ctx, `
		INSERT INTO order_lines (id, order_id, product_id, product_name, unit_price_cents, quantity, line_total_cents)
		VALUES ($1, $2, $3, 'Mechanical Keyboard', 2000, $4, $5)
	`, lineID, orderID, productID, quantity, 2000*quantity)
	require.NoError(t, err, "Should insert order line")

	return orderID, lineID
}

func stockOf(t *testing.T, productID uuid.UUID) int {
	t.Helper()

	var stock int
	err := env.Pool.QueryRow(context.Background(),
		`SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&stock)
	require.NoError(t, err)
	return stock
}

// inTx runs fn inside its own transaction. It never calls into t so it
// is safe from spawned goroutines.
func inTx(t *testing.T, fn func(tx pgx.Tx) error) error {
	t.Helper()
	ctx := context.Background()

	tx, err := env.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func TestLedger_Reserve(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	productID := createProduct(t, 5)
	orderID, lineID := createOrderWithLine(t, productID, 3)

	err := inTx(t, func(tx pgx.Tx) error {
		return ledger.Reserve(ctx, tx, inventory.ReserveRequest{
			OrderID:     orderID,
			OrderLineID: lineID,
			ProductID:   productID,
			Quantity:    3,
		})
	})
	assert.NoError(t, err, "Reserve should succeed with enough stock")
	assert.Equal(t, 2, stockOf(t, productID), "Stock should be decremented")

	reservations, err := ledger.ListByOrder(ctx, orderID)
	assert.NoError(t, err)
	if assert.Len(t, reservations, 1) {
		assert.Equal(t, 3, reservations[0].Quantity)
		assert.False(t, reservations[0].Released)
	}
}

func TestLedger_Reserve_InsufficientStock(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	productID := createProduct(t, 1)
	orderID, lineID := createOrderWithLine(t, productID, 3)

	err := inTx(t, func(tx pgx.Tx) error {
		return ledger.Reserve(ctx, tx, inventory.ReserveRequest{
			OrderID:     orderID,
			OrderLineID: lineID,
			ProductID:   productID,
			Quantity:    3,
		})
	})

	var stockErr *inventory.InsufficientStockError
	if assert.True(t, errors.As(err, &stockErr), "Should report insufficient stock") {
		assert.Equal(t, 1, stockErr.Available, "Error should carry the available quantity")
		assert.Equal(t, 3, stockErr.Requested)
	}
	assert.Equal(t, 1, stockOf(t, productID), "Stock should be untouched after a failed reserve")
}

// Two buyers race for the last unit. The row lock serializes them, so
// exactly one reservation wins.
func TestLedger_Reserve_ConcurrentLastUnit(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	productID := createProduct(t, 1)

	var wg sync.WaitGroup
	results := make([]error, 2)

	for i := 0; i < 2; i++ {
		orderID, lineID := createOrderWithLine(t, productID, 1)

		wg.Add(1)
		go func(slot int, orderID, lineID uuid.UUID) {
			defer wg.Done()
			results[slot] = inTx(t, func(tx pgx.Tx) error {
				return ledger.Reserve(ctx, tx, inventory.ReserveRequest{
					OrderID:     orderID,
					OrderLineID: lineID,
					ProductID:   productID,
					Quantity:    1,
				})
			})
		}(i, orderID, lineID)
	}
	wg.Wait()

	succeeded := 0
	insufficient := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *inventory.InsufficientStockError
		if errors.As(err, &stockErr) {
			insufficient++
		}
	}

	assert.Equal(t, 1, succeeded, "Exactly one reservation should win the last unit")
	assert.Equal(t, 1, insufficient, "The loser should see insufficient stock")
	assert.Equal(t, 0, stockOf(t, productID), "Stock should never go negative")
}

func TestLedger_Release_IsIdempotent(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	productID := createProduct(t, 5)
	orderID, lineID := createOrderWithLine(t, productID, 2)

	err := inTx(t, func(tx pgx.Tx) error {
		return ledger.Reserve(ctx, tx, inventory.ReserveRequest{
			OrderID:     orderID,
			OrderLineID: lineID,
			ProductID:   productID,
			Quantity:    2,
		})
	})
	require.NoError(t, err)
	require.Equal(t, 3, stockOf(t, productID))

	err = inTx(t, func(tx pgx.Tx) error {
		return ledger.Release(ctx, tx, lineID)
	})
	assert.NoError(t, err, "First release should succeed")
	assert.Equal(t, 5, stockOf(t, productID), "Stock should be restored")

	err = inTx(t, func(tx pgx.Tx) error {
		return ledger.Release(ctx, tx, lineID)
	})
	assert.NoError(t, err, "Second release should be a no-op")
	assert.Equal(t, 5, stockOf(t, productID), "Stock should not be restored twice")
}

func TestLedger_Release_UnknownLine(t *testing.T) {
	ledger := setup(t)

	lineID, err := uuid.NewV4()
	require.NoError(t, err)

	err = inTx(t, func(tx pgx.Tx) error {
		return ledger.Release(context.Background(), tx, lineID)
	})
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
}

func TestLedger_ReleaseOrder(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	first := createProduct(t, 5)
	second := createProduct(t, 5)
	orderID, firstLine := createOrderWithLine(t, first, 2)

	secondLine, err := uuid.NewV4()
	require.NoError(t, err)
	_, err = env.Pool.Exec(ctx, `
		INSERT INTO order_lines (id, order_id, product_id, product_name, unit_price_cents, quantity, line_total_cents)
		VALUES ($1, $2, $3, 'Deskmat', 1500, 3, 4500)
	`, secondLine, orderID, second)
	require.NoError(t, err)

	err = inTx(t, func(tx pgx.Tx) error {
		if err := ledger.Reserve(ctx, tx, inventory.ReserveRequest{
			OrderID: orderID, OrderLineID: firstLine, ProductID: first, Quantity: 2,
		}); err != nil {
			return err
		}
		return ledger.Reserve(ctx, tx, inventory.ReserveRequest{
			OrderID: orderID, OrderLineID: secondLine, ProductID: second, Quantity: 3,
		})
	})
	require.NoError(t, err)
	require.Equal(t, 3, stockOf(t, first))
	require.Equal(t, 2, stockOf(t, second))

	var released int
	err = inTx(t, func(tx pgx.Tx) error {
		var relErr error
		released, relErr = ledger.ReleaseOrder(ctx, tx, orderID)
		return relErr
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, released, "Both reservations should be released")
	assert.Equal(t, 5, stockOf(t, first))
	assert.Equal(t, 5, stockOf(t, second))

	err = inTx(t, func(tx pgx.Tx) error {
		var relErr error
		released, relErr = ledger.ReleaseOrder(ctx, tx, orderID)
		return relErr
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, released, "Repeat release should flip nothing")
	assert.Equal(t, 5, stockOf(t, first), "Stock should not grow past the original level")
}

func TestLedger_CheckAvailability(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	productID := createProduct(t, 3)

	ok, err := ledger.CheckAvailability(ctx, productID, 3)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.CheckAvailability(ctx, productID, 4)
	assert.NoError(t, err)
	assert.False(t, ok)

	missing, err := uuid.NewV4()
	require.NoError(t, err)
	_, err = ledger.CheckAvailability(ctx, missing, 1)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}
