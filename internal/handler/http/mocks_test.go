package http_test

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/eytgaming/checkout-service/internal/cart"
	"github.com/eytgaming/checkout-service/internal/checkout"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/money"
	"github.com/eytgaming/checkout-service/internal/order"
	"github.com/eytgaming/checkout-service/internal/payment"
	"github.com/eytgaming/checkout-service/internal/refund"
)

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) GetView(ctx context.Context, owner cart.Owner) (*cart.View, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.View), args.Error(1)
}

func (m *MockCartService) AddLine(ctx context.Context, owner cart.Owner, productID uuid.UUID, quantity int) (*cart.View, error) {
	args := m.Called(ctx, owner, productID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.View), args.Error(1)
}

func (m *MockCartService) UpdateQuantity(ctx context.Context, owner cart.Owner, productID uuid.UUID, quantity int) (*cart.View, error) {
	args := m.Called(ctx, owner, productID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.View), args.Error(1)
}

func (m *MockCartService) RemoveLine(ctx context.Context, owner cart.Owner, productID uuid.UUID) (*cart.View, error) {
	args := m.Called(ctx, owner, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.View), args.Error(1)
}

func (m *MockCartService) Merge(ctx context.Context, sessionKey string, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, sessionKey, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCartService) Validate(ctx context.Context, owner cart.Owner) ([]cart.LineProblem, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cart.LineProblem), args.Error(1)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Create(ctx context.Context, req order.CreateRequest) (*order.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, id uuid.UUID, status order.OrderStatus) (*order.Order, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

func (m *MockCheckoutService) RetryPayment(ctx context.Context, orderNumber, gatewayName, email string) (*checkout.Result, error) {
	args := m.Called(ctx, orderNumber, gatewayName, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) Issue(ctx context.Context, req refund.Request) (*refund.Receipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*refund.Receipt), args.Error(1)
}

func (m *MockCoordinator) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]payment.Refund, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]payment.Refund), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Process(ctx context.Context, gatewayName, signatureHeader string, payload []byte) error {
	args := m.Called(ctx, gatewayName, signatureHeader, payload)
	return args.Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CheckAvailability(ctx context.Context, productID uuid.UUID, quantity int) (bool, error) {
	args := m.Called(ctx, productID, quantity)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) Reserve(ctx context.Context, tx inventory.DB, req inventory.ReserveRequest) error {
	args := m.Called(ctx, tx, req)
	return args.Error(0)
}

func (m *MockLedger) Release(ctx context.Context, tx inventory.DB, orderLineID uuid.UUID) error {
	args := m.Called(ctx, tx, orderLineID)
	return args.Error(0)
}

func (m *MockLedger) ReleaseOrder(ctx context.Context, tx inventory.DB, orderID uuid.UUID) (int, error) {
	args := m.Called(ctx, tx, orderID)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]inventory.Reservation, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]inventory.Reservation), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Insert(ctx context.Context, db payment.DB, p *payment.Payment) error {
	args := m.Called(ctx, db, p)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetForUpdate(ctx context.Context, db payment.DB, id uuid.UUID) (*payment.Payment, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) LockByIntentRef(ctx context.Context, db payment.DB, gateway, intentRef string) (*payment.Payment, error) {
	args := m.Called(ctx, db, gateway, intentRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, db payment.DB, id uuid.UUID, status payment.PaymentStatus, externalTxnID string) error {
	args := m.Called(ctx, db, id, status, externalTxnID)
	return args.Error(0)
}

func (m *MockPaymentRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]payment.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) InsertRefund(ctx context.Context, db payment.DB, r *payment.Refund) error {
	args := m.Called(ctx, db, r)
	return args.Error(0)
}

func (m *MockPaymentRepository) RefundedTotal(ctx context.Context, db payment.DB, paymentID uuid.UUID) (money.Amount, error) {
	args := m.Called(ctx, db, paymentID)
	return args.Get(0).(money.Amount), args.Error(1)
}

func (m *MockPaymentRepository) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]payment.Refund, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]payment.Refund), args.Error(1)
}
