package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/order/domain"
	"github.com/ridloal/vg-checkout/internal/order/repository"
)

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) CreateOrderWithItems(ctx context.Context, order *domain.Order, items []domain.OrderItem) error {
	args := m.Called(ctx, order, items)
	if order != nil && args.Error(0) == nil {
		order.ID = "mock-order-id"
		if order.Status == "" {
			order.Status = domain.StatusPending
		}
		order.Items = items
	}
	return args.Error(0)
}

func (m *MockOrderRepository) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) GetOrderByTransactionID(ctx context.Context, transactionID string) (*domain.Order, error) {
	args := m.Called(ctx, transactionID)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	args := m.Called(ctx, orderID)
	if oi := args.Get(0); oi != nil {
		return oi.([]domain.OrderItem), args.Error(1)
	}
	return nil, args.Error(1)
}

// TransitionOrder runs fn directly on the *domain.Order given to Return, so the
// mutation is visible to later calls in the same test.
func (m *MockOrderRepository) TransitionOrder(ctx context.Context, orderID string, fn repository.TransitionFunc) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	o := args.Get(0).(*domain.Order)
	if _, err := fn(o); err != nil {
		return nil, err
	}
	return o, nil
}

func (m *MockOrderRepository) GetPendingOrdersOlderThan(ctx context.Context, duration time.Duration) ([]domain.Order, error) {
	args := m.Called(ctx, duration)
	if o := args.Get(0); o != nil {
		return o.([]domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}
