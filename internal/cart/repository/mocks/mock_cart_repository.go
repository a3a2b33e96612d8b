package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/cart/domain"
)

type MockCartRepository struct {
	mock.Mock
}

func (m *MockCartRepository) CreateCart(ctx context.Context, cart *domain.Cart) error {
	args := m.Called(ctx, cart)
	if cart != nil && args.Error(0) == nil {
		cart.ID = "mocked-cart-id"
		cart.Items = []domain.CartItem{}
	}
	return args.Error(0)
}

func (m *MockCartRepository) GetCartByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	args := m.Called(ctx, cartID)
	if c := args.Get(0); c != nil {
		return c.(*domain.Cart), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCartRepository) AddItem(ctx context.Context, cartID, productID string, quantity int) error {
	return m.Called(ctx, cartID, productID, quantity).Error(0)
}

func (m *MockCartRepository) SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	return m.Called(ctx, cartID, productID, quantity).Error(0)
}

func (m *MockCartRepository) RemoveItem(ctx context.Context, cartID, productID string) error {
	return m.Called(ctx, cartID, productID).Error(0)
}

func (m *MockCartRepository) ClearCart(ctx context.Context, cartID string) error {
	return m.Called(ctx, cartID).Error(0)
}
