package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/cart/domain"
)

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) cart(args mock.Arguments) (*domain.Cart, error) {
	if c := args.Get(0); c != nil {
		return c.(*domain.Cart), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCartService) CreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return m.cart(m.Called(ctx, userID))
}

func (m *MockCartService) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	return m.cart(m.Called(ctx, cartID))
}

func (m *MockCartService) AddItem(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	return m.cart(m.Called(ctx, cartID, productID, quantity))
}

func (m *MockCartService) UpdateItemQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	return m.cart(m.Called(ctx, cartID, productID, quantity))
}

func (m *MockCartService) RemoveItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	return m.cart(m.Called(ctx, cartID, productID))
}

func (m *MockCartService) ClearCart(ctx context.Context, cartID string) error {
	return m.Called(ctx, cartID).Error(0)
}
