package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/user/domain"
)

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) ResolveCustomer(ctx context.Context, info domain.ShippingInfo) (*domain.User, error) {
	args := m.Called(ctx, info)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}
