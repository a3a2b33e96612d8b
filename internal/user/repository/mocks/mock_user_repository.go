package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ridloal/vg-checkout/internal/user/domain"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	// Isi field yang biasanya di-set oleh database
	if user != nil && args.Error(0) == nil {
		user.ID = "mocked-user-id"
		user.CreatedAt = time.Now()
		user.UpdatedAt = user.CreatedAt
	}
	return args.Error(0)
}

func (m *MockUserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}
