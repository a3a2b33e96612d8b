package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	pDomain "github.com/ridloal/vg-checkout/internal/product/domain"
)

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) ListProducts(ctx context.Context) ([]pDomain.Product, error) {
	args := m.Called(ctx)
	if res := args.Get(0); res != nil {
		return res.([]pDomain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProductRepository) GetProductByID(ctx context.Context, id string) (*pDomain.Product, error) {
	args := m.Called(ctx, id)
	if res := args.Get(0); res != nil {
		return res.(*pDomain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProductRepository) FindMany(ctx context.Context, ids []string) ([]pDomain.Product, error) {
	args := m.Called(ctx, ids)
	if res := args.Get(0); res != nil {
		return res.([]pDomain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProductRepository) ReserveStock(ctx context.Context, items []pDomain.StockItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockProductRepository) ReleaseStock(ctx context.Context, items []pDomain.StockItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockProductRepository) SyncStockStatus(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
