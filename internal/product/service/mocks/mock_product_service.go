package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	pDomain "github.com/ridloal/vg-checkout/internal/product/domain"
)

type MockProductService struct {
	mock.Mock
}

func (m *MockProductService) ListProducts(ctx context.Context) ([]pDomain.Product, error) {
	args := m.Called(ctx)
	if res := args.Get(0); res != nil {
		return res.([]pDomain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProductService) GetProductDetails(ctx context.Context, productID string) (*pDomain.Product, error) {
	args := m.Called(ctx, productID)
	if res := args.Get(0); res != nil {
		return res.(*pDomain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProductService) ValidateStock(ctx context.Context, items []pDomain.StockItem) (*pDomain.StockValidation, error) {
	args := m.Called(ctx, items)
	if res := args.Get(0); res != nil {
		return res.(*pDomain.StockValidation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProductService) ReserveStock(ctx context.Context, items []pDomain.StockItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockProductService) ReleaseStock(ctx context.Context, items []pDomain.StockItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockProductService) UpdateOutOfStockStatus(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
