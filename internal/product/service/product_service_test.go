package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ridloal/vg-checkout/internal/platform/apperr"
	pDomain "github.com/ridloal/vg-checkout/internal/product/domain"
	pRepo "github.com/ridloal/vg-checkout/internal/product/repository"
	"github.com/ridloal/vg-checkout/internal/product/repository/mocks"
)

// memRepo has the same all-or-nothing conditional decrement contract as the postgres repository.
type memRepo struct {
	mu       sync.Mutex
	products map[string]*pDomain.Product
}

func newMemRepo(products ...pDomain.Product) *memRepo {
	r := &memRepo{products: map[string]*pDomain.Product{}}
	for i := range products {
		p := products[i]
		r.products[p.ID] = &p
	}
	return r
}

func (r *memRepo) ListProducts(ctx context.Context) ([]pDomain.Product, error) {
	return r.FindMany(ctx, nil)
}

func (r *memRepo) GetProductByID(_ context.Context, id string) (*pDomain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, pRepo.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) FindMany(_ context.Context, ids []string) ([]pDomain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []pDomain.Product{}
	for id, p := range r.products {
		if ids == nil || contains(ids, id) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (r *memRepo) ReserveStock(_ context.Context, items []pDomain.StockItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := pDomain.MergeStockItems(items)
	for _, it := range merged {
		p, ok := r.products[it.ProductID]
		if !ok || p.Status != pDomain.StatusActive || p.Stock < it.Quantity {
			return pRepo.ErrInsufficientStock
		}
	}
	for _, it := range merged {
		r.products[it.ProductID].Stock -= it.Quantity
	}
	return nil
}

func (r *memRepo) ReleaseStock(_ context.Context, items []pDomain.StockItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		if p, ok := r.products[it.ProductID]; ok {
			p.Stock += it.Quantity
		}
	}
	return nil
}

func (r *memRepo) SyncStockStatus(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.products {
		switch {
		case p.Status == pDomain.StatusActive && p.Stock <= 0:
			p.Status = pDomain.StatusOutOfStock
			n++
		case p.Status == pDomain.StatusOutOfStock && p.Stock > 0:
			p.Status = pDomain.StatusActive
			n++
		}
	}
	return n, nil
}

func product(id, name string, stock int) pDomain.Product {
	return pDomain.Product{ID: id, Name: name, Price: decimal.RequireFromString("25.99"), Stock: stock, Status: pDomain.StatusActive}
}

func TestProductService_ValidateStock(t *testing.T) {
	mockRepo := new(mocks.MockProductRepository)
	s := NewProductService(mockRepo)
	ctx := context.TODO()

	t.Run("Insufficient stock is reported with availability", func(t *testing.T) {
		mockRepo.On("FindMany", ctx, []string{"prod1"}).Return([]pDomain.Product{product("prod1", "Steam Card", 2)}, nil).Once()

		v, err := s.ValidateStock(ctx, []pDomain.StockItem{{ProductID: "prod1", Quantity: 3}})
		require.NoError(t, err)
		assert.False(t, v.Valid)
		require.Len(t, v.Errors, 1)
		assert.Contains(t, v.Errors[0], "Insufficient stock")
		assert.Contains(t, v.Errors[0], "Available: 2")
	})

	t.Run("All violations are aggregated", func(t *testing.T) {
		inactive := product("prod2", "Retired Key", 10)
		inactive.Status = pDomain.StatusInactive
		mockRepo.On("FindMany", ctx, []string{"missing", "prod1", "prod2"}).
			Return([]pDomain.Product{product("prod1", "Steam Card", 1), inactive}, nil).Once()

		v, err := s.ValidateStock(ctx, []pDomain.StockItem{
			{ProductID: "prod1", Quantity: 1},
			{ProductID: "prod2", Quantity: 1},
			{ProductID: "missing", Quantity: 1},
			{ProductID: "prod1", Quantity: 1},
		})
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Len(t, v.Errors, 3)
		assert.Empty(t, v.ValidatedProducts)
	})

	t.Run("Valid items return the validated products", func(t *testing.T) {
		mockRepo.On("FindMany", ctx, []string{"prod1"}).Return([]pDomain.Product{product("prod1", "Steam Card", 5)}, nil).Once()

		v, err := s.ValidateStock(ctx, []pDomain.StockItem{{ProductID: "prod1", Quantity: 5}})
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Contains(t, v.ValidatedProducts, "prod1")
	})

	t.Run("Repository error", func(t *testing.T) {
		mockRepo.On("FindMany", ctx, mock.Anything).Return(nil, errors.New("db error")).Once()
		_, err := s.ValidateStock(ctx, []pDomain.StockItem{{ProductID: "prod1", Quantity: 1}})
		assert.Error(t, err)
	})

	mockRepo.AssertExpectations(t)
}

func TestProductService_ReserveStock(t *testing.T) {
	ctx := context.TODO()

	t.Run("Invalid items never reach the decrement", func(t *testing.T) {
		mockRepo := new(mocks.MockProductRepository)
		s := NewProductService(mockRepo)
		mockRepo.On("FindMany", ctx, []string{"prod1"}).Return([]pDomain.Product{product("prod1", "Steam Card", 2)}, nil).Once()

		err := s.ReserveStock(ctx, []pDomain.StockItem{{ProductID: "prod1", Quantity: 3}})
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.ErrorIs(t, err, pRepo.ErrInsufficientStock)
		mockRepo.AssertNotCalled(t, "ReserveStock", mock.Anything, mock.Anything)
	})

	t.Run("Losing the race after validation is a validation error", func(t *testing.T) {
		mockRepo := new(mocks.MockProductRepository)
		s := NewProductService(mockRepo)
		items := []pDomain.StockItem{{ProductID: "prod1", Quantity: 1}}
		mockRepo.On("FindMany", ctx, []string{"prod1"}).Return([]pDomain.Product{product("prod1", "Steam Card", 1)}, nil).Once()
		mockRepo.On("ReserveStock", ctx, items).Return(pRepo.ErrInsufficientStock).Once()

		err := s.ReserveStock(ctx, items)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		mockRepo.AssertExpectations(t)
	})
}

func TestStockConservation(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		initial := map[string]int{"a": rng.Intn(20), "b": rng.Intn(20), "c": rng.Intn(20)}
		repo := newMemRepo(product("a", "A", initial["a"]), product("b", "B", initial["b"]), product("c", "C", initial["c"]))
		s := NewProductService(repo)
		net := map[string]int{}
		var reserved [][]pDomain.StockItem

		for step := 0; step < 40; step++ {
			if len(reserved) > 0 && rng.Intn(3) == 0 {
				i := rng.Intn(len(reserved))
				require.NoError(t, s.ReleaseStock(ctx, reserved[i]))
				for _, it := range reserved[i] {
					net[it.ProductID] -= it.Quantity
				}
				reserved = append(reserved[:i], reserved[i+1:]...)
				continue
			}
			var items []pDomain.StockItem
			for _, id := range []string{"a", "b", "c"} {
				if rng.Intn(2) == 0 {
					items = append(items, pDomain.StockItem{ProductID: id, Quantity: 1 + rng.Intn(4)})
				}
			}
			if len(items) == 0 {
				continue
			}
			if err := s.ReserveStock(ctx, items); err == nil {
				reserved = append(reserved, items)
				for _, it := range items {
					net[it.ProductID] += it.Quantity
				}
			}
		}

		for id, start := range initial {
			p, err := repo.GetProductByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, start-net[id], p.Stock, "product %s run %d", id, run)
			assert.GreaterOrEqual(t, p.Stock, 0)
		}
	}
}

func TestConcurrentReservationOfLastUnit(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(product("last", "Last Key", 1))
	s := NewProductService(repo)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ReserveStock(ctx, []pDomain.StockItem{{ProductID: "last", Quantity: 1}}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	p, _ := repo.GetProductByID(ctx, "last")
	assert.Equal(t, 0, p.Stock)
}

func TestUpdateOutOfStockStatus(t *testing.T) {
	ctx := context.Background()
	empty := product("empty", "Empty", 0)
	restocked := product("restocked", "Restocked", 4)
	restocked.Status = pDomain.StatusOutOfStock
	repo := newMemRepo(empty, restocked, product("fine", "Fine", 3))
	s := NewProductService(repo)

	require.NoError(t, s.UpdateOutOfStockStatus(ctx))

	p, _ := repo.GetProductByID(ctx, "empty")
	assert.Equal(t, pDomain.StatusOutOfStock, p.Status)
	p, _ = repo.GetProductByID(ctx, "restocked")
	assert.Equal(t, pDomain.StatusActive, p.Status)
	p, _ = repo.GetProductByID(ctx, "fine")
	assert.Equal(t, pDomain.StatusActive, p.Status)
}
