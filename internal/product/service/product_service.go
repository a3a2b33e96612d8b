package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/platform/apperr"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
	"github.com/ridloal/vg-checkout/internal/product/domain"
	"github.com/ridloal/vg-checkout/internal/product/repository"
)

const CodeInsufficientStock = "INSUFFICIENT_STOCK"

type ProductService interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductDetails(ctx context.Context, productID string) (*domain.Product, error)

	// ValidateStock reports every problem with items at once instead of stopping at the first.
	ValidateStock(ctx context.Context, items []domain.StockItem) (*domain.StockValidation, error)
	ReserveStock(ctx context.Context, items []domain.StockItem) error
	ReleaseStock(ctx context.Context, items []domain.StockItem) error
	UpdateOutOfStockStatus(ctx context.Context) error
}

type productServiceImpl struct {
	repo repository.ProductRepository
}

func NewProductService(repo repository.ProductRepository) ProductService {
	return &productServiceImpl{repo: repo}
}

func (s *productServiceImpl) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *productServiceImpl) GetProductDetails(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, err, fmt.Sprintf("product %s not found", productID))
		}
		return nil, err
	}
	return p, nil
}

func (s *productServiceImpl) ValidateStock(ctx context.Context, items []domain.StockItem) (*domain.StockValidation, error) {
	merged := domain.MergeStockItems(items)
	ids := make([]string, len(merged))
	for i, it := range merged {
		ids[i] = it.ProductID
	}

	products, err := s.repo.FindMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	result := &domain.StockValidation{Valid: true, Errors: []string{}, ValidatedProducts: map[string]domain.Product{}}
	for _, it := range merged {
		p, ok := byID[it.ProductID]
		switch {
		case !ok:
			result.Errors = append(result.Errors, fmt.Sprintf("Product %s not found", it.ProductID))
		case p.Status != domain.StatusActive:
			result.Errors = append(result.Errors, fmt.Sprintf("Product %s is not available", p.Name))
		case p.Stock < it.Quantity:
			result.Errors = append(result.Errors, fmt.Sprintf("Insufficient stock for %s. Available: %d, requested: %d", p.Name, p.Stock, it.Quantity))
		default:
			result.ValidatedProducts[p.ID] = p
		}
	}
	result.Valid = len(result.Errors) == 0
	return result, nil
}

func stockError(errs []string, cause error) error {
	return apperr.Wrap(apperr.KindValidation, cause, strings.Join(errs, "; ")).WithCode(CodeInsufficientStock)
}

func (s *productServiceImpl) ReserveStock(ctx context.Context, items []domain.StockItem) error {
	v, err := s.ValidateStock(ctx, items)
	if err != nil {
		return err
	}
	if !v.Valid {
		return stockError(v.Errors, repository.ErrInsufficientStock)
	}

	if err := s.repo.ReserveStock(ctx, items); err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			// Kalah race dengan pembeli lain di antara validasi dan decrement.
			return stockError([]string{err.Error()}, err)
		}
		return err
	}
	logger.Info("stock reserved", zap.Int("lines", len(items)))
	return nil
}

func (s *productServiceImpl) ReleaseStock(ctx context.Context, items []domain.StockItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := s.repo.ReleaseStock(ctx, items); err != nil {
		return err
	}
	logger.Info("stock released", zap.Int("lines", len(items)))
	return nil
}

func (s *productServiceImpl) UpdateOutOfStockStatus(ctx context.Context) error {
	n, err := s.repo.SyncStockStatus(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("stock status sweep updated products", zap.Int64("updated", n))
	}
	return nil
}
