package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/cart/domain"
	"github.com/ridloal/vg-checkout/internal/cart/repository"
	"github.com/ridloal/vg-checkout/internal/platform/apperr"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
	pDomain "github.com/ridloal/vg-checkout/internal/product/domain"
	pService "github.com/ridloal/vg-checkout/internal/product/service"
)

type CartService interface {
	CreateCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	AddItem(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, cartID, productID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, cartID string) error
}

type cartService struct {
	repo     repository.CartRepository
	products pService.ProductService
}

func NewCartService(repo repository.CartRepository, products pService.ProductService) CartService {
	return &cartService{repo: repo, products: products}
}

func mapRepoError(err error, cartID string) error {
	switch {
	case errors.Is(err, repository.ErrCartNotFound):
		return apperr.Wrap(apperr.KindNotFound, err, fmt.Sprintf("cart %s not found", cartID))
	case errors.Is(err, repository.ErrCartItemNotFound):
		return apperr.Wrap(apperr.KindNotFound, err, "item is not in the cart")
	case errors.Is(err, repository.ErrCartExists):
		return apperr.Wrap(apperr.KindConflict, err, "user already has a cart")
	}
	return err
}

func (s *cartService) CreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart := &domain.Cart{UserID: userID}
	if err := s.repo.CreateCart(ctx, cart); err != nil {
		return nil, mapRepoError(err, "")
	}
	logger.Info("cart created", zap.String("cart_id", cart.ID), zap.String("user_id", userID))
	return cart, nil
}

func (s *cartService) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCartByID(ctx, cartID)
	if err != nil {
		return nil, mapRepoError(err, cartID)
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, apperr.New(apperr.KindValidation, "quantity must be greater than 0")
	}
	if _, err := s.GetCart(ctx, cartID); err != nil {
		return nil, err
	}
	if err := s.ensureAvailable(ctx, productID); err != nil {
		return nil, err
	}
	if err := s.repo.AddItem(ctx, cartID, productID, quantity); err != nil {
		return nil, mapRepoError(err, cartID)
	}
	return s.GetCart(ctx, cartID)
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	if quantity < 0 {
		return nil, apperr.New(apperr.KindValidation, "quantity must not be negative")
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, cartID, productID)
	}
	if _, err := s.GetCart(ctx, cartID); err != nil {
		return nil, err
	}
	if err := s.ensureAvailable(ctx, productID); err != nil {
		return nil, err
	}
	if err := s.repo.SetItemQuantity(ctx, cartID, productID, quantity); err != nil {
		return nil, mapRepoError(err, cartID)
	}
	return s.GetCart(ctx, cartID)
}

func (s *cartService) RemoveItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	if _, err := s.GetCart(ctx, cartID); err != nil {
		return nil, err
	}
	if err := s.repo.RemoveItem(ctx, cartID, productID); err != nil {
		return nil, mapRepoError(err, cartID)
	}
	return s.GetCart(ctx, cartID)
}

func (s *cartService) ClearCart(ctx context.Context, cartID string) error {
	if err := s.repo.ClearCart(ctx, cartID); err != nil {
		return mapRepoError(err, cartID)
	}
	return nil
}

// Stok tidak dicek di sini, hanya saat checkout.
func (s *cartService) ensureAvailable(ctx context.Context, productID string) error {
	p, err := s.products.GetProductDetails(ctx, productID)
	if err != nil {
		return err
	}
	if p.Status != pDomain.StatusActive {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("Product %s is not available", p.Name))
	}
	return nil
}
