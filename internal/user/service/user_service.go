package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ridloal/vg-checkout/internal/platform/apperr"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
	"github.com/ridloal/vg-checkout/internal/user/domain"
	"github.com/ridloal/vg-checkout/internal/user/repository"
)

type UserService interface {
	// ResolveCustomer finds the account for info.Email or creates a guest one with a random password.
	ResolveCustomer(ctx context.Context, info domain.ShippingInfo) (*domain.User, error)
}

type userService struct {
	repo       repository.UserRepository
	bcryptCost int
}

func NewUserService(repo repository.UserRepository) UserService {
	return &userService{repo: repo, bcryptCost: bcrypt.DefaultCost}
}

func (s *userService) ResolveCustomer(ctx context.Context, info domain.ShippingInfo) (*domain.User, error) {
	email := domain.NormalizeEmail(info.Email)
	if email == "" {
		return nil, apperr.New(apperr.KindValidation, "shipping email is required")
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return s.refresh(ctx, user, info)
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, fmt.Errorf("could not look up customer: %w", err)
	}

	user, err = s.createGuest(ctx, email, info)
	if errors.Is(err, repository.ErrUserConflict) {
		// Dibuat bersamaan oleh checkout lain, ambil ulang
		existing, getErr := s.repo.GetUserByEmail(ctx, email)
		if getErr != nil {
			return nil, fmt.Errorf("could not look up customer: %w", getErr)
		}
		return s.refresh(ctx, existing, info)
	}
	return user, err
}

func (s *userService) refresh(ctx context.Context, user *domain.User, info domain.ShippingInfo) (*domain.User, error) {
	if user.ApplyContact(info) {
		if err := s.repo.UpdateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("could not update customer: %w", err)
		}
	}
	user.PasswordHash = "" // Hapus sebelum dikembalikan
	return user, nil
}

func (s *userService) createGuest(ctx context.Context, email string, info domain.ShippingInfo) (*domain.User, error) {
	temp, err := temporaryPassword()
	if err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(temp), s.bcryptCost)
	if err != nil {
		logger.Error("createGuest: failed to hash password", err)
		return nil, fmt.Errorf("could not process customer: %w", err)
	}

	user := &domain.User{Email: email, Role: domain.RoleCustomer, IsGuest: true, PasswordHash: string(hashed)}
	user.ApplyContact(info)
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserConflict) {
			return nil, err
		}
		logger.Error("createGuest: failed to create user in repo", err)
		return nil, fmt.Errorf("could not save customer: %w", err)
	}

	logger.Info("guest customer created", zap.String("user_id", user.ID))
	user.PasswordHash = ""
	return user, nil
}

func temporaryPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate temporary password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
