package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ridloal/vg-checkout/internal/platform/database"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
	"github.com/ridloal/vg-checkout/internal/user/domain"
)

var ErrUserNotFound = errors.New("user not found")
var ErrUserConflict = errors.New("user with this email already exists")

type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
}

type postgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) UserRepository {
	return &postgresUserRepository{db: db}
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (r *postgresUserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (email, first_name, last_name, phone, address, city, postal_code, country,
                                 role, is_guest, password_hash, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`

	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.FirstName, user.LastName,
		nullable(user.Phone), nullable(user.Address), nullable(user.City), nullable(user.PostalCode), nullable(user.Country),
		string(user.Role), user.IsGuest, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		// 23505: checkout lain dengan email yang sama menang duluan
		if database.IsUniqueViolation(err) {
			return ErrUserConflict
		}
		logger.Error("CreateUser: failed to insert user", err)
		return err
	}
	return nil
}

func (r *postgresUserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT id, email, first_name, last_name, phone, address, city, postal_code, country,
                     role, is_guest, password_hash, created_at, updated_at
              FROM users WHERE email = $1`
	user := &domain.User{}
	var phone, address, city, postal, country sql.NullString
	var role string

	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&phone, &address, &city, &postal, &country,
		&role, &user.IsGuest, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		logger.Error("GetUserByEmail: query failed", err)
		return nil, err
	}
	user.Phone, user.Address, user.City = fromNull(phone), fromNull(address), fromNull(city)
	user.PostalCode, user.Country = fromNull(postal), fromNull(country)
	user.Role = domain.Role(role)
	return user, nil
}

func (r *postgresUserRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	query := `UPDATE users SET first_name = $2, last_name = $3, phone = $4, address = $5, city = $6,
                               postal_code = $7, country = $8, updated_at = $9
              WHERE id = $1`
	user.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		user.ID, user.FirstName, user.LastName,
		nullable(user.Phone), nullable(user.Address), nullable(user.City), nullable(user.PostalCode), nullable(user.Country),
		user.UpdatedAt,
	)
	if err != nil {
		logger.Error("UpdateUser: update failed", err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
