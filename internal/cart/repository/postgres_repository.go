package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/cart/domain"
	"github.com/ridloal/vg-checkout/internal/platform/database"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartExists       = errors.New("user already has a cart")
	ErrCartItemNotFound = errors.New("cart item not found")
)

type CartRepository interface {
	CreateCart(ctx context.Context, cart *domain.Cart) error
	GetCartByID(ctx context.Context, cartID string) (*domain.Cart, error)
	// AddItem accumulates onto an existing line for the same product.
	AddItem(ctx context.Context, cartID, productID string, quantity int) error
	SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) error
	RemoveItem(ctx context.Context, cartID, productID string) error
	ClearCart(ctx context.Context, cartID string) error
}

type postgresCartRepository struct {
	db *sql.DB
}

func NewPostgresCartRepository(db *sql.DB) CartRepository {
	return &postgresCartRepository{db: db}
}

func (r *postgresCartRepository) CreateCart(ctx context.Context, cart *domain.Cart) error {
	query := `INSERT INTO carts (user_id, created_at, updated_at) VALUES ($1, $2, $3) RETURNING id`
	cart.CreatedAt = time.Now()
	cart.UpdatedAt = cart.CreatedAt

	if err := r.db.QueryRowContext(ctx, query, cart.UserID, cart.CreatedAt, cart.UpdatedAt).Scan(&cart.ID); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrCartExists
		}
		logger.Error("CreateCart: insert failed", err, zap.String("user_id", cart.UserID))
		return err
	}
	cart.Items = []domain.CartItem{}
	return nil
}

func (r *postgresCartRepository) GetCartByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart := &domain.Cart{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE id::text = $1`, cartID).
		Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		logger.Error("GetCartByID: query failed", err)
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT cart_id, product_id, quantity, updated_at FROM cart_items WHERE cart_id = $1 ORDER BY product_id`, cart.ID)
	if err != nil {
		logger.Error("GetCartByID: items query failed", err)
		return nil, err
	}
	defer rows.Close()

	cart.Items = []domain.CartItem{}
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.CartID, &it.ProductID, &it.Quantity, &it.UpdatedAt); err != nil {
			logger.Error("GetCartByID: scan failed", err)
			return nil, err
		}
		cart.Items = append(cart.Items, it)
	}
	return cart, rows.Err()
}

func (r *postgresCartRepository) AddItem(ctx context.Context, cartID, productID string, quantity int) error {
	query := `INSERT INTO cart_items (cart_id, product_id, quantity, updated_at)
              VALUES ($1, $2, $3, NOW())
              ON CONFLICT (cart_id, product_id)
              DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, cartID, productID, quantity); err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrCartNotFound
		}
		logger.Error("AddItem: upsert failed", err, zap.String("cart_id", cartID), zap.String("product_id", productID))
		return err
	}
	return r.touch(ctx, cartID)
}

func (r *postgresCartRepository) SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3, updated_at = NOW() WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID, quantity)
	if err != nil {
		logger.Error("SetItemQuantity: update failed", err, zap.String("cart_id", cartID))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCartItemNotFound
	}
	return r.touch(ctx, cartID)
}

func (r *postgresCartRepository) RemoveItem(ctx context.Context, cartID, productID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	if err != nil {
		logger.Error("RemoveItem: delete failed", err, zap.String("cart_id", cartID))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCartItemNotFound
	}
	return r.touch(ctx, cartID)
}

func (r *postgresCartRepository) ClearCart(ctx context.Context, cartID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id::text = $1`, cartID); err != nil {
		logger.Error("ClearCart: delete failed", err, zap.String("cart_id", cartID))
		return err
	}
	return r.touch(ctx, cartID)
}

func (r *postgresCartRepository) touch(ctx context.Context, cartID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE id::text = $1`, cartID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCartNotFound
	}
	return nil
}
