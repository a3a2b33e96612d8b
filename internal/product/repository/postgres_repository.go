package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq" // pq.Array untuk parameter uuid[]
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/platform/database"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
	"github.com/ridloal/vg-checkout/internal/product/domain"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type ProductRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	FindMany(ctx context.Context, ids []string) ([]domain.Product, error)
	// ReserveStock decrements every item or none of them.
	ReserveStock(ctx context.Context, items []domain.StockItem) error
	ReleaseStock(ctx context.Context, items []domain.StockItem) error
	// SyncStockStatus flips ACTIVE <-> OUT_OF_STOCK from the current stock and returns rows changed.
	SyncStockStatus(ctx context.Context) (int64, error)
}

type postgresProductRepository struct {
	db *sql.DB
}

func NewPostgresProductRepository(db *sql.DB) ProductRepository {
	return &postgresProductRepository{db: db}
}

const productColumns = `id, name, description, price, sale_price, stock, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var sale decimal.NullDecimal
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &sale, &p.Stock, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if sale.Valid {
		p.SalePrice = &sale.Decimal
	}
	p.Status = domain.ProductStatus(status)
	return &p, nil
}

func (r *postgresProductRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC`
	return r.queryProducts(ctx, query)
}

func (r *postgresProductRepository) FindMany(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id::text = ANY($1)`
	return r.queryProducts(ctx, query, pq.Array(ids))
}

func (r *postgresProductRepository) queryProducts(ctx context.Context, query string, args ...interface{}) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error("queryProducts: query failed", err)
		return nil, err
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			logger.Error("queryProducts: scan failed", err)
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		logger.Error("queryProducts: rows iteration error", err)
		return nil, err
	}
	return products, nil
}

func (r *postgresProductRepository) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id::text = $1`
	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		logger.Error("GetProductByID: query failed", err)
		return nil, err
	}
	return p, nil
}

// ReserveStock runs one conditional decrement per product inside a single transaction. The
// WHERE clause is the oversell guard: a row that no longer has enough stock is simply not updated.
func (r *postgresProductRepository) ReserveStock(ctx context.Context, items []domain.StockItem) error {
	merged := domain.MergeStockItems(items)
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, it := range merged {
			res, err := tx.ExecContext(ctx,
				`UPDATE products SET stock = stock - $2, updated_at = NOW()
				 WHERE id::text = $1 AND status = 'ACTIVE' AND stock >= $2`,
				it.ProductID, it.Quantity)
			if err != nil {
				logger.Error("ReserveStock: update failed", err, zap.String("product_id", it.ProductID))
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: product %s, quantity %d", ErrInsufficientStock, it.ProductID, it.Quantity)
			}
		}
		return nil
	})
}

// ReleaseStock only adds, so it is safe for a reservation that never fully happened.
func (r *postgresProductRepository) ReleaseStock(ctx context.Context, items []domain.StockItem) error {
	merged := domain.MergeStockItems(items)
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, it := range merged {
			if _, err := tx.ExecContext(ctx,
				`UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id::text = $1`,
				it.ProductID, it.Quantity); err != nil {
				logger.Error("ReleaseStock: update failed", err, zap.String("product_id", it.ProductID))
				return err
			}
		}
		return nil
	})
}

func (r *postgresProductRepository) SyncStockStatus(ctx context.Context) (int64, error) {
	var total int64
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, q := range []string{
			`UPDATE products SET status = 'OUT_OF_STOCK', updated_at = NOW() WHERE status = 'ACTIVE' AND stock <= 0`,
			`UPDATE products SET status = 'ACTIVE', updated_at = NOW() WHERE status = 'OUT_OF_STOCK' AND stock > 0`,
		} {
			res, err := tx.ExecContext(ctx, q)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		logger.Error("SyncStockStatus: sweep failed", err)
		return 0, err
	}
	return total, nil
}
