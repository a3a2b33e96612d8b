package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/order/domain"
	pay "github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/platform/database"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrderNumber = errors.New("order number already taken")
)

// TransitionFunc mutates a locked order. Returning false leaves the row untouched.
type TransitionFunc func(o *domain.Order) (changed bool, err error)

type OrderRepository interface {
	// CreateOrderWithItems saves the order and its items in one transaction.
	CreateOrderWithItems(ctx context.Context, order *domain.Order, items []domain.OrderItem) error
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrderByTransactionID(ctx context.Context, transactionID string) (*domain.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	// TransitionOrder holds SELECT ... FOR UPDATE on the order row while fn runs.
	TransitionOrder(ctx context.Context, orderID string, fn TransitionFunc) (*domain.Order, error)
	GetPendingOrdersOlderThan(ctx context.Context, duration time.Duration) ([]domain.Order, error)
}

type postgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) OrderRepository {
	return &postgresOrderRepository{db: db}
}

const orderColumns = `id, order_number, user_id, customer_email, subtotal, tax, shipping, discount, total, currency,
                      status, payment_status, payment_method, transaction_id, payment_details, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var status, paymentStatus, method string
	var txID sql.NullString
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.CustomerEmail,
		&o.Subtotal, &o.Tax, &o.Shipping, &o.Discount, &o.Total, &o.Currency,
		&status, &paymentStatus, &method, &txID, &o.PaymentDetails, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = pay.PaymentStatus(paymentStatus)
	o.PaymentMethod = pay.PaymentMethodType(method)
	o.TransactionID = txID.String
	return &o, nil
}

func (r *postgresOrderRepository) CreateOrderWithItems(ctx context.Context, order *domain.Order, items []domain.OrderItem) error {
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	if order.Status == "" {
		order.Status = domain.StatusPending // Default status
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = pay.PaymentPending
	}

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		// 1. Simpan Order
		orderQuery := `INSERT INTO orders (order_number, user_id, customer_email, subtotal, tax, shipping, discount, total,
                                           currency, status, payment_status, payment_method, transaction_id, payment_details,
                                           created_at, updated_at)
                       VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING id`
		if err := tx.QueryRowContext(ctx, orderQuery,
			order.OrderNumber, order.UserID, order.CustomerEmail,
			order.Subtotal, order.Tax, order.Shipping, order.Discount, order.Total, order.Currency,
			string(order.Status), string(order.PaymentStatus), string(order.PaymentMethod),
			sql.NullString{String: order.TransactionID, Valid: order.TransactionID != ""},
			order.PaymentDetails, order.CreatedAt, order.UpdatedAt,
		).Scan(&order.ID); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicateOrderNumber
			}
			logger.Error("CreateOrderWithItems: failed to insert order", err, zap.String("order_number", order.OrderNumber))
			return err
		}

		// 2. Simpan Order Items
		itemStmt, err := tx.PrepareContext(ctx, `INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, line_total, created_at)
                                            VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`)
		if err != nil {
			logger.Error("CreateOrderWithItems: failed to prepare item statement", err)
			return err
		}
		defer itemStmt.Close()

		for i := range items {
			items[i].OrderID = order.ID
			items[i].CreatedAt = now
			if err := itemStmt.QueryRowContext(ctx, items[i].OrderID, items[i].ProductID, items[i].ProductName,
				items[i].Quantity, items[i].UnitPrice, items[i].LineTotal, items[i].CreatedAt).Scan(&items[i].ID); err != nil {
				logger.Error("CreateOrderWithItems: failed to insert order item", err, zap.String("product_id", items[i].ProductID))
				return err // Rollback akan terjadi
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	order.Items = items
	return nil
}

func (r *postgresOrderRepository) getOrderBy(ctx context.Context, field, value string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + field + ` = $1`
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		logger.Error("getOrderBy "+field+": query failed", err)
		return nil, err
	}
	if o.Items, err = r.GetOrderItemsByOrderID(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresOrderRepository) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	return r.getOrderBy(ctx, "id::text", orderID)
}

func (r *postgresOrderRepository) GetOrderByTransactionID(ctx context.Context, transactionID string) (*domain.Order, error) {
	return r.getOrderBy(ctx, "transaction_id", transactionID)
}

func (r *postgresOrderRepository) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	query := `SELECT id, order_id, product_id, product_name, quantity, unit_price, line_total, created_at
              FROM order_items WHERE order_id::text = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		logger.Error("GetOrderItemsByOrderID: query failed", err)
		return nil, err
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		var i domain.OrderItem
		if err := rows.Scan(&i.ID, &i.OrderID, &i.ProductID, &i.ProductName, &i.Quantity, &i.UnitPrice, &i.LineTotal, &i.CreatedAt); err != nil {
			logger.Error("GetOrderItemsByOrderID: scan failed", err)
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (r *postgresOrderRepository) TransitionOrder(ctx context.Context, orderID string, fn TransitionFunc) (*domain.Order, error) {
	var order *domain.Order
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id::text = $1 FOR UPDATE`, orderID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			logger.Error("TransitionOrder: lock failed", err, zap.String("order_id", orderID))
			return err
		}

		changed, err := fn(o)
		if err != nil {
			return err
		}
		if changed {
			o.UpdatedAt = time.Now()
			if _, err := tx.ExecContext(ctx,
				`UPDATE orders SET status = $2, payment_status = $3, payment_details = $4, updated_at = $5 WHERE id = $1`,
				o.ID, string(o.Status), string(o.PaymentStatus), o.PaymentDetails, o.UpdatedAt); err != nil {
				logger.Error("TransitionOrder: update failed", err, zap.String("order_id", orderID))
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Item tidak pernah berubah, aman dibaca di luar transaksi
	if order.Items, err = r.GetOrderItemsByOrderID(ctx, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *postgresOrderRepository) GetPendingOrdersOlderThan(ctx context.Context, duration time.Duration) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + `
              FROM orders
              WHERE status = $1 AND payment_status = $2 AND created_at < $3
              ORDER BY created_at ASC`

	thresholdTime := time.Now().Add(-duration)
	rows, err := r.db.QueryContext(ctx, query, string(domain.StatusPending), string(pay.PaymentPending), thresholdTime)
	if err != nil {
		logger.Error("GetPendingOrdersOlderThan: query failed", err)
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			logger.Error("GetPendingOrdersOlderThan: scan failed", err)
			// Lanjutkan proses order lain jika satu gagal di-scan
			continue
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
