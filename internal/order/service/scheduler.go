package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/platform/logger"
	pService "github.com/ridloal/vg-checkout/internal/product/service"
)

// NewScheduler registers the background jobs. The caller owns Start and Stop.
func NewScheduler(orders OrderService, products pService.ProductService, paymentTimeoutSpec, stockSweepSpec string) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())

	if _, err := c.AddFunc(paymentTimeoutSpec, func() {
		logger.Info("Scheduler: Running ProcessPaymentTimeouts job...")
		orders.ProcessPaymentTimeouts(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("payment timeout schedule %q: %w", paymentTimeoutSpec, err)
	}

	if _, err := c.AddFunc(stockSweepSpec, func() {
		if err := products.UpdateOutOfStockStatus(context.Background()); err != nil {
			logger.Error("Scheduler: stock status sweep failed", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("stock sweep schedule %q: %w", stockSweepSpec, err)
	}

	logger.Info("Scheduler configured",
		zap.String("payment_timeout_spec", paymentTimeoutSpec),
		zap.String("stock_sweep_spec", stockSweepSpec))
	return c, nil
}
