package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/platform/logger"
)

// sagaStep is one unit of the purchase flow with the action that undoes it.
type sagaStep struct {
	name       string
	execute    func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// runSaga executes steps in order. When one fails, the steps that already succeeded are
// compensated in reverse order and the original error is returned.
func runSaga(ctx context.Context, steps ...sagaStep) error {
	done := make([]sagaStep, 0, len(steps))
	for _, step := range steps {
		if err := step.execute(ctx); err != nil {
			logger.Warn("purchase step failed, rolling back", zap.String("step", step.name), zap.Error(err))
			rollback(done)
			return err
		}
		done = append(done, step)
	}
	return nil
}

func rollback(done []sagaStep) {
	// Context baru: request asli mungkin sudah dibatalkan
	ctx := context.Background()
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.compensate == nil {
			continue
		}
		if err := step.compensate(ctx); err != nil {
			logger.Error("CRITICAL: compensation failed", err, zap.String("step", step.name))
		}
	}
}
