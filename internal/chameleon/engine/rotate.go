package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
)

// AutoRotate requests a regeneration every interval until ctx ends. Ticks
// that arrive before the page load is Ready are skipped.
func (e *Engine) AutoRotate(ctx context.Context, every time.Duration) {
	if every <= 0 {
		e.logger.Warn("Auto-rotate disabled, interval must be positive", zap.Duration("interval", every))
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	e.logger.Info("Auto-rotate enabled", zap.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.Ready() {
				continue
			}
			e.Events().Emit(schemas.EventRegenerate, nil)
		}
	}
}
