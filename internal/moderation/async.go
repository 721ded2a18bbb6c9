package moderation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runAsync is an indirection over safeAsync so tests can run background
// writes synchronously.
var runAsync = safeAsync

// safeAsync runs fn in a goroutine with a timeout and logs its failure.
func safeAsync(logger *zap.Logger, op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warn("Async operation failed", zap.String("op", op), zap.Error(err))
		}
	}()
}
