package services

import (
	"context"
	"time"
)

func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

// boundedContext detaches ctx from its caller and caps it at d.
func boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(persistentContext(ctx), d)
}
