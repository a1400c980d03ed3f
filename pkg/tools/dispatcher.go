package tools

import (
	"context"
	"log"
)

// JobFunc defines a function executed asynchronously.
type JobFunc func(ctx context.Context) error

// Dispatch runs the job in a separate goroutine. Fire-and-forget: failures
// are logged under the job name, never surfaced to the caller.
func Dispatch(ctx context.Context, name string, fn JobFunc) {
	go func() {
		if err := fn(ctx); err != nil {
			log.Printf("[%s] job failed: %v", name, err)
		}
	}()
}
