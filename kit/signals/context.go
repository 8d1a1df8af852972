// Package signals ties context cancellation to process signals.
package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WithSignals returns a context that is canceled when the process receives
// one of sigs.
func WithSignals(ctx context.Context, sigs ...os.Signal) context.Context {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer signal.Stop(sigCh)
		defer cancel()
		select {
		case <-ctx.Done():
		case <-sigCh:
		}
	}()
	return ctx
}

// WithStandardSignals cancels the context on SIGINT and SIGTERM.
func WithStandardSignals(ctx context.Context) context.Context {
	return WithSignals(ctx, os.Interrupt, syscall.SIGTERM)
}
