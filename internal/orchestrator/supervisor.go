package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// DefaultRestartBackoff is the pause between a loop fault and its restart.
const DefaultRestartBackoff = 5 * time.Second

// Supervise runs the loop until ctx is cancelled. A panic or error in Run is
// logged, pending records are flushed, and the loop restarts after backoff.
func (o *Orchestrator) Supervise(ctx context.Context, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = DefaultRestartBackoff
	}
	for {
		err := o.runGuarded(ctx)
		if ctx.Err() != nil {
			return nil
		}
		o.logger.ErrorContext(ctx, "orchestrator loop fault, restarting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)
		o.alert(ctx, "loop_restart", "Orchestrator restarted", errString(err))
		o.Flush(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func (o *Orchestrator) runGuarded(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator panic", slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("orchestrator: panic: %v", r)
		}
	}()
	err = o.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err == nil && ctx.Err() == nil {
		err = errors.New("orchestrator: loop exited")
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
