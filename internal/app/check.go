package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"isin-monitor/internal/alerting"
)

// Check executes a single monitoring pass over the whole universe.
func (a *App) Check(ctx context.Context) error {
	return a.runOnce(ctx, false)
}

// Test executes a single pass over the first configured ticker with the
// target discount forced to zero, exercising the full notification path.
func (a *App) Test(ctx context.Context) error {
	return a.runOnce(ctx, true)
}

func (a *App) runOnce(ctx context.Context, testMode bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	svc, err := a.newService(ctx, st)
	if err != nil {
		return err
	}

	if testMode {
		return svc.RunTestPass(ctx)
	}
	return svc.RunPass(ctx)
}

// TestTelegram sends a probe message through the configured channel.
func (a *App) TestTelegram(ctx context.Context) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("telegram is not enabled in configuration")
	}

	if err := notifier.SendMessage(ctx, alerting.TestCaption()); err != nil {
		return err
	}
	a.Logger.Info().Msg("telegram test message sent")
	return nil
}
