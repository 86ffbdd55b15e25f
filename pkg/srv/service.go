package srv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/chatd/pkg/log"
	"golang.org/x/sync/errgroup"
)

const DefaultShutdownTimeout = 15 * time.Second

// Service is a long-running component. Start blocks until ctx is done or the
// service fails; Shutdown releases resources.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Run starts every service and waits until ctx is cancelled or one of them
// fails. Services are then shut down in reverse order with a fresh deadline.
func Run(ctx context.Context, timeout time.Duration, services ...Service) error {
	logger := log.FromCtx(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, service := range services {
		g.Go(func() error {
			if err := service.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%T: %w", service, err)
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msgf("%T failed to shutdown", services[i])
			errs = append(errs, err)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
