package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/bus"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

// detectTestMode reads the ODYSSEY_TEST_MODE flag once.
func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// log publisher otherwise. The returned close func is never nil.
func NewPublisher(cfg *Config, logger *slog.Logger) (bus.Publisher, func() error) {
	if cfg.KafkaEnabled() {
		kp := bus.NewKafkaPublisher(bus.KafkaConfig{Brokers: cfg.KafkaBrokers, ClientID: cfg.KafkaClientID})
		return kp, kp.Close
	}
	if logger != nil {
		logger.Info("no kafka brokers configured, events go to the log")
	}
	return bus.NewLogPublisher(logger), func() error { return nil }
}

// Serve runs handler on cfg.AppAddr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg *Config, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      handler,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
