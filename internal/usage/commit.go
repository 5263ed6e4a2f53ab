package usage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultWriteRetries is the number of retries after a failed durable write.
const DefaultWriteRetries = 3

// withRetry runs op, retrying with exponential backoff up to retries times.
// The per-device lock may be held by the caller, so the total wait is
// bounded well below typical request timeouts.
func withRetry(ctx context.Context, logger zerolog.Logger, op string, retries int, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	err := backoff.RetryNotify(fn, policy, func(err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("op", op).
			Dur("retry_in", wait).
			Msg("Storage write failed, retrying")
	})
	if err != nil {
		metrics.StorageErrors.WithLabelValues(op).Inc()
	}
	return err
}
