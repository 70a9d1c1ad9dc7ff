package outbox

import (
	"context"
	"time"

	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
)

// Listen wakes the relay whenever a commit notifies channel on Postgres. It
// reconnects with backoff until ctx is cancelled. Polling keeps working if the
// listener is down, so errors are only logged.
func Listen(ctx context.Context, dsn, channel string, r *Relay) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	for ctx.Err() == nil {
		err := listenOnce(ctx, dsn, channel, r, b)
		if ctx.Err() != nil {
			return
		}
		wait := b.NextBackOff()
		logger.Warn("outbox listener disconnected", "channel", channel, "error", err, "retry_in", wait.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func listenOnce(ctx context.Context, dsn, channel string, r *Relay, b backoff.BackOff) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	b.Reset()
	logger.Info("outbox listener connected", "channel", channel)

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		r.Wake()
	}
}
