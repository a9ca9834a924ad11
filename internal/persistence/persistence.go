// Package persistence is the Persistence Adapter (spec §4.5): it mirrors
// every append to a relational table, loads a channel's still-fresh
// window once per process lifetime on first demand after a restart, and
// executes the Retention Scheduler's vacuum/purge SQL.
//
// Grounded on the teacher's internal/bot/storage.go Driver interface
// (Insert/Channels/Close) and internal/bot/cassandra.go's Cassandra
// implementation, generalized from moderation-event rows keyed by
// (username, channel) to raw-line rows keyed by (channel_login,
// time_received) per spec §4.5's schema, and from a single Postgres-only
// path to the teacher's two backends (Postgres via internal/database, and
// Cassandra).
package persistence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hammertrack/recall/internal/config"
	"github.com/hammertrack/recall/internal/errors"
	"github.com/hammertrack/recall/internal/store"
)

// Driver is a persistence backend. Every method is best-effort from the
// caller's point of view: Append never propagates an error (a failed
// persistence write must never fail the IRC ingestion pipeline, spec
// §4.5), it only logs.
type Driver interface {
	// Append mirrors one received line. Best-effort: failures are logged,
	// never returned, never block the caller.
	Append(login string, ts int64, raw string)
	// LoadWindow returns login's still-fresh persisted window, ts > now-R,
	// oldest first. The registry calls it once per login it remembers in its
	// bounded LRU warm-cache; a login evicted from that cache may be loaded
	// again.
	LoadWindow(ctx context.Context, login string) ([]store.StoredMessage, error)
	// Purge deletes every persisted row for login.
	Purge(ctx context.Context, login string) error
	// Vacuum deletes every persisted row older than cutoff across all
	// channels.
	Vacuum(ctx context.Context, cutoff time.Time) error
	Close() error
}

// retryBudget runs op up to budget+1 times total (DBRetryBudget retries
// beyond the first), backing off briefly between attempts. It applies no
// timeout of its own: the caller's ctx (T_db where the caller sets one)
// bounds all attempts together, not each attempt separately. Grounded on the teacher's bare single-attempt
// queries (internal/bot/storage.go never retried); this is the bounded
// retry spec.md's §5/§7 "transient infrastructure failure" classification
// requires before a persistence call is allowed to fail silently.
func retryBudget[T any](ctx context.Context, budget int, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.Multiplier = 2
	return backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(budget+1)))
}

// New builds the configured backend (spec §4.5 allows either; selection is
// an ops decision, not a protocol one).
func New(cfg *config.Settings) (Driver, error) {
	switch cfg.DBDriver {
	case "cassandra":
		return NewCassandra(cfg)
	default:
		return NewPostgres(cfg), nil
	}
}

func logDropped(op string, login string, err error) {
	errors.WrapAndLogWithContext(err, struct {
		Op    string
		Login string
	}{op, login})
}
