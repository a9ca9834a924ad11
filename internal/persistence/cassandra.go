package persistence

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/hailocab/go-hostpool"

	"github.com/hammertrack/recall/internal/config"
	"github.com/hammertrack/recall/internal/errors"
	"github.com/hammertrack/recall/internal/store"
)

// Cassandra is the Cassandra-backed Driver, for deployments that prefer a
// wide-column store over Postgres for the message table. Grounded on the
// teacher's internal/bot/cassandra.go Cassandra type (session held
// alongside a cancelable context so Close can abort in-flight queries),
// generalized from its two denormalized `mod_messages_by_*` tables to a
// single `message` table keyed by `(channel_login, time_received)` per
// spec §4.5 (no secondary read pattern requires denormalization here).
type Cassandra struct {
	s           *gocql.Session
	retryBudget int
	dbTimeout   time.Duration
	retention   time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewCassandra dials the cluster with an epsilon-greedy host pool policy
// so queries prefer historically fast/healthy hosts — the one caller in
// this codebase for hailocab/go-hostpool, present in the teacher's module
// graph but never reached by its trimmed-down source.
func NewCassandra(cfg *config.Settings) (*Cassandra, error) {
	cluster := gocql.NewCluster(cfg.CassandraHosts...)
	cluster.Keyspace = cfg.CassandraKeyspace
	cluster.Timeout = cfg.DBTimeout
	cluster.PoolConfig.HostSelectionPolicy = gocql.HostPoolHostPolicy(
		hostpool.NewEpsilonGreedy(cfg.CassandraHosts, 0, &hostpool.LinearEpsilonValueCalculator{}),
	)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.Wrap(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cassandra{
		s:           session,
		retryBudget: cfg.DBRetryBudget,
		dbTimeout:   cfg.DBTimeout,
		retention:   cfg.Retention,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Append runs the insert on its own goroutine and returns immediately, so
// the caller is never blocked on Cassandra.
func (c *Cassandra) Append(login string, ts int64, raw string) {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.dbTimeout)
		defer cancel()
		_, err := retryBudget(ctx, c.retryBudget, func() (struct{}, error) {
			return struct{}{}, c.s.Query(
				`INSERT INTO message (channel_login, time_received, message_source) VALUES (?, ?, ?)`,
				login, time.UnixMilli(ts), raw,
			).WithContext(ctx).Exec()
		})
		if err != nil {
			logDropped("append", login, err)
		}
	}()
}

func (c *Cassandra) LoadWindow(ctx context.Context, login string) ([]store.StoredMessage, error) {
	cutoff := time.Now().Add(-c.retention)
	iter := c.s.Query(
		`SELECT time_received, message_source FROM message WHERE channel_login = ? AND time_received > ?`,
		login, cutoff,
	).WithContext(ctx).Iter()

	var (
		out []store.StoredMessage
		ts  time.Time
		raw string
	)
	for iter.Scan(&ts, &raw) {
		out = append(out, store.ParseStoredMessage(raw, ts.UnixMilli()))
	}
	if err := iter.Close(); err != nil {
		return nil, errors.WrapWithContext(err, struct{ Login string }{login})
	}
	return out, nil
}

func (c *Cassandra) Purge(ctx context.Context, login string) error {
	return c.s.Query(`DELETE FROM message WHERE channel_login = ?`, login).WithContext(ctx).Exec()
}

func (c *Cassandra) Vacuum(ctx context.Context, cutoff time.Time) error {
	// Cassandra has no "DELETE ... WHERE time_received < ?" without the
	// partition key; the message table's access pattern here is
	// maintenance-only, so this issues a per-channel range delete driven by
	// a distinct-channel scan instead of a single statement.
	iter := c.s.Query(`SELECT DISTINCT channel_login FROM message`).WithContext(ctx).Iter()
	var login string
	for iter.Scan(&login) {
		if err := c.s.Query(
			`DELETE FROM message WHERE channel_login = ? AND time_received < ?`,
			login, cutoff,
		).WithContext(ctx).Exec(); err != nil {
			errors.WrapAndLogWithContext(err, struct{ Login string }{login})
		}
	}
	return iter.Close()
}

func (c *Cassandra) Close() error {
	c.cancel()
	c.s.Close()
	return nil
}
