package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	gomigrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/hammertrack/recall/internal/config"
	"github.com/hammertrack/recall/internal/errors"
	"github.com/hammertrack/recall/internal/store"
)

var (
	ErrDBBadArguments = errors.New("connection arguments could not be validated")
	ErrDBConnTimeout  = errors.New("test connection with database timed out")
	ErrDBMigration    = errors.New("database migration failed")
)

// appendQueueSize bounds how many pending appends the async writer will
// buffer before new appends are dropped outright — the queue itself is
// part of the "best-effort" contract (spec §4.5), not a durability
// guarantee.
const appendQueueSize = 4096

type appendOp struct {
	login string
	ts    int64
	raw   string
}

// Postgres is the Postgres-backed Driver. Grounded on the teacher's
// internal/database/database.go (sql.Open, pingUntil, migrate) for
// connection bring-up, and internal/bot/storage.go's Storage (queue +
// drain goroutine) for the async, non-blocking Append path.
type Postgres struct {
	db          *sql.DB
	retryBudget int
	dbTimeout   time.Duration
	retention   time.Duration

	queue  chan appendOp
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPostgres opens and validates the connection, optionally applies
// pending migrations, and starts the background append-drain goroutine.
func NewPostgres(cfg *config.Settings) *Postgres {
	log.Print("validating database connection...")
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		errors.WrapFatalWithContext(ErrDBBadArguments, struct{ Cause string }{err.Error()})
	}
	log.Print("  ✓ database parameters")

	log.Print("testing database connection...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnTimeout)
	defer cancel()
	if err := pingUntil(ctx, db); err != nil {
		errors.WrapFatalWithContext(ErrDBConnTimeout, struct{ Cause string }{err.Error()})
	}
	log.Print("  ✓ database connection")

	if cfg.DBMigrate {
		log.Print("applying migrations...")
		if err := migrate(db, cfg.DBVersion); err != nil {
			errors.WrapFatalWithContext(ErrDBMigration, struct{ Cause string }{err.Error()})
		}
		log.Printf("  ✓ database is up to date - v%d", cfg.DBVersion)
	}

	pgCtx, pgCancel := context.WithCancel(context.Background())
	p := &Postgres{
		db:          db,
		retryBudget: cfg.DBRetryBudget,
		dbTimeout:   cfg.DBTimeout,
		retention:   cfg.Retention,
		queue:       make(chan appendOp, appendQueueSize),
		ctx:         pgCtx,
		cancel:      pgCancel,
	}
	go p.drain()
	return p
}

func postgresDSN(cfg *config.Settings) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName,
	)
}

// pingUntil retries db.Ping() once a second until it succeeds or ctx
// expires.
func pingUntil(ctx context.Context, db *sql.DB) (err error) {
	timer := time.NewTicker(time.Second)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if err = db.Ping(); err == nil {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func migrate(db *sql.DB, version int) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	mg, err := gomigrate.NewWithDatabaseInstance(
		"file://internal/persistence/migrations",
		"postgres", driver,
	)
	if err != nil {
		return err
	}

	if err = mg.Steps(version); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Print("  → no new migrations found, no changes were applied")
			return nil
		}
		return err
	}
	return nil
}

func (p *Postgres) drain() {
	for {
		select {
		case op := <-p.queue:
			p.insert(op)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Postgres) insert(op appendOp) {
	ctx, cancel := context.WithTimeout(context.Background(), p.dbTimeout)
	defer cancel()
	_, err := retryBudget(ctx, p.retryBudget, func() (sql.Result, error) {
		return p.db.ExecContext(ctx,
			`INSERT INTO message (channel_login, time_received, message_source) VALUES ($1, $2, $3)`,
			op.login, time.UnixMilli(op.ts), op.raw,
		)
	})
	if err != nil {
		logDropped("append", op.login, err)
	}
}

// Append enqueues the write and returns immediately; a full queue drops
// the line from persistence only, never from the RAM buffer (spec §4.5).
func (p *Postgres) Append(login string, ts int64, raw string) {
	select {
	case p.queue <- appendOp{login: login, ts: ts, raw: raw}:
	default:
		logDropped("append", login, errors.New("persistence queue full, dropping append"))
	}
}

func (p *Postgres) LoadWindow(ctx context.Context, login string) ([]store.StoredMessage, error) {
	cutoff := time.Now().Add(-p.retention)
	rows, err := retryBudget(ctx, p.retryBudget, func() (*sql.Rows, error) {
		return p.db.QueryContext(ctx,
			`SELECT time_received, message_source FROM message
			 WHERE channel_login = $1 AND time_received > $2
			 ORDER BY time_received ASC`,
			login, cutoff,
		)
	})
	if err != nil {
		return nil, errors.WrapWithContext(err, struct{ Login string }{login})
	}
	defer rows.Close()

	var out []store.StoredMessage
	for rows.Next() {
		var (
			ts  time.Time
			raw string
		)
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, errors.Wrap(err)
		}
		out = append(out, store.ParseStoredMessage(raw, ts.UnixMilli()))
	}
	return out, rows.Err()
}

func (p *Postgres) Purge(ctx context.Context, login string) error {
	_, err := retryBudget(ctx, p.retryBudget, func() (sql.Result, error) {
		return p.db.ExecContext(ctx, `DELETE FROM message WHERE channel_login = $1`, login)
	})
	return err
}

func (p *Postgres) Vacuum(ctx context.Context, cutoff time.Time) error {
	_, err := retryBudget(ctx, p.retryBudget, func() (sql.Result, error) {
		return p.db.ExecContext(ctx, `DELETE FROM message WHERE time_received < $1`, cutoff)
	})
	return err
}

func (p *Postgres) Close() error {
	p.cancel()
	return p.db.Close()
}
