// Package config is the Config Registry: immutable, process-wide settings
// loaded once at startup from the environment (optionally via a .env file
// in the working directory) and never mutated afterwards.
package config

import (
	"os"
	"reflect"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hammertrack/recall/internal/errors"
)

const Version string = "0.1.0"

var ErrParseEnv = errors.New("environment variable could not be parsed")

// loginPattern matches a valid Twitch channel login: 1-25 chars, lowercase
// letters, digits and underscore.
var loginPattern = regexp.MustCompile(`^[a-z0-9_]{1,25}$`)

// Settings is the full Config Registry. A single instance is built at
// startup by Load and threaded explicitly into every collaborator that
// needs it — no package-level mutable globals, unlike the teacher's
// original env-only config, because this module's components are
// constructed explicitly rather than relying on an init()-populated
// package.
type Settings struct {
	// ClientUsername/ClientToken are the bot's Twitch IRC credentials.
	ClientUsername string
	ClientToken    string

	// Retention is R: the maximum age a stored message is allowed to have
	// before a vacuum evicts it.
	Retention time.Duration
	// ChannelCap is N_max: the maximum number of messages retained per
	// channel.
	ChannelCap int
	// IdleTTL is T_idle: a channel with no touch() within this window is
	// parted by the retention scheduler.
	IdleTTL time.Duration
	// VacuumPeriod is P_v: how often the retention scheduler ticks.
	VacuumPeriod time.Duration

	// ChannelsPerConnection is J: the max channel memberships per pooled IRC
	// connection.
	ChannelsPerConnection int
	// MaxConnections bounds the IRC Listener Pool's total connection count.
	MaxConnections int
	// WarmConnectionTTL is T_warm: how long an empty connection is kept open
	// before being closed.
	WarmConnectionTTL time.Duration

	// JoinTimeout is T_join, PartTimeout is T_part, DBTimeout is T_db.
	JoinTimeout time.Duration
	PartTimeout time.Duration
	DBTimeout   time.Duration
	// DBRetryBudget is the number of retries allowed for a persistence query
	// beyond the first attempt.
	DBRetryBudget int

	// DBDriver selects the persistence backend: "postgres" or "cassandra".
	DBDriver           string
	DBHost             string
	DBPort             string
	DBUser             string
	DBPassword         string
	DBName             string
	DBVersion          int
	DBMigrate          bool
	DBConnTimeout      time.Duration
	CassandraHosts     []string
	CassandraKeyspace  string

	// IsBlocked is the blocklist predicate hook: given a channel login,
	// reports whether it is currently on the blocklist. The Channel
	// Registry consults this only for a login that has no registry entry
	// (Touch refuses such a login, IsBlocked reports it); the result is not
	// stored. Once an entry exists, its in-memory flag set by set_blocked is
	// what counts. Defaults to a predicate that always returns false (no
	// channel pre-blocked).
	IsBlocked func(login string) bool
}

// ValidLogin reports whether login matches the Twitch channel login grammar
// required by spec.md §3 (1-25 chars, `^[a-z0-9_]+$`).
func ValidLogin(login string) bool {
	return loginPattern.MatchString(login)
}

type supportStringconv interface {
	~int | ~int64 | ~float32 | ~string | ~bool
}

func conv(v string, to reflect.Kind) any {
	switch to {
	case reflect.String:
		return v
	case reflect.Bool:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case reflect.Int:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	case reflect.Int64:
		if i64, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i64
		}
	case reflect.Float32:
		if f32, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f32)
		}
	}
	errors.WrapFatalWithContext(ErrParseEnv, struct{ EnvValue string }{v})
	return nil
}

// Env reads key from the environment, converting it to T's underlying kind,
// falling back to def if unset.
func Env[T supportStringconv](key string, def T) T {
	if v, ok := os.LookupEnv(key); ok {
		return conv(v, reflect.TypeOf(def).Kind()).(T)
	}
	return def
}

// EnvDuration reads key as a Go duration string (e.g. "24h", "60s"),
// falling back to def if unset or unparsable.
func EnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load builds the Config Registry from the environment, loading a .env file
// from the working directory first if present (a missing .env is not an
// error; a malformed one is fatal, matching the teacher's init()).
func Load() *Settings {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		errors.WrapFatal(err)
	}

	return &Settings{
		ClientUsername: Env("CLIENT_USERNAME", "username"),
		ClientToken:    Env("CLIENT_TOKEN", "invalid_token"),

		Retention:    EnvDuration("RETENTION", 24*time.Hour),
		ChannelCap:   Env("CHANNEL_CAP", 800),
		IdleTTL:      EnvDuration("IDLE_TTL", 24*time.Hour),
		VacuumPeriod: EnvDuration("VACUUM_PERIOD", 60*time.Second),

		ChannelsPerConnection: Env("CHANNELS_PER_CONNECTION", 80),
		MaxConnections:        Env("MAX_CONNECTIONS", 50),
		WarmConnectionTTL:     EnvDuration("WARM_CONNECTION_TTL", 5*time.Minute),

		JoinTimeout:   EnvDuration("JOIN_TIMEOUT", 10*time.Second),
		PartTimeout:   EnvDuration("PART_TIMEOUT", 5*time.Second),
		DBTimeout:     EnvDuration("DB_TIMEOUT", 3*time.Second),
		DBRetryBudget: Env("DB_RETRY_BUDGET", 2),

		DBDriver:          Env("DB_DRIVER", "postgres"),
		DBHost:            Env("DB_HOST", "127.0.0.1"),
		DBPort:            Env("DB_PORT", "5432"),
		DBUser:            Env("DB_USER", "recall"),
		DBPassword:        Env("DB_PASSWORD", "unsafepassword"),
		DBName:            Env("DB_NAME", "recall"),
		DBVersion:         Env("DB_VERSION", 1),
		DBMigrate:         Env("DB_MIGRATE", false),
		DBConnTimeout:     EnvDuration("DB_CONN_TIMEOUT", 20*time.Second),
		CassandraHosts:    splitCSV(Env("CASSANDRA_HOSTS", "127.0.0.1")),
		CassandraKeyspace: Env("CASSANDRA_KEYSPACE", "recall"),

		IsBlocked: func(string) bool { return false },
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
