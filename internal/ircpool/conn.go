package ircpool

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	twitch "github.com/gempir/go-twitch-irc/v3"
	"github.com/sony/gobreaker"

	"github.com/hammertrack/recall/internal/config"
	"github.com/hammertrack/recall/internal/errors"
)

// Dispatcher is the weak-reference sink the pool fans received lines out
// to. It must not block, and must silently drop lines for logins it
// doesn't recognize (spec §3/§9: the IRC dispatcher never owns channel
// entries).
type Dispatcher interface {
	Append(login string, raw string, ts int64)
}

// conn wraps a single gempir/go-twitch-irc client: one IRC connection
// hosting up to J channel memberships (spec §4.3). Grounded on the
// teacher's internal/bot/bot.go StartClient (OnClearChatMessage/
// OnClearMessage/OnPrivateMessage/OnConnect, Join/Connect/Disconnect) for
// the callback wiring, generalized from a single fixed-at-startup
// connection into one of N pool members with runtime join/part and its own
// reconnect supervisor; the join/part bookkeeping under a mutex is
// grounded on other_examples' Guliveer-twitch-watcher-go chat.go Manager,
// which tracks the same gempir/go-twitch-irc v3/v4 hook set
// (OnSelfJoinMessage/OnReconnectMessage/Join/Depart) for multi-channel
// membership.
type conn struct {
	id   int
	cfg  *config.Settings
	disp Dispatcher

	client *twitch.Client

	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	channels map[string]struct{}
	pending  map[string]chan struct{} // login -> ack channel, for Join
	parting  map[string]chan struct{} // login -> ack channel, for Part
	closed   bool

	// dial defaults to c.client.Connect; overridable in tests so the
	// reconnect supervisor never needs a real network connection.
	dial func() error

	// warmTimer fires shutdown once this connection has held zero channels
	// for T_warm (spec §4.3). Armed by the pool on Part, disarmed here on
	// the next Join.
	warmTimer *time.Timer
}

func newConn(id int, cfg *config.Settings, disp Dispatcher) *conn {
	c := &conn{
		id:       id,
		cfg:      cfg,
		disp:     disp,
		channels: make(map[string]struct{}),
		pending:  make(map[string]chan struct{}),
		parting:  make(map[string]chan struct{}),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ircpool-conn",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.client = c.newClient()
	c.dial = c.client.Connect
	return c
}

func (c *conn) newClient() *twitch.Client {
	client := twitch.NewClient(c.cfg.ClientUsername, c.cfg.ClientToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		c.disp.Append(msg.Channel, msg.Raw, msg.Time.UnixMilli())
	})
	client.OnClearChatMessage(func(msg twitch.ClearChatMessage) {
		c.disp.Append(msg.Channel, msg.Raw, msg.Time.UnixMilli())
	})
	client.OnClearMessage(func(msg twitch.ClearMessage) {
		c.disp.Append(msg.Channel, msg.Raw, time.Now().UnixMilli())
	})
	client.OnUserNoticeMessage(func(msg twitch.UserNoticeMessage) {
		c.disp.Append(msg.Channel, msg.Raw, msg.Time.UnixMilli())
	})
	client.OnNoticeMessage(func(msg twitch.NoticeMessage) {
		c.disp.Append(msg.Channel, msg.Raw, time.Now().UnixMilli())
	})
	client.OnRoomStateMessage(func(msg twitch.RoomStateMessage) {
		c.ackJoin(msg.Channel)
	})
	client.OnUserPartMessage(func(msg twitch.UserPartMessage) {
		if msg.User == c.cfg.ClientUsername {
			c.ackPart(msg.Channel)
		}
	})
	return client
}

func (c *conn) ackJoin(login string) {
	c.mu.Lock()
	ack, ok := c.pending[login]
	if ok {
		delete(c.pending, login)
	}
	c.mu.Unlock()
	if ok {
		close(ack)
	}
}

func (c *conn) ackPart(login string) {
	c.mu.Lock()
	ack, ok := c.parting[login]
	if ok {
		delete(c.parting, login)
	}
	c.mu.Unlock()
	if ok {
		close(ack)
	}
}

// load returns the number of channels currently hosted by this connection.
func (c *conn) load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// join serializes the join request onto this connection and blocks until
// the server acknowledges (ROOMSTATE) or ctx expires (spec §4.3).
func (c *conn) join(ctx context.Context, login string) error {
	ack := make(chan struct{})
	c.mu.Lock()
	if c.warmTimer != nil {
		c.warmTimer.Stop()
		c.warmTimer = nil
	}
	c.pending[login] = ack
	c.channels[login] = struct{}{}
	c.mu.Unlock()

	c.client.Join(login)

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, login)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// part serializes the part request onto this connection; on timeout the
// channel is forcibly considered parted (spec §4.3) and removed from our
// bookkeeping regardless.
func (c *conn) part(ctx context.Context, login string) error {
	ack := make(chan struct{})
	c.mu.Lock()
	c.parting[login] = ack
	c.mu.Unlock()

	c.client.Depart(login)

	var err error
	select {
	case <-ack:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.mu.Lock()
	delete(c.parting, login)
	delete(c.channels, login)
	c.mu.Unlock()
	return err
}

// run drives the connection's lifetime: dial, block servicing messages
// until disconnect, then reconnect with exponential backoff and jitter
// (spec §4.3: initial 1s, multiplier 2, jitter 0.5, cap 60s), rejoining
// whatever channel set this connection was hosting when it dropped.
// Messages received during the reconnect gap are lost — the accepted
// failure mode spec.md §4.3 calls out explicitly.
func (c *conn) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxInterval = 60 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.dial()
		})

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err != nil && errors.Is(err, twitch.ErrClientDisconnected) {
			return
		}
		if err != nil {
			errors.WrapAndLogWithContext(err, struct{ ConnID int }{c.id})
		}

		wait := bo.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}

		c.rejoinAll()
	}
}

// rejoinAll re-issues Join for every channel this connection was hosting
// before a disconnect, fire-and-forget: the pool's per-login Join/Part
// calls from the registry are independent of this recovery path, and a
// registry-driven Touch happening concurrently will simply find the
// channel already mid-rejoin.
func (c *conn) rejoinAll() {
	c.mu.Lock()
	logins := make([]string, 0, len(c.channels))
	for login := range c.channels {
		logins = append(logins, login)
	}
	c.mu.Unlock()
	if len(logins) > 0 {
		c.client.Join(logins...)
	}
}

// armWarmReap schedules reap to run once ttl has elapsed with this
// connection still idle, replacing any previously armed timer. The caller
// (the pool) is responsible for re-checking load() when reap fires, since a
// new Join may have landed on this connection in the meantime.
func (c *conn) armWarmReap(ttl time.Duration, reap func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warmTimer != nil {
		c.warmTimer.Stop()
	}
	c.warmTimer = time.AfterFunc(ttl, reap)
}

func (c *conn) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if err := c.client.Disconnect(); err != nil {
		errors.WrapAndLog(err)
	}
}
