// Package ircpool is the IRC Listener Pool (spec §4.3): a set of IRC
// connections, each hosting up to J channel memberships, that joins and
// parts channels on the Channel Registry's behalf and fans received lines
// back into it.
//
// Grounded on the teacher's internal/bot/bot.go, which drove a single
// gempir/go-twitch-irc client against a fixed channel list at start-up;
// this package generalizes that into N such clients, opened lazily as
// channel count grows past J-per-connection, each independently
// reconnecting on failure.
package ircpool

import (
	"context"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/hammertrack/recall/internal/config"
	"github.com/hammertrack/recall/internal/errors"
)

// Pool satisfies registry.Pool: Join/Part, backed by a set of IRC
// connections capped at cfg.ChannelsPerConnection channels apiece and
// cfg.MaxConnections connections in total (spec §4.3, §9 capacity limits).
type Pool struct {
	cfg  *config.Settings
	disp Dispatcher

	mu      sync.Mutex
	conns   []*conn
	byLogin map[string]*conn

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Pool. disp may be nil at construction time and filled
// in later via SetDispatcher — the registry that wants to receive
// dispatched lines is itself built with this Pool as a collaborator, so
// the two have an unavoidable construction cycle that this setter breaks.
// Call Close to tear every connection down.
func New(cfg *config.Settings, disp Dispatcher) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		disp:    disp,
		byLogin: make(map[string]*conn),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetDispatcher sets (or replaces) the dispatcher connections fan received
// lines out to. Must be called before the first Join if disp was nil at
// New.
func (p *Pool) SetDispatcher(disp Dispatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disp = disp
}

// Join assigns login to a connection with spare capacity (opening a new
// one if needed and under MaxConnections), then blocks on that
// connection's join handshake.
func (p *Pool) Join(ctx context.Context, login string) error {
	c, err := p.connFor(login)
	if err != nil {
		return err
	}
	return c.join(ctx, login)
}

// Part parts login from whichever connection currently hosts it.
func (p *Pool) Part(ctx context.Context, login string) error {
	p.mu.Lock()
	c, ok := p.byLogin[login]
	if ok {
		delete(p.byLogin, login)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	err := c.part(ctx, login)
	p.scheduleWarmReap(c)
	return err
}

// scheduleWarmReap arms c's warm timer if Part just left it with zero
// channels (spec §4.3: "connections whose channel count drops to 0 may be
// held warm for T_warm then closed"). A WarmConnectionTTL of zero or less
// disables reaping: an idle connection is then kept open indefinitely (pool
// capacity is governed by connFor/MaxConnections instead).
func (p *Pool) scheduleWarmReap(c *conn) {
	if p.cfg.WarmConnectionTTL <= 0 || c.load() != 0 {
		return
	}
	c.armWarmReap(p.cfg.WarmConnectionTTL, func() {
		p.reapIfIdle(c)
	})
}

// reapIfIdle closes and drops c if it is still idle when the warm timer
// fires; a Join landing on c in the meantime leaves it in p.conns and
// disarms the timer instead (see conn.join).
func (p *Pool) reapIfIdle(c *conn) {
	p.mu.Lock()
	if c.load() != 0 {
		p.mu.Unlock()
		return
	}
	idx := -1
	for i, cc := range p.conns {
		if cc == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	p.conns = append(p.conns[:idx], p.conns[idx+1:]...)
	p.mu.Unlock()
	c.shutdown()
}

func (p *Pool) connFor(login string) (*conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.byLogin[login]; ok {
		return c, nil
	}

	var target *conn
	for _, c := range p.conns {
		if c.load() < p.cfg.ChannelsPerConnection {
			target = c
			break
		}
	}
	if target == nil {
		if p.cfg.MaxConnections > 0 && len(p.conns) >= p.cfg.MaxConnections {
			return nil, errors.New("ircpool: connection capacity exhausted")
		}
		target = newConn(len(p.conns), p.cfg, p.disp)
		p.conns = append(p.conns, target)
		go target.run(p.ctx)
	}
	p.byLogin[login] = target
	// Reserve the slot now so the next connFor sees this login in load()
	// even before its join handshake runs.
	target.mu.Lock()
	target.channels[login] = struct{}{}
	target.mu.Unlock()
	return target, nil
}

// Snapshot returns a debug view of current connection load, rendered with
// go-spew for structured, human-readable trace logging.
func (p *Pool) Snapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	loads := make([]int, len(p.conns))
	for i, c := range p.conns {
		loads[i] = c.load()
	}
	return spew.Sdump(loads)
}

// Close disconnects every connection and stops all reconnect supervisors.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	conns := p.conns
	p.mu.Unlock()
	for _, c := range conns {
		c.shutdown()
	}
}
