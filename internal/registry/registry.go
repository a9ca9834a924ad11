// Package registry is the Channel Registry: the single source of truth for
// which channels the process currently cares about, and the rendezvous for
// reads, writes and lifecycle (spec §4.1).
//
// Grounded on the teacher's internal/bot/bot.go StartTracker: one
// goroutine + channel per tracked Twitch channel, fed from a fixed
// start-up channel list (`tracked map[string]chan *Message`). This package
// generalizes that into an on-demand membership model driven by touch()
// instead of a fixed list, and replaces the teacher's per-channel
// goroutine+channel with a per-channel mutex because callers need
// synchronous read-your-write semantics (touch returning a handle
// immediately, snapshot returning a consistent copy) that a pure actor
// mailbox makes awkward to expose as a blocking Go API.
package registry

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"

	"github.com/hammertrack/recall/internal/config"
	"github.com/hammertrack/recall/internal/errors"
	"github.com/hammertrack/recall/internal/store"
)

// Pool is the narrow slice of the IRC Listener Pool the registry drives.
// Both calls block until the pool's join/part protocol acks or its
// respective timeout elapses (spec §5 T_join/T_part).
type Pool interface {
	Join(ctx context.Context, login string) error
	Part(ctx context.Context, login string) error
}

// Persister is the narrow slice of the Persistence Adapter the registry
// drives (spec §4.5).
type Persister interface {
	Append(login string, ts int64, raw string)
	LoadWindow(ctx context.Context, login string) ([]store.StoredMessage, error)
	Purge(ctx context.Context, login string) error
}

// warmCacheSize bounds how many distinct logins the registry remembers
// having already warm-loaded from persistence this process lifetime
// (spec §4.5: "called exactly once per channel per process lifetime").
// Recently-touched channels are the ones worth remembering; a channel that
// falls out of this LRU and gets touched again simply reloads its window,
// which is harmless (LoadWindow is idempotent), just an extra query.
const warmCacheSize = 8192

type Registry struct {
	cap         int
	joinTimeout time.Duration
	partTimeout time.Duration
	idleTTL     time.Duration
	isBlocked   func(string) bool

	pool    Pool
	persist Persister

	shards [registryShards]*shard

	warmed *lru.Cache[string, struct{}]

	channelCount atomic.Int64
}

// registryShards partitions the outer login->Channel map to avoid a single
// global lock on a read-mostly, high-cardinality map (spec §5: "use a
// reader-biased lock or sharded lock").
const registryShards = 32

type shard struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// New builds a Registry. cfg supplies N_max, T_idle, T_join, T_part and the
// blocklist predicate hook; pool and persist are the IRC Listener Pool and
// Persistence Adapter collaborators.
func New(cfg *config.Settings, pool Pool, persist Persister) *Registry {
	warmed, _ := lru.New[string, struct{}](warmCacheSize)
	r := &Registry{
		cap:         cfg.ChannelCap,
		joinTimeout: cfg.JoinTimeout,
		partTimeout: cfg.PartTimeout,
		idleTTL:     cfg.IdleTTL,
		isBlocked:   cfg.IsBlocked,
		pool:        pool,
		persist:     persist,
		warmed:      warmed,
	}
	for i := range r.shards {
		r.shards[i] = &shard{channels: make(map[string]*Channel)}
	}
	return r
}

func (r *Registry) shardFor(login string) *shard {
	var h uint32
	for i := 0; i < len(login); i++ {
		h = h*31 + uint32(login[i])
	}
	return r.shards[h%registryShards]
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Touch validates login, ensures a Channel entry exists and is progressing
// toward Joined, refreshes last_access, and returns its buffer handle. It
// is idempotent: a channel already Joining or Joined just gets its access
// time bumped (spec §4.1).
func (r *Registry) Touch(login string) (*Channel, error) {
	if !config.ValidLogin(login) {
		return nil, errors.ErrInvalidChannelLogin
	}

	sh := r.shardFor(login)

	sh.mu.RLock()
	ch, ok := sh.channels[login]
	sh.mu.RUnlock()

	if !ok {
		if r.isBlocked(login) {
			return nil, errors.ErrChannelIgnored
		}
		sh.mu.Lock()
		if ch, ok = sh.channels[login]; !ok {
			ch = newChannel(login, r.cap)
			sh.channels[login] = ch
			r.channelCount.Inc()
		}
		sh.mu.Unlock()
	}

	ch.mu.Lock()
	if ch.blocked {
		ch.mu.Unlock()
		return nil, errors.ErrChannelIgnored
	}
	shouldJoin := ch.membership == Detached
	if shouldJoin {
		ch.membership = Joining
	}
	ch.mu.Unlock()

	ch.touchAccess(nowMillis())

	if shouldJoin {
		r.warmThenJoin(ch)
	}

	return ch, nil
}

// warmThenJoin loads any still-fresh persisted window (once per process
// lifetime per login) and kicks off the pool join asynchronously so Touch
// never blocks its caller on network I/O.
func (r *Registry) warmThenJoin(ch *Channel) {
	if _, seen := r.warmed.Get(ch.Login); !seen {
		r.warmed.Add(ch.Login, struct{}{})
		ctx, cancel := context.WithTimeout(context.Background(), r.joinTimeout)
		msgs, err := r.persist.LoadWindow(ctx, ch.Login)
		cancel()
		if err != nil {
			errors.WrapAndLogWithContext(err, struct{ Login string }{ch.Login})
		} else {
			for _, m := range msgs {
				ch.buffer.Append(m)
			}
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.joinTimeout)
		defer cancel()
		err := r.pool.Join(ctx, ch.Login)

		ch.mu.Lock()
		if err != nil {
			errors.WrapAndLogWithContext(err, struct{ Login string }{ch.Login})
			if ch.membership == Joining {
				ch.membership = Detached
			}
		} else if ch.membership == Joining {
			ch.membership = Joined
		}
		ch.mu.Unlock()
	}()
}

// Append is called by the IRC Listener Pool's dispatcher for every received
// line. If login isn't registered or is blocked, the line is dropped
// (spec §3 "IRC Pool holds only weak references").
func (r *Registry) Append(login string, raw string, ts int64) {
	sh := r.shardFor(login)
	sh.mu.RLock()
	ch, ok := sh.channels[login]
	sh.mu.RUnlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	blocked := ch.blocked
	ch.mu.Unlock()
	if blocked {
		return
	}

	msg := store.ParseStoredMessage(raw, ts)

	// Reconcile against everything retained so far before appending msg
	// itself: a CLEARCHAT's own Username field holds the target it clears,
	// so appending first would let it self-match its own reconciliation
	// sweep and wrongly mark itself deleted (spec §8 scenario 4 keeps the
	// CLEARCHAT line itself alive under hide_moderated_messages).
	switch msg.Command {
	case "CLEARMSG":
		ch.buffer.ReconcileClearMsg(msg.TargetMsgID)
	case "CLEARCHAT":
		ch.buffer.ReconcileClearChat(msg.Username)
	}

	ch.buffer.Append(msg)
	r.persist.Append(login, ts, raw)
}

// Snapshot returns the filtered, tagged lines for login, or
// ErrInvalidChannelLogin/ErrChannelIgnored for hard failures. A channel
// that has never been touched (Detached, no entry) yields an empty result,
// not an error — the Intake API is responsible for attaching the soft
// channel_not_joined code based on Membership.
func (r *Registry) Snapshot(login string, f store.Filter) ([]string, error) {
	if !config.ValidLogin(login) {
		return nil, errors.ErrInvalidChannelLogin
	}
	ch := r.lookup(login)
	if ch == nil {
		return nil, nil
	}
	if ch.Blocked() {
		return nil, errors.ErrChannelIgnored
	}
	return f.Apply(login, ch.buffer.Snapshot()), nil
}

func (r *Registry) lookup(login string) *Channel {
	sh := r.shardFor(login)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.channels[login]
}

// Purge empties login's RAM buffer and issues a persistence deletion; the
// channel remains joined unless it is also blocked (spec §4.1).
func (r *Registry) Purge(ctx context.Context, login string) error {
	if !config.ValidLogin(login) {
		return errors.ErrInvalidChannelLogin
	}
	ch := r.lookup(login)
	if ch == nil {
		return nil
	}
	ch.buffer.Purge()
	return r.persist.Purge(ctx, login)
}

// SetBlocked flips login's blocklist flag. Setting true parts a Joining or
// Joined channel (leaving it Detached, with its entry kept so the flag
// persists) and purges immediately; setting false simply clears the flag so
// the next Touch may rejoin.
func (r *Registry) SetBlocked(ctx context.Context, login string, blocked bool) error {
	if !config.ValidLogin(login) {
		return errors.ErrInvalidChannelLogin
	}

	sh := r.shardFor(login)
	sh.mu.Lock()
	ch, ok := sh.channels[login]
	if !ok && blocked {
		ch = newChannel(login, r.cap)
		sh.channels[login] = ch
		r.channelCount.Inc()
		ok = true
	}
	sh.mu.Unlock()
	if !ok {
		return nil
	}

	ch.mu.Lock()
	ch.blocked = blocked
	leave := blocked && (ch.membership == Joining || ch.membership == Joined)
	if leave {
		ch.membership = Parting
	}
	ch.mu.Unlock()

	if leave {
		partCtx, cancel := context.WithTimeout(ctx, r.partTimeout)
		if err := r.pool.Part(partCtx, login); err != nil {
			errors.WrapAndLogWithContext(err, struct{ Login string }{login})
		}
		cancel()
		ch.mu.Lock()
		ch.membership = Detached
		ch.mu.Unlock()
	}

	if blocked {
		return r.Purge(ctx, login)
	}
	return nil
}

// IsBlocked reports login's current blocklist state.
func (r *Registry) IsBlocked(login string) (bool, error) {
	if !config.ValidLogin(login) {
		return false, errors.ErrInvalidChannelLogin
	}
	ch := r.lookup(login)
	if ch == nil {
		return r.isBlocked(login), nil
	}
	return ch.Blocked(), nil
}

// Membership returns login's current membership state, Detached if it has
// no registry entry.
func (r *Registry) Membership(login string) Membership {
	ch := r.lookup(login)
	if ch == nil {
		return Detached
	}
	return ch.Membership()
}

// Sweep parts and drops every channel whose last_access is older than
// T_idle (spec §4.1/§4.4). It is the Retention Scheduler's idle-sweep step.
func (r *Registry) Sweep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-r.idleTTL).UnixMilli()

	var idle []*Channel
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, ch := range sh.channels {
			if ch.LastAccessMillis() < cutoff {
				idle = append(idle, ch)
			}
		}
		sh.mu.RUnlock()
	}

	for _, ch := range idle {
		r.partAndDrop(ctx, ch)
	}
}

func (r *Registry) partAndDrop(ctx context.Context, ch *Channel) {
	ch.mu.Lock()
	if ch.membership == Parting || ch.membership == Detached {
		ch.mu.Unlock()
		return
	}
	ch.membership = Parting
	ch.mu.Unlock()

	partCtx, cancel := context.WithTimeout(ctx, r.partTimeout)
	err := r.pool.Part(partCtx, ch.Login)
	cancel()
	if err != nil {
		// spec §4.3: "on timeout the channel is forcibly considered parted"
		errors.WrapAndLogWithContext(err, struct{ Login string }{ch.Login})
	}

	sh := r.shardFor(ch.Login)
	sh.mu.Lock()
	delete(sh.channels, ch.Login)
	sh.mu.Unlock()
	r.channelCount.Dec()

	ch.mu.Lock()
	ch.membership = Detached
	ch.mu.Unlock()
	ch.buffer.Purge()
}

// ChannelCount returns the number of channels currently tracked (any
// membership state except fully removed).
func (r *Registry) ChannelCount() int64 {
	return r.channelCount.Load()
}

// VacuumAll runs the Retention Scheduler's age-vacuum step (spec §4.4
// step 1) over every buffer, dropping messages older than cutoff, and
// returns the total number of messages dropped.
func (r *Registry) VacuumAll(cutoff time.Time) int {
	cutoffMillis := cutoff.UnixMilli()
	var dropped int
	for _, sh := range r.shards {
		sh.mu.RLock()
		channels := make([]*Channel, 0, len(sh.channels))
		for _, ch := range sh.channels {
			channels = append(channels, ch)
		}
		sh.mu.RUnlock()

		for _, ch := range channels {
			dropped += ch.buffer.VacuumOlderThan(cutoffMillis)
		}
	}
	return dropped
}
