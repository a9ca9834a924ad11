package registry

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/hammertrack/recall/internal/store"
)

// Membership is the per-channel join-state machine (spec §4.1):
//
//	Detached --touch--> Joining --pool-confirm--> Joined
//	   ^                                             |
//	   |                           sweep/idle        v
//	   +--pool-confirm---- Parting <------------------+
type Membership int32

const (
	Detached Membership = iota
	Joining
	Joined
	Parting
)

func (m Membership) String() string {
	switch m {
	case Detached:
		return "detached"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Parting:
		return "parting"
	default:
		return "unknown"
	}
}

// Channel is the Channel Registry's per-login entry. Its mutable fields are
// guarded by mu; a writer never holds two channels' mu at once (spec §5).
// The buffer itself has its own internal locking and may be read
// concurrently with registry bookkeeping, so it is not behind mu.
type Channel struct {
	Login string

	mu         sync.Mutex
	membership Membership
	blocked    bool

	// lastAccess is a millisecond Unix timestamp, atomic so sweep() can read
	// it without taking mu (spec §5: reads shouldn't stall a writer).
	lastAccess atomic.Int64

	buffer *store.ChannelBuffer
}

func newChannel(login string, capacity int) *Channel {
	c := &Channel{
		Login:      login,
		membership: Detached,
		buffer:     store.NewChannelBuffer(login, capacity),
	}
	return c
}

func (c *Channel) Buffer() *store.ChannelBuffer {
	return c.buffer
}

func (c *Channel) Membership() Membership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membership
}

func (c *Channel) Blocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

func (c *Channel) LastAccessMillis() int64 {
	return c.lastAccess.Load()
}

func (c *Channel) touchAccess(nowMillis int64) {
	c.lastAccess.Store(nowMillis)
}
