// Package intake is the Intake API (spec §4.6): the only surface the
// (out-of-scope) HTTP collaborator calls — get_recent, purge, set_blocked,
// is_blocked — composing the Channel Registry and Message Store and
// applying the hard/soft error split spec §7 requires (InvalidChannelLogin
// and ChannelIgnored are hard failures; ChannelNotJoined is a soft
// failure carried alongside any warm-loaded messages, never used to
// suppress them).
package intake

import (
	"context"

	"github.com/hammertrack/recall/internal/errors"
	"github.com/hammertrack/recall/internal/registry"
	"github.com/hammertrack/recall/internal/store"
)

// Registry is the narrow slice of the Channel Registry the Intake API
// drives.
type Registry interface {
	Touch(login string) (*registry.Channel, error)
	Snapshot(login string, f store.Filter) ([]string, error)
	Purge(ctx context.Context, login string) error
	SetBlocked(ctx context.Context, login string, blocked bool) error
	IsBlocked(login string) (bool, error)
	Membership(login string) registry.Membership
}

// API is the Intake API.
type API struct {
	registry Registry
}

// New composes an Intake API over reg.
func New(reg Registry) *API {
	return &API{registry: reg}
}

// GetRecent touches login (joining it if not already progressing toward
// Joined), then returns its filtered buffer snapshot. A channel that is
// Detached or Joining still returns whatever warm-loaded messages its
// buffer holds, paired with the soft ErrChannelNotJoined code — callers
// must not discard the messages on a non-nil soft error (spec §4.6).
func (a *API) GetRecent(login string, f store.Filter) ([]string, error) {
	if _, err := a.registry.Touch(login); err != nil {
		return nil, err
	}

	lines, err := a.registry.Snapshot(login, f)
	if err != nil {
		return nil, err
	}

	switch a.registry.Membership(login) {
	case registry.Detached, registry.Joining:
		return lines, errors.ErrChannelNotJoined
	default:
		return lines, nil
	}
}

// Purge empties login's RAM buffer and persisted rows.
func (a *API) Purge(ctx context.Context, login string) error {
	return a.registry.Purge(ctx, login)
}

// SetBlocked flips login's blocklist flag.
func (a *API) SetBlocked(ctx context.Context, login string, blocked bool) error {
	return a.registry.SetBlocked(ctx, login, blocked)
}

// IsBlocked reports login's current blocklist state.
func (a *API) IsBlocked(login string) (bool, error) {
	return a.registry.IsBlocked(login)
}
