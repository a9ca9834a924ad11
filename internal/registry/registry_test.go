package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hammertrack/recall/internal/config"
	"github.com/hammertrack/recall/internal/errors"
	"github.com/hammertrack/recall/internal/store"
)

type fakePool struct {
	mu      sync.Mutex
	joined  map[string]bool
	joinErr error
}

func newFakePool() *fakePool { return &fakePool{joined: make(map[string]bool)} }

func (p *fakePool) Join(ctx context.Context, login string) error {
	if p.joinErr != nil {
		return p.joinErr
	}
	p.mu.Lock()
	p.joined[login] = true
	p.mu.Unlock()
	return nil
}

func (p *fakePool) Part(ctx context.Context, login string) error {
	p.mu.Lock()
	delete(p.joined, login)
	p.mu.Unlock()
	return nil
}

type fakePersister struct {
	mu      sync.Mutex
	loaded  map[string][]store.StoredMessage
	appends int
	purged  []string
}

func newFakePersister() *fakePersister {
	return &fakePersister{loaded: make(map[string][]store.StoredMessage)}
}

func (p *fakePersister) Append(login string, ts int64, raw string) {
	p.mu.Lock()
	p.appends++
	p.mu.Unlock()
}

func (p *fakePersister) LoadWindow(ctx context.Context, login string) ([]store.StoredMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[login], nil
}

func (p *fakePersister) Purge(ctx context.Context, login string) error {
	p.mu.Lock()
	p.purged = append(p.purged, login)
	p.mu.Unlock()
	return nil
}

func testSettings() *config.Settings {
	return &config.Settings{
		ChannelCap:  10,
		IdleTTL:     time.Hour,
		JoinTimeout: time.Second,
		PartTimeout: time.Second,
		IsBlocked:   func(string) bool { return false },
	}
}

func waitForMembership(t *testing.T, r *Registry, login string, want Membership) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Membership(login) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("channel %s never reached membership %s, stuck at %s", login, want, r.Membership(login))
}

func TestTouchRejectsInvalidLogin(t *testing.T) {
	r := New(testSettings(), newFakePool(), newFakePersister())
	_, err := r.Touch("this-login-is-definitely-too-long-to-be-valid")
	if !errors.Is(err, errors.ErrInvalidChannelLogin) {
		t.Fatalf("err = %v, want ErrInvalidChannelLogin", err)
	}
}

func TestTouchJoinsAndTransitionsToJoined(t *testing.T) {
	r := New(testSettings(), newFakePool(), newFakePersister())
	if _, err := r.Touch("pajlada"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	waitForMembership(t, r, "pajlada", Joined)
}

func TestTouchSetsLastAccessAndSweepDoesNotPartFreshChannel(t *testing.T) {
	r := New(testSettings(), newFakePool(), newFakePersister())
	if _, err := r.Touch("pajlada"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	waitForMembership(t, r, "pajlada", Joined)

	r.Sweep(context.Background(), time.Now())
	if got := r.Membership("pajlada"); got != Joined {
		t.Fatalf("membership after sweep = %s, want joined (touch was recent)", got)
	}
}

func TestSweepPartsIdleChannel(t *testing.T) {
	r := New(testSettings(), newFakePool(), newFakePersister())
	if _, err := r.Touch("pajlada"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	waitForMembership(t, r, "pajlada", Joined)

	future := time.Now().Add(2 * time.Hour)
	r.Sweep(context.Background(), future)

	if got := r.Membership("pajlada"); got != Detached {
		t.Fatalf("membership after idle sweep = %s, want detached", got)
	}
}

func TestAppendDropsForUnknownChannel(t *testing.T) {
	persist := newFakePersister()
	r := New(testSettings(), newFakePool(), persist)
	r.Append("never-touched", "@id=1 :u!u@u.tmi.twitch.tv PRIVMSG #c :hi", 1)

	if persist.appends != 0 {
		t.Fatalf("append should have been dropped for an unregistered channel")
	}
}

func TestAppendAndSnapshot(t *testing.T) {
	r := New(testSettings(), newFakePool(), newFakePersister())
	ch, err := r.Touch("pajlada")
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	_ = ch

	r.Append("pajlada", "@id=1 :u!u@u.tmi.twitch.tv PRIVMSG #pajlada :hello", 1000)
	lines, err := r.Snapshot("pajlada", store.Filter{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("len(lines) = %d, want 1", len(lines))
	}
}

func TestSetBlockedPurgesAndRejectsReads(t *testing.T) {
	r := New(testSettings(), newFakePool(), newFakePersister())
	if _, err := r.Touch("pajlada"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	r.Append("pajlada", "@id=1 :u!u@u.tmi.twitch.tv PRIVMSG #pajlada :hello", 1000)

	if err := r.SetBlocked(context.Background(), "pajlada", true); err != nil {
		t.Fatalf("SetBlocked: %v", err)
	}

	if _, err := r.Snapshot("pajlada", store.Filter{}); !errors.Is(err, errors.ErrChannelIgnored) {
		t.Fatalf("Snapshot err = %v, want ErrChannelIgnored", err)
	}

	// Idempotent: a second identical call is a no-op, not an error.
	if err := r.SetBlocked(context.Background(), "pajlada", true); err != nil {
		t.Fatalf("second SetBlocked: %v", err)
	}
}

func TestAppendClearChatSurvivesItsOwnReconciliation(t *testing.T) {
	r := New(testSettings(), newFakePool(), newFakePersister())
	if _, err := r.Touch("pajlada"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	for i := 1; i <= 3; i++ {
		r.Append("pajlada", fmt.Sprintf("@id=%d :u!u@u.tmi.twitch.tv PRIVMSG #pajlada :m%d", i, i), int64(i))
	}
	r.Append("pajlada", ":tmi.twitch.tv CLEARCHAT #pajlada", 4)

	lines, err := r.Snapshot("pajlada", store.Filter{HideModeratedMessages: true})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("len(lines) = %d, want 1 (the CLEARCHAT itself, per spec §8 scenario 4): %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "CLEARCHAT") {
		t.Fatalf("surviving line = %q, want the CLEARCHAT line", lines[0])
	}
}

func TestPurgeEmptiesBuffer(t *testing.T) {
	r := New(testSettings(), newFakePool(), newFakePersister())
	if _, err := r.Touch("pajlada"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	r.Append("pajlada", "@id=1 :u!u@u.tmi.twitch.tv PRIVMSG #pajlada :hello", 1000)

	if err := r.Purge(context.Background(), "pajlada"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	lines, err := r.Snapshot("pajlada", store.Filter{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("lines = %v, want empty after purge", lines)
	}
}
