// Package store is the Message Store: the per-channel bounded, ordered
// container of StoredMessage plus the read-filter pipeline applied at
// snapshot time (spec §4.2).
package store

import "sync"

// ChannelBuffer is a bounded FIFO over StoredMessage with size and age
// eviction. Every method takes the buffer's own mutex, so concurrent
// writers and readers need no further coordination from the caller.
//
// Adapted from the teacher's internal/message.MessageRing: that ring is a
// fixed circular list that is always at full capacity (the first rotation
// yields default-valued elements). This buffer instead tracks how many of
// its capacity slots are actually occupied, because age-based vacuum (spec
// §4.2/§4.4) evicts from the oldest end independently of whether the ring
// has ever wrapped, which the teacher's structure has no way to express.
type ChannelBuffer struct {
	// Login is the owning channel, needed to address synthesized NOTICE
	// lines (clearchat_to_notice) at the right target.
	Login string

	mu    sync.Mutex
	cap   int
	buf   []StoredMessage
	head  int
	count int
}

// NewChannelBuffer creates an empty buffer with the given capacity (N_max).
func NewChannelBuffer(login string, capacity int) *ChannelBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ChannelBuffer{
		Login: login,
		cap:   capacity,
		buf:   make([]StoredMessage, capacity),
	}
}

// Append adds msg, dropping the oldest message if the buffer is already at
// capacity. O(1) amortized.
func (b *ChannelBuffer) Append(msg StoredMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < b.cap {
		b.buf[(b.head+b.count)%b.cap] = msg
		b.count++
		return
	}
	b.buf[b.head] = msg
	b.head = (b.head + 1) % b.cap
}

// Len returns the number of messages currently retained.
func (b *ChannelBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// VacuumOlderThan drops every message with ReceivedTS < cutoffTS, oldest
// first, stopping at the first message that is still within the window
// (messages are append-ordered, so age is monotonic from the head). It
// returns the number of messages dropped.
func (b *ChannelBuffer) VacuumOlderThan(cutoffTS int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for b.count > 0 && b.buf[b.head].ReceivedTS < cutoffTS {
		b.buf[b.head] = StoredMessage{}
		b.head = (b.head + 1) % b.cap
		b.count--
		dropped++
	}
	return dropped
}

// Purge empties the buffer.
func (b *ChannelBuffer) Purge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
	b.buf = make([]StoredMessage, b.cap)
}

// Snapshot returns an oldest-first copy of the currently retained messages.
// It never blocks Append for more than O(count) work, and the copy is
// immune to subsequent appends or vacuums (spec §4.1's "never blocks an
// append for more than O(N_max) work" and §9's "copy-out under lock").
func (b *ChannelBuffer) Snapshot() []StoredMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]StoredMessage, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[(b.head+i)%b.cap]
	}
	return out
}

// ReconcileClearMsg marks the single PRIVMSG/USERNOTICE whose ID equals
// targetMsgID as deleted, if present, per spec §4.2.
func (b *ChannelBuffer) ReconcileClearMsg(targetMsgID string) {
	if targetMsgID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % b.cap
		if b.buf[idx].ID == targetMsgID {
			b.buf[idx].Deleted = true
			return
		}
	}
}

// ReconcileClearChat marks every currently-retained message from username
// as deleted, or every currently-retained message at all if username is
// empty (a whole-chat clear), per spec §4.2.
func (b *ChannelBuffer) ReconcileClearChat(username string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % b.cap
		if username == "" || b.buf[idx].Username == username {
			b.buf[idx].Deleted = true
		}
	}
}
