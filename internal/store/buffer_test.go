package store

import "testing"

func privmsg(id, user, body string, ts int64) StoredMessage {
	raw := "@id=" + id + " :" + user + "!" + user + "@" + user + ".tmi.twitch.tv PRIVMSG #chan :" + body
	return ParseStoredMessage(raw, ts)
}

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	b := NewChannelBuffer("chan", 3)
	for i := int64(1); i <= 4; i++ {
		b.Append(privmsg("id", "u", "m", i))
	}
	if got := b.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	snap := b.Snapshot()
	if snap[0].ReceivedTS != 2 {
		t.Fatalf("oldest retained ts = %d, want 2 (message 1 should have been dropped)", snap[0].ReceivedTS)
	}
	if snap[len(snap)-1].ReceivedTS != 4 {
		t.Fatalf("newest retained ts = %d, want 4", snap[len(snap)-1].ReceivedTS)
	}
}

func TestNMaxPlusOneKeepsExactlyNMax(t *testing.T) {
	const nmax = 800
	b := NewChannelBuffer("chan", nmax)
	for i := int64(1); i <= nmax+1; i++ {
		b.Append(privmsg("id", "u", "m", i))
	}
	snap := b.Snapshot()
	if len(snap) != nmax {
		t.Fatalf("len = %d, want %d", len(snap), nmax)
	}
	if snap[0].ReceivedTS != 2 {
		t.Fatalf("first retained ts = %d, want 2", snap[0].ReceivedTS)
	}
}

func TestVacuumOlderThanDropsOnlyAgedOut(t *testing.T) {
	b := NewChannelBuffer("chan", 10)
	for i := int64(1); i <= 5; i++ {
		b.Append(privmsg("id", "u", "m", i*1000))
	}
	dropped := b.VacuumOlderThan(3000)
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	snap := b.Snapshot()
	if len(snap) != 3 || snap[0].ReceivedTS != 3000 {
		t.Fatalf("unexpected snapshot after vacuum: %+v", snap)
	}
}

func TestPurgeEmptiesBuffer(t *testing.T) {
	b := NewChannelBuffer("chan", 10)
	b.Append(privmsg("id", "u", "m", 1))
	b.Purge()
	if b.Len() != 0 {
		t.Fatalf("Len() = %d after purge, want 0", b.Len())
	}
	if len(b.Snapshot()) != 0 {
		t.Fatalf("Snapshot() not empty after purge")
	}
}

func TestReconcileClearMsgMarksSingleMessage(t *testing.T) {
	b := NewChannelBuffer("chan", 10)
	b.Append(privmsg("1", "alice", "hi", 1))
	b.Append(privmsg("2", "bob", "yo", 2))
	b.ReconcileClearMsg("1")

	snap := b.Snapshot()
	if !snap[0].Deleted {
		t.Fatalf("message 1 should be deleted")
	}
	if snap[1].Deleted {
		t.Fatalf("message 2 should not be deleted")
	}
}

func TestReconcileClearChatByUserMarksOnlyThatUser(t *testing.T) {
	b := NewChannelBuffer("chan", 10)
	b.Append(privmsg("1", "alice", "hi", 1))
	b.Append(privmsg("2", "bob", "yo", 2))
	b.Append(privmsg("3", "alice", "again", 3))
	b.ReconcileClearChat("alice")

	snap := b.Snapshot()
	if !snap[0].Deleted || snap[1].Deleted || !snap[2].Deleted {
		t.Fatalf("unexpected deletion state: %+v", snap)
	}
}

func TestReconcileClearChatWholeChatMarksEverything(t *testing.T) {
	b := NewChannelBuffer("chan", 10)
	for i := int64(1); i <= 3; i++ {
		b.Append(privmsg("id", "u", "m", i))
	}
	b.ReconcileClearChat("")

	for _, m := range b.Snapshot() {
		if !m.Deleted {
			t.Fatalf("expected every message deleted, got %+v", m)
		}
	}
}

func TestDeletedAfterSnapshotReflectsInNextSnapshot(t *testing.T) {
	b := NewChannelBuffer("chan", 10)
	b.Append(privmsg("1", "alice", "hi", 1))

	first := b.Snapshot()
	if first[0].Deleted {
		t.Fatalf("should not be deleted yet")
	}

	b.ReconcileClearMsg("1")
	second := b.Snapshot()
	if !second[0].Deleted {
		t.Fatalf("second snapshot should reflect deletion")
	}
	if first[0].Deleted {
		t.Fatalf("first snapshot must not be mutated retroactively")
	}
}
