package store

import (
	"strings"
	"testing"
)

func clearchat(user, banDuration string, ts int64) StoredMessage {
	raw := "@ban-duration=" + banDuration + " :tmi.twitch.tv CLEARCHAT #chan :" + user
	if user == "" {
		raw = ":tmi.twitch.tv CLEARCHAT #chan"
	}
	return ParseStoredMessage(raw, ts)
}

func intp(n int) *int       { return &n }
func i64p(n int64) *int64   { return &n }

func TestFilterLimitKeepsNewest(t *testing.T) {
	snap := []StoredMessage{
		privmsg("1", "a", "m1", 1),
		privmsg("2", "a", "m2", 2),
		privmsg("3", "a", "m3", 3),
	}
	out := Filter{Limit: intp(2)}.Apply("chan", snap)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if !strings.Contains(out[0], "m2") || !strings.Contains(out[1], "m3") {
		t.Fatalf("unexpected lines: %v", out)
	}
}

func TestFilterLimitZeroReturnsEmpty(t *testing.T) {
	snap := []StoredMessage{privmsg("1", "a", "m1", 1)}
	out := Filter{Limit: intp(0)}.Apply("chan", snap)
	if len(out) != 0 {
		t.Fatalf("len = %d, want 0", len(out))
	}
}

func TestFilterBeforeAfterExclusive(t *testing.T) {
	snap := []StoredMessage{
		privmsg("1", "a", "m1", 10),
		privmsg("2", "a", "m2", 20),
		privmsg("3", "a", "m3", 30),
	}
	out := Filter{Before: i64p(30), After: i64p(10)}.Apply("chan", snap)
	if len(out) != 1 || !strings.Contains(out[0], "m2") {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestFilterBeforeEqualsAfterReturnsEmpty(t *testing.T) {
	snap := []StoredMessage{privmsg("1", "a", "m1", 20)}
	out := Filter{Before: i64p(20), After: i64p(20)}.Apply("chan", snap)
	if len(out) != 0 {
		t.Fatalf("len = %d, want 0", len(out))
	}
}

func TestFilterHideModerationMessages(t *testing.T) {
	snap := []StoredMessage{
		privmsg("1", "a", "hello", 1),
		clearchat("a", "10", 2),
	}
	out := Filter{HideModerationMessages: true}.Apply("chan", snap)
	if len(out) != 1 || !strings.Contains(out[0], "hello") {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestFilterHideModeratedMessages(t *testing.T) {
	msg := privmsg("1", "a", "hello", 1)
	msg.Deleted = true
	snap := []StoredMessage{msg, privmsg("2", "b", "still here", 2)}
	out := Filter{HideModeratedMessages: true}.Apply("chan", snap)
	if len(out) != 1 || !strings.Contains(out[0], "still here") {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestFilterDeletedMessageCarriesRmDeletedTag(t *testing.T) {
	msg := privmsg("1", "a", "hello", 1)
	msg.Deleted = true
	out := Filter{}.Apply("chan", []StoredMessage{msg})
	if !strings.Contains(out[0], "rm-deleted=1") {
		t.Fatalf("missing rm-deleted tag: %s", out[0])
	}
}

func TestFilterClearchatToNoticeWholeChat(t *testing.T) {
	snap := []StoredMessage{clearchat("", "", 5)}
	out := Filter{ClearchatToNotice: true}.Apply("chan", snap)
	if len(out) != 1 {
		t.Fatalf("want exactly one synthesized line, got %d", len(out))
	}
	if !strings.Contains(out[0], "msg-id=rm-clearchat") || !strings.Contains(out[0], "Chat has been cleared") {
		t.Fatalf("unexpected notice: %s", out[0])
	}
	if !strings.Contains(out[0], "historical=1") {
		t.Fatalf("missing historical tag: %s", out[0])
	}
}

func TestFilterClearchatToNoticeTimeout(t *testing.T) {
	snap := []StoredMessage{clearchat("alice", "600", 5)}
	out := Filter{ClearchatToNotice: true}.Apply("chan", snap)
	if !strings.Contains(out[0], "msg-id=rm-timeout") {
		t.Fatalf("unexpected notice: %s", out[0])
	}
}

func TestFilterClearchatToNoticePermaban(t *testing.T) {
	snap := []StoredMessage{clearchat("alice", "", 5)}
	out := Filter{ClearchatToNotice: true}.Apply("chan", snap)
	if !strings.Contains(out[0], "msg-id=rm-permaban") {
		t.Fatalf("unexpected notice: %s", out[0])
	}
}

func TestFilterOrderBeforeHideClearchatLimit(t *testing.T) {
	snap := []StoredMessage{
		privmsg("1", "a", "m1", 1),
		clearchat("a", "5", 2),
		privmsg("3", "a", "m3", 3),
	}
	limit := 1
	out := Filter{HideModerationMessages: false, ClearchatToNotice: true, Limit: &limit}.Apply("chan", snap)
	if len(out) != 1 || !strings.Contains(out[0], "m3") {
		t.Fatalf("limit should keep only the newest line, got %v", out)
	}
}
