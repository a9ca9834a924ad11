package store

import (
	"strings"

	"github.com/hammertrack/recall/internal/wire"
)

// StoredMessage is an opaque raw IRC line as received, annotated with the
// bookkeeping fields the buffer and its filters need. Raw is immutable;
// only Deleted ever transitions, exactly once, false -> true.
type StoredMessage struct {
	// Raw is the untouched wire line, without any of the core's own tags.
	Raw string
	// ReceivedTS is the millisecond Unix timestamp assigned at IRC receive
	// time, monotonic-per-channel by construction.
	ReceivedTS int64
	// Deleted is set post-hoc by a CLEARCHAT/CLEARMSG referencing this
	// message.
	Deleted bool

	// Command is the IRC command word (PRIVMSG, CLEARCHAT, CLEARMSG,
	// USERNOTICE, NOTICE, ...).
	Command string
	// ID is the message's own `id` tag, present on PRIVMSG/USERNOTICE.
	ID string
	// Username is the author of a PRIVMSG/USERNOTICE, or the target of a
	// CLEARCHAT (empty for a whole-chat CLEARCHAT).
	Username string
	// TargetMsgID is CLEARMSG's `target-msg-id` tag.
	TargetMsgID string
	// TargetUserID is CLEARCHAT's `target-user-id` tag.
	TargetUserID string
	// BanDuration is CLEARCHAT's `ban-duration` tag ("" for a permaban).
	BanDuration string
}

// ParseStoredMessage derives the bookkeeping fields of a StoredMessage from
// a raw wire line, independent of whichever IRC client library produced it.
// This is what lets a persisted (ts, raw) pair loaded from the Persistence
// Adapter after a restart (spec §4.5) be reconciled and filtered exactly
// like a live message.
func ParseStoredMessage(raw string, receivedTS int64) StoredMessage {
	m := StoredMessage{
		Raw:        raw,
		ReceivedTS: receivedTS,
		Command:    wire.Command(raw),
	}
	if tags := wire.ParseTags(raw); tags != nil {
		m.ID = tags["id"]
		m.TargetMsgID = tags["target-msg-id"]
		m.TargetUserID = tags["target-user-id"]
		m.BanDuration = tags["ban-duration"]
	}
	switch m.Command {
	case "PRIVMSG", "USERNOTICE":
		m.Username = prefixNick(raw)
	case "CLEARCHAT":
		m.Username = trailingParam(raw)
	}
	return m
}

func prefixNick(line string) string {
	rest := line
	if strings.HasPrefix(rest, "@") {
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			rest = rest[i+1:]
		}
	}
	if !strings.HasPrefix(rest, ":") {
		return ""
	}
	end := strings.IndexByte(rest, ' ')
	if end < 0 {
		end = len(rest)
	}
	prefix := rest[1:end]
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		return prefix[:i]
	}
	return prefix
}

// trailingParam returns the line's trailing (": "-prefixed) parameter, if
// any, skipping past the tag prefix and source prefix first so a source
// like ":tmi.twitch.tv" is never mistaken for the trailing parameter.
func trailingParam(line string) string {
	rest := line
	if strings.HasPrefix(rest, "@") {
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			rest = rest[i+1:]
		}
	}
	if strings.HasPrefix(rest, ":") {
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			rest = rest[i+1:]
		}
	}
	if i := strings.Index(rest, " :"); i >= 0 {
		return rest[i+2:]
	}
	return ""
}
