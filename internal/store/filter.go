package store

import (
	"fmt"

	"github.com/hammertrack/recall/internal/wire"
)

// Filter is the set of read-time transforms applied to a snapshot (spec
// §4.2). All fields are optional; a zero Filter returns every retained
// message, oldest-first, tagged with historical=1.
//
// Adapted from the teacher's internal/heuristics Rule/Analyzer composition:
// that package chains boolean compliance rules over a single message to
// decide "store or don't"; this package chains range/predicate/mapper
// stages over a whole snapshot to decide "include, and in what shape" —
// same idea of small composable named stages applied in a fixed order,
// generalized from a fold over rules into a pipeline over a slice, per
// spec §9's explicit filter-composition order: before/after → hide_* →
// clearchat_to_notice → limit (newest-kept).
type Filter struct {
	HideModerationMessages bool
	HideModeratedMessages  bool
	ClearchatToNotice      bool
	// Before/After bound ReceivedTS exclusively when non-nil.
	Before *int64
	After  *int64
	// Limit keeps only the newest N lines of the result when non-nil.
	// Limit == 0 yields an empty result.
	Limit *int
}

func isModerationMessage(m StoredMessage) bool {
	return m.Command == "CLEARCHAT" || m.Command == "CLEARMSG"
}

// Apply runs the pipeline over an oldest-first snapshot and returns
// oldest-first, fully-tagged outgoing raw lines. login addresses any
// synthesized CLEARCHAT->NOTICE line at the right channel.
func (f Filter) Apply(login string, snapshot []StoredMessage) []string {
	msgs := snapshot

	if f.Before != nil || f.After != nil {
		msgs = filterInRange(msgs, f.Before, f.After)
	}
	if f.HideModerationMessages {
		msgs = filterOut(msgs, isModerationMessage)
	}
	if f.HideModeratedMessages {
		msgs = filterOut(msgs, func(m StoredMessage) bool { return m.Deleted })
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, render(login, m, f.ClearchatToNotice))
	}

	if f.Limit != nil {
		lines = newestN(lines, *f.Limit)
	}
	return lines
}

func filterInRange(msgs []StoredMessage, before, after *int64) []StoredMessage {
	kept := make([]StoredMessage, 0, len(msgs))
	for _, m := range msgs {
		if before != nil && m.ReceivedTS >= *before {
			continue
		}
		if after != nil && m.ReceivedTS <= *after {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func filterOut(msgs []StoredMessage, drop func(StoredMessage) bool) []StoredMessage {
	kept := make([]StoredMessage, 0, len(msgs))
	for _, m := range msgs {
		if !drop(m) {
			kept = append(kept, m)
		}
	}
	return kept
}

func newestN(lines []string, n int) []string {
	if n < 0 {
		n = 0
	}
	if n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// render produces the final outgoing line for m: either the original raw
// line with the core's own tags appended, or (when clearchatToNotice is set
// and m is a CLEARCHAT) a synthesized NOTICE replacing it entirely, per
// spec §4.2/§9 ("replace: exactly one synthetic NOTICE per original").
func render(login string, m StoredMessage, clearchatToNotice bool) string {
	tags := [][2]string{
		{"historical", "1"},
		{"rm-received-ts", fmt.Sprintf("%d", m.ReceivedTS)},
	}
	if m.Deleted {
		tags = append(tags, [2]string{"rm-deleted", "1"})
	}

	if clearchatToNotice && m.Command == "CLEARCHAT" {
		return wire.AppendTags(synthesizeClearChatNotice(login, m), tags...)
	}
	return wire.AppendTags(m.Raw, tags...)
}

// synthesizeClearChatNotice builds the NOTICE line spec §4.2 requires in
// place of a CLEARCHAT, choosing a msg-id from the ban-duration/target-user
// fields per spec's resolution of the original ambiguity.
func synthesizeClearChatNotice(login string, m StoredMessage) string {
	var msgID, text string
	switch {
	case m.Username == "":
		msgID, text = "rm-clearchat", "Chat has been cleared by a moderator."
	case m.BanDuration != "" && m.BanDuration != "0":
		msgID, text = "rm-timeout", fmt.Sprintf("%s has been timed out for %s seconds.", m.Username, m.BanDuration)
	default:
		msgID, text = "rm-permaban", fmt.Sprintf("%s has been permanently banned.", m.Username)
	}
	return fmt.Sprintf("@msg-id=%s :tmi.twitch.tv NOTICE #%s :%s", msgID, login, text)
}
