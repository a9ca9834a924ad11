// Package wire manipulates raw IRCv3 lines as byte-for-byte strings: reading
// tags off an incoming line for CLEARCHAT/CLEARMSG reconciliation, and
// injecting the core's own tags (historical, rm-received-ts, rm-deleted)
// onto an outgoing line without disturbing anything else about it.
//
// Twitch tagged IRC lines look like:
//
//	@badge-info=;color=#FF0000;id=abc :user!user@user.tmi.twitch.tv PRIVMSG #chan :hello
//
// i.e. an optional `@tag1=val1;tag2=val2 ` prefix followed by the rest of
// the line untouched.
package wire

import "strings"

// ParseTags returns the tag map of line, or nil if line carries no tags.
func ParseTags(line string) map[string]string {
	if !strings.HasPrefix(line, "@") {
		return nil
	}
	end := strings.IndexByte(line, ' ')
	if end < 0 {
		end = len(line)
	}
	raw := line[1:end]
	if raw == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			continue
		}
		if i := strings.IndexByte(pair, '='); i >= 0 {
			tags[pair[:i]] = unescapeTagValue(pair[i+1:])
		} else {
			tags[pair] = ""
		}
	}
	return tags
}

// Command returns the IRC command word of line (e.g. "PRIVMSG",
// "CLEARCHAT", "CLEARMSG", "NOTICE"), skipping the optional tag prefix and
// source prefix.
func Command(line string) string {
	rest := stripTagPrefix(line)
	for _, f := range strings.Fields(rest) {
		if strings.HasPrefix(f, ":") {
			continue
		}
		return f
	}
	return ""
}

func stripTagPrefix(line string) string {
	if !strings.HasPrefix(line, "@") {
		return line
	}
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return strings.TrimPrefix(line[i+1:], " ")
	}
	return ""
}

// AppendTags returns line with the given key=value pairs merged into its
// tag prefix, added in order after any tags already present. Keys already
// present in line are left untouched (the core never needs to overwrite an
// upstream tag, only add its own).
func AppendTags(line string, kv ...[2]string) string {
	if len(kv) == 0 {
		return line
	}
	var add strings.Builder
	existing := ParseTags(line)
	for _, pair := range kv {
		if _, ok := existing[pair[0]]; ok {
			continue
		}
		add.WriteByte(';')
		add.WriteString(pair[0])
		add.WriteByte('=')
		add.WriteString(escapeTagValue(pair[1]))
	}
	if add.Len() == 0 {
		return line
	}
	if strings.HasPrefix(line, "@") {
		end := strings.IndexByte(line, ' ')
		if end < 0 {
			end = len(line)
		}
		return line[:end] + add.String() + line[end:]
	}
	return "@" + add.String()[1:] + " " + line
}

// escapeTagValue applies the IRCv3 tag-value escaping required for
// semicolons, spaces, backslashes and CR/LF.
func escapeTagValue(v string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`;`, `\:`,
		` `, `\s`,
		"\r", `\r`,
		"\n", `\n`,
	)
	return r.Replace(v)
}

func unescapeTagValue(v string) string {
	r := strings.NewReplacer(
		`\:`, `;`,
		`\s`, ` `,
		`\r`, "\r",
		`\n`, "\n",
		`\\`, `\`,
	)
	return r.Replace(v)
}
