/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"strings"
)

// HostMask is a parsed nick!user@host mask, the form used by ban/except/
// invex list entries and by Hostmask rendering (spec.md 4.2).
type HostMask struct {
	Nick string
	User string
	Host string
}

// ParseHostMask splits a "nick!user@host" string into its components.
// Any component may be empty or "*" if absent from the input; this never
// errors since ban masks are free-form glob patterns.
func ParseHostMask(s string) HostMask {
	var m HostMask

	rest := s
	if bang := strings.IndexByte(rest, '!'); bang >= 0 {
		m.Nick = rest[:bang]
		rest = rest[bang+1:]
	} else if at := strings.IndexByte(rest, '@'); at >= 0 {
		// No '!' present: treat the whole prefix as the user component,
		// e.g. a bare "user@host" ban entry.
		m.Nick = "*"
		m.User = rest[:at]
		rest = rest[at+1:]
		m.Host = rest
		return normalizeMask(m)
	} else {
		m.Nick = rest
		m.User = "*"
		m.Host = "*"
		return normalizeMask(m)
	}

	if at := strings.IndexByte(rest, '@'); at >= 0 {
		m.User = rest[:at]
		m.Host = rest[at+1:]
	} else {
		m.User = rest
		m.Host = "*"
	}

	return normalizeMask(m)
}

func normalizeMask(m HostMask) HostMask {
	if m.Nick == "" {
		m.Nick = "*"
	}
	if m.User == "" {
		m.User = "*"
	}
	if m.Host == "" {
		m.Host = "*"
	}
	return m
}

// String renders the mask back to "nick!user@host" form.
func (m HostMask) String() string {
	var b strings.Builder
	b.WriteString(m.Nick)
	b.WriteByte('!')
	b.WriteString(m.User)
	b.WriteByte('@')
	b.WriteString(m.Host)
	return b.String()
}

// MatchesUser reports whether this mask (as a glob pattern per-component)
// matches the given nick/user/host triple under the given casemap. The
// caller is expected to try this against the real host, the displayed
// host, and any CIDR-normalized address in turn, per spec.md 4.4 ("any
// match counts").
func (m HostMask) MatchesUser(nick, user, host string, cm CaseMapping) bool {
	return GlobMatch(nick, m.Nick, &cm) &&
		GlobMatch(user, m.User, &cm) &&
		GlobMatch(host, m.Host, &cm)
}

// ExtBan is a parsed extended ban-list entry: "<letter-or-name>:<value>",
// optionally prefixed with '~' for inversion, per spec.md 4.4 and
// original_source/ircd/src/channels.cpp.
type ExtBan struct {
	Invert bool
	Name   string
	Value  string
}

// ParseExtBan attempts to parse s as an extban entry. ok is false if s
// does not have the "name:value" shape, in which case it should be
// treated as a plain nick!user@host mask instead.
func ParseExtBan(s string) (eb ExtBan, ok bool) {
	rest := s
	if strings.HasPrefix(rest, "~") {
		eb.Invert = true
		rest = rest[1:]
	}
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return ExtBan{}, false
	}
	eb.Name = rest[:colon]
	eb.Value = rest[colon+1:]
	if eb.Name == "" {
		return ExtBan{}, false
	}
	return eb, true
}

// ExtBanHandler evaluates one extban kind (e.g. "account", "realname")
// against a user. Registered handlers are consulted by Channel.Banned.
type ExtBanHandler func(value string, user *User, cm CaseMapping) bool

// extBanHandlers is the process-wide registry of extban kinds. Real
// deployments would load these from optional modules; the core ships the
// handful that need no external collaborator.
var extBanHandlers = map[string]ExtBanHandler{
	"account": func(value string, u *User, cm CaseMapping) bool {
		return u.Account() != "" && GlobMatch(u.Account(), value, &cm)
	},
	"realname": func(value string, u *User, cm CaseMapping) bool {
		return GlobMatch(u.Realname(), value, &cm)
	},
	"server": func(value string, u *User, cm CaseMapping) bool {
		return GlobMatch(u.ServerName(), value, &cm)
	},
}

// RegisterExtBan installs a handler for an extban kind. Intended for use
// by optional modules at load time (spec.md 1, "Optional features layered
// on top").
func RegisterExtBan(name string, handler ExtBanHandler) {
	extBanHandlers[name] = handler
}
