package ircd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHostMaskFull(t *testing.T) {
	m := ParseHostMask("nick!user@host.example.com")
	assert.Equal(t, HostMask{Nick: "nick", User: "user", Host: "host.example.com"}, m)
}

func TestParseHostMaskUserHostOnly(t *testing.T) {
	m := ParseHostMask("user@host.example.com")
	assert.Equal(t, HostMask{Nick: "*", User: "user", Host: "host.example.com"}, m)
}

func TestParseHostMaskNickOnly(t *testing.T) {
	m := ParseHostMask("justanick")
	assert.Equal(t, HostMask{Nick: "justanick", User: "*", Host: "*"}, m)
}

func TestParseHostMaskNickBangNoHost(t *testing.T) {
	m := ParseHostMask("nick!user")
	assert.Equal(t, HostMask{Nick: "nick", User: "user", Host: "*"}, m)
}

func TestHostMaskString(t *testing.T) {
	m := HostMask{Nick: "n", User: "u", Host: "h"}
	assert.Equal(t, "n!u@h", m.String())
}

func TestHostMaskMatchesUser(t *testing.T) {
	m := ParseHostMask("*!*@*.example.com")
	assert.True(t, m.MatchesUser("nick", "user", "host.example.com", CaseMapRFC1459))
	assert.False(t, m.MatchesUser("nick", "user", "host.other.com", CaseMapRFC1459))
}

func TestParseExtBan(t *testing.T) {
	eb, ok := ParseExtBan("account:somebody")
	assert.True(t, ok)
	assert.False(t, eb.Invert)
	assert.Equal(t, "account", eb.Name)
	assert.Equal(t, "somebody", eb.Value)
}

func TestParseExtBanInverted(t *testing.T) {
	eb, ok := ParseExtBan("~account:somebody")
	assert.True(t, ok)
	assert.True(t, eb.Invert)
}

func TestParseExtBanNotExtban(t *testing.T) {
	_, ok := ParseExtBan("*!*@host.com")
	assert.False(t, ok)
}

func TestExtBanHandlerAccount(t *testing.T) {
	u := NewUser("001AAAAAB", nil, MaxNickLength)
	u.setNickLocked("someone")

	handler := extBanHandlers["account"]
	assert.False(t, handler("somebody", u, CaseMapRFC1459))
}

func TestRegisterExtBan(t *testing.T) {
	RegisterExtBan("always-true-test", func(value string, u *User, cm CaseMapping) bool {
		return true
	})
	handler, ok := extBanHandlers["always-true-test"]
	assert.True(t, ok)
	assert.True(t, handler("", nil, CaseMapRFC1459))
}
