package ircd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldRFC1459(t *testing.T) {
	assert.Equal(t, byte('a'), Fold(CaseMapRFC1459, 'A'))
	assert.Equal(t, byte('['), Fold(CaseMapRFC1459, '{'))
	assert.Equal(t, byte('~'), Fold(CaseMapRFC1459, '^'))
}

func TestFoldStrictRFC1459DoesNotFoldCaret(t *testing.T) {
	assert.Equal(t, byte('['), Fold(CaseMapStrictRFC1459, '{'))
	assert.Equal(t, byte('^'), Fold(CaseMapStrictRFC1459, '^'))
}

func TestFoldASCIIDoesNotFoldBraces(t *testing.T) {
	assert.Equal(t, byte('{'), Fold(CaseMapASCII, '{'))
	assert.Equal(t, byte('a'), Fold(CaseMapASCII, 'A'))
}

func TestFoldStringAndEqualFold(t *testing.T) {
	assert.Equal(t, "nick[one]", FoldString(CaseMapRFC1459, "NICK{ONE}"))
	assert.True(t, EqualFold(CaseMapRFC1459, "Nick^One", "nick~one"))
	assert.False(t, EqualFold(CaseMapRFC1459, "nick", "nickname"))
}

func TestEqualFoldPermissiveUnicode(t *testing.T) {
	assert.True(t, EqualFold(CaseMapPermissiveUnicode, "Straße", "straße"))
}

func TestIsValidNick(t *testing.T) {
	assert.True(t, IsValidNick("nick-1", 9))
	assert.True(t, IsValidNick("nick[bot]_", 12))
	assert.False(t, IsValidNick("[bot]_", 9))
	assert.False(t, IsValidNick("1nick", 9))
	assert.False(t, IsValidNick("", 9))
	assert.False(t, IsValidNick("waytoolongnickname", 9))
}

func TestIsValidChannel(t *testing.T) {
	assert.True(t, IsValidChannel("#test", "#&", 50))
	assert.False(t, IsValidChannel("test", "#&", 50))
	assert.False(t, IsValidChannel("#", "#&", 50))
	assert.False(t, IsValidChannel("#has space", "#&", 50))
}

func TestGlobMatch(t *testing.T) {
	assert.True(t, GlobMatch("nick!user@host.com", "*!*@host.com", nil))
	assert.True(t, GlobMatch("nick!user@host.com", "nick!?ser@*", nil))
	assert.False(t, GlobMatch("nick!user@host.com", "other!*@*", nil))
}

func TestGlobMatchCaseFolded(t *testing.T) {
	cm := CaseMapRFC1459
	assert.True(t, GlobMatch("NICK!user@HOST", "nick!*@host", &cm))
}

func TestCIDRMatch(t *testing.T) {
	assert.True(t, CIDRMatch("10.1.2.3", "10.0.0.0/8"))
	assert.False(t, CIDRMatch("11.1.2.3", "10.0.0.0/8"))
	assert.True(t, CIDRMatch("192.168.0.5", "192.168.0.5"))
	assert.False(t, CIDRMatch("not-an-ip", "10.0.0.0/8"))
}
