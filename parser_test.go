package ircd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParser(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected error
	}{
		{
			name:     "valid message",
			input:    "PRIVMSG nick1!someuser@irc.somehost.org :I am the client",
			expected: nil,
		},
		{
			name:     "command with no params",
			input:    "PING",
			expected: nil,
		},
		{
			name:     "too many parameters",
			input:    "PRIVMSG 1 2 3 4 5 6 7 8 9 10 11 12 13 14 15 16 :I am the client",
			expected: ErrTooManyParams,
		},
		{
			name:     "client prefixed",
			input:    ":prefix PRIVMSG nick1!someuser@irc.somehost.org :I am the client",
			expected: ErrPrefixed,
		},
		{
			name:     "empty",
			input:    "",
			expected: ErrMessageTooShort,
		},
		{
			name:     "too long",
			input:    strings.Repeat("a", MaxMsgLength+MaxTagsLength+1),
			expected: ErrMessageTooLong,
		},
		{
			name:     "all whitespace",
			input:    "   ",
			expected: ErrWhitespace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.Equal(t, tt.expected, err)
		})
	}
}

func TestParserTags(t *testing.T) {
	msg, err := Parse("@msgid=abc;+draft/reply=123 PRIVMSG #chan :hello")
	assert.NoError(t, err)
	assert.Equal(t, "abc", msg.Tags["msgid"])
	assert.Equal(t, "123", msg.Tags["+draft/reply"])
	assert.Equal(t, "PRIVMSG", msg.Command)
	assert.Equal(t, []string{"#chan"}, msg.Params)
	assert.Equal(t, "hello", msg.Text)
	assert.True(t, msg.HasTrailing)
}

func TestParserNoTrailing(t *testing.T) {
	msg, err := Parse("JOIN #chan")
	assert.NoError(t, err)
	assert.False(t, msg.HasTrailing)
	assert.Equal(t, "", msg.Text)
}

func TestParserEmptyTrailingPreserved(t *testing.T) {
	msg, err := Parse("TOPIC #chan :")
	assert.NoError(t, err)
	assert.True(t, msg.HasTrailing)
	assert.Equal(t, "", msg.Text)
}
