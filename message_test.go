package ircd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageRenderBuffer(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{
			name: "command message",
			msg: Message{
				Sender:  "irc.someserver.net",
				Command: CmdPrivMsg,
				Params:  []string{"nick1!someuser@irc.somehost.org"},
				Text:    "I am the server",
			},
			expected: ":irc.someserver.net PRIVMSG nick1!someuser@irc.somehost.org :I am the server\r\n",
		},
		{
			name: "numeric code message",
			msg: Message{
				Sender: "irc.someserver.net",
				Code:   ReplyWelcome,
				Params: []string{"nick1!someuser@irc.somehost.org"},
				Text:   "Welcome to the server",
			},
			expected: ":irc.someserver.net 001 nick1!someuser@irc.somehost.org :Welcome to the server\r\n",
		},
		{
			name: "no trailing",
			msg: Message{
				Sender:  "irc.someserver.net",
				Command: CmdJoin,
				Params:  []string{"#somechannel"},
			},
			expected: ":irc.someserver.net JOIN #somechannel\r\n",
		},
		{
			name: "empty trailing preserved via HasTrailing",
			msg: Message{
				Sender:      "nick1!someuser@irc.somehost.org",
				Command:     CmdPart,
				Params:      []string{"#somechannel"},
				HasTrailing: true,
			},
			expected: ":nick1!someuser@irc.somehost.org PART #somechannel :\r\n",
		},
		{
			name: "tags rendered",
			msg: Message{
				Tags:    map[string]string{"msgid": "abc123"},
				Sender:  "irc.someserver.net",
				Command: CmdPrivMsg,
				Params:  []string{"#somechannel"},
				Text:    "hi",
			},
			expected: "@msgid=abc123 :irc.someserver.net PRIVMSG #somechannel :hi\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.msg.RenderBuffer()
			assert.Equal(t, tt.expected, buf.String())
			bufpool.Recycle(buf)
		})
	}
}

func TestMessageStringMatchesRenderBuffer(t *testing.T) {
	msg := Message{Sender: "irc.someserver.net", Command: CmdPing, Text: "token"}
	assert.Equal(t, ":irc.someserver.net PING :token\r\n", msg.String())
}

func TestMessageScrub(t *testing.T) {
	msg := &Message{
		Tags:    map[string]string{"a": "b"},
		Sender:  "irc.someserver.org",
		Code:    ReplyWelcome,
		Command: CmdPrivMsg,
		Params:  []string{"somenick"},
		Text:    "I am the server.",
	}

	msg.Scrub()

	assert.Nil(t, msg.Tags)
	assert.Equal(t, "", msg.Sender)
	assert.Equal(t, uint16(0), msg.Code)
	assert.Equal(t, "", msg.Command)
	assert.Nil(t, msg.Params)
	assert.Equal(t, "", msg.Text)
	assert.False(t, msg.HasTrailing)
}

func TestMessageParamTruncation(t *testing.T) {
	params := make([]string, MaxMsgParams+2)
	for i := range params {
		params[i] = "p"
	}
	msg := Message{Sender: "irc.someserver.net", Command: CmdMode, Params: params}
	buf := msg.RenderBuffer()
	defer bufpool.Recycle(buf)

	rendered := strings.TrimSuffix(buf.String(), "\r\n")
	fields := strings.Fields(rendered)
	// sender token + command token + params (those past MaxMsgParams-1 are dropped)
	assert.LessOrEqual(t, len(fields)-2, MaxMsgParams-1)
}

func TestEscapeUnescapeTagValue(t *testing.T) {
	raw := "a;b c\r\n\\"
	escaped := escapeTagValue(raw)
	assert.Equal(t, raw, unescapeTagValue(escaped))
}
