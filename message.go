/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btnmasher/util"
	"github.com/coredaemon/ircd/shared/itempool"
)

// Message represents an IRC protocol message, per spec.md 6:
//
//	line     := ['@' tags ' '] [':' source ' '] command {' ' middle} [' :' trailing] CRLF
//
// Command and Code are mutually exclusive render sources: Code, when
// non-zero, renders as a zero-padded three-digit numeric in place of
// Command.
type Message struct {
	Tags    map[string]string
	Sender  string
	Command string
	Code    uint16
	Params  []string
	Text    string
	// HasTrailing distinguishes "no trailing parameter" from "an empty
	// trailing parameter" so re-serialization round-trips per spec.md 8.
	HasTrailing bool
}

// String constants for constructing the message.
const (
	SPACE  string = " "
	CRLF          = "\r\n"
	COLON         = ":"
	EMPTY         = ""
	PADNUM        = "%03d"
)

// String returns the IRC-formatted string version of a message object.
func (msg *Message) String() string {
	return msg.RenderBuffer().String()
}

// RenderBuffer serializes the message into a pooled bytes.Buffer. The
// caller is responsible for recycling the buffer via bufpool.Recycle once
// it has been written out.
func (msg *Message) RenderBuffer() *bytes.Buffer {
	buffer := bufpool.New()

	if len(msg.Tags) > 0 {
		buffer.WriteString("@")
		first := true
		for k, v := range msg.Tags {
			if !first {
				buffer.WriteString(";")
			}
			first = false
			buffer.WriteString(k)
			if v != "" {
				buffer.WriteString("=")
				buffer.WriteString(escapeTagValue(v))
			}
		}
		buffer.WriteString(SPACE)
	}

	if msg.Sender != EMPTY {
		buffer.WriteString(COLON)
		buffer.WriteString(msg.Sender)
		buffer.WriteString(SPACE)
	}

	if msg.Code > 0 {
		buffer.WriteString(fmt.Sprintf(PADNUM, msg.Code))
	} else if msg.Command != EMPTY {
		buffer.WriteString(msg.Command)
	}

	params := msg.Params
	if len(params) > MaxMsgParams-1 {
		params = params[:MaxMsgParams-1]
	}

	if len(params) > 0 {
		buffer.WriteString(SPACE)
		buffer.WriteString(strings.Join(params, SPACE))
	}

	if msg.HasTrailing || msg.Text != EMPTY {
		buffer.WriteString(SPACE)
		buffer.WriteString(COLON)
		buffer.WriteString(msg.Text)
	}

	buffer.WriteString(CRLF)

	return buffer
}

func escapeTagValue(v string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		";", `\:`,
		" ", `\s`,
		"\r", `\r`,
		"\n", `\n`,
	)
	return r.Replace(v)
}

func unescapeTagValue(v string) string {
	r := strings.NewReplacer(
		`\:`, ";",
		`\s`, " ",
		`\r`, "\r",
		`\n`, "\n",
		`\\`, `\`,
	)
	return r.Replace(v)
}

// Scrub clears the message back to its zero value, for pool recycling.
// Satisfies shared/itempool.ScrubbableItem.
func (msg *Message) Scrub() {
	msg.Tags = nil
	msg.Code = 0
	msg.Command = ""
	msg.Sender = ""
	msg.Params = nil
	msg.Text = ""
	msg.HasTrailing = false
}

// msgPool is the process-wide Message object pool, built on the shared
// generic item pool so Message participates in the same warm-pool
// discipline as every other hot-path allocation in the daemon.
var msgPool = itempool.New[*Message](MessagePoolMax, func() *Message { return &Message{} })

// bufpool is the process-wide bytes.Buffer pool used by RenderBuffer.
var bufpool = util.NewBufferPool(BufferPoolMax)
