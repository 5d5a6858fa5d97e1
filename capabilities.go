/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import "strings"

// Capabilities holds the IRCv3 CAP negotiation state for one connection.
type Capabilities struct {
	AccountNotify   bool
	AccountTag      bool
	AwayNotify      bool
	Batch           bool
	CapNotify       bool
	ChgHost         bool
	EchoMessage     bool
	ExtendedJoin    bool
	InviteNotify    bool
	LabeledResponse bool
	MessageTags     bool
	Metadata        bool
	Monitor         bool
	MultiPrefix     bool
	Multiline       bool
	SASL            bool
	ServerTime      bool
	Setname         bool
	TLS             bool
	UserhostInNames bool
}

// SASL Types
const (
	SaslPlain uint8 = iota
	SaslLogin
	SaslExternal
	SaslGSSAPI
	SaslCramMD5
	SaslDigestMD5
	SaslScramSHA1
)

// capNames is the advertised set for CAP LS, in stable order.
var capNames = []string{
	"account-notify", "account-tag", "away-notify", "batch", "cap-notify",
	"chghost", "echo-message", "extended-join", "invite-notify",
	"labeled-response", "message-tags", "metadata", "monitor",
	"multi-prefix", "multiline", "sasl", "server-time", "setname",
	"userhost-in-names",
}

// applyCap sets the field on caps named by token, reporting whether the
// token was recognized.
func applyCap(caps *Capabilities, token string, enable bool) bool {
	switch token {
	case "account-notify":
		caps.AccountNotify = enable
	case "account-tag":
		caps.AccountTag = enable
	case "away-notify":
		caps.AwayNotify = enable
	case "batch":
		caps.Batch = enable
	case "cap-notify":
		caps.CapNotify = enable
	case "chghost":
		caps.ChgHost = enable
	case "echo-message":
		caps.EchoMessage = enable
	case "extended-join":
		caps.ExtendedJoin = enable
	case "invite-notify":
		caps.InviteNotify = enable
	case "labeled-response":
		caps.LabeledResponse = enable
	case "message-tags":
		caps.MessageTags = enable
	case "metadata":
		caps.Metadata = enable
	case "monitor":
		caps.Monitor = enable
	case "multi-prefix":
		caps.MultiPrefix = enable
	case "multiline":
		caps.Multiline = enable
	case "sasl":
		caps.SASL = enable
	case "server-time":
		caps.ServerTime = enable
	case "setname":
		caps.Setname = enable
	case "userhost-in-names":
		caps.UserhostInNames = enable
	default:
		return false
	}
	return true
}

// handleCapRequest applies a space-separated CAP REQ token list, returning
// whether every token was recognized (ACK) or not (NAK).
func handleCapRequest(caps *Capabilities, text string) (ok bool) {
	ok = true
	for _, tok := range strings.Fields(text) {
		enable := true
		if strings.HasPrefix(tok, "-") {
			enable = false
			tok = tok[1:]
		}
		if !applyCap(caps, tok, enable) {
			ok = false
		}
	}
	return ok
}
