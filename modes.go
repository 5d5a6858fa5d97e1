/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"strings"
	"time"
)

// ModeKind classifies how a mode letter consumes parameters, per
// spec.md 4.5's change-list grammar.
type ModeKind uint8

const (
	KindNoParam    ModeKind = iota // never takes a parameter
	KindParamOnSet                 // takes a parameter only when adding
	KindParamAlways                // takes a parameter on both add and remove
	KindList                       // +b/+e/+I: takes a parameter, persists a list
	KindPrefix                     // +qaohv: takes a parameter (a nickname), ranks a member
)

// ModeChange is one entry of a parsed change list: a resolved handler
// plus whether it is being added or removed and its parameter, if any.
type ModeChange struct {
	Handler *ChanModeHandler
	Add     bool
	Param   string
}

// ChanModeHandler describes one channel mode letter: its shape, the
// prefix rank required to set/unset it, and whether members may remove
// it from themselves regardless of rank (spec.md 4.5, "self-deop").
type ChanModeHandler struct {
	Letter      byte
	Kind        ModeKind
	RankToSet   uint8
	RankToUnset uint8
	SelfRemove  bool
	Secret      bool // not read by RenderChanModes, which masks the +k value itself
	PrefixRank  uint8 // only meaningful for KindPrefix
}

// chanModeHandlers is the registry of channel mode letters the core
// ships. Optional modules would extend this at load time via
// RegisterChanMode (spec.md 1, "optional features layered on top").
var chanModeHandlers = map[byte]*ChanModeHandler{
	'n': {Letter: 'n', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},
	'm': {Letter: 'm', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},
	's': {Letter: 's', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},
	'p': {Letter: 'p', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},
	't': {Letter: 't', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},
	'i': {Letter: 'i', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},
	'O': {Letter: 'O', Kind: KindNoParam, RankToSet: RankAdmin, RankToUnset: RankAdmin},
	'r': {Letter: 'r', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},
	'C': {Letter: 'C', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},
	'c': {Letter: 'c', Kind: KindNoParam, RankToSet: RankOp, RankToUnset: RankOp},

	'k': {Letter: 'k', Kind: KindParamAlways, RankToSet: RankOp, RankToUnset: RankOp},
	'l': {Letter: 'l', Kind: KindParamOnSet, RankToSet: RankOp, RankToUnset: RankOp},

	'b': {Letter: 'b', Kind: KindList, RankToSet: RankHalfOp, RankToUnset: RankHalfOp},
	'e': {Letter: 'e', Kind: KindList, RankToSet: RankHalfOp, RankToUnset: RankHalfOp},
	'I': {Letter: 'I', Kind: KindList, RankToSet: RankHalfOp, RankToUnset: RankHalfOp},

	'q': {Letter: 'q', Kind: KindPrefix, RankToSet: RankFounder, RankToUnset: RankFounder, PrefixRank: RankFounder},
	'a': {Letter: 'a', Kind: KindPrefix, RankToSet: RankAdmin, RankToUnset: RankAdmin, PrefixRank: RankAdmin},
	'o': {Letter: 'o', Kind: KindPrefix, RankToSet: RankOp, RankToUnset: RankOp, PrefixRank: RankOp, SelfRemove: true},
	'h': {Letter: 'h', Kind: KindPrefix, RankToSet: RankOp, RankToUnset: RankOp, PrefixRank: RankHalfOp, SelfRemove: true},
	'v': {Letter: 'v', Kind: KindPrefix, RankToSet: RankHalfOp, RankToUnset: RankHalfOp, PrefixRank: RankVoice, SelfRemove: true},
}

// boolModeBit maps a KindNoParam letter to its Channel bitmask.
var boolModeBit = map[byte]uint64{
	'n': ChanModeNoExternal,
	'm': ChanModeModerated,
	's': ChanModeSecret,
	'p': ChanModePrivate,
	't': ChanModeTopicLock,
	'i': ChanModeInviteOnly,
	'O': ChanModeOperOnly,
	'r': ChanModeRegOnly,
	'C': ChanModeNoCTCP,
	'c': ChanModeStripColor,
}

// RegisterChanMode installs (or overrides) a channel mode letter.
func RegisterChanMode(h *ChanModeHandler) {
	chanModeHandlers[h.Letter] = h
}

// ParseChanModeChanges consumes a mode string ("+o-v") and its parameter
// vector into a change list, per spec.md 4.5. Unknown letters are
// reported via unknown (one entry per distinct letter). Parameters are
// consumed according to each handler's Kind and whether the change is
// an add or a remove.
func ParseChanModeChanges(modeStr string, params []string) (changes []ModeChange, unknown []byte) {
	add := true
	pi := 0
	seenUnknown := make(map[byte]bool)

	nextParam := func() (string, bool) {
		if pi >= len(params) {
			return "", false
		}
		p := params[pi]
		pi++
		return p, true
	}

	for i := 0; i < len(modeStr); i++ {
		c := modeStr[i]
		switch c {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}

		h, ok := chanModeHandlers[c]
		if !ok {
			if !seenUnknown[c] {
				seenUnknown[c] = true
				unknown = append(unknown, c)
			}
			continue
		}

		var param string
		takesParam := false
		switch h.Kind {
		case KindParamAlways, KindList, KindPrefix:
			takesParam = true
		case KindParamOnSet:
			takesParam = add
		}
		if takesParam {
			p, got := nextParam()
			if !got {
				continue
			}
			param = p
		}

		changes = append(changes, ModeChange{Handler: h, Add: add, Param: param})
	}

	return changes, unknown
}

// ApplyChanModeChange mutates channel (and, for prefix modes, a target
// membership) per one resolved change, enforcing the access checks from
// spec.md 4.5 step 2. actorRank is the rank of the user issuing the
// change; actorIsOper/actorHasOverride short-circuit the rank check for
// oper-only modes and channels/auspex holders respectively.
func ApplyChanModeChange(c *Channel, change ModeChange, actor *Membership, actorIsOper, actorHasOverride bool, maxList int, cm CaseMapping) error {
	h := change.Handler

	requiredRank := h.RankToSet
	if !change.Add {
		requiredRank = h.RankToUnset
	}

	selfTarget := h.Kind == KindPrefix && actor != nil &&
		EqualFold(cm, actor.User.Nick(), change.Param)

	if !actorHasOverride && !(h.Letter == 'O' && actorIsOper) {
		if actor == nil || actor.Rank < requiredRank {
			if !(h.Kind == KindPrefix && !change.Add && h.SelfRemove && selfTarget) {
				return ErrInsuffPerms
			}
		}
	}

	switch h.Kind {
	case KindNoParam:
		bit := boolModeBit[h.Letter]
		if change.Add {
			if c.ModeIsSet(bit) {
				return ErrModeAlreadySet
			}
			c.AddMode(bit)
		} else {
			if !c.ModeIsSet(bit) {
				return ErrModeNotSet
			}
			c.DelMode(bit)
		}

	case KindParamOnSet, KindParamAlways:
		switch h.Letter {
		case 'k':
			if change.Add {
				if strings.ContainsRune(change.Param, ',') {
					return ErrInvalidKey
				}
				key := change.Param
				if len(key) > MaxKeyLength {
					key = key[:MaxKeyLength]
				}
				if c.Key() != "" {
					return ErrKeySet
				}
				c.SetKey(key)
			} else {
				if c.Key() == "" {
					return ErrModeNotSet
				}
				if change.Param != "" && change.Param != c.Key() {
					return ErrKeySet
				}
				c.SetKey("")
			}
		case 'l':
			if change.Add {
				n, err := parsePositiveInt(change.Param)
				if err != nil {
					return ErrInvalidLimit
				}
				c.SetLimit(n)
			} else {
				c.SetLimit(0)
			}
		}

	case KindList:
		var ok bool
		switch h.Letter {
		case 'b':
			if change.Add {
				if len(c.Bans()) >= maxList {
					return ErrBanListFull
				}
				ok = c.AddBan(change.Param, actorName(actor))
			} else {
				ok = c.RemoveBan(change.Param)
			}
		case 'e':
			if change.Add {
				if len(c.Excepts()) >= maxList {
					return ErrBanListFull
				}
				ok = c.AddExcept(change.Param, actorName(actor))
			} else {
				ok = c.RemoveExcept(change.Param)
			}
		case 'I':
			if change.Add {
				if len(c.Invex()) >= maxList {
					return ErrBanListFull
				}
				ok = c.AddInvex(change.Param, actorName(actor))
			} else {
				ok = c.RemoveInvex(change.Param)
			}
		}
		if !ok {
			return ErrDuplicateListEntry
		}

	case KindPrefix:
		target, found := c.Find(FoldString(cm, change.Param))
		if !found {
			return ErrUserNotInChannel
		}
		if change.Add {
			if target.Rank >= h.PrefixRank {
				return ErrModeAlreadySet
			}
			target.Rank = h.PrefixRank
		} else {
			if target.Rank != h.PrefixRank {
				return ErrModeNotSet
			}
			target.Rank = RankNone
		}
	}

	return nil
}

func actorName(m *Membership) string {
	if m == nil {
		return "*"
	}
	return m.User.Hostmask()
}

func parsePositiveInt(s string) (int, error) {
	if s == "" {
		return 0, ErrInvalidLimit
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrInvalidLimit
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, nil
}

// ResolveLimitConflict implements spec.md 4.5's +l burst conflict rule:
// two servers asserting differing values for the same channel keep the
// assertion with the older TS, falling back to the larger value when the
// TS is exactly equal. It is part of the mode engine's conflict-resolution
// surface (spec.md 2, C6) but unused by the local MODE path: a client
// command is a single authoritative assertion, not a merge of two — it
// exists for the server-linking burst layer, which spec.md §1 puts out of
// scope, so nothing in this tree calls it yet.
func ResolveLimitConflict(currentVal int, currentTS time.Time, incomingVal int, incomingTS time.Time) int {
	switch {
	case currentTS.IsZero():
		return incomingVal
	case incomingTS.Equal(currentTS):
		if incomingVal > currentVal {
			return incomingVal
		}
		return currentVal
	case incomingTS.Before(currentTS):
		return incomingVal
	default:
		return currentVal
	}
}

// RenderChanModes serializes a channel's current mode state into the
// "+modes param..." form used by numerics and MODE replies, per
// spec.md 6. secretsVisible controls whether the channel key (+k) is
// shown or replaced with the literal "<key>"; other parameters are
// always shown.
func RenderChanModes(c *Channel, secretsVisible bool) (string, []string) {
	var letters strings.Builder
	var params []string

	letters.WriteByte('+')
	for _, l := range []byte("ntsmpiOrCc") {
		if bit, ok := boolModeBit[l]; ok && c.ModeIsSet(bit) {
			letters.WriteByte(l)
		}
	}
	if k := c.Key(); k != "" {
		letters.WriteByte('k')
		if secretsVisible {
			params = append(params, k)
		} else {
			params = append(params, "<key>")
		}
	}
	if n := c.Limit(); n > 0 {
		letters.WriteByte('l')
		params = append(params, itoa(n))
	}

	return letters.String(), params
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
