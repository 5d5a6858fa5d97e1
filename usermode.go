/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

// Usermode bitmasks.
const (
	UModeAway uint64 = 1 << iota
	UModeAdmin
	UModeBot
	UModeBanned
	UModeCensored
	UModeConnInfo
	UModeDeaf
	UModeDebug
	UModeFloodInfo
	UModeFloodImmune
	UModeGodmode
	UModeHiddenHost
	UModeHidden
	UModeInvisible
	UModeImmune
	UModeKeyMaster
	UModeMuted
	UModeHelpOp
	UModeNetOp
	UModeProtected
	UModeRegistered
	UModeSecured
	UModeThrottled
	UModeGlobalVoice
	UModeWhoisInfo
	UModeWatch
)

// UModeReq defines the required setter/target permission levels for a
// given user-mode bit.
type UModeReq struct {
	Setter uint8
	Target uint8
}

// UModeReqs maps each user-mode bit to its required setter/target
// permission levels.
var UModeReqs = map[uint64]UModeReq{
	UModeAway:        {UPermUser, UPermUser},
	UModeAdmin:       {UPermServer, UPermUser},
	UModeBot:         {UPermNetOp, UPermUser},
	UModeBanned:      {UPermNetOp, UPermNone},
	UModeCensored:    {UPermHelpOp, UPermUser},
	UModeConnInfo:    {UPermAdmin, UPermNetOp},
	UModeDeaf:        {UPermNetOp, UPermUser},
	UModeDebug:       {UPermAdmin, UPermNetOp},
	UModeFloodInfo:   {UPermNetOp, UPermHelpOp},
	UModeFloodImmune: {UPermNetOp, UPermUser},
	UModeGodmode:     {UPermServer, UPermAdmin},
	UModeHiddenHost:  {UPermHelpOp, UPermUser},
	UModeHidden:      {UPermNetOp, UPermHelpOp},
	UModeInvisible:   {UPermNetOp, UPermHelpOp},
	UModeImmune:      {UPermNetOp, UPermUser},
	UModeKeyMaster:   {UPermNetOp, UPermHelpOp},
	UModeMuted:       {UPermHelpOp, UPermUser},
	UModeHelpOp:      {UPermNetOp, UPermUser},
	UModeNetOp:       {UPermAdmin, UPermUser},
	UModeProtected:   {UPermNetOp, UPermUser},
	UModeRegistered:  {UPermServer, UPermUser},
	UModeSecured:     {UPermServer, UPermUser},
	UModeThrottled:   {UPermHelpOp, UPermUser},
	UModeWhoisInfo:   {UPermUser, UPermUser},
	UModeWatch:       {UPermNetOp, UPermHelpOp},
}

// userModeLetters maps each user-mode bit to its wire letter, for parsing
// and rendering MODE <nick> +/-<letters>.
var userModeLetters = map[byte]uint64{
	'a': UModeAdmin,
	'b': UModeBot,
	'B': UModeBanned,
	'c': UModeCensored,
	's': UModeConnInfo,
	'd': UModeDeaf,
	'D': UModeDebug,
	'F': UModeFloodInfo,
	'f': UModeFloodImmune,
	'g': UModeGodmode,
	'x': UModeHiddenHost,
	'h': UModeHidden,
	'i': UModeInvisible,
	'I': UModeImmune,
	'k': UModeKeyMaster,
	'm': UModeMuted,
	'O': UModeHelpOp,
	'o': UModeNetOp,
	'p': UModeProtected,
	'r': UModeRegistered,
	'z': UModeSecured,
	't': UModeThrottled,
	'G': UModeGlobalVoice,
	'W': UModeWatch,
	'y': UModeAway,
}

// userModeLetterOrder fixes a stable render order for RenderUserModes.
var userModeLetterOrder = []byte("aBbcdDfFgIhikmOoprsStWxyz")

// ParseUserModeChanges consumes a mode string ("+i-o") into an ordered
// list of (bit, add) pairs, mirroring ParseChanModeChanges' sign
// handling. Unknown letters are collected once each.
func ParseUserModeChanges(modeStr string) (changes []struct {
	Bit uint64
	Add bool
}, unknown []byte) {
	add := true
	seenUnknown := make(map[byte]bool)
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
		bit, ok := userModeLetters[c]
		if !ok {
			if !seenUnknown[c] {
				seenUnknown[c] = true
				unknown = append(unknown, c)
			}
			continue
		}
		changes = append(changes, struct {
			Bit uint64
			Add bool
		}{bit, add})
	}
	return changes, unknown
}

// RenderUserModes serializes a user's current mode bitmask into "+xyz"
// form for RPL_UMODEIS/the post-registration mode burst.
func RenderUserModes(u *User) string {
	mask := u.Mode()
	var b []byte
	b = append(b, '+')
	for _, letter := range userModeLetterOrder {
		if bit, ok := userModeLetters[letter]; ok && mask&bit == bit {
			b = append(b, letter)
		}
	}
	return string(b)
}

// SetUserMode sets umode on target, subject to the UModeReqs permission
// ladder. Returns ErrUnknownUserMode for an unrecognized bit,
// ErrInsuffPerms if setter lacks the required standing, or
// ErrModeAlreadySet if target already carries the mode.
func SetUserMode(umode uint64, setter, target *User, cm CaseMapping) error {
	reqs, exists := UModeReqs[umode]
	if !exists {
		return ErrUnknownUserMode
	}
	self := EqualFold(cm, setter.Nick(), target.Nick())
	ok := setter.Permission() >= reqs.Setter &&
		target.Permission() >= reqs.Target &&
		(setter.Permission() > target.Permission() || self)
	if !ok {
		return ErrInsuffPerms
	}
	if target.ModeIsSet(umode) {
		return ErrModeAlreadySet
	}
	target.AddMode(umode)
	return nil
}

// UnsetUserMode clears umode on target, subject to the same ladder as
// SetUserMode except the target-floor check is skipped (removing a mode
// never needs the target's permission to have reached a minimum).
func UnsetUserMode(umode uint64, setter, target *User, cm CaseMapping) error {
	reqs, exists := UModeReqs[umode]
	if !exists {
		return ErrUnknownUserMode
	}
	self := EqualFold(cm, setter.Nick(), target.Nick())
	if setter.Permission() < reqs.Setter ||
		(setter.Permission() <= target.Permission() && !self) {
		return ErrInsuffPerms
	}
	if !target.ModeIsSet(umode) {
		return ErrModeNotSet
	}
	target.DelMode(umode)
	return nil
}
