/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

// Error is a workaround to allow for immutable error strings
// which satisfy the error interface.
type Error string

func (err Error) Error() string {
	return string(err)
}

func (err Error) String() string {
	return string(err)
}

// Parser/framing errors.
const (
	ErrMessageTooShort Error = "did not receive enough data from the client"
	ErrMessageTooLong  Error = "received data from the client is too long"
	ErrWhitespace      Error = "all whitespace"
	ErrPrefixed        Error = "prefixed message from client"
	ErrTooManyParams   Error = "too many parameters"
	ErrEmptyCommand    Error = "empty command token"
)

// Entity store errors (C3).
const (
	ErrDuplicateNick Error = "a user with that nickname is already registered"
	ErrDuplicateUID  Error = "a user with that uid is already registered"
	ErrInvalidNick   Error = "nickname does not satisfy the configured format"
	ErrNickInUse     Error = "nickname is already in use"
	ErrNoSuchUID     Error = "no such uid"
	ErrNoSuchNick    Error = "no such nick"
	ErrNoSuchChannel Error = "no such channel"
	ErrNoSuchServer  Error = "no such server"
	ErrDuplicateChan Error = "a channel with that name is already registered"
)

// Registration / session errors (C4).
const (
	ErrNotRegistered     Error = "you must register first"
	ErrAlreadyRegistered Error = "you have already registered"
	ErrNoNickGiven       Error = "no nickname given"
	ErrErroneousNick     Error = "erroneous nickname"
	ErrInvalidCapCmd     Error = "invalid CAP command"
)

// Channel / membership errors (C5).
const (
	ErrNotOnChannel       Error = "you are not on that channel"
	ErrUserNotInChannel   Error = "they aren't on that channel"
	ErrAlreadyOnChannel   Error = "is already on channel"
	ErrTooManyChannels    Error = "you have joined too many channels"
	ErrChannelFull        Error = "cannot join channel (it is full)"
	ErrInviteOnly         Error = "cannot join channel (invite only)"
	ErrBadChannelKey      Error = "cannot join channel (incorrect channel key)"
	ErrBanned             Error = "cannot join channel (you're banned)"
	ErrNotChanOp          Error = "you're not a channel operator"
	ErrChanOwnerRequired  Error = "you're not the channel owner"
	ErrNoSuchBan          Error = "no such ban mask"
	ErrBanListFull        Error = "channel ban/list is full"
	ErrDuplicateListEntry Error = "that mask is already on the list"
)

// Mode engine errors (C6).
const (
	ErrUnknownMode     Error = "unknown mode"
	ErrUnknownUserMode Error = "unknown user mode flag"
	ErrNeedMoreParams  Error = "missing parameters for mode change"
	ErrKeySet          Error = "channel key already set"
	ErrInvalidKey      Error = "channel key contains invalid characters"
	ErrInvalidLimit    Error = "channel limit must be a non-negative integer"
	ErrInsuffPerms     Error = "insufficient permissions to set that mode"
	ErrModeAlreadySet  Error = "mode is already set"
	ErrModeNotSet      Error = "mode is not set"
)

// Dispatcher / command errors (C7/C8).
const (
	ErrUnknownCommand    Error = "unknown command"
	ErrCommandRegistered Error = "a handler is already registered for that command"
	ErrNoOperHost        Error = "no oper blocks configured for your host"
	ErrPasswordMismatch  Error = "password incorrect"
	ErrNoPrivileges      Error = "permission denied - you do not have the required privilege"
	ErrRestricted        Error = "your connection is restricted"
	ErrCantKillServer    Error = "you can't kill a server"
	ErrYoureNotAnOper    Error = "you're not an irc operator"
	ErrNotImplemented    Error = "that command is not yet implemented"
)

// Socket/transport errors.
const (
	ErrServerClosed  Error = "ircd: server closed"
	ErrSendQExceeded Error = "sendq exceeded"
	ErrNoLogger      Error = "a logger must be configured before setting its level or formatter"
)
