/*
   Copyright (c) 2020, btnmasher
   All rights reserved.

   Redistribution and use in source and binary forms, with or without modification, are permitted provided that
   the following conditions are met:

   1. Redistributions of source code must retain the above copyright notice, this list of conditions and the
      following disclaimer.

   2. Redistributions in binary form must reproduce the above copyright notice, this list of conditions and
      the following disclaimer in the documentation and/or other materials provided with the distribution.

   3. Neither the name of the copyright holder nor the names of its contributors may be used to endorse or
      promote products derived from this software without specific prior written permission.

   THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED
   WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A
   PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR
   ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED
   TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
   HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
   NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
   POSSIBILITY OF SUCH DAMAGE.
*/

package ircd

import (
	"strconv"
	"strings"
	"time"

	"github.com/btnmasher/util"
)

func nickOrStar(conn *Conn) string {
	nick := conn.user.Nick()
	if len(nick) < 1 {
		return "*"
	}
	return nick
}

// replyLines splits a set of tokens across as many lines as needed to
// stay under MaxMsgLength, per spec.md 6's line-budget rule, writing the
// same Code/leading Params with the chunk folded into Text.
func (conn *Conn) replyLines(code uint16, params []string, tokens []string, sep string) {
	temp := conn.newMessage()
	temp.Code = code
	temp.Params = params
	budget := MaxMsgLength - len(temp.String())
	msgPool.Recycle(temp)

	for _, line := range util.ChunkJoinStrings(tokens, budget, sep) {
		msg := conn.newMessage()
		msg.Code = code
		msg.Params = params
		msg.Text = line
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}
}

// ReplyWelcome sends the RPL_WELCOME/YOURHOST/CREATED/MYINFO burst that
// completes registration, per spec.md 4.3.
func (conn *Conn) ReplyWelcome() {
	cfg := conn.server.Config()
	nick := conn.user.Nick()

	welcome := conn.newMessage()
	welcome.Code = ReplyWelcome
	welcome.Params = []string{nick}
	welcome.Text = "Welcome to " + cfg.Network + ", " + conn.user.Hostmask()
	conn.Write(welcome.RenderBuffer())
	msgPool.Recycle(welcome)

	yourhost := conn.newMessage()
	yourhost.Code = ReplyYourHost
	yourhost.Params = []string{nick}
	yourhost.Text = "Your host is " + conn.server.Hostname() + ", running ircd"
	conn.Write(yourhost.RenderBuffer())
	msgPool.Recycle(yourhost)

	created := conn.newMessage()
	created.Code = ReplyCreated
	created.Params = []string{nick}
	created.Text = "This server was started some time ago"
	conn.Write(created.RenderBuffer())
	msgPool.Recycle(created)

	myinfo := conn.newMessage()
	myinfo.Code = ReplyMyInfo
	myinfo.Params = []string{nick, conn.server.Hostname(), "ircd-1.0", "ioOrCcw", "beIqaohv"}
	conn.Write(myinfo.RenderBuffer())
	msgPool.Recycle(myinfo)
}

// ReplyISupport renders the server's current RPL_ISUPPORT tokens,
// folding them across as many lines as the wire budget demands.
func (conn *Conn) ReplyISupport() {
	params := []string{conn.user.Nick()}
	conn.replyLines(ReplyISupport, params, conn.server.ISupport(), SPACE)

	tail := conn.newMessage()
	tail.Code = ReplyISupport
	tail.Params = params
	tail.Text = "are supported by this server"
	conn.Write(tail.RenderBuffer())
	msgPool.Recycle(tail)
}

// ReplyMOTD sends the configured message of the day, or RPL_NOMOTD if
// none is configured.
func (conn *Conn) ReplyMOTD() {
	cfg := conn.server.Config()
	nick := conn.user.Nick()

	if len(cfg.MOTD) == 0 {
		msg := conn.newMessage()
		msg.Code = ReplyNoMOTD
		msg.Params = []string{nick}
		msg.Text = "MOTD File is missing"
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
		return
	}

	start := conn.newMessage()
	start.Code = ReplyMOTDStart
	start.Params = []string{nick}
	start.Text = "- " + conn.server.Hostname() + " Message of the day -"
	conn.Write(start.RenderBuffer())
	msgPool.Recycle(start)

	for _, line := range cfg.MOTD {
		msg := conn.newMessage()
		msg.Code = ReplyMOTD
		msg.Params = []string{nick}
		msg.Text = "- " + line
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}

	end := conn.newMessage()
	end.Code = ReplyEndOFMOTD
	end.Params = []string{nick}
	end.Text = "End of MOTD command"
	conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

// ReplyChannelNames sends RPL_NAMREPLY/RPL_ENDOFNAMES for a channel the
// user can see into.
func (conn *Conn) ReplyChannelNames(channel *Channel) {
	nick := conn.user.Nick()
	sigil := "="
	if channel.ModeIsSet(ChanModeSecret) {
		sigil = "@"
	} else if channel.ModeIsSet(ChanModePrivate) {
		sigil = "*"
	}
	params := []string{nick, sigil, channel.Name()}
	conn.replyLines(ReplyNames, params, channel.Names(), SPACE)

	end := conn.newMessage()
	end.Code = ReplyEndOfNames
	end.Params = []string{nick, channel.Name()}
	end.Text = "End of NAMES list"
	conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

// ReplyChannelTopic sends either RPL_TOPIC or RPL_NOTOPIC, depending on
// whether a topic is currently set.
func (conn *Conn) ReplyChannelTopic(channel *Channel) {
	text, setter, set := channel.Topic()
	nick := conn.user.Nick()

	if text == "" {
		msg := conn.newMessage()
		msg.Code = ReplyNoTopic
		msg.Params = []string{nick, channel.Name()}
		msg.Text = "No topic is set"
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
		return
	}

	msg := conn.newMessage()
	msg.Code = ReplyChanTopic
	msg.Params = []string{nick, channel.Name()}
	msg.Text = text
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)

	if setter != "" {
		who := conn.newMessage()
		who.Code = 333
		who.Params = []string{nick, channel.Name(), setter, strconv.FormatInt(set.Unix(), 10)}
		conn.Write(who.RenderBuffer())
		msgPool.Recycle(who)
	}
}

// ReplyChannelModeIs sends RPL_CHANNELMODEIS for the current mode state.
func (conn *Conn) ReplyChannelModeIs(channel *Channel) {
	letters, params := RenderChanModes(channel, false)
	msg := conn.newMessage()
	msg.Code = ReplyChannelModeIs
	msg.Params = append([]string{conn.user.Nick(), channel.Name(), letters}, params...)
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func (conn *Conn) replyList(code uint16, endCode uint16, chanName string, entries []*ListEntry, endText string) {
	nick := conn.user.Nick()
	for _, e := range entries {
		msg := conn.newMessage()
		msg.Code = code
		msg.Params = []string{nick, chanName, e.Mask, e.Setter}
		msg.Text = strconv.FormatInt(e.Set.Unix(), 10)
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}
	end := conn.newMessage()
	end.Code = endCode
	end.Params = []string{nick, chanName}
	end.Text = endText
	conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

// ReplyBanList sends RPL_BANLIST/RPL_ENDOFBANLIST.
func (conn *Conn) ReplyBanList(channel *Channel) {
	conn.replyList(ReplyBanList, ReplyEndOfBanList, channel.Name(), channel.Bans(), "End of Channel Ban List")
}

// ReplyExceptList sends RPL_EXCEPTLIST/RPL_ENDOFEXCEPTLIST.
func (conn *Conn) ReplyExceptList(channel *Channel) {
	conn.replyList(ReplyExceptList, ReplyEndOfExceptList, channel.Name(), channel.Excepts(), "End of Channel Exception List")
}

// ReplyInviteList sends RPL_INVITELIST/RPL_ENDOFINVITELIST.
func (conn *Conn) ReplyInviteList(channel *Channel) {
	conn.replyList(ReplyInviteList, ReplyEndOfInviteList, channel.Name(), channel.Invex(), "End of Channel Invite List")
}

// ReplyYoureOper sends RPL_YOUREOPER after a successful OPER command.
func (conn *Conn) ReplyYoureOper() {
	msg := conn.newMessage()
	msg.Code = ReplyYoureOper
	msg.Params = []string{conn.user.Nick()}
	msg.Text = "You are now an IRC operator"
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

// ReplyRehashing acknowledges a REHASH request.
func (conn *Conn) ReplyRehashing() {
	msg := conn.newMessage()
	msg.Code = ReplyRehashing
	msg.Params = []string{conn.user.Nick()}
	msg.Text = "Rehashing"
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

// ReplyInviting acknowledges a successful INVITE.
func (conn *Conn) ReplyInviting(target, channel string) {
	msg := conn.newMessage()
	msg.Code = ReplyInviting
	msg.Params = []string{conn.user.Nick(), target, channel}
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

// --- Error replies. Each mirrors one named Error from errors.go. ---

func (conn *Conn) replyErr(code uint16, params []string, errText string) {
	msg := conn.newMessage()
	msg.Code = code
	msg.Params = params
	msg.Text = errText
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func (conn *Conn) ReplyUnknownCommand(cmd string) {
	conn.replyErr(ReplyUnknownCommand, []string{nickOrStar(conn), cmd}, ErrUnknownCommand.Error())
}

func (conn *Conn) ReplyNotRegistered() {
	conn.replyErr(ReplyNotRegistered, []string{nickOrStar(conn)}, ErrNotRegistered.Error())
}

func (conn *Conn) ReplyAlreadyRegistered() {
	conn.replyErr(ReplyAlreadyRegistered, []string{nickOrStar(conn)}, ErrAlreadyRegistered.Error())
}

func (conn *Conn) ReplyNoPrivileges() {
	conn.replyErr(ReplyNoPrivileges, []string{nickOrStar(conn)}, ErrNoPrivileges.Error())
}

func (conn *Conn) ReplyNeedMoreParams(cmd string) {
	conn.replyErr(ReplyNeedMoreParams, []string{nickOrStar(conn), cmd}, ErrNeedMoreParams.Error())
}

func (conn *Conn) ReplyNoNicknameGiven() {
	conn.replyErr(ReplyNoNicknameGiven, []string{nickOrStar(conn)}, ErrNoNickGiven.Error())
}

func (conn *Conn) ReplyErroneousNickname(nick string) {
	conn.replyErr(ReplyErroneusNickname, []string{nickOrStar(conn), nick}, ErrErroneousNick.Error())
}

func (conn *Conn) ReplyNicknameInUse(nick string) {
	conn.replyErr(ReplyNicknameInUse, []string{nickOrStar(conn), nick}, ErrNickInUse.Error())
}

func (conn *Conn) ReplyNoSuchNick(nick string) {
	conn.replyErr(ReplyNoSuchNick, []string{conn.user.Nick(), nick}, ErrNoSuchNick.Error())
}

func (conn *Conn) ReplyNoSuchChannel(channel string) {
	conn.replyErr(ReplyNoSuchChannel, []string{conn.user.Nick(), channel}, ErrNoSuchChannel.Error())
}

func (conn *Conn) ReplyNoSuchServer(name string) {
	conn.replyErr(ReplyNoSuchServer, []string{conn.user.Nick(), name}, ErrNoSuchServer.Error())
}

func (conn *Conn) ReplyNotOnChannel(channel string) {
	conn.replyErr(ReplyNotOnChannel, []string{conn.user.Nick(), channel}, ErrNotOnChannel.Error())
}

func (conn *Conn) ReplyUserNotInChannel(nick, channel string) {
	conn.replyErr(ReplyUserNotInChannel, []string{conn.user.Nick(), nick, channel}, ErrUserNotInChannel.Error())
}

func (conn *Conn) ReplyUserOnChannel(nick, channel string) {
	conn.replyErr(ReplyUserOnChannel, []string{conn.user.Nick(), nick, channel}, ErrAlreadyOnChannel.Error())
}

func (conn *Conn) ReplyTooManyChannels(channel string) {
	conn.replyErr(ReplyTooManyChannels, []string{conn.user.Nick(), channel}, ErrTooManyChannels.Error())
}

func (conn *Conn) ReplyChannelIsFull(channel string) {
	conn.replyErr(ReplyChannelIsFull, []string{conn.user.Nick(), channel}, ErrChannelFull.Error())
}

func (conn *Conn) ReplyInviteOnlyChan(channel string) {
	conn.replyErr(ReplyInviteOnlyChan, []string{conn.user.Nick(), channel}, ErrInviteOnly.Error())
}

func (conn *Conn) ReplyBannedFromChan(channel string) {
	conn.replyErr(ReplyBannedFromChan, []string{conn.user.Nick(), channel}, ErrBanned.Error())
}

func (conn *Conn) ReplyBadChannelKey(channel string) {
	conn.replyErr(ReplyBadChannelPass, []string{conn.user.Nick(), channel}, ErrBadChannelKey.Error())
}

func (conn *Conn) ReplyChanOpPrivsNeeded(channel string) {
	conn.replyErr(ReplyChanOpPrivsNeeded, []string{conn.user.Nick(), channel}, ErrNotChanOp.Error())
}

func (conn *Conn) ReplyUnknownMode(letter byte) {
	conn.replyErr(ReplyUnknownMode, []string{conn.user.Nick(), string(letter)}, ErrUnknownMode.Error())
}

func (conn *Conn) ReplyUnknownUserMode(letter byte) {
	conn.replyErr(ReplyUnknownUserMode, []string{conn.user.Nick(), string(letter)}, ErrUnknownUserMode.Error())
}

func (conn *Conn) ReplyNoOperHost() {
	conn.replyErr(ReplyNoOperHost, []string{conn.user.Nick()}, ErrNoOperHost.Error())
}

func (conn *Conn) ReplyPasswordMismatch() {
	conn.replyErr(ReplyPasswordMistmatch, []string{conn.user.Nick()}, ErrPasswordMismatch.Error())
}

func (conn *Conn) ReplyCantKillServer() {
	conn.replyErr(ReplyCantKillServer, []string{conn.user.Nick()}, ErrCantKillServer.Error())
}

func (conn *Conn) ReplyUsersDontMatch() {
	conn.replyErr(ReplyUsersDontMatch, []string{conn.user.Nick()}, "Cannot change mode for other users")
}

func (conn *Conn) ReplyInvalidCapCommand(cmd string) {
	params := []string{nickOrStar(conn)}
	if cmd != "" {
		params = append(params, cmd)
	}
	conn.replyErr(ReplyInvalidCapCmd, params, ErrInvalidCapCmd.Error())
}

func (conn *Conn) ReplyNotImplemented(cmd string) {
	conn.replyErr(ReplyUnknownCommand, []string{conn.user.Nick(), cmd}, ErrNotImplemented.Error())
}

// ReplyWhois sends the RPL_WHOISUSER/.../RPL_ENDOFWHOIS burst for one
// target user.
func (conn *Conn) ReplyWhois(target *User) {
	nick := conn.user.Nick()
	tnick := target.Nick()

	user := conn.newMessage()
	user.Code = ReplyWhoisUser
	user.Params = []string{nick, tnick, target.Name(), target.DisplayHost(), "*"}
	user.Text = target.Realname()
	conn.Write(user.RenderBuffer())
	msgPool.Recycle(user)

	srv := conn.newMessage()
	srv.Code = ReplyWhoisServer
	srv.Params = []string{nick, tnick, target.ServerName()}
	srv.Text = conn.server.Config().Network
	conn.Write(srv.RenderBuffer())
	msgPool.Recycle(srv)

	if target.IsOper() {
		op := conn.newMessage()
		op.Code = ReplyWhoisOperator
		op.Params = []string{nick, tnick}
		op.Text = "is an IRC operator"
		conn.Write(op.RenderBuffer())
		msgPool.Recycle(op)
	}

	idle := conn.newMessage()
	idle.Code = ReplyWhoisIdle
	idle.Params = []string{nick, tnick, strconv.FormatInt(int64(time.Since(target.IdleTime()).Seconds()), 10)}
	idle.Text = "seconds idle"
	conn.Write(idle.RenderBuffer())
	msgPool.Recycle(idle)

	end := conn.newMessage()
	end.Code = ReplyEndOfWhois
	end.Params = []string{nick, tnick}
	end.Text = "End of WHOIS list"
	conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

// ReplyIsOn sends RPL_ISON with the subset of requested nicks that are
// currently online.
func (conn *Conn) ReplyIsOn(online []string) {
	msg := conn.newMessage()
	msg.Code = ReplyIsOn
	msg.Params = []string{conn.user.Nick()}
	msg.Text = strings.Join(online, SPACE)
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

// ReplyUserhost sends RPL_USERHOST with every given entry on one line;
// the number of entries is not capped.
func (conn *Conn) ReplyUserhost(entries []string) {
	msg := conn.newMessage()
	msg.Code = ReplyUserHost
	msg.Params = []string{conn.user.Nick()}
	msg.Text = strings.Join(entries, SPACE)
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

// ReplyVersion sends RPL_VERSION.
func (conn *Conn) ReplyVersion() {
	msg := conn.newMessage()
	msg.Code = ReplyVersion
	msg.Params = []string{conn.user.Nick(), "ircd-1.0", conn.server.Hostname()}
	msg.Text = "https://github.com/coredaemon/ircd"
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

// ReplyList sends one RPL_LIST line for a channel.
func (conn *Conn) ReplyList(channel *Channel) {
	text, _, _ := channel.Topic()
	msg := conn.newMessage()
	msg.Code = ReplyList
	msg.Params = []string{conn.user.Nick(), channel.Name(), strconv.Itoa(channel.MemberCount())}
	msg.Text = text
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

// ReplyListEnd sends RPL_LISTEND.
func (conn *Conn) ReplyListEnd() {
	msg := conn.newMessage()
	msg.Code = ReplyEndOfList
	msg.Params = []string{conn.user.Nick()}
	msg.Text = "End of LIST"
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}
