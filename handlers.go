/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"crypto/subtle"
	"strings"
)

// registerCoreCommands installs the core RFC1459/2812/IRCv3 command set
// into r. Anything beyond this is installed the same way by whatever
// optional module wants it, at load time.
func registerCoreCommands(r *Router) {
	must := func(spec CommandSpec) {
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}

	must(CommandSpec{
		Name: CmdCap, MinParams: 1, MaxParams: 2,
		WorksBeforeRegistration: true,
		LoopParamIndex:          -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleCap},
	})
	must(CommandSpec{
		Name: CmdPass, MinParams: 1, MaxParams: 1,
		WorksBeforeRegistration: true,
		LoopParamIndex:          -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handlePass},
	})
	must(CommandSpec{
		Name: CmdNick, MinParams: 1, MaxParams: 1,
		WorksBeforeRegistration: true,
		Penalty:                 DefaultPenalty,
		LoopParamIndex:          -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleNick},
	})
	must(CommandSpec{
		Name: CmdUser, MinParams: 4, MaxParams: 4,
		WorksBeforeRegistration: true,
		LoopParamIndex:          -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleUser},
	})
	must(CommandSpec{
		Name: CmdPing, MinParams: 1, MaxParams: 1,
		WorksBeforeRegistration: true,
		LoopParamIndex:          -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handlePing},
	})
	must(CommandSpec{
		Name: CmdPong, MinParams: 0, MaxParams: 1, AllowEmptyLastParam: true,
		WorksBeforeRegistration: true,
		LoopParamIndex:          -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handlePong},
	})
	must(CommandSpec{
		Name: CmdQuit, MinParams: 0, MaxParams: 1, AllowEmptyLastParam: true,
		WorksBeforeRegistration: true,
		LoopParamIndex:          -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleQuit},
	})
	must(CommandSpec{
		Name: CmdJoin, MinParams: 1, MaxParams: 2,
		LoopParamIndex: 0, PairedParamIndex: 1,
		Penalty:  DefaultPenalty,
		Handlers: HandlersChain{handleJoin},
	})
	must(CommandSpec{
		Name: CmdPart, MinParams: 1, MaxParams: 1, AllowEmptyLastParam: true,
		LoopParamIndex: 0, PairedParamIndex: -1,
		Penalty:        DefaultPenalty,
		Handlers:       HandlersChain{handlePart},
	})
	must(CommandSpec{
		Name: CmdNames, MinParams: 0, MaxParams: 1,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleNames},
	})
	must(CommandSpec{
		Name: CmdTopic, MinParams: 1, MaxParams: 1, AllowEmptyLastParam: true,
		Penalty:        DefaultPenalty,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleTopic},
	})
	must(CommandSpec{
		Name: CmdKick, MinParams: 2, MaxParams: 2, AllowEmptyLastParam: true,
		Penalty:        DefaultPenalty,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleKick},
	})
	must(CommandSpec{
		Name: CmdInvite, MinParams: 2, MaxParams: 2,
		Penalty:        DefaultPenalty,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleInvite},
	})
	must(CommandSpec{
		Name: CmdMode, MinParams: 1, MaxParams: 0,
		Penalty:        DefaultPenalty,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleMode},
	})
	must(CommandSpec{
		Name: CmdPrivMsg, MinParams: 2, MaxParams: 1, AllowEmptyLastParam: true,
		Penalty:        DefaultPenalty,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handlePrivMsg},
	})
	must(CommandSpec{
		Name: CmdNotice, MinParams: 2, MaxParams: 1, AllowEmptyLastParam: true,
		Penalty:        DefaultPenalty,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleNotice},
	})
	must(CommandSpec{
		Name: CmdKill, MinParams: 1, MaxParams: 1, AllowEmptyLastParam: true,
		Access:         AccessOperator,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleKill},
	})
	must(CommandSpec{
		Name: CmdOper, MinParams: 2, MaxParams: 2,
		Penalty:        DefaultPenalty,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleOper},
	})
	must(CommandSpec{
		Name: CmdRehash, MinParams: 0, MaxParams: 0,
		Access:         AccessOperator,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleRehash},
	})
	must(CommandSpec{
		Name: CmdRestart, MinParams: 0, MaxParams: 0,
		Access:         AccessOperator,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleRestart},
	})
	must(CommandSpec{
		Name: CmdDie, MinParams: 0, MaxParams: 0,
		Access:         AccessOperator,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleDie},
	})
	must(CommandSpec{
		Name: CmdAway, MinParams: 0, MaxParams: 1, AllowEmptyLastParam: true,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleAway},
	})
	must(CommandSpec{
		Name: CmdIson, MinParams: 1, MaxParams: 0,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleIson},
	})
	must(CommandSpec{
		Name: CmdUserhost, MinParams: 1, MaxParams: 0,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleUserhost},
	})
	must(CommandSpec{
		Name: CmdWhois, MinParams: 1, MaxParams: 1,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleWhois},
	})
	must(CommandSpec{
		Name: CmdWho, MinParams: 0, MaxParams: 1,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleWho},
	})
	must(CommandSpec{
		Name: CmdMotd, MinParams: 0, MaxParams: 0,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleMotd},
	})
	must(CommandSpec{
		Name: CmdVersion, MinParams: 0, MaxParams: 0,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleVersion},
	})
	must(CommandSpec{
		Name: CmdList, MinParams: 0, MaxParams: 1,
		LoopParamIndex: -1, PairedParamIndex: -1,
		Handlers: HandlersChain{handleList},
	})
}

// completeRegistration finishes registration once NICK and USER have
// both landed: check the connect password, insert into the entity
// store, latch FULLY_CONNECTED, fire the registration hook, and send
// the welcome burst.
func completeRegistration(conn *Conn) {
	user := conn.user
	if user.Nick() == "" || user.Name() == "" || user.FullyConnected() {
		return
	}
	if conn.capRequested && !conn.capNegotiated {
		return
	}

	cfg := conn.server.Config()
	if cfg.ConnectPassword != "" && conn.pass != cfg.ConnectPassword {
		conn.ReplyPasswordMismatch()
		conn.doQuit("Bad password.")
		return
	}

	if conn.server.hooks.Fire(EventUserPreRegister, user) == Deny {
		conn.doQuit("Registration denied.")
		return
	}

	if err := conn.server.store.InsertUser(user); err != nil {
		conn.ReplyNicknameInUse(user.Nick())
		conn.doQuit("Nickname taken.")
		return
	}

	user.MarkFullyConnected()
	conn.server.hooks.FireAll(EventUserRegister, user)
	conn.ReplyWelcome()
	conn.ReplyISupport()
	conn.ReplyMOTD()
}

func handleCap(ctx *MessageContext) {
	conn := ctx.Conn
	sub := strings.ToUpper(ctx.Msg.Params[0])

	switch sub {
	case "LS":
		msg := conn.newMessage()
		msg.Command = CmdCap
		msg.Params = []string{nickOrStar(conn), "LS"}
		msg.Text = strings.Join(capNames, " ")
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)

	case "LIST":
		msg := conn.newMessage()
		msg.Command = CmdCap
		msg.Params = []string{nickOrStar(conn), "LIST"}
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)

	case "REQ":
		ok := handleCapRequest(conn.capabilities, ctx.Msg.Text)
		reply := "NAK"
		if ok {
			conn.capRequested = true
			reply = "ACK"
		}
		msg := conn.newMessage()
		msg.Command = CmdCap
		msg.Params = []string{nickOrStar(conn), reply}
		msg.Text = ctx.Msg.Text
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)

	case "END":
		conn.capNegotiated = true
		completeRegistration(conn)

	default:
		conn.ReplyInvalidCapCommand(sub)
	}
}

func handlePass(ctx *MessageContext) {
	if ctx.Conn.user.FullyConnected() {
		ctx.Conn.ReplyAlreadyRegistered()
		return
	}
	ctx.Conn.pass = ctx.Msg.Params[0]
}

func handleNick(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()
	newNick := ctx.Msg.Params[0]

	if !IsValidNick(newNick, cfg.NickMax) {
		conn.ReplyErroneousNickname(newNick)
		return
	}

	if conn.server.hooks.Fire(EventPreNick, user) == Deny {
		return
	}

	if user.Nick() == "" {
		if _, exists := conn.server.store.FindUserByNick(newNick); exists {
			conn.ReplyNicknameInUse(newNick)
			return
		}
		user.setNickLocked(newNick)
		completeRegistration(conn)
		return
	}

	oldMask := user.Hostmask()
	if err := conn.server.store.RenameUser(user, newNick); err != nil {
		switch err {
		case ErrNickInUse:
			conn.ReplyNicknameInUse(newNick)
		default:
			conn.ReplyErroneousNickname(newNick)
		}
		return
	}

	msg := msgPool.New()
	msg.Sender = oldMask
	msg.Command = CmdNick
	msg.Text = newNick
	announced := make(map[string]bool)
	user.EachMembership(func(m *Membership) {
		key := FoldString(cfg.CaseMap, m.Channel.Name())
		if !announced[key] {
			m.Channel.Broadcast(msg, RankNone, nil, cfg.CaseMap)
			announced[key] = true
		}
	})
	msgPool.Recycle(msg)

	conn.server.hooks.FireAll(EventPostNick, user)
}

func handleUser(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user

	if user.FullyConnected() {
		conn.ReplyAlreadyRegistered()
		return
	}

	user.SetName(ctx.Msg.Params[0])
	user.SetRealname(ctx.Msg.Text)
	completeRegistration(conn)
}

func handlePing(ctx *MessageContext) {
	msg := ctx.Conn.newMessage()
	msg.Command = CmdPong
	msg.Params = []string{ctx.Conn.server.Hostname()}
	msg.Text = ctx.Msg.Params[0]
	ctx.Conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func handlePong(ctx *MessageContext) {
	token := ctx.Msg.Text
	if token == "" && len(ctx.Msg.Params) > 0 {
		token = ctx.Msg.Params[0]
	}
	ctx.Conn.ReceivePong(token)
}

func handleQuit(ctx *MessageContext) {
	reason := ctx.Msg.Text
	if reason == "" {
		reason = "Client Quit"
	}
	ctx.Conn.doQuit(reason)
	ctx.Handled()
}

// joinCheck is the payload fired through the EventCheckBan/Key/Limit/Invite
// hook points from attemptJoin, letting an optional module override the
// built-in verdict on a per-join basis.
type joinCheck struct {
	Channel *Channel
	User    *User
	Key     string
}

// keysMatch compares a join attempt's key against the channel key in
// constant time, the same discipline operator.go uses for OPER passwords.
func keysMatch(chanKey, attempt string) bool {
	if len(chanKey) != len(attempt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(chanKey), []byte(attempt)) == 1
}

func invexMatches(channel *Channel, user *User, cm CaseMapping) bool {
	for _, e := range channel.Invex() {
		m := ParseHostMask(e.Mask)
		if m.MatchesUser(user.Nick(), user.Name(), user.DisplayHost(), cm) {
			return true
		}
	}
	return false
}

// attemptJoin evaluates every channel-entry precondition, letting a hook
// listener override a default verdict: Deny always rejects that check,
// Allow always bypasses it, Passthru defers to the built-in logic.
func attemptJoin(hooks *HookBus, channel *Channel, user *User, foldedNick, key string, cfg *Config) error {
	if _, already := channel.Find(foldedNick); already {
		return nil
	}
	limit := cfg.MaxJoinedChannels
	if oper := user.Oper(); oper != nil && oper.MaxChans > 0 {
		limit = oper.MaxChans
	}
	if user.ChannelCount() >= limit {
		return ErrTooManyChannels
	}

	check := &joinCheck{Channel: channel, User: user, Key: key}

	banned := channel.Banned(user, cfg.CaseMap)
	if v := hooks.Fire(EventCheckBan, check); v == Deny || (banned && v != Allow) {
		return ErrBanned
	}

	if channel.ModeIsSet(ChanModeInviteOnly) {
		invited := channel.Invited(foldedNick) || invexMatches(channel, user, cfg.CaseMap)
		if v := hooks.Fire(EventCheckInvite, check); v == Deny || (!invited && v != Allow) {
			return ErrInviteOnly
		}
	}

	if ck := channel.Key(); ck != "" {
		if v := hooks.Fire(EventCheckKey, check); v == Deny || (!keysMatch(ck, key) && v != Allow) {
			return ErrBadChannelKey
		}
	}

	if limit := channel.Limit(); limit > 0 {
		if v := hooks.Fire(EventCheckLimit, check); v == Deny || (channel.MemberCount() >= limit && v != Allow) {
			return ErrChannelFull
		}
	}

	return nil
}

func handleJoin(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()

	name := ctx.Msg.Params[0]
	var key string
	if len(ctx.Msg.Params) > 1 {
		key = ctx.Msg.Params[1]
	}

	if !IsValidChannel(name, cfg.Sigils, cfg.ChanMax) {
		conn.ReplyNoSuchChannel(name)
		return
	}

	foldedNick := FoldString(cfg.CaseMap, user.Nick())

	channel, existed := conn.server.store.FindChannel(name)
	created := false
	if !existed {
		channel = NewChannel(name)
		if err := conn.server.store.InsertChannel(channel); err != nil {
			if existing, ok := conn.server.store.FindChannel(name); ok {
				channel = existing
			}
		} else {
			created = true
		}
	}

	if err := attemptJoin(conn.server.hooks, channel, user, foldedNick, key, cfg); err != nil {
		switch err {
		case ErrBanned:
			conn.ReplyBannedFromChan(name)
		case ErrInviteOnly:
			conn.ReplyInviteOnlyChan(name)
		case ErrBadChannelKey:
			conn.ReplyBadChannelKey(name)
		case ErrChannelFull:
			conn.ReplyChannelIsFull(name)
		case ErrTooManyChannels:
			conn.ReplyTooManyChannels(name)
		}
		if created {
			conn.server.store.RemoveChannel(channel)
		}
		return
	}

	if conn.server.hooks.Fire(EventPreJoin, user) == Deny {
		if created {
			conn.server.store.RemoveChannel(channel)
		}
		return
	}

	m := channel.Join(user, foldedNick)
	if created {
		m.Rank = RankFounder
	}
	user.AddMembership(FoldString(cfg.CaseMap, channel.Name()), m)
	channel.ClearInvite(foldedNick)

	msg := msgPool.New()
	msg.Sender = user.Hostmask()
	msg.Command = CmdJoin
	msg.Params = []string{channel.Name()}
	channel.Broadcast(msg, RankNone, nil, cfg.CaseMap)
	msgPool.Recycle(msg)

	conn.server.hooks.FireAll(EventPostJoin, m)

	conn.ReplyChannelTopic(channel)
	conn.ReplyChannelNames(channel)
}

func handlePart(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()

	name := ctx.Msg.Params[0]
	channel, exists := conn.server.store.FindChannel(name)
	if !exists {
		conn.ReplyNoSuchChannel(name)
		return
	}

	foldedNick := FoldString(cfg.CaseMap, user.Nick())
	if _, onChan := channel.Find(foldedNick); !onChan {
		conn.ReplyNotOnChannel(name)
		return
	}

	if conn.server.hooks.Fire(EventPrePart, channel) == Deny {
		return
	}

	reason := ctx.Msg.Text
	if reason == "" {
		reason = user.Nick()
	}

	msg := msgPool.New()
	msg.Sender = user.Hostmask()
	msg.Command = CmdPart
	msg.Params = []string{channel.Name()}
	msg.Text = reason
	channel.Broadcast(msg, RankNone, nil, cfg.CaseMap)
	msgPool.Recycle(msg)

	channel.Remove(foldedNick)
	user.RemoveMembership(FoldString(cfg.CaseMap, channel.Name()))

	conn.server.hooks.FireAll(EventPostPart, channel)

	if channel.Empty() {
		if conn.server.hooks.Fire(EventChannelPreDelete, channel) != Deny {
			conn.server.store.RemoveChannel(channel)
			conn.server.hooks.FireAll(EventChannelDelete, channel)
		}
	}
}

func handleNames(ctx *MessageContext) {
	conn := ctx.Conn
	if len(ctx.Msg.Params) == 0 {
		return
	}
	channel, exists := conn.server.store.FindChannel(ctx.Msg.Params[0])
	if !exists {
		conn.ReplyNoSuchChannel(ctx.Msg.Params[0])
		return
	}
	conn.ReplyChannelNames(channel)
}

func handleTopic(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()

	name := ctx.Msg.Params[0]
	channel, exists := conn.server.store.FindChannel(name)
	if !exists {
		conn.ReplyNoSuchChannel(name)
		return
	}

	foldedNick := FoldString(cfg.CaseMap, user.Nick())
	m, onChan := channel.Find(foldedNick)
	if !onChan {
		conn.ReplyNotOnChannel(name)
		return
	}

	if !ctx.Msg.HasTrailing {
		conn.ReplyChannelTopic(channel)
		return
	}

	if channel.ModeIsSet(ChanModeTopicLock) && !m.HasRank(RankOp) {
		conn.ReplyChanOpPrivsNeeded(name)
		return
	}

	text := ctx.Msg.Text
	if len(text) > cfg.TopicMax {
		text = text[:cfg.TopicMax]
	}
	channel.SetTopic(text, user.Hostmask())

	msg := msgPool.New()
	msg.Sender = user.Hostmask()
	msg.Command = CmdTopic
	msg.Params = []string{channel.Name()}
	msg.Text = text
	channel.Broadcast(msg, RankNone, nil, cfg.CaseMap)
	msgPool.Recycle(msg)
}

func handleKick(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()

	name := ctx.Msg.Params[0]
	targetNick := ctx.Msg.Params[1]
	reason := ctx.Msg.Text
	if reason == "" {
		reason = user.Nick()
	}
	if len(reason) > cfg.KickMax {
		reason = reason[:cfg.KickMax]
	}

	channel, exists := conn.server.store.FindChannel(name)
	if !exists {
		conn.ReplyNoSuchChannel(name)
		return
	}

	actor, onChan := channel.Find(FoldString(cfg.CaseMap, user.Nick()))
	if !onChan {
		conn.ReplyNotOnChannel(name)
		return
	}
	if !actor.HasRank(RankHalfOp) {
		conn.ReplyChanOpPrivsNeeded(name)
		return
	}

	targetFold := FoldString(cfg.CaseMap, targetNick)
	target, targetOnChan := channel.Find(targetFold)
	if !targetOnChan {
		conn.ReplyUserNotInChannel(targetNick, name)
		return
	}
	if target.Rank > actor.Rank {
		conn.ReplyChanOpPrivsNeeded(name)
		return
	}

	msg := msgPool.New()
	msg.Sender = user.Hostmask()
	msg.Command = CmdKick
	msg.Params = []string{channel.Name(), target.User.Nick()}
	msg.Text = reason
	channel.Broadcast(msg, RankNone, nil, cfg.CaseMap)
	msgPool.Recycle(msg)

	channel.Remove(targetFold)
	target.User.RemoveMembership(FoldString(cfg.CaseMap, channel.Name()))

	if channel.Empty() {
		conn.server.store.RemoveChannel(channel)
	}
}

func handleInvite(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()

	targetNick := ctx.Msg.Params[0]
	name := ctx.Msg.Params[1]

	channel, exists := conn.server.store.FindChannel(name)
	if !exists {
		conn.ReplyNoSuchChannel(name)
		return
	}

	actor, onChan := channel.Find(FoldString(cfg.CaseMap, user.Nick()))
	if channel.ModeIsSet(ChanModeInviteOnly) && (!onChan || !actor.HasRank(RankHalfOp)) {
		conn.ReplyChanOpPrivsNeeded(name)
		return
	}

	target, exists := conn.server.store.FindUserByNick(targetNick)
	if !exists {
		conn.ReplyNoSuchNick(targetNick)
		return
	}

	channel.Invite(FoldString(cfg.CaseMap, target.Nick()))
	conn.ReplyInviting(target.Nick(), channel.Name())

	if tconn := target.Conn(); tconn != nil {
		msg := msgPool.New()
		msg.Sender = user.Hostmask()
		msg.Command = CmdInvite
		msg.Params = []string{target.Nick()}
		msg.Text = channel.Name()
		tconn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}
}

func handleMode(ctx *MessageContext) {
	conn := ctx.Conn
	cfg := conn.server.Config()
	target := ctx.Msg.Params[0]

	if strings.IndexByte(cfg.Sigils, target[0]) >= 0 {
		handleChanMode(ctx, target, cfg)
		return
	}
	handleUserModeCmd(ctx, target, cfg)
}

func handleChanMode(ctx *MessageContext, name string, cfg *Config) {
	conn := ctx.Conn
	user := conn.user

	channel, exists := conn.server.store.FindChannel(name)
	if !exists {
		conn.ReplyNoSuchChannel(name)
		return
	}

	if len(ctx.Msg.Params) < 2 {
		conn.ReplyChannelModeIs(channel)
		return
	}

	actor, _ := channel.Find(FoldString(cfg.CaseMap, user.Nick()))
	override := user.Oper().Allows(PrivOverride)

	changes, unknown := ParseChanModeChanges(ctx.Msg.Params[1], ctx.Msg.Params[2:])
	for _, letter := range unknown {
		conn.ReplyUnknownMode(letter)
	}

	if conn.server.hooks.Fire(EventPreMode, channel) == Deny {
		return
	}

	var letters strings.Builder
	var params []string
	var sign byte

	for _, change := range changes {
		if change.Handler.Letter == 'l' && change.Add && !cfg.AllowZeroLimit {
			if n, err := parsePositiveInt(change.Param); err == nil && n == 0 {
				continue
			}
		}
		if err := ApplyChanModeChange(channel, change, actor, user.IsOper(), override, cfg.MaxListEntries, cfg.CaseMap); err != nil {
			switch err {
			case ErrInsuffPerms:
				conn.ReplyChanOpPrivsNeeded(name)
			case ErrUserNotInChannel:
				conn.ReplyUserNotInChannel(change.Param, name)
			}
			continue
		}

		want := byte('+')
		if !change.Add {
			want = '-'
		}
		if want != sign {
			letters.WriteByte(want)
			sign = want
		}
		letters.WriteByte(change.Handler.Letter)
		if change.Param != "" {
			params = append(params, change.Param)
		}
	}

	if letters.Len() == 0 {
		return
	}

	msg := msgPool.New()
	msg.Sender = user.Hostmask()
	msg.Command = CmdMode
	msg.Params = append([]string{channel.Name(), letters.String()}, params...)
	channel.Broadcast(msg, RankNone, nil, cfg.CaseMap)
	msgPool.Recycle(msg)

	conn.server.hooks.FireAll(EventPostMode, channel)
}

func handleUserModeCmd(ctx *MessageContext, nick string, cfg *Config) {
	conn := ctx.Conn
	user := conn.user

	if !EqualFold(cfg.CaseMap, nick, user.Nick()) {
		conn.ReplyUsersDontMatch()
		return
	}

	if len(ctx.Msg.Params) < 2 {
		msg := conn.newMessage()
		msg.Code = ReplyUserModeIs
		msg.Params = []string{user.Nick()}
		msg.Text = RenderUserModes(user)
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
		return
	}

	changes, unknown := ParseUserModeChanges(ctx.Msg.Params[1])
	for _, letter := range unknown {
		conn.ReplyUnknownUserMode(letter)
	}

	var letters strings.Builder
	var sign byte

	for _, ch := range changes {
		var err error
		if ch.Add {
			err = SetUserMode(ch.Bit, user, user, cfg.CaseMap)
		} else {
			err = UnsetUserMode(ch.Bit, user, user, cfg.CaseMap)
		}
		if err != nil {
			continue
		}

		want := byte('+')
		if !ch.Add {
			want = '-'
		}
		if want != sign {
			letters.WriteByte(want)
			sign = want
		}
		for _, l := range userModeLetterOrder {
			if userModeLetters[l] == ch.Bit {
				letters.WriteByte(l)
				break
			}
		}
	}

	if letters.Len() == 0 {
		return
	}

	msg := conn.newMessage()
	msg.Sender = user.Hostmask()
	msg.Command = CmdMode
	msg.Params = []string{user.Nick(), letters.String()}
	conn.Write(msg.RenderBuffer())
	msgPool.Recycle(msg)
}

func routeToTarget(ctx *MessageContext, cmd string) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()

	target := ctx.Msg.Params[0]
	text := ctx.Msg.Text

	if strings.IndexByte(cfg.Sigils, target[0]) >= 0 {
		channel, exists := conn.server.store.FindChannel(target)
		if !exists {
			conn.ReplyNoSuchChannel(target)
			return
		}
		foldedNick := FoldString(cfg.CaseMap, user.Nick())
		membership, onChan := channel.Find(foldedNick)
		if !onChan && channel.ModeIsSet(ChanModeNoExternal) {
			conn.replyErr(ReplyCannotSendToChan, []string{user.Nick(), target}, "Cannot send to channel")
			return
		}
		if channel.ModeIsSet(ChanModeModerated) && (!onChan || !membership.HasRank(RankVoice)) {
			conn.replyErr(ReplyCannotSendToChan, []string{user.Nick(), target}, "Cannot send to channel")
			return
		}

		msg := msgPool.New()
		msg.Sender = user.Hostmask()
		msg.Command = cmd
		msg.Params = []string{target}
		msg.Text = text
		except := map[string]bool{foldedNick: true}
		if conn.capabilities.EchoMessage {
			except = nil
		}
		channel.Broadcast(msg, RankNone, except, cfg.CaseMap)
		msgPool.Recycle(msg)
		return
	}

	recipient, exists := conn.server.store.FindUserByNick(target)
	if !exists {
		conn.ReplyNoSuchNick(target)
		return
	}

	msg := msgPool.New()
	msg.Sender = user.Hostmask()
	msg.Command = cmd
	msg.Params = []string{target}
	msg.Text = text
	if rconn := recipient.Conn(); rconn != nil {
		rconn.Write(msg.RenderBuffer())
	}
	msgPool.Recycle(msg)
}

func handlePrivMsg(ctx *MessageContext) { routeToTarget(ctx, CmdPrivMsg) }
func handleNotice(ctx *MessageContext)  { routeToTarget(ctx, CmdNotice) }

func handleKill(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user

	if !user.Oper().Allows(PrivKill) {
		conn.ReplyNoPrivileges()
		return
	}

	targetNick := ctx.Msg.Params[0]
	reason := ctx.Msg.Text
	if reason == "" {
		reason = "No reason given"
	}

	target, exists := conn.server.store.FindUserByNick(targetNick)
	if !exists {
		conn.ReplyNoSuchNick(targetNick)
		return
	}

	tconn := target.Conn()
	if tconn == nil {
		conn.ReplyCantKillServer()
		return
	}
	tconn.doQuit("Killed by " + user.Nick() + ": " + reason)
}

func handleOper(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()

	name := ctx.Msg.Params[0]
	pass := ctx.Msg.Params[1]

	block, err := AttemptOper(cfg, user, name, pass)
	if err != nil {
		switch err {
		case ErrNoOperHost:
			conn.ReplyNoOperHost()
		case ErrPasswordMismatch:
			conn.ReplyPasswordMismatch()
		}
		return
	}

	user.SetOper(block)
	user.SetPermission(UPermNetOp)
	user.AddMode(UModeNetOp)
	conn.ReplyYoureOper()
}

func handleRehash(ctx *MessageContext) {
	user := ctx.Conn.user
	if !user.Oper().Allows(PrivRehash) {
		ctx.Conn.ReplyNoPrivileges()
		return
	}
	ctx.Conn.server.Rehash(ctx.Conn.server.Config().clone())
	ctx.Conn.ReplyRehashing()
}

func handleRestart(ctx *MessageContext) {
	user := ctx.Conn.user
	if !user.Oper().Allows(PrivRestart) {
		ctx.Conn.ReplyNoPrivileges()
		return
	}
	ctx.Conn.log().Warn("RESTART requested, shutting down")
	ctx.Conn.server.Shutdown()
}

func handleDie(ctx *MessageContext) {
	user := ctx.Conn.user
	if !user.Oper().Allows(PrivDie) {
		ctx.Conn.ReplyNoPrivileges()
		return
	}
	ctx.Conn.log().Warn("DIE requested, shutting down")
	ctx.Conn.server.Shutdown()
}

func handleAway(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	if ctx.Msg.HasTrailing && ctx.Msg.Text != "" {
		cfg := conn.server.Config()
		text := ctx.Msg.Text
		if len(text) > cfg.AwayMax {
			text = text[:cfg.AwayMax]
		}
		user.SetAway(text)
		user.AddMode(UModeAway)
		conn.replyErr(ReplyNowAway, []string{user.Nick()}, "You have been marked as being away")
		return
	}
	user.SetAway("")
	user.DelMode(UModeAway)
	conn.replyErr(ReplyUnAway, []string{user.Nick()}, "You are no longer marked as being away")
}

func handleIson(ctx *MessageContext) {
	conn := ctx.Conn
	online := make([]string, 0, len(ctx.Msg.Params))
	for _, nick := range ctx.Msg.Params {
		if u, exists := conn.server.store.FindUserByNick(nick); exists {
			online = append(online, u.Nick())
		}
	}
	conn.ReplyIsOn(online)
}

func handleUserhost(ctx *MessageContext) {
	conn := ctx.Conn
	entries := make([]string, 0, len(ctx.Msg.Params))
	for _, nick := range ctx.Msg.Params {
		u, exists := conn.server.store.FindUserByNick(nick)
		if !exists {
			continue
		}
		flag := "+"
		if u.ModeIsSet(UModeAway) {
			flag = "-"
		}
		entries = append(entries, u.Nick()+"="+flag+u.Name()+"@"+u.DisplayHost())
	}
	conn.ReplyUserhost(entries)
}

func handleWhois(ctx *MessageContext) {
	conn := ctx.Conn
	nick := ctx.Msg.Params[0]
	target, exists := conn.server.store.FindUserByNick(nick)
	if !exists {
		conn.ReplyNoSuchNick(nick)
		return
	}
	conn.ReplyWhois(target)
}

func handleWho(ctx *MessageContext) {
	conn := ctx.Conn
	cfg := conn.server.Config()

	emit := func(target *User, channelName string) {
		msg := conn.newMessage()
		msg.Code = ReplyWho
		flags := "H"
		if target.IsOper() {
			flags += "*"
		}
		msg.Params = []string{
			conn.user.Nick(), channelName, target.Name(), target.DisplayHost(),
			conn.server.Hostname(), target.Nick(), flags,
		}
		msg.Text = "0 " + target.Realname()
		conn.Write(msg.RenderBuffer())
		msgPool.Recycle(msg)
	}

	if len(ctx.Msg.Params) > 0 && strings.IndexByte(cfg.Sigils, ctx.Msg.Params[0][0]) >= 0 {
		name := ctx.Msg.Params[0]
		if channel, exists := conn.server.store.FindChannel(name); exists {
			for _, n := range channel.Names() {
				nick := strings.TrimLeft(n, "~&@%+")
				if m, ok := channel.Find(FoldString(cfg.CaseMap, nick)); ok {
					emit(m.User, channel.Name())
				}
			}
		}
	} else if len(ctx.Msg.Params) > 0 {
		if u, exists := conn.server.store.FindUserByNick(ctx.Msg.Params[0]); exists {
			emit(u, "*")
		}
	}

	end := conn.newMessage()
	end.Code = ReplyEndOfWho
	end.Params = []string{conn.user.Nick()}
	if len(ctx.Msg.Params) > 0 {
		end.Params = append(end.Params, ctx.Msg.Params[0])
	}
	end.Text = "End of WHO list"
	conn.Write(end.RenderBuffer())
	msgPool.Recycle(end)
}

func handleMotd(ctx *MessageContext) {
	ctx.Conn.ReplyMOTD()
}

func handleVersion(ctx *MessageContext) {
	ctx.Conn.ReplyVersion()
}

func membershipExists(c *Channel, u *User, cfg *Config) bool {
	_, ok := c.Find(FoldString(cfg.CaseMap, u.Nick()))
	return ok
}

func handleList(ctx *MessageContext) {
	conn := ctx.Conn
	user := conn.user
	cfg := conn.server.Config()

	if len(ctx.Msg.Params) > 0 {
		channel, exists := conn.server.store.FindChannel(ctx.Msg.Params[0])
		if exists && (!channel.ModeIsSet(ChanModeSecret) || membershipExists(channel, user, cfg)) {
			conn.ReplyList(channel)
		}
		conn.ReplyListEnd()
		return
	}

	conn.server.store.EachChannel(func(c *Channel) {
		if c.ModeIsSet(ChanModeSecret) && !membershipExists(c, user, cfg) {
			return
		}
		conn.ReplyList(c)
	})
	conn.ReplyListEnd()
}
