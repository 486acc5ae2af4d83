/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// All command handler functions reply to the user directly for every error
// condition they detect; AbortWithError is reserved for conditions that are
// a server problem rather than a client one.

// HandleNick processes a NICK command: validity and uniqueness checks, then
// either the registration-time nick choice or a live rename broadcast to
// every channel peer.
//
//	Command: NICK
//	Parameters: <nickname>
func HandleNick(ctx *MessageContext) {
	nick := ctx.Msg.Params[0]
	u := ctx.User()

	if !validNick(nick) {
		ctx.Numeric(ReplyErroneusNickname, nick, ErrNickRestricted.String())
		return
	}

	if existing, ok := ctx.Server.FindUser(nick); ok && existing != u {
		ctx.Numeric(ReplyNicknameInUse, nick, ErrNickInUse.String())
		return
	}

	if !u.Registered() {
		u.SetNick(nick)
		ctx.Conn.nickChosen = true
		tryCompleteRegistration(ctx.Server, ctx.Conn)
		return
	}

	oldMask := u.Mask()
	if err := ctx.Server.RenameUser(u, nick); err != nil {
		ctx.Numeric(ReplyNicknameInUse, nick, err.Error())
		return
	}

	change := MessagePool.New()
	defer MessagePool.Recycle(change)
	change.Source = oldMask
	change.Command = CmdNick
	change.Trailing = nick
	ctx.Server.broadcastToPeers(u, change)
	u.SendLine(change.Render())
}

// HandleUser processes a USER command, recording the ident and realname
// fields and marking the user-info prerequisite satisfied.
//
//	Command: USER
//	Parameters: <username> <mode> <unused> :<realname>
func HandleUser(ctx *MessageContext) {
	u := ctx.User()
	if u.Registered() {
		ctx.Numeric(ReplyAlreadyRegistered, ErrUserAlreadySet.String())
		return
	}

	ident := ctx.Msg.Params[0]
	if len(ident) > MaxUserLength {
		ident = ident[:MaxUserLength]
	}
	u.SetIdent(ident)
	u.SetRealName(ctx.Msg.Trailing)
	ctx.Conn.userSent = true
	tryCompleteRegistration(ctx.Server, ctx.Conn)
}

// HandlePass processes a PASS command ahead of registration.
//
//	Command: PASS
//	Parameters: <password>
func HandlePass(ctx *MessageContext) {
	if ctx.User().Registered() {
		ctx.Numeric(ReplyAlreadyRegistered, ErrUserAlreadySet.String())
		return
	}
	ctx.Conn.passAccepted = ctx.Server.password == "" || ctx.Msg.Params[0] == ctx.Server.password
	if !ctx.Conn.passAccepted {
		ctx.Numeric(ReplyPasswordMistmatch, "Password incorrect")
	}
}

// HandleCap processes CAP negotiation: LS, LIST, REQ, and END. An LS or REQ
// opens a negotiation window that holds registration until CAP END.
//
//	Command: CAP
//	Parameters: <subcommand> [args]
func HandleCap(ctx *MessageContext) {
	sub := strings.ToUpper(ctx.Msg.Params[0])
	switch sub {
	case "LS":
		ctx.Conn.capExchange = true
		if len(ctx.Msg.Params) > 1 {
			ctx.Conn.capVersion, _ = strconv.Atoi(ctx.Msg.Params[1])
		}
		sendCapList(ctx, "LS", advertisedCaps())

	case "LIST":
		sendCapList(ctx, "LIST", negotiatedCaps(ctx.User()))

	case "REQ":
		ctx.Conn.capExchange = true
		requested := strings.Fields(ctx.Msg.Trailing)
		if len(requested) == 0 && len(ctx.Msg.Params) > 1 {
			requested = ctx.Msg.Params[1:]
		}
		if ackCapRequest(ctx.User(), requested) {
			sendCapReply(ctx, "ACK", strings.Join(requested, " "))
		} else {
			sendCapReply(ctx, "NAK", strings.Join(requested, " "))
		}

	case "END":
		ctx.Conn.capExchange = false
		tryCompleteRegistration(ctx.Server, ctx.Conn)

	default:
		ctx.Numeric(ReplyInvalidCapCmd, sub, ErrInvalidCapCmd.String())
	}
}

// advertisedCaps lists every capability token the server offers.
func advertisedCaps() []string {
	names := make([]string, 0, len(capNames))
	for name := range capNames {
		names = append(names, name)
	}
	return names
}

func negotiatedCaps(u *User) []string {
	var names []string
	for name, bit := range capNames {
		if u.HasCap(bit) {
			names = append(names, name)
		}
	}
	return names
}

// ackCapRequest applies a CAP REQ atomically: either every token (with
// optional "-" removal prefix) is known and the whole set is applied, or
// nothing changes.
func ackCapRequest(u *User, tokens []string) bool {
	type delta struct {
		bit     int
		enabled bool
	}
	deltas := make([]delta, 0, len(tokens))
	for _, tok := range tokens {
		enable := true
		if strings.HasPrefix(tok, "-") {
			enable = false
			tok = tok[1:]
		}
		bit, ok := capNames[tok]
		if !ok {
			return false
		}
		deltas = append(deltas, delta{bit: bit, enabled: enable})
	}
	for _, d := range deltas {
		u.SetCap(d.bit, d.enabled)
	}
	return true
}

func sendCapList(ctx *MessageContext, sub string, names []string) {
	builder := NewReplyBuilder(ctx.Server, ctx.Conn, ReplyNone)
	builder.Prefix(CmdCap, nickOrStar(ctx.User()), sub)
	for _, name := range names {
		builder.Add(name)
	}
	builder.Flush()
}

func sendCapReply(ctx *MessageContext, sub, payload string) {
	msg := ctx.Conn.newCommand(ctx.Server, CmdCap)
	defer MessagePool.Recycle(msg)
	msg.Params = append(msg.Params, nickOrStar(ctx.User()), sub)
	msg.Trailing = payload
	ctx.Conn.QueueLine(msg.Render())
}

func nickOrStar(u *User) string {
	if u != nil && u.Nick() != "" {
		return u.Nick()
	}
	return "*"
}

// HandleQuit processes a QUIT command: the departure is broadcast to shared
// channels and the connection is scheduled for end-of-tick destruction.
//
//	Command: QUIT
//	Parameters: :<reason>
func HandleQuit(ctx *MessageContext) {
	reason := "Client quit"
	if ctx.Msg.Trailing != "" {
		reason = "Quit: " + ctx.Msg.Trailing
	}
	ctx.Server.CullConn(ctx.Conn, reason)
}

// HandlePing processes a PING command by answering with the matching PONG.
//
//	Command: PING
//	Parameters: <token>
func HandlePing(ctx *MessageContext) {
	msg := ctx.Conn.newCommand(ctx.Server, CmdPong)
	defer MessagePool.Recycle(msg)
	msg.Params = append(msg.Params, ctx.Server.Name())
	if len(ctx.Msg.Params) > 0 {
		msg.Trailing = ctx.Msg.Params[0]
	} else {
		msg.Trailing = ctx.Msg.Trailing
	}
	ctx.Conn.QueueLine(msg.Render())
}

// HandlePong processes a PONG answering an idle-check PING. The cookie must
// match the one sent; a stale or unsolicited PONG is ignored.
//
//	Command: PONG
//	Parameters: <cookie>
func HandlePong(ctx *MessageContext) {
	cookie := ctx.Msg.Trailing
	if cookie == "" && len(ctx.Msg.Params) > 0 {
		cookie = ctx.Msg.Params[len(ctx.Msg.Params)-1]
	}
	if ctx.Conn.cookie != "" && cookie == ctx.Conn.cookie {
		ctx.Conn.cookie = ""
	}
}

// HandleJoin processes a JOIN command for one or more comma-separated
// channels, running the admission checks and announcing success with the
// JOIN broadcast, topic, and namelist.
//
//	Command: JOIN
//	Parameters: <channel>{,<channel>} [<key>{,<key>}]
func HandleJoin(ctx *MessageContext) {
	u := ctx.User()
	names := splitTargets(ctx.Msg.Params[0])
	var keys []string
	if len(ctx.Msg.Params) > 1 {
		keys = splitTargets(ctx.Msg.Params[1])
	}

	for i, name := range names {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		joinOne(ctx, u, name, key)
	}
}

func joinOne(ctx *MessageContext, u *User, name, key string) {
	if len(u.Channels()) >= MaxJoinedChans {
		ctx.Numeric(ReplyTooManyChannels, name, ErrTooManyChans.String())
		return
	}

	ch, err := ctx.Server.GetOrCreateChannel(name)
	if err != nil {
		ctx.Numeric(ReplyBadChannelName, name, err.Error())
		return
	}

	if _, err := ch.Join(u, key); err != nil {
		if err == ErrAlreadyOnChan {
			return
		}
		ctx.errorNumeric(err, ch.Name)
		return
	}

	join := MessagePool.New()
	join.Source = u.Mask()
	join.Command = CmdJoin
	if u.HasCap(ExtendedJoin) {
		account := u.Account()
		if account == "" {
			account = "*"
		}
		join.Params = append(join.Params, ch.Name, account)
		join.Trailing = u.RealName()
	} else {
		join.Trailing = ch.Name
	}
	ch.Broadcast(join, nil)
	MessagePool.Recycle(join)

	if topic, _, _ := ch.Topic(); topic != "" {
		sendTopicNumerics(ctx, ch)
	}
	sendNames(ctx.Server, ctx.Conn, ch)
	ctx.Server.metrics.Joins.Inc()
}

// HandlePart processes a PART command for one or more channels.
//
//	Command: PART
//	Parameters: <channel>{,<channel>} [:<reason>]
func HandlePart(ctx *MessageContext) {
	u := ctx.User()
	for _, name := range splitTargets(ctx.Msg.Params[0]) {
		ch, ok := ctx.Server.FindChannel(name)
		if !ok {
			ctx.Numeric(ReplyNoSuchChannel, name, ErrNoSuchChan.String())
			continue
		}

		part := MessagePool.New()
		part.Source = u.Mask()
		part.Command = CmdPart
		part.Params = append(part.Params, ch.Name)
		part.Trailing = ctx.Msg.Trailing
		ch.Broadcast(part, nil)
		MessagePool.Recycle(part)

		empty, err := ch.Part(u)
		if err != nil {
			ctx.Numeric(ReplyNotOnChannel, ch.Name, err.Error())
			continue
		}
		if empty {
			ctx.Server.DestroyChannel(ch)
		}
	}
}

// HandleKick processes a KICK command: rank comparison between kicker and
// target, protection checks, then removal and broadcast.
//
//	Command: KICK
//	Parameters: <channel> <user> [:<reason>]
func HandleKick(ctx *MessageContext) {
	u := ctx.User()
	ch, ok := ctx.Server.FindChannel(ctx.Msg.Params[0])
	if !ok {
		ctx.Numeric(ReplyNoSuchChannel, ctx.Msg.Params[0], ErrNoSuchChan.String())
		return
	}

	kicker, ok := ch.MembershipOf(u)
	if !ok {
		ctx.Numeric(ReplyNotOnChannel, ch.Name, ErrUserNotInChan.String())
		return
	}

	target, ok := ctx.Server.FindUser(ctx.Msg.Params[1])
	if !ok {
		ctx.Numeric(ReplyNoSuchNick, ctx.Msg.Params[1], ErrNoSuchNick.String())
		return
	}
	victim, ok := ch.MembershipOf(target)
	if !ok {
		ctx.Numeric(ReplyUserNotInChannel, target.Nick(), ch.Name, ErrUserNotInChan.String())
		return
	}

	if !canKick(kicker, victim) {
		ctx.Numeric(ReplyChanOpPrivsNeeded, ch.Name, ErrInsuffPerms.String())
		return
	}

	reason := ctx.Msg.Trailing
	if reason == "" {
		reason = u.Nick()
	}
	if len(reason) > MaxKickLength {
		reason = reason[:MaxKickLength]
	}

	kick := MessagePool.New()
	kick.Source = u.Mask()
	kick.Command = CmdKick
	kick.Params = append(kick.Params, ch.Name, target.Nick())
	kick.Trailing = reason
	ch.Broadcast(kick, nil)
	MessagePool.Recycle(kick)

	if empty, _ := ch.Part(target); empty {
		ctx.Server.DestroyChannel(ch)
	}
}

// canKick applies the kick permission ladder: ops may kick anyone below op,
// halfops may kick anyone unranked or voiced, and protected users may never
// be kicked by another user.
func canKick(kicker, victim *Membership) bool {
	if victim.User.HasUMode(UModeProtected) {
		return false
	}
	kr, vr := kicker.Rank(), victim.Rank()
	switch {
	case kr&(RankOwner|RankAdmin|RankOp) != 0:
		return vr.HighestBit() < kr.HighestBit() || vr.HighestBit() == 0
	case kr&RankHalfOp != 0:
		return vr&(RankOwner|RankAdmin|RankOp|RankHalfOp) == 0
	default:
		return false
	}
}

// HandleMode processes a MODE command against either a channel or a user
// target: a bare target queries current modes, otherwise the batch is
// parsed, applied, and the accepted changes are broadcast.
//
//	Command: MODE
//	Parameters: <target> [<modestring> [<params>...]]
func HandleMode(ctx *MessageContext) {
	target := ctx.Msg.Params[0]
	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		handleChannelMode(ctx, target)
		return
	}
	handleUserMode(ctx, target)
}

func handleChannelMode(ctx *MessageContext, name string) {
	u := ctx.User()
	ch, ok := ctx.Server.FindChannel(name)
	if !ok {
		ctx.Numeric(ReplyNoSuchChannel, name, ErrNoSuchChan.String())
		return
	}

	if len(ctx.Msg.Params) == 1 {
		_, member := ch.MembershipOf(u)
		modes, params := ch.CurrentModes(member || u.IsOper())
		args := append([]string{ch.Name, modes}, params...)
		ctx.NumericParams(ReplyChannelModeIs, args...)
		ctx.NumericParams(ReplyCreationTime, ch.Name, fmt.Sprint(ch.CreatedAt().Unix()))
		return
	}

	if isListQuery(ctx, ch, ctx.Msg.Params[1]) {
		return
	}

	changes := ParseModeChanges(ModeTargetChannel, ctx.Msg.Params[1], ctx.Msg.Params[2:])
	accepted, diags := ApplyChannelModes(u, ch, changes)

	for _, diag := range diags {
		if diag.Numeric != ReplyNone {
			ctx.Numeric(diag.Numeric, ch.Name, diag.Err.Error())
		}
	}

	for _, rendered := range FormatModeChanges(accepted, MaxModeChange) {
		mode := MessagePool.New()
		mode.Source = u.Mask()
		mode.Command = CmdMode
		mode.Params = append(mode.Params, ch.Name)
		mode.Params = append(mode.Params, rendered...)
		ch.Broadcast(mode, nil)
		MessagePool.Recycle(mode)
	}
}

// isListQuery answers a bare "+b"/"+e"/"+I" with the corresponding list
// numerics instead of treating it as a change with a missing parameter.
func isListQuery(ctx *MessageContext, ch *Channel, modestr string) bool {
	letters := strings.TrimLeft(modestr, "+")
	if len(letters) != 1 || len(ctx.Msg.Params) > 2 {
		return false
	}

	var itemCode, endCode uint16
	switch letters[0] {
	case 'b':
		itemCode, endCode = ReplyBanList, ReplyEndOfBanList
	case 'e':
		itemCode, endCode = ReplyExceptList, ReplyEndOfExceptList
	case 'I':
		itemCode, endCode = ReplyInviteList, ReplyEndOfInviteList
	default:
		return false
	}

	ch.mu.RLock()
	entries := append([]*BanMask(nil), *ch.listFor(letters[0])...)
	ch.mu.RUnlock()

	for _, entry := range entries {
		ctx.NumericParams(itemCode, ch.Name, entry.Pattern, entry.SetBy, fmt.Sprint(entry.SetAt.Unix()))
	}
	ctx.Numeric(endCode, ch.Name, "End of channel access list")
	return true
}

func handleUserMode(ctx *MessageContext, nick string) {
	u := ctx.User()
	target, ok := ctx.Server.FindUser(nick)
	if !ok {
		ctx.Numeric(ReplyNoSuchNick, nick, ErrNoSuchNick.String())
		return
	}
	if target != u && !u.IsOper() {
		ctx.Numeric(ReplyUsersDontMatch, "Can't change mode for other users")
		return
	}

	if len(ctx.Msg.Params) == 1 {
		ctx.NumericParams(ReplyUserModeIs, target.UModeString())
		return
	}

	changes := ParseModeChanges(ModeTargetUser, ctx.Msg.Params[1], nil)
	accepted, diags := ApplyUserModes(u, target, changes)

	for _, diag := range diags {
		if diag.Numeric != ReplyNone {
			ctx.Numeric(diag.Numeric, diag.Err.Error())
		}
	}

	for _, rendered := range FormatModeChanges(accepted, MaxModeChange) {
		mode := MessagePool.New()
		mode.Source = u.Mask()
		mode.Command = CmdMode
		mode.Params = append(mode.Params, target.Nick())
		mode.Params = append(mode.Params, rendered...)
		target.Send(mode)
		MessagePool.Recycle(mode)
	}
}

// HandleTopic processes a TOPIC query or change.
//
//	Command: TOPIC
//	Parameters: <channel> [:<topic>]
func HandleTopic(ctx *MessageContext) {
	u := ctx.User()
	ch, ok := ctx.Server.FindChannel(ctx.Msg.Params[0])
	if !ok {
		ctx.Numeric(ReplyNoSuchChannel, ctx.Msg.Params[0], ErrNoSuchChan.String())
		return
	}

	// query form; an empty trailing (":") clears the topic instead
	if len(ctx.Msg.Params) == 1 && !ctx.Msg.HasTrailing() {
		sendTopicNumerics(ctx, ch)
		return
	}

	m, member := ch.MembershipOf(u)
	if !member {
		ctx.Numeric(ReplyNotOnChannel, ch.Name, ErrUserNotInChan.String())
		return
	}

	need := RankVoice
	if ch.HasMode(CModeTopicLock) {
		need = RankHalfOp
	}
	if !m.Rank().AtLeast(need) && !u.IsOper() {
		ctx.Numeric(ReplyChanOpPrivsNeeded, ch.Name, ErrInsuffPerms.String())
		return
	}

	text := ctx.Msg.Trailing
	if len(text) > MaxTopicLength {
		text = text[:MaxTopicLength]
	}
	ch.SetTopic(text, u.Nick())

	topic := MessagePool.New()
	topic.Source = u.Mask()
	topic.Command = CmdTopic
	topic.Params = append(topic.Params, ch.Name)
	topic.Trailing = text
	ch.Broadcast(topic, nil)
	MessagePool.Recycle(topic)
}

func sendTopicNumerics(ctx *MessageContext, ch *Channel) {
	text, setBy, setAt := ch.Topic()
	if text == "" {
		ctx.Numeric(ReplyNoTopic, ch.Name, "No topic is set")
		return
	}
	ctx.Numeric(ReplyChanTopic, ch.Name, text)
	ctx.NumericParams(ReplyTopicSetBy, ch.Name, setBy, fmt.Sprint(setAt.Unix()))
}

// HandleNames processes a NAMES command for one channel or, with no
// parameter, every visible channel.
//
//	Command: NAMES
//	Parameters: [<channel>]
func HandleNames(ctx *MessageContext) {
	if len(ctx.Msg.Params) == 0 {
		_ = ctx.Server.Channels.ForEach(func(_ string, ch *Channel) error {
			if !channelHidden(ctx.User(), ch) {
				sendNames(ctx.Server, ctx.Conn, ch)
			}
			return nil
		})
		return
	}
	for _, name := range splitTargets(ctx.Msg.Params[0]) {
		if ch, ok := ctx.Server.FindChannel(name); ok {
			sendNames(ctx.Server, ctx.Conn, ch)
		}
	}
}

// channelHidden reports whether ch should be omitted from listings for u
// (secret/private channels hide from non-members).
func channelHidden(u *User, ch *Channel) bool {
	if !ch.HasMode(CModeSecret) && !ch.HasMode(CModePrivate) {
		return false
	}
	_, member := ch.MembershipOf(u)
	return !member
}

// HandleInvite processes an INVITE command, recording a timed invite and
// notifying both parties.
//
//	Command: INVITE
//	Parameters: <nick> <channel>
func HandleInvite(ctx *MessageContext) {
	u := ctx.User()
	target, ok := ctx.Server.FindUser(ctx.Msg.Params[0])
	if !ok {
		ctx.Numeric(ReplyNoSuchNick, ctx.Msg.Params[0], ErrNoSuchNick.String())
		return
	}
	ch, ok := ctx.Server.FindChannel(ctx.Msg.Params[1])
	if !ok {
		ctx.Numeric(ReplyNoSuchChannel, ctx.Msg.Params[1], ErrNoSuchChan.String())
		return
	}

	m, member := ch.MembershipOf(u)
	if !member {
		ctx.Numeric(ReplyNotOnChannel, ch.Name, ErrUserNotInChan.String())
		return
	}
	if ch.HasMode(CModeInviteOnly) && !m.Rank().AtLeast(RankHalfOp) {
		ctx.Numeric(ReplyChanOpPrivsNeeded, ch.Name, ErrInsuffPerms.String())
		return
	}
	if _, already := ch.MembershipOf(target); already {
		ctx.Numeric(ReplyUserOnChannel, target.Nick(), ch.Name, ErrAlreadyOnChan.String())
		return
	}

	ch.Invite(target.Nick(), inviteTTL)

	ctx.NumericParams(ReplyInviting, target.Nick(), ch.Name)

	invite := MessagePool.New()
	invite.Source = u.Mask()
	invite.Command = CmdInvite
	invite.Params = append(invite.Params, target.Nick())
	invite.Trailing = ch.Name
	target.Send(invite)
	MessagePool.Recycle(invite)

	// invite-notify lets ranked members observe invitations
	notify := MessagePool.New()
	notify.Source = u.Mask()
	notify.Command = CmdInvite
	notify.Params = append(notify.Params, target.Nick())
	notify.Trailing = ch.Name
	rendered := notify.Render()
	for _, member := range ch.Members() {
		if member.User != u && member.User.HasCap(InviteNotify) && member.Rank().AtLeast(RankHalfOp) {
			member.User.SendLine(rendered)
		}
	}
	MessagePool.Recycle(notify)
}

// HandleList processes a LIST command, enumerating visible channels.
//
//	Command: LIST
//	Parameters: [<channel>{,<channel>}]
func HandleList(ctx *MessageContext) {
	ctx.Numeric(ReplyListStart, "Channel", "Users Name")

	emit := func(ch *Channel) {
		if channelHidden(ctx.User(), ch) {
			return
		}
		topic, _, _ := ch.Topic()
		ctx.Numeric(ReplyList, ch.Name, fmt.Sprint(ch.MemberCount()), topic)
	}

	if len(ctx.Msg.Params) > 0 {
		for _, name := range splitTargets(ctx.Msg.Params[0]) {
			if ch, ok := ctx.Server.FindChannel(name); ok {
				emit(ch)
			}
		}
	} else {
		_ = ctx.Server.Channels.ForEach(func(_ string, ch *Channel) error {
			emit(ch)
			return nil
		})
	}

	ctx.Numeric(ReplyEndOfList, "End of LIST")
}

// HandlePrivmsg processes a PRIVMSG to a channel or user.
//
//	Command: PRIVMSG
//	Parameters: <target> :<text>
func HandlePrivmsg(ctx *MessageContext) {
	doChatMessage(ctx, CmdPrivMsg)
}

// HandleNotice processes a NOTICE. Per RFC, no error replies are generated.
//
//	Command: NOTICE
//	Parameters: <target> :<text>
func HandleNotice(ctx *MessageContext) {
	doChatMessage(ctx, CmdNotice)
}

func doChatMessage(ctx *MessageContext, kind string) {
	u := ctx.User()
	silent := kind == CmdNotice
	target := ctx.Msg.Params[0]

	if ctx.Msg.Trailing == "" {
		if !silent {
			ctx.Numeric(ReplyNoTextToSend, "No text to send")
		}
		return
	}

	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		ch, ok := ctx.Server.FindChannel(target)
		if !ok {
			if !silent {
				ctx.Numeric(ReplyNoSuchChannel, target, ErrNoSuchChan.String())
			}
			return
		}
		if err := canSpeak(u, ch); err != nil {
			if !silent {
				ctx.Numeric(ReplyCannotSendToChan, ch.Name, err.Error())
			}
			return
		}

		msg := MessagePool.New()
		msg.Source = u.Mask()
		msg.Command = kind
		msg.Params = append(msg.Params, ch.Name)
		msg.Trailing = ctx.Msg.Trailing

		except := u
		if u.HasCap(EchoMessage) {
			except = nil
		}
		ch.Broadcast(msg, except)
		MessagePool.Recycle(msg)
		return
	}

	dest, ok := ctx.Server.FindUser(target)
	if !ok {
		if !silent {
			ctx.Numeric(ReplyNoSuchNick, target, ErrNoSuchNick.String())
		}
		return
	}

	if dest.HasUMode(UModeDeaf) && !silent {
		return
	}

	msg := MessagePool.New()
	msg.Source = u.Mask()
	msg.Command = kind
	msg.Params = append(msg.Params, dest.Nick())
	msg.Trailing = ctx.Msg.Trailing
	dest.Send(msg)
	if u.HasCap(EchoMessage) {
		u.Send(msg)
	}
	MessagePool.Recycle(msg)

	if !silent && dest.Away() != "" {
		ctx.Numeric(ReplyAway, dest.Nick(), dest.Away())
	}
}

// canSpeak applies the channel send checks: membership vs. no-external,
// moderation, mute bans.
func canSpeak(u *User, ch *Channel) error {
	m, member := ch.MembershipOf(u)
	if !member && ch.HasMode(CModeNoExternal) {
		return ErrUserNotInChan
	}
	if ch.HasMode(CModeModerated) && (!member || !m.Rank().AtLeast(RankVoice)) {
		return ErrInsuffPerms
	}
	if member && m.Rank() == 0 && ch.IsBanned(u) {
		return ErrBannedFromChan
	}
	return nil
}

// HandleWho processes a WHO query against a channel or a single nick.
//
//	Command: WHO
//	Parameters: <mask>
func HandleWho(ctx *MessageContext) {
	mask := ctx.Msg.Params[0]

	if ch, ok := ctx.Server.FindChannel(mask); ok {
		for _, m := range ch.Members() {
			ctx.Numeric(ReplyWho, ch.Name, m.User.Ident(), m.User.Host(), ctx.Server.Name(),
				m.User.Nick(), whoFlags(m.User)+m.Rank().Prefix(), "0 "+m.User.RealName())
		}
		ctx.Numeric(ReplyEndOfWho, mask, "End of WHO list")
		return
	}

	if target, ok := ctx.Server.FindUser(mask); ok {
		ctx.Numeric(ReplyWho, "*", target.Ident(), target.Host(), ctx.Server.Name(),
			target.Nick(), whoFlags(target), "0 "+target.RealName())
	}
	ctx.Numeric(ReplyEndOfWho, mask, "End of WHO list")
}

func whoFlags(u *User) string {
	flags := "H"
	if u.Away() != "" {
		flags = "G"
	}
	if u.IsOper() {
		flags += "*"
	}
	return flags
}

// HandleWhois processes a WHOIS query.
//
//	Command: WHOIS
//	Parameters: <nick>
func HandleWhois(ctx *MessageContext) {
	target, ok := ctx.Server.FindUser(ctx.Msg.Params[0])
	if !ok {
		ctx.Numeric(ReplyNoSuchNick, ctx.Msg.Params[0], ErrNoSuchNick.String())
		return
	}

	nick := target.Nick()
	ctx.Numeric(ReplyWhoisUser, nick, target.Ident(), target.Host(), "*", target.RealName())

	var chans []string
	for _, ch := range target.Channels() {
		if channelHidden(ctx.User(), ch) {
			continue
		}
		prefix := ""
		if m, ok := target.MembershipOn(ch); ok {
			prefix = m.Rank().Prefix()
		}
		chans = append(chans, prefix+ch.Name)
	}
	if len(chans) > 0 {
		builder := NewReplyBuilder(ctx.Server, ctx.Conn, ReplyWhoisChannels)
		builder.Prefix(nick)
		for _, entry := range chans {
			builder.Add(entry)
		}
		builder.Flush()
	}

	ctx.Numeric(ReplyWhoisServer, nick, ctx.Server.Name(), ctx.Server.Network())
	if target.IsOper() {
		ctx.Numeric(ReplyWhoisOperator, nick, "is an IRC operator")
	}
	if target.Away() != "" {
		ctx.Numeric(ReplyAway, nick, target.Away())
	}
	now := time.Now()
	ctx.Numeric(ReplyWhoisIdle, nick, fmt.Sprint(int(target.IdleFor(now).Seconds())),
		fmt.Sprint(target.SignonAt().Unix()), "seconds idle, signon time")
	ctx.Numeric(ReplyEndOfWhois, nick, "End of WHOIS list")
}

// HandleIson processes an ISON query, echoing back the subset of the given
// nicks that are online.
//
//	Command: ISON
//	Parameters: <nick>{ <nick>}
func HandleIson(ctx *MessageContext) {
	var present []string
	for _, nick := range ctx.Msg.Params {
		if u, ok := ctx.Server.FindUser(nick); ok {
			present = append(present, u.Nick())
		}
	}
	ctx.Numeric(ReplyIsOn, strings.Join(present, " "))
}

// HandleUserhost processes a USERHOST query for up to five nicks.
//
//	Command: USERHOST
//	Parameters: <nick>{ <nick>}
func HandleUserhost(ctx *MessageContext) {
	var entries []string
	limit := len(ctx.Msg.Params)
	if limit > 5 {
		limit = 5
	}
	for _, nick := range ctx.Msg.Params[:limit] {
		u, ok := ctx.Server.FindUser(nick)
		if !ok {
			continue
		}
		oper := ""
		if u.IsOper() {
			oper = "*"
		}
		away := "+"
		if u.Away() != "" {
			away = "-"
		}
		entries = append(entries, fmt.Sprintf("%s%s=%s%s@%s", u.Nick(), oper, away, u.Ident(), u.Host()))
	}
	ctx.Numeric(ReplyUserHost, strings.Join(entries, " "))
}

// HandleAway sets or clears the user's away message.
//
//	Command: AWAY
//	Parameters: [:<message>]
func HandleAway(ctx *MessageContext) {
	u := ctx.User()
	text := ctx.Msg.Trailing
	if len(text) > MaxAwayLength {
		text = text[:MaxAwayLength]
	}
	u.SetAway(text)

	if text == "" {
		ctx.Numeric(ReplyUnAway, "You are no longer marked as being away")
	} else {
		ctx.Numeric(ReplyNowAway, "You have been marked as being away")
	}

	// away-notify peers see the transition live
	notice := MessagePool.New()
	notice.Source = u.Mask()
	notice.Command = CmdAway
	notice.Trailing = text
	rendered := notice.Render()
	seen := map[*User]bool{u: true}
	for _, ch := range u.Channels() {
		for _, m := range ch.Members() {
			if !seen[m.User] && m.User.HasCap(AwayNotify) {
				seen[m.User] = true
				m.User.SendLine(rendered)
			}
		}
	}
	MessagePool.Recycle(notice)
}

// HandleOper processes an OPER authentication attempt.
//
//	Command: OPER
//	Parameters: <name> <password>
func HandleOper(ctx *MessageContext) {
	u := ctx.User()
	name, password := ctx.Msg.Params[0], ctx.Msg.Params[1]

	expected, ok := ctx.Server.opers[name]
	if !ok || expected != password {
		ctx.Numeric(ReplyPasswordMistmatch, "Password incorrect")
		ctx.Server.Snotices().Notef(SnoOper, "Failed OPER attempt by %s", ctx.Conn.Describe())
		return
	}

	u.SetPerm(UPermNetOp)
	_ = forceUserMode(UModeNetOp, u, true)
	ctx.Numeric(ReplyYoureOper, "You are now an IRC operator")
	ctx.Server.Snotices().Notef(SnoOper, "%s is now an operator", ctx.Conn.Describe())
}

// splitTargets splits a comma-separated target list, dropping empties.
func splitTargets(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validNick checks RFC 1459 nickname syntax against the configured length
// cap: a letter or special to start, then letters, digits, specials, or
// hyphens.
func validNick(nick string) bool {
	if nick == "" || len(nick) > MaxNickLength {
		return false
	}
	for i := 0; i < len(nick); i++ {
		c := nick[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case strings.IndexByte("[]\\`^{}|_", c) >= 0:
		case c >= '0' && c <= '9', c == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
