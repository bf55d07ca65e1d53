// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/emersion/go-sasl"
	cmap "github.com/orcaman/concurrent-map"

	"github.com/lrstanley/tinyirc/wire"
)

const (
	maxJoinRetries = 3
	joinRetryDelay = 10 * time.Second

	// saslChunkLen is the longest AUTHENTICATE payload allowed per line.
	saslChunkLen = 400
)

type joinState int

const (
	notJoined joinState = iota
	// joining means a delayed JOIN retry is pending.
	joining
	joined
)

type channel struct {
	name string
	// nicks maps the casefolded nick to the nick as last seen.
	nicks       cmap.ConcurrentMap
	state       joinState
	retriesLeft int
	stopRetry   context.CancelFunc
}

func newChannel(name string, st joinState) *channel {
	return &channel{name: name, nicks: cmap.New(), state: st, retriesLeft: maxJoinRetries}
}

func (ch *channel) addNick(nick string) {
	ch.nicks.Set(rfc1459Lower(nick), nick)
}

// removeNick reports whether nick was a member.
func (ch *channel) removeNick(nick string) bool {
	_, ok := ch.nicks.Pop(rfc1459Lower(nick))
	return ok
}

func (ch *channel) cancelRetry() {
	if ch.stopRetry != nil {
		ch.stopRetry()
		ch.stopRetry = nil
	}
}

func (ch *channel) reset() {
	ch.cancelRetry()
	ch.nicks = cmap.New()
	ch.state = notJoined
	ch.retriesLeft = maxJoinRetries
}

// rejoin is a JOIN to send after delay, unless ctx is cancelled first.
type rejoin struct {
	ctx     context.Context
	channel string
	delay   time.Duration
}

// effects collects what an update wants done once the state lock has been
// released: lines to write, events to emit, and delayed joins to schedule.
type effects struct {
	lines []string
	// urgent lines are written ahead of lines, and never throttled.
	urgent  []string
	events  []Event
	rejoins []rejoin
}

func (fx *effects) send(line string) {
	fx.lines = append(fx.lines, line)
}

func (fx *effects) sendNow(line string) {
	fx.urgent = append(fx.urgent, line)
}

func (fx *effects) emit(ev Event) {
	fx.events = append(fx.events, ev)
}

// state represents the actively-changing variables of a session. Everything
// within the state is guarded by the embedded sync.RWMutex. Only the
// connection loop writes to it, the Client reads from it.
type state struct {
	sync.RWMutex

	info  *ServerInfo
	debug *log.Logger

	// nicks are the candidates tried during registration, extended with
	// underscored variants when they run out.
	nicks   []string
	nickIdx int
	nick    string

	// chans is kept in the order channels were first seen.
	chans []*channel

	away string

	// servername, usermask and created are learned from the server, and
	// only valid for the current connection.
	servername string
	usermask   string
	created    time.Time

	nickAccepted bool

	// retryDelay is how long to wait before joining again after a 477.
	retryDelay time.Duration
}

func newState(info *ServerInfo, debug *log.Logger) *state {
	s := &state{info: info, debug: debug, retryDelay: joinRetryDelay}

	for _, name := range info.AutoJoin {
		if s.findChan(name) == nil {
			s.chans = append(s.chans, newChannel(name, notJoined))
		}
	}

	s.resetNicks()
	return s
}

func (s *state) resetNicks() {
	s.nicks = slices.Clone(s.info.Nicks)
	s.nickIdx = 0
	s.nick = s.nicks[0]
}

// reset prepares the state for a new connection. Channels are kept so they
// are joined again.
func (s *state) reset() {
	s.Lock()
	defer s.Unlock()

	s.nickAccepted = false
	s.resetNicks()

	for _, ch := range s.chans {
		ch.reset()
	}

	s.servername = ""
	s.usermask = ""
	s.created = time.Time{}
}

// register returns the first lines of a session. With SASL only the CAP LS
// is sent, the rest of the registration happens once the server lists its
// capabilities.
func (s *state) register() []string {
	s.RLock()
	defer s.RUnlock()

	var fx effects
	if s.info.SASL != nil {
		fx.send(wire.CapLS())
	} else {
		s.introduce(&fx)
	}

	return fx.lines
}

func (s *state) introduce(fx *effects) {
	if s.info.Pass != "" {
		fx.send(wire.Pass(s.info.Pass))
	}

	fx.send(wire.Nick(s.nick))
	fx.send(wire.User(s.info.username(), s.info.Realname))
}

// pingLine returns the PING sent to check on a silent connection.
func (s *state) pingLine() string {
	s.RLock()
	defer s.RUnlock()

	if s.servername != "" {
		return wire.Ping(s.servername)
	}

	return wire.Ping(s.info.Addr)
}

func (s *state) nextNick() string {
	s.nickIdx++
	if s.nickIdx >= len(s.nicks) {
		s.nicks = append(s.nicks, s.nicks[len(s.nicks)-1]+"_")
	}

	s.nick = s.nicks[s.nickIdx]
	return s.nick
}

func (s *state) identify(fx *effects) {
	if s.info.NickServIdent != "" {
		fx.send(wire.Privmsg("NickServ", "identify "+s.info.NickServIdent))
	}
}

func (s *state) findChan(name string) *channel {
	for _, ch := range s.chans {
		if rfc1459Equal(ch.name, name) {
			return ch
		}
	}

	return nil
}

func (s *state) removeChan(name string) {
	s.chans = slices.DeleteFunc(s.chans, func(ch *channel) bool {
		if rfc1459Equal(ch.name, name) {
			ch.cancelRetry()
			return true
		}
		return false
	})
}

func (s *state) isMe(src *wire.Source) (string, bool) {
	nick, ok := src.Nick()
	return nick, ok && rfc1459Equal(nick, s.nick)
}

// update applies msg to the state. QUIT and NICK commands get their Chans
// filled in.
func (s *state) update(msg *wire.Msg) (fx effects) {
	s.Lock()
	defer s.Unlock()

	switch cmd := msg.Cmd.(type) {
	case *wire.PingCmd:
		fx.sendNow(wire.Pong(cmd.Server))
	case *wire.JoinCmd:
		s.handleJOIN(msg.Source, cmd)
	case *wire.PartCmd:
		s.handlePART(msg.Source, cmd)
	case *wire.QuitCmd:
		s.handleQUIT(msg.Source, cmd)
	case *wire.NickCmd:
		s.handleNICK(&fx, msg.Source, cmd)
	case *wire.PrivmsgCmd:
		s.handleCTCPVersion(&fx, msg.Source, cmd)
	case *wire.CapCmd:
		s.handleCAP(&fx, cmd)
	case *wire.AuthenticateCmd:
		s.handleAUTHENTICATE(&fx, cmd)
	case *wire.ReplyCmd:
		s.handleReply(&fx, msg.Source, cmd)
	}

	return fx
}

func (s *state) handleJOIN(src *wire.Source, cmd *wire.JoinCmd) {
	nick, me := s.isMe(src)
	if nick == "" {
		return
	}

	if !me {
		if ch := s.findChan(cmd.Chan); ch != nil {
			ch.addNick(wire.DropNickPrefix(nick))
		}
		return
	}

	if src.Kind == wire.SourceUser && s.usermask == "" {
		s.usermask = nick + "!" + src.User
	}

	ch := s.findChan(cmd.Chan)
	if ch == nil {
		s.chans = append(s.chans, newChannel(cmd.Chan, joined))
		return
	}

	ch.cancelRetry()
	ch.state = joined
	ch.nicks = cmap.New()
}

func (s *state) handlePART(src *wire.Source, cmd *wire.PartCmd) {
	nick, me := s.isMe(src)
	if nick == "" {
		return
	}

	if me {
		s.removeChan(cmd.Chan)
		return
	}

	if ch := s.findChan(cmd.Chan); ch != nil {
		ch.removeNick(nick)
	}
}

func (s *state) handleQUIT(src *wire.Source, cmd *wire.QuitCmd) {
	nick, ok := src.Nick()
	if !ok {
		return
	}

	for _, ch := range s.chans {
		if ch.removeNick(nick) {
			cmd.Chans = append(cmd.Chans, ch.name)
		}
	}
}

func (s *state) handleNICK(fx *effects, src *wire.Source, cmd *wire.NickCmd) {
	old, me := s.isMe(src)
	if old == "" {
		return
	}

	if me {
		fx.emit(Event{Kind: NickChange, Nick: cmd.Nick})

		idx := slices.Index(s.nicks, cmd.Nick)
		if idx < 0 {
			s.nicks = append(s.nicks, cmd.Nick)
			idx = len(s.nicks) - 1
		}
		s.nickIdx = idx
		s.nick = cmd.Nick

		s.identify(fx)
	}

	for _, ch := range s.chans {
		if ch.removeNick(old) {
			ch.addNick(cmd.Nick)
			cmd.Chans = append(cmd.Chans, ch.name)
		}
	}
}

func (s *state) handleCTCPVersion(fx *effects, src *wire.Source, cmd *wire.PrivmsgCmd) {
	if cmd.Notice || cmd.CTCP != wire.CTCPVersion || s.info.Version == "" {
		return
	}

	if nick, ok := src.Nick(); ok {
		fx.send(wire.CTCPReply(nick, wire.CTCPVersion, s.info.Version))
	}
}

func hasCap(caps []string, name string) bool {
	for _, c := range caps {
		if c == name || strings.HasPrefix(c, name+"=") {
			return true
		}
	}

	return false
}

func (s *state) handleCAP(fx *effects, cmd *wire.CapCmd) {
	if s.info.SASL == nil {
		return
	}

	switch cmd.Subcommand {
	case "LS":
		s.introduce(fx)
		if hasCap(cmd.Params, "sasl") {
			fx.send(wire.CapReq("sasl"))
		} else {
			s.debug.Print("server does not support sasl, skipping authentication")
			fx.send(wire.CapEnd())
		}
	case "ACK":
		if hasCap(cmd.Params, "sasl") {
			fx.send(wire.Authenticate(sasl.Plain))
		}
	case "NAK":
		fx.send(wire.CapEnd())
	default:
		s.debug.Printf("ignoring CAP %s %v", cmd.Subcommand, cmd.Params)
	}
}

func (s *state) handleAUTHENTICATE(fx *effects, cmd *wire.AuthenticateCmd) {
	if s.info.SASL == nil || cmd.Param != "+" {
		return
	}

	auth := s.info.SASL
	_, ir, err := sasl.NewPlainClient(auth.Username, auth.Username, auth.Password).Start()
	if err != nil {
		s.debug.Printf("unable to start sasl: %s", err)
		fx.send(wire.Authenticate("*"))
		return
	}

	payload := base64.StdEncoding.EncodeToString(ir)
	for len(payload) >= saslChunkLen {
		fx.send(wire.Authenticate(payload[:saslChunkLen]))
		payload = payload[saslChunkLen:]
	}

	if payload == "" {
		payload = "+"
	}
	fx.send(wire.Authenticate(payload))
}

func (s *state) handleReply(fx *effects, src *wire.Source, cmd *wire.ReplyCmd) {
	params := cmd.Params

	switch cmd.Num {
	case RPL_WELCOME:
		fx.emit(Event{Kind: Connected})
		fx.emit(Event{Kind: NickChange, Nick: s.nick})
		s.nickAccepted = true
		s.identify(fx)
	case RPL_YOURHOST:
		if name := parseServername(src, params); name != "" {
			s.servername = name
		}
	case RPL_CREATED:
		s.parseCreated(params)
	case RPL_USERHOST:
		s.parseUserhost(params)
	case RPL_HOSTHIDDEN:
		if len(params) == 3 && s.usermask == "" {
			s.usermask = s.nick + "!~" + s.nicks[0] + "@" + params[1]
		}
	case RPL_NAMREPLY:
		if len(params) < 4 {
			s.debug.Printf("malformed RPL_NAMREPLY: %v", params)
			return
		}

		ch := s.findChan(params[2])
		if ch == nil {
			ch = newChannel(params[2], notJoined)
			s.chans = append(s.chans, ch)
		}
		for _, nick := range strings.Fields(params[3]) {
			ch.addNick(wire.DropNickPrefix(nick))
		}
	case RPL_ENDOFMOTD, ERR_NOMOTD:
		if len(s.chans) > 0 {
			names := make([]string, 0, len(s.chans))
			for _, ch := range s.chans {
				names = append(names, ch.name)
			}
			fx.send(wire.Join(names...))
		}

		if s.away != "" {
			fx.send(wire.Away(s.away))
		}
	case ERR_NICKNAMEINUSE, ERR_UNAVAILRESOURCE:
		// Once registered, this can only be the answer to a NICK the user
		// sent, which the user gets to see.
		if !s.nickAccepted {
			nick := s.nextNick()
			fx.emit(Event{Kind: NickChange, Nick: nick})
			fx.send(wire.Nick(nick))
		}
	case ERR_NEEDREGGEDNICK:
		s.handleNeedReggedNick(fx, src, params)
	case RPL_SASLSUCCESS, ERR_SASLFAIL, ERR_SASLTOOLONG, ERR_SASLABORTED:
		if s.info.SASL != nil {
			fx.send(wire.CapEnd())
		}
	}
}

const yourHostPrefix = "Your host is "

// parseServername extracts the server name from a RPL_YOURHOST, falling back
// to the sender of the reply.
func parseServername(src *wire.Source, params []string) string {
	var text string
	switch {
	case len(params) > 1:
		text = params[1]
	case len(params) == 1:
		text = params[0]
	}

	if rest, ok := strings.CutPrefix(text, yourHostPrefix); ok {
		end := strings.IndexByte(rest, '[')
		if end < 0 {
			end = strings.IndexByte(rest, ',')
		}
		if end >= 0 {
			return rest[:end]
		}
	}

	name, _ := src.Server()
	return name
}

const createdPrefix = "This server was created "

func (s *state) parseCreated(params []string) {
	if len(params) < 2 {
		return
	}

	text := strings.TrimPrefix(params[len(params)-1], createdPrefix)
	text = strings.Replace(text, " at ", " ", 1)

	created, err := dateparse.ParseAny(text)
	if err != nil {
		s.debug.Printf("unable to parse server creation date %q: %s", text, err)
		return
	}

	s.created = created
}

// parseUserhost handles the RPL_USERHOST reply to a USERHOST for our own
// nick, e.g. "osa1=+omer@moz-s8a.9ac.93.91.IP ".
func (s *state) parseUserhost(params []string) {
	if len(params) < 2 || s.usermask != "" {
		return
	}

	nick, host, ok := strings.Cut(strings.TrimSpace(params[1]), "=")
	if !ok {
		s.debug.Printf("unable to parse RPL_USERHOST: %v", params)
		return
	}

	host = strings.TrimLeft(host, "+-")
	s.usermask = strings.TrimSuffix(nick, "*") + "!" + strings.TrimSpace(host)
}

func (s *state) handleNeedReggedNick(fx *effects, src *wire.Source, params []string) {
	if len(params) < 3 {
		s.debug.Printf("malformed ERR_NEEDREGGEDNICK: %v", params)
		return
	}

	name, text := params[1], params[2]
	fx.emit(Event{Kind: MsgEvent, Msg: &wire.Msg{
		Source: src,
		Cmd:    &wire.PrivmsgCmd{Target: name, Text: text, Notice: true},
	}})

	if s.info.NickServIdent == "" {
		s.debug.Printf("cannot join %s without identifying, and no NickServ password is configured", name)
		return
	}

	ch := s.findChan(name)
	if ch == nil {
		s.debug.Printf("ERR_NEEDREGGEDNICK for unknown channel %s", name)
		return
	}

	if ch.state == joined {
		s.debug.Printf("ERR_NEEDREGGEDNICK for already joined channel %s", name)
		return
	}

	if ch.retriesLeft == 0 {
		fx.emit(Event{Kind: ChannelJoinError, Chan: name, Text: fmt.Sprintf("Unable to join %s.", name)})
		return
	}

	ch.retriesLeft--
	fx.emit(Event{
		Kind: ChannelJoinError,
		Chan: name,
		Text: fmt.Sprintf(
			"Attempting to rejoin %s in %s... (%d/%d)",
			name, delayText(s.retryDelay), maxJoinRetries-ch.retriesLeft, maxJoinRetries,
		),
	})

	ch.cancelRetry()
	ctx, cancel := context.WithCancel(context.Background())
	ch.state = joining
	ch.stopRetry = cancel
	fx.rejoins = append(fx.rejoins, rejoin{ctx: ctx, channel: ch.name, delay: s.retryDelay})
}

// delayText renders whole seconds as "N seconds", anything else as a
// time.Duration.
func delayText(d time.Duration) string {
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", d/time.Second)
	}

	return d.String()
}

// leaveChannel returns the PART to send, if any. A pending join retry is
// cancelled instead.
func (s *state) leaveChannel(name string) (string, bool) {
	s.Lock()
	defer s.Unlock()

	ch := s.findChan(name)
	if ch == nil {
		return "", false
	}

	switch ch.state {
	case joining:
		s.debug.Printf("aborting retry to join %s", ch.name)
		ch.cancelRetry()
		ch.state = notJoined
	case joined:
		return wire.Part(ch.name), true
	}

	return "", false
}

func (s *state) killJoinTasks() {
	s.Lock()
	defer s.Unlock()

	for _, ch := range s.chans {
		if ch.state == joining {
			ch.cancelRetry()
			ch.state = notJoined
		}
	}
}

func (s *state) setAway(msg string) {
	s.Lock()
	s.away = msg
	s.Unlock()
}

func (s *state) getNick() string {
	s.RLock()
	defer s.RUnlock()

	return s.nick
}

func (s *state) isNickAccepted() bool {
	s.RLock()
	defer s.RUnlock()

	return s.nickAccepted
}

func (s *state) getUsermask() string {
	s.RLock()
	defer s.RUnlock()

	return s.usermask
}

func (s *state) getCreated() time.Time {
	s.RLock()
	defer s.RUnlock()

	return s.created
}

// getChanNicks returns the members of a channel sorted case-insensitively,
// or nothing if the channel is unknown.
func (s *state) getChanNicks(name string) []string {
	s.RLock()
	defer s.RUnlock()

	ch := s.findChan(name)
	if ch == nil {
		return []string{}
	}

	nicks := make([]string, 0, ch.nicks.Count())
	for item := range ch.nicks.IterBuffered() {
		nicks = append(nicks, item.Val.(string))
	}

	slices.SortFunc(nicks, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})

	return nicks
}

// rfc1459Lower casefolds s per RFC1459, where []\~ are the uppercase forms
// of {}|^.
func rfc1459Lower(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '[':
			return '{'
		case r == ']':
			return '}'
		case r == '\\':
			return '|'
		case r == '~':
			return '^'
		}
		return r
	}, s)
}

func rfc1459Equal(a, b string) bool {
	return rfc1459Lower(a) == rfc1459Lower(b)
}
