// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

import (
	"encoding/base64"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"github.com/lrstanley/tinyirc/wire"
)

func testState(info ServerInfo) *state {
	if info.Addr == "" {
		info.Addr = "irc.example.net"
	}
	if len(info.Nicks) == 0 {
		info.Nicks = []string{"me"}
	}

	return newState(&info, log.New(io.Discard, "", 0))
}

func parse(t *testing.T, line string) *wire.Msg {
	t.Helper()

	buf := []byte(line + "\r\n")
	msg, err := wire.ParseMessage(&buf)
	if err != nil {
		t.Fatalf("unable to parse %q: %v", line, err)
	}

	return msg
}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}

	return kinds
}

func TestNickNegotiation(t *testing.T) {
	s := testState(ServerInfo{Nicks: []string{"a", "b"}})

	for _, want := range []string{"b", "b_", "b__"} {
		fx := s.update(parse(t, ":srv 433 * x :Nickname is already in use"))
		if s.nick != want {
			t.Fatalf("nick after 433 = %q, want %q", s.nick, want)
		}
		if !reflect.DeepEqual(fx.lines, []string{"NICK " + want + "\r\n"}) {
			t.Fatalf("lines after 433 = %q", fx.lines)
		}
		if len(fx.events) != 1 || fx.events[0].Kind != NickChange || fx.events[0].Nick != want {
			t.Fatalf("events after 433 = %v", fx.events)
		}
	}

	fx := s.update(parse(t, ":srv 001 b__ :Welcome"))
	if !s.nickAccepted {
		t.Fatal("nick not accepted after 001")
	}
	if got := eventKinds(fx.events); !reflect.DeepEqual(got, []EventKind{Connected, NickChange}) {
		t.Fatalf("events after 001 = %v", got)
	}
	if fx.events[1].Nick != "b__" {
		t.Fatalf("NickChange after 001 = %q", fx.events[1].Nick)
	}

	fx = s.update(parse(t, ":srv 433 b__ taken :Nickname is already in use"))
	if s.nick != "b__" || len(fx.lines) != 0 || len(fx.events) != 0 {
		t.Fatalf("433 after 001 changed state: nick %q, lines %q, events %v", s.nick, fx.lines, fx.events)
	}
}

func TestWelcomeIdentifies(t *testing.T) {
	s := testState(ServerInfo{NickServIdent: "hunter2"})

	fx := s.update(parse(t, ":srv 001 me :Welcome"))
	if !reflect.DeepEqual(fx.lines, []string{"PRIVMSG NickServ :identify hunter2\r\n"}) {
		t.Fatalf("lines after 001 = %q", fx.lines)
	}
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name string
		info ServerInfo
		want []string
	}{
		{
			name: "plain",
			info: ServerInfo{Nicks: []string{"tiny", "tiny2"}, Realname: "Tiny User"},
			want: []string{"NICK tiny\r\n", "USER tiny 8 * :Tiny User\r\n"},
		},
		{
			name: "password and user",
			info: ServerInfo{Nicks: []string{"tiny"}, Pass: "secret", User: "ident", Realname: "r"},
			want: []string{"PASS secret\r\n", "NICK tiny\r\n", "USER ident 8 * :r\r\n"},
		},
		{
			name: "sasl",
			info: ServerInfo{Nicks: []string{"tiny"}, SASL: &SASLAuth{Username: "u", Password: "p"}},
			want: []string{"CAP LS\r\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testState(tt.info).register(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("register() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSASL(t *testing.T) {
	s := testState(ServerInfo{Nicks: []string{"tiny"}, Realname: "r", SASL: &SASLAuth{Username: "user", Password: "pass"}})

	fx := s.update(parse(t, ":srv CAP * LS :multi-prefix sasl"))
	want := []string{"NICK tiny\r\n", "USER tiny 8 * :r\r\n", "CAP REQ :sasl\r\n"}
	if !reflect.DeepEqual(fx.lines, want) {
		t.Fatalf("lines after CAP LS = %q, want %q", fx.lines, want)
	}

	fx = s.update(parse(t, ":srv CAP * ACK :sasl"))
	if !reflect.DeepEqual(fx.lines, []string{"AUTHENTICATE PLAIN\r\n"}) {
		t.Fatalf("lines after CAP ACK = %q", fx.lines)
	}

	fx = s.update(parse(t, "AUTHENTICATE +"))
	payload := base64.StdEncoding.EncodeToString([]byte("user\x00user\x00pass"))
	if !reflect.DeepEqual(fx.lines, []string{"AUTHENTICATE " + payload + "\r\n"}) {
		t.Fatalf("lines after AUTHENTICATE + = %q", fx.lines)
	}

	for _, line := range []string{
		":srv 903 tiny :SASL authentication successful",
		":srv 904 tiny :SASL authentication failed",
		":srv CAP * NAK :sasl",
	} {
		fx = s.update(parse(t, line))
		if !reflect.DeepEqual(fx.lines, []string{"CAP END\r\n"}) {
			t.Fatalf("lines after %q = %q", line, fx.lines)
		}
	}
}

func TestSASLUnsupported(t *testing.T) {
	s := testState(ServerInfo{Nicks: []string{"tiny"}, SASL: &SASLAuth{Username: "u", Password: "p"}})

	fx := s.update(parse(t, ":srv CAP * LS :multi-prefix"))
	if last := fx.lines[len(fx.lines)-1]; last != "CAP END\r\n" {
		t.Fatalf("last line after CAP LS without sasl = %q", last)
	}
}

func TestSASLLongPayload(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	s := testState(ServerInfo{SASL: &SASLAuth{Username: "u", Password: string(long)}})

	fx := s.update(parse(t, "AUTHENTICATE +"))
	if len(fx.lines) < 2 {
		t.Fatalf("expected a chunked payload, got %q", fx.lines)
	}
	for _, line := range fx.lines[:len(fx.lines)-1] {
		if len(line) != len("AUTHENTICATE ")+saslChunkLen+2 {
			t.Fatalf("chunk %q is not %d bytes of payload", line, saslChunkLen)
		}
	}
}

func TestChannelMembership(t *testing.T) {
	s := testState(ServerInfo{Nicks: []string{"me"}})

	s.update(parse(t, ":me!~me@host.net JOIN #tiny"))
	if ch := s.findChan("#tiny"); ch == nil || ch.state != joined {
		t.Fatalf("channel not joined after own JOIN: %#v", ch)
	}
	if s.usermask != "me!~me@host.net" {
		t.Fatalf("usermask = %q", s.usermask)
	}

	s.update(parse(t, ":srv 353 me = #tiny :@me +Zed alice ~Bob"))
	s.update(parse(t, ":carol!c@h JOIN #tiny"))

	want := []string{"alice", "Bob", "carol", "me", "Zed"}
	if got := s.getChanNicks("#tiny"); !reflect.DeepEqual(got, want) {
		t.Fatalf("getChanNicks() = %q, want %q", got, want)
	}

	s.update(parse(t, ":carol!c@h PART #tiny :bye"))
	if got := s.getChanNicks("#TINY"); len(got) != 4 {
		t.Fatalf("carol still listed after PART: %q", got)
	}

	s.update(parse(t, ":me!~me@host.net PART #tiny"))
	if s.findChan("#tiny") != nil {
		t.Fatal("channel kept after own PART")
	}
	if got := s.getChanNicks("#tiny"); len(got) != 0 {
		t.Fatalf("getChanNicks() on unknown channel = %q", got)
	}
}

func TestNickRename(t *testing.T) {
	s := testState(ServerInfo{AutoJoin: []string{"#a", "#b", "#c"}})

	s.update(parse(t, ":srv 353 me = #a :bob"))
	s.update(parse(t, ":srv 353 me = #b :@bob"))
	s.update(parse(t, ":srv 353 me = #c :alice"))

	msg := parse(t, ":bob!b@h NICK robert")
	fx := s.update(msg)
	if len(fx.events) != 0 {
		t.Fatalf("rename of another user emitted %v", fx.events)
	}

	if got := msg.Cmd.(*wire.NickCmd).Chans; !reflect.DeepEqual(got, []string{"#a", "#b"}) {
		t.Fatalf("NICK chans = %q", got)
	}

	for _, name := range []string{"#a", "#b"} {
		if got := s.getChanNicks(name); !reflect.DeepEqual(got, []string{"robert"}) {
			t.Fatalf("%s members = %q", name, got)
		}
	}
	if got := s.getChanNicks("#c"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("#c members = %q", got)
	}
}

func TestOwnNickChange(t *testing.T) {
	s := testState(ServerInfo{Nicks: []string{"me", "me2"}, NickServIdent: "pw"})

	fx := s.update(parse(t, ":me!u@h NICK other"))
	if s.nick != "other" || s.nicks[s.nickIdx] != "other" {
		t.Fatalf("nick = %q, nicks = %q, idx = %d", s.nick, s.nicks, s.nickIdx)
	}
	if len(fx.events) != 1 || fx.events[0].Kind != NickChange || fx.events[0].Nick != "other" {
		t.Fatalf("events = %v", fx.events)
	}
	if !reflect.DeepEqual(fx.lines, []string{"PRIVMSG NickServ :identify pw\r\n"}) {
		t.Fatalf("lines = %q", fx.lines)
	}

	s.update(parse(t, ":other!u@h NICK me2"))
	if s.nickIdx != 1 {
		t.Fatalf("nickIdx = %d, want 1", s.nickIdx)
	}
}

func TestQuitChannels(t *testing.T) {
	s := testState(ServerInfo{AutoJoin: []string{"#a", "#b"}})
	s.update(parse(t, ":srv 353 me = #b :bob alice"))

	msg := parse(t, ":bob!b@h QUIT :Ping timeout")
	s.update(msg)

	if got := msg.Cmd.(*wire.QuitCmd).Chans; !reflect.DeepEqual(got, []string{"#b"}) {
		t.Fatalf("QUIT chans = %q", got)
	}
	if got := s.getChanNicks("#b"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("#b members = %q", got)
	}
}

func TestEndOfMotd(t *testing.T) {
	s := testState(ServerInfo{AutoJoin: []string{"#a", "#b"}})
	s.setAway("lunch")

	for _, line := range []string{":srv 376 me :End of /MOTD command.", ":srv 422 me :MOTD File is missing"} {
		fx := s.update(parse(t, line))
		want := []string{"JOIN #a,#b\r\n", "AWAY :lunch\r\n"}
		if !reflect.DeepEqual(fx.lines, want) {
			t.Fatalf("lines after %q = %q, want %q", line, fx.lines, want)
		}
	}

	if fx := testState(ServerInfo{}).update(parse(t, ":srv 376 me :End")); len(fx.lines) != 0 {
		t.Fatalf("376 without channels sent %q", fx.lines)
	}
}

func TestParseServername(t *testing.T) {
	tests := []struct {
		name   string
		src    *wire.Source
		params []string
		want   string
	}{
		{
			name:   "standard",
			src:    wire.ParseSource("card.freenode.net"),
			params: []string{"nickname", "Your host is card.freenode.net[38.229.70.22/6697], running version ircd-seven-1.1.9"},
			want:   "card.freenode.net",
		},
		{
			name:   "comma",
			src:    wire.ParseSource("irc.eagle.y.se"),
			params: []string{"nickname", "Your host is irc.eagle.y.se, running version ircd-ratbox-3.0.8"},
			want:   "irc.eagle.y.se",
		},
		{
			name:   "gitter",
			src:    wire.ParseSource("irc.gitter.im"),
			params: []string{"nickname", " 1.10.0"},
			want:   "irc.gitter.im",
		},
		{
			name:   "user prefix",
			src:    wire.ParseSource("nick!u@h"),
			params: []string{"nickname", "something else"},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseServername(tt.src, tt.params); got != tt.want {
				t.Errorf("parseServername() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPingLine(t *testing.T) {
	s := testState(ServerInfo{Addr: "irc.example.net"})
	if got := s.pingLine(); got != "PING irc.example.net\r\n" {
		t.Fatalf("pingLine() before 002 = %q", got)
	}

	s.update(parse(t, ":hub.example.net 002 me :Your host is leaf.example.net[1.2.3.4/6667], running version x"))
	if got := s.pingLine(); got != "PING leaf.example.net\r\n" {
		t.Fatalf("pingLine() after 002 = %q", got)
	}

	fx := s.update(parse(t, "PING :leaf.example.net"))
	if !reflect.DeepEqual(fx.urgent, []string{"PONG leaf.example.net\r\n"}) || len(fx.lines) != 0 {
		t.Fatalf("lines after PING = %q, urgent %q", fx.lines, fx.urgent)
	}
}

func TestUsermask(t *testing.T) {
	s := testState(ServerInfo{Nicks: []string{"me"}})
	s.update(parse(t, ":srv 396 me hidden.host :is now your hidden host"))
	if s.usermask != "me!~me@hidden.host" {
		t.Fatalf("usermask after 396 = %q", s.usermask)
	}

	// The first one observed wins.
	s.update(parse(t, ":me!u@other.host JOIN #tiny"))
	if s.usermask != "me!~me@hidden.host" {
		t.Fatalf("usermask overwritten by JOIN: %q", s.usermask)
	}

	s = testState(ServerInfo{Nicks: []string{"me"}})
	s.update(parse(t, ":srv 302 me :me=+omer@moz-s8a.9ac.93.91.IP "))
	if s.usermask != "me!omer@moz-s8a.9ac.93.91.IP" {
		t.Fatalf("usermask after 302 = %q", s.usermask)
	}

	s.reset()
	if s.usermask != "" {
		t.Fatalf("usermask kept after reset: %q", s.usermask)
	}
}

func TestReset(t *testing.T) {
	s := testState(ServerInfo{Nicks: []string{"a", "b"}, AutoJoin: []string{"#a"}})

	s.update(parse(t, ":srv 433 * a :in use"))
	s.update(parse(t, ":srv 433 * b :in use"))
	s.update(parse(t, ":srv 001 b_ :Welcome"))
	s.update(parse(t, ":srv 002 b_ :Your host is irc.example.net, running x"))
	s.update(parse(t, ":b_!u@h JOIN #a"))
	s.update(parse(t, ":srv 353 b_ = #a :b_ bob"))

	s.reset()

	if s.nick != "a" || s.nickIdx != 0 || !reflect.DeepEqual(s.nicks, []string{"a", "b"}) {
		t.Fatalf("nicks not reset: nick %q, idx %d, nicks %q", s.nick, s.nickIdx, s.nicks)
	}
	if s.nickAccepted || s.servername != "" {
		t.Fatalf("accepted %v, servername %q after reset", s.nickAccepted, s.servername)
	}

	ch := s.findChan("#a")
	if ch == nil || ch.state != notJoined || ch.nicks.Count() != 0 || ch.retriesLeft != maxJoinRetries {
		t.Fatalf("channel not reset: %#v", ch)
	}
}

func TestNeedReggedNick(t *testing.T) {
	s := testState(ServerInfo{NickServIdent: "pw", AutoJoin: []string{"#c"}})
	line := ":srv 477 me #c :Cannot join channel (+r) - you need to be identified"

	for i := 1; i <= maxJoinRetries; i++ {
		fx := s.update(parse(t, line))
		if got := eventKinds(fx.events); !reflect.DeepEqual(got, []EventKind{MsgEvent, ChannelJoinError}) {
			t.Fatalf("events = %v", got)
		}

		notice, ok := fx.events[0].Msg.Cmd.(*wire.PrivmsgCmd)
		if !ok || !notice.Notice || notice.Target != "#c" {
			t.Fatalf("477 not re-emitted as a channel notice: %#v", fx.events[0].Msg.Cmd)
		}

		want := "Attempting to rejoin #c in 10 seconds... (" + string(rune('0'+i)) + "/3)"
		if fx.events[1].Text != want || fx.events[1].Chan != "#c" {
			t.Fatalf("ChannelJoinError = %q, want %q", fx.events[1].Text, want)
		}
		if len(fx.rejoins) != 1 || fx.rejoins[0].channel != "#c" || fx.rejoins[0].delay != joinRetryDelay {
			t.Fatalf("rejoins = %v", fx.rejoins)
		}
	}

	fx := s.update(parse(t, line))
	if len(fx.rejoins) != 0 || fx.events[1].Text != "Unable to join #c." {
		t.Fatalf("after exhausting retries: events %v, rejoins %v", fx.events, fx.rejoins)
	}
}

func TestNeedReggedNickDelay(t *testing.T) {
	s := testState(ServerInfo{NickServIdent: "pw", AutoJoin: []string{"#c"}})
	s.retryDelay = 1500 * time.Millisecond

	fx := s.update(parse(t, ":srv 477 me #c :you need to be identified"))
	if fx.events[1].Text != "Attempting to rejoin #c in 1.5s... (1/3)" {
		t.Fatalf("ChannelJoinError = %q", fx.events[1].Text)
	}
	if fx.rejoins[0].delay != s.retryDelay {
		t.Fatalf("rejoin delay = %s, announced %s", fx.rejoins[0].delay, s.retryDelay)
	}
}

func TestDelayText(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 10 * time.Second, want: "10 seconds"},
		{in: time.Minute, want: "60 seconds"},
		{in: 10 * time.Millisecond, want: "10ms"},
		{in: 2500 * time.Millisecond, want: "2.5s"},
	}

	for _, tt := range tests {
		if got := delayText(tt.in); got != tt.want {
			t.Errorf("delayText(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNeedReggedNickWithoutIdent(t *testing.T) {
	s := testState(ServerInfo{AutoJoin: []string{"#c"}})

	fx := s.update(parse(t, ":srv 477 me #c :you need to be identified"))
	if got := eventKinds(fx.events); !reflect.DeepEqual(got, []EventKind{MsgEvent}) {
		t.Fatalf("events = %v", got)
	}
	if len(fx.rejoins) != 0 {
		t.Fatal("retry scheduled without a NickServ password")
	}
}

func TestLeaveChannel(t *testing.T) {
	s := testState(ServerInfo{NickServIdent: "pw", AutoJoin: []string{"#c"}})

	if _, ok := s.leaveChannel("#c"); ok {
		t.Fatal("PART sent for a channel that isn't joined")
	}

	fx := s.update(parse(t, ":srv 477 me #c :you need to be identified"))
	s.leaveChannel("#c")
	if fx.rejoins[0].ctx.Err() == nil {
		t.Fatal("pending retry not cancelled")
	}

	s.update(parse(t, ":me!u@h JOIN #c"))
	if line, ok := s.leaveChannel("#c"); !ok || line != "PART #c\r\n" {
		t.Fatalf("leaveChannel() = %q, %v", line, ok)
	}

	if _, ok := s.leaveChannel("#unknown"); ok {
		t.Fatal("PART sent for an unknown channel")
	}
}

func TestKillJoinTasks(t *testing.T) {
	s := testState(ServerInfo{NickServIdent: "pw", AutoJoin: []string{"#a", "#b"}})

	fxa := s.update(parse(t, ":srv 477 me #a :identify"))
	fxb := s.update(parse(t, ":srv 477 me #b :identify"))
	s.killJoinTasks()

	if fxa.rejoins[0].ctx.Err() == nil || fxb.rejoins[0].ctx.Err() == nil {
		t.Fatal("join retries not cancelled")
	}
}

func TestCTCPVersionReply(t *testing.T) {
	s := testState(ServerInfo{Version: "tiny 1.0"})

	fx := s.update(parse(t, ":bob!b@h PRIVMSG me :\x01VERSION\x01"))
	if !reflect.DeepEqual(fx.lines, []string{"NOTICE bob :\x01VERSION tiny 1.0\x01\r\n"}) {
		t.Fatalf("lines = %q", fx.lines)
	}

	if fx = testState(ServerInfo{}).update(parse(t, ":bob!b@h PRIVMSG me :\x01VERSION\x01")); len(fx.lines) != 0 {
		t.Fatalf("replied without a version: %q", fx.lines)
	}
}

func TestServerCreated(t *testing.T) {
	s := testState(ServerInfo{})

	s.update(parse(t, ":srv 003 me :This server was created Mon, 02 Jan 2006 15:04:05 UTC"))
	if s.created.Year() != 2006 || s.created.Month() != time.January || s.created.Day() != 2 {
		t.Fatalf("created = %s", s.created)
	}
}

func TestRFC1459Equal(t *testing.T) {
	if !rfc1459Equal("Nick[away]", "nick{AWAY}") {
		t.Fatal("rfc1459 casemapping not applied")
	}
	if rfc1459Equal("#a", "#b") {
		t.Fatal("different names compared equal")
	}
}
