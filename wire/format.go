// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package wire

import (
	"fmt"
	"strings"
)

// Each formatter returns a complete line, CRLF included.

func Pass(pass string) string {
	return "PASS " + pass + "\r\n"
}

// Quit builds a QUIT, with no trailing parameter when reason is empty.
func Quit(reason string) string {
	if reason == "" {
		return "QUIT\r\n"
	}

	return "QUIT :" + reason + "\r\n"
}

// User builds the registration USER line with mode 8 (invisible).
func User(username, realname string) string {
	return "USER " + username + " 8 * :" + realname + "\r\n"
}

func Nick(nick string) string {
	return "NICK " + nick + "\r\n"
}

func Ping(server string) string {
	return "PING " + server + "\r\n"
}

func Pong(server string) string {
	return "PONG " + server + "\r\n"
}

// Join builds a single JOIN for all given channels.
func Join(chans ...string) string {
	return "JOIN " + strings.Join(chans, ",") + "\r\n"
}

func Part(channel string) string {
	return "PART " + channel + "\r\n"
}

// Privmsg builds a PRIVMSG. The caller is responsible for splitting msg,
// it panics if the line would not fit in MaxLineLen.
func Privmsg(target, msg string) string {
	// "PRIVMSG " + " :" + "\r\n"
	if len(target)+len(msg)+12 > MaxLineLen {
		panic(fmt.Sprintf("wire: PRIVMSG to %q too long (%d bytes of text)", target, len(msg)))
	}

	return "PRIVMSG " + target + " :" + msg + "\r\n"
}

// Action builds a CTCP ACTION PRIVMSG. Like Privmsg, it panics when the line
// would not fit in MaxLineLen.
func Action(target, msg string) string {
	// "PRIVMSG " + " :" + "\x01ACTION " + "\x01" + "\r\n"
	if len(target)+len(msg)+21 > MaxLineLen {
		panic(fmt.Sprintf("wire: ACTION to %q too long (%d bytes of text)", target, len(msg)))
	}

	return "PRIVMSG " + target + " :" + encodeCTCP(CTCPAction, msg) + "\r\n"
}

func Notice(target, msg string) string {
	return "NOTICE " + target + " :" + msg + "\r\n"
}

// CTCPReply answers a CTCP request, replies are always sent as NOTICE.
func CTCPReply(target string, ctcp CTCP, text string) string {
	return Notice(target, encodeCTCP(ctcp, text))
}

// Away marks us as away with msg, or as back when msg is empty.
func Away(msg string) string {
	if msg == "" {
		return "AWAY\r\n"
	}

	return "AWAY :" + msg + "\r\n"
}

func CapLS() string {
	return "CAP LS\r\n"
}

func CapReq(caps ...string) string {
	return "CAP REQ :" + strings.Join(caps, " ") + "\r\n"
}

func CapEnd() string {
	return "CAP END\r\n"
}

func Authenticate(msg string) string {
	return "AUTHENTICATE " + msg + "\r\n"
}
