// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package wire

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// MaxLineLen is the maximum length of an IRC line, including the trailing
// CRLF, see RFC1459 section 2.3.
const MaxLineLen = 512

// maxMiddleParams is the number of space separated parameters before the
// remainder of the line is taken verbatim as the last one.
const maxMiddleParams = 14

var crlf = []byte("\r\n")

// ErrIncomplete is returned by ParseMessage when the buffer does not yet
// hold a full CRLF terminated line.
var ErrIncomplete = errors.New("wire: incomplete message")

// ParseError is returned when a complete line was consumed but could not be
// decoded into a message.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return "wire: " + e.Reason + ": " + strconv.Quote(e.Line)
}

// Msg is a single decoded IRC message.
type Msg struct {
	// Source is nil when the line carried no prefix.
	Source *Source
	Cmd    Cmd
}

// Cmd is one of the *XCmd types in this package.
type Cmd interface {
	isCmd()
}

// PrivmsgCmd is a PRIVMSG or NOTICE with exactly a target and a text.
type PrivmsgCmd struct {
	Target string
	Text   string
	Notice bool
	// CTCP is empty unless Text was CTCP-framed, in which case Text holds
	// the CTCP argument without framing.
	CTCP CTCP
}

// IsChannel reports whether the message was sent to a channel.
func (c *PrivmsgCmd) IsChannel() bool {
	return strings.HasPrefix(c.Target, "#")
}

// IsAction reports whether the message is a CTCP ACTION (/me).
func (c *PrivmsgCmd) IsAction() bool {
	return c.CTCP == CTCPAction
}

type JoinCmd struct {
	Chan string
}

type PartCmd struct {
	Chan string
	Msg  string
}

type QuitCmd struct {
	Msg string
	// Chans is filled by the session with every channel the quitting user
	// was seen in.
	Chans []string
}

type NickCmd struct {
	Nick string
	// Chans is filled by the session with every channel in which the rename
	// was applied.
	Chans []string
}

type PingCmd struct {
	Server string
}

type PongCmd struct {
	Server string
}

type ErrorCmd struct {
	Msg string
}

type TopicCmd struct {
	Chan  string
	Topic string
}

// CapCmd is a CAP reply, e.g. "CAP * ACK :sasl". Params holds the
// individual capabilities of the last parameter.
type CapCmd struct {
	Client     string
	Subcommand string
	Params     []string
}

type AuthenticateCmd struct {
	Param string
}

// ReplyCmd is a numeric reply.
type ReplyCmd struct {
	Num    uint16
	Params []string
}

// OtherCmd is any command not covered by a more specific type, including
// known commands that arrived with an unexpected number of parameters.
type OtherCmd struct {
	Command string
	Params  []string
}

func (*PrivmsgCmd) isCmd()      {}
func (*JoinCmd) isCmd()         {}
func (*PartCmd) isCmd()         {}
func (*QuitCmd) isCmd()         {}
func (*NickCmd) isCmd()         {}
func (*PingCmd) isCmd()         {}
func (*PongCmd) isCmd()         {}
func (*ErrorCmd) isCmd()        {}
func (*TopicCmd) isCmd()        {}
func (*CapCmd) isCmd()          {}
func (*AuthenticateCmd) isCmd() {}
func (*ReplyCmd) isCmd()        {}
func (*OtherCmd) isCmd()        {}

// ParseMessage decodes the first CRLF terminated line in buf. If there is
// none, ErrIncomplete is returned and buf is left untouched. Otherwise the
// line is always removed from buf, even when it fails to parse, so a
// malformed line never wedges the caller.
func ParseMessage(buf *[]byte) (*Msg, error) {
	idx := bytes.Index(*buf, crlf)
	if idx < 0 {
		return nil, ErrIncomplete
	}

	line := decodeLossy((*buf)[:idx])
	n := copy(*buf, (*buf)[idx+len(crlf):])
	*buf = (*buf)[:n]

	return parseLine(line)
}

func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}

	return string(out)
}

func parseLine(line string) (*Msg, error) {
	msg := &Msg{}
	rest := line

	if strings.HasPrefix(rest, ":") {
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			return nil, &ParseError{Line: line, Reason: "can't find prefix terminator"}
		}

		msg.Source = ParseSource(rest[1:end])
		rest = rest[end+1:]
	}

	command, rest, _ := strings.Cut(rest, " ")
	if command == "" {
		return nil, &ParseError{Line: line, Reason: "missing command"}
	}

	msg.Cmd = newCmd(command, ParseParams(rest))
	return msg, nil
}

func newCmd(command string, params []string) Cmd {
	switch n := len(params); {
	case (command == "PRIVMSG" || command == "NOTICE") && n == 2:
		ctcp, text := decodeCTCP(params[1])
		return &PrivmsgCmd{Target: params[0], Text: text, Notice: command == "NOTICE", CTCP: ctcp}
	case command == "JOIN" && n == 1:
		return &JoinCmd{Chan: params[0]}
	case command == "PART" && (n == 1 || n == 2):
		cmd := &PartCmd{Chan: params[0]}
		if n == 2 {
			cmd.Msg = params[1]
		}
		return cmd
	case command == "QUIT" && n <= 1:
		cmd := &QuitCmd{}
		if n == 1 {
			cmd.Msg = params[0]
		}
		return cmd
	case command == "NICK" && n == 1:
		return &NickCmd{Nick: params[0]}
	case command == "PING" && n == 1:
		return &PingCmd{Server: params[0]}
	case command == "PONG" && n >= 1:
		return &PongCmd{Server: params[0]}
	case command == "ERROR" && n == 1:
		return &ErrorCmd{Msg: params[0]}
	case command == "TOPIC" && n == 2:
		return &TopicCmd{Chan: params[0], Topic: params[1]}
	case command == "CAP" && n == 3:
		return &CapCmd{Client: params[0], Subcommand: params[1], Params: strings.Fields(params[2])}
	case command == "AUTHENTICATE" && n == 1:
		return &AuthenticateCmd{Param: params[0]}
	}

	if num, err := strconv.ParseUint(command, 10, 16); err == nil {
		return &ReplyCmd{Num: uint16(num), Params: params}
	}

	return &OtherCmd{Command: command, Params: params}
}

// ParseParams splits the parameter section of a line. Leading spaces are
// skipped, a ':' starts the trailing parameter which runs to the end of the
// line, and after fourteen middle parameters the remainder is taken as-is.
func ParseParams(s string) []string {
	params := []string{}

	for {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			return params
		}

		if s[0] == ':' {
			return append(params, s[1:])
		}

		if len(params) == maxMiddleParams {
			return append(params, s)
		}

		end := strings.IndexByte(s, ' ')
		if end < 0 {
			return append(params, s)
		}

		params = append(params, s[:end])
		s = s[end+1:]
	}
}
