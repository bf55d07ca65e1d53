// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package cmdhandler routes "!command args" style messages received by a
// tinyirc client to registered functions.
package cmdhandler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/lrstanley/tinyirc"
	"github.com/lrstanley/tinyirc/wire"
)

// Sender is the part of *tinyirc.Client used to reply.
type Sender interface {
	Privmsg(target, msg string, action bool) error
}

// Input is what a Command is invoked with.
type Input struct {
	// Origin is the message that invoked the command.
	Origin *wire.Msg
	// Nick is the nick of whoever invoked the command.
	Nick string
	// ReplyTo is the channel the command was sent to, or Nick for
	// private messages.
	ReplyTo string
	Args    []string
}

type Command struct {
	Help    string
	MinArgs int
	Fn      func(Sender, *Input)
}

type CmdHandler struct {
	prefix string
	re     *regexp.Regexp

	mu   sync.Mutex
	cmds map[string]*Command
}

var cmdMatch = `^%s([a-zA-Z0-9-_]{1,20})(?: (.*))?$`

func New(prefix string) (*CmdHandler, error) {
	re, err := regexp.Compile(fmt.Sprintf(cmdMatch, regexp.QuoteMeta(prefix)))
	if err != nil {
		return nil, err
	}

	return &CmdHandler{prefix: prefix, re: re, cmds: make(map[string]*Command)}, nil
}

var validName = regexp.MustCompile(`^[a-zA-Z0-9-_]{1,20}$`)

func (ch *CmdHandler) Add(name string, cmd *Command) error {
	if cmd == nil {
		return errors.New("nil command provided to CmdHandler")
	}

	name = strings.ToLower(name)

	if !validName.MatchString(name) || name == "help" {
		return fmt.Errorf("invalid command name: %q (req: %q)", name, validName.String())
	}

	if cmd.MinArgs < 0 {
		cmd.MinArgs = 0
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.cmds[name]; ok {
		return fmt.Errorf("command already registered: %s", name)
	}

	ch.cmds[name] = cmd

	return nil
}

// Execute looks for a command in ev and runs it on the calling goroutine.
// It reports whether ev invoked a known command (or help), and the error of
// a reply sent by the handler itself. Events other than non-CTCP PRIVMSGs
// from users are ignored.
func (ch *CmdHandler) Execute(s Sender, ev tinyirc.Event) (bool, error) {
	if ev.Kind != tinyirc.MsgEvent || ev.Msg == nil {
		return false, nil
	}

	pm, ok := ev.Msg.Cmd.(*wire.PrivmsgCmd)
	if !ok || pm.Notice || pm.CTCP != "" {
		return false, nil
	}

	nick, ok := ev.Msg.Source.Nick()
	if !ok {
		return false, nil
	}

	parsed := ch.re.FindStringSubmatch(wire.StripCodes(pm.Text))
	if len(parsed) != 3 {
		return false, nil
	}

	replyTo := nick
	if pm.IsChannel() {
		replyTo = pm.Target
	}

	invCmd := strings.ToLower(parsed[1])
	args := strings.Fields(parsed[2])

	ch.mu.Lock()
	cmd, ok := ch.cmds[invCmd]
	var help *Command
	if invCmd == "help" && len(args) > 0 {
		help = ch.cmds[strings.ToLower(args[0])]
	}
	ch.mu.Unlock()

	if invCmd == "help" {
		var reply string
		switch {
		case len(args) == 0:
			reply = fmt.Sprintf(wire.Fmt("type '{b}%shelp {blue}<command>{c}{b}' to optionally get more info about a specific command."), ch.prefix)
		case help == nil:
			reply = fmt.Sprintf(wire.Fmt("unknown command {b}%q{b}."), args[0])
		case help.Help == "":
			reply = fmt.Sprintf(wire.Fmt("there is no help documentation for {b}%q{b}"), args[0])
		default:
			reply = fmt.Sprintf(wire.Fmt("{b}%s%s{b} :: %s"), ch.prefix, strings.ToLower(args[0]), help.Help)
		}
		return true, s.Privmsg(replyTo, reply, false)
	}

	if !ok {
		return false, nil
	}

	if len(args) < cmd.MinArgs {
		return true, s.Privmsg(replyTo, fmt.Sprintf(wire.Fmt("not enough arguments supplied for {b}%q{b}. try '{b}%shelp %s{b}'?"), invCmd, ch.prefix, invCmd), false)
	}

	cmd.Fn(s, &Input{Origin: ev.Msg, Nick: nick, ReplyTo: replyTo, Args: args})

	return true, nil
}
