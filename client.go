// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

import (
	"errors"
	"io"
	"iter"
	"log"
	"net"
	"slices"
	"time"

	"github.com/lrstanley/tinyirc/wire"
)

// ErrClosed is returned by Client methods once the client has terminated,
// after a Quit or a CantResolveAddr.
var ErrClosed = errors.New("client has been closed")

// ErrMessageTooLong is returned when a message can't fit in a single line.
var ErrMessageTooLong = errors.New("message too long")

const (
	eventBufferLen = 100
	cmdBufferLen   = 100
)

type cmdKind int

const (
	cmdMsg cmdKind = iota
	cmdReconnect
	cmdQuit
)

// command is what the Client sends to the connection loop.
type command struct {
	kind   cmdKind
	line   string // cmdMsg
	port   int    // cmdReconnect, 0 keeps the current port
	reason string // cmdQuit
}

// Client is a handle to a connection to a single IRC server. It may be
// shared between goroutines.
type Client struct {
	info  ServerInfo
	state *state
	// debug is used if a writer is supplied for ServerInfo.Debug.
	debug *log.Logger

	cmds   chan command
	events chan Event
	// done is closed once the connection loop has terminated.
	done chan struct{}

	resolver Resolver
	dialer   Dialer

	reconnectDelay time.Duration
	pingInterval   time.Duration
}

// New starts connecting to the server described by info and returns a handle
// to the connection together with its events. The event channel is closed
// when the client terminates. New panics if info has no nicks.
func New(info ServerInfo) (*Client, <-chan Event) {
	c := newClient(info)
	go c.run()

	return c, c.events
}

func newClient(info ServerInfo) *Client {
	if len(info.Nicks) == 0 {
		panic("tinyirc: " + ErrNoNicks.Error())
	}

	info.Nicks = slices.Clone(info.Nicks)
	info.AutoJoin = slices.Clone(info.AutoJoin)

	if info.Debug == nil {
		info.Debug = io.Discard
	}

	c := &Client{
		info:           info,
		cmds:           make(chan command, cmdBufferLen),
		events:         make(chan Event, eventBufferLen),
		done:           make(chan struct{}),
		reconnectDelay: ReconnectDelay,
		pingInterval:   PingInterval,
	}

	c.debug = log.New(c.info.Debug, "debug:", log.Ltime|log.Lshortfile)
	c.state = newState(&c.info, c.debug)

	c.resolver = c.info.Resolver
	if c.resolver == nil {
		c.resolver = net.DefaultResolver
	}

	c.dialer = c.info.Dialer
	if c.dialer == nil {
		c.dialer = newStreamDialer(&c.info)
	}

	return c
}

func (c *Client) send(cmd command) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Reconnect drops the current connection (or skips the wait before the next
// one) and connects again. A non-zero port replaces the configured one.
func (c *Client) Reconnect(port int) error {
	return c.send(command{kind: cmdReconnect, port: port})
}

// RawMsg sends line as-is, a CRLF is appended.
func (c *Client) RawMsg(line string) error {
	return c.send(command{kind: cmdMsg, line: line + "\r\n"})
}

// Privmsg sends msg to target, as a CTCP ACTION when action is set. Use
// SplitPrivmsg for messages that may not fit in a single line.
func (c *Client) Privmsg(target, msg string, action bool) error {
	var line string

	switch {
	case action && len(target)+len(msg)+21 > wire.MaxLineLen:
		return ErrMessageTooLong
	case action:
		line = wire.Action(target, msg)
	case len(target)+len(msg)+12 > wire.MaxLineLen:
		return ErrMessageTooLong
	default:
		line = wire.Privmsg(target, msg)
	}

	return c.send(command{kind: cmdMsg, line: line})
}

// Join joins the given channels with a single JOIN.
func (c *Client) Join(chans ...string) error {
	if len(chans) == 0 {
		return nil
	}

	return c.send(command{kind: cmdMsg, line: wire.Join(chans...)})
}

// Part leaves a joined channel, or stops trying to join it.
func (c *Client) Part(channel string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	line, ok := c.state.leaveChannel(channel)
	if !ok {
		return nil
	}

	return c.send(command{kind: cmdMsg, line: line})
}

// Away marks us as away with msg, or as back if msg is empty. The status is
// restored after reconnecting.
func (c *Client) Away(msg string) error {
	c.state.setAway(msg)
	return c.send(command{kind: cmdMsg, line: wire.Away(msg)})
}

// Nick requests a nick change. A rejection is reported through the reply
// in a Msg event.
func (c *Client) Nick(nick string) error {
	return c.send(command{kind: cmdMsg, line: wire.Nick(nick)})
}

// Quit sends a QUIT with the optional reason, if connected, and terminates
// the client.
func (c *Client) Quit(reason string) error {
	c.state.killJoinTasks()
	return c.send(command{kind: cmdQuit, reason: reason})
}

// GetServName returns the configured server address.
func (c *Client) GetServName() string {
	return c.info.Addr
}

// GetNick returns our current nick, or the nick being tried during
// registration.
func (c *Client) GetNick() string {
	return c.state.getNick()
}

// IsNickAccepted reports whether the server accepted our nick on the current
// connection.
func (c *Client) IsNickAccepted() bool {
	return c.state.isNickAccepted()
}

// GetChanNicks returns the known members of channel, sorted
// case-insensitively.
func (c *Client) GetChanNicks(channel string) []string {
	return c.state.getChanNicks(channel)
}

// ServerCreated returns the creation date the server announced, or the zero
// time if unknown.
func (c *Client) ServerCreated() time.Time {
	return c.state.getCreated()
}

// SplitPrivmsg splits msg into pieces that each fit in a PRIVMSG as relayed
// by the server to other clients. extraLen is reserved per piece, and must
// cover the target. ErrMessageTooLong is returned when nothing fits.
func (c *Client) SplitPrivmsg(extraLen int, msg string) (iter.Seq[string], error) {
	max := c.privmsgBudget(extraLen)
	if max <= 0 {
		return nil, ErrMessageTooLong
	}

	return wire.Split(msg, max), nil
}

// maxUsermaskLen is assumed for our usermask until the server told us.
// 9 for the user, 64 for the host.
const maxUsermaskLen = 9 + 64

func (c *Client) privmsgBudget(extraLen int) int {
	c.state.RLock()
	nick, usermask := c.state.nick, c.state.usermask
	c.state.RUnlock()

	// ":" "!" "@", then " PRIVMSG " " :" and CRLF.
	max := wire.MaxLineLen - 3 - 13 - len(nick) - extraLen
	if usermask != "" {
		return max - len(usermask)
	}

	return max - maxUsermaskLen
}
