// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

import (
	"fmt"
	"net"

	"github.com/lrstanley/tinyirc/wire"
)

// EventKind identifies what happened in an Event.
type EventKind int

const (
	// ResolvingHost is emitted before each name resolution.
	ResolvingHost EventKind = iota
	// Connecting is emitted before dialing each resolved address. Addr is
	// set.
	Connecting
	// Connected is emitted once the server welcomed us (001).
	Connected
	// Disconnected is emitted when a stream was lost or could not be
	// established. A reconnect follows after ReconnectDelay.
	Disconnected
	// IoErr is emitted on a socket or resolver error. Err is set.
	IoErr
	// TLSErr is emitted when a TLS handshake fails. Err is set.
	TLSErr
	// ConnectionClosed is emitted when the server closed the stream.
	ConnectionClosed
	// CantResolveAddr is emitted when the server address resolves to
	// nothing. It is the last event of a client.
	CantResolveAddr
	// NickChange is emitted when our own nick changes. Nick is set.
	NickChange
	// MsgEvent carries every parsed message. Msg is set.
	MsgEvent
	// WireError is emitted for a line that could not be parsed. Err is set.
	WireError
	// ChannelJoinError is emitted when joining a channel failed. Chan and
	// Text are set.
	ChannelJoinError
)

var eventKindNames = [...]string{
	ResolvingHost:    "ResolvingHost",
	Connecting:       "Connecting",
	Connected:        "Connected",
	Disconnected:     "Disconnected",
	IoErr:            "IoErr",
	TLSErr:           "TLSErr",
	ConnectionClosed: "ConnectionClosed",
	CantResolveAddr:  "CantResolveAddr",
	NickChange:       "NickChange",
	MsgEvent:         "Msg",
	WireError:        "WireError",
	ChannelJoinError: "ChannelJoinError",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}

	return eventKindNames[k]
}

// Event is delivered to the consumer of a Client. Only the fields documented
// for its Kind are set.
type Event struct {
	Kind EventKind

	Addr *net.TCPAddr
	Err  error
	Nick string
	Msg  *wire.Msg
	Chan string
	Text string
}

func (e Event) String() string {
	switch e.Kind {
	case Connecting:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Addr)
	case IoErr, TLSErr, WireError:
		return fmt.Sprintf("%s(%v)", e.Kind, e.Err)
	case NickChange:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Nick)
	case ChannelJoinError:
		return fmt.Sprintf("%s(%s: %s)", e.Kind, e.Chan, e.Text)
	case MsgEvent:
		return fmt.Sprintf("%s(%T)", e.Kind, e.Msg.Cmd)
	default:
		return e.Kind.String()
	}
}
