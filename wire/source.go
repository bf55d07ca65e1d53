// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package wire

import "strings"

// SourceKind describes what kind of sender a message prefix names.
type SourceKind int

const (
	// SourceServer is a prefix that can only be a server name.
	SourceServer SourceKind = iota
	// SourceUser is a prefix that can only be a user.
	SourceUser
	// SourceAmbiguous is a prefix that could be either a nick or a server
	// name (e.g. "xy-z").
	SourceAmbiguous
)

func (k SourceKind) String() string {
	switch k {
	case SourceServer:
		return "server"
	case SourceUser:
		return "user"
	default:
		return "ambiguous"
	}
}

// nickOnly holds characters that may appear in a nick but never in a
// hostname.
const nickOnly = "[]\\`_^{|}"

// Source represents the sender of an IRC message, see RFC1459 section 2.3.1
// <servername> | <nick> [ '!' <user> ] [ '@' <host> ]
type Source struct {
	Kind SourceKind
	Name string // Nick or servername.
	User string // Everything after the first '!' or '@'. Only set for SourceUser.
}

// ParseSource classifies a raw prefix (without the leading ':').
func ParseSource(raw string) *Source {
	if idx := strings.IndexAny(raw, "!@"); idx >= 0 {
		return &Source{Kind: SourceUser, Name: raw[:idx], User: raw[idx+1:]}
	}

	if strings.ContainsAny(raw, nickOnly) {
		return &Source{Kind: SourceUser, Name: raw}
	}

	if strings.IndexByte(raw, '.') >= 0 {
		return &Source{Kind: SourceServer, Name: raw}
	}

	return &Source{Kind: SourceAmbiguous, Name: raw}
}

// Nick returns the nick of the sender and true if the source could be a
// user (SourceUser or SourceAmbiguous).
func (s *Source) Nick() (string, bool) {
	if s == nil || s.Kind == SourceServer {
		return "", false
	}

	return s.Name, true
}

// Server returns the server name and true if the source could be a server
// (SourceServer or SourceAmbiguous).
func (s *Source) Server() (string, bool) {
	if s == nil || s.Kind == SourceUser {
		return "", false
	}

	return s.Name, true
}

// DropNickPrefix strips a single channel membership prefix (one of
// "~&@%+") from nick.
func DropNickPrefix(nick string) string {
	if nick != "" && strings.IndexByte("~&@%+", nick[0]) >= 0 {
		return nick[1:]
	}

	return nick
}
