// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package wire

import "strings"

const ctcpDelim byte = 0x01 // Prefix and suffix for CTCP messages.

// CTCP is the type of a CTCP-framed message. Types other than the
// predefined ones are kept verbatim.
type CTCP string

const (
	CTCPAction  CTCP = "ACTION"
	CTCPVersion CTCP = "VERSION"
)

// decodeCTCP unwraps a CTCP-framed PRIVMSG/NOTICE text. The type runs up
// to the first delimiter or space. A space terminated type is followed by
// the argument, with a trailing delimiter (if any) removed. Text that
// isn't framed, or never terminates the type, yields an empty CTCP.
func decodeCTCP(text string) (CTCP, string) {
	if text == "" || text[0] != ctcpDelim {
		return "", text
	}

	text = text[1:]
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case ctcpDelim:
			return CTCP(text[:i]), text[i+1:]
		case ' ':
			return CTCP(text[:i]), strings.TrimSuffix(text[i+1:], string(ctcpDelim))
		}
	}

	return "", text
}

func encodeCTCP(ctcp CTCP, text string) string {
	if text == "" {
		return string(ctcpDelim) + string(ctcp) + string(ctcpDelim)
	}

	return string(ctcpDelim) + string(ctcp) + " " + text + string(ctcpDelim)
}
