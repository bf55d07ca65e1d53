// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

// Numeric replies the session reacts to. See RFC2812, and the IRCv3 SASL
// extension for 900-908.
const (
	RPL_WELCOME         = 1
	RPL_YOURHOST        = 2
	RPL_CREATED         = 3
	RPL_USERHOST        = 302
	RPL_NAMREPLY        = 353
	RPL_ENDOFMOTD       = 376
	RPL_HOSTHIDDEN      = 396
	ERR_NOMOTD          = 422
	ERR_NICKNAMEINUSE   = 433
	ERR_UNAVAILRESOURCE = 437
	ERR_NEEDREGGEDNICK  = 477
	RPL_SASLSUCCESS     = 903
	ERR_SASLFAIL        = 904
	ERR_SASLTOOLONG     = 905
	ERR_SASLABORTED     = 906
)
