// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package tinyirc is a small IRC client engine. A Client maintains a single
// connection to one server: it resolves and dials the server (optionally
// over TLS or a socks5 proxy), registers with it, negotiates a nick,
// authenticates through SASL or NickServ, keeps channel membership up to
// date, answers PINGs, and reconnects when the connection is lost.
//
// Everything that happens is reported on the channel of Events returned by
// New, which is closed once the client terminated. Commands are sent through
// the methods on Client, and are safe to call from any goroutine.
//
// The wire subpackage holds the stateless message parser and formatters,
// and can be used on its own.
//
// See "examples/simple/main.go" for a brief example of how the API works.
package tinyirc
