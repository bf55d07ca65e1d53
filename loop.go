// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lrstanley/tinyirc/wire"
)

// ReconnectDelay is how long a client waits before connecting again after a
// connection was lost or could not be established.
const ReconnectDelay = 30 * time.Second

const (
	outBufferLen  = 100
	readBufferLen = 1024
	// quitFlushTimeout bounds how long a Quit waits for queued lines to be
	// written.
	quitFlushTimeout = 5 * time.Second
	// sendBurst is how many lines may be sent back to back before
	// ServerInfo.RateLimit applies.
	sendBurst = 4
)

type loopState int

const (
	stateWaiting loopState = iota
	stateResolving
	stateConnecting
	stateStreaming
	stateTerminated
)

func (s loopState) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateResolving:
		return "resolving"
	case stateConnecting:
		return "connecting"
	case stateStreaming:
		return "streaming"
	default:
		return "terminated"
	}
}

// lifecycle holds what carries over between the states of the connection
// loop.
type lifecycle struct {
	c     *Client
	port  int
	addrs []*net.TCPAddr
	conn  net.Conn
}

func (c *Client) run() {
	defer c.shutdown()

	lc := &lifecycle{c: c, port: c.info.port()}

	st := stateResolving
	for st != stateTerminated {
		c.debug.Printf("connection state: %s", st)

		switch st {
		case stateWaiting:
			st = lc.wait()
		case stateResolving:
			st = lc.resolve()
		case stateConnecting:
			st = lc.connect()
		case stateStreaming:
			st = lc.stream()
		}
	}

	c.debug.Print("connection loop terminated")
}

func (c *Client) shutdown() {
	close(c.done)
	close(c.events)
}

func (c *Client) emit(ev Event) {
	c.debug.Printf("event: %s", ev)
	c.events <- ev
}

// race runs fn in its own goroutine and waits for either its result, or a
// Reconnect or Quit command. When interrupted, fn's context is cancelled and
// discard (if any) receives the result fn eventually returns. Messages
// received in the meantime are dropped, as there is no connection to send
// them to.
func race[T any](c *Client, fn func(ctx context.Context) T, discard func(T)) (T, *command) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan T, 1)

	go func() {
		done <- fn(ctx)
	}()

	for {
		select {
		case result := <-done:
			cancel()
			return result, nil
		case cmd := <-c.cmds:
			if cmd.kind == cmdMsg {
				c.debug.Printf("not connected, dropping %q", strings.TrimRight(cmd.line, "\r\n"))
				continue
			}

			cancel()
			if discard != nil {
				go func() { discard(<-done) }()
			}

			var zero T
			return zero, &cmd
		}
	}
}

// interrupted returns the state a Reconnect or Quit command leads to.
func (lc *lifecycle) interrupted(cmd *command) loopState {
	if cmd.kind == cmdQuit {
		return stateTerminated
	}

	if cmd.port != 0 {
		lc.port = cmd.port
	}

	return stateResolving
}

func (lc *lifecycle) wait() loopState {
	delay := lc.c.reconnectDelay

	_, cmd := race(lc.c, func(ctx context.Context) struct{} {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		return struct{}{}
	}, nil)

	if cmd != nil {
		return lc.interrupted(cmd)
	}

	return stateResolving
}

func (lc *lifecycle) resolve() loopState {
	c := lc.c
	c.emit(Event{Kind: ResolvingHost})

	type resolved struct {
		addrs []*net.TCPAddr
		err   error
	}

	port := lc.port
	r, cmd := race(c, func(ctx context.Context) resolved {
		addrs, err := resolveAddrs(ctx, c.resolver, c.info.Addr, port)
		return resolved{addrs, err}
	}, nil)

	switch {
	case cmd != nil:
		return lc.interrupted(cmd)
	case r.err != nil:
		c.emit(Event{Kind: IoErr, Err: r.err})
		c.emit(Event{Kind: Disconnected})
		return stateWaiting
	case len(r.addrs) == 0:
		c.emit(Event{Kind: CantResolveAddr})
		return stateTerminated
	}

	lc.addrs = r.addrs
	return stateConnecting
}

func (lc *lifecycle) connect() loopState {
	c := lc.c

	type dialed struct {
		conn net.Conn
		err  error
	}

	for _, addr := range lc.addrs {
		c.emit(Event{Kind: Connecting, Addr: addr})

		r, cmd := race(c, func(ctx context.Context) dialed {
			conn, err := c.dial(ctx, addr)
			return dialed{conn, err}
		}, func(d dialed) {
			if d.conn != nil {
				d.conn.Close()
			}
		})

		if cmd != nil {
			return lc.interrupted(cmd)
		}

		if r.err == nil {
			lc.conn = r.conn
			return stateStreaming
		}

		var tlsErr *TLSError
		if errors.As(r.err, &tlsErr) {
			c.emit(Event{Kind: TLSErr, Err: r.err})
		} else {
			c.emit(Event{Kind: IoErr, Err: r.err})
		}
	}

	c.emit(Event{Kind: Disconnected})
	return stateWaiting
}

func (c *Client) dial(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	if c.info.TLS {
		return c.dialer.DialTLS(ctx, addr.String(), c.info.Addr)
	}

	return c.dialer.DialPlain(ctx, addr.String())
}

type readResult struct {
	data []byte
	err  error
}

// outbox carries lines from the connection loop to the writer.
type outbox struct {
	// lines are written in order, throttled by ServerInfo.RateLimit.
	lines chan string
	// urgent lines skip ahead of lines and are never throttled.
	urgent chan string
	// flush is closed on quit. Lines still queued are then written without
	// throttling.
	flush chan struct{}
	errs  chan error
	// done is closed once the writer is gone.
	done chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		lines:  make(chan string, outBufferLen),
		urgent: make(chan string, outBufferLen),
		flush:  make(chan struct{}),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// queue hands line to the writer. Once the writer is gone, lines are dropped
// until its error is handled.
func (ob *outbox) queue(line string) {
	select {
	case ob.lines <- line:
	case <-ob.done:
	}
}

func (ob *outbox) queueUrgent(line string) {
	select {
	case ob.urgent <- line:
	case <-ob.done:
	}
}

// stream runs a single established connection until it fails, or a command
// ends it.
func (lc *lifecycle) stream() loopState {
	c := lc.c
	conn := lc.conn
	lc.conn = nil

	ctx, cancel := context.WithCancel(context.Background())
	closeStream := func() {
		cancel()
		conn.Close()
	}

	c.state.reset()

	ob := newOutbox()
	for _, line := range c.state.register() {
		ob.lines <- line
	}

	go c.writeLoop(ctx, conn, ob)

	ping := newPinger(ctx, c.pingInterval)

	reads := make(chan readResult)
	go readLoop(ctx, conn, reads)

	var buf []byte
	for {
		select {
		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdMsg:
				ob.queue(cmd.line)
			case cmdReconnect:
				closeStream()
				return lc.interrupted(&cmd)
			case cmdQuit:
				ob.queue(wire.Quit(cmd.reason))
				close(ob.flush)
				close(ob.lines)

				select {
				case <-ob.done:
				case <-time.After(quitFlushTimeout):
					c.debug.Print("timed out flushing lines before quitting")
				}

				closeStream()
				return stateTerminated
			}
		case r := <-reads:
			if len(r.data) > 0 {
				buf = append(buf, r.data...)
				c.dispatch(&buf, ping, ob)
			}

			if r.err != nil {
				closeStream()
				if errors.Is(r.err, io.EOF) {
					c.emit(Event{Kind: ConnectionClosed})
				} else {
					c.emit(Event{Kind: IoErr, Err: r.err})
				}
				c.emit(Event{Kind: Disconnected})
				return stateWaiting
			}
		case ev := <-ping.events:
			if ev == pingSend {
				ob.queueUrgent(c.state.pingLine())
				continue
			}

			c.debug.Print("ping timeout")
			closeStream()
			c.emit(Event{Kind: Disconnected})
			return stateWaiting
		case err := <-ob.errs:
			closeStream()
			c.emit(Event{Kind: IoErr, Err: err})
			c.emit(Event{Kind: Disconnected})
			return stateWaiting
		}
	}
}

// dispatch handles every complete line in buf, in order.
func (c *Client) dispatch(buf *[]byte, ping *pinger, ob *outbox) {
	for {
		if end := bytes.Index(*buf, []byte("\r\n")); end >= 0 {
			c.debug.Printf("< %s", (*buf)[:end])
		}

		msg, err := wire.ParseMessage(buf)
		if err == wire.ErrIncomplete {
			return
		}

		if err != nil {
			c.emit(Event{Kind: WireError, Err: err})
			continue
		}

		ping.reset()

		fx := c.state.update(msg)
		for _, line := range fx.urgent {
			ob.queueUrgent(line)
		}
		for _, line := range fx.lines {
			ob.queue(line)
		}
		for _, ev := range fx.events {
			c.emit(ev)
		}
		for _, r := range fx.rejoins {
			go c.retryJoin(r)
		}

		c.emit(Event{Kind: MsgEvent, Msg: msg})
	}
}

func readLoop(ctx context.Context, conn net.Conn, reads chan<- readResult) {
	for {
		buf := make([]byte, readBufferLen)
		n, err := conn.Read(buf)

		select {
		case reads <- readResult{data: buf[:n], err: err}:
		case <-ctx.Done():
			return
		}

		if err != nil {
			return
		}
	}
}

func (c *Client) newLimiter() *rate.Limiter {
	switch {
	case c.info.RateLimit < 0:
		return rate.NewLimiter(rate.Inf, 0)
	case c.info.RateLimit == 0:
		return rate.NewLimiter(rate.Every(time.Second), sendBurst)
	default:
		return rate.NewLimiter(rate.Every(time.Duration(c.info.RateLimit)*time.Second), sendBurst)
	}
}

// writeLoop writes queued lines until ob.lines is closed, ctx is cancelled
// or a write fails.
func (c *Client) writeLoop(ctx context.Context, conn net.Conn, ob *outbox) {
	defer close(ob.done)

	limiter := c.newLimiter()
	for {
		select {
		case line := <-ob.urgent:
			if !c.writeLine(conn, line, ob.errs) {
				return
			}
			continue
		default:
		}

		select {
		case line := <-ob.urgent:
			if !c.writeLine(conn, line, ob.errs) {
				return
			}
		case line, ok := <-ob.lines:
			if !ok {
				return
			}

			if !c.throttle(ctx, conn, limiter, ob) || !c.writeLine(conn, line, ob.errs) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// throttle waits until limiter allows another line, writing urgent lines in
// the meantime. It reports whether the writer should go on.
func (c *Client) throttle(ctx context.Context, conn net.Conn, limiter *rate.Limiter, ob *outbox) bool {
	select {
	case <-ob.flush:
		return true
	default:
	}

	r := limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return true
		case <-ob.flush:
			return true
		case line := <-ob.urgent:
			if !c.writeLine(conn, line, ob.errs) {
				return false
			}
		case <-ctx.Done():
			r.Cancel()
			return false
		}
	}
}

func (c *Client) writeLine(conn net.Conn, line string, errs chan<- error) bool {
	c.debug.Printf("> %s", maskSensitive(line))
	if _, err := io.WriteString(conn, line); err != nil {
		errs <- err
		return false
	}

	return true
}

// retryJoin sends a JOIN for r.channel after r.delay.
func (c *Client) retryJoin(r rejoin) {
	c.debug.Printf("retrying to join %s in %s", r.channel, r.delay)

	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-r.ctx.Done():
		return
	case <-c.done:
		return
	}

	if err := c.send(command{kind: cmdMsg, line: wire.Join(r.channel)}); err != nil {
		c.debug.Printf("unable to rejoin %s: %s", r.channel, err)
	}
}

var sensitivePrefixes = []string{"PASS ", "AUTHENTICATE ", "PRIVMSG NickServ :identify "}

// maskSensitive hides credentials from debug output.
func maskSensitive(line string) string {
	line = strings.TrimRight(line, "\r\n")
	if line == "AUTHENTICATE PLAIN" {
		return line
	}

	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(line, prefix) {
			return prefix + "***"
		}
	}

	return line
}
