// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

import (
	"context"
	"time"
)

// PingInterval is how long a connection may stay silent before we PING the
// server, and how long we then wait before considering it dead.
const PingInterval = 60 * time.Second

type pingEvent int

const (
	pingSend pingEvent = iota
	pingDisconnect
)

// pinger watches for inbound activity. After one silent interval it asks
// for a PING to be sent, after a second one it reports the connection as
// dead and stops.
type pinger struct {
	interval time.Duration
	rst      chan struct{}
	events   chan pingEvent
}

func newPinger(ctx context.Context, interval time.Duration) *pinger {
	p := &pinger{
		interval: interval,
		rst:      make(chan struct{}, 1),
		events:   make(chan pingEvent, 1),
	}

	go p.loop(ctx)
	return p
}

// reset records activity. It never blocks.
func (p *pinger) reset() {
	select {
	case p.rst <- struct{}{}:
	default:
	}
}

func (p *pinger) loop(ctx context.Context) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	awaitingPong := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.rst:
			awaitingPong = false
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.interval)
		case <-timer.C:
			if awaitingPong {
				p.emit(ctx, pingDisconnect)
				return
			}

			awaitingPong = true
			p.emit(ctx, pingSend)
			timer.Reset(p.interval)
		}
	}
}

func (p *pinger) emit(ctx context.Context, ev pingEvent) {
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}
