// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Resolver looks up the addresses of a server. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Dialer establishes streams to a server.
type Dialer interface {
	// DialPlain opens a TCP stream to addr ("ip:port").
	DialPlain(ctx context.Context, addr string) (net.Conn, error)
	// DialTLS opens a TLS stream to addr, verifying the certificate against
	// hostname. Handshake failures are returned as *TLSError.
	DialTLS(ctx context.Context, addr, hostname string) (net.Conn, error)
}

// TLSError is returned when a stream was established but the TLS handshake
// failed.
type TLSError struct {
	Addr string
	Err  error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls handshake with %s failed: %v", e.Addr, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// streamDialer is the default Dialer. It dials through a socks5 proxy when
// one is configured (or set in the environment).
type streamDialer struct {
	proxy     string
	tlsConfig *tls.Config
}

func newStreamDialer(info *ServerInfo) *streamDialer {
	return &streamDialer{proxy: info.Proxy, tlsConfig: info.TLSConfig}
}

func (d *streamDialer) forward() (proxy.ContextDialer, error) {
	base := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	if d.proxy == "" {
		return asContextDialer(proxy.FromEnvironmentUsing(base)), nil
	}

	uri, err := url.Parse(d.proxy)
	if err != nil {
		return nil, fmt.Errorf("unable to use proxy %q: %w", d.proxy, err)
	}

	pd, err := proxy.FromURL(uri, base)
	if err != nil {
		return nil, fmt.Errorf("unable to use proxy %q: %w", d.proxy, err)
	}

	return asContextDialer(pd), nil
}

func (d *streamDialer) DialPlain(ctx context.Context, addr string) (net.Conn, error) {
	fwd, err := d.forward()
	if err != nil {
		return nil, err
	}

	conn, err := fwd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %q: %w", addr, err)
	}

	return conn, nil
}

func (d *streamDialer) DialTLS(ctx context.Context, addr, hostname string) (net.Conn, error) {
	conn, err := d.DialPlain(ctx, addr)
	if err != nil {
		return nil, err
	}

	var conf *tls.Config
	if d.tlsConfig == nil {
		conf = &tls.Config{}
	} else {
		conf = d.tlsConfig.Clone()
	}
	if conf.ServerName == "" {
		conf.ServerName = hostname
	}

	tconn := tls.Client(conn, conf)
	if err = tconn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &TLSError{Addr: addr, Err: err}
	}

	return tconn, nil
}

func asContextDialer(d proxy.Dialer) proxy.ContextDialer {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd
	}

	return contextDialer{d}
}

// contextDialer makes a plain proxy.Dialer abandonable through a context.
type contextDialer struct {
	proxy.Dialer
}

func (d contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}

	done := make(chan result, 1)
	go func() {
		conn, err := d.Dial(network, addr)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// resolveAddrs looks up host and pairs every address with port, in the order
// the resolver returned them.
func resolveAddrs(ctx context.Context, r Resolver, host string, port int) ([]*net.TCPAddr, error) {
	ips, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}

	addrs := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.TCPAddr{IP: ip.IP, Port: port, Zone: ip.Zone})
	}

	return addrs, nil
}
