// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package tinyirc

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// SASLAuth holds SASL PLAIN credentials.
type SASLAuth struct {
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
}

// ServerInfo contains everything needed to connect to, and register with,
// a single IRC server. It is copied by New and never modified afterwards.
type ServerInfo struct {
	// Addr is a host/ip of the server you want to connect to.
	Addr string `toml:"addr" yaml:"addr"`
	// Port is the port that will be used during server connection. Defaults
	// to 6697 with TLS, 6667 otherwise.
	Port int `toml:"port" yaml:"port"`
	// TLS enables TLS on the connection.
	TLS bool `toml:"tls" yaml:"tls"`
	// Pass is the server password used to authenticate.
	Pass string `toml:"pass" yaml:"pass"`
	// Realname is the "realname" that's used during connect.
	Realname string `toml:"realname" yaml:"realname"`
	// User is the username/ident to use on connect. Defaults to the first
	// nick.
	User string `toml:"user" yaml:"user"`
	// Nicks are the nicks to try, in order, during registration. Once all
	// are taken, underscores are appended to the last one. Must not be
	// empty.
	Nicks []string `toml:"nicks" yaml:"nicks"`
	// AutoJoin are the channels joined after the MOTD.
	AutoJoin []string `toml:"join" yaml:"join"`
	// NickServIdent is the NickServ password, sent after registration and
	// after every nick change.
	NickServIdent string `toml:"nickserv_ident" yaml:"nickserv_ident"`
	// SASL enables SASL PLAIN authentication during registration.
	SASL *SASLAuth `toml:"sasl" yaml:"sasl"`
	// Proxy is an optional socks5:// URL used for all connections. When
	// empty, the ALL_PROXY/NO_PROXY environment variables are honored.
	Proxy string `toml:"proxy" yaml:"proxy"`
	// RateLimit is the delay in seconds between lines sent to the server,
	// with a burst of 4 lines. Defaults to 1, set to -1 to disable.
	RateLimit int `toml:"rate_limit" yaml:"rate_limit"`
	// Version is the reply to CTCP VERSION requests. No reply is sent when
	// empty.
	Version string `toml:"version" yaml:"version"`

	// TLSConfig is an optional user-supplied tls configuration. ServerName
	// defaults to Addr.
	TLSConfig *tls.Config `toml:"-" yaml:"-"`
	// Debug is an optional, user supplied location to log the raw lines
	// sent from the server, or other useful debug logs. Defaults to
	// io.Discard.
	Debug io.Writer `toml:"-" yaml:"-"`
	// Resolver overrides the resolver used to look up Addr.
	Resolver Resolver `toml:"-" yaml:"-"`
	// Dialer overrides how streams to the server are established.
	Dialer Dialer `toml:"-" yaml:"-"`
}

// ErrNoNicks is returned by Validate when no nick was configured.
var ErrNoNicks = errors.New("at least one nick is required")

// Validate checks that info can be used to connect.
func (info *ServerInfo) Validate() error {
	if info.Addr == "" {
		return errors.New("invalid server address specified")
	}

	if info.Port < 0 || info.Port > 65535 {
		return fmt.Errorf("invalid port %d (1-65535)", info.Port)
	}

	if len(info.Nicks) == 0 {
		return ErrNoNicks
	}

	for _, nick := range info.Nicks {
		if nick == "" || strings.ContainsAny(nick, " \r\n") {
			return fmt.Errorf("invalid nick %q", nick)
		}
	}

	if info.SASL != nil && (info.SASL.Username == "" || info.SASL.Password == "") {
		return errors.New("sasl requires both username and password")
	}

	return nil
}

func (info *ServerInfo) port() int {
	switch {
	case info.Port != 0:
		return info.Port
	case info.TLS:
		return 6697
	default:
		return 6667
	}
}

func (info *ServerInfo) username() string {
	if info.User != "" {
		return info.User
	}

	return info.Nicks[0]
}

func (info *ServerInfo) trim() {
	info.Addr = strings.TrimSpace(info.Addr)
	info.Pass = strings.TrimSpace(info.Pass)
	info.Realname = strings.TrimSpace(info.Realname)
	info.User = strings.TrimSpace(info.User)
	info.NickServIdent = strings.TrimSpace(info.NickServIdent)
	info.Proxy = strings.TrimSpace(info.Proxy)

	for i := range info.Nicks {
		info.Nicks[i] = strings.TrimSpace(info.Nicks[i])
	}

	for i := range info.AutoJoin {
		info.AutoJoin[i] = strings.TrimSpace(info.AutoJoin[i])
	}
}

// Defaults are applied to servers in a config file that leave the
// corresponding fields empty.
type Defaults struct {
	Nicks    []string `toml:"nicks" yaml:"nicks"`
	Realname string   `toml:"realname" yaml:"realname"`
}

// Config is the contents of a configuration file.
type Config struct {
	Servers  []ServerInfo `toml:"servers" yaml:"servers"`
	Defaults Defaults     `toml:"defaults" yaml:"defaults"`
}

// ConfigError is returned by LoadConfig.
type ConfigError struct {
	Path string
	// Server is the address of the offending server entry, if any.
	Server string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("config %s: server %q: %v", e.Path, e.Server, e.Err)
	}

	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadConfig reads a TOML (.toml) or YAML (.yml, .yaml) config file, applies
// Defaults and validates every server.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
	case ".yml", ".yaml":
		f, err := os.Open(path)
		if err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err = dec.Decode(cfg); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
	default:
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("unknown config format %q", ext)}
	}

	if len(cfg.Servers) == 0 {
		return nil, &ConfigError{Path: path, Err: errors.New("no servers configured")}
	}

	for i := range cfg.Servers {
		info := &cfg.Servers[i]
		info.trim()

		if len(info.Nicks) == 0 {
			info.Nicks = append([]string(nil), cfg.Defaults.Nicks...)
			for j := range info.Nicks {
				info.Nicks[j] = strings.TrimSpace(info.Nicks[j])
			}
		}

		if info.Realname == "" {
			info.Realname = strings.TrimSpace(cfg.Defaults.Realname)
		}

		info.Port = info.port()

		if err := info.Validate(); err != nil {
			return nil, &ConfigError{Path: path, Server: info.Addr, Err: err}
		}
	}

	return cfg, nil
}
