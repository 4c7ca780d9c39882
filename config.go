// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"
)

// Environment variable names for ServerConfig's optional overrides.
const (
	envListenPort    = "QVNC_GL_PORT"
	envTimerInterval = "QVNC_GL_TIMER_INTERVAL"
)

// Default ServerConfig values.
const (
	DefaultListenPort      = 5900
	DefaultTimerIntervalMS = 30
	MinTimerIntervalMS     = 10
	DefaultServerName      = "VNC Server"
)

// ServerConfig holds process-wide configuration for a vncserver process.
// It is read-only once constructed; the core (ClientSession,
// ServerDispatcher) only ever consumes it, never mutates it, per spec §6.
type ServerConfig struct {
	// ListenPort is the TCP port ServerDispatcher binds.
	ListenPort int

	// TimerInterval is how often ServerDispatcher fans out updates to
	// its sessions.
	TimerInterval time.Duration

	// AutoStart indicates whether the host application should start the
	// dispatcher immediately on process startup rather than waiting for
	// an explicit trigger.
	AutoStart bool

	// Password enables VNC Authentication when non-empty.
	Password string

	// ServerName is advertised to clients in ServerInit.
	ServerName string
}

// NewDefaultServerConfig returns a ServerConfig populated with this
// package's documented defaults.
func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenPort:    DefaultListenPort,
		TimerInterval: DefaultTimerIntervalMS * time.Millisecond,
		AutoStart:     false,
		Password:      "",
		ServerName:    DefaultServerName,
	}
}

// LoadServerConfigFromEnv returns a ServerConfig seeded with defaults and
// overridden by QVNC_GL_PORT / QVNC_GL_TIMER_INTERVAL when present, per
// spec §6. Malformed values are logged and the default is kept rather than
// failing process startup over a bad environment variable.
func LoadServerConfigFromEnv(logger Logger) *ServerConfig {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	cfg := NewDefaultServerConfig()

	if raw, ok := os.LookupEnv(envListenPort); ok {
		port, err := strconv.Atoi(raw)
		if err != nil {
			logger.Warn("invalid "+envListenPort+", using default", Field{Key: "value", Value: raw})
		} else {
			cfg.ListenPort = port
		}
	}

	if raw, ok := os.LookupEnv(envTimerInterval); ok {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			logger.Warn("invalid "+envTimerInterval+", using default", Field{Key: "value", Value: raw})
		} else if ms < MinTimerIntervalMS {
			logger.Warn("timer interval below minimum, clamping", Field{Key: "value", Value: ms}, Field{Key: "minimum", Value: MinTimerIntervalMS})
			cfg.TimerInterval = MinTimerIntervalMS * time.Millisecond
		} else {
			cfg.TimerInterval = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}

// Authenticator builds an Authenticator from the config's password, or nil
// (None security type) when no password is configured.
func (c *ServerConfig) Authenticator() Authenticator {
	if c.Password == "" {
		return nil
	}
	return NewStaticAuthenticator(c.Password)
}

// DispatcherOptions converts the config into the DispatcherOption list a
// ServerDispatcher needs to honor it.
func (c *ServerConfig) DispatcherOptions() []DispatcherOption {
	return []DispatcherOption{
		WithDispatcherAuth(c.Authenticator()),
		WithDispatcherDesktopName(c.ServerName),
		WithTickInterval(c.TimerInterval),
	}
}

// MaxPortSearchAttempts bounds how many successive ports Listen tries before
// giving up, so a misconfigured environment with every port occupied fails
// fast instead of scanning the whole ephemeral range.
const MaxPortSearchAttempts = 100

// Listen binds a TCP listener starting at c.ListenPort, incrementing to the
// next port on an address-in-use error, per spec §4.8's "if a window
// already uses a port, increment to the next free port." It returns the
// listener and the port actually bound, which may differ from
// c.ListenPort.
func (c *ServerConfig) Listen() (net.Listener, int, error) {
	port := c.ListenPort
	for attempt := 0; attempt < MaxPortSearchAttempts; attempt++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
				port = tcpAddr.Port
			}
			return ln, port, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, networkError("ServerConfig.Listen", fmt.Sprintf("failed to listen on port %d", port), err)
		}
		port++
	}
	return nil, 0, networkError("ServerConfig.Listen",
		fmt.Sprintf("no free port found starting at %d after %d attempts", c.ListenPort, MaxPortSearchAttempts), nil)
}

// isAddrInUse reports whether err represents a TCP bind failing because the
// port is already occupied, as opposed to a permission or network error
// that incrementing the port would not fix.
func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
