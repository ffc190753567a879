// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/ledlink/pkg/radio"
)

var errDisconnected = errors.New("connection lost, reconnecting")

// connectionManager handles connection lifecycle and reconnection. It looks
// like a single byte stream to the radio link: reads block across a
// reconnect, writes fail while the connection is down.
type connectionManager struct {
	open func() (Connection, string, error)

	conn     Connection
	connInfo string
	mu       sync.RWMutex

	minBackoff time.Duration
	maxBackoff time.Duration

	// Called from the reading goroutine
	onLost        func(err error)
	onReconnected func(connInfo string)

	done      chan struct{}
	closeOnce sync.Once
}

func newConnectionManager(conn Connection, connInfo string, open func() (Connection, string, error)) *connectionManager {
	return &connectionManager{
		open:       open,
		conn:       conn,
		connInfo:   connInfo,
		minBackoff: 1 * time.Second,
		maxBackoff: 30 * time.Second,
		done:       make(chan struct{}),
	}
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

// Info describes the current connection
func (cm *connectionManager) Info() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connInfo
}

func (cm *connectionManager) closing() bool {
	select {
	case <-cm.done:
		return true
	default:
		return false
	}
}

// Read reads from the current connection. A lost connection is replaced
// transparently; transient errors are returned to the caller for retry.
func (cm *connectionManager) Read(p []byte) (int, error) {
	for {
		if cm.closing() {
			return 0, radio.ErrClosed
		}

		conn := cm.getConn()
		if conn == nil {
			if !cm.reconnect() {
				return 0, radio.ErrClosed
			}
			continue
		}

		n, err := conn.Read(p)
		if err == nil || n > 0 {
			return n, nil
		}
		if cm.closing() {
			return 0, radio.ErrClosed
		}
		if !errors.Is(err, ErrConnectionClosed) && !errors.Is(err, io.EOF) {
			return 0, err
		}

		// Connection lost
		cm.setConn(nil, "")
		conn.Close()
		if cm.onLost != nil {
			cm.onLost(err)
		}
		if !cm.reconnect() {
			return 0, radio.ErrClosed
		}
	}
}

// Write writes to the current connection
func (cm *connectionManager) Write(p []byte) (int, error) {
	conn := cm.getConn()
	if conn == nil {
		if cm.closing() {
			return 0, radio.ErrClosed
		}
		return 0, errDisconnected
	}
	return conn.Write(p)
}

// Close stops reconnecting and closes the current connection
func (cm *connectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.done)
		if conn := cm.getConn(); conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect() bool {
	backoff := cm.minBackoff

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		// Attempt to reconnect
		conn, connInfo, err := cm.open()
		if err == nil {
			if cm.closing() {
				conn.Close()
				return false
			}
			cm.setConn(conn, connInfo)

			if cm.onReconnected != nil {
				cm.onReconnected(connInfo)
			}
			return true
		}

		// Exponential backoff
		backoff *= 2
		if backoff > cm.maxBackoff {
			backoff = cm.maxBackoff
		}
	}
}

