// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/ledlink/pkg/radio"
)

// pipeDialer hands out one end of a fresh pipe per call and keeps the peers
type pipeDialer struct {
	mu    sync.Mutex
	peers []net.Conn
	fail  bool
}

func (d *pipeDialer) open() (Connection, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, "", errors.New("dial failed")
	}
	a, b := net.Pipe()
	d.peers = append(d.peers, b)
	return a, "pipe", nil
}

func (d *pipeDialer) peer(i int) net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.peers) {
		return nil
	}
	return d.peers[i]
}

func fastManager(conn Connection, open func() (Connection, string, error)) *connectionManager {
	cm := newConnectionManager(conn, "pipe", open)
	cm.minBackoff = time.Millisecond
	cm.maxBackoff = 4 * time.Millisecond
	return cm
}

func TestConnectionManager_ReadAcrossReconnect(t *testing.T) {
	d := &pipeDialer{}
	first, _, _ := d.open()
	cm := fastManager(first, d.open)
	defer cm.Close()

	var lost, reconnected int
	var mu sync.Mutex
	cm.onLost = func(error) { mu.Lock(); lost++; mu.Unlock() }
	cm.onReconnected = func(string) { mu.Lock(); reconnected++; mu.Unlock() }

	// Drop the first connection, then serve data on the second
	d.peer(0).Close()
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for d.peer(1) == nil && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if p := d.peer(1); p != nil {
			p.Write([]byte{0x42})
		}
	}()

	buf := make([]byte, 8)
	n, err := cm.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 1 || buf[0] != 0x42 {
		t.Errorf("Read() = %X, want 42", buf[:n])
	}

	mu.Lock()
	defer mu.Unlock()
	if lost != 1 || reconnected != 1 {
		t.Errorf("lost = %d, reconnected = %d, want 1 and 1", lost, reconnected)
	}
}

func TestConnectionManager_WriteWhileDisconnected(t *testing.T) {
	cm := fastManager(nil, (&pipeDialer{fail: true}).open)

	if _, err := cm.Write([]byte{0x01}); !errors.Is(err, errDisconnected) {
		t.Errorf("Write() error = %v, want errDisconnected", err)
	}

	cm.Close()
	if _, err := cm.Write([]byte{0x01}); !errors.Is(err, radio.ErrClosed) {
		t.Errorf("Write() after Close error = %v, want radio.ErrClosed", err)
	}
}

func TestConnectionManager_CloseStopsReconnect(t *testing.T) {
	cm := fastManager(nil, (&pipeDialer{fail: true}).open)

	errCh := make(chan error, 1)
	go func() {
		_, err := cm.Read(make([]byte, 8))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cm.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, radio.ErrClosed) {
			t.Errorf("Read() error = %v, want radio.ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() still blocked after Close")
	}
}

func TestConnectionManager_WriteThrough(t *testing.T) {
	d := &pipeDialer{}
	first, _, _ := d.open()
	cm := fastManager(first, d.open)
	defer cm.Close()

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := d.peer(0).Read(buf)
		got <- buf[:n]
	}()

	if _, err := cm.Write([]byte{0x7E, 0x7F}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	select {
	case b := <-got:
		if len(b) != 2 || b[0] != 0x7E || b[1] != 0x7F {
			t.Errorf("peer read %X, want 7E7F", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the write")
	}
}
