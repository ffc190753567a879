// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/ledlink/pkg/ledlink"
	"github.com/Thermoquad/ledlink/pkg/radio"
)

// nodeIO collects the operator-facing ends of a node
type nodeIO struct {
	Input          *ledlink.ByteBuffer
	Console        io.Writer
	Indicator      ledlink.Indicator
	OnConnectivity func([]ledlink.ConnectivityState)
}

// node is one protocol engine bound to a radio link
type node struct {
	link       *radio.Link
	dispatcher *ledlink.Dispatcher
}

// newNode builds the radio link over conn and the dispatcher that drives it
func newNode(role ledlink.Role, conn io.ReadWriteCloser, cfg *Config, table ledlink.CommandTable, nio nodeIO) (*node, error) {
	logger := log.New(log.Writer(), fmt.Sprintf("[%s] ", role), log.Flags())

	link := radio.NewLink(conn, logger)
	link.SetTxWarmup(cfg.TxWarmup())

	dcfg := ledlink.Config{
		Role:           role,
		Radio:          link,
		Indicator:      nio.Indicator,
		Console:        nio.Console,
		Logger:         logger,
		Timeout:        cfg.Timeout(),
		Table:          table,
		OnConnectivity: nio.OnConnectivity,
	}
	if nio.Input != nil {
		dcfg.Input = nio.Input
	}

	d, err := ledlink.NewDispatcher(dcfg)
	if err != nil {
		return nil, err
	}
	link.SetHandler(d)
	if nio.Input != nil {
		nio.Input.SetNotify(d.OnConsoleInput)
	}

	return &node{link: link, dispatcher: d}, nil
}

// run starts the link and the control loop. It returns when ctx is
// cancelled, the radio refuses an operation or the link stops reading.
func (n *node) run(ctx context.Context) error {
	n.link.Start()
	defer n.link.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-n.link.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := n.dispatcher.Run(ctx); err != nil {
		return err
	}
	if err := n.link.Err(); err != nil {
		return fmt.Errorf("radio link stopped: %w", err)
	}
	return nil
}

// runNode opens the connection and runs a node in text or TUI mode
func runNode(role ledlink.Role, tui bool) error {
	table, err := ledlink.TableFor(appConfig.Variant)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	cm := newConnectionManager(conn, connInfo, OpenConnection)
	defer cm.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tui {
		return runNodeTUI(ctx, role, cm, table)
	}
	return runNodeText(ctx, role, cm, table)
}

// runNodeText runs a node on the plain terminal
func runNodeText(ctx context.Context, role ledlink.Role, cm *connectionManager, table ledlink.CommandTable) error {
	console, err := openRawConsole(os.Stdin)
	if err != nil {
		return err
	}
	defer console.Restore()

	var out io.Writer = os.Stdout
	if console.Raw() {
		out = crlfWriter{w: os.Stdout}
		defer redirectLogging(crlfWriter{w: os.Stderr})()
	}

	fmt.Fprintf(out, "Connection: %s\n", cm.Info())
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	cm.onLost = func(err error) {
		log.Printf("Connection lost (%v), reconnecting...", err)
	}
	cm.onReconnected = func(connInfo string) {
		log.Printf("Reconnected: %s", connInfo)
	}

	nio := nodeIO{Console: out}
	if role.IsMaster() {
		nio.Input = ledlink.NewByteBuffer()
	} else {
		nio.Indicator = &consoleIndicator{out: out}
	}

	n, err := newNode(role, cm, appConfig, table, nio)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sink io.Writer = io.Discard
	if nio.Input != nil {
		sink = nio.Input
	}
	go pumpInput(os.Stdin, sink, cancel)

	return n.run(ctx)
}
