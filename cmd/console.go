// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const (
	keyInterrupt = 0x03 // Ctrl+C
	keyEndOfText = 0x04 // Ctrl+D
)

// rawConsole switches an interactive terminal to raw mode so single key
// presses reach the node without waiting for Enter
type rawConsole struct {
	fd    int
	state *term.State
}

func openRawConsole(f *os.File) (*rawConsole, error) {
	c := &rawConsole{fd: int(f.Fd())}
	if !term.IsTerminal(c.fd) {
		return c, nil
	}
	state, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, fmt.Errorf("failed to set raw terminal mode: %w", err)
	}
	c.state = state
	return c, nil
}

// Raw reports whether the terminal is in raw mode
func (c *rawConsole) Raw() bool {
	return c.state != nil
}

// Restore returns the terminal to its original mode
func (c *rawConsole) Restore() {
	if c.state != nil {
		term.Restore(c.fd, c.state)
		c.state = nil
	}
}

// pumpInput copies key presses from r into w until r fails or the operator
// presses Ctrl+C or Ctrl+D, which calls quit. A closed input only stops
// the pump so a node without a console keeps running.
func pumpInput(r io.Reader, w io.Writer, quit func()) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		chunk := buf[:n]
		if i := bytes.IndexAny(chunk, string([]byte{keyInterrupt, keyEndOfText})); i >= 0 {
			if i > 0 {
				w.Write(chunk[:i])
			}
			quit()
			return
		}
		if n > 0 {
			w.Write(chunk)
		}
		if err != nil {
			return
		}
	}
}

// crlfWriter turns line feeds into CR LF pairs for a terminal in raw mode
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// LED lamp styles
var (
	lampStyles = [3]lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
	}
	lampOffStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// lampBank holds the state of a slave's three LEDs
type lampBank struct {
	mu sync.Mutex
	on [3]bool
}

// toggle flips the LED for a color command and reports its new state
func (l *lampBank) toggle(cmd genfsk.Command) (bool, bool) {
	if !cmd.IsColor() {
		return false, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on[cmd] = !l.on[cmd]
	return l.on[cmd], true
}

func (l *lampBank) snapshot() [3]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// render draws the three lamps, lit or dark
func (l *lampBank) render() string {
	on := l.snapshot()
	lamps := make([]string, 0, len(on))
	for i, lit := range on {
		name := genfsk.FormatCommand(genfsk.Command(i))
		if lit {
			lamps = append(lamps, lampStyles[i].Render("● "+name))
		} else {
			lamps = append(lamps, lampOffStyle.Render("○ "+name))
		}
	}
	return strings.Join(lamps, "  ")
}

// consoleIndicator prints the lamp bank on every toggle
type consoleIndicator struct {
	out   io.Writer
	lamps lampBank
}

func (c *consoleIndicator) Toggle(cmd genfsk.Command) {
	on, ok := c.lamps.toggle(cmd)
	if !ok {
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(c.out, "LED %s %s  %s\n", genfsk.FormatCommand(cmd), state, c.lamps.render())
}
