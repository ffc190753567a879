// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/Thermoquad/ledlink/pkg/ledlink"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type consoleLineMsg struct {
	text    string
	isError bool
}

type connectivityMsg []ledlink.ConnectivityState

type lampMsg struct {
	cmd genfsk.Command
	on  bool
}

type nodeStoppedMsg struct {
	err error
}

type statsMsg genfsk.Statistics

//////////////////////////////////////////////////////////////
// Program plumbing
//////////////////////////////////////////////////////////////

// teaSender forwards messages to a program that may not exist yet
type teaSender struct {
	mu sync.Mutex
	p  *tea.Program
}

func (s *teaSender) attach(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

func (s *teaSender) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.p
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// lineWriter turns console and log output into event log lines
type lineWriter struct {
	sender  *teaSender
	isError bool
}

func (w lineWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimRight(line, "\r ")
		if line == "" {
			continue
		}
		w.sender.send(consoleLineMsg{text: line, isError: w.isError})
	}
	return len(b), nil
}

// tuiIndicator lights the lamps in the slave view
type tuiIndicator struct {
	sender *teaSender
	lamps  *lampBank
}

func (t *tuiIndicator) Toggle(cmd genfsk.Command) {
	if on, ok := t.lamps.toggle(cmd); ok {
		t.sender.send(lampMsg{cmd: cmd, on: on})
	}
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// nodeModel is the Bubble Tea model for a master or slave node
type nodeModel struct {
	role     ledlink.Role
	keyTable ledlink.CommandTable
	input    io.Writer

	connInfo       string
	connectionLost bool

	// Master connectivity
	connectivity table.Model
	probed       [genfsk.NumDevices]bool
	since        [genfsk.NumDevices]time.Time
	states       []ledlink.ConnectivityState

	// Slave LEDs
	lamps *lampBank

	statsFn func() genfsk.Statistics
	stats   genfsk.Statistics

	events  eventLog
	styles  tuiStyles
	started time.Time

	width    int
	height   int
	quitting bool
}

func initialNodeModel(role ledlink.Role, keyTable ledlink.CommandTable, connInfo string, input io.Writer, lamps *lampBank, statsFn func() genfsk.Statistics) nodeModel {
	styles := newTUIStyles()

	columns := []table.Column{
		{Title: "Device", Width: 8},
		{Title: "Status", Width: 22},
		{Title: "Since", Width: 14},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(genfsk.NumDevices+1),
		table.WithFocused(false),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.Foreground(lipgloss.NoColor{}).Bold(false)
	t.SetStyles(ts)

	m := nodeModel{
		role:         role,
		keyTable:     keyTable,
		input:        input,
		connInfo:     connInfo,
		connectivity: t,
		lamps:        lamps,
		statsFn:      statsFn,
		events:       newEventLog(styles),
		styles:       styles,
		started:      time.Now(),
		width:        80,
		height:       24,
	}
	m.refreshConnectivity()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m nodeModel) Init() tea.Cmd {
	return tickCmd()
}

func (m nodeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.events.setSize(m.width-8, m.logHeight())

	case tickMsg:
		return m, tea.Batch(tickCmd(), fetchStats(m.statsFn))

	case statsMsg:
		m.stats = genfsk.Statistics(msg)

	case consoleLineMsg:
		m.events.add(msg.text, msg.isError)

	case connectivityMsg:
		m.applyConnectivity(msg)

	case lampMsg:
		state := "off"
		if msg.on {
			state = "on"
		}
		m.events.add(fmt.Sprintf("LED %s %s", genfsk.FormatCommand(msg.cmd), state), false)

	case connectionLostMsg:
		m.connectionLost = true
		m.events.add("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.events.add("Reconnected", false)

	case nodeStoppedMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m nodeModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEnter:
		m.forward([]byte{'\r'})
		return m, nil

	case tea.KeyRunes:
		m.forward([]byte(string(msg.Runes)))
		return m, nil
	}

	// Everything else scrolls the event log
	cmd := m.events.scroll(msg)
	return m, cmd
}

// fetchStats reads the link statistics off the update loop, since the link
// may be blocked sending a log line to the program
func fetchStats(statsFn func() genfsk.Statistics) tea.Cmd {
	if statsFn == nil {
		return nil
	}
	return func() tea.Msg {
		return statsMsg(statsFn())
	}
}

// forward hands key presses to the node's console input
func (m nodeModel) forward(keys []byte) {
	if m.input == nil {
		return
	}
	m.input.Write(keys)
}

func (m *nodeModel) applyConnectivity(states []ledlink.ConnectivityState) {
	// The slave settled last is the one before the slave now awaited
	for i, st := range states {
		if !st.AwaitingReply {
			continue
		}
		settled := (i + len(states) - 1) % len(states)
		id := states[settled].DeviceID
		if int(id) < len(m.probed) {
			previous := m.connected(id)
			if !m.probed[id] || previous != states[settled].Connected {
				m.since[id] = time.Now()
			}
			m.probed[id] = true
		}
	}
	m.states = states
	m.refreshConnectivity()
}

func (m nodeModel) connected(id uint8) bool {
	for _, st := range m.states {
		if st.DeviceID == id {
			return st.Connected
		}
	}
	return false
}

func (m *nodeModel) refreshConnectivity() {
	rows := make([]table.Row, 0, genfsk.NumDevices)
	for id := uint8(0); id < genfsk.NumDevices; id++ {
		status := "unknown"
		since := ""
		if m.probed[id] {
			status = "disconnected"
			if m.connected(id) {
				status = "connected"
			}
			since = m.since[id].Format("15:04:05")
		}
		for _, st := range m.states {
			if st.DeviceID == id && st.AwaitingReply {
				status += " (awaiting)"
			}
		}
		rows = append(rows, table.Row{fmt.Sprintf("%d", id), status, since})
	}
	m.connectivity.SetRows(rows)
}

func (m nodeModel) logHeight() int {
	// Reserve space for header, node panel and statistics
	h := m.height - 20
	if h < 5 {
		h = 5
	}
	return h
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m nodeModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(m.styles.title.Render(fmt.Sprintf("LEDLINK %s", strings.ToUpper(m.role.String()))))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = m.styles.warning.Render("RECONNECTING...")
	}
	s.WriteString(m.styles.header.Render(fmt.Sprintf("| %s | up %s | Ctrl+C=quit",
		connStatus, formatUptime(uint64(time.Since(m.started).Milliseconds())))))
	s.WriteString("\n")
	s.WriteString(m.styles.header.Render(fmt.Sprintf("Channel 0x%02X | TX power %d | %d kbps GFSK",
		genfsk.DefaultChannel, genfsk.DefaultTxPowerLevel, genfsk.DataRateKbps)))
	s.WriteString("\n\n")

	if m.role.IsMaster() {
		s.WriteString(m.renderMasterPanel())
	} else {
		s.WriteString(m.renderSlavePanel())
	}
	s.WriteString("\n\n")

	s.WriteString(renderStatistics(m.stats, m.styles, m.width-4))
	s.WriteString("\n\n")

	s.WriteString(m.events.render(m.width - 4))

	return s.String()
}

func (m nodeModel) renderMasterPanel() string {
	var content strings.Builder
	content.WriteString(m.styles.statsLabel.Render("CONNECTIVITY"))
	content.WriteString("\n")
	content.WriteString(m.connectivity.View())
	content.WriteString("\n\n")
	content.WriteString(m.styles.statsLabel.Render("Keys: "))
	content.WriteString(m.keyTable.Prompt)
	content.WriteString(m.styles.header.Render("  [s] status"))
	return m.styles.box.Width(m.width - 4).Render(content.String())
}

func (m nodeModel) renderSlavePanel() string {
	var content strings.Builder
	content.WriteString(m.styles.statsLabel.Render("LEDS"))
	content.WriteString("  ")
	if m.lamps != nil {
		content.WriteString(m.lamps.render())
	}
	content.WriteString("\n")
	content.WriteString(m.styles.header.Render("Waiting for commands"))
	return m.styles.box.Width(m.width - 4).Render(content.String())
}

//////////////////////////////////////////////////////////////
// Runner
//////////////////////////////////////////////////////////////

// runNodeTUI runs a node behind the terminal UI
func runNodeTUI(ctx context.Context, role ledlink.Role, cm *connectionManager, keyTable ledlink.CommandTable) error {
	sender := &teaSender{}
	defer redirectLogging(lineWriter{sender: sender, isError: true})()

	cm.onLost = func(error) { sender.send(connectionLostMsg{}) }
	cm.onReconnected = func(connInfo string) { sender.send(reconnectedMsg{connInfo: connInfo}) }

	nio := nodeIO{
		Console: lineWriter{sender: sender},
	}
	lamps := &lampBank{}
	if role.IsMaster() {
		nio.Input = ledlink.NewByteBuffer()
		nio.OnConnectivity = func(states []ledlink.ConnectivityState) {
			sender.send(connectivityMsg(states))
		}
	} else {
		nio.Indicator = &tuiIndicator{sender: sender, lamps: lamps}
	}

	n, err := newNode(role, cm, appConfig, keyTable, nio)
	if err != nil {
		return err
	}

	var input io.Writer
	if nio.Input != nil {
		input = nio.Input
	}
	m := initialNodeModel(role, keyTable, cm.Info(), input, lamps, n.link.Stats)

	p := tea.NewProgram(m, tea.WithAltScreen())
	sender.attach(p)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	nodeErr := make(chan error, 1)
	go func() {
		err := n.run(ctx)
		nodeErr <- err
		sender.send(nodeStoppedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-nodeErr
		return fmt.Errorf("TUI error: %v", err)
	}

	cancel()
	return <-nodeErr
}
