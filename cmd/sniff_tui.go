// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/Thermoquad/ledlink/pkg/radio"
	tea "github.com/charmbracelet/bubbletea"
)

// sniffBatchMsg carries the observations collected since the last batch
type sniffBatchMsg struct {
	observations []radio.Observation
}

// sniffModel is the Bubble Tea model for the air monitor
type sniffModel struct {
	connInfo       string
	connectionLost bool
	showAll        bool

	statsFn func() genfsk.Statistics
	stats   genfsk.Statistics
	sync    syncTracker
	last    *radio.Observation

	events eventLog
	styles tuiStyles

	width    int
	height   int
	quitting bool
}

func initialSniffModel(connInfo string, showAll bool, statsFn func() genfsk.Statistics) sniffModel {
	styles := newTUIStyles()
	return sniffModel{
		connInfo: connInfo,
		showAll:  showAll,
		statsFn:  statsFn,
		events:   newEventLog(styles),
		styles:   styles,
		width:    80,
		height:   24,
	}
}

func (m sniffModel) Init() tea.Cmd {
	return tickCmd()
}

func (m sniffModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.events.scroll(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.events.setSize(m.width-8, m.logHeight())

	case tickMsg:
		return m, tea.Batch(tickCmd(), fetchStats(m.statsFn))

	case statsMsg:
		m.stats = genfsk.Statistics(msg)

	case sniffBatchMsg:
		for _, obs := range msg.observations {
			m.processObservation(obs)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.events.add("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.events.add("Reconnected", false)

	case nodeStoppedMsg:
		if msg.err != nil {
			m.events.add(fmt.Sprintf("Link stopped: %v", msg.err), true)
		}
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *sniffModel) processObservation(obs radio.Observation) {
	if m.sync.observe(obs) {
		m.events.add(m.sync.String(), false)
	}

	class := classify(obs)
	if obs.Frame != nil {
		o := obs
		m.last = &o
	}
	switch class {
	case classValid:
		if m.showAll {
			m.events.add(describeObservation(obs), false)
		}
	default:
		m.events.add(describeObservation(obs), true)
	}
}

func (m sniffModel) logHeight() int {
	// Reserve space for header, statistics and last frame
	h := m.height - 18
	if h < 5 {
		h = 5
	}
	return h
}

func (m sniffModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = m.styles.warning.Render("RECONNECTING...")
	}
	s.WriteString(m.styles.title.Render("LEDLINK - AIR MONITOR"))
	s.WriteString("\n")
	s.WriteString(m.styles.header.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit", connStatus, mode)))
	s.WriteString("\n\n")

	// Sync status
	if !m.sync.synchronized {
		s.WriteString(m.styles.warning.Render("⏳ Waiting for synchronization..."))
	} else {
		s.WriteString(m.styles.statsValue.Render("✓ Synchronized"))
		if m.sync.skipped > 0 {
			s.WriteString(m.styles.header.Render(fmt.Sprintf(" (skipped %d stream errors)", m.sync.skipped)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(renderStatistics(m.stats, m.styles, m.width-4))
	s.WriteString("\n\n")

	if m.last != nil {
		s.WriteString(m.renderLastFrame())
		s.WriteString("\n\n")
	}

	s.WriteString(m.events.render(m.width - 4))

	return s.String()
}

func (m sniffModel) renderLastFrame() string {
	obs := m.last

	var content strings.Builder
	content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		m.styles.statsLabel.Render("Last Frame:"), obs.Time.Format("15:04:05.000"),
		m.styles.statsLabel.Render("RSSI:"), m.styles.statsValue.Render(fmt.Sprintf("%d dBm", obs.RSSI)),
	))

	class := classify(*obs)
	verdict := m.styles.statsValue.Render(class.String())
	if class != classValid {
		verdict = m.styles.err.Render(class.String())
	}
	content.WriteString(fmt.Sprintf("%s %s", m.styles.statsLabel.Render("Verdict:"), verdict))
	if obs.Packet != nil {
		content.WriteString(fmt.Sprintf("   %s dev=%d %s",
			m.styles.statsLabel.Render("Packet:"),
			obs.Packet.DeviceID(), genfsk.FormatCommand(obs.Packet.Command())))
	}
	content.WriteString("\n")
	content.WriteString(m.styles.header.Render(genfsk.FormatHex(obs.Frame)))

	return m.styles.box.Width(m.width - 4).Render(content.String())
}

// runSniffTUI runs the air monitor behind the terminal UI
func runSniffTUI(ctx context.Context, cm *connectionManager, link *radio.Link) error {
	sender := &teaSender{}
	defer redirectLogging(lineWriter{sender: sender, isError: true})()

	cm.onLost = func(error) { sender.send(connectionLostMsg{}) }
	cm.onReconnected = func(connInfo string) { sender.send(reconnectedMsg{connInfo: connInfo}) }

	m := initialSniffModel(cm.Info(), showAll, link.Stats)
	p := tea.NewProgram(m, tea.WithAltScreen())
	sender.attach(p)

	// Buffered channel for batching updates
	observations := make(chan radio.Observation, 256)
	link.SetObserver(func(obs radio.Observation) {
		select {
		case observations <- obs:
		default:
		}
	})
	link.Start()
	defer link.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Batch sender goroutine - sends batched updates to TUI at fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				sender.send(nodeStoppedMsg{})
				return
			case <-link.Done():
				sender.send(nodeStoppedMsg{err: link.Err()})
				return
			case <-ticker.C:
				var batch sniffBatchMsg
			drainLoop:
				for {
					select {
					case obs := <-observations:
						batch.observations = append(batch.observations, obs)
					default:
						break drainLoop
					}
				}
				if len(batch.observations) > 0 {
					sender.send(batch)
				}
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	if err := link.Err(); err != nil {
		return fmt.Errorf("radio link stopped: %w", err)
	}
	return nil
}
