// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// Messages shared by the TUIs
type tickMsg time.Time

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// tuiStyles holds the lipgloss styles every view uses
type tuiStyles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	statsLabel lipgloss.Style
	statsValue lipgloss.Style
	err        lipgloss.Style
	warning    lipgloss.Style
	box        lipgloss.Style
}

func newTUIStyles() tuiStyles {
	return tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		statsLabel: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		statsValue: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

// eventLog keeps the most recent events and shows them in a scrollable
// viewport that follows new entries while scrolled to the bottom
type eventLog struct {
	entries    []errorLogEntry
	maxEntries int
	view       viewport.Model
	styles     tuiStyles
}

func newEventLog(styles tuiStyles) eventLog {
	return eventLog{
		entries:    make([]errorLogEntry, 0),
		maxEntries: 200,
		view:       viewport.New(76, 8),
		styles:     styles,
	}
}

func (l *eventLog) add(message string, isError bool) {
	follow := l.view.AtBottom()

	l.entries = append(l.entries, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	// Keep only last N entries
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}

	l.view.SetContent(l.content())
	if follow {
		l.view.GotoBottom()
	}
}

func (l *eventLog) setSize(width, height int) {
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}
	l.view.Width = width
	l.view.Height = height
	l.view.SetContent(l.content())
	l.view.GotoBottom()
}

// scroll passes navigation keys to the viewport
func (l *eventLog) scroll(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	l.view, cmd = l.view.Update(msg)
	return cmd
}

func (l *eventLog) content() string {
	if len(l.entries) == 0 {
		return l.styles.header.Render("  (no events yet)")
	}

	var s strings.Builder
	for i, entry := range l.entries {
		if i > 0 {
			s.WriteString("\n")
		}
		timestamp := l.styles.header.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			s.WriteString(fmt.Sprintf("%s %s", timestamp, l.styles.err.Render("✗ "+entry.message)))
		} else {
			s.WriteString(fmt.Sprintf("%s %s", timestamp, l.styles.warning.Render("ℹ "+entry.message)))
		}
	}
	return s.String()
}

func (l eventLog) render(width int) string {
	var s strings.Builder
	s.WriteString(l.styles.statsLabel.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(l.styles.box.Width(width).Render(l.view.View()))
	return s.String()
}

// renderStatistics draws the link statistics box
func renderStatistics(st genfsk.Statistics, styles tuiStyles, width int) string {
	st.CalculateRates()

	var validPercent, errorPercent float64
	totalErrors := st.CRCErrors + st.DecodeErrors + st.MalformedFrames
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(totalErrors) * 100.0 / float64(st.TotalFrames)
	}

	errorValue := styles.statsValue.Render("0 (0.0%)")
	if totalErrors > 0 {
		errorValue = styles.err.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent))
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		styles.statsLabel.Render("Received:"), styles.statsValue.Render(fmt.Sprintf("%d", st.TotalFrames)),
		styles.statsLabel.Render("Valid:"), styles.statsValue.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		styles.statsLabel.Render("Errors:"), errorValue,
		styles.statsLabel.Render("Sent:"), styles.statsValue.Render(fmt.Sprintf("%d", st.SentFrames)),
	))

	if st.CRCErrors > 0 || st.DecodeErrors > 0 || st.MalformedFrames > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			styles.statsLabel.Render("CRC Errors:"), styles.err.Render(fmt.Sprintf("%d", st.CRCErrors)),
			styles.statsLabel.Render("Decode Errors:"), styles.err.Render(fmt.Sprintf("%d", st.DecodeErrors)),
			styles.statsLabel.Render("Malformed:"), styles.err.Render(fmt.Sprintf("%d", st.MalformedFrames)),
		))
	}

	if st.FilteredFrames > 0 || st.AnomalousFrames > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			styles.statsLabel.Render("Filtered:"), styles.warning.Render(fmt.Sprintf("%d", st.FilteredFrames)),
			styles.statsLabel.Render("Anomalous:"), styles.warning.Render(fmt.Sprintf("%d", st.AnomalousFrames)),
		))
	}

	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		styles.statsLabel.Render("Heartbeats:"), styles.statsValue.Render(fmt.Sprintf("%d", st.Heartbeats)),
		styles.statsLabel.Render("Frame Rate:"), styles.statsValue.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		styles.statsLabel.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return styles.err.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return styles.statsValue.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))

	return styles.box.Width(width).Render(content.String())
}

// formatUptime formats a duration in milliseconds to a human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
