package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tomaslejdung/rigcast/pkg/broadcast"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	viewerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan for keys

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
)

// statusSource is what the dashboard polls
type statusSource interface {
	Status() broadcast.Status
}

type tickMsg time.Time

type statusMsg broadcast.Status

type model struct {
	config     Config
	source     statusSource
	status     broadcast.Status
	startTime  time.Time
	showTracks bool
}

func initialModel(config Config, source statusSource) model {
	return model{
		config:     config,
		source:     source,
		status:     source.Status(),
		startTime:  time.Now(),
		showTracks: true,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func refreshStatus(source statusSource) tea.Cmd {
	return func() tea.Msg {
		return statusMsg(source.Status())
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "t":
			m.showTracks = !m.showTracks
			return m, nil
		case "r":
			return m, refreshStatus(m.source)
		}
	case tickMsg:
		return m, tea.Batch(refreshStatus(m.source), tickCmd())
	case statusMsg:
		m.status = broadcast.Status(msg)
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("rigcast"))
	b.WriteString(dimStyle.Render(" - rig camera broadcaster"))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	boxes := []string{m.renderViewerList()}
	if m.showTracks {
		boxes = append(boxes, m.renderTrackList())
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	b.WriteString(m.renderHelp())
	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder
	if m.status.Connected {
		b.WriteString(selectedStyle.Render("[CONNECTED]"))
	} else {
		b.WriteString(errorStyle.Render("[OFFLINE]"))
	}
	b.WriteString(" room ")
	b.WriteString(urlStyle.Render(m.status.Room))
	b.WriteString(dimStyle.Render(" via " + m.config.SignalURL))
	b.WriteString("\n")

	uptime := time.Since(m.startTime).Truncate(time.Second)
	b.WriteString(dimStyle.Render(fmt.Sprintf("up %s  %dx%d@%d %s  primary %s",
		formatDuration(uptime), m.config.Width, m.config.Height, m.config.FPS,
		m.config.Codec, m.config.PrimarySource)))
	return b.String()
}

func (m model) renderViewerList() string {
	var content strings.Builder
	content.WriteString(boxTitleStyle.Render(fmt.Sprintf(" Viewers (%d) ", len(m.status.Sessions))))
	content.WriteString("\n")

	if len(m.status.Sessions) == 0 {
		content.WriteString(dimStyle.Render("Waiting..."))
	}
	for _, s := range m.status.Sessions {
		connType := ""
		switch s.Connection {
		case "relay":
			connType = " TURN"
		case "direct":
			connType = " P2P"
		}
		line := fmt.Sprintf("%s %s%s [%s] %s", truncate(s.Viewer, 18), s.Source, connType, s.State,
			formatDuration(time.Since(s.Since).Truncate(time.Second)))
		if s.State == "ready" {
			content.WriteString(viewerStyle.Render(line))
		} else {
			content.WriteString(dimStyle.Render(line))
		}
		content.WriteString("\n")
	}
	return boxStyle.Render(strings.TrimSuffix(content.String(), "\n"))
}

func (m model) renderTrackList() string {
	var content strings.Builder
	content.WriteString(boxTitleStyle.Render(fmt.Sprintf(" Tracks (%d) ", len(m.status.Tracks))))
	content.WriteString("\n")

	if len(m.status.Tracks) == 0 {
		content.WriteString(dimStyle.Render("None"))
	}
	for _, t := range m.status.Tracks {
		content.WriteString(fmt.Sprintf("%s %s %dx%d", t.Source, t.Codec, t.Width, t.Height))
		content.WriteString("\n")
	}
	return boxStyle.Render(strings.TrimSuffix(content.String(), "\n"))
}

func (m model) renderHelp() string {
	actions := []string{
		keyStyle.Render("t") + helpStyle.Render(" tracks"),
		keyStyle.Render("r") + helpStyle.Render(" refresh"),
		keyStyle.Render("q") + helpStyle.Render(" quit"),
	}
	return strings.Join(actions, "  ")
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// RunTUI runs the broadcaster behind the status dashboard
func RunTUI(ctx context.Context, config Config) error {
	// Write logs to file instead of corrupting TUI display
	var logOut io.Writer = io.Discard
	if logFile, err := os.Create("rigcast-debug.log"); err == nil {
		defer logFile.Close()
		logOut = logFile
	}
	logger := newLogger(logOut, config.Verbose)
	logger.Info("rigcast started", "room", config.Room)

	o, err := newBroadcaster(config, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- runBroadcaster(ctx, config, o, logger)
	}()

	p := tea.NewProgram(initialModel(config, o), tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, tuiErr := p.Run()
	cancel()
	return errors.Join(tuiErr, <-runErr)
}
