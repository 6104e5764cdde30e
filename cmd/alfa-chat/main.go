// ABOUTME: Terminal chat client for the four agent personas over one websocket.
// ABOUTME: Tab switches personas; /file stages uploads; JWT comes from ALFA_TOKEN.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/valua-s/alfa-future/internal/attachment"
	"github.com/valua-s/alfa-future/internal/client"
	"github.com/valua-s/alfa-future/internal/config"
	"github.com/valua-s/alfa-future/internal/conversation"
	"github.com/valua-s/alfa-future/internal/protocol"
	"github.com/valua-s/alfa-future/internal/transport"
)

// getToken returns the JWT token from ALFA_TOKEN env var or ~/.config/alfa/token file
func getToken() string {
	if token := os.Getenv("ALFA_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "alfa", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

var (
	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	activeTabStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("87")).Underline(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	agentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("229"))
)

// serverEventMsg and connStatusMsg bridge the client's callback streams into
// the bubbletea update loop.
type serverEventMsg struct{ ev protocol.ServerEvent }

type connStatusMsg struct{ status transport.Status }

type uploadDoneMsg struct {
	persona conversation.Persona
	err     error
}

type model struct {
	svc      *client.Service
	events   <-chan tea.Msg
	personas []conversation.Persona
	active   int
	input    textinput.Model
	status   transport.Status
	width    int
	height   int
	notice   string
	quitting bool
}

func newModel(svc *client.Service, events <-chan tea.Msg) model {
	input := textinput.New()
	input.Placeholder = "Сообщение агенту..."
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	m := model{
		svc:      svc,
		events:   events,
		personas: conversation.Personas(),
		input:    input,
		status:   svc.ConnectionStatus(),
	}
	// The first tab is already on screen, so sessionless errors route there
	// before the user ever switches.
	svc.SetFocus(m.persona())
	return m
}

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitEvent(m.events))
}

func (m model) persona() conversation.Persona {
	return m.personas[m.active]
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case serverEventMsg:
		return m, waitEvent(m.events)

	case connStatusMsg:
		m.status = msg.status
		return m, waitEvent(m.events)

	case uploadDoneMsg:
		if msg.err != nil {
			m.notice = errStyle.Render(attachment.UploadFailedMessage)
		} else {
			m.notice = dimStyle.Render("Файл прикреплён")
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			m.svc.Close()
			return m, tea.Quit
		case tea.KeyTab:
			m.active = (m.active + 1) % len(m.personas)
			m.svc.SetFocus(m.persona())
			m.notice = ""
			return m, nil
		case tea.KeyShiftTab:
			m.active = (m.active + len(m.personas) - 1) % len(m.personas)
			m.svc.SetFocus(m.persona())
			m.notice = ""
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	m.notice = ""

	if text == "/quit" || text == "/q" {
		m.quitting = true
		m.svc.Close()
		return m, tea.Quit
	}

	if strings.HasPrefix(text, "/file ") {
		path := strings.TrimSpace(strings.TrimPrefix(text, "/file "))
		return m, m.uploadCmd(path)
	}

	if strings.HasPrefix(text, "/rm ") {
		id := strings.TrimSpace(strings.TrimPrefix(text, "/rm "))
		m.svc.RemoveAttachment(m.persona(), id)
		return m, nil
	}

	if err := m.svc.SendMessage(m.persona(), text); err != nil {
		m.notice = errStyle.Render(err.Error())
	}
	return m, nil
}

func (m model) uploadCmd(path string) tea.Cmd {
	svc := m.svc
	persona := m.persona()
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return uploadDoneMsg{persona: persona, err: err}
		}
		defer f.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		err = svc.UploadFiles(ctx, persona, []attachment.File{
			{Name: filepath.Base(path), Reader: f},
		})
		return uploadDoneMsg{persona: persona, err: err}
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	tabs := make([]string, 0, len(m.personas))
	for i, p := range m.personas {
		style := tabStyle
		if i == m.active {
			style = activeTabStyle
		}
		label := p.Title()
		if snap := m.svc.Session(p); snap.Status == conversation.SessionPending || snap.Status == conversation.SessionStreaming {
			label += " …"
		}
		tabs = append(tabs, style.Render(label))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n\n")

	snap := m.svc.Session(m.persona())
	history := snap.Messages
	if max := m.historyRows(); len(history) > max {
		history = history[len(history)-max:]
	}
	for _, msg := range history {
		switch msg.Role {
		case conversation.RoleUser:
			b.WriteString(userStyle.Render("Вы: "))
		default:
			b.WriteString(agentStyle.Render(m.persona().Title() + ": "))
		}
		b.WriteString(msg.Text)
		if len(msg.Attachments) > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  [файлов: %d]", len(msg.Attachments))))
		}
		b.WriteString("\n")
	}
	if snap.Status == conversation.SessionStreaming || snap.Status == conversation.SessionPending {
		b.WriteString(dimStyle.Render("…агент печатает\n"))
	}
	if snap.LastError != "" {
		b.WriteString(errStyle.Render(snap.LastError) + "\n")
	}
	b.WriteString("\n")

	if staged := m.svc.PendingAttachments(m.persona()); len(staged) > 0 {
		names := make([]string, 0, len(staged))
		for _, ref := range staged {
			names = append(names, ref.Filename)
		}
		b.WriteString(dimStyle.Render("Прикреплено: "+strings.Join(names, ", ")) + "\n")
	}
	if m.notice != "" {
		b.WriteString(m.notice + "\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.statusLine()))
	return b.String()
}

func (m model) historyRows() int {
	if m.height <= 0 {
		return 20
	}
	rows := m.height - 8
	if rows < 4 {
		return 4
	}
	return rows
}

func (m model) statusLine() string {
	parts := []string{"соединение: " + string(m.status)}
	if id, ok := m.svc.UserID(); ok {
		parts = append(parts, fmt.Sprintf("пользователь: %d", id))
	}
	parts = append(parts, "Tab — сменить агента, /file <путь>, /quit")
	return strings.Join(parts, "  ·  ")
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	host := flag.String("host", "", "Backend host (overrides config)")
	secure := flag.Bool("secure", false, "Use wss instead of ws")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *secure {
		cfg.Server.Secure = true
	}

	token := getToken()
	if token == "" {
		token = cfg.Auth.Token
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "No token. Set ALFA_TOKEN or write ~/.config/alfa/token (see alfa-agent-stub mint).")
		os.Exit(1)
	}

	logPath := filepath.Join(os.TempDir(), "alfa-chat.log")
	logger, closeLog := fileLogger(logPath)
	defer closeLog()

	trans := transport.New(transportOptions(cfg, logger))
	registry := conversation.NewRegistry(logger)
	staging := attachment.NewStaging()
	uploader := attachment.NewUploader(uploadBaseURL(cfg.Server.Host, cfg.Server.Secure), logger)

	svc := client.New(trans, registry, staging, uploader, client.Options{
		Policy: client.AllowAttachmentOnly,
		Logger: logger,
	})

	events := make(chan tea.Msg, 64)
	svc.OnServerEvent(func(ev protocol.ServerEvent) {
		events <- serverEventMsg{ev: ev}
	})
	svc.OnStatusChange(func(st transport.Status) {
		events <- connStatusMsg{status: st}
	})

	svc.Connect(token)

	p := tea.NewProgram(newModel(svc, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

// transportOptions maps the config's transport tuning onto the client.
func transportOptions(cfg *config.Config, logger *slog.Logger) transport.Options {
	return transport.Options{
		Host:       cfg.Server.Host,
		Secure:     cfg.Server.Secure,
		BaseDelay:  cfg.Transport.ReconnectBase,
		MaxDelay:   cfg.Transport.ReconnectMax,
		QueueLimit: cfg.Transport.QueueLimit,
		Logger:     logger,
	}
}

func uploadBaseURL(host string, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return scheme + "://" + host
}

// fileLogger writes structured logs to a file so they do not corrupt the
// alternate screen.
func fileLogger(path string) (*slog.Logger, func()) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { _ = f.Close() }
}
