package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/livewatch/action"
	"github.com/justapithecus/livewatch/runtime"
)

// DefaultRefresh is how often the dashboard polls the engine.
const DefaultRefresh = time.Second

// Controller is the part of *runtime.Engine the dashboard drives.
type Controller interface {
	Observe() runtime.View
	StopAll() int
	Resume()
	ResetHalt()
	ClaimNow(ctx context.Context) action.Result
	Unlock()
	Promote(id string) bool
	Remove(id string) bool
	SetActions(enabled, auto bool)
}

type refreshMsg time.Time

type claimMsg action.Result

// Model is the dashboard model.
type Model struct {
	ctx      context.Context
	ctrl     Controller
	refresh  time.Duration
	view     runtime.View
	cursor   int
	status   string
	claiming bool
	help     help.Model
	width    int
	height   int
	quitting bool
}

// NewModel creates a dashboard over ctrl. ctx bounds manual claims.
func NewModel(ctx context.Context, ctrl Controller, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return Model{
		ctx:     ctx,
		ctrl:    ctrl,
		refresh: refresh,
		view:    ctrl.Observe(),
		help:    help.New(),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case refreshMsg:
		m.observe()
		return m, m.tick()

	case claimMsg:
		m.claiming = false
		res := action.Result(msg)
		m.status = fmt.Sprintf("claim: %s", res.Outcome)
		if res.RecordID != "" {
			m.status += " " + res.RecordID
		}
		if res.Err != nil {
			m.status += " (" + res.Err.Error() + ")"
		}
		m.observe()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.view.Queue)-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.Claim):
		if m.claiming {
			m.status = "claim already in progress"
			return m, nil
		}
		m.claiming = true
		m.status = "claiming..."
		ctx, ctrl := m.ctx, m.ctrl
		return m, func() tea.Msg { return claimMsg(ctrl.ClaimNow(ctx)) }

	case key.Matches(msg, keys.Promote):
		if id, ok := m.selected(); ok && m.ctrl.Promote(id) {
			m.status = "promoted " + id
			m.cursor = 0
		}

	case key.Matches(msg, keys.Remove):
		if id, ok := m.selected(); ok && m.ctrl.Remove(id) {
			m.status = "removed " + id
		}

	case key.Matches(msg, keys.Unlock):
		m.ctrl.Unlock()
		m.status = "action lock released"

	case key.Matches(msg, keys.StopAll):
		n := m.ctrl.StopAll()
		m.status = fmt.Sprintf("stopped %d listeners", n)

	case key.Matches(msg, keys.Resume):
		m.ctrl.Resume()
		m.status = "resumed"

	case key.Matches(msg, keys.ResetHalt):
		m.ctrl.ResetHalt()
		m.status = "emergency halt reset"

	case key.Matches(msg, keys.ToggleOn):
		m.ctrl.SetActions(!m.view.ActionsEnabled, m.view.AutoActions)
		m.status = fmt.Sprintf("actions enabled: %v", !m.view.ActionsEnabled)

	case key.Matches(msg, keys.ToggleAuto):
		m.ctrl.SetActions(m.view.ActionsEnabled, !m.view.AutoActions)
		m.status = fmt.Sprintf("auto actions: %v", !m.view.AutoActions)

	default:
		return m, nil
	}

	m.observe()
	return m, nil
}

func (m *Model) observe() {
	m.view = m.ctrl.Observe()
	if m.cursor >= len(m.view.Queue) {
		m.cursor = max(len(m.view.Queue)-1, 0)
	}
}

func (m Model) selected() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.view.Queue) {
		return "", false
	}
	return m.view.Queue[m.cursor].ID, true
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n\n")
	b.WriteString(m.renderListeners())
	b.WriteString("\n")
	b.WriteString(m.renderQueue())
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(ValueStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(m.help.View(keys)))
	return b.String()
}

func (m Model) renderHeader() string {
	v := m.view
	parts := []string{
		TitleStyle.UnsetMarginBottom().Render("livewatch"),
		LabelStyle.Width(0).Render(fmt.Sprintf("session %s  up %s", shortID(v.SessionID), v.Uptime)),
	}
	if v.Budget.Halted {
		parts = append(parts, BadgeStyle.Background(errorColor).Render("HALTED: "+v.Budget.Reason))
	}
	if v.Paused {
		parts = append(parts, BadgeStyle.Background(warningColor).Render("PAUSED"))
	}
	if v.Lock.Locked {
		parts = append(parts, BadgeStyle.Background(highlightColor).Render(
			fmt.Sprintf("LOCKED %s", v.Lock.Remaining.Truncate(time.Second))))
	}
	actions := "actions off"
	switch {
	case v.ActionsEnabled && v.AutoActions:
		actions = "actions auto"
	case v.ActionsEnabled:
		actions = "actions manual"
	}
	parts = append(parts, LabelStyle.Width(0).Render(actions))
	return strings.Join(parts, "  ")
}

func (m Model) renderStats() string {
	v := m.view
	claimed := v.Metrics.ActionsByOutcome[string(action.OutcomeSuccess)]
	boxes := []string{
		renderStatBox("Listeners", fmt.Sprintf("%d/%d", v.Active(), len(v.Listeners)), successColor),
		renderStatBox("Queue", fmt.Sprintf("%d/%d", len(v.Queue), v.QueueCap), highlightColor),
		renderStatBox("Budget", fmt.Sprintf("%d/%d", v.Budget.WindowAttempts, v.Budget.Ceiling), budgetColor(v)),
		renderStatBox("Claimed", fmt.Sprintf("%d", claimed), primaryColor),
		renderStatBox("Notified", fmt.Sprintf("%d", v.Metrics.ItemsNotified), mutedColor),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func budgetColor(v runtime.View) lipgloss.Color {
	switch {
	case v.Budget.Halted:
		return errorColor
	case v.Budget.Ceiling > 0 && v.Budget.WindowAttempts*2 >= v.Budget.Ceiling:
		return warningColor
	default:
		return successColor
	}
}

func renderStatBox(label, value string, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(value)
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

func (m Model) renderListeners() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Searches"))
	b.WriteString("\n")
	if len(m.view.Listeners) == 0 {
		b.WriteString(LabelStyle.Width(0).Render("(no searches configured)"))
		b.WriteString("\n")
		return b.String()
	}
	for _, l := range m.view.Listeners {
		name := l.Config.Name
		if name == "" {
			name = l.Config.Key.QueryID
		}
		line := fmt.Sprintf("%-24s %-28s %s  attempts %d  seen %d",
			truncate(name, 24),
			truncate(l.Config.Key.String(), 28),
			PhaseStyle(l.Phase).Render(fmt.Sprintf("%-13s", l.Phase)),
			l.AttemptCount,
			l.NotificationsSeen,
		)
		if l.CooldownRemaining > 0 {
			line += WarningStyle.Render(fmt.Sprintf("  cooldown %s", l.CooldownRemaining.Truncate(time.Second)))
		}
		if l.LastError != "" {
			line += ErrorStyle.Render("  " + truncate(l.LastError, 40))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderQueue() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Queue"))
	b.WriteString("\n")
	if len(m.view.Queue) == 0 {
		b.WriteString(LabelStyle.Width(0).Render("(empty)"))
		b.WriteString("\n")
		return b.String()
	}
	for i, rec := range m.view.Queue {
		line := fmt.Sprintf("%-36s %-14s %-16s %s",
			truncate(rec.DisplayName(), 36),
			rec.Price.String(),
			truncate(rec.Seller, 16),
			rec.Listener.String(),
		)
		if i == m.cursor {
			b.WriteString(CursorStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
