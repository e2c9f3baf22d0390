package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, ctrl Controller) error {
	model := NewModel(ctx, ctrl, DefaultRefresh)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// RenderStatic renders one frame of the dashboard without a terminal
// program.
func RenderStatic(ctrl Controller) string {
	model := NewModel(context.Background(), ctrl, DefaultRefresh)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
