package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines key bindings.
type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Claim      key.Binding
	Promote    key.Binding
	Remove     key.Binding
	Unlock     key.Binding
	StopAll    key.Binding
	Resume     key.Binding
	ResetHalt  key.Binding
	ToggleOn   key.Binding
	ToggleAuto key.Binding
	Help       key.Binding
	Quit       key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Claim: key.NewBinding(
		key.WithKeys("c", "enter"),
		key.WithHelp("c", "claim head"),
	),
	Promote: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "promote"),
	),
	Remove: key.NewBinding(
		key.WithKeys("x", "delete"),
		key.WithHelp("x", "remove"),
	),
	Unlock: key.NewBinding(
		key.WithKeys("u"),
		key.WithHelp("u", "unlock"),
	),
	StopAll: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "stop all"),
	),
	Resume: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "resume"),
	),
	ResetHalt: key.NewBinding(
		key.WithKeys("H"),
		key.WithHelp("H", "reset halt"),
	),
	ToggleOn: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "toggle actions"),
	),
	ToggleAuto: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "toggle auto"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "more keys"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Claim, k.StopAll, k.Resume, k.ResetHalt, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Promote, k.Remove},
		{k.Claim, k.Unlock, k.ToggleOn, k.ToggleAuto},
		{k.StopAll, k.Resume, k.ResetHalt},
		{k.Help, k.Quit},
	}
}
