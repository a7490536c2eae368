package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/reflow/config"
	"github.com/samaelod/reflow/types"
)

func New(version string, cfg *config.Config) Model {
	fb := NewFileBrowser([]string{".pcap", ".pcapng", ".cap", ".lua"})

	return Model{
		screen:      screenSourceSelect,
		appConfig:   cfg,
		fileBrowser: fb,
		selected:    make(map[types.FlowKey]bool),
		menuCursor:  0,
		version:     version,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func Run(version string, cfg *config.Config) error {
	p := tea.NewProgram(New(version, cfg), tea.WithAltScreen())
	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		fm.session.Close()
		if fm.engine != nil {
			fm.engine.Log.Close()
		}
	}
	return err
}
