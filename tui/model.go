package tui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/reflow/config"
	"github.com/samaelod/reflow/engine"
	"github.com/samaelod/reflow/types"
)

type screen int

const (
	screenSourceSelect screen = iota
	screenFilePicker
	screenLoading
	screenFlows
)

type sourceType int

const (
	sourcePCAP sourceType = iota
	sourceLua
)

type Model struct {
	screen screen
	source sourceType

	appConfig *config.Config
	session   *session
	err       error

	// fileBrowser for selecting capture/session files
	fileBrowser FileBrowser

	flows    list.Model
	selected map[types.FlowKey]bool

	width  int
	height int

	menuCursor int // 0: capture, 1: session
	activeView int // 0: flow list, 1: logs viewport

	version string

	engine      *engine.Engine
	replaying   bool
	result      *engine.Result
	logViewport viewport.Model
	logContent  string // cached log content for editor
}

// selectedKeys returns the selected flows in list order.
func (m Model) selectedKeys() []types.FlowKey {
	var keys []types.FlowKey
	for _, it := range m.flows.Items() {
		fi, ok := it.(flowItem)
		if ok && m.selected[fi.key] {
			keys = append(keys, fi.key)
		}
	}
	return keys
}

func (m Model) currentFlow() (flowItem, bool) {
	fi, ok := m.flows.SelectedItem().(flowItem)
	return fi, ok
}

const (
	minWindowWidth   = 80
	minWindowHeight  = 20
	defaultListWidth = 44
	minListWidth     = 30
	footerHeight     = 3
)
