package tui

import (
	"context"
	"log"
	"os"
	"os/exec"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/reflow/audit"
	"github.com/samaelod/reflow/config"
	"github.com/samaelod/reflow/engine"
	"github.com/samaelod/reflow/flow"
	"github.com/samaelod/reflow/types"
)

func editorCmd(path string, done func(error) tea.Msg) tea.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	return tea.ExecProcess(exec.Command(editor, path), done)
}

func openLogsInEditor(logContent string) tea.Cmd {
	f, err := os.CreateTemp("", "reflow-logs-*.log")
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	if _, err := f.WriteString(logContent); err != nil {
		f.Close()
		return func() tea.Msg { return errMsg{err} }
	}
	f.Close()
	tempPath := f.Name()

	return editorCmd(tempPath, func(error) tea.Msg {
		os.Remove(tempPath)
		return nil
	})
}

func (m *Model) resize() {
	availWidth := m.width - 4
	listWidth := defaultListWidth
	if listWidth > availWidth/3 {
		listWidth = availWidth / 3
	}
	if listWidth < minListWidth {
		listWidth = minListWidth
	}

	m.fileBrowser.SetSize(listWidth-4, m.height-7)
	if m.screen != screenFlows {
		return
	}

	m.flows.SetSize(listWidth-4, m.height-12)

	availHeight := m.height - 5
	logsHeight := availHeight * 40 / 100
	if m.activeView == 1 {
		logsHeight = availHeight * 70 / 100
	}
	if availHeight-logsHeight < 10 {
		logsHeight = availHeight - 10
	}
	vpHeight := logsHeight - 7
	if vpHeight < 0 {
		vpHeight = 0
	}
	m.logViewport.Width = availWidth - listWidth - 6
	m.logViewport.Height = vpHeight
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || (msg.String() == "q" && !m.filtering()) {
			if m.engine != nil {
				m.engine.Stop()
			}
			return m, tea.Quit
		}
	}

	// Handled regardless of screen
	switch msg := msg.(type) {
	case loadedMsg:
		return m.showSession(msg.session)

	case errMsg:
		m.err = msg.err
		log.Printf("Error: %v", msg.err)
		if m.engine != nil {
			m.engine.Log.Printf("Error: %v", msg.err)
		}
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if m.session == nil {
			return m, nil
		}
		return m, loadCmd(m.appConfig, sourceLua, m.session.path)

	case replayDoneMsg:
		m.replaying = false
		if msg.err != nil {
			m.err = msg.err
			m.engine.Log.Printf("Replay failed: %v", msg.err)
			return m, nil
		}
		m.err = nil
		res := msg.result
		m.result = &res
		if !res.OK() {
			m.engine.Log.Printf("Verification failed: %s", res.Counters)
		}
		return m, nil

	case logMsg:
		if m.engine != nil && m.engine.Log == msg.from {
			m.logContent = m.engine.Log.ReadAll()
			m.logViewport.SetContent(m.logContent)
			m.logViewport.GotoBottom()
			return m, waitForLog(m.engine.Log)
		}
		return m, nil
	}

	switch m.screen {

	case screenSourceSelect:
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "up", "k", "left", "h", "down", "j", "right", "l":
				m.menuCursor = 1 - m.menuCursor
			case "enter":
				if m.menuCursor == 0 {
					m.source = sourcePCAP
					m.fileBrowser = NewFileBrowser([]string{".pcap", ".cap", ".pcapng"})
				} else {
					m.source = sourceLua
					m.fileBrowser = NewFileBrowser([]string{".lua"})
				}
				m.screen = screenFilePicker
				m.resize()
			}
		}
		return m, nil

	case screenFilePicker:
		var cmd tea.Cmd
		m.fileBrowser, cmd = m.fileBrowser.Update(msg)

		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
			fi, ok := m.fileBrowser.List.SelectedItem().(fileItem)
			if !ok || fi.isDir || !hasAllowedExt(fi.name, m.fileBrowser.AllowedTypes) {
				return m, cmd
			}
			m.screen = screenLoading
			m.err = nil
			log.Printf("Selected %s", fi.path)
			return m, loadCmd(m.appConfig, m.source, fi.path)
		}
		return m, cmd

	case screenLoading:
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" && m.err != nil {
			m.screen = screenFilePicker
			m.err = nil
		}
		return m, nil
	}

	if m.screen != screenFlows {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && !m.filtering() {
		switch msg.String() {
		case "tab", "shift+tab":
			m.activeView = 1 - m.activeView
			m.resize()
			return m, nil

		case "e":
			if m.activeView == 1 {
				return m, openLogsInEditor(m.logContent)
			}
			if m.replaying {
				return m, nil
			}
			return m, editorCmd(m.session.path, func(err error) tea.Msg {
				return editorFinishedMsg{err}
			})

		case "u":
			if !m.replaying {
				return m, loadCmd(m.appConfig, sourceLua, m.session.path)
			}
			return m, nil

		case "w":
			if m.activeView == 0 && !m.replaying {
				return m, saveSelectionCmd(m.appConfig, m.session, m.selectedKeys())
			}

		case " ":
			if m.activeView == 0 {
				if fi, ok := m.currentFlow(); ok {
					m.selected[fi.key] = !m.selected[fi.key]
				}
				return m, nil
			}

		case "a":
			if m.activeView == 0 {
				all := len(m.selectedKeys()) < len(m.flows.Items())
				for _, it := range m.flows.Items() {
					if fi, ok := it.(flowItem); ok {
						m.selected[fi.key] = all
					}
				}
				return m, nil
			}

		case "r":
			if m.replaying || m.engine == nil {
				return m, nil
			}
			keys := m.selectedKeys()
			if len(keys) == 0 {
				m.engine.Log.Printf("No flows selected")
				return m, nil
			}
			m.replaying = true
			m.err = nil
			return m, replayCmd(m.appConfig, m.engine, m.session, keys)

		case "s":
			if m.replaying {
				m.engine.Stop()
			}
			return m, nil

		case "g":
			if m.activeView == 1 {
				m.logViewport.GotoTop()
			}
		case "G":
			if m.activeView == 1 {
				m.logViewport.GotoBottom()
			}
		}
	}

	var cmd tea.Cmd
	if m.activeView == 0 {
		m.flows, cmd = m.flows.Update(msg)
	} else {
		m.logViewport, cmd = m.logViewport.Update(msg)
	}
	return m, cmd
}

func (m Model) filtering() bool {
	switch m.screen {
	case screenFilePicker:
		return m.fileBrowser.List.FilterState() == list.Filtering
	case screenFlows:
		return m.flows.FilterState() == list.Filtering
	}
	return false
}

// showSession switches to the flow view for s, replacing any previous
// session and its engine logger.
func (m Model) showSession(s *session) (tea.Model, tea.Cmd) {
	if m.session != nil && m.session.script != s.script {
		m.session.Close()
	}
	if m.engine != nil {
		m.engine.Log.Close()
	}
	m.session = s
	m.err = nil
	setupSessionLog(m.appConfig.LogsDir, s.path)

	logger := engine.NewLogger(engineLogPath(m.appConfig.LogsDir, s.path), m.appConfig.LogLines)
	m.engine = engine.NewEngine(s.rec.Store(), nil, nil, logger)
	m.result = nil

	m.selected = make(map[types.FlowKey]bool)
	keys, _ := s.script.Session.Keys()
	for _, k := range keys {
		if f, ok := s.rec.Store().Lookup(k); ok {
			m.selected[f.Key()] = true
		} else {
			logger.Printf("Session flow %s is not in the capture", k)
		}
	}

	m.flows = list.New(flowItems(s.rec.Store()), flowDelegate{selected: m.selected}, 30, m.height-12)
	m.flows.SetShowTitle(false)
	m.flows.SetShowHelp(false)
	m.flows.SetShowStatusBar(false)

	m.screen = screenFlows
	m.logViewport = viewport.New(10, 10)
	m.resize()

	logger.Printf("Session %s, capture %s", s.path, s.capture)
	logger.Printf("%s", summarize(s.stats))
	if n := len(s.script.Triggers); n > 0 {
		logger.Printf("%d triggers loaded", n)
	}
	return m, waitForLog(logger)
}

func flowItems(st *flow.Store) []list.Item {
	var items []list.Item
	for _, k := range allKeys(st) {
		if f, ok := st.Lookup(k); ok {
			items = append(items, flowItem{key: k, flow: f})
		}
	}
	return items
}

func loadCmd(cfg *config.Config, source sourceType, path string) tea.Cmd {
	return func() tea.Msg {
		s, err := loadSource(cfg, source, path)
		if err != nil {
			return errMsg{err}
		}
		withAudit(cfg, func(ctx context.Context, st *audit.Store) error {
			return st.SaveReconstruction(ctx, s.rec)
		})
		return loadedMsg{s}
	}
}

func saveSelectionCmd(cfg *config.Config, cur *session, keys []types.FlowKey) tea.Cmd {
	return func() tea.Msg {
		s, err := saveSelection(cfg, cur, keys)
		if err != nil {
			return errMsg{err}
		}
		return loadedMsg{s}
	}
}

func replayCmd(cfg *config.Config, e *engine.Engine, s *session, keys []types.FlowKey) tea.Cmd {
	return func() tea.Msg {
		res, err := runReplay(cfg, e, s, keys)
		return replayDoneMsg{result: res, err: err}
	}
}

type loadedMsg struct{ session *session }
type errMsg struct{ err error }
type editorFinishedMsg struct{ err error }
type replayDoneMsg struct {
	result engine.Result
	err    error
}
type logMsg struct {
	line string
	from *engine.Logger
}

func waitForLog(logger *engine.Logger) tea.Cmd {
	return func() tea.Msg {
		ch := logger.Chan()
		if ch == nil {
			return nil
		}
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg{line: msg, from: logger}
	}
}
