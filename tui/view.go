package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/reflow/flow"
	"github.com/samaelod/reflow/types"
)

type flowItem struct {
	key  types.FlowKey
	flow *flow.Flow
}

func (f flowItem) Title() string {
	return fmt.Sprintf("%-5s %s <-> %s", strings.ToUpper(f.key.Protocol.String()), f.key.A, f.key.B)
}
func (f flowItem) Description() string { return fmt.Sprintf("%d packets", f.flow.Len()) }
func (f flowItem) FilterValue() string { return f.Title() }

type flowDelegate struct {
	selected map[types.FlowKey]bool
}

func (d flowDelegate) Height() int                               { return 1 }
func (d flowDelegate) Spacing() int                              { return 0 }
func (d flowDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d flowDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(flowItem)
	if !ok {
		return
	}

	mark := "[ ]"
	if d.selected[i.key] {
		mark = "[x]"
	}
	str := mark + " " + i.Title()
	if limit := m.Width() - 2; limit > 1 && len(str) > limit {
		str = str[:limit-1] + "…"
	}

	if index == m.Index() {
		fmt.Fprint(w, styleSelected.Copy().Foreground(colorSecondary).Render("> "+str))
		return
	}
	style := lipgloss.NewStyle().Foreground(colorText)
	if d.selected[i.key] {
		style = style.Foreground(colorPrimary)
	}
	fmt.Fprint(w, style.Render("  "+str))
}

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()

	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}

	thumbPos := int(float64(trackHeight-1) * vp.ScrollPercent())
	if thumbPos < 0 {
		thumbPos = 0
	}
	if thumbPos > trackHeight-1 {
		thumbPos = trackHeight - 1
	}

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) View() string {
	var content string

	// Window border (2) + padding (2)
	windowWidth := m.width - 4
	windowHeight := m.height - 4

	if windowWidth < minWindowWidth || windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	appTitle := styleAppTitle.Width(windowWidth).Render("REFLOW " + m.version)

	switch m.screen {

	case screenSourceSelect:
		menuTitle := styleTitle.Render("Select Source")

		cardPCAP, cardLua := styleMenuItemSelected, styleMenuItem
		if m.menuCursor == 1 {
			cardPCAP, cardLua = styleMenuItem, styleMenuItemSelected
		}

		menuContent := lipgloss.JoinVertical(lipgloss.Center,
			menuTitle,
			"\n",
			lipgloss.JoinHorizontal(lipgloss.Center,
				cardPCAP.Render("Capture File"),
				cardLua.Render("Session Script"),
			),
		)

		content = lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.Place(
				windowWidth, windowHeight-1,
				lipgloss.Center, lipgloss.Center,
				styleMenuContainer.Render(menuContent),
			),
		)

	case screenFilePicker:
		content = m.viewFilePicker(appTitle, windowWidth, windowHeight)

	case screenLoading:
		status := "Loading..."
		if m.err != nil {
			status = styleError.Render("Error: "+m.err.Error()) + "\n\n" + styleSubtext.Render("esc to go back")
		}

		content = lipgloss.Place(
			windowWidth, windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center,
				appTitle,
				"\n",
				status,
			),
		)

	case screenFlows:
		content = lipgloss.JoinVertical(lipgloss.Top, appTitle, m.viewFlows(windowWidth, windowHeight))
	}

	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m Model) viewFilePicker(appTitle string, windowWidth, windowHeight int) string {
	// Browser (1/3) | Preview (2/3)
	listWidth := windowWidth / 3
	previewWidth := windowWidth - listWidth
	panelHeight := windowHeight - 1

	browserColor := colorSecondary
	if m.fileBrowser.HasValidFilesInDir(m.fileBrowser.CurrentDir) {
		browserColor = colorSuccess
	}

	previewColor := colorSecondary
	if fi, ok := m.fileBrowser.List.SelectedItem().(fileItem); ok && !fi.isDir {
		if m.fileBrowser.SelectedHasValidExtension() {
			previewColor = colorSuccess
		} else {
			previewColor = colorError
		}
	}

	browserTitle := styleTitle.MarginBottom(1).Render("Select File")
	browserView := stylePanelTitled.
		BorderForeground(browserColor).
		Width(listWidth - 4).
		Height(panelHeight).
		Render(browserTitle + "\n" + m.fileBrowser.View())

	previewTitle := styleTitle.MarginBottom(1).Render("File Preview")
	contentHeight := panelHeight - 5 // border, title, margin, dots
	previewLines := strings.Split(m.fileBrowser.PreviewContent, "\n")
	if contentHeight > 1 && len(previewLines) > contentHeight {
		previewLines = append(previewLines[:contentHeight-1], "...")
	}
	previewView := stylePanelTitled.
		BorderForeground(previewColor).
		Width(previewWidth).
		Height(panelHeight).
		Render(previewTitle + "\n" + strings.Join(previewLines, "\n"))

	return lipgloss.Place(
		windowWidth, windowHeight,
		lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.JoinHorizontal(lipgloss.Top, browserView, previewView),
		),
	)
}

func (m Model) viewFlows(windowWidth, windowHeight int) string {
	availWidth := windowWidth
	availHeight := windowHeight - 1 - footerHeight

	listWidth := defaultListWidth
	if listWidth > availWidth/3 {
		listWidth = availWidth / 3
	}
	if listWidth < minListWidth {
		listWidth = minListWidth
	}
	rightWidth := availWidth - listWidth
	if rightWidth < 0 {
		rightWidth = 0
	}

	logsHeight := availHeight * 40 / 100
	if m.activeView == 1 {
		logsHeight = availHeight * 70 / 100
	}
	detailsHeight := availHeight - logsHeight
	if detailsHeight < 10 {
		detailsHeight = 10
		logsHeight = availHeight - detailsHeight
	}

	// Left: flow list
	m.flows.SetSize(listWidth-4, availHeight-4)
	listBorder := colorSubtext
	if m.activeView == 0 {
		listBorder = colorSecondary
	}
	title := fmt.Sprintf("Flows %d/%d", len(m.selectedKeys()), len(m.flows.Items()))
	listPanel := stylePanelTitled.
		BorderForeground(listBorder).
		Width(listWidth - 4).
		Height(availHeight - 2).
		Render(styleTitle.MarginBottom(1).Render(title) + "\n" + m.flows.View())

	// Right top: details
	detailsContentHeight := detailsHeight - 3
	if detailsContentHeight < 4 {
		detailsContentHeight = 4
	}
	detailsBorder := colorSubtext
	if m.engine != nil {
		switch m.engine.Status() {
		case types.StatusRunning:
			detailsBorder = colorSecondary
		case types.StatusCompleted:
			detailsBorder = colorSuccess
			if m.result != nil && !m.result.OK() {
				detailsBorder = colorError
			}
		case types.StatusError:
			detailsBorder = colorError
		}
	}
	rightTop := stylePanelTitled.
		BorderForeground(detailsBorder).
		Width(rightWidth).
		Height(detailsHeight).
		Render(styleTitle.MarginBottom(1).Render("Flow Details") + "\n" +
			renderFlowDetails(m, rightWidth-4, detailsContentHeight))

	// Right bottom: logs
	logsContentHeight := logsHeight - 6
	if logsContentHeight < 2 {
		logsContentHeight = 2
	}
	m.logViewport.Width = rightWidth - 7 // padding, border and scrollbar
	m.logViewport.Height = logsContentHeight

	logsColor := colorSubtext
	if m.activeView == 1 {
		logsColor = colorSecondary
	}
	scrollbarCol := scrollbarTrack.Width(1).Render(renderScrollbar(m.logViewport, logsContentHeight))
	logsContent := styleTitle.MarginBottom(1).Render("Logs") + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, m.logViewport.View(), scrollbarCol)
	rightBottom := stylePanelTitled.
		BorderForeground(logsColor).
		Width(rightWidth).
		Height(logsHeight - 2).
		Render(logsContent)

	topArea := lipgloss.JoinHorizontal(lipgloss.Top,
		listPanel,
		lipgloss.JoinVertical(lipgloss.Top, rightTop, rightBottom),
	)

	footerView := styleFooter.
		Width(windowWidth - 2).
		Render(m.footer())

	return lipgloss.JoinVertical(lipgloss.Top, topArea, footerView)
}

func (m Model) footer() string {
	keyStyle := lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(colorSubtext)
	sep := descStyle.Render(" • ")

	hint := func(key, desc string) string {
		return keyStyle.Render(key) + descStyle.Render(" "+desc)
	}

	var hints []string
	if m.activeView == 0 {
		hints = []string{
			hint("<tab>", "logs"), hint("space", "select"), hint("a", "all"),
			hint("r", "replay"), hint("s", "stop"), hint("w", "save"),
			hint("e", "edit"), hint("u", "reload"), hint("q", "quit"),
		}
	} else {
		hints = []string{
			hint("<tab>", "flows"), hint("e", "editor"),
			hint("g", "top"), hint("G", "bottom"), hint("q", "quit"),
		}
	}

	var status string
	switch {
	case m.err != nil:
		status = styleError.Render(m.err.Error())
	case m.replaying:
		status = keyStyle.Render("replaying...")
	case m.result != nil:
		c := m.result.Counters
		st := styleSuccess
		if !m.result.OK() {
			st = styleError
		}
		status = st.Render(fmt.Sprintf("sent %d ok %d fail %d drop %d skip %d",
			c.Total, c.Passed, c.Failed, c.Dropped, c.Skipped))
		if m.result.Stopped {
			status += descStyle.Render(" (stopped by " + m.result.StoppedBy + ")")
		}
	}
	if status != "" {
		hints = append(hints, status)
	}
	return strings.Join(hints, sep)
}

func renderFlowDetails(m Model, width, height int) string {
	fi, ok := m.currentFlow()
	if !ok {
		return "No flow selected"
	}

	contentWidth := width - 2
	if contentWidth < 0 {
		contentWidth = 0
	}
	valueMaxWidth := contentWidth - 11
	if valueMaxWidth < 5 {
		valueMaxWidth = 5
	}

	row := func(label, value string) string {
		if len(value) > valueMaxWidth {
			value = value[:valueMaxWidth-1] + "…"
		}
		return lipgloss.JoinHorizontal(lipgloss.Left,
			styleLabel.Render(label),
			styleValue.Render(value),
		)
	}

	f := fi.flow
	rows := []string{
		row("Protocol:", fi.key.Protocol.String()),
		row("Client:", fi.key.A.String()),
		row("Server:", fi.key.B.String()),
		row("Packets:", fmt.Sprintf("%d (first #%d)", f.Len(), f.FirstSeq())),
	}
	if fi.key.Protocol == types.TCP {
		rows = append(rows, row("State:", fmt.Sprintf("connected=%t active_close=%t passive_close=%t",
			f.Connected(), f.ActiveClose(), f.PassiveClose())))
	}
	header := lipgloss.JoinVertical(lipgloss.Left, rows...)

	packetsHeader := lipgloss.NewStyle().
		MarginTop(1).
		Foreground(colorSecondary).
		Bold(true).
		Render("Packets")

	avail := height - len(rows) - 3
	if avail < 0 {
		avail = 0
	}

	var lines []string
	entries := f.Entries()
	for i, e := range entries {
		if i >= avail {
			lines = append(lines, styleSubtext.Render(fmt.Sprintf("... and %d more", len(entries)-i)))
			break
		}
		dir := "→"
		if e.Packet.Key() != fi.key {
			dir = "←"
		}
		line := fmt.Sprintf("#%-6d %s %s", e.Seq, dir, e.Packet.Summary())
		if contentWidth > 1 && len(line) > contentWidth {
			line = line[:contentWidth-1] + "…"
		}
		lines = append(lines, line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		header,
		packetsHeader,
		strings.Join(lines, "\n"),
	)

	out := strings.Split(content, "\n")
	for len(out) < height {
		out = append(out, "")
	}
	if len(out) > height {
		out = out[:height]
	}
	return strings.Join(out, "\n")
}
