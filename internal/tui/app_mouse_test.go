package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/theirongolddev/furnace/internal/tui/components"
)

func TestMouseClickSwitchesTab(t *testing.T) {
	a := newTestApp(t)
	a.startForm = nil

	pos := 0
	for i, tab := range components.Tabs {
		w := components.TabVisualWidth(tab, i == a.activeTab)
		if i == 2 {
			break
		}
		pos += w + 1
	}

	m, _ := a.Update(tea.MouseMsg{X: pos + 1, Y: 0, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	a = m.(App)
	if a.activeTab != 2 {
		t.Fatalf("activeTab = %d, want 2 (History)", a.activeTab)
	}

	m, _ = a.Update(tea.MouseMsg{X: pos + 1, Y: 5, Button: tea.MouseButtonLeft, Action: tea.MouseActionPress})
	if m.(App).activeTab != 2 {
		t.Fatal("a click below the tab bar should not switch tabs")
	}
}
