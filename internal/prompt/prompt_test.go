package prompt

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeRunes(t *testing.T, m tea.Model, s string) tea.Model {
	t.Helper()
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func press(m tea.Model, k tea.KeyType) (tea.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: k})
}

func TestModel_SubmitBothFields(t *testing.T) {
	var m tea.Model = NewModel("")

	m = typeRunes(t, m, "/usr/bin/chromium")
	m, _ = press(m, tea.KeyEnter)
	assert.Equal(t, fieldToken, m.(Model).focus)

	m = typeRunes(t, m, "secret-token")
	m, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	final := m.(Model)
	assert.True(t, final.Submitted())
	assert.Equal(t, "/usr/bin/chromium", final.Credential().Exec)
	assert.Equal(t, "secret-token", final.Credential().Token)
	assert.Empty(t, final.View())
}

func TestModel_DefaultExecPrefilled(t *testing.T) {
	var m tea.Model = NewModel("/usr/bin/google-chrome")
	m, _ = press(m, tea.KeyTab)
	m = typeRunes(t, m, "abc")
	m, _ = press(m, tea.KeyEnter)

	final := m.(Model)
	assert.True(t, final.Submitted())
	assert.Equal(t, "/usr/bin/google-chrome", final.Credential().Exec)
	assert.Equal(t, "abc", final.Credential().Token)
}

func TestModel_Cancel(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlC} {
		var m tea.Model = NewModel("")
		m, cmd := press(m, k)
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		assert.False(t, m.(Model).Submitted())
	}
}

func TestModel_FocusWraps(t *testing.T) {
	var m tea.Model = NewModel("")
	m, _ = press(m, tea.KeyShiftTab)
	assert.Equal(t, fieldToken, m.(Model).focus)
	m, _ = press(m, tea.KeyDown)
	assert.Equal(t, fieldExec, m.(Model).focus)
}

func TestModel_TokenIsMasked(t *testing.T) {
	var m tea.Model = NewModel("")
	m, _ = press(m, tea.KeyTab)
	m = typeRunes(t, m, "hunter2")

	view := m.View()
	assert.NotContains(t, view, "hunter2")
	assert.Contains(t, view, "Auth token")
}
