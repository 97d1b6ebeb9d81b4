// Package prompt implements the interactive first-run credential form.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"streamwatch/internal/credential"
)

// ErrCancelled is returned when the user aborts the form.
var ErrCancelled = errors.New("credential prompt cancelled")

const (
	fieldExec = iota
	fieldToken
	fieldCount
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0"))
	focusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

// Model is the two-field credential form.
type Model struct {
	inputs    []textinput.Model
	focus     int
	done      bool
	cancelled bool
}

// NewModel builds a form with the executable path prefilled.
func NewModel(defaultExec string) Model {
	exec := textinput.New()
	exec.Placeholder = "/usr/bin/google-chrome"
	exec.SetValue(defaultExec)
	exec.CharLimit = 512
	exec.Width = 60
	exec.Focus()

	token := textinput.New()
	token.Placeholder = "auth-token cookie value"
	token.EchoMode = textinput.EchoPassword
	token.EchoCharacter = '•'
	token.CharLimit = 256
	token.Width = 60

	return Model{inputs: []textinput.Model{exec, token}}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyEnter, tea.KeyTab, tea.KeyDown:
			if key.Type == tea.KeyEnter && m.focus == fieldCount-1 {
				m.done = true
				return m, tea.Quit
			}
			return m, m.setFocus(m.focus + 1)
		case tea.KeyShiftTab, tea.KeyUp:
			return m, m.setFocus(m.focus - 1)
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *Model) setFocus(i int) tea.Cmd {
	if i < 0 {
		i = fieldCount - 1
	}
	m.focus = i % fieldCount
	var cmd tea.Cmd
	for j := range m.inputs {
		if j == m.focus {
			cmd = m.inputs[j].Focus()
			continue
		}
		m.inputs[j].Blur()
	}
	return cmd
}

// View implements tea.Model.
func (m Model) View() string {
	if m.done || m.cancelled {
		return ""
	}
	labels := [fieldCount]string{"Browser executable", "Auth token"}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Stream watcher setup"))
	b.WriteString("\n\n")
	for i, in := range m.inputs {
		label := labelStyle.Render(labels[i])
		if i == m.focus {
			label = focusStyle.Render(labels[i])
		}
		fmt.Fprintf(&b, "%s\n%s\n\n", label, in.View())
	}
	b.WriteString(hintStyle.Render("tab: next field • enter: confirm • esc: cancel"))
	b.WriteString("\n")
	return b.String()
}

// Credential returns the entered values, trimmed.
func (m Model) Credential() credential.Credential {
	return credential.Credential{
		Exec:  strings.TrimSpace(m.inputs[fieldExec].Value()),
		Token: strings.TrimSpace(m.inputs[fieldToken].Value()),
	}
}

// Submitted reports whether the form was confirmed.
func (m Model) Submitted() bool { return m.done }

// Form runs the model as a terminal program. It implements credential.Prompter.
type Form struct {
	DefaultExec string
	In          io.Reader
	Out         io.Writer
}

// Ask runs the form until the user confirms or cancels.
func (f *Form) Ask(ctx context.Context) (credential.Credential, error) {
	in, out := f.In, f.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	p := tea.NewProgram(NewModel(f.DefaultExec),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return credential.Credential{}, ctx.Err()
		}
		return credential.Credential{}, fmt.Errorf("run credential form: %w", err)
	}

	m, ok := final.(Model)
	if !ok || !m.Submitted() {
		return credential.Credential{}, ErrCancelled
	}
	cred := m.Credential()
	if cred.Exec == "" {
		cred.Exec = f.DefaultExec
	}
	return cred, nil
}

var _ credential.Prompter = (*Form)(nil)
