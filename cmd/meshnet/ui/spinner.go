package ui

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RunWithSpinner runs fn while a spinner animates on stderr. Without an
// interactive terminal fn runs with no decoration. The spinner does not read
// stdin, so interrupts arrive as signals through ctx.
func RunWithSpinner(ctx context.Context, msg string, fn func(ctx context.Context) error) error {
	if !IsInteractive() {
		return fn(ctx)
	}

	m := &spinnerModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(teal)),
		),
		msg: msg,
	}

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil), tea.WithContext(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.err = fn(fnCtx)
		p.Send(spinnerDoneMsg{})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("spinner: %w", err)
	}
	<-done
	return m.err
}

type spinnerDoneMsg struct{}

type spinnerModel struct {
	spinner spinner.Model
	msg     string
	err     error
	done    bool
}

func (m *spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinnerDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.msg + "\n"
}
