package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crossvm/bridge/host"
	"github.com/crossvm/bridge/manifest"
	"github.com/crossvm/bridge/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl <artifact.wasm>",
		Short: "Call exported functions interactively, with hot reload on demand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("repl needs a terminal; use `bridge call` in scripts")
			}
			p := tea.NewProgram(newReplModel(args[0]), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
}

type replState int

const (
	stateSelectFunc replState = iota
	stateInputArgs
	stateShowResult
)

type replModel struct {
	err      error
	rt       *runtime.Runtime
	filename string
	result   string
	funcs    []manifest.ResolvedFunction
	inputs   []textinput.Model
	selected int
	focusIdx int
	gen      uint64
	state    replState
}

func newReplModel(filename string) *replModel {
	return &replModel{filename: filename, state: stateSelectFunc}
}

type loadedMsg struct {
	err   error
	rt    *runtime.Runtime
	funcs []manifest.ResolvedFunction
	gen   uint64
}

type reloadedMsg struct {
	err   error
	funcs []manifest.ResolvedFunction
	gen   uint64
}

type callResultMsg struct {
	err    error
	result string
}

func (m *replModel) Init() tea.Cmd {
	return m.loadArtifact
}

func sortedFunctions(r *runtime.Runtime) []manifest.ResolvedFunction {
	funcs := r.Current().Functions()
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].ExternalName < funcs[j].ExternalName })
	return funcs
}

func (m *replModel) loadArtifact() tea.Msg {
	rt, err := newRuntime(context.Background(), m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{rt: rt, funcs: sortedFunctions(rt), gen: rt.Current().Generation()}
}

func (m *replModel) reload() tea.Msg {
	if err := m.rt.Reload(context.Background()); err != nil {
		return reloadedMsg{err: err}
	}
	return reloadedMsg{funcs: sortedFunctions(m.rt), gen: m.rt.Current().Generation()}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.rt != nil {
				m.rt.Close(context.Background())
			}
			return m, tea.Quit

		case "r":
			if m.state == stateSelectFunc && m.rt != nil {
				return m, m.reload
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.funcs = msg.funcs
		m.gen = msg.gen

	case reloadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		m.gen = msg.gen
		m.selected = 0
		m.err = nil

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *replModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.Params))
	for i, p := range f.Params {
		ti := textinput.New()
		ti.Placeholder = p.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *replModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	args := make([]host.Value, len(m.inputs))
	for i, input := range m.inputs {
		v, err := parseArg(input.Value(), f.Params[i])
		if err != nil {
			return callResultMsg{err: err}
		}
		args[i] = v
	}

	result, err := m.rt.Call(context.Background(), f.ExternalName, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: fmt.Sprintf("%v", result)}
}

func (m *replModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit, r to reload.", m.err))
	}

	if m.rt == nil {
		return "Loading artifact..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("bridge repl"))
	b.WriteString(fmt.Sprintf(" %s (generation %d)", m.filename, m.gen))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + formatFunc(f)))
			} else {
				b.WriteString(cursor + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • r reload • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.ExternalName)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.Params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.ExternalName)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatFunc(f manifest.ResolvedFunction) string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = typeStyle.Render(p.String())
	}
	return funcStyle.Render(f.ExternalName) + "(" + strings.Join(params, ", ") + ") -> " +
		typeStyle.Render(f.Returns.String())
}
