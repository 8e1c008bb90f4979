package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"tokenforge/internal/config"
	"tokenforge/internal/rctx"
)

var (
	youStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4")).Bold(true)
	modelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D9FF"))
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666680")).Italic(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFE66D")).Bold(true)
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#4ECDC4"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFE66D"))
)

const helpText = `slash commands:
  /help                show this message
  /tree                print the whole context tree containing the current node
  /spawn [mode]        spawn a child (mode: none|kv|tokens|full, default none)
  /fork                fork a sibling sharing the current node's parent
  /peer                create a peer of the current node
  /switch <id>         switch the current node by numeric id
  /stats               print environment-wide stats
  /undo / /redo         undo or redo the current node's last edit
  /clear               clear the scrollback
  /quit, /exit         leave the REPL`

type replLine struct {
	role string // "you", "model", "system"
	text string
}

type completionResultMsg struct {
	text string
	err  error
}

type replModel struct {
	ctx context.Context
	cfg config.Config
	env *rctx.Environment

	current *rctx.Node

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	lines []replLine
	busy  bool
	ready bool
}

// RunRepl creates a root context in env and drives the interactive REPL
// until the user quits.
func RunRepl(ctx context.Context, cfg config.Config, env *rctx.Environment) int {
	root, err := env.CreateRoot(rctx.NodeConfig{
		NCtx:       uint32(cfg.Environment.DefaultNCtx),
		NBatch:     uint32(cfg.Environment.DefaultNBatch),
		NThreads:   uint32(cfg.Environment.DefaultNThreads),
		Completion: completionParamsFrom(cfg.Generation),
	})
	if err != nil {
		fmt.Printf("failed to create root context: %v\n", err)
		return 1
	}

	m := newReplModel(ctx, cfg, env, root)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Printf("tui error: %v\n", err)
		return 1
	}
	return 0
}

func newReplModel(ctx context.Context, cfg config.Config, env *rctx.Environment, root *rctx.Node) replModel {
	ta := textarea.New()
	ta.Placeholder = "Type a prompt, or /help for commands..."
	ta.Focus()
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())

	return replModel{
		ctx:      ctx,
		cfg:      cfg,
		env:      env,
		current:  root,
		textarea: ta,
		spinner:  s,
		renderer: renderer,
		lines:    []replLine{{role: "system", text: fmt.Sprintf("root context #%d ready (backend=%s)", root.ID(), cfg.Model.Backend)}},
	}
}

func (m replModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		taCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				return m, nil
			}
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			return m.submitPrompt(input)
		}

	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 6
		verticalMargin := headerHeight + footerHeight
		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-verticalMargin)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - verticalMargin
		}
		m.textarea.SetWidth(msg.Width - 6)
		if m.renderer != nil {
			m.renderer, _ = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(m.viewport.Width-4),
			)
		}
		m.updateViewport()

	case completionResultMsg:
		m.busy = false
		if msg.err != nil {
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("error: %v", msg.err)})
		} else {
			m.lines = append(m.lines, replLine{role: "model", text: msg.text})
		}
		m.updateViewport()

	case spinner.TickMsg:
		if m.busy {
			m.spinner, spCmd = m.spinner.Update(msg)
		}
	}

	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(taCmd, vpCmd, spCmd)
}

func (m replModel) submitPrompt(input string) (tea.Model, tea.Cmd) {
	m.lines = append(m.lines, replLine{role: "you", text: input})
	if err := m.current.AppendPrompt(input); err != nil {
		m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("error: %v", err)})
		m.updateViewport()
		return m, nil
	}

	m.busy = true
	m.updateViewport()

	node := m.current
	params := completionParamsFrom(m.cfg.Generation)
	ctx := m.ctx
	genCmd := func() tea.Msg {
		text, err := node.CompleteSync(ctx, params)
		return completionResultMsg{text: text, err: err}
	}
	return m, tea.Batch(m.spinner.Tick, genCmd)
}

func (m replModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		m.lines = append(m.lines, replLine{role: "system", text: helpText})

	case "/tree":
		m.lines = append(m.lines, replLine{role: "system", text: rctx.PrintTree(m.current.Root())})

	case "/stats":
		st := m.env.Stats()
		m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf(
			"active=%d total_created=%d peak_depth=%d recursions=%d tokens=%d",
			m.env.Len(), st.TotalContextsCreated, st.PeakDepth, st.TotalRecursions, st.TotalTokensProcessed)})

	case "/spawn":
		mode := rctx.ShareNone
		if len(args) > 0 {
			mode = parseShareMode(args[0])
		}
		child, err := m.env.SpawnChild(m.current, rctx.NodeConfig{
			ShareMode:  mode,
			Completion: completionParamsFrom(m.cfg.Generation),
		})
		if err != nil {
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("spawn failed: %v", err)})
		} else {
			m.current = child
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("spawned child #%d, now current", child.ID())})
		}

	case "/fork":
		sib, err := m.env.Fork(m.current)
		if err != nil {
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("fork failed: %v", err)})
		} else {
			m.current = sib
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("forked #%d, now current", sib.ID())})
		}

	case "/peer":
		peer, err := m.env.CreatePeer(m.current, rctx.NodeConfig{Completion: completionParamsFrom(m.cfg.Generation)})
		if err != nil {
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("peer failed: %v", err)})
		} else {
			m.current = peer
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("peer #%d created, now current", peer.ID())})
		}

	case "/switch":
		if len(args) == 0 {
			m.lines = append(m.lines, replLine{role: "system", text: "usage: /switch <id>"})
			break
		}
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("invalid id: %v", err)})
			break
		}
		node, ok := m.env.GetContext(uint32(id))
		if !ok {
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("no such context #%d", id)})
			break
		}
		m.current = node
		m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("switched to #%d", node.ID())})

	case "/undo":
		if err := m.current.Editor().Undo(); err != nil {
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("undo: %v", err)})
		}

	case "/redo":
		if err := m.current.Editor().Redo(); err != nil {
			m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("redo: %v", err)})
		}

	case "/clear":
		m.lines = nil

	case "/quit", "/exit":
		return m, tea.Quit

	default:
		m.lines = append(m.lines, replLine{role: "system", text: fmt.Sprintf("unknown command %q, try /help", cmd)})
	}

	m.updateViewport()
	return m, nil
}

func parseShareMode(s string) rctx.ShareMode {
	switch strings.ToLower(s) {
	case "kv":
		return rctx.ShareKVCopy
	case "tokens":
		return rctx.ShareTokensCopy
	case "full":
		return rctx.ShareFull
	default:
		return rctx.ShareNone
	}
}

func (m *replModel) updateViewport() {
	var sb strings.Builder
	for _, l := range m.lines {
		switch l.role {
		case "you":
			sb.WriteString(youStyle.Render("you  ") + l.text + "\n\n")
		case "model":
			rendered := l.text
			if m.renderer != nil {
				if out, err := m.renderer.Render(l.text); err == nil {
					rendered = out
				}
			}
			sb.WriteString(modelStyle.Render(fmt.Sprintf("ctx#%d ", m.current.ID())) + rendered + "\n")
		default:
			sb.WriteString(systemStyle.Render(l.text) + "\n\n")
		}
	}
	if m.busy {
		sb.WriteString(m.spinner.View() + " generating...\n")
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m replModel) View() string {
	if !m.ready {
		return "initializing..."
	}
	header := headerStyle.Render(fmt.Sprintf(
		" tokenctl — context #%d (depth %d, %s) ", m.current.ID(), m.current.Depth(), m.current.State()))
	return fmt.Sprintf("%s\n%s\n%s",
		header,
		borderStyle.Render(m.viewport.View()),
		borderStyle.Render(m.textarea.View()))
}
