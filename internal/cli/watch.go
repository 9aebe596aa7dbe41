package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	perrors "github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/lifecycle"
	"github.com/matzehuels/panelsync/pkg/panel"
)

func (c *CLI) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <project>",
		Short: "Live view of a layout",
		Long: `Open a live terminal view of a project layout.

The view follows remote edits as they arrive. Select a panel with the arrow
keys and nudge it one foot with w/a/s/d. Other keys: x delete, S save,
r refresh, D discard local changes, q quit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			views, unsubscribe := s.Subscribe()
			defer unsubscribe()

			m := newWatchModel(ctx, s, args[0], views)
			final, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			if wm, ok := final.(watchModel); ok && wm.view.Unsaved {
				printWarning("Unsaved changes are kept in the local cache")
				printDetail("Save them with: panelsync layout save %s", args[0])
			}
			return nil
		},
	}
}

type (
	viewMsg        lifecycle.View
	viewsClosedMsg struct{}
	opDoneMsg      struct {
		action string
		err    error
	}
)

// watchModel is the bubbletea model of the watch view.
type watchModel struct {
	ctx       context.Context
	s         *session
	surface   *lifecycle.Surface
	projectID string
	views     <-chan lifecycle.View
	view      lifecycle.View
	spinner   spinner.Model
	cursor    int
	note      string
}

func newWatchModel(ctx context.Context, s *session, projectID string, views <-chan lifecycle.View) watchModel {
	return watchModel{
		ctx:       ctx,
		s:         s,
		surface:   s.Surface(),
		projectID: projectID,
		views:     views,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(StyleTitle)),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		nextView(m.views),
		m.run("load", func(ctx context.Context) error { return m.s.Load(ctx, m.projectID) }),
	)
}

func nextView(ch <-chan lifecycle.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return viewsClosedMsg{}
		}
		return viewMsg(v)
	}
}

// run executes a lifecycle operation off the UI goroutine.
func (m watchModel) run(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{action: action, err: fn(m.ctx)}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.view = lifecycle.View(msg)
		m.cursor = min(m.cursor, max(len(m.view.Panels)-1, 0))
		return m, nextView(m.views)
	case viewsClosedMsg:
		return m, tea.Quit
	case opDoneMsg:
		m.note = ""
		if msg.err != nil {
			m.note = msg.action + " failed: " + perrors.UserMessage(msg.err)
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down":
		if m.cursor < len(m.view.Panels)-1 {
			m.cursor++
		}
	case "w":
		return m, m.nudge(0, -1)
	case "s":
		return m, m.nudge(0, 1)
	case "a":
		return m, m.nudge(-1, 0)
	case "d":
		return m, m.nudge(1, 0)
	case "x":
		if p, ok := m.selected(); ok {
			return m, m.run("delete", func(ctx context.Context) error { return m.surface.OnDelete(ctx, p.ID) })
		}
	case "S":
		return m, m.run("save", m.s.Save)
	case "r":
		return m, m.run("refresh", m.s.Refresh)
	case "D":
		return m, m.run("discard", m.s.DiscardLocal)
	}
	return m, nil
}

// nudge moves the selected panel by (dx, dy) feet, expressed in pixels the
// way a canvas drag would report it.
func (m watchModel) nudge(dx, dy float64) tea.Cmd {
	p, ok := m.selected()
	if !ok {
		return nil
	}
	step := m.view.Scale
	x, y := p.X+dx*step, p.Y+dy*step
	return m.run("move", func(ctx context.Context) error {
		return m.surface.OnDragEnd(ctx, p.ID, x, y, p.Rotation)
	})
}

func (m watchModel) selected() (panel.RenderPanel, bool) {
	if !m.view.Ready() || m.cursor >= len(m.view.Panels) {
		return panel.RenderPanel{}, false
	}
	return m.view.Panels[m.cursor], true
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(StyleTitle.Render("panelsync watch"))
	b.WriteString("\n\n")

	switch m.view.Status {
	case lifecycle.StatusIdle, lifecycle.StatusLoading:
		if len(m.view.Panels) == 0 {
			b.WriteString(m.spinner.View() + " " + StyleDim.Render("Loading "+m.projectID+"..."))
			b.WriteString("\n")
			break
		}
		fallthrough
	default:
		b.WriteString(statusLine(m.view))
		if m.view.Status == lifecycle.StatusLoading {
			b.WriteString(" " + m.spinner.View())
		}
		b.WriteString("\n")
		if m.view.Status == lifecycle.StatusError && m.view.Err != nil {
			b.WriteString(StyleError.Render(perrors.UserMessage(m.view.Err)))
			if m.view.Retryable {
				b.WriteString(StyleDim.Render("  (r to retry)"))
			}
			b.WriteString("\n")
		}
		if len(m.view.Panels) > 0 {
			b.WriteString(panelTable(domainPanels(m.view), m.cursor))
			b.WriteString("\n")
		}
	}

	if m.view.Warning != "" {
		b.WriteString(StyleWarning.Render(iconWarning+" "+m.view.Warning) + "\n")
	}
	if m.note != "" {
		b.WriteString(StyleError.Render(m.note) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(StyleDim.Render("↑/↓ select  w/a/s/d move 1 ft  x delete  S save  r refresh  D discard  q quit"))
	b.WriteString("\n")
	return b.String()
}
