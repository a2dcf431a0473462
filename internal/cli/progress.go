package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ljutzkanovltd/codeharvest/internal/client"
	"github.com/ljutzkanovltd/codeharvest/internal/models"
)

const fallbackPollInterval = time.Second

// notFoundTolerance is how many consecutive 404s a poller accepts before
// treating the operation as aged out. Just-completed operations are
// garbage-collected after a retention window.
const notFoundTolerance = 3

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the operation status.
type tickMsg time.Time

// opUpdateMsg carries the polled operation snapshot.
type opUpdateMsg struct {
	op  *models.Operation
	err error
}

// watchModel is the bubbletea model for operation progress.
type watchModel struct {
	client    *client.Client
	opID      string
	op        *models.Operation
	progress  progress.Model
	theme     Theme
	notFounds int
	done      bool
	quitting  bool
	err       error
}

func newWatchModel(c *client.Client, opID string) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return watchModel{
		client:   c,
		opID:     opID,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchOperation(),
		m.progress.Init(),
	)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchOperation()

	case opUpdateMsg:
		if errors.Is(msg.err, client.ErrNotFound) {
			// The operation may have finished and aged out between
			// polls; tolerate a short window of 404s.
			m.notFounds++
			if m.notFounds >= notFoundTolerance {
				m.done = true
				return m, tea.Quit
			}
			return m, tickCmd(fallbackPollInterval)
		}
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch progress: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.notFounds = 0
		m.op = msg.op

		if m.op.Status.Terminal() {
			m.done = true
			if m.op.Status != models.OpCompleted {
				m.err = fmt.Errorf("%s: %s", m.op.Status, m.op.Message)
			}
			return m, tea.Quit
		}

		interval := fallbackPollInterval
		if m.op.PollInterval > 0 {
			interval = time.Duration(m.op.PollInterval) * time.Millisecond
		}
		return m, tickCmd(interval)

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.op == nil {
		return "Loading operation status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.op.Status))
	bar := m.progress.ViewAs(float64(m.op.Progress) / 100.0)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %d%%  %s\n%s\n", status, bar, m.op.Progress, m.op.Message, hint)
}

func (m watchModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nOperation %s continues in background.\nUse 'codeharvest watch %s' to check again.\n",
			m.opID, m.opID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	if m.op != nil {
		s := m.op.Stats
		var output string
		output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		output += fmt.Sprintf("  Pages stored:      %d\n", s.PagesStored)
		output += fmt.Sprintf("  Blocks found:      %d\n", s.BlocksFound)
		output += fmt.Sprintf("  Examples stored:   %d\n", s.ExamplesStored)
		if s.SummariesFailed > 0 {
			output += m.theme.errorStyle().Render(fmt.Sprintf("  Summaries failed:  %d\n", s.SummariesFailed))
		}
		if s.EmbedsFailed > 0 {
			output += m.theme.errorStyle().Render(fmt.Sprintf("  Embeddings failed: %d\n", s.EmbedsFailed))
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchOperation polls the server. Runs as a command to avoid blocking
// Update().
func (m watchModel) fetchOperation() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		op, err := m.client.Progress(ctx, m.opID)
		return opUpdateMsg{op: op, err: err}
	}
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// watchOperation runs the interactive progress UI for one operation.
// Returns nil on success or Ctrl+C (background), error on failure.
func watchOperation(_ context.Context, opID string) error {
	model := newWatchModel(api, opID)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}

// watchBatch polls batch counts until no item can still make progress.
func watchBatch(ctx context.Context, batchID string) error {
	theme := defaultTheme
	for {
		status, err := api.BatchProgress(ctx, batchID)
		if err != nil {
			return err
		}

		c := status.Counts
		fmt.Printf("\rpending %d  running %d  completed %d  failed %d  cancelled %d",
			c.Pending, c.Running, c.Completed, c.Failed, c.Cancelled)

		if status.Done {
			fmt.Println()
			if c.Failed > 0 {
				fmt.Println(theme.errorStyle().Render(
					fmt.Sprintf("%d item(s) failed; see 'codeharvest review list'", c.Failed)))
			} else {
				fmt.Println(theme.completedStyle().Render("✓ Batch complete"))
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fallbackPollInterval):
		}
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch <operation-id>",
	Short: "Watch an operation's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchOperation(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
