package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/sharedstate/internal/protocol"
	"github.com/mattjoyce/sharedstate/internal/reducer"
	"github.com/mattjoyce/sharedstate/internal/stream"
)

func newChatCmd() *cobra.Command {
	var flags clientFlags
	c := &cobra.Command{
		Use:   "chat",
		Short: "Interactive TUI consumer for an agent's shared document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			p := tea.NewProgram(newChatModel(s, s.client()), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	flags.register(c, true)
	return c
}

type streamEventMsg struct {
	Event protocol.Event
	Err   error
	EOF   bool

	source <-chan streamEventMsg
}

type streamStartedMsg struct{}

type resetDoneMsg struct {
	Err error
}

type healthMsg struct {
	Health stream.Health
	Err    error
}

type chatModel struct {
	cfg          clientSettings
	client       *stream.Client
	reducer      *reducer.Reducer
	input        []rune
	streamEvents chan streamEventMsg
	cancel       context.CancelFunc
	width        int
	height       int
	activity     []string
	notice       string
}

func newChatModel(cfg clientSettings, client *stream.Client) chatModel {
	return chatModel{
		cfg:     cfg,
		client:  client,
		reducer: reducer.New(cfg.Kind),
	}
}

func (m chatModel) Init() tea.Cmd {
	return healthCmd(m.client)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case streamStartedMsg:
		return m, nil
	case healthMsg:
		if msg.Err != nil {
			m.notice = "agent unreachable: " + msg.Err.Error()
			return m, nil
		}
		m.notice = fmt.Sprintf("connected, agent up %ds", msg.Health.UptimeSeconds)
		return m, nil
	case resetDoneMsg:
		if msg.Err != nil {
			m.notice = "reset failed: " + msg.Err.Error()
			return m, nil
		}
		m.reducer = reducer.New(m.cfg.Kind)
		m.activity = nil
		m.notice = "thread " + m.cfg.ThreadID + " reset"
		return m, nil
	case streamEventMsg:
		if msg.source != m.streamEvents {
			// left over from a cancelled run
			return m, nil
		}
		if msg.Err != nil {
			m.reducer.Fail(msg.Err)
			m.appendActivity("stream error: " + msg.Err.Error())
			m.stopStream()
			return m, nil
		}
		if msg.EOF {
			m.reducer.End()
			m.stopStream()
			return m, nil
		}
		m.handleEvent(msg.Event)
		return m, waitForStreamEventCmd(m.streamEvents)
	default:
		return m, nil
	}
}

func (m chatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.stopStream()
		return m, tea.Quit
	case tea.KeyEsc:
		if m.cancel != nil {
			m.stopStream()
			m.reducer.End()
			m.appendActivity("run cancelled")
		}
		return m, nil
	case tea.KeyCtrlR:
		if m.reducer.State().Loading {
			m.notice = "wait for the current run to finish before resetting"
			return m, nil
		}
		return m, resetThreadCmd(m.client, m.cfg.ThreadID)
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeySpace:
		m.input = append(m.input, ' ')
		return m, nil
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
		return m, nil
	}
	return m, nil
}

// submit starts a run for the typed message. The local document goes out
// as the baseline so edits made on this side survive the turn.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(string(m.input))
	if text == "" {
		return m, nil
	}
	if err := m.reducer.Begin(uuid.NewString(), protocol.Message{ID: uuid.NewString(), Content: text}); err != nil {
		m.notice = err.Error()
		return m, nil
	}
	m.input = nil
	m.notice = ""

	req := m.reducer.Request(m.cfg.ThreadID)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	m.cancel = cancel
	m.streamEvents = make(chan streamEventMsg, 32)
	return m, tea.Batch(
		startRunCmd(ctx, m.client, req, m.streamEvents),
		waitForStreamEventCmd(m.streamEvents),
	)
}

func (m *chatModel) stopStream() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.streamEvents = nil
}

func (m *chatModel) handleEvent(evt protocol.Event) {
	ts := time.Now().Format("15:04:05")
	switch e := evt.(type) {
	case protocol.ToolCallStart:
		m.appendActivity(fmt.Sprintf("[%s] tool %s started", ts, e.ToolName))
	case protocol.ToolCallEnd:
		if msg := toolFailure(e.Result); msg != "" {
			m.appendActivity(fmt.Sprintf("[%s] tool failed: %s", ts, trimForLog(msg, 80)))
		} else {
			m.appendActivity(fmt.Sprintf("[%s] tool finished", ts))
		}
	case protocol.StateDelta:
		for _, op := range e.Delta {
			m.appendActivity(fmt.Sprintf("[%s] %s %s", ts, op.Op, op.Path))
		}
	case protocol.RunError:
		m.appendActivity(fmt.Sprintf("[%s] run error: %s", ts, trimForLog(e.Message, 80)))
	case protocol.RunFinished:
		m.appendActivity(fmt.Sprintf("[%s] run finished", ts))
	}
	if err := m.reducer.Apply(evt); err != nil {
		m.appendActivity(fmt.Sprintf("[%s] state update rejected: %v", ts, err))
	}
}

func (m *chatModel) appendActivity(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > 200 {
		m.activity = m.activity[len(m.activity)-200:]
	}
}

func (m chatModel) View() string {
	st := m.reducer.State()
	accent := lipgloss.Color("#F97316")
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#1C1007")).
		Background(accent).
		Padding(0, 1).
		Render("Shared State · " + m.cfg.Kind.Name)

	label := runLabel(st)
	statusStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#1C1007")).
		Background(accent).
		Padding(0, 1)
	switch label {
	case "idle":
		statusStyle = statusStyle.Background(lipgloss.Color("#6B7280"))
	case "error":
		statusStyle = statusStyle.Background(lipgloss.Color("#EF4444")).Foreground(lipgloss.Color("#FFF7ED"))
	}

	meta := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FDBA74")).
		Render(fmt.Sprintf("thread=%s  url=%s%s", m.cfg.ThreadID, m.cfg.BaseURL, m.cfg.Endpoint))

	panelWidth := bodyWidth(m.width)
	transcriptHeight, documentHeight, activityHeight := panelHeights(m.height)

	transcript := renderPanel("Conversation", transcriptLines(st), panelWidth, transcriptHeight, accent, false)
	doc := renderPanel(strings.ToUpper(m.cfg.Kind.Name[:1])+m.cfg.Kind.Name[1:], documentLines(st.Document), panelWidth, documentHeight, accent, true)
	activity := renderPanel("Activity", m.activity, panelWidth, activityHeight, accent, false)

	prompt := lipgloss.NewStyle().Bold(true).Foreground(accent).Render("> ") + string(m.input)
	if st.Loading {
		prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Render("> (waiting for the agent, esc to cancel)")
	}

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FDBA74")).
		Render("enter: send  ctrl+r: reset thread  ctrl+c: quit")
	switch {
	case st.Error != "":
		footer = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Render("error: " + st.Error + "  ctrl+c: quit")
	case m.notice != "":
		footer = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FDBA74")).
			Render(m.notice)
	}

	return strings.Join([]string{title + " " + statusStyle.Render(strings.ToUpper(label)), meta, transcript, doc, activity, prompt, footer}, "\n")
}

// runLabel summarises the reducer's indicators for the status badge.
func runLabel(st reducer.State) string {
	switch {
	case st.Error != "" && !st.Loading:
		return "error"
	case st.ActiveTool != "":
		return "updating"
	case st.Streaming:
		return "streaming"
	case st.Loading:
		return "thinking"
	}
	return "idle"
}

func transcriptLines(st reducer.State) []string {
	var lines []string
	add := func(who, content string) {
		for i, l := range strings.Split(content, "\n") {
			if i == 0 {
				lines = append(lines, who+": "+l)
				continue
			}
			lines = append(lines, strings.Repeat(" ", len(who)+2)+l)
		}
	}
	for _, msg := range st.Messages {
		who := "agent"
		if msg.Role == protocol.RoleUser {
			who = "you"
		}
		add(who, msg.Content)
	}
	if st.Streaming {
		add("agent", st.StreamingContent+"▌")
	}
	if len(lines) == 0 {
		lines = []string{"say something to start..."}
	}
	return lines
}

func documentLines(doc json.RawMessage) []string {
	if len(doc) == 0 {
		return []string{"no document yet"}
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, doc, "", "  "); err != nil {
		return []string{string(doc)}
	}
	return strings.Split(pretty.String(), "\n")
}

func panelHeights(terminalHeight int) (transcript, doc, activity int) {
	available := terminalHeight - 6
	if available < 15 {
		available = 15
	}
	activity = 5
	doc = (available - activity) / 2
	transcript = available - activity - doc
	if transcript < 5 {
		transcript = 5
	}
	if doc < 5 {
		doc = 5
	}
	return transcript, doc, activity
}

func renderPanel(title string, lines []string, width, height int, accent lipgloss.Color, keepHead bool) string {
	if height < 3 {
		height = 3
	}
	contentHeight := height - 1
	if len(lines) > contentHeight {
		if keepHead {
			lines = trimPanelLines(lines, contentHeight)
		} else {
			lines = lines[len(lines)-contentHeight:]
		}
	}
	lines = append([]string(nil), lines...)
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	content := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title) + "\n" + strings.Join(lines, "\n")

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Foreground(lipgloss.Color("#FFF7ED")).
		Background(lipgloss.Color("#2A1305")).
		Width(width).
		Height(height).
		Padding(0, 1).
		Render(content)
}

func trimPanelLines(lines []string, maxLines int) []string {
	if maxLines <= 0 {
		return []string{}
	}
	if len(lines) <= maxLines {
		return lines
	}
	trimmed := append([]string{}, lines[:maxLines]...)
	trimmed[maxLines-1] = "..."
	return trimmed
}

func trimForLog(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func bodyWidth(terminalWidth int) int {
	if terminalWidth <= 0 {
		return 80
	}
	w := terminalWidth - 2
	if w < 40 {
		return 40
	}
	return w
}

func healthCmd(client *stream.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h, err := client.Health(ctx)
		return healthMsg{Health: h, Err: err}
	}
}

func resetThreadCmd(client *stream.Client, threadID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return resetDoneMsg{Err: client.Reset(ctx, threadID)}
	}
}

func startRunCmd(ctx context.Context, client *stream.Client, req protocol.RunRequest, out chan streamEventMsg) tea.Cmd {
	return func() tea.Msg {
		go streamRun(ctx, client, req, out)
		return streamStartedMsg{}
	}
}

func waitForStreamEventCmd(in <-chan streamEventMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-in
		if !ok {
			msg = streamEventMsg{EOF: true}
		}
		msg.source = in
		return msg
	}
}

// streamRun pumps one run's events into out until the stream ends or ctx
// is cancelled.
func streamRun(ctx context.Context, client *stream.Client, req protocol.RunRequest, out chan<- streamEventMsg) {
	defer close(out)

	send := func(msg streamEventMsg) bool {
		select {
		case out <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	rs, err := client.Run(ctx, req)
	if err != nil {
		send(streamEventMsg{Err: err})
		return
	}
	defer rs.Close()

	for evt, err := range rs.All() {
		if err != nil {
			send(streamEventMsg{Err: fmt.Errorf("read stream: %w", err)})
			return
		}
		if !send(streamEventMsg{Event: evt}) {
			return
		}
	}
	send(streamEventMsg{EOF: true})
}
