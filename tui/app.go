// Package tui is the interactive terminal wizard. It renders controller
// snapshots and turns key presses into controller operations; all
// workflow rules live in the workflow package.
package tui

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/c360studio/datafactory/bundle"
	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/chat"
	"github.com/c360studio/datafactory/sources"
	"github.com/c360studio/datafactory/workflow"
)

// DownloadFunc fetches the delivery bundle for a session.
type DownloadFunc func(ctx context.Context, session string) (*bundle.Result, error)

// PreviewFunc renders a research source.
type PreviewFunc func(ctx context.Context, src challenge.ResearchSource) (*sources.Preview, error)

// TranscriptFunc returns the revision chat history.
type TranscriptFunc func() []chat.Message

type (
	eventMsg    workflow.Event
	opResultMsg struct {
		op  string
		err error
	}
	refineResultMsg struct {
		reply string
		err   error
	}
	downloadResultMsg struct {
		res *bundle.Result
		err error
	}
	previewResultMsg struct {
		preview *sources.Preview
		err     error
	}
)

// Option configures an App.
type Option func(*App)

// WithDownloader enables the download key.
func WithDownloader(fn DownloadFunc) Option {
	return func(a *App) {
		a.download = fn
	}
}

// WithSourcePreview enables the research source preview key.
func WithSourcePreview(fn PreviewFunc) Option {
	return func(a *App) {
		a.preview = fn
	}
}

// WithTranscript shows the revision chat history.
func WithTranscript(fn TranscriptFunc) Option {
	return func(a *App) {
		a.transcript = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// App is the bubbletea model.
type App struct {
	ctx    context.Context
	ctrl   *workflow.Controller
	events chan workflow.Event
	logger *slog.Logger

	download   DownloadFunc
	preview    PreviewFunc
	transcript TranscriptFunc

	form     *settingsForm
	chatIn   textinput.Model
	chatting bool
	spinner  spinner.Model
	bar      progress.Model

	snap        workflow.Snapshot
	notice      string
	celebrating bool
	downloaded  *bundle.Result
	source      *sources.Preview
	width       int
}

// New creates the wizard for ctrl. It subscribes to controller events.
func New(ctx context.Context, ctrl *workflow.Controller, opts ...Option) *App {
	chatIn := textinput.New()
	chatIn.Placeholder = "describe a change to this draft"
	chatIn.CharLimit = 1000

	a := &App{
		ctx:     ctx,
		ctrl:    ctrl,
		events:  make(chan workflow.Event, 64),
		logger:  slog.Default(),
		chatIn:  chatIn,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		snap:    ctrl.Snapshot(),
		width:   80,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.form = newSettingsForm(a.snap.Settings)
	a.seedDefaults()

	ctrl.Subscribe(func(ev workflow.Event) {
		select {
		case a.events <- ev:
		default:
			// Renderers re-read the snapshot, so a dropped event only
			// delays a repaint.
		}
	})
	return a
}

// Init starts the event listener and spinner.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.listen(), a.spinner.Tick)
}

func (a *App) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-a.events:
			return eventMsg(ev)
		case <-a.ctx.Done():
			return nil
		}
	}
}

// Update handles messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.bar.Width = min(60, max(20, msg.Width-20))
		return a, nil

	case eventMsg:
		a.onEvent(workflow.Event(msg))
		return a, a.listen()

	case opResultMsg:
		a.snap = a.ctrl.Snapshot()
		if msg.err != nil && !errors.Is(msg.err, workflow.ErrStaleResponse) {
			a.logger.Debug("Operation failed", slog.String("op", msg.op), slog.String("error", msg.err.Error()))
			if a.snap.Error == "" {
				a.notice = msg.err.Error()
			}
		}
		return a, nil

	case refineResultMsg:
		a.snap = a.ctrl.Snapshot()
		switch {
		case msg.err != nil:
		case a.transcript == nil:
			a.notice = msg.reply
		default:
			a.notice = "Assistant replied. Press r to regenerate with your feedback in mind."
		}
		return a, nil

	case downloadResultMsg:
		if msg.err != nil {
			a.notice = "Download failed: " + msg.err.Error()
		} else {
			a.downloaded = msg.res
			a.notice = "Saved " + msg.res.Archive
		}
		return a, nil

	case previewResultMsg:
		if msg.err != nil {
			a.notice = "Source preview failed: " + msg.err.Error()
		} else {
			a.source = msg.preview
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case progress.FrameMsg:
		m, cmd := a.bar.Update(msg)
		a.bar = m.(progress.Model)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) onEvent(ev workflow.Event) {
	a.snap = a.ctrl.Snapshot()
	switch ev.Type {
	case workflow.EventCelebrate:
		a.celebrating = true
	case workflow.EventReset:
		a.celebrating = false
		a.downloaded = nil
		a.source = nil
		a.notice = ""
		a.chatting = false
		a.form.load(a.snap.Settings)
		a.seedDefaults()
	case workflow.EventDraft:
		a.source = nil
	}
}

// seedDefaults pushes the form's tier defaults into the controller. Domain
// and function are left for the user to pick.
func (a *App) seedDefaults() {
	f := a.form.settings
	err := a.ctrl.UpdateSettings(func(s *challenge.Settings) {
		s.Difficulty = f.Difficulty
		s.DatasetSize = f.DatasetSize
		s.DataStructure = f.DataStructure
	})
	if err != nil {
		a.logger.Warn("Failed to seed settings defaults", slog.String("error", err.Error()))
	}
	a.snap = a.ctrl.Snapshot()
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}
	a.snap = a.ctrl.Snapshot()

	if a.snap.State == workflow.StateIdle {
		return a.handleSettingsKey(msg)
	}
	if a.chatting {
		return a.handleChatKey(msg)
	}

	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "esc":
		a.notice = ""
		a.source = nil
		a.ctrl.DismissError()
		a.snap = a.ctrl.Snapshot()
	case "a":
		return a, a.run("approve", a.ctrl.ApproveDraft, a.snap.Revision)
	case "r":
		return a, a.run("regenerate", func(ctx context.Context, _ int) error { return a.ctrl.Regenerate(ctx) }, 0)
	case "x":
		return a, a.run("prepare", func(ctx context.Context, _ int) error { return a.ctrl.PrepareDelivery(ctx) }, 0)
	case "c":
		if a.snap.State.IsReview() {
			a.chatting = true
			a.chatIn.SetValue("")
			a.chatIn.Placeholder = a.ctrl.RefineGuidance()
			return a, a.chatIn.Focus()
		}
	case "s":
		return a, a.previewSource()
	case "d":
		return a, a.downloadBundle()
	case "n":
		a.ctrl.Reset()
		a.snap = a.ctrl.Snapshot()
	}
	return a, nil
}

func (a *App) handleSettingsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		a.notice = ""
		return a, a.run("start", func(ctx context.Context, _ int) error { return a.ctrl.Start(ctx) }, 0)
	case "esc":
		a.notice = ""
		a.ctrl.DismissError()
		a.snap = a.ctrl.Snapshot()
		return a, nil
	}
	changed, cmd := a.form.update(msg)
	if changed {
		settings := a.form.settings
		if err := a.ctrl.UpdateSettings(func(s *challenge.Settings) { *s = settings }); err != nil {
			a.notice = err.Error()
		}
		a.snap = a.ctrl.Snapshot()
	}
	return a, cmd
}

func (a *App) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.chatting = false
		a.chatIn.Blur()
		return a, nil
	case "enter":
		text := a.chatIn.Value()
		a.chatIn.SetValue("")
		ctx := a.ctx
		return a, func() tea.Msg {
			reply, err := a.ctrl.Refine(ctx, text)
			return refineResultMsg{reply: reply, err: err}
		}
	}
	var cmd tea.Cmd
	a.chatIn, cmd = a.chatIn.Update(msg)
	return a, cmd
}

// run executes a controller operation off the UI goroutine.
func (a *App) run(op string, fn func(context.Context, int) error, arg int) tea.Cmd {
	ctx := a.ctx
	return func() tea.Msg {
		return opResultMsg{op: op, err: fn(ctx, arg)}
	}
}

func (a *App) downloadBundle() tea.Cmd {
	if a.download == nil || a.snap.State != workflow.StateReadyForDelivery || a.snap.Drafts.Delivery == nil {
		return nil
	}
	ctx, session := a.ctx, a.snap.SessionID
	a.notice = "Downloading bundle..."
	return func() tea.Msg {
		res, err := a.download(ctx, session)
		return downloadResultMsg{res: res, err: err}
	}
}

func (a *App) previewSource() tea.Cmd {
	if a.preview == nil || a.snap.Drafts.Research == nil {
		return nil
	}
	src, ok := a.snap.Drafts.Research.PrimarySource()
	if !ok {
		a.notice = "Research cited no sources."
		return nil
	}
	ctx := a.ctx
	a.notice = "Fetching " + src.URL
	return func() tea.Msg {
		p, err := a.preview(ctx, src)
		return previewResultMsg{preview: p, err: err}
	}
}

// View renders the current screen.
func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Data Challenge Generator"))
	b.WriteString("\n")
	b.WriteString(a.renderPhases())
	b.WriteString("\n\n")

	if a.snap.State == workflow.StateIdle {
		b.WriteString(subtitleStyle.Render("Configure the challenge, then press enter to start research."))
		b.WriteString("\n\n")
		b.WriteString(a.form.view())
	} else {
		b.WriteString(a.renderBody())
	}

	if a.snap.Busy {
		b.WriteString("\n" + a.spinner.View() + " " + busyLabel(a.snap.State))
	}
	if a.snap.Error != "" {
		b.WriteString("\n" + errorStyle.Render("Error: "+a.snap.Error))
	}
	if a.notice != "" {
		b.WriteString("\n" + warningStyle.Render(a.notice))
	}
	b.WriteString("\n" + helpStyle.Render(a.help()))
	return b.String()
}

func busyLabel(s workflow.State) string {
	switch s {
	case workflow.StateAwaitingResearch:
		return "Researching the domain..."
	case workflow.StateAwaitingProblem:
		return "Writing the problem statement..."
	case workflow.StateAwaitingSchema:
		return "Designing the schema..."
	case workflow.StateAwaitingPreview:
		return "Generating sample rows..."
	case workflow.StateReadyForDelivery:
		return "Preparing downloads..."
	default:
		return "Working..."
	}
}

func (a *App) help() string {
	switch {
	case a.snap.State == workflow.StateIdle:
		return "tab/↑↓ move · ←/→ change · enter start · ctrl+c quit"
	case a.chatting:
		return "enter send · esc close chat"
	case a.snap.State.IsReview():
		keys := "a approve · r regenerate · c refine · n new · q quit"
		if a.snap.State == workflow.StateReviewProblem && a.preview != nil {
			keys = "s source · " + keys
		}
		return keys
	case a.snap.State.IsAwaiting() && !a.snap.Busy:
		return "r retry · n new · q quit"
	case a.snap.State == workflow.StateReadyForDelivery:
		keys := "n new · q quit"
		if a.snap.Drafts.Delivery == nil {
			keys = "x retry delivery · " + keys
		} else if a.download != nil {
			keys = "d download · " + keys
		}
		return keys
	default:
		return "n new · q quit"
	}
}
