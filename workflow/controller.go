package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/datafactory/chat"
	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/poller"
)

var (
	// ErrBusy is returned while another stage call is in flight.
	ErrBusy = errors.New("another operation is in progress")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	// ErrNoSession is returned when an operation needs a session handle.
	ErrNoSession = errors.New("no active session")
	// ErrStaleResponse is returned when a stage response arrived after a
	// reset; the response is discarded.
	ErrStaleResponse = errors.New("response discarded after reset")
	// ErrDraftChanged is returned by ApproveDraft when the draft was
	// replaced after the caller rendered it.
	ErrDraftChanged = errors.New("draft changed since it was rendered")
)

// Backend is the set of remote stages the controller drives. stage.Client
// implements it.
type Backend interface {
	Research(ctx context.Context, in challenge.Input) (string, *challenge.Research, error)
	GenerateProblem(ctx context.Context, session string, in challenge.Input) (*challenge.ProblemStatement, error)
	Approve(ctx context.Context, session string, phase int) error
	GenerateSchema(ctx context.Context, session string) (*challenge.SchemaDraft, error)
	GeneratePreview(ctx context.Context, session string) (*challenge.PreviewDraft, error)
	StartFullGeneration(ctx context.Context, session string, datasetSize int) error
	PrepareDelivery(ctx context.Context, session string) (*challenge.Delivery, error)
}

// JobTracker polls the generation job. poller.Poller implements it.
// Callbacks must not run on the calling goroutine.
type JobTracker interface {
	Start(ctx context.Context, session string, onUpdate poller.UpdateFunc, onTerminal poller.TerminalFunc) *poller.Handle
}

// Reviser is the revision side-channel. chat.Channel implements it.
type Reviser interface {
	Send(ctx context.Context, session, message string, phase int) (string, error)
	Reset()
}

// Drafts holds the artifact of every phase. Artifacts are replaced
// wholesale, never edited in place.
type Drafts struct {
	Research *challenge.Research
	Problem  *challenge.ProblemStatement
	Schema   *challenge.SchemaDraft
	Preview  *challenge.PreviewDraft
	QA       *challenge.QAResult
	Delivery *challenge.Delivery
}

// Snapshot is an immutable view of the controller state for renderers.
type Snapshot struct {
	State     State
	Phase     Phase
	SessionID string
	Settings  challenge.Settings
	Ledger    Ledger
	Drafts    Drafts
	// Revision counts replacements of the current phase's draft.
	Revision int
	Progress *challenge.Progress
	Error    string
	Busy     bool
}

// Controller owns one workflow session. All mutations go through its
// methods; renderers read Snapshots and subscribe to Events.
type Controller struct {
	backend Backend
	jobs    JobTracker
	reviser Reviser
	logger  *slog.Logger

	life   context.Context
	cancel context.CancelFunc

	obsMu     sync.RWMutex
	observers []Observer

	mu       sync.Mutex
	state    State
	settings challenge.Settings
	input    challenge.Input
	session  string
	ledger   Ledger
	drafts   Drafts
	revision [PhaseCount]int
	progress *challenge.Progress
	errMsg   string
	busy     bool
	epoch    uint64
	poll     *poller.Handle
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver registers an observer at construction.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, o)
	}
}

// WithSettings sets the initial configuration.
func WithSettings(s challenge.Settings) Option {
	return func(c *Controller) {
		c.settings = s
	}
}

// NewController creates a controller in the idle state.
func NewController(backend Backend, jobs JobTracker, reviser Reviser, opts ...Option) *Controller {
	c := &Controller{
		backend:  backend,
		jobs:     jobs,
		reviser:  reviser,
		logger:   slog.Default(),
		state:    StateIdle,
		settings: challenge.DefaultSettings(),
		ledger:   NewLedger(),
	}
	c.life, c.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers an observer.
func (c *Controller) Subscribe(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

// Close stops any active poll schedule. The controller must not be used
// afterward.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	c.mu.Unlock()
	c.cancel()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     c.state,
		Phase:     c.state.Phase(),
		SessionID: c.session,
		Settings:  c.settings,
		Ledger:    c.ledger,
		Drafts:    c.drafts,
		Revision:  c.revision[c.state.Phase()],
		Error:     c.errMsg,
		Busy:      c.busy,
	}
	if c.progress != nil {
		p := *c.progress
		s.Progress = &p
	}
	return s
}

// UpdateSettings edits the configuration. Only allowed while idle.
func (c *Controller) UpdateSettings(fn func(*challenge.Settings)) error {
	c.mu.Lock()
	if c.state != StateIdle || c.busy {
		c.mu.Unlock()
		return fmt.Errorf("update settings in %s: %w", c.state, ErrInvalidTransition)
	}
	fn(&c.settings)
	ev := c.eventLocked(EventSettings, "")
	c.mu.Unlock()
	c.emit(ev)
	return nil
}

// DismissError clears the error banner. It is a no-op without one.
func (c *Controller) DismissError() {
	c.mu.Lock()
	if c.errMsg == "" {
		c.mu.Unlock()
		return
	}
	c.errMsg = ""
	ev := c.eventLocked(EventDismissed, "")
	c.mu.Unlock()
	c.emit(ev)
}

// RefineGuidance returns the seed text for refining the current draft.
func (c *Controller) RefineGuidance() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.IsReview() {
		return ""
	}
	return chat.Guidance(int(c.state.Phase()))
}

// ticket identifies the workflow run an in-flight call belongs to.
type ticket struct {
	epoch   uint64
	session string
	input   challenge.Input
}

func (c *Controller) ticketLocked() ticket {
	return ticket{epoch: c.epoch, session: c.session, input: c.input}
}

func (c *Controller) staleLocked(t ticket) bool {
	return t.epoch != c.epoch || t.session != c.session
}

// Start validates the configuration, creates the session through the
// research stage, then generates the problem statement.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("start in %s: %w", c.state, ErrInvalidTransition)
	}
	in, err := c.settings.Input()
	if err != nil {
		c.errMsg = err.Error()
		events := []Event{c.eventLocked(EventError, c.errMsg)}
		c.mu.Unlock()
		c.emit(events...)
		return err
	}
	c.errMsg = ""
	c.busy = true
	t := c.ticketLocked()
	events := c.transitionLocked(StateAwaitingResearch)
	c.mu.Unlock()
	c.emit(events...)

	sid, research, err := c.backend.Research(ctx, in)

	c.mu.Lock()
	if c.staleLocked(t) {
		c.mu.Unlock()
		return ErrStaleResponse
	}
	if err != nil {
		c.busy = false
		c.errMsg = err.Error()
		events = c.transitionLocked(StateIdle)
		events = append(events, c.eventLocked(EventError, c.errMsg))
		c.mu.Unlock()
		c.emit(events...)
		return err
	}
	c.session = sid
	c.input = in
	c.drafts.Research = research
	c.ledger.Approve(PhaseConfiguration)
	events = c.transitionLocked(StateAwaitingProblem)
	t = c.ticketLocked()
	c.mu.Unlock()
	c.emit(events...)

	c.logger.Info("Session created", slog.String("session", sid))
	return c.generate(ctx, t, PhaseProblem)
}

// Regenerate re-invokes the current phase's generation stage and replaces
// the draft wholesale. From an awaiting state it retries a generation that
// failed. The ledger is unchanged.
func (c *Controller) Regenerate(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	p := c.state.Phase()
	if !p.Gated() || !(c.state.IsReview() || c.state == awaitingState(p)) {
		c.mu.Unlock()
		return fmt.Errorf("regenerate in %s: %w", c.state, ErrInvalidTransition)
	}
	c.busy = true
	c.errMsg = ""
	t := c.ticketLocked()
	c.mu.Unlock()

	return c.generate(ctx, t, p)
}

// generate runs phase p's generation stage. The caller holds the in-flight
// slot; generate releases it.
func (c *Controller) generate(ctx context.Context, t ticket, p Phase) error {
	c.mu.Lock()
	if c.staleLocked(t) {
		c.mu.Unlock()
		return ErrStaleResponse
	}
	if t.session == "" || !c.ledger.CanGenerate(p) {
		c.busy = false
		c.mu.Unlock()
		if t.session == "" {
			return ErrNoSession
		}
		return fmt.Errorf("generate %s before earlier phases are approved: %w", p, ErrInvalidTransition)
	}
	c.mu.Unlock()

	var (
		apply func()
		err   error
	)
	switch p {
	case PhaseProblem:
		var ps *challenge.ProblemStatement
		ps, err = c.backend.GenerateProblem(ctx, t.session, t.input)
		apply = func() { c.drafts.Problem = ps }
	case PhaseSchema:
		var sd *challenge.SchemaDraft
		sd, err = c.backend.GenerateSchema(ctx, t.session)
		apply = func() { c.drafts.Schema = sd }
	case PhasePreview:
		var pd *challenge.PreviewDraft
		pd, err = c.backend.GeneratePreview(ctx, t.session)
		apply = func() { c.drafts.Preview = pd }
	default:
		err = fmt.Errorf("phase %s has no generation stage: %w", p, ErrInvalidTransition)
	}

	c.mu.Lock()
	if c.staleLocked(t) {
		c.mu.Unlock()
		return ErrStaleResponse
	}
	c.busy = false
	if err != nil {
		c.errMsg = err.Error()
		events := []Event{c.eventLocked(EventError, c.errMsg)}
		c.mu.Unlock()
		c.emit(events...)
		return err
	}
	apply()
	c.revision[p]++
	events := c.transitionLocked(reviewState(p))
	events = append(events, c.eventLocked(EventDraft, p.String()))
	c.mu.Unlock()
	c.emit(events...)
	return nil
}

// Approve approves the current draft, then invokes the next phase's stage.
// A failed approval never triggers the next stage.
func (c *Controller) Approve(ctx context.Context) error {
	return c.approve(ctx, -1)
}

// ApproveDraft approves only if the current draft is still at revision rev.
func (c *Controller) ApproveDraft(ctx context.Context, rev int) error {
	return c.approve(ctx, rev)
}

func (c *Controller) approve(ctx context.Context, rev int) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.state.IsReview() {
		c.mu.Unlock()
		return fmt.Errorf("approve in %s: %w", c.state, ErrInvalidTransition)
	}
	p := c.state.Phase()
	if rev >= 0 && rev != c.revision[p] {
		c.mu.Unlock()
		return ErrDraftChanged
	}
	c.busy = true
	c.errMsg = ""
	t := c.ticketLocked()
	c.mu.Unlock()

	err := c.backend.Approve(ctx, t.session, int(p))

	c.mu.Lock()
	if c.staleLocked(t) {
		c.mu.Unlock()
		return ErrStaleResponse
	}
	if err != nil {
		c.busy = false
		c.errMsg = err.Error()
		events := []Event{c.eventLocked(EventError, c.errMsg)}
		c.mu.Unlock()
		c.emit(events...)
		return err
	}
	c.ledger.Approve(p)
	events := []Event{c.eventLocked(EventApproved, p.String())}
	next := p + 1
	events = append(events, c.transitionLocked(awaitingState(next))...)
	if next == PhaseGeneration {
		c.progress = nil
		size := c.settings.DatasetSize
		c.mu.Unlock()
		c.emit(events...)
		return c.startGeneration(ctx, t, size)
	}
	c.mu.Unlock()
	c.emit(events...)

	return c.generate(ctx, t, next)
}

// startGeneration starts the job and hands it to the poller. The in-flight
// slot is released once polling begins.
func (c *Controller) startGeneration(ctx context.Context, t ticket, size int) error {
	err := c.backend.StartFullGeneration(ctx, t.session, size)

	c.mu.Lock()
	if c.staleLocked(t) {
		c.mu.Unlock()
		return ErrStaleResponse
	}
	if err != nil {
		c.busy = false
		c.errMsg = err.Error()
		c.ledger.Reject(PhaseGeneration)
		events := c.transitionLocked(StateFailed)
		events = append(events, c.eventLocked(EventError, c.errMsg))
		c.mu.Unlock()
		c.emit(events...)
		return err
	}
	c.mu.Unlock()

	h := c.jobs.Start(c.life, t.session, c.onProgress(t), c.onTerminal(t))

	c.mu.Lock()
	if c.staleLocked(t) {
		c.mu.Unlock()
		h.Stop()
		return ErrStaleResponse
	}
	c.busy = false
	if c.state == StateGenerating {
		c.poll = h
	}
	c.mu.Unlock()
	c.logger.Info("Full generation started", slog.String("session", t.session), slog.Int("dataset_size", size))
	return nil
}

func (c *Controller) onProgress(t ticket) poller.UpdateFunc {
	return func(p challenge.Progress) {
		c.mu.Lock()
		if c.staleLocked(t) || c.state != StateGenerating {
			c.mu.Unlock()
			return
		}
		c.progress = &p
		events := []Event{c.eventLocked(EventProgress, p.Message)}
		c.mu.Unlock()
		c.emit(events...)
	}
}

func (c *Controller) onTerminal(t ticket) poller.TerminalFunc {
	return func(r poller.Result) {
		c.mu.Lock()
		if c.staleLocked(t) || c.state != StateGenerating {
			c.mu.Unlock()
			return
		}
		c.poll = nil

		if !r.Success {
			msg := r.Err
			if msg == "" {
				msg = "generation failed"
			}
			c.errMsg = msg
			c.ledger.Reject(PhaseGeneration)
			events := c.transitionLocked(StateFailed)
			events = append(events, c.eventLocked(EventError, msg))
			c.mu.Unlock()
			c.emit(events...)
			return
		}

		c.drafts.QA = r.QA
		c.ledger.Approve(PhaseGeneration)
		c.busy = true
		events := c.transitionLocked(StateReadyForDelivery)
		events = append(events, c.eventLocked(EventCelebrate, ""))
		nt := c.ticketLocked()
		c.mu.Unlock()
		c.emit(events...)

		_ = c.deliver(c.life, nt)
	}
}

// PrepareDelivery requests the download locators again, for when the
// automatic request after generation failed.
func (c *Controller) PrepareDelivery(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != StateReadyForDelivery {
		c.mu.Unlock()
		return fmt.Errorf("prepare delivery in %s: %w", c.state, ErrInvalidTransition)
	}
	c.busy = true
	c.errMsg = ""
	t := c.ticketLocked()
	c.mu.Unlock()

	return c.deliver(ctx, t)
}

func (c *Controller) deliver(ctx context.Context, t ticket) error {
	d, err := c.backend.PrepareDelivery(ctx, t.session)

	c.mu.Lock()
	if c.staleLocked(t) {
		c.mu.Unlock()
		return ErrStaleResponse
	}
	c.busy = false
	if err != nil {
		c.errMsg = err.Error()
		events := []Event{c.eventLocked(EventError, c.errMsg)}
		c.mu.Unlock()
		c.emit(events...)
		return err
	}
	c.drafts.Delivery = d
	events := []Event{c.eventLocked(EventDraft, PhaseDelivery.String())}
	c.mu.Unlock()
	c.emit(events...)
	return nil
}

// Refine sends a revision request about the current draft through the
// side-channel and returns the reply. It never changes the draft or the
// ledger; apply a revision with Regenerate.
func (c *Controller) Refine(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return "", ErrBusy
	}
	if !c.state.IsReview() {
		c.mu.Unlock()
		return "", fmt.Errorf("refine in %s: %w", c.state, ErrInvalidTransition)
	}
	c.busy = true
	t := c.ticketLocked()
	phase := c.state.Phase()
	c.mu.Unlock()

	reply, err := c.reviser.Send(ctx, t.session, message, int(phase))

	c.mu.Lock()
	if c.staleLocked(t) {
		c.mu.Unlock()
		return "", ErrStaleResponse
	}
	c.busy = false
	if err != nil {
		c.errMsg = err.Error()
		events := []Event{c.eventLocked(EventError, c.errMsg)}
		c.mu.Unlock()
		c.emit(events...)
		return "", err
	}
	c.mu.Unlock()
	return reply, nil
}

// Reset abandons the session from any state: the poll schedule is stopped,
// drafts and ledger are cleared and the configuration returns to defaults.
// Responses to calls still in flight are discarded when they arrive.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	from := c.state
	c.epoch++
	c.busy = false
	c.state = StateIdle
	c.session = ""
	c.input = challenge.Input{}
	c.settings = challenge.DefaultSettings()
	c.ledger = NewLedger()
	c.drafts = Drafts{}
	c.revision = [PhaseCount]int{}
	c.progress = nil
	c.errMsg = ""
	ev := c.eventLocked(EventReset, "")
	ev.From = from
	c.mu.Unlock()

	if c.reviser != nil {
		c.reviser.Reset()
	}
	c.logger.Info("Workflow reset", slog.String("from", from.String()))
	c.emit(ev)
}

// transitionLocked moves to target and returns the transition event. An
// illegal transition is logged and ignored.
func (c *Controller) transitionLocked(target State) []Event {
	from := c.state
	if from == target {
		return nil
	}
	if !from.CanTransitionTo(target) {
		c.logger.Error("Illegal workflow transition ignored",
			slog.String("from", from.String()),
			slog.String("to", target.String()))
		return nil
	}
	c.state = target
	c.logger.Debug("Workflow transition",
		slog.String("from", from.String()),
		slog.String("to", target.String()),
		slog.String("session", c.session))
	ev := c.eventLocked(EventTransition, "")
	ev.From = from
	return []Event{ev}
}

func (c *Controller) eventLocked(typ EventType, msg string) Event {
	return Event{
		Type:     typ,
		From:     c.state,
		To:       c.state,
		Message:  msg,
		Snapshot: c.snapshotLocked(),
		Time:     time.Now(),
	}
}

func (c *Controller) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.obsMu.RLock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.RUnlock()

	for _, ev := range events {
		for _, o := range observers {
			o(ev)
		}
	}
}
