package workflow

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/chat"
	"github.com/c360studio/datafactory/mockbackend"
	"github.com/c360studio/datafactory/poller"
	"github.com/c360studio/datafactory/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	backend *mockbackend.Server
	client  *stage.Client
	ctrl    *Controller
	log     *eventLog
}

func newHarness(t *testing.T, opts ...mockbackend.Option) *harness {
	t.Helper()
	backend := mockbackend.New(opts...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	client := stage.NewClient(srv.URL + mockbackend.APIPrefix)
	jobs := poller.New(client, poller.Config{Interval: 5 * time.Millisecond})
	log := &eventLog{}
	ctrl := NewController(client, jobs, chat.New(client), WithObserver(log.observe))
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.UpdateSettings(func(s *challenge.Settings) {
		s.Domain = "Healthcare"
		s.Function = "Operations"
		s.SetDifficulty(challenge.DifficultyEasy)
	}))
	return &harness{backend: backend, client: client, ctrl: ctrl, log: log}
}

func waitForState(t *testing.T, c *Controller, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Snapshot()
		if snap.State == want && !snap.Busy {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %s not reached; at %s", want, c.Snapshot().State)
	return Snapshot{}
}

func TestController_StartChainsResearchAndProblem(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Start(context.Background()))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateReviewProblem, snap.State)
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, PhaseStatusApproved, snap.Ledger.Status(PhaseConfiguration))
	assert.Equal(t, PhaseStatusPending, snap.Ledger.Status(PhaseProblem))
	require.NotNil(t, snap.Drafts.Research)
	require.NotNil(t, snap.Drafts.Problem)
	assert.NotEmpty(t, snap.Drafts.Problem.CharacterPositions["Priya"])
	assert.Equal(t, 1, snap.Revision)

	research := h.backend.Requests(stage.CreateResearch)
	require.Len(t, research, 1)
	assert.Contains(t, research[0].Body, `"difficulty":"Easy"`)
	assert.Contains(t, research[0].Body, `"dataset_size":5000`)

	problem := h.backend.Requests(stage.GenerateProblem)
	require.Len(t, problem, 1)
	assert.Equal(t, snap.SessionID, problem[0].Session)
}

func TestController_FullRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Approve(ctx))
	assert.Equal(t, StateReviewSchema, h.ctrl.Snapshot().State)
	require.NoError(t, h.ctrl.Approve(ctx))
	assert.Equal(t, StateReviewPreview, h.ctrl.Snapshot().State)
	require.NoError(t, h.ctrl.Approve(ctx))

	snap := waitForState(t, h.ctrl, StateReadyForDelivery)
	require.NotNil(t, snap.Drafts.QA)
	assert.InDelta(t, 8.5, snap.Drafts.QA.OverallScore, 0.001)
	require.NotNil(t, snap.Drafts.Delivery)
	assert.Contains(t, snap.Drafts.Delivery.DownloadURL, snap.SessionID)
	for p := PhaseConfiguration; p <= PhaseGeneration; p++ {
		assert.True(t, snap.Ledger.Approved(p), "phase %s approved", p)
	}

	var percents []float64
	for _, ev := range h.log.ofType(EventProgress) {
		percents = append(percents, ev.Snapshot.Progress.Percent)
	}
	assert.Equal(t, []float64{10, 55}, percents)
	assert.Len(t, h.log.ofType(EventCelebrate), 1)

	reqs := h.backend.Requests(stage.StartFullGeneration)
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"dataset_size":5000}`, reqs[0].Body)
}

func TestController_JobFailure(t *testing.T) {
	h := newHarness(t, mockbackend.WithJobFailure("synthesis timeout"))
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, h.ctrl.Approve(ctx))
	}

	snap := waitForState(t, h.ctrl, StateFailed)
	assert.Equal(t, "synthesis timeout", snap.Error)
	assert.False(t, snap.Ledger.Approved(PhaseGeneration))
	assert.Nil(t, snap.Drafts.Delivery)
	assert.Empty(t, h.log.ofType(EventCelebrate))

	polls := h.backend.Calls(stage.JobStatus)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, h.backend.Calls(stage.JobStatus), "polling halted")
	assert.Zero(t, h.backend.Calls(stage.PrepareDelivery))

	// No automatic retry; only reset leaves Failed.
	assert.ErrorIs(t, h.ctrl.Approve(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Regenerate(ctx), ErrInvalidTransition)
}

func TestController_RegenerateKeepsLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Approve(ctx))

	before := h.ctrl.Snapshot()
	require.NoError(t, h.ctrl.Regenerate(ctx))
	after := h.ctrl.Snapshot()

	assert.Equal(t, StateReviewSchema, after.State)
	assert.Equal(t, before.Ledger, after.Ledger)
	assert.Equal(t, PhaseStatusPending, after.Ledger.Status(PhaseSchema))
	assert.NotSame(t, before.Drafts.Schema, after.Drafts.Schema, "draft replaced wholesale")
	assert.Equal(t, before.Revision+1, after.Revision)
	assert.Equal(t, 2, h.backend.Calls(stage.GenerateSchema))
	assert.Len(t, h.log.ofType(EventDraft), 3)
}

func TestController_RefineLeavesDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	assert.Equal(t, chat.Guidance(1), h.ctrl.RefineGuidance())

	before := h.ctrl.Snapshot()
	reply, err := h.ctrl.Refine(ctx, "Make the company a rural clinic network")
	require.NoError(t, err)
	assert.Contains(t, reply, "rural clinic")

	after := h.ctrl.Snapshot()
	assert.Same(t, before.Drafts.Problem, after.Drafts.Problem)
	assert.Equal(t, before.Ledger, after.Ledger)
	assert.Equal(t, before.Revision, after.Revision)

	reqs := h.backend.Requests(stage.Chat)
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Body, `"phase":"1"`)
}

func TestController_ApproveTriggersOneNextStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	require.NoError(t, h.ctrl.Approve(ctx))
	assert.Equal(t, 1, h.backend.Calls(stage.ApprovePhase1))
	assert.Equal(t, 1, h.backend.Calls(stage.GenerateSchema))

	// Phase 1 can no longer be approved; the ledger does not move.
	ledger := h.ctrl.Snapshot().Ledger
	require.NoError(t, h.ctrl.Approve(ctx))
	assert.Equal(t, 1, h.backend.Calls(stage.ApprovePhase1))
	assert.Equal(t, 1, h.backend.Calls(stage.ApprovePhase2))
	assert.Equal(t, 1, h.backend.Calls(stage.GeneratePreview))
	after := h.ctrl.Snapshot().Ledger
	assert.Equal(t, ledger.Status(PhaseProblem), after.Status(PhaseProblem))
	assert.True(t, after.Approved(PhaseSchema))
}

func TestController_ApprovalFailureSkipsNextStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	h.backend.Script(stage.ApprovePhase1, mockbackend.Reply{Status: 400, Body: `{"detail":"No problem statement found"}`})
	err := h.ctrl.Approve(ctx)
	require.Error(t, err)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateReviewProblem, snap.State)
	assert.Equal(t, "approve-phase-1 failed: HTTP 400: No problem statement found", snap.Error)
	assert.False(t, snap.Ledger.Approved(PhaseProblem))
	assert.Zero(t, h.backend.Calls(stage.GenerateSchema))

	h.ctrl.DismissError()
	assert.Empty(t, h.ctrl.Snapshot().Error)
}

func TestController_NextStageFailureRetriesWithRegenerate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	h.backend.Script(stage.GenerateSchema,
		mockbackend.Reply{Status: 502, Body: `{"detail":"upstream unavailable"}`},
		mockbackend.Reply{Body: `{"status":"pending_approval","schema":{"tables":[{"name":"t","columns":[{"name":"c"}]}]}}`},
	)
	require.Error(t, h.ctrl.Approve(ctx))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateAwaitingSchema, snap.State)
	assert.True(t, snap.Ledger.Approved(PhaseProblem))
	assert.Contains(t, snap.Error, "upstream unavailable")

	require.NoError(t, h.ctrl.Regenerate(ctx))
	snap = h.ctrl.Snapshot()
	assert.Equal(t, StateReviewSchema, snap.State)
	assert.Empty(t, snap.Error)
	assert.Equal(t, "t", snap.Drafts.Schema.Schema.Tables[0].Name)
}

func TestController_DismissErrorNotifiesObservers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	// Nothing to dismiss yet.
	h.ctrl.DismissError()
	assert.Empty(t, h.log.ofType(EventDismissed))

	h.backend.Script(stage.GenerateSchema, mockbackend.Reply{Status: 502, Body: `{"detail":"upstream unavailable"}`})
	require.Error(t, h.ctrl.Approve(ctx))
	require.NotEmpty(t, h.ctrl.Snapshot().Error)

	h.ctrl.DismissError()
	dismissed := h.log.ofType(EventDismissed)
	require.Len(t, dismissed, 1)
	assert.Empty(t, dismissed[0].Snapshot.Error)
	assert.Equal(t, StateAwaitingSchema, dismissed[0].To)
	assert.Empty(t, h.ctrl.Snapshot().Error)
}

func TestController_ResearchFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.backend.Script(stage.CreateResearch, mockbackend.Reply{Body: `{"status":"error","error":"search quota"}`})

	err := h.ctrl.Start(context.Background())
	require.Error(t, err)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.SessionID)
	assert.Contains(t, snap.Error, "search quota")
	assert.Zero(t, h.backend.Calls(stage.GenerateProblem))
}

func TestController_ValidationBlocksStart(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.UpdateSettings(func(s *challenge.Settings) {
		s.Domain = challenge.OtherOption
		s.CustomDomain = "ab"
	}))

	err := h.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.True(t, challenge.IsValidation(err))
	assert.Equal(t, StateIdle, h.ctrl.Snapshot().State)
	assert.Zero(t, h.backend.Calls(stage.CreateResearch))
}

func TestController_ResetRestoresDefaults(t *testing.T) {
	tests := []struct {
		name    string
		advance func(t *testing.T, h *harness)
	}{
		{"idle", func(*testing.T, *harness) {}},
		{"problem review", func(t *testing.T, h *harness) {
			require.NoError(t, h.ctrl.Start(context.Background()))
		}},
		{"schema review", func(t *testing.T, h *harness) {
			require.NoError(t, h.ctrl.Start(context.Background()))
			require.NoError(t, h.ctrl.Approve(context.Background()))
		}},
		{"generating", func(t *testing.T, h *harness) {
			ctx := context.Background()
			require.NoError(t, h.ctrl.Start(ctx))
			for i := 0; i < 3; i++ {
				require.NoError(t, h.ctrl.Approve(ctx))
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, mockbackend.WithSteps(repeatSteps(200)))
			tt.advance(t, h)

			h.ctrl.Reset()
			snap := h.ctrl.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.Equal(t, challenge.DefaultSettings(), snap.Settings)
			assert.Equal(t, challenge.DifficultyMedium, snap.Settings.Difficulty)
			assert.Equal(t, 10000, snap.Settings.DatasetSize)
			assert.Equal(t, challenge.StructureNormalized, snap.Settings.DataStructure)
			assert.Empty(t, snap.SessionID)
			assert.Equal(t, Drafts{}, snap.Drafts)
			assert.Equal(t, NewLedger(), snap.Ledger)
			assert.Nil(t, snap.Progress)

			polls := h.backend.Calls(stage.JobStatus)
			time.Sleep(30 * time.Millisecond)
			assert.Equal(t, polls, h.backend.Calls(stage.JobStatus), "no polling after reset")
		})
	}
}

func repeatSteps(n int) []mockbackend.Step {
	steps := make([]mockbackend.Step, n)
	for i := range steps {
		steps[i] = mockbackend.Step{Stage: "generating_data", Percent: 10, Message: "working"}
	}
	return steps
}

func TestController_SettingsLockedAfterStart(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))
	err := h.ctrl.UpdateSettings(func(s *challenge.Settings) { s.Domain = "Retail" })
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestController_ApproveDraftRevision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	rendered := h.ctrl.Snapshot().Revision
	require.NoError(t, h.ctrl.Regenerate(ctx))

	assert.ErrorIs(t, h.ctrl.ApproveDraft(ctx, rendered), ErrDraftChanged)
	assert.Zero(t, h.backend.Calls(stage.ApprovePhase1))

	require.NoError(t, h.ctrl.ApproveDraft(ctx, h.ctrl.Snapshot().Revision))
	assert.Equal(t, StateReviewSchema, h.ctrl.Snapshot().State)
}

func TestController_InvalidOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.ctrl.Approve(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Regenerate(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.PrepareDelivery(ctx), ErrInvalidTransition)
	_, err := h.ctrl.Refine(ctx, "hello")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, h.ctrl.RefineGuidance())

	require.NoError(t, h.ctrl.Start(ctx))
	assert.ErrorIs(t, h.ctrl.Start(ctx), ErrInvalidTransition)
}

func TestController_PrepareDeliveryRetry(t *testing.T) {
	h := newHarness(t, mockbackend.WithSteps(nil))
	h.backend.Script(stage.PrepareDelivery,
		mockbackend.Reply{Status: 500, Body: `{"detail":"zip failed"}`},
		mockbackend.Reply{Body: `{"package":{"csv_files":["a.csv"]},"download_url":"/api/challenge/phase5/download/x"}`},
	)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, h.ctrl.Approve(ctx))
	}

	snap := waitForState(t, h.ctrl, StateReadyForDelivery)
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Error != ""
	}, 2*time.Second, 5*time.Millisecond)
	snap = h.ctrl.Snapshot()
	assert.Contains(t, snap.Error, "zip failed")
	assert.Nil(t, snap.Drafts.Delivery)

	require.NoError(t, h.ctrl.PrepareDelivery(ctx))
	snap = h.ctrl.Snapshot()
	require.NotNil(t, snap.Drafts.Delivery)
	assert.Equal(t, []string{"a.csv"}, snap.Drafts.Delivery.CSVFiles)
}

// blockingBackend parks GenerateSchema until released.
type blockingBackend struct {
	release chan struct{}
	entered chan struct{}
	schemas int
	mu      sync.Mutex
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{release: make(chan struct{}), entered: make(chan struct{}, 4)}
}

func (b *blockingBackend) Research(context.Context, challenge.Input) (string, *challenge.Research, error) {
	return "s-1", &challenge.Research{Domain: "Healthcare", Function: "Operations"}, nil
}

func (b *blockingBackend) GenerateProblem(context.Context, string, challenge.Input) (*challenge.ProblemStatement, error) {
	return &challenge.ProblemStatement{Title: "T", Statement: "S"}, nil
}

func (b *blockingBackend) Approve(context.Context, string, int) error { return nil }

func (b *blockingBackend) GenerateSchema(context.Context, string) (*challenge.SchemaDraft, error) {
	b.entered <- struct{}{}
	<-b.release
	b.mu.Lock()
	b.schemas++
	b.mu.Unlock()
	return &challenge.SchemaDraft{Schema: challenge.Schema{Tables: []challenge.Table{{Name: "t"}}}}, nil
}

func (b *blockingBackend) GeneratePreview(context.Context, string) (*challenge.PreviewDraft, error) {
	return nil, errors.New("not used")
}

func (b *blockingBackend) StartFullGeneration(context.Context, string, int) error {
	return errors.New("not used")
}

func (b *blockingBackend) PrepareDelivery(context.Context, string) (*challenge.Delivery, error) {
	return nil, errors.New("not used")
}

type nopReviser struct{}

func (nopReviser) Send(context.Context, string, string, int) (string, error) { return "ok", nil }
func (nopReviser) Reset()                                                     {}

func newBlockingController(t *testing.T) (*Controller, *blockingBackend) {
	t.Helper()
	b := newBlockingBackend()
	c := NewController(b, poller.New(nil, poller.Config{}), nopReviser{})
	t.Cleanup(c.Close)
	require.NoError(t, c.UpdateSettings(func(s *challenge.Settings) {
		s.Domain = "Healthcare"
		s.Function = "Operations"
	}))
	require.NoError(t, c.Start(context.Background()))
	return c, b
}

// blockingSender parks chat replies until released.
type blockingSender struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSender) Chat(_ context.Context, session, _ string, _ int) (string, error) {
	s.entered <- struct{}{}
	<-s.release
	return "reply for " + session, nil
}

func TestController_ResetDropsInFlightRefineReply(t *testing.T) {
	sender := &blockingSender{entered: make(chan struct{}, 1), release: make(chan struct{})}
	side := chat.New(sender)
	c := NewController(newBlockingBackend(), poller.New(nil, poller.Config{}), side)
	t.Cleanup(c.Close)
	require.NoError(t, c.UpdateSettings(func(s *challenge.Settings) {
		s.Domain = "Healthcare"
		s.Function = "Operations"
	}))
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, StateReviewProblem, c.Snapshot().State)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Refine(context.Background(), "make it a clinic network")
		errc <- err
	}()
	<-sender.entered

	c.Reset()
	close(sender.release)

	assert.ErrorIs(t, <-errc, ErrStaleResponse)
	transcript := side.Transcript()
	require.Len(t, transcript, 1, "only the greeting survives a reset")
	assert.Equal(t, chat.Greeting, transcript[0].Content)
	assert.False(t, c.Snapshot().Busy)
}

func TestController_BusyRefusesConcurrentCalls(t *testing.T) {
	c, b := newBlockingController(t)

	errc := make(chan error, 1)
	go func() { errc <- c.Approve(context.Background()) }()
	<-b.entered

	assert.True(t, c.Snapshot().Busy)
	assert.ErrorIs(t, c.Regenerate(context.Background()), ErrBusy)
	assert.ErrorIs(t, c.Approve(context.Background()), ErrBusy)
	_, err := c.Refine(context.Background(), "x")
	assert.ErrorIs(t, err, ErrBusy)

	close(b.release)
	require.NoError(t, <-errc)
	assert.Equal(t, StateReviewSchema, c.Snapshot().State)
	assert.Equal(t, 1, b.schemas)
}

func TestController_StaleResponseDiscarded(t *testing.T) {
	c, b := newBlockingController(t)

	errc := make(chan error, 1)
	go func() { errc <- c.Approve(context.Background()) }()
	<-b.entered

	c.Reset()
	close(b.release)

	assert.ErrorIs(t, <-errc, ErrStaleResponse)
	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Drafts.Schema)
	assert.False(t, snap.Busy)
}
