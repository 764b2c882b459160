// Package poller tracks the asynchronous full-generation job by querying its
// status on a fixed interval until the job reports a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/datafactory/challenge"
)

// DefaultInterval is the polling cadence.
const DefaultInterval = 2 * time.Second

// Poll outcomes reported to a Recorder.
const (
	OutcomeProgress = "progress"
	OutcomeError    = "error"
	OutcomeComplete = "completed"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
)

// StatusSource queries the job once. stage.Client implements it.
type StatusSource interface {
	FetchJobStatus(ctx context.Context, session string) (*challenge.JobStatus, error)
}

// Recorder observes individual poll outcomes. metrics.Collector implements it.
type Recorder interface {
	ObservePoll(outcome string)
}

// Config controls the polling schedule.
type Config struct {
	Interval time.Duration
	// MaxDuration bounds the whole job. Zero polls until a terminal status.
	MaxDuration time.Duration
}

// Result is the terminal outcome of a job.
type Result struct {
	Success bool
	QA      *challenge.QAResult
	Err     string
}

// UpdateFunc receives intermediate progress.
type UpdateFunc func(challenge.Progress)

// TerminalFunc receives the terminal outcome exactly once.
type TerminalFunc func(Result)

// Poller starts polling schedules against a StatusSource.
type Poller struct {
	source   StatusSource
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithRecorder sets the poll outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Poller) {
		p.recorder = r
	}
}

// New creates a Poller. A non-positive interval falls back to
// DefaultInterval.
func New(source StatusSource, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	p := &Poller{
		source: source,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle controls one polling schedule.
type Handle struct {
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

// Stop clears the schedule. It is safe to call more than once and from
// within a callback. A poll request already in flight is not cancelled, but
// its result is discarded.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.stopped.Store(true)
		close(h.stop)
	})
}

// Done is closed when the polling goroutine exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stopped reports whether Stop has been called.
func (h *Handle) Stopped() bool {
	return h.stopped.Load()
}

// Start polls the job for session until it reaches a terminal status, ctx
// is cancelled, or the handle is stopped. The first poll fires after one
// interval. Callbacks run on the polling goroutine.
func (p *Poller) Start(ctx context.Context, session string, onUpdate UpdateFunc, onTerminal TerminalFunc) *Handle {
	h := &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.run(ctx, h, session, onUpdate, onTerminal)
	return h
}

func (p *Poller) run(ctx context.Context, h *Handle, session string, onUpdate UpdateFunc, onTerminal TerminalFunc) {
	defer close(h.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.cfg.MaxDuration > 0 {
		timer := time.NewTimer(p.cfg.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	logger := p.logger.With(slog.String("session", session))
	logger.Debug("Polling started", slog.Duration("interval", p.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Polling cancelled", slog.Any("error", ctx.Err()))
			return
		case <-h.stop:
			logger.Debug("Polling stopped")
			return
		case <-deadline:
			p.record(OutcomeTimeout)
			if h.Stopped() {
				return
			}
			h.Stop()
			msg := fmt.Sprintf("generation timed out after %s", p.cfg.MaxDuration)
			logger.Warn("Polling deadline exceeded", slog.Duration("max_duration", p.cfg.MaxDuration))
			if onTerminal != nil {
				onTerminal(Result{Err: msg})
			}
			return
		case <-ticker.C:
		}

		status, err := p.source.FetchJobStatus(ctx, session)
		if h.Stopped() || ctx.Err() != nil {
			return
		}
		if errors.Is(err, challenge.ErrInvalidResult) {
			// The job reported completion; polling again cannot fix it.
			p.record(OutcomeFailed)
			h.Stop()
			logger.Warn("Job completed with an invalid result", slog.Any("error", err))
			if onTerminal != nil {
				onTerminal(Result{Err: err.Error()})
			}
			return
		}
		if err != nil {
			// Transient: keep polling.
			p.record(OutcomeError)
			logger.Warn("Job status poll failed", slog.Any("error", err))
			continue
		}

		switch status.State {
		case challenge.JobCompleted:
			p.record(OutcomeComplete)
			h.Stop()
			logger.Info("Job completed", slog.Float64("qa_score", status.QA.OverallScore))
			if onTerminal != nil {
				onTerminal(Result{Success: true, QA: status.QA})
			}
			return
		case challenge.JobFailed:
			p.record(OutcomeFailed)
			h.Stop()
			logger.Info("Job failed", slog.String("error", status.Error))
			if onTerminal != nil {
				onTerminal(Result{Err: status.Error})
			}
			return
		default:
			p.record(OutcomeProgress)
			if status.Progress != nil && onUpdate != nil {
				onUpdate(*status.Progress)
			}
		}
	}
}

func (p *Poller) record(outcome string) {
	if p.recorder != nil {
		p.recorder.ObservePoll(outcome)
	}
}
