// Package mockbackend implements an in-process stand-in for the challenge
// generation backend. It serves every remote stage with deterministic
// artifacts, walks a scripted list of progress steps for the generation job,
// and records calls so tests can assert on what the client sent.
//
// Individual stages can be overridden with scripted replies, either in code
// (Script) or from fixture files (LoadFixtures): "generate-schema.json" maps
// to the generate-schema stage, and numbered files such as
// "generate-schema.1.json" are served first, in order, before the base file
// takes over as the repeating reply.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/stage"
	"github.com/google/uuid"
)

// APIPrefix is the path prefix every stage is served under.
const APIPrefix = "/api"

// Step is one intermediate progress report of the generation job.
type Step struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// DefaultSteps are the progress reports served before the job finishes.
func DefaultSteps() []Step {
	return []Step{
		{Stage: "generating_data", Percent: 10, Message: "Generating tables"},
		{Stage: "validating", Percent: 55, Message: "Running quality checks"},
	}
}

// DefaultQAScore is the overall score reported by a completed job.
const DefaultQAScore = 8.5

// Reply is a scripted response for a stage.
type Reply struct {
	Status int
	Body   string
}

// CapturedRequest stores the key fields of an incoming stage request.
type CapturedRequest struct {
	Stage     stage.Name `json:"stage"`
	Session   string     `json:"session,omitempty"`
	Body      string     `json:"body,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	CallIndex int        `json:"call_index"`
	Timestamp int64      `json:"timestamp"`
}

type session struct {
	input      challenge.Input
	approved   [4]bool
	jobStarted bool
	jobSize    int
	stepIndex  int
	prepared   bool
}

// Server is the mock backend.
type Server struct {
	logger  *slog.Logger
	steps   []Step
	failJob string
	score   float64
	delay   time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	scripts  map[stage.Name][]Reply
	calls    map[stage.Name]int
	requests []CapturedRequest
}

// Option configures a Server.
type Option func(*Server)

// WithSteps sets the progress steps served before the job finishes.
func WithSteps(steps []Step) Option {
	return func(s *Server) {
		s.steps = steps
	}
}

// WithJobFailure makes the generation job fail with msg once its steps are
// exhausted.
func WithJobFailure(msg string) Option {
	return func(s *Server) {
		s.failJob = msg
	}
}

// WithQAScore sets the overall QA score of a completed job.
func WithQAScore(score float64) Option {
	return func(s *Server) {
		s.score = score
	}
}

// WithLatency delays every stage response by d.
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.delay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithFixtures installs scripted replies, typically from LoadFixtures.
func WithFixtures(fixtures map[stage.Name][]Reply) Option {
	return func(s *Server) {
		for name, replies := range fixtures {
			s.scripts[name] = append(s.scripts[name], replies...)
		}
	}
}

// New creates a mock backend.
func New(opts ...Option) *Server {
	s := &Server{
		logger:   slog.Default(),
		steps:    DefaultSteps(),
		score:    DefaultQAScore,
		sessions: make(map[string]*session),
		scripts:  make(map[stage.Name][]Reply),
		calls:    make(map[stage.Name]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Script queues replies for a stage. Queued replies are served in order;
// the last one repeats once the others are used up.
func (s *Server) Script(name stage.Name, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = append(s.scripts[name], replies...)
}

// Calls returns how many times the stage was invoked.
func (s *Server) Calls(name stage.Name) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Requests returns the captured requests for a stage, or all requests when
// name is empty.
func (s *Server) Requests(name stage.Name) []CapturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CapturedRequest
	for _, r := range s.requests {
		if name == "" || r.Stage == name {
			out = append(out, r)
		}
	}
	return out
}

// Handler returns the HTTP handler serving all stages plus the /health,
// /stats and /requests diagnostics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handlers := map[stage.Name]func(http.ResponseWriter, *http.Request, string, []byte){
		stage.CreateResearch:      s.handleResearch,
		stage.GenerateProblem:     s.handleProblem,
		stage.ApprovePhase1:       s.approver(1),
		stage.GenerateSchema:      s.handleSchema,
		stage.ApprovePhase2:       s.approver(2),
		stage.GeneratePreview:     s.handlePreview,
		stage.ApprovePhase3:       s.approver(3),
		stage.StartFullGeneration: s.handleGenerateFull,
		stage.JobStatus:           s.handleStatus,
		stage.PrepareDelivery:     s.handlePrepare,
		stage.Download:            s.handleDownload,
		stage.Chat:                s.handleChat,
	}
	for _, name := range stage.Names() {
		pattern, ok := name.Pattern(APIPrefix)
		if !ok {
			continue
		}
		mux.HandleFunc(pattern, s.serve(name, handlers[name]))
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	return mux
}

// serve wraps a stage handler with capture, latency and scripted replies.
func (s *Server) serve(name stage.Name, next func(http.ResponseWriter, *http.Request, string, []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		sid := name.SessionFrom(r)
		if name == stage.Chat {
			var req struct {
				SessionID string `json:"session_id"`
			}
			_ = json.Unmarshal(body, &req)
			sid = req.SessionID
		}

		reply, scripted := s.record(name, sid, body, r.Header.Get(stage.RequestIDHeader))

		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-r.Context().Done():
				return
			}
		}

		if scripted {
			status := reply.Status
			if status == 0 {
				status = http.StatusOK
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, reply.Body)
			return
		}
		next(w, r, sid, body)
	}
}

// record captures the request and pops the next scripted reply, if any.
func (s *Server) record(name stage.Name, sid string, body []byte, requestID string) (Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[name]++
	idx := s.calls[name]
	s.requests = append(s.requests, CapturedRequest{
		Stage:     name,
		Session:   sid,
		Body:      string(body),
		RequestID: requestID,
		CallIndex: idx,
		Timestamp: time.Now().UnixMilli(),
	})
	s.logger.Debug("Mock stage call",
		slog.String("stage", string(name)),
		slog.String("session", sid),
		slog.Int("call", idx))

	queue := s.scripts[name]
	if len(queue) == 0 {
		return Reply{}, false
	}
	reply := queue[0]
	if len(queue) > 1 {
		s.scripts[name] = queue[1:]
	}
	return reply, true
}

// lookup returns the session or writes a 404.
func (s *Server) lookup(w http.ResponseWriter, sid string) (*session, bool) {
	sess, ok := s.sessions[sid]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Session not found")
	}
	return sess, ok
}

func (s *Server) handleResearch(w http.ResponseWriter, _ *http.Request, _ string, body []byte) {
	var in challenge.Input
	if err := json.Unmarshal(body, &in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid input: %v", err))
		return
	}

	sid := uuid.New().String()
	s.mu.Lock()
	s.sessions[sid] = &session{input: in}
	s.mu.Unlock()

	research := sampleResearch(sid, in)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sid,
		"status":     "research_complete",
		"research":   research,
		"message":    fmt.Sprintf("Research completed: %d sources found", len(research.Sources)),
	})
}

func (s *Server) handleProblem(w http.ResponseWriter, _ *http.Request, sid string, _ []byte) {
	s.mu.Lock()
	sess, ok := s.lookup(w, sid)
	s.mu.Unlock()
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":        sid,
		"status":            "problem_generated",
		"problem_statement": sampleProblem(sid, sess.input),
	})
}

func (s *Server) approver(phase int) func(http.ResponseWriter, *http.Request, string, []byte) {
	return func(w http.ResponseWriter, _ *http.Request, sid string, _ []byte) {
		s.mu.Lock()
		sess, ok := s.lookup(w, sid)
		if ok {
			sess.approved[phase] = true
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sid,
			"status":     fmt.Sprintf("phase%d_approved", phase),
			"next_phase": fmt.Sprintf("phase%d", phase+1),
		})
	}
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request, sid string, _ []byte) {
	s.mu.Lock()
	sess, ok := s.lookup(w, sid)
	s.mu.Unlock()
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sid,
		"status":     challenge.VerdictPendingApproval,
		"schema":     sampleSchema(sess.input),
		"validation": challenge.SchemaValidation{CanAnswerAll: true, Score: 9.1},
		"message":    "Schema ready for review",
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request, sid string, _ []byte) {
	s.mu.Lock()
	sess, ok := s.lookup(w, sid)
	s.mu.Unlock()
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   sid,
		"status":       challenge.VerdictPendingApproval,
		"preview_data": samplePreview(sampleSchema(sess.input)),
		"validation":   challenge.PreviewValidation{FKIntegrityPassed: true, Score: 8.8},
		"message":      "Preview ready for review",
	})
}

func (s *Server) handleGenerateFull(w http.ResponseWriter, _ *http.Request, sid string, body []byte) {
	var req struct {
		DatasetSize int `json:"dataset_size"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid input: %v", err))
		return
	}

	s.mu.Lock()
	sess, ok := s.lookup(w, sid)
	if !ok {
		s.mu.Unlock()
		return
	}
	if !sess.approved[3] {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Preview must be approved first")
		return
	}
	sess.jobStarted = true
	sess.jobSize = req.DatasetSize
	sess.stepIndex = 0
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sid,
		"phase":      "phase4",
		"status":     "generating",
		"message":    fmt.Sprintf("Full generation started for %d rows.", req.DatasetSize),
	})
}

// handleStatus advances the job one step per poll.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, sid string, _ []byte) {
	s.mu.Lock()
	sess, ok := s.lookup(w, sid)
	if !ok {
		s.mu.Unlock()
		return
	}

	resp := map[string]any{"session_id": sid, "phase": "phase4"}
	switch {
	case !sess.jobStarted:
		resp["status"] = "unknown"
		resp["progress"] = map[string]any{}
	case sess.stepIndex < len(s.steps):
		step := s.steps[sess.stepIndex]
		sess.stepIndex++
		resp["status"] = "generating"
		resp["progress"] = step
	case s.failJob != "":
		resp["status"] = "failed"
		resp["error"] = s.failJob
	default:
		resp["status"] = "completed"
		resp["progress"] = Step{Stage: "completed", Percent: 100, Message: "Generation complete"}
		resp["qa_results"] = sampleQA(sid, s.score)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrepare(w http.ResponseWriter, _ *http.Request, sid string, _ []byte) {
	s.mu.Lock()
	sess, ok := s.lookup(w, sid)
	if !ok {
		s.mu.Unlock()
		return
	}
	done := sess.jobStarted && sess.stepIndex >= len(s.steps) && s.failJob == ""
	if done {
		sess.prepared = true
	}
	s.mu.Unlock()

	if !done {
		writeDetail(w, http.StatusBadRequest, "Phase 4 generation must be completed first")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   sid,
		"phase":        "phase5",
		"status":       "ready",
		"package":      sampleDelivery(sid, sampleSchema(sess.input)),
		"download_url": downloadPath(sid),
		"message":      "Download package ready",
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, _ *http.Request, sid string, _ []byte) {
	s.mu.Lock()
	sess, ok := s.lookup(w, sid)
	if !ok {
		s.mu.Unlock()
		return
	}
	prepared := sess.prepared
	in := sess.input
	s.mu.Unlock()

	if !prepared {
		writeDetail(w, http.StatusBadRequest, "Download package not prepared. Call /phase5/prepare first")
		return
	}

	data, err := buildBundle(sid, in)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, bundleName(sid)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleChat(w http.ResponseWriter, _ *http.Request, _ string, body []byte) {
	var req struct {
		Message string `json:"message"`
		Phase   string `json:"phase"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid input: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response": fmt.Sprintf("Noted for phase %s: %q. Regenerate the draft to apply the change.", req.Phase, req.Message),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats returns per-stage call counts.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byStage := make(map[stage.Name]int, len(s.calls))
	total := 0
	for name, n := range s.calls {
		byStage[name] = n
		total += n
	}
	sessions := len(s.sessions)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"total_calls":    total,
		"calls_by_stage": byStage,
		"sessions":       sessions,
	})
}

// handleRequests returns captured requests. Query params:
//   - stage: filter by stage name (optional)
//   - call: filter by 1-indexed call number (optional)
func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	reqs := s.Requests(stage.Name(r.URL.Query().Get("stage")))
	if callFilter := r.URL.Query().Get("call"); callFilter != "" {
		if idx, err := strconv.Atoi(callFilter); err == nil {
			filtered := reqs[:0]
			for _, req := range reqs {
				if req.CallIndex == idx {
					filtered = append(filtered, req)
				}
			}
			reqs = filtered
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes a FastAPI-style error body.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func downloadPath(sid string) string {
	return APIPrefix + "/challenge/phase5/download/" + sid
}

func bundleName(sid string) string {
	return "codebasics_data_challenge_" + sid + ".zip"
}
