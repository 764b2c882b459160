package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/datafactory/challenge"
	"github.com/google/uuid"
)

// maxResponseSize limits stage response bodies.
const maxResponseSize = 20 * 1024 * 1024 // 20MB

// RequestIDHeader carries the per-call request id.
const RequestIDHeader = "X-Request-ID"

// Outcome labels passed to a Recorder.
const (
	OutcomeOK        = "ok"
	OutcomeHTTPError = "http_error"
	OutcomeTransport = "transport_error"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
)

// Recorder observes every stage call. metrics.Collector implements it.
type Recorder interface {
	ObserveStage(stage string, outcome string, elapsed time.Duration)
}

// Client invokes remote stages over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	recorder   Recorder
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets a per-request timeout. Zero means no timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(client *Client) {
		client.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithRecorder sets the call recorder.
func WithRecorder(r Recorder) ClientOption {
	return func(client *Client) {
		client.recorder = r
	}
}

// NewClient creates a stage client for the API rooted at baseURL
// (e.g. "http://127.0.0.1:8000/api").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		userAgent:  "datafactory",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// validatable is implemented by challenge artifacts.
type validatable interface {
	Validate() error
}

// envelope captures the backend's in-band error reporting.
type envelope struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Detail any    `json:"detail"`
}

// Invoke performs one exchange against the named stage. payload, when
// non-nil, is sent as the JSON body; out, when non-nil, receives the decoded
// response and is validated if it implements Validate.
func (c *Client) Invoke(ctx context.Context, name Name, session string, payload, out any) error {
	start := time.Now()
	outcome := OutcomeOK
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveStage(string(name), outcome, time.Since(start))
		}
	}()

	body, err := c.do(ctx, name, session, payload)
	if err != nil {
		outcome = outcomeOf(err)
		return err
	}

	if name != JobStatus {
		var env envelope
		if json.Unmarshal(body, &env) == nil && (env.Status == "error" || env.Status == "failed") {
			outcome = OutcomeRejected
			reason := env.Error
			if reason == "" {
				reason = "backend reported status " + env.Status
			}
			return newFailure(name, 0, reason, nil)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		outcome = OutcomeMalformed
		return newFailure(name, 0, "malformed response: "+err.Error(), err)
	}
	if v, ok := out.(validatable); ok {
		if err := v.Validate(); err != nil {
			outcome = OutcomeMalformed
			return newFailure(name, 0, err.Error(), err)
		}
	}
	return nil
}

func outcomeOf(err error) string {
	if f, ok := AsFailure(err); ok && f.StatusCode > 0 {
		return OutcomeHTTPError
	}
	return OutcomeTransport
}

// do sends the request and returns the raw body of a successful response.
func (c *Client) do(ctx context.Context, name Name, session string, payload any) ([]byte, error) {
	resp, err := c.send(ctx, name, session, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, newFailure(name, 0, "read response: "+err.Error(), err)
	}
	if resp.StatusCode >= 400 {
		return nil, newFailure(name, resp.StatusCode, errorDetail(body), nil)
	}
	return body, nil
}

// send builds and issues the request; the caller owns the response body.
func (c *Client) send(ctx context.Context, name Name, session string, payload any) (*http.Response, error) {
	r, ok := routes[name]
	if !ok {
		return nil, newFailure(name, 0, "unknown stage", nil)
	}
	if r.session != sessionNone && session == "" {
		return nil, newFailure(name, 0, "session handle required", nil)
	}

	target, err := r.target(c.baseURL, session)
	if err != nil {
		return nil, newFailure(name, 0, err.Error(), err)
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, newFailure(name, 0, "marshal request: "+err.Error(), err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return nil, newFailure(name, 0, "create request: "+err.Error(), err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	requestID := uuid.New().String()
	req.Header.Set(RequestIDHeader, requestID)

	c.logger.Debug("Invoking stage",
		slog.String("stage", string(name)),
		slog.String("session", session),
		slog.String("request_id", requestID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newFailure(name, 0, err.Error(), err)
	}
	return resp, nil
}

// errorDetail extracts a readable reason from an error body. FastAPI-style
// {"detail": "..."} bodies are unwrapped; anything else is returned as text.
func errorDetail(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		switch d := env.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if env.Error != "" {
			return env.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response"
	}
	return text
}

// researchResponse is the create-research reply.
type researchResponse struct {
	SessionID string              `json:"session_id"`
	Research  *challenge.Research `json:"research"`
	Message   string              `json:"message"`
}

func (r *researchResponse) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: no session id", challenge.ErrMalformed)
	}
	return r.Research.Validate()
}

// Research runs create-research and returns the new session handle with the
// findings.
func (c *Client) Research(ctx context.Context, in challenge.Input) (string, *challenge.Research, error) {
	var resp researchResponse
	if err := c.Invoke(ctx, CreateResearch, "", in, &resp); err != nil {
		return "", nil, err
	}
	return resp.SessionID, resp.Research, nil
}

type problemResponse struct {
	ProblemStatement *challenge.ProblemStatement `json:"problem_statement"`
}

func (r *problemResponse) Validate() error {
	return r.ProblemStatement.Validate()
}

// GenerateProblem produces the problem statement for a session.
func (c *Client) GenerateProblem(ctx context.Context, session string, in challenge.Input) (*challenge.ProblemStatement, error) {
	var resp problemResponse
	if err := c.Invoke(ctx, GenerateProblem, session, in, &resp); err != nil {
		return nil, err
	}
	return resp.ProblemStatement, nil
}

// Approve marks a gated phase (1-3) approved on the backend.
func (c *Client) Approve(ctx context.Context, session string, phase int) error {
	name, err := ApprovalFor(phase)
	if err != nil {
		return newFailure(Name(fmt.Sprintf("approve-phase-%d", phase)), 0, err.Error(), err)
	}
	return c.Invoke(ctx, name, session, nil, nil)
}

// GenerateSchema produces the schema draft.
func (c *Client) GenerateSchema(ctx context.Context, session string) (*challenge.SchemaDraft, error) {
	var draft challenge.SchemaDraft
	if err := c.Invoke(ctx, GenerateSchema, session, nil, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// GeneratePreview produces the preview draft.
func (c *Client) GeneratePreview(ctx context.Context, session string) (*challenge.PreviewDraft, error) {
	var draft challenge.PreviewDraft
	if err := c.Invoke(ctx, GeneratePreview, session, nil, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

type generationSize struct {
	DatasetSize int `json:"dataset_size"`
}

// StartFullGeneration starts the asynchronous generation job. The reply is
// only an acknowledgement; progress comes from JobStatus.
func (c *Client) StartFullGeneration(ctx context.Context, session string, datasetSize int) error {
	return c.Invoke(ctx, StartFullGeneration, session, generationSize{DatasetSize: datasetSize}, nil)
}

type jobStatusResponse struct {
	Status   string              `json:"status"`
	Progress *challenge.Progress `json:"progress"`
	QA       *challenge.QAResult `json:"qa_results"`
	Error    string              `json:"error"`
}

// FetchJobStatus queries the generation job once.
func (c *Client) FetchJobStatus(ctx context.Context, session string) (*challenge.JobStatus, error) {
	var resp jobStatusResponse
	if err := c.Invoke(ctx, JobStatus, session, nil, &resp); err != nil {
		return nil, err
	}
	status := &challenge.JobStatus{
		State:    jobState(resp.Status),
		Progress: resp.Progress,
		QA:       resp.QA,
		Error:    resp.Error,
	}
	if err := status.Validate(); err != nil {
		return nil, newFailure(JobStatus, 0, err.Error(), err)
	}
	return status, nil
}

// jobState maps backend job statuses onto JobState. Anything that is not
// terminal, including "unknown" before the job registers, counts as running.
func jobState(s string) challenge.JobState {
	switch strings.ToLower(s) {
	case "completed":
		return challenge.JobCompleted
	case "failed":
		return challenge.JobFailed
	default:
		return challenge.JobRunning
	}
}

type deliveryResponse struct {
	Package     *challenge.Delivery `json:"package"`
	DownloadURL string              `json:"download_url"`
}

func (r *deliveryResponse) Validate() error {
	if strings.TrimSpace(r.DownloadURL) == "" {
		return fmt.Errorf("%w: delivery has no download url", challenge.ErrMalformed)
	}
	return nil
}

// PrepareDelivery requests the download package locators.
func (c *Client) PrepareDelivery(ctx context.Context, session string) (*challenge.Delivery, error) {
	var resp deliveryResponse
	if err := c.Invoke(ctx, PrepareDelivery, session, nil, &resp); err != nil {
		return nil, err
	}
	d := challenge.Delivery{}
	if resp.Package != nil {
		d = *resp.Package
	}
	d.DownloadURL = resp.DownloadURL
	return &d, nil
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Phase     string `json:"phase"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Chat sends one free-form revision message and returns the reply text.
func (c *Client) Chat(ctx context.Context, session, message string, phase int) (string, error) {
	req := chatRequest{SessionID: session, Message: message, Phase: fmt.Sprintf("%d", phase)}
	var resp chatResponse
	if err := c.Invoke(ctx, Chat, session, req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// DownloadBundle streams the prepared zip bundle into w and returns the
// number of bytes written.
func (c *Client) DownloadBundle(ctx context.Context, session string, w io.Writer) (int64, error) {
	start := time.Now()
	outcome := OutcomeOK
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveStage(string(Download), outcome, time.Since(start))
		}
	}()

	resp, err := c.send(ctx, Download, session, nil)
	if err != nil {
		outcome = OutcomeTransport
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		outcome = OutcomeHTTPError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return 0, newFailure(Download, resp.StatusCode, errorDetail(body), nil)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		outcome = OutcomeTransport
		if errors.Is(err, context.Canceled) {
			return n, err
		}
		return n, newFailure(Download, 0, "read bundle: "+err.Error(), err)
	}
	return n, nil
}
