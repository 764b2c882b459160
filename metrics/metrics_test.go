package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/poller"
	"github.com/c360studio/datafactory/stage"
	"github.com/c360studio/datafactory/workflow"
)

var (
	_ stage.Recorder  = (*Collector)(nil)
	_ poller.Recorder = (*Collector)(nil)
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveStage(t *testing.T) {
	c := NewCollector()
	c.ObserveStage("generate-schema", stage.OutcomeOK, 200*time.Millisecond)
	c.ObserveStage("generate-schema", stage.OutcomeOK, time.Second)
	c.ObserveStage("generate-schema", stage.OutcomeHTTPError, time.Second)

	out := scrape(t, c)
	assert.Contains(t, out, `datafactory_stage_calls_total{outcome="ok",stage="generate-schema"} 2`)
	assert.Contains(t, out, `datafactory_stage_calls_total{outcome="http_error",stage="generate-schema"} 1`)
	assert.Contains(t, out, `datafactory_stage_duration_seconds_count{stage="generate-schema"} 3`)
}

func TestObservePoll(t *testing.T) {
	c := NewCollector()
	c.ObservePoll(poller.OutcomeProgress)
	c.ObservePoll(poller.OutcomeProgress)
	c.ObservePoll(poller.OutcomeComplete)

	out := scrape(t, c)
	assert.Contains(t, out, `datafactory_job_polls_total{outcome="progress"} 2`)
	assert.Contains(t, out, `datafactory_job_polls_total{outcome="completed"} 1`)
}

func TestObserveEvents(t *testing.T) {
	c := NewCollector()
	var observe workflow.Observer = c.Observe

	observe(workflow.Event{Type: workflow.EventTransition, To: workflow.StateGenerating})
	observe(workflow.Event{
		Type:     workflow.EventProgress,
		Snapshot: workflow.Snapshot{Progress: &challenge.Progress{Percent: 55}},
	})
	assert.Contains(t, scrape(t, c), "datafactory_job_progress_percent 55")

	observe(workflow.Event{
		Type:     workflow.EventCelebrate,
		Snapshot: workflow.Snapshot{Drafts: workflow.Drafts{QA: &challenge.QAResult{OverallScore: 8.5}}},
	})
	out := scrape(t, c)
	assert.Contains(t, out, "datafactory_job_progress_percent 100")
	assert.Contains(t, out, "datafactory_qa_score 8.5")
	assert.Contains(t, out, `datafactory_workflow_transitions_total{to="generating"} 1`)
	assert.Contains(t, out, `datafactory_workflow_events_total{type="completed"} 1`)

	observe(workflow.Event{Type: workflow.EventReset})
	assert.Contains(t, scrape(t, c), "datafactory_job_progress_percent 0")
}
