package events

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/chat"
	"github.com/c360studio/datafactory/mockbackend"
	"github.com/c360studio/datafactory/poller"
	"github.com/c360studio/datafactory/stage"
	"github.com/c360studio/datafactory/workflow"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu      sync.Mutex
	msgs    []published
	failErr error
	closed  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func (c *fakeConn) Flush() error { return nil }

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) subjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.subject
	}
	return out
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "datafactory.workflow.phase_approved", Subject("", workflow.EventApproved))
	assert.Equal(t, "acme.df.completed", Subject("acme.df", workflow.EventCelebrate))
	assert.Equal(t, "acme.df.>", WildcardSubject("acme.df"))
}

func TestPublish_Envelope(t *testing.T) {
	conn := &fakeConn{}
	pub := NewPublisher(conn, WithPrefix("test"))

	ledger := workflow.NewLedger()
	ledger.Approve(workflow.PhaseConfiguration)
	ev := workflow.Event{
		Type: workflow.EventProgress,
		From: workflow.StateGenerating,
		To:   workflow.StateGenerating,
		Snapshot: workflow.Snapshot{
			State:     workflow.StateGenerating,
			Phase:     workflow.PhaseGeneration,
			SessionID: "sess-1",
			Ledger:    ledger,
			Progress:  &challenge.Progress{Stage: "validating", Percent: 55},
		},
		Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	require.NoError(t, pub.Publish(ev))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "test.progress", conn.msgs[0].subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "progress", env.Type)
	assert.Equal(t, "sess-1", env.SessionID)
	assert.Equal(t, 4, env.Phase)
	assert.Equal(t, []int{0}, env.Approved)
	require.NotNil(t, env.Progress)
	assert.Equal(t, 55.0, env.Progress.Percent)
	assert.Nil(t, env.QAScore)
}

func TestObserve_SwallowsErrors(t *testing.T) {
	conn := &fakeConn{failErr: errors.New("nats: connection closed")}
	pub := NewPublisher(conn)

	assert.NotPanics(t, func() {
		pub.Observe(workflow.Event{Type: workflow.EventReset})
	})
	assert.Error(t, pub.Publish(workflow.Event{Type: workflow.EventReset}))

	require.NoError(t, pub.Close())
	assert.True(t, conn.closed)
}

func TestPublisher_FullRun(t *testing.T) {
	backend := mockbackend.New()
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	conn := &fakeConn{}
	pub := NewPublisher(conn)

	client := stage.NewClient(srv.URL + mockbackend.APIPrefix)
	jobs := poller.New(client, poller.Config{Interval: 5 * time.Millisecond})
	ctrl := workflow.NewController(client, jobs, chat.New(client), workflow.WithObserver(pub.Observe))
	defer ctrl.Close()

	require.NoError(t, ctrl.UpdateSettings(func(s *challenge.Settings) {
		s.Domain = "Retail"
		s.Function = "Marketing"
	}))
	ctx := t.Context()
	require.NoError(t, ctrl.Start(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, ctrl.Approve(ctx))
	}

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().State == workflow.StateReadyForDelivery && !ctrl.Snapshot().Busy
	}, 3*time.Second, 5*time.Millisecond)

	subjects := conn.subjects()
	assert.Contains(t, subjects, "datafactory.workflow.completed")
	assert.Contains(t, subjects, "datafactory.workflow.progress")
	for _, s := range subjects {
		assert.True(t, strings.HasPrefix(s, DefaultPrefix+"."), s)
	}
}
