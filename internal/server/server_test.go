package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/poller"
	"relay/internal/stream"
	"relay/internal/taskevent"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	s := New(Config{Host: "localhost", Port: 0, HeartbeatInterval: time.Minute}, nil, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func readFrame(t *testing.T, frames <-chan []byte) taskevent.Frame {
	t.Helper()

	select {
	case raw, ok := <-frames:
		require.True(t, ok, "stream closed early")
		frame, err := taskevent.ParseFrame(raw)
		require.NoError(t, err)
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return taskevent.Frame{}
	}
}

func TestSSEStreamDeliversPublishedEvents(t *testing.T) {
	_, ts := newTestServer(t)

	transport := stream.NewSSETransport(stream.SSEConfig{BaseURL: ts.URL + "/api"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := transport.Open(ctx, "scope-1")
	require.NoError(t, err)

	ack := readFrame(t, frames)
	require.Equal(t, taskevent.FrameAck, ack.Kind)
	assert.Equal(t, "scope-1", ack.ScopeID)

	// Wait for the broadcaster to register the client before publishing.
	require.Eventually(t, func() bool {
		resp := postJSON(t, ts.URL+"/api/scopes/scope-1/events", map[string]any{
			"entity": "report",
			"id":     "task-1",
			"status": "PROGRESS",
			"payload": map[string]any{
				"step":        "research",
				"status_text": "Reading sources",
			},
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		var out struct {
			Clients int `json:"clients"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out.Clients > 0
	}, 2*time.Second, 20*time.Millisecond)

	frame := readFrame(t, frames)
	require.Equal(t, taskevent.FrameEvent, frame.Kind)
	assert.Equal(t, taskevent.EntityReport, frame.Event.Entity)
	assert.Equal(t, taskevent.StatusProgress, frame.Event.Status)
	assert.Equal(t, "scope-1", frame.Event.ScopeID)
	assert.Equal(t, "Reading sources", frame.Event.Payload.StatusText)
	assert.NotEmpty(t, frame.Event.TS)
}

func TestTerminalEventIsFollowedByDoneFrame(t *testing.T) {
	s, ts := newTestServer(t)

	transport := stream.NewSSETransport(stream.SSEConfig{BaseURL: ts.URL + "/api"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := transport.Open(ctx, "scope-2")
	require.NoError(t, err)

	require.Equal(t, taskevent.FrameAck, readFrame(t, frames).Kind)
	require.Eventually(t, func() bool {
		return s.Broadcaster().ClientCount("scope-2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp := postJSON(t, ts.URL+"/api/scopes/scope-2/events", map[string]any{
		"entity": "podcast",
		"id":     "task-9",
		"status": "RESULT",
		"payload": map[string]any{
			"preview": "All done.",
		},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	event := readFrame(t, frames)
	require.Equal(t, taskevent.FrameEvent, event.Kind)
	assert.True(t, event.Event.Status.IsTerminal())

	done := readFrame(t, frames)
	assert.Equal(t, taskevent.FrameDone, done.Kind)
}

func TestPublishRejectsUnknownShapes(t *testing.T) {
	_, ts := newTestServer(t)

	cases := []map[string]any{
		{"entity": "spreadsheet", "id": "task-1", "status": "PROGRESS"},
		{"entity": "report", "id": "task-1", "status": "TELEPORTED"},
	}
	for _, body := range cases {
		resp := postJSON(t, ts.URL+"/api/scopes/scope-3/events", body)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestSnapshotReturnsScopeHistory(t *testing.T) {
	_, ts := newTestServer(t)

	for _, status := range []string{"STARTED", "PROGRESS", "RESULT"} {
		resp := postJSON(t, ts.URL+"/api/scopes/scope-4/events", map[string]any{
			"entity": "report",
			"id":     "task-5",
			"status": status,
		})
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/api/scopes/scope-4/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap struct {
		ScopeID string            `json:"scopeId"`
		Events  []taskevent.Event `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "scope-4", snap.ScopeID)
	require.Len(t, snap.Events, 3)
	assert.Equal(t, taskevent.StatusResult, snap.Events[2].Status)
}

func TestSnapshotEmptyScope(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/scopes/nobody/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap snapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Empty(t, snap.Events)
}

func TestJobLifecycleEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/jobs", map[string]any{"jobId": "job-1", "message": "queued"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created poller.JobStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, poller.JobPending, created.Status)

	patch := func(body map[string]any) poller.JobStatus {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPatch, ts.URL+"/api/jobs/job-1", bytes.NewReader(data))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var job poller.JobStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
		return job
	}

	running := patch(map[string]any{"progress": 40.0, "message": "working"})
	assert.Equal(t, poller.JobRunning, running.Status)
	require.NotNil(t, running.Progress)
	assert.InDelta(t, 40.0, *running.Progress, 0.001)

	completed := patch(map[string]any{"result": map[string]any{"answer": 42}})
	assert.Equal(t, poller.JobCompleted, completed.Status)
	assert.NotEmpty(t, completed.Result)

	got, err := http.Get(ts.URL + "/api/jobs/job-1")
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	missing, err := http.Get(ts.URL + "/api/jobs/who")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
