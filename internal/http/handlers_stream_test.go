package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comicden/recotrack/internal/domain/model"
	"github.com/comicden/recotrack/internal/service"
)

// openStream serves the stream endpoint on its own goroutine and returns the
// recorder plus a done channel that closes when the handler returns.
func openStream(ctx context.Context, env *testEnv, sessionID string) (*httptest.ResponseRecorder, chan struct{}) {
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		env.handler.ServeHTTP(rec, req)
		close(done)
	}()
	return rec, done
}

func waitStreamDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return")
	}
}

// parseSSEEvents extracts the JSON payloads of named events from an SSE body.
func parseSSEEvents(t *testing.T, body string) []model.ProgressEvent {
	t.Helper()

	var events []model.ProgressEvent
	for _, block := range strings.Split(body, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var event model.ProgressEvent
			require.NoError(t, json.Unmarshal([]byte(data), &event))
			events = append(events, event)
		}
	}
	return events
}

func TestStreamBeforeInitializeFails(t *testing.T) {
	env := newTestEnv(t, testProgressConfig())

	rec := doRequest(t, env.handler, http.MethodGet, "/api/sessions/ghost/stream", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "not_found", body["error"])
}

func TestStreamLifecycle(t *testing.T) {
	cfg := testProgressConfig()
	cfg.TruncateThresholdBytes = 10 // force truncation of the small test payload
	env := newTestEnv(t, cfg)

	doRequest(t, env.handler, http.MethodPost, "/api/sessions/s1/init", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec, done := openStream(ctx, env, "s1")

	require.Eventually(t, func() bool { return env.registry.Has("s1") },
		time.Second, 5*time.Millisecond, "stream must register a channel")

	doRequest(t, env.handler, http.MethodPost, "/api/sessions/s1/progress",
		`{"stage":"scan","progress":10,"message":"m1"}`)
	doRequest(t, env.handler, http.MethodPost, "/api/sessions/s1/progress",
		`{"stage":"scan","progress":5,"message":"m2"}`)
	doRequest(t, env.handler, http.MethodPost, "/api/sessions/s1/complete",
		`{"result":{"matches":[1,2,3,4,5,6]}}`)

	// Completion schedules the channel close; the handler drains and returns.
	waitStreamDone(t, done)

	body := rec.Body.String()
	assert.Contains(t, body, "retry: ")
	assert.Contains(t, body, "event: progress")

	events := parseSSEEvents(t, body)
	require.Len(t, events, 4)

	assert.Equal(t, service.ConnectedStage, events[0].Stage)
	assert.Equal(t, 0, events[0].Percent(-1))

	assert.Equal(t, 10, events[1].Percent(-1))
	assert.Equal(t, "m1", events[1].Message)

	// Regressive percent is held while the message advances.
	assert.Equal(t, 10, events[2].Percent(-1))
	assert.Equal(t, "m2", events[2].Message)

	final := events[3]
	assert.Equal(t, model.EventTypeCompleted, final.Type)
	assert.Equal(t, 100, final.Percent(-1))

	var result struct {
		Matches       []int `json:"matches"`
		Truncated     bool  `json:"truncated"`
		OriginalCount int   `json:"originalCount"`
	}
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.Equal(t, []int{1, 2, 3}, result.Matches)
	assert.True(t, result.Truncated)
	assert.Equal(t, 6, result.OriginalCount)

	assert.False(t, env.registry.Has("s1"), "channel must be gone after completion")
}

func TestStreamClientDisconnectDeregisters(t *testing.T) {
	env := newTestEnv(t, testProgressConfig())

	doRequest(t, env.handler, http.MethodPost, "/api/sessions/s1/init", "")

	ctx, cancel := context.WithCancel(context.Background())
	_, done := openStream(ctx, env, "s1")

	require.Eventually(t, func() bool { return env.registry.Has("s1") },
		time.Second, 5*time.Millisecond)

	cancel()
	waitStreamDone(t, done)

	assert.False(t, env.registry.Has("s1"), "disconnect must deregister the channel")

	// Ingestion keeps working without a live channel.
	rec := doRequest(t, env.handler, http.MethodPost, "/api/sessions/s1/progress",
		`{"stage":"scan","progress":50,"message":"still going"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamReplacedByNewerStream(t *testing.T) {
	env := newTestEnv(t, testProgressConfig())

	doRequest(t, env.handler, http.MethodPost, "/api/sessions/s1/init", "")

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	rec1, done1 := openStream(ctx1, env, "s1")

	require.Eventually(t, func() bool { return env.registry.Has("s1") },
		time.Second, 5*time.Millisecond)

	ctx2, cancel2 := context.WithCancel(context.Background())
	_, done2 := openStream(ctx2, env, "s1")

	// Opening a second stream closes the first channel; newest subscriber wins.
	waitStreamDone(t, done1)
	assert.True(t, env.registry.Has("s1"))

	events := parseSSEEvents(t, rec1.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, service.ConnectedStage, events[0].Stage)

	cancel2()
	waitStreamDone(t, done2)
	assert.False(t, env.registry.Has("s1"))
}

func TestSSEChannelSend(t *testing.T) {
	ch := newSSEChannel()

	require.NoError(t, ch.Send(model.ProgressEvent{SessionID: "s1"}))

	// A full buffer is a transport failure, not a block.
	for i := 0; i < sseBufferSize; i++ {
		_ = ch.Send(model.ProgressEvent{SessionID: "s1"})
	}
	require.ErrorIs(t, ch.Send(model.ProgressEvent{SessionID: "s1"}), errStreamBufferFull)

	ch.Close()
	ch.Close() // idempotent
	require.ErrorIs(t, ch.Send(model.ProgressEvent{SessionID: "s1"}), errStreamClosed)
}
