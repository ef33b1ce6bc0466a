package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/arbor"
	arborhttp "github.com/aretw0/arbor/pkg/adapters/http"
	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mgr     *session.Manager
	server  *arborhttp.Server
	handler http.Handler
	g       *graph.Graph
	open    domain.TransitionID
}

func doorGraph(t *testing.T) (*graph.Graph, domain.TransitionID) {
	t.Helper()
	b := graph.NewBuilder("Door")
	root := b.Root()
	closed := root.State("Closed")
	open := root.State("Open")
	root.Initial(closed)
	tid := root.Transition(closed, open, graph.EventDriven(), graph.Always())
	g, err := b.Build()
	require.NoError(t, err)
	return g, tid
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g, tid := doorGraph(t)
	mgr := session.NewManager(memory.NewStore())
	srv := arborhttp.NewServer(mgr, arborhttp.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("arbor_transitions_total 0\n"))
	})))
	f := &fixture{mgr: mgr, server: srv, handler: srv.Handler(), g: g, open: tid}
	f.attach(t, "door", arbor.WithLifecycleHooks(srv.Hooks("door")))
	return f
}

func (f *fixture) attach(t *testing.T, key string, opts ...arbor.Option) *arbor.Instance {
	t.Helper()
	inst, err := arbor.New(f.g, opts...)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, inst.Initialize(ctx, nil))
	require.NoError(t, inst.Start(ctx))
	require.NoError(t, f.mgr.Attach(key, inst))
	return inst
}

func (f *fixture) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) evaluateTarget(key string) string {
	return "/instances/" + key + "/evaluate/" + f.g.Transition(f.open).GUID.String()
}

func TestServer_HealthAndInfo(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = f.do(http.MethodGet, "/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, arbor.Version, info["version"])

	w = f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arbor_transitions_total")

	w = f.do(http.MethodOptions, "/instances", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Introspection(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/instances", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []arborhttp.InstanceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "door", list[0].ID)
	assert.Equal(t, "Door", list[0].Graph)
	assert.Equal(t, "active", list[0].Status)

	w = f.do(http.MethodGet, "/instances/door", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view arborhttp.InstanceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Active, 1)
	assert.Equal(t, "Door/Closed", view.Active[0].Path)
	assert.False(t, view.InEndState)

	w = f.do(http.MethodGet, "/instances/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_EvaluateTransition(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, f.evaluateTarget("door"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"taken":true}`, w.Body.String())

	w = f.do(http.MethodPost, f.evaluateTarget("door"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"taken":false}`, w.Body.String(), "source is no longer active")

	w = f.do(http.MethodGet, "/instances/door/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []domain.HistoryEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "Closed", history[0].StateName)

	w = f.do(http.MethodGet, "/instances/door/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	chart := w.Body.String()
	assert.Contains(t, chart, "graph TD")
	assert.Contains(t, chart, "class Door_Closed visited;")
	assert.Contains(t, chart, "class Door_Open active;")

	w = f.do(http.MethodPost, "/instances/door/evaluate/not-a-guid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ApplyTransition(t *testing.T) {
	f := newFixture(t)
	observer := f.attach(t, "observer", arbor.WithAuthority(false, false))

	var events []*domain.TransitionTakenEvent
	authority := f.attach(t, "authority", arbor.WithLifecycleHooks(domain.LifecycleHooks{
		OnTransitionTaken: func(_ context.Context, ev *domain.TransitionTakenEvent) { events = append(events, ev) },
	}))
	require.True(t, authority.EvaluateFromEvent(context.Background(), f.g.Transition(f.open).GUID))
	require.Len(t, events, 1)

	body, err := json.Marshal(events[0])
	require.NoError(t, err)
	w := f.do(http.MethodPost, "/instances/observer/transitions", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, observer.ActiveStates(), 1)
	assert.Equal(t, "Open", observer.ActiveStates()[0].Name)

	w = f.do(http.MethodPost, "/instances/observer/transitions", []byte(`{"event_id":"6f1c2b54-4a36-4d43-9d0b-6e3f3c1f8a11","transition":"0f0e0d0c-0b0a-4908-8706-050403020100"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/instances/observer/transitions", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, observer.Stop(context.Background()))
	w = f.do(http.MethodPost, "/instances/observer/transitions", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_CheckpointRestore(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/instances/door/restore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "nothing checkpointed yet")

	w = f.do(http.MethodPost, "/instances/door/checkpoint", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodPost, f.evaluateTarget("door"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/instances/door/restore", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	inst, ok := f.mgr.Instance("door")
	require.True(t, ok)
	require.Len(t, inst.ActiveStates(), 1)
	assert.Equal(t, "Closed", inst.ActiveStates()[0].Name)
}

func TestServer_SubscribeEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/instances/door/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	readUntil := func(prefix string) string {
		for {
			line, err := lines.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, prefix) {
				return line
			}
		}
	}
	readUntil("data: connected")
	require.Eventually(t, func() bool { return f.server.Streams.Subscribers("door") == 1 },
		time.Second, 10*time.Millisecond)

	post, err := http.Post(ts.URL+f.evaluateTarget("door"), "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()

	readUntil("event: state_changed")
	data := readUntil("data: ")
	assert.Contains(t, data, `"to_name":"Open"`)
	assert.Contains(t, data, `"from_name":"Closed"`)

	missing, err := http.Get(ts.URL + "/instances/missing/events")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestStreamManager_CancelIsIdempotent(t *testing.T) {
	sm := arborhttp.NewStreamManager()
	ch, cancel := sm.Subscribe("a")
	sm.Broadcast("a", "hello")
	assert.Equal(t, "hello", <-ch)

	cancel()
	cancel()
	assert.Equal(t, 0, sm.Subscribers("a"))
	_, open := <-ch
	assert.False(t, open)
	sm.Broadcast("a", "dropped")
}
