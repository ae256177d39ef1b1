package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/dashboard"
	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/notify"
	"github.com/theirongolddev/furnace/internal/store"
	"github.com/theirongolddev/furnace/internal/tally"
)

func newTestService(t *testing.T, deps Deps) (*Service, *httptest.Server) {
	t.Helper()
	if deps.Session.Table.DefaultModel() == "" {
		opts, err := dashboard.FromConfig(config.DefaultConfig())
		require.NoError(t, err)
		deps.Session = opts
	}
	svc := New(Config{
		EventsBuffer: 50,
		FlowURL:      func() string { return "https://auth.example/flow" },
	}, deps)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := New(Config{EventsBuffer: 2}, Deps{})

	s.publishEvent(tally.Event{ID: 1})
	s.publishEvent(tally.Event{ID: 2})
	s.publishEvent(tally.Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) != 2 {
		t.Fatalf("events len = %d, want 2", len(s.events))
	}
	if s.events[0].ID != 2 || s.events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", s.events[0].ID, s.events[1].ID)
	}
}

func TestLatestBeforeAnyWrite(t *testing.T) {
	_, srv := newTestService(t, Deps{})

	resp, err := http.Get(srv.URL + tally.LatestPath)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var snap model.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Zero(t, snap.Burned)
	assert.NotNil(t, snap.Results)
}

func TestSaveRequiresPost(t *testing.T) {
	_, srv := newTestService(t, Deps{})

	resp, err := http.Get(srv.URL + tally.SavePath)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSaveCoercesBadInput(t *testing.T) {
	svc, srv := newTestService(t, Deps{})

	resp, body := postJSON(t, srv.URL+tally.SavePath,
		`{"burned":"2.5","remaining":"abc","budget":5,"balance":-3,"results":"nope","steps":[1,"2"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"ok":true}`, string(body))

	got, err := svc.store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.Burned)
	assert.Zero(t, got.Remaining)
	assert.Equal(t, 5.0, got.Budget)
	assert.Zero(t, got.Balance)
	assert.Empty(t, got.Results)
	assert.NotNil(t, got.Results)
	assert.Equal(t, []float64{1, 2}, got.Steps)
	assert.NotZero(t, got.TS)
}

func TestHTTPStoreAgainstDaemon(t *testing.T) {
	_, srv := newTestService(t, Deps{})
	hs := tally.NewHTTPStore(srv.URL, srv.Client())
	ctx := context.Background()

	snap := model.Snapshot{
		Burned: 1.25, Budget: 5, Remaining: 3.75, Balance: 25, Status: "active", Active: true,
		Results: []model.Result{{I: 1, Cost: 1.25, Info: "manual", TS: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}},
		Steps:   []float64{1.25},
	}
	require.NoError(t, hs.Save(ctx, snap))

	got, err := hs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.25, got.Burned)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "manual", got.Results[0].Info)
	assert.True(t, got.Results[0].TS.Equal(snap.Results[0].TS))
}

func TestSessionAPI(t *testing.T) {
	svc, srv := newTestService(t, Deps{Store: store.NewSlot()})

	var resp SessionResponse
	_, body := postJSON(t, srv.URL+"/v1/session/start", `{"balance":"$25","budget":5}`)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "active", resp.Snapshot.Status)

	_, body = postJSON(t, srv.URL+"/v1/session/start", `{}`)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.False(t, resp.OK)

	_, body = postJSON(t, srv.URL+"/v1/session/add", `{"cost":"2.00","description":"a"}`)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "accepted", resp.Outcome)

	_, body = postJSON(t, srv.URL+"/v1/session/add", `{"model":"gpt-4o-mini","prompt_tokens":2000,"completion_tokens":"1,000"}`)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 2.9, resp.Snapshot.Burned)

	_, body = postJSON(t, srv.URL+"/v1/session/add", `{"cost":0}`)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "rejected_zero_cost", resp.Outcome)

	_, body = postJSON(t, srv.URL+"/v1/session/undo", ``)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 2.0, resp.Snapshot.Burned)

	_, body = postJSON(t, srv.URL+"/v1/session/finish", ``)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 23.0, resp.Snapshot.Balance)

	// session mutations land in the shared slot once the writer drains
	require.NoError(t, svc.Close())
	latest, err := svc.store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "finished", latest.Status)
	assert.Equal(t, model.ActionFinished, latest.Action)

	hresp, err := http.Get(srv.URL + "/v1/history")
	require.NoError(t, err)
	defer func() { _ = hresp.Body.Close() }()
	var records []store.Record
	require.NoError(t, json.NewDecoder(hresp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, 2.0, records[0].Burned)

	r, err := http.Get(srv.URL + "/v1/session/undo")
	require.NoError(t, err)
	_ = r.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, r.StatusCode)
}

func TestSlackEndpoints(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "fail") {
			_, _ = io.WriteString(w, `{"ok":false,"error":"channel_not_found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"ts":"123.456"}`)
	}))
	defer fake.Close()

	slack, err := notify.NewSlack("xoxb-test", "furnace-alerts")
	require.NoError(t, err)
	_, srv := newTestService(t, Deps{Slack: slack.WithAPIURL(fake.URL)})

	resp, body := postJSON(t, srv.URL+"/api/slack/post", `{"text":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"ts":"123.456"}`, string(body))

	resp, _ = postJSON(t, srv.URL+"/api/slack/post", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = postJSON(t, srv.URL+"/api/slack/post", `{"text":"fail please"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "channel_not_found")

	r, err := http.Get(srv.URL + "/api/slack/post")
	require.NoError(t, err)
	_ = r.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, r.StatusCode)

	resp, body = postJSON(t, srv.URL+"/api/slack/test", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"success":true`)
}

func TestSlackUnconfigured(t *testing.T) {
	_, srv := newTestService(t, Deps{})
	resp, body := postJSON(t, srv.URL+"/api/slack/post", `{"text":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "Slack env vars missing")
}

func TestConnectRoutes(t *testing.T) {
	_, srv := newTestService(t, Deps{})
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	resp, err := client.Get(srv.URL + "/api/connect/start")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "https://auth.example/flow?returnUrl=http%3A%2F%2F127.0.0.1"),
		resp.Header.Get("Location"))

	resp, err = client.Get(srv.URL + "/api/connect/callback")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestWebSocketStream(t *testing.T) {
	svc, srv := newTestService(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := tally.NewStreamSubscriber(srv.URL)
	ch, err := sub.Subscribe(ctx)
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "idle", first.Status)

	require.Eventually(t, func() bool {
		return svc.bus.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Publish(ctx, model.Snapshot{Burned: 4, Budget: 5, Status: "active", TS: 1}))

	select {
	case got := <-ch:
		assert.Equal(t, 4.0, got.Burned)
	case <-time.After(2 * time.Second):
		t.Fatal("no update over websocket")
	}
}

func TestStatus(t *testing.T) {
	svc, srv := newTestService(t, Deps{})
	require.NoError(t, svc.Publish(context.Background(), model.Snapshot{Burned: 1, TS: 5}))

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, int64(1), st.SaveCount)
	assert.Equal(t, "memory", st.Store)
	assert.Equal(t, 1.0, st.Latest.Burned)
	assert.Equal(t, 1, st.EventCount)
}

type failingStore struct{ store.SnapshotStore }

func (failingStore) Save(context.Context, model.Snapshot) error {
	return errors.New("disk full")
}

func TestFailedSavesAreNotCounted(t *testing.T) {
	svc, srv := newTestService(t, Deps{Store: failingStore{store.NewSlot()}})

	resp, _ := postJSON(t, srv.URL+tally.SavePath, `{"burned":1}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	_, body := postJSON(t, srv.URL+"/v1/session/start", `{"balance":25,"budget":5}`)
	var sresp SessionResponse
	require.NoError(t, json.Unmarshal(body, &sresp))
	assert.True(t, sresp.OK, "a failing store never blocks the session")
	require.NoError(t, svc.Close())

	st := svc.snapshotStatus(context.Background())
	assert.Zero(t, st.SaveCount)
	assert.True(t, st.LastSaveAt.IsZero())
	assert.Contains(t, st.LastError, "disk full")
	assert.Equal(t, "active", st.Latest.Status, "streams still see the accepted run")
}

type slowStore struct {
	store.SnapshotStore
	release chan struct{}
}

func (s slowStore) Save(ctx context.Context, snap model.Snapshot) error {
	<-s.release
	return s.SnapshotStore.Save(ctx, snap)
}

func TestSessionMutationsDoNotWaitForStore(t *testing.T) {
	slow := slowStore{SnapshotStore: store.NewSlot(), release: make(chan struct{})}
	svc, srv := newTestService(t, Deps{Store: slow})

	done := make(chan SessionResponse, 1)
	go func() {
		var resp SessionResponse
		defer func() { done <- resp }()
		r, err := http.Post(srv.URL+"/v1/session/start", "application/json", strings.NewReader(`{"balance":25,"budget":5}`))
		if err != nil {
			return
		}
		defer func() { _ = r.Body.Close() }()
		_ = json.NewDecoder(r.Body).Decode(&resp)
	}()

	select {
	case resp := <-done:
		assert.True(t, resp.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("session start blocked on the store write")
	}

	close(slow.release)
	require.NoError(t, svc.Close())
	got, err := slow.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "active", got.Status)
}

// A dashboard holding a run in the slot and the daemon's own session API
// take turns: neither may replace the other's active run.
func TestSessionAPIRespectsRunHeldElsewhere(t *testing.T) {
	svc, srv := newTestService(t, Deps{Store: store.NewSlot()})
	hs := tally.NewHTTPStore(srv.URL, srv.Client())
	ctx := context.Background()

	tuiRun := model.Snapshot{SessionID: "tui-run", Status: "active", Active: true, Budget: 5, Burned: 1}
	require.NoError(t, hs.Save(ctx, tuiRun))

	var resp SessionResponse
	for _, path := range []string{"/v1/session/start", "/v1/session/add", "/v1/session/undo", "/v1/session/finish"} {
		_, body := postJSON(t, srv.URL+path, `{"cost":1}`)
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.False(t, resp.OK, path)
		assert.Equal(t, "already_active", resp.Outcome, path)
		assert.Equal(t, "tui-run", resp.Snapshot.SessionID, path)
	}
	assert.Equal(t, "idle", svc.Controller().Snapshot().Status)

	latest, err := hs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tui-run", latest.SessionID)

	// the dashboard finishes; the daemon may now start its own run
	tuiRun.Status, tuiRun.Active = "finished", false
	require.NoError(t, hs.Save(ctx, tuiRun))
	_, body := postJSON(t, srv.URL+"/v1/session/start", `{"balance":25,"budget":5}`)
	require.NoError(t, json.Unmarshal(body, &resp))
	require.True(t, resp.OK)
	daemonRun := resp.Snapshot.SessionID

	// and a dashboard can no longer overwrite it
	err = hs.Save(ctx, model.Snapshot{SessionID: "tui-run-2", Status: "active", Active: true})
	require.Error(t, err)
	latest, err = hs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, daemonRun, latest.SessionID)

	// reset clears the daemon's run and frees the slot
	_, body = postJSON(t, srv.URL+"/v1/session/reset", ``)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.OK)
	require.NoError(t, hs.Save(ctx, model.Snapshot{SessionID: "tui-run-2", Status: "active", Active: true}))
}

func TestStreamFollowsBus(t *testing.T) {
	svc, srv := newTestService(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return svc.bus.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := svc.Controller().Start(ctx, decimal.NewFromInt(25), decimal.NewFromInt(5))
	require.True(t, ok)

	reader := bufio.NewReader(resp.Body)
	var events []string
	for len(events) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		}
	}
	assert.Equal(t, []string{tally.EventSnapshot, tally.EventUpdate}, events)
}
