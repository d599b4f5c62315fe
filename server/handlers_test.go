package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aryan-ct/memedin/client"
	"github.com/aryan-ct/memedin/pkg/records"
	"github.com/aryan-ct/memedin/pkg/records/sqlite"
	"github.com/aryan-ct/memedin/pkg/relay"
	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store *session.Store
	repo  *sqlite.Store
	srv   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := session.New(context.Background(), session.NewMemoryBackend())
	require.NoError(t, err)
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	hub := relay.NewHub(store)

	cfg := &Config{Addr: ":0"}
	srv := httptest.NewServer(NewServer(cfg, store, hub, repo).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		repo.Close()
		store.Close()
	})

	return &testEnv{store: store, repo: repo, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsExposed(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateEmployee(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/employees", map[string]string{"name": "Ada", "caption": "ships it"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "Ada", body["name"])

	tests := []struct {
		name string
		body any
	}{
		{"missing caption", map[string]string{"name": "Ada"}},
		{"blank name", map[string]string{"name": " ", "caption": "c"}},
		{"not json", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/employees", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "Name and caption are required", body["error"])
		})
	}
}

func TestEmployeeNotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			resp, body := env.do(t, method, "/api/employees/missing", map[string]string{"caption": "x"})
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, "Employee not found", body["error"])
		})
	}
}

func TestEmployeeLifecycleThroughRecordsClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	api := records.NewClient(env.srv.URL)

	created, err := api.Create(ctx, records.Record{Name: "Grace", Caption: "debugs"})
	require.NoError(t, err)

	updated, err := api.Update(ctx, created.ID, records.Patch{ImageURL: records.String("data:image/jpeg;base64,/9j/")})
	require.NoError(t, err)
	assert.Equal(t, "Grace", updated.Name)
	assert.Equal(t, "data:image/jpeg;base64,/9j/", updated.ImageURL)

	list, err := api.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	require.NoError(t, api.Delete(ctx, created.ID))
	_, err = api.Get(ctx, created.ID)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestListEmployeesEmpty(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/api/employees")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []records.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestDeleteEmployeeMessage(t *testing.T) {
	env := newTestEnv(t)
	r, err := env.repo.Create(context.Background(), records.Record{Name: "Linus", Caption: "merges"})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodDelete, "/api/employees/"+r.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Employee deleted successfully", body["message"])
}

func TestSessionSelection(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPut, "/api/session/selection", map[string]string{"participantId": "emp-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "emp-1", body["participantId"])
	assert.Equal(t, "emp-1", env.store.Selection())

	resp, body = env.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "emp-1", body["participantId"])

	resp, _ = env.do(t, http.MethodPut, "/api/session/selection", map[string]string{"participantId": ""})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", env.store.Selection())
}

func TestSelectionOverHTTPReachesEndpoints(t *testing.T) {
	env := newTestEnv(t)

	selected := make(chan signal.Message, 4)
	kiosk := client.NewClient("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws", signal.RoleParticipant)
	kiosk.OnMessage(signal.TypeEmployeeSelected, func(msg signal.Message) { selected <- msg })
	require.NoError(t, kiosk.Connect(context.Background()))
	defer kiosk.Disconnect()

	resp, _ := env.do(t, http.MethodPut, "/api/session/selection", map[string]string{"participantId": "emp-9"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case msg := <-selected:
		assert.Equal(t, "emp-9", msg.ParticipantID)
	case <-time.After(2 * time.Second):
		t.Fatal("selection was not broadcast")
	}

	snap, err := kiosk.FetchSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "emp-9", snap.ParticipantID)
}
