package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"projectos/internal/config"
	"projectos/internal/pipeline"
	"projectos/internal/store"
	"projectos/internal/types"
)

func TestMain(m *testing.M) {
	// go.opencensus.io starts a background stats worker in its package
	// init, so it is always running regardless of what the tests do.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// failingModel keeps the server tests deterministic: only short-circuit
// turns (pulse, commands) are exercised, so the model must never matter.
type failingModel struct{}

func (failingModel) Chat(context.Context, []types.Message) (string, error) {
	return "", errors.New("model disabled in server tests")
}

func newServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	disk := store.New(t.TempDir(), nil)
	cfg := *config.DefaultConfig()
	pipe := pipeline.New(cfg, disk, failingModel{}, nil)
	return New(cfg, pipe, disk, nil), disk
}

func TestProjectsEndpoint(t *testing.T) {
	s, disk := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, err := disk.UpdateState("alice", "kitchen", func(*types.ProjectState) error { return nil })
	require.NoError(t, err)

	resp, err := ts.Client().Get(ts.URL + "/projects?user=alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"kitchen"}, body["projects"])
	ts.Client().CloseIdleConnections()
}

func TestHealthz(t *testing.T) {
	s, _ := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ts.Client().CloseIdleConnections()
}

func TestTurnEndpoint(t *testing.T) {
	s, disk := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, _ := json.Marshal(TurnRequest{User: "alice", Project: "kitchen", Message: "pulse"})
	resp, err := ts.Client().Post(ts.URL+"/turn", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr TurnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.Equal(t, disk.BuildTruthBoundPulse("alice", "kitchen"), tr.Reply)
	ts.Client().CloseIdleConnections()
}

func TestTurnEndpointRejectsIncomplete(t *testing.T) {
	s, _ := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/turn", "application/json", strings.NewReader(`{"user":"alice"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	ts.Client().CloseIdleConnections()
}

func TestWebSocketChat(t *testing.T) {
	s, disk := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user=alice&project=kitchen"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	require.NoError(t, conn.WriteJSON(TurnRequest{Message: "pulse"}))
	var tr TurnResponse
	require.NoError(t, conn.ReadJSON(&tr))
	assert.Equal(t, disk.BuildTruthBoundPulse("alice", "kitchen"), tr.Reply)
	assert.Equal(t, 1, tr.Turn)

	require.NoError(t, conn.WriteJSON(TurnRequest{Message: "no questions"}))
	require.NoError(t, conn.ReadJSON(&tr))
	assert.Equal(t, "Understood.", tr.Reply)
	assert.Equal(t, 2, tr.Turn)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	ts.Close()
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	s, _ := newServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

func TestBoundHistory(t *testing.T) {
	var history []types.Message
	for i := 0; i < 10; i++ {
		history = append(history,
			types.Message{Role: types.RoleUser, Content: "u"},
			types.Message{Role: types.RoleAssistant, Content: "a"},
		)
	}
	bounded := boundHistory(history, 3)
	assert.Len(t, bounded, 6)
	assert.Equal(t, history, boundHistory(history, 0))
}
