package httpapi

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
	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/metrics"
	"github.com/kretes-dev/codearena-backend/internal/protocol"
	"github.com/kretes-dev/codearena-backend/internal/registry"
	"github.com/kretes-dev/codearena-backend/internal/room"
	"github.com/kretes-dev/codearena-backend/internal/sandbox"
	"github.com/kretes-dev/codearena-backend/internal/store"
)

type nopRunner struct{}

func (nopRunner) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	return sandbox.Result{}, nil
}

func (nopRunner) Grade(ctx context.Context, req sandbox.GradeRequest) (sandbox.GradeResult, error) {
	return sandbox.GradeResult{}, nil
}

func testServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := store.NewMemory()
	met := metrics.New()
	reg := registry.New(ctx, mem, nopRunner{}, zap.NewNop(), met, room.Config{})

	srv := httptest.NewServer(SetupRoutes(reg, mem, met, time.Hour, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, reg
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func TestCreateRoom_ReturnsIDAndCode(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/rooms", map[string]any{
		"mode": "collaborative", "userId": "u1", "name": "Ana", "language": "go",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		RoomID string `json:"roomId"`
		Code   string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.RoomID)
	assert.Len(t, out.Code, 6)
}

func TestCreateRoom_RejectsBadMode(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/rooms", map[string]any{"mode": "royale", "userId": "u1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJoinByCode_ResolvesRoom(t *testing.T) {
	srv, _ := testServer(t)

	created := postJSON(t, srv.URL+"/rooms", map[string]any{
		"mode": "collaborative", "userId": "u1", "name": "Ana",
	})
	var room struct {
		RoomID string `json:"roomId"`
		Code   string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&room))
	created.Body.Close()

	resp := postJSON(t, srv.URL+"/rooms/join", map[string]any{"code": room.Code, "userId": "u2"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, room.RoomID, out.RoomID)
}

func TestJoinByCode_UnknownCodeIs404(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/rooms/join", map[string]any{"code": "ZZZZZZ", "userId": "u2"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetLobby_ListsParticipantsAndBattleSummary(t *testing.T) {
	srv, _ := testServer(t)

	created := postJSON(t, srv.URL+"/rooms", map[string]any{
		"mode": "battle", "userId": "host", "name": "Host",
		"problemId": "p1", "difficulty": "hard", "durationSec": 900,
	})
	var room struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&room))
	created.Body.Close()

	resp, err := http.Get(srv.URL + "/rooms/" + room.RoomID + "/lobby")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lobby struct {
		Mode         string            `json:"mode"`
		Participants []engine.UserInfo `json:"participants"`
		Battle       *struct {
			Phase       string `json:"phase"`
			ProblemID   string `json:"problemId"`
			DurationSec int    `json:"durationSec"`
		} `json:"battle"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lobby))
	assert.Equal(t, "battle", lobby.Mode)
	require.Len(t, lobby.Participants, 1)
	assert.Equal(t, "host", lobby.Participants[0].ID)
	require.NotNil(t, lobby.Battle)
	assert.Equal(t, "waiting", lobby.Battle.Phase)
	assert.Equal(t, "p1", lobby.Battle.ProblemID)
	assert.Equal(t, 900, lobby.Battle.DurationSec)
}

func TestGetResults_RejectsCollaborativeRooms(t *testing.T) {
	srv, _ := testServer(t)

	created := postJSON(t, srv.URL+"/rooms", map[string]any{
		"mode": "collaborative", "userId": "u1",
	})
	var room struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&room))
	created.Body.Close()

	resp, err := http.Get(srv.URL + "/rooms/" + room.RoomID + "/results")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCloseRoom_EvictsAndRefusesRejoin(t *testing.T) {
	srv, _ := testServer(t)

	created := postJSON(t, srv.URL+"/rooms", map[string]any{
		"mode": "collaborative", "userId": "u1",
	})
	var room struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&room))
	created.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/rooms/"+room.RoomID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	lobby, err := http.Get(srv.URL + "/rooms/" + room.RoomID + "/lobby")
	require.NoError(t, err)
	defer lobby.Body.Close()
	assert.Equal(t, http.StatusGone, lobby.StatusCode)
}

func TestEndBattle_HostEndsActiveBattle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := store.NewMemory()
	met := metrics.New()
	reg := registry.New(ctx, mem, nopRunner{}, zap.NewNop(), met, room.Config{
		CountdownSec: 1, Tick: 10 * time.Millisecond,
	})
	srv := httptest.NewServer(SetupRoutes(reg, mem, met, time.Hour, zap.NewNop()))
	t.Cleanup(srv.Close)

	created := postJSON(t, srv.URL+"/rooms", map[string]any{
		"mode": "battle", "userId": "host", "name": "Host",
		"problemId": "p1", "durationSec": 3600,
	})
	var rec struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&rec))
	created.Body.Close()

	rm := reg.Lookup(rec.RoomID)
	require.NotNil(t, rm)

	// Drive the battle to the active phase directly on the room loop.
	hostOut := make(chan protocol.ServerEvent, 64)
	rivalOut := make(chan protocol.ServerEvent, 64)
	rm.Post(room.Join{User: engine.UserInfo{ID: "host", Name: "Host", Role: engine.RoleHost, Permission: engine.PermFullAccess}, Outbox: hostOut})
	rm.Post(room.Join{User: engine.UserInfo{ID: "rival", Name: "Rival", Permission: engine.PermEditCode}, Outbox: rivalOut})
	rm.Post(room.FromClient{UserID: "host", Event: protocol.BattleReady{Ready: true}})
	rm.Post(room.FromClient{UserID: "rival", Event: protocol.BattleReady{Ready: true}})
	rm.Post(room.FromClient{UserID: "host", Event: protocol.StartBattle{}})

	require.Eventually(t, func() bool {
		s, err := rm.Snapshot(ctx)
		return err == nil && s.Battle != nil && s.Battle.Phase == engine.PhaseActive
	}, 2*time.Second, 10*time.Millisecond)

	// A non-host cannot end it.
	resp := postJSON(t, srv.URL+"/rooms/"+rec.RoomID+"/end", map[string]any{"userId": "rival"})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	s, err := rm.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseActive, s.Battle.Phase)

	resp = postJSON(t, srv.URL+"/rooms/"+rec.RoomID+"/end", map[string]any{"userId": "host"})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		s, err := rm.Snapshot(ctx)
		return err == nil && s.Battle.Phase == engine.PhaseEnded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
