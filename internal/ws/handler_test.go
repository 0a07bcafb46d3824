package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/metrics"
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

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(rctx)
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// waitFrame reads frames until one of the wanted type arrives.
func waitFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, kind string) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := readFrame(t, ctx, conn)
		if f.Type == kind {
			return f
		}
	}
	t.Fatalf("never received %q frame", kind)
	return frame{}
}

func TestHandler_JoinSyncAndPing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	met := metrics.New()
	reg := registry.New(ctx, mem, nopRunner{}, zap.NewNop(), met, room.Config{})

	rec, _, err := reg.Create(ctx, registry.CreateSpec{
		Mode: engine.ModeCollaborative, CreatorID: "u1", CreatorName: "Ana", Language: "go",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(reg, mem, met, zap.NewNop()))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):] + "?room=" + rec.ID + "&user=u1&name=Ana"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// First frames: authoritative buffer, then the roster.
	sync := waitFrame(t, ctx, conn, "code-sync")
	var syncPayload struct {
		Version int64  `json:"version"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(sync.Payload, &syncPayload))
	assert.Equal(t, int64(0), syncPayload.Version)
	assert.Equal(t, "join", syncPayload.Reason)

	roster := waitFrame(t, ctx, conn, "users-in-room")
	assert.Contains(t, string(roster.Payload), `"u1"`)

	// Round-trip a ping.
	sentAt := time.Now().UnixMilli()
	msg, err := json.Marshal(map[string]any{
		"type": "ping", "payload": map[string]any{"sentAt": sentAt},
	})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, msg))

	pong := waitFrame(t, ctx, conn, "pong")
	var pongPayload struct {
		SentAt int64 `json:"sentAt"`
	}
	require.NoError(t, json.Unmarshal(pong.Payload, &pongPayload))
	assert.Equal(t, sentAt, pongPayload.SentAt)
}

func TestHandler_RoomShutdownClosesConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	met := metrics.New()
	reg := registry.New(ctx, mem, nopRunner{}, zap.NewNop(), met, room.Config{})

	rec, _, err := reg.Create(ctx, registry.CreateSpec{
		Mode: engine.ModeCollaborative, CreatorID: "u1", Language: "go",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(reg, mem, met, zap.NewNop()))
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"?room="+rec.ID+"&user=u1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	waitFrame(t, ctx, conn, "code-sync")

	// Evicting the live room closes the client outbox; the handler must
	// then close the socket rather than leave the reader hanging.
	reg.Evict(rec.ID)

	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	for {
		_, _, err = conn.Read(rctx)
		if err != nil {
			break
		}
	}
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestHandler_UnknownRoomIs404(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	met := metrics.New()
	reg := registry.New(ctx, mem, nopRunner{}, zap.NewNop(), met, room.Config{})

	srv := httptest.NewServer(Handler(reg, mem, met, zap.NewNop()))
	defer srv.Close()

	_, resp, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"?room=missing&user=u1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestHandler_MalformedEventGetsErrorFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	met := metrics.New()
	reg := registry.New(ctx, mem, nopRunner{}, zap.NewNop(), met, room.Config{})

	rec, _, err := reg.Create(ctx, registry.CreateSpec{
		Mode: engine.ModeCollaborative, CreatorID: "u1", Language: "go",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(reg, mem, met, zap.NewNop()))
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"?room="+rec.ID+"&user=u1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	waitFrame(t, ctx, conn, "code-sync")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"no-such-event"}`)))
	errFrame := waitFrame(t, ctx, conn, "error")
	assert.Contains(t, string(errFrame.Payload), "malformed")
}
