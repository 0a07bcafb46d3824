package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/metrics"
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

func testRegistry(t *testing.T, st store.Store) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, st, nopRunner{}, zap.NewNop(), metrics.New(), room.Config{})
}

func seedRoom(t *testing.T, mem *store.Memory, id, code, mode string, userIDs ...string) {
	t.Helper()
	now := time.Now()
	rec := &store.Room{
		ID: id, Code: code, Mode: mode, CreatorID: "host",
		Status: store.StatusActive, Language: "go",
		ProblemID: "p1", Difficulty: "easy", DurationSec: 600,
		CreatedAt: now,
	}
	for _, uid := range userIDs {
		rec.Participants = append(rec.Participants, store.Participant{
			UserID: uid, DisplayName: uid, Role: "participant",
			Permission: string(engine.PermEditCode), IsActive: true,
			JoinedAt: now, LastSeen: now,
		})
	}
	require.NoError(t, mem.CreateRoom(context.Background(), rec))
}

func TestCreate_ThenLookupReturnsSameRoom(t *testing.T) {
	mem := store.NewMemory()
	g := testRegistry(t, mem)

	rec, rm, err := g.Create(context.Background(), CreateSpec{
		Mode: engine.ModeCollaborative, CreatorID: "host", CreatorName: "Host", Language: "go",
	})
	require.NoError(t, err)
	assert.Len(t, rec.Code, codeLength)

	got := g.Lookup(rec.ID)
	require.NotNil(t, got)
	assert.Same(t, rm, got)

	// The durable record landed before the cache entry.
	persisted, err := mem.FindRoomByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Code, persisted.Code)
	require.Len(t, persisted.Participants, 1)
	assert.Equal(t, "host", persisted.Participants[0].UserID)
	assert.Equal(t, string(engine.RoleHost), persisted.Participants[0].Role)
}

func TestEnsure_AbsentRoomIsRoomNotFound(t *testing.T) {
	g := testRegistry(t, store.NewMemory())

	_, err := g.Ensure(context.Background(), "nope")
	assert.ErrorIs(t, err, engine.ErrRoomNotFound)
}

func TestEnsure_ReconstructsFromDurableRecord(t *testing.T) {
	mem := store.NewMemory()
	seedRoom(t, mem, "r1", "ABCDEF", string(engine.ModeBattle), "u1", "u2")
	g := testRegistry(t, mem)

	rm, err := g.Ensure(context.Background(), "r1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := rm.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(0), state.Version)
	assert.Len(t, state.Users, 2)
	assert.Contains(t, state.Users, "u1")
	assert.Contains(t, state.Users, "u2")
	require.NotNil(t, state.Battle)
	assert.False(t, state.Battle.Started())
	assert.Empty(t, state.Battle.Submissions)
	assert.Equal(t, "p1", state.Battle.ProblemID)
	assert.Equal(t, 10*time.Minute, state.Battle.Duration)
}

func TestEnsure_InactiveParticipantsStayOut(t *testing.T) {
	mem := store.NewMemory()
	seedRoom(t, mem, "r1", "ABCDEF", string(engine.ModeCollaborative), "u1", "u2")
	require.NoError(t, mem.SetParticipantActive(context.Background(), "r1", "u2", false, time.Now()))
	g := testRegistry(t, mem)

	rm, err := g.Ensure(context.Background(), "r1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := rm.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, state.Users, 1)
	assert.Contains(t, state.Users, "u1")
}

func TestEnsure_ConcurrentCallsShareOneReconciliation(t *testing.T) {
	mem := store.NewMemory()
	seedRoom(t, mem, "r1", "ABCDEF", string(engine.ModeCollaborative), "u1")
	g := testRegistry(t, mem)

	const n = 8
	results := make([]*room.Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rm, err := g.Ensure(context.Background(), "r1")
			if err != nil {
				t.Errorf("ensure %d: %v", i, err)
				return
			}
			results[i] = rm
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i], "all callers must observe the same session")
	}
}

func TestEnsureByCode_ColdCodeResolvesViaStore(t *testing.T) {
	mem := store.NewMemory()
	seedRoom(t, mem, "r1", "JKMNPQ", string(engine.ModeCollaborative), "u1")
	g := testRegistry(t, mem)

	rm, err := g.EnsureByCode(context.Background(), "JKMNPQ")
	require.NoError(t, err)
	assert.Equal(t, "r1", rm.ID)

	// Warm path now hits the in-memory code index.
	again, err := g.EnsureByCode(context.Background(), "JKMNPQ")
	require.NoError(t, err)
	assert.Same(t, rm, again)

	_, err = g.EnsureByCode(context.Background(), "ZZZZZZ")
	assert.ErrorIs(t, err, engine.ErrRoomNotFound)
}

func TestEvict_DropsCacheButNotDurableRecord(t *testing.T) {
	mem := store.NewMemory()
	seedRoom(t, mem, "r1", "ABCDEF", string(engine.ModeCollaborative), "u1")
	g := testRegistry(t, mem)

	first, err := g.Ensure(context.Background(), "r1")
	require.NoError(t, err)

	g.Evict("r1")
	require.Eventually(t, func() bool {
		return g.Lookup("r1") == nil
	}, time.Second, 10*time.Millisecond)

	// The durable Room survives, so the session can be rebuilt.
	rebuilt, err := g.Ensure(context.Background(), "r1")
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)
}

func TestClose_MarksDurableRecordAndRejectsReentry(t *testing.T) {
	mem := store.NewMemory()
	seedRoom(t, mem, "r1", "ABCDEF", string(engine.ModeCollaborative), "u1")
	g := testRegistry(t, mem)

	_, err := g.Ensure(context.Background(), "r1")
	require.NoError(t, err)

	require.NoError(t, g.Close(context.Background(), "r1"))
	require.Eventually(t, func() bool {
		return g.Lookup("r1") == nil
	}, time.Second, 10*time.Millisecond)

	_, err = g.Ensure(context.Background(), "r1")
	assert.ErrorIs(t, err, engine.ErrRoomClosed)
}

func TestGenerateCode_UsesUnambiguousAlphabet(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, codeLength)
		for _, c := range code {
			assert.NotContains(t, "0O1IL", string(c))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 40, "codes should rarely collide")
}
