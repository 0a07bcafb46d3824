package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/registry"
	"github.com/kretes-dev/codearena-backend/internal/room"
	"github.com/kretes-dev/codearena-backend/internal/store"
)

type createRoomRequest struct {
	Mode        string `json:"mode"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	ProblemID   string `json:"problemId,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	DurationSec int    `json:"durationSec,omitempty"`
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

func CreateRoom(reg *registry.Registry, codeTTL time.Duration, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		mode := engine.Mode(req.Mode)
		if mode != engine.ModeCollaborative && mode != engine.ModeBattle {
			http.Error(w, "mode must be collaborative or battle", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "missing userId", http.StatusBadRequest)
			return
		}
		if req.Language == "" {
			req.Language = "javascript"
		}
		duration := time.Duration(req.DurationSec) * time.Second
		if mode == engine.ModeBattle && duration == 0 {
			duration = 15 * time.Minute
		}

		rec, _, err := reg.Create(r.Context(), registry.CreateSpec{
			Mode:        mode,
			CreatorID:   req.UserID,
			CreatorName: req.Name,
			Language:    req.Language,
			ProblemID:   req.ProblemID,
			Difficulty:  req.Difficulty,
			Duration:    duration,
			CodeTTL:     codeTTL,
		})
		if err != nil {
			log.Error("create room failed", zap.Error(err))
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, createRoomResponse{RoomID: rec.ID, Code: rec.Code})
	}
}

type joinRequest struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

func JoinByCode(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		rm, err := reg.EnsureByCode(r.Context(), req.Code)
		switch {
		case errors.Is(err, engine.ErrRoomNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
			return
		case errors.Is(err, engine.ErrRoomClosed):
			http.Error(w, "room closed", http.StatusGone)
			return
		case err != nil:
			log.Warn("join by code failed", zap.Error(err))
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"roomId": rm.ID})
	}
}

type lobbyResponse struct {
	RoomID       string            `json:"roomId"`
	Mode         engine.Mode       `json:"mode"`
	Participants []engine.UserInfo `json:"participants"`
	Battle       *battleSummary    `json:"battle,omitempty"`
}

type battleSummary struct {
	Phase       engine.BattlePhase `json:"phase"`
	ProblemID   string             `json:"problemId"`
	Difficulty  string             `json:"difficulty"`
	DurationSec int                `json:"durationSec"`
	Ready       map[string]bool    `json:"ready"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	EndedAt     *time.Time         `json:"endedAt,omitempty"`
}

func GetLobby(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := reg.Ensure(r.Context(), chi.URLParam(r, "roomID"))
		if err != nil {
			writeResolveError(w, err, log)
			return
		}
		state, err := rm.Snapshot(r.Context())
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		resp := lobbyResponse{
			RoomID:       state.RoomID,
			Mode:         state.Mode,
			Participants: state.UserList(),
		}
		if b := state.Battle; b != nil {
			s := &battleSummary{
				Phase:       b.Phase,
				ProblemID:   b.ProblemID,
				Difficulty:  b.Difficulty,
				DurationSec: int(b.Duration / time.Second),
				Ready:       b.Ready,
			}
			if b.Started() {
				t := b.StartedAt
				s.StartedAt = &t
			}
			if b.Ended() {
				t := b.EndedAt
				s.EndedAt = &t
			}
			resp.Battle = s
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func GetResults(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := reg.Ensure(r.Context(), chi.URLParam(r, "roomID"))
		if err != nil {
			writeResolveError(w, err, log)
			return
		}
		state, err := rm.Snapshot(r.Context())
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		if state.Battle == nil {
			http.Error(w, "not a battle room", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"roomId":   state.RoomID,
			"phase":    state.Battle.Phase,
			"rankings": engine.Rank(state.Battle),
		})
	}
}

type endBattleRequest struct {
	UserID string `json:"userId"`
}

// EndBattle asks the room to finish its battle early. With a userId the room
// enforces the host check; without one the call is treated as administrative
// and ends the battle unconditionally.
func EndBattle(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req endBattleRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
		}
		rm, err := reg.Ensure(r.Context(), chi.URLParam(r, "roomID"))
		if err != nil {
			writeResolveError(w, err, log)
			return
		}
		rm.Post(room.EndBattle{UserID: req.UserID})
		w.WriteHeader(http.StatusAccepted)
	}
}

// CloseRoom marks the durable record closed and evicts the live session.
func CloseRoom(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.Close(r.Context(), chi.URLParam(r, "roomID")); err != nil {
			writeResolveError(w, err, log)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeResolveError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, engine.ErrRoomNotFound), errors.Is(err, store.ErrNotFound):
		http.Error(w, "room not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrRoomClosed):
		http.Error(w, "room closed", http.StatusGone)
	default:
		log.Warn("room resolve failed", zap.Error(err))
		http.Error(w, "room unavailable", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
