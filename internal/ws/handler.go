// Package ws bridges websocket connections onto room inboxes: one reader
// loop decoding typed events, one writer goroutine draining the client's
// outbox.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/metrics"
	"github.com/kretes-dev/codearena-backend/internal/protocol"
	"github.com/kretes-dev/codearena-backend/internal/registry"
	"github.com/kretes-dev/codearena-backend/internal/room"
	"github.com/kretes-dev/codearena-backend/internal/store"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 2 * time.Minute
	outboxSize   = 32
)

func Handler(reg *registry.Registry, st store.Store, met *metrics.Metrics, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		code := r.URL.Query().Get("code")
		userID := r.URL.Query().Get("user")
		name := r.URL.Query().Get("name")
		if userID == "" || (roomID == "" && code == "") {
			http.Error(w, "missing room or user", http.StatusBadRequest)
			return
		}
		if name == "" {
			name = userID
		}

		// Resolve the live room; a cold cache triggers reconciliation from
		// durable storage here.
		var rm *room.Room
		var err error
		if roomID != "" {
			rm, err = reg.Ensure(r.Context(), roomID)
		} else {
			rm, err = reg.EnsureByCode(r.Context(), code)
		}
		switch {
		case errors.Is(err, engine.ErrRoomNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
			return
		case errors.Is(err, engine.ErrRoomClosed):
			http.Error(w, "room closed", http.StatusGone)
			return
		case err != nil:
			log.Warn("resolve failed", zap.Error(err))
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		roomID = rm.ID

		user, err := attachParticipant(r.Context(), st, roomID, userID, name)
		if err != nil {
			log.Warn("participant attach failed", zap.Error(err))
			http.Error(w, "join failed", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan protocol.ServerEvent, outboxSize)
		rm.Post(room.Join{User: user, Outbox: out})
		defer func() {
			rm.Post(room.Leave{UserID: userID})
			_ = st.SetParticipantActive(context.Background(), roomID, userID, false, time.Now())
		}()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for ev := range out {
				payload, err := protocol.Encode(ev)
				if err != nil {
					log.Error("encode failed", zap.String("type", ev.Type()), zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
			// The room closes the outbox on shutdown or a slow-client drop;
			// tear the socket down so the reader unblocks too.
			conn.Close(websocket.StatusGoingAway, "room closed")
		}()

		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			ev, err := protocol.DecodeClient(data)
			if err != nil {
				writeError(r.Context(), conn, "malformed event")
				continue
			}
			met.EventsProcessed.WithLabelValues(protocol.KindOf(ev)).Inc()
			if _, ok := ev.(protocol.Ping); ok {
				// Pings double as a durable liveness heartbeat.
				_ = st.TouchParticipant(r.Context(), roomID, userID, time.Now())
			}
			rm.Post(room.FromClient{UserID: userID, Event: ev})
		}
	}
}

// attachParticipant records (or reactivates) the durable seat and returns
// the projection the room keeps in memory. The creator's host seat comes
// from room creation; everyone else arriving here gets an editor seat.
func attachParticipant(ctx context.Context, st store.Store, roomID, userID, name string) (engine.UserInfo, error) {
	rec, err := st.FindRoomByID(ctx, roomID)
	if err != nil {
		return engine.UserInfo{}, err
	}
	role := engine.RoleParticipant
	perm := engine.PermEditCode
	for _, p := range rec.Participants {
		if p.UserID == userID {
			role = engine.Role(p.Role)
			perm = engine.Permission(p.Permission)
			break
		}
	}
	now := time.Now()
	err = st.UpsertParticipant(ctx, &store.Participant{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: name,
		Role:        string(role),
		Permission:  string(perm),
		IsActive:    true,
		JoinedAt:    now,
		LastSeen:    now,
	})
	if err != nil {
		return engine.UserInfo{}, err
	}
	return engine.UserInfo{
		ID:         userID,
		Name:       name,
		Color:      engine.ColorFor(userID),
		Role:       role,
		Permission: perm,
	}, nil
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, err := protocol.Encode(protocol.ErrorEvent{Message: msg})
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
