package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. It
// honors the same semantics as the postgres implementation: unique codes,
// upsert-by-(room,user), ErrNotFound on misses.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*Room)}
}

func (m *Memory) CreateRoom(ctx context.Context, room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range room.Participants {
		room.Participants[i].RoomID = room.ID
	}
	m.rooms[room.ID] = copyRoom(room)
	return nil
}

func (m *Memory) FindRoomByID(ctx context.Context, id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRoom(room), nil
}

func (m *Memory) FindRoomByCode(ctx context.Context, code string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.rooms {
		if room.Code != code {
			continue
		}
		if room.CodeExpiresAt != nil && time.Now().After(*room.CodeExpiresAt) {
			return nil, ErrNotFound
		}
		return copyRoom(room), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) UpsertParticipant(ctx context.Context, p *Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[p.RoomID]
	if !ok {
		return ErrNotFound
	}
	for i := range room.Participants {
		if room.Participants[i].UserID == p.UserID {
			existing := &room.Participants[i]
			existing.DisplayName = p.DisplayName
			existing.Role = p.Role
			existing.Permission = p.Permission
			existing.IsActive = p.IsActive
			existing.LastSeen = p.LastSeen
			return nil
		}
	}
	room.Participants = append(room.Participants, *p)
	return nil
}

func (m *Memory) SetParticipantActive(ctx context.Context, roomID, userID string, active bool, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	for i := range room.Participants {
		if room.Participants[i].UserID == userID {
			room.Participants[i].IsActive = active
			room.Participants[i].LastSeen = seenAt
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) TouchParticipant(ctx context.Context, roomID, userID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	for i := range room.Participants {
		if room.Participants[i].UserID == userID {
			room.Participants[i].LastSeen = seenAt
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CloseRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.Status = StatusClosed
	return nil
}

func copyRoom(r *Room) *Room {
	cp := *r
	cp.Participants = append([]Participant(nil), r.Participants...)
	if r.CodeExpiresAt != nil {
		t := *r.CodeExpiresAt
		cp.CodeExpiresAt = &t
	}
	return &cp
}
