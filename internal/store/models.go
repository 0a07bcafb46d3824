package store

import "time"

type RoomStatus string

const (
	StatusActive RoomStatus = "active"
	StatusClosed RoomStatus = "closed"
)

// Room is the durable record of a session. The registry only ever caches a
// projection of it; evicting the cache entry never touches this row.
type Room struct {
	ID        string     `gorm:"primaryKey;size:36"`
	Code      string     `gorm:"uniqueIndex;size:8;not null"`
	Mode      string     `gorm:"size:16;not null"`
	CreatorID string     `gorm:"size:64;index"`
	Status    RoomStatus `gorm:"size:12;index;default:active"`
	Language  string     `gorm:"size:32"`

	// Battle rooms carry their problem reference durably so a rebuilt
	// session can still point at the right problem.
	ProblemID   string `gorm:"size:64"`
	Difficulty  string `gorm:"size:16"`
	DurationSec int

	CreatedAt     time.Time
	CodeExpiresAt *time.Time

	Participants []Participant `gorm:"foreignKey:RoomID"`
}

// Participant is one durable seat in a room.
type Participant struct {
	ID          uint   `gorm:"primaryKey"`
	RoomID      string `gorm:"size:36;uniqueIndex:idx_room_user"`
	UserID      string `gorm:"size:64;uniqueIndex:idx_room_user"`
	DisplayName string `gorm:"size:64"`
	Role        string `gorm:"size:16"`
	Permission  string `gorm:"size:16"`
	IsActive    bool
	JoinedAt    time.Time
	LastSeen    time.Time
}

// ActiveParticipants filters to currently-active seats.
func (r *Room) ActiveParticipants() []Participant {
	var out []Participant
	for _, p := range r.Participants {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}
