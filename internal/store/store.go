// Package store is the persistence adapter: an opaque interface over the
// durable room/participant records, with query-by-id and query-by-code.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("store: not found")

// Store is what the registry and HTTP layer program against; tests swap in
// an in-memory fake.
type Store interface {
	CreateRoom(ctx context.Context, room *Room) error
	FindRoomByID(ctx context.Context, id string) (*Room, error)
	FindRoomByCode(ctx context.Context, code string) (*Room, error)
	UpsertParticipant(ctx context.Context, p *Participant) error
	SetParticipantActive(ctx context.Context, roomID, userID string, active bool, seenAt time.Time) error
	TouchParticipant(ctx context.Context, roomID, userID string, seenAt time.Time) error
	CloseRoom(ctx context.Context, roomID string) error
}

var _ Store = (*DB)(nil)

// DB is the postgres-backed implementation.
type DB struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string, log *zap.Logger) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.AutoMigrate(&Room{}, &Participant{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	log.Info("connected to postgres")
	return &DB{db: db, log: log}, nil
}

func (d *DB) CreateRoom(ctx context.Context, room *Room) error {
	if err := d.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("creating room: %w", err)
	}
	return nil
}

func (d *DB) FindRoomByID(ctx context.Context, id string) (*Room, error) {
	var room Room
	err := d.db.WithContext(ctx).Preload("Participants").First(&room, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding room %s: %w", id, err)
	}
	return &room, nil
}

func (d *DB) FindRoomByCode(ctx context.Context, code string) (*Room, error) {
	var room Room
	err := d.db.WithContext(ctx).Preload("Participants").First(&room, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding room by code: %w", err)
	}
	if room.CodeExpiresAt != nil && time.Now().After(*room.CodeExpiresAt) {
		return nil, ErrNotFound
	}
	return &room, nil
}

func (d *DB) UpsertParticipant(ctx context.Context, p *Participant) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "role", "permission", "is_active", "last_seen",
		}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upserting participant: %w", err)
	}
	return nil
}

func (d *DB) SetParticipantActive(ctx context.Context, roomID, userID string, active bool, seenAt time.Time) error {
	res := d.db.WithContext(ctx).Model(&Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]any{"is_active": active, "last_seen": seenAt})
	if res.Error != nil {
		return fmt.Errorf("updating participant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) TouchParticipant(ctx context.Context, roomID, userID string, seenAt time.Time) error {
	res := d.db.WithContext(ctx).Model(&Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_seen", seenAt)
	if res.Error != nil {
		return fmt.Errorf("touching participant: %w", res.Error)
	}
	return nil
}

func (d *DB) CloseRoom(ctx context.Context, roomID string) error {
	res := d.db.WithContext(ctx).Model(&Room{}).
		Where("id = ?", roomID).
		Update("status", StatusClosed)
	if res.Error != nil {
		return fmt.Errorf("closing room: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
