package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Agrid-Dev/monehvac/internal/ports"
)

type stateRecord struct {
	DeviceID  string `gorm:"primaryKey"`
	JSON      string
	Source    string
	UpdatedAt time.Time
}

func (stateRecord) TableName() string { return "climate_states" }

type SQLite struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "monehvac.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&stateRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, deviceID string) (ports.PersistedState, error) {
	var rec stateRecord
	err := s.db.WithContext(ctx).First(&rec, "device_id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ports.PersistedState{}, ports.ErrStateNotFound
	}
	if err != nil {
		return ports.PersistedState{}, err
	}
	return ports.PersistedState{
		DeviceID:  rec.DeviceID,
		JSON:      rec.JSON,
		Source:    rec.Source,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (s *SQLite) Save(ctx context.Context, st ports.PersistedState) error {
	rec := stateRecord{
		DeviceID:  st.DeviceID,
		JSON:      st.JSON,
		Source:    st.Source,
		UpdatedAt: st.UpdatedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
