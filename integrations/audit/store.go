package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"basketpool/core/events"
)

// MemoryDSN keeps the audit trail in a private in-memory sqlite database.
const MemoryDSN = "file::memory:"

const defaultListLimit = 500

var ErrNilStore = errors.New("audit: store not initialised")

// Record is one committed pool event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Height     uint64    `gorm:"index"`
	Position   int       `gorm:"not null"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

func (Record) TableName() string { return "pool_audit_records" }

// Attrs decodes the stored attribute map.
func (r Record) Attrs() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, fmt.Errorf("audit: decode attributes of %s: %w", r.ID, err)
	}
	return out, nil
}

// Filter narrows List results. Zero fields do not filter.
type Filter struct {
	Type       string
	FromHeight uint64
	ToHeight   uint64
	Limit      int
	Offset     int
}

// Store persists pool events through gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn and migrates the schema. postgres:// and postgresql://
// DSNs use the postgres driver, everything else is treated as a sqlite path.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = MemoryDSN
	}
	var dialector gorm.Dialector
	if isPostgres(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	store := NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing gorm handle. Callers must run AutoMigrate.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func isPostgres(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func (s *Store) AutoMigrate() error {
	if s == nil || s.db == nil {
		return ErrNilStore
	}
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record persists a single event.
func (s *Store) Record(ctx context.Context, height uint64, evt events.Event) (*Record, error) {
	records, err := s.RecordBatch(ctx, height, []events.Event{evt})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// RecordBatch persists the events of one committed operation in a single
// transaction, preserving their emission order.
func (s *Store) RecordBatch(ctx context.Context, height uint64, evts []events.Event) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilStore
	}
	now := s.now()
	records := make([]Record, 0, len(evts))
	for _, evt := range evts {
		projected := events.Project(evt)
		if projected == nil {
			continue
		}
		attrs, err := json.Marshal(projected.Attributes)
		if err != nil {
			return nil, fmt.Errorf("audit: encode %s: %w", projected.Type, err)
		}
		records = append(records, Record{
			ID:         uuid.New(),
			Height:     height,
			Position:   len(records),
			Type:       projected.Type,
			Attributes: string(attrs),
			CreatedAt:  now,
		})
	}
	if len(records) == 0 {
		return nil, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		return nil, fmt.Errorf("audit: record: %w", err)
	}
	return records, nil
}

// List returns records oldest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilStore
	}
	query := s.db.WithContext(ctx).Model(&Record{})
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if filter.FromHeight > 0 {
		query = query.Where("height >= ?", filter.FromHeight)
	}
	if filter.ToHeight > 0 {
		query = query.Where("height <= ?", filter.ToHeight)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var records []Record
	err := query.
		Order("height ASC").
		Order("created_at ASC").
		Order("position ASC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNilStore
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("audit: count: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
