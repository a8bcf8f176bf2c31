// Package agents holds the tenant registry: one record per agent id, carrying
// an opaque config blob whose folders key scopes retrieval for that agent.
// The registry is an injected Store, never a process-global map, so tests run
// against the in-memory backing and production can persist records.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("agents: record not found")

// Record is one registered agent.
type Record struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	Config    datatypes.JSON `gorm:"type:json" json:"config"`
	CreatedAt time.Time      `json:"created_at"`
}

func (Record) TableName() string {
	return "agents"
}

// Folders reads the config's folders list, defaulting to the shared scope.
func (r *Record) Folders() []string {
	if r == nil || len(r.Config) == 0 {
		return []string{"shared"}
	}
	var config struct {
		Folders []string `json:"folders"`
	}
	if err := json.Unmarshal(r.Config, &config); err != nil || len(config.Folders) == 0 {
		return []string{"shared"}
	}
	return config.Folders
}

// Store is the registry contract shared by all backings.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, record *Record) error
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]Record, error)
}

// memoryStore keeps records in a mutex-guarded map; the default backing and
// the one tests use.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore returns an empty in-memory registry.
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[string]Record)}
}

func (s *memoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *memoryStore) Put(_ context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return errors.New("agents: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.ID] = *record
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	return ok, nil
}

func (s *memoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// gormStore persists records in the relational store.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore returns a registry backed by the agents table.
func NewGormStore(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, errors.New("agents: database connection is required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) Get(ctx context.Context, id string) (*Record, error) {
	var record Record
	if err := s.db.WithContext(ctx).Take(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *gormStore) Put(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return errors.New("agents: record id is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Save(record).Error
}

func (s *gormStore) Delete(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&Record{}, "id = ?", id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *gormStore) List(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
