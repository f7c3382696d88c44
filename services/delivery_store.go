package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"request-routing-api/config"
	"request-routing-api/models"
)

// DeliveryStore tracks every intent handed to a sink so failed or dropped
// deliveries can be retried.
type DeliveryStore interface {
	Record(ctx context.Context, rows []models.NotificationDelivery) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause error, at time.Time) error
	// Due returns pending or failed rows with fewer than maxAttempts attempts
	// that were last touched before olderThan, oldest first.
	Due(ctx context.Context, maxAttempts int, olderThan time.Time, limit int) ([]models.NotificationDelivery, error)
}

type GormDeliveryStore struct {
	db *gorm.DB
}

func NewGormDeliveryStore(db *gorm.DB) *GormDeliveryStore {
	if db == nil {
		db = config.DB
	}
	return &GormDeliveryStore{db: db}
}

func (s *GormDeliveryStore) Record(ctx context.Context, rows []models.NotificationDelivery) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("record deliveries: %w", err)
	}
	return nil
}

func (s *GormDeliveryStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.NotificationDelivery{}).
		Where("delivery_id = ?", id).
		Updates(map[string]any{
			"status":       models.DeliverySent,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   nil,
			"delivered_at": at,
			"updated_at":   at,
		}).Error
}

func (s *GormDeliveryStore) MarkFailed(ctx context.Context, id string, cause error, at time.Time) error {
	msg := cause.Error()
	return s.db.WithContext(ctx).Model(&models.NotificationDelivery{}).
		Where("delivery_id = ?", id).
		Updates(map[string]any{
			"status":     models.DeliveryFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
			"updated_at": at,
		}).Error
}

func (s *GormDeliveryStore) Due(ctx context.Context, maxAttempts int, olderThan time.Time, limit int) ([]models.NotificationDelivery, error) {
	var rows []models.NotificationDelivery
	err := s.db.WithContext(ctx).
		Where("status IN ? AND attempts < ? AND updated_at < ?",
			[]string{models.DeliveryPending, models.DeliveryFailed}, maxAttempts, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load due deliveries: %w", err)
	}
	return rows, nil
}

// MemoryDeliveryStore keeps delivery rows in process.
type MemoryDeliveryStore struct {
	mu   sync.Mutex
	rows map[string]*models.NotificationDelivery
}

func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{rows: make(map[string]*models.NotificationDelivery)}
}

func (s *MemoryDeliveryStore) Record(_ context.Context, rows []models.NotificationDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range rows {
		row := rows[i]
		s.rows[row.DeliveryID] = &row
	}
	return nil
}

func (s *MemoryDeliveryStore) MarkSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	row.Status = models.DeliverySent
	row.Attempts++
	row.LastError = nil
	row.DeliveredAt = &at
	row.UpdatedAt = at
	return nil
}

func (s *MemoryDeliveryStore) MarkFailed(_ context.Context, id string, cause error, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	msg := cause.Error()
	row.Status = models.DeliveryFailed
	row.Attempts++
	row.LastError = &msg
	row.UpdatedAt = at
	return nil
}

func (s *MemoryDeliveryStore) Due(_ context.Context, maxAttempts int, olderThan time.Time, limit int) ([]models.NotificationDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationDelivery
	for _, row := range s.rows {
		if row.Status == models.DeliverySent || row.Attempts >= maxAttempts || !row.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DeliveryID < out[j].DeliveryID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Rows returns a snapshot of every stored row.
func (s *MemoryDeliveryStore) Rows() []models.NotificationDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.NotificationDelivery, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeliveryID < out[j].DeliveryID })
	return out
}
