package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"k8s.io/utils/clock"

	"request-routing-api/config"
	"request-routing-api/models"
)

// NotificationStore keeps in-app notifications.
type NotificationStore interface {
	Create(ctx context.Context, rows []models.Notification) error
	List(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, userID, id uint, at time.Time) error
	MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error)
}

type GormNotificationStore struct {
	db *gorm.DB
}

func NewGormNotificationStore(db *gorm.DB) *GormNotificationStore {
	if db == nil {
		db = config.DB
	}
	return &GormNotificationStore{db: db}
}

func (s *GormNotificationStore) Create(ctx context.Context, rows []models.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

func (s *GormNotificationStore) List(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	limit, offset = normalizePage(limit, offset)
	var rows []models.Notification
	if err := q.Order("create_at DESC, notification_id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return rows, total, nil
}

func (s *GormNotificationStore) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (s *GormNotificationStore) MarkRead(ctx context.Context, userID, id uint, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("notification_id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"is_read": true, "update_at": at})
	if res.Error != nil {
		return fmt.Errorf("mark notification %d read: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("notification_id = ? AND user_id = ?", id, userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

func (s *GormNotificationStore) MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "update_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("mark notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MemoryNotificationStore is the in-process store used in tests.
type MemoryNotificationStore struct {
	mu     sync.Mutex
	rows   []models.Notification
	nextID uint
}

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{}
}

func (s *MemoryNotificationStore) Create(_ context.Context, rows []models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.nextID++
		r.NotificationID = s.nextID
		s.rows = append(s.rows, r)
	}
	return nil
}

func (s *MemoryNotificationStore) List(_ context.Context, userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	s.mu.Lock()
	var matched []models.Notification
	for _, r := range s.rows {
		if r.UserID == userID && (!unreadOnly || !r.IsRead) {
			matched = append(matched, r)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].NotificationID > matched[j].NotificationID })
	total := int64(len(matched))
	limit, offset = normalizePage(limit, offset)
	if offset >= len(matched) {
		return []models.Notification{}, total, nil
	}
	return matched[offset:min(offset+limit, len(matched))], total, nil
}

func (s *MemoryNotificationStore) CountUnread(_ context.Context, userID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.UserID == userID && !r.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryNotificationStore) MarkRead(_ context.Context, userID, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].NotificationID == id && s.rows[i].UserID == userID {
			s.rows[i].IsRead = true
			s.rows[i].UpdateAt = &at
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (s *MemoryNotificationStore) MarkAllRead(_ context.Context, userID uint, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.rows {
		if s.rows[i].UserID == userID && !s.rows[i].IsRead {
			s.rows[i].IsRead = true
			s.rows[i].UpdateAt = &at
			n++
		}
	}
	return n, nil
}

// All returns a copy of every stored row.
func (s *MemoryNotificationStore) All() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.rows...)
}

// NotificationService serves the in-app notification endpoints.
type NotificationService struct {
	store NotificationStore
	clock clock.PassiveClock
}

func NewNotificationService(store NotificationStore, clk clock.PassiveClock) *NotificationService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &NotificationService{store: store, clock: clk}
}

func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	return s.store.List(ctx, userID, unreadOnly, limit, offset)
}

func (s *NotificationService) Counter(ctx context.Context, userID uint) (int64, error) {
	return s.store.CountUnread(ctx, userID)
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint) error {
	err := s.store.MarkRead(ctx, userID, id, s.clock.Now())
	if errors.Is(err, ErrNotificationNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return s.store.MarkAllRead(ctx, userID, s.clock.Now())
}
