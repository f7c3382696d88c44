package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gorm.io/gorm"

	"request-routing-api/config"
	"request-routing-api/models"
	"request-routing-api/workflow"
)

// Recipient is a user notifications can be addressed to.
type Recipient struct {
	UserID      uint
	Email       string
	DisplayName string
	Role        workflow.Role
}

// IdentityProvider resolves actors and notification recipients.
type IdentityProvider interface {
	Resolve(ctx context.Context, id uint) (workflow.Actor, error)
	Recipients(ctx context.Context, role workflow.Role) ([]Recipient, error)
	Recipient(ctx context.Context, id uint) (Recipient, error)
}

// UserDirectory looks up full user rows for login and profile views.
type UserDirectory interface {
	User(ctx context.Context, id uint) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
}

// GormIdentityProvider reads active rows of the users table.
type GormIdentityProvider struct {
	db *gorm.DB
}

func NewGormIdentityProvider(db *gorm.DB) *GormIdentityProvider {
	if db == nil {
		db = config.DB
	}
	return &GormIdentityProvider{db: db}
}

func (p *GormIdentityProvider) load(ctx context.Context, id uint) (models.User, error) {
	var u models.User
	err := p.db.WithContext(ctx).Where("user_id = ? AND delete_at IS NULL", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return u, ErrUserNotFound
	}
	if err != nil {
		return u, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, nil
}

func (p *GormIdentityProvider) User(ctx context.Context, id uint) (models.User, error) {
	return p.load(ctx, id)
}

func (p *GormIdentityProvider) UserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := p.db.WithContext(ctx).Where("email = ? AND delete_at IS NULL", strings.TrimSpace(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return u, ErrUserNotFound
	}
	if err != nil {
		return u, fmt.Errorf("load user by email: %w", err)
	}
	return u, nil
}

func (p *GormIdentityProvider) Resolve(ctx context.Context, id uint) (workflow.Actor, error) {
	u, err := p.load(ctx, id)
	if err != nil {
		return workflow.Actor{}, err
	}
	return u.Actor(), nil
}

func (p *GormIdentityProvider) Recipient(ctx context.Context, id uint) (Recipient, error) {
	u, err := p.load(ctx, id)
	if err != nil {
		return Recipient{}, err
	}
	return recipientFromUser(u), nil
}

func (p *GormIdentityProvider) Recipients(ctx context.Context, role workflow.Role) ([]Recipient, error) {
	var users []models.User
	if err := p.db.WithContext(ctx).
		Where("role_code = ? AND delete_at IS NULL", role).
		Order("user_id").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users for role %s: %w", role, err)
	}
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		out = append(out, recipientFromUser(u))
	}
	return out, nil
}

func recipientFromUser(u models.User) Recipient {
	return Recipient{UserID: u.UserID, Email: u.Email, DisplayName: u.DisplayName(), Role: u.RoleCode}
}

// StaticIdentityProvider serves a fixed user list. Used by tests and the
// audit command.
type StaticIdentityProvider struct {
	mu    sync.RWMutex
	users map[uint]models.User
}

func NewStaticIdentityProvider(users ...models.User) *StaticIdentityProvider {
	p := &StaticIdentityProvider{users: make(map[uint]models.User, len(users))}
	for _, u := range users {
		p.users[u.UserID] = u
	}
	return p
}

func (p *StaticIdentityProvider) Add(u models.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.UserID] = u
}

func (p *StaticIdentityProvider) User(_ context.Context, id uint) (models.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	if !ok || u.DeleteAt != nil {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (p *StaticIdentityProvider) UserByEmail(_ context.Context, email string) (models.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	email = strings.TrimSpace(email)
	for _, u := range p.users {
		if u.DeleteAt == nil && strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

func (p *StaticIdentityProvider) Resolve(_ context.Context, id uint) (workflow.Actor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	if !ok || u.DeleteAt != nil {
		return workflow.Actor{}, ErrUserNotFound
	}
	return u.Actor(), nil
}

func (p *StaticIdentityProvider) Recipient(_ context.Context, id uint) (Recipient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	if !ok || u.DeleteAt != nil {
		return Recipient{}, ErrUserNotFound
	}
	return recipientFromUser(u), nil
}

func (p *StaticIdentityProvider) Recipients(_ context.Context, role workflow.Role) ([]Recipient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Recipient
	for _, u := range p.users {
		if u.RoleCode == role && u.DeleteAt == nil {
			out = append(out, recipientFromUser(u))
		}
	}
	slices.SortFunc(out, func(a, b Recipient) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}
