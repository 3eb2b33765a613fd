package repository

import (
	"context"
	"time"

	"StepFM/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionRepository is the session data access interface.
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, id string) error
	ExistsByID(ctx context.Context, id string) (bool, error)
	ListPublished(ctx context.Context, limit, offset int) ([]*model.Session, error)

	// SaveState persists only the musical content and version of a session.
	// Used for the fire-and-forget durability hand-off on actor eviction.
	SaveState(ctx context.Context, id string, state *model.SessionState) error

	// Remix forks a session into a new record referencing its origin.
	Remix(ctx context.Context, id string, name, authorName string) (*model.Session, error)
	Publish(ctx context.Context, id string) error
}

type gormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a GORM session repository.
func NewGormSessionRepository(db *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: db}
}

// Create creates a session record. A missing id is generated.
func (r *gormSessionRepository) Create(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID returns the session or nil when it does not exist.
func (r *gormSessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// Update saves the full session record.
func (r *gormSessionRepository) Update(ctx context.Context, session *model.Session) error {
	return r.db.WithContext(ctx).Save(session).Error
}

// Delete removes a session record.
func (r *gormSessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Session{}, "id = ?", id).Error
}

// ExistsByID checks whether a session id exists.
func (r *gormSessionRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

// ListPublished returns published sessions, newest first.
func (r *gormSessionRepository) ListPublished(ctx context.Context, limit, offset int) ([]*model.Session, error) {
	var sessions []*model.Session
	err := r.db.WithContext(ctx).
		Where("published = ?", true).
		Order("published_at DESC").
		Limit(limit).Offset(offset).
		Find(&sessions).Error
	return sessions, err
}

// SaveState writes the musical content and version columns only.
func (r *gormSessionRepository) SaveState(ctx context.Context, id string, state *model.SessionState) error {
	return r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"tracks":  state.Tracks,
			"tempo":   state.Tempo,
			"swing":   state.Swing,
			"version": state.Version,
		}).Error
}

// Remix forks a session. The fork starts unpublished with a fresh version
// counter history rooted at the origin's current content.
func (r *gormSessionRepository) Remix(ctx context.Context, id string, name, authorName string) (*model.Session, error) {
	origin, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if origin == nil {
		return nil, gorm.ErrRecordNotFound
	}

	fork := &model.Session{
		ID:         uuid.NewString(),
		Name:       name,
		AuthorName: authorName,
		State:      origin.State.Clone(),
		RemixOf:    &origin.ID,
	}
	if fork.Name == "" {
		fork.Name = origin.Name + " (remix)"
	}
	if err := r.db.WithContext(ctx).Create(fork).Error; err != nil {
		return nil, err
	}
	return fork, nil
}

// Publish marks a session as published.
func (r *gormSessionRepository) Publish(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"published":    true,
			"published_at": now,
		}).Error
}
