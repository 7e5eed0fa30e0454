package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/soga/internal/task"
)

// Compile-time interface check.
var _ task.Store = (*TaskRepository)(nil)

// TaskRepository implements task.Store with PostgreSQL.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, userID, title, description string) (*task.Task, error) {
	now := time.Now().UTC()
	model := TaskModel{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	return toTask(&model), nil
}

func (r *TaskRepository) List(ctx context.Context, userID string) ([]task.Task, error) {
	var models []TaskModel
	err := r.db.WithContext(ctx).
		Scopes(OwnerScope(userID)).
		Order("created_at DESC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	out := make([]task.Task, len(models))
	for i := range models {
		out[i] = *toTask(&models[i])
	}
	return out, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*task.Task, error) {
	model, err := r.load(ctx, r.db, userID, id)
	if err != nil {
		return nil, err
	}
	return toTask(model), nil
}

func (r *TaskRepository) Update(ctx context.Context, userID string, id uuid.UUID, upd task.Update) (*task.Task, error) {
	var model *TaskModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		model, err = r.load(ctx, tx, userID, id)
		if err != nil {
			return err
		}

		changes := map[string]any{"updated_at": time.Now().UTC()}
		if upd.Title != nil {
			changes["title"] = *upd.Title
		}
		if upd.Description != nil {
			changes["description"] = *upd.Description
		}
		if upd.IsCompleted != nil {
			changes["is_completed"] = *upd.IsCompleted
		}

		if err := tx.Model(model).Updates(changes).Error; err != nil {
			return fmt.Errorf("updating task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toTask(model), nil
}

func (r *TaskRepository) Toggle(ctx context.Context, userID string, id uuid.UUID) (*task.Task, error) {
	var model *TaskModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		model, err = r.load(ctx, tx, userID, id)
		if err != nil {
			return err
		}

		err = tx.Model(model).Updates(map[string]any{
			"is_completed": !model.IsCompleted,
			"updated_at":   time.Now().UTC(),
		}).Error
		if err != nil {
			return fmt.Errorf("toggling task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toTask(model), nil
}

func (r *TaskRepository) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Scopes(OwnerScope(userID)).
		Where("id = ?", id).
		Delete(&TaskModel{})
	if res.Error != nil {
		return fmt.Errorf("deleting task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return task.ErrNotFound
	}
	return nil
}

// load fetches an owner-scoped task, mapping absence to task.ErrNotFound.
func (r *TaskRepository) load(ctx context.Context, db *gorm.DB, userID string, id uuid.UUID) (*TaskModel, error) {
	var model TaskModel
	err := db.WithContext(ctx).
		Scopes(OwnerScope(userID)).
		Where("id = ?", id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	return &model, nil
}
