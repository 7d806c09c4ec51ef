package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/user/medialib/internal/model"
)

type NoteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// FindByID 不存在返回 nil, nil
func (r *NoteRepository) FindByID(ctx context.Context, id uint) (*model.Note, error) {
	var n model.Note
	if err := r.db.WithContext(ctx).First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

// FindByPath 按库内相对路径查找
func (r *NoteRepository) FindByPath(ctx context.Context, vaultPath string) (*model.Note, error) {
	var n model.Note
	if err := r.db.WithContext(ctx).Where("vault_path = ?", vaultPath).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *NoteRepository) Create(ctx context.Context, n *model.Note) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *NoteRepository) Update(ctx context.Context, n *model.Note) error {
	return r.db.WithContext(ctx).Save(n).Error
}

func (r *NoteRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Note{}).Count(&count).Error
	return count, err
}
