package gallery

import (
	"context"
	"encoding/json"
	"fmt"

	"PRESENCE/logger"
	"PRESENCE/models"

	"gorm.io/gorm"
)

// GormGallery keeps samples as user_faces rows with the vector in a JSON column.
type GormGallery struct {
	db  *gorm.DB
	dim int
}

func NewGormGallery(db *gorm.DB, dim int) *GormGallery {
	return &GormGallery{db: db, dim: dim}
}

func (g *GormGallery) Load(ctx context.Context, userID string) ([][]float64, error) {
	var faces []models.UserFace
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).Find(&faces).Error; err != nil {
		return nil, fmt.Errorf("load faces: %w", err)
	}

	out := make([][]float64, 0, len(faces))
	for _, face := range faces {
		vec, ok := decodeFace(face, g.dim)
		if !ok {
			logger.Warning("skipping corrupt face sample", logger.LoggerOptions{
				Key:  "faceId",
				Data: face.Id,
			}, logger.LoggerOptions{
				Key:  "user",
				Data: userID,
			})
			continue
		}
		out = append(out, vec)
	}
	if len(out) == 0 {
		return nil, ErrNotEnrolled
	}
	return out, nil
}

// Enroll always inserts a new row; earlier angles are kept.
func (g *GormGallery) Enroll(ctx context.Context, userID, name string, vec []float64) error {
	if _, err := prepare(vec, g.dim); err != nil {
		return err
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	face := models.UserFace{UserId: userID, Name: name, Embedding: raw}
	if err := g.db.WithContext(ctx).Create(&face).Error; err != nil {
		return fmt.Errorf("save face: %w", err)
	}
	return nil
}

func (g *GormGallery) Count(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.UserFace{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func decodeFace(face models.UserFace, dim int) ([]float64, bool) {
	var vec []float64
	if err := json.Unmarshal(face.Embedding, &vec); err != nil {
		return nil, false
	}
	vec, err := prepare(vec, dim)
	return vec, err == nil
}
