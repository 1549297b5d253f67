package models

import (
	"encoding/json"
	"time"
)

// UserFace is one enrolled face sample. A user has several rows, one per captured
// angle; together they form that user's gallery.
type UserFace struct {
	Id        int64           `gorm:"primaryKey" json:"id"`
	UserId    string          `gorm:"size:128;index" json:"user_id"`
	Name      string          `json:"name"`
	Embedding json.RawMessage `gorm:"type:json" json:"embedding"` // JSON array as stored
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (UserFace) TableName() string {
	return "user_faces"
}
