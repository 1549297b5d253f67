package models

import (
	"time"

	"gorm.io/datatypes"
)

// KVEntry stores one keyed-store record. Parent is indexed so listing the children
// of a path is a single indexed query.
type KVEntry struct {
	Path      string         `gorm:"primaryKey;size:512" json:"path"`
	Parent    string         `gorm:"size:512;index" json:"parent"`
	Value     datatypes.JSON `gorm:"not null" json:"value"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (KVEntry) TableName() string {
	return "kv_entries"
}
