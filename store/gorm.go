package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"PRESENCE/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps records in the kv_entries table. Update runs as a row-locked
// read-merge-write inside one SQL transaction; that is per path only and gives no
// cross-path guarantee.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Read(ctx context.Context, path string) (Record, bool, error) {
	if err := validPath(path); err != nil {
		return nil, false, err
	}
	var entry models.KVEntry
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decode(entry.Value)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *GormStore) Write(ctx context.Context, path string, value Record) error {
	if err := validPath(path); err != nil {
		return err
	}
	return upsert(s.db.WithContext(ctx), path, value)
}

func (s *GormStore) Update(ctx context.Context, path string, fields Record) error {
	if err := validPath(path); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.KVEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("path = ?", path).First(&entry).Error
		current := Record{}
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			if current, err = decode(entry.Value); err != nil {
				return err
			}
		}
		return upsert(tx, path, merge(current, fields))
	})
}

func (s *GormStore) Delete(ctx context.Context, path string) error {
	if err := validPath(path); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("path = ?", path).Delete(&models.KVEntry{}).Error
}

func (s *GormStore) PushKey(ctx context.Context, path string) (string, error) {
	if err := validPath(path); err != nil {
		return "", err
	}
	return NewPushKey(s.now()), nil
}

func (s *GormStore) Children(ctx context.Context, path string) (map[string]Record, error) {
	if err := validPath(path); err != nil {
		return nil, err
	}
	var entries []models.KVEntry
	if err := s.db.WithContext(ctx).Where("parent = ?", path).Find(&entries).Error; err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(entries))
	for _, e := range entries {
		rec, err := decode(e.Value)
		if err != nil {
			// a corrupt row is skipped, not fatal to the listing
			continue
		}
		_, leaf := Split(e.Path)
		out[leaf] = rec
	}
	return out, nil
}

func (s *GormStore) Keys(ctx context.Context, path string) ([]string, error) {
	if err := validPath(path); err != nil {
		return nil, err
	}
	prefix := path + "/"
	var paths []string
	err := s.db.WithContext(ctx).Model(&models.KVEntry{}).
		Where("path LIKE ?", escapeLike(prefix)+"%").
		Pluck("path", &paths).Error
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, p := range paths {
		leaf, _, _ := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		seen[leaf] = struct{}{}
	}
	return sortedKeys(seen), nil
}

func upsert(db *gorm.DB, path string, value Record) error {
	rec, err := normalize(value)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	parent, _ := Split(path)
	entry := models.KVEntry{Path: path, Parent: parent, Value: datatypes.JSON(raw)}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"parent", "value", "updated_at"}),
	}).Create(&entry).Error
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
