package gallery

import (
	"context"
	"fmt"
	"time"

	"PRESENCE/helper"
	"PRESENCE/logger"
	"PRESENCE/store"
)

const galleryRoot = "faceEmbeddings"

// StoreGallery keeps samples in the keyed store at faceEmbeddings/<uid>/<pushId>
// as {vec: base64 float32, ts}.
type StoreGallery struct {
	store store.KeyedStore
	dim   int
	now   func() time.Time
}

func NewStoreGallery(st store.KeyedStore, dim int) *StoreGallery {
	return &StoreGallery{store: st, dim: dim, now: time.Now}
}

func (g *StoreGallery) Load(ctx context.Context, userID string) ([][]float64, error) {
	children, err := g.store.Children(ctx, store.Join(galleryRoot, userID))
	if err != nil {
		return nil, fmt.Errorf("load faces: %w", err)
	}
	out := make([][]float64, 0, len(children))
	for id, rec := range children {
		s, _ := rec["vec"].(string)
		vec, err := helper.DecodeEmbedding(s)
		if err == nil {
			vec, err = prepare(vec, g.dim)
		}
		if err != nil {
			logger.Warning("skipping corrupt face sample", logger.LoggerOptions{
				Key:  "sample",
				Data: id,
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

func (g *StoreGallery) Enroll(ctx context.Context, userID, name string, vec []float64) error {
	if _, err := prepare(vec, g.dim); err != nil {
		return err
	}
	parent := store.Join(galleryRoot, userID)
	id, err := g.store.PushKey(ctx, parent)
	if err != nil {
		return fmt.Errorf("push key: %w", err)
	}
	rec := store.Record{
		"vec": helper.EncodeEmbedding(vec),
		"ts":  g.now().UnixMilli(),
	}
	if name != "" {
		rec["name"] = name
	}
	if err := g.store.Write(ctx, store.Join(parent, id), rec); err != nil {
		return fmt.Errorf("save face: %w", err)
	}
	return nil
}

func (g *StoreGallery) Count(ctx context.Context, userID string) (int64, error) {
	children, err := g.store.Children(ctx, store.Join(galleryRoot, userID))
	if err != nil {
		return 0, err
	}
	return int64(len(children)), nil
}
