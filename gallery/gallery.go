// Package gallery loads and enrolls the face embeddings one identity is matched
// against. A user enrolls several samples (angles); together they are the gallery.
package gallery

import (
	"context"
	"errors"
	"fmt"

	"PRESENCE/helper"
)

var (
	ErrNotEnrolled  = errors.New("gallery: user has no enrolled face")
	ErrBadDimension = errors.New("gallery: embedding has the wrong dimension")
)

// Loader returns a user's gallery with every vector L2-normalized.
type Loader interface {
	Load(ctx context.Context, userID string) ([][]float64, error)
}

type Gallery interface {
	Loader
	Enroll(ctx context.Context, userID, name string, vec []float64) error
	Count(ctx context.Context, userID string) (int64, error)
}

// prepare validates a raw sample and returns a normalized copy. dim <= 0 accepts
// any non-empty length.
func prepare(vec []float64, dim int) ([]float64, error) {
	if len(vec) == 0 || (dim > 0 && len(vec) != dim) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadDimension, len(vec), dim)
	}
	return helper.Normalize(append([]float64(nil), vec...)), nil
}
