package gallery

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"PRESENCE/models"
	"PRESENCE/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestStoreGallery_EnrollAndLoad(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	g := NewStoreGallery(st, 3)

	_, err := g.Load(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotEnrolled)

	require.NoError(t, g.Enroll(ctx, "u1", "Asha", []float64{3, 0, 4}))
	require.NoError(t, g.Enroll(ctx, "u1", "Asha", []float64{0, 2, 0}))
	assert.ErrorIs(t, g.Enroll(ctx, "u1", "Asha", []float64{1, 2}), ErrBadDimension)

	// legacy text sample and a corrupt one
	require.NoError(t, st.Write(ctx, "faceEmbeddings/u1/legacy", store.Record{"vec": "1,0,0"}))
	require.NoError(t, st.Write(ctx, "faceEmbeddings/u1/junk", store.Record{"vec": 42}))

	count, err := g.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	vecs, err := g.Load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.InDelta(t, 1.0, floats.Norm(v, 2), 1e-6)
	}
}

func TestDecodeFace(t *testing.T) {
	raw, _ := json.Marshal([]float64{0, 0, 2})
	vec, ok := decodeFace(models.UserFace{Embedding: raw}, 3)
	require.True(t, ok)
	assert.InDelta(t, 1.0, vec[2], 1e-9)

	_, ok = decodeFace(models.UserFace{Embedding: raw}, 192)
	assert.False(t, ok, "dimension mismatch")

	_, ok = decodeFace(models.UserFace{Embedding: json.RawMessage(`"not an array"`)}, 0)
	assert.False(t, ok)

	_, ok = decodeFace(models.UserFace{Embedding: json.RawMessage(`[]`)}, 0)
	assert.False(t, ok)
}

func TestPrepare_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 4}
	out, err := prepare(in, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, in)
	assert.InDelta(t, 1.0, math.Hypot(out[0], out[1]), 1e-12)
}

func TestGormGallery(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := models.ConnectDatabase(dsn)
	require.NoError(t, err)
	ctx := context.Background()
	user := "gallery-test-" + store.NewPushKey(time.Now())
	g := NewGormGallery(db, 2)

	require.NoError(t, g.Enroll(ctx, user, "T", []float64{1, 1}))
	vecs, err := g.Load(ctx, user)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	count, err := g.Count(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
