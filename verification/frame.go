package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"PRESENCE/helper"
	"PRESENCE/liveness"
)

var (
	// ErrModelUnavailable is fatal for the attempt: no further frame can be embedded.
	ErrModelUnavailable = errors.New("verification: embedding model unavailable")
	// ErrNoEmbedding marks a frame that carried no usable probe. The frame is skipped.
	ErrNoEmbedding = errors.New("verification: frame has no usable embedding")
)

// Frame is one analyzed camera frame: the detected faces (largest first, as the
// detector reports them) and the embedding computed on the device for the first
// face.
type Frame struct {
	Faces            []liveness.Snapshot `json:"faces" binding:"dive"`
	Embedding        []float64           `json:"embedding"`
	EmbeddingB64     string              `json:"embeddingB64"`
	ModelUnavailable bool                `json:"modelUnavailable"`
}

// Embedder turns the face in a frame into an L2-normalized probe vector.
type Embedder interface {
	Embed(ctx context.Context, f Frame, face liveness.Snapshot) ([]float64, error)
}

// PayloadEmbedder uses the vector the client computed and attached to the frame.
type PayloadEmbedder struct {
	Dim int
}

func (e PayloadEmbedder) Embed(ctx context.Context, f Frame, face liveness.Snapshot) ([]float64, error) {
	if f.ModelUnavailable {
		return nil, ErrModelUnavailable
	}
	vec := f.Embedding
	if len(vec) == 0 && f.EmbeddingB64 != "" {
		decoded, err := helper.DecodeEmbedding(f.EmbeddingB64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoEmbedding, err)
		}
		vec = decoded
	}
	if len(vec) == 0 {
		return nil, ErrNoEmbedding
	}
	if e.Dim > 0 && len(vec) != e.Dim {
		return nil, fmt.Errorf("%w: dimension %d, want %d", ErrNoEmbedding, len(vec), e.Dim)
	}
	return helper.Normalize(append([]float64(nil), vec...)), nil
}

// FrameSlot is a one-frame buffer that keeps only the latest frame. A frame
// offered while the previous one is still waiting replaces it.
type FrameSlot struct {
	mu sync.Mutex
	ch chan Frame
}

func NewFrameSlot() *FrameSlot {
	return &FrameSlot{ch: make(chan Frame, 1)}
}

// Offer stores f and reports whether an unconsumed frame was discarded.
func (s *FrameSlot) Offer(f Frame) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
		replaced = true
	default:
	}
	s.ch <- f
	return replaced
}

func (s *FrameSlot) Frames() <-chan Frame {
	return s.ch
}
