package matcher

import (
	"PRESENCE/helper"
)

// Vote is the per-frame decision against one identity's gallery.
type Vote struct {
	Accepted bool
	// Strong is set when a single gallery vector reached the strong threshold.
	Strong bool
	// Best is the highest similarity seen before the decision was made.
	Best float64
	// Agree counts gallery vectors at or above the secondary threshold.
	Agree int
}

// AcceptForUser decides whether probe belongs to the identity behind gallery.
// Both probe and gallery entries must already be L2-normalized.
//
// The first gallery vector at or above strong accepts immediately. Otherwise the
// frame is accepted when at least minAgree vectors reach secondary.
func AcceptForUser(probe []float64, gallery [][]float64, strong, secondary float64, minAgree int) Vote {
	vote := Vote{Best: -2}
	if len(probe) == 0 || len(gallery) == 0 {
		return vote
	}

	for _, g := range gallery {
		s := helper.Cosine(probe, g)
		if s > vote.Best {
			vote.Best = s
		}
		if s >= secondary {
			vote.Agree++
		}
		if s >= strong {
			vote.Accepted = true
			vote.Strong = true
			return vote
		}
	}
	vote.Accepted = vote.Agree >= minAgree
	return vote
}

// BestScore is the maximum similarity of probe against gallery, or -2 when either
// is empty.
func BestScore(probe []float64, gallery [][]float64) float64 {
	best := -2.0
	if len(probe) == 0 {
		return best
	}
	for _, g := range gallery {
		if s := helper.Cosine(probe, g); s > best {
			best = s
		}
	}
	return best
}
