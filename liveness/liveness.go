// Package liveness implements the active liveness check run before any identity
// decision: the subject must blink once and then turn their head past a yaw
// threshold, within a bounded time window.
package liveness

import (
	"time"
)

type Stage int

const (
	NeedBlink Stage = iota
	NeedTurn
	Done
)

func (s Stage) String() string {
	switch s {
	case NeedBlink:
		return "need_blink"
	case NeedTurn:
		return "need_turn"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

const (
	HintTimeout   = "Timeout: blink, then turn head to verify liveness."
	HintNoMove    = "No movement: blink, then turn head."
	HintBlinkDone = "Good. Now slowly turn head left or right."
	HintBlink     = "Please blink."
	HintTurn      = "Turn head left/right (keep face in view)."
	HintPassed    = "Liveness passed"
)

// Box is the detector's face bounding box in frame pixels.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Snapshot is the per-frame face attribute set a detector produces. Eye
// probabilities are nil when the detector could not classify them.
type Snapshot struct {
	LeftEyeOpenProb  *float64 `json:"leftEyeOpenProb" binding:"omitempty,unitprob"`
	RightEyeOpenProb *float64 `json:"rightEyeOpenProb" binding:"omitempty,unitprob"`
	HeadYawDegrees   float64  `json:"headYawDegrees"`
	BoundingBox      Box      `json:"boundingBox"`
}

type Config struct {
	SessionTimeout time.Duration
	IdleTimeout    time.Duration
	// Both eyes at or below this are closed.
	EyeClosedProb float64
	// Both eyes at or above this are open.
	EyeOpenProb float64
	// Head yaw magnitude that completes the turn stage. Left is negative.
	YawDegrees float64
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout: 8 * time.Second,
		IdleTimeout:    5 * time.Second,
		EyeClosedProb:  0.35,
		EyeOpenProb:    0.65,
		YawDegrees:     18,
	}
}

type Result struct {
	Passed bool
	Hint   string
	Stage  Stage
	// Reset is set when a timeout forced the gate back to NeedBlink.
	Reset bool
}

// Gate is the blink-then-turn state machine for one verification attempt.
// It is not safe for concurrent use; one attempt owns one Gate.
type Gate struct {
	cfg Config
	now func() time.Time

	stage         Stage
	attemptStart  time.Time
	lastProgress  time.Time
	sawEyesClosed bool
}

type Option func(*Gate)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func NewGate(cfg Config, opts ...Option) *Gate {
	g := &Gate{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.Reset()
	return g
}

// Reset returns to NeedBlink and re-stamps both timers.
func (g *Gate) Reset() {
	now := g.now()
	g.stage = NeedBlink
	g.attemptStart = now
	g.lastProgress = now
	g.sawEyesClosed = false
}

func (g *Gate) Stage() Stage { return g.stage }

func (g *Gate) Passed() bool { return g.stage == Done }

// Update feeds one face snapshot through the state machine.
func (g *Gate) Update(s Snapshot) Result {
	now := g.now()

	if now.Sub(g.attemptStart) > g.cfg.SessionTimeout {
		g.Reset()
		return Result{Hint: HintTimeout, Stage: g.stage, Reset: true}
	}
	if now.Sub(g.lastProgress) > g.cfg.IdleTimeout {
		g.Reset()
		return Result{Hint: HintNoMove, Stage: g.stage, Reset: true}
	}

	switch g.stage {
	case NeedBlink:
		if s.LeftEyeOpenProb != nil && s.RightEyeOpenProb != nil {
			l, r := *s.LeftEyeOpenProb, *s.RightEyeOpenProb
			closed := l <= g.cfg.EyeClosedProb && r <= g.cfg.EyeClosedProb
			open := l >= g.cfg.EyeOpenProb && r >= g.cfg.EyeOpenProb

			if closed {
				g.sawEyesClosed = true
			} else if g.sawEyesClosed && open {
				g.stage = NeedTurn
				g.lastProgress = now
				g.sawEyesClosed = false
				return Result{Hint: HintBlinkDone, Stage: g.stage}
			}
		}
		return Result{Hint: HintBlink, Stage: g.stage}

	case NeedTurn:
		if s.HeadYawDegrees <= -g.cfg.YawDegrees || s.HeadYawDegrees >= g.cfg.YawDegrees {
			g.stage = Done
			g.lastProgress = now
			return Result{Passed: true, Hint: HintPassed, Stage: g.stage}
		}
		return Result{Hint: HintTurn, Stage: g.stage}

	default:
		return Result{Passed: true, Hint: HintPassed, Stage: Done}
	}
}
