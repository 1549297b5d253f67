// Package verification runs one face verification attempt: liveness first, then
// multi-frame identity voting, then upgrading the open presence session.
package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"PRESENCE/config"
	"PRESENCE/gallery"
	"PRESENCE/liveness"
	"PRESENCE/logger"
	"PRESENCE/matcher"
)

var (
	ErrFrameInFlight   = errors.New("verification: a frame is already being processed")
	ErrAttemptFinished = errors.New("verification: attempt already decided")
)

const (
	HintNoFace      = "No face detected."
	HintLivenessOK  = "Liveness OK. Hold still for identity..."
	HintFrameError  = "Frame error"
	HintVerified    = "Verified. Attendance marked."
	HintNoSession   = "Verified, but no open attendance session was found."
	HintNotRecog    = "Face not recognized. Try again."
	HintModelFailed = "Face model unavailable."
	HintAborted     = "Verification cancelled."
)

type Decision string

const (
	Pending  Decision = ""
	Accepted Decision = "accepted"
	Rejected Decision = "rejected"
	Aborted  Decision = "aborted"
)

// Marker upgrades the user's open session once identity is confirmed.
type Marker interface {
	MarkVerified(ctx context.Context, userID, method string) (bool, error)
}

// Attempt holds the voting counters. It exists only between the liveness pass
// and the decision.
type Attempt struct {
	FramesSeen int
	AgreeCount int
	BestScore  float64
}

func newAttempt() *Attempt {
	return &Attempt{BestScore: -2}
}

// record counts one matched frame. best is the frame's top similarity over the
// whole gallery, which the vote may not have reached before deciding.
func (a *Attempt) record(v matcher.Vote, best float64) {
	a.FramesSeen++
	if v.Accepted {
		a.AgreeCount++
	}
	if best > a.BestScore {
		a.BestScore = best
	}
}

// Failure values explain a decision that could not complete normally.
const (
	FailureModel = "model_unavailable"
	FailureMark  = "mark_failed"
)

// Progress is what the client shows after each frame.
type Progress struct {
	// Seq counts the frames the attempt has taken in.
	Seq        int      `json:"seq"`
	Stage      string   `json:"stage"`
	Hint       string   `json:"hint"`
	Decision   Decision `json:"decision,omitempty"`
	FramesSeen int      `json:"framesSeen"`
	AgreeCount int      `json:"agreeCount"`
	BestScore  float64  `json:"bestScore"`
	// Marked reports whether an open session was upgraded on acceptance.
	Marked  bool   `json:"marked"`
	Failure string `json:"failure,omitempty"`
}

type Deps struct {
	Gallery  gallery.Loader
	Embedder Embedder
	Marker   Marker
	Liveness liveness.Config
	Matcher  config.MatcherTuning
	Gate     []liveness.Option
}

// Orchestrator owns one attempt. Frames are processed one at a time; a frame
// that arrives while another is in flight is refused, never queued.
//
// Whoever holds inFlight owns last and the embedder. Readers on other
// goroutines see the copy in published.
type Orchestrator struct {
	userID   string
	gallery  [][]float64
	gate     *liveness.Gate
	embedder Embedder
	marker   Marker
	tuning   config.MatcherTuning

	inFlight    atomic.Bool
	aborted     atomic.Bool
	published   atomic.Pointer[Progress]
	attempt     *Attempt
	last        Progress
	releaseOnce sync.Once
}

// NewOrchestrator loads the user's gallery once; it is read-only for the rest of
// the attempt.
func NewOrchestrator(ctx context.Context, userID string, deps Deps) (*Orchestrator, error) {
	vecs, err := deps.Gallery.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	gate := liveness.NewGate(deps.Liveness, deps.Gate...)
	o := &Orchestrator{
		userID:   userID,
		gallery:  vecs,
		gate:     gate,
		embedder: deps.Embedder,
		marker:   deps.Marker,
		tuning:   deps.Matcher,
		last:     Progress{Stage: gate.Stage().String(), Hint: liveness.HintBlink, BestScore: -2},
	}
	o.publish()
	return o, nil
}

func (o *Orchestrator) UserID() string { return o.userID }

// Process feeds one frame through the attempt.
func (o *Orchestrator) Process(ctx context.Context, f Frame) (Progress, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return o.Progress(), ErrFrameInFlight
	}
	defer o.leave()

	if o.aborted.Load() {
		o.finalizeAbort()
	}
	if o.last.Decision != Pending {
		return o.last, ErrAttemptFinished
	}
	o.last.Seq++
	if len(f.Faces) == 0 {
		return o.hint(HintNoFace), nil
	}
	face := f.Faces[0]

	if o.attempt == nil {
		res := o.gate.Update(face)
		o.last.Stage = res.Stage.String()
		if !res.Passed {
			return o.hint(res.Hint), nil
		}
		// The frame that completes liveness is not matched.
		o.attempt = newAttempt()
		return o.hint(HintLivenessOK), nil
	}

	probe, err := o.embedder.Embed(ctx, f, face)
	if o.aborted.Load() {
		// Aborted while embedding: the frame is discarded and nothing is marked.
		o.finalizeAbort()
		return o.last, nil
	}
	switch {
	case errors.Is(err, ErrModelUnavailable):
		o.finish(Aborted, HintModelFailed)
		o.last.Failure = FailureModel
		o.release()
		return o.last, err
	case err != nil:
		logger.Debug("frame skipped", logger.LoggerOptions{
			Key:  "reason",
			Data: err.Error(),
		})
		return o.hint(HintFrameError), nil
	}

	vote := matcher.AcceptForUser(probe, o.gallery, o.tuning.StrongThreshold, o.tuning.SecondaryThreshold, o.tuning.FrameMinAgree)
	o.attempt.record(vote, matcher.BestScore(probe, o.gallery))
	o.last.FramesSeen = o.attempt.FramesSeen
	o.last.AgreeCount = o.attempt.AgreeCount
	o.last.BestScore = o.attempt.BestScore

	switch {
	case o.attempt.AgreeCount >= o.tuning.MinAgreeRequired:
		return o.accept(ctx)
	case o.attempt.FramesSeen >= o.tuning.MinDecisionFrames:
		logger.Info("face not recognized", logger.LoggerOptions{
			Key:  "user",
			Data: o.userID,
		}, logger.LoggerOptions{
			Key:  "bestScore",
			Data: o.attempt.BestScore,
		})
		o.finish(Rejected, HintNotRecog)
		return o.last, nil
	default:
		return o.hint(fmt.Sprintf("Verifying... (%d/%d)", o.attempt.AgreeCount, o.attempt.FramesSeen)), nil
	}
}

func (o *Orchestrator) accept(ctx context.Context) (Progress, error) {
	o.finish(Accepted, HintVerified)
	o.release()

	// The session upgrade must survive the caller going away.
	marked, err := o.marker.MarkVerified(context.WithoutCancel(ctx), o.userID, o.tuning.VerifiedMethod)
	if err != nil {
		o.last.Failure = FailureMark
		return o.last, fmt.Errorf("mark verified: %w", err)
	}
	o.last.Marked = marked
	if !marked {
		o.last.Hint = HintNoSession
	}
	logger.Info("identity verified", logger.LoggerOptions{
		Key:  "user",
		Data: o.userID,
	}, logger.LoggerOptions{
		Key:  "agree",
		Data: o.last.AgreeCount,
	}, logger.LoggerOptions{
		Key:  "frames",
		Data: o.last.FramesSeen,
	})
	return o.last, nil
}

func (o *Orchestrator) hint(h string) Progress {
	o.last.Hint = h
	return o.last
}

func (o *Orchestrator) finish(d Decision, hint string) {
	o.last.Decision = d
	o.last.Hint = hint
	o.attempt = nil
}

// Abort ends the attempt without a decision and releases the embedder. When a
// frame is in flight, that frame completes the abort on its way out and is
// neither matched nor marked. Writes already started are not cancelled.
func (o *Orchestrator) Abort() {
	o.aborted.Store(true)
	if !o.inFlight.CompareAndSwap(false, true) {
		return
	}
	o.finalizeAbort()
	o.publish()
	o.inFlight.Store(false)
}

// leave runs when Process returns. An Abort that lands between the check and
// the store below found the frame in flight and left the work to us.
func (o *Orchestrator) leave() {
	if o.aborted.Load() {
		o.finalizeAbort()
	}
	o.publish()
	o.inFlight.Store(false)

	if o.aborted.Load() && o.inFlight.CompareAndSwap(false, true) {
		o.finalizeAbort()
		o.publish()
		o.inFlight.Store(false)
	}
}

// finalizeAbort must be called with inFlight held.
func (o *Orchestrator) finalizeAbort() {
	if o.last.Decision == Pending {
		o.finish(Aborted, HintAborted)
	}
	o.release()
}

func (o *Orchestrator) release() {
	o.releaseOnce.Do(func() {
		if c, ok := o.embedder.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warning("failed to release embedder", logger.LoggerOptions{
					Key:  "error",
					Data: err,
				})
			}
		}
	})
}

func (o *Orchestrator) publish() {
	p := o.last
	o.published.Store(&p)
}

// Progress returns the state as of the last completed frame. Safe to call from
// any goroutine.
func (o *Orchestrator) Progress() Progress {
	return *o.published.Load()
}

// Run is the single worker loop over a keep-latest slot. It returns nil once the
// attempt is decided, or the error that ended it.
func (o *Orchestrator) Run(ctx context.Context, slot *FrameSlot, onProgress func(Progress)) error {
	for {
		select {
		case <-ctx.Done():
			o.Abort()
			return ctx.Err()
		case f := <-slot.Frames():
			p, err := o.Process(ctx, f)
			if onProgress != nil {
				onProgress(p)
			}
			if err != nil {
				return err
			}
			if p.Decision != Pending {
				return nil
			}
		}
	}
}
