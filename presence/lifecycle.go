package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"PRESENCE/logger"
	"PRESENCE/store"
)

var ErrInvalidUser = errors.New("presence: empty user id")

// Lifecycle opens, upgrades and closes one attendance session per user per day.
//
// The store has no multi-key transactions, so every operation is an ordered list
// of single-path steps: record before pointer on open, record before pointer
// delete on close. A failure part way leaves a state from which repeating the
// same call is safe.
type Lifecycle struct {
	store store.KeyedStore
	now   func() time.Time
	loc   *time.Location
}

type Option func(*Lifecycle)

func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithLocation sets the time zone that decides which calendar day a session is
// filed under.
func WithLocation(loc *time.Location) Option {
	return func(l *Lifecycle) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func NewLifecycle(st store.KeyedStore, opts ...Option) *Lifecycle {
	l := &Lifecycle{store: st, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today is the day key sessions opened now are filed under.
func (l *Lifecycle) Today() string {
	return l.now().In(l.loc).Format(dayLayout)
}

type EnterResult struct {
	Date      string
	SessionID string
	// Opened is false when a session for today was already open.
	Opened bool
}

type ExitResult struct {
	Date       string
	SessionID  string
	DurationMs int64
	// Closed is false when there was no open session.
	Closed bool
}

// readPointer returns ok=false for an absent or undecodable pointer. raw reports
// whether anything was stored at all.
func (l *Lifecycle) readPointer(ctx context.Context, userID string) (ptr Pointer, ok, raw bool, err error) {
	rec, found, err := l.store.Read(ctx, PointerPath(userID))
	if err != nil {
		return Pointer{}, false, false, fmt.Errorf("read pointer: %w", err)
	}
	if !found {
		return Pointer{}, false, false, nil
	}
	ptr, ok = decodePointer(rec)
	if !ok {
		logger.Warning("ignoring malformed presence pointer", logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		}, logger.LoggerOptions{
			Key:  "pointer",
			Data: rec,
		})
	}
	return ptr, ok, true, nil
}

// OnEnter opens today's session unless one is already open for today.
func (l *Lifecycle) OnEnter(ctx context.Context, userID, geofenceID string) (EnterResult, error) {
	if userID == "" {
		return EnterResult{}, ErrInvalidUser
	}
	now := l.now()
	today := now.In(l.loc).Format(dayLayout)

	ptr, ok, _, err := l.readPointer(ctx, userID)
	if err != nil {
		return EnterResult{}, err
	}
	if ok && ptr.Date == today {
		logger.Debug("session already open for today", logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		})
		return EnterResult{Date: today, SessionID: ptr.SessionID}, nil
	}
	if ok {
		logger.Warning("previous day session was never closed, opening a new one", logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		}, logger.LoggerOptions{
			Key:  "stale",
			Data: ptr,
		})
	}

	sessionID, err := l.store.PushKey(ctx, DayPath(today, userID))
	if err != nil {
		return EnterResult{}, fmt.Errorf("push key: %w", err)
	}

	nowMs := now.UnixMilli()
	record := store.Record{
		"start":     nowMs,
		"status":    StatusPresent,
		"method":    MethodGeofence,
		"timestamp": nowMs,
	}
	if geofenceID != "" {
		record["geofenceId"] = geofenceID
	}
	if err := l.store.Write(ctx, RecordPath(today, userID, sessionID), record); err != nil {
		logger.Error("failed to write attendance record", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		})
		return EnterResult{}, fmt.Errorf("write record: %w", err)
	}

	pointer := Pointer{Date: today, SessionID: sessionID, Start: now, GeofenceID: geofenceID}
	if err := l.store.Write(ctx, PointerPath(userID), encodePointer(pointer)); err != nil {
		// The record is now orphaned; a later enter will open a second one for today.
		logger.Error("failed to write presence pointer", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		}, logger.LoggerOptions{
			Key:  "orphanedSession",
			Data: sessionID,
		})
		return EnterResult{}, fmt.Errorf("write pointer: %w", err)
	}

	logger.Info("session opened", logger.LoggerOptions{
		Key:  "user",
		Data: userID,
	}, logger.LoggerOptions{
		Key:  "session",
		Data: sessionID,
	})
	return EnterResult{Date: today, SessionID: sessionID, Opened: true}, nil
}

// MarkVerified upgrades the open session's method after a successful face
// verification. It reports false when no session is open.
func (l *Lifecycle) MarkVerified(ctx context.Context, userID, method string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidUser
	}
	ptr, ok, _, err := l.readPointer(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		logger.Warning("verification for user without open session", logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		})
		return false, nil
	}

	nowMs := l.now().UnixMilli()
	err = l.store.Update(ctx, RecordPath(ptr.Date, userID, ptr.SessionID), store.Record{
		"method":     method,
		"timestamp":  nowMs,
		"verifiedAt": nowMs,
	})
	if err != nil {
		logger.Error("failed to mark session verified", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		})
		return false, fmt.Errorf("update record: %w", err)
	}
	return true, nil
}

// OnExit closes the open session, filing end and duration in the day bucket the
// session was opened in. The pointer is deleted last.
func (l *Lifecycle) OnExit(ctx context.Context, userID string) (ExitResult, error) {
	if userID == "" {
		return ExitResult{}, ErrInvalidUser
	}
	ptr, ok, raw, err := l.readPointer(ctx, userID)
	if err != nil {
		return ExitResult{}, err
	}
	if !ok {
		if raw {
			// Nothing can be closed through a malformed pointer; drop it so it
			// does not linger.
			if err := l.store.Delete(ctx, PointerPath(userID)); err != nil {
				return ExitResult{}, fmt.Errorf("delete pointer: %w", err)
			}
		}
		return ExitResult{}, nil
	}

	end := l.now()
	duration := max(0, end.Sub(ptr.Start).Milliseconds())

	err = l.store.Update(ctx, RecordPath(ptr.Date, userID, ptr.SessionID), store.Record{
		"end":        end.UnixMilli(),
		"durationMs": duration,
		"status":     StatusCompleted,
	})
	if err != nil {
		logger.Error("failed to close attendance record", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		})
		return ExitResult{}, fmt.Errorf("update record: %w", err)
	}

	if err := l.store.Delete(ctx, PointerPath(userID)); err != nil {
		logger.Error("failed to clear presence pointer", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		})
		return ExitResult{}, fmt.Errorf("delete pointer: %w", err)
	}

	logger.Info("session closed", logger.LoggerOptions{
		Key:  "user",
		Data: userID,
	}, logger.LoggerOptions{
		Key:  "durationMs",
		Data: duration,
	})
	return ExitResult{Date: ptr.Date, SessionID: ptr.SessionID, DurationMs: duration, Closed: true}, nil
}

// OpenSession returns the user's open session pointer, if any.
func (l *Lifecycle) OpenSession(ctx context.Context, userID string) (Pointer, bool, error) {
	ptr, ok, _, err := l.readPointer(ctx, userID)
	return ptr, ok, err
}

// History lists a user's attendance records for one day, oldest first.
// Records that do not decode are skipped.
func (l *Lifecycle) History(ctx context.Context, userID, date string) ([]AttendanceRecord, error) {
	if !validDay(date) {
		return nil, fmt.Errorf("invalid date %q", date)
	}
	children, err := l.store.Children(ctx, DayPath(date, userID))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make([]AttendanceRecord, 0, len(children))
	for id, raw := range children {
		rec, ok := decodeRecord(date, id, raw)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}
