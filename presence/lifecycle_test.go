package presence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"PRESENCE/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// flakyStore wraps Memory and fails the next matching operation once.
type flakyStore struct {
	*store.Memory
	failOp     string
	failPrefix string
}

func (f *flakyStore) trip(op, path string) error {
	if f.failOp == op && strings.HasPrefix(path, f.failPrefix) {
		f.failOp = ""
		return errInjected
	}
	return nil
}

func (f *flakyStore) Write(ctx context.Context, path string, v store.Record) error {
	if err := f.trip("write", path); err != nil {
		return err
	}
	return f.Memory.Write(ctx, path, v)
}

func (f *flakyStore) Update(ctx context.Context, path string, v store.Record) error {
	if err := f.trip("update", path); err != nil {
		return err
	}
	return f.Memory.Update(ctx, path, v)
}

func (f *flakyStore) Delete(ctx context.Context, path string) error {
	if err := f.trip("delete", path); err != nil {
		return err
	}
	return f.Memory.Delete(ctx, path)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLifecycle() (*Lifecycle, *flakyStore, *clock) {
	clk := &clock{t: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	st := &flakyStore{Memory: store.NewMemory()}
	return NewLifecycle(st, WithClock(clk.now), WithLocation(time.UTC)), st, clk
}

func records(t *testing.T, st store.KeyedStore, date, user string) map[string]store.Record {
	t.Helper()
	kids, err := st.Children(context.Background(), DayPath(date, user))
	require.NoError(t, err)
	return kids
}

func TestOnEnter_OpensSession(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	res, err := l.OnEnter(ctx, "u1", "campus_main")
	require.NoError(t, err)
	assert.True(t, res.Opened)
	assert.Equal(t, "2026-10-16", res.Date)

	kids := records(t, st, "2026-10-16", "u1")
	require.Len(t, kids, 1)
	rec := kids[res.SessionID]
	assert.Equal(t, StatusPresent, rec["status"])
	assert.Equal(t, MethodGeofence, rec["method"])
	assert.Equal(t, "campus_main", rec["geofenceId"])
	assert.Equal(t, float64(clk.t.UnixMilli()), rec["start"])

	ptr, ok, err := l.OpenSession(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.SessionID, ptr.SessionID)
	assert.Equal(t, "2026-10-16", ptr.Date)
	assert.True(t, ptr.Start.Equal(clk.t))
}

func TestOnEnter_Idempotent(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	first, err := l.OnEnter(ctx, "u1", "campus_main")
	require.NoError(t, err)
	clk.advance(time.Second)
	second, err := l.OnEnter(ctx, "u1", "campus_main")
	require.NoError(t, err)

	assert.False(t, second.Opened)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Len(t, records(t, st, "2026-10-16", "u1"), 1)
	// one record plus one pointer
	assert.Equal(t, 2, st.Len())
}

func TestOnEnter_StalePointerFromYesterday(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	first, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	clk.advance(24 * time.Hour)

	second, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	assert.True(t, second.Opened)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, "2026-10-17", second.Date)
	assert.Len(t, records(t, st, "2026-10-17", "u1"), 1)
}

func TestOnEnter_PointerWriteFailureLeavesOrphan(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLifecycle()

	st.failOp, st.failPrefix = "write", PointerPath("u1")
	_, err := l.OnEnter(ctx, "u1", "g")
	require.ErrorIs(t, err, errInjected)

	_, ok, err := l.OpenSession(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// The documented gap: the retry creates a second record for the same day.
	res, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	assert.True(t, res.Opened)
	assert.Len(t, records(t, st, "2026-10-16", "u1"), 2)
}

func TestOnEnter_RecordWriteFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLifecycle()

	st.failOp, st.failPrefix = "write", attendanceRoot
	_, err := l.OnEnter(ctx, "u1", "g")
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, 0, st.Len())
}

func TestOnEnter_MalformedPointerTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLifecycle()
	require.NoError(t, st.Write(ctx, PointerPath("u1"), store.Record{"date": 20261016}))

	res, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	assert.True(t, res.Opened)

	ptr, ok, err := l.OpenSession(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.SessionID, ptr.SessionID)
}

func TestOnEnter_EmptyUser(t *testing.T) {
	l, _, _ := newTestLifecycle()
	_, err := l.OnEnter(context.Background(), "", "g")
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestMarkVerified(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	ok, err := l.MarkVerified(ctx, "u1", "geofence+liveness+fr")
	require.NoError(t, err)
	assert.False(t, ok, "no open session is a no-op")
	assert.Equal(t, 0, st.Len())

	res, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	clk.advance(30 * time.Second)

	ok, err = l.MarkVerified(ctx, "u1", "geofence+liveness+fr")
	require.NoError(t, err)
	assert.True(t, ok)

	rec := records(t, st, res.Date, "u1")[res.SessionID]
	assert.Equal(t, "geofence+liveness+fr", rec["method"])
	assert.Equal(t, float64(clk.t.UnixMilli()), rec["timestamp"])
	assert.Equal(t, float64(clk.t.UnixMilli()), rec["verifiedAt"])
	assert.Equal(t, StatusPresent, rec["status"], "verification does not change open/closed state")

	_, open, err := l.OpenSession(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, open)
}

func TestOnExit_ClosesSession(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	res, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	clk.advance(90 * time.Minute)

	out, err := l.OnExit(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, out.Closed)
	assert.Equal(t, (90 * time.Minute).Milliseconds(), out.DurationMs)

	rec := records(t, st, res.Date, "u1")[res.SessionID]
	assert.Equal(t, StatusCompleted, rec["status"])
	assert.Equal(t, float64(clk.t.UnixMilli()), rec["end"])
	assert.Equal(t, float64(out.DurationMs), rec["durationMs"])

	_, open, err := l.OpenSession(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestOnExit_Idempotent(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLifecycle()

	_, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	_, err = l.OnExit(ctx, "u1")
	require.NoError(t, err)

	out, err := l.OnExit(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, out.Closed)

	out, err = l.OnExit(ctx, "never-entered")
	require.NoError(t, err)
	assert.False(t, out.Closed)
}

func TestOnExit_DurationNeverNegative(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	res, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	// clock skew: the device clock jumped backwards
	clk.advance(-10 * time.Minute)

	out, err := l.OnExit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.DurationMs)
	rec := records(t, st, res.Date, "u1")[res.SessionID]
	assert.Equal(t, float64(0), rec["durationMs"])
}

func TestOnExit_FilesUnderOpeningDay(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()
	clk.t = time.Date(2026, 10, 16, 22, 0, 0, 0, time.UTC)

	res, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	clk.advance(4 * time.Hour)

	out, err := l.OnExit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16", out.Date)
	assert.Empty(t, records(t, st, "2026-10-17", "u1"))
	assert.Equal(t, StatusCompleted, records(t, st, "2026-10-16", "u1")[res.SessionID]["status"])
}

func TestOnExit_RecordUpdateFailureKeepsPointer(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	res, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	clk.advance(time.Hour)

	st.failOp, st.failPrefix = "update", attendanceRoot
	_, err = l.OnExit(ctx, "u1")
	require.ErrorIs(t, err, errInjected)

	_, open, err := l.OpenSession(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, open, "pointer survives so the retry can close the session")

	clk.advance(time.Minute)
	out, err := l.OnExit(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, out.Closed)
	assert.Equal(t, (61 * time.Minute).Milliseconds(), out.DurationMs)
	assert.Equal(t, StatusCompleted, records(t, st, res.Date, "u1")[res.SessionID]["status"])
}

func TestOnExit_PointerDeleteFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	_, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	clk.advance(time.Hour)

	st.failOp, st.failPrefix = "delete", PointerPath("u1")
	_, err = l.OnExit(ctx, "u1")
	require.ErrorIs(t, err, errInjected)

	clk.advance(time.Minute)
	out, err := l.OnExit(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, out.Closed)
	assert.Equal(t, (61 * time.Minute).Milliseconds(), out.DurationMs, "retry recomputes a later end")
}

func TestOnExit_MalformedPointerIsCleared(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLifecycle()
	require.NoError(t, st.Write(ctx, PointerPath("u1"), store.Record{"date": "2026-10-16"}))

	out, err := l.OnExit(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, out.Closed)
	assert.Equal(t, 0, st.Len())
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	first, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)
	clk.advance(time.Hour)
	_, err = l.OnExit(ctx, "u1")
	require.NoError(t, err)
	clk.advance(time.Hour)
	second, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)

	// a legacy row and a corrupt one
	require.NoError(t, st.Write(ctx, RecordPath("2026-10-16", "u1", "legacy"), store.Record{
		"status": StatusExit, "endTs": clk.t.UnixMilli(), "method": MethodGeofence,
	}))
	require.NoError(t, st.Write(ctx, RecordPath("2026-10-16", "u1", "junk"), store.Record{"status": 12}))

	got, err := l.History(ctx, "u1", "2026-10-16")
	require.NoError(t, err)
	require.Len(t, got, 3)
	// the legacy row has no start and sorts first
	assert.Equal(t, "legacy", got[0].SessionID)
	assert.NotNil(t, got[0].End)
	assert.Equal(t, first.SessionID, got[1].SessionID)
	assert.Equal(t, StatusCompleted, got[1].Status)
	require.NotNil(t, got[1].DurationMs)
	assert.Equal(t, time.Hour.Milliseconds(), *got[1].DurationMs)
	assert.Equal(t, second.SessionID, got[2].SessionID)
	assert.Nil(t, got[2].End)

	_, err = l.History(ctx, "u1", "16-10-2026")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLifecycle()

	for _, hours := range []int{2, 4} {
		_, err := l.OnEnter(ctx, "u1", "g")
		require.NoError(t, err)
		clk.advance(time.Duration(hours) * time.Hour)
		_, err = l.MarkVerified(ctx, "u1", "geofence+liveness+fr")
		require.NoError(t, err)
		_, err = l.OnExit(ctx, "u1")
		require.NoError(t, err)
		clk.t = time.Date(clk.t.Year(), clk.t.Month(), clk.t.Day()+1, 9, 0, 0, 0, time.UTC)
	}
	// an open session today
	_, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)

	sum, err := l.Summary(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16", sum.From)
	assert.Equal(t, "2026-10-18", sum.To)
	assert.Equal(t, 3, sum.Sessions)
	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 2, sum.Verified)
	assert.Equal(t, (6 * time.Hour).Milliseconds(), sum.TotalDurationMs)
	assert.InDelta(t, float64((3 * time.Hour).Milliseconds()), sum.MeanDurationMs, 1e-6)
	assert.Greater(t, sum.StdDevDurationMs, 0.0)
}
