package presence

import (
	"context"
	"testing"
	"time"

	"PRESENCE/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditor_ReportsOrphanFromFailedPointerWrite(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	st.failOp, st.failPrefix = "write", PointerPath("u1")
	_, err := l.OnEnter(ctx, "u1", "g")
	require.Error(t, err)

	clk.advance(time.Minute)
	live, err := l.OnEnter(ctx, "u1", "g")
	require.NoError(t, err)

	// a second user with a single clean session is not reported
	_, err = l.OnEnter(ctx, "u2", "g")
	require.NoError(t, err)

	before := st.Len()
	reports, err := NewAuditor(st).DuplicateSessions(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, before, st.Len(), "the audit must not mutate the store")

	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, "u1", r.UserID)
	assert.Len(t, r.SessionIDs, 2)
	assert.Contains(t, r.SessionIDs, live.SessionID)
	require.Len(t, r.Orphans, 1)
	assert.NotEqual(t, live.SessionID, r.Orphans[0])
}

func TestAuditor_CompletedDuplicatesHaveNoOrphans(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLifecycle()

	for i := 0; i < 2; i++ {
		_, err := l.OnEnter(ctx, "u1", "g")
		require.NoError(t, err)
		clk.advance(time.Hour)
		_, err = l.OnExit(ctx, "u1")
		require.NoError(t, err)
	}

	reports, err := NewAuditor(st).DuplicateSessions(ctx, "2026-10-16")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].SessionIDs, 2)
	assert.Empty(t, reports[0].Orphans)
}

func TestAuditor_EmptyDayAndBadDate(t *testing.T) {
	a := NewAuditor(store.NewMemory())

	reports, err := a.DuplicateSessions(context.Background(), "2026-10-16")
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = a.DuplicateSessions(context.Background(), "yesterday")
	assert.Error(t, err)
}
