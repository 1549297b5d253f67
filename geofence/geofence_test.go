package geofence

import (
	"context"
	"testing"
	"time"

	"PRESENCE/presence"
	"PRESENCE/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	campusLat = 13.066602
	campusLng = 77.504582
	// meters per degree of latitude on the mean earth radius
	metersPerDegree = 111195.08
)

func northOfCampus(meters float64) *Fix {
	return &Fix{Latitude: campusLat + meters/metersPerDegree, Longitude: campusLng}
}

type fakeSessions struct {
	enters []string
	exits  int
	open   bool
}

func (f *fakeSessions) OnEnter(ctx context.Context, userID, geofenceID string) (presence.EnterResult, error) {
	f.enters = append(f.enters, geofenceID)
	if f.open {
		return presence.EnterResult{SessionID: "s1"}, nil
	}
	f.open = true
	return presence.EnterResult{SessionID: "s1", Opened: true}, nil
}

func (f *fakeSessions) OnExit(ctx context.Context, userID string) (presence.ExitResult, error) {
	f.exits++
	if !f.open {
		return presence.ExitResult{}, nil
	}
	f.open = false
	return presence.ExitResult{SessionID: "s1", Closed: true}, nil
}

func newConfirmer(t *testing.T) (*Confirmer, *fakeSessions) {
	t.Helper()
	specs := NewStoreSpecs(store.NewMemory())
	require.NoError(t, specs.Put(context.Background(), Spec{
		ID: "campus_main", CenterLat: campusLat, CenterLng: campusLng, RadiusMeters: 100,
	}))
	sessions := &fakeSessions{}
	return NewConfirmer(specs, sessions, 20), sessions
}

func TestHandle_EnterDecidedByFreshFix(t *testing.T) {
	tests := []struct {
		name    string
		fix     *Fix
		outcome Outcome
	}{
		{"at center", northOfCampus(0), OutcomeOpened},
		{"inside margin", northOfCampus(115), OutcomeOpened},
		{"150m with 120m allowance", northOfCampus(150), OutcomeDropped},
		{"no fix", nil, OutcomeDropped},
		{"nonsense coordinates", &Fix{Latitude: 200, Longitude: 0}, OutcomeDropped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sessions := newConfirmer(t)
			out, err := c.Handle(context.Background(), Event{
				UserID: "u1", GeofenceID: "campus_main", Transition: Enter,
			}, ReportedFix{Fix: tt.fix})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, out)
			if tt.outcome == OutcomeDropped {
				assert.Empty(t, sessions.enters, "a dropped event must not touch the lifecycle")
			} else {
				assert.Equal(t, []string{"campus_main"}, sessions.enters)
			}
		})
	}
}

func TestHandle_EnterWithFutureStampedFixDropped(t *testing.T) {
	c, sessions := newConfirmer(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	out, err := c.Handle(context.Background(), Event{
		UserID: "u1", GeofenceID: "campus_main", Transition: Enter,
	}, ReportedFix{
		Fix:        northOfCampus(0),
		CapturedAt: now.AddDate(1, 0, 0),
		MaxAge:     30 * time.Second,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, out)
	assert.Empty(t, sessions.enters)
}

func TestHandle_DwellAfterEnterIsAlreadyOpen(t *testing.T) {
	c, _ := newConfirmer(t)
	ctx := context.Background()
	loc := ReportedFix{Fix: northOfCampus(10)}

	out, err := c.Handle(ctx, Event{UserID: "u1", GeofenceID: "campus_main", Transition: Enter}, loc)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, out)

	out, err = c.Handle(ctx, Event{UserID: "u1", GeofenceID: "campus_main", Transition: Dwell}, loc)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyOpen, out)
}

func TestHandle_ExitSkipsLocationCheck(t *testing.T) {
	c, sessions := newConfirmer(t)
	ctx := context.Background()
	sessions.open = true

	out, err := c.Handle(ctx, Event{UserID: "u1", GeofenceID: "campus_main", Transition: Exit}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, out)

	out, err = c.Handle(ctx, Event{UserID: "u1", GeofenceID: "campus_main", Transition: Exit}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSession, out)
	assert.Equal(t, 2, sessions.exits)
}

func TestHandle_UnknownGeofenceDropped(t *testing.T) {
	c, sessions := newConfirmer(t)
	out, err := c.Handle(context.Background(), Event{
		UserID: "u1", GeofenceID: "library", Transition: Enter,
	}, ReportedFix{Fix: northOfCampus(0)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, out)
	assert.Empty(t, sessions.enters)
}

func TestHandle_UnknownTransition(t *testing.T) {
	c, _ := newConfirmer(t)
	_, err := c.Handle(context.Background(), Event{UserID: "u1", Transition: "teleport"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTransition)
}

func TestParseTransition(t *testing.T) {
	for in, want := range map[string]Transition{"enter": Enter, "1": Enter, "EXIT": Exit, "2": Exit, "dwell": Dwell, "4": Dwell} {
		got, err := ParseTransition(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTransition("3")
	assert.ErrorIs(t, err, ErrUnknownTransition)
}

func TestReportedFix_Staleness(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	fix := northOfCampus(0)

	_, err := ReportedFix{Fix: fix, CapturedAt: now.Add(-29 * time.Second), MaxAge: 30 * time.Second, Now: clock}.CurrentFix(context.Background())
	assert.NoError(t, err)

	_, err = ReportedFix{Fix: fix, CapturedAt: now.Add(-31 * time.Second), MaxAge: 30 * time.Second, Now: clock}.CurrentFix(context.Background())
	assert.ErrorIs(t, err, ErrLocationUnavailable)

	_, err = ReportedFix{Fix: fix, CapturedAt: now.Add(4 * time.Second), MaxAge: 30 * time.Second, Now: clock}.CurrentFix(context.Background())
	assert.NoError(t, err, "small clock skew is tolerated")

	_, err = ReportedFix{Fix: fix, CapturedAt: now.AddDate(1, 0, 0), MaxAge: 30 * time.Second, Now: clock}.CurrentFix(context.Background())
	assert.ErrorIs(t, err, ErrLocationUnavailable, "a fix stamped in the future is not fresh")

	_, err = ReportedFix{Fix: fix, MaxAge: 30 * time.Second, Now: clock}.CurrentFix(context.Background())
	assert.ErrorIs(t, err, ErrLocationUnavailable, "freshness cannot be judged without a capture time")

	_, err = ReportedFix{Fix: fix}.CurrentFix(context.Background())
	assert.NoError(t, err, "no age limit configured")
}

func TestStoreSpecs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Write(ctx, SpecPath("campus_main"), store.Record{
		"lat": campusLat, "lng": campusLng, "radiusMeters": 100,
	}))
	require.NoError(t, st.Write(ctx, SpecPath("broken"), store.Record{"lat": "13.0"}))

	specs := NewStoreSpecs(st)
	spec, err := specs.Spec(ctx, "campus_main")
	require.NoError(t, err)
	assert.Equal(t, 100.0, spec.RadiusMeters)
	assert.Equal(t, "campus_main", spec.ID)

	// cached: later edits to the record are not seen
	require.NoError(t, st.Delete(ctx, SpecPath("campus_main")))
	_, err = specs.Spec(ctx, "campus_main")
	assert.NoError(t, err)

	_, err = specs.Spec(ctx, "broken")
	assert.ErrorIs(t, err, ErrUnknownGeofence)
	_, err = specs.Spec(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownGeofence)

	assert.Error(t, specs.Put(ctx, Spec{ID: "bad", RadiusMeters: 0}))
}
