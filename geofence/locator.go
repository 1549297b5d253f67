package geofence

import (
	"context"
	"time"
)

// MaxClockSkew is how far ahead of the server clock a fix may be stamped.
const MaxClockSkew = 5 * time.Second

// ReportedFix is a Locator over a fix the client sent along with the transition.
// When MaxAge is set the fix must carry its capture time, and a fix older than
// MaxAge or stamped more than MaxClockSkew in the future counts as unavailable.
type ReportedFix struct {
	Fix        *Fix
	CapturedAt time.Time
	MaxAge     time.Duration
	Now        func() time.Time
}

func (r ReportedFix) CurrentFix(ctx context.Context) (Fix, error) {
	if r.Fix == nil || !validFix(*r.Fix) {
		return Fix{}, ErrLocationUnavailable
	}
	if r.MaxAge > 0 {
		if r.CapturedAt.IsZero() {
			return Fix{}, ErrLocationUnavailable
		}
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		age := now().Sub(r.CapturedAt)
		if age > r.MaxAge || age < -MaxClockSkew {
			return Fix{}, ErrLocationUnavailable
		}
	}
	return *r.Fix, nil
}

func validFix(f Fix) bool {
	return f.Latitude >= -90 && f.Latitude <= 90 && f.Longitude >= -180 && f.Longitude <= 180
}
