package presence

import (
	"encoding/json"
	"math"
	"time"

	"PRESENCE/store"
)

const (
	StatusPresent   = "present"
	StatusCompleted = "completed"
	// enter and exit are written by older clients that logged raw transitions.
	StatusEnter = "enter"
	StatusExit  = "exit"

	MethodGeofence = "geofence"

	pointerRoot    = "presenceOpen"
	attendanceRoot = "attendance"

	dayLayout = "2006-01-02"
)

// Pointer is the per-user record naming the currently open session. Its presence,
// not the attendance collection, decides whether a session is open.
type Pointer struct {
	Date       string    `json:"date"`
	SessionID  string    `json:"sessionId"`
	Start      time.Time `json:"start"`
	GeofenceID string    `json:"geofenceId,omitempty"`
}

type AttendanceRecord struct {
	SessionID  string     `json:"sessionId"`
	Date       string     `json:"date"`
	Start      time.Time  `json:"start"`
	End        *time.Time `json:"end,omitempty"`
	DurationMs *int64     `json:"durationMs,omitempty"`
	Status     string     `json:"status"`
	Method     string     `json:"method"`
	GeofenceID string     `json:"geofenceId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

func PointerPath(userID string) string {
	return store.Join(pointerRoot, userID)
}

func DayPath(date, userID string) string {
	return store.Join(attendanceRoot, date, userID)
}

func RecordPath(date, userID, sessionID string) string {
	return store.Join(attendanceRoot, date, userID, sessionID)
}

func encodePointer(p Pointer) store.Record {
	rec := store.Record{
		"date":      p.Date,
		"sessionId": p.SessionID,
		"start":     p.Start.UnixMilli(),
	}
	if p.GeofenceID != "" {
		rec["geofenceId"] = p.GeofenceID
	}
	return rec
}

// decodePointer fails closed: any missing or mistyped field yields ok=false.
// "key" is accepted for pointers written before sessionId was introduced.
func decodePointer(r store.Record) (Pointer, bool) {
	date, ok := stringField(r, "date")
	if !ok || !validDay(date) {
		return Pointer{}, false
	}
	sid, ok := stringField(r, "sessionId")
	if !ok {
		if sid, ok = stringField(r, "key"); !ok {
			return Pointer{}, false
		}
	}
	start, ok := millisField(r, "start")
	if !ok {
		return Pointer{}, false
	}
	geo, _ := stringField(r, "geofenceId")
	return Pointer{Date: date, SessionID: sid, Start: start, GeofenceID: geo}, true
}

func decodeRecord(date, sessionID string, r store.Record) (AttendanceRecord, bool) {
	status, ok := stringField(r, "status")
	if !ok {
		return AttendanceRecord{}, false
	}
	rec := AttendanceRecord{SessionID: sessionID, Date: date, Status: status}
	rec.Method, _ = stringField(r, "method")
	rec.GeofenceID, _ = stringField(r, "geofenceId")

	if t, ok := millisField(r, "start", "startTs"); ok {
		rec.Start = t
	}
	if t, ok := millisField(r, "timestamp"); ok {
		rec.Timestamp = t
	}
	if t, ok := millisField(r, "end", "endTs"); ok {
		rec.End = &t
	}
	if t, ok := millisField(r, "verifiedAt"); ok {
		rec.VerifiedAt = &t
	}
	if d, ok := intField(r, "durationMs"); ok {
		rec.DurationMs = &d
	}
	return rec, true
}

func stringField(r store.Record, key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok && s != ""
}

// millisField reads the first present key as epoch milliseconds.
func millisField(r store.Record, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if ms, ok := intField(r, k); ok {
			return time.UnixMilli(ms), true
		}
	}
	return time.Time{}, false
}

func intField(r store.Record, key string) (int64, bool) {
	switch v := r[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func validDay(s string) bool {
	_, err := time.Parse(dayLayout, s)
	return err == nil
}
