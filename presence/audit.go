package presence

import (
	"context"
	"fmt"
	"sort"

	"PRESENCE/logger"
	"PRESENCE/store"
)

// DuplicateReport describes a user with more than one attendance record on a day.
type DuplicateReport struct {
	UserID     string   `json:"userId"`
	Date       string   `json:"date"`
	SessionIDs []string `json:"sessionIds"`
	// Orphans are still "present" but not referenced by the user's pointer. They
	// come from an enter whose pointer write failed.
	Orphans []string `json:"orphans"`
}

// Auditor reports duplicate sessions. It never rewrites or deletes records:
// whether duplicates are merged is left to whoever reads the report.
type Auditor struct {
	store store.KeyedStore
}

func NewAuditor(st store.KeyedStore) *Auditor {
	return &Auditor{store: st}
}

func (a *Auditor) DuplicateSessions(ctx context.Context, date string) ([]DuplicateReport, error) {
	if !validDay(date) {
		return nil, fmt.Errorf("invalid date %q", date)
	}
	users, err := a.store.Keys(ctx, store.Join(attendanceRoot, date))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var reports []DuplicateReport
	for _, userID := range users {
		children, err := a.store.Children(ctx, DayPath(date, userID))
		if err != nil {
			return nil, fmt.Errorf("list records for %s: %w", userID, err)
		}
		if len(children) < 2 {
			continue
		}

		var ptr Pointer
		var hasPtr bool
		if raw, found, err := a.store.Read(ctx, PointerPath(userID)); err != nil {
			return nil, fmt.Errorf("read pointer for %s: %w", userID, err)
		} else if found {
			ptr, hasPtr = decodePointer(raw)
		}

		report := DuplicateReport{UserID: userID, Date: date, Orphans: []string{}}
		for id, raw := range children {
			report.SessionIDs = append(report.SessionIDs, id)
			rec, ok := decodeRecord(date, id, raw)
			if !ok || rec.Status != StatusPresent {
				continue
			}
			if !hasPtr || ptr.Date != date || ptr.SessionID != id {
				report.Orphans = append(report.Orphans, id)
			}
		}
		sort.Strings(report.SessionIDs)
		sort.Strings(report.Orphans)
		reports = append(reports, report)

		logger.Warning("duplicate attendance sessions", logger.LoggerOptions{
			Key:  "report",
			Data: report,
		})
	}
	return reports, nil
}
