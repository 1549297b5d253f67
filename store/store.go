// Package store is the keyed remote store the presence lifecycle writes to. Paths are
// slash separated ("attendance/2026-10-16/u1/01J..."); every path holds one flat
// record. There is no multi-path transaction: callers order their writes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is a loosely typed payload as it comes back from the backend. Numbers
// decode as float64, exactly like a JSON document store.
type Record map[string]any

type KeyedStore interface {
	// Read returns the record at path, or ok=false when absent.
	Read(ctx context.Context, path string) (rec Record, ok bool, err error)
	// Write replaces the record at path.
	Write(ctx context.Context, path string, value Record) error
	// Update merges fields into the record at path, creating it when absent.
	// A nil field value removes that field.
	Update(ctx context.Context, path string, fields Record) error
	// Delete removes the record at path. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error
	// PushKey returns a new unique, time ordered child key under path.
	PushKey(ctx context.Context, path string) (string, error)
	// Children lists the records directly below path, keyed by child name.
	Children(ctx context.Context, path string) (map[string]Record, error)
	// Keys lists the names directly below path, including intermediate nodes that
	// only have descendants. Backends may report a name whose subtree was emptied.
	Keys(ctx context.Context, path string) ([]string, error)
}

var (
	ErrInvalidPath = errors.New("store: invalid path")
	ErrConflict    = errors.New("store: concurrent modification")
)

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent path and the last segment.
func Split(path string) (parent, leaf string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func validPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return ErrInvalidPath
	}
	return nil
}

// NewPushKey generates a ULID: lexically sortable by creation time, like the push
// ids of the mobile backend this store mirrors.
func NewPushKey(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// normalize round-trips a record through JSON so every backend hands back the
// same shapes (float64 numbers, map[string]any objects).
func normalize(r Record) (Record, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func decode(raw []byte) (Record, error) {
	out := Record{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func merge(dst, fields Record) Record {
	if dst == nil {
		dst = Record{}
	}
	for k, v := range fields {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	return dst
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
