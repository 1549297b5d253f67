package geofence

import (
	"context"
	"fmt"
	"sync"

	"PRESENCE/store"
)

const specRoot = "geofences"

// SpecSource resolves a geofence id to its circle.
type SpecSource interface {
	Spec(ctx context.Context, id string) (Spec, error)
}

// StoreSpecs reads geofences/<id> records from the keyed store. Geofences are
// read-only configuration, so a spec is cached after the first successful load.
type StoreSpecs struct {
	store store.KeyedStore

	mu    sync.RWMutex
	cache map[string]Spec
}

func NewStoreSpecs(st store.KeyedStore) *StoreSpecs {
	return &StoreSpecs{store: st, cache: map[string]Spec{}}
}

func SpecPath(id string) string {
	return store.Join(specRoot, id)
}

func (s *StoreSpecs) Spec(ctx context.Context, id string) (Spec, error) {
	if id == "" {
		return Spec{}, ErrUnknownGeofence
	}
	s.mu.RLock()
	spec, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return spec, nil
	}

	rec, found, err := s.store.Read(ctx, SpecPath(id))
	if err != nil {
		return Spec{}, fmt.Errorf("read geofence %s: %w", id, err)
	}
	if !found {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownGeofence, id)
	}
	spec, ok = decodeSpec(id, rec)
	if !ok {
		return Spec{}, fmt.Errorf("%w: malformed record for %s", ErrUnknownGeofence, id)
	}

	s.mu.Lock()
	s.cache[id] = spec
	s.mu.Unlock()
	return spec, nil
}

// Put stores spec and refreshes the cache. Used to seed the deployment's default
// geofence.
func (s *StoreSpecs) Put(ctx context.Context, spec Spec) error {
	if spec.ID == "" || spec.RadiusMeters <= 0 || !validFix(Fix{Latitude: spec.CenterLat, Longitude: spec.CenterLng}) {
		return fmt.Errorf("invalid geofence %+v", spec)
	}
	err := s.store.Write(ctx, SpecPath(spec.ID), store.Record{
		"lat":          spec.CenterLat,
		"lng":          spec.CenterLng,
		"radiusMeters": spec.RadiusMeters,
	})
	if err != nil {
		return fmt.Errorf("write geofence %s: %w", spec.ID, err)
	}
	s.mu.Lock()
	s.cache[spec.ID] = spec
	s.mu.Unlock()
	return nil
}

func decodeSpec(id string, r store.Record) (Spec, bool) {
	lat, ok1 := r["lat"].(float64)
	lng, ok2 := r["lng"].(float64)
	radius, ok3 := r["radiusMeters"].(float64)
	if !ok1 || !ok2 || !ok3 || radius <= 0 {
		return Spec{}, false
	}
	if !validFix(Fix{Latitude: lat, Longitude: lng}) {
		return Spec{}, false
	}
	return Spec{ID: id, CenterLat: lat, CenterLng: lng, RadiusMeters: radius}, true
}
