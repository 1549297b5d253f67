// Package geofence re-checks coarse geofence transitions against a fresh location
// fix before they are allowed to open a presence session.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"PRESENCE/helper"
	"PRESENCE/logger"
	"PRESENCE/presence"
)

type Transition string

const (
	Enter Transition = "enter"
	Dwell Transition = "dwell"
	Exit  Transition = "exit"
)

var (
	ErrUnknownTransition   = errors.New("geofence: unknown transition")
	ErrLocationUnavailable = errors.New("geofence: location unavailable")
	ErrUnknownGeofence     = errors.New("geofence: unknown geofence")
)

// ParseTransition accepts the transition names and the numeric codes the mobile
// geofencing API reports (1 enter, 2 exit, 4 dwell).
func ParseTransition(s string) (Transition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enter", "1":
		return Enter, nil
	case "exit", "2":
		return Exit, nil
	case "dwell", "4":
		return Dwell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransition, s)
	}
}

type Spec struct {
	ID           string  `json:"id"`
	CenterLat    float64 `json:"lat"`
	CenterLng    float64 `json:"lng"`
	RadiusMeters float64 `json:"radiusMeters"`
}

type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Locator yields one current location fix or ErrLocationUnavailable.
type Locator interface {
	CurrentFix(ctx context.Context) (Fix, error)
}

// Sessions is the part of the presence lifecycle the confirmer drives.
type Sessions interface {
	OnEnter(ctx context.Context, userID, geofenceID string) (presence.EnterResult, error)
	OnExit(ctx context.Context, userID string) (presence.ExitResult, error)
}

type Event struct {
	UserID     string
	GeofenceID string
	Transition Transition
}

type Outcome string

const (
	OutcomeOpened      Outcome = "opened"
	OutcomeAlreadyOpen Outcome = "already_open"
	OutcomeDropped     Outcome = "dropped"
	OutcomeClosed      Outcome = "closed"
	OutcomeNoSession   Outcome = "no_session"
)

type Confirmer struct {
	specs    SpecSource
	sessions Sessions
	margin   float64
}

// NewConfirmer builds a confirmer that accepts fixes up to marginMeters outside
// the geofence radius, absorbing GPS noise.
func NewConfirmer(specs SpecSource, sessions Sessions, marginMeters float64) *Confirmer {
	return &Confirmer{specs: specs, sessions: sessions, margin: marginMeters}
}

// Inside reports whether fix lies within the spec radius plus margin, and the
// distance to the center.
func (c *Confirmer) Inside(spec Spec, fix Fix) (bool, float64) {
	d := helper.Geolocation(fix.Latitude, fix.Longitude, spec.CenterLat, spec.CenterLng)
	return d <= spec.RadiusMeters+c.margin, d
}

// Handle applies one transition. Enter and dwell open a session only after a
// fresh fix confirms the user is inside; anything that prevents the check drops
// the event. Exit closes without a check.
func (c *Confirmer) Handle(ctx context.Context, ev Event, loc Locator) (Outcome, error) {
	switch ev.Transition {
	case Enter, Dwell:
		return c.confirmEnter(ctx, ev, loc)
	case Exit:
		res, err := c.sessions.OnExit(ctx, ev.UserID)
		if err != nil {
			return "", err
		}
		if !res.Closed {
			return OutcomeNoSession, nil
		}
		return OutcomeClosed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransition, ev.Transition)
	}
}

func (c *Confirmer) confirmEnter(ctx context.Context, ev Event, loc Locator) (Outcome, error) {
	spec, err := c.specs.Spec(ctx, ev.GeofenceID)
	if err != nil {
		if !errors.Is(err, ErrUnknownGeofence) {
			return "", err
		}
		logger.Warning("transition for unknown geofence dropped", logger.LoggerOptions{
			Key:  "geofence",
			Data: ev.GeofenceID,
		}, logger.LoggerOptions{
			Key:  "user",
			Data: ev.UserID,
		})
		return OutcomeDropped, nil
	}

	if loc == nil {
		return OutcomeDropped, nil
	}
	fix, err := loc.CurrentFix(ctx)
	if err != nil {
		logger.Info("transition dropped: no location fix", logger.LoggerOptions{
			Key:  "user",
			Data: ev.UserID,
		}, logger.LoggerOptions{
			Key:  "reason",
			Data: err.Error(),
		})
		return OutcomeDropped, nil
	}

	inside, distance := c.Inside(spec, fix)
	if !inside {
		logger.Info("transition dropped: not inside radius now", logger.LoggerOptions{
			Key:  "user",
			Data: ev.UserID,
		}, logger.LoggerOptions{
			Key:  "distanceMeters",
			Data: distance,
		})
		return OutcomeDropped, nil
	}

	res, err := c.sessions.OnEnter(ctx, ev.UserID, spec.ID)
	if err != nil {
		return "", err
	}
	if !res.Opened {
		return OutcomeAlreadyOpen, nil
	}
	return OutcomeOpened, nil
}
