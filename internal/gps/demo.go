package gps

import (
	"context"
	"fmt"
)

// StaticProvider always grants permission and returns a fixed position. Used
// for demos and for installations whose location is known up front.
type StaticProvider struct {
	pos Position
}

func NewStatic(lat, lng float64) *StaticProvider {
	return &StaticProvider{pos: Position{Latitude: lat, Longitude: lng}}
}

func (s *StaticProvider) Name() string { return "Static GPS" }

func (s *StaticProvider) RequestPermission(ctx context.Context) error { return nil }

func (s *StaticProvider) CurrentPosition(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	return s.pos, nil
}

// DisabledProvider denies every request; position fields stay unset.
type DisabledProvider struct{}

func (DisabledProvider) Name() string { return "GPS disabled" }

func (DisabledProvider) RequestPermission(ctx context.Context) error {
	return fmt.Errorf("%w: gps disabled by configuration", ErrPermissionDenied)
}

func (DisabledProvider) CurrentPosition(ctx context.Context) (Position, error) {
	return Position{}, fmt.Errorf("gps: disabled")
}
