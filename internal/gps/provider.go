package gps

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the interface for position sources. A provider is asked for
// permission first and then for a single fix; it never streams.
type Provider interface {
	Name() string
	// RequestPermission returns an error wrapping ErrPermissionDenied when the
	// position may not be read.
	RequestPermission(ctx context.Context) error
	// CurrentPosition returns one fix. May block until ctx ends.
	CurrentPosition(ctx context.Context) (Position, error)
}

// Position is a single fix in decimal degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

var (
	ErrPermissionDenied  = errors.New("gps: permission denied")
	ErrAcquisitionFailed = errors.New("gps: acquisition failed")
)

// Acquire asks p for permission and then for one position. A denial fails
// immediately without touching the receiver. There is no retry: calling
// Acquire again is a fresh attempt, including a fresh permission request.
func Acquire(ctx context.Context, p Provider) (Position, error) {
	if p == nil {
		return Position{}, fmt.Errorf("%w: no provider", ErrAcquisitionFailed)
	}
	if err := p.RequestPermission(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return Position{}, err
		}
		return Position{}, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}

	pos, err := p.CurrentPosition(ctx)
	if err != nil {
		if errors.Is(err, ErrAcquisitionFailed) {
			return Position{}, err
		}
		return Position{}, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	if !pos.Valid() {
		return Position{}, fmt.Errorf("%w: out of range %.6f,%.6f", ErrAcquisitionFailed, pos.Latitude, pos.Longitude)
	}
	return pos, nil
}

// Valid reports whether the coordinates are inside the WGS84 ranges.
func (p Position) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}
