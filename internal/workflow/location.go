package workflow

import (
	"context"
	"errors"

	"github.com/vendorhub/vendor-portal/internal/vendors"
)

// Locator produces the visitor's current position.
type Locator interface {
	Locate(ctx context.Context) (vendors.Coordinate, error)
}

// ReportedLocation is a position (or failure) reported by the visitor's
// browser. Error carries the provider's message when no position exists.
type ReportedLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Error     string   `json:"error,omitempty"`
}

// Locate implements Locator.
func (r ReportedLocation) Locate(ctx context.Context) (vendors.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return vendors.Coordinate{}, err
	}
	if r.Error != "" {
		return vendors.Coordinate{}, errors.New(r.Error)
	}
	if r.Latitude == nil || r.Longitude == nil {
		return vendors.Coordinate{}, errors.New("no position reported")
	}
	return vendors.NewCoordinate(*r.Latitude, *r.Longitude)
}
