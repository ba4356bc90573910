// Package enrichment annotates device pushes with best-effort geolocation and
// network reputation. Lookups never fail the caller: every error degrades to
// a neutral value.
package enrichment

import (
	"context"

	"aerospin-backend/internal/models"
)

// GeoProvider resolves an IP address to a position
type GeoProvider interface {
	Name() string
	Locate(ctx context.Context, ip string) (*models.LocationInfo, error)
}

// Signals are the raw reputation indicators reported by one provider
type Signals struct {
	Proxy        bool
	Hosting      bool
	Organization string
}

// SignalProvider reports reputation indicators for an IP address
type SignalProvider interface {
	Name() string
	Signals(ctx context.Context, ip string) (Signals, error)
}
