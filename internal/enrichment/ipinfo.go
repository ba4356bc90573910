package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"aerospin-backend/internal/models"
	"aerospin-backend/internal/retry"
)

// DefaultIPInfoURL is the ipinfo.io API root
const DefaultIPInfoURL = "https://ipinfo.io"

// IPInfoClient queries ipinfo.io for a coarse IP-range location and the
// owning organization.
type IPInfoClient struct {
	baseURL        string
	token          string
	accuracyMeters float64
	client         jsonClient
}

type ipInfoResponse struct {
	Loc string `json:"loc"` // "lat,lon"
	Org string `json:"org"`
}

// NewIPInfoClient creates a client. token may be empty for the anonymous tier.
func NewIPInfoClient(baseURL, token string, accuracyMeters float64, httpClient *http.Client, policy retry.Policy) *IPInfoClient {
	if baseURL == "" {
		baseURL = DefaultIPInfoURL
	}
	return &IPInfoClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		accuracyMeters: accuracyMeters,
		client:         newJSONClient(httpClient, policy),
	}
}

// Name identifies the provider in logs
func (c *IPInfoClient) Name() string { return "ipinfo" }

func (c *IPInfoClient) fetch(ctx context.Context, ip string) (*ipInfoResponse, error) {
	u := fmt.Sprintf("%s/%s/json", c.baseURL, url.PathEscape(ip))
	if c.token != "" {
		u += "?token=" + url.QueryEscape(c.token)
	}

	var resp ipInfoResponse
	if err := c.client.get(ctx, "ipinfo "+ip, u, &resp); err != nil {
		return nil, fmt.Errorf("ipinfo lookup for %s: %w", ip, err)
	}
	return &resp, nil
}

// Locate implements GeoProvider
func (c *IPInfoClient) Locate(ctx context.Context, ip string) (*models.LocationInfo, error) {
	resp, err := c.fetch(ctx, ip)
	if err != nil {
		return nil, err
	}
	lat, lon, err := parseLoc(resp.Loc)
	if err != nil {
		return nil, fmt.Errorf("ipinfo lookup for %s: %w", ip, err)
	}
	return &models.LocationInfo{
		Latitude:       lat,
		Longitude:      lon,
		Source:         models.SourceIPFallback,
		AccuracyMeters: c.accuracyMeters,
	}, nil
}

// Signals implements SignalProvider. ipinfo only contributes the
// organization name.
func (c *IPInfoClient) Signals(ctx context.Context, ip string) (Signals, error) {
	resp, err := c.fetch(ctx, ip)
	if err != nil {
		return Signals{}, err
	}
	return Signals{Organization: resp.Org}, nil
}

func parseLoc(loc string) (float64, float64, error) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: malformed loc %q", errLookupFailed, loc)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed latitude: %v", errLookupFailed, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed longitude: %v", errLookupFailed, err)
	}
	return lat, lon, nil
}
