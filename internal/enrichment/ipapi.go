package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/models"
	"aerospin-backend/internal/retry"
)

// DefaultIPAPIURL is the ip-api.com JSON endpoint
const DefaultIPAPIURL = "http://ip-api.com/json"

// ipAPIFields limits the response to what the dashboard uses
const ipAPIFields = "status,message,lat,lon,org,isp,proxy,hosting"

// ipAPIMemoTTL lets Locate and Signals for the same push share one response
const ipAPIMemoTTL = 30 * time.Second

// IPAPIClient queries ip-api.com. It serves both as the precise geolocation
// provider and as a proxy/hosting signal provider; one upstream request per
// IP answers both.
type IPAPIClient struct {
	baseURL        string
	accuracyMeters float64
	client         jsonClient

	memo  *ttlCache[*ipAPIResponse]
	group singleflight.Group
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Org     string  `json:"org"`
	ISP     string  `json:"isp"`
	Proxy   bool    `json:"proxy"`
	Hosting bool    `json:"hosting"`
}

// NewIPAPIClient creates a client. ip-api.com does not report accuracy, so
// every fix is tagged with accuracyMeters.
func NewIPAPIClient(baseURL string, accuracyMeters float64, httpClient *http.Client, policy retry.Policy) *IPAPIClient {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	return &IPAPIClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		accuracyMeters: accuracyMeters,
		client:         newJSONClient(httpClient, policy),
		memo:           newTTLCache[*ipAPIResponse](clock.Real(), 0),
	}
}

// Name identifies the provider in logs
func (c *IPAPIClient) Name() string { return "ip-api" }

// fetch returns a recent successful response for ip or asks upstream once,
// however many callers are waiting. Failures are not memoized.
func (c *IPAPIClient) fetch(ctx context.Context, ip string) (*ipAPIResponse, error) {
	if resp, ok := c.memo.get(ip); ok {
		return resp, nil
	}
	v, err, _ := c.group.Do(ip, func() (interface{}, error) {
		if resp, ok := c.memo.get(ip); ok {
			return resp, nil
		}
		resp, err := c.request(ctx, ip)
		if err != nil {
			return nil, err
		}
		c.memo.set(ip, resp, ipAPIMemoTTL)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ipAPIResponse), nil
}

func (c *IPAPIClient) request(ctx context.Context, ip string) (*ipAPIResponse, error) {
	u := fmt.Sprintf("%s/%s?fields=%s", c.baseURL, url.PathEscape(ip), ipAPIFields)

	var resp ipAPIResponse
	if err := c.client.get(ctx, "ip-api "+ip, u, &resp); err != nil {
		return nil, fmt.Errorf("ip-api lookup for %s: %w", ip, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("ip-api lookup for %s: %w: %s", ip, errLookupFailed, resp.Message)
	}
	return &resp, nil
}

// Locate implements GeoProvider
func (c *IPAPIClient) Locate(ctx context.Context, ip string) (*models.LocationInfo, error) {
	resp, err := c.fetch(ctx, ip)
	if err != nil {
		return nil, err
	}
	return &models.LocationInfo{
		Latitude:       resp.Lat,
		Longitude:      resp.Lon,
		Source:         models.SourceIPGeolocation,
		AccuracyMeters: c.accuracyMeters,
	}, nil
}

// Signals implements SignalProvider
func (c *IPAPIClient) Signals(ctx context.Context, ip string) (Signals, error) {
	resp, err := c.fetch(ctx, ip)
	if err != nil {
		return Signals{}, err
	}
	org := resp.Org
	if org == "" {
		org = resp.ISP
	}
	return Signals{Proxy: resp.Proxy, Hosting: resp.Hosting, Organization: org}, nil
}
