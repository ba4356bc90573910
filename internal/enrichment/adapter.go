package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/models"
)

const (
	// DefaultAccuracyThresholdMeters is the worst accuracy accepted from the
	// precise provider before the fallback is consulted.
	DefaultAccuracyThresholdMeters = 50_000

	DefaultCacheTTL = 5 * time.Minute
	DefaultTimeout  = 3 * time.Second

	// Score contributions of individual reputation signals
	ProxyScore         = 40
	HostingScore       = 30
	SuspiciousOrgScore = 20

	// FlagThreshold is the confidence at which an IP is flagged
	FlagThreshold = 50
)

// suspiciousOrgMarkers are matched case-insensitively against organization names
var suspiciousOrgMarkers = []string{
	"vpn", "proxy", "hosting", "cloud", "datacenter", "data center", "vps",
	"digitalocean", "linode", "ovh", "hetzner", "amazon", "aws", "azure",
	"m247", "choopa", "vultr", "tor exit",
}

// Config tunes an Adapter. Zero values select the defaults above.
type Config struct {
	Precise                 GeoProvider
	Fallback                GeoProvider
	Signals                 []SignalProvider
	AccuracyThresholdMeters float64
	CacheTTL                time.Duration
	MaxCacheEntries         int
	Timeout                 time.Duration
	Clock                   clock.Clock
	Logger                  *slog.Logger
}

// Adapter wraps the external lookups behind a cached, coalesced interface
type Adapter struct {
	precise   GeoProvider
	fallback  GeoProvider
	signals   []SignalProvider
	threshold float64
	ttl       time.Duration
	timeout   time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	locations   *ttlCache[*models.LocationInfo]
	reputations *ttlCache[models.ReputationInfo]
	group       singleflight.Group
}

// NewAdapter builds an Adapter from cfg
func NewAdapter(cfg Config) *Adapter {
	a := &Adapter{
		precise:   cfg.Precise,
		fallback:  cfg.Fallback,
		signals:   cfg.Signals,
		threshold: cfg.AccuracyThresholdMeters,
		ttl:       cfg.CacheTTL,
		timeout:   cfg.Timeout,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
	if a.threshold <= 0 {
		a.threshold = DefaultAccuracyThresholdMeters
	}
	if a.ttl <= 0 {
		a.ttl = DefaultCacheTTL
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With(slog.String("component", "enrichment"))
	a.locations = newTTLCache[*models.LocationInfo](a.clock, cfg.MaxCacheEntries)
	a.reputations = newTTLCache[models.ReputationInfo](a.clock, cfg.MaxCacheEntries)
	return a
}

// Locate returns a position for ip, or nil when none could be determined
func (a *Adapter) Locate(ctx context.Context, ip string) *models.LocationInfo {
	if !routable(ip) {
		return nil
	}
	if loc, ok := a.locations.get(ip); ok {
		return cloneLocation(loc)
	}

	v, _, _ := a.group.Do("geo:"+ip, func() (interface{}, error) {
		if loc, ok := a.locations.get(ip); ok {
			return loc, nil
		}
		loc := a.lookupLocation(ctx, ip)
		ttl := a.ttl
		if loc == nil {
			ttl = a.negativeTTL()
		}
		a.locations.set(ip, loc, ttl)
		return loc, nil
	})
	loc, _ := v.(*models.LocationInfo)
	return cloneLocation(loc)
}

func (a *Adapter) lookupLocation(ctx context.Context, ip string) *models.LocationInfo {
	var coarse *models.LocationInfo

	if a.precise != nil {
		loc, err := a.callGeo(ctx, a.precise, ip)
		switch {
		case err != nil:
			a.logger.Warn("precise geolocation failed",
				slog.String("provider", a.precise.Name()), slog.String("ip", ip), slog.Any("error", err))
		case loc == nil:
		case loc.AccuracyMeters > 0 && loc.AccuracyMeters <= a.threshold:
			loc.Source = models.SourceIPGeolocation
			return loc
		default:
			loc.Source = models.SourceIPGeolocation
			coarse = loc
			a.logger.Debug("precise geolocation too coarse, trying fallback",
				slog.String("ip", ip), slog.Float64("accuracy_m", loc.AccuracyMeters))
		}
	}

	if a.fallback != nil {
		loc, err := a.callGeo(ctx, a.fallback, ip)
		if err != nil {
			a.logger.Warn("fallback geolocation failed",
				slog.String("provider", a.fallback.Name()), slog.String("ip", ip), slog.Any("error", err))
		} else if loc != nil {
			loc.Source = models.SourceIPFallback
			return loc
		}
	}
	return coarse
}

func (a *Adapter) callGeo(ctx context.Context, p GeoProvider, ip string) (*models.LocationInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return p.Locate(ctx, ip)
}

// CheckReputation scores ip from every signal provider. A cache hit skips
// all provider calls.
func (a *Adapter) CheckReputation(ctx context.Context, ip string) models.ReputationInfo {
	if !routable(ip) {
		return models.ReputationInfo{Details: "local address"}
	}
	if info, ok := a.reputations.get(ip); ok {
		return info
	}

	v, _, _ := a.group.Do("rep:"+ip, func() (interface{}, error) {
		if info, ok := a.reputations.get(ip); ok {
			return info, nil
		}
		info, answered := a.lookupReputation(ctx, ip)
		ttl := a.ttl
		if !answered {
			ttl = a.negativeTTL()
		}
		a.reputations.set(ip, info, ttl)
		return info, nil
	})
	info, _ := v.(models.ReputationInfo)
	return info
}

func (a *Adapter) lookupReputation(ctx context.Context, ip string) (models.ReputationInfo, bool) {
	var (
		combined Signals
		orgs     []string
		answered bool
	)
	for _, p := range a.signals {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		s, err := p.Signals(callCtx, ip)
		cancel()
		if err != nil {
			a.logger.Warn("reputation lookup failed",
				slog.String("provider", p.Name()), slog.String("ip", ip), slog.Any("error", err))
			continue
		}
		answered = true
		combined.Proxy = combined.Proxy || s.Proxy
		combined.Hosting = combined.Hosting || s.Hosting
		if s.Organization != "" {
			orgs = append(orgs, s.Organization)
		}
	}
	if !answered {
		return models.ReputationInfo{Details: "reputation unavailable"}, false
	}
	combined.Organization = strings.Join(orgs, ", ")
	return Score(combined), true
}

// Score turns signals into an additive confidence, clamped to 100
func Score(s Signals) models.ReputationInfo {
	score := 0
	var reasons []string
	if s.Proxy {
		score += ProxyScore
		reasons = append(reasons, "proxy or VPN detected")
	}
	if s.Hosting {
		score += HostingScore
		reasons = append(reasons, "hosting provider network")
	}
	if SuspiciousOrganization(s.Organization) {
		score += SuspiciousOrgScore
		reasons = append(reasons, fmt.Sprintf("suspicious organization %q", s.Organization))
	}
	if score > 100 {
		score = 100
	}

	details := "no risk signals"
	if len(reasons) > 0 {
		details = strings.Join(reasons, "; ")
	}
	return models.ReputationInfo{
		Flagged:         score >= FlagThreshold,
		ConfidenceScore: score,
		Details:         details,
	}
}

// SuspiciousOrganization reports whether org looks like a VPN or hosting operator
func SuspiciousOrganization(org string) bool {
	if org == "" {
		return false
	}
	lower := strings.ToLower(org)
	for _, marker := range suspiciousOrgMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Purge drops expired cache entries
func (a *Adapter) Purge() {
	geo := a.locations.purge()
	rep := a.reputations.purge()
	a.logger.Debug("enrichment cache purged", slog.Int("locations_left", geo), slog.Int("reputations_left", rep))
}

// negativeTTL bounds how often a failing provider is retried for one IP
func (a *Adapter) negativeTTL() time.Duration {
	return a.ttl / 5
}

// routable reports whether ip is worth sending to a public lookup service
func routable(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return !(parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsMulticast())
}

func cloneLocation(loc *models.LocationInfo) *models.LocationInfo {
	if loc == nil {
		return nil
	}
	c := *loc
	return &c
}
