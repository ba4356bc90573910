package models

// LocationSource identifies where a location fix came from
type LocationSource string

const (
	SourceBrowser       LocationSource = "browser"
	SourceIPGeolocation LocationSource = "ip-geolocation"
	SourceIPFallback    LocationSource = "ip-fallback"
)

// Rank orders sources by precision; higher is more precise
func (s LocationSource) Rank() int {
	switch s {
	case SourceBrowser:
		return 3
	case SourceIPGeolocation:
		return 2
	case SourceIPFallback:
		return 1
	default:
		return 0
	}
}

// LocationInfo is a best-effort position for the device
type LocationInfo struct {
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Source         LocationSource `json:"source"`
	AccuracyMeters float64        `json:"accuracy_meters"`
}

// Supersedes reports whether l should replace current
func (l *LocationInfo) Supersedes(current *LocationInfo) bool {
	if l == nil {
		return false
	}
	if current == nil {
		return true
	}
	return l.Source.Rank() >= current.Source.Rank()
}

// ReputationInfo summarizes network reputation signals for a client IP
type ReputationInfo struct {
	Flagged         bool   `json:"flagged"`
	ConfidenceScore int    `json:"confidence_score"` // 0-100
	Details         string `json:"details"`
}
