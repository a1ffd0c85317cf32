package cache

import (
	"fmt"
	"time"
)

// Namespace partitions cache keys. Every key stored in Redis is prefixed with its namespace.
type Namespace string

const (
	NamespaceSession         Namespace = "session"
	NamespaceCSRF            Namespace = "csrf"
	NamespaceCMUDataFrame    Namespace = "cmu_df"
	NamespaceCompanyIndex    Namespace = "company_index"
	NamespaceLocationMapping Namespace = "location_mapping"
	NamespaceMapData         Namespace = "map_data"
	NamespaceSearch          Namespace = "search"
	NamespaceStatistics      Namespace = "statistics"
	NamespaceStatsMetadata   Namespace = "stats_metadata"
)

// Namespaces lists every namespace the governor knows about.
var Namespaces = []Namespace{
	NamespaceSession,
	NamespaceCSRF,
	NamespaceCMUDataFrame,
	NamespaceCompanyIndex,
	NamespaceLocationMapping,
	NamespaceMapData,
	NamespaceSearch,
	NamespaceStatistics,
	NamespaceStatsMetadata,
}

// Policy is the per-namespace TTL discipline.
type Policy struct {
	TTL time.Duration
	// PressureTTL caps the TTL of entries while Redis memory is above the high-water mark.
	PressureTTL time.Duration
	// Fallback namespaces are mirrored into the per-process memory store.
	Fallback bool
	// Protected namespaces are never evicted by the usage governor.
	Protected bool
}

var policies = map[Namespace]Policy{
	NamespaceSession:         {TTL: 24 * time.Hour, Protected: true},
	NamespaceCSRF:            {TTL: time.Hour, Protected: true},
	NamespaceCMUDataFrame:    {TTL: 24 * time.Hour, PressureTTL: 12 * time.Hour, Fallback: true},
	NamespaceCompanyIndex:    {TTL: 12 * time.Hour, PressureTTL: 12 * time.Hour, Fallback: true},
	NamespaceLocationMapping: {TTL: 24 * time.Hour, PressureTTL: 12 * time.Hour, Fallback: true},
	NamespaceMapData:         {TTL: 24 * time.Hour, PressureTTL: time.Hour},
	NamespaceSearch:          {TTL: 30 * time.Minute, PressureTTL: 12 * time.Hour},
	NamespaceStatistics:      {TTL: time.Hour, PressureTTL: 12 * time.Hour},
	NamespaceStatsMetadata:   {TTL: time.Hour, PressureTTL: 12 * time.Hour},
}

func PolicyFor(ns Namespace) (Policy, error) {
	p, ok := policies[ns]
	if !ok {
		return Policy{}, fmt.Errorf("unknown cache namespace %q", ns)
	}
	return p, nil
}

func ParseNamespace(raw string) (Namespace, error) {
	ns := Namespace(raw)
	if _, err := PolicyFor(ns); err != nil {
		return "", err
	}
	return ns, nil
}

// Mode is the process-wide operating mode, set from configuration at startup.
type Mode int

const (
	ModeNormal Mode = iota
	ModeEmergency
	ModeMinimal
)

func (m Mode) String() string {
	switch m {
	case ModeEmergency:
		return "emergency"
	case ModeMinimal:
		return "minimal"
	default:
		return "normal"
	}
}

// ModeFromFlags resolves the configured flags. Minimal wins over emergency.
func ModeFromFlags(emergency, minimal bool) Mode {
	switch {
	case minimal:
		return ModeMinimal
	case emergency:
		return ModeEmergency
	default:
		return ModeNormal
	}
}

func essential(ns Namespace) bool {
	return ns == NamespaceSession || ns == NamespaceCSRF
}

// redisReadable reports whether lookups for ns may go to Redis in mode m.
func redisReadable(m Mode, ns Namespace, mapCacheDisabled bool) bool {
	switch m {
	case ModeMinimal:
		return essential(ns)
	case ModeEmergency:
		return ns != NamespaceMapData && ns != NamespaceSearch
	default:
		return !(mapCacheDisabled && ns == NamespaceMapData)
	}
}

// redisWritable reports whether writes for ns may go to Redis in mode m.
func redisWritable(m Mode, ns Namespace, mapCacheDisabled bool) bool {
	switch m {
	case ModeMinimal, ModeEmergency:
		return essential(ns)
	default:
		return !(mapCacheDisabled && ns == NamespaceMapData)
	}
}
