package api

import "time"

// Request limits
const (
	// DefaultBodyLimit caps uploads when webserver.bodylimit is unset. Label
	// masks are single 512x512 PNGs, tile lists are small JSON arrays.
	DefaultBodyLimit = "16M"
)

// Cache headers for tile responses
const (
	// SatelliteCacheControl lets browsers keep imagery, it never changes once fetched
	SatelliteCacheControl = "public, max-age=86400"

	// MutableCacheControl is used for masks and overlays that are rewritten in place
	MutableCacheControl = "no-cache"

	// PlaceholderHeader marks a transparent tile served for a miss
	PlaceholderHeader = "X-Tile-Placeholder"
)

// Progress stream tuning
const (
	streamHeartbeat    = 15 * time.Second
	streamWriteTimeout = 10 * time.Second
	streamBuffer       = 64
)
