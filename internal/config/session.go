package config

import "time"

// SessionConfig controls the per-device session synchronizer.
//
// IdleTimeout and CheckInterval drive the client-side style idle sign-out.
// It is a convenience for shared machines; the access token's own expiry
// is what actually ends a session.
type SessionConfig struct {
	IdleEnabled   bool
	IdleTimeout   time.Duration
	CheckInterval time.Duration
	MirrorPrefix  string
	MirrorTTL     time.Duration
	RecentLimit   int
}

func LoadSessionConfig() SessionConfig {
	c := SessionConfig{
		IdleEnabled:   envBool("SESSION_IDLE_ENABLED", true),
		IdleTimeout:   envDur("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		CheckInterval: envDur("SESSION_CHECK_INTERVAL", time.Minute),
		MirrorPrefix:  envStr("SESSION_MIRROR_PREFIX", "cinedb:device"),
		MirrorTTL:     envDur("SESSION_MIRROR_TTL", 30*24*time.Hour),
		RecentLimit:   envInt("RECENT_VIEWS_LIMIT", 20),
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.RecentLimit < 1 {
		c.RecentLimit = 20
	}
	return c
}
