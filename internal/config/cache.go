package config

import "time"

// CacheConfig tunes the redis response cache on the public schedule
// reads.  The TTL bounds how stale a displayed seat count can be.
type CacheConfig struct {
    Enabled      bool
    TTL          time.Duration
    Prefix       string // key namespace
    MaxBodyBytes int    // responses larger than this are not cached
}

// LoadCacheConfig reads the cache settings.  The default 10s TTL keeps
// displayed availability close to the ledger without hammering it.
func LoadCacheConfig() CacheConfig {
    return CacheConfig{
        Enabled:      envBool("CACHE_ENABLED", true),
        TTL:          envDur("CACHE_TTL", 10*time.Second),
        Prefix:       envStr("CACHE_PREFIX", "cache"),
        MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
    }
}
