package core

// Config holds runtime configuration for an isolate and its event loop.
type Config struct {
	PoolSize         int    // number of pre-warmed engine isolates per pool
	MemoryLimitMB    int    // per-isolate heap limit, 0 for engine default
	BlockingPoolSize int    // worker threads for the blocking-work bridge
	ExecutionTimeout int    // milliseconds before an event-loop run is abandoned
	DataDir          string // base directory for emit cache and KV storage
	Version          string // runtime version string baked into the emit cache
}

// WithDefaults fills zero fields with working defaults.
func (c Config) WithDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	if c.BlockingPoolSize <= 0 {
		c.BlockingPoolSize = 8
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 30_000
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Version == "" {
		c.Version = "0.0.0-dev"
	}
	return c
}
