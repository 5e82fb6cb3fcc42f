package store

// Config holds configuration for a Store.
type Config struct {
	// NumShards is the number of partitions items are spread over.
	// Each partition has its own lock, so writes to different partitions
	// don't contend. Scans lock every partition.
	// Default: 1 (single partition)
	// Max: 256
	NumShards int `yaml:"num_shards"`
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		NumShards: 1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
}
