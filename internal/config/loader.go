package config

import (
	"context"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration so a file can be layered with environment overrides.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	Load(ctx context.Context) (*Config, error)
}
