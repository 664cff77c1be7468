package session

import "fmt"

// Store backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBolt   = "bolt"
)

// Config holds session store initialization parameters.
type Config struct {
	// Backend selects the store implementation: memory, file, or bolt.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// Path is the session directory (file) or database file (bolt).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DefaultConfig returns the default session store configuration.
func DefaultConfig() Config {
	return Config{Backend: BackendMemory}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Backend != "" {
		c.Backend = source.Backend
	}
	if source.Path != "" {
		c.Path = source.Path
	}
}

// NewStore creates a Store from configuration.
func NewStore(cfg *Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file session store requires a path")
		}
		return NewFileStore(cfg.Path)
	case BackendBolt:
		if cfg.Path == "" {
			return nil, fmt.Errorf("bolt session store requires a path")
		}
		return NewBoltStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown session store backend: %s", cfg.Backend)
	}
}
