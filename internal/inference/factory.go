package inference

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/config"
)

// Constructor builds an engine from the configuration.
type Constructor func(cfg *config.Config, logger *zap.Logger) Engine

var (
	backendsMu sync.RWMutex
	backends   = map[string]Constructor{
		config.BackendCompreFace: func(cfg *config.Config, logger *zap.Logger) Engine {
			return NewCompreFace(cfg.CompreFace.URL, cfg.CompreFace.APIKey, logger)
		},
		config.BackendWorker: func(cfg *config.Config, logger *zap.Logger) Engine {
			return NewWorker(cfg.Worker.Command, logger)
		},
	}
)

// Register makes a backend available to New. Backends linked against native libraries register
// themselves from their own package.
func Register(name string, c Constructor) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = c
}

// New builds the engine selected by the configuration. Models are not loaded yet.
func New(cfg *config.Config, logger *zap.Logger) (Engine, error) {
	backendsMu.RLock()
	c, ok := backends[cfg.Models.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inference backend %q is not available in this build", cfg.Models.Backend)
	}
	return c(cfg, logger), nil
}
