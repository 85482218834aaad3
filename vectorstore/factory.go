package vectorstore

import (
	"fmt"

	"github.com/schmitech/orbit/core"
)

// New builds the configured vector store backend.
func New(cfg core.VectorStoreConfig, logger core.Logger) (core.VectorStore, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryStore(), nil
	case "chroma":
		return NewChromaStore(ChromaOptions{
			BaseURL:  cfg.BaseURL,
			Tenant:   cfg.Tenant,
			Database: cfg.Database,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown vector store provider %q: %w", cfg.Provider, core.ErrInvalidConfiguration)
	}
}
