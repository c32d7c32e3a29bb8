package ledger

import (
	"fmt"

	"github.com/buhogo/payd/internal/config"
)

// NewStore constructs the configured backend store.
func NewStore(cfg config.LedgerConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = "./data/attempts.json"
		}
		return NewFileStore(path, cfg.FlushInterval.Duration)
	case "postgres":
		return NewPostgresStore(cfg.PostgresURL, cfg.TableName)
	case "mongodb":
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.TableName)
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Backend)
	}
}
