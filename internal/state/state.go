// Package state persists the serialized client state blob across
// restarts. Backends: a JSON file, a SQLite database, or a NATS
// JetStream key-value bucket for state shared between machines.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/docchat/internal/config"
	"github.com/capitalize-ai/docchat/pkg/logger"
)

// ErrNoState is returned by Load when nothing has been saved yet.
var ErrNoState = errors.New("no persisted state")

// Store saves and loads one opaque state blob.
type Store interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	Close() error
}

// Open selects a store from configuration.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	switch cfg.StateBackend {
	case "file":
		return NewFile(cfg.StatePath, log), nil
	case "sqlite":
		return NewSQLite(cfg.StatePath, log)
	case "nats":
		return NewNATS(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}
