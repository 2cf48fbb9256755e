package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stagegate/stagegate/pkg/persistence"
	"github.com/stagegate/stagegate/pkg/persistence/file"
	"github.com/stagegate/stagegate/pkg/persistence/postgresql"
	"github.com/stagegate/stagegate/pkg/persistence/redis"
)

// NewPersistence selects a backend by URL scheme: file:// (default),
// redis://, postgres://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis", "rediss":
		return redis.NewPersistence(databaseURL)
	case "file":
		return file.NewPersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported persistence URL %q", databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
