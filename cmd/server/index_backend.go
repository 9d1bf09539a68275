package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"terrainstream.ai/internal/persistence/indexdb"
	passlog "terrainstream.ai/internal/persistence/log"
)

type runtimeIndex interface {
	WritePass(entry passlog.PassLogEntry) error
	RecordSessionStart(id, clientName string, renderDistance int)
	RecordSessionEnd(id string)
	Flush(ctx context.Context) error
	Stats() indexdb.Stats
	Close() error
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "passes.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported TS_INDEX_BACKEND: %s", backend)
	}
}
