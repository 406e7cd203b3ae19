package history

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	logx "github.com/glynnbird/qrate/pkg/logx"
)

// Open initializes the configured store. It returns (nil, nil) when
// history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown history driver: %s", driver)
	}
}

func withID(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r
}
