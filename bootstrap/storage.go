package bootstrap

import (
	"fmt"

	"threatgate/config"
	"threatgate/storage"

	"go.uber.org/zap"
)

// InitHistory opens the run history database when history is enabled and
// returns nil otherwise.
func InitHistory(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.History, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	return OpenHistory(cfg.History.Path, sugar)
}

// OpenHistory opens the history database at path regardless of configuration.
func OpenHistory(path string, sugar *zap.SugaredLogger) (*storage.History, error) {
	history, err := storage.NewHistory(path, sugar)
	if err != nil {
		sugar.Error(ClassifySQLiteError(err, path))
		return nil, fmt.Errorf("failed to initialize run history: %w", err)
	}

	sugar.Debugw("Run history initialized", "path", path)
	return history, nil
}
