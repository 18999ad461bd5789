package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/storage/badger"
)

// NewStorageManager opens the Badger store and seeds the collection registry
// from the configured collections file
func NewStorageManager(ctx context.Context, logger arbor.ILogger, config *common.Config) (*badger.Manager, error) {
	manager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	if config.Collections.File != "" {
		if err := manager.LoadCollectionsFromFile(ctx, config.Collections.File); err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to load collections from %s: %w", config.Collections.File, err)
		}
	}

	return manager, nil
}
