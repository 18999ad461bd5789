package badger

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// CollectionFile is one collection entry in collections.toml
// Format:
// [collection_key]
// name = "Display name"
// format = "dif"
// dir = "/data/dif/collection"
// active = true
// recipients = ["ops@example.org"]
type CollectionFile struct {
	Name       string   `toml:"name"`
	Format     string   `toml:"format"`
	Dir        string   `toml:"dir"`
	Active     *bool    `toml:"active"`
	Recipients []string `toml:"recipients"`
}

// LoadCollectionsFromFile upserts collections from a TOML file, keeping the
// run history (last check, last email, counts) of existing records. A
// missing file is not an error.
func LoadCollectionsFromFile(ctx context.Context, storage interfaces.CollectionStorage, filePath string, logger arbor.ILogger) error {
	logger.Debug().Str("file", filePath).Msg("Loading collections from file")

	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug().Str("file", filePath).Msg("Collections file not found, skipping")
			return nil
		}
		return err
	}

	var collections map[string]CollectionFile
	if err := toml.Unmarshal(content, &collections); err != nil {
		return err
	}

	fileName := filepath.Base(filePath)
	loaded, skipped, errorCount := 0, 0, 0

	for key, entry := range collections {
		if entry.Format == "" || entry.Dir == "" {
			logger.Warn().Str("file", fileName).Str("key", key).Msg("Skipping collection without format or dir")
			skipped++
			continue
		}

		record, err := storage.GetCollection(ctx, key)
		isNew := errors.Is(err, interfaces.ErrNotFound)
		if err != nil && !isNew {
			logger.Error().Err(err).Str("key", key).Msg("Failed to read collection")
			errorCount++
			continue
		}
		if isNew {
			record = &models.CollectionRecord{Key: key}
		}

		record.Name = entry.Name
		record.Format = entry.Format
		record.Dir = entry.Dir
		record.Recipients = entry.Recipients
		record.Active = entry.Active == nil || *entry.Active

		if err := storage.SaveCollection(ctx, record); err != nil {
			logger.Error().Err(err).Str("key", key).Msg("Failed to store collection")
			errorCount++
			continue
		}

		if isNew {
			logger.Debug().Str("key", key).Msg("Loaded new collection")
		} else {
			logger.Debug().Str("key", key).Msg("Updated existing collection")
		}
		loaded++
	}

	logger.Debug().
		Int("loaded", loaded).
		Int("skipped", skipped).
		Int("errors", errorCount).
		Msg("Finished loading collections from file")

	return nil
}
