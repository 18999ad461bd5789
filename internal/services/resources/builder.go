// -----------------------------------------------------------------------
// Resource List Builder - turns a directory of metadata files into
// ResourceDesc/PageDesc graphs
// -----------------------------------------------------------------------

package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// Builder scans collection directories through the schema registry
type Builder struct {
	registry interfaces.SchemaRegistry
	logger   arbor.ILogger
}

// NewBuilder creates a builder
func NewBuilder(registry interfaces.SchemaRegistry, logger arbor.ILogger) *Builder {
	return &Builder{registry: registry, logger: logger}
}

// Build scans dir non-recursively for files of the collection's format
// modified after since (zero means every file) and returns one resource per
// file in file-name order. Per-file problems become warnings on that
// resource; only an unknown format or an unreadable directory is an error.
func (b *Builder) Build(ctx context.Context, collection *models.CollectionRecord, since time.Time) ([]*models.ResourceDesc, error) {
	ext, err := b.registry.Extension(collection.Format)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(collection.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection directory %s: %w", collection.Dir, err)
	}

	pass := NewPass()
	var resources []*models.ResourceDesc
	skipped := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			b.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to stat metadata file")
			continue
		}
		if !since.IsZero() && !info.ModTime().After(since) {
			skipped++
			continue
		}

		r := models.NewResourceDesc(collection.Key, collection.Format, collection.Dir, entry.Name())
		r.ModTime = info.ModTime()
		b.extract(r, pass)
		resources = append(resources, r)
	}

	b.logger.Debug().
		Str("collection", collection.Key).
		Str("dir", collection.Dir).
		Int("resources", len(resources)).
		Int("skipped", skipped).
		Msg("Resource list built")

	return resources, nil
}

// extract fills r from its metadata file
func (b *Builder) extract(r *models.ResourceDesc, pass *Pass) {
	content, err := os.ReadFile(r.Path())
	if err != nil {
		r.Warn(models.KindMetaParse, "failed to read metadata file: "+err.Error())
		return
	}
	r.MetaChecksum = xxhash.Sum64(content)

	adapter, err := b.registry.Adapter(r.Format, content)
	if err != nil {
		r.Warn(models.KindMetaParse, err.Error())
		return
	}

	ids, err := adapter.ExtractIdentity()
	if err != nil {
		r.Warn(models.KindMetaParse, "id extraction failed: "+err.Error())
		return
	}
	pass.CheckID(r, ids)

	urlGroups, err := adapter.ExtractURLGroups()
	if err != nil {
		r.Warn(models.KindMetaParse, "url extraction failed: "+err.Error())
	}
	for _, g := range urlGroups {
		CheckURLs(r, g)
	}

	emailGroups, err := adapter.ExtractEmailGroups()
	if err != nil {
		r.Warn(models.KindMetaParse, "email extraction failed: "+err.Error())
	}
	for _, g := range emailGroups {
		CheckEmails(r, g)
	}
}
