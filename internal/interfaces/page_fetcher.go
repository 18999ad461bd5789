package interfaces

import (
	"context"

	"github.com/ternarybob/linkaudit/internal/models"
)

// PageFetcher executes a single page fetch and records its terminal outcome on
// the page. It must not return before the page has an outcome.
type PageFetcher interface {
	Fetch(ctx context.Context, page *models.PageDesc)
}
