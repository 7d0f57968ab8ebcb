package storage

import (
	"context"

	"github.com/Sriram-PR/crawl-plan/pkg/models"
)

// PlanStore is the single persistence boundary for a site's crawl plan
// Implementations replace the whole plan on Save; readers never observe a partial write
type PlanStore interface {
	// Load returns the persisted plan, or an error wrapping utils.ErrPlanNotFound when none exists
	Load(ctx context.Context) (*models.CrawlPlan, error)

	// Save atomically replaces the persisted plan
	Save(ctx context.Context, plan *models.CrawlPlan) error

	// Close releases any held resources
	Close() error
}

// Exporter is implemented by stores that can write the plan as a JSON document
type Exporter interface {
	ExportJSON(ctx context.Context, filePath string) error
}
