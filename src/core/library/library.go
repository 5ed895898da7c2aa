package library

import (
	"context"
	"encoding/json"
	"fmt"

	"reelforge/src/core/matching"
	"reelforge/src/fsutil"
)

// Product is one catalog entry a batch item id refers to.
type Product struct {
	ExternalID  string `json:"external_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Fixture is the on-disk seed format for the segment library and product
// catalog. It doubles as the data source when the durable store is down.
type Fixture struct {
	Segments []matching.Segment `json:"segments"`
	Products []Product          `json:"products"`
}

// Load reads a fixture file through the given file store.
func Load(fs fsutil.FileStore, path string) (*Fixture, error) {
	raw, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var fixture Fixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &fixture, nil
}

// StaticSegments serves a fixed in-memory segment list. Used when the
// segment library table is unreachable.
type StaticSegments struct {
	segments []matching.Segment
}

func NewStaticSegments(segments []matching.Segment) *StaticSegments {
	return &StaticSegments{segments: segments}
}

func (s *StaticSegments) List(ctx context.Context) ([]matching.Segment, error) {
	return s.segments, nil
}

// StaticCatalog serves a fixed in-memory product catalog.
type StaticCatalog struct {
	products map[string]Product
}

func NewStaticCatalog(products []Product) *StaticCatalog {
	byID := make(map[string]Product, len(products))
	for _, product := range products {
		byID[product.ExternalID] = product
	}
	return &StaticCatalog{products: byID}
}

func (c *StaticCatalog) Get(ctx context.Context, itemID string) (string, string, error) {
	product, ok := c.products[itemID]
	if !ok {
		return "", "", fmt.Errorf("unknown catalog item: %s", itemID)
	}
	return product.Title, product.Description, nil
}
