package productctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Product is one catalog row, the referent of a batch item id.
type Product struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	ExternalID  string    `gorm:"uniqueIndex;not null;column:external_id" json:"external_id"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProductService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewProductService(db *gorm.DB) (*ProductService, error) {
	if err := db.AutoMigrate(&Product{}); err != nil {
		return nil, fmt.Errorf("failed to migrate products table: %v", err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &ProductService{
		db:        db,
		snowflake: node,
	}, nil
}

func (s *ProductService) Create(ctx context.Context, externalID, title, description string) (*Product, error) {
	product := &Product{
		ID:          s.snowflake.Generate().Int64(),
		ExternalID:  externalID,
		Title:       title,
		Description: description,
	}

	result := s.db.WithContext(ctx).Create(product)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create product: %v", result.Error)
	}

	return product, nil
}

// Get resolves a batch item id to its title and description.
func (s *ProductService) Get(ctx context.Context, externalID string) (string, string, error) {
	var product Product
	result := s.db.WithContext(ctx).First(&product, "external_id = ?", externalID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", "", fmt.Errorf("unknown catalog item: %s", externalID)
		}
		return "", "", fmt.Errorf("failed to get product: %v", result.Error)
	}

	return product.Title, product.Description, nil
}
