package segmentctrl

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"reelforge/src/core/matching"
)

// Segment is one library row: a tagged media clip with its keyword set
// serialized as a JSON column.
type Segment struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"not null" json:"name"`
	MediaURL        string    `gorm:"not null;column:media_url" json:"media_url"`
	DurationSeconds float64   `json:"duration_seconds"`
	Keywords        string    `gorm:"type:jsonb" json:"keywords"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type SegmentService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewSegmentService(db *gorm.DB) (*SegmentService, error) {
	if err := db.AutoMigrate(&Segment{}); err != nil {
		return nil, fmt.Errorf("failed to migrate segments table: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &SegmentService{
		db:        db,
		snowflake: node,
	}, nil
}

func (s *SegmentService) Create(ctx context.Context, name, mediaURL string, durationSeconds float64, keywords []string) (*Segment, error) {
	rawKeywords, err := json.Marshal(keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keywords: %v", err)
	}

	segment := &Segment{
		ID:              s.snowflake.Generate().Int64(),
		Name:            name,
		MediaURL:        mediaURL,
		DurationSeconds: durationSeconds,
		Keywords:        string(rawKeywords),
	}

	result := s.db.WithContext(ctx).Create(segment)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create segment: %v", result.Error)
	}

	return segment, nil
}

// List returns the library in registration order. The order matters: the
// matcher's tie-break rule follows it.
func (s *SegmentService) List(ctx context.Context) ([]matching.Segment, error) {
	var rows []Segment
	result := s.db.WithContext(ctx).Order("created_at, id").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list segments: %v", result.Error)
	}

	segments := make([]matching.Segment, 0, len(rows))
	for _, row := range rows {
		var keywords []string
		if err := json.Unmarshal([]byte(row.Keywords), &keywords); err != nil {
			return nil, fmt.Errorf("failed to parse keywords for segment %d: %v", row.ID, err)
		}
		segments = append(segments, matching.Segment{
			ID:       strconv.FormatInt(row.ID, 10),
			Name:     row.Name,
			MediaURL: row.MediaURL,
			Duration: row.DurationSeconds,
			Keywords: keywords,
		})
	}

	return segments, nil
}
