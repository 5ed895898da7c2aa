package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"reelforge/src/core/library"
	"reelforge/src/fsutil"
	"reelforge/src/log"
	"reelforge/src/storage/postgres/productctrl"
	"reelforge/src/storage/postgres/segmentctrl"
)

var seedFile string

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load segment library and product catalog fixtures into PostgreSQL",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	settingDefaultConfig()

	seedCmd.Flags().StringVar(&seedFile, "file", "", "fixture JSON file")
	seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	fixture, err := library.Load(fsutil.NewLocalFileStore(), seedFile)
	if err != nil {
		return err
	}

	db, err := gorm.Open(postgres.Open(postgresDSN()), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	segmentService, err := segmentctrl.NewSegmentService(db)
	if err != nil {
		return err
	}
	productService, err := productctrl.NewProductService(db)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	for _, segment := range fixture.Segments {
		if _, err := segmentService.Create(ctx, segment.Name, segment.MediaURL, segment.Duration, segment.Keywords); err != nil {
			return err
		}
	}
	for _, product := range fixture.Products {
		if _, err := productService.Create(ctx, product.ExternalID, product.Title, product.Description); err != nil {
			return err
		}
	}

	log.Info("fixtures loaded", "segments", len(fixture.Segments), "products", len(fixture.Products))
	return nil
}
