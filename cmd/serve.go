package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpHdlr "reelforge/handler/http"
	"reelforge/src/core/assembly"
	"reelforge/src/core/batch"
	"reelforge/src/core/library"
	"reelforge/src/core/pipeline"
	"reelforge/src/fsutil"
	"reelforge/src/infrastructure/integrations/renderservice"
	"reelforge/src/infrastructure/integrations/scriptwriter"
	"reelforge/src/infrastructure/integrations/tts"
	"reelforge/src/infrastructure/jobstore"
	"reelforge/src/log"
	"reelforge/src/storage/minioctrl"
	"reelforge/src/storage/postgres/productctrl"
	"reelforge/src/storage/postgres/segmentctrl"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the production backend",
	Long: `The serve command starts the HTTP API together with the in-process
background worker that executes render jobs.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	settingDefaultConfig()
}

func runServer(cmd *cobra.Command, args []string) error {
	// Connect to PostgreSQL; a failure here degrades the whole process to
	// in-memory state instead of refusing to start.
	db, err := gorm.Open(postgres.Open(postgresDSN()), &gorm.Config{})
	if err != nil {
		log.Error(err, "failed to connect to postgres, running degraded")
		db = nil
	}
	store := jobstore.Open(db)

	// Segment library and product catalog: postgres when available,
	// otherwise the fixture file.
	var segments assembly.SegmentSource
	var items batch.ItemSource
	if db != nil {
		segmentService, err := segmentctrl.NewSegmentService(db)
		if err != nil {
			return err
		}
		productService, err := productctrl.NewProductService(db)
		if err != nil {
			return err
		}
		segments = segmentService
		items = productService
	} else {
		fixture := &library.Fixture{}
		if path := viper.GetString("library.fixture"); path != "" {
			fixture, err = library.Load(fsutil.NewLocalFileStore(), path)
			if err != nil {
				return err
			}
		}
		segments = library.NewStaticSegments(fixture.Segments)
		items = library.NewStaticCatalog(fixture.Products)
	}

	// Artifact storage is best effort: without MinIO the renderer's local
	// path is kept as the final location.
	var artifacts assembly.ArtifactStore
	minioService, err := minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetBool("minio.use_ssl"),
	)
	if err != nil {
		log.Error(err, "failed to initialize minio, artifacts stay on local disk")
	} else if err := minioService.EnsureBucketExists(context.Background(), minioctrl.ArtifactsBucket); err != nil {
		log.Error(err, "failed to ensure artifacts bucket, artifacts stay on local disk")
	} else {
		artifacts = minioService
	}

	// Collaborator clients
	writer, err := scriptwriter.NewWriter(
		viper.GetString("ollama.url"),
		viper.GetString("ollama.model"),
		&http.Client{Timeout: 120 * time.Second},
	)
	if err != nil {
		return err
	}
	synthesizer := tts.NewClient(viper.GetString("tts.url"), &http.Client{Timeout: 120 * time.Second})
	renderer := renderservice.NewClient(viper.GetString("render.url"), &http.Client{})

	// In-process pub/sub carries render jobs from the orchestrators to
	// the worker; production is single-process by design.
	wmLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)

	engine := assembly.NewEngine(store, synthesizer, renderer, segments, artifacts, pubSub)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return err
	}
	router.AddMiddleware(middleware.Recoverer)
	router.AddNoPublisherHandler(
		"render_job_processor",
		assembly.RenderJobsTopic,
		pubSub,
		engine.ProcessMessage,
	)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	go func() {
		if err := router.Run(workerCtx); err != nil {
			log.Error(err, "render worker stopped")
		}
	}()

	// Orchestrators and HTTP handler
	pipelines := pipeline.NewOrchestrator(store, writer, engine)
	batches := batch.NewOrchestrator(store, items, writer, engine)
	handler := httpHdlr.NewHandler(pipelines, batches, segments)

	// Setup gin router
	r := gin.Default()
	handler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "server forced to shutdown")
	}

	cancelWorker()
	if err := router.Close(); err != nil {
		log.Error(err, "failed to stop render worker")
	}

	return nil
}
