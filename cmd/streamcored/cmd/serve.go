package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/duskcast/streamcore/internal/config"
	"github.com/duskcast/streamcore/internal/database"
	"github.com/duskcast/streamcore/internal/database/migrations"
	"github.com/duskcast/streamcore/internal/ffmpeg"
	"github.com/duskcast/streamcore/internal/grant"
	"github.com/duskcast/streamcore/internal/hlsprep"
	internalhttp "github.com/duskcast/streamcore/internal/http"
	"github.com/duskcast/streamcore/internal/http/handlers"
	"github.com/duskcast/streamcore/internal/mediainfo"
	"github.com/duskcast/streamcore/internal/objectstore"
	"github.com/duskcast/streamcore/internal/observability"
	"github.com/duskcast/streamcore/internal/repository"
	"github.com/duskcast/streamcore/internal/service/progress"
	"github.com/duskcast/streamcore/internal/startup"
	"github.com/duskcast/streamcore/internal/statuslock"
	"github.com/duskcast/streamcore/internal/storage"
	"github.com/duskcast/streamcore/internal/stream"
	"github.com/duskcast/streamcore/internal/upload"
	"github.com/duskcast/streamcore/internal/version"
	"github.com/duskcast/streamcore/internal/voicecache"
	"github.com/duskcast/streamcore/internal/wordtiming"
	"github.com/duskcast/streamcore/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamcore server",
	Long: `Start the streamcore HTTP server and API.

The server provides:
- Chunked upload intake and HLS preparation
- On-demand TTS voice generation with a bounded voice cache
- Grant-token authorized HLS playlist/segment delivery
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database-dsn", "streamcore.db", "Database DSN")
	serveCmd.Flags().String("database-driver", "sqlite", "Database driver (sqlite, postgres, mysql)")
	serveCmd.Flags().String("data-dir", "./data", "Storage base directory for segments, chunks, and sandboxed writes")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
	mustBindPFlag("database.driver", serveCmd.Flags().Lookup("database-driver"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	orphansRemoved, err := startup.CleanupSystemTempDirs(logger)
	if err != nil {
		logger.Warn("failed to clean orphaned temp directories", slog.String("error", err.Error()))
	} else if orphansRemoved > 0 {
		logger.Info("cleaned orphaned temp directories on startup", slog.Int("removed_count", orphansRemoved))
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := runMigrations(db.DB, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	db.StartStatsMonitor(cmd.Context())

	sandbox, err := storage.NewSandbox(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage sandbox: %w", err)
	}

	objects, err := newObjectStore(cmd.Context(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing object store: %w", err)
	}

	albums := repository.NewAlbumRepository(db.DB)
	tracks := repository.NewTrackRepository(db.DB)
	voiceStatus := repository.NewVoiceGenerationStatusRepository(db.DB)
	ttsRepo := repository.NewTTSRepository(db.DB)

	locker := statuslock.New(db.DB, cfg.StatusLock.StaleAge, cfg.StatusLock.FsyncDelay)

	binaryDetector := ffmpeg.NewBinaryDetector()
	ffmpegPath, ffprobePath := cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath
	if ffmpegPath == "" || ffprobePath == "" {
		if info, derr := binaryDetector.Detect(cmd.Context()); derr == nil {
			if ffmpegPath == "" {
				ffmpegPath = info.FFmpegPath
			}
			if ffprobePath == "" {
				ffprobePath = info.FFprobePath
			}
		} else {
			logger.Warn("ffmpeg/ffprobe auto-detection failed", slog.String("error", derr.Error()))
		}
	}

	if info, derr := binaryDetector.Detect(cmd.Context()); derr == nil {
		logger.Debug("ffmpeg capabilities", slog.String("info", info.JSON()))
		if !info.SupportsMinVersion(4, 0) {
			logger.Warn("ffmpeg version is older than the minimum tested version",
				slog.String("version", info.Version))
		}
		if !info.HasFormat("hls") {
			return fmt.Errorf("ffmpeg build at %s lacks hls muxer support required for segmenting", info.FFmpegPath)
		}
	}

	prober := ffmpeg.NewProber(ffprobePath)
	extractor := mediainfo.NewExtractor(prober, ttsRepo)
	shardStore := wordtiming.NewShardStore(sandbox)
	mapper := wordtiming.NewMapper(shardStore)

	pipeline := hlsprep.NewStandardPipeline(sandbox, objects, extractor, tracks, ttsRepo, locker, mapper, ffmpegPath, cfg.HLSPrep.SegmentSeconds)

	workerCount := cfg.HLSPrep.MaxConcurrent
	if workerCount <= 0 {
		workerCount = runtime.NumCPU() - 1
		if workerCount < 1 {
			workerCount = 1
		}
	}
	prep := hlsprep.New(pipeline, workerCount, cfg.HLSPrep.QueueSize, logger)
	defer prep.Stop()

	progressSvc := progress.NewService(logger)
	progressSvc.Start()
	defer progressSvc.Stop()
	prep.SetProgressReporter(progress.NewHLSPrepReporter(progressSvc))

	sessions := upload.NewSessionStore(db.DB)
	coordinator := upload.NewCoordinator(sessions, sandbox, albums, tracks, locker, objects, prep)
	reaper := upload.NewReaper(coordinator, cfg.Upload.SessionMaxAge, cfg.Upload.ReaperInterval)

	popularity := newPopularityChecker(cfg.VoiceCache, logger)
	tracker := voicecache.NewTracker(cfg.VoiceCache.IdleTTL)
	voiceCacheManager := voicecache.New(sandbox, voiceStatus, popularity, tracker, cfg.VoiceCache.MaxVoices, cfg.VoiceCache.PopularMaxVoices, cfg.VoiceCache.IdleTTL)

	streamManager := stream.New(sandbox, tracks, voiceStatus, locker, prep, voiceCacheManager, cfg.StatusLock.FsyncDelay)

	grantSecret, err := resolveGrantSecret(cfg.Grant.Secret, logger)
	if err != nil {
		return fmt.Errorf("resolving grant secret: %w", err)
	}
	signer, err := grant.NewSigner(grantSecret, cfg.Grant.TokenTTL)
	if err != nil {
		return fmt.Errorf("initializing grant signer: %w", err)
	}
	evaluator := grant.NewEvaluator()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	reconciler := startup.NewReconciler(locker, reaper, logger)
	if err := reconciler.Run(ctx); err != nil {
		return fmt.Errorf("running startup reconciliation: %w", err)
	}

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	docsHandler := handlers.NewDocsHandler("streamcore API", "/openapi.yaml", handlers.WithSystemTheme())
	server.Router().Get("/docs", docsHandler.ServeHTTP)

	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	uploadHandler := handlers.NewUploadHandler(coordinator)
	uploadHandler.Register(server.API())

	grantHandler := handlers.NewGrantHandler(signer, evaluator, tracks, albums)
	grantHandler.Register(server.API())

	streamHandler := handlers.NewStreamHandler(streamManager, sandbox, logger)
	streamHandler.Register(server.API())
	streamHandler.RegisterChiRoutes(server.Router())

	progressHandler := handlers.NewProgressHandler(progressSvc)
	progressHandler.Register(server.API())
	progressHandler.RegisterSSE(server.Router())

	logger.Info("starting streamcore server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

func runMigrations(db *gorm.DB, logger *slog.Logger) error {
	migrator := migrations.NewMigrator(db, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	return migrator.Up(context.Background())
}

// newObjectStore builds the configured storage.StorageConfig.Backend adapter.
func newObjectStore(ctx context.Context, cfg config.StorageConfig) (objectstore.Adapter, error) {
	if cfg.Backend == "s3" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			}
		})
		return objectstore.NewS3Adapter(client, cfg.S3Bucket), nil
	}

	return objectstore.NewLocalAdapter(cfg.TempDir)
}

// newPopularityChecker wires the external popular_tracks_service lookup
// through a circuit-breaker-guarded client, falling back to a static
// non-popular verdict when no service URL is configured.
func newPopularityChecker(cfg config.VoiceCacheConfig, logger *slog.Logger) voicecache.PopularityChecker {
	if cfg.PopularityServiceURL == "" {
		return voicecache.StaticPopularityChecker{Popular: false}
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Logger = logger
	factory := httpclient.NewClientFactory(httpclient.DefaultManager).WithDefaultConfig(httpCfg).WithLogger(logger)
	client := factory.CreateClientForService("popular_tracks")
	return voicecache.NewHTTPPopularityChecker(client, cfg.PopularityServiceURL)
}

// resolveGrantSecret returns the configured HMAC secret, generating a
// random one for unconfigured dev deployments. A generated secret does not
// survive a restart, invalidating any tokens minted before it.
func resolveGrantSecret(configured string, logger *slog.Logger) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating random grant secret: %w", err)
	}
	logger.Warn("grant.secret not configured, generated an ephemeral signing key; tokens will not survive a restart")
	return secret, nil
}
