package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/ai"
	cfgpkg "github.com/local/questionextractor/internal/config"
	"github.com/local/questionextractor/internal/extraction"
	"github.com/local/questionextractor/internal/imagerender"
	logpkg "github.com/local/questionextractor/internal/logger"
	"github.com/local/questionextractor/internal/metrics"
	"github.com/local/questionextractor/internal/orchestrator"
	"github.com/local/questionextractor/internal/prompts"
	"github.com/local/questionextractor/internal/statuscheck"
	"github.com/local/questionextractor/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Files.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Files.UploadDir).Msg("failed to create upload dir")
	}
	promptStore := prompts.NewStore(cfg.Files.PromptsFile)
	if err := promptStore.EnsureDefault(); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare prompts file")
	}

	// Result store
	var (
		results     store.Results
		resultsPing statuscheck.Pinger
	)
	switch cfg.Results.Backend {
	case "s3":
		opts := store.S3Options{
			Bucket:     cfg.Results.Bucket,
			Prefix:     cfg.Results.Prefix,
			Region:     cfg.Results.Region,
			Endpoint:   cfg.Results.Endpoint,
			AccessKey:  cfg.Results.AccessKey,
			SecretKey:  cfg.Results.SecretKey,
			Passphrase: cfg.Results.Passphrase,
		}
		cli, err := store.NewS3Client(ctx, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init S3 client")
		}
		s3r := store.NewS3Results(cli, opts)
		results, resultsPing = s3r, s3r
	default:
		local, err := store.NewLocalResults(cfg.Results.Dir)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init results dir")
		}
		results, resultsPing = local, local
	}

	// Optional status mirror
	var (
		mirror      extraction.StatusMirror
		mirrorRead  orchestrator.StatusReader
		redisHealth statuscheck.Pinger
	)
	if cfg.Redis.URL != "" {
		rs, err := store.NewRedisStatus(ctx, cfg.Redis.URL, cfg.Redis.StatusTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init redis status mirror")
		}
		defer rs.Close()
		mirror = orchestrator.NewStatusMirror(rs)
		mirrorRead, redisHealth = rs, rs
	}

	raster := imagerender.NewFitzRasterizer(imagerender.Options{
		DPI:     cfg.Render.DPI,
		Quality: cfg.Render.Quality,
		Color:   imagerender.ColorMode(cfg.Render.ColorMode),
	})

	worker := extraction.NewWorker(extraction.WorkerDeps{
		Prompts: promptStore,
		Raster:  raster,
		NewClient: func(apiKey string) (ai.Client, error) {
			return ai.NewOpenAIClient(ai.OpenAIConfig{
				APIKey:  apiKey,
				Model:   cfg.OpenAI.Model,
				BaseURL: cfg.OpenAI.BaseURL,
				Timeout: cfg.OpenAI.Timeout,
			})
		},
		Results:  results,
		Mirror:   mirror,
		TaskType: cfg.Files.TaskType,
	})

	registry := extraction.NewRegistry()
	orch := orchestrator.New(orchestrator.Dependencies{
		Registry:      registry,
		Worker:        worker,
		Results:       results,
		Mirror:        mirrorRead,
		UploadDir:     cfg.Files.UploadDir,
		MaxUploadSize: cfg.Files.MaxUploadSize,
		EnvAPIKey:     cfg.OpenAI.APIKey,
	})

	checker := statuscheck.New(statuscheck.Options{
		Results:       resultsPing,
		ResultsName:   cfg.Results.Backend,
		Redis:         redisHealth,
		Renderer:      raster,
		OpenAIKey:     cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
	})

	janitor := orchestrator.Janitor{
		Registry:     registry,
		Retention:    cfg.Registry.Retention,
		UploadDir:    cfg.Files.UploadDir,
		UploadMaxAge: cfg.Files.UploadMaxAge,
		Interval:     cfg.Registry.SweepInterval,
	}
	janitor.Sweep(time.Now())
	go janitor.Run(ctx)

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: orch.Router(orchestrator.RouterOptions{
			APIToken:    cfg.Server.APIToken,
			APIPrefix:   cfg.Server.APIPrefix,
			CORSOrigins: cfg.Server.CORSOrigins,
			ProjectName: cfg.Server.ProjectName,
			Readiness:   checker,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("prefix", cfg.Server.APIPrefix).Str("results", cfg.Results.Backend).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := orch.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight extractions still running at shutdown")
	}
	log.Info().Msg("shutdown complete")
}
