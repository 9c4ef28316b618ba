package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"adlens/internal/analysis"
	"adlens/internal/api"
	"adlens/internal/config"
	"adlens/internal/database"
	"adlens/internal/dataset"
	"adlens/internal/exposure"
	"adlens/internal/observability"
	"adlens/internal/pipeline"
	"adlens/internal/report"
	"adlens/internal/storage"
	"adlens/internal/video"
)

func main() {
	cfg, err := config.Load(".", "config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.InitLogger(os.Getenv("ADLENS_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := storage.NewRunStore(cfg.Dataset.BaseDir)
	if err != nil {
		logger.Fatal("failed to initialize run store", zap.Error(err))
	}

	db, err := database.NewDB(database.Config{Path: cfg.Database.Path})
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	runs := database.NewRunRepository(db)

	client, err := newAnalysisClient(cfg)
	if err != nil {
		logger.Fatal("failed to initialize analysis client", zap.Error(err))
	}

	extractor, err := video.NewExtractor(logger)
	if err != nil {
		logger.Warn("video frame extraction disabled", zap.Error(err))
		extractor = nil
	}

	reportsDir, err := store.ReportsDir()
	if err != nil {
		logger.Fatal("failed to create reports directory", zap.Error(err))
	}

	pl := pipeline.New(pipelineConfig(cfg, logger), dataset.NewLoader(cfg.Dataset.BaseDir, logger),
		store, extractorOrNil(extractor), client, report.NewWriter(reportsDir), runs, logger)

	app := &api.App{
		Pipeline: pl,
		Runs:     runs,
		Logger:   logger,
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("server starting",
		zap.String("addr", addr),
		zap.String("datasets", cfg.Dataset.BaseDir),
		zap.String("provider", cfg.Analysis.Provider),
		zap.String("model", cfg.Analysis.Model))

	if err := http.ListenAndServe(addr, api.NewRouter(app)); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newAnalysisClient(cfg *config.Config) (analysis.Client, error) {
	switch cfg.Analysis.Provider {
	case "gemini":
		return analysis.NewGeminiClient(context.Background(), cfg.Analysis.GeminiAPIKey, cfg.Analysis.Model)
	case "openai":
		if cfg.Analysis.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("ADLENS_ANALYSIS_OPENAIAPIKEY is not set")
		}
		return analysis.NewOpenAIClient(cfg.Analysis.OpenAIAPIKey, cfg.Analysis.Model, cfg.Analysis.RequestTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown analysis provider: %q", cfg.Analysis.Provider)
	}
}

func pipelineConfig(cfg *config.Config, logger *zap.Logger) pipeline.Config {
	promptTemplate := ""
	if cfg.Analysis.PromptFile != "" {
		data, err := os.ReadFile(cfg.Analysis.PromptFile)
		if err != nil {
			logger.Warn("failed to read prompt file, using built-in prompt",
				zap.String("path", cfg.Analysis.PromptFile), zap.Error(err))
		} else {
			promptTemplate = string(data)
		}
	}

	return pipeline.Config{
		SortKey:        cfg.Dataset.SortKey,
		TopN:           cfg.Dataset.TopN,
		FramesPerVideo: cfg.Video.FramesPerVideo,
		MaxVideos:      cfg.Video.MaxVideos,
		MaxImagesPerAd: cfg.Analysis.MaxImagesPerAd,
		MaxTokens:      cfg.Analysis.MaxTokens,
		Temperature:    cfg.Analysis.Temperature,
		PromptTemplate: promptTemplate,
		RequestTimeout: cfg.Analysis.RequestTimeout(),
		Exposure: exposure.Options{
			PortMin:       cfg.Exposure.PortMin,
			PortMax:       cfg.Exposure.PortMax,
			Tunnel:        cfg.Exposure.Tunnel,
			NgrokAPIURL:   cfg.Exposure.NgrokAPIURL,
			TunnelTimeout: time.Duration(cfg.Exposure.TunnelTimeout) * time.Second,
		},
	}
}

// extractorOrNil keeps the pipeline's extractor interface nil when ffmpeg is
// missing; a typed nil pointer would defeat the pipeline's nil check.
func extractorOrNil(e *video.Extractor) pipeline.FrameExtractor {
	if e == nil {
		return nil
	}
	return e
}
