package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"adlens/internal/analysis"
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
	var (
		runID  = flag.String("run", "", "Run ID to analyze")
		topN   = flag.Int("top", 0, "Number of top ads to analyze (0 = config default)")
		sortBy = flag.String("sort", "", "Metric to rank ads by (empty = config default)")
		local  = flag.Bool("local", false, "Serve media locally instead of opening an ngrok tunnel")
	)
	flag.Parse()

	if *runID == "" {
		fmt.Fprintln(os.Stderr, "Please provide a run ID with -run")
		flag.Usage()
		os.Exit(1)
	}

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

	var runs *database.RunRepository
	if cfg.Database.Path != "" {
		db, err := database.NewDB(database.Config{Path: cfg.Database.Path})
		if err != nil {
			logger.Warn("run index disabled", zap.Error(err))
		} else {
			defer db.Close()
			runs = database.NewRunRepository(db)
		}
	}

	var client analysis.Client
	switch cfg.Analysis.Provider {
	case "gemini":
		client, err = analysis.NewGeminiClient(context.Background(), cfg.Analysis.GeminiAPIKey, cfg.Analysis.Model)
		if err != nil {
			logger.Fatal("failed to initialize gemini client", zap.Error(err))
		}
	case "openai":
		if cfg.Analysis.OpenAIAPIKey == "" {
			logger.Fatal("ADLENS_ANALYSIS_OPENAIAPIKEY is not set")
		}
		client = analysis.NewOpenAIClient(cfg.Analysis.OpenAIAPIKey, cfg.Analysis.Model, cfg.Analysis.RequestTimeout())
	default:
		logger.Fatal("unknown analysis provider", zap.String("provider", cfg.Analysis.Provider))
	}

	var extractor pipeline.FrameExtractor
	if e, err := video.NewExtractor(logger); err != nil {
		logger.Warn("video frame extraction disabled", zap.Error(err))
	} else {
		extractor = e
	}

	reportsDir, err := store.ReportsDir()
	if err != nil {
		logger.Fatal("failed to create reports directory", zap.Error(err))
	}

	promptTemplate := ""
	if cfg.Analysis.PromptFile != "" {
		if data, err := os.ReadFile(cfg.Analysis.PromptFile); err == nil {
			promptTemplate = string(data)
		} else {
			logger.Warn("failed to read prompt file, using built-in prompt", zap.Error(err))
		}
	}

	pl := pipeline.New(pipeline.Config{
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
	}, dataset.NewLoader(cfg.Dataset.BaseDir, logger), store, extractor, client,
		report.NewWriter(reportsDir), runs, logger)

	params := pipeline.RunParams{
		RunID:   *runID,
		TopN:    *topN,
		SortKey: *sortBy,
	}
	if *local {
		tunnel := false
		params.Tunnel = &tunnel
	}

	rep, err := pl.Run(context.Background(), params)
	if err != nil {
		payload, _ := json.MarshalIndent(pipeline.Failure(*runID, err), "", "  ")
		fmt.Fprintln(os.Stderr, string(payload))
		os.Exit(1)
	}

	fmt.Printf("Analysis complete: %d ads, %d images, %d video frames, %d tokens\n",
		len(rep.SelectedAdIDs), rep.TotalImages, rep.TotalVideoFrames, rep.TokensUsed)
	fmt.Printf("Report: %s\n", report.Filename(rep.RunID, rep.Mode))
}
