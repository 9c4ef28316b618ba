package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"adlens/internal/analysis"
	"adlens/internal/database"
	"adlens/internal/dataset"
	"adlens/internal/exposure"
	"adlens/internal/models"
	"adlens/internal/report"
	"adlens/internal/storage"
	"adlens/internal/video"
)

// Config carries the tuning knobs for one pipeline instance. All values are
// resolved at process start; nothing here reads the environment.
type Config struct {
	SortKey        string
	TopN           int
	FramesPerVideo int
	MaxVideos      int
	MaxImagesPerAd int
	MaxTokens      int
	Temperature    float64
	PromptTemplate string
	RequestTimeout time.Duration
	Exposure       exposure.Options
}

// FrameExtractor is the slice of video.Extractor the pipeline needs; tests
// substitute a stub so no ffmpeg binary is required.
type FrameExtractor interface {
	ExtractBatch(ctx context.Context, videoPaths []string, count int, outputDir string) map[string][]video.Frame
}

// RunParams are the per-request overrides on top of Config defaults.
type RunParams struct {
	RunID   string
	TopN    int
	SortKey string
	Tunnel  *bool
}

// Pipeline runs the sequential analysis flow: load, rank, resolve media,
// extract frames, expose files, call the model, write the report. Stages
// run one after another; the exposure server is the only background worker.
type Pipeline struct {
	cfg       Config
	loader    *dataset.Loader
	store     *storage.RunStore
	extractor FrameExtractor
	client    analysis.Client
	writer    *report.Writer
	runs      *database.RunRepository
	logger    *zap.Logger
}

// New wires a pipeline. extractor and runs may be nil: without ffmpeg the
// pipeline analyzes images only, and without a database nothing is indexed.
func New(cfg Config, loader *dataset.Loader, store *storage.RunStore, extractor FrameExtractor,
	client analysis.Client, writer *report.Writer, runs *database.RunRepository, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		loader:    loader,
		store:     store,
		extractor: extractor,
		client:    client,
		writer:    writer,
		runs:      runs,
		logger:    logger,
	}
}

// Failure converts a pipeline error into the structured payload callers
// receive instead of a raw trace.
func Failure(runID string, err error) *models.FailureReport {
	return &models.FailureReport{
		Status:  "error",
		RunID:   runID,
		Message: err.Error(),
	}
}

func (p *Pipeline) Run(ctx context.Context, params RunParams) (*models.Report, error) {
	sortKey := params.SortKey
	if sortKey == "" {
		sortKey = p.cfg.SortKey
	}
	topN := params.TopN
	if topN <= 0 {
		topN = p.cfg.TopN
	}
	exposureOpts := p.cfg.Exposure
	if params.Tunnel != nil {
		exposureOpts.Tunnel = *params.Tunnel
	}
	mode := "local"
	if exposureOpts.Tunnel {
		mode = "ngrok"
	}

	p.logger.Info("starting analysis run",
		zap.String("run_id", params.RunID),
		zap.String("sort_key", sortKey),
		zap.Int("top_n", topN),
		zap.String("mode", mode))

	loadRes, err := p.loader.Load(params.RunID)
	if err != nil {
		return nil, p.fail(params.RunID, mode, err)
	}
	p.logger.Info("dataset loaded",
		zap.Int("records", len(loadRes.Records)),
		zap.Int("skipped", loadRes.Skipped))

	ranked := dataset.TopN(loadRes.Records, sortKey, topN)
	selectedIDs := make([]string, len(ranked))
	for i, ad := range ranked {
		selectedIDs[i] = ad.ID
	}

	for _, ad := range ranked {
		assets := dataset.ResolveMedia(ad)
		images, videos := 0, 0
		for _, a := range assets {
			if a.Kind == models.MediaVideo {
				videos++
			} else {
				images++
			}
		}
		if len(assets) == 0 {
			p.logger.Warn("selected ad has no resolvable media in snapshot",
				zap.String("ad_id", ad.ID))
			continue
		}
		p.logger.Info("ad selected",
			zap.String("ad_id", ad.ID),
			zap.Float64(sortKey, ad.Metric(sortKey)),
			zap.Int("images", images),
			zap.Int("videos", videos))
	}

	if err := p.extractVideoFrames(ctx, params.RunID); err != nil {
		return nil, p.fail(params.RunID, mode, err)
	}

	runDir, err := p.store.RunDir(params.RunID)
	if err != nil {
		return nil, p.fail(params.RunID, mode, err)
	}

	session, err := exposure.Open(ctx, runDir, exposureOpts, p.logger)
	if err != nil {
		return nil, p.fail(params.RunID, mode, err)
	}
	defer session.Close()
	mode = session.Mode()

	manifest, refs, totalImages, totalFrames, err := p.buildManifest(params.RunID, ranked, session.BaseURL)
	if err != nil {
		return nil, p.fail(params.RunID, mode, err)
	}
	if len(manifest) == 0 {
		return nil, p.fail(params.RunID, mode, fmt.Errorf("no media found for selected ads in run %s", params.RunID))
	}

	prompt := analysis.BuildPrompt(p.cfg.PromptTemplate, params.RunID, len(loadRes.Records), selectedIDs, len(manifest))

	callCtx := ctx
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	p.logger.Info("invoking analysis model",
		zap.Int("media", len(manifest)),
		zap.Int("images", totalImages),
		zap.Int("video_frames", totalFrames))

	result, err := p.client.Analyze(callCtx, analysis.Request{
		Prompt:      prompt,
		Media:       refs,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return nil, p.fail(params.RunID, mode, err)
	}

	rep := &models.Report{
		Status:             "success",
		RunID:              params.RunID,
		Mode:               mode,
		SelectedAdIDs:      selectedIDs,
		TotalFilesAnalyzed: len(manifest),
		TotalImages:        totalImages,
		TotalVideoFrames:   totalFrames,
		SkippedRows:        loadRes.Skipped,
		TokensUsed:         result.TokensUsed,
		Model:              result.Model,
		Analysis:           result.Text,
		MediaURLs:          manifest,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}
	if mode == "ngrok" {
		rep.TunnelURL = session.BaseURL
	}

	reportPath, err := p.writer.Write(rep)
	if err != nil {
		return nil, p.fail(params.RunID, mode, err)
	}
	p.logger.Info("report written",
		zap.String("path", reportPath),
		zap.Int("tokens_used", rep.TokensUsed))

	p.record(&database.AnalysisRun{
		RunID:            params.RunID,
		Mode:             mode,
		Status:           "success",
		AdsAnalyzed:      len(ranked),
		TotalImages:      totalImages,
		TotalVideoFrames: totalFrames,
		TokensUsed:       rep.TokensUsed,
		Model:            rep.Model,
		ReportPath:       reportPath,
	})

	return rep, nil
}

// extractVideoFrames samples stills from the run's downloaded videos into
// video_frames/. One video failing never aborts the others; a missing
// extractor just means images-only analysis.
func (p *Pipeline) extractVideoFrames(ctx context.Context, runID string) error {
	if p.extractor == nil {
		return nil
	}

	videos, err := p.store.ListVideos(runID)
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		return nil
	}
	if p.cfg.MaxVideos > 0 && len(videos) > p.cfg.MaxVideos {
		videos = videos[:p.cfg.MaxVideos]
	}

	framesDir, err := p.store.FramesDir(runID)
	if err != nil {
		return err
	}

	results := p.extractor.ExtractBatch(ctx, videos, p.cfg.FramesPerVideo, framesDir)
	total := 0
	for name, frames := range results {
		total += len(frames)
		p.logger.Info("frames extracted",
			zap.String("video", name),
			zap.Int("frames", len(frames)))
	}
	p.logger.Info("frame extraction done",
		zap.Int("videos", len(videos)),
		zap.Int("extracted", len(results)),
		zap.Int("frames", total))
	return nil
}

// buildManifest lists each selected ad's images (capped per ad) followed by
// all extracted video frames, preserving rank order throughout.
func (p *Pipeline) buildManifest(runID string, ranked []models.AdRecord, baseURL string) ([]models.MediaURL, []analysis.MediaRef, int, int, error) {
	var manifest []models.MediaURL
	var refs []analysis.MediaRef
	totalImages, totalFrames := 0, 0

	for _, ad := range ranked {
		images, err := p.store.ImagesForAd(runID, ad.ID, p.cfg.MaxImagesPerAd)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		for _, path := range images {
			name := filepath.Base(path)
			manifest = append(manifest, models.MediaURL{
				AdID:     ad.ID,
				Type:     string(models.MediaImage),
				Filename: name,
				URL:      baseURL + "/media/" + name,
			})
			refs = append(refs, analysis.MediaRef{URL: baseURL + "/media/" + name, LocalPath: path})
			totalImages++
		}
	}

	frames, err := p.store.ListFrames(runID)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	for _, path := range frames {
		name := filepath.Base(path)
		manifest = append(manifest, models.MediaURL{
			AdID:     frameOwner(name, ranked),
			Type:     string(models.MediaVideoFrame),
			Filename: name,
			URL:      baseURL + "/video_frames/" + name,
		})
		refs = append(refs, analysis.MediaRef{URL: baseURL + "/video_frames/" + name, LocalPath: path})
		totalFrames++
	}

	return manifest, refs, totalImages, totalFrames, nil
}

// frameOwner attributes a frame to the selected ad whose id prefixes the
// source video's filename; downloaded videos carry that prefix. Frames from
// unattributed videos keep the generic marker.
func frameOwner(filename string, ranked []models.AdRecord) string {
	for _, ad := range ranked {
		if strings.HasPrefix(filename, ad.ID) {
			return ad.ID
		}
	}
	return "video_frame"
}

func (p *Pipeline) fail(runID, mode string, err error) error {
	p.logger.Error("analysis run failed", zap.String("run_id", runID), zap.Error(err))
	p.record(&database.AnalysisRun{
		RunID:   runID,
		Mode:    mode,
		Status:  "error",
		Message: err.Error(),
	})
	return err
}

func (p *Pipeline) record(run *database.AnalysisRun) {
	if p.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.runs.Insert(ctx, run); err != nil {
		p.logger.Warn("failed to index analysis run", zap.Error(err))
	}
}
