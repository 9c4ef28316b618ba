package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adlens/internal/analysis"
	"adlens/internal/database"
	"adlens/internal/dataset"
	"adlens/internal/exposure"
	"adlens/internal/report"
	"adlens/internal/storage"
	"adlens/internal/video"
)

// stubClient records the request and fetches the first media URL to prove
// the exposure server is live for the duration of the call.
type stubClient struct {
	lastRequest analysis.Request
	fetched     []byte
	err         error
}

func (c *stubClient) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	c.lastRequest = req
	if c.err != nil {
		return nil, c.err
	}
	if len(req.Media) > 0 {
		resp, err := http.Get(req.Media[0].URL)
		if err != nil {
			return nil, fmt.Errorf("media not reachable during analysis: %w", err)
		}
		defer resp.Body.Close()
		c.fetched, _ = io.ReadAll(resp.Body)
	}
	return &analysis.Result{Text: "stub analysis", TokensUsed: 777, Model: "stub-model"}, nil
}

// stubExtractor writes one fake frame per video without touching ffmpeg.
// Videos whose name contains failFor are treated as unreadable and skipped,
// the way the real extractor isolates per-video failures.
type stubExtractor struct {
	failFor string
}

func (s stubExtractor) ExtractBatch(ctx context.Context, videoPaths []string, count int, outputDir string) map[string][]video.Frame {
	results := make(map[string][]video.Frame)
	for _, videoPath := range videoPaths {
		base := filepath.Base(videoPath)
		if s.failFor != "" && strings.Contains(base, s.failFor) {
			continue
		}
		stem := base[:len(base)-len(filepath.Ext(base))]
		name := fmt.Sprintf("%s_frame_000_t0.00s.jpg", stem)
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, []byte("frame"), 0644); err != nil {
			continue
		}
		results[base] = []video.Frame{{FrameNumber: 0, TimestampSec: 0, Path: path}}
	}
	return results
}

func writeTestRun(t *testing.T, baseDir string) {
	t.Helper()
	runDir := filepath.Join(baseDir, "run1")
	mediaDir := filepath.Join(runDir, "media")
	require.NoError(t, os.MkdirAll(mediaDir, 0755))

	prepared := `{
		"all_ads": [
			{"ad_archive_id": "111", "impressions": 500, "snapshot": {}},
			{"ad_archive_id": "222", "impressions": 300, "snapshot": {}},
			{"ad_archive_id": "333", "impressions": 10, "snapshot": {}}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "prepared_data.json"), []byte(prepared), 0644))

	for _, name := range []string{"111_a.jpg", "111_b.jpg", "222_a.jpg", "333_a.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(mediaDir, name), []byte("img:"+name), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "222_clip.mp4"), []byte("video"), 0644))
}

func newTestPipeline(t *testing.T, baseDir string, client analysis.Client, extractor FrameExtractor) (*Pipeline, *database.RunRepository) {
	t.Helper()

	store, err := storage.NewRunStore(baseDir)
	require.NoError(t, err)
	reportsDir, err := store.ReportsDir()
	require.NoError(t, err)

	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	runs := database.NewRunRepository(db)

	logger := zap.NewNop()
	cfg := Config{
		SortKey:        "impressions",
		TopN:           10,
		FramesPerVideo: 3,
		MaxVideos:      5,
		MaxImagesPerAd: 3,
		MaxTokens:      4096,
		Temperature:    0.5,
		RequestTimeout: time.Minute,
		Exposure:       exposure.Options{PortMin: 8100, PortMax: 8999},
	}

	return New(cfg, dataset.NewLoader(baseDir, logger), store, extractor, client,
		report.NewWriter(reportsDir), runs, logger), runs
}

func TestRunEndToEndLocal(t *testing.T) {
	baseDir := t.TempDir()
	writeTestRun(t, baseDir)

	client := &stubClient{}
	pl, runs := newTestPipeline(t, baseDir, client, stubExtractor{})

	rep, err := pl.Run(context.Background(), RunParams{RunID: "run1", TopN: 2})
	require.NoError(t, err)

	assert.Equal(t, "success", rep.Status)
	assert.Equal(t, "run1", rep.RunID)
	assert.Equal(t, "local", rep.Mode)
	assert.Equal(t, []string{"111", "222"}, rep.SelectedAdIDs)
	assert.Equal(t, 3, rep.TotalImages)
	assert.Equal(t, 1, rep.TotalVideoFrames)
	assert.Equal(t, 4, rep.TotalFilesAnalyzed)
	assert.Equal(t, 777, rep.TokensUsed)
	assert.Equal(t, "stub-model", rep.Model)
	assert.Equal(t, "stub analysis", rep.Analysis)
	assert.Empty(t, rep.TunnelURL)

	// manifest in rank order, images first, then frames
	require.Len(t, rep.MediaURLs, 4)
	assert.Equal(t, "111", rep.MediaURLs[0].AdID)
	assert.Equal(t, "111_a.jpg", rep.MediaURLs[0].Filename)
	assert.Contains(t, rep.MediaURLs[0].URL, "/media/111_a.jpg")
	assert.Equal(t, "222", rep.MediaURLs[3].AdID)
	assert.Equal(t, "video_frame", rep.MediaURLs[3].Type)
	assert.Contains(t, rep.MediaURLs[3].URL, "/video_frames/222_clip_frame_000_t0.00s.jpg")

	// the excluded ad's image never reaches the manifest
	for _, entry := range rep.MediaURLs {
		assert.NotEqual(t, "333_a.jpg", entry.Filename)
	}

	// the stub fetched the first image through the exposure server
	assert.Equal(t, []byte("img:111_a.jpg"), client.fetched)

	// prompt carries the dataset header and the full media count
	assert.Contains(t, client.lastRequest.Prompt, "Run ID: run1")
	assert.Contains(t, client.lastRequest.Prompt, "111, 222")
	assert.Len(t, client.lastRequest.Media, 4)

	// report written under the deterministic name
	reportPath := filepath.Join(baseDir, "reports_json", "run1_local_analysis.json")
	_, err = os.Stat(reportPath)
	assert.NoError(t, err)

	// run indexed
	indexed, err := runs.LatestByRunID(context.Background(), "run1")
	require.NoError(t, err)
	require.NotNil(t, indexed)
	assert.Equal(t, "success", indexed.Status)
	assert.Equal(t, 777, indexed.TokensUsed)
	assert.Equal(t, reportPath, indexed.ReportPath)
}

func TestRunUnknownRunFails(t *testing.T) {
	baseDir := t.TempDir()

	client := &stubClient{}
	pl, runs := newTestPipeline(t, baseDir, client, stubExtractor{})

	_, err := pl.Run(context.Background(), RunParams{RunID: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dataset.ErrRunNotFound))

	payload := Failure("missing", err)
	assert.Equal(t, "error", payload.Status)
	assert.Equal(t, "missing", payload.RunID)
	assert.NotEmpty(t, payload.Message)

	indexed, err := runs.LatestByRunID(context.Background(), "missing")
	require.NoError(t, err)
	require.NotNil(t, indexed)
	assert.Equal(t, "error", indexed.Status)
}

func TestRunProviderErrorSurfaces(t *testing.T) {
	baseDir := t.TempDir()
	writeTestRun(t, baseDir)

	client := &stubClient{err: fmt.Errorf("%w: rate_limit_error: slow down", analysis.ErrProvider)}
	pl, _ := newTestPipeline(t, baseDir, client, stubExtractor{})

	_, err := pl.Run(context.Background(), RunParams{RunID: "run1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, analysis.ErrProvider))
	assert.Contains(t, err.Error(), "rate_limit_error")
}

func TestRunUnreadableVideoDoesNotAbortOthers(t *testing.T) {
	baseDir := t.TempDir()
	writeTestRun(t, baseDir)
	require.NoError(t, os.WriteFile(
		filepath.Join(baseDir, "run1", "media", "111_clip.mp4"), []byte("corrupt"), 0644))

	client := &stubClient{}
	pl, _ := newTestPipeline(t, baseDir, client, stubExtractor{failFor: "111_clip"})

	rep, err := pl.Run(context.Background(), RunParams{RunID: "run1", TopN: 2})
	require.NoError(t, err)

	assert.Equal(t, "success", rep.Status)
	assert.Equal(t, 1, rep.TotalVideoFrames)

	var frameNames []string
	for _, entry := range rep.MediaURLs {
		if entry.Type == "video_frame" {
			frameNames = append(frameNames, entry.Filename)
		}
	}
	require.Len(t, frameNames, 1)
	assert.Equal(t, "222_clip_frame_000_t0.00s.jpg", frameNames[0])
}

func TestRunNoMediaFails(t *testing.T) {
	baseDir := t.TempDir()
	runDir := filepath.Join(baseDir, "run_empty")
	require.NoError(t, os.MkdirAll(runDir, 0755))
	prepared := `{"all_ads": [{"ad_archive_id": "111", "impressions": 5, "snapshot": {}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "prepared_data.json"), []byte(prepared), 0644))

	client := &stubClient{}
	pl, _ := newTestPipeline(t, baseDir, client, stubExtractor{})

	_, err := pl.Run(context.Background(), RunParams{RunID: "run_empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no media")
}
