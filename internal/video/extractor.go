package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrUnreadableMedia marks a video that cannot be opened or carries no valid
// frame count / FPS metadata. Fatal to that video, never to the batch.
var ErrUnreadableMedia = errors.New("unreadable media")

// Frame is one sampled still from a video.
type Frame struct {
	FrameNumber  int     `json:"frame_number"`
	TimestampSec float64 `json:"timestamp_seconds"`
	Image        []byte  `json:"-"`
	Path         string  `json:"file_path,omitempty"`
}

// Extractor samples frames from video files through ffmpeg/ffprobe.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger
}

func NewExtractor(logger *zap.Logger) (*Extractor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Extractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger,
	}, nil
}

// sampleIndices spreads count sample positions uniformly across
// [0, totalFrames): floor(i*total/count). count is clamped to totalFrames so
// short videos never produce duplicates.
func sampleIndices(totalFrames, count int) []int {
	if count > totalFrames {
		count = totalFrames
	}
	if count <= 0 {
		return nil
	}
	indices := make([]int, count)
	for i := 0; i < count; i++ {
		indices[i] = i * totalFrames / count
	}
	return indices
}

// frameFilename builds the deterministic on-disk name for a sampled frame:
// source stem, ordinal and timestamp to two decimals. Repeated runs over the
// same video must produce identical names.
func frameFilename(videoPath string, ordinal int, timestampSec float64) string {
	stem := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return fmt.Sprintf("%s_frame_%03d_t%.2fs.jpg", stem, ordinal, timestampSec)
}

// ExtractFrames samples count frames from the video, encodes each as JPEG
// and, when outputDir is non-empty, writes them there under deterministic
// names. Individual seek/decode failures are logged and skipped; only a
// video with no usable metadata fails outright.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath string, count int, outputDir string) ([]Frame, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableMedia, videoPath, err)
	}

	totalFrames, fps, err := e.probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	e.logger.Info("extracting frames",
		zap.String("video", filepath.Base(videoPath)),
		zap.Int("total_frames", totalFrames),
		zap.Float64("fps", fps),
		zap.Int("requested", count))

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create frame output directory: %w", err)
		}
	}

	var frames []Frame
	for ordinal, frameIdx := range sampleIndices(totalFrames, count) {
		timestamp := float64(frameIdx) / fps

		data, err := e.extractAt(ctx, videoPath, timestamp)
		if err != nil {
			e.logger.Warn("failed to extract frame",
				zap.String("video", filepath.Base(videoPath)),
				zap.Int("frame", frameIdx),
				zap.Error(err))
			continue
		}

		frame := Frame{
			FrameNumber:  frameIdx,
			TimestampSec: round2(timestamp),
			Image:        data,
		}

		if outputDir != "" {
			name := frameFilename(videoPath, ordinal, frame.TimestampSec)
			path := filepath.Join(outputDir, name)
			if err := os.WriteFile(path, data, 0644); err != nil {
				e.logger.Warn("failed to write frame", zap.String("path", path), zap.Error(err))
				continue
			}
			frame.Path = path
		}

		frames = append(frames, frame)
	}

	e.logger.Info("frame extraction done",
		zap.String("video", filepath.Base(videoPath)),
		zap.Int("extracted", len(frames)))
	return frames, nil
}

// ExtractBatch processes videos independently and aggregates results keyed
// by source filename. All frames land flat in outputDir; the source stem in
// each frame name keeps them distinct. One video's failure never aborts the
// others.
func (e *Extractor) ExtractBatch(ctx context.Context, videoPaths []string, count int, outputDir string) map[string][]Frame {
	results := make(map[string][]Frame)
	for _, path := range videoPaths {
		frames, err := e.ExtractFrames(ctx, path, count, outputDir)
		if err != nil {
			e.logger.Warn("skipping video", zap.String("video", filepath.Base(path)), zap.Error(err))
			continue
		}
		if len(frames) > 0 {
			results[filepath.Base(path)] = frames
		}
	}
	return results
}

// probe reads the stream's frame count and frame rate. When nb_frames is
// absent from the container it is derived from duration and fps.
func (e *Extractor) probe(ctx context.Context, videoPath string) (int, float64, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_frames,r_frame_rate,duration",
		"-of", "default=noprint_wrappers=1",
		videoPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, 0, fmt.Errorf("%w: ffprobe failed for %s: %v (%s)",
			ErrUnreadableMedia, videoPath, err, strings.TrimSpace(stderr.String()))
	}

	var nbFrames int
	var fps, duration float64
	for _, line := range strings.Split(stdout.String(), "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "nb_frames":
			if n, err := strconv.Atoi(value); err == nil {
				nbFrames = n
			}
		case "r_frame_rate":
			fps = parseFrameRate(value)
		case "duration":
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				duration = d
			}
		}
	}

	if nbFrames <= 0 && fps > 0 && duration > 0 {
		nbFrames = int(duration * fps)
	}
	if nbFrames <= 0 || fps <= 0 {
		return 0, 0, fmt.Errorf("%w: %s has no usable frame metadata (frames=%d fps=%.2f)",
			ErrUnreadableMedia, videoPath, nbFrames, fps)
	}
	return nbFrames, fps, nil
}

// parseFrameRate decodes ffprobe's rational rate form, e.g. "30000/1001".
func parseFrameRate(value string) float64 {
	num, den, found := strings.Cut(value, "/")
	if !found {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// extractAt seeks to the timestamp and decodes exactly one frame, re-encoded
// as JPEG quality 85.
func (e *Extractor) extractAt(ctx context.Context, videoPath string, timestampSec float64) ([]byte, error) {
	tmp, err := os.CreateTemp("", "adlens-frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp frame file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-y",
		"-ss", fmt.Sprintf("%.3f", timestampSec),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "mjpeg",
		tmpPath)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg seek at %.2fs failed: %v (%s)", timestampSec, err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open extracted frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
