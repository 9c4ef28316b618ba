package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Per-run directory layout, shared with the scraping tooling that populates
// it: <base>/<run_id>/ holds the data file plus media/ and video_frames/;
// reports land in <base>/reports_json/.
const (
	mediaDirName   = "media"
	framesDirName  = "video_frames"
	reportsDirName = "reports_json"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
}

// RunStore resolves paths inside the datasets base directory and lists a
// run's downloaded media. It never mutates media files; the only directory
// it creates is the frame output directory.
type RunStore struct {
	baseDir string
}

func NewRunStore(baseDir string) (*RunStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create datasets directory: %w", err)
	}
	return &RunStore{baseDir: baseDir}, nil
}

func (s *RunStore) BaseDir() string {
	return s.baseDir
}

// RunDir resolves a run's directory, rejecting ids that would escape the
// base directory.
func (s *RunStore) RunDir(runID string) (string, error) {
	clean := filepath.Clean(runID)
	if clean != runID || clean == "." || strings.Contains(clean, "..") || strings.ContainsAny(clean, `/\`) {
		return "", fmt.Errorf("invalid run id: %q", runID)
	}
	return filepath.Join(s.baseDir, clean), nil
}

func (s *RunStore) MediaDir(runID string) (string, error) {
	runDir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(runDir, mediaDirName), nil
}

// FramesDir returns the run's frame output directory, creating it.
func (s *RunStore) FramesDir(runID string) (string, error) {
	runDir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(runDir, framesDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create frames directory: %w", err)
	}
	return dir, nil
}

// ReportsDir returns the shared report output directory, creating it.
func (s *RunStore) ReportsDir() (string, error) {
	dir := filepath.Join(s.baseDir, reportsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	return dir, nil
}

// ListVideos returns the run's downloaded video files in name order.
func (s *RunStore) ListVideos(runID string) ([]string, error) {
	return s.listByExt(runID, mediaDirName, videoExtensions)
}

// ListFrames returns the extracted frame stills in name order.
func (s *RunStore) ListFrames(runID string) ([]string, error) {
	return s.listByExt(runID, framesDirName, imageExtensions)
}

// ImagesForAd returns up to max image files whose name starts with the ad
// id, in name order. Downloaded media files are prefixed with the owning
// ad's id by the scraping tooling.
func (s *RunStore) ImagesForAd(runID, adID string, max int) ([]string, error) {
	images, err := s.listByExt(runID, mediaDirName, imageExtensions)
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, path := range images {
		if !strings.HasPrefix(filepath.Base(path), adID) {
			continue
		}
		matched = append(matched, path)
		if max > 0 && len(matched) >= max {
			break
		}
	}
	return matched, nil
}

func (s *RunStore) listByExt(runID, subDir string, exts map[string]bool) ([]string, error) {
	runDir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(runDir, subDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if exts[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
