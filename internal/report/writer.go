package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"adlens/internal/models"
)

// Filename derives the deterministic report name from the run id and the
// exposure mode used ("local" or "ngrok").
func Filename(runID, mode string) string {
	return fmt.Sprintf("%s_%s_analysis.json", runID, mode)
}

// Writer serializes analysis reports into the reports directory.
type Writer struct {
	reportsDir string
}

func NewWriter(reportsDir string) *Writer {
	return &Writer{reportsDir: reportsDir}
}

// Write marshals the report fully in memory and then writes it in one shot,
// overwriting any previous report for the same run and mode. Returns the
// written path.
func (w *Writer) Write(rep *models.Report) (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(w.reportsDir, Filename(rep.RunID, rep.Mode))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
