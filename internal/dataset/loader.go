package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"adlens/internal/models"
)

// ErrRunNotFound is returned when no data file exists for a run. It is fatal
// to the whole pipeline run.
var ErrRunNotFound = errors.New("run dataset not found")

// Loader reads a run's scraped ad records from the run directory. Preference
// order: prepared_data.json, then <run_id>.jsonl, then <run_id>.csv.
type Loader struct {
	baseDir string
	logger  *zap.Logger
}

func NewLoader(baseDir string, logger *zap.Logger) *Loader {
	return &Loader{baseDir: baseDir, logger: logger}
}

// LoadResult carries the parsed records plus the count of rows that no
// snapshot strategy could decode. Malformed rows never fail the load.
type LoadResult struct {
	Records []models.AdRecord
	Skipped int
}

func (l *Loader) Load(runID string) (*LoadResult, error) {
	runDir := filepath.Join(l.baseDir, runID)

	preparedPath := filepath.Join(runDir, "prepared_data.json")
	if _, err := os.Stat(preparedPath); err == nil {
		l.logger.Info("loading prepared dataset", zap.String("path", preparedPath))
		return l.loadPrepared(preparedPath)
	}

	jsonlPath := filepath.Join(runDir, runID+".jsonl")
	if _, err := os.Stat(jsonlPath); err == nil {
		l.logger.Info("loading jsonl dataset", zap.String("path", jsonlPath))
		return l.loadJSONL(jsonlPath)
	}

	csvPath := filepath.Join(runDir, runID+".csv")
	if _, err := os.Stat(csvPath); err == nil {
		l.logger.Info("loading csv dataset", zap.String("path", csvPath))
		return l.loadCSV(csvPath)
	}

	return nil, fmt.Errorf("%w: no data file for run %s under %s", ErrRunNotFound, runID, runDir)
}

func (l *Loader) loadPrepared(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prepared data: %w", err)
	}

	var payload struct {
		AllAds []map[string]any `json:"all_ads"`
		TopAds []map[string]any `json:"top_ads"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse prepared data: %w", err)
	}

	ads := payload.AllAds
	if len(ads) == 0 {
		ads = payload.TopAds
	}

	result := &LoadResult{}
	for idx, raw := range ads {
		rec, err := recordFromMap(idx, raw)
		if err != nil {
			result.Skipped++
			l.logger.Warn("skipping malformed record", zap.Int("index", idx), zap.Error(err))
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

func (l *Loader) loadJSONL(path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open jsonl: %w", err)
	}
	defer f.Close()

	result := &LoadResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	idx := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result.Skipped++
			l.logger.Warn("skipping malformed jsonl line", zap.Int("line", idx), zap.Error(err))
			idx++
			continue
		}
		rec, err := recordFromMap(idx, raw)
		if err != nil {
			result.Skipped++
			l.logger.Warn("skipping malformed record", zap.Int("line", idx), zap.Error(err))
			idx++
			continue
		}
		result.Records = append(result.Records, rec)
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jsonl: %w", err)
	}
	return result, nil
}

func (l *Loader) loadCSV(path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	result := &LoadResult{}
	idx := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Skipped++
			l.logger.Warn("skipping unreadable csv row", zap.Int("row", idx), zap.Error(err))
			idx++
			continue
		}

		rec, err := recordFromCSVRow(idx, header, col, row)
		if err != nil {
			result.Skipped++
			l.logger.Warn("skipping malformed csv row", zap.Int("row", idx), zap.Error(err))
			idx++
			continue
		}
		result.Records = append(result.Records, rec)
		idx++
	}
	return result, nil
}

var adIDKeys = []string{"ad_archive_id", "adArchiveID", "ad_id", "id"}

// recordFromMap builds an AdRecord from a decoded JSON object. The ad id
// falls back to the positional index when no id field is present.
func recordFromMap(idx int, raw map[string]any) (models.AdRecord, error) {
	rec := models.AdRecord{
		ID:      adIDFrom(idx, raw),
		Metrics: make(map[string]float64),
	}

	switch snap := raw["snapshot"].(type) {
	case map[string]any:
		rec.Snapshot = snap
	case string:
		parsed, err := ParseSnapshot(snap)
		if err != nil {
			return models.AdRecord{}, err
		}
		rec.Snapshot = parsed
	case nil:
		rec.Snapshot = map[string]any{}
	default:
		return models.AdRecord{}, fmt.Errorf("snapshot has unexpected type %T", snap)
	}

	for key, val := range raw {
		if key == "snapshot" || isAdIDKey(key) {
			continue
		}
		if n, ok := toNumber(val); ok {
			rec.Metrics[key] = n
		}
	}
	return rec, nil
}

func recordFromCSVRow(idx int, header []string, col map[string]int, row []string) (models.AdRecord, error) {
	cell := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	rec := models.AdRecord{Metrics: make(map[string]float64)}
	for _, key := range adIDKeys {
		if v := strings.TrimSpace(cell(key)); v != "" {
			rec.ID = v
			break
		}
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("ad_%d", idx)
	}

	rawSnap := cell("snapshot")
	if strings.TrimSpace(rawSnap) == "" {
		rec.Snapshot = map[string]any{}
	} else {
		parsed, err := ParseSnapshot(rawSnap)
		if err != nil {
			return models.AdRecord{}, err
		}
		rec.Snapshot = parsed
	}

	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "snapshot" || isAdIDKey(name) || i >= len(row) {
			continue
		}
		if n, ok := toNumber(row[i]); ok {
			rec.Metrics[name] = n
		}
	}
	return rec, nil
}

func adIDFrom(idx int, raw map[string]any) string {
	for _, key := range adIDKeys {
		if v, ok := raw[key]; ok {
			switch id := v.(type) {
			case string:
				if id != "" {
					return id
				}
			case float64:
				return strconv.FormatFloat(id, 'f', -1, 64)
			}
		}
	}
	return fmt.Sprintf("ad_%d", idx)
}

func isAdIDKey(key string) bool {
	for _, k := range adIDKeys {
		if key == k {
			return true
		}
	}
	return false
}

// toNumber coerces metric values, tolerating thousands separators in string
// cells the way scraped CSVs format them.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
