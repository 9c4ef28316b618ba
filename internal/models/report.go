package models

// MediaURL is one manifest entry: a selected ad's media file with the public
// URL it was served under during analysis. Manifest order follows selection
// rank; downstream report readers assume position corresponds to rank.
type MediaURL struct {
	AdID     string `json:"ad_id"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Report is the final artifact of one analysis run. It is fully materialized
// in memory before being written and treated as an immutable record after.
type Report struct {
	Status             string     `json:"status"`
	RunID              string     `json:"run_id"`
	Mode               string     `json:"mode"`
	SelectedAdIDs      []string   `json:"selected_ad_ids"`
	TotalFilesAnalyzed int        `json:"total_files_analyzed"`
	TotalImages        int        `json:"total_images"`
	TotalVideoFrames   int        `json:"total_video_frames"`
	SkippedRows        int        `json:"skipped_rows"`
	TokensUsed         int        `json:"tokens_used"`
	Model              string     `json:"model"`
	TunnelURL          string     `json:"tunnel_url,omitempty"`
	Analysis           string     `json:"analysis"`
	MediaURLs          []MediaURL `json:"media_urls"`
	Timestamp          string     `json:"timestamp"`
}

// FailureReport is the payload returned to callers when a pipeline stage
// aborts the run. The message is human-readable; the raw error stays in logs.
type FailureReport struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}
