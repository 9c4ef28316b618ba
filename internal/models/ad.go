package models

// AdRecord is one scraped advertisement from a run's dataset. Records are
// built once by the loader and never mutated afterwards.
type AdRecord struct {
	ID       string
	Metrics  map[string]float64
	Snapshot map[string]any
}

// Metric returns the named metric, treating a missing key as zero.
func (a *AdRecord) Metric(name string) float64 {
	if a.Metrics == nil {
		return 0
	}
	return a.Metrics[name]
}

// MediaKind classifies a media asset.
type MediaKind string

const (
	MediaImage      MediaKind = "image"
	MediaVideo      MediaKind = "video"
	MediaVideoFrame MediaKind = "video_frame"
)

// MediaAsset is a single image or video URL referenced by an AdRecord's
// snapshot, as resolved by the dataset package.
type MediaAsset struct {
	AdID      string
	Kind      MediaKind
	SourceURL string
}
