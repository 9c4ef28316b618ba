package dataset

import (
	"adlens/internal/models"
)

// URL key priority per entry kind. Different scrape sources name the usable
// URL differently; the first populated key wins.
var (
	imageURLKeys = []string{"original_image_url", "resized_image_url", "image_url", "url"}
	videoURLKeys = []string{"video_hd_url", "video_sd_url", "url"}
)

// ResolveMedia extracts the media assets referenced by an ad's snapshot.
// Carousel cards carry image URLs too and are treated as images. A snapshot
// without media keys yields an empty set, never an error.
func ResolveMedia(ad models.AdRecord) []models.MediaAsset {
	var assets []models.MediaAsset
	if ad.Snapshot == nil {
		return assets
	}

	for _, listKey := range []string{"images", "cards"} {
		for _, entry := range entryList(ad.Snapshot, listKey) {
			if url := firstURL(entry, imageURLKeys); url != "" {
				assets = append(assets, models.MediaAsset{
					AdID:      ad.ID,
					Kind:      models.MediaImage,
					SourceURL: url,
				})
			}
		}
	}

	for _, entry := range entryList(ad.Snapshot, "videos") {
		if url := firstURL(entry, videoURLKeys); url != "" {
			assets = append(assets, models.MediaAsset{
				AdID:      ad.ID,
				Kind:      models.MediaVideo,
				SourceURL: url,
			})
		}
	}

	return assets
}

func entryList(snapshot map[string]any, key string) []map[string]any {
	raw, ok := snapshot[key].([]any)
	if !ok {
		return nil
	}
	entries := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			entries = append(entries, m)
		}
	}
	return entries
}

func firstURL(entry map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := entry[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
