package dataset

import (
	"testing"

	"adlens/internal/models"
)

func TestResolveMediaImagePriority(t *testing.T) {
	ad := models.AdRecord{
		ID: "111",
		Snapshot: map[string]any{
			"images": []any{
				map[string]any{
					"url":                "http://a/low.jpg",
					"original_image_url": "http://a/orig.jpg",
					"resized_image_url":  "http://a/resized.jpg",
				},
				map[string]any{
					"resized_image_url": "http://a/resized2.jpg",
				},
			},
		},
	}

	assets := ResolveMedia(ad)
	if len(assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(assets))
	}
	if assets[0].SourceURL != "http://a/orig.jpg" {
		t.Errorf("url = %s, want original_image_url to win", assets[0].SourceURL)
	}
	if assets[1].SourceURL != "http://a/resized2.jpg" {
		t.Errorf("url = %s", assets[1].SourceURL)
	}
	if assets[0].Kind != models.MediaImage || assets[0].AdID != "111" {
		t.Errorf("asset = %+v", assets[0])
	}
}

func TestResolveMediaVideoPriority(t *testing.T) {
	ad := models.AdRecord{
		ID: "222",
		Snapshot: map[string]any{
			"videos": []any{
				map[string]any{
					"url":          "http://v/page",
					"video_sd_url": "http://v/sd.mp4",
					"video_hd_url": "http://v/hd.mp4",
				},
				map[string]any{
					"video_sd_url": "http://v/sd2.mp4",
				},
			},
		},
	}

	assets := ResolveMedia(ad)
	if len(assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(assets))
	}
	if assets[0].SourceURL != "http://v/hd.mp4" {
		t.Errorf("url = %s, want video_hd_url to win", assets[0].SourceURL)
	}
	if assets[0].Kind != models.MediaVideo {
		t.Errorf("kind = %s", assets[0].Kind)
	}
}

func TestResolveMediaCardsAreImages(t *testing.T) {
	ad := models.AdRecord{
		ID: "333",
		Snapshot: map[string]any{
			"cards": []any{
				map[string]any{"original_image_url": "http://c/1.jpg"},
				map[string]any{"original_image_url": "http://c/2.jpg"},
			},
		},
	}

	assets := ResolveMedia(ad)
	if len(assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(assets))
	}
	for _, a := range assets {
		if a.Kind != models.MediaImage {
			t.Errorf("card kind = %s, want image", a.Kind)
		}
	}
}

func TestResolveMediaEmptyOrMalformed(t *testing.T) {
	tests := []struct {
		name string
		ad   models.AdRecord
	}{
		{"nil snapshot", models.AdRecord{ID: "x"}},
		{"empty snapshot", models.AdRecord{ID: "x", Snapshot: map[string]any{}}},
		{"images not a list", models.AdRecord{ID: "x", Snapshot: map[string]any{"images": "nope"}}},
		{"entries not maps", models.AdRecord{ID: "x", Snapshot: map[string]any{"images": []any{"nope", 3}}}},
		{"entry without url keys", models.AdRecord{ID: "x", Snapshot: map[string]any{"images": []any{map[string]any{"w": 100}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if assets := ResolveMedia(tt.ad); len(assets) != 0 {
				t.Errorf("assets = %+v, want none", assets)
			}
		})
	}
}
