package dataset

import (
	"testing"
)

func TestParseSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantVal any
		wantErr bool
	}{
		{
			name:    "strict json",
			raw:     `{"page_name": "Acme", "count": 3}`,
			wantKey: "page_name",
			wantVal: "Acme",
		},
		{
			name:    "single quoted json",
			raw:     `{'page_name': 'Acme'}`,
			wantKey: "page_name",
			wantVal: "Acme",
		},
		{
			name:    "python literal with keywords",
			raw:     `{'active': True, 'archived': False, 'note': None}`,
			wantKey: "active",
			wantVal: true,
		},
		{
			name:    "python literal nested",
			raw:     `{'images': [{'original_image_url': 'http://a/1.jpg'}], 'n': 2}`,
			wantKey: "n",
			wantVal: float64(2),
		},
		{
			name:    "trailing comma tolerated",
			raw:     `{'a': 1, 'b': [1, 2,],}`,
			wantKey: "a",
			wantVal: float64(1),
		},
		{
			name:    "double quotes inside single quoted string",
			raw:     `{'body': 'say "hi" now'}`,
			wantKey: "body",
			wantVal: `say "hi" now`,
		},
		{
			name:    "empty input",
			raw:     "   ",
			wantErr: true,
		},
		{
			name:    "not a mapping",
			raw:     `[1, 2, 3]`,
			wantErr: true,
		},
		{
			name:    "garbage",
			raw:     `{'a': <object>}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseSnapshot(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", m)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := m[tt.wantKey]; got != tt.wantVal {
				t.Errorf("m[%q] = %v (%T), want %v (%T)", tt.wantKey, got, got, tt.wantVal, tt.wantVal)
			}
		})
	}
}

func TestParseSnapshotNestedStructure(t *testing.T) {
	raw := `{'videos': [{'video_hd_url': 'http://v/hd.mp4', 'video_sd_url': 'http://v/sd.mp4'}], 'title': 'Sale\n50% off'}`

	m, err := ParseSnapshot(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	videos, ok := m["videos"].([]any)
	if !ok || len(videos) != 1 {
		t.Fatalf("videos = %v, want one entry", m["videos"])
	}
	entry, ok := videos[0].(map[string]any)
	if !ok {
		t.Fatalf("video entry has type %T", videos[0])
	}
	if entry["video_hd_url"] != "http://v/hd.mp4" {
		t.Errorf("video_hd_url = %v", entry["video_hd_url"])
	}
	if m["title"] != "Sale\n50% off" {
		t.Errorf("title = %q", m["title"])
	}
}
