package exposure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestOpenLocalServesFiles(t *testing.T) {
	root := t.TempDir()
	mediaDir := filepath.Join(root, "media")
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mediaDir, "111_ad.jpg"), []byte("jpeg bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := Options{PortMin: 8100, PortMax: 8999}
	session, err := Open(context.Background(), root, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer session.Close()

	if session.Port < opts.PortMin || session.Port > opts.PortMax {
		t.Errorf("port %d outside [%d, %d]", session.Port, opts.PortMin, opts.PortMax)
	}
	if session.Mode() != "local" {
		t.Errorf("mode = %s, want local", session.Mode())
	}
	if want := fmt.Sprintf("http://127.0.0.1:%d", session.Port); session.BaseURL != want {
		t.Errorf("base url = %s, want %s", session.BaseURL, want)
	}

	resp, err := http.Get(session.BaseURL + "/media/111_ad.jpg")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "jpeg bytes" {
		t.Errorf("status = %d, body = %q", resp.StatusCode, body)
	}
}

func TestOpenRejectsMissingRoot(t *testing.T) {
	opts := Options{PortMin: 8100, PortMax: 8999}
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope"), opts, zap.NewNop())
	if !errors.Is(err, ErrExposure) {
		t.Fatalf("err = %v, want ErrExposure", err)
	}
}

func TestOpenInvalidPortRange(t *testing.T) {
	opts := Options{PortMin: 9000, PortMax: 8100}
	_, err := Open(context.Background(), t.TempDir(), opts, zap.NewNop())
	if !errors.Is(err, ErrExposure) {
		t.Fatalf("err = %v, want ErrExposure", err)
	}
}

func TestCloseFreesPort(t *testing.T) {
	root := t.TempDir()

	// pin the range to one port so the second Open must reuse it
	first, err := Open(context.Background(), root, Options{PortMin: 8741, PortMax: 8741}, zap.NewNop())
	if err != nil {
		t.Skipf("port 8741 unavailable: %v", err)
	}
	first.Close()

	second, err := Open(context.Background(), root, Options{PortMin: 8741, PortMax: 8741}, zap.NewNop())
	if err != nil {
		t.Fatalf("port not released by Close: %v", err)
	}
	second.Close()
}
