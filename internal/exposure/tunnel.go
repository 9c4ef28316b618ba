package exposure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultNgrokAPIURL = "http://127.0.0.1:4040"

// tunnel wraps an ngrok agent process forwarding a local port. The public
// URL is discovered through the agent's local inspection API, the same way
// pyngrok drives the binary.
type tunnel struct {
	cmd       *exec.Cmd
	publicURL string
	logger    *zap.Logger
}

func startTunnel(ctx context.Context, port int, apiURL string, timeout time.Duration, logger *zap.Logger) (*tunnel, error) {
	ngrokPath, err := exec.LookPath("ngrok")
	if err != nil {
		return nil, fmt.Errorf("%w: ngrok not found in PATH: %v", ErrExposure, err)
	}
	if apiURL == "" {
		apiURL = defaultNgrokAPIURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cmd := exec.Command(ngrokPath, "http", strconv.Itoa(port), "--log=stdout", "--log-format=json")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ngrok: %v", ErrExposure, err)
	}

	tun := &tunnel{cmd: cmd, logger: logger}
	url, err := waitForPublicURL(ctx, apiURL, port, timeout)
	if err != nil {
		tun.close()
		return nil, err
	}
	tun.publicURL = url
	return tun, nil
}

func (t *tunnel) close() {
	if t.cmd == nil || t.cmd.Process == nil {
		return
	}
	if err := t.cmd.Process.Kill(); err != nil {
		t.logger.Warn("failed to kill ngrok process", zap.Error(err))
	}
	t.cmd.Wait()
	t.cmd = nil
}

type ngrokTunnelList struct {
	Tunnels []struct {
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// waitForPublicURL polls the agent API until a tunnel for the given port
// shows up. HTTPS endpoints win over HTTP when both are registered.
func waitForPublicURL(ctx context.Context, apiURL string, port int, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	portSuffix := ":" + strconv.Itoa(port)

	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: tunnel for port %d not ready after %s", ErrExposure, port, timeout)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrExposure, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}

		url, err := queryTunnels(ctx, apiURL, portSuffix)
		if err == nil && url != "" {
			return url, nil
		}
	}
}

func queryTunnels(ctx context.Context, apiURL, portSuffix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/tunnels", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var list ngrokTunnelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", err
	}

	var fallback string
	for _, t := range list.Tunnels {
		if !strings.HasSuffix(t.Config.Addr, portSuffix) {
			continue
		}
		if t.Proto == "https" {
			return t.PublicURL, nil
		}
		if fallback == "" {
			fallback = t.PublicURL
		}
	}
	return fallback, nil
}
