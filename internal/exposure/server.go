package exposure

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrExposure marks a failed port bind or tunnel creation. Both are fatal to
// the analysis run; there is no retry.
var ErrExposure = errors.New("exposure failure")

// Options controls how a session binds and whether it opens a public tunnel.
type Options struct {
	PortMin       int
	PortMax       int
	Tunnel        bool
	NgrokAPIURL   string
	TunnelTimeout time.Duration
}

// Session is an ephemeral local file server, optionally fronted by a public
// tunnel, serving one run directory read-only for the duration of an
// analysis call. The caller must Close it on every exit path.
type Session struct {
	ID      string
	Port    int
	BaseURL string
	Root    string

	srv    *http.Server
	tunnel *tunnel
	logger *zap.Logger
}

// Mode reports how files are reachable: "ngrok" when tunneled, "local"
// otherwise. The report filename carries this suffix.
func (s *Session) Mode() string {
	if s.tunnel != nil {
		return "ngrok"
	}
	return "local"
}

// Open binds an ephemeral port in the configured range, serves root over
// plain HTTP on a background goroutine and, when requested, opens an ngrok
// tunnel to that port.
func Open(ctx context.Context, root string, opts Options, logger *zap.Logger) (*Session, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: serving root %s is not a directory", ErrExposure, root)
	}

	ln, port, err := bindInRange(opts.PortMin, opts.PortMax)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:      uuid.New().String(),
		Port:    port,
		BaseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		Root:    root,
		srv:     &http.Server{Handler: http.FileServer(http.Dir(root))},
		logger:  logger,
	}

	go func() {
		if err := session.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("exposure server stopped", zap.Int("port", port), zap.Error(err))
		}
	}()
	logger.Info("exposure server started", zap.Int("port", port), zap.String("root", root))

	if opts.Tunnel {
		tun, err := startTunnel(ctx, port, opts.NgrokAPIURL, opts.TunnelTimeout, logger)
		if err != nil {
			session.Close()
			return nil, err
		}
		session.tunnel = tun
		session.BaseURL = tun.publicURL
		logger.Info("tunnel established", zap.String("url", tun.publicURL))
	}

	return session, nil
}

// Close stops the tunnel and the file server. Safe to call exactly once;
// always call it, on success and failure paths alike, or ports and tunnels
// leak across pipeline invocations.
func (s *Session) Close() {
	if s.tunnel != nil {
		s.tunnel.close()
		s.tunnel = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.srv.Close()
	}
	s.logger.Info("exposure session closed", zap.Int("port", s.Port))
}

// bindInRange scans the port range from a random starting point so repeated
// sessions in one process do not contend for the same low port.
func bindInRange(portMin, portMax int) (net.Listener, int, error) {
	if portMin <= 0 || portMax < portMin {
		return nil, 0, fmt.Errorf("%w: invalid port range [%d, %d]", ErrExposure, portMin, portMax)
	}

	span := portMax - portMin + 1
	start := rand.Intn(span)
	for i := 0; i < span; i++ {
		port := portMin + (start+i)%span
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: no free port in range [%d, %d]", ErrExposure, portMin, portMax)
}
