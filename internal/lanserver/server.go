package lanserver

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbengine/kbengine/internal/kberrors"
	"github.com/kbengine/kbengine/internal/metrics"
)

// Handlers is the capability surface the LAN server dispatches into; the
// engine provides the concrete implementation.
type Handlers interface {
	// Ping reports liveness; no authentication required.
	Ping(ctx context.Context) (instanceID string, err error)
	// Export streams a package for mode/remoteInstanceID to w.
	Export(ctx context.Context, mode, remoteInstanceID string, w io.Writer) error
	// Import applies an uploaded package read from r (exactly n bytes).
	Import(ctx context.Context, r io.Reader, n int64) error
}

// Server accepts LAN connections and dispatches GET /lan/ping,
// GET /lan/export and POST /lan/import.
type Server struct {
	listener  net.Listener
	handlers  Handlers
	sharedKey string
	timeout   time.Duration
	log       *slog.Logger
	metrics   *metrics.Recorder
}

// Config parameterizes a Server.
type Config struct {
	Port      int
	SharedKey string
	Timeout   time.Duration // applied as both read and write deadline per connection
	Log       *slog.Logger
	Metrics   *metrics.Recorder
}

// Listen binds the configured port and returns a Server ready to Serve.
func Listen(cfg Config) (*Server, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("lanserver: listen on port %d: %w", cfg.Port, err)
	}
	return &Server{
		listener:  ln,
		sharedKey: cfg.SharedKey,
		timeout:   cfg.Timeout,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
	}, nil
}

// Bind attaches the handlers implementation; separated from Listen so
// the port is bound before the handlers are attached.
func (s *Server) Bind(h Handlers) { s.handlers = h }

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is canceled, handling each on its
// own goroutine under an errgroup so Serve can drain outstanding
// connections before returning.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return s.listener.Close()
	})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				break
			}
			continue
		}
		g.Go(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.log.Warn("lanserver: set deadline failed", "error", err)
		return
	}

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	req, err := readRequest(br)
	if err != nil {
		s.log.Debug("lanserver: read request failed", "error", err)
		_ = writeJSONError(bw, 400, "Bad Request", "malformed request")
		return
	}

	status := s.route(ctx, req, br, bw)
	s.metrics.LANRequest(ctx, req.Path, status)
}

// route authenticates (except for ping) and dispatches to the matching
// handler, returning the HTTP status code that was written.
func (s *Server) route(ctx context.Context, req *request, br *bufio.Reader, bw *bufio.Writer) int {
	if req.Method == "GET" && req.Path == "/lan/ping" {
		return s.handlePing(ctx, bw)
	}

	if !s.authenticate(req) {
		_ = writeJSONError(bw, 401, "Unauthorized", "missing or invalid X-Lan-Key")
		return 401
	}

	switch {
	case req.Method == "GET" && req.Path == "/lan/export":
		return s.handleExport(ctx, req, bw)
	case req.Method == "POST" && req.Path == "/lan/import":
		return s.handleImport(ctx, req, br, bw)
	default:
		_ = writeJSONError(bw, 404, "Not Found", "no such route")
		return 404
	}
}

// authenticate compares X-Lan-Key against the configured shared key using
// a constant-time comparison, so response timing does not leak how many
// leading bytes of an incorrect key matched.
func (s *Server) authenticate(req *request) bool {
	if s.sharedKey == "" {
		return true // LAN sharing disabled means no key is configured; nothing to gate
	}
	got := req.Headers.Get("X-Lan-Key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.sharedKey)) == 1
}

func (s *Server) handlePing(ctx context.Context, bw *bufio.Writer) int {
	instanceID, err := s.handlers.Ping(ctx)
	if err != nil {
		_ = writeJSONError(bw, 500, "Internal Server Error", err.Error())
		return 500
	}
	body := fmt.Sprintf(`{"instanceId":%q}`, instanceID)
	_ = writeStatus(bw, 200, "OK", map[string]string{"Content-Type": "application/json"},
		strings.NewReader(body), int64(len(body)))
	return 200
}

func (s *Server) handleExport(ctx context.Context, req *request, bw *bufio.Writer) int {
	mode := req.Query["mode"]
	remoteInstanceID := req.Query["remoteInstanceId"]
	if mode == "" || remoteInstanceID == "" {
		_ = writeJSONError(bw, 400, "Bad Request", "mode and remoteInstanceId are required")
		return 400
	}

	tmp, err := os.CreateTemp("", "lan-export-*.zip")
	if err != nil {
		_ = writeJSONError(bw, 500, "Internal Server Error", "failed to stage export")
		return 500
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if err := s.handlers.Export(ctx, mode, remoteInstanceID, tmp); err != nil {
		if errors.Is(err, kberrors.Validation) {
			_ = writeJSONError(bw, 400, "Bad Request", err.Error())
			return 400
		}
		_ = writeJSONError(bw, 500, "Internal Server Error", err.Error())
		return 500
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		_ = writeJSONError(bw, 500, "Internal Server Error", "failed to size export")
		return 500
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = writeJSONError(bw, 500, "Internal Server Error", "failed to rewind export")
		return 500
	}

	if err := writeStatus(bw, 200, "OK", map[string]string{"Content-Type": "application/zip"}, tmp, size); err != nil {
		s.log.Debug("lanserver: write export response failed", "error", err)
		return 200
	}
	return 200
}

func (s *Server) handleImport(ctx context.Context, req *request, br *bufio.Reader, bw *bufio.Writer) int {
	n, ok, err := contentLength(req.Headers)
	if err != nil || !ok {
		_ = writeJSONError(bw, 411, "Length Required", "Content-Length is required")
		return 411
	}

	if err := s.handlers.Import(ctx, io.LimitReader(br, n), n); err != nil {
		if errors.Is(err, kberrors.Validation) || errors.Is(err, kberrors.Integrity) {
			_ = writeJSONError(bw, 400, "Bad Request", err.Error())
			return 400
		}
		_ = writeJSONError(bw, 500, "Internal Server Error", err.Error())
		return 500
	}

	body := `{"status":"applied"}`
	_ = writeStatus(bw, 200, "OK", map[string]string{"Content-Type": "application/json"},
		strings.NewReader(body), int64(len(body)))
	return 200
}
