package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

const (
	defaultTimeout = 5 * time.Minute

	// Messages matched by the transfer retry policy.
	msgHTTPError    = "HTTP error code : %d"
	msgEmptyContent = "Empty content returned by server"
	msgGeneralError = "General Error"
)

// transientStatus lists the HTTP statuses the retry policy treats as transient.
var transientStatus = map[int]bool{
	http.StatusNotFound:       true,
	http.StatusBadGateway:     true,
	http.StatusGatewayTimeout: true,
}

// WFSSource reads GeoJSON GetFeature documents from a WFS endpoint.
type WFSSource struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu          sync.Mutex
	uri         string
	layers      []core.SourceLayer
	partitioned bool
}

// NewWFSSource creates a source client paced by the configured rate limit.
func NewWFSSource(cfg registry.InternalSourceConfig, logger *zap.Logger) *WFSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &WFSSource{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("source"),
	}
}

// SetPartitioned marks subsequent reads as primary key pages.
func (s *WFSSource) SetPartitioned(partitioned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitioned = partitioned
}

// Partitioned implements core.Source.
func (s *WFSSource) Partitioned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitioned
}

// URI implements core.Source.
func (s *WFSSource) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// Layers implements core.Source.
func (s *WFSSource) Layers() []core.SourceLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers
}

// Read fetches and decodes the document at uri. The URI is kept even when
// the fetch fails so a retry can re-read it.
func (s *WFSSource) Read(ctx context.Context, uri string, createIfMissing bool) error {
	s.mu.Lock()
	s.uri = uri
	s.layers = nil
	s.mu.Unlock()

	layerID := LayerFromURI(uri)
	body, err := s.fetch(ctx, uri, layerID)
	if err != nil {
		return err
	}

	layer, err := decodeCollection(body, layerID, s.logger)
	if err != nil {
		return core.NewSyncError(core.ErrCodeDatasourceInit, layerID, "cannot parse source document", err)
	}
	s.logger.Debug("source read",
		zap.String("layer", layerID),
		zap.Int("features", layer.Len()),
		zap.String("geometry", string(layer.desc.GeometryType)),
	)

	s.mu.Lock()
	s.layers = []core.SourceLayer{layer}
	s.mu.Unlock()
	return nil
}

// fetch issues one paced GET and classifies failures for the retry policy.
func (s *WFSSource) fetch(ctx context.Context, uri, layerID string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, core.NewSyncError(core.ErrCodeMalformedConnection, layerID, "cannot build source request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, core.NewSyncError(core.ErrCodeTransientIO, layerID, msgGeneralError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := core.ErrCodeDatasourceInit
		if transientStatus[resp.StatusCode] {
			code = core.ErrCodeTransientIO
		}
		return nil, core.NewSyncError(code, layerID, fmt.Sprintf(msgHTTPError, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewSyncError(core.ErrCodeTransientIO, layerID, msgGeneralError, err)
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, core.NewSyncError(core.ErrCodeTransientIO, layerID, msgEmptyContent, nil)
	}
	if strings.HasPrefix(trimmed, "<") {
		return nil, core.NewSyncError(core.ErrCodeDatasourceInit, layerID, "server returned an exception report", fmt.Errorf("%.200s", trimmed))
	}
	return body, nil
}
