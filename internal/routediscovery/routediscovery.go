// Package routediscovery resolves the backend's route prefix via a
// health-check probe and builds absolute request URLs.
package routediscovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CedrosPay/cedros-go/internal/apierr"
)

// DefaultHealthPath is probed at the server root to discover the prefix.
const DefaultHealthPath = "/cedros-health"

// Manager discovers the API route prefix for one server URL. The probe runs
// on the first BuildURL call and the result is cached for the manager's
// lifetime. Probe failures propagate to the caller; there is no silent
// unprefixed fallback.
type Manager struct {
	serverURL  string
	healthPath string
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.Mutex
	prefix     string
	discovered bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for the probe.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithHealthPath overrides the probe path.
func WithHealthPath(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.healthPath = path
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager for one server URL.
func New(serverURL string, opts ...Option) *Manager {
	m := &Manager{
		serverURL:  strings.TrimRight(serverURL, "/"),
		healthPath: DefaultHealthPath,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type healthResponse struct {
	RoutePrefix string `json:"routePrefix"`
}

// BuildURL returns the absolute URL for path, probing the health endpoint
// for the route prefix on first use. path must start with "/".
func (m *Manager) BuildURL(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.discovered {
		prefix, err := m.probe(ctx)
		if err != nil {
			return "", fmt.Errorf("route discovery: %w", err)
		}
		m.prefix = prefix
		m.discovered = true
		m.logger.Debug("route prefix discovered", "server_url", m.serverURL, "prefix", prefix)
	}

	return m.serverURL + m.prefix + path, nil
}

// probe issues the health check and returns the advertised prefix.
// Caller holds m.mu, so concurrent first calls collapse into one probe.
func (m *Manager) probe(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.serverURL+m.healthPath, nil)
	if err != nil {
		return "", err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", apierr.FromResponse(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return "", err
	}

	var hr healthResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return "", fmt.Errorf("invalid health response: %w", err)
	}

	prefix := hr.RoutePrefix
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimRight(prefix, "/"), nil
}

// Discovered reports whether the prefix has been resolved.
func (m *Manager) Discovered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discovered
}

// ServerURL returns the normalized server URL this manager probes.
func (m *Manager) ServerURL() string {
	return m.serverURL
}
