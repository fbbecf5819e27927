// Package earthengine implements the compute backend on the Earth Engine REST API.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/expr"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// Defaults for the public endpoints.
const (
	DefaultBaseURL  = "https://earthengine.googleapis.com"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	DefaultTimeout  = 60 * time.Second
	Attribution     = "Google Earth Engine"
)

// Scopes requested for the access token.
var Scopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

// Remote operation names used in errors and metrics.
const (
	opInitialize = "initialize"
	opCompute    = "compute"
	opMaps       = "maps"
)

// maxErrorBody bounds how much of a non-JSON error body is kept.
const maxErrorBody = 512

// Config holds client configuration.
type Config struct {
	Project  string
	BaseURL  string
	TokenURL string
	Timeout  time.Duration
}

// Client implements output.ComputeBackend.
type Client struct {
	config   Config
	http     *http.Client
	credsErr error
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

// New creates a client authenticating with creds. The access token is
// obtained from the refresh token on first use and renewed by oauth2.
func New(cfg Config, creds Credentials, metrics output.MetricsCollector, logger *slog.Logger) *Client {
	cfg = withDefaults(cfg)
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		Scopes:       Scopes,
	}
	httpClient := conf.Client(context.Background(), &oauth2.Token{RefreshToken: creds.RefreshToken})
	c := NewWithHTTPClient(cfg, httpClient, metrics, logger)
	c.credsErr = creds.Validate()
	return c
}

// NewWithHTTPClient creates a client on a preconfigured HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *http.Client, metrics output.MetricsCollector, logger *slog.Logger) *Client {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Client{
		config:  withDefaults(cfg),
		http:    httpClient,
		metrics: metrics,
		logger:  logger,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

type computeRequest struct {
	Expression expr.Expression `json:"expression"`
}

type computeResponse struct {
	Result json.RawMessage `json:"result"`
}

type mapRequest struct {
	Expression           expr.Expression      `json:"expression"`
	FileFormat           string               `json:"fileFormat"`
	VisualizationOptions visualizationOptions `json:"visualizationOptions"`
}

type visualizationOptions struct {
	Ranges        []valueRange `json:"ranges"`
	PaletteColors []string     `json:"paletteColors,omitempty"`
}

type valueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type mapResponse struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Initialize implements output.ComputeBackend by evaluating a constant.
func (c *Client) Initialize(ctx context.Context) error {
	if c.config.Project == "" {
		return fmt.Errorf("%w: no project configured", domain.ErrRemoteInitialization)
	}
	if c.credsErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteInitialization, c.credsErr)
	}

	var resp computeResponse
	req := computeRequest{Expression: expr.NewExpression(expr.Constant(1))}
	if err := c.post(ctx, opInitialize, c.projectURL("value:compute"), req, &resp); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteInitialization, err)
	}

	c.logger.Info("remote compute session initialized", "project", c.config.Project)
	return nil
}

// Compute implements output.ComputeBackend.
func (c *Client) Compute(ctx context.Context, node expr.Node) (any, error) {
	var resp computeResponse
	req := computeRequest{Expression: expr.NewExpression(node)}
	if err := c.post(ctx, opCompute, c.projectURL("value:compute"), req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Result))
	dec.UseNumber()
	var result any
	if err := dec.Decode(&result); err != nil {
		return nil, &domain.RemoteError{Operation: opCompute, Err: fmt.Errorf("decoding result: %w", err)}
	}
	return result, nil
}

// CreateMap implements output.ComputeBackend.
func (c *Client) CreateMap(ctx context.Context, img expr.Image, vis domain.VisParams) (*domain.MapTiles, error) {
	req := mapRequest{
		Expression: expr.NewExpression(img.Node),
		FileFormat: "PNG",
		VisualizationOptions: visualizationOptions{
			Ranges:        []valueRange{{Min: vis.Min, Max: vis.Max}},
			PaletteColors: vis.Palette,
		},
	}

	var resp mapResponse
	if err := c.post(ctx, opMaps, c.projectURL("maps"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Name == "" {
		return nil, &domain.RemoteError{Operation: opMaps, Message: "response carries no map name"}
	}

	return &domain.MapTiles{
		MapID:       resp.Name,
		URL:         TileURL(c.config.BaseURL, resp.Name),
		Vis:         vis,
		Attribution: Attribution,
	}, nil
}

// TileURL returns the XYZ tile template for a registered map.
func TileURL(baseURL, mapName string) string {
	return fmt.Sprintf("%s/v1/%s/tiles/{z}/{x}/{y}", strings.TrimSuffix(baseURL, "/"), mapName)
}

func (c *Client) projectURL(method string) string {
	return fmt.Sprintf("%s/v1/projects/%s/%s", c.config.BaseURL, c.config.Project, method)
}

// post sends one JSON request. There are no retries; every failure is
// returned as a *domain.RemoteError.
func (c *Client) post(ctx context.Context, op, url string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.IncRemoteRequests(op, err == nil)
		c.metrics.ObserveRemoteDuration(op, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return &domain.RemoteError{Operation: op, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &domain.RemoteError{Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.RemoteError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.RemoteError{Operation: op, Code: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(op, resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &domain.RemoteError{Operation: op, Code: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	c.logger.Debug("remote request completed",
		"operation", op,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func decodeError(op string, code int, body []byte) *domain.RemoteError {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		return &domain.RemoteError{
			Operation: op,
			Code:      code,
			Status:    er.Error.Status,
			Message:   er.Error.Message,
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &domain.RemoteError{Operation: op, Code: code, Message: msg}
}
