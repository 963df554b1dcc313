package tinify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"tinypng/internal/failure"
	"tinypng/internal/logging"
)

const (
	// DefaultEndpoint is the TinyPNG shrink endpoint.
	DefaultEndpoint = "https://api.tinypng.com/shrink"

	defaultRequestTimeout = 10 * time.Second
	defaultUserAgent      = "tinypng-cli/dev"
	maxResponseBytes      = 1 << 20
)

// Config describes the client configuration.
type Config struct {
	Endpoint string
	// RequestTimeout bounds connecting, the wait for response headers and
	// any stretch of a transfer in which no body bytes move.
	RequestTimeout time.Duration
	// MaxConnsPerHost caps parallel connections to one host; 0 means unlimited.
	MaxConnsPerHost int
	UserAgent       string
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client talks to the TinyPNG API.
type Client struct {
	endpoint  string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
	// idleTimeout aborts a request once no bytes have moved for this long.
	idleTimeout time.Duration
}

// ProgressFunc receives cumulative upload progress.
type ProgressFunc func(sent, total int64)

// Result is the parsed success payload of a shrink request.
type Result struct {
	URL        string
	Ratio      float64
	InputSize  int64
	OutputSize int64
	OutputType string
}

type shrinkResponse struct {
	Input struct {
		Size int64  `json:"size"`
		Type string `json:"type"`
	} `json:"input"`
	Output *struct {
		Size  int64    `json:"size"`
		Type  string   `json:"type"`
		Ratio *float64 `json:"ratio"`
		URL   string   `json:"url"`
	} `json:"output"`
}

type errorResponse struct {
	Error   *string `json:"error"`
	Message *string `json:"message"`
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("tinify: parse endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("tinify: endpoint %q must be an http(s) URL", endpoint)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: newTransport(cfg)}
	}
	idle := cfg.RequestTimeout
	if idle <= 0 {
		idle = defaultRequestTimeout
	}
	return &Client{
		endpoint:    endpoint,
		userAgent:   userAgent,
		http:        client,
		logger:      logging.NewComponentLogger(cfg.Logger, "tinify"),
		idleTimeout: idle,
	}, nil
}

func newTransport(cfg Config) *http.Transport {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		base = &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	tr := base.Clone()
	tr.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	tr.ResponseHeaderTimeout = timeout
	if cfg.MaxConnsPerHost > 0 {
		tr.MaxConnsPerHost = cfg.MaxConnsPerHost
		tr.MaxIdleConnsPerHost = cfg.MaxConnsPerHost
	}
	return tr
}

// BasicAuth returns the Authorization header value for apiKey.
func BasicAuth(apiKey string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("api:"+apiKey))
}

// Upload streams the file at path to the shrink endpoint.
func (c *Client) Upload(ctx context.Context, path, apiKey string, progress ProgressFunc) (Result, error) {
	if c == nil {
		return Result{}, errors.New("tinify: client is nil")
	}
	file, err := os.Open(path)
	if err != nil {
		return Result{}, failure.LocalIO("", fmt.Errorf("open source: %w", err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Result{}, failure.LocalIO("", fmt.Errorf("stat source: %w", err))
	}

	ctx, watch, stop := c.watchIdle(ctx)
	defer stop()

	body := &progressReader{r: file, total: info.Size(), fn: progress, touch: watch.touch}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{}, failure.Internal("could not build upload request", err)
	}
	req.ContentLength = info.Size()
	c.applyHeaders(req, apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, watch.transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(watch.reader(resp.Body), maxResponseBytes))
	if err != nil {
		return Result{}, watch.transportError(err)
	}

	if !isSuccess(resp.StatusCode) {
		return Result{}, serviceError(resp, data)
	}

	var payload shrinkResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return Result{}, failure.Protocol("Could not parse response message", err)
	}
	if payload.Output == nil || payload.Output.Ratio == nil || !isDownloadURL(payload.Output.URL) {
		return Result{}, failure.Protocol("Could not parse output message", nil)
	}

	c.logger.Debug("upload accepted",
		logging.String(logging.FieldFile, path),
		logging.Int64("input_size", payload.Input.Size),
		logging.Int64("output_size", payload.Output.Size),
		logging.Float64("ratio", *payload.Output.Ratio),
	)

	return Result{
		URL:        payload.Output.URL,
		Ratio:      *payload.Output.Ratio,
		InputSize:  payload.Input.Size,
		OutputSize: payload.Output.Size,
		OutputType: payload.Output.Type,
	}, nil
}

// Download fetches rawURL into a new temporary file inside dir and returns
// its path. The caller owns the file.
func (c *Client) Download(ctx context.Context, rawURL, apiKey, dir string) (string, error) {
	if c == nil {
		return "", errors.New("tinify: client is nil")
	}
	ctx, watch, stop := c.watchIdle(ctx)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", failure.Protocol("Response was invalid", err)
	}
	c.applyHeaders(req, apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", watch.transportError(err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return "", serviceError(resp, data)
	}

	tmp, err := os.CreateTemp(dir, ".tinypng-*.tmp")
	if err != nil {
		return "", failure.LocalIO("", fmt.Errorf("create temp file: %w", err))
	}
	written, copyErr := io.Copy(tmp, watch.reader(resp.Body))
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmp.Name())
		return "", watch.transportError(copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp.Name())
		return "", failure.LocalIO("", closeErr)
	}
	if written == 0 {
		_ = os.Remove(tmp.Name())
		return "", failure.Protocol("Response was invalid", nil)
	}

	c.logger.Debug("download finished",
		logging.String("url", rawURL),
		logging.Int64("bytes", written),
	)
	return tmp.Name(), nil
}

func (c *Client) applyHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", BasicAuth(apiKey))
	req.Header.Set("User-Agent", c.userAgent)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isDownloadURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// serviceError extracts the service message from a JSON error body, falling
// back to the HTTP status text.
func serviceError(resp *http.Response, data []byte) error {
	var code, message string
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 {
		var payload errorResponse
		if err := json.Unmarshal(trimmed, &payload); err == nil && payload.Error != nil && payload.Message != nil {
			code = *payload.Error
			message = strings.TrimSpace(*payload.Message)
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	if message == "" {
		message = "Unknown error"
	}
	return failure.Service(resp.StatusCode, code, message)
}

type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    ProgressFunc
	touch func()
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		if p.touch != nil {
			p.touch()
		}
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
