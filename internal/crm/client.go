package crm

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single directory request.
	DefaultTimeout = 15 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 5 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 5 * time.Second

	// DefaultBaseURL is the current-generation API root.
	DefaultBaseURL = "https://services.leadconnectorhq.com"
	// DefaultLegacyBaseURL is the legacy-generation API root.
	DefaultLegacyBaseURL = "https://rest.gohighlevel.com"
	// DefaultAPIVersion is sent in the Version header on current-generation calls.
	DefaultAPIVersion = "2021-07-28"

	// maxErrorBody caps how much of a failed response is kept for the run log.
	maxErrorBody = 512
)

// Config configures the directory client.
type Config struct {
	BaseURL        string
	LegacyBaseURL  string
	APIVersion     string
	Timeout        time.Duration
	MaxAttempts    int
	LegacyFallback bool
}

// Client performs authenticated directory reads.
type Client struct {
	http    *http.Client
	cfg     Config
	logger  *slog.Logger
	backoff func(attempt int) time.Duration
}

// NewHTTPClient creates an HTTP client for directory reads.
// It bounds every request by timeout and does not follow redirects,
// so a bearer key is never replayed to another host.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewClient creates a directory client. A nil httpClient gets NewHTTPClient.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.LegacyBaseURL == "" {
		cfg.LegacyBaseURL = DefaultLegacyBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.LegacyBaseURL = strings.TrimSuffix(cfg.LegacyBaseURL, "/")

	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}

	return &Client{
		http:    httpClient,
		cfg:     cfg,
		logger:  logger.With("component", "crm.client"),
		backoff: NextRetryDelay,
	}
}
