package nse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	appconfig "atmflow/config"
	"atmflow/logger"
	"atmflow/reader"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	sourceName = "nse"

	chainPath  = "/api/option-chain-indices"
	indexPath  = "/api/allIndices"
	equityPath = "/api/quote-equity"

	maxBodyBytes = 16 << 20
)

// Client talks to the NSE website API. The API rejects requests without the
// session cookies set by the home page, so the client visits it first and
// again after any failed call.
type Client struct {
	baseURL   string
	symbol    string
	userAgent string
	htmlPath  string

	http    *http.Client
	limiter *rate.Limiter

	mu           sync.Mutex
	bootstrapped bool

	log *logger.Log
}

func NewClient(cfg appconfig.NSESourceConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("nse base url not configured")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		symbol:    cfg.Symbol,
		userAgent: cfg.UserAgent,
		htmlPath:  cfg.HTMLPath,
		http:      &http.Client{Jar: jar, Timeout: timeout, Transport: transport},
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		log:       logger.GetLogger(),
	}

	c.log.WithComponent("nse_client").WithFields(logger.Fields{
		"base_url": c.baseURL,
		"symbol":   c.symbol,
		"timeout":  timeout,
		"rps":      rps,
	}).Info("nse client initialized")

	return c, nil
}

func (c *Client) Name() string { return sourceName }

func (c *Client) newRequest(ctx context.Context, path string, query url.Values, accept string) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", c.baseURL+"/")
	return req, nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	ok := c.bootstrapped
	c.mu.Unlock()
	if ok {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return reader.NewFetchError(sourceName, "bootstrap", reader.KindTimeout, err)
	}
	req, err := c.newRequest(ctx, "/", nil, "text/html,application/xhtml+xml")
	if err != nil {
		return reader.NewFetchError(sourceName, "bootstrap", reader.KindBootstrap, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		kind := reader.KindBootstrap
		if reader.IsTimeout(err) {
			kind = reader.KindTimeout
		}
		return reader.NewFetchError(sourceName, "bootstrap", kind, err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &reader.FetchError{Source: sourceName, Op: "bootstrap", Kind: reader.KindBootstrap, Status: resp.StatusCode}
	}

	c.mu.Lock()
	c.bootstrapped = true
	c.mu.Unlock()
	c.log.WithComponent("nse_client").Debug("session cookies refreshed")
	return nil
}

func (c *Client) invalidateSession() {
	c.mu.Lock()
	c.bootstrapped = false
	c.mu.Unlock()
}

// fetch performs one rate-limited GET with a live session and returns the
// body. Any failure drops the session so the next call bootstraps again.
func (c *Client) fetch(ctx context.Context, op, path string, query url.Values, accept string) ([]byte, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, op, path, query, accept)
	if err != nil {
		c.invalidateSession()
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, op, path string, query url.Values, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, reader.NewFetchError(sourceName, op, reader.KindTimeout, err)
	}
	req, err := c.newRequest(ctx, path, query, accept)
	if err != nil {
		return nil, reader.NewFetchError(sourceName, op, reader.KindNetwork, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, reader.NewFetchError(sourceName, op, reader.KindNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, reader.StatusError(sourceName, op, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, reader.NewFetchError(sourceName, op, reader.KindNetwork, err)
	}

	logger.LogPerformanceEntry(c.log.WithFields(logger.Fields{"path": path, "bytes": len(body)}),
		"nse_client", op, time.Since(start), nil)
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	body, err := c.fetch(ctx, op, path, query, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.invalidateSession()
		return reader.NewFetchError(sourceName, op, reader.KindMalformed, err)
	}
	return nil
}
