// Package fetcher retrieves row collections from external HTTP JSON
// endpoints.
//
// Design goals:
//
//   - Keep a tiny, explicit API (Fetch).
//   - Handle transient connection failures with a bounded retry loop.
//   - Fall back once to skipping TLS verification on certificate errors,
//     logged as a degraded-trust fetch, without spending the retry budget.
//   - Respect context cancellation during requests and retry pauses.
//   - Be easy to test by injecting a custom RoundTripper and sleep function.
package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

// Config configures the endpoint fetcher.
//
// Zero values are given sensible defaults:
//   - Timeout:  30s
//   - Attempts: 3
//   - Pause:    2s
type Config struct {
	// Timeout is the per-request timeout applied at the http.Client level.
	Timeout time.Duration

	// Attempts is the total number of tries on connection-level failures.
	Attempts int

	// Pause is the fixed wait between connection-failure retries.
	Pause time.Duration

	// Transport optionally replaces the verifying transport (tests).
	Transport http.RoundTripper

	// InsecureTransport optionally replaces the fallback transport used
	// after a TLS verification failure (tests).
	InsecureTransport http.RoundTripper

	// MaxBodyBytes caps how much of the response body is read. Zero means
	// the 64 MiB default.
	MaxBodyBytes int64

	Logger *logrus.Logger
}

// browserHeaders makes the fetcher look like an ordinary browser client;
// several public data endpoints reject obviously synthetic agents.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	"Connection":      "keep-alive",
}

// Fetcher downloads and shape-normalizes endpoint JSON.
type Fetcher struct {
	client       *http.Client
	insecure     *http.Client
	attempts     int
	pause        time.Duration
	maxBodyBytes int64
	log          *logrus.Logger

	// sleep is injectable to make tests fast and deterministic.
	sleep func(context.Context, time.Duration) error
}

// New constructs a Fetcher from Config, applying defaults for zero values.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 2 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	insecureTransport := cfg.InsecureTransport
	if insecureTransport == nil {
		insecureTransport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // deliberate degraded-trust fallback
		}
	}

	return &Fetcher{
		client:       &http.Client{Timeout: cfg.Timeout, Transport: transport},
		insecure:     &http.Client{Timeout: cfg.Timeout, Transport: insecureTransport},
		attempts:     cfg.Attempts,
		pause:        cfg.Pause,
		maxBodyBytes: cfg.MaxBodyBytes,
		log:          cfg.Logger,
		sleep:        sleepWithContext,
	}
}

// Fetch retrieves the endpoint's JSON, normalizes its top-level shape into
// a row collection, and applies the shared row/column limits. Errors come
// from the core taxonomy: ConnectivityError after the retry budget,
// HTTPError for non-2xx status, ShapeError for bodies that do not resolve
// to a non-empty row collection.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]any, error) {
	if url == "" {
		return nil, &core.ValidationError{Msg: "endpoint url must not be empty"}
	}

	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	rows, err := normalizeShape(body)
	if err != nil {
		return nil, err
	}
	if err := core.EnforceLimits(rows); err != nil {
		return nil, err
	}

	f.log.WithFields(logrus.Fields{"url": url, "rows": len(rows)}).Info("endpoint data fetched")
	return rows, nil
}

// get runs the retry loop and returns the response body bytes.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := f.getOnce(ctx, url, f.client)
		if err == nil {
			return body, nil
		}

		// Terminal failures (bad status, unreadable body wrapped in taxonomy
		// types) are not retried.
		var httpErr *core.HTTPError
		if errors.As(err, &httpErr) {
			return nil, err
		}

		if isTLSVerificationError(err) {
			// Degraded-trust fallback: one immediate attempt without
			// verification, outside the connection-retry budget.
			f.log.WithField("url", url).Warn("TLS verification failed, retrying without verification")
			body, insecureErr := f.getOnce(ctx, url, f.insecure)
			if insecureErr == nil {
				return body, nil
			}
			lastErr = insecureErr
		} else {
			lastErr = err
		}

		if attempt < f.attempts {
			if err := f.sleep(ctx, f.pause); err != nil {
				return nil, err
			}
		}
	}

	return nil, &core.ConnectivityError{URL: url, Attempts: f.attempts, Err: lastErr}
}

// getOnce performs a single GET with the browser-like header set.
func (f *Fetcher) getOnce(ctx context.Context, url string, client *http.Client) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// isTLSVerificationError reports whether err stems from certificate
// verification, as opposed to a plain connection failure.
func isTLSVerificationError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidCert x509.CertificateInvalidError
	return errors.As(err, &invalidCert)
}

// sleepWithContext pauses for d, aborting early if ctx is canceled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
