package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/clinformatics/rxmeta/internal/observability/metrics"
	"github.com/clinformatics/rxmeta/pkg/circuitbreaker"
)

// ErrRemoteUnavailable reports a remote call that exhausted its retry budget.
// Callers skip the affected identifier and keep the run alive; the failure is
// logged and counted, never swallowed.
var ErrRemoteUnavailable = errors.New("remote service unavailable")

// Transport performs the actual remote call for a request URL.
type Transport interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// HTTPTransport is the production Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a Transport with the given per-request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request and returns the response body.
func (t *HTTPTransport) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}
	return body, nil
}

// StatusError is a non-200 response from the remote service.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d for %s", e.Code, e.URL)
}

// retryable reports whether the error is worth another attempt: transport
// failures, rate limiting and server errors are; other 4xx are not.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// Config holds retry configuration for the miss path.
type Config struct {
	// MaxAttempts bounds remote attempts per request signature
	MaxAttempts uint
	// InitialInterval is the first backoff delay
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay
	MaxInterval time.Duration
}

// DefaultConfig returns retry defaults tuned for the NLM service.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     8,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Fetcher resolves request signatures cache-first. It is safe for concurrent
// use; concurrent misses for the same signature collapse to a single remote
// call and a single cache write.
type Fetcher struct {
	cache     *FileCache
	transport Transport
	breaker   *circuitbreaker.CircuitBreaker
	config    Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	group     singleflight.Group
}

// New creates a Fetcher. breaker and m may be nil.
func New(cache *FileCache, transport Transport, breaker *circuitbreaker.CircuitBreaker, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts == 0 {
		cfg = DefaultConfig()
	}
	return &Fetcher{
		cache:     cache,
		transport: transport,
		breaker:   breaker,
		config:    cfg,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("rxmeta-fetch"),
	}
}

// Fetch returns the response for the request URL, from cache when possible.
// On a miss the response is persisted before it is returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if body, ok, err := f.cache.Get(url); err != nil {
		return nil, err
	} else if ok {
		if f.metrics != nil {
			f.metrics.CacheHits.Inc()
		}
		return body, nil
	}
	v, err, _ := f.group.Do(url, func() (interface{}, error) {
		// A concurrent flight may have filled the cache between our miss
		// and acquiring the flight.
		if body, ok, err := f.cache.Get(url); err != nil {
			return nil, err
		} else if ok {
			return body, nil
		}
		// Counted here so collapsed waiters do not each record a miss for
		// the one remote call.
		if f.metrics != nil {
			f.metrics.CacheMisses.Inc()
		}

		body, err := f.fetchRemote(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := f.cache.Put(url, body); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	ctx, span := f.tracer.Start(ctx, "remote_fetch",
		trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	start := time.Now()
	operation := func() ([]byte, error) {
		if f.metrics != nil {
			f.metrics.RemoteRequests.Inc()
		}
		body, err := f.doGet(ctx, url)
		if err != nil {
			if !retryable(err) && !circuitbreaker.ErrOpen(err) {
				return nil, backoff.Permanent(err)
			}
			f.logger.Warn("remote request failed, will retry",
				zap.String("url", url),
				zap.Error(err))
			return nil, err
		}
		return body, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = f.config.InitialInterval
	expo.MaxInterval = f.config.MaxInterval

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(f.config.MaxAttempts))
	if f.metrics != nil {
		f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if f.metrics != nil {
			f.metrics.RemoteFailures.Inc()
		}
		span.RecordError(err)
		return nil, fmt.Errorf("fetch %s: %w: %w", url, ErrRemoteUnavailable, err)
	}
	return body, nil
}

func (f *Fetcher) doGet(ctx context.Context, url string) ([]byte, error) {
	if f.breaker == nil {
		return f.transport.Get(ctx, url)
	}
	v, err := f.breaker.Execute(ctx, func() (interface{}, error) {
		return f.transport.Get(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
