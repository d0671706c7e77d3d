// Package fetch retrieves raw source records over HTTP using gocolly.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/gearshed/camsync/internal/catalog"
)

// Config controls fetcher behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	DefaultRPS  float64
}

// Fetcher retrieves and decodes one source feed per call. It performs network
// I/O only; persistence is someone else's problem.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *sourceLimiter
	retry         *retryPolicy
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	// Synchronous collection; colly v2.1.0's Async option ignores its
	// argument (always enables async), so rely on the sync default instead
	// of passing colly.Async(false).
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	// Sources are polled every cycle, so the visited-URL dedup must be off.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       newSourceLimiter(cfg.DefaultRPS),
		retry:         newRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
		logger:        logger,
	}
}

// FetchSource retrieves the raw records of src. Transient failures are
// retried with jittered backoff; exhausted retries surface as
// catalog.ErrSourceUnavailable and unparseable payloads as
// catalog.ErrMalformedPayload.
func (f *Fetcher) FetchSource(ctx context.Context, src catalog.Source) ([]catalog.RawRecord, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx, src.Name, src.RPS); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", catalog.ErrSourceUnavailable, src.Name, err)
		}

		records, err := f.fetchOnce(ctx, src)
		if err == nil {
			return records, nil
		}
		lastErr = err

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return nil, permanent.err
		}
		if !f.retry.ShouldRetry(err, attempt) {
			break
		}
		delay := f.retry.Backoff(attempt)
		f.logger.Warn("source fetch failed, backing off",
			zap.String("source", src.Name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", catalog.ErrSourceUnavailable, src.Name, err)
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", catalog.ErrSourceUnavailable, src.Name, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, src catalog.Source) ([]catalog.RawRecord, error) {
	var (
		body       []byte
		statusCode int
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	// Visit surfaces HTTP-level failures as its return error; the OnError
	// hook only records the status so the caller can tell client errors,
	// which retrying cannot fix, from transient server ones.
	if err := f.runCollector(ctx, collector, src.URL); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
		}
		if statusCode >= 400 && statusCode < 500 {
			return nil, &permanentError{err: fmt.Errorf("%w: %s: status %d", catalog.ErrSourceUnavailable, src.Name, statusCode)}
		}
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}

	records, err := decodeRecords(src.Name, body)
	if err != nil {
		return nil, &permanentError{err: err}
	}
	return records, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		return nil
	}
}

// decodeRecords accepts the two payload layouts the known sources use: a
// bare JSON array of objects, or an object wrapping the array under a
// well-known key.
func decodeRecords(source string, body []byte) ([]catalog.RawRecord, error) {
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %s: not a JSON array or object", catalog.ErrMalformedPayload, source)
		}
		raw, ok := wrapperPayload(wrapper)
		if !ok {
			return nil, fmt.Errorf("%w: %s: no cameras/items/models key", catalog.ErrMalformedPayload, source)
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %s: wrapped payload is not an array", catalog.ErrMalformedPayload, source)
		}
	}

	records := make([]catalog.RawRecord, 0, len(items))
	for _, fields := range items {
		records = append(records, catalog.RawRecord{Source: source, Fields: fields})
	}
	return records, nil
}

func wrapperPayload(wrapper map[string]json.RawMessage) (json.RawMessage, bool) {
	for _, key := range []string{"cameras", "items", "models", "results"} {
		if raw, ok := wrapper[key]; ok {
			return raw, true
		}
	}
	return nil, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
