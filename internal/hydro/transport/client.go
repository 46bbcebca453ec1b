package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

const (
	userAgent   = "hydro-aggregation/1.0"
	maxBodySize = 64 << 20
)

var (
	errRetryableStatus  = errors.New("retryable status")
	errUnexpectedStatus = errors.New("unexpected status code")
	errCircuitOpen      = errors.New("circuit breaker open")
	errNoTemplate       = errors.New("provider has no url for resource")
	errExhausted        = errors.New("retries exhausted")
)

// retryableStatus lists the statuses worth another attempt.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder receives request outcomes. The metrics package implements it.
type Recorder interface {
	ObserveRequest(provider string, resource hydro.Resource, outcome string)
}

// RetryPolicy controls exponential backoff behaviour.
type RetryPolicy struct {
	Attempts int           // total attempts, including the first
	Base     time.Duration // delay before the second attempt, doubled afterwards
	MaxDelay time.Duration // 0 = uncapped
}

// DefaultRetryPolicy retries three times in total starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) delay(retry int) time.Duration {
	d := p.Base << retry
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Config bundles the client settings.
type Config struct {
	Retry RetryPolicy
	Memo  MemoConfig
	// RateLimit is the per-provider request rate in requests per second; 0 disables it.
	RateLimit float64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Retry: DefaultRetryPolicy(),
		Memo:  DefaultMemoConfig(),
	}
}

// Client fetches provider resources with retries, a per-provider circuit
// breaker and a bounded memoization layer.
type Client struct {
	doer     Doer
	cfg      Config
	memo     *memo
	group    singleflight.Group
	recorder Recorder
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

// NewClient creates a transport client. recorder may be nil.
func NewClient(doer Doer, cfg Config, recorder Recorder, logger *zap.SugaredLogger) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		doer:     doer,
		cfg:      cfg,
		memo:     newMemo(cfg.Memo),
		recorder: recorder,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch returns the body of a provider resource. Identical requests within
// the memo window are served from memory, and concurrent identical requests
// share a single upstream call.
func (c *Client) Fetch(ctx context.Context, desc hydro.ProviderDescriptor, resource hydro.Resource, params hydro.Params) (hydro.Payload, error) {
	tmpl := desc.URLs.Template(resource)
	if tmpl == "" {
		return hydro.Payload{}, &hydro.TransportError{Provider: desc.ID, Resource: resource, Err: errNoTemplate}
	}
	target := ExpandURL(tmpl, params)
	key := memoKey(desc.ID, resource, params)

	if p, ok := c.memo.get(resource, key); ok {
		c.observe(desc.ID, resource, "memo_hit")
		return p, nil
	}

	// The shared call outlives any single caller; per-attempt timeouts bound it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if p, ok := c.memo.get(resource, key); ok {
			return p, nil
		}
		p, err := c.doWithRetry(shared, desc, resource, target)
		if err != nil {
			return nil, err
		}
		c.memo.add(resource, key, p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return hydro.Payload{}, c.cancelled(ctx, desc, resource, target)
	case res := <-ch:
		if res.Err != nil {
			return hydro.Payload{}, res.Err
		}
		if res.Shared {
			c.logger.Debugw("transport: shared in-flight request", "provider", desc.ID, "resource", resource, "url", target)
		}
		return res.Val.(hydro.Payload), nil
	}
}

// Invalidate drops a memoized response.
func (c *Client) Invalidate(providerID string, resource hydro.Resource, params hydro.Params) {
	c.memo.remove(resource, memoKey(providerID, resource, params))
}

// Purge drops every memoized response.
func (c *Client) Purge() {
	c.memo.purge()
}

func (c *Client) doWithRetry(ctx context.Context, desc hydro.ProviderDescriptor, resource hydro.Resource, target string) (hydro.Payload, error) {
	cb := c.breaker(desc.ID)
	limiter := c.limiter(desc.ID)

	var lastErr *hydro.TransportError
	for attempt := 0; attempt < c.cfg.Retry.Attempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.Retry.delay(attempt - 1)
			c.logger.Warnw("transport: retrying request",
				"provider", desc.ID, "resource", resource, "attempt", attempt+1, "delay", delay, "error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return hydro.Payload{}, c.cancelled(ctx, desc, resource, target)
			case <-timer.C:
			}
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return hydro.Payload{}, c.cancelled(ctx, desc, resource, target)
			}
		}

		p, err := c.attempt(ctx, cb, desc, resource, target)
		if err == nil {
			c.observe(desc.ID, resource, "ok")
			return p, nil
		}
		if !err.Retryable {
			c.observe(desc.ID, resource, "error")
			return hydro.Payload{}, err
		}
		c.observe(desc.ID, resource, "retry")
		lastErr = err
	}

	c.observe(desc.ID, resource, "error")
	lastErr.Retryable = false
	lastErr.Err = fmt.Errorf("%w after %d attempts: %v", errExhausted, c.cfg.Retry.Attempts, lastErr.Err)
	return hydro.Payload{}, lastErr
}

// attempt performs one request bounded by the provider timeout.
func (c *Client) attempt(ctx context.Context, cb *gobreaker.CircuitBreaker, desc hydro.ProviderDescriptor, resource hydro.Resource, target string) (hydro.Payload, *hydro.TransportError) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if desc.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, desc.Timeout)
	}
	defer cancel()

	result, err := cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(actx, http.MethodGet, target, nil)
		if err != nil {
			return nil, c.transportErr(desc, resource, target, 0, false, err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", acceptHeader(desc.Format))

		resp, err := c.doer.Do(req)
		if err != nil {
			// A per-attempt timeout is retried; the caller giving up is not.
			return nil, c.transportErr(desc, resource, target, 0, ctx.Err() == nil, err)
		}
		defer resp.Body.Close()

		if retryableStatus[resp.StatusCode] {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, c.transportErr(desc, resource, target, resp.StatusCode, true, errRetryableStatus)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, c.transportErr(desc, resource, target, resp.StatusCode, false, errUnexpectedStatus)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, c.transportErr(desc, resource, target, resp.StatusCode, ctx.Err() == nil, fmt.Errorf("read body: %w", err))
		}
		return hydro.Payload{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
	})
	if err != nil {
		var te *hydro.TransportError
		if errors.As(err, &te) {
			return hydro.Payload{}, te
		}
		// gobreaker.ErrOpenState or ErrTooManyRequests.
		return hydro.Payload{}, c.transportErr(desc, resource, target, 0, false, fmt.Errorf("%w: %v", errCircuitOpen, err))
	}

	p, ok := result.(hydro.Payload)
	if !ok {
		return hydro.Payload{}, c.transportErr(desc, resource, target, 0, false, errors.New("unexpected result type from circuit breaker"))
	}
	return p, nil
}

func (c *Client) breaker(providerID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[providerID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        providerID,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
			// Client-side rejections and cancellations say nothing about the
			// provider's health.
			IsSuccessful: func(err error) bool {
				if errors.Is(err, context.Canceled) {
					return true
				}
				var te *hydro.TransportError
				if errors.As(err, &te) {
					return !te.Retryable && te.Status != 0
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warnw("transport: circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
			},
		})
		c.breakers[providerID] = cb
	}
	return cb
}

func (c *Client) limiter(providerID string) *rate.Limiter {
	if c.cfg.RateLimit <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[providerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RateLimit), 1)
		c.limiters[providerID] = l
	}
	return l
}

func (c *Client) cancelled(ctx context.Context, desc hydro.ProviderDescriptor, resource hydro.Resource, target string) *hydro.TransportError {
	c.observe(desc.ID, resource, "cancelled")
	return c.transportErr(desc, resource, target, 0, false, ctx.Err())
}

func (c *Client) transportErr(desc hydro.ProviderDescriptor, resource hydro.Resource, target string, status int, retryable bool, err error) *hydro.TransportError {
	return &hydro.TransportError{
		Provider:  desc.ID,
		Resource:  resource,
		URL:       target,
		Status:    status,
		Retryable: retryable,
		Err:       err,
	}
}

func (c *Client) observe(providerID string, resource hydro.Resource, outcome string) {
	if c.recorder != nil {
		c.recorder.ObserveRequest(providerID, resource, outcome)
	}
}

func acceptHeader(f hydro.Format) string {
	if f == hydro.FormatCSV {
		return "text/csv, */*;q=0.5"
	}
	return "application/json, */*;q=0.5"
}
