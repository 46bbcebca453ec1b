package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/hydro-aggregation/internal/config"
	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

const defaultFetchTimeout = 2 * time.Minute

// Service is the part of hydro.Service the scheduler drives.
type Service interface {
	FetchAndNormalize(ctx context.Context, providerID, stationID string) (hydro.FetchResult, error)
	PurgeStale(ctx context.Context) (int, error)
}

// Observer receives job outcomes. *metrics.Metrics implements it.
type Observer interface {
	ObservePrefetch(provider, result string)
	ObservePurge(n int)
}

// Options configures a Scheduler.
type Options struct {
	Targets       []config.Target
	FetchInterval time.Duration
	PurgeInterval time.Duration
	// FetchTimeout bounds a single station prefetch.
	FetchTimeout time.Duration
}

// Scheduler periodically prefetches configured stations and purges stale
// cache entries.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Service
	observer  Observer
	opts      Options
	logger    *zap.SugaredLogger
}

// New creates a new Scheduler. observer may be nil.
func New(opts Options, service Service, observer Observer, logger *zap.SugaredLogger) *Scheduler {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		observer:  observer,
		opts:      opts,
		logger:    logger,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.opts.Targets) == 0 {
		s.logger.Info("scheduler: no prefetch stations configured; skipping prefetch job")
	} else if s.opts.FetchInterval > 0 {
		if _, err := s.scheduler.Every(s.opts.FetchInterval).Do(s.RunPrefetch); err != nil {
			return err
		}
	}

	if s.opts.PurgeInterval > 0 {
		if _, err := s.scheduler.Every(s.opts.PurgeInterval).Do(s.RunPurge); err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// RunPrefetch fetches every target in parallel. Each station is independent:
// one failure does not affect the others.
func (s *Scheduler) RunPrefetch() {
	s.logger.Infow("scheduler: running prefetch job", "stations", len(s.opts.Targets))

	var wg sync.WaitGroup
	for _, target := range s.opts.Targets {
		wg.Add(1)
		go func(target config.Target) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
			defer cancel()

			res, err := s.service.FetchAndNormalize(ctx, target.Provider, target.Station)
			switch {
			case err != nil:
				s.logger.Warnw("scheduler: prefetch failed", "target", target.String(), "error", err)
				s.observePrefetch(target.Provider, "error")
			case res.Cached:
				s.observePrefetch(target.Provider, "fresh")
			default:
				s.logger.Debugw("scheduler: prefetched station", "target", target.String(), "readings", len(res.Readings))
				s.observePrefetch(target.Provider, "fetched")
			}
		}(target)
	}
	wg.Wait()
	s.logger.Info("scheduler: completed prefetch job")
}

// RunPurge removes stale cache entries.
func (s *Scheduler) RunPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.service.PurgeStale(ctx)
	if err != nil {
		s.logger.Errorw("scheduler: purge failed", "error", err)
		return
	}
	if s.observer != nil {
		s.observer.ObservePurge(n)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) observePrefetch(provider, result string) {
	if s.observer != nil {
		s.observer.ObservePrefetch(provider, result)
	}
}
