// Package refresh keeps fund prices current. It pulls quotes from a feed on
// a fixed interval, stores them, and pushes the resulting valuation.
//
// Refresh cycles never overlap. A fund whose quote fails keeps its previous
// price and is reported stale once that price is older than the interval.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/fundnet/fundtrack/internal/feed"
	"github.com/fundnet/fundtrack/internal/freshness"
	"github.com/fundnet/fundtrack/internal/metrics"
	"github.com/fundnet/fundtrack/internal/model"
	"github.com/fundnet/fundtrack/internal/money"
	"github.com/fundnet/fundtrack/internal/store"
)

// DefaultConcurrency bounds parallel feed requests.
const DefaultConcurrency = 4

// Reporter values the current portfolio. Implemented by portfolio.Service.
type Reporter interface {
	BuildReport(ctx context.Context) (*model.Report, error)
}

// Broadcaster pushes updates to live clients. Implemented by portfolio.WSHub.
type Broadcaster interface {
	BroadcastReport(r *model.Report)
	BroadcastFund(f model.Fund)
}

// Refresher runs price refresh cycles, on a schedule or on demand.
type Refresher struct {
	store       store.Store
	feed        feed.Provider
	reporter    Reporter
	hub         Broadcaster
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	cycle sync.Mutex // held for the duration of one refresh cycle

	mu       sync.Mutex
	interval int
	cron     *cron.Cron
	entry    cron.EntryID
	baseCtx  context.Context
}

// Option configures the Refresher.
type Option func(*Refresher)

// WithConcurrency sets how many quotes are fetched at once.
func WithConcurrency(n int) Option {
	return func(r *Refresher) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithBroadcaster sets where fund and portfolio updates are pushed.
func WithBroadcaster(b Broadcaster) Option {
	return func(r *Refresher) {
		r.hub = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		r.now = now
	}
}

// New creates a refresher that runs every intervalSeconds once started.
func New(st store.Store, provider feed.Provider, reporter Reporter, intervalSeconds int, opts ...Option) (*Refresher, error) {
	if err := freshness.ValidateInterval(intervalSeconds); err != nil {
		return nil, err
	}
	r := &Refresher{
		store:       st,
		feed:        provider,
		reporter:    reporter,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
		interval:    intervalSeconds,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Interval returns the current refresh interval in seconds.
func (r *Refresher) Interval() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Start schedules refresh cycles. Cycles run with ctx as their parent
// context. A cycle still running when the next one is due is skipped.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("refresh: already started")
	}
	r.baseCtx = ctx
	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if err := r.scheduleLocked(); err != nil {
		r.cron = nil
		return err
	}
	r.cron.Start()
	r.logger.Info("refresher started", "interval_seconds", r.interval)
	return nil
}

// Stop unschedules refreshes and waits for a running cycle to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("refresher stopped")
}

// SetInterval validates and applies a new interval, rescheduling if started.
func (r *Refresher) SetInterval(seconds int) error {
	if err := freshness.ValidateInterval(seconds); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if seconds == r.interval {
		return nil
	}
	old := r.interval
	r.interval = seconds
	if r.cron != nil {
		r.cron.Remove(r.entry)
		if err := r.scheduleLocked(); err != nil {
			r.interval = old
			r.scheduleLocked()
			return err
		}
	}
	r.logger.Info("refresh interval changed", "from", old, "to", seconds)
	return nil
}

// scheduleLocked adds the cycle job at the current interval. r.mu must be held.
func (r *Refresher) scheduleLocked() error {
	schedule := fmt.Sprintf("@every %ds", r.interval)
	timeout := time.Duration(r.interval) * time.Second
	base := r.baseCtx

	id, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		if _, err := r.RefreshNow(ctx); err != nil {
			r.logger.Error("scheduled refresh failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	r.entry = id
	return nil
}

// RefreshNow runs one refresh cycle: quote every subscribed fund, store
// the quotes, then value and publish the portfolio. Per-fund failures are
// counted in the result, not returned as an error.
func (r *Refresher) RefreshNow(ctx context.Context) (model.RefreshResult, error) {
	r.cycle.Lock()
	defer r.cycle.Unlock()

	started := r.now()
	timer := time.Now()

	funds, err := r.store.ListFunds(ctx)
	if err != nil {
		metrics.RefreshRuns.WithLabelValues("failed").Inc()
		return model.RefreshResult{}, fmt.Errorf("list funds: %w", err)
	}

	var (
		mu      sync.Mutex
		updated int
		failed  = []string{}
	)

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, f := range funds {
		code := f.Code
		g.Go(func() error {
			err := r.refreshFund(ctx, code)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, code)
				r.logger.Warn("fund refresh failed", "fund", code, "err", err)
				return nil
			}
			updated++
			return nil
		})
	}
	g.Wait()
	sort.Strings(failed)

	elapsed := time.Since(timer)
	metrics.RefreshDuration.Observe(elapsed.Seconds())

	result := model.RefreshResult{
		StartedAt: started.UTC(),
		Duration:  elapsed.Round(time.Millisecond).String(),
		Funds:     len(funds),
		Updated:   updated,
		Failed:    failed,
	}

	switch {
	case len(failed) == 0:
		metrics.RefreshRuns.WithLabelValues("ok").Inc()
	case updated > 0:
		metrics.RefreshRuns.WithLabelValues("partial").Inc()
	default:
		metrics.RefreshRuns.WithLabelValues("failed").Inc()
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	report, err := r.reporter.BuildReport(ctx)
	if err != nil {
		return result, fmt.Errorf("build report: %w", err)
	}
	metrics.StaleFunds.Set(float64(len(report.StaleFunds)))
	metrics.Positions.Set(float64(report.Summary.PositionCount))
	metrics.SetDecimal(metrics.PortfolioValue, report.Summary.Value)
	metrics.SetDecimal(metrics.PortfolioDailyGain, report.Summary.DailyGain)
	if r.hub != nil {
		r.hub.BroadcastReport(report)
	}

	r.logger.Info("refresh complete",
		"funds", result.Funds,
		"updated", result.Updated,
		"failed", len(result.Failed),
		"stale", len(report.StaleFunds),
		"value", money.RoundAmount(report.Summary.Value).String(),
		"daily_gain", money.RoundAmount(report.Summary.DailyGain).String(),
		"daily_gain_rate", money.FormatRate(report.Summary.DailyGainRate),
		"duration", result.Duration,
	)
	return result, nil
}

// RefreshFund quotes and stores a single fund outside the schedule.
func (r *Refresher) RefreshFund(ctx context.Context, code string) error {
	return r.refreshFund(ctx, code)
}

func (r *Refresher) refreshFund(ctx context.Context, code string) error {
	q, err := r.feed.Quote(ctx, code)
	if err != nil {
		metrics.FeedErrors.WithLabelValues(feedErrorReason(err)).Inc()
		return err
	}
	if q.At.IsZero() {
		q.At = r.now()
	}
	q.At = q.At.UTC()

	if err := r.store.UpdateFundQuote(ctx, q); err != nil {
		return fmt.Errorf("store quote: %w", err)
	}
	if err := r.recordEstimate(ctx, q); err != nil {
		return fmt.Errorf("record estimate: %w", err)
	}

	if r.hub != nil {
		if f, err := r.store.GetFund(ctx, code); err == nil {
			r.hub.BroadcastFund(*f)
		}
	}
	return nil
}

// recordEstimate appends the quote to the fund's history, skipping it when
// the feed reports the same estimate time as the last recorded point
// (markets closed, estimate unchanged).
func (r *Refresher) recordEstimate(ctx context.Context, q model.Quote) error {
	at := q.At
	if !q.EstimatedAt.IsZero() {
		at = q.EstimatedAt.UTC()

		last, err := r.store.GetEstimateHistory(ctx, q.Code, 1)
		if err != nil {
			return err
		}
		if len(last) == 1 && last[0].RecordedAt.Equal(at) {
			return nil
		}
	}
	return r.store.InsertEstimate(ctx, model.EstimatePoint{
		FundCode:   q.Code,
		Price:      q.Price,
		ChangeRate: q.ChangeRate,
		RecordedAt: at,
	})
}

func feedErrorReason(err error) string {
	switch {
	case errors.Is(err, feed.ErrUnknownFund):
		return "unknown_fund"
	case errors.Is(err, feed.ErrBadResponse):
		return "bad_response"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "transport"
	}
}
