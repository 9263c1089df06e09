// Package refresh re-imports ICS subscriptions into the store, on demand or
// on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"planner/internal/caldate"
	"planner/internal/config"
	"planner/internal/ics"
	appLog "planner/internal/log"
	"planner/internal/metrics"
	"planner/internal/store"
)

// Options wires a Refresher.
type Options struct {
	Store         store.Store
	Fetcher       *ics.Fetcher
	Subscriptions []config.SubscriptionConfig
	Location      *time.Location
	// HorizonDays bounds the import window on both sides of today.
	HorizonDays int
	Metrics     *metrics.Metrics
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Refresher imports every configured subscription. Runs are serialized.
type Refresher struct {
	opts    Options
	sources []ics.Source

	mu sync.Mutex
}

// SourceResult reports one subscription of a run.
type SourceResult struct {
	ID        string   `json:"id"`
	Items     int      `json:"items"`
	FromCache bool     `json:"from_cache"`
	Truncated []string `json:"truncated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Summary reports a whole run.
type Summary struct {
	StartedAt time.Time      `json:"started_at"`
	Sources   []SourceResult `json:"sources"`
}

// Failed counts sources that could not be refreshed.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Sources {
		if r.Error != "" {
			n++
		}
	}
	return n
}

func New(opts Options) *Refresher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = config.DefaultConfig().ImportHorizonDays
	}
	sources := make([]ics.Source, 0, len(opts.Subscriptions))
	for _, sub := range opts.Subscriptions {
		if sub.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{
			ID:       sub.ID,
			Name:     sub.Name,
			URL:      sub.URL,
			Category: sub.Category,
			Color:    sub.Color,
		})
	}
	return &Refresher{opts: opts, sources: sources}
}

// Run refreshes every subscription once. A failing source keeps its
// previously imported items; the other sources are still refreshed. The
// returned error joins the per-source failures.
func (r *Refresher) Run(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Now().In(r.opts.Location)
	today := caldate.Of(now)
	sum := Summary{StartedAt: now, Sources: make([]SourceResult, 0, len(r.sources))}
	importCfg := ics.ImportConfig{
		Location: r.opts.Location,
		From:     today.AddDays(-r.opts.HorizonDays),
		To:       today.AddDays(r.opts.HorizonDays),
	}

	var errs []error
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := r.refreshSource(ctx, src, importCfg)
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			r.opts.Metrics.RefreshSource(src.ID, "error", 0)
			appLog.Error("refresh: source failed; keeping previous import", err, "id", src.ID)
		} else {
			result := "ok"
			if res.FromCache {
				result = "cached"
			}
			r.opts.Metrics.RefreshSource(src.ID, result, res.Items)
		}
		sum.Sources = append(sum.Sources, res)
	}

	r.opts.Metrics.RefreshDuration(r.opts.Now().Sub(now))
	appLog.Info("refresh completed", "sources", len(sum.Sources), "failed", sum.Failed())
	return sum, errors.Join(errs...)
}

func (r *Refresher) refreshSource(ctx context.Context, src ics.Source, cfg ics.ImportConfig) (SourceResult, error) {
	res := SourceResult{ID: src.ID}

	fetched, err := r.opts.Fetcher.Fetch(ctx, src)
	if err != nil {
		return res, err
	}
	res.FromCache = fetched.FromCache

	events, err := ics.ParseICS(src, fetched.Body, r.opts.Location)
	if err != nil {
		return res, err
	}
	imported, err := ics.ToItems(src, events, cfg)
	if err != nil {
		return res, err
	}
	if err := r.opts.Store.ReplaceSource(ctx, src.ID, imported.Items); err != nil {
		return res, fmt.Errorf("store: %w", err)
	}
	res.Items = len(imported.Items)
	res.Truncated = imported.TruncatedEvents
	appLog.Debug("refresh: source imported", "id", src.ID, "events", len(events), "count", res.Items, "from_cache", res.FromCache)
	return res, nil
}
