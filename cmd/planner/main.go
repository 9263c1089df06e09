package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"planner/internal/caldate"
	"planner/internal/config"
	"planner/internal/ics"
	appLog "planner/internal/log"
	"planner/internal/metrics"
	"planner/internal/model"
	"planner/internal/refresh"
	"planner/internal/schedule"
	"planner/internal/store"
	"planner/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	date       string
	debug      bool
}

func main() {
	flags := parseFlags()
	if err := run(flags); err != nil {
		appLog.Error("planner exiting with error", err)
		os.Exit(1)
	}
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	loc, err := conf.Location()
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"subscriptions", len(conf.Subscriptions),
		"postgres", conf.DatabaseURL != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, conf, loc)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.NewMetrics()
	var refresher *refresh.Refresher
	if len(conf.Subscriptions) > 0 {
		refresher = refresh.New(refresh.Options{
			Store:         st,
			Fetcher:       ics.NewFetcher(conf.CacheDir, nil),
			Subscriptions: conf.Subscriptions,
			Location:      loc,
			HorizonDays:   conf.ImportHorizonDays,
			Metrics:       m,
		})
	}

	if flags.once {
		return printAgenda(ctx, os.Stdout, st, refresher, loc, flags.date)
	}

	if refresher != nil {
		sched, err := refresh.ForRefresher(conf.RefreshCron, loc, refresher)
		if err != nil {
			return err
		}
		go func() {
			// Import once at startup, then on schedule.
			_, _ = refresher.Run(ctx)
			sched.Run(ctx)
		}()
	}

	srv := web.NewServer(web.Options{
		Config:    conf,
		Store:     st,
		Location:  loc,
		Metrics:   m,
		Refresher: refresher,
	})
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	appLog.Info("planner exiting")
	return nil
}

// openStore picks PostgreSQL when database_url is set and the YAML data file
// otherwise.
func openStore(ctx context.Context, conf *config.Config, loc *time.Location) (store.Store, error) {
	if conf.DatabaseURL != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		st, err := store.OpenPg(openCtx, conf.DatabaseURL, loc)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	}
	st, err := store.OpenFile(conf.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open data file %s: %w", conf.DataPath, err)
	}
	appLog.Info("using data file", "path", conf.DataPath)
	return st, nil
}

// printAgenda refreshes subscriptions once and writes the agenda of one date
// as plain text.
func printAgenda(ctx context.Context, w io.Writer, st store.Store, r *refresh.Refresher, loc *time.Location, dateFlag string) error {
	now := time.Now().In(loc)
	date := caldate.Of(now)
	if dateFlag != "" {
		d, err := caldate.Parse(dateFlag)
		if err != nil {
			return fmt.Errorf("-date: %w", err)
		}
		date = d
	}

	if r != nil {
		if _, err := r.Run(ctx); err != nil {
			appLog.Error("refresh failed; printing stored items", err)
		}
	}
	items, err := st.Items(ctx)
	if err != nil {
		return err
	}

	occ := schedule.OccurrencesOn(items, schedule.DayQuery{Date: date, Filter: model.FilterAll, Location: loc})
	fmt.Fprintf(w, "%s (%s)\n", date, date.Weekday())
	if len(occ) == 0 {
		fmt.Fprintln(w, "  nothing scheduled")
		return nil
	}
	for i, g := range schedule.Group(occ) {
		if i > 0 {
			fmt.Fprintln(w)
		}
		for _, o := range g.Members {
			line := fmt.Sprintf("  %s-%s  [%s] %s", o.Start.Format("15:04"), o.End.Format("15:04"), o.Category, o.Title)
			if o.Subtitle != "" {
				line += " · " + o.Subtitle
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./planner.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh subscriptions, print one day's agenda and exit")
	flag.StringVar(&cfg.date, "date", "", "Date printed by -once (YYYY-MM-DD, default today)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
