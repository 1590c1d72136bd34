package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"isin-monitor/internal/alerting"
	"isin-monitor/internal/chart"
	"isin-monitor/internal/config"
	"isin-monitor/internal/fetcher"
	"isin-monitor/internal/scheduler"
	"isin-monitor/internal/service"
	"isin-monitor/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// stores bundles the three persistence contracts, which one backend
// instance serves in both configurations.
type stores struct {
	prices storage.PriceStore
	meta   storage.MetadataStore
	state  storage.StateStore
}

func (a *App) openStores(ctx context.Context) (stores, func(), error) {
	epsilon := decimal.NewFromFloat(a.Config.Monitoring.PriceEpsilon)

	switch a.Config.Data.Backend {
	case config.BackendPostgres:
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return stores{}, nil, err
		}
		store := storage.NewPostgresStore(pool, epsilon)
		return stores{prices: store, meta: store, state: store}, store.Close, nil

	default:
		store, err := storage.OpenFileStore(a.Config.Data, epsilon, a.Logger)
		if err != nil {
			return stores{}, nil, err
		}
		return stores{prices: store, meta: store, state: store}, func() {}, nil
	}
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	return fetcher.NewBorsa(fetcher.BorsaOptions{
		BaseURL:   a.Config.API.BaseURL,
		Timeout:   a.Config.API.RequestTimeout,
		UserAgent: a.Config.API.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() *alerting.TelegramNotifier {
	if !a.Config.Telegram.Enabled {
		return nil
	}
	return alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken:   a.Config.Telegram.BotToken,
		ChatID:     a.Config.Telegram.ChatID,
		APIBase:    a.Config.Telegram.APIBase,
		SendCharts: a.Config.Telegram.SendCharts,
		Timeout:    a.Config.API.RequestTimeout,
	}, a.Logger)
}

func (a *App) newEngine(state storage.StateStore) *alerting.Engine {
	mon := a.Config.Monitoring
	openMin, _ := config.ParseClock(mon.MarketOpenTime)
	closeMin, _ := config.ParseClock(mon.MarketCloseTime)

	return alerting.NewEngine(alerting.EngineOptions{
		Cooldown:        mon.Cooldown(),
		BucketStep:      decimal.NewFromFloat(mon.DiscountBucketStep),
		MarketHoursOnly: mon.MarketHoursOnly,
		MarketOpenMin:   openMin,
		MarketCloseMin:  closeMin,
	}, state, a.Logger)
}

func (a *App) newService(ctx context.Context, st stores) (*service.Service, error) {
	engine := a.newEngine(st.state)
	if err := engine.Restore(ctx); err != nil {
		return nil, err
	}

	var notifier alerting.Notifier
	if tg := a.newNotifier(); tg != nil {
		notifier = tg
	} else {
		a.Logger.Warn().Msg("telegram disabled; qualifying events will be logged only")
	}

	var charts *chart.Renderer
	if a.Config.Telegram.SendCharts {
		charts = chart.NewRenderer()
	}

	svc := service.New(service.Options{
		LookbackDays:   a.Config.Monitoring.PriceComparisonDays,
		RequestTimeout: a.Config.API.RequestTimeout,
	},
		st.prices,
		st.meta,
		a.newFetcher(),
		fetcher.NewGate(a.Config.API.RateLimitDelay),
		engine,
		notifier,
		charts,
		a.Logger,
	)
	return svc, nil
}

// Run executes the long-running scheduler-driven monitoring loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	svc, err := a.newService(ctx, st)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return svc.RunPass(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitoring service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting a ticker's history.
type ExportOptions struct {
	Ticker    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
