package app

import (
	"context"
	"errors"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Halyard-Systems/halyard-finance/internal/capacity"
	"github.com/Halyard-Systems/halyard-finance/internal/chain"
	"github.com/Halyard-Systems/halyard-finance/internal/config"
	"github.com/Halyard-Systems/halyard-finance/internal/oracle"
	"github.com/Halyard-Systems/halyard-finance/internal/scheduler"
	"github.com/Halyard-Systems/halyard-finance/internal/service"
	"github.com/Halyard-Systems/halyard-finance/internal/storage"
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

func (a *App) newGateway() (*chain.Gateway, error) {
	return chain.New(chain.Options{
		RPCURL:         a.Config.Ethereum.RPCURL,
		ChainID:        a.Config.Ethereum.ChainID,
		DepositManager: a.Config.Ethereum.DepositManager,
		BorrowManager:  a.Config.Ethereum.BorrowManager,
		PythAddress:    a.Config.Oracle.PythAddress,
		Account:        a.Config.Ethereum.Account,
		PrivateKey:     a.Config.Ethereum.PrivateKey,
		Timeout:        a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

// newOracleSource picks between the live Hermes endpoint and the synthetic
// source. Synthetic quotes are only built when allow_synthetic is set, which
// config validation already forbids in production.
func (a *App) newOracleSource(gw *chain.Gateway) oracle.Source {
	oc := a.Config.Oracle
	if oc.AllowSynthetic && len(oc.SyntheticPrices) > 0 {
		prices := make(map[string]int64, len(oc.SyntheticPrices))
		for id, p := range oc.SyntheticPrices {
			prices[id] = int64(math.Round(p * 1e8))
		}
		return oracle.NewSynthetic(gw, prices, a.Logger)
	}
	return oracle.NewHermes(oracle.HermesOptions{
		BaseURL:   oc.HermesBaseURL,
		Timeout:   oc.RequestTimeout,
		UserAgent: oc.UserAgent,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) capacityParams() capacity.Params {
	return capacity.Params{
		LoanToValueBps:          int64(math.Round(a.Config.Lending.LoanToValuePct * 100)),
		LiquidationThresholdBps: int64(math.Round(a.Config.Lending.LiquidationThresholdPct * 100)),
	}
}

// Run executes the long-running market monitor.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	gw, err := a.newGateway()
	if err != nil {
		return err
	}
	defer gw.Close()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var sampleStore storage.ReserveSampleStore
	if store != nil {
		sampleStore = store
	}

	svc := service.New(a.Config, sched, gw, a.newOracleSource(gw), sampleStore, a.Logger)

	a.Logger.Info().Msg("starting market monitor")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("market monitor stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// PositionsOptions configure the positions command.
type PositionsOptions struct {
	Account string
}

// TransactOptions configure the deposit, withdraw, borrow, and repay commands.
type TransactOptions struct {
	Symbol string
	Amount string
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Symbol string
	Limit  int
}

// PreviewOptions configure the borrow preview command.
type PreviewOptions struct {
	Symbol  string
	Amount  string
	Account string

	// Prices substitutes static oracle quotes keyed by symbol, bypassing
	// Hermes. Confidence is taken as zero.
	Prices map[string]float64
}
