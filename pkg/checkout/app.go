// Package checkout assembles the basket/payment engine (components A-I) into
// a single embeddable App, the way pkg/cedros did for the paywall service
// this module was adapted from.
package checkout

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cedros-basket/checkout/internal/circuitbreaker"
	"github.com/cedros-basket/checkout/internal/config"
	"github.com/cedros-basket/checkout/internal/httpapi"
	"github.com/cedros-basket/checkout/internal/inventory"
	"github.com/cedros-basket/checkout/internal/ledger"
	"github.com/cedros-basket/checkout/internal/lifecycle"
	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/messenger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/oracle"
	"github.com/cedros-basket/checkout/internal/order"
	"github.com/cedros-basket/checkout/internal/pricing"
	"github.com/cedros-basket/checkout/internal/scheduler"
	"github.com/cedros-basket/checkout/internal/store"
	"github.com/cedros-basket/checkout/internal/wallet"
)

// App wires every checkout engine component for embedding or standalone use.
type App struct {
	Config  *config.Config
	Store   store.Store
	Oracle  *oracle.Oracle
	Wallet  *wallet.Engine
	Ledger  *ledger.Ledger
	Order   *order.Coordinator
	HTTP    *httpapi.Server
	Bot     *tgbotapi.BotAPI
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	resources *lifecycle.Manager
	scheduler *scheduler.Scheduler
}

// NewApp constructs every component from cfg and wires their dependencies.
// Construction order matters: the wallet engine and order coordinator refer
// to each other, so the engine is built with a nil notifier first and the
// coordinator is spliced in afterward via SetNotifier.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("checkout: config required")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "checkout",
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()

	st, err := store.New(store.Config{
		Backend:      cfg.Store.Backend,
		PostgresURL:  cfg.Store.PostgresURL,
		PostgresPool: cfg.Store.PostgresPool,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout: init store: %w", err)
	}
	resources.RegisterFunc("store", st.Close)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	oc := oracle.New(cfg.Oracle, buildUpstreams(cfg.Oracle.Upstreams), st, breakers, m)

	rpcClient := rpc.New(cfg.Solana.RPCURL)
	clusterRPC := wallet.NewClusterRPC(rpcClient, rpc.CommitmentType(cfg.Solana.Commitment))

	inv := inventory.New(st, m)
	pc := pricing.New(st)
	lg := ledger.New(st, m, nil, nil)

	we := wallet.New(st, oc, clusterRPC, breakers, m, lg, nil, cfg.Solana, cfg.Treasury)

	bot, err := tgbotapi.NewBotAPI(cfg.Messenger.BotToken)
	if err != nil {
		return nil, fmt.Errorf("checkout: init telegram bot: %w", err)
	}
	sender := messenger.New(bot, st, m)

	alert := func(ctx context.Context, message string) {
		logger.FromContext(ctx).Error().Str("alert", message).Msg("checkout.operator_alert")
	}

	coord := order.New(st, inv, pc, lg, we, sender, m, alert)
	we.SetNotifier(coord)

	sched := scheduler.New(cfg.Scheduler, cfg.Basket.ReservationTimeout.Duration, inv, coord, we, oc, m)
	resources.Register("scheduler", sched)

	httpServer := httpapi.New(cfg, m, registry, &botUpdateSink{bot: bot, logger: appLogger}, appLogger)
	resources.Register("http-server", httpServer)

	return &App{
		Config:    cfg,
		Store:     st,
		Oracle:    oc,
		Wallet:    we,
		Ledger:    lg,
		Order:     coord,
		HTTP:      httpServer,
		Bot:       bot,
		Logger:    appLogger,
		Metrics:   m,
		resources: resources,
		scheduler: sched,
	}, nil
}

// Run starts the scheduler and blocks serving HTTP until the listener stops.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)
	if err := a.HTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases every registered resource in reverse construction order.
func (a *App) Close() error {
	return a.resources.Close()
}

// buildUpstreams turns the configured EUR/SOL quote source URLs into oracle
// upstreams. Each entry is expected to answer with a JSON body exposing the
// quote under a "price" field, matching the DEX/exchange aggregators this
// bot rotates through.
func buildUpstreams(urls []string) []oracle.Upstream {
	ups := make([]oracle.Upstream, 0, len(urls))
	for i, u := range urls {
		ups = append(ups, oracle.NewHTTPUpstream(fmt.Sprintf("upstream-%d", i+1), u, "price", 5*time.Second))
	}
	return ups
}

// botUpdateSink adapts the Telegram bot to httpapi.UpdateSink. Command
// routing itself is out of scope for this module; the sink only logs intake
// so the webhook surface has a real, observable destination for updates.
type botUpdateSink struct {
	bot    *tgbotapi.BotAPI
	logger zerolog.Logger
}

func (s *botUpdateSink) HandleUpdate(ctx context.Context, update []byte) {
	s.logger.Info().Int("bytes", len(update)).Msg("checkout.telegram_update_received")
}
