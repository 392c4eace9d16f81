// Package scheduler implements the periodic job runner (component H):
// basket expiry, abandoned-reservation cleanup, payment timeout, payment
// recovery, Solana deposit scanning, and price-oracle warm-up. Jobs are
// non-overlapping per job and isolated from one another.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cedros-basket/checkout/internal/config"
	"github.com/cedros-basket/checkout/internal/inventory"
	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/oracle"
	"github.com/cedros-basket/checkout/internal/order"
	"github.com/cedros-basket/checkout/internal/wallet"
)

// Scheduler owns every background job and their tickers.
type Scheduler struct {
	cfg                config.SchedulerConfig
	reservationTimeout time.Duration

	inventory   *inventory.Engine
	coordinator *order.Coordinator
	wallet      *wallet.Engine
	oracle      *oracle.Oracle
	metrics     *metrics.Metrics

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New constructs a Scheduler. reservationTimeout is config.BasketConfig's
// ReservationTimeout, reused here for both the basket-expiry and the
// payment-timeout deadman-switch passes, since both describe the same
// 20-minute invoice window from spec.md's data-flow narrative.
func New(cfg config.SchedulerConfig, reservationTimeout time.Duration, inv *inventory.Engine, coord *order.Coordinator, we *wallet.Engine, oc *oracle.Oracle, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cfg:                cfg,
		reservationTimeout: reservationTimeout,
		inventory:          inv,
		coordinator:        coord,
		wallet:             we,
		oracle:             oc,
		metrics:            m,
		stopCh:             make(chan struct{}),
	}
}

// Start launches all six jobs as independent goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	s.launch(ctx, "basket_expiry", s.cfg.ClearExpiredBaskets, s.runBasketExpiry)
	s.launch(ctx, "payment_timeout", s.cfg.CleanExpiredPayments, s.runPaymentTimeout)
	s.launch(ctx, "abandoned_reservation", s.cfg.CleanAbandonedReservations, s.runAbandonedReservation)
	s.launch(ctx, "payment_recovery", s.cfg.PaymentRecovery, s.runPaymentRecovery)
	s.launch(ctx, "solana_scan", s.cfg.SolanaDepositsCheck, s.runSolanaScan)
	s.launch(ctx, "price_refresh", s.cfg.PriceRefresh, s.runPriceRefresh)

	logger.FromContext(ctx).Info().Msg("scheduler.started")
}

// Stop signals every job loop to exit and waits for them to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Close adapts Stop to io.Closer so pkg/checkout can register the scheduler
// with the lifecycle manager alongside its other shutdown resources.
func (s *Scheduler) Close() error {
	s.Stop()
	return nil
}

func (s *Scheduler) launch(ctx context.Context, name string, schedule config.JobScheduleConfig, run func(context.Context)) {
	s.wg.Add(1)
	go s.loop(ctx, name, schedule.First.Duration, schedule.Interval.Duration, run)
}

// loop waits schedule.First before the first run, then ticks at interval.
// time.Ticker drops a tick if the receiver is still busy with the previous
// one, which is exactly the non-overlapping behavior spec.md §4.8 requires.
func (s *Scheduler) loop(ctx context.Context, name string, first, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	timer := time.NewTimer(first)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-timer.C:
		s.runIsolated(ctx, name, run)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runIsolated(ctx, name, run)
		}
	}
}

// runIsolated guards one job's tick so a panic in it never takes down the
// other jobs' goroutines.
func (s *Scheduler) runIsolated(ctx context.Context, name string, run func(context.Context)) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error().Interface("panic", r).Str("job", name).Msg("scheduler.job_panicked")
			s.metrics.ObserveSchedulerJob(name, time.Since(start), errPanic)
		}
	}()
	run(ctx)
	s.metrics.ObserveSchedulerJob(name, time.Since(start), nil)
}

func (s *Scheduler) runBasketExpiry(ctx context.Context) {
	expired, err := s.inventory.Expire(ctx, s.reservationTimeout)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("scheduler.basket_expiry_failed")
		return
	}
	if len(expired) > 0 {
		logger.FromContext(ctx).Info().Int("count", len(expired)).Msg("scheduler.basket_expiry")
	}
}

func (s *Scheduler) runPaymentTimeout(ctx context.Context) {
	count, err := s.coordinator.ExpirePendingDeposits(ctx, s.reservationTimeout)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("scheduler.payment_timeout_failed")
		return
	}
	if count > 0 {
		logger.FromContext(ctx).Info().Int("count", count).Msg("scheduler.payment_timeout")
	}
}

// runAbandonedReservation is a second, independent pass over basket
// reservations, catching anything the basket_expiry job's cadence missed
// (e.g. a restart during its tick). Sharing inventory.Expire's
// already-transactional-per-user release is safe to run twice: a
// reservation already released is simply absent from the next pass.
func (s *Scheduler) runAbandonedReservation(ctx context.Context) {
	expired, err := s.inventory.Expire(ctx, s.reservationTimeout)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("scheduler.abandoned_reservation_failed")
		return
	}
	if len(expired) > 0 {
		logger.FromContext(ctx).Info().Int("count", len(expired)).Msg("scheduler.abandoned_reservation")
	}
}

func (s *Scheduler) runPaymentRecovery(ctx context.Context) {
	recovered, err := s.coordinator.RecoverStrandedFinalizations(ctx)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("scheduler.payment_recovery_failed")
	} else if recovered > 0 {
		logger.FromContext(ctx).Info().Int("count", recovered).Msg("scheduler.payment_recovery_finalizations")
	}

	swept, err := s.wallet.Recover(ctx, "")
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("scheduler.payment_recovery_sweep_failed")
		return
	}
	if swept > 0 {
		logger.FromContext(ctx).Info().Int("count", swept).Msg("scheduler.payment_recovery_swept")
	}
}

func (s *Scheduler) runSolanaScan(ctx context.Context) {
	if err := s.wallet.Scan(ctx); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("scheduler.solana_scan_failed")
	}
}

func (s *Scheduler) runPriceRefresh(ctx context.Context) {
	s.oracle.InvalidateMemory()
	if _, err := s.oracle.Quote(ctx); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("scheduler.price_refresh_failed")
	}
}

// errPanic is a sentinel passed to ObserveSchedulerJob's err parameter when
// a job panicked, so the metric records a failure outcome.
var errPanic = &panicError{}

type panicError struct{}

func (*panicError) Error() string { return "scheduler: job panicked" }
