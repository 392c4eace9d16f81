package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/cedros-basket/checkout/internal/circuitbreaker"
	"github.com/cedros-basket/checkout/internal/config"
	"github.com/cedros-basket/checkout/internal/inventory"
	"github.com/cedros-basket/checkout/internal/ledger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/oracle"
	"github.com/cedros-basket/checkout/internal/order"
	"github.com/cedros-basket/checkout/internal/pricing"
	"github.com/cedros-basket/checkout/internal/store"
	"github.com/cedros-basket/checkout/internal/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type noopNotifier struct{}

func (noopNotifier) OnBalanceCredited(context.Context, string, int64, string) {}

type noopMessenger struct{}

func (noopMessenger) SendPurchaseDelivery(context.Context, string, store.BasketSnapshot) error { return nil }
func (noopMessenger) NotifyRefillCredited(context.Context, string, int64) error                { return nil }
func (noopMessenger) NotifyExpired(context.Context, string) error                              { return nil }
func (noopMessenger) NotifyPaymentFailed(context.Context, string, string) error                 { return nil }

type staticUpstream struct{ quote decimal.Decimal }

func (s staticUpstream) Name() string { return "static" }
func (s staticUpstream) Quote(context.Context) (decimal.Decimal, error) { return s.quote, nil }

type fakeRPC struct{ balances map[string]uint64 }

func (f *fakeRPC) GetBalanceLamports(_ context.Context, pubkey solana.PublicKey) (uint64, error) {
	return f.balances[pubkey.String()], nil
}
func (f *fakeRPC) LatestBlockhash(context.Context) (solana.Hash, error) { return solana.Hash{}, nil }
func (f *fakeRPC) SendTransaction(context.Context, *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, nil
}
func (f *fakeRPC) RecentIncomingSignature(context.Context, solana.PublicKey) (string, error) {
	return "", nil
}

func newTestScheduler(t *testing.T) (*Scheduler, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())

	oc := oracle.New(config.OracleConfig{
		MemoryCacheTTL:     config.Duration{Duration: 300 * time.Second},
		PersistentMaxAge:   config.Duration{Duration: 600 * time.Second},
		StaleMaxAge:        config.Duration{Duration: 3600 * time.Second},
		RefreshInterval:    config.Duration{Duration: 4 * time.Minute},
		SanityMinEURPerSOL: 1,
		SanityMaxEURPerSOL: 1000,
	}, []oracle.Upstream{staticUpstream{quote: decimal.NewFromFloat(100)}}, st, breakers, m)

	inv := inventory.New(st, m)
	pc := pricing.New(st)
	lg := ledger.New(st, m, noopNotifier{}, nil)

	solCfg := config.SolanaConfig{SweepDustFloorLamports: 5000, TxFeeLamports: 5000}
	treasury := config.TreasuryConfig{TreasuryAddress: solana.NewWallet().PublicKey().String()}
	we := wallet.New(st, oc, &fakeRPC{balances: make(map[string]uint64)}, breakers, m, lg, nil, solCfg, treasury)

	coord := order.New(st, inv, pc, lg, we, noopMessenger{}, m, nil)
	we.SetNotifier(coord)

	cfg := config.SchedulerConfig{
		ClearExpiredBaskets:        config.JobScheduleConfig{Interval: config.Duration{Duration: time.Hour}, First: config.Duration{Duration: time.Hour}},
		CleanExpiredPayments:       config.JobScheduleConfig{Interval: config.Duration{Duration: time.Hour}, First: config.Duration{Duration: time.Hour}},
		CleanAbandonedReservations: config.JobScheduleConfig{Interval: config.Duration{Duration: time.Hour}, First: config.Duration{Duration: time.Hour}},
		PaymentRecovery:            config.JobScheduleConfig{Interval: config.Duration{Duration: time.Hour}, First: config.Duration{Duration: time.Hour}},
		SolanaDepositsCheck:        config.JobScheduleConfig{Interval: config.Duration{Duration: time.Hour}, First: config.Duration{Duration: time.Hour}},
		PriceRefresh:               config.JobScheduleConfig{Interval: config.Duration{Duration: time.Hour}, First: config.Duration{Duration: time.Hour}},
	}

	return New(cfg, 20*time.Minute, inv, coord, we, oc, m), st
}

func TestRunBasketExpiry_ReleasesOldReservations(t *testing.T) {
	s, st := newTestScheduler(t)
	if err := st.CreateProduct(context.Background(), store.Product{ID: "p1", Type: "widget", PriceEURCents: 500, Available: 1}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := st.ReserveProduct(context.Background(), "user-1", "p1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	s.reservationTimeout = -1 * time.Second // force immediate expiry
	s.runBasketExpiry(context.Background())

	p, _ := st.GetProduct(context.Background(), "p1")
	if p.Available != 1 {
		t.Errorf("available = %d, want 1 after basket expiry", p.Available)
	}
}

func TestRunPaymentTimeout_ExpiresStaleDeposits(t *testing.T) {
	s, st := newTestScheduler(t)
	if _, err := st.GetOrCreateUser(context.Background(), "user-1", "en"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := st.CreatePendingDeposit(context.Background(), store.PendingDeposit{
		PaymentID: "pay-1", UserID: "user-1", IsPurchase: false, TargetEURCents: 1000, CreatedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("create pending deposit: %v", err)
	}

	s.reservationTimeout = time.Minute
	s.runPaymentTimeout(context.Background())

	if _, err := st.GetPendingDeposit(context.Background(), "pay-1"); err == nil {
		t.Error("expected stale pending deposit to be removed")
	}
}

func TestRunPriceRefresh_InvalidatesAndRequotes(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.runPriceRefresh(context.Background())
}

func TestStartStop_DoesNotDeadlock(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Start(context.Background())
	s.Stop()
}

func TestRunIsolated_RecoversFromPanic(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.runIsolated(context.Background(), "test_job", func(context.Context) {
		panic("boom")
	})
}
