package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cedros-basket/checkout/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("store: not found")

// ErrOutOfStock is returned by ReserveProduct when a product has no
// available units.
var ErrOutOfStock = errors.New("store: out of stock")

// ErrStockVanished is returned by FinalizePurchase when a snapshot entry's
// product no longer exists between reservation and settlement.
var ErrStockVanished = errors.New("store: stock vanished")

// ErrInsufficientBalance is returned by DebitBalance when the user's balance
// is smaller than the requested debit.
var ErrInsufficientBalance = errors.New("store: insufficient balance")

// ErrWalletExists names an idempotent mint hit. No store method returns it:
// CreateWalletIfNotExists reports that case via its bool return instead of
// an error; the sentinel is kept for symmetry with the rest of the set.
var ErrWalletExists = errors.New("store: wallet already exists")

// ExpiredReservation groups the basket entries released for one user by the
// expiry sweep, so the scheduler can notify that user exactly once.
type ExpiredReservation struct {
	UserID  string
	Entries []BasketSnapshotEntry
}

// Store captures every durable-state operation the checkout engine needs.
// Multi-row mutations (reservation, finalize, ledger credit/debit) are
// implemented atomically by each backend; callers never see partial effects.
type Store interface {
	// Users
	GetOrCreateUser(ctx context.Context, userID, locale string) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	SetUserBanned(ctx context.Context, userID string, banned bool) error

	// Products
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, product Product) error
	HardDeleteProducts(ctx context.Context, productIDs []string) error
	ListAvailableProducts(ctx context.Context, city, district, productType string) ([]Product, error)

	// Reservations
	ReserveProduct(ctx context.Context, userID, productID string) (BasketReservation, error)
	GetUserBasket(ctx context.Context, userID string) ([]BasketReservation, error)
	UnreserveSnapshot(ctx context.Context, snapshot BasketSnapshot) error
	ExpireReservations(ctx context.Context, olderThan time.Time) ([]ExpiredReservation, error)
	FinalizePurchase(ctx context.Context, userID string, snapshot BasketSnapshot, discountCode *string) error

	// Discounts
	GetDiscountCode(ctx context.Context, code string) (DiscountCode, error)
	SetDiscountCode(ctx context.Context, code DiscountCode) error
	GetResellerDiscount(ctx context.Context, resellerUserID, productType string) (ResellerDiscount, bool, error)
	SetResellerDiscount(ctx context.Context, discount ResellerDiscount) error
	DeleteResellerDiscount(ctx context.Context, resellerUserID, productType string) error
	SetUserReseller(ctx context.Context, userID string, reseller bool) error

	// Pending deposits
	CreatePendingDeposit(ctx context.Context, deposit PendingDeposit) error
	GetPendingDeposit(ctx context.Context, paymentID string) (PendingDeposit, error)
	DeletePendingDeposit(ctx context.Context, paymentID string) error
	ListPendingDeposits(ctx context.Context) ([]PendingDeposit, error)
	ListExpiredPendingDeposits(ctx context.Context, olderThan time.Time) ([]PendingDeposit, error)

	// Ephemeral wallets
	CreateWalletIfNotExists(ctx context.Context, wallet EphemeralWallet) (EphemeralWallet, bool, error)
	GetWalletByOrderID(ctx context.Context, orderID string) (EphemeralWallet, error)
	GetWallet(ctx context.Context, id string) (EphemeralWallet, error)
	ListWalletsByStatus(ctx context.Context, status WalletStatus) ([]EphemeralWallet, error)
	ListAllWallets(ctx context.Context) ([]EphemeralWallet, error)
	UpdateWalletStatus(ctx context.Context, id string, status WalletStatus, amountReceived *int64) error

	// Ledger
	CreditBalance(ctx context.Context, userID string, amountCents int64, reason string) (int64, error)
	DebitBalance(ctx context.Context, userID string, amountCents int64, reason string) (int64, error)

	// Audit
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// Settings (price oracle persistent cache lives here)
	GetSetting(ctx context.Context, key string) (Setting, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}

// Config selects and configures a storage backend.
type Config struct {
	Backend      string // "memory" or "postgres"
	PostgresURL  string
	PostgresPool config.PostgresPoolConfig
}

// New creates a Store instance based on the provided configuration.
func New(cfg Config) (Store, error) {
	return NewWithDB(cfg, nil)
}

// NewWithDB creates a Store instance, optionally reusing an existing
// *sql.DB connection pool for the postgres backend.
func NewWithDB(cfg Config, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB)
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
