package store

import "time"

// User is a chat-identified customer: balance, locale, and reseller/ban flags.
// Basket contents live in BasketReservation rows, not embedded here.
type User struct {
	ID              string
	Locale          string
	BalanceEURCents int64
	Reseller        bool
	Banned          bool
	TotalPurchases  int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Product is one stock-keeping unit. Available and Reserved are unit counts;
// both must stay non-negative.
type Product struct {
	ID          string
	City        string
	District    string
	Type        string
	Size        string
	Name        string
	PriceEURCents int64
	Available   int64
	Reserved    int64
	PickupText  string
	MediaRefs   []string
}

// BasketReservation holds one unit against a user's basket until payment or
// timeout. SnapshotPriceCents is fixed at reservation time.
type BasketReservation struct {
	UserID             string
	ProductID          string
	ProductType        string
	SnapshotPriceCents int64
	ReservedAt         time.Time
}

// DiscountKind distinguishes coupon value interpretation.
type DiscountKind string

const (
	DiscountKindPercentage DiscountKind = "percentage"
	DiscountKindFixedEUR   DiscountKind = "fixed_eur"
)

// DiscountCode is a single-use-tracked coupon. MaxUses nil means unlimited.
type DiscountCode struct {
	Code      string
	Kind      DiscountKind
	Value     float64
	MaxUses   *int64
	UsesCount int64
	Active    bool
}

// ResellerDiscount is a per-user-per-product-type percentage discount.
type ResellerDiscount struct {
	ResellerUserID string
	ProductType    string
	Percent        float64
}

// BasketSnapshot is the frozen record of what a pending deposit will finalize
// into: one entry per reserved unit with the price actually quoted.
type BasketSnapshot struct {
	Entries []BasketSnapshotEntry
}

// BasketSnapshotEntry is a single unit within a BasketSnapshot.
type BasketSnapshotEntry struct {
	ProductID     string
	ProductType   string
	PricePaidCents int64
}

// PendingDeposit binds a payment_id to an expected amount and, for purchases,
// the basket snapshot to finalize on settlement.
type PendingDeposit struct {
	PaymentID          string
	UserID             string
	Currency           string
	TargetEURCents     int64
	ExpectedLamports   int64
	IsPurchase         bool
	BasketSnapshotJSON string
	DiscountCode       *string
	CreatedAt          time.Time
}

// WalletStatus is the lifecycle state of an EphemeralWallet.
type WalletStatus string

const (
	WalletStatusPending  WalletStatus = "pending"
	WalletStatusPaid     WalletStatus = "paid"
	WalletStatusSwept    WalletStatus = "swept"
	WalletStatusRefunded WalletStatus = "refunded"
	WalletStatusExpired  WalletStatus = "expired"
	WalletStatusCorrupt  WalletStatus = "corrupt"
)

// EphemeralWallet is a per-order keypair used to receive exactly one
// payment. PrivateKeyMaterial is the base58-encoded secret key.
type EphemeralWallet struct {
	ID                 string
	UserID             string
	OrderID            string
	PublicKey          string
	PrivateKeyMaterial string
	ExpectedLamports   int64
	Status             WalletStatus
	AmountReceived     *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Purchase is an append-only record of one sold unit.
type Purchase struct {
	UserID        string
	ProductID     string
	Name          string
	Type          string
	Size          string
	PricePaidCents int64
	City          string
	District      string
	PurchaseDate  time.Time
}

// Setting is a generic key/value row with an update timestamp, used by the
// price oracle's persistent cache layer.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// AuditEntry is an append-only record of an administrative or automated
// balance/state mutation.
type AuditEntry struct {
	ID           string
	Timestamp    time.Time
	ActorID      string
	Action       string
	TargetUserID *string
	Reason       *string
	AmountChange *int64
	OldValue     *string
	NewValue     *string
	Severity     string
}
