package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation suitable for tests and
// single-instance deployments without a Postgres dependency.
type MemoryStore struct {
	mu sync.Mutex

	users        map[string]User
	products     map[string]Product
	reservations map[string][]BasketReservation // userID -> basket
	discounts    map[string]DiscountCode
	resellers    map[string]ResellerDiscount // "userID|productType" -> discount
	deposits     map[string]PendingDeposit
	wallets      map[string]EphemeralWallet
	walletsByOrd map[string]string // orderID -> wallet id
	purchases    []Purchase
	audit        []AuditEntry
	settings     map[string]Setting
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]User),
		products:     make(map[string]Product),
		reservations: make(map[string][]BasketReservation),
		discounts:    make(map[string]DiscountCode),
		resellers:    make(map[string]ResellerDiscount),
		deposits:     make(map[string]PendingDeposit),
		wallets:      make(map[string]EphemeralWallet),
		walletsByOrd: make(map[string]string),
		settings:     make(map[string]Setting),
	}
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error { return nil }

func resellerKey(userID, productType string) string {
	return userID + "|" + productType
}

// GetOrCreateUser returns the user row, creating it with a zero balance on
// first contact.
func (m *MemoryStore) GetOrCreateUser(_ context.Context, userID, locale string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	now := time.Now()
	u := User{ID: userID, Locale: locale, CreatedAt: now, UpdatedAt: now}
	m.users[userID] = u
	return u, nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) SetUserBanned(_ context.Context, userID string, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Banned = banned
	u.UpdatedAt = time.Now()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) GetProduct(_ context.Context, productID string) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) CreateProduct(_ context.Context, product Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.products[product.ID] = product
	return nil
}

func (m *MemoryStore) HardDeleteProducts(_ context.Context, productIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range productIDs {
		delete(m.products, id)
	}
	return nil
}

func (m *MemoryStore) ListAvailableProducts(_ context.Context, city, district, productType string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Product
	for _, p := range m.products {
		if p.Available <= 0 {
			continue
		}
		if city != "" && p.City != city {
			continue
		}
		if district != "" && p.District != district {
			continue
		}
		if productType != "" && p.Type != productType {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ReserveProduct atomically moves one unit from available to reserved and
// appends it to the user's basket.
func (m *MemoryStore) ReserveProduct(_ context.Context, userID, productID string) (BasketReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return BasketReservation{}, ErrNotFound
	}
	if p.Available <= 0 {
		return BasketReservation{}, ErrOutOfStock
	}

	p.Available--
	p.Reserved++
	m.products[productID] = p

	res := BasketReservation{
		UserID:             userID,
		ProductID:          productID,
		ProductType:        p.Type,
		SnapshotPriceCents: p.PriceEURCents,
		ReservedAt:         time.Now(),
	}
	m.reservations[userID] = append(m.reservations[userID], res)
	return res, nil
}

func (m *MemoryStore) GetUserBasket(_ context.Context, userID string) ([]BasketReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	basket := m.reservations[userID]
	out := make([]BasketReservation, len(basket))
	copy(out, basket)
	return out, nil
}

// UnreserveSnapshot releases reserved units back to available. Missing
// products are skipped, matching the teacher's no-op-on-deleted-row
// tolerance for late-arriving releases.
func (m *MemoryStore) UnreserveSnapshot(_ context.Context, snapshot BasketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range snapshot.Entries {
		p, ok := m.products[entry.ProductID]
		if !ok {
			continue
		}
		p.Available++
		if p.Reserved > 0 {
			p.Reserved--
		}
		m.products[entry.ProductID] = p
	}
	return nil
}

// ExpireReservations releases every reservation older than olderThan,
// grouped per user so the scheduler can notify once per user.
func (m *MemoryStore) ExpireReservations(_ context.Context, olderThan time.Time) ([]ExpiredReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []ExpiredReservation
	for userID, basket := range m.reservations {
		var kept []BasketReservation
		var expired []BasketSnapshotEntry
		for _, res := range basket {
			if res.ReservedAt.Before(olderThan) {
				expired = append(expired, BasketSnapshotEntry{
					ProductID:      res.ProductID,
					ProductType:    res.ProductType,
					PricePaidCents: res.SnapshotPriceCents,
				})
				if p, ok := m.products[res.ProductID]; ok {
					p.Available++
					if p.Reserved > 0 {
						p.Reserved--
					}
					m.products[res.ProductID] = p
				}
				continue
			}
			kept = append(kept, res)
		}
		if len(expired) > 0 {
			m.reservations[userID] = kept
			results = append(results, ExpiredReservation{UserID: userID, Entries: expired})
		}
	}
	return results, nil
}

// FinalizePurchase implements the atomic purchase commit: re-check stock,
// consume reservations, insert purchase rows, bump total_purchases,
// conditionally increment coupon usage, and clear the basket.
func (m *MemoryStore) FinalizePurchase(_ context.Context, userID string, snapshot BasketSnapshot, discountCode *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range snapshot.Entries {
		p, ok := m.products[entry.ProductID]
		if !ok {
			return fmt.Errorf("%w: product %s missing", ErrStockVanished, entry.ProductID)
		}
		_ = p
	}

	now := time.Now()
	for _, entry := range snapshot.Entries {
		p := m.products[entry.ProductID]
		if p.Reserved > 0 {
			p.Reserved--
		}
		m.products[entry.ProductID] = p

		m.purchases = append(m.purchases, Purchase{
			UserID:         userID,
			ProductID:      entry.ProductID,
			Name:           p.Name,
			Type:           entry.ProductType,
			Size:           p.Size,
			PricePaidCents: entry.PricePaidCents,
			City:           p.City,
			District:       p.District,
			PurchaseDate:   now,
		})
	}

	u := m.users[userID]
	u.TotalPurchases += int64(len(snapshot.Entries))
	u.UpdatedAt = now
	m.users[userID] = u

	if discountCode != nil {
		if dc, ok := m.discounts[*discountCode]; ok {
			if dc.MaxUses == nil || dc.UsesCount < *dc.MaxUses {
				dc.UsesCount++
				m.discounts[*discountCode] = dc
			}
			// Exhausted between invoice and settlement: sale proceeds anyway,
			// matching the permissive post-payment policy.
		}
	}

	delete(m.reservations, userID)
	return nil
}

func (m *MemoryStore) GetDiscountCode(_ context.Context, code string) (DiscountCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dc, ok := m.discounts[code]
	if !ok {
		return DiscountCode{}, ErrNotFound
	}
	return dc, nil
}

func (m *MemoryStore) GetResellerDiscount(_ context.Context, resellerUserID, productType string) (ResellerDiscount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rd, ok := m.resellers[resellerKey(resellerUserID, productType)]
	if !ok {
		return ResellerDiscount{}, false, nil
	}
	return rd, true, nil
}

// SetDiscountCode creates or replaces a coupon definition.
func (m *MemoryStore) SetDiscountCode(_ context.Context, code DiscountCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.discounts[code.Code] = code
	return nil
}

// SetResellerDiscount creates or replaces a reseller's per-product-type rate.
func (m *MemoryStore) SetResellerDiscount(_ context.Context, discount ResellerDiscount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resellers[resellerKey(discount.ResellerUserID, discount.ProductType)] = discount
	return nil
}

// DeleteResellerDiscount removes a reseller's rate for one product type.
func (m *MemoryStore) DeleteResellerDiscount(_ context.Context, resellerUserID, productType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.resellers, resellerKey(resellerUserID, productType))
	return nil
}

// SetUserReseller flips the reseller flag on a user, creating the user row
// with a zero balance if it does not exist yet.
func (m *MemoryStore) SetUserReseller(_ context.Context, userID string, reseller bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		u = User{ID: userID}
	}
	u.Reseller = reseller
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) CreatePendingDeposit(_ context.Context, deposit PendingDeposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deposits[deposit.PaymentID] = deposit
	return nil
}

func (m *MemoryStore) GetPendingDeposit(_ context.Context, paymentID string) (PendingDeposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[paymentID]
	if !ok {
		return PendingDeposit{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) DeletePendingDeposit(_ context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.deposits, paymentID)
	return nil
}

func (m *MemoryStore) ListPendingDeposits(_ context.Context) ([]PendingDeposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PendingDeposit, 0, len(m.deposits))
	for _, d := range m.deposits {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryStore) ListExpiredPendingDeposits(_ context.Context, olderThan time.Time) ([]PendingDeposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PendingDeposit
	for _, d := range m.deposits {
		if d.CreatedAt.Before(olderThan) {
			out = append(out, d)
		}
	}
	return out, nil
}

// CreateWalletIfNotExists is idempotent on OrderID: a second mint for the
// same order returns the existing wallet unchanged.
func (m *MemoryStore) CreateWalletIfNotExists(_ context.Context, wallet EphemeralWallet) (EphemeralWallet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.walletsByOrd[wallet.OrderID]; ok {
		return m.wallets[existingID], false, nil
	}

	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	now := time.Now()
	wallet.CreatedAt = now
	wallet.UpdatedAt = now
	m.wallets[wallet.ID] = wallet
	m.walletsByOrd[wallet.OrderID] = wallet.ID
	return wallet, true, nil
}

func (m *MemoryStore) GetWalletByOrderID(_ context.Context, orderID string) (EphemeralWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.walletsByOrd[orderID]
	if !ok {
		return EphemeralWallet{}, ErrNotFound
	}
	return m.wallets[id], nil
}

func (m *MemoryStore) GetWallet(_ context.Context, id string) (EphemeralWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok {
		return EphemeralWallet{}, ErrNotFound
	}
	return w, nil
}

func (m *MemoryStore) ListWalletsByStatus(_ context.Context, status WalletStatus) ([]EphemeralWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []EphemeralWallet
	for _, w := range m.wallets {
		if w.Status == status {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListAllWallets(_ context.Context) ([]EphemeralWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]EphemeralWallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		out = append(out, w)
	}
	return out, nil
}

func (m *MemoryStore) UpdateWalletStatus(_ context.Context, id string, status WalletStatus, amountReceived *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	w.Status = status
	if amountReceived != nil {
		w.AmountReceived = amountReceived
	}
	w.UpdatedAt = time.Now()
	m.wallets[id] = w
	return nil
}

// CreditBalance adds amountCents to the user's balance and writes a
// matching audit entry. Amount must be positive.
func (m *MemoryStore) CreditBalance(_ context.Context, userID string, amountCents int64, reason string) (int64, error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("store: credit amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	old := u.BalanceEURCents
	u.BalanceEURCents += amountCents
	u.UpdatedAt = time.Now()
	m.users[userID] = u

	oldStr := fmt.Sprintf("%d", old)
	newStr := fmt.Sprintf("%d", u.BalanceEURCents)
	m.audit = append(m.audit, AuditEntry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		ActorID:      "system",
		Action:       "credit",
		TargetUserID: &userID,
		Reason:       &reason,
		AmountChange: &amountCents,
		OldValue:     &oldStr,
		NewValue:     &newStr,
		Severity:     "info",
	})
	return u.BalanceEURCents, nil
}

// DebitBalance subtracts amountCents from the user's balance, refusing if
// insufficient, and writes a matching audit entry.
func (m *MemoryStore) DebitBalance(_ context.Context, userID string, amountCents int64, reason string) (int64, error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("store: debit amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if u.BalanceEURCents < amountCents {
		return 0, ErrInsufficientBalance
	}
	old := u.BalanceEURCents
	u.BalanceEURCents -= amountCents
	u.UpdatedAt = time.Now()
	m.users[userID] = u

	negAmount := -amountCents
	oldStr := fmt.Sprintf("%d", old)
	newStr := fmt.Sprintf("%d", u.BalanceEURCents)
	m.audit = append(m.audit, AuditEntry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		ActorID:      "system",
		Action:       "debit",
		TargetUserID: &userID,
		Reason:       &reason,
		AmountChange: &negAmount,
		OldValue:     &oldStr,
		NewValue:     &newStr,
		Severity:     "info",
	})
	return u.BalanceEURCents, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryStore) GetSetting(_ context.Context, key string) (Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[key]
	if !ok {
		return Setting{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}
