package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cedros-basket/checkout/internal/config"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const defaultQueryTimeout = 5 * time.Second

func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// PostgresStore implements Store using PostgreSQL with immediate-acquiring
// write transactions for every multi-row mutation.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore opens a new connection pool and returns a PostgresStore.
func NewPostgresStore(connectionString string, poolCfg config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolCfg)
	return &PostgresStore{db: db, ownsDB: true}, nil
}

// NewPostgresStoreWithDB wraps an existing shared connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	return &PostgresStore{db: db, ownsDB: false}, nil
}

func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, userID, locale string) (User, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, locale, balance_eur_cents, reseller, banned, total_purchases, created_at, updated_at)
		VALUES ($1, $2, 0, false, false, 0, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`, userID, locale)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUser(ctx, userID)
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, locale, balance_eur_cents, reseller, banned, total_purchases, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Locale, &u.BalanceEURCents, &u.Reseller, &u.Banned, &u.TotalPurchases, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SetUserBanned(ctx context.Context, userID string, banned bool) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET banned = $1, updated_at = NOW() WHERE id = $2`, banned, userID)
	if err != nil {
		return fmt.Errorf("set user banned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (Product, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, city, district, type, size, name, price_eur_cents, available, reserved, pickup_text, media_refs
		FROM products WHERE id = $1
	`, productID))
}

func scanProduct(row *sql.Row) (Product, error) {
	var p Product
	var mediaJSON []byte
	err := row.Scan(&p.ID, &p.City, &p.District, &p.Type, &p.Size, &p.Name, &p.PriceEURCents, &p.Available, &p.Reserved, &p.PickupText, &mediaJSON)
	if err == sql.ErrNoRows {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("scan product: %w", err)
	}
	if len(mediaJSON) > 0 {
		_ = json.Unmarshal(mediaJSON, &p.MediaRefs)
	}
	return p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, product Product) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	mediaJSON, err := json.Marshal(product.MediaRefs)
	if err != nil {
		return fmt.Errorf("marshal media refs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, city, district, type, size, name, price_eur_cents, available, reserved, pickup_text, media_refs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			city = EXCLUDED.city, district = EXCLUDED.district, type = EXCLUDED.type,
			size = EXCLUDED.size, name = EXCLUDED.name, price_eur_cents = EXCLUDED.price_eur_cents,
			available = EXCLUDED.available, reserved = EXCLUDED.reserved,
			pickup_text = EXCLUDED.pickup_text, media_refs = EXCLUDED.media_refs
	`, product.ID, product.City, product.District, product.Type, product.Size, product.Name,
		product.PriceEURCents, product.Available, product.Reserved, product.PickupText, mediaJSON)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *PostgresStore) HardDeleteProducts(ctx context.Context, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ANY($1)`, pqStringArray(productIDs))
	if err != nil {
		return fmt.Errorf("hard delete products: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAvailableProducts(ctx context.Context, city, district, productType string) ([]Product, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, city, district, type, size, name, price_eur_cents, available, reserved, pickup_text, media_refs
		FROM products
		WHERE available > 0
			AND ($1 = '' OR city = $1)
			AND ($2 = '' OR district = $2)
			AND ($3 = '' OR type = $3)
	`, city, district, productType)
	if err != nil {
		return nil, fmt.Errorf("list available products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var mediaJSON []byte
		if err := rows.Scan(&p.ID, &p.City, &p.District, &p.Type, &p.Size, &p.Name, &p.PriceEURCents, &p.Available, &p.Reserved, &p.PickupText, &mediaJSON); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		if len(mediaJSON) > 0 {
			_ = json.Unmarshal(mediaJSON, &p.MediaRefs)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReserveProduct decrements available and increments reserved in one
// transaction, guarding against concurrent reservation racing it below zero.
func (s *PostgresStore) ReserveProduct(ctx context.Context, userID, productID string) (BasketReservation, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BasketReservation{}, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	var productType string
	var priceCents int64
	var available int64
	err = tx.QueryRowContext(ctx, `
		SELECT type, price_eur_cents, available FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&productType, &priceCents, &available)
	if err == sql.ErrNoRows {
		return BasketReservation{}, ErrNotFound
	}
	if err != nil {
		return BasketReservation{}, fmt.Errorf("lock product: %w", err)
	}
	if available <= 0 {
		return BasketReservation{}, ErrOutOfStock
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET available = available - 1, reserved = reserved + 1 WHERE id = $1
	`, productID); err != nil {
		return BasketReservation{}, fmt.Errorf("decrement available: %w", err)
	}

	reservedAt := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO basket_reservations (user_id, product_id, product_type, snapshot_price_cents, reserved_at)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, productID, productType, priceCents, reservedAt); err != nil {
		return BasketReservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return BasketReservation{}, fmt.Errorf("commit reserve tx: %w", err)
	}

	return BasketReservation{
		UserID:             userID,
		ProductID:          productID,
		ProductType:        productType,
		SnapshotPriceCents: priceCents,
		ReservedAt:         reservedAt,
	}, nil
}

func (s *PostgresStore) GetUserBasket(ctx context.Context, userID string) ([]BasketReservation, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, product_id, product_type, snapshot_price_cents, reserved_at
		FROM basket_reservations WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("get user basket: %w", err)
	}
	defer rows.Close()

	var out []BasketReservation
	for rows.Next() {
		var r BasketReservation
		if err := rows.Scan(&r.UserID, &r.ProductID, &r.ProductType, &r.SnapshotPriceCents, &r.ReservedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UnreserveSnapshot(ctx context.Context, snapshot BasketSnapshot) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unreserve tx: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range snapshot.Entries {
		// No-op if the product row was deleted in the meantime.
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET available = available + 1, reserved = GREATEST(reserved - 1, 0)
			WHERE id = $1
		`, entry.ProductID); err != nil {
			return fmt.Errorf("unreserve product %s: %w", entry.ProductID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ExpireReservations(ctx context.Context, olderThan time.Time) ([]ExpiredReservation, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expire tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, product_id, product_type, snapshot_price_cents
		FROM basket_reservations WHERE reserved_at < $1
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("select expired reservations: %w", err)
	}

	grouped := make(map[string][]BasketSnapshotEntry)
	var productIDs []string
	for rows.Next() {
		var userID string
		var entry BasketSnapshotEntry
		if err := rows.Scan(&userID, &entry.ProductID, &entry.ProductType, &entry.PricePaidCents); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired reservation: %w", err)
		}
		grouped[userID] = append(grouped[userID], entry)
		productIDs = append(productIDs, entry.ProductID)
	}
	rows.Close()

	if len(productIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET available = available + 1, reserved = GREATEST(reserved - 1, 0)
			WHERE id = ANY($1)
		`, pqStringArray(productIDs)); err != nil {
			return nil, fmt.Errorf("release expired products: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM basket_reservations WHERE reserved_at < $1`, olderThan); err != nil {
		return nil, fmt.Errorf("delete expired reservations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expire tx: %w", err)
	}

	var out []ExpiredReservation
	for userID, entries := range grouped {
		out = append(out, ExpiredReservation{UserID: userID, Entries: entries})
	}
	return out, nil
}

// FinalizePurchase runs the full purchase commit inside one transaction:
// re-check stock, consume reservations, record purchases, bump the user's
// total, conditionally spend the coupon, clear the basket.
func (s *PostgresStore) FinalizePurchase(ctx context.Context, userID string, snapshot BasketSnapshot, discountCode *string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range snapshot.Entries {
		var name, size, city, district string
		err := tx.QueryRowContext(ctx, `
			SELECT name, size, city, district FROM products WHERE id = $1 FOR UPDATE
		`, entry.ProductID).Scan(&name, &size, &city, &district)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: product %s missing", ErrStockVanished, entry.ProductID)
		}
		if err != nil {
			return fmt.Errorf("lock product %s: %w", entry.ProductID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET reserved = GREATEST(reserved - 1, 0) WHERE id = $1
		`, entry.ProductID); err != nil {
			return fmt.Errorf("decrement reserved for %s: %w", entry.ProductID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchases (user_id, product_id, name, type, size, price_paid_cents, city, district, purchase_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		`, userID, entry.ProductID, name, entry.ProductType, size, entry.PricePaidCents, city, district); err != nil {
			return fmt.Errorf("insert purchase for %s: %w", entry.ProductID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET total_purchases = total_purchases + $1, updated_at = NOW() WHERE id = $2
	`, len(snapshot.Entries), userID); err != nil {
		return fmt.Errorf("bump total purchases: %w", err)
	}

	if discountCode != nil {
		// Conditional increment: zero rows affected means the coupon was
		// exhausted between invoice and settlement. The sale still stands.
		if _, err := tx.ExecContext(ctx, `
			UPDATE discount_codes SET uses_count = uses_count + 1
			WHERE code = $1 AND (max_uses IS NULL OR uses_count < max_uses)
		`, *discountCode); err != nil {
			return fmt.Errorf("increment coupon usage: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM basket_reservations WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear basket: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) GetDiscountCode(ctx context.Context, code string) (DiscountCode, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var dc DiscountCode
	var maxUses sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT code, kind, value, max_uses, uses_count, active FROM discount_codes WHERE code = $1
	`, code).Scan(&dc.Code, &dc.Kind, &dc.Value, &maxUses, &dc.UsesCount, &dc.Active)
	if err == sql.ErrNoRows {
		return DiscountCode{}, ErrNotFound
	}
	if err != nil {
		return DiscountCode{}, fmt.Errorf("get discount code: %w", err)
	}
	if maxUses.Valid {
		dc.MaxUses = &maxUses.Int64
	}
	return dc, nil
}

func (s *PostgresStore) GetResellerDiscount(ctx context.Context, resellerUserID, productType string) (ResellerDiscount, bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var rd ResellerDiscount
	err := s.db.QueryRowContext(ctx, `
		SELECT reseller_user_id, product_type, percent FROM reseller_discounts
		WHERE reseller_user_id = $1 AND product_type = $2
	`, resellerUserID, productType).Scan(&rd.ResellerUserID, &rd.ProductType, &rd.Percent)
	if err == sql.ErrNoRows {
		return ResellerDiscount{}, false, nil
	}
	if err != nil {
		return ResellerDiscount{}, false, fmt.Errorf("get reseller discount: %w", err)
	}
	return rd, true, nil
}

func (s *PostgresStore) SetDiscountCode(ctx context.Context, code DiscountCode) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discount_codes (code, kind, value, max_uses, uses_count, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET kind = $2, value = $3, max_uses = $4, uses_count = $5, active = $6
	`, code.Code, code.Kind, code.Value, code.MaxUses, code.UsesCount, code.Active)
	if err != nil {
		return fmt.Errorf("set discount code: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetResellerDiscount(ctx context.Context, discount ResellerDiscount) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reseller_discounts (reseller_user_id, product_type, percent)
		VALUES ($1, $2, $3)
		ON CONFLICT (reseller_user_id, product_type) DO UPDATE SET percent = $3
	`, discount.ResellerUserID, discount.ProductType, discount.Percent)
	if err != nil {
		return fmt.Errorf("set reseller discount: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteResellerDiscount(ctx context.Context, resellerUserID, productType string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM reseller_discounts WHERE reseller_user_id = $1 AND product_type = $2
	`, resellerUserID, productType)
	if err != nil {
		return fmt.Errorf("delete reseller discount: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetUserReseller(ctx context.Context, userID string, reseller bool) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET reseller = $1, updated_at = NOW() WHERE id = $2`, reseller, userID)
	if err != nil {
		return fmt.Errorf("set user reseller: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePendingDeposit(ctx context.Context, deposit PendingDeposit) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_deposits (payment_id, user_id, currency, target_eur_cents, expected_lamports, is_purchase, basket_snapshot_json, discount_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, deposit.PaymentID, deposit.UserID, deposit.Currency, deposit.TargetEURCents, deposit.ExpectedLamports,
		deposit.IsPurchase, deposit.BasketSnapshotJSON, deposit.DiscountCode, deposit.CreatedAt)
	if err != nil {
		return fmt.Errorf("create pending deposit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPendingDeposit(ctx context.Context, paymentID string) (PendingDeposit, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var d PendingDeposit
	err := s.db.QueryRowContext(ctx, `
		SELECT payment_id, user_id, currency, target_eur_cents, expected_lamports, is_purchase, basket_snapshot_json, discount_code, created_at
		FROM pending_deposits WHERE payment_id = $1
	`, paymentID).Scan(&d.PaymentID, &d.UserID, &d.Currency, &d.TargetEURCents, &d.ExpectedLamports,
		&d.IsPurchase, &d.BasketSnapshotJSON, &d.DiscountCode, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return PendingDeposit{}, ErrNotFound
	}
	if err != nil {
		return PendingDeposit{}, fmt.Errorf("get pending deposit: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) DeletePendingDeposit(ctx context.Context, paymentID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_deposits WHERE payment_id = $1`, paymentID)
	if err != nil {
		return fmt.Errorf("delete pending deposit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPendingDeposits(ctx context.Context) ([]PendingDeposit, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_id, user_id, currency, target_eur_cents, expected_lamports, is_purchase, basket_snapshot_json, discount_code, created_at
		FROM pending_deposits
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}
	defer rows.Close()
	return scanPendingDeposits(rows)
}

func (s *PostgresStore) ListExpiredPendingDeposits(ctx context.Context, olderThan time.Time) ([]PendingDeposit, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_id, user_id, currency, target_eur_cents, expected_lamports, is_purchase, basket_snapshot_json, discount_code, created_at
		FROM pending_deposits WHERE created_at < $1
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list expired pending deposits: %w", err)
	}
	defer rows.Close()
	return scanPendingDeposits(rows)
}

func scanPendingDeposits(rows *sql.Rows) ([]PendingDeposit, error) {
	var out []PendingDeposit
	for rows.Next() {
		var d PendingDeposit
		if err := rows.Scan(&d.PaymentID, &d.UserID, &d.Currency, &d.TargetEURCents, &d.ExpectedLamports,
			&d.IsPurchase, &d.BasketSnapshotJSON, &d.DiscountCode, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending deposit: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateWalletIfNotExists(ctx context.Context, wallet EphemeralWallet) (EphemeralWallet, bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ephemeral_wallets (id, user_id, order_id, public_key, private_key_material, expected_lamports, status, amount_received, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (order_id) DO NOTHING
	`, wallet.ID, wallet.UserID, wallet.OrderID, wallet.PublicKey, wallet.PrivateKeyMaterial,
		wallet.ExpectedLamports, wallet.Status, wallet.AmountReceived)
	if err != nil {
		return EphemeralWallet{}, false, fmt.Errorf("insert wallet: %w", err)
	}

	existing, err := s.GetWalletByOrderID(ctx, wallet.OrderID)
	if err != nil {
		return EphemeralWallet{}, false, err
	}
	n, _ := res.RowsAffected()
	return existing, n > 0, nil
}

func (s *PostgresStore) GetWalletByOrderID(ctx context.Context, orderID string) (EphemeralWallet, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return scanWallet(s.db.QueryRowContext(ctx, walletSelectQuery+`WHERE order_id = $1`, orderID))
}

func (s *PostgresStore) GetWallet(ctx context.Context, id string) (EphemeralWallet, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return scanWallet(s.db.QueryRowContext(ctx, walletSelectQuery+`WHERE id = $1`, id))
}

const walletSelectQuery = `
	SELECT id, user_id, order_id, public_key, private_key_material, expected_lamports, status, amount_received, created_at, updated_at
	FROM ephemeral_wallets
`

func scanWallet(row *sql.Row) (EphemeralWallet, error) {
	var w EphemeralWallet
	var amountReceived sql.NullInt64
	err := row.Scan(&w.ID, &w.UserID, &w.OrderID, &w.PublicKey, &w.PrivateKeyMaterial, &w.ExpectedLamports,
		&w.Status, &amountReceived, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return EphemeralWallet{}, ErrNotFound
	}
	if err != nil {
		return EphemeralWallet{}, fmt.Errorf("scan wallet: %w", err)
	}
	if amountReceived.Valid {
		w.AmountReceived = &amountReceived.Int64
	}
	return w, nil
}

func (s *PostgresStore) ListWalletsByStatus(ctx context.Context, status WalletStatus) ([]EphemeralWallet, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, walletSelectQuery+`WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("list wallets by status: %w", err)
	}
	defer rows.Close()
	return scanWallets(rows)
}

func (s *PostgresStore) ListAllWallets(ctx context.Context) ([]EphemeralWallet, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, walletSelectQuery)
	if err != nil {
		return nil, fmt.Errorf("list all wallets: %w", err)
	}
	defer rows.Close()
	return scanWallets(rows)
}

func scanWallets(rows *sql.Rows) ([]EphemeralWallet, error) {
	var out []EphemeralWallet
	for rows.Next() {
		var w EphemeralWallet
		var amountReceived sql.NullInt64
		if err := rows.Scan(&w.ID, &w.UserID, &w.OrderID, &w.PublicKey, &w.PrivateKeyMaterial, &w.ExpectedLamports,
			&w.Status, &amountReceived, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		if amountReceived.Valid {
			w.AmountReceived = &amountReceived.Int64
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateWalletStatus(ctx context.Context, id string, status WalletStatus, amountReceived *int64) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE ephemeral_wallets SET status = $1, amount_received = COALESCE($2, amount_received), updated_at = NOW()
		WHERE id = $3
	`, status, amountReceived, id)
	if err != nil {
		return fmt.Errorf("update wallet status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreditBalance(ctx context.Context, userID string, amountCents int64, reason string) (int64, error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("store: credit amount must be positive")
	}
	return s.mutateBalance(ctx, userID, amountCents, reason, "credit")
}

func (s *PostgresStore) DebitBalance(ctx context.Context, userID string, amountCents int64, reason string) (int64, error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("store: debit amount must be positive")
	}
	return s.mutateBalance(ctx, userID, -amountCents, reason, "debit")
}

// mutateBalance runs a read-modify-write balance update plus its audit
// entry in one transaction. delta may be negative (debit).
func (s *PostgresStore) mutateBalance(ctx context.Context, userID string, delta int64, reason, action string) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin balance tx: %w", err)
	}
	defer tx.Rollback()

	var old int64
	if err := tx.QueryRowContext(ctx, `SELECT balance_eur_cents FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&old); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("lock user balance: %w", err)
	}

	newBalance := old + delta
	if newBalance < 0 {
		return 0, ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance_eur_cents = $1, updated_at = NOW() WHERE id = $2
	`, newBalance, userID); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, ts, actor_id, action, target_user_id, reason, amount_change, old_value, new_value, severity)
		VALUES ($1, NOW(), 'system', $2, $3, $4, $5, $6, $7, 'info')
	`, uuid.NewString(), action, userID, reason, delta, fmt.Sprintf("%d", old), fmt.Sprintf("%d", newBalance)); err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit balance tx: %w", err)
	}
	return newBalance, nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Severity == "" {
		entry.Severity = "info"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, ts, actor_id, action, target_user_id, reason, amount_change, old_value, new_value, severity)
		VALUES ($1, NOW(), $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.ActorID, entry.Action, entry.TargetUserID, entry.Reason, entry.AmountChange, entry.OldValue, entry.NewValue, entry.Severity)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (Setting, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var st Setting
	err := s.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM settings WHERE key = $1`, key).Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return Setting{}, ErrNotFound
	}
	if err != nil {
		return Setting{}, fmt.Errorf("get setting: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func pqStringArray(ss []string) interface{} {
	return stringArray(ss)
}

// stringArray adapts a []string to the lib/pq array literal format without
// importing pq's generic Array helper in every call site.
type stringArray []string

func (a stringArray) Value() (interface{}, error) {
	return "{" + joinQuoted(a) + "}", nil
}

func joinQuoted(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out
}
