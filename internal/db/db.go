package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/equityx/exchange/internal/models"
)

// DB wraps a PostgreSQL connection pool. It is the system of record; the
// engines run in memory and every successful mutation is written through.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, admin, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Admin, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, admin, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Admin, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// IsAdmin reports whether a user holds the platform-admin role. Satisfies
// the issuance engine's Roles collaborator.
func (db *DB) IsAdmin(userID int) bool {
	var admin bool
	err := db.Pool.QueryRow(context.Background(),
		"SELECT admin FROM users WHERE id = $1", userID).Scan(&admin)
	return err == nil && admin
}

// UpsertProject writes a project record
func (db *DB) UpsertProject(ctx context.Context, p *models.Project) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, symbol, founder_id, currency, currency_decimals,
			total_shares, available_shares, shares_sold, price_per_share, available_funds,
			verified, market_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			available_shares = EXCLUDED.available_shares,
			shares_sold = EXCLUDED.shares_sold,
			available_funds = EXCLUDED.available_funds,
			verified = EXCLUDED.verified,
			market_enabled = EXCLUDED.market_enabled`,
		p.ID, p.Name, p.Symbol, p.FounderID, p.Currency, p.CurrencyDecimals,
		p.TotalShares.String(), p.AvailableShares.String(), p.SharesSold.String(),
		p.PricePerShare.String(), p.AvailableFunds.String(), p.Verified, p.MarketEnabled, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

// GetProjects retrieves all project records
func (db *DB) GetProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, symbol, founder_id, currency, currency_decimals,
			total_shares::text, available_shares::text, shares_sold::text,
			price_per_share::text, available_funds::text, verified, market_enabled, created_at
		FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("failed to get projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		var total, avail, sold, price, funds string
		if err := rows.Scan(&p.ID, &p.Name, &p.Symbol, &p.FounderID, &p.Currency, &p.CurrencyDecimals,
			&total, &avail, &sold, &price, &funds, &p.Verified, &p.MarketEnabled, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		if p.TotalShares, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("failed to parse total shares: %w", err)
		}
		if p.AvailableShares, err = decimal.NewFromString(avail); err != nil {
			return nil, fmt.Errorf("failed to parse available shares: %w", err)
		}
		if p.SharesSold, err = decimal.NewFromString(sold); err != nil {
			return nil, fmt.Errorf("failed to parse shares sold: %w", err)
		}
		if p.PricePerShare, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse price per share: %w", err)
		}
		if p.AvailableFunds, err = decimal.NewFromString(funds); err != nil {
			return nil, fmt.Errorf("failed to parse available funds: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpsertOrder writes an order record
func (db *DB) UpsertOrder(ctx context.Context, o *models.Order) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO orders (id, project_id, user_id, side, shares, shares_remaining,
			price, expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			shares_remaining = EXCLUDED.shares_remaining,
			status = EXCLUDED.status`,
		o.ID, o.ProjectID, o.UserID, o.Side, o.Shares.String(), o.SharesRemaining.String(),
		o.Price.String(), o.ExpiresAt, o.Status, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// GetOpenOrders retrieves all open orders, oldest first, so the books can be
// rebuilt on startup with the original time priority.
func (db *DB) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, project_id, user_id, side, shares::text, shares_remaining::text,
			price::text, expires_at, status, created_at
		FROM orders
		WHERE status IN ($1, $2)
		ORDER BY id ASC`,
		models.OrderStatusActive, models.OrderStatusPartiallyFilled)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetUserOrders retrieves all orders for a user
func (db *DB) GetUserOrders(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, project_id, user_id, side, shares::text, shares_remaining::text,
			price::text, expires_at, status, created_at
		FROM orders WHERE user_id = $1 ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(rows pgx.Rows) (models.Order, error) {
	var o models.Order
	var shares, remaining, price string
	if err := rows.Scan(&o.ID, &o.ProjectID, &o.UserID, &o.Side, &shares, &remaining,
		&price, &o.ExpiresAt, &o.Status, &o.CreatedAt); err != nil {
		return o, fmt.Errorf("failed to scan order: %w", err)
	}
	var err error
	if o.Shares, err = decimal.NewFromString(shares); err != nil {
		return o, fmt.Errorf("failed to parse shares: %w", err)
	}
	if o.SharesRemaining, err = decimal.NewFromString(remaining); err != nil {
		return o, fmt.Errorf("failed to parse shares remaining: %w", err)
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return o, fmt.Errorf("failed to parse price: %w", err)
	}
	return o, nil
}

// CreateTrade inserts a new trade record
func (db *DB) CreateTrade(ctx context.Context, t *models.Trade) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO trades (id, project_id, buy_order_id, sell_order_id, buyer_id, seller_id,
			shares, price, fee, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.ProjectID, t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID,
		t.Shares.String(), t.Price.String(), t.Fee.String(), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// GetTrades retrieves all trades in execution order, for replaying derived
// statistics on startup.
func (db *DB) GetTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, project_id, buy_order_id, sell_order_id, buyer_id, seller_id,
			shares::text, price::text, fee::text, executed_at
		FROM trades ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var shares, price, fee string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID,
			&shares, &price, &fee, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.Shares, err = decimal.NewFromString(shares); err != nil {
			return nil, fmt.Errorf("failed to parse trade shares: %w", err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse trade price: %w", err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("failed to parse trade fee: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// UpsertCurrencyBalance writes one currency ledger balance
func (db *DB) UpsertCurrencyBalance(ctx context.Context, account string, amount decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO currency_balances (account, amount) VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount`,
		account, amount.String())
	if err != nil {
		return fmt.Errorf("failed to upsert currency balance: %w", err)
	}
	return nil
}

// GetCurrencyBalances retrieves the full currency ledger
func (db *DB) GetCurrencyBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := db.Pool.Query(ctx, "SELECT account, amount::text FROM currency_balances")
	if err != nil {
		return nil, fmt.Errorf("failed to get currency balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var account, amount string
		if err := rows.Scan(&account, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan currency balance: %w", err)
		}
		if out[account], err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse currency balance: %w", err)
		}
	}
	return out, rows.Err()
}

// UpsertShareBalance writes one equity ledger holding
func (db *DB) UpsertShareBalance(ctx context.Context, projectID uuid.UUID, account string, amount decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO share_balances (project_id, account, amount) VALUES ($1, $2, $3)
		ON CONFLICT (project_id, account) DO UPDATE SET amount = EXCLUDED.amount`,
		projectID, account, amount.String())
	if err != nil {
		return fmt.Errorf("failed to upsert share balance: %w", err)
	}
	return nil
}

// GetShareBalances retrieves the full equity ledger as project -> account -> amount
func (db *DB) GetShareBalances(ctx context.Context) (map[uuid.UUID]map[string]decimal.Decimal, error) {
	rows, err := db.Pool.Query(ctx, "SELECT project_id, account, amount::text FROM share_balances")
	if err != nil {
		return nil, fmt.Errorf("failed to get share balances: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]map[string]decimal.Decimal)
	for rows.Next() {
		var projectID uuid.UUID
		var account, amount string
		if err := rows.Scan(&projectID, &account, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan share balance: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse share balance: %w", err)
		}
		if out[projectID] == nil {
			out[projectID] = make(map[string]decimal.Decimal)
		}
		out[projectID][account] = d
	}
	return out, rows.Err()
}

// MaxSequence returns the highest id issued to an order or trade, used to
// reset the sequencer after a restart.
func (db *DB) MaxSequence(ctx context.Context) (int64, error) {
	var max int64
	err := db.Pool.QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(id) FROM orders), 0),
			COALESCE((SELECT MAX(id) FROM trades), 0))`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max sequence: %w", err)
	}
	return max, nil
}
