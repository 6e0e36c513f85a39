package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equityx/exchange/internal/auth"
	"github.com/equityx/exchange/internal/issuance"
	"github.com/equityx/exchange/internal/ledger"
	"github.com/equityx/exchange/internal/market"
	"github.com/equityx/exchange/internal/models"
)

type testServer struct {
	router *chi.Mux
	users  *auth.MemUserStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	users := auth.NewMemUserStore()
	store := ledger.NewStore()
	currency := ledger.NewMemCurrencyLedger()
	equity := ledger.NewMemEquityLedger()
	seq := ledger.NewSequencer(0)

	iss := issuance.NewEngine(store, currency, equity, ledger.DefaultRegistry(), users, issuance.Config{IssuanceFeeBps: 100})
	mkt := market.NewEngine(store, currency, equity, seq, market.Config{TradingFeeBps: 100})
	authService := auth.NewAuthService(users, "test-secret")
	handler := NewHandler(nil, iss, mkt, authService, currency, equity, nil)

	r := chi.NewRouter()
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/projects", handler.CreateProject)
		r.Get("/projects/{id}", handler.GetProject)
		r.Post("/projects/{id}/buy", handler.BuyShares)
		r.Post("/projects/{id}/withdraw", handler.WithdrawFunds)
		r.Post("/projects/{id}/market", handler.EnableMarket)
		r.Post("/projects/{id}/verify", handler.VerifyProject)
		r.Post("/projects/{id}/match", handler.MatchOrders)
		r.Get("/projects/{id}/book", handler.GetOrderBook)
		r.Get("/projects/{id}/trades", handler.GetTrades)
		r.Get("/projects/{id}/stats", handler.GetMarketStats)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Post("/admin/mint", handler.MintCurrency)
	})

	return &testServer{router: r, users: users}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// register creates a user and returns its id and a login token.
func (ts *testServer) register(t *testing.T, username string) (int, string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username, "password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	return created.ID, ts.login(t, username)
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username, "password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	return login.Token
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	_, token := ts.register(t, "alice")

	// Wrong password rejected.
	w := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Protected routes demand a token.
	w = ts.do(t, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = ts.do(t, http.MethodGet, "/orders", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIssuanceAndTradingFlow(t *testing.T) {
	ts := newTestServer(t)

	founderID, founderToken := ts.register(t, "founder")
	buyerID, buyerToken := ts.register(t, "buyer")
	adminID, _ := ts.register(t, "admin")
	ts.users.SetAdmin(adminID, true)
	// The admin claim is baked into the token at login, so log in again
	// after the promotion.
	adminToken := ts.login(t, "admin")
	_ = founderID

	// Admin funds the buyer.
	w := ts.do(t, http.MethodPost, "/admin/mint", adminToken, map[string]interface{}{
		"user_id": buyerID, "amount": "50000",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Non-admin cannot mint.
	w = ts.do(t, http.MethodPost, "/admin/mint", buyerToken, map[string]interface{}{
		"user_id": buyerID, "amount": "50000",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Founder creates a project: valuation 2,000,000 over the fixed
	// 1,000,000-share supply gives price 2.
	w = ts.do(t, http.MethodPost, "/projects", founderToken, map[string]interface{}{
		"name": "Orbital Coffee", "symbol": "ORB", "currency": "USDC",
		"valuation": "2000000", "shares_to_sell": "100000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var project models.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))
	assert.True(t, project.PricePerShare.Equal(decimal.NewFromInt(2)))

	// Rejected currency.
	w = ts.do(t, http.MethodPost, "/projects", founderToken, map[string]interface{}{
		"name": "Bad", "symbol": "BAD", "currency": "BTC",
		"valuation": "2000000", "shares_to_sell": "100000",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Buyer takes 1,000 primary shares for 2,000.
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/buy", project.ID), buyerToken, map[string]interface{}{
		"amount": "1000",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Trading before the market is enabled is rejected.
	w = ts.do(t, http.MethodPost, "/orders", buyerToken, map[string]interface{}{
		"project_id": project.ID, "side": "sell", "shares": "100", "price": "2.50",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/market", project.ID), founderToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Buyer rests a sell, founder crosses it with funds from the admin.
	w = ts.do(t, http.MethodPost, "/orders", buyerToken, map[string]interface{}{
		"project_id": project.ID, "side": "sell", "shares": "100", "price": "2.50",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/admin/mint", adminToken, map[string]interface{}{
		"user_id": founderID, "amount": "1000",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/orders", founderToken, map[string]interface{}{
		"project_id": project.ID, "side": "buy", "shares": "100", "price": "2.50",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed struct {
		Order  models.Order   `json:"order"`
		Trades []models.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))
	require.Len(t, placed.Trades, 1)
	assert.Equal(t, models.OrderStatusFilled, placed.Order.Status)

	// History and stats reflect the trade.
	w = ts.do(t, http.MethodGet, fmt.Sprintf("/projects/%s/trades", project.ID), buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trades []models.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Shares.Equal(decimal.NewFromInt(100)))

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/projects/%s/stats", project.ID), buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.MarketStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TradeCount)
	assert.True(t, stats.LastPrice.Equal(decimal.RequireFromString("2.50")))

	// Founder withdraws primary proceeds.
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/withdraw", project.ID), founderToken, map[string]interface{}{
		"amount": "1500",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// After verification, founder withdrawal is refused but admin's works.
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/verify", project.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/withdraw", project.ID), founderToken, map[string]interface{}{
		"amount": "100",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/withdraw", project.ID), adminToken, map[string]interface{}{
		"amount": "100", "recipient": founderID,
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestOrderBookAndCancel(t *testing.T) {
	ts := newTestServer(t)

	founderID, founderToken := ts.register(t, "founder")
	adminID, _ := ts.register(t, "admin")
	traderID, traderToken := ts.register(t, "trader")
	ts.users.SetAdmin(adminID, true)
	adminToken := ts.login(t, "admin")
	_ = founderID

	w := ts.do(t, http.MethodPost, "/admin/mint", adminToken, map[string]interface{}{
		"user_id": traderID, "amount": "10000",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/projects", founderToken, map[string]interface{}{
		"name": "Orbital Coffee", "symbol": "ORB", "currency": "USDC",
		"valuation": "2000000", "shares_to_sell": "100000",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var project models.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/market", project.ID), founderToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Rest a buy, check depth, cancel it, check it is gone.
	w = ts.do(t, http.MethodPost, "/orders", traderToken, map[string]interface{}{
		"project_id": project.ID, "side": "buy", "shares": "100", "price": "1.50",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed struct {
		Order models.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/projects/%s/book?depth=5", project.ID), traderToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var book struct {
		Bids []models.PriceLevel `json:"bids"`
		Asks []models.PriceLevel `json:"asks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	require.Len(t, book.Bids, 1)
	assert.Empty(t, book.Asks)

	// Another user cannot cancel it.
	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/orders/%d", placed.Order.ID), founderToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/orders/%d", placed.Order.ID), traderToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/projects/%s/book", project.ID), traderToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	assert.Empty(t, book.Bids)

	// Unknown ids map to 404.
	w = ts.do(t, http.MethodGet, fmt.Sprintf("/projects/%s/book", uuid.New()), traderToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodDelete, "/orders/424242", traderToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
