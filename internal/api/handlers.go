package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/equityx/exchange/internal/auth"
	"github.com/equityx/exchange/internal/db"
	"github.com/equityx/exchange/internal/issuance"
	"github.com/equityx/exchange/internal/ledger"
	"github.com/equityx/exchange/internal/market"
	"github.com/equityx/exchange/internal/models"
)

type ctxKey string

const (
	ctxUserID ctxKey = "user_id"
	ctxAdmin  ctxKey = "admin"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Issuance    *issuance.Engine
	Market      *market.Engine
	AuthService *auth.AuthService
	Currency    *ledger.MemCurrencyLedger
	Equity      *ledger.MemEquityLedger
	Log         *zap.SugaredLogger
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, iss *issuance.Engine, mkt *market.Engine,
	authService *auth.AuthService, currency *ledger.MemCurrencyLedger,
	equity *ledger.MemEquityLedger, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		DB:          database,
		Issuance:    iss,
		Market:      mkt,
		AuthService: authService,
		Currency:    currency,
		Equity:      equity,
		Log:         log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
}

// errStatus maps engine errors onto HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, market.ErrProjectNotFound), errors.Is(err, market.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrUnauthorized), errors.Is(err, market.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, market.ErrInvalidParameter), errors.Is(err, market.ErrCurrencyNotAccepted):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrInsufficientFunds), errors.Is(err, market.ErrInsufficientSupply):
		return http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrMarketDisabled), errors.Is(err, market.ErrMarketAlreadyEnabled),
		errors.Is(err, market.ErrNotCancellable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to register user"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization header required"})
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, admin, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxAdmin, admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) (int, bool) {
	id, ok := r.Context().Value(ctxUserID).(int)
	return id, ok
}

func projectParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// CreateProject handles primary issuance setup
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		Name         string          `json:"name"`
		Symbol       string          `json:"symbol"`
		Currency     string          `json:"currency"`
		Valuation    decimal.Decimal `json:"valuation"`
		SharesToSell decimal.Decimal `json:"shares_to_sell"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	p, err := h.Issuance.CreateProject(userID, req.Name, req.Symbol, req.Currency, req.Valuation, req.SharesToSell)
	if err != nil {
		writeError(w, err)
		return
	}

	h.persistProject(r.Context(), p.ID)
	h.persistShareBalances(r.Context(), p.ID,
		models.PlatformAccount, models.ProjectAccount(p.ID), models.UserAccount(userID))
	writeJSON(w, http.StatusCreated, p)
}

// GetProject returns a project record
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}
	p, err := h.Market.GetProject(projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// BuyShares handles a primary-market purchase
func (h *Handler) BuyShares(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	cost, err := h.Issuance.BuyShares(userID, projectID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	h.persistProject(r.Context(), projectID)
	h.persistCurrencyBalances(r.Context(), models.UserAccount(userID), models.ProjectAccount(projectID))
	h.persistShareBalances(r.Context(), projectID, models.UserAccount(userID), models.ProjectAccount(projectID))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shares": req.Amount,
		"cost":   cost,
	})
}

// WithdrawFunds pays out a project's escrowed proceeds
func (h *Handler) WithdrawFunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}

	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		Recipient int             `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Recipient == 0 {
		req.Recipient = userID
	}

	if err := h.Issuance.WithdrawFunds(userID, projectID, req.Amount, req.Recipient); err != nil {
		writeError(w, err)
		return
	}

	h.persistProject(r.Context(), projectID)
	h.persistCurrencyBalances(r.Context(), models.ProjectAccount(projectID), models.UserAccount(req.Recipient))
	writeJSON(w, http.StatusOK, map[string]string{"message": "withdrawal complete"})
}

// EnableMarket opens secondary-market trading for a project
func (h *Handler) EnableMarket(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}

	if err := h.Issuance.EnableSecondaryMarket(userID, projectID); err != nil {
		writeError(w, err)
		return
	}
	h.persistProject(r.Context(), projectID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "secondary market enabled"})
}

// VerifyProject marks a project verified (admin only)
func (h *Handler) VerifyProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}

	if err := h.Issuance.VerifyProject(userID, projectID); err != nil {
		writeError(w, err)
		return
	}
	h.persistProject(r.Context(), projectID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "project verified"})
}

// PlaceOrder handles limit order placement and matching
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		ProjectID uuid.UUID       `json:"project_id"`
		Side      string          `json:"side"`
		Shares    decimal.Decimal `json:"shares"`
		Price     decimal.Decimal `json:"price"`
		ExpiresAt int64           `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, trades, released, err := h.Market.PlaceLimitOrder(userID, req.ProjectID, req.Side, req.Shares, req.Price, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}

	h.persistMatchResults(r.Context(), req.ProjectID, order.ID, trades, released)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order":  order,
		"trades": trades,
	})
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	order, err := h.Market.CancelOrder(userID, orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.persistOrder(r.Context(), order.ID)
	h.persistCurrencyBalances(r.Context(), models.EscrowAccount, models.UserAccount(userID))
	h.persistShareBalances(r.Context(), order.ProjectID, models.EscrowAccount, models.UserAccount(userID))
	writeJSON(w, http.StatusOK, map[string]string{"message": "order cancelled"})
}

// MatchOrders triggers the matching loop for a project. Idempotent.
func (h *Handler) MatchOrders(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}

	trades, released, err := h.Market.MatchOrders(projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.persistMatchResults(r.Context(), projectID, 0, trades, released)
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// GetUserOrders retrieves the caller's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, h.Market.GetUserOrders(userID))
}

// GetOrderBook retrieves aggregated depth for a project
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("depth"))

	bids, asks, err := h.Market.GetOrderBookDepth(projectID, n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bids": bids,
		"asks": asks,
	})
}

// GetTrades retrieves a project's trade history
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	trades, err := h.Market.GetTradingHistory(projectID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetMarketStats retrieves a project's derived market statistics
func (h *Handler) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return
	}
	stats, err := h.Market.GetMarketStats(projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// MintCurrency credits a user's purchase-currency balance (admin only).
// Deposits from external payment rails land through this endpoint.
func (h *Handler) MintCurrency(w http.ResponseWriter, r *http.Request) {
	admin, _ := r.Context().Value(ctxAdmin).(bool)
	if !admin {
		writeError(w, market.ErrUnauthorized)
		return
	}

	var req struct {
		UserID int             `json:"user_id"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.UserID <= 0 || !req.Amount.IsPositive() {
		writeError(w, market.ErrInvalidParameter)
		return
	}

	h.Currency.Mint(models.UserAccount(req.UserID), req.Amount)
	h.persistCurrencyBalances(r.Context(), models.UserAccount(req.UserID))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": models.UserAccount(req.UserID),
		"balance": h.Currency.Balance(models.UserAccount(req.UserID)),
	})
}

// --- write-through persistence -------------------------------------------
//
// The engines are authoritative in memory; the database is the system of
// record. Persistence failures are logged, not surfaced: the admitted
// operation has already happened.

func (h *Handler) persistProject(ctx context.Context, projectID uuid.UUID) {
	if h.DB == nil {
		return
	}
	p, err := h.Market.GetProject(projectID)
	if err != nil {
		return
	}
	if err := h.DB.UpsertProject(ctx, &p); err != nil {
		h.Log.Warnw("persist project", "project_id", projectID, "err", err)
	}
}

func (h *Handler) persistOrder(ctx context.Context, orderID int64) {
	if h.DB == nil || orderID == 0 {
		return
	}
	o, err := h.Market.GetOrder(orderID)
	if err != nil {
		return
	}
	if err := h.DB.UpsertOrder(ctx, &o); err != nil {
		h.Log.Warnw("persist order", "order_id", orderID, "err", err)
	}
}

func (h *Handler) persistCurrencyBalances(ctx context.Context, accounts ...string) {
	if h.DB == nil {
		return
	}
	for _, a := range accounts {
		if err := h.DB.UpsertCurrencyBalance(ctx, a, h.Currency.Balance(a)); err != nil {
			h.Log.Warnw("persist currency balance", "account", a, "err", err)
		}
	}
}

func (h *Handler) persistShareBalances(ctx context.Context, projectID uuid.UUID, accounts ...string) {
	if h.DB == nil {
		return
	}
	for _, a := range accounts {
		if err := h.DB.UpsertShareBalance(ctx, projectID, a, h.Equity.Balance(projectID, a)); err != nil {
			h.Log.Warnw("persist share balance", "account", a, "err", err)
		}
	}
}

// persistMatchResults writes everything a placement or match touched: the
// taker order, every trade with its maker orders, orders the loop cancelled
// as expired, and the balances of all parties involved.
func (h *Handler) persistMatchResults(ctx context.Context, projectID uuid.UUID, takerID int64, trades []models.Trade, released []int64) {
	if h.DB == nil {
		return
	}
	h.persistOrder(ctx, takerID)

	accounts := map[string]struct{}{
		models.EscrowAccount:   {},
		models.PlatformAccount: {},
	}
	for _, t := range trades {
		if err := h.DB.CreateTrade(ctx, &t); err != nil {
			h.Log.Warnw("persist trade", "trade_id", t.ID, "err", err)
		}
		h.persistOrder(ctx, t.BuyOrderID)
		h.persistOrder(ctx, t.SellOrderID)
		accounts[models.UserAccount(t.BuyerID)] = struct{}{}
		accounts[models.UserAccount(t.SellerID)] = struct{}{}
	}
	// Expired orders released during matching already refunded their escrow;
	// the cancelled status and the owner's balance must land together.
	for _, id := range released {
		h.persistOrder(ctx, id)
		if o, err := h.Market.GetOrder(id); err == nil {
			accounts[models.UserAccount(o.UserID)] = struct{}{}
		}
	}
	if takerID != 0 {
		if o, err := h.Market.GetOrder(takerID); err == nil {
			accounts[models.UserAccount(o.UserID)] = struct{}{}
		}
	}
	for a := range accounts {
		h.persistCurrencyBalances(ctx, a)
		h.persistShareBalances(ctx, projectID, a)
	}
}
