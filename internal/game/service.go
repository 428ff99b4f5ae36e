// Package game provides the HTTP handlers for running a trading game:
// player registration, market administration, order entry, and the admin
// lifecycle from setup to resolution.
//
// Monetary values use shopspring/decimal, never float64.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/exchange-engine/internal/config"
	"github.com/atmx/exchange-engine/internal/engine"
	"github.com/atmx/exchange-engine/internal/events"
	"github.com/atmx/exchange-engine/internal/ledger"
	"github.com/atmx/exchange-engine/internal/metrics"
	"github.com/atmx/exchange-engine/internal/model"
	"github.com/atmx/exchange-engine/internal/settlement"
	"github.com/atmx/exchange-engine/internal/store"
)

// PlayerHeader carries the caller's player id on every request.
const PlayerHeader = "X-Player-ID"

var (
	errUnauthorized = errors.New("game: missing " + PlayerHeader + " header")
	errForbidden    = errors.New("game: admin access required")
	errNoMarkets    = errors.New("game: create at least one market before starting the game")
)

// Service runs one game over an engine. The engine serializes trading;
// mu guards the game lifecycle so a reset never interleaves with an order
// and its journal entry.
type Service struct {
	engine    *engine.Engine
	store     store.Store
	publisher events.Publisher
	defaults  config.GameConfig

	mu           sync.RWMutex
	started      bool
	startingCash decimal.Decimal
}

// NewService creates a game service. Pass events.Nop{} if events are not
// needed.
func NewService(eng *engine.Engine, st store.Store, pub events.Publisher, cfg config.GameConfig) *Service {
	s := &Service{
		engine:       eng,
		store:        st,
		publisher:    pub,
		defaults:     cfg,
		startingCash: cfg.StartingCash,
	}
	s.refreshGauges()
	return s
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /api/v1/players.
type RegisterRequest struct {
	ID   string `json:"id"` // optional; generated when empty
	Name string `json:"name"`
	Role string `json:"role"` // "ADMIN" or "PLAYER"
}

// CreateMarketRequest is the JSON body for POST /api/v1/markets.
type CreateMarketRequest struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	PositionLimit *int64               `json:"position_limit"` // nil → game default
	TickSize      decimal.Decimal      `json:"tick_size"`
	MarketType    string               `json:"market_type"` // "BASIC" or "BUNDLE"
	BundleFormula *model.BundleFormula `json:"bundle_formula"`
}

// OrderRequest is the JSON body for POST /api/v1/orders.
type OrderRequest struct {
	MarketID string          `json:"market_id"`
	Side     string          `json:"side"` // "BUY" or "SELL"
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderResponse is returned from POST /api/v1/orders.
type OrderResponse struct {
	Order   model.Order   `json:"order"`
	Trades  []model.Trade `json:"trades"`
	Message string        `json:"message"`
}

// SetupRequest is the JSON body for POST /api/v1/admin/setup.
type SetupRequest struct {
	StartingCash   *decimal.Decimal `json:"starting_cash"`
	PositionLimits map[string]int64 `json:"position_limits"`
}

// ResolveRequest is the JSON body for POST /api/v1/admin/resolve.
type ResolveRequest struct {
	TrueValues map[string]decimal.Decimal `json:"true_values"`
}

// PlayerView is a participant's account with per-market order headroom.
type PlayerView struct {
	ledger.Player
	Headroom map[string]Headroom `json:"headroom"`
}

// Headroom is how much more a player may buy or sell in one market.
type Headroom struct {
	Buy  int64 `json:"buy"`
	Sell int64 `json:"sell"`
}

// GameState is the full snapshot sent to new clients and GET /state.
type GameState struct {
	GameID       string          `json:"game_id"`
	Started      bool            `json:"game_started"`
	StartingCash decimal.Decimal `json:"starting_cash"`
	Markets      []model.Market  `json:"markets"`
	OrderBooks   []model.Depth   `json:"order_books"`
	Players      int             `json:"players"`
}

// --- Players ---

// RegisterPlayer handles POST /api/v1/players
func (s *Service) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "User_" + id[:min(6, len(id))]
	}

	s.mu.RLock()
	cash := s.startingCash
	s.mu.RUnlock()

	if err := s.engine.AddPlayer(ledger.NewPlayer(id, name, role, cash)); err != nil {
		writeErr(w, err)
		return
	}
	s.refreshGauges()

	slog.Info("player registered", "id", id, "name", name, "role", role)
	s.publish(r.Context(), events.PlayerJoined, "", map[string]any{"user_id": id, "name": name, "role": role})

	p, _ := s.engine.Player(id)
	writeJSON(w, http.StatusCreated, p)
}

// GetPlayer handles GET /api/v1/players/{playerID}
func (s *Service) GetPlayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "playerID")
	view, err := s.playerView(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Service) playerView(id string) (PlayerView, error) {
	p, err := s.engine.Player(id)
	if err != nil {
		return PlayerView{}, err
	}
	view := PlayerView{Player: p, Headroom: make(map[string]Headroom)}
	for _, m := range s.engine.Markets() {
		buy, sell, err := s.engine.Headroom(id, m.ID)
		if err != nil {
			continue
		}
		view.Headroom[m.ID] = Headroom{Buy: buy, Sell: sell}
	}
	return view, nil
}

// GetState handles GET /api/v1/state
func (s *Service) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.State())
}

// State returns the current game snapshot.
func (s *Service) State() GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return GameState{
		GameID:       s.engine.GameID(),
		Started:      s.started,
		StartingCash: s.startingCash,
		Markets:      s.engine.Markets(),
		OrderBooks:   s.engine.AllOrderBooksDisplay(0),
		Players:      s.engine.Stats().Players,
	}
}

// Snapshot wraps State as the event a newly connected WebSocket client
// receives first.
func (s *Service) Snapshot() events.Event {
	st := s.State()
	return events.New(events.GameState, st.GameID, "", st)
}

// --- Markets ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Markets())
}

// CreateMarket handles POST /api/v1/markets (admin).
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeErr(w, err)
		return
	}
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.defaults.NewMarket(config.MarketConfig{
		ID:            strings.TrimSpace(req.ID),
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		PositionLimit: req.PositionLimit,
		TickSize:      req.TickSize,
		Type:          req.MarketType,
		Formula:       req.BundleFormula,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.engine.AddMarket(market); err != nil {
		writeErr(w, err)
		return
	}
	s.refreshGauges()

	slog.Info("market created",
		"id", market.ID,
		"type", market.Type,
		"position_limit", market.PositionLimit,
	)
	s.publish(r.Context(), events.MarketCreated, market.ID, market)

	writeJSON(w, http.StatusCreated, market)
}

// DeleteMarket handles DELETE /api/v1/markets/{marketID} (admin). Markets
// with resting orders cannot be deleted.
func (s *Service) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeErr(w, err)
		return
	}
	id := chi.URLParam(r, "marketID")
	if _, err := s.engine.Market(id); err != nil {
		writeErr(w, err)
		return
	}
	if !s.engine.RemoveMarket(id) {
		writeError(w, "cannot delete market with resting orders", http.StatusConflict)
		return
	}
	metrics.RestingOrders.DeleteLabelValues(id)
	s.refreshGauges()

	slog.Info("market deleted", "id", id)
	s.publish(r.Context(), events.MarketDeleted, id, map[string]string{"market_id": id})

	w.WriteHeader(http.StatusNoContent)
}

// GetBook handles GET /api/v1/markets/{marketID}/book?depth=N
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, err := depthParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	book, err := s.engine.OrderBookDisplay(chi.URLParam(r, "marketID"), depth)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// GetBooks handles GET /api/v1/books?depth=N
func (s *Service) GetBooks(w http.ResponseWriter, r *http.Request) {
	depth, err := depthParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.AllOrderBooksDisplay(depth))
}

// GetOrders handles GET /api/v1/markets/{marketID}/orders
// Admin owners are masked.
func (s *Service) GetOrders(w http.ResponseWriter, r *http.Request) {
	bids, asks, err := s.engine.RestingOrders(chi.URLParam(r, "marketID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if bids == nil {
		bids = []model.Order{}
	}
	if asks == nil {
		asks = []model.Order{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.Order{"bids": bids, "asks": asks})
}

// GetTrades handles GET /api/v1/markets/{marketID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "marketID")
	if _, err := s.engine.Market(id); err != nil {
		writeErr(w, err)
		return
	}
	trades := s.engine.TradesByMarket(id)
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Orders ---

// SubmitOrder handles POST /api/v1/orders
// Matches against the book and returns the order with any trades.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeErr(w, err)
		return
	}

	s.mu.RLock()
	start := time.Now()
	order, trades, err := s.engine.SubmitOrder(userID, req.MarketID, side, req.Price, req.Quantity)
	metrics.OrderLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	gameID := s.engine.GameID()
	s.mu.RUnlock()

	if err != nil {
		metrics.OrdersTotal.WithLabelValues(string(side), "rejected").Inc()
		if errors.Is(err, model.ErrPositionLimit) {
			metrics.PositionLimitRejections.WithLabelValues(req.MarketID).Inc()
		}
		writeErr(w, err)
		return
	}
	metrics.OrdersTotal.WithLabelValues(string(side), "accepted").Inc()

	slog.Info("order submitted",
		"order_id", order.ID,
		"user", userID,
		"market", order.MarketID,
		"side", side,
		"price", order.Price.String(),
		"qty", order.Quantity,
		"filled", order.Filled(),
		"remaining", order.Remaining,
		"trades", len(trades),
	)

	ctx := r.Context()
	s.recordTrades(ctx, gameID, trades)
	s.publishBook(ctx, order.MarketID)
	for _, t := range trades {
		s.publish(ctx, events.TradeExecuted, t.MarketID, t)
	}
	s.publishPositions(ctx, order.MarketID, trades)

	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, OrderResponse{
		Order:   order,
		Trades:  trades,
		Message: fmt.Sprintf("Order submitted successfully. %d trade(s) executed.", len(trades)),
	})
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}?market_id=M
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	marketID := r.URL.Query().Get("market_id")
	orderID := chi.URLParam(r, "orderID")
	if marketID == "" {
		writeError(w, "market_id query parameter is required", http.StatusBadRequest)
		return
	}

	if !s.engine.CancelOrder(userID, marketID, orderID) {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}

	slog.Info("order cancelled", "order_id", orderID, "user", userID, "market", marketID)
	s.publishBook(r.Context(), marketID)

	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "message": "Order cancelled successfully"})
}

// --- Leaderboard and results ---

// GetLeaderboard handles GET /api/v1/leaderboard
// Ranks players by cash; positions are unvalued until resolution.
func (s *Service) GetLeaderboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Leaderboard(nil))
}

// GetResults handles GET /api/v1/results
func (s *Service) GetResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.LatestResolution(r.Context())
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			metrics.JournalErrors.WithLabelValues("latest_resolution").Inc()
			slog.Error("load resolution failed", "err", err)
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetJournalTrades handles GET /api/v1/journal/trades?market_id=&user_id=
// Reads the current game's trades from the journal.
func (s *Service) GetJournalTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	marketID, userID := q.Get("market_id"), q.Get("user_id")
	gameID := s.engine.GameID()

	var trades []model.Trade
	var err error
	switch {
	case marketID != "":
		trades, err = s.store.TradesByMarket(r.Context(), gameID, marketID)
		if err == nil && userID != "" {
			trades = filterByUser(trades, userID)
		}
	case userID != "":
		trades, err = s.store.TradesByUser(r.Context(), gameID, userID)
	default:
		writeError(w, "market_id or user_id is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.JournalErrors.WithLabelValues("read_trades").Inc()
		slog.Error("journal read failed", "game_id", gameID, "err", err)
		writeError(w, "failed to read trade journal", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func filterByUser(trades []model.Trade, userID string) []model.Trade {
	var out []model.Trade
	for _, t := range trades {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, t)
		}
	}
	return out
}

// --- Admin ---

// Setup handles POST /api/v1/admin/setup
// Changes the starting cash for new players and later resets, and position
// limits for existing markets. Unknown markets are ignored.
func (s *Service) Setup(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeErr(w, err)
		return
	}
	var req SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StartingCash != nil && req.StartingCash.IsNegative() {
		writeError(w, "starting_cash must be non-negative", http.StatusBadRequest)
		return
	}
	for id, limit := range req.PositionLimits {
		if limit < 0 {
			writeError(w, "position limit for "+id+" must be non-negative", http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	if req.StartingCash != nil {
		s.startingCash = *req.StartingCash
	}
	cash := s.startingCash
	started := s.started
	s.mu.Unlock()

	applied := make(map[string]int64)
	for id, limit := range req.PositionLimits {
		if err := s.engine.SetPositionLimit(id, limit); err != nil {
			slog.Warn("position limit for unknown market ignored", "market", id)
			continue
		}
		applied[id] = limit
	}

	slog.Info("game configuration updated", "starting_cash", cash.String(), "position_limits", len(applied))
	cfg := map[string]any{
		"starting_cash":   cash,
		"game_started":    started,
		"max_markets":     s.defaults.MaxMarkets,
		"position_limits": applied,
	}
	s.publish(r.Context(), events.ConfigUpdated, "", cfg)

	writeJSON(w, http.StatusOK, cfg)
}

// Start handles POST /api/v1/admin/start
func (s *Service) Start(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeErr(w, err)
		return
	}
	if len(s.engine.Markets()) == 0 {
		writeErr(w, errNoMarkets)
		return
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	slog.Info("game started", "game_id", s.engine.GameID())
	s.publish(r.Context(), events.GameStarted, "", map[string]string{"message": "Game has started!"})

	writeJSON(w, http.StatusOK, s.State())
}

// End handles POST /api/v1/admin/end
// Stops the game and returns the cash leaderboard.
func (s *Service) End(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeErr(w, err)
		return
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	board := s.engine.Leaderboard(nil)
	slog.Info("game ended", "game_id", s.engine.GameID(), "players", len(board))
	s.publish(r.Context(), events.GameEnded, "", map[string]any{"message": "Game has ended!", "leaderboard": board})

	writeJSON(w, http.StatusOK, board)
}

// Reset handles POST /api/v1/admin/reset
// Every player returns to the starting cash with no positions or orders.
func (s *Service) Reset(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeErr(w, err)
		return
	}

	s.mu.Lock()
	previous := s.engine.GameID()
	s.engine.ResetGame(s.startingCash)
	s.started = false
	cash := s.startingCash
	s.mu.Unlock()
	s.refreshGauges()

	slog.Info("game reset", "previous_game_id", previous, "game_id", s.engine.GameID(), "starting_cash", cash.String())
	s.publish(r.Context(), events.GameReset, "", map[string]string{"message": "Game has been reset", "previous_game_id": previous})

	writeJSON(w, http.StatusOK, s.State())
}

// Resolve handles POST /api/v1/admin/resolve
// Settles every player against the true values of the basic markets and
// ends the game.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeErr(w, err)
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	res, err := s.engine.Resolve(req.TrueValues, s.startingCash)
	if err == nil {
		s.started = false
	}
	s.mu.Unlock()
	if err != nil {
		writeErr(w, err)
		return
	}
	metrics.GamesResolved.Inc()

	ctx := r.Context()
	if err := s.store.SaveResolution(ctx, res); err != nil {
		metrics.JournalErrors.WithLabelValues("save_resolution").Inc()
		slog.Error("journal resolution failed", "game_id", res.GameID, "err", err)
	}

	slog.Info("game resolved", "game_id", res.GameID, "players", len(res.Settlements))
	s.publish(ctx, events.GameResolved, "", map[string]any{
		"message": resolvedMessage(res),
		"results": res,
	})

	writeJSON(w, http.StatusOK, res)
}

func resolvedMessage(res *settlement.Resolution) string {
	ids := make([]string, 0, len(res.TrueValues))
	for id := range res.TrueValues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s=$%s", id, res.TrueValues[id].StringFixed(2))
	}
	return "Game resolved! True values: " + strings.Join(parts, ", ")
}

// --- Helpers ---

func (s *Service) recordTrades(ctx context.Context, gameID string, trades []model.Trade) {
	if len(trades) == 0 {
		return
	}
	for _, t := range trades {
		metrics.TradesTotal.WithLabelValues(t.MarketID).Inc()
		metrics.MarketVolume.WithLabelValues(t.MarketID).Add(float64(t.Quantity))
		metrics.MarketNotional.WithLabelValues(t.MarketID).Add(t.Notional().InexactFloat64())
	}
	if err := s.store.InsertTrades(ctx, gameID, trades); err != nil {
		metrics.JournalErrors.WithLabelValues("insert_trades").Inc()
		slog.Error("journal trades failed", "game_id", gameID, "count", len(trades), "err", err)
	}
}

func (s *Service) publishBook(ctx context.Context, marketID string) {
	book, err := s.engine.OrderBookDisplay(marketID, 0)
	if err != nil {
		return
	}
	s.refreshGauges()
	s.publish(ctx, events.OrderBookUpdate, marketID, book)
}

func (s *Service) publish(ctx context.Context, typ, marketID string, data any) {
	e := events.New(typ, s.engine.GameID(), marketID, data)
	if err := s.publisher.Publish(ctx, e); err != nil {
		metrics.EventPublishErrors.WithLabelValues(typ).Inc()
		slog.Warn("event publish failed", "type", typ, "err", err)
	}
}

// publishPositions sends each counterparty's updated account once, in the
// order they first appear in the fills.
func (s *Service) publishPositions(ctx context.Context, marketID string, trades []model.Trade) {
	seen := make(map[string]bool)
	for _, t := range trades {
		for _, id := range []string{t.BuyerID, t.SellerID} {
			if seen[id] {
				continue
			}
			seen[id] = true
			view, err := s.playerView(id)
			if err != nil {
				slog.Error("position update skipped", "player", id, "err", err)
				continue
			}
			s.publish(ctx, events.PositionUpdate, marketID, view)
		}
	}
}

func (s *Service) refreshGauges() {
	st := s.engine.Stats()
	metrics.ActiveMarkets.Set(float64(st.Markets))
	metrics.RegisteredPlayers.Set(float64(st.Players))
	for id, n := range st.RestingOrders {
		metrics.RestingOrders.WithLabelValues(id).Set(float64(n))
	}
}

// requireAdmin resolves the caller and checks the ADMIN role.
func (s *Service) requireAdmin(r *http.Request) (ledger.Player, error) {
	id, err := callerID(r)
	if err != nil {
		return ledger.Player{}, err
	}
	p, err := s.engine.Player(id)
	if err != nil {
		return ledger.Player{}, errForbidden
	}
	if !p.IsAdmin() {
		return ledger.Player{}, errForbidden
	}
	return p, nil
}

func callerID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(PlayerHeader))
	if id == "" {
		return "", errUnauthorized
	}
	return id, nil
}

func depthParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("depth")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: depth must be a non-negative integer", model.ErrInvalidInput)
	}
	return n, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPositionLimit),
		errors.Is(err, model.ErrMissingValuation),
		errors.Is(err, model.ErrInvalidValuation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrDuplicateMarket),
		errors.Is(err, model.ErrDuplicatePlayer),
		errors.Is(err, model.ErrLimitExceeded),
		errors.Is(err, errNoMarkets):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("unhandled error", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Routes registers the game API on r, which is mounted at /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Get("/state", s.GetState)

	// Players.
	r.Post("/players", s.RegisterPlayer)
	r.Get("/players/{playerID}", s.GetPlayer)

	// Markets and books.
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Delete("/markets/{marketID}", s.DeleteMarket)
	r.Get("/markets/{marketID}/book", s.GetBook)
	r.Get("/markets/{marketID}/orders", s.GetOrders)
	r.Get("/markets/{marketID}/trades", s.GetTrades)
	r.Get("/books", s.GetBooks)

	// Order entry.
	r.Post("/orders", s.SubmitOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)

	// Standings and journal.
	r.Get("/leaderboard", s.GetLeaderboard)
	r.Get("/results", s.GetResults)
	r.Get("/journal/trades", s.GetJournalTrades)

	// Admin lifecycle.
	r.Route("/admin", func(r chi.Router) {
		r.Post("/setup", s.Setup)
		r.Post("/start", s.Start)
		r.Post("/end", s.End)
		r.Post("/reset", s.Reset)
		r.Post("/resolve", s.Resolve)
	})
}
