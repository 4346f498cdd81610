package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/umbral-exchange/umbral/pkg/events"
	"github.com/umbral-exchange/umbral/pkg/exchange/book"
	"github.com/umbral-exchange/umbral/pkg/exchange/coordinator"
	"github.com/umbral-exchange/umbral/pkg/exchange/pair"
	"github.com/umbral-exchange/umbral/pkg/ledger"
	"github.com/umbral-exchange/umbral/pkg/mpc"
	"github.com/umbral-exchange/umbral/pkg/storage"
)

// Server exposes the public surface of the exchange: pair metadata,
// sealed order submission, computation status, the trade journal, and
// balances. There is deliberately no order book depth endpoint.
type Server struct {
	coord  *coordinator.Coordinator
	reg    *pair.Registry
	store  *storage.Store // optional, trade journal
	ledger *ledger.Manager
	bus    *events.Bus
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(coord *coordinator.Coordinator, reg *pair.Registry, store *storage.Store,
	lm *ledger.Manager, bus *events.Bus, log *zap.SugaredLogger) *Server {

	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		coord:  coord,
		reg:    reg,
		store:  store,
		ledger: lm,
		bus:    bus,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/pairs", s.handleListPairs).Methods("GET")
	api.HandleFunc("/pairs", s.handleCreatePair).Methods("POST")
	api.HandleFunc("/pairs/{symbol}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{symbol}/activate", s.handleSetActive(true)).Methods("POST")
	api.HandleFunc("/pairs/{symbol}/deactivate", s.handleSetActive(false)).Methods("POST")
	api.HandleFunc("/pairs/{symbol}/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/pairs/{symbol}/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	api.HandleFunc("/computations/{id}", s.handleGetComputation).Methods("GET")
	api.HandleFunc("/accounts/{trader}/balances", s.handleGetBalances).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the event bridge and serves HTTP until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	if s.bus != nil {
		go s.bridgeEvents()
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api server starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// bridgeEvents forwards core events to websocket subscribers, on the
// firehose channel and on the per-pair channel.
func (s *Server) bridgeEvents() {
	sub := s.bus.Subscribe(256)
	for e := range sub {
		s.hub.BroadcastToChannel("events", e)
		s.hub.BroadcastToChannel(fmt.Sprintf("pair:%d", e.PairID), e)
	}
}

func (s *Server) pairBySymbol(w http.ResponseWriter, r *http.Request) (*pair.Pair, bool) {
	symbol := mux.Vars(r)["symbol"]
	p, err := s.reg.GetBySymbol(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "pair not found", symbol)
		return nil, false
	}
	return p, true
}

func pairInfo(p *pair.Pair) PairInfo {
	info := PairInfo{
		ID:          p.ID,
		Symbol:      p.Symbol,
		BaseAsset:   p.BaseAsset,
		QuoteAsset:  p.QuoteAsset,
		Active:      p.Active,
		TotalOrders: p.TotalOrders,
		BookVersion: p.BookVersion,
		TradeCount:  p.TradeCount,
	}
	if cid, ok := p.PendingComputation(); ok {
		info.Pending = cid.String()
	}
	return info
}

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.reg.List()
	response := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		response[i] = pairInfo(p)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pairBySymbol(w, r)
	if !ok {
		return
	}
	respondJSON(w, pairInfo(p))
}

func (s *Server) handleCreatePair(w http.ResponseWriter, r *http.Request) {
	var req CreatePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	id, cid, err := s.coord.CreatePair(r.Context(), req.Symbol, req.BaseAsset, req.QuoteAsset, req.Capacity)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, CreatePairResponse{PairID: id, ComputationID: cid.String()})
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.pairBySymbol(w, r)
		if !ok {
			return
		}
		var err error
		if active {
			err = s.reg.Activate(p.ID)
		} else {
			err = s.reg.Deactivate(p.ID)
		}
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		respondJSON(w, pairInfo(p))
	}
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	cid, err := s.coord.SubmitOrder(r.Context(), req.PairID, req.Envelope)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.log.Infow("sealed order accepted", "pair", req.PairID, "cid", cid)
	respondJSON(w, SubmitOrderResponse{Status: "requested", ComputationID: cid.String()})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	cid, err := s.coord.CancelOrder(r.Context(), req.PairID, req.OrderID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, SubmitOrderResponse{Status: "requested", ComputationID: cid.String()})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pairBySymbol(w, r)
	if !ok {
		return
	}
	cid, err := s.coord.TriggerMatch(r.Context(), p.ID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, MatchResponse{Status: "requested", ComputationID: cid.String()})
}

func (s *Server) handleGetComputation(w http.ResponseWriter, r *http.Request) {
	cid, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid computation id", err.Error())
		return
	}
	st, ok := s.coord.Status(cid)
	if !ok {
		respondError(w, http.StatusNotFound, "computation not found", "")
		return
	}
	info := ComputationInfo{
		ID:          st.ID.String(),
		PairID:      st.PairID,
		Kind:        st.Kind.String(),
		Status:      string(st.Status),
		Reason:      st.Reason,
		RequestedAt: st.RequestedAt.Format(time.RFC3339),
	}
	if !st.FinalizedAt.IsZero() {
		info.FinalizedAt = st.FinalizedAt.Format(time.RFC3339)
	}
	respondJSON(w, info)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pairBySymbol(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		respondJSON(w, []TradeInfo{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := s.store.Trades(p.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade journal read failed", err.Error())
		return
	}
	response := make([]TradeInfo, len(recs))
	for i, rec := range recs {
		response[i] = TradeInfo{
			Seq:         rec.Seq,
			BuyOrderID:  rec.Trade.BuyOrderID,
			SellOrderID: rec.Trade.SellOrderID,
			Buyer:       rec.Trade.Buyer.Hex(),
			Seller:      rec.Trade.Seller.Hex(),
			Price:       rec.Trade.Price,
			Quantity:    rec.Trade.Quantity,
			At:          rec.At.Format(time.RFC3339),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	trader, err := book.ParseTraderID(mux.Vars(r)["trader"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid trader handle", err.Error())
		return
	}
	respondJSON(w, BalancesResponse{
		Trader:   trader.Hex(),
		Balances: s.ledger.Balances(trader),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// respondDomainError maps core sentinels onto HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pair.ErrNotFound):
		respondError(w, http.StatusNotFound, "pair not found", err.Error())
	case errors.Is(err, pair.ErrExists):
		respondError(w, http.StatusConflict, "pair already exists", err.Error())
	case errors.Is(err, pair.ErrInactive):
		respondError(w, http.StatusConflict, "pair is inactive", err.Error())
	case errors.Is(err, pair.ErrBusy):
		respondError(w, http.StatusConflict, "computation in flight", err.Error())
	case errors.Is(err, book.ErrValidation), errors.Is(err, mpc.ErrMalformedEnvelope):
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
