package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/exchangemarket/pkg/app"
	"github.com/uhyunpark/exchangemarket/pkg/escrow"
	"github.com/uhyunpark/exchangemarket/pkg/ledger"
)

// RateDecimals is the fixed-point scale of offer and order rates (1e9).
const RateDecimals = 9

const maxTxBytes = 64 << 10

// Server handles REST API and WebSocket connections
type Server struct {
	app     *app.App
	router  *mux.Router
	hub     *Hub
	origins []string
	log     *zap.SugaredLogger

	mu       sync.Mutex
	http     *http.Server
	shutdown bool
}

// NewServer creates a new API server. hub should also be registered as an
// event sink so subscribers see applied instructions.
func NewServer(a *app.App, hub *Hub, corsOrigins []string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		app:     a,
		router:  mux.NewRouter(),
		hub:     hub,
		origins: corsOrigins,
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Instructions
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")

	// Escrow state
	api.HandleFunc("/offers", s.handleGetOffers).Methods("GET")
	api.HandleFunc("/offers/{id}", s.handleGetOffer).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown. Returns nil after a clean shutdown,
// including when Shutdown ran before Start.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.http = srv
	s.mu.Unlock()

	s.log.Infow("api_server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully. A later Start returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(bodyBytes) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	hash, err := s.app.PushTx(bodyBytes)
	if errors.Is(err, app.ErrTxKnown) {
		respondError(w, http.StatusConflict, "transaction already known", hash.Hex())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}

	s.log.Infow("tx_submitted", "tx", hash.Hex(), "bytes", len(bodyBytes))
	respondJSON(w, SubmitTxResponse{Status: "submitted", TxHash: hash.Hex()})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := decodeHash(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tx hash", err.Error())
		return
	}
	receipt, err := s.app.Receipt(b)
	if err != nil {
		s.respondLookupError(w, "receipt", err)
		return
	}
	respondJSON(w, receipt)
}

func (s *Server) handleGetOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.app.Engine().Offers()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list offers", err.Error())
		return
	}
	out := make([]OfferInfo, 0, len(offers))
	for _, o := range offers {
		info, err := s.offerInfo(o)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read treasury", err.Error())
			return
		}
		out = append(out, info)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid offer id", err.Error())
		return
	}
	offer, err := s.app.Engine().Offer(id)
	if err != nil {
		s.respondLookupError(w, "offer", err)
		return
	}
	info, err := s.offerInfo(offer)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read treasury", err.Error())
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	order, err := s.app.Engine().Order(id)
	if err != nil {
		s.respondLookupError(w, "order", err)
		return
	}

	info := OrderInfo{
		ID:        order.ID.String(),
		Owner:     order.Owner.Hex(),
		Offer:     order.Offer.String(),
		AskAsset:  order.AskAsset.Hex(),
		AskAmount: order.AskAmount,
		AskRate:   order.AskRate,
		Rate:      FormatRate(order.AskRate),
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt.UnixMilli(),
	}
	if order.Status == escrow.OrderSettled {
		st, err := s.app.Engine().Settlement(order.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read settlement", err.Error())
			return
		}
		info.Settlement = &SettlementInfo{
			Taker:     st.Taker.Hex(),
			Asset:     st.Asset.Hex(),
			Amount:    st.Amount,
			ProofID:   st.ProofID.String(),
			SettledAt: st.SettledAt.UnixMilli(),
		}
	}
	respondJSON(w, info)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !common.IsHexAddress(address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	owner := common.HexToAddress(address)

	accs, err := s.app.Ledger().Accounts(owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read balances", err.Error())
		return
	}
	out := make([]BalanceInfo, 0, len(accs))
	for _, acc := range accs {
		out = append(out, BalanceInfo{Address: acc.Owner.Hex(), Asset: acc.Asset.Hex(), Balance: acc.Balance})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) || !common.IsHexAddress(vars["asset"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	key := ledger.AccountKey{Owner: common.HexToAddress(vars["address"]), Asset: common.HexToAddress(vars["asset"])}

	bal, err := s.app.Ledger().Balance(key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read balance", err.Error())
		return
	}
	respondJSON(w, BalanceInfo{Address: key.Owner.Hex(), Asset: key.Asset.Hex(), Balance: bal})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !common.IsHexAddress(address) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(address)
	nonce, err := s.app.Ledger().Nonce(addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read nonce", err.Error())
		return
	}
	respondJSON(w, NonceInfo{Address: addr.Hex(), Nonce: nonce})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ChainStatus{
		Height:      s.app.Height(),
		AppHash:     s.app.AppHash().Hex(),
		MempoolSize: s.app.PendingTxs(),
	})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) || !common.IsHexAddress(req.Asset) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	owner, asset := common.HexToAddress(req.Address), common.HexToAddress(req.Asset)
	if err := s.app.Faucet(owner, asset, req.Amount); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, app.ErrFaucetDisabled) {
			status = http.StatusForbidden
		}
		respondError(w, status, "faucet failed", err.Error())
		return
	}

	bal, err := s.app.Ledger().Balance(ledger.AccountKey{Owner: owner, Asset: asset})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read balance", err.Error())
		return
	}
	respondJSON(w, BalanceInfo{Address: owner.Hex(), Asset: asset.Hex(), Balance: bal})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) offerInfo(o *escrow.Offer) (OfferInfo, error) {
	treasury, err := s.app.Engine().TreasuryBalance(o, o.BidAsset)
	if err != nil {
		return OfferInfo{}, err
	}
	return OfferInfo{
		ID:        o.ID.String(),
		Owner:     o.Owner.Hex(),
		BidAsset:  o.BidAsset.Hex(),
		BidTotal:  o.BidTotal,
		BidRate:   o.BidRate,
		Rate:      FormatRate(o.BidRate),
		Authority: o.Authority.Hex(),
		Treasury:  treasury,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt.UnixMilli(),
	}, nil
}

func (s *Server) respondLookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusNotFound, what+" not found", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "failed to read "+what, err.Error())
}

// FormatRate renders a 1e9 fixed-point rate as a decimal string ("5000000000" -> "5").
func FormatRate(rate uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(rate), -RateDecimals).String()
}

func decodeHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, errors.New("hash must be 32 bytes")
	}
	return common.BytesToHash(b), nil
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
