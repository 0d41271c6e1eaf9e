package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/klingecoin/node/internal/mempool"
	"github.com/klingecoin/node/internal/p2p"
	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

// submitRate and submitBurst bound how fast the two submission endpoints
// accept requests, so a misbehaving caller can't flood the mempool faster
// than blocks can clear it.
const (
	submitRate  = 50 // per second
	submitBurst = 100
)

// ChainInfo is the read surface the HTTP handlers need for /health and
// /api/chain, kept narrow to avoid an import cycle with consensus.
type ChainInfo interface {
	Height() uint64
	Snapshot() []types.Block
}

// Server is the thin net/http wrapper around Gateway exposing the
// documented HTTP surface (spec §6 "Gateway HTTP surface").
type Server struct {
	gw            *Gateway
	chain         ChainInfo
	pool          *mempool.Pool
	p2p           *p2p.Server
	role          string
	address       types.Address
	log           zerolog.Logger
	submitLimiter *rate.Limiter
	reg           prometheus.Gatherer
}

// NewServer wires a Gateway into an HTTP mux. reg, if non-nil, is scraped
// at /metrics alongside the process's own counters; callers with no
// registry (tests, SPV-only processes) pass nil and get no /metrics route.
func NewServer(gw *Gateway, chain ChainInfo, pool *mempool.Pool, peers *p2p.Server, role string, address types.Address, log zerolog.Logger, reg prometheus.Gatherer) *Server {
	return &Server{
		gw:            gw,
		chain:         chain,
		pool:          pool,
		p2p:           peers,
		role:          role,
		address:       address,
		log:           log,
		submitLimiter: rate.NewLimiter(submitRate, submitBurst),
		reg:           reg,
	}
}

// Handler builds the mux described in spec §6. The two mutating endpoints
// share a token bucket so a single caller can't flood the mempool faster
// than it can be gossiped and mined.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit_data", s.rateLimited(s.handleSubmitData))
	mux.HandleFunc("/submit_signed_tx", s.rateLimited(s.handleSubmitSignedTx))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/chain", s.handleAPIChain)
	mux.HandleFunc("/api/mempool", s.handleAPIMempool)
	mux.HandleFunc("/api/peers", s.handleAPIPeers)
	if s.reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.submitLimiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

type submitDataRequest struct {
	SourceID   string                 `json:"source_id"`
	DataType   string                 `json:"data_type"`
	ValueB64   string                 `json:"value_base64"`
	Nonce      uint64                 `json:"nonce"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type submitResponse struct {
	Status string `json:"status"`
	TxHash string `json:"tx_hash"`
}

func (s *Server) handleSubmitData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	value, err := base64.StdEncoding.DecodeString(req.ValueB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadBase64.Error())
		return
	}

	txHash, err := s.gw.SubmitExternalData(req.DataType, value, req.Nonce, req.Metadata, float64(time.Now().Unix()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Status: "accepted", TxHash: txHash.String()})
}

type submitSignedTxRequest struct {
	TxData serialization.TransactionDict `json:"tx_data"`
}

func (s *Server) handleSubmitSignedTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitSignedTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	txHash, err := s.gw.SubmitSignedTransaction(req.TxData)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Status: "accepted", TxHash: txHash.String()})
}

type healthResponse struct {
	Role        string `json:"role"`
	Height      uint64 `json:"height"`
	MempoolSize int    `json:"mempool_size"`
	Address     string `json:"address"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Role:        s.role,
		Height:      s.chain.Height(),
		MempoolSize: s.pool.Size(),
		Address:     string(s.address),
	})
}

func (s *Server) handleAPIChain(w http.ResponseWriter, r *http.Request) {
	chain := s.chain.Snapshot()
	dicts := make([]serialization.BlockDict, len(chain))
	for i := range chain {
		dicts[i] = serialization.BlockToDict(&chain[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chain": dicts})
}

func (s *Server) handleAPIMempool(w http.ResponseWriter, r *http.Request) {
	txs := s.pool.Select(-1)
	dicts := make([]serialization.TransactionDict, len(txs))
	for i := range txs {
		dicts[i] = serialization.TxToDict(&txs[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mempool": dicts})
}

func (s *Server) handleAPIPeers(w http.ResponseWriter, r *http.Request) {
	if s.p2p == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"peers": []string{}})
		return
	}
	peers := s.p2p.Peers()
	addrs := make([]string, len(peers))
	for i, p := range peers {
		addrs[i] = p.Address()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"peers": addrs})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}
