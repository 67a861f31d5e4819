package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NiftyApes/hsla-contracts/crypto"
	"github.com/NiftyApes/hsla-contracts/native/lending"
)

// Backend is the read-only engine surface the server exposes over HTTP.
// *lending.Engine satisfies it.
type Backend interface {
	Loan(nftContractAddress [20]byte, nftID *big.Int) (*lending.LoanAuction, bool, error)
	OwnerOf(nftContractAddress [20]byte, nftID *big.Int) ([20]byte, error)
	CalculateInterestAccrued(nftContractAddress [20]byte, nftID *big.Int, at int64) (*big.Int, error)
	GetAssetMapping(asset [20]byte) ([20]byte, bool, error)
	GetOfferHash(offer *lending.Offer) ([32]byte, error)
	GetOfferSigner(hash [32]byte, sig []byte) ([20]byte, error)
	Ledger() *lending.Ledger
}

// Server serves the persisted lending tables and the offer signing facade.
// All routes are read-only; settlement happens through the embedding
// platform, not over HTTP.
type Server struct {
	backend  Backend
	logger   *slog.Logger
	router   chi.Router
	registry *prometheus.Registry
	nowFn    func() int64

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewServer constructs the HTTP query server.
func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend:  backend,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hsla_http_requests_total",
		Help: "HTTP requests served, by route and status code.",
	}, []string{"route", "method", "status"})
	s.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hsla_http_request_duration_seconds",
		Help:    "HTTP request latency, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	s.registry.MustRegister(s.requests, s.duration)

	r := chi.NewRouter()
	r.Use(s.instrument)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/loans/{nft}/{id}", s.handleLoan)
		r.Get("/loans/{nft}/{id}/owner", s.handleLoanOwner)
		r.Get("/loans/{nft}/{id}/interest", s.handleLoanInterest)
		r.Get("/balances/{wrapped}/{account}", s.handleBalance)
		r.Get("/assets/{asset}", s.handleAssetMapping)
		r.Post("/offers/hash", s.handleOfferHash)
		r.Post("/offers/signer", s.handleOfferSigner)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetNowFunc overrides the time source used for interest queries. Primarily
// intended for tests to provide deterministic timestamps.
func (s *Server) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	s.nowFn = now
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		elapsed := time.Since(start)
		s.requests.WithLabelValues(route, r.Method, fmt.Sprintf("%d", rec.status)).Inc()
		s.duration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", elapsed),
		)
	})
}

// --- payload types ---

type offerPayload struct {
	NFTContractAddress string `json:"nftContractAddress"`
	NFTID              string `json:"nftId"`
	Asset              string `json:"asset"`
	Amount             string `json:"amount"`
	InterestRate       string `json:"interestRate"`
	Duration           string `json:"duration"`
	Expiration         string `json:"expiration"`
	FixedTerms         bool   `json:"fixedTerms"`
	FloorTerm          bool   `json:"floorTerm"`
}

func (p *offerPayload) toOffer() (*lending.Offer, error) {
	nft, err := crypto.ParseAddress(p.NFTContractAddress)
	if err != nil {
		return nil, fmt.Errorf("nftContractAddress: %w", err)
	}
	asset, err := crypto.ParseAddress(p.Asset)
	if err != nil {
		return nil, fmt.Errorf("asset: %w", err)
	}
	offer := &lending.Offer{
		NFTContractAddress: nft,
		Asset:              asset,
		FixedTerms:         p.FixedTerms,
		FloorTerm:          p.FloorTerm,
	}
	for _, field := range []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"nftId", p.NFTID, &offer.NFTID},
		{"amount", p.Amount, &offer.Amount},
		{"interestRate", p.InterestRate, &offer.InterestRate},
		{"duration", p.Duration, &offer.Duration},
		{"expiration", p.Expiration, &offer.Expiration},
	} {
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(field.value), 10)
		if !ok {
			return nil, fmt.Errorf("%s: invalid decimal %q", field.name, field.value)
		}
		*field.dst = parsed
	}
	return offer, nil
}

type loanPayload struct {
	NFTContractAddress string `json:"nftContractAddress"`
	NFTID              string `json:"nftId"`
	NFTOwner           string `json:"nftOwner"`
	Lender             string `json:"lender"`
	Asset              string `json:"asset"`
	Amount             string `json:"amount"`
	InterestRate       string `json:"interestRate"`
	Duration           string `json:"duration"`
	HistoricInterest   string `json:"historicInterest"`
	BestBidTime        int64  `json:"bestBidTime"`
	LoanExecutedTime   int64  `json:"loanExecutedTime"`
	AmountDrawn        string `json:"amountDrawn"`
	TimeDrawn          string `json:"timeDrawn"`
	FixedTerms         bool   `json:"fixedTerms"`
}

func toLoanPayload(loan *lending.LoanAuction) loanPayload {
	return loanPayload{
		NFTContractAddress: crypto.FormatAddress(loan.NFTContractAddress),
		NFTID:              loan.NFTID.String(),
		NFTOwner:           crypto.FormatAddress(loan.NFTOwner),
		Lender:             crypto.FormatAddress(loan.Lender),
		Asset:              crypto.FormatAddress(loan.Asset),
		Amount:             loan.Amount.String(),
		InterestRate:       loan.InterestRate.String(),
		Duration:           loan.Duration.String(),
		HistoricInterest:   loan.HistoricInterest.String(),
		BestBidTime:        loan.BestBidTime,
		LoanExecutedTime:   loan.LoanExecutedTime,
		AmountDrawn:        loan.AmountDrawn.String(),
		TimeDrawn:          loan.TimeDrawn.String(),
		FixedTerms:         loan.FixedTerms,
	}
}

// --- handlers ---

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	nft, id, ok := s.collateralKey(w, r)
	if !ok {
		return
	}
	loan, found, err := s.backend.Loan(nft, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeStatus(w, http.StatusNotFound, "no active loan")
		return
	}
	s.writeJSON(w, toLoanPayload(loan))
}

func (s *Server) handleLoanOwner(w http.ResponseWriter, r *http.Request) {
	nft, id, ok := s.collateralKey(w, r)
	if !ok {
		return
	}
	owner, err := s.backend.OwnerOf(nft, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if owner == crypto.ZeroAddress {
		s.writeStatus(w, http.StatusNotFound, "no active loan")
		return
	}
	s.writeJSON(w, map[string]string{"owner": crypto.FormatAddress(owner)})
}

func (s *Server) handleLoanInterest(w http.ResponseWriter, r *http.Request) {
	nft, id, ok := s.collateralKey(w, r)
	if !ok {
		return
	}
	interest, err := s.backend.CalculateInterestAccrued(nft, id, s.nowFn())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"interest": interest.String()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	wrapped, err := crypto.ParseAddress(chi.URLParam(r, "wrapped"))
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := s.backend.Ledger().Balance(wrapped, account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"shares": balance.String()})
}

func (s *Server) handleAssetMapping(w http.ResponseWriter, r *http.Request) {
	asset, err := crypto.ParseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	wrapped, found, err := s.backend.GetAssetMapping(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeStatus(w, http.StatusNotFound, "asset not mapped")
		return
	}
	s.writeJSON(w, map[string]string{"wrappedAsset": crypto.FormatAddress(wrapped)})
}

func (s *Server) handleOfferHash(w http.ResponseWriter, r *http.Request) {
	var payload offerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	offer, err := payload.toOffer()
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := s.backend.GetOfferHash(offer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"hash": "0x" + hex.EncodeToString(hash[:])})
}

func (s *Server) handleOfferSigner(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Hash      string `json:"hash"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := parseHash(payload.Hash)
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(payload.Signature), "0x"))
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	signer, err := s.backend.GetOfferSigner(hash, sig)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"signer": crypto.FormatAddress(signer)})
}

// --- helpers ---

func (s *Server) collateralKey(w http.ResponseWriter, r *http.Request) ([20]byte, *big.Int, bool) {
	nft, err := crypto.ParseAddress(chi.URLParam(r, "nft"))
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return nft, nil, false
	}
	id, ok := new(big.Int).SetString(chi.URLParam(r, "id"), 10)
	if !ok || id.Sign() < 0 {
		s.writeStatus(w, http.StatusBadRequest, "invalid nft id")
		return nft, nil, false
	}
	return nft, id, true
}

func parseHash(s string) ([32]byte, error) {
	var hash [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash, fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw) != 32 {
		return hash, fmt.Errorf("hash must be 32 bytes, got %d", len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lending.ErrLoanNotFound):
		s.writeStatus(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lending.ErrInvalidSignature),
		errors.Is(err, lending.ErrInvalidTerms),
		errors.Is(err, lending.ErrInvalidAmount):
		s.writeStatus(w, http.StatusBadRequest, err.Error())
	default:
		s.writeStatus(w, http.StatusInternalServerError, err.Error())
	}
}
