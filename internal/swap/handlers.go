// Package swap — HTTP handlers over the executor.
package swap

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predata/amm-engine/internal/fpmm"
	"github.com/predata/amm-engine/internal/model"
	"github.com/predata/amm-engine/internal/store"
)

// SeedRequest is the JSON body for POST /api/v1/pools.
type SeedRequest struct {
	QuestionID int64           `json:"question_id"`
	SeedUsdc   decimal.Decimal `json:"seed_usdc"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
}

// SwapRequest is the JSON body for POST /api/v1/swap. Amount is USDC for
// BUY and shares for SELL. MinSharesOut/MinUsdcOut are optional slippage
// bounds.
type SwapRequest struct {
	MemberID     int64           `json:"member_id"`
	QuestionID   int64           `json:"question_id"`
	Action       string          `json:"action"`  // "BUY" or "SELL"
	Outcome      string          `json:"outcome"` // "YES" or "NO"
	Amount       decimal.Decimal `json:"amount"`
	MinSharesOut decimal.Decimal `json:"min_shares_out"`
	MinUsdcOut   decimal.Decimal `json:"min_usdc_out"`
}

// SimulateRequest is the JSON body for POST /api/v1/simulate.
type SimulateRequest struct {
	QuestionID int64           `json:"question_id"`
	Action     string          `json:"action"`
	Outcome    string          `json:"outcome"`
	Amount     decimal.Decimal `json:"amount"`
}

// StatusRequest is the JSON body for PUT /api/v1/pools/{questionID}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// SwapResponse is the JSON body returned from POST /api/v1/swap.
type SwapResponse struct {
	Swap     model.SwapHistory `json:"swap"`
	Pool     model.MarketPool  `json:"pool"`
	Position model.UserShares  `json:"position"`
}

// PoolResponse is the pool row plus its derived spot price.
type PoolResponse struct {
	model.MarketPool
	Price fpmm.Price `json:"price"`
}

// SeedPool handles POST /api/v1/pools.
func (s *Service) SeedPool(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.QuestionID <= 0 {
		writeError(w, "question_id is required", http.StatusBadRequest)
		return
	}

	pool, err := s.Seed(r.Context(), req.QuestionID, req.SeedUsdc, req.FeeRate)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// GetPool handles GET /api/v1/pools/{questionID}.
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	questionID, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}

	pool, err := s.PoolState(r.Context(), questionID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	price, err := fpmm.PoolPrice(pool.YesShares, pool.NoShares)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, PoolResponse{MarketPool: *pool, Price: price})
}

// ListPools handles GET /api/v1/pools?status=ACTIVE.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	status := model.PoolStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.PoolActive
	}

	pools, err := s.PoolsByStatus(r.Context(), status)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if pools == nil {
		pools = []model.MarketPool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// UpdateStatus handles PUT /api/v1/pools/{questionID}/status.
func (s *Service) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	questionID, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	status := model.PoolStatus(req.Status)
	switch status {
	case model.PoolSeeded, model.PoolActive, model.PoolPaused, model.PoolClosed:
	default:
		writeError(w, "status must be one of SEEDED, ACTIVE, PAUSED, CLOSED", http.StatusBadRequest)
		return
	}

	if err := s.SetPoolStatus(r.Context(), questionID, status); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// ExecuteSwap handles POST /api/v1/swap.
func (s *Service) ExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MemberID <= 0 {
		writeError(w, "member_id is required", http.StatusBadRequest)
		return
	}
	if req.Action != "BUY" && req.Action != "SELL" {
		writeError(w, "action must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if req.Outcome != "YES" && req.Outcome != "NO" {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}

	result, err := s.Execute(r.Context(), Request{
		MemberID:     req.MemberID,
		QuestionID:   req.QuestionID,
		Action:       model.SwapAction(req.Action),
		Outcome:      model.Outcome(req.Outcome),
		Amount:       req.Amount,
		MinSharesOut: req.MinSharesOut,
		MinUsdcOut:   req.MinUsdcOut,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, SwapResponse{
		Swap:     result.Swap,
		Pool:     result.Pool,
		Position: result.Position,
	})
}

// SimulateSwap handles POST /api/v1/simulate.
func (s *Service) SimulateSwap(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action != "BUY" && req.Action != "SELL" {
		writeError(w, "action must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if req.Outcome != "YES" && req.Outcome != "NO" {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}

	sim, err := s.Simulate(r.Context(), req.QuestionID,
		model.SwapAction(req.Action), model.Outcome(req.Outcome), req.Amount)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

// GetPriceHistory handles GET /api/v1/pools/{questionID}/history.
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	questionID, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}

	points, err := s.PriceHistory(r.Context(), questionID, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// GetPoolSwaps handles GET /api/v1/pools/{questionID}/swaps.
func (s *Service) GetPoolSwaps(w http.ResponseWriter, r *http.Request) {
	questionID, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}

	swaps, err := s.SwapsByQuestion(r.Context(), questionID, pageFrom(r))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if swaps == nil {
		swaps = []model.SwapHistory{}
	}
	writeJSON(w, http.StatusOK, swaps)
}

// GetMemberSwaps handles GET /api/v1/members/{memberID}/swaps.
func (s *Service) GetMemberSwaps(w http.ResponseWriter, r *http.Request) {
	memberID, ok := pathID(w, r, "memberID")
	if !ok {
		return
	}

	swaps, err := s.SwapsByMember(r.Context(), memberID, pageFrom(r))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if swaps == nil {
		swaps = []model.SwapHistory{}
	}
	writeJSON(w, http.StatusOK, swaps)
}

// GetPositions handles GET /api/v1/members/{memberID}/positions?question_id=N.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	memberID, ok := pathID(w, r, "memberID")
	if !ok {
		return
	}
	questionID, err := strconv.ParseInt(r.URL.Query().Get("question_id"), 10, 64)
	if err != nil || questionID <= 0 {
		writeError(w, "question_id query parameter is required", http.StatusBadRequest)
		return
	}

	positions, err := s.Positions(r.Context(), memberID, questionID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// Routes mounts all swap-engine endpoints on the router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/pools", s.SeedPool)
	r.Get("/pools", s.ListPools)
	r.Get("/pools/{questionID}", s.GetPool)
	r.Put("/pools/{questionID}/status", s.UpdateStatus)
	r.Get("/pools/{questionID}/history", s.GetPriceHistory)
	r.Get("/pools/{questionID}/swaps", s.GetPoolSwaps)
	r.Post("/swap", s.ExecuteSwap)
	r.Post("/simulate", s.SimulateSwap)
	r.Get("/members/{memberID}/swaps", s.GetMemberSwaps)
	r.Get("/members/{memberID}/positions", s.GetPositions)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// statusFor maps executor and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, fpmm.ErrInvalidAmount),
		errors.Is(err, fpmm.ErrInvalidFeeRate):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAlreadySeeded),
		errors.Is(err, ErrPoolNotActive),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrSlippageExceeded),
		errors.Is(err, fpmm.ErrInsufficientLiquidity),
		errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, name+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func pageFrom(r *http.Request) store.Page {
	return store.Page{
		Limit:      queryInt(r, "limit", 0),
		Offset:     queryInt(r, "offset", 0),
		Descending: r.URL.Query().Get("order") == "desc",
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
