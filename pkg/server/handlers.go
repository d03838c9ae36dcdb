package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/ledger"
	"lumina-hq/atlas/pkg/ledger/storage"
	"lumina-hq/atlas/pkg/money"
)

// dispatchRequest is the JSON body for POST /v1/dispatch.
type dispatchRequest struct {
	AccountID   string              `json:"account_id"`
	Model       string              `json:"model"` // "provider/model"
	Operation   string              `json:"operation"`
	Messages    []backends.Message  `json:"messages,omitempty"`
	Prompt      string              `json:"prompt,omitempty"`
	Input       []string            `json:"input,omitempty"`
	Image       *backends.ImageSpec `json:"image,omitempty"`
	Audio       *backends.AudioSpec `json:"audio,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

// dispatchResponse is the JSON body returned by POST /v1/dispatch.
type dispatchResponse struct {
	RequestID string             `json:"request_id"`
	Provider  string             `json:"provider"`
	Model     string             `json:"model"`
	Cached    bool               `json:"cached"`
	Cost      string             `json:"cost"`
	LatencyMs int64              `json:"latency_ms"`
	Response  *backends.Response `json:"response"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.AccountID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("account_id is required"))
		return
	}
	op, ok := backends.ParseOperation(body.Operation)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown operation %q", body.Operation))
		return
	}

	result, err := s.engine.Execute(r.Context(), body.AccountID, body.Model, &backends.Request{
		Operation:   op,
		Messages:    body.Messages,
		Prompt:      body.Prompt,
		Input:       body.Input,
		Image:       body.Image,
		Audio:       body.Audio,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
	})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, http.StatusOK, &dispatchResponse{
		RequestID: result.RequestID,
		Provider:  result.Provider,
		Model:     result.Model,
		Cached:    result.Cached,
		Cost:      result.Cost.StringFixed(),
		LatencyMs: result.Latency.Milliseconds(),
		Response:  result.Response,
	})
}

type createAccountRequest struct {
	ID             string `json:"id"`
	InitialCredits string `json:"initial_credits,omitempty"`
}

type accountResponse struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
	Active  bool   `json:"active"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}

	initial := money.Zero()
	if body.InitialCredits != "" {
		parsed, err := money.Parse(body.InitialCredits)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid initial_credits: %w", err))
			return
		}
		initial = parsed
	}

	if err := s.ledger.CreateAccount(r.Context(), body.ID, initial); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, &accountResponse{
		ID:      body.ID,
		Balance: initial.StringFixed(),
		Active:  true,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, &accountResponse{
		ID:      acct.ID,
		Balance: acct.Balance.StringFixed(),
		Active:  acct.Active,
	})
}

type transactionResponse struct {
	ID            string    `json:"id"`
	Delta         string    `json:"delta"`
	BalanceAfter  string    `json:"balance_after"`
	Reason        string    `json:"reason"`
	UsageRecordID string    `json:"usage_record_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.ledger.Transactions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	out := make([]*transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, &transactionResponse{
			ID:            txn.ID,
			Delta:         txn.Delta.StringFixed(),
			BalanceAfter:  txn.BalanceAfter.StringFixed(),
			Reason:        string(txn.Reason),
			UsageRecordID: txn.UsageRecordID,
			CreatedAt:     txn.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type topUpRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var body topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	amount, err := money.Parse(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount: %w", err))
		return
	}

	id := r.PathValue("id")
	balance, err := s.ledger.TopUp(r.Context(), id, amount)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, &accountResponse{
		ID:      id,
		Balance: balance.StringFixed(),
		Active:  true,
	})
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var err error
		if active {
			err = s.ledger.Activate(r.Context(), id)
		} else {
			err = s.ledger.Deactivate(r.Context(), id)
		}
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(s.registry.Providers()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "no providers registered")
		return
	}
	fmt.Fprintln(w, "ready")
}

type providerHealthResponse struct {
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRequests       int64     `json:"total_requests"`
	FailedRequests      int64     `json:"failed_requests"`
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := s.registry.HealthSnapshots()

	out := make(map[string]*providerHealthResponse, len(snapshots))
	for name, h := range snapshots {
		entry := &providerHealthResponse{
			Healthy:             h.Healthy,
			LastCheck:           h.LastCheck,
			ConsecutiveFailures: h.ConsecutiveFailures,
			TotalRequests:       h.TotalRequests,
			FailedRequests:      h.FailedRequests,
		}
		if h.LastError != nil {
			entry.LastError = h.LastError.Error()
		}
		out[name] = entry
	}
	writeJSON(w, http.StatusOK, out)
}

// statusForError maps gateway and ledger errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case backends.IsResolveError(err):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrAccountInactive):
		return http.StatusForbidden
	}

	var invalidErr *backends.InvalidRequestError
	if errors.As(err, &invalidErr) {
		return http.StatusBadRequest
	}
	var rateErr *backends.RateLimitedError
	if errors.As(err, &rateErr) {
		return http.StatusTooManyRequests
	}
	var timeoutErr *backends.TimeoutError
	if errors.As(err, &timeoutErr) {
		return http.StatusGatewayTimeout
	}
	var unavailableErr *backends.UnavailableError
	if errors.As(err, &unavailableErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, &errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
