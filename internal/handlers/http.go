package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"order-scheduler/internal/engine"
	"order-scheduler/internal/ledger"
	"order-scheduler/internal/store"
	"order-scheduler/pkg/utils"
)

// Handler serves one scheduled ledger over HTTP.
// Requests are serialised because the scheduler is single-threaded.
type Handler struct {
	mu       sync.Mutex
	ledger   *ledger.Ledger
	sched    *engine.ScheduledAccount
	runs     *store.Store
	warnings []engine.Warning
}

// NewHandler wraps l in a scheduled account. runs may be nil.
func NewHandler(l *ledger.Ledger, runs *store.Store, opts ...engine.Option) *Handler {
	h := &Handler{ledger: l, runs: runs}
	opts = append(opts, engine.WithWarningHandler(func(w engine.Warning) {
		utils.LogWarning(w.Clock, w.Message)
		h.warnings = append(h.warnings, w)
	}))
	h.sched = engine.NewScheduledAccount(l, opts...)
	return h
}

func (h *Handler) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/api/health", h.healthCheck).Methods("GET")
	r.HandleFunc("/api/orders", h.createOrder).Methods("POST")
	r.HandleFunc("/api/orders", h.listOrders).Methods("GET")
	r.HandleFunc("/api/orders", h.resetOrders).Methods("DELETE")
	r.HandleFunc("/api/tick", h.tick).Methods("POST")
	r.HandleFunc("/api/balances", h.balances).Methods("GET")
	r.HandleFunc("/api/runs", h.listRuns).Methods("GET")
	r.HandleFunc("/api/runs/{id}", h.getRun).Methods("GET")
}

// Tick advances the served account. It is used by the feed loop as well as POST /api/tick.
func (h *Handler) Tick(update engine.RateUpdate, args ...interface{}) (int64, []engine.Warning, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.warnings = nil
	clock, err := h.sched.Tick(update, args...)
	return clock, h.warnings, err
}

type orderRequest struct {
	Kind     string                 `json:"kind"`
	Pair     engine.Pair            `json:"pair"`
	Rate     float64                `json:"rate"`
	Volume   float64                `json:"volume"`
	Trigger  float64                `json:"trigger"`
	Lifetime int64                  `json:"lifetime"`
	Percent  *bool                  `json:"percent,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

type orderResponse struct {
	Confirmation string `json:"confirmation"`
	Clock        int64  `json:"clock"`
	Pending      int    `json:"pending"`
}

type tickRequest struct {
	Rates engine.RateUpdate `json:"rates"`
	Clock *int64            `json:"clock,omitempty"`
}

type tickResponse struct {
	Clock    int64            `json:"clock"`
	Pending  int              `json:"pending"`
	Warnings []engine.Warning `json:"warnings,omitempty"`
}

type balancesResponse struct {
	Clock     int64              `json:"clock"`
	Reference string             `json:"reference"`
	Balances  map[string]float64 `json:"balances"`
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.LogError(errors.Wrap(err, "decode order request"))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opts := engine.Options{}
	for k, v := range req.Options {
		opts[k] = v
	}
	if req.Percent != nil {
		opts[engine.OptionPercent] = *req.Percent
	}
	params := engine.Params{
		Pair:         req.Pair,
		Volume:       req.Volume,
		TriggerPrice: req.Trigger,
		Lifetime:     req.Lifetime,
		Options:      opts,
	}
	if len(req.Extra) > 0 {
		params.Extra = engine.Extra(req.Extra)
	}

	h.mu.Lock()
	conf, err := h.sched.PlaceByName(req.Kind, req.Rate, params)
	resp := orderResponse{Confirmation: conf.String(), Clock: h.sched.Clock(), Pending: h.sched.PendingCount()}
	h.mu.Unlock()

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	orders := h.sched.Orders()
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) resetOrders(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.sched.Reset()
	h.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.LogError(errors.Wrap(err, "decode tick request"))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var args []interface{}
	if req.Clock != nil {
		args = append(args, ledger.SetClock(*req.Clock))
	}
	clock, warnings, err := h.Tick(req.Rates, args...)
	if err != nil {
		writeError(w, err)
		return
	}

	h.mu.Lock()
	pending := h.sched.PendingCount()
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, tickResponse{Clock: clock, Pending: pending, Warnings: warnings})
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, balancesResponse{
		Clock:     h.ledger.Clock(),
		Reference: h.ledger.Reference(),
		Balances:  h.ledger.Balances(),
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run store disabled", http.StatusNotFound)
		return
	}
	runs, err := h.runs.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run store disabled", http.StatusNotFound)
		return
	}
	res, err := h.runs.Load(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnregisteredOrderKind),
		errors.Is(err, engine.ErrMissingArgument),
		errors.Is(err, engine.ErrInvalidLifetime),
		errors.Is(err, engine.ErrMalformedRateUpdate),
		errors.Is(err, ledger.ErrClockBackwards):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInconsistentRate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		utils.LogError(err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
