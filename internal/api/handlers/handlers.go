package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dvloznov/voice-ledger/internal/api/middleware"
	"github.com/dvloznov/voice-ledger/internal/balance"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/jobs"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/dvloznov/voice-ledger/internal/notify"
	"github.com/dvloznov/voice-ledger/internal/voiceflow"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// TransactionsHandler handles manual transaction endpoints.
type TransactionsHandler struct {
	repo      ledger.Repository
	committer *voiceflow.Committer
	log       zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo ledger.Repository, committer *voiceflow.Committer, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		repo:      repo,
		committer: committer,
		log:       log,
	}
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var form domain.TransactionFormData
	if !decodeJSON(w, r, &form) {
		return
	}

	tx, err := h.committer.Commit(r.Context(), form, notify.SourceManual, "")
	if err != nil {
		h.logFailure(err, "Failed to create transaction")
		middleware.WriteFlowError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// UpdateTransaction handles PUT /api/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var form domain.TransactionFormData
	if !decodeJSON(w, r, &form) {
		return
	}

	tx, err := h.repo.UpdateTransaction(r.Context(), id, form)
	if err != nil {
		h.logFailure(err, "Failed to update transaction")
		middleware.WriteFlowError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.DeleteTransaction(r.Context(), id); err != nil {
		h.logFailure(err, "Failed to delete transaction")
		middleware.WriteFlowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// logFailure logs rejected input at warn and everything else at error.
func (h *TransactionsHandler) logFailure(err error, msg string) {
	if errors.Is(err, ledger.ErrInvalid) || errors.Is(err, ledger.ErrNotFound) {
		h.log.Warn().Err(err).Msg(msg)
		return
	}
	h.log.Error().Err(err).Msg(msg)
}

// ReferenceHandler serves entities, categories and balances.
type ReferenceHandler struct {
	repo ledger.Repository
	log  zerolog.Logger
}

// NewReferenceHandler creates a new reference data handler.
func NewReferenceHandler(repo ledger.Repository, log zerolog.Logger) *ReferenceHandler {
	return &ReferenceHandler{
		repo: repo,
		log:  log,
	}
}

// ListEntities handles GET /api/entities
func (h *ReferenceHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.repo.ListEntities(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list entities")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list entities")
		return
	}

	if active, err := strconv.ParseBool(r.URL.Query().Get("active")); err == nil && active {
		entities = domain.ActiveEntities(entities)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entities": nonNil(entities),
		"count":    len(entities),
	})
}

// ListCategories handles GET /api/categories
func (h *ReferenceHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	var txType domain.TransactionType
	if raw := r.URL.Query().Get("type"); raw != "" {
		txType = domain.TransactionType(raw)
		if !txType.Valid() {
			middleware.WriteError(w, http.StatusBadRequest, "type must be income or expense")
			return
		}
	}

	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list categories")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list categories")
		return
	}
	if txType != "" {
		categories = domain.FilterCategories(categories, txType)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": nonNil(categories),
		"count":      len(categories),
	})
}

// balancesResponse is the body of GET /api/balances.
type balancesResponse struct {
	Balances    []domain.PairwiseBalance  `json:"balances"`
	Matrix      balance.Matrix            `json:"matrix"`
	Totals      map[string]balance.Totals `json:"totals"`
	Asymmetries []balance.Asymmetry       `json:"asymmetries"`
}

// GetBalances handles GET /api/balances
func (h *ReferenceHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.repo.ListPairwiseBalances(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list balances")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list balances")
		return
	}

	asym := balance.AsymmetricPairs(balances)
	if len(asym) > 0 {
		h.log.Warn().Int("pairs", len(asym)).Msg("Balance source reports asymmetric pairs")
	}

	middleware.WriteJSON(w, http.StatusOK, balancesResponse{
		Balances:    nonNil(balance.NonZero(balances)),
		Matrix:      balance.BuildMatrix(balances),
		Totals:      balance.PerEntityTotals(balances),
		Asymmetries: nonNil(asym),
	})
}

// JobsHandler handles archive job endpoints.
type JobsHandler struct {
	store jobs.Store
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.Store, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.Filter{
		Status: jobs.Status(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  nonNil(jobsList),
		"count": len(jobsList),
	})
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// nonNil makes empty lists encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
