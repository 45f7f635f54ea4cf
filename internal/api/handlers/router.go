package handlers

import (
	"net/http"

	"github.com/dvloznov/voice-ledger/internal/api/middleware"
	"github.com/dvloznov/voice-ledger/internal/jobs"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/dvloznov/voice-ledger/internal/voiceflow"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RouterConfig holds what the HTTP API is built from. Jobs may be nil
// when archiving is disabled.
type RouterConfig struct {
	Repo      ledger.Repository
	Committer *voiceflow.Committer
	Sessions  *Sessions
	Jobs      jobs.Store
	Log       zerolog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	voice := NewVoiceHandler(cfg.Sessions, cfg.Log)
	transactions := NewTransactionsHandler(cfg.Repo, cfg.Committer, cfg.Log)
	reference := NewReferenceHandler(cfg.Repo, cfg.Log)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Log))
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"sessions": cfg.Sessions.Len(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/entities", reference.ListEntities)
		r.Get("/categories", reference.ListCategories)
		r.Get("/balances", reference.GetBalances)

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", transactions.CreateTransaction)
			r.Put("/{id}", transactions.UpdateTransaction)
			r.Delete("/{id}", transactions.DeleteTransaction)
		})

		r.Route("/voice/sessions", func(r chi.Router) {
			r.Post("/", voice.CreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", voice.GetSession)
				r.Delete("/", voice.DeleteSession)
				r.Get("/capture", voice.Capture)
				r.Post("/process", voice.Process)
				r.Post("/abandon", voice.Abandon)
				r.Get("/review", voice.GetReview)
				r.Patch("/review", voice.EditReview)
				r.Post("/review/confirm", voice.Confirm)
				r.Post("/review/discard", voice.Discard)
				r.Post("/review/rerecord", voice.Rerecord)
			})
		})

		if cfg.Jobs != nil {
			jobsHandler := NewJobsHandler(cfg.Jobs, cfg.Log)
			r.Get("/jobs", jobsHandler.ListJobs)
			r.Get("/jobs/{id}", jobsHandler.GetJob)
		}
	})

	return r
}
