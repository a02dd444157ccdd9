// Package server exposes the pool's observability and administration
// surface over HTTP. The chat-completion front-end lives elsewhere.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/kiro-nexus/internal/auth/social"
	"github.com/pysugar/kiro-nexus/internal/logging"
	"github.com/pysugar/kiro-nexus/internal/pool"
	"github.com/pysugar/kiro-nexus/internal/upstream/assistant"
	"github.com/pysugar/kiro-nexus/internal/upstream/portal"
)

// Server holds the wired components the handlers dispatch to.
type Server struct {
	pool      *pool.Pool
	portal    *portal.Client
	assistant *assistant.Client
	flow      *social.Flow
}

// New builds the handler set.
func New(p *pool.Pool, portalClient *portal.Client, assistantClient *assistant.Client, flow *social.Flow) *Server {
	return &Server{pool: p, portal: portalClient, assistant: assistantClient, flow: flow}
}

// Router assembles the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/pool/status", s.handlePoolStatus)
		r.Post("/pool/reload", s.handlePoolReload)
		r.Post("/pool/refresh", s.handlePoolRefresh)
		r.Get("/credentials/{id}/usage", s.handleUsage)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/test", s.handleTest)
	})
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), logging.GenerateRequestID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Status())
}

func (s *Server) handlePoolReload(w http.ResponseWriter, r *http.Request) {
	count, err := s.pool.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"loaded": count})
}

func (s *Server) handlePoolRefresh(w http.ResponseWriter, r *http.Request) {
	refreshed := s.pool.RefreshAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"refreshed": refreshed})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred, ok := s.pool.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown credential")
		return
	}

	snap, err := s.portal.GetUsageRetry(r.Context(), portal.Auth{
		Idp:          cred.Idp,
		AccessToken:  cred.AccessToken,
		CsrfToken:    cred.CsrfToken,
		SessionToken: cred.SessionToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, portal.ErrSuspended):
			s.pool.ReportFailure(id, "account suspended")
			writeError(w, http.StatusLocked, err.Error())
		case errors.Is(err, portal.ErrUnauthorized):
			s.pool.ReportFailure(id, "unauthorized")
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	s.pool.ReportSuccess(id)
	if len(snap.Resources) > 0 {
		s.pool.SetQuota(id, snap.Resources[0].Used, snap.Resources[0].Limit)
	}
	writeJSON(w, http.StatusOK, usagePayload(snap))
}

// handleLogin kicks off an acquisition flow in the background and returns
// immediately; the browser interaction takes minutes, not milliseconds.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	idp := r.URL.Query().Get("idp")
	if idp == "" {
		idp = "Google"
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		cred, err := s.flow.Run(ctx, idp)
		if err != nil {
			log.Printf("[Server] Acquisition flow failed: %v", err)
			return
		}
		if _, err := s.pool.Load(ctx); err != nil {
			log.Printf("[Server] Pool reload after login failed: %v", err)
			return
		}
		log.Printf("[Server] Credential %s added to pool", cred.Email)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "flow started", "idp": idp})
}

type testRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// handleTest runs a single generation round trip so operators can verify
// a pool credential end to end.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		req.Prompt = "Say hello in one short sentence."
	}

	text, err := s.assistant.Generate(r.Context(),
		[]assistant.Message{{Role: "user", Content: req.Prompt}},
		assistant.GenerateOptions{Model: req.Model})
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrNoCredentials):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, assistant.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func usagePayload(snap *portal.UsageSnapshot) map[string]any {
	resources := make([]map[string]any, 0, len(snap.Resources))
	for i := range snap.Resources {
		res := &snap.Resources[i]
		entry := map[string]any{
			"display_name":    res.DisplayName,
			"limit":           res.Limit,
			"used":            res.Used,
			"remaining":       res.Remaining(),
			"total_remaining": res.TotalRemaining(),
		}
		if res.Trial != nil {
			entry["trial"] = map[string]any{
				"limit":     res.Trial.Limit,
				"used":      res.Trial.Used,
				"status":    res.Trial.Status,
				"remaining": res.TrialRemaining(),
			}
		}
		resources = append(resources, entry)
	}
	return map[string]any{
		"email":             snap.Email,
		"subscription_tier": snap.SubscriptionTier,
		"days_until_reset":  snap.DaysUntilReset,
		"total_remaining":   snap.TotalRemaining(),
		"resources":         resources,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
