// Package api is the thin HTTP surface over the core: login/logout,
// the orchestrated invoke endpoint, credential management and the
// matcher's diagnostic views.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/intentgate/intentgate/internal/access"
	"github.com/intentgate/intentgate/internal/credential"
	"github.com/intentgate/intentgate/internal/events"
	"github.com/intentgate/intentgate/internal/gateway"
	"github.com/intentgate/intentgate/internal/match"
	"github.com/intentgate/intentgate/internal/models"
	"github.com/intentgate/intentgate/internal/session"
)

type Handler struct {
	sessions *session.Manager
	creds    *credential.Service
	matcher  *match.Matcher
	gateway  *gateway.Gateway
	events   *events.Service
}

func NewHandler(sessions *session.Manager, creds *credential.Service, matcher *match.Matcher,
	gw *gateway.Gateway, ev *events.Service) *Handler {
	return &Handler{
		sessions: sessions,
		creds:    creds,
		matcher:  matcher,
		gateway:  gw,
		events:   ev,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.Login).Methods("POST")

	protected := router.NewRoute().Subrouter()
	protected.Use(h.Authenticate)
	protected.HandleFunc("/auth/logout", h.Logout).Methods("POST")
	protected.HandleFunc("/api/invoke", h.Invoke).Methods("POST")
	protected.HandleFunc("/api/templates", h.ListCredentials).Methods("GET")
	protected.HandleFunc("/api/templates", h.AddCredential).Methods("POST")
	protected.HandleFunc("/api/templates/{name}", h.UpdateCredential).Methods("PUT")
	protected.HandleFunc("/api/templates/{name}", h.DeleteCredential).Methods("DELETE")
	protected.HandleFunc("/api/templates/sync-ttls", h.SyncTTLs).Methods("POST")
	protected.HandleFunc("/api/templates/{name}/validate", h.ValidateAccess).Methods("POST")
	protected.HandleFunc("/api/matches", h.TopMatches).Methods("GET")
	protected.HandleFunc("/api/suggestions", h.Suggestions).Methods("GET")
	protected.HandleFunc("/api/events", h.RecentEvents).Methods("GET")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallerID == "" {
		http.Error(w, "caller_id is required", http.StatusBadRequest)
		return
	}

	token, err := h.sessions.Login(r.Context(), req.CallerID)
	if errors.Is(err, session.ErrInvalidCallerID) {
		http.Error(w, "Caller id contains reserved characters", http.StatusBadRequest)
		return
	}
	if errors.Is(err, session.ErrSessionActive) {
		http.Error(w, "An active session already exists", http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("api: login failed for %s: %v", req.CallerID, err)
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	// Fresh login means a fresh session TTL; reconcile any surviving
	// credential records.
	if synced, err := h.creds.SyncTTLs(r.Context(), req.CallerID); err != nil {
		log.Printf("api: ttl sync after login failed for %s: %v", req.CallerID, err)
	} else if synced > 0 {
		log.Printf("api: synced %d credential ttls for %s", synced, req.CallerID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.sessions.Logout(r.Context(), callerID); err != nil && !errors.Is(err, session.ErrNoSession) {
		log.Printf("api: logout failed for %s: %v", callerID, err)
		http.Error(w, "Logout failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	token, ok := tokenFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req gateway.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Token = token
	if req.Origin == "" {
		req.Origin = r.Header.Get("Origin")
	}

	resp, err := h.gateway.Handle(r.Context(), req)
	if errors.Is(err, gateway.ErrMissingIntent) {
		http.Error(w, "Intent is required", http.StatusBadRequest)
		return
	}
	if errors.Is(err, gateway.ErrInvalidToken) {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}
	if errors.Is(err, gateway.ErrDecryptSecret) {
		http.Error(w, "Credential secret unavailable", http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("api: invoke failed: %v", err)
		http.Error(w, "Request failed", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if !resp.Success {
		switch {
		case resp.Retryable:
			status = http.StatusTooManyRequests
		case resp.Denied:
			status = http.StatusForbidden
		case resp.Template == "":
			status = http.StatusNotFound
		default:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, resp)
}

func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())
	creds, err := h.creds.List(r.Context(), callerID)
	if err != nil {
		http.Error(w, "Failed to list templates", http.StatusInternalServerError)
		return
	}

	// Secrets stay sealed; strip them from the listing.
	type view struct {
		Name        string        `json:"name"`
		Description string        `json:"description"`
		Usage       models.Usage  `json:"usage"`
		Limits      models.Limits `json:"limits"`
		ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
		Origins     []string      `json:"allowed_origins,omitempty"`
		Scopes      []string      `json:"scopes,omitempty"`
	}
	views := make([]view, 0, len(creds))
	for _, c := range creds {
		views = append(views, view{
			Name: c.Name, Description: c.Description, Usage: c.Usage,
			Limits: c.Limits, ExpiresAt: c.ExpiresAt, Origins: c.AllowedOrigins, Scopes: c.Scopes,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type credentialRequest struct {
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Secret         string              `json:"secret"`
	Limits         *models.Limits      `json:"limits,omitempty"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
	AllowedOrigins []string            `json:"allowed_origins,omitempty"`
	Scopes         []string            `json:"scopes,omitempty"`
	Retry          *models.RetryPolicy `json:"retry,omitempty"`
}

func (h *Handler) AddCredential(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	in := credential.Input{
		Name:           req.Name,
		Description:    req.Description,
		Secret:         req.Secret,
		ExpiresAt:      req.ExpiresAt,
		AllowedOrigins: req.AllowedOrigins,
		Scopes:         req.Scopes,
		Retry:          req.Retry,
	}
	if req.Limits != nil {
		in.Limits = *req.Limits
	}

	cred, err := h.creds.Add(r.Context(), callerID, in)
	var conflict *credential.ConflictError
	switch {
	case errors.Is(err, credential.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, credential.ErrNoActiveSession):
		http.Error(w, "No active session", http.StatusConflict)
		return
	case errors.Is(err, credential.ErrNameExists):
		http.Error(w, "Template name already exists", http.StatusConflict)
		return
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":       "description conflicts with existing templates",
			"conflicting": conflict.Names,
		})
		return
	case err != nil:
		log.Printf("api: add credential failed for %s: %v", callerID, err)
		http.Error(w, "Failed to add template", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"name": cred.Name, "status": "created"})
}

func (h *Handler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())
	name := mux.Vars(r)["name"]

	var req struct {
		Description    *string             `json:"description"`
		Secret         *string             `json:"secret"`
		Limits         *models.Limits      `json:"limits"`
		ExpiresAt      *time.Time          `json:"expires_at"`
		AllowedOrigins []string            `json:"allowed_origins"`
		Scopes         []string            `json:"scopes"`
		Retry          *models.RetryPolicy `json:"retry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	_, err := h.creds.Update(r.Context(), callerID, name, credential.Update{
		Description:    req.Description,
		Secret:         req.Secret,
		Limits:         req.Limits,
		ExpiresAt:      req.ExpiresAt,
		AllowedOrigins: req.AllowedOrigins,
		Scopes:         req.Scopes,
		Retry:          req.Retry,
	})
	var conflict *credential.ConflictError
	switch {
	case errors.Is(err, credential.ErrNotFound):
		http.Error(w, "Template not found", http.StatusNotFound)
		return
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":       "description conflicts with existing templates",
			"conflicting": conflict.Names,
		})
		return
	case err != nil:
		http.Error(w, "Failed to update template", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())
	name := mux.Vars(r)["name"]

	if err := h.creds.Delete(r.Context(), callerID, name); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			http.Error(w, "Template not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete template", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SyncTTLs(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())

	synced, err := h.creds.SyncTTLs(r.Context(), callerID)
	if errors.Is(err, credential.ErrNoActiveSession) {
		http.Error(w, "No active session", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": synced})
}

// ValidateAccess runs the access pipeline without invoking anything:
// a dry-run of what an invoke with this payload and origin would hit.
func (h *Handler) ValidateAccess(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())
	name := mux.Vars(r)["name"]

	var req struct {
		Payload json.RawMessage `json:"payload"`
		Origin  string          `json:"origin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cred, err := h.creds.Get(r.Context(), callerID, name)
	if errors.Is(err, credential.ErrNotFound) {
		http.Error(w, "Template not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load template", http.StatusInternalServerError)
		return
	}

	decision := access.Validate(cred, req.Payload, req.Origin, time.Now())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":   decision.Allowed,
		"reason":    decision.Reason,
		"warning":   decision.Warning(),
		"retryable": decision.Retryable,
	})
}

func (h *Handler) TopMatches(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())
	intent := r.URL.Query().Get("intent")
	if intent == "" {
		http.Error(w, "intent is required", http.StatusBadRequest)
		return
	}
	k := queryInt(r, "k", 5)

	ranked, err := h.matcher.TopK(r.Context(), callerID, intent, k)
	if err != nil {
		http.Error(w, "Ranking failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())
	partial := r.URL.Query().Get("q")
	if partial == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", 5)

	suggestions, err := h.matcher.Suggest(r.Context(), callerID, partial, limit)
	if err != nil {
		http.Error(w, "Suggestion ranking failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	callerID, _ := callerFromContext(r.Context())
	limit := queryInt(r, "limit", 20)

	recent, err := h.events.Recent(r.Context(), callerID, limit)
	if err != nil {
		http.Error(w, "Failed to read events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
