package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"repovault/internal/core"
	"repovault/internal/model"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	token, session, err := s.gate.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		Subject:   session.Subject,
		ExpiresAt: session.ExpiresAt,
	})
}

type validateResponse struct {
	Valid   bool           `json:"valid"`
	Session *model.Session `json:"session"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	// requireAuth already validated the token; report what it found.
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, Session: SessionFrom(r.Context())})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := s.gate.Revoke(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// dashboardResponse summarizes the fleet for the landing view.
type dashboardResponse struct {
	Repositories int                 `json:"repositories"`
	Archived     int                 `json:"archived"`
	Backups      map[string]int      `json:"backups_by_class"`
	RecentEvents []*model.AuditEvent `json:"recent_events"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := dashboardResponse{
		Repositories: len(repos),
		Backups:      make(map[string]int),
	}
	for _, repo := range repos {
		if repo.Archived {
			resp.Archived++
		}
	}

	for _, class := range []model.StorageClass{model.ClassHot, model.ClassWarmIA, model.ClassCold, model.ClassDeepCold} {
		recs, err := s.store.ListBackupsInClass(ctx, class)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Backups[string(class)] = len(recs)
	}

	events, err := s.ledger.Query(ctx, core.EventQuery{Limit: 20})
	if err != nil {
		writeError(w, err)
		return
	}
	resp.RecentEvents = events

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "repository")
	repo, err := s.store.GetRepository(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	if repo == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown repository: " + name})
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// handleHistory lists every stored backup version of one repository,
// newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "repository")
	repo, err := s.store.GetRepository(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	if repo == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown repository: " + name})
		return
	}

	recs, err := s.store.ListBackups(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleVersions lists the version ids of one repository, newest first.
func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "repository")
	repo, err := s.store.GetRepository(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	if repo == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown repository: " + name})
		return
	}

	recs, err := s.store.ListBackups(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	versions := make([]string, 0, len(recs))
	for _, rec := range recs {
		versions = append(versions, rec.Version)
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleRepositoryDownloads(w http.ResponseWriter, r *http.Request) {
	ops, err := s.downloads.ListForRepository(r.Context(), chi.URLParam(r, "repository"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := core.EventQuery{
		Subject:  r.URL.Query().Get("subject"),
		Category: model.EventCategory(r.URL.Query().Get("category")),
	}
	if v := r.URL.Query().Get("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 1 {
			writeBadRequest(w, "hours must be a positive integer")
			return
		}
		q.From = s.clock.Now().Add(-time.Duration(hours) * time.Hour)
	}
	if v := r.URL.Query().Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "from must be RFC 3339")
			return
		}
		q.From = from
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "to must be RFC 3339")
			return
		}
		q.To = to
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	events, err := s.ledger.Query(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type downloadRequest struct {
	Repository string `json:"repository"`
	Version    string `json:"backup_version,omitempty"`
	Tier       string `json:"tier,omitempty"`
}

func (s *Server) handleRequestDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Repository == "" {
		writeBadRequest(w, "repository is required")
		return
	}
	tier := model.RetrievalTier(req.Tier)
	if req.Tier == "" {
		tier = model.TierStandard
	}
	if !tier.Valid() {
		writeBadRequest(w, "unknown retrieval tier: "+req.Tier)
		return
	}

	session := SessionFrom(r.Context())
	op, err := s.downloads.Request(r.Context(), req.Repository, req.Version, session.Subject, tier)
	if err != nil && op == nil {
		writeError(w, err)
		return
	}
	// A failed cold-start still yields an operation the caller can inspect.
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	op, err := s.downloads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}
