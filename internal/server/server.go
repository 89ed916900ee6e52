package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/miroslavkosanovic/project-management-dashboard/internal/app"
	"github.com/miroslavkosanovic/project-management-dashboard/internal/ratelimit"
	"github.com/miroslavkosanovic/project-management-dashboard/internal/util"
	"github.com/miroslavkosanovic/project-management-dashboard/pkg/auth"
	"github.com/miroslavkosanovic/project-management-dashboard/pkg/domain"
)

const defaultMaxUploadBytes = 50 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	LoginLimiter   *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes the HTTP/JSON surface of the project management backend.
type Server struct {
	app            *app.App
	loginLimiter   *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		loginLimiter:   cfg.LoginLimiter,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// account + session
	s.mux.HandleFunc("POST /auth", s.handleRegister)
	s.mux.HandleFunc("POST /login", s.handleLogin)

	// projects
	s.mux.Handle("POST /projects", s.authenticated(s.handleCreateProject))
	s.mux.Handle("GET /projects", s.authenticated(s.handleListProjects))
	s.mux.Handle("GET /project/{id}", s.authenticated(s.handleGetProject))
	s.mux.HandleFunc("GET /project/{id}/info", s.handleProjectInfo)
	s.mux.Handle("PUT /project/{id}/info", s.authenticated(s.handleUpdateProjectInfo))
	s.mux.Handle("DELETE /projects/{id}", s.authenticated(s.handleDeleteProject))

	// membership
	s.mux.Handle("POST /project/{id}/invite", s.authenticated(s.handleInvite))
	s.mux.Handle("GET /project/{id}/members", s.authenticated(s.handleMembers))

	// documents
	s.mux.Handle("POST /projects/{id}/documents", s.authenticated(s.handleUploadDocument))
	s.mux.HandleFunc("GET /project/{id}/documents", s.handleListDocuments)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// authenticated resolves the acting identity before the handler runs.
// It is the only path from bearer token to user.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.UserFromToken(tok)
		if err != nil {
			writeAppError(w, err)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.loginLimiter != nil && !s.loginLimiter.Allow("register:"+util.ClientIP(r, s.trustedProxies)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.loginLimiter != nil && !s.loginLimiter.Allow("login:"+util.ClientIP(r, s.trustedProxies)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	// Form-encoded body with OAuth2-style field names: the email travels in
	// the "username" field.
	email := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	_, tok, err := s.app.Login(email, password)
	if err != nil {
		// Both unknown account and wrong password surface the same 400.
		writeError(w, http.StatusBadRequest, app.ErrInvalidCredentials.Error())
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, user domain.User) {
	req, ok := decodeProjectRequest(w, r)
	if !ok {
		return
	}
	project, err := s.app.CreateProject(user, req.toProject())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": project.ID,
		"project":    project,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request, _ domain.User) {
	projects, err := s.app.ListProjects()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, _ domain.User) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	project, err := s.app.GetProject(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleProjectInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	project, err := s.app.GetProject(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flattenProject(project))
}

func (s *Server) handleUpdateProjectInfo(w http.ResponseWriter, r *http.Request, _ domain.User) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	req, ok := decodeProjectRequest(w, r)
	if !ok {
		return
	}
	project, err := s.app.UpdateProject(id, req.toProject())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flattenProject(project))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	if err := s.app.DeleteProject(r.Context(), user, id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Project deleted"})
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("user_email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "user_email is required")
		return
	}
	if err := s.app.InviteMember(user, id, email); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Member invited"})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	members, err := s.app.ProjectMembers(user, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"count":   len(members),
	})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, _ domain.User) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	doc, err := s.app.UploadDocument(r.Context(), id, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": doc.URL})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	urls, err := s.app.ListDocumentURLs(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": urls})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type projectRequest struct {
	Name      string   `json:"name"`
	Logo      string   `json:"logo"`
	Details   string   `json:"details"`
	Documents []string `json:"documents"`
}

func (p projectRequest) toProject() domain.Project {
	docs := make([]domain.Document, 0, len(p.Documents))
	for _, url := range p.Documents {
		docs = append(docs, domain.Document{URL: url})
	}
	return domain.Project{
		Name:      p.Name,
		Logo:      p.Logo,
		Details:   p.Details,
		Documents: docs,
	}
}

// projectInfo is the flattened read shape served by /project/{id}/info.
type projectInfo struct {
	ProjectID uint     `json:"project_id"`
	Name      string   `json:"name"`
	Logo      string   `json:"logo,omitempty"`
	Details   string   `json:"details,omitempty"`
	Documents []string `json:"documents"`
}

func flattenProject(p domain.Project) projectInfo {
	urls := make([]string, 0, len(p.Documents))
	for _, d := range p.Documents {
		urls = append(urls, d.URL)
	}
	return projectInfo{
		ProjectID: p.ID,
		Name:      p.Name,
		Logo:      p.Logo,
		Details:   p.Details,
		Documents: urls,
	}
}

func decodeProjectRequest(w http.ResponseWriter, r *http.Request) (projectRequest, bool) {
	var req projectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return projectRequest{}, false
	}
	return req, true
}

func projectID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusNotFound, app.ErrProjectNotFound.Error())
		return 0, false
	}
	return uint(id), true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Debug("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tok == "" {
		return "", false
	}
	return tok, true
}

// writeAppError maps typed application failures to client-visible statuses.
// Unauthenticated, forbidden, and not-found stay distinguishable; internal
// persistence errors are never exposed.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated), errors.Is(err, app.ErrInactiveAccount):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrProjectNotFound), errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrDuplicateEmail),
		errors.Is(err, app.ErrAlreadyMember),
		errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrNameEmailPasswordRequired),
		errors.Is(err, app.ErrProjectNameRequired),
		errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
