package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/miroslavkosanovic/project-management-dashboard/internal/app"
	"github.com/miroslavkosanovic/project-management-dashboard/internal/ratelimit"
	"github.com/miroslavkosanovic/project-management-dashboard/pkg/store"
)

type fakeObjectStore struct{}

func (fakeObjectStore) Put(_ context.Context, _ string, r io.Reader, _ int64, _ string) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func (fakeObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (fakeObjectStore) Delete(context.Context, string) error { return nil }

func newTestServer(t *testing.T, limiter *ratelimit.FixedWindowLimiter) *Server {
	t.Helper()
	a, err := app.New(app.Config{
		Store:     store.NewMemoryStore(),
		JWTSecret: "test-secret",
		Objects:   fakeObjectStore{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return New(Config{App: a, LoginLimiter: limiter})
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
}

func registerAccount(t *testing.T, s *Server, email string) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/auth", "", map[string]string{
		"name":     "Test User",
		"email":    email,
		"password": "s3cret-pw",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
}

func loginAccount(t *testing.T, s *Server, email string) string {
	t.Helper()
	form := url.Values{"username": {email}, "password": {"s3cret-pw"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var resp loginResponse
	decodeBody(t, rec, &resp)
	if resp.AccessToken == "" || resp.TokenType != "bearer" {
		t.Fatalf("unexpected login response: %+v", resp)
	}
	return resp.AccessToken
}

func createProject(t *testing.T, s *Server, token, name string, documents []string) uint {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/projects", token, map[string]any{
		"name":      name,
		"documents": documents,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create project: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ProjectID uint `json:"project_id"`
	}
	decodeBody(t, rec, &resp)
	if resp.ProjectID == 0 {
		t.Fatalf("expected project_id in response")
	}
	return resp.ProjectID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/projects"},
		{http.MethodPost, "/projects"},
		{http.MethodGet, "/project/1"},
		{http.MethodPut, "/project/1/info"},
		{http.MethodDelete, "/projects/1"},
		{http.MethodPost, "/project/1/invite"},
		{http.MethodGet, "/project/1/members"},
		{http.MethodPost, "/projects/1/documents"},
	} {
		rec := doJSON(t, s, tc.method, tc.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestRegisterLoginAndListProjects(t *testing.T) {
	s := newTestServer(t, nil)
	registerAccount(t, s, "a@test.com")
	token := loginAccount(t, s, "a@test.com")

	rec := doJSON(t, s, http.MethodGet, "/projects", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list projects: status %d body %s", rec.Code, rec.Body.String())
	}

	if rec := doJSON(t, s, http.MethodGet, "/projects", "garbage-token", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	s := newTestServer(t, nil)
	registerAccount(t, s, "a@test.com")
	rec := doJSON(t, s, http.MethodPost, "/auth", "", map[string]string{
		"name":     "Other",
		"email":    "a@test.com",
		"password": "s3cret-pw",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t, nil)
	registerAccount(t, s, "a@test.com")
	form := url.Values{"username": {"a@test.com"}, "password": {"wrong-pass"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["error"] != app.ErrInvalidCredentials.Error() {
		t.Fatalf("unexpected error message: %q", resp["error"])
	}
}

func TestOwnershipLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	registerAccount(t, s, "owner@test.com")
	registerAccount(t, s, "member@test.com")
	registerAccount(t, s, "outsider@test.com")
	ownerTok := loginAccount(t, s, "owner@test.com")
	memberTok := loginAccount(t, s, "member@test.com")

	projectID := createProject(t, s, ownerTok, "Alpha", nil)
	inviteURL := fmt.Sprintf("/project/%d/invite?user_email=member@test.com", projectID)

	if rec := doJSON(t, s, http.MethodPost, inviteURL, ownerTok, nil); rec.Code != http.StatusOK {
		t.Fatalf("owner invite: status %d body %s", rec.Code, rec.Body.String())
	}
	// Second identical invite conflicts.
	if rec := doJSON(t, s, http.MethodPost, inviteURL, ownerTok, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate invite: expected 400, got %d", rec.Code)
	}
	// A plain member cannot invite.
	outsiderInvite := fmt.Sprintf("/project/%d/invite?user_email=outsider@test.com", projectID)
	if rec := doJSON(t, s, http.MethodPost, outsiderInvite, memberTok, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("member invite: expected 403, got %d", rec.Code)
	}
	// Unknown target.
	ghostInvite := fmt.Sprintf("/project/%d/invite?user_email=ghost@test.com", projectID)
	if rec := doJSON(t, s, http.MethodPost, ghostInvite, ownerTok, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("ghost invite: expected 404, got %d", rec.Code)
	}

	membersURL := fmt.Sprintf("/project/%d/members", projectID)
	rec := doJSON(t, s, http.MethodGet, membersURL, memberTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("members: status %d body %s", rec.Code, rec.Body.String())
	}
	var membersResp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &membersResp)
	if membersResp.Count != 2 {
		t.Fatalf("expected 2 members, got %d", membersResp.Count)
	}

	deleteURL := fmt.Sprintf("/projects/%d", projectID)
	if rec := doJSON(t, s, http.MethodDelete, deleteURL, memberTok, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("member delete: expected 403, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodDelete, deleteURL, ownerTok, nil); rec.Code != http.StatusOK {
		t.Fatalf("owner delete: status %d body %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/project/%d", projectID), ownerTok, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestOpenInfoAndDocumentRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	registerAccount(t, s, "owner@test.com")
	token := loginAccount(t, s, "owner@test.com")
	projectID := createProject(t, s, token, "Alpha", []string{"https://blob/u1", "https://blob/u2"})

	// Read shapes are public.
	rec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/project/%d/info", projectID), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("project info: status %d body %s", rec.Code, rec.Body.String())
	}
	var info projectInfo
	decodeBody(t, rec, &info)
	if info.ProjectID != projectID || len(info.Documents) != 2 {
		t.Fatalf("unexpected info payload: %+v", info)
	}

	// Full-replace update swaps the document list.
	rec = doJSON(t, s, http.MethodPut, fmt.Sprintf("/project/%d/info", projectID), token, map[string]any{
		"name":      "Alpha",
		"documents": []string{"https://blob/u3"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update info: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/project/%d/documents", projectID), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list documents: status %d body %s", rec.Code, rec.Body.String())
	}
	var docs struct {
		Documents []string `json:"documents"`
	}
	decodeBody(t, rec, &docs)
	if len(docs.Documents) != 1 || docs.Documents[0] != "https://blob/u3" {
		t.Fatalf("expected replaced documents, got %v", docs.Documents)
	}
}

func TestProjectIDParsing(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/project/abc/info", "/project/0/info", "/project/-1/info"} {
		rec := doJSON(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestUploadDocument(t *testing.T) {
	s := newTestServer(t, nil)
	registerAccount(t, s, "owner@test.com")
	token := loginAccount(t, s, "owner@test.com")
	projectID := createProject(t, s, token, "Alpha", nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("hello")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/projects/%d/documents", projectID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if !strings.HasPrefix(resp["url"], "https://blobs.test/") {
		t.Fatalf("unexpected url: %q", resp["url"])
	}

	docsRec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/project/%d/documents", projectID), "", nil)
	var docs struct {
		Documents []string `json:"documents"`
	}
	decodeBody(t, docsRec, &docs)
	if len(docs.Documents) != 1 || docs.Documents[0] != resp["url"] {
		t.Fatalf("uploaded document not listed: %v", docs.Documents)
	}
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	s := newTestServer(t, limiter)
	registerAccount(t, s, "a@test.com")

	attempt := func() int {
		form := url.Values{"username": {"a@test.com"}, "password": {"s3cret-pw"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "203.0.113.7:55000"
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		return rec.Code
	}
	if code := attempt(); code != http.StatusOK {
		t.Fatalf("first attempt: %d", code)
	}
	if code := attempt(); code != http.StatusOK {
		t.Fatalf("second attempt: %d", code)
	}
	if code := attempt(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once over quota, got %d", code)
	}
}
